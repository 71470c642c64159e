package genbatch

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/temirov/genbatch/internal/checkpoint"
	"github.com/temirov/genbatch/internal/config"
	"github.com/temirov/genbatch/internal/events"
	"github.com/temirov/genbatch/internal/fsops"
	"github.com/temirov/genbatch/internal/generation"
	"github.com/temirov/genbatch/internal/llm"
	"github.com/temirov/genbatch/internal/parser"
	"github.com/temirov/genbatch/internal/pipeline"
	"github.com/temirov/genbatch/internal/prompts"
	"github.com/temirov/genbatch/internal/ratelimit"
	"github.com/temirov/genbatch/internal/storage"
)

// defaultPricing applies to recipes without an estimate block.
var defaultPricing = pipeline.Pricing{
	InputTokensPerItem:  2500,
	OutputTokensPerItem: 1200,
	InputCostPer1K:      0.000075,
	OutputCostPer1K:     0.0003,
}

type runCommandOptions struct {
	keysFile     string
	concurrency  int
	chunkSize    int
	rpm          int
	attempts     int
	timeout      time.Duration
	model        string
	dryRun       bool
	resume       bool
	fresh        bool
	force        bool
	skipAnalysis bool
	estimateCost bool
}

// runSettings are the effective run parameters after flag, GENBATCH_*
// environment, configuration and built-in defaults are merged.
type runSettings struct {
	Concurrency  int
	ChunkSize    int
	RPM          int
	Attempts     int
	Timeout      time.Duration
	Model        string
	DryRun       bool
	Resume       bool
	Fresh        bool
	Force        bool
	SkipAnalysis bool
	EstimateCost bool
}

func newRunCommand(rootOptions *rootCommandOptions) *cobra.Command {
	options := &runCommandOptions{}

	command := &cobra.Command{
		Use:   runCommandUse,
		Short: runCommandShort,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRecipe(cmd, rootOptions.configPath, *options, args)
		},
	}

	flags := command.Flags()
	flags.StringVar(&options.keysFile, keysFileFlagName, "", keysFileFlagUsage)
	flags.IntVar(&options.concurrency, concurrencyFlagName, 0, concurrencyFlagUsage)
	flags.IntVar(&options.chunkSize, chunkSizeFlagName, 0, chunkSizeFlagUsage)
	flags.IntVar(&options.rpm, rpmFlagName, 0, rpmFlagUsage)
	flags.IntVar(&options.attempts, attemptsFlagName, 0, attemptsFlagUsage)
	flags.DurationVar(&options.timeout, timeoutFlagName, 0, timeoutFlagUsage)
	flags.StringVar(&options.model, modelFlagName, "", modelFlagUsage)
	boolChoiceVar(flags, &options.dryRun, dryRunFlagName, dryRunFlagUsage)
	boolChoiceVar(flags, &options.resume, resumeFlagName, resumeFlagUsage)
	boolChoiceVar(flags, &options.fresh, freshFlagName, freshFlagUsage)
	boolChoiceVar(flags, &options.force, forceFlagName, forceFlagUsage)
	boolChoiceVar(flags, &options.skipAnalysis, skipAnalysisFlagName, skipAnalysisFlagUsage)
	boolChoiceVar(flags, &options.estimateCost, estimateFlagName, estimateFlagUsage)
	command.MarkFlagsMutuallyExclusive(resumeFlagName, freshFlagName)

	return command
}

// resolveRunSettings merges flags with GENBATCH_* variables and the
// configuration defaults. A changed flag wins, then the environment, then
// defaults. Non-positive numbers fall back to defaults.
func resolveRunSettings(flags *pflag.FlagSet, defaults config.Defaults) (runSettings, error) {
	v := viper.New()
	v.SetEnvPrefix(environmentPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(flags); err != nil {
		return runSettings{}, errors.Wrap(err, "bind run flags")
	}
	v.SetDefault(concurrencyFlagName, defaults.Concurrency)
	v.SetDefault(chunkSizeFlagName, defaults.ChunkSize)
	v.SetDefault(rpmFlagName, defaults.RateLimitRPM)
	v.SetDefault(attemptsFlagName, defaults.Attempts)
	v.SetDefault(timeoutFlagName, seconds(defaults.TimeoutSeconds))

	settings := runSettings{
		Concurrency: positiveOr(v.GetInt(concurrencyFlagName), defaults.Concurrency),
		ChunkSize:   positiveOr(v.GetInt(chunkSizeFlagName), defaults.ChunkSize),
		RPM:         positiveOr(v.GetInt(rpmFlagName), defaults.RateLimitRPM),
		Attempts:    positiveOr(v.GetInt(attemptsFlagName), defaults.Attempts),
		Timeout:     v.GetDuration(timeoutFlagName),
		Model:       strings.TrimSpace(v.GetString(modelFlagName)),
	}
	if settings.Timeout <= 0 {
		settings.Timeout = seconds(defaults.TimeoutSeconds)
	}

	booleans := []struct {
		name   string
		target *bool
	}{
		{dryRunFlagName, &settings.DryRun},
		{resumeFlagName, &settings.Resume},
		{freshFlagName, &settings.Fresh},
		{forceFlagName, &settings.Force},
		{skipAnalysisFlagName, &settings.SkipAnalysis},
		{estimateFlagName, &settings.EstimateCost},
	}
	for _, boolean := range booleans {
		raw := strings.TrimSpace(v.GetString(boolean.name))
		if raw == "" {
			continue
		}
		value, ok := parseBoolChoice(raw)
		if !ok {
			return runSettings{}, errors.Newf(invalidBooleanEnvironmentErrorFormat, raw, boolean.name)
		}
		*boolean.target = value
	}
	return settings, nil
}

func runRecipe(cmd *cobra.Command, configPath string, options runCommandOptions, args []string) error {
	ctx := cmd.Context()
	rootConfiguration, err := loadRootConfiguration(configPath)
	if err != nil {
		return err
	}
	recipeName := strings.TrimSpace(args[0])
	recipe, ok := rootConfiguration.FindRecipe(recipeName)
	if !ok || !recipe.Enabled {
		return errors.Newf(unknownRecipeErrorFormat, recipeName)
	}

	settings, err := resolveRunSettings(cmd.Flags(), rootConfiguration.Common.Defaults)
	if err != nil {
		return err
	}
	modelConfiguration := rootConfiguration.ModelFor(recipe)
	if settings.Model != "" {
		overridden, found := rootConfiguration.FindModel(settings.Model)
		if !found {
			return errors.Newf(unknownModelErrorFormat, settings.Model)
		}
		modelConfiguration = overridden
	}

	fileSystem := fsops.NewOS()
	keys, err := collectKeys(fileSystem, args[1:], options.keysFile)
	if err != nil {
		return err
	}

	analysisEnabled := recipe.AnalysisEnabled() && !settings.SkipAnalysis
	estimate := pipeline.EstimateCost(len(keys), analysisEnabled, pricingFor(recipe))
	outputWriter := cmd.OutOrStdout()
	if settings.EstimateCost {
		return writeEstimate(outputWriter, recipe.Name, estimate)
	}

	logging := rootConfiguration.Common.Logging
	logger, err := events.NewConsoleLogger(logging.Level, logging.Format)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	stream, closeStream, err := openEventStream(logging.EventsDir, recipe.Name)
	if err != nil {
		return err
	}
	defer func() { _ = closeStream() }()
	stream = stream.Tee(logger.Core())

	apiKey, err := resolveAPIKey(rootConfiguration, settings.DryRun)
	if err != nil {
		return err
	}

	ops := fsops.NewOps(fileSystem)
	storageConfiguration := rootConfiguration.Common.Storage
	writer, closeWriter, err := openWriter(ops, storageConfiguration, recipe)
	if err != nil {
		return err
	}
	defer func() { _ = closeWriter() }()
	loader := storage.NewFileLoader(ops, storageConfiguration.InputDir, recipe.InputTemplates())
	store := checkpoint.NewFileStore(ops, checkpointPath(storageConfiguration.CheckpointDir, recipe.Name))

	detector, err := newLanguageDetector(rootConfiguration.Common.Languages)
	if err != nil {
		return err
	}
	forceModel := settings.Model != ""
	renderer, err := prompts.NewRenderer(recipe.Name, promptForModel(recipe.Prompt, modelConfiguration, forceModel), detector)
	if err != nil {
		return err
	}
	var analysis *pipeline.Analysis
	if analysisEnabled {
		analysisRenderer, renderErr := prompts.NewRenderer(recipe.Name+".analysis", promptForModel(recipe.Analysis.Prompt, modelConfiguration, forceModel), detector)
		if renderErr != nil {
			return renderErr
		}
		analysis = &pipeline.Analysis{Renderer: analysisRenderer, Target: recipe.Analysis.Target}
	}
	format, err := parser.ParseFormat(recipe.Format)
	if err != nil {
		return err
	}

	defaults := rootConfiguration.Common.Defaults
	stats := &pipeline.Stats{}
	generator := generation.New(
		newTransport(rootConfiguration, modelConfiguration, apiKey),
		ratelimit.New(settings.RPM),
		generation.Config{
			Timeout:            settings.Timeout,
			MaxRetries:         settings.Attempts,
			BaseDelay:          milliseconds(defaults.BackoffBaseMS),
			RateLimitBaseDelay: milliseconds(defaults.RateLimitBackoffMS),
			MaxRateLimitWaits:  defaults.MaxRateLimitWaits,
			MaxDelay:           milliseconds(defaults.MaxBackoffMS),
		},
		generation.WithTokenCounter(stats),
		generation.WithRetryCounter(stats),
		generation.WithEvents(stream),
	)

	processor := pipeline.NewProcessor(pipeline.ItemConfig{
		Inputs:   pipelineInputs(recipe),
		Schema:   recipe.Schema,
		Format:   format,
		Force:    settings.Force,
		DryRun:   settings.DryRun,
		Analysis: analysis,
	}, pipeline.Dependencies{
		Loader:    loader,
		Writer:    writer,
		Renderer:  renderer,
		Generator: generator,
		Stats:     stats,
		Events:    stream,
	})

	missing, err := checkInputs(ctx, processor, keys)
	if err != nil {
		return err
	}
	if err := writePreflight(outputWriter, len(keys), missing); err != nil {
		return err
	}

	logger.Info("starting run",
		zap.String("recipe", recipe.Name),
		zap.String("model", modelConfiguration.ModelID),
		zap.String("run_id", stream.RunID()),
		zap.Int("items", len(keys)),
		zap.Int("concurrency", settings.Concurrency),
		zap.Int("chunk_size", settings.ChunkSize),
		zap.Int("rpm", settings.RPM),
		zap.Bool("dry_run", settings.DryRun),
	)

	orchestrator := pipeline.NewOrchestrator(processor, store, pipeline.Options{
		ChunkSize:   settings.ChunkSize,
		Concurrency: settings.Concurrency,
		Resume:      settings.Resume,
		Fresh:       settings.Fresh,
		DryRun:      settings.DryRun,
	}, stats, stream)
	summary, runErr := orchestrator.Run(ctx, keys)

	var shownEstimate *pipeline.Estimate
	if settings.DryRun {
		shownEstimate = &estimate
	}
	if err := writeSummary(outputWriter, summary, shownEstimate); err != nil {
		return err
	}
	return runErr
}

func openEventStream(eventsDir string, recipeName string) (*events.Stream, func() error, error) {
	if strings.TrimSpace(eventsDir) == "" {
		return events.Nop(), func() error { return nil }, nil
	}
	return events.OpenFile(filepath.Join(eventsDir, storage.Slug(recipeName)+eventsFileExtension), "")
}

func openWriter(ops fsops.Ops, storageConfiguration config.Storage, recipe config.Recipe) (storage.Writer, func() error, error) {
	if storageConfiguration.Backend != config.BackendSQLite {
		return storage.NewFileWriter(ops, storageConfiguration.OutputDir, recipe.Output), func() error { return nil }, nil
	}
	if err := ops.EnsureDir(storageConfiguration.SQLitePath); err != nil {
		return nil, nil, errors.Wrapf(err, "create directory for %s", storageConfiguration.SQLitePath)
	}
	writer, err := storage.OpenSQLite(storageConfiguration.SQLitePath, recipe.Name)
	if err != nil {
		return nil, nil, err
	}
	return writer, writer.Close, nil
}

func checkpointPath(checkpointDir string, recipeName string) string {
	return filepath.Join(checkpointDir, storage.Slug(recipeName)+checkpointFileSuffix)
}

func resolveAPIKey(rootConfiguration config.Root, dryRun bool) (string, error) {
	environmentVariable := strings.TrimSpace(rootConfiguration.Common.API.APIKeyEnv)
	if environmentVariable == "" {
		environmentVariable = defaultAPIKeyEnvironmentVariable
	}
	apiKey := strings.TrimSpace(os.Getenv(environmentVariable))
	if apiKey == "" && !dryRun {
		return "", errors.WithHintf(errors.Newf(missingAPIKeyErrorFormat, environmentVariable), missingAPIKeyHintFormat, environmentVariable)
	}
	return apiKey, nil
}

func newTransport(rootConfiguration config.Root, modelConfiguration config.Model, apiKey string) llm.Transport {
	api := rootConfiguration.Common.API
	endpoint := strings.TrimSpace(api.Endpoint)
	if endpoint == "" {
		endpoint = defaultAPIEndpoint
	}
	adapter := llm.Adapter{
		Client: llm.Client{
			HTTPBaseURL: endpoint,
			APIKey:      apiKey,
			HTTPReferer: api.HTTPReferer,
			AppTitle:    api.AppTitle,
			HTTPClient:  &http.Client{},
		},
		DefaultModel:  modelConfiguration.ModelID,
		DefaultTokens: modelConfiguration.MaxCompletionTokens,
	}
	if modelConfiguration.SupportsTemperature {
		adapter.DefaultTemp = modelConfiguration.DefaultTemperature
	}
	return adapter
}

// promptForModel points spec at the model's identifier unless the recipe pins
// one, and drops the temperature for models that reject it.
func promptForModel(spec prompts.Spec, modelConfiguration config.Model, force bool) prompts.Spec {
	if force || strings.TrimSpace(spec.Model) == "" {
		spec.Model = modelConfiguration.ModelID
	}
	if !modelConfiguration.SupportsTemperature {
		spec.Temperature = 0
	}
	return spec
}

func newLanguageDetector(languages []string) (*prompts.Detector, error) {
	if len(languages) < 2 {
		return nil, nil
	}
	return prompts.NewDetector(languages)
}

func pipelineInputs(recipe config.Recipe) []pipeline.Input {
	inputs := make([]pipeline.Input, 0, len(recipe.Inputs))
	for _, input := range recipe.Inputs {
		inputs = append(inputs, pipeline.Input{Role: input.Role, Required: input.Required})
	}
	return inputs
}

func pricingFor(recipe config.Recipe) pipeline.Pricing {
	pricing := pipeline.Pricing(recipe.Estimate)
	if pricing.InputTokensPerItem <= 0 && pricing.OutputTokensPerItem <= 0 {
		return defaultPricing
	}
	return pricing
}

// checkInputs maps every key lacking a required input to the missing roles.
func checkInputs(ctx context.Context, processor *pipeline.Processor, keys []string) (map[string][]string, error) {
	missing := map[string][]string{}
	for _, key := range keys {
		roles, err := processor.MissingInputs(ctx, key)
		if err != nil {
			return nil, err
		}
		if len(roles) > 0 {
			missing[key] = roles
		}
	}
	return missing, nil
}

func positiveOr(value int, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func seconds(value int) time.Duration      { return time.Duration(value) * time.Second }
func milliseconds(value int) time.Duration { return time.Duration(value) * time.Millisecond }
