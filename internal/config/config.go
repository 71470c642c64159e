package config

import (
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"

	"github.com/temirov/genbatch/internal/parser"
	"github.com/temirov/genbatch/internal/prompts"
	"github.com/temirov/genbatch/internal/refine"
	"github.com/temirov/genbatch/internal/validate"
)

const (
	emptyModelsErrorMessage                  = "config.models is empty"
	missingDefaultModelErrorMessage          = "no default model found (set models[].default: true)"
	rootConfigurationEmptyContentErrorFormat = "root configuration %s is empty"
	rootConfigurationUnmarshalErrorFormat    = "unmarshal root configuration %s"
	duplicateRecipeErrorFormat               = "recipe %q is defined more than once"
	recipeErrorFormat                        = "recipe %q"
	unknownModelErrorFormat                  = "unknown model %q"
	missingOutputErrorMessage                = "output path template is empty"
	missingSectionsErrorMessage              = "schema.sections is empty"
	missingInputRoleErrorMessage             = "inputs[] entry without role"
	missingInputPathErrorFormat              = "input %q has no path"
	unknownBackendErrorFormat                = "unknown storage backend %q (expected files or sqlite)"
)

// Storage backends.
const (
	BackendFiles  = "files"
	BackendSQLite = "sqlite"
)

type Root struct {
	Common  Common   `yaml:"common"`
	Models  []Model  `yaml:"models"`
	Recipes []Recipe `yaml:"recipes"`
}

type Common struct {
	API struct {
		Endpoint    string `yaml:"endpoint"`
		APIKeyEnv   string `yaml:"api_key_env"`
		HTTPReferer string `yaml:"http_referer"`
		AppTitle    string `yaml:"app_title"`
	} `yaml:"api"`
	Logging struct {
		Level     string `yaml:"level"`
		Format    string `yaml:"format"`
		EventsDir string `yaml:"events_dir"`
	} `yaml:"logging"`
	Defaults Defaults `yaml:"defaults"`
	Storage  Storage  `yaml:"storage"`
	// Languages are the candidates for prompt language detection.
	Languages []string `yaml:"languages"`
}

// Defaults are run parameters a flag or GENBATCH_* variable may override.
type Defaults struct {
	Attempts           int `yaml:"attempts"`
	TimeoutSeconds     int `yaml:"timeout_seconds"`
	Concurrency        int `yaml:"concurrency"`
	ChunkSize          int `yaml:"chunk_size"`
	RateLimitRPM       int `yaml:"rate_limit_rpm"`
	BackoffBaseMS      int `yaml:"backoff_base_ms"`
	RateLimitBackoffMS int `yaml:"rate_limit_backoff_ms"`
	MaxRateLimitWaits  int `yaml:"max_rate_limit_waits"`
	MaxBackoffMS       int `yaml:"max_backoff_ms"`
}

type Storage struct {
	Backend       string `yaml:"backend"`
	InputDir      string `yaml:"input_dir"`
	OutputDir     string `yaml:"output_dir"`
	CheckpointDir string `yaml:"checkpoint_dir"`
	SQLitePath    string `yaml:"sqlite_path"`
}

type Model struct {
	Name                string  `yaml:"name"`
	Provider            string  `yaml:"provider"`
	ModelID             string  `yaml:"model_id"`
	Default             bool    `yaml:"default"`
	SupportsTemperature bool    `yaml:"supports_temperature"`
	DefaultTemperature  float64 `yaml:"default_temperature"`
	MaxCompletionTokens int     `yaml:"max_completion_tokens"`
}

type Recipe struct {
	Name        string          `yaml:"name"`
	Description string          `yaml:"description"`
	Enabled     bool            `yaml:"enabled"`
	Model       string          `yaml:"model"`
	Format      string          `yaml:"format"`
	Inputs      []Input         `yaml:"inputs"`
	Prompt      prompts.Spec    `yaml:"prompt"`
	Output      string          `yaml:"output"`
	Schema      validate.Schema `yaml:"schema"`
	Analysis    *Analysis       `yaml:"analysis"`
	Estimate    Estimate        `yaml:"estimate"`
}

// Input maps an artifact role to a path template under storage.input_dir.
type Input struct {
	Role     string `yaml:"role"`
	Path     string `yaml:"path"`
	Required bool   `yaml:"required"`
}

// Analysis is the optional second pass over a persisted document.
type Analysis struct {
	Enabled bool          `yaml:"enabled"`
	Prompt  prompts.Spec  `yaml:"prompt"`
	Target  refine.Target `yaml:"target"`
}

// Estimate holds per-item token guesses and prices for dry-run cost reports.
type Estimate struct {
	InputTokensPerItem  int     `yaml:"input_tokens_per_item"`
	OutputTokensPerItem int     `yaml:"output_tokens_per_item"`
	InputCostPer1K      float64 `yaml:"input_cost_per_1k"`
	OutputCostPer1K     float64 `yaml:"output_cost_per_1k"`
}

// BuiltinDefaults apply when neither configuration nor flags set a value.
var BuiltinDefaults = Defaults{
	Attempts:           3,
	TimeoutSeconds:     90,
	Concurrency:        10,
	ChunkSize:          500,
	RateLimitRPM:       60,
	BackoffBaseMS:      2000,
	RateLimitBackoffMS: 5000,
	MaxRateLimitWaits:  5,
	MaxBackoffMS:       120000,
}

// LoadRoot parses the provided configuration source and validates required fields.
func LoadRoot(source RootConfigurationSource) (Root, error) {
	if len(source.Content) == 0 {
		return Root{}, errors.Newf(rootConfigurationEmptyContentErrorFormat, source.Reference)
	}

	var rootConfiguration Root
	if err := yaml.Unmarshal(source.Content, &rootConfiguration); err != nil {
		return Root{}, errors.Wrapf(err, rootConfigurationUnmarshalErrorFormat, source.Reference)
	}

	if len(rootConfiguration.Models) == 0 {
		return Root{}, errors.New(emptyModelsErrorMessage)
	}
	if _, ok := rootConfiguration.DefaultModel(); !ok {
		return Root{}, errors.New(missingDefaultModelErrorMessage)
	}
	if err := rootConfiguration.validate(); err != nil {
		return Root{}, err
	}
	rootConfiguration.Common.Defaults = rootConfiguration.Common.Defaults.WithFallbacks(BuiltinDefaults)
	return rootConfiguration, nil
}

func (root Root) validate() error {
	switch root.Common.Storage.Backend {
	case "", BackendFiles, BackendSQLite:
	default:
		return errors.Newf(unknownBackendErrorFormat, root.Common.Storage.Backend)
	}

	seen := map[string]bool{}
	for _, recipe := range root.Recipes {
		if seen[recipe.Name] {
			return errors.Newf(duplicateRecipeErrorFormat, recipe.Name)
		}
		seen[recipe.Name] = true
		if err := root.validateRecipe(recipe); err != nil {
			return errors.Wrapf(err, recipeErrorFormat, recipe.Name)
		}
	}
	return nil
}

func (root Root) validateRecipe(recipe Recipe) error {
	if recipe.Model != "" {
		if _, ok := root.FindModel(recipe.Model); !ok {
			return errors.Newf(unknownModelErrorFormat, recipe.Model)
		}
	}
	if recipe.Format != "" {
		if _, err := parser.ParseFormat(recipe.Format); err != nil {
			return err
		}
	}
	if strings.TrimSpace(recipe.Output) == "" {
		return errors.New(missingOutputErrorMessage)
	}
	if len(recipe.Schema.Sections) == 0 {
		return errors.New(missingSectionsErrorMessage)
	}
	for _, input := range recipe.Inputs {
		if input.Role == "" {
			return errors.New(missingInputRoleErrorMessage)
		}
		if input.Path == "" {
			return errors.Newf(missingInputPathErrorFormat, input.Role)
		}
	}
	return nil
}

// WithFallbacks fills every unset (non-positive) field from fallback.
func (d Defaults) WithFallbacks(fallback Defaults) Defaults {
	pick := func(value, other int) int {
		if value > 0 {
			return value
		}
		return other
	}
	return Defaults{
		Attempts:           pick(d.Attempts, fallback.Attempts),
		TimeoutSeconds:     pick(d.TimeoutSeconds, fallback.TimeoutSeconds),
		Concurrency:        pick(d.Concurrency, fallback.Concurrency),
		ChunkSize:          pick(d.ChunkSize, fallback.ChunkSize),
		RateLimitRPM:       pick(d.RateLimitRPM, fallback.RateLimitRPM),
		BackoffBaseMS:      pick(d.BackoffBaseMS, fallback.BackoffBaseMS),
		RateLimitBackoffMS: pick(d.RateLimitBackoffMS, fallback.RateLimitBackoffMS),
		MaxRateLimitWaits:  pick(d.MaxRateLimitWaits, fallback.MaxRateLimitWaits),
		MaxBackoffMS:       pick(d.MaxBackoffMS, fallback.MaxBackoffMS),
	}
}

func (root Root) DefaultModel() (Model, bool) {
	for _, modelConfiguration := range root.Models {
		if modelConfiguration.Default {
			return modelConfiguration, true
		}
	}
	return Model{}, false
}

func (root Root) FindModel(name string) (Model, bool) {
	for _, modelConfiguration := range root.Models {
		if modelConfiguration.Name == name {
			return modelConfiguration, true
		}
	}
	return Model{}, false
}

func (root Root) FindRecipe(name string) (Recipe, bool) {
	for _, recipe := range root.Recipes {
		if recipe.Name == name {
			return recipe, true
		}
	}
	return Recipe{}, false
}

// ModelFor resolves the model a recipe runs with, falling back to the default.
func (root Root) ModelFor(recipe Recipe) Model {
	if modelConfiguration, ok := root.FindModel(recipe.Model); ok {
		return modelConfiguration
	}
	modelConfiguration, _ := root.DefaultModel()
	return modelConfiguration
}

// InputTemplates maps each input role to its path template.
func (recipe Recipe) InputTemplates() map[string]string {
	templates := make(map[string]string, len(recipe.Inputs))
	for _, input := range recipe.Inputs {
		templates[input.Role] = input.Path
	}
	return templates
}

// AnalysisEnabled reports whether the second pass is configured and on.
func (recipe Recipe) AnalysisEnabled() bool {
	return recipe.Analysis != nil && recipe.Analysis.Enabled
}
