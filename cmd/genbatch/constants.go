package genbatch

const (
	rootCommandUse                   = "genbatch"
	rootCommandShort                 = "Run resumable batch generation recipes against an LLM"
	environmentPrefix                = "GENBATCH"
	defaultAPIEndpoint               = "https://openrouter.ai/api/v1"
	defaultAPIKeyEnvironmentVariable = "OPENROUTER_API_KEY"
	checkpointFileSuffix             = "_checkpoint.json"
	eventsFileExtension              = ".jsonl"
	dashPlaceholder                  = "-"
	enabledStateLabel                = "enabled"
	disabledStateLabel               = "disabled"

	configFlagName       = "config"
	configFlagUsage      = "Path to config.yaml (default: ./config.yaml, ~/.genbatch/config.yaml, embedded)"
	allFlagName          = "all"
	allFlagUsage         = "Show disabled recipes as well"
	listCommandUse       = "list"
	listCommandShort     = "List recipes from the configuration (enabled by default)"
	versionCommandUse    = "version"
	versionCommandShort  = "Print the genbatch version"
	runCommandUse        = "run RECIPE [KEY...]"
	runCommandShort      = "Run a recipe over a list of keys"
	keysFileFlagName     = "file"
	keysFileFlagUsage    = "File with one key per line (blank lines and # comments ignored)"
	concurrencyFlagName  = "concurrency"
	concurrencyFlagUsage = "Items processed in parallel within a chunk (0 = use defaults)"
	chunkSizeFlagName    = "chunk-size"
	chunkSizeFlagUsage   = "Items per checkpointed chunk (0 = use defaults)"
	rpmFlagName          = "rpm"
	rpmFlagUsage         = "Requests per minute across all workers (0 = use defaults)"
	attemptsFlagName     = "attempts"
	attemptsFlagUsage    = "Max attempts per generation call (0 = use defaults)"
	timeoutFlagName      = "timeout"
	timeoutFlagUsage     = "Per-attempt timeout (e.g., 90s; 0 = use defaults)"
	modelFlagName        = "model"
	modelFlagUsage       = "Override recipe's model by name (must exist in models[])"
	dryRunFlagName       = "dry-run"
	dryRunFlagUsage      = "Validate inputs and render prompts without calling the model"
	resumeFlagName       = "resume"
	resumeFlagUsage      = "Continue after the last checkpointed chunk"
	freshFlagName        = "fresh"
	freshFlagUsage       = "Ignore the saved checkpoint and start over"
	forceFlagName        = "force"
	forceFlagUsage       = "Regenerate keys that already have an output"

	skipAnalysisFlagName  = "skip-analysis"
	skipAnalysisFlagUsage = "Skip the analysis pass even when the recipe enables it"
	estimateFlagName      = "estimate-cost"
	estimateFlagUsage     = "Print the projected token usage and cost, then exit"

	configurationLoaderInitializationErrorMessage = "initialize configuration loader"
	configurationSourceResolutionErrorMessage     = "resolve configuration source"
	rootConfigurationLoadErrorFormat              = "load root configuration %s"
	unknownRecipeErrorFormat                      = "unknown or disabled recipe %q"
	unknownModelErrorFormat                       = "model %q not found in models[]"
	missingAPIKeyErrorFormat                      = "missing API key: set %s"
	noKeysErrorMessage                            = "no keys to process"
	noKeysHintMessage                             = "pass keys as arguments or a key list with --file"
	readKeysErrorFormat                           = "read key list %s"
	invalidBooleanEnvironmentErrorFormat          = "invalid boolean value %q for %s"
	missingAPIKeyHintFormat                       = "export %s or pass --dry-run"
)
