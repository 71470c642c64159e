package config_test

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temirov/genbatch/internal/config"
	"github.com/temirov/genbatch/internal/fsops"
)

const (
	explicitConfigurationFileName       = "explicit.yaml"
	workingDirectoryConfigurationName   = "config.yaml"
	homeDirectoryName                   = ".genbatch"
	homeConfigurationFileName           = "config.yaml"
	sampleAPIEndpoint                   = "https://example.test/api"
	sampleAPIKeyEnvironmentVariableName = "EXAMPLE_API_KEY"
	explicitLoggingLevel                = "explicit-level"
	workingLoggingLevel                 = "working-level"
	homeLoggingLevel                    = "home-level"
	embeddedLoggingLevel                = "info"
	missingExplicitFileName             = "missing.yaml"
	configurationTemplate               = `common:
  api:
    endpoint: %s
    api_key_env: %s
  logging:
    level: %s
    format: console
  defaults:
    attempts: 1
    timeout_seconds: 2
models:
  - name: default
    provider: provider
    model_id: model
    default: true
    supports_temperature: true
    default_temperature: 0.1
    max_completion_tokens: 10
recipes:
  - name: sample
    enabled: true
    output: "{key}.yaml"
    prompt:
      user: "{{.Key}}"
    schema:
      sections:
        - {name: body, required: true}
`
	directoryPermissions = 0o755
	filePermissions      = 0o644
)

type loaderTestCase struct {
	name                 string
	setup                func(t *testing.T, workingDirectory string, homeDirectory string) (string, string)
	expectedLoggingLevel string
}

func TestRootConfigurationLoader_Load(t *testing.T) {
	testCases := []loaderTestCase{
		{
			name: "explicit path used when available",
			setup: func(t *testing.T, workingDirectory string, homeDirectory string) (string, string) {
				t.Helper()
				configurationPath := filepath.Join(workingDirectory, explicitConfigurationFileName)
				writeConfiguration(t, configurationPath, explicitLoggingLevel)
				return configurationPath, configurationPath
			},
			expectedLoggingLevel: explicitLoggingLevel,
		},
		{
			name: "explicit path missing falls back to working directory",
			setup: func(t *testing.T, workingDirectory string, homeDirectory string) (string, string) {
				t.Helper()
				workingConfigurationPath := filepath.Join(workingDirectory, workingDirectoryConfigurationName)
				writeConfiguration(t, workingConfigurationPath, workingLoggingLevel)
				return filepath.Join(workingDirectory, missingExplicitFileName), workingConfigurationPath
			},
			expectedLoggingLevel: workingLoggingLevel,
		},
		{
			name: "home directory used when other locations missing",
			setup: func(t *testing.T, workingDirectory string, homeDirectory string) (string, string) {
				t.Helper()
				configurationPath := filepath.Join(homeDirectory, homeDirectoryName, homeConfigurationFileName)
				writeConfiguration(t, configurationPath, homeLoggingLevel)
				return "", configurationPath
			},
			expectedLoggingLevel: homeLoggingLevel,
		},
		{
			name: "embedded configuration used when no files available",
			setup: func(t *testing.T, workingDirectory string, homeDirectory string) (string, string) {
				t.Helper()
				return "", config.EmbeddedRootConfigurationReference
			},
			expectedLoggingLevel: embeddedLoggingLevel,
		},
	}

	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			workingDirectory := t.TempDir()
			homeDirectory := t.TempDir()

			loader := config.NewRootConfigurationLoader(workingDirectory, homeDirectory)
			explicitPath, expectedReference := testCase.setup(t, workingDirectory, homeDirectory)

			source, err := loader.Load(explicitPath)
			require.NoError(t, err)
			assert.Equal(t, expectedReference, source.Reference)

			rootConfiguration, err := config.LoadRoot(source)
			require.NoError(t, err)
			assert.Equal(t, testCase.expectedLoggingLevel, rootConfiguration.Common.Logging.Level)
		})
	}
}

func TestRootConfigurationLoader_InMemoryFileSystem(t *testing.T) {
	mem := fsops.NewMem()
	content := fmt.Sprintf(configurationTemplate, sampleAPIEndpoint, sampleAPIKeyEnvironmentVariableName, workingLoggingLevel)
	require.NoError(t, mem.WriteFile("/work/config.yaml", []byte(content), filePermissions))

	loader := config.NewRootConfigurationLoader("/work", "/home/user").WithFileSystem(mem)
	assert.Equal(t, []string{"/etc/x.yaml", "/work/config.yaml", "/home/user/.genbatch/config.yaml"}, loader.SearchPaths("/etc/x.yaml"))

	source, err := loader.Load("")
	require.NoError(t, err)
	assert.Equal(t, "/work/config.yaml", source.Reference)
}

func TestLoadRoot_AppliesBuiltinDefaults(t *testing.T) {
	content := fmt.Sprintf(configurationTemplate, sampleAPIEndpoint, sampleAPIKeyEnvironmentVariableName, workingLoggingLevel)
	rootConfiguration, err := config.LoadRoot(config.RootConfigurationSource{Reference: "inline", Content: []byte(content)})
	require.NoError(t, err)

	defaults := rootConfiguration.Common.Defaults
	assert.Equal(t, 1, defaults.Attempts)
	assert.Equal(t, 2, defaults.TimeoutSeconds)
	assert.Equal(t, config.BuiltinDefaults.Concurrency, defaults.Concurrency)
	assert.Equal(t, config.BuiltinDefaults.RateLimitRPM, defaults.RateLimitRPM)

	recipe, ok := rootConfiguration.FindRecipe("sample")
	require.True(t, ok)
	assert.Equal(t, "default", rootConfiguration.ModelFor(recipe).Name)
	assert.False(t, recipe.AnalysisEnabled())
}

func TestLoadRoot_Rejects(t *testing.T) {
	testCases := []struct {
		name    string
		content string
	}{
		{name: "empty", content: ""},
		{name: "no models", content: "models: []\n"},
		{name: "no default model", content: "models:\n  - name: m\n"},
		{
			name:    "unknown recipe model",
			content: "models:\n  - {name: m, default: true}\nrecipes:\n  - {name: r, model: other, output: x.yaml, schema: {sections: [{name: a}]}}\n",
		},
		{
			name:    "missing output",
			content: "models:\n  - {name: m, default: true}\nrecipes:\n  - {name: r, schema: {sections: [{name: a}]}}\n",
		},
		{
			name:    "bad format",
			content: "models:\n  - {name: m, default: true}\nrecipes:\n  - {name: r, format: toml, output: x.yaml, schema: {sections: [{name: a}]}}\n",
		},
		{
			name:    "duplicate recipe",
			content: "models:\n  - {name: m, default: true}\nrecipes:\n  - {name: r, output: x.yaml, schema: {sections: [{name: a}]}}\n  - {name: r, output: y.yaml, schema: {sections: [{name: a}]}}\n",
		},
		{
			name:    "unknown backend",
			content: "common:\n  storage:\n    backend: s3\nmodels:\n  - {name: m, default: true}\n",
		},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			_, err := config.LoadRoot(config.RootConfigurationSource{Reference: testCase.name, Content: []byte(testCase.content)})
			assert.Error(t, err)
		})
	}
}

func TestEmbeddedConfiguration(t *testing.T) {
	rootConfiguration, err := config.LoadRoot(config.EmbeddedRootConfiguration())
	require.NoError(t, err)

	outline, ok := rootConfiguration.FindRecipe("outline")
	require.True(t, ok)
	assert.True(t, outline.AnalysisEnabled())
	assert.Equal(t, "html", outline.Analysis.Target.Mode)
	require.Len(t, outline.Schema.Markers, 1)
	assert.Equal(t, 25, outline.Schema.Markers[0].Min)
	assert.Equal(t, 30, outline.Schema.Markers[0].Max)
	assert.Equal(t, "{key}/{key}-serp-analysis.yaml", outline.InputTemplates()["serp"])

	analysis, ok := rootConfiguration.FindRecipe("serp-analysis")
	require.True(t, ok)
	assert.Len(t, analysis.Schema.Sections, 12)
	assert.Equal(t, config.BackendFiles, rootConfiguration.Common.Storage.Backend)
}

func writeConfiguration(t *testing.T, path string, loggingLevel string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), directoryPermissions))
	content := fmt.Sprintf(configurationTemplate, sampleAPIEndpoint, sampleAPIKeyEnvironmentVariableName, loggingLevel)
	require.NoError(t, os.WriteFile(path, []byte(content), filePermissions))
}
