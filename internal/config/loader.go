package config

import (
	_ "embed"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/fsops"
)

const (
	// EmbeddedRootConfigurationReference identifies the embedded fallback configuration source.
	EmbeddedRootConfigurationReference     = "embedded default configuration"
	explicitConfigurationReadErrorFormat   = "read explicit configuration %s"
	workingDirectoryErrorMessage           = "determine working directory"
	homeEnvironmentVariableName            = "HOME"
	configurationFileName                  = "config.yaml"
	homeDirectoryConfigurationDirectory    = ".genbatch"
	explicitConfigurationMissingHintFormat = "check the --config path %s"
)

var (
	//go:embed default_root_configuration.yaml
	embeddedRootConfigurationBytes []byte
)

// RootConfigurationSource holds the raw configuration data and its origin.
type RootConfigurationSource struct {
	Reference string
	Content   []byte
}

// RootConfigurationLoader locates configuration files across supported search paths.
type RootConfigurationLoader struct {
	workingDirectory string
	homeDirectory    string
	fileSystem       fsops.FS
}

// NewRootConfigurationLoader constructs a loader with the provided directories.
func NewRootConfigurationLoader(workingDirectory string, homeDirectory string) RootConfigurationLoader {
	return RootConfigurationLoader{
		workingDirectory: workingDirectory,
		homeDirectory:    homeDirectory,
		fileSystem:       fsops.NewOS(),
	}
}

// WithFileSystem reads candidates from fileSystem instead of the OS.
func (loader RootConfigurationLoader) WithFileSystem(fileSystem fsops.FS) RootConfigurationLoader {
	loader.fileSystem = fileSystem
	return loader
}

// NewDefaultRootConfigurationLoader builds a loader using the process working directory and HOME.
func NewDefaultRootConfigurationLoader() (RootConfigurationLoader, error) {
	workingDirectory, err := os.Getwd()
	if err != nil {
		return RootConfigurationLoader{}, errors.Wrap(err, workingDirectoryErrorMessage)
	}
	return NewRootConfigurationLoader(workingDirectory, os.Getenv(homeEnvironmentVariableName)), nil
}

// SearchPaths lists the file candidates in the order Load tries them.
func (loader RootConfigurationLoader) SearchPaths(explicitPath string) []string {
	var paths []string
	if explicitPath != "" {
		paths = append(paths, explicitPath)
	}
	if loader.workingDirectory != "" {
		paths = append(paths, filepath.Join(loader.workingDirectory, configurationFileName))
	}
	if loader.homeDirectory != "" {
		paths = append(paths, filepath.Join(loader.homeDirectory, homeDirectoryConfigurationDirectory, configurationFileName))
	}
	return paths
}

// Load resolves the configuration source: explicit path, ./config.yaml,
// ~/.genbatch/config.yaml, then the embedded default. A missing explicit file
// falls through to the next candidate; any other read error on it is fatal.
func (loader RootConfigurationLoader) Load(explicitPath string) (RootConfigurationSource, error) {
	for _, path := range loader.SearchPaths(explicitPath) {
		content, readError := loader.fileSystem.ReadFile(path)
		if readError != nil {
			explicit := path == explicitPath
			if explicit && !errors.Is(readError, fs.ErrNotExist) && !errors.Is(readError, fs.ErrPermission) {
				return RootConfigurationSource{}, errors.WithHintf(
					errors.Wrapf(readError, explicitConfigurationReadErrorFormat, path),
					explicitConfigurationMissingHintFormat, path)
			}
			continue
		}
		return RootConfigurationSource{Reference: path, Content: content}, nil
	}
	return EmbeddedRootConfiguration(), nil
}

// EmbeddedRootConfiguration returns the configuration compiled into the binary.
func EmbeddedRootConfiguration() RootConfigurationSource {
	return RootConfigurationSource{Reference: EmbeddedRootConfigurationReference, Content: embeddedRootConfigurationBytes}
}
