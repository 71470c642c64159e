package genbatch

import (
	"github.com/cockroachdb/errors"

	"github.com/temirov/genbatch/internal/config"
)

func loadRootConfiguration(configurationPath string) (config.Root, error) {
	configurationLoader, loaderErr := config.NewDefaultRootConfigurationLoader()
	if loaderErr != nil {
		return config.Root{}, errors.Wrap(loaderErr, configurationLoaderInitializationErrorMessage)
	}
	configurationSource, sourceErr := configurationLoader.Load(configurationPath)
	if sourceErr != nil {
		return config.Root{}, errors.Wrap(sourceErr, configurationSourceResolutionErrorMessage)
	}
	rootConfiguration, loadErr := config.LoadRoot(configurationSource)
	if loadErr != nil {
		return config.Root{}, errors.Wrapf(loadErr, rootConfigurationLoadErrorFormat, configurationSource.Reference)
	}
	return rootConfiguration, nil
}
