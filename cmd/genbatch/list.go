package genbatch

import (
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/temirov/genbatch/internal/config"
)

type listCommandOptions struct {
	includeDisabled bool
}

func newListCommand(rootOptions *rootCommandOptions) *cobra.Command {
	options := &listCommandOptions{}

	command := &cobra.Command{
		Use:   listCommandUse,
		Short: listCommandShort,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rootConfiguration, err := loadRootConfiguration(rootOptions.configPath)
			if err != nil {
				return err
			}
			return writeRecipeList(cmd, rootConfiguration, *options)
		},
	}

	boolChoiceVar(command.Flags(), &options.includeDisabled, allFlagName, allFlagUsage)
	return command
}

func writeRecipeList(command *cobra.Command, rootConfiguration config.Root, options listCommandOptions) error {
	for _, recipe := range rootConfiguration.Recipes {
		if !options.includeDisabled && !recipe.Enabled {
			continue
		}

		recipeStateLabel := enabledStateLabel
		if !recipe.Enabled {
			recipeStateLabel = disabledStateLabel
		}
		analysisLabel := ""
		if recipe.AnalysisEnabled() {
			analysisLabel = ", analysis"
		}

		outputWriter := command.OutOrStdout()
		_, writeErr := fmt.Fprintf(outputWriter, "%s\t(%s, model=%s%s)\n", recipe.Name, recipeStateLabel, dashIfEmpty(recipe.Model), analysisLabel)
		if writeErr != nil {
			return errors.Wrap(writeErr, "write recipe listing")
		}
	}

	return nil
}

func dashIfEmpty(value string) string {
	if value == "" {
		return dashPlaceholder
	}
	return value
}
