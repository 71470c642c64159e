package genbatch

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// Version is set at build time with -ldflags "-X".
var Version = "dev"

type rootCommandOptions struct {
	configPath string
}

// NewRootCommand assembles the genbatch command tree.
func NewRootCommand() *cobra.Command {
	options := &rootCommandOptions{}

	command := &cobra.Command{
		Use:           rootCommandUse,
		Short:         rootCommandShort,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	command.PersistentFlags().StringVar(&options.configPath, configFlagName, "", configFlagUsage)

	command.AddCommand(newRunCommand(options))
	command.AddCommand(newListCommand(options))
	command.AddCommand(newVersionCommand())
	return command
}

// Execute runs the CLI. SIGINT and SIGTERM cancel the run context so the
// current chunk can finish its in-flight items without being checkpointed.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}
