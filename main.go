package main

import (
	"os"

	"go.uber.org/zap"

	"github.com/temirov/genbatch/cmd/genbatch"
)

func main() {
	logger := zap.Must(zap.NewProduction())

	executionErr := genbatch.Execute()
	if executionErr != nil {
		logger.Error("command execution failed", zap.Error(executionErr))
		_ = logger.Sync()
		os.Exit(1)
	}

	syncErr := logger.Sync()
	if syncErr != nil {
		os.Exit(1)
	}
}
