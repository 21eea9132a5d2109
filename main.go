package main

import (
	"go.uber.org/zap"

	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/cmd"
	"github.com/davidbmar/nvidia-parakeet-ver-5-sub001/internal/logging"
)

func main() {
	// Initialize logger
	if err := logging.InitLogger(); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		if err := logging.Sync(); err != nil {
			// Log sync error, but don't fail the application
			logging.Logger().Error("failed to sync logger on exit", zap.Error(err))
		}
	}()

	cmd.Execute()
}
