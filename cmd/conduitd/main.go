// Package main is the entry point for the conduitd bus host.
package main

import (
	"log/slog"
	"os"

	"github.com/conduit-bus/conduit/pkg/logger"
)

func main() {
	log := logger.NewLogger(logger.Config{
		Level:  "info",
		Format: "json",
		Output: "stdout",
	})
	slog.SetDefault(log)

	cli := NewCLI(log)
	if err := cli.GetRootCommand().Execute(); err != nil {
		log.Error("conduitd exited with error", "error", err)
		os.Exit(1)
	}
}
