package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conduit-bus/conduit"
	"github.com/conduit-bus/conduit/internal/config"
)

// CLI is the conduitd command-line interface: a root command plus
// run/discover/health subcommands, each built by its own method.
type CLI struct {
	logger *slog.Logger
}

// NewCLI builds a CLI logging to logger, defaulting to slog.Default
// when logger is nil.
func NewCLI(logger *slog.Logger) *CLI {
	if logger == nil {
		logger = slog.Default()
	}
	return &CLI{logger: logger}
}

// GetRootCommand returns the assembled conduitd command tree.
func (cli *CLI) GetRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "conduitd",
		Short: "Conduit message bus host",
		Long:  "Runs a Conduit bus instance: dispatcher, transport, lifecycle-managed components, and health monitoring.",
	}

	rootCmd.PersistentFlags().String("config", "", "path to a YAML configuration file")

	rootCmd.AddCommand(
		cli.runCommand(),
		cli.discoverCommand(),
		cli.healthCommand(),
	)

	return rootCmd
}

func (cli *CLI) loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		return config.LoadConfigFromEnv()
	}
	return config.LoadConfig(path)
}

// runCommand starts a bus and blocks until interrupted, then runs the
// graceful shutdown sequence.
func (cli *CLI) runCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the bus until interrupted",
		Long:  "Connects the configured transport, starts the health monitor and DLQ sweeper, and blocks until SIGINT/SIGTERM.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			bus, err := conduit.New(cfg, cli.logger)
			if err != nil {
				return fmt.Errorf("build bus: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := bus.Start(ctx); err != nil {
				return fmt.Errorf("start bus: %w", err)
			}

			if err := bus.LoadComponents(ctx, nil); err != nil {
				cli.logger.Warn("component discovery failed", "error", err)
			} else if err := bus.Manager.StartAll(ctx); err != nil {
				cli.logger.Warn("starting discovered components failed", "error", err)
			}

			cli.logger.Info("conduitd running", "transport", cfg.Transport.Kind)
			<-ctx.Done()
			cli.logger.Info("shutdown signal received")

			shutdownCtx := context.Background()
			return bus.Shutdown(shutdownCtx, cfg.App.GracefulShutdownTimeout)
		},
	}
	return cmd
}

// discoverCommand scans the configured component directory and prints
// what would be loaded, without starting anything.
func (cli *CLI) discoverCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "List components discoverable under the configured directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			bus, err := conduit.New(cfg, cli.logger)
			if err != nil {
				return fmt.Errorf("build bus: %w", err)
			}

			if err := bus.LoadComponents(context.Background(), nil); err != nil {
				return fmt.Errorf("discover components: %w", err)
			}

			snapshot := bus.Manager.HealthSnapshot()
			if len(snapshot) == 0 {
				fmt.Println("no components discovered")
				return nil
			}

			fmt.Printf("%-30s %s\n", "COMPONENT", "STATUS")
			fmt.Println(strings.Repeat("-", 50))
			for id, report := range snapshot {
				fmt.Printf("%-30s %v\n", id, report.Status)
			}
			return nil
		},
	}
	return cmd
}

// healthCommand runs one health check pass and prints the resulting
// status and score as JSON.
func (cli *CLI) healthCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Run one health check pass and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cli.loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}

			bus, err := conduit.New(cfg, cli.logger)
			if err != nil {
				return fmt.Errorf("build bus: %w", err)
			}

			status, score := bus.Health.CheckHealth(context.Background())
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(map[string]any{
				"status": status.String(),
				"score":  score,
			})
		},
	}
	return cmd
}
