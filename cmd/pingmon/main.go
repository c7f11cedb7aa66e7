// pingmon probes a dynamic set of hosts and keeps rolling reachability
// statistics for each in Redis.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/wellsgz/pingmon/internal/api"
	"github.com/wellsgz/pingmon/internal/collector"
	"github.com/wellsgz/pingmon/internal/config"
	"github.com/wellsgz/pingmon/internal/logging"
	"github.com/wellsgz/pingmon/internal/observability"
	"github.com/wellsgz/pingmon/internal/paths"
	"github.com/wellsgz/pingmon/internal/storage"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:          "pingmon",
		Short:        "Network reachability monitor",
		SilenceUsage: true,
	}

	var (
		configPath string
		logFormat  string
	)

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Probe targets and aggregate statistics until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMonitor(configPath, logFormat)
		},
	}
	runCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file (default: per-user or system config if present)")
	runCmd.Flags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := paths.DefaultPaths()
			if err != nil {
				return err
			}
			if configPath != "" {
				p.ConfigFile = configPath
			}
			created, err := p.CreateDefaultConfig()
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", p.ConfigFile)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", p.ConfigFile)
			}
			return nil
		},
	}
	initCmd.Flags().StringVarP(&configPath, "config", "c", "", "where to write the config file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "pingmon %s\n", Version)
		},
	}

	root.AddCommand(runCmd, initCmd, versionCmd)
	return root
}

// resolveConfigPath falls back to the default location when it exists, and
// to defaults plus environment otherwise
func resolveConfigPath(flagPath string) string {
	if flagPath != "" {
		return flagPath
	}
	if p, err := paths.DefaultPaths(); err == nil && p.ConfigExists() {
		return p.ConfigFile
	}
	return ""
}

func runMonitor(configFlag, logFormat string) error {
	configPath := resolveConfigPath(configFlag)

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	if logFormat == "" {
		logFormat = cfg.Log.Format
	}
	logging.SetFormat(logging.Format(logFormat))
	if err := logging.SetLevel(cfg.Log.Level); err != nil {
		return err
	}
	if configPath != "" {
		logging.Info("Main", "Loaded config from "+configPath, nil)
	}

	store, err := storage.Open(cfg.Redis.URL)
	if err != nil {
		logging.Error("Main", "Invalid store address", err)
		return err
	}
	defer store.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := store.Ping(pingCtx); err != nil {
		// Not fatal: every loop retries on its next tick
		logging.Warn("Main", "Store not reachable yet", err)
	}
	cancel()

	metrics := observability.New(prometheus.DefaultRegisterer)

	c, err := collector.New(cfg, store, metrics)
	if err != nil {
		return err
	}

	var server *api.Server
	if cfg.Server.Address != "" {
		api.Version = Version
		server = api.NewServer(cfg, c, prometheus.DefaultGatherer)
		server.StartAsync(cfg.Server.Address)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = c.Run(ctx)

	if server != nil {
		if shutdownErr := server.Shutdown(5 * time.Second); shutdownErr != nil {
			logging.Error("Main", "API shutdown failed", shutdownErr)
		}
	}
	return err
}
