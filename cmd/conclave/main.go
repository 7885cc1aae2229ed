package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/conclave-io/conclave/pkg/api"
	"github.com/conclave-io/conclave/pkg/client"
	"github.com/conclave-io/conclave/pkg/config"
	"github.com/conclave-io/conclave/pkg/log"
	"github.com/conclave-io/conclave/pkg/service"
	"github.com/conclave-io/conclave/pkg/storage"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "conclave",
	Short: "Conclave - Distributed reasoning coordination",
	Long: `Conclave coordinates a pool of reasoning nodes: it queues
reasoning tasks, assigns them to capable nodes, detects node
failures, and aggregates partial results into a consensus answer.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Conclave version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().String("coordinator", "http://127.0.0.1:7410", "Coordinator API base URL")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(nodeCmd)
	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(healthCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the coordinator",
	Long: `Start the coordinator: the HTTP API, the task scheduler and
the fault monitor. State is persisted in the data directory so a
restart recovers registered nodes and in-flight tasks.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		dataDir, _ := cmd.Flags().GetString("data-dir")
		apiAddr, _ := cmd.Flags().GetString("api-addr")

		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if dataDir != "" {
			cfg.Data.Dir = dataDir
		}
		if apiAddr != "" {
			cfg.API.Addr = apiAddr
		}

		log.Init(log.Config{
			Level:      log.Level(cfg.Logging.Level),
			JSONOutput: cfg.Logging.JSON,
		})

		if err := os.MkdirAll(cfg.Data.Dir, 0700); err != nil {
			return fmt.Errorf("creating data directory: %w", err)
		}
		store, err := storage.NewBoltStore(cfg.Data.Dir)
		if err != nil {
			return fmt.Errorf("opening state store: %w", err)
		}
		defer store.Close()

		dispatcher := client.NewHTTPDispatcher(cfg.API.RequestTimeout)
		svc, err := service.NewService(cfg, store, dispatcher)
		if err != nil {
			return err
		}
		svc.Start()
		defer svc.Stop()

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		server := api.NewServer(svc, cfg.API.RequestTimeout)
		return server.Start(ctx, cfg.API.Addr)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	serveCmd.Flags().String("data-dir", "", "Override data directory")
	serveCmd.Flags().String("api-addr", "", "Override API listen address")
}
