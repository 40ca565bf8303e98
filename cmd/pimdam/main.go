package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Balli0706/automotive-pim-dam/internal/cli"
	"github.com/Balli0706/automotive-pim-dam/internal/config"
	internal_http "github.com/Balli0706/automotive-pim-dam/internal/http"
	"github.com/Balli0706/automotive-pim-dam/internal/log"
	internal_storage "github.com/Balli0706/automotive-pim-dam/internal/storage"
	"github.com/Balli0706/automotive-pim-dam/pkg/service"
)

var rootCmd = &cobra.Command{Use: "pimdam"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the approval workflow server",
	Run: func(cmd *cobra.Command, args []string) {
		cfgPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(cfgPath)
		if err != nil {
			log.GetLogger().Errorf("Failed to load config: %v", err)
			os.Exit(1)
		}
		log.SetLevel(cfg.LogLevel)
		logger := log.GetLogger()

		dbConnStr, _ := cmd.Flags().GetString("db")
		if dbConnStr == "" {
			dbConnStr = cfg.DatabaseURL
		}
		store, err := internal_storage.InitStore(dbConnStr)
		if err != nil {
			logger.Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		dispatcher := service.NewDispatcher(logger, cfg.NotifyBuffer)
		dispatcher.RegisterSink(service.SinkFunc(func(t service.Transition) error {
			logger.Infof("Transition: run %s %s -> %s (%s)", t.RunID, t.FromStage, t.ToStage, t.Outcome)
			return nil
		}))
		dispatcher.Start(cfg.NotifyWorkers)
		defer dispatcher.Stop()

		registry := service.NewRegistryService(store, logger)
		engine := service.NewWorkflowService(store, registry, nil, dispatcher, logger)
		tasks := service.NewTaskService(store, logger)
		audit := service.NewAuditService(store, logger)

		if cfg.DefinitionsDir != "" {
			if _, statErr := os.Stat(cfg.DefinitionsDir); statErr == nil {
				if err := registry.LoadDefinitionDir(cfg.DefinitionsDir); err != nil {
					logger.Errorf("Failed to load definitions from %s: %v", cfg.DefinitionsDir, err)
					os.Exit(1)
				}
			}
		}

		// Repair anything a previous crash left behind before serving.
		if err := engine.Reconcile(context.Background()); err != nil {
			logger.Errorf("Reconcile failed: %v", err)
			os.Exit(1)
		}

		srv := internal_http.NewServer(registry, engine, tasks, audit)
		if err := internal_http.StartServer(cfg.Port, srv); err != nil {
			logger.Errorf("Server stopped: %v", err)
			os.Exit(1)
		}
	},
}

func main() {
	rootCmd.PersistentFlags().String("db", "", "Database connection string")
	serveCmd.Flags().String("config", "", "Path to a YAML config file (optional)")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
