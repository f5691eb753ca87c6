package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/bher20/telebill/internal/api"
	"github.com/bher20/telebill/internal/config"
	"github.com/bher20/telebill/internal/cron"
	"github.com/bher20/telebill/internal/migrate"
)

func main() {
	root := &cobra.Command{
		Use:   "telebill",
		Short: "Phone call billing service",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			mux := api.NewMux(cfg)
			addr := fmt.Sprintf(":%d", cfg.Port)
			log.Printf("telebill listening on %s", addr)
			return http.ListenAndServe(addr, mux)
		},
	}

	var batch bool
	worker := &cobra.Command{
		Use:   "worker",
		Short: "Run the background billing worker",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.FromEnv()
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			if batch {
				return cron.RunBatch(ctx, cfg)
			}
			return cron.Run(ctx, cfg)
		},
	}
	worker.Flags().BoolVar(&batch, "batch", false, "run the resumable batch worker instead of the periodic one")

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}
	migrateCmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply pending migrations",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg := config.FromEnv()
				return migrate.Up(cmd.Context(), cfg.DBDriver, cfg.DBDSN)
			},
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the last migration",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg := config.FromEnv()
				return migrate.Down(cmd.Context(), cfg.DBDriver, cfg.DBDSN)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show migration status",
			RunE: func(cmd *cobra.Command, args []string) error {
				cfg := config.FromEnv()
				return migrate.Status(cmd.Context(), cfg.DBDriver, cfg.DBDSN)
			},
		},
	)

	root.AddCommand(serve, worker, migrateCmd)

	if err := root.Execute(); err != nil {
		log.Fatalf("telebill: %v", err)
	}
}
