package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/OpenNSW/batchrun/internal/database"
	"github.com/OpenNSW/batchrun/internal/server"
)

func newServeCommand(configPath *string) *cobra.Command {
	var port int
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the run API and metrics over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, appOptions{history: true, manager: true})
			if err != nil {
				return err
			}
			defer a.Close()

			deps := server.Dependencies{
				Manager:  a.manager,
				Store:    a.store,
				Gatherer: a.registry,
				Health: func(context.Context) error {
					return database.HealthCheck(a.db)
				},
			}
			if a.archiver != nil {
				deps.Logs = a.archiver
			}
			srv, err := server.New(cfg.Server, deps)
			if err != nil {
				return invalidInput(err)
			}
			if err := srv.Run(ctx); err != nil {
				return infrastructure(err)
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (default from SERVER_PORT)")
	return cmd
}
