package main

import (
	"context"
	"fmt"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yukioka/tsuzuki/pkg/config"
	"github.com/yukioka/tsuzuki/pkg/server"
)

func newServeCommand() *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API for the platform adapters",
		Example: strings.Join([]string{
			"  tsuzuki serve",
			"  tsuzuki serve --port 9000",
		}, "\n"),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(getConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}

			rt, err := buildRuntime(cfg)
			if err != nil {
				return err
			}
			defer rt.close()

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt.startMaintenance(ctx)

			srv := server.New(rt.engine, rt.syncer, rt.profiles, rt.bus, server.Options{
				Host:        cfg.Server.Host,
				Port:        cfg.Server.Port,
				ProfilePath: cfg.ProfilePath(),
			})

			errCh := make(chan error, 1)
			go func() {
				errCh <- srv.Start()
			}()

			fmt.Printf("%s listening on %s:%d\n", appName, cfg.Server.Host, cfg.Server.Port)
			fmt.Println("Press Ctrl+C to stop")

			select {
			case err := <-errCh:
				return err
			case <-ctx.Done():
			}

			rt.log.Info("shutting down")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				rt.log.Warn("shutdown incomplete", zap.Error(err))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Bind address (overrides config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (overrides config)")

	return cmd
}
