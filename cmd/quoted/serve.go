package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/newthinker/quoted/internal/api"
)

var serveInterval time.Duration

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Refresh the watchlist in the background and serve the HTTP API",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().DurationVar(&serveInterval, "interval", 5*time.Minute, "watchlist refresh interval")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	e, err := setup()
	if err != nil {
		return err
	}
	defer e.close()

	metricsPath := ""
	if e.cfg.Metrics.Enabled {
		metricsPath = e.cfg.Metrics.Path
	}

	server, err := api.NewServer(api.Config{
		Host:        e.cfg.Server.Host,
		Port:        e.cfg.Server.Port,
		APIKey:      e.cfg.Server.APIKey,
		MetricsPath: metricsPath,
	}, api.Dependencies{
		App:     e.app,
		Metrics: e.metrics,
	}, e.log.Named("http"))
	if err != nil {
		return fmt.Errorf("creating server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	e.app.SetInterval(serveInterval)
	go func() {
		if err := e.app.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			e.log.Error("refresh loop stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := server.Start(); err != nil {
			e.log.Error("server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	e.log.Info("shutting down quoted")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
