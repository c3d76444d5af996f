package main

import (
	"context"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/jpalmerr/translucent"
	"github.com/jpalmerr/translucent/config"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 10 * time.Second

// serveCmd starts the server.
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve a program and its environment",
	Long: `Start the translucent server.

The server will:
  - Load configuration from the specified YAML file
  - Apply TRANSLUCENT_PORT, TRANSLUCENT_TITLE, TRANSLUCENT_PROGRAM and
    TRANSLUCENT_POLL_INTERVAL from the environment
  - Start polling all configured feeds
  - Serve the program, the channel and the inspector page on the
    configured port

The server runs until interrupted (Ctrl+C) or receives SIGTERM.

Example:
  translucent serve -c translucent.yaml
  translucent serve --config /etc/translucent/config.yaml --log-file /var/log/translucent.log`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("config", "c", "", "path to config file (required)")
	_ = serveCmd.MarkFlagRequired("config")
}

func runServe(cmd *cobra.Command, args []string) error {
	logger, closeLog, err := loggerFromFlags(cmd)
	if err != nil {
		return err
	}
	defer closeLog()

	configFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return fmt.Errorf("invalid environment override: %w", err)
	}

	logger.Info("config loaded",
		"program", cfg.Program,
		"values", len(cfg.Values),
		"feeds", len(cfg.Feeds),
		"grids", len(cfg.Grids),
	)
	logger.Info("starting server",
		"port", cfg.Port,
		"poll_interval", cfg.PollInterval.Duration().String(),
	)

	opts, err := config.BuildOptions(cfg)
	if err != nil {
		return fmt.Errorf("failed to build feeds: %w", err)
	}
	opts = append(opts, translucent.WithLogger(logger))

	app, err := translucent.New(opts...)
	if err != nil {
		return fmt.Errorf("failed to create app: %w", err)
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		errChan <- app.Start(ctx)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		logger.Info("shutdown complete")
		return nil

	case <-ctx.Done():
		select {
		case err := <-errChan:
			if err != nil {
				return fmt.Errorf("server error: %w", err)
			}
			logger.Info("shutdown complete")
			return nil
		case <-time.After(shutdownTimeout):
			logger.Warn("shutdown timed out",
				"timeout", shutdownTimeout.String(),
				"action", "forcing exit",
			)
			return nil
		}
	}
}

// commandContext returns cmd's context, or Background when run outside
// ExecuteContext.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
