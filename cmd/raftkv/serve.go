package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/KilimcininKorOglu/raftkv/internal/cluster"
	"github.com/KilimcininKorOglu/raftkv/internal/config"
	"github.com/KilimcininKorOglu/raftkv/internal/logging"
	"github.com/KilimcininKorOglu/raftkv/internal/rest"
)

// shutdownTimeout bounds the HTTP API's graceful shutdown.
const shutdownTimeout = 5 * time.Second

// errInvalidConfig is returned when configuration validation fails; the
// individual problems have already been printed.
var errInvalidConfig = errors.New("invalid configuration")

func newServeCmd() *cobra.Command {
	var configFile string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run a raftkv node",
		Long: `Run a raftkv node until it receives SIGINT or SIGTERM.

The node exits with a non-zero status if its storage fails.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cmd, configFile)
		},
	}
	cmd.Flags().StringVarP(&configFile, "config", "c", "", "Path to configuration file")
	return cmd
}

// loadConfig loads and validates the configuration, printing every
// validation problem to the command's error stream.
func loadConfig(cmd *cobra.Command, path string) (*config.Config, error) {
	cfg, err := config.LoadConfig(path)
	if err != nil {
		return nil, err
	}

	if errs := config.ValidateConfig(cfg); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintf(cmd.ErrOrStderr(), "  - %v\n", e)
		}
		return nil, errInvalidConfig
	}
	return cfg, nil
}

func serve(ctx context.Context, cmd *cobra.Command, path string) error {
	cfg, err := loadConfig(cmd, path)
	if err != nil {
		return err
	}

	logger, closeLog, err := logging.Open(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})
	if err != nil {
		return err
	}
	defer closeLog()

	if path != "" {
		watcher, err := config.NewConfigWatcher(&config.WatcherConfig{
			FilePath: path,
			OnChange: func(oldCfg, newCfg *config.Config) { applyReload(logger, oldCfg, newCfg) },
			OnError:  func(err error) { logger.Warn("config reload failed", "error", err) },
		})
		if err != nil {
			logger.Warn("config watch disabled", "error", err)
		} else {
			watcher.Start()
			defer watcher.Stop()
		}
	}

	c, err := cluster.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create node", "error", err)
		return err
	}
	defer c.Close()

	logger.Info("starting raftkv",
		"version", version,
		"node", cfg.Node.ID,
		"transport", cfg.Transport.Type,
		"storage", cfg.Storage.Type)

	if cfg.API.Enabled {
		api := rest.NewServer(&rest.ServerConfig{
			Address:       cfg.API.Address,
			ReadTimeout:   cfg.API.ReadTimeout,
			WriteTimeout:  cfg.API.WriteTimeout,
			IdleTimeout:   rest.DefaultServerConfig().IdleTimeout,
			CommitTimeout: cfg.API.CommitTimeout,
			RateLimit:     cfg.API.RateLimit,
			Version:       version,
		}, c, logger)
		if err := api.Start(); err != nil {
			logger.Error("failed to start HTTP API", "address", cfg.API.Address, "error", err)
			return err
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()
			if err := api.Stop(ctx); err != nil {
				logger.Warn("HTTP API shutdown", "error", err)
			}
		}()
	}

	runErr := c.Run(ctx)

	status := c.Status()
	logger.Info("raftkv stopped",
		"term", status.Term,
		"state", status.State,
		"commitIndex", status.CommitIndex,
		"lastApplied", status.LastApplied)

	return runErr
}

// applyReload applies the parts of a changed config that take effect while
// running. Only the log level does; anything else is reported.
func applyReload(logger logging.Logger, oldCfg, newCfg *config.Config) {
	if oldCfg.Logging.Level != newCfg.Logging.Level {
		if setter, ok := logger.(logging.LevelSetter); ok {
			setter.SetLevel(logging.ParseLevel(newCfg.Logging.Level))
			logger.Info("log level changed", "from", oldCfg.Logging.Level, "to", newCfg.Logging.Level)
		}
	}

	var restart []string
	for _, section := range config.ChangedSections(oldCfg, newCfg) {
		if section == "logging" &&
			oldCfg.Logging.Format == newCfg.Logging.Format &&
			oldCfg.Logging.Output == newCfg.Logging.Output {
			continue
		}
		restart = append(restart, section)
	}
	if len(restart) > 0 {
		logger.Warn("configuration change needs a restart", "sections", strings.Join(restart, ","))
	}
}
