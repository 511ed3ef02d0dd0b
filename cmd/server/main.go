package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/quietridge/emberdb/internal/config"
	"github.com/quietridge/emberdb/internal/engine"
	"github.com/quietridge/emberdb/internal/logger"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "emberdb",
	Short: "emberdb is an in-memory key-value and sorted-set server",
	Long:  "emberdb serves strings and sorted sets over a length-prefixed binary protocol from a single epoll event loop. Flags can also be set via EMBERDB_-prefixed environment variables.",
	RunE:  run,
}

func init() {
	rootCmd.Flags().String("host", "", "address to bind the listener to (empty binds all interfaces)")
	rootCmd.Flags().String("port", "", "port to listen on")
	rootCmd.Flags().Duration("idle-timeout", 0, "close a connection after this much inactivity")
	rootCmd.Flags().Int("max-frame-size", 0, "largest request/response frame the server will accept")
	rootCmd.Flags().Int("workers", 0, "size of the background worker pool used for async teardown")
	rootCmd.Flags().Int("max-ttl-per-tick", 0, "max number of expired keys reclaimed per event loop tick")
	rootCmd.Flags().String("log-level", "", "debug, info, warn, or error")
	rootCmd.Flags().String("log-format", "", "json or console")
	rootCmd.Flags().StringVar(&configPath, "config", ".", "directory to search for config.yaml")
}

func run(cmd *cobra.Command, _ []string) error {
	bindChangedFlags(cmd)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Format)
	defer log.Sync() //nolint:errcheck

	log.Info("emberdb starting",
		zap.String("host", cfg.Server.Host),
		zap.String("port", cfg.Server.Port),
		zap.Int("workers", cfg.Pool.Workers),
	)

	srv, err := engine.New(engine.Config{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		IdleTimeout:     cfg.Server.IdleTimeout,
		MaxFrameSize:    cfg.Server.MaxFrameSize,
		Workers:         cfg.Pool.Workers,
		MaxTTLPerTick:   cfg.Engine.MaxTTLPerTick,
		HashResizeChunk: cfg.Engine.HashResizeChunk,
	}, logger.With(log, "engine"))
	if err != nil {
		return fmt.Errorf("initialize engine: %w", err)
	}
	defer srv.Close()

	log.Info("listening", zap.String("address", cfg.Server.Host+":"+cfg.Server.Port))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		log.Info("shutting down")
		srv.RequestStop()
	}()

	if err := srv.Run(ctx); err != nil {
		return fmt.Errorf("run: %w", err)
	}

	snap := srv.Metrics().Snapshot()
	log.Info("emberdb stopped",
		zap.Int64("connections_accepted", snap.ConnectionsAccepted),
		zap.Int64("commands_executed", snap.CommandsExecuted),
		zap.Int64("keys_expired", snap.KeysExpired),
	)
	return nil
}

// bindChangedFlags maps every flag the user actually supplied onto
// the matching viper key, so Load's file/env defaults survive when a
// flag is left at its zero value.
func bindChangedFlags(cmd *cobra.Command) {
	mapping := map[string]string{
		"host":             "server.host",
		"port":             "server.port",
		"idle-timeout":     "server.idle_timeout",
		"max-frame-size":   "server.max_frame_size",
		"workers":          "pool.workers",
		"max-ttl-per-tick": "engine.max_ttl_per_tick",
		"log-level":        "log.level",
		"log-format":       "log.format",
	}

	for flagName, viperKey := range mapping {
		f := cmd.Flags().Lookup(flagName)
		if f == nil || !f.Changed {
			continue
		}
		viper.Set(viperKey, f.Value.String())
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
