package config

import (
	"errors"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the root configuration structure for the server.
type Config struct {
	Server ServerConfig `mapstructure:"server"`
	Pool   PoolConfig   `mapstructure:"pool"`
	Engine EngineConfig `mapstructure:"engine"`
	Log    LogConfig    `mapstructure:"log"`
}

// ServerConfig holds the listener and connection-lifecycle settings.
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         string        `mapstructure:"port"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
	MaxFrameSize int           `mapstructure:"max_frame_size"`
}

// PoolConfig sizes the worker pool used for async entry teardown.
type PoolConfig struct {
	Workers int `mapstructure:"workers"`
}

// EngineConfig bounds the per-tick work the event loop does on the
// TTL heap. HashResizeChunk is loaded and passed into engine.Config,
// but the key index uses its built-in chunk of 128 entries; the
// setting does not change it.
type EngineConfig struct {
	MaxTTLPerTick   int `mapstructure:"max_ttl_per_tick"`
	HashResizeChunk int `mapstructure:"hash_resize_chunk"`
}

// LogConfig defines logging verbosity and output style.
type LogConfig struct {
	Level  string `mapstructure:"level"`  // debug, info, warn, error
	Format string `mapstructure:"format"` // json, console
}

// Load reads configuration from an optional YAML file under path, then
// EMBERDB_-prefixed environment variables, then whatever flags the
// caller has already bound onto viper (e.g. via BindPFlags) — flags
// win, then env, then file, then the defaults set here.
func Load(path string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(path)
	viper.AddConfigPath(".")

	viper.SetEnvPrefix("EMBERDB")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, err
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", "1234")
	viper.SetDefault("server.idle_timeout", "5s")
	viper.SetDefault("server.max_frame_size", 4096)

	viper.SetDefault("pool.workers", 4)

	viper.SetDefault("engine.max_ttl_per_tick", 2000)
	viper.SetDefault("engine.hash_resize_chunk", 128)

	viper.SetDefault("log.level", "info")
	viper.SetDefault("log.format", "json")
}
