package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"kvcache/internal/bootstrap/logging"
	"kvcache/internal/errs"
)

type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Database DatabaseConfig `mapstructure:"database"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Workers  WorkersConfig  `mapstructure:"workers"`
	Pool     PoolConfig     `mapstructure:"pool"`
	Server   ServerConfig   `mapstructure:"server"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name string `mapstructure:"name"`
	Env  string `mapstructure:"env"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	DSN         string `mapstructure:"dsn"`
	AutoMigrate bool   `mapstructure:"auto_migrate"`
}

type CacheConfig struct {
	Capacity int `mapstructure:"capacity"`
	// WriteOnStoreError caches a created value even if the store write failed.
	WriteOnStoreError bool `mapstructure:"write_on_store_error"`
}

type WorkersConfig struct {
	Size        int    `mapstructure:"size"`
	QueueSize   int    `mapstructure:"queue_size"`
	QueuePolicy string `mapstructure:"queue_policy"`
}

type PoolConfig struct {
	Size           int           `mapstructure:"size"`
	AcquireTimeout time.Duration `mapstructure:"acquire_timeout"`
}

type ServerConfig struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type MetricsConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Exporter string `mapstructure:"exporter"`
}

// flagKeys maps command-line flag names onto config keys. Only flags that were
// set explicitly take precedence over env and file values.
var flagKeys = map[string]string{
	"addr":    "server.addr",
	"cache":   "cache.capacity",
	"threads": "workers.size",
	"pool":    "pool.size",
}

// Load reads configuration from defaults, an optional file, KV_* environment
// variables and, when flags is non-nil, the command-line flags named in flagKeys.
func Load(ctx context.Context, configFile string, flags *pflag.FlagSet) (Config, error) {
	if ctx == nil {
		return Config{}, errors.New("context is required")
	}
	if err := ctx.Err(); err != nil {
		return Config{}, errs.Wrap(err, "check context")
	}

	logCtx := logging.WithAttrs(ctx, slog.String("component", "bootstrap.config"))

	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("KV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range flagKeys {
			flag := flags.Lookup(name)
			if flag == nil {
				continue
			}
			if err := v.BindPFlag(key, flag); err != nil {
				return Config{}, errs.Wrapf(err, "bind flag %q", name)
			}
		}
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		switch {
		case errors.As(err, &notFound):
			logging.Warn(logCtx, "config file not found, fallback to defaults and env")
		case configFile != "" && isMissingFile(err):
			logging.Warn(logCtx, "config file not found, fallback to defaults and env", slog.String("path", configFile))
		default:
			return Config{}, errs.Wrap(err, "read config")
		}
	} else {
		logging.Info(logCtx, "using config file", slog.String("path", v.ConfigFileUsed()))
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, errs.Wrap(err, "unmarshal config")
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, errs.Wrap(err, "validate config")
	}

	logging.Info(
		logCtx,
		"config loaded",
		slog.String("app", cfg.App.Name),
		slog.String("env", cfg.App.Env),
		slog.String("database_driver", cfg.Database.Driver),
		slog.Int("cache_capacity", cfg.Cache.Capacity),
		slog.Int("workers", cfg.Workers.Size),
		slog.Int("pool_size", cfg.Pool.Size),
	)

	return cfg, nil
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	var problems []error

	if strings.TrimSpace(c.Database.DSN) == "" {
		problems = append(problems, errors.New("database.dsn is required"))
	}
	if c.Cache.Capacity <= 0 {
		problems = append(problems, fmt.Errorf("cache.capacity must be positive, got %d", c.Cache.Capacity))
	}
	if c.Workers.Size <= 0 {
		problems = append(problems, fmt.Errorf("workers.size must be positive, got %d", c.Workers.Size))
	}
	if c.Workers.QueueSize < 0 {
		problems = append(problems, fmt.Errorf("workers.queue_size must not be negative, got %d", c.Workers.QueueSize))
	}
	switch strings.ToLower(strings.TrimSpace(c.Workers.QueuePolicy)) {
	case "", "block", "reject":
	default:
		problems = append(problems, fmt.Errorf("workers.queue_policy %q is not one of block, reject", c.Workers.QueuePolicy))
	}
	if c.Pool.Size <= 0 {
		problems = append(problems, fmt.Errorf("pool.size must be positive, got %d", c.Pool.Size))
	}
	if c.Pool.AcquireTimeout < 0 {
		problems = append(problems, fmt.Errorf("pool.acquire_timeout must not be negative, got %s", c.Pool.AcquireTimeout))
	}
	if c.Metrics.Enabled {
		switch strings.ToLower(strings.TrimSpace(c.Metrics.Exporter)) {
		case "prometheus", "stdout", "none":
		default:
			problems = append(problems, fmt.Errorf("metrics.exporter %q is not one of prometheus, stdout, none", c.Metrics.Exporter))
		}
	}

	return errors.Join(problems...)
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.name", "kvcache")
	v.SetDefault("app.env", "local")
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.dsn", ".kvcache/state/kv.sqlite?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)")
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("cache.capacity", 1000)
	v.SetDefault("cache.write_on_store_error", false)
	v.SetDefault("workers.size", 8)
	v.SetDefault("workers.queue_size", 0)
	v.SetDefault("workers.queue_policy", "block")
	v.SetDefault("pool.size", 8)
	v.SetDefault("pool.acquire_timeout", "0s")
	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", "5s")
	v.SetDefault("server.write_timeout", "10s")
	v.SetDefault("server.shutdown_timeout", "10s")
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.exporter", "prometheus")
}

func isMissingFile(err error) bool {
	return errors.Is(err, fs.ErrNotExist)
}
