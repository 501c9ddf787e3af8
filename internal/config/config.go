// Package config loads runtime settings from defaults, an optional config
// file and TRADEWATCH_* environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// EnvPrefix prefixes every environment override, e.g. TRADEWATCH_LOG_PATH.
const EnvPrefix = "TRADEWATCH"

// FileEnv names the environment variable holding an optional config file path.
const FileEnv = "TRADEWATCH_CONFIG"

// Storage backends.
const (
	BackendFile       = "file"
	BackendMemory     = "memory"
	BackendPostgres   = "postgres"
	BackendClickhouse = "clickhouse"
)

// Config holds all runtime settings.
type Config struct {
	LogPath         string        `mapstructure:"log_path"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	Backend         string        `mapstructure:"backend"`
	WSEndpoint      string        `mapstructure:"ws_endpoint"`
	WSOrigin        string        `mapstructure:"ws_origin"`
	WSSubscribe     []string      `mapstructure:"ws_subscribe"` // frames contain commas; set in the config file

	PostgresDSN      string `mapstructure:"postgres_dsn"`
	ClickhouseDSN    string `mapstructure:"clickhouse_dsn"`
	MetricsAddr      string `mapstructure:"metrics_addr"`
	HTTPAddr         string `mapstructure:"http_addr"`
	LogLevel         string `mapstructure:"log_level"`
	AppendMaxRetries int    `mapstructure:"append_max_retries"` // 0 keeps the ingestor default
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log_path", "rugplay_trades.log")
	v.SetDefault("refresh_interval", 5*time.Second)
	v.SetDefault("backend", BackendFile)
	v.SetDefault("ws_endpoint", "")
	v.SetDefault("ws_origin", "https://rugplay.com")
	v.SetDefault("ws_subscribe", []string{})
	v.SetDefault("postgres_dsn", "")
	v.SetDefault("clickhouse_dsn", "")
	v.SetDefault("metrics_addr", ":9090")
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("log_level", "info")
	v.SetDefault("append_max_retries", 5)
}

// DotEnvFile is loaded into the environment by Load when present.
const DotEnvFile = ".env"

// Load reads defaults, then the file named by TRADEWATCH_CONFIG if set, then
// environment overrides. Variables from ./.env never override the real
// environment.
func Load() (Config, error) {
	if err := LoadDotEnv(DotEnvFile); err != nil {
		return Config{}, err
	}
	return LoadFile(os.Getenv(FileEnv))
}

// LoadDotEnv sets variables from a dotenv file that are not already set.
// A missing file is not an error.
func LoadDotEnv(path string) error {
	err := gotenv.Load(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load %s: %w", path, err)
}

// LoadFile is Load with an explicit config file. An empty path skips the file.
func LoadFile(path string) (Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges and the backend selection.
func (c Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendFile:
		if c.LogPath == "" {
			errs = append(errs, errors.New("log_path is required for the file backend"))
		}
	case BackendMemory:
	case BackendPostgres:
		if c.PostgresDSN == "" {
			errs = append(errs, errors.New("postgres_dsn is required for the postgres backend"))
		}
	case BackendClickhouse:
		if c.ClickhouseDSN == "" {
			errs = append(errs, errors.New("clickhouse_dsn is required for the clickhouse backend"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	if c.RefreshInterval <= 0 {
		errs = append(errs, fmt.Errorf("refresh_interval must be positive, got %s", c.RefreshInterval))
	}
	if c.AppendMaxRetries < 0 {
		errs = append(errs, fmt.Errorf("append_max_retries must not be negative, got %d", c.AppendMaxRetries))
	}
	if _, err := logrus.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}

	return errors.Join(errs...)
}

// NewLogger builds the process logger at the given level.
func NewLogger(level string) *logrus.Logger {
	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)
	return logger
}
