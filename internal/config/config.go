package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const timescaleDSNEnv = "TRADESIM_TIMESCALE_DSN"

type Config struct {
	Log       LoggingConfig   `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
	Stream    StreamConfig    `yaml:"stream"`
	State     StateConfig     `yaml:"state"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Timescale TimescaleConfig `yaml:"timescale"`
	Datasets  []DatasetConfig `yaml:"datasets"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type ServerConfig struct {
	Addr              string        `yaml:"addr"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

type StreamConfig struct {
	BatchSize    int           `yaml:"batch_size"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

type StateConfig struct {
	SQLitePath string `yaml:"sqlite_path"`
	Restore    *bool  `yaml:"restore"`
}

func (c StateConfig) RestoreValue() bool {
	return c.Restore == nil || *c.Restore
}

type MetricsConfig struct {
	Enabled *bool  `yaml:"enabled"`
	Path    string `yaml:"path"`
}

func (c MetricsConfig) EnabledValue() bool {
	return c.Enabled == nil || *c.Enabled
}

type TimescaleConfig struct {
	Enabled         bool          `yaml:"enabled"`
	DSN             string        `yaml:"dsn"`
	Schema          string        `yaml:"schema"`
	QueueSize       int           `yaml:"queue_size"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// DatasetConfig names a CSV file loaded into the store at startup.
type DatasetConfig struct {
	Symbol string `yaml:"symbol"`
	Path   string `yaml:"path"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg, validate(&cfg)
}

// Default returns a config with every default applied, used when no file is given.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)
	return &cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = "127.0.0.1:50051"
	}
	if cfg.Server.ReadHeaderTimeout == 0 {
		cfg.Server.ReadHeaderTimeout = 5 * time.Second
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = 5 * time.Second
	}
	if cfg.Stream.BatchSize == 0 {
		cfg.Stream.BatchSize = 500
	}
	if cfg.Stream.WriteTimeout == 0 {
		cfg.Stream.WriteTimeout = 10 * time.Second
	}
	if cfg.State.SQLitePath == "" {
		cfg.State.SQLitePath = "data/tradesim.db"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
	if cfg.Timescale.Schema == "" {
		cfg.Timescale.Schema = "public"
	}
	if cfg.Timescale.QueueSize == 0 {
		cfg.Timescale.QueueSize = 256
	}
	for i := range cfg.Datasets {
		cfg.Datasets[i].Symbol = strings.TrimSpace(cfg.Datasets[i].Symbol)
		cfg.Datasets[i].Path = strings.TrimSpace(cfg.Datasets[i].Path)
	}
}

func applyEnvOverrides(cfg *Config) {
	if dsn := strings.TrimSpace(os.Getenv(timescaleDSNEnv)); dsn != "" {
		cfg.Timescale.DSN = dsn
	}
}

func validate(cfg *Config) error {
	if cfg.Stream.BatchSize < 0 {
		return errors.New("stream.batch_size must be > 0")
	}
	if cfg.Stream.WriteTimeout < 0 {
		return errors.New("stream.write_timeout must be >= 0")
	}
	if cfg.Server.ReadHeaderTimeout < 0 || cfg.Server.ShutdownTimeout < 0 {
		return errors.New("server timeouts must be >= 0")
	}
	if cfg.Metrics.EnabledValue() && !strings.HasPrefix(cfg.Metrics.Path, "/") {
		return errors.New("metrics.path must start with /")
	}
	if cfg.Timescale.Enabled && strings.TrimSpace(cfg.Timescale.DSN) == "" {
		return fmt.Errorf("timescale.dsn (or %s) is required when timescale is enabled", timescaleDSNEnv)
	}
	if cfg.Timescale.QueueSize < 0 {
		return errors.New("timescale.queue_size must be >= 0")
	}
	seen := make(map[string]struct{}, len(cfg.Datasets))
	for i, ds := range cfg.Datasets {
		if ds.Symbol == "" || ds.Path == "" {
			return fmt.Errorf("datasets[%d]: symbol and path are required", i)
		}
		if _, ok := seen[ds.Symbol]; ok {
			return fmt.Errorf("datasets[%d]: duplicate symbol %s", i, ds.Symbol)
		}
		seen[ds.Symbol] = struct{}{}
	}
	return nil
}
