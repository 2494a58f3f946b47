package config

import (
	"fmt"
	"os"

	"qosd-go/internal/database"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// CollectorServiceConfig is the configuration of the qosd-collector binary.
type CollectorServiceConfig struct {
	Server struct {
		Host  string `yaml:"host"`
		Port  int    `yaml:"port" env:"PORT"`
		Debug bool   `yaml:"debug" env:"QOSD_COLLECTOR_DEBUG"`
	} `yaml:"server"`

	Storage struct {
		// Driver is "postgres", "sqlite" or empty for memory only.
		Driver   string          `yaml:"driver" env:"QOSD_STORAGE_DRIVER"`
		Path     string          `yaml:"path" env:"QOSD_STORAGE_PATH"`
		Database database.Config `yaml:"database"`
	} `yaml:"storage"`

	MaxEvents  int    `yaml:"max_events" env:"MAX_EVENTS"`
	PolicyFile string `yaml:"policy_file" env:"QOSD_POLICY_FILE"`

	Logging struct {
		Level  string `yaml:"level" env:"QOSD_LOG_LEVEL"`
		Format string `yaml:"format" env:"QOSD_LOG_FORMAT"`
		File   string `yaml:"file" env:"QOSD_LOG_FILE"`
	} `yaml:"logging"`
}

// LoadCollector reads the collector configuration the same way Load reads
// the daemon's: defaults, then the file, then the environment.
func LoadCollector(filename string) (*CollectorServiceConfig, error) {
	cfg := &CollectorServiceConfig{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 4000
	cfg.MaxEvents = 200
	cfg.Logging.Level = "info"
	cfg.Storage.Database.Port = 5432
	cfg.Storage.Database.SSLMode = "disable"
	cfg.Storage.Database.MaxConnections = 10
	cfg.Storage.Database.MaxIdleConnections = 2

	if filename != "" {
		file, err := os.Open(filename)
		if err != nil {
			return nil, fmt.Errorf("failed to open config %s: %w", filename, err)
		}
		defer file.Close()

		if err := yaml.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config %s: %w", filename, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	switch cfg.Storage.Driver {
	case "", "postgres", "sqlite":
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
	return cfg, nil
}
