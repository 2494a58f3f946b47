package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"qosd-go/internal/models"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// MaxPersonas bounds the persona policy list.
const MaxPersonas = 16

// Config is the daemon configuration. Values come from the YAML file
// first; QOSD_* environment variables override them.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Redis     RedisConfig     `yaml:"redis"`
	Sources   SourcesConfig   `yaml:"sources"`
	Limits    LimitsConfig    `yaml:"limits"`
	Personas  []PersonaConfig `yaml:"personas"`
	Watchdog  WatchdogConfig  `yaml:"watchdog"`
	Collector CollectorConfig `yaml:"collector"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

type ServerConfig struct {
	Host string `yaml:"host" env:"QOSD_HOST"`
	Port int    `yaml:"port" env:"QOSD_PORT"`
}

type LoggingConfig struct {
	Level  string `yaml:"level" env:"QOSD_LOG_LEVEL"`
	Format string `yaml:"format" env:"QOSD_LOG_FORMAT"`
}

type RedisConfig struct {
	Enabled  bool   `yaml:"enabled" env:"QOSD_REDIS_ENABLED"`
	Host     string `yaml:"host" env:"QOSD_REDIS_HOST"`
	Port     int    `yaml:"port" env:"QOSD_REDIS_PORT"`
	Password string `yaml:"password" env:"QOSD_REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"QOSD_REDIS_DB"`
	PoolSize int    `yaml:"pool_size" env:"QOSD_REDIS_POOL_SIZE"`
}

type SourcesConfig struct {
	LeasesFile       string `yaml:"leases_file" env:"QOSD_LEASES_FILE"`
	ARPFile          string `yaml:"arp_file" env:"QOSD_ARP_FILE"`
	ConntrackFile    string `yaml:"conntrack_file" env:"QOSD_CONNTRACK_FILE"`
	ConntrackBackend string `yaml:"conntrack_backend" env:"QOSD_CONNTRACK_BACKEND"`
}

type LimitsConfig struct {
	MaxOverrides int `yaml:"max_overrides" env:"QOSD_MAX_OVERRIDES"`
	MaxHosts     int `yaml:"max_hosts" env:"QOSD_MAX_HOSTS"`
}

// PersonaConfig is a persona policy as written by the operator.
type PersonaConfig struct {
	Name          string `yaml:"name"`
	Priority      string `yaml:"priority"`
	PolicyAction  string `yaml:"policy_action"`
	DSCP          string `yaml:"dscp"`
	MinConfidence int    `yaml:"min_confidence"`
}

type WatchdogConfig struct {
	BackoffMS uint32 `yaml:"backoff_ms" env:"QOSD_WATCHDOG_BACKOFF_MS"`
}

type CollectorConfig struct {
	URL          string        `yaml:"url" env:"QOSD_COLLECTOR_URL"`
	PollInterval time.Duration `yaml:"poll_interval" env:"QOSD_COLLECTOR_POLL_INTERVAL"`
	Forward      bool          `yaml:"forward" env:"QOSD_COLLECTOR_FORWARD"`
}

type TelemetryConfig struct {
	RouterID      string        `yaml:"router_id" env:"QOSD_ROUTER_ID"`
	QueueSize     int           `yaml:"queue_size" env:"QOSD_TELEMETRY_QUEUE_SIZE"`
	BatchSize     int           `yaml:"batch_size" env:"QOSD_TELEMETRY_BATCH_SIZE"`
	FlushInterval time.Duration `yaml:"flush_interval" env:"QOSD_TELEMETRY_FLUSH_INTERVAL"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Server:  ServerConfig{Host: "0.0.0.0", Port: 8089},
		Logging: LoggingConfig{Level: "info", Format: "console"},
		Redis:   RedisConfig{Host: "127.0.0.1", Port: 6379, PoolSize: 4},
		Sources: SourcesConfig{ConntrackBackend: "file"},
		Limits:  LimitsConfig{MaxOverrides: 256, MaxHosts: 1024},
		Collector: CollectorConfig{
			PollInterval: time.Minute,
		},
	}
}

// Load reads filename on top of the defaults and applies environment
// overrides. An empty filename skips the file.
func Load(filename string) (*Config, error) {
	cfg := Default()

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

	switch cfg.Sources.ConntrackBackend {
	case "", "file", "netlink":
	default:
		return nil, fmt.Errorf("unknown conntrack backend %q", cfg.Sources.ConntrackBackend)
	}
	return cfg, nil
}

// Policies validates the persona entries. Entries with an unknown or
// repeated name, and those past MaxPersonas, are skipped and reported;
// invalid priority, action or DSCP values fall back to normal, observe
// and CS0.
func (c *Config) Policies() ([]models.PersonaPolicy, []string) {
	var (
		policies []models.PersonaPolicy
		problems []string
		seen     = make(map[models.Persona]bool)
	)

	for i, pc := range c.Personas {
		if len(policies) >= MaxPersonas {
			problems = append(problems, fmt.Sprintf("persona %d (%q): more than %d personas", i, pc.Name, MaxPersonas))
			continue
		}

		name, err := models.ParsePersona(strings.TrimSpace(pc.Name))
		if err != nil || !name.IsSet() {
			problems = append(problems, fmt.Sprintf("persona %d: invalid name %q", i, pc.Name))
			continue
		}
		if seen[name] {
			problems = append(problems, fmt.Sprintf("persona %d: duplicate name %q", i, pc.Name))
			continue
		}
		seen[name] = true

		policies = append(policies, NormalizePersona(name, pc))
	}
	return policies, problems
}

// NormalizePersona converts one entry, replacing invalid fields with
// their defaults.
func NormalizePersona(name models.Persona, pc PersonaConfig) models.PersonaPolicy {
	p := models.PersonaPolicy{
		Name:          name,
		Priority:      models.PriorityNormal,
		PolicyAction:  models.ActionObserve,
		DSCP:          models.DSCPCS0,
		MinConfidence: models.ClampConfidence(pc.MinConfidence),
	}
	if v, err := models.ParsePriority(strings.TrimSpace(pc.Priority)); err == nil && v.IsSet() {
		p.Priority = v
	}
	if v, err := models.ParsePolicyAction(strings.TrimSpace(pc.PolicyAction)); err == nil && v.IsSet() {
		p.PolicyAction = v
	}
	if v, err := models.ParseDSCP(strings.ToUpper(strings.TrimSpace(pc.DSCP))); err == nil && v.IsSet() {
		p.DSCP = v
	}
	return p
}

// WatchdogBackoff returns the configured watchdog backoff.
func (c *Config) WatchdogBackoff() time.Duration {
	return time.Duration(c.Watchdog.BackoffMS) * time.Millisecond
}
