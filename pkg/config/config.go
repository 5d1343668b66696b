// Package config loads runtime settings from the environment, with an
// optional YAML file overriding rate-limit policies and ban durations.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/Saidelocha/lepitch-funnel/pkg/ratelimit"
)

// Config holds global settings for the funnel service.
// All settings can be configured via environment variables.
type Config struct {
	// === Core Settings ===
	Env  string `envconfig:"APP_ENV" default:"development"`
	Addr string `envconfig:"LISTEN_ADDR" default:":3000"`

	// === Session Lifecycle ===
	SessionMaxAge time.Duration `envconfig:"SESSION_MAX_AGE" default:"30m"`
	SweepInterval time.Duration `envconfig:"SWEEP_INTERVAL" default:"5m"`

	// === Conversation ===
	InterpretTimeout time.Duration `envconfig:"INTERPRET_TIMEOUT" default:"15s"`
	WelcomeMessage   string        `envconfig:"WELCOME_MESSAGE"`

	// === Lead Delivery ===
	// Both sinks are optional; leads always go to the structured log.
	RedisURL     string `envconfig:"REDIS_URL"`
	LeadQueueKey string `envconfig:"LEAD_QUEUE_KEY" default:"funnel:leads"`
	PostgresDSN  string `envconfig:"POSTGRES_DSN"`

	// MaxInFlightNotifies bounds concurrent lead deliveries.
	MaxInFlightNotifies int `envconfig:"MAX_INFLIGHT_NOTIFIES" default:"32"`

	// PolicyFile points at an optional YAML override for rate-limit
	// policies and ban durations. A missing file is not an error.
	PolicyFile string `envconfig:"POLICY_FILE" default:"funnel.yaml"`
}

// Load reads .env (if present) and then the process environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("FUNNEL", &cfg); err != nil {
		return nil, fmt.Errorf("process environment: %w", err)
	}
	return &cfg, nil
}

// IsProduction reports whether the service runs with production settings.
func (c *Config) IsProduction() bool {
	return c.Env == "production"
}

// Overrides is the decoded YAML policy file. Absent sections keep their
// compiled defaults.
type Overrides struct {
	RateLimits map[string]policyYAML `yaml:"rate_limits"`
	Bans       struct {
		Short Duration `yaml:"short"`
		Long  Duration `yaml:"long"`
	} `yaml:"bans"`
}

type policyYAML struct {
	Window        Duration `yaml:"window"`
	MaxRequests   int      `yaml:"max_requests"`
	BlockDuration Duration `yaml:"block_duration"`
}

// Duration accepts Go duration strings ("30s", "2m") in YAML scalars.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// LoadOverrides reads the policy file. A missing file returns (nil, nil).
func LoadOverrides(path string) (*Overrides, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read policy file: %w", err)
	}

	var ov Overrides
	if err := yaml.Unmarshal(data, &ov); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}
	return &ov, nil
}

// Policies merges the override file on top of the default policy set.
func (ov *Overrides) Policies() map[string]ratelimit.Policy {
	policies := ratelimit.DefaultPolicies()
	if ov == nil {
		return policies
	}
	for name, p := range ov.RateLimits {
		policies[name] = ratelimit.Policy{
			Window:        time.Duration(p.Window),
			MaxRequests:   p.MaxRequests,
			BlockDuration: time.Duration(p.BlockDuration),
		}
	}
	return policies
}

// BanDurations returns the short and long ban tiers, zero when unset so the
// caller keeps its defaults.
func (ov *Overrides) BanDurations() (short, long time.Duration) {
	if ov == nil {
		return 0, 0
	}
	return time.Duration(ov.Bans.Short), time.Duration(ov.Bans.Long)
}
