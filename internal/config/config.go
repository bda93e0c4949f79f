package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// DefaultProfileName is used when neither the caller nor the file names a profile.
const DefaultProfileName = "default"

// ErrProfileNotFound is returned when a requested profile is not configured.
var ErrProfileNotFound = errors.New("profile not found")

// Config is the CLI configuration file.
type Config struct {
	DefaultProfile string              `yaml:"default_profile" toml:"default_profile"`
	Profiles       map[string]*Profile `yaml:"profiles" toml:"profiles"`
	Logging        LoggingConfig       `yaml:"logging" toml:"logging"`
}

// Profile holds the connection settings for one Servo endpoint.
type Profile struct {
	URL     string `yaml:"url" toml:"url"`
	AppID   string `yaml:"app_id" toml:"app_id"`
	AppKey  string `yaml:"app_key" toml:"app_key"`
	Alg     string `yaml:"alg" toml:"alg"`
	Retries int    `yaml:"retries" toml:"retries"`

	Timeout    time.Duration `yaml:"-" toml:"-"`
	TimeoutRaw string        `yaml:"timeout" toml:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// DefaultPath returns the path of the CLI configuration file.
// Priority: SERVO_CONFIG env var > XDG_CONFIG_HOME/servo/config.yaml > ~/.config/servo/config.yaml
func DefaultPath() string {
	if envPath := os.Getenv("SERVO_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "servo.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "servo", "config.yaml")
}

// Load reads a configuration file. Files ending in .toml are decoded as TOML,
// anything else as YAML. Environment variables in the format ${VAR_NAME} are
// expanded before decoding.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} with the environment variable's value,
// or an empty string when it is unset.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func parseDurations(cfg *Config) error {
	for _, name := range cfg.ProfileNames() {
		p := cfg.Profiles[name]
		if p == nil || p.TimeoutRaw == "" {
			continue
		}
		d, err := time.ParseDuration(p.TimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing profiles.%s.timeout %q: %w", name, p.TimeoutRaw, err)
		}
		p.Timeout = d
	}
	return nil
}

// Validate checks the configuration and returns the first problem found.
func (c *Config) Validate() error {
	if c.DefaultProfile != "" {
		if _, ok := c.Profiles[c.DefaultProfile]; !ok {
			return fmt.Errorf("default_profile %q is not defined", c.DefaultProfile)
		}
	}

	for _, name := range c.ProfileNames() {
		p := c.Profiles[name]
		if p == nil {
			return fmt.Errorf("profiles.%s is empty", name)
		}
		if p.URL != "" {
			u, err := url.Parse(p.URL)
			if err != nil {
				return fmt.Errorf("profiles.%s.url is not a valid URL: %w", name, err)
			}
			if u.Scheme != "http" && u.Scheme != "https" {
				return fmt.Errorf("profiles.%s.url must use http or https scheme", name)
			}
		}
		if (p.AppID == "") != (p.AppKey == "") {
			return fmt.Errorf("profiles.%s: app_id and app_key must be set together", name)
		}
		if p.Retries < 0 {
			return fmt.Errorf("profiles.%s.retries must not be negative", name)
		}
		if p.Timeout < 0 {
			return fmt.Errorf("profiles.%s.timeout must not be negative", name)
		}
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "json", "console", "auto":
	default:
		return fmt.Errorf("logging.format must be json, console or auto")
	}

	return nil
}

// ProfileNames returns the configured profile names in sorted order.
func (c *Config) ProfileNames() []string {
	names := make([]string, 0, len(c.Profiles))
	for name := range c.Profiles {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Profile resolves a profile by name. An empty name selects default_profile,
// then DefaultProfileName.
func (c *Config) Profile(name string) (*Profile, error) {
	if name == "" {
		name = c.DefaultProfile
	}
	if name == "" {
		name = DefaultProfileName
	}
	p, ok := c.Profiles[name]
	if !ok || p == nil {
		return nil, fmt.Errorf("%w: %q", ErrProfileNotFound, name)
	}
	cp := *p
	return &cp, nil
}
