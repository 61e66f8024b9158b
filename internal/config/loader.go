package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/viper"
)

// Load reads configuration from the given file path, falling back to
// defaults for anything unset. An empty path means defaults only, unless
// meetingd.json exists in the working directory. Environment variables
// prefixed MEETINGD_ override file values (MEETINGD_LISTEN, ...).
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("MEETINGD")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		if _, err := os.Stat("meetingd.json"); err != nil {
			return cfg, nil
		}
		v.SetConfigFile("meetingd.json")
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks for configuration mistakes that would only surface later
// as confusing runtime failures.
func (c *Config) Validate() error {
	if c.Listen == "" {
		return fmt.Errorf("listen address must not be empty")
	}
	seen := make(map[string]bool, len(c.Agents))
	for _, a := range c.Agents {
		if a.Name == "" {
			return fmt.Errorf("agent with empty name")
		}
		if a.Command == "" {
			return fmt.Errorf("agent %s: command must not be empty", a.Name)
		}
		if seen[a.Name] {
			return fmt.Errorf("duplicate agent name: %s", a.Name)
		}
		seen[a.Name] = true
	}
	if c.CallTimeout <= 0 || c.BulkCallTimeout <= 0 {
		return fmt.Errorf("call timeouts must be positive")
	}
	if c.StartupSettle < 0 || c.ShutdownGrace <= 0 {
		return fmt.Errorf("invalid lifecycle intervals")
	}
	return nil
}
