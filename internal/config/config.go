// Package config loads server settings from an optional YAML file with
// environment variable overrides on top. Every field has a working default
// so a bare binary starts a usable server.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML and env values like "30s" parse.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(raw))
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full server configuration tree.
type Config struct {
	Server  ServerConfig  `yaml:"server"`
	World   WorldConfig   `yaml:"world"`
	Agents  AgentsConfig  `yaml:"agents"`
	Journal JournalConfig `yaml:"journal"`
}

type ServerConfig struct {
	Addr            string   `yaml:"addr" env:"EYEFIELD_ADDR"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout" env:"EYEFIELD_SHUTDOWN_TIMEOUT"`
}

type WorldConfig struct {
	BoxCount      int      `yaml:"box_count" env:"EYEFIELD_BOX_COUNT"`
	StaleAfter    Duration `yaml:"stale_after" env:"EYEFIELD_STALE_AFTER"`
	SweepInterval Duration `yaml:"sweep_interval" env:"EYEFIELD_SWEEP_INTERVAL"`
}

type AgentProfile struct {
	ID          string `yaml:"id"`
	DisplayName string `yaml:"display_name"`
}

type AgentsConfig struct {
	Enabled       bool           `yaml:"enabled" env:"EYEFIELD_AGENTS_ENABLED"`
	Profiles      []AgentProfile `yaml:"profiles"`
	MoveInterval  Duration       `yaml:"move_interval" env:"EYEFIELD_AGENT_MOVE_INTERVAL"`
	ThinkInterval Duration       `yaml:"think_interval" env:"EYEFIELD_AGENT_THINK_INTERVAL"`
	DeciderURL    string         `yaml:"decider_url" env:"EYEFIELD_DECIDER_URL"`
	SpeechURL     string         `yaml:"speech_url" env:"EYEFIELD_SPEECH_URL"`
}

type JournalConfig struct {
	Path     string `yaml:"path" env:"EYEFIELD_JOURNAL_PATH"`
	Severity string `yaml:"severity" env:"EYEFIELD_JOURNAL_SEVERITY"`
}

// Default returns the configuration used when no file or overrides exist.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: Duration(10 * time.Second),
		},
		World: WorldConfig{
			BoxCount:      5,
			StaleAfter:    Duration(30 * time.Second),
			SweepInterval: Duration(10 * time.Second),
		},
		Agents: AgentsConfig{
			Enabled: true,
			Profiles: []AgentProfile{
				{ID: "ai-agent-1", DisplayName: "Iris"},
				{ID: "ai-agent-2", DisplayName: "Orbit"},
			},
			MoveInterval:  Duration(5 * time.Second),
			ThinkInterval: Duration(7 * time.Second),
		},
		Journal: JournalConfig{
			Severity: "info",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (if path is non-empty the file must exist), then env overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("apply environment overrides: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server.addr must not be empty")
	}
	if c.World.BoxCount < 0 {
		return fmt.Errorf("world.box_count must not be negative")
	}
	if c.World.StaleAfter.Std() <= 0 || c.World.SweepInterval.Std() <= 0 {
		return fmt.Errorf("world staleness intervals must be positive")
	}
	seen := make(map[string]struct{}, len(c.Agents.Profiles))
	for _, p := range c.Agents.Profiles {
		if p.ID == "" {
			return fmt.Errorf("agent profiles require an id")
		}
		if _, dup := seen[p.ID]; dup {
			return fmt.Errorf("duplicate agent id %q", p.ID)
		}
		seen[p.ID] = struct{}{}
	}
	return nil
}
