// Package config resolves the claudorc home directory and loads the
// settings file (home/config.yaml).
package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// fallbackModel is the last link of the model resolution chain
// (task → agent → project → settings default → this).
const fallbackModel = "claude-sonnet-4"

// Settings is the claudorc settings file (home/config.yaml). Zero values
// mean "use the default"; Normalize fills them in.
type Settings struct {
	Port                int      `yaml:"port"`
	DefaultModel        string   `yaml:"default_model"`
	MaxTurns            int      `yaml:"max_turns"`
	WarningThreshold    float64  `yaml:"warning_threshold"`
	MaxConcurrentAgents int      `yaml:"max_concurrent_agents"`
	AllowedTools        []string `yaml:"allowed_tools"`

	Runtime struct {
		Kind string   `yaml:"kind"` // "stub" or "subprocess"
		Cmd  string   `yaml:"cmd"`
		Args []string `yaml:"args"`
	} `yaml:"runtime"`

	DB struct {
		Driver string `yaml:"driver"` // "sqlite" (default) or "postgres"
		URL    string `yaml:"url"`
	} `yaml:"db"`

	Reconnect struct {
		InitialDelayMS int     `yaml:"initial_delay_ms"`
		MaxDelayMS     int     `yaml:"max_delay_ms"`
		Multiplier     float64 `yaml:"multiplier"`
	} `yaml:"reconnect"`
}

// Load reads home/config.yaml. A missing file yields defaults, not an error.
func Load(home string) (Settings, error) {
	var s Settings
	path := filepath.Join(home, "config.yaml")
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.Normalize()
			return s, nil
		}
		return s, err
	}
	if err := yaml.Unmarshal(data, &s); err != nil {
		return s, err
	}
	s.Normalize()
	return s, nil
}

// Normalize fills zero values with defaults.
func (s *Settings) Normalize() {
	if s.Port == 0 {
		s.Port = 3580
	}
	if s.DefaultModel == "" {
		s.DefaultModel = fallbackModel
	}
	if s.MaxTurns <= 0 {
		s.MaxTurns = 50
	}
	if s.WarningThreshold <= 0 || s.WarningThreshold > 1 {
		s.WarningThreshold = 0.8
	}
	if s.MaxConcurrentAgents <= 0 {
		s.MaxConcurrentAgents = 3
	}
	if len(s.AllowedTools) == 0 {
		s.AllowedTools = []string{"Read", "Write", "Edit", "Bash", "Glob", "Grep"}
	}
	if s.Runtime.Kind == "" {
		s.Runtime.Kind = "stub"
	}
	if s.DB.Driver == "" {
		s.DB.Driver = "sqlite"
	}
	if s.Reconnect.InitialDelayMS <= 0 {
		s.Reconnect.InitialDelayMS = 500
	}
	if s.Reconnect.MaxDelayMS <= 0 {
		s.Reconnect.MaxDelayMS = 30000
	}
	if s.Reconnect.Multiplier <= 1 {
		s.Reconnect.Multiplier = 2.0
	}
}

// FallbackModel returns the hardcoded final model fallback.
func FallbackModel() string { return fallbackModel }

// ReconnectInitialDelay returns the configured initial reconnect delay.
func (s Settings) ReconnectInitialDelay() time.Duration {
	return time.Duration(s.Reconnect.InitialDelayMS) * time.Millisecond
}

// ReconnectMaxDelay returns the configured reconnect delay cap.
func (s Settings) ReconnectMaxDelay() time.Duration {
	return time.Duration(s.Reconnect.MaxDelayMS) * time.Millisecond
}
