package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"jellytap/button"
	"jellytap/command"
	"jellytap/indicator"
	"jellytap/mqtt"
	"jellytap/reader"
	"jellytap/rotary"
)

const (
	defaultClientID = "jellytap"
	defaultHoldSecs = 3
)

// Config is the main configuration structure for jellytap.
type Config struct {
	// Media server
	Room    string `yaml:"room"`
	APIBase string `yaml:"api_base"`

	// Pauses around media server calls. Unset means 200ms.
	ResetDelayMS  *int `yaml:"reset_delay_ms"`
	SettleDelayMS *int `yaml:"settle_delay_ms"`

	ClientID string `yaml:"client_id"`

	Reader    reader.Config    `yaml:"reader"`
	MQTT      mqtt.Config      `yaml:"mqtt"`
	Indicator indicator.Config `yaml:"indicator"`
	Rotary    rotary.Config    `yaml:"rotary"`
	Buttons   button.Config    `yaml:"buttons"`
	Controls  Controls         `yaml:"controls"`
	Log       LogConfig        `yaml:"log"`
}

// Controls maps the rotary knob to media server commands.
type Controls struct {
	VolumeUp   string `yaml:"volume_up"`
	VolumeDown string `yaml:"volume_down"`
	Press      string `yaml:"press"`
}

// LogConfig enables a rotating log file next to stdout.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

func loadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open config: %w", err)
	}
	defer f.Close()
	return parseConfig(f)
}

func parseConfig(r io.Reader) (*Config, error) {
	var cfg Config
	if err := yaml.NewDecoder(r).Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	cfg.APIBase = strings.TrimRight(strings.TrimSpace(cfg.APIBase), "/")
	if cfg.APIBase == "" {
		return nil, errors.New("api_base missing in config file")
	}
	if cfg.Room == "" {
		return nil, errors.New("room missing in config file")
	}

	if cfg.ClientID == "" {
		cfg.ClientID = defaultClientID
	}
	if cfg.Indicator.HoldSecs == 0 {
		cfg.Indicator.HoldSecs = defaultHoldSecs
	}
	if cfg.Controls.VolumeUp == "" {
		cfg.Controls.VolumeUp = "volume/+5"
	}
	if cfg.Controls.VolumeDown == "" {
		cfg.Controls.VolumeDown = "volume/-5"
	}
	if cfg.Controls.Press == "" {
		cfg.Controls.Press = "playpause"
	}
	return &cfg, nil
}

func millis(ms *int) time.Duration {
	if ms == nil {
		return command.DefaultDelay
	}
	return time.Duration(*ms) * time.Millisecond
}

// ResetDelay is the pause after the first reset call.
func (c *Config) ResetDelay() time.Duration { return millis(c.ResetDelayMS) }

// SettleDelay is the pause after the final instruction.
func (c *Config) SettleDelay() time.Duration { return millis(c.SettleDelayMS) }

// Hold is how long Playing and Failed stay on the indicator.
func (c *Config) Hold() time.Duration {
	return time.Duration(c.Indicator.HoldSecs) * time.Second
}
