// Package config loads the assistant configuration from a YAML file.
// Values support ${ENV_VAR} expansion, and a .env file next to the config
// is loaded first so secrets can stay out of the YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds the process configuration. Runtime-tunable knobs (summary
// hour, check-in hours, archive age) live in the database instead so the
// scheduler can pick them up without a restart.
type Config struct {
	Telegram struct {
		Token string `yaml:"token"`
	} `yaml:"telegram"`

	AI struct {
		AnthropicAPIKey string `yaml:"anthropic_api_key"`
		AnthropicModel  string `yaml:"anthropic_model"`
		OpenAIAPIKey    string `yaml:"openai_api_key"`
		OpenAIModel     string `yaml:"openai_model"`
		OpenAIBaseURL   string `yaml:"openai_base_url"` // For OpenAI-compatible servers
		TimeoutSeconds  int    `yaml:"timeout_seconds"`
	} `yaml:"ai"`

	Google struct {
		CredentialsFile string `yaml:"credentials_file"`
		CalendarID      string `yaml:"calendar_id"`
		GmailAddress    string `yaml:"gmail_address"`
	} `yaml:"google"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	Scheduler struct {
		Workers  int    `yaml:"workers"`
		Timezone string `yaml:"timezone"`
	} `yaml:"scheduler"`
}

// Load reads and parses the config file at path
func Load(path string) (*Config, error) {
	// Best effort: a missing .env is fine
	_ = godotenv.Load(filepath.Join(filepath.Dir(path), ".env"))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var c Config
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), &c); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	c.applyDefaults()
	return &c, nil
}

func (c *Config) applyDefaults() {
	if c.AI.AnthropicModel == "" {
		c.AI.AnthropicModel = "claude-sonnet-4-5"
	}
	if c.AI.OpenAIModel == "" {
		c.AI.OpenAIModel = "gpt-4o-mini"
	}
	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = 30
	}
	if c.Google.CalendarID == "" {
		c.Google.CalendarID = "primary"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/aria.db"
	}
	if c.Server.Addr == "" {
		c.Server.Addr = "127.0.0.1:8090"
	}
	if c.Scheduler.Workers <= 0 {
		c.Scheduler.Workers = 4
	}
	if c.Scheduler.Timezone == "" {
		c.Scheduler.Timezone = "Local"
	}
}

// AITimeout returns the per-call LLM timeout
func (c *Config) AITimeout() time.Duration {
	return time.Duration(c.AI.TimeoutSeconds) * time.Second
}

// Location resolves the scheduler timezone
func (c *Config) Location() (*time.Location, error) {
	if c.Scheduler.Timezone == "" || c.Scheduler.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Scheduler.Timezone)
}
