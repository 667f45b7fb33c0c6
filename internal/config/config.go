// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailboxConfig holds the connected mailbox and its OAuth credentials.
type MailboxConfig struct {
	Address      string
	ClientID     string
	ClientSecret string
	RefreshToken string
	Topic        string // Pub/Sub topic the watch publishes to
	Label        string
}

// LLMConfig holds language model settings.
type LLMConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string
	Timeout   time.Duration
}

// Config holds all configuration for the inbox agent service.
type Config struct {
	Mailbox MailboxConfig
	LLM     LLMConfig

	// Postgres
	DatabaseURL string

	// Redis
	RedisURL           string
	NotificationsQueue string
	RetryKey           string

	// Agent
	MaxTurns  int
	BodyLimit int

	// Webhook and periodic trigger
	VerificationToken string
	CronSecret        string

	// Lease renewal
	RenewThreshold time.Duration
	LeaseSchedule  string

	// Sync safety net
	PollSchedule     string
	MaxRetryAttempts int

	Port     int
	LogLevel string
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mailbox struct {
		Address      string `yaml:"address"`
		ClientID     string `yaml:"client_id"`
		ClientSecret string `yaml:"client_secret"`
		RefreshToken string `yaml:"refresh_token"`
		Topic        string `yaml:"topic"`
		Label        string `yaml:"label"`
	} `yaml:"mailbox"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL      string `yaml:"url"`
		RetryKey string `yaml:"retry_key"`
		Queues   struct {
			Notifications string `yaml:"notifications"`
		} `yaml:"queues"`
	} `yaml:"redis"`
	LLM struct {
		APIKey    string `yaml:"api_key"`
		Model     string `yaml:"model"`
		MaxTokens int    `yaml:"max_tokens"`
		BaseURL   string `yaml:"base_url"`
		Timeout   string `yaml:"timeout"`
	} `yaml:"llm"`
	Agent struct {
		MaxTurns  int `yaml:"max_turns"`
		BodyLimit int `yaml:"body_limit"`
	} `yaml:"agent"`
	Webhook struct {
		VerificationToken string `yaml:"verification_token"`
	} `yaml:"webhook"`
	Cron struct {
		Secret string `yaml:"secret"`
	} `yaml:"cron"`
	Lease struct {
		RenewThreshold string `yaml:"renew_threshold"`
		Schedule       string `yaml:"schedule"`
	} `yaml:"lease"`
	Sync struct {
		PollSchedule     string `yaml:"poll_schedule"`
		MaxRetryAttempts int    `yaml:"max_retry_attempts"`
	} `yaml:"sync"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	return Parse(data)
}

// Parse builds a Config from YAML bytes. ${VAR} references are expanded
// before decoding and environment overrides are applied afterwards.
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mailbox: MailboxConfig{
			Address:      strings.ToLower(strings.TrimSpace(raw.Mailbox.Address)),
			ClientID:     raw.Mailbox.ClientID,
			ClientSecret: raw.Mailbox.ClientSecret,
			RefreshToken: raw.Mailbox.RefreshToken,
			Topic:        raw.Mailbox.Topic,
			Label:        firstNonEmpty(raw.Mailbox.Label, "INBOX"),
		},
		LLM: LLMConfig{
			APIKey:    firstNonEmpty(os.Getenv("ANTHROPIC_API_KEY"), raw.LLM.APIKey),
			Model:     firstNonEmpty(raw.LLM.Model, "claude-sonnet-4-5-20250929"),
			MaxTokens: positiveOr(raw.LLM.MaxTokens, 1024),
			BaseURL:   firstNonEmpty(raw.LLM.BaseURL, "https://api.anthropic.com"),
			Timeout:   parseDurationOr(raw.LLM.Timeout, 60*time.Second),
		},
		DatabaseURL:        firstNonEmpty(os.Getenv("DATABASE_URL"), raw.Database.URL),
		RedisURL:           firstNonEmpty(os.Getenv("REDIS_URL"), raw.Redis.URL, "redis://localhost:6379/0"),
		NotificationsQueue: firstNonEmpty(raw.Redis.Queues.Notifications, envOrDefault("NOTIFICATIONS_QUEUE", "admin_notifications")),
		RetryKey:           firstNonEmpty(raw.Redis.RetryKey, "inbox:retry"),
		MaxTurns:           positiveOr(raw.Agent.MaxTurns, 5),
		BodyLimit:          positiveOr(raw.Agent.BodyLimit, 3000),
		VerificationToken:  raw.Webhook.VerificationToken,
		CronSecret:         firstNonEmpty(os.Getenv("CRON_SECRET"), raw.Cron.Secret),
		RenewThreshold:     parseDurationOr(raw.Lease.RenewThreshold, 24*time.Hour),
		LeaseSchedule:      strings.TrimSpace(raw.Lease.Schedule),
		PollSchedule:       strings.TrimSpace(raw.Sync.PollSchedule),
		MaxRetryAttempts:   positiveOr(raw.Sync.MaxRetryAttempts, 5),
		Port:               envOrDefaultInt("PORT", 8080),
		LogLevel:           envOrDefault("LOG_LEVEL", "info"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	var missing []string
	if c.Mailbox.Address == "" {
		missing = append(missing, "mailbox.address")
	}
	if c.Mailbox.ClientID == "" || c.Mailbox.ClientSecret == "" {
		missing = append(missing, "mailbox.client_id/client_secret")
	}
	if c.Mailbox.RefreshToken == "" {
		missing = append(missing, "mailbox.refresh_token")
	}
	if c.Mailbox.Topic == "" {
		missing = append(missing, "mailbox.topic")
	}
	if c.DatabaseURL == "" {
		missing = append(missing, "database.url")
	}
	if c.CronSecret == "" {
		missing = append(missing, "cron.secret")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}
	return nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func parseDurationOr(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}
	if d, err := time.ParseDuration(raw); err == nil && d > 0 {
		return d
	}
	return fallback
}

func positiveOr(n, fallback int) int {
	if n > 0 {
		return n
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
