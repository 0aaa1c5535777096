package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	WhatsApp  WhatsAppConfig  `yaml:"whatsapp"`
	Queue     QueueConfig     `yaml:"queue"`
	Retention RetentionConfig `yaml:"retention"`
	Security  SecurityConfig  `yaml:"security"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds HTTP settings.
type ServerConfig struct {
	Address      string    `yaml:"address"`
	Port         int       `yaml:"port"`
	MaxBodyBytes SizeBytes `yaml:"max_body_bytes"`
}

// StorageConfig holds the pebble paths. QueueDir defaults to a "queue"
// directory beside DBPath when empty.
type StorageConfig struct {
	DBPath   string `yaml:"db_path"`
	QueueDir string `yaml:"queue_dir"`
}

// WhatsAppConfig holds Cloud API credentials and send tunables.
type WhatsAppConfig struct {
	APIURL        string  `yaml:"api_url"`
	PhoneNumberID string  `yaml:"phone_number_id"`
	AccessToken   string  `yaml:"access_token"`
	WebhookSecret string  `yaml:"webhook_secret"`
	VerifyToken   string  `yaml:"verify_token"`
	MaxButtons    int     `yaml:"max_buttons"`
	SendRPS       float64 `yaml:"send_rps"`
}

// QueueConfig holds worker and queue settings.
type QueueConfig struct {
	PollInterval   Duration `yaml:"poll_interval"`
	MaxRetries     int      `yaml:"max_retries"`
	RetryDelay     Duration `yaml:"retry_delay"`
	ProcessTimeout Duration `yaml:"process_timeout"`
	// Durable selects the pebble-backed queue; false keeps records in
	// memory (dev mode only, restarts lose the backlog).
	Durable bool `yaml:"durable"`
}

// RetentionConfig controls the abandoned-session sweeper.
type RetentionConfig struct {
	Enabled    bool     `yaml:"enabled"`
	Cron       string   `yaml:"cron"`
	IdlePeriod Duration `yaml:"idle_period"`
}

// SecurityConfig holds admin auth and rate limit settings.
type SecurityConfig struct {
	RateLimit struct {
		RPS   float64 `yaml:"rps"`
		Burst int     `yaml:"burst"`
	} `yaml:"rate_limit"`
	APIKeys struct {
		Backend []string `yaml:"backend"`
	} `yaml:"api_keys"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// SizeBytes represents a number of bytes, unmarshaled from human-friendly strings like "64MB" or plain integers.
type SizeBytes int64

func (s *SizeBytes) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*s = 0
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*s = 0
		return nil
	}
	if v, err := humanize.ParseBytes(raw); err == nil {
		*s = SizeBytes(v)
		return nil
	}
	if i, err := strconv.ParseInt(raw, 10, 64); err == nil {
		*s = SizeBytes(i)
		return nil
	}
	return fmt.Errorf("invalid size value: %q", node.Value)
}

func (s SizeBytes) Int64() int64 { return int64(s) }

// Duration is a wrapper around time.Duration that supports YAML parsing from strings like "100ms" or plain numbers (interpreted as seconds).
type Duration time.Duration

func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node == nil {
		*d = Duration(0)
		return nil
	}
	raw := strings.TrimSpace(node.Value)
	if raw == "" {
		*d = Duration(0)
		return nil
	}
	if td, err := time.ParseDuration(raw); err == nil {
		*d = Duration(td)
		return nil
	}
	// allow numeric seconds
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		*d = Duration(time.Duration(f * float64(time.Second)))
		return nil
	}
	return fmt.Errorf("invalid duration value: %q", node.Value)
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }
