package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"safetunes/internal/reviewer"
)

// Config holds application configuration
type Config struct {
	Server struct {
		Port      string `yaml:"port"`
		JWTSecret string `yaml:"jwt_secret" validate:"required,min=16"`
	} `yaml:"server"`

	Database struct {
		Type string `yaml:"type" validate:"oneof=sqlite postgres"`
		Path string `yaml:"path"` // SQLite path or PostgreSQL URL
	} `yaml:"database"`

	// AI reviewer providers, tried in order
	Providers               []reviewer.ProviderConfig `yaml:"providers" validate:"dive"`
	MaxFailuresBeforeSwitch int                       `yaml:"max_failures_before_switch"`

	Lyrics struct {
		BaseURL  string `yaml:"base_url" validate:"omitempty,url"`
		APIKey   string `yaml:"api_key"`
		PageSize int    `yaml:"page_size"`
	} `yaml:"lyrics"`

	Matcher struct {
		MinScore        float64 `yaml:"min_score" validate:"gte=0,lte=100"`
		MaxCombinations int     `yaml:"max_combinations" validate:"gte=0"`
	} `yaml:"matcher"`

	Notifications struct {
		Enabled        bool          `yaml:"enabled"`
		QueueSize      int           `yaml:"queue_size"`
		Workers        int           `yaml:"workers"`
		DedupeWindow   time.Duration `yaml:"dedupe_window"`
		DigestInterval time.Duration `yaml:"digest_interval"`
		Telegram       struct {
			Token   string `yaml:"token"`
			ChatID  int64  `yaml:"chat_id"`
			OwnerID string `yaml:"owner_id"`
		} `yaml:"telegram"`
		// shoutrrr service URLs, e.g. "pushover://..." or "smtp://..."
		PushURLs  []string `yaml:"push_urls"`
		EmailURLs []string `yaml:"email_urls"`
	} `yaml:"notifications"`

	HTTPTimeout time.Duration `yaml:"http_timeout"`

	Log struct {
		Development bool `yaml:"development"`
	} `yaml:"log"`
}

// LoadConfig loads configuration from YAML file. Variables from a .env file
// next to the working directory are loaded first so ${VAR} references resolve.
func LoadConfig(configPath string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env file: %w", err)
	}

	config := &Config{}

	file, err := os.Open(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer file.Close()

	decoder := yaml.NewDecoder(file)
	if err := decoder.Decode(config); err != nil {
		return nil, fmt.Errorf("failed to decode config file: %w", err)
	}

	config.expandEnv()
	config.setDefaults()

	if err := validator.New(validator.WithRequiredStructEnabled()).Struct(config); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return config, nil
}

func (c *Config) expandEnv() {
	c.Server.JWTSecret = os.ExpandEnv(c.Server.JWTSecret)
	c.Database.Path = os.ExpandEnv(c.Database.Path)
	c.Lyrics.APIKey = os.ExpandEnv(c.Lyrics.APIKey)
	c.Notifications.Telegram.Token = os.ExpandEnv(c.Notifications.Telegram.Token)

	// Expand environment variables in provider API keys
	for i := range c.Providers {
		c.Providers[i].APIKey = os.ExpandEnv(c.Providers[i].APIKey)
	}
	for i := range c.Notifications.PushURLs {
		c.Notifications.PushURLs[i] = os.ExpandEnv(c.Notifications.PushURLs[i])
	}
	for i := range c.Notifications.EmailURLs {
		c.Notifications.EmailURLs[i] = os.ExpandEnv(c.Notifications.EmailURLs[i])
	}
}

func (c *Config) setDefaults() {
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Database.Type == "" {
		c.Database.Type = "sqlite"
	}
	if c.Database.Path == "" {
		c.Database.Path = "./data/safetunes.db"
	}
	if c.MaxFailuresBeforeSwitch == 0 {
		c.MaxFailuresBeforeSwitch = 3
	}
	if c.Matcher.MinScore == 0 {
		c.Matcher.MinScore = 40
	}
	if c.Matcher.MaxCombinations == 0 {
		c.Matcher.MaxCombinations = 10
	}
	if c.Notifications.QueueSize == 0 {
		c.Notifications.QueueSize = 256
	}
	if c.Notifications.Workers == 0 {
		c.Notifications.Workers = 2
	}
	if c.Notifications.DedupeWindow == 0 {
		c.Notifications.DedupeWindow = 5 * time.Minute
	}
	if c.Notifications.DigestInterval == 0 {
		c.Notifications.DigestInterval = time.Hour
	}
	if c.HTTPTimeout == 0 {
		c.HTTPTimeout = 10 * time.Second
	}
}
