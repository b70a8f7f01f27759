package infra

import (
	"fmt"
	"os"
	"strings"

	"github.com/whizzler-rizzler/market-maker-remixed/internal/domain"

	"gopkg.in/yaml.v3"
)

const (
	// UserAgent identifies the proxy on every outbound exchange call.
	UserAgent = "extended-broadcaster/2.0"

	// DefaultBaseURL is the Extended REST API root.
	DefaultBaseURL = "https://api.starknet.extended.exchange/api/v1"
)

// Config holds every application setting. LoadConfig reads the YAML file and
// then overrides sensitive values from environment variables.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`

	API struct {
		Extended struct {
			BaseURL    string `yaml:"base_url"`
			APIKey     string `yaml:"api_key"`
			PublicKey  string `yaml:"public_key"`
			PrivateKey string `yaml:"private_key"`
			ClientID   string `yaml:"client_id"`
			VaultID    string `yaml:"vault_id"`
		} `yaml:"extended"`
	} `yaml:"api"`

	Poll struct {
		FastIntervalMS   int `yaml:"fast_interval_ms"`
		OrdersIntervalMS int `yaml:"orders_interval_ms"`
		TradesEvery      int `yaml:"trades_every"`
		BackoffMS        int `yaml:"backoff_ms"`
	} `yaml:"poll"`

	Bot domain.BotConfig `yaml:"bot"`

	Storage struct {
		Path string `yaml:"path"`
	} `yaml:"storage"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	overrideWithEnv(&cfg)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.API.Extended.BaseURL == "" {
		c.API.Extended.BaseURL = DefaultBaseURL
	}
	c.API.Extended.BaseURL = strings.TrimRight(c.API.Extended.BaseURL, "/")
	if c.Poll.FastIntervalMS <= 0 {
		c.Poll.FastIntervalMS = 250
	}
	if c.Poll.OrdersIntervalMS <= 0 {
		c.Poll.OrdersIntervalMS = 500
	}
	if c.Poll.TradesEvery <= 0 {
		c.Poll.TradesEvery = 20
	}
	if c.Poll.BackoffMS <= 0 {
		c.Poll.BackoffMS = 1000
	}
	if c.Bot.Market == "" {
		c.Bot.Market = "BTC-USD"
	}
	if c.Bot.SpreadPct == 0 {
		c.Bot.SpreadPct = 0.001
	}
	if c.Bot.OrderSize == "" {
		c.Bot.OrderSize = "0.01"
	}
	if c.Bot.RefreshIntervalSec <= 0 {
		c.Bot.RefreshIntervalSec = 5
	}
	if c.Bot.PriceMoveThreshold == 0 {
		c.Bot.PriceMoveThreshold = 0.002
	}
	if c.Storage.Path == "" {
		c.Storage.Path = "data/proxy.db"
	}
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	if c.API.Extended.APIKey == "" {
		return fmt.Errorf("extended API key is required (EXTENDED_API_KEY)")
	}
	if !strings.HasPrefix(c.API.Extended.BaseURL, "http://") && !strings.HasPrefix(c.API.Extended.BaseURL, "https://") {
		return fmt.Errorf("invalid Extended base URL: %s", c.API.Extended.BaseURL)
	}
	if c.Bot.SpreadPct < 0 || c.Bot.SpreadPct >= 1 {
		return fmt.Errorf("bot spread must be a fraction in [0, 1), got %v", c.Bot.SpreadPct)
	}
	if c.Bot.PriceMoveThreshold < 0 {
		return fmt.Errorf("bot price move threshold must not be negative")
	}
	return nil
}

// overrideWithEnv overrides settings from environment variables when present.
func overrideWithEnv(cfg *Config) {
	if key := os.Getenv("EXTENDED_API_KEY"); key != "" {
		cfg.API.Extended.APIKey = key
	}
	if url := os.Getenv("EXTENDED_API_BASE_URL"); url != "" {
		cfg.API.Extended.BaseURL = url
	}
	if pub := os.Getenv("EXTENDED_STARK_KEY_PUBLIC"); pub != "" {
		cfg.API.Extended.PublicKey = pub
	}
	if priv := os.Getenv("EXTENDED_STARK_KEY_PRIVATE"); priv != "" {
		cfg.API.Extended.PrivateKey = priv
	}
	if id := os.Getenv("EXTENDED_CLIENT_ID"); id != "" {
		cfg.API.Extended.ClientID = id
	}
	if vault := os.Getenv("EXTENDED_VAULT_ID"); vault != "" {
		cfg.API.Extended.VaultID = vault
	}
}
