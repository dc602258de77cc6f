// Package config loads runtime configuration from defaults, an optional
// config file, SNIPPETS_* environment variables and command-line flags.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix = "SNIPPETS"

	// PlaceholderBackendURL and PlaceholderAPIKey stand in when the backend
	// settings are missing, so the server still boots in a fresh checkout.
	PlaceholderBackendURL = "data/snippets.db"
	PlaceholderAPIKey     = "placeholder-api-key-change-me"
)

// Config is everything the server needs to start.
type Config struct {
	HTTP    HTTPConfig
	Backend BackendConfig
	Auth    AuthConfig
	Pool    PoolConfig
	Feed    FeedConfig
	Log     LogConfig

	// Placeholders lists the keys that fell back to a placeholder value.
	Placeholders []string
}

type HTTPConfig struct {
	Port          int
	SecureCookies bool
}

type BackendConfig struct {
	URL           string
	APIKey        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	BcryptCost    int
	RetryAttempts int
	RetryDelay    time.Duration
}

type AuthConfig struct {
	AllowedEmailDomains []string
	GitHub              GitHubConfig
	// RateLimit is requests per minute per client on /api/auth.
	RateLimit int
	RateBurst int
}

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether GitHub sign-in is configured.
func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

type PoolConfig struct {
	MaxActive      int
	MinIdle        int
	IdleTimeout    time.Duration
	AcquireTimeout time.Duration
}

type FeedConfig struct {
	FetchTimeout   time.Duration
	SearchDebounce time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	v := viper.New()
	ApplyDefaults(v)
	return v
}

// ApplyDefaults configures defaults and env bindings on v.
// SNIPPETS_AUTH_RATE_LIMIT maps to auth.rate_limit and so on.
func ApplyDefaults(v *viper.Viper) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("http.port", 8080)
	v.SetDefault("http.secure_cookies", false)

	v.SetDefault("backend.url", "")
	v.SetDefault("backend.api_key", "")
	v.SetDefault("backend.access_ttl", 15*time.Minute)
	v.SetDefault("backend.refresh_ttl", 7*24*time.Hour)
	v.SetDefault("backend.bcrypt_cost", 12)
	v.SetDefault("backend.retry_attempts", 3)
	v.SetDefault("backend.retry_delay", time.Second)

	v.SetDefault("auth.allowed_email_domains", []string{"cribl.io"})
	v.SetDefault("auth.github.client_id", "")
	v.SetDefault("auth.github.client_secret", "")
	v.SetDefault("auth.github.callback_url", "")
	v.SetDefault("auth.rate_limit", 10)
	v.SetDefault("auth.rate_burst", 5)

	v.SetDefault("pool.max_active", 20)
	v.SetDefault("pool.min_idle", 5)
	v.SetDefault("pool.idle_timeout", 10*time.Second)
	v.SetDefault("pool.acquire_timeout", 30*time.Second)

	v.SetDefault("feed.fetch_timeout", 30*time.Second)
	v.SetDefault("feed.search_debounce", 300*time.Millisecond)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load parses runtime configuration from v.
func Load(v *viper.Viper) (Config, error) {
	cfg := Config{
		HTTP: HTTPConfig{
			Port:          v.GetInt("http.port"),
			SecureCookies: v.GetBool("http.secure_cookies"),
		},
		Backend: BackendConfig{
			URL:           strings.TrimSpace(v.GetString("backend.url")),
			APIKey:        strings.TrimSpace(v.GetString("backend.api_key")),
			AccessTTL:     v.GetDuration("backend.access_ttl"),
			RefreshTTL:    v.GetDuration("backend.refresh_ttl"),
			BcryptCost:    v.GetInt("backend.bcrypt_cost"),
			RetryAttempts: v.GetInt("backend.retry_attempts"),
			RetryDelay:    v.GetDuration("backend.retry_delay"),
		},
		Auth: AuthConfig{
			AllowedEmailDomains: domains(v.GetStringSlice("auth.allowed_email_domains")),
			GitHub: GitHubConfig{
				ClientID:     v.GetString("auth.github.client_id"),
				ClientSecret: v.GetString("auth.github.client_secret"),
				CallbackURL:  v.GetString("auth.github.callback_url"),
			},
			RateLimit: v.GetInt("auth.rate_limit"),
			RateBurst: v.GetInt("auth.rate_burst"),
		},
		Pool: PoolConfig{
			MaxActive:      v.GetInt("pool.max_active"),
			MinIdle:        v.GetInt("pool.min_idle"),
			IdleTimeout:    v.GetDuration("pool.idle_timeout"),
			AcquireTimeout: v.GetDuration("pool.acquire_timeout"),
		},
		Feed: FeedConfig{
			FetchTimeout:   v.GetDuration("feed.fetch_timeout"),
			SearchDebounce: v.GetDuration("feed.search_debounce"),
		},
		Log: LogConfig{
			Level:  v.GetString("log.level"),
			Format: v.GetString("log.format"),
		},
	}

	if cfg.Backend.URL == "" {
		cfg.Backend.URL = PlaceholderBackendURL
		cfg.Placeholders = append(cfg.Placeholders, "backend.url")
	}
	if cfg.Backend.APIKey == "" {
		cfg.Backend.APIKey = PlaceholderAPIKey
		cfg.Placeholders = append(cfg.Placeholders, "backend.api_key")
	}
	if cfg.Auth.GitHub.CallbackURL == "" {
		cfg.Auth.GitHub.CallbackURL = fmt.Sprintf("http://localhost:%d/auth/callback", cfg.HTTP.Port)
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c Config) validate() error {
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("http.port %d is out of range", c.HTTP.Port)
	}
	if len(c.Backend.APIKey) < 16 {
		return fmt.Errorf("backend.api_key must be at least 16 characters")
	}
	if c.Pool.MaxActive < 1 {
		return fmt.Errorf("pool.max_active must be at least 1")
	}
	if c.Pool.MinIdle < 0 || c.Pool.MinIdle > c.Pool.MaxActive {
		return fmt.Errorf("pool.min_idle must be between 0 and pool.max_active")
	}
	if c.Auth.RateLimit < 1 {
		return fmt.Errorf("auth.rate_limit must be at least 1")
	}
	if c.Feed.FetchTimeout <= 0 {
		return fmt.Errorf("feed.fetch_timeout must be positive")
	}
	return nil
}

// domains normalises the allowlist. Env values arrive as one
// comma-separated string; file values as a list.
func domains(raw []string) []string {
	var out []string
	for _, entry := range raw {
		for _, d := range strings.Split(entry, ",") {
			d = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(d), "@"))
			if d != "" {
				out = append(out, d)
			}
		}
	}
	return out
}
