package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Browser   BrowserConfig   `yaml:"browser"`
	Proxy     ProxyConfig     `yaml:"proxy"`
	Scraper   ScraperConfig   `yaml:"scraper"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	LLM       LLMConfig       `yaml:"llm"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Log       LogConfig       `yaml:"log"`
}

// ServerConfig controls the HTTP server.
type ServerConfig struct {
	Host string `yaml:"host"` // default: "0.0.0.0"
	Port int    `yaml:"port"` // default: 8080
	Mode string `yaml:"mode"` // "debug", "release", "test"; default: "release"
}

// BrowserConfig controls the Rod browser instance.
type BrowserConfig struct {
	// Headless controls whether the browser runs headless.
	Headless bool `yaml:"headless"` // default: true

	// MaxPages bounds the number of concurrent browser sessions.
	MaxPages int `yaml:"max_pages"` // default: 10

	// NoSandbox disables Chrome's sandbox (needed in Docker).
	NoSandbox bool `yaml:"no_sandbox"` // default: false

	// BrowserBin overrides the Chromium binary path.
	BrowserBin string `yaml:"browser_bin"`
}

// ProxyConfig names the upstream proxy of each tier. Empty means direct.
type ProxyConfig struct {
	Basic   string `yaml:"basic"`
	Stealth string `yaml:"stealth"`
}

// ScraperConfig controls scraping behavior.
type ScraperConfig struct {
	// MaxTimeout caps the timeout a client may request.
	MaxTimeout time.Duration `yaml:"max_timeout"` // default: 120s

	// BlockedResourceTypes lists resource types to block.
	// default: ["Font", "Media"]
	BlockedResourceTypes []string `yaml:"blocked_resource_types"`

	// UserAgent identifies the scraper for robots.txt checks.
	UserAgent string `yaml:"user_agent"` // default: "skim"

	// MaxDocumentBytes bounds PDF downloads.
	MaxDocumentBytes int64 `yaml:"max_document_bytes"` // default: 50 MiB

	// RobotsTTL is how long a host's robots.txt is remembered.
	RobotsTTL time.Duration `yaml:"robots_ttl"` // default: 1h
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	// Enabled toggles API key authentication.
	Enabled bool `yaml:"enabled"` // default: true

	// APIKeys is the list of valid API keys.
	APIKeys []string `yaml:"api_keys"`
}

// RateLimitConfig controls per-key rate limiting.
type RateLimitConfig struct {
	// RequestsPerSecond is the sustained rate per API key.
	RequestsPerSecond float64 `yaml:"requests_per_second"` // default: 5

	// Burst is the maximum burst size per API key.
	Burst int `yaml:"burst"` // default: 10
}

// CacheConfig controls the freshness cache and change-tracking history.
type CacheConfig struct {
	// Driver is "memory" or "sqlite".
	Driver string `yaml:"driver"` // default: "memory"

	// Path is the SQLite database file.
	Path string `yaml:"path"` // default: "skim-cache.db"

	// MaxEntries is the maximum number of cached results.
	MaxEntries int `yaml:"max_entries"` // default: 1000

	// HistoryLimit is the number of history records kept per URL.
	HistoryLimit int `yaml:"history_limit"` // default: 50

	// Retention evicts in-memory entries older than this.
	Retention time.Duration `yaml:"retention"` // default: 168h
}

// LLMConfig controls the OpenAI-compatible model used by the summary and
// json formats.
type LLMConfig struct {
	BaseURL   string        `yaml:"base_url"` // default: "https://api.openai.com/v1"
	APIKey    string        `yaml:"api_key"`
	Model     string        `yaml:"model"`      // default: "gpt-4o-mini"
	Timeout   time.Duration `yaml:"timeout"`    // default: 60s
	MaxTokens int           `yaml:"max_tokens"` // content budget; default: 12000
}

// WebhookConfig controls scrape.completed notifications.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`  // default: "info"
	Format string `yaml:"format"` // "json" or "text"; default: "json"

	// File, when set, receives logs through a rotating writer.
	File string `yaml:"file"`
}

// Load reads configuration from environment variables with sane defaults.
// A .env file in the working directory is loaded first, and the YAML file
// named by SKIM_CONFIG is applied last.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := fromEnv()

	if path := os.Getenv("SKIM_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

func fromEnv() *Config {
	return &Config{
		Server: ServerConfig{
			Host: envOr("SKIM_HOST", "0.0.0.0"),
			Port: envIntOr("SKIM_PORT", 8080),
			Mode: envOr("SKIM_MODE", "release"),
		},
		Browser: BrowserConfig{
			Headless:   envBoolOr("SKIM_HEADLESS", true),
			MaxPages:   envIntOr("SKIM_MAX_PAGES", 10),
			NoSandbox:  envBoolOr("SKIM_NO_SANDBOX", false),
			BrowserBin: os.Getenv("SKIM_BROWSER_BIN"),
		},
		Proxy: ProxyConfig{
			Basic:   os.Getenv("SKIM_BASIC_PROXY"),
			Stealth: os.Getenv("SKIM_STEALTH_PROXY"),
		},
		Scraper: ScraperConfig{
			MaxTimeout:           envDurationOr("SKIM_MAX_TIMEOUT", 120*time.Second),
			BlockedResourceTypes: envSliceOr("SKIM_BLOCKED_RESOURCES", []string{"Font", "Media"}),
			UserAgent:            envOr("SKIM_USER_AGENT", "skim"),
			MaxDocumentBytes:     int64(envIntOr("SKIM_MAX_DOCUMENT_BYTES", 50<<20)),
			RobotsTTL:            envDurationOr("SKIM_ROBOTS_TTL", time.Hour),
		},
		Auth: AuthConfig{
			Enabled: envBoolOr("SKIM_AUTH_ENABLED", true),
			APIKeys: envSliceOr("SKIM_API_KEYS", nil),
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: envFloatOr("SKIM_RATE_RPS", 5.0),
			Burst:             envIntOr("SKIM_RATE_BURST", 10),
		},
		Cache: CacheConfig{
			Driver:       envOr("SKIM_CACHE_DRIVER", "memory"),
			Path:         envOr("SKIM_CACHE_PATH", "skim-cache.db"),
			MaxEntries:   envIntOr("SKIM_CACHE_MAX_ENTRIES", 1000),
			HistoryLimit: envIntOr("SKIM_CACHE_HISTORY_LIMIT", 50),
			Retention:    envDurationOr("SKIM_CACHE_RETENTION", 7*24*time.Hour),
		},
		LLM: LLMConfig{
			BaseURL:   envOr("SKIM_LLM_BASE_URL", "https://api.openai.com/v1"),
			APIKey:    os.Getenv("SKIM_LLM_API_KEY"),
			Model:     envOr("SKIM_LLM_MODEL", "gpt-4o-mini"),
			Timeout:   envDurationOr("SKIM_LLM_TIMEOUT", 60*time.Second),
			MaxTokens: envIntOr("SKIM_LLM_MAX_TOKENS", 12000),
		},
		Webhook: WebhookConfig{
			URL:    os.Getenv("SKIM_WEBHOOK_URL"),
			Secret: os.Getenv("SKIM_WEBHOOK_SECRET"),
		},
		Log: LogConfig{
			Level:  envOr("SKIM_LOG_LEVEL", "info"),
			Format: envOr("SKIM_LOG_FORMAT", "json"),
			File:   os.Getenv("SKIM_LOG_FILE"),
		},
	}
}

// overlayFile applies the keys present in a YAML file on top of cfg.
func (c *Config) overlayFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	return nil
}

// --- helper functions ---

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBoolOr(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloatOr(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envSliceOr(key string, fallback []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		result := make([]string, 0, len(parts))
		for _, p := range parts {
			if trimmed := strings.TrimSpace(p); trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return fallback
}
