package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// ServerName identifies the remote BrAPI server (used as the
	// capability snapshot name and in log lines).
	ServerName string `json:"server_name"`

	// BaseURL is the root of the remote BrAPI server, e.g.
	// "https://sweetpotatobase.org/brapi/v2". Trailing slashes are trimmed.
	BaseURL string `json:"base_url"`

	// TokenEnv names the environment variable holding a bearer token for
	// the remote server. Empty means unauthenticated requests.
	TokenEnv string `json:"token_env,omitempty"`

	// RequestTimeoutSecs bounds each remote HTTP call. Defaults to 60.
	RequestTimeoutSecs int `json:"request_timeout_secs,omitempty"`

	// DefaultPageSize is the page size used when a caller does not supply
	// one. MaxResults caps how many records a single tool call may
	// materialize before truncation.
	DefaultPageSize int `json:"default_page_size,omitempty"`
	MaxResults      int `json:"max_results,omitempty"`

	// CleanupAgeDays is the age threshold for the maintenance sweep that
	// removes stale sessions. 0 means use the default (30).
	CleanupAgeDays int `json:"cleanup_age_days,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from
	// registration. Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// WebBind and WebPort configure the result download HTTP server.
	WebBind string `json:"web_bind,omitempty"`
	WebPort int    `json:"web_port,omitempty"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `json:"log_level,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		ServerName:         "brapi",
		RequestTimeoutSecs: 60,
		DefaultPageSize:    100,
		MaxResults:         500,
		CleanupAgeDays:     30,
		WebBind:            "127.0.0.1",
		WebPort:            8580,
		LogLevel:           "info",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.brapi-mcp.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Token resolves the bearer token from the configured environment
// variable. Empty when unset or unconfigured.
func (c *Config) Token() string {
	if c.TokenEnv == "" {
		return ""
	}
	return os.Getenv(c.TokenEnv)
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.ServerName = overlay.ServerName
	if result.ServerName == "" {
		result.ServerName = base.ServerName
	}

	result.BaseURL = overlay.BaseURL
	if result.BaseURL == "" {
		result.BaseURL = base.BaseURL
	}

	result.TokenEnv = overlay.TokenEnv
	if result.TokenEnv == "" {
		result.TokenEnv = base.TokenEnv
	}

	result.RequestTimeoutSecs = overlay.RequestTimeoutSecs
	if result.RequestTimeoutSecs == 0 {
		result.RequestTimeoutSecs = base.RequestTimeoutSecs
	}

	result.DefaultPageSize = overlay.DefaultPageSize
	if result.DefaultPageSize == 0 {
		result.DefaultPageSize = base.DefaultPageSize
	}

	result.MaxResults = overlay.MaxResults
	if result.MaxResults == 0 {
		result.MaxResults = base.MaxResults
	}

	result.CleanupAgeDays = overlay.CleanupAgeDays
	if result.CleanupAgeDays == 0 {
		result.CleanupAgeDays = base.CleanupAgeDays
	}

	result.WebBind = overlay.WebBind
	if result.WebBind == "" {
		result.WebBind = base.WebBind
	}

	result.WebPort = overlay.WebPort
	if result.WebPort == 0 {
		result.WebPort = base.WebPort
	}

	result.LogLevel = overlay.LogLevel
	if result.LogLevel == "" {
		result.LogLevel = base.LogLevel
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	return result
}
