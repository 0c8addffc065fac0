package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Error notification policies. Both policies log; "notify" additionally
// surfaces the error to the user (web banner, CLI stderr warning).
const (
	ErrorPolicyLog    = "log"
	ErrorPolicyNotify = "notify"
)

// Config holds application configuration.
type Config struct {
	// APIURL is the base URL of the projects API.
	APIURL string `json:"api_url,omitempty"`

	// TokenMaxAgeDays is how long a stored session token stays valid after
	// its last write.
	TokenMaxAgeDays int `json:"token_max_age_days,omitempty"`

	// ErrorPolicy selects how non-auth API errors reach the user: "log" or "notify".
	ErrorPolicy string `json:"error_policy,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// 0 means use sql.DB default (unlimited).
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are logged as warnings.
	DisabledTools []string `json:"disabled_tools,omitempty"`

	// DisabledTypes is a list of type names to disable entirely.
	// Known types: "project", "file", "auth".
	DisabledTypes []string `json:"disabled_types,omitempty"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		APIURL:          "http://localhost:8080",
		TokenMaxAgeDays: 30,
		ErrorPolicy:     ErrorPolicyLog,
	}
}

// TokenMaxAge returns the session token lifetime as a duration.
func (c *Config) TokenMaxAge() time.Duration {
	days := c.TokenMaxAgeDays
	if days <= 0 {
		days = DefaultConfig().TokenMaxAgeDays
	}
	return time.Duration(days) * 24 * time.Hour
}

// Notify reports whether errors should be shown to the user.
func (c *Config) Notify() bool {
	return c.ErrorPolicy == ErrorPolicyNotify
}

// Validate checks field values that cannot be defaulted away.
func (c *Config) Validate() error {
	u, err := url.Parse(c.APIURL)
	if err != nil {
		return fmt.Errorf("api_url: %w", err)
	}
	if !u.IsAbs() || u.Host == "" {
		return fmt.Errorf("api_url must be an absolute http(s) URL, got %q", c.APIURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url scheme must be http or https, got %q", u.Scheme)
	}
	switch c.ErrorPolicy {
	case ErrorPolicyLog, ErrorPolicyNotify:
	default:
		return fmt.Errorf("error_policy must be %q or %q, got %q", ErrorPolicyLog, ErrorPolicyNotify, c.ErrorPolicy)
	}
	if c.TokenMaxAgeDays < 0 {
		return fmt.Errorf("token_max_age_days must be non-negative")
	}
	return nil
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.deckhand.
func Load(baseDir string) (*Config, error) {
	return loadFile(filepath.Join(baseDir, "config.json"))
}

// LoadWithRepo loads configuration from both global (~/.deckhand) and repo (.deckhand) directories.
// Repo config is found by walking upward from startDir to find the nearest .deckhand/config.json.
// Repo config takes precedence for scalar values; arrays are merged (deduplicated).
// Either or both configs may be missing.
func LoadWithRepo(globalDir, startDir string) (*Config, error) {
	global, err := loadFileRaw(filepath.Join(globalDir, "config.json"))
	if err != nil {
		return nil, err
	}

	repoConfigPath := FindRepoConfig(startDir)
	repo, err := loadFileRaw(repoConfigPath)
	if err != nil {
		return nil, err
	}

	// Apply defaults, then global, then repo
	return Merge(Merge(DefaultConfig(), global), repo), nil
}

// FindRepoConfig walks upward from startDir to find the nearest .deckhand/config.json.
// Returns the path if found, or empty string if not found.
func FindRepoConfig(startDir string) string {
	dir := startDir
	for {
		configPath := filepath.Join(dir, ".deckhand", "config.json")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	if configPath == "" {
		return &Config{}, nil
	}
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

	return cfg, nil
}

// loadFile loads configuration from a specific file path.
// Returns default config if the file doesn't exist.
func loadFile(configPath string) (*Config, error) {
	cfg, err := loadFileRaw(configPath)
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	result.APIURL = strings.TrimSpace(overlay.APIURL)
	if result.APIURL == "" {
		result.APIURL = base.APIURL
	}

	result.ErrorPolicy = strings.TrimSpace(overlay.ErrorPolicy)
	if result.ErrorPolicy == "" {
		result.ErrorPolicy = base.ErrorPolicy
	}

	result.TokenMaxAgeDays = overlay.TokenMaxAgeDays
	if result.TokenMaxAgeDays == 0 {
		result.TokenMaxAgeDays = base.TokenMaxAgeDays
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)
	result.DisabledTypes = mergeStringSlice(base.DisabledTypes, overlay.DisabledTypes)

	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range append(append([]string{}, a...), b...) {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
