package settings

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/telekom/copilot-gateway/pkg/deviceauth"
	"github.com/telekom/copilot-gateway/pkg/retry"
	"github.com/telekom/copilot-gateway/pkg/stats"
)

const (
	VersionV1 = "v1"

	DefaultProfile      = "default"
	DefaultAPIBaseURL   = "https://api.githubcopilot.com"
	DefaultGitHubAPIURL = "https://api.github.com"
)

type Config struct {
	Version  string         `yaml:"version"`
	Profile  string         `yaml:"profile,omitempty"`
	OAuth    OAuth          `yaml:"oauth,omitempty"`
	API      API            `yaml:"api,omitempty"`
	Retry    Retry          `yaml:"retry"`
	Settings Settings       `yaml:"settings,omitempty"`
	Stats    stats.Snapshot `yaml:"stats"`
}

type OAuth struct {
	ClientID      string   `yaml:"client-id,omitempty"`
	Scopes        []string `yaml:"scopes,omitempty"`
	DeviceAuthURL string   `yaml:"device-auth-url,omitempty"`
	TokenURL      string   `yaml:"token-url,omitempty"`
}

type API struct {
	BaseURL      string `yaml:"base-url,omitempty"`
	GitHubAPIURL string `yaml:"github-api-url,omitempty"`
}

// Retry holds the retry switches. Boolean fields are never omitted so a
// saved false survives a reload over the defaults.
type Retry struct {
	Enabled      bool `yaml:"enabled"`
	Count        int  `yaml:"count"`
	DelaySeconds int  `yaml:"delay-seconds"`
	On400        bool `yaml:"on-400"`
	On429        bool `yaml:"on-429"`
	On5xx        bool `yaml:"on-5xx"`
	OnModelError bool `yaml:"on-model-error"`
}

type Settings struct {
	OutputFormat string `yaml:"output-format,omitempty"`
	TokenStorage string `yaml:"token-storage,omitempty"`
	Color        string `yaml:"color,omitempty"`
}

func DefaultConfig() Config {
	p := retry.DefaultPolicy()
	return Config{
		Version: VersionV1,
		Profile: DefaultProfile,
		Retry: Retry{
			Enabled:      p.Enabled,
			Count:        p.MaxAttempts,
			DelaySeconds: int(p.Delay / time.Second),
			On400:        p.RetryOn400,
			On429:        p.RetryOn429,
			On5xx:        p.RetryOn5xx,
			OnModelError: p.RetryOnModelError,
		},
		Settings: Settings{
			OutputFormat: "table",
			TokenStorage: "auto",
			Color:        "auto",
		},
	}
}

// Load reads path over the defaults, so keys missing from the file keep
// their default values.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(content, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	return &cfg, nil
}

func Save(path string, cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.Version == "" {
		cfg.Version = VersionV1
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}
	content, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}

func (c *Config) Validate() error {
	if c.Version == "" {
		return errors.New("config version missing")
	}
	if c.Retry.Count < 0 {
		return errors.New("retry.count must not be negative")
	}
	if c.Retry.DelaySeconds < 0 {
		return errors.New("retry.delay must not be negative")
	}
	switch c.Settings.OutputFormat {
	case "", "table", "wide", "json", "yaml":
	default:
		return fmt.Errorf("unsupported output-format %q", c.Settings.OutputFormat)
	}
	switch c.Settings.TokenStorage {
	case "", "auto", "keychain", "file":
	default:
		return fmt.Errorf("unsupported token-storage %q", c.Settings.TokenStorage)
	}
	return nil
}

// Policy converts the retry block into an executor policy.
func (c *Config) Policy() retry.Policy {
	return retry.Policy{
		Enabled:           c.Retry.Enabled,
		MaxAttempts:       c.Retry.Count,
		Delay:             time.Duration(c.Retry.DelaySeconds) * time.Second,
		RetryOn400:        c.Retry.On400,
		RetryOn429:        c.Retry.On429,
		RetryOn5xx:        c.Retry.On5xx,
		RetryOnModelError: c.Retry.OnModelError,
	}
}

func (c *Config) ProfileOrDefault() string {
	if strings.TrimSpace(c.Profile) != "" {
		return c.Profile
	}
	return DefaultProfile
}

// DeviceAuth returns the device flow configuration with any overrides
// from the oauth block applied.
func (c *Config) DeviceAuth() deviceauth.Config {
	endpoint := deviceauth.DefaultEndpoint
	if c.OAuth.DeviceAuthURL != "" {
		endpoint.DeviceAuthURL = c.OAuth.DeviceAuthURL
	}
	if c.OAuth.TokenURL != "" {
		endpoint.TokenURL = c.OAuth.TokenURL
	}
	return deviceauth.Config{
		ClientID: c.OAuth.ClientID,
		Scopes:   c.OAuth.Scopes,
		Endpoint: endpoint,
	}
}

func (c *Config) APIBaseURL() string {
	if c.API.BaseURL != "" {
		return strings.TrimRight(c.API.BaseURL, "/")
	}
	return DefaultAPIBaseURL
}

func (c *Config) GitHubAPIURL() string {
	if c.API.GitHubAPIURL != "" {
		return strings.TrimRight(c.API.GitHubAPIURL, "/")
	}
	return DefaultGitHubAPIURL
}
