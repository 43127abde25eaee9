package settings

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/telekom/copilot-gateway/pkg/credentials"
)

type keySpec struct {
	help string
	get  func(*Config) string
	set  func(*Config, string) error
}

var keySpecs = map[string]keySpec{
	"profile": {
		help: "token profile used for API calls",
		get:  func(c *Config) string { return c.ProfileOrDefault() },
		set:  func(c *Config, v string) error { return setString(&c.Profile, v) },
	},
	"retry.enabled": {
		help: "retry failed chat completions",
		get:  func(c *Config) string { return strconv.FormatBool(c.Retry.Enabled) },
		set:  func(c *Config, v string) error { return setBool(&c.Retry.Enabled, v) },
	},
	"retry.count": {
		help: "additional attempts after the first",
		get:  func(c *Config) string { return strconv.Itoa(c.Retry.Count) },
		set:  func(c *Config, v string) error { return setNonNegative(&c.Retry.Count, v) },
	},
	"retry.delay": {
		help: "seconds to wait between attempts",
		get:  func(c *Config) string { return strconv.Itoa(c.Retry.DelaySeconds) },
		set: func(c *Config, v string) error {
			return setNonNegative(&c.Retry.DelaySeconds, strings.TrimSuffix(strings.TrimSpace(v), "s"))
		},
	},
	"retry.on-400": {
		help: "retry on 400 Bad Request",
		get:  func(c *Config) string { return strconv.FormatBool(c.Retry.On400) },
		set:  func(c *Config, v string) error { return setBool(&c.Retry.On400, v) },
	},
	"retry.on-429": {
		help: "retry on 429 Too Many Requests",
		get:  func(c *Config) string { return strconv.FormatBool(c.Retry.On429) },
		set:  func(c *Config, v string) error { return setBool(&c.Retry.On429, v) },
	},
	"retry.on-5xx": {
		help: "retry on 5xx server errors",
		get:  func(c *Config) string { return strconv.FormatBool(c.Retry.On5xx) },
		set:  func(c *Config, v string) error { return setBool(&c.Retry.On5xx, v) },
	},
	"retry.on-model-error": {
		help: "retry when the error body mentions the model",
		get:  func(c *Config) string { return strconv.FormatBool(c.Retry.OnModelError) },
		set:  func(c *Config, v string) error { return setBool(&c.Retry.OnModelError, v) },
	},
	"output-format": {
		help: "default output format (table, wide, json, yaml)",
		get:  func(c *Config) string { return c.Settings.OutputFormat },
		set: func(c *Config, v string) error {
			return setOneOf(&c.Settings.OutputFormat, v, "table", "wide", "json", "yaml")
		},
	},
	"token-storage": {
		help: "where tokens are kept (auto, keychain, file)",
		get:  func(c *Config) string { return c.Settings.TokenStorage },
		set: func(c *Config, v string) error {
			mode, err := credentials.ParseMode(v)
			if err != nil {
				return err
			}
			c.Settings.TokenStorage = string(mode)
			return nil
		},
	},
	"color": {
		help: "colored output (auto, always, never)",
		get:  func(c *Config) string { return c.Settings.Color },
		set:  func(c *Config, v string) error { return setOneOf(&c.Settings.Color, v, "auto", "always", "never") },
	},
	"oauth.client-id": {
		help: "OAuth client id for device login",
		get:  func(c *Config) string { return c.OAuth.ClientID },
		set:  func(c *Config, v string) error { return setString(&c.OAuth.ClientID, v) },
	},
	"oauth.scope": {
		help: "comma separated OAuth scopes",
		get:  func(c *Config) string { return strings.Join(c.OAuth.Scopes, ",") },
		set: func(c *Config, v string) error {
			c.OAuth.Scopes = nil
			for _, s := range strings.Split(v, ",") {
				if s = strings.TrimSpace(s); s != "" {
					c.OAuth.Scopes = append(c.OAuth.Scopes, s)
				}
			}
			return nil
		},
	},
	"api.base-url": {
		help: "Copilot API base URL",
		get:  func(c *Config) string { return c.APIBaseURL() },
		set:  func(c *Config, v string) error { return setString(&c.API.BaseURL, v) },
	},
	"api.github-api-url": {
		help: "GitHub REST API base URL",
		get:  func(c *Config) string { return c.GitHubAPIURL() },
		set:  func(c *Config, v string) error { return setString(&c.API.GitHubAPIURL, v) },
	},
}

// Keys returns every settable key in sorted order.
func Keys() []string {
	keys := make([]string, 0, len(keySpecs))
	for k := range keySpecs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// KeyHelp returns a one-line description of key.
func KeyHelp(key string) string {
	return keySpecs[key].help
}

// GetKey reads a single value from cfg.
func GetKey(cfg *Config, key string) (string, error) {
	spec, ok := keySpecs[key]
	if !ok {
		return "", fmt.Errorf("unknown key %q", key)
	}
	return spec.get(cfg), nil
}

// SetKey parses value and writes it to cfg.
func SetKey(cfg *Config, key, value string) error {
	spec, ok := keySpecs[key]
	if !ok {
		return fmt.Errorf("unknown key %q", key)
	}
	if err := spec.set(cfg, value); err != nil {
		return fmt.Errorf("invalid value for %s: %w", key, err)
	}
	return nil
}

func setString(dst *string, v string) error {
	*dst = strings.TrimSpace(v)
	return nil
}

func setBool(dst *bool, v string) error {
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("expected true or false")
	}
	*dst = b
	return nil
}

func setNonNegative(dst *int, v string) error {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return fmt.Errorf("expected an integer")
	}
	if n < 0 {
		return fmt.Errorf("must not be negative")
	}
	*dst = n
	return nil
}

func setOneOf(dst *string, v string, allowed ...string) error {
	v = strings.ToLower(strings.TrimSpace(v))
	for _, a := range allowed {
		if v == a {
			*dst = v
			return nil
		}
	}
	return fmt.Errorf("expected one of %s", strings.Join(allowed, ", "))
}
