package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/telekom/copilot-gateway/pkg/deviceauth"
)

// Token sources recorded alongside a stored token.
const (
	SourceDevice = "device"
	SourceManual = "manual"
)

type StoredToken struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type,omitempty"`
	Scope       string    `json:"scope,omitempty"`
	Source      string    `json:"source,omitempty"`
	SavedAt     time.Time `json:"saved_at,omitempty"`
}

// FromCredential converts the result of a device authorization session.
func FromCredential(cred deviceauth.Credential, now time.Time) StoredToken {
	return StoredToken{
		AccessToken: cred.AccessToken,
		TokenType:   cred.TokenType,
		Scope:       cred.Scope,
		Source:      SourceDevice,
		SavedAt:     now.UTC(),
	}
}

// Manual wraps a token pasted by the user.
func Manual(accessToken string, now time.Time) StoredToken {
	return StoredToken{
		AccessToken: strings.TrimSpace(accessToken),
		TokenType:   "bearer",
		Source:      SourceManual,
		SavedAt:     now.UTC(),
	}
}

func (t StoredToken) OAuth2Token() *oauth2.Token {
	return &oauth2.Token{AccessToken: t.AccessToken, TokenType: t.TokenType}
}

// Masked returns the token with everything but a short prefix and suffix hidden.
func (t StoredToken) Masked() string {
	tok := t.AccessToken
	if len(tok) <= 8 {
		return strings.Repeat("*", len(tok))
	}
	return tok[:4] + strings.Repeat("*", len(tok)-8) + tok[len(tok)-4:]
}

type TokenCache struct {
	Tokens map[string]StoredToken `json:"tokens"`
}

func LoadTokenCache(path string) (*TokenCache, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cache TokenCache
	if err := json.Unmarshal(content, &cache); err != nil {
		return nil, fmt.Errorf("failed to parse token cache: %w", err)
	}
	if cache.Tokens == nil {
		cache.Tokens = map[string]StoredToken{}
	}
	return &cache, nil
}

func SaveTokenCache(path string, cache *TokenCache) error {
	if cache == nil {
		return errors.New("token cache is nil")
	}
	if cache.Tokens == nil {
		cache.Tokens = map[string]StoredToken{}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("failed to create token dir: %w", err)
	}
	content, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal token cache: %w", err)
	}
	return os.WriteFile(path, content, 0o600)
}
