package credentials

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

// Mode selects the token storage backend.
type Mode string

const (
	ModeAuto     Mode = "auto"
	ModeKeychain Mode = "keychain"
	ModeFile     Mode = "file"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ModeAuto:
		return ModeAuto, nil
	case ModeKeychain:
		return ModeKeychain, nil
	case ModeFile:
		return ModeFile, nil
	default:
		return "", fmt.Errorf("unknown token storage %q (expected auto, keychain or file)", s)
	}
}

type TokenManager struct {
	backend Backend
	log     *zap.SugaredLogger
}

// NewTokenManager picks the backend for mode. In auto mode the keychain is
// used when reachable and cachePath otherwise.
func NewTokenManager(mode Mode, cachePath string, log *zap.SugaredLogger) (*TokenManager, error) {
	if log == nil {
		log = zap.S()
	}
	var backend Backend
	switch mode {
	case ModeKeychain:
		backend = &KeychainBackend{Service: KeyringService}
	case ModeFile:
		backend = &FileBackend{Path: cachePath}
	case ModeAuto, "":
		if keychainAvailable(KeyringService) {
			backend = &KeychainBackend{Service: KeyringService}
		} else {
			log.Debugw("Keychain unavailable, using token file", "path", cachePath)
			backend = &FileBackend{Path: cachePath}
		}
	default:
		return nil, fmt.Errorf("unknown token storage %q", mode)
	}
	return &TokenManager{backend: backend, log: log}, nil
}

// NewTokenManagerWithBackend is used by tests and embedders with their own
// storage.
func NewTokenManagerWithBackend(backend Backend) *TokenManager {
	return &TokenManager{backend: backend, log: zap.S()}
}

// Backend returns the name of the active backend.
func (m *TokenManager) Backend() string {
	return m.backend.Name()
}

// GetToken returns the stored token, reporting false when none exists.
func (m *TokenManager) GetToken(profile string) (StoredToken, bool, error) {
	token, err := m.backend.Get(profile)
	if err == ErrNotFound {
		return StoredToken{}, false, nil
	}
	if err != nil {
		return StoredToken{}, false, err
	}
	return token, token.AccessToken != "", nil
}

func (m *TokenManager) SaveToken(profile string, token StoredToken) error {
	if strings.TrimSpace(token.AccessToken) == "" {
		return fmt.Errorf("refusing to store an empty token")
	}
	if err := m.backend.Save(profile, token); err != nil {
		return err
	}
	m.log.Debugw("Stored token", "profile", profile, "backend", m.backend.Name(), "source", token.Source)
	return nil
}

// DeleteToken revokes the local copy of the token. Deleting a missing token
// is not an error.
func (m *TokenManager) DeleteToken(profile string) error {
	if err := m.backend.Delete(profile); err != nil {
		return err
	}
	m.log.Debugw("Deleted token", "profile", profile, "backend", m.backend.Name())
	return nil
}

// TokenSource reads the token for profile on every call so a login or logout
// in another process is picked up without restarting.
func (m *TokenManager) TokenSource(profile string) oauth2.TokenSource {
	return &storedTokenSource{m: m, profile: profile}
}

type storedTokenSource struct {
	m       *TokenManager
	profile string
}

func (s *storedTokenSource) Token() (*oauth2.Token, error) {
	token, ok, err := s.m.GetToken(s.profile)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotFound
	}
	return token.OAuth2Token(), nil
}
