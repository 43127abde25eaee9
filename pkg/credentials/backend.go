package credentials

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

// KeyringService is the service name tokens are stored under in the OS
// keychain.
const KeyringService = "copilotctl"

var ErrNotFound = errors.New("no token stored")

// Backend persists tokens keyed by profile name.
type Backend interface {
	Get(profile string) (StoredToken, error)
	Save(profile string, token StoredToken) error
	Delete(profile string) error
	Name() string
}

// FileBackend keeps all profiles in one JSON file.
type FileBackend struct {
	Path string
}

func (b *FileBackend) Name() string { return string(ModeFile) }

func (b *FileBackend) Get(profile string) (StoredToken, error) {
	cache, err := LoadTokenCache(b.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return StoredToken{}, ErrNotFound
		}
		return StoredToken{}, err
	}
	token, ok := cache.Tokens[profile]
	if !ok {
		return StoredToken{}, ErrNotFound
	}
	return token, nil
}

func (b *FileBackend) Save(profile string, token StoredToken) error {
	cache, err := LoadTokenCache(b.Path)
	if err != nil {
		if !os.IsNotExist(err) {
			return err
		}
		cache = &TokenCache{Tokens: map[string]StoredToken{}}
	}
	cache.Tokens[profile] = token
	return SaveTokenCache(b.Path, cache)
}

func (b *FileBackend) Delete(profile string) error {
	cache, err := LoadTokenCache(b.Path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	delete(cache.Tokens, profile)
	return SaveTokenCache(b.Path, cache)
}

// KeychainBackend stores one JSON-encoded token per profile in the OS
// keychain.
type KeychainBackend struct {
	Service string
}

func (b *KeychainBackend) Name() string { return string(ModeKeychain) }

func (b *KeychainBackend) service() string {
	if b.Service == "" {
		return KeyringService
	}
	return b.Service
}

func (b *KeychainBackend) Get(profile string) (StoredToken, error) {
	data, err := keyring.Get(b.service(), profile)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return StoredToken{}, ErrNotFound
		}
		return StoredToken{}, fmt.Errorf("failed to read keychain: %w", err)
	}
	var token StoredToken
	if err := json.Unmarshal([]byte(data), &token); err != nil {
		return StoredToken{}, fmt.Errorf("failed to parse keychain entry: %w", err)
	}
	return token, nil
}

func (b *KeychainBackend) Save(profile string, token StoredToken) error {
	data, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}
	if err := keyring.Set(b.service(), profile, string(data)); err != nil {
		return fmt.Errorf("failed to write keychain: %w", err)
	}
	return nil
}

func (b *KeychainBackend) Delete(profile string) error {
	err := keyring.Delete(b.service(), profile)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("failed to delete keychain entry: %w", err)
	}
	return nil
}

// keychainAvailable probes the keychain with a lookup that is expected to
// miss.
func keychainAvailable(service string) bool {
	_, err := keyring.Get(service, "__probe__")
	return err == nil || errors.Is(err, keyring.ErrNotFound)
}
