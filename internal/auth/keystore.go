package auth

import (
	"errors"
	"fmt"
	"os"

	"github.com/zalando/go-keyring"
)

const (
	keystoreService = "deepwatch"
	keystoreUser    = "access-token"
)

// ErrNoToken is returned when no access token has been stored yet.
var ErrNoToken = errors.New("no access token stored")

// LoadToken returns the API access token. The DEEPWATCH_TOKEN environment
// variable takes precedence over the system keychain so headless machines
// without a keyring daemon still work.
func LoadToken() (string, error) {
	if token := os.Getenv("DEEPWATCH_TOKEN"); token != "" {
		return token, nil
	}

	token, err := keyring.Get(keystoreService, keystoreUser)
	if err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return "", ErrNoToken
		}
		return "", fmt.Errorf("keychain read failed: %w", err)
	}
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// SaveToken stores the API access token in the system keychain.
func SaveToken(token string) error {
	if token == "" {
		return fmt.Errorf("refusing to store empty token")
	}
	if err := keyring.Set(keystoreService, keystoreUser, token); err != nil {
		return fmt.Errorf("keychain write failed: %w", err)
	}
	return nil
}

// DeleteToken removes the stored token. Used on sign-out together with the
// cache clear.
func DeleteToken() error {
	err := keyring.Delete(keystoreService, keystoreUser)
	if err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return fmt.Errorf("keychain delete failed: %w", err)
	}
	return nil
}

// HasToken checks whether an access token is available without reading it.
func HasToken() bool {
	_, err := LoadToken()
	return err == nil
}
