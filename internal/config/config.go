// Package config stores the account connection details in the OS keychain,
// with an encrypted-file fallback for headless machines.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/99designs/keyring"
)

const (
	serviceName = "magpipe"
	accountKey  = "default"

	envKeyringBackend  = "MAGPIPE_KEYRING_BACKEND"
	envKeyringPassword = "MAGPIPE_KEYRING_PASSWORD"
	envCredentialsDir  = "MAGPIPE_CREDENTIALS_DIR"

	keyringBackendAuto   = "auto"
	keyringBackendFile   = "file"
	keyringBackendSystem = "system"
)

// openKeyring is a package-level function for opening keyrings.
// It can be replaced in tests to use a mock keyring.
var openKeyring = func(cfg keyring.Config) (keyring.Keyring, error) {
	return keyring.Open(cfg)
}

var userConfigDir = os.UserConfigDir

var stdinHasTTY = func() bool {
	info, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// SetOpenKeyring allows replacing the keyring opener for testing.
// Returns a cleanup function that restores the original.
func SetOpenKeyring(fn func(keyring.Config) (keyring.Keyring, error)) func() {
	original := openKeyring
	openKeyring = fn
	return func() { openKeyring = original }
}

// Account holds the connection details for one inbox account.
type Account struct {
	AccountID string `json:"account_id"`
	StoreURL  string `json:"store_url"`            // redis:// address of the record store
	SyncURL   string `json:"sync_url,omitempty"`   // recording sync service base URL
	CableURL  string `json:"cable_url,omitempty"`  // websocket event bus URL
	SyncToken string `json:"sync_token,omitempty"` // bearer token for sync service and bus
}

// ErrNotConfigured is returned when no account is configured
var ErrNotConfigured = errors.New("magpipe not configured - run 'magpipe auth login' first")

// keyringConfig returns the keyring configuration
func keyringConfig() keyring.Config {
	cfg := keyring.Config{
		ServiceName: serviceName,
	}

	backend := keyringBackendMode()
	if backend == keyringBackendSystem {
		return cfg
	}

	// Always configure file backend details in auto mode so keyring.Open can
	// fall through to encrypted file storage when native backends are missing.
	configureFileBackend(&cfg)

	// Headless Linux should bypass other backends and use encrypted file storage.
	if shouldForceFileBackend(runtime.GOOS, backend, os.Getenv("DBUS_SESSION_BUS_ADDRESS")) {
		cfg.AllowedBackends = []keyring.BackendType{keyring.FileBackend}
	}

	return cfg
}

func keyringBackendMode() string {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv(envKeyringBackend)))
	switch backend {
	case "", keyringBackendAuto:
		return keyringBackendAuto
	case keyringBackendFile:
		return keyringBackendFile
	case keyringBackendSystem, "os", "native":
		return keyringBackendSystem
	default:
		return keyringBackendAuto
	}
}

func shouldForceFileBackend(goos, backend, dbusAddr string) bool {
	if backend == keyringBackendFile {
		return true
	}
	if backend != keyringBackendAuto {
		return false
	}
	return goos == "linux" && strings.TrimSpace(dbusAddr) == ""
}

func configureFileBackend(cfg *keyring.Config) {
	cfg.FileDir = keyringFileDir()
	cfg.FilePasswordFunc = keyringFilePassword
}

func keyringFileDir() string {
	base := strings.TrimSpace(os.Getenv(envCredentialsDir))
	if base == "" {
		if dir, err := userConfigDir(); err == nil && strings.TrimSpace(dir) != "" {
			base = filepath.Join(dir, serviceName)
		}
	}
	if base == "" {
		if home, err := os.UserHomeDir(); err == nil && strings.TrimSpace(home) != "" {
			base = filepath.Join(home, ".config", serviceName)
		}
	}
	if base == "" {
		base = filepath.Join(os.TempDir(), serviceName)
	}
	return filepath.Join(base, "keyring")
}

func keyringFilePassword(prompt string) (string, error) {
	if password := os.Getenv(envKeyringPassword); strings.TrimSpace(password) != "" {
		return password, nil
	}
	if !stdinHasTTY() {
		return "", fmt.Errorf("set %s when using file keyring in non-interactive environments", envKeyringPassword)
	}
	return keyring.TerminalPrompt(prompt)
}

// SaveAccount stores the account credentials in the OS keychain
func SaveAccount(account Account) error {
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	data, err := json.Marshal(account)
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	if err := ring.Set(keyring.Item{
		Key:  accountKey,
		Data: data,
	}); err != nil {
		return fmt.Errorf("failed to save account: %w", err)
	}
	return nil
}

// LoadAccount retrieves the account credentials. Environment variables take
// precedence over the keychain so CI and scripts never touch it:
// MAGPIPE_STORE_URL plus MAGPIPE_ACCOUNT_ID select an account, with
// MAGPIPE_SYNC_URL, MAGPIPE_CABLE_URL, and MAGPIPE_SYNC_TOKEN optional.
func LoadAccount() (Account, error) {
	if storeURL := strings.TrimSpace(os.Getenv("MAGPIPE_STORE_URL")); storeURL != "" {
		accountID := strings.TrimSpace(os.Getenv("MAGPIPE_ACCOUNT_ID"))
		if accountID == "" {
			return Account{}, fmt.Errorf("MAGPIPE_ACCOUNT_ID must be set when MAGPIPE_STORE_URL is set")
		}
		return Account{
			AccountID: accountID,
			StoreURL:  storeURL,
			SyncURL:   strings.TrimSuffix(strings.TrimSpace(os.Getenv("MAGPIPE_SYNC_URL")), "/"),
			CableURL:  strings.TrimSpace(os.Getenv("MAGPIPE_CABLE_URL")),
			SyncToken: strings.TrimSpace(os.Getenv("MAGPIPE_SYNC_TOKEN")),
		}, nil
	}

	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return Account{}, fmt.Errorf("failed to open keyring: %w", err)
	}

	item, err := ring.Get(accountKey)
	if err != nil {
		if errors.Is(err, keyring.ErrKeyNotFound) {
			return Account{}, ErrNotConfigured
		}
		return Account{}, fmt.Errorf("failed to get account: %w", err)
	}

	var account Account
	if err := json.Unmarshal(item.Data, &account); err != nil {
		return Account{}, fmt.Errorf("failed to unmarshal account: %w", err)
	}
	return account, nil
}

// DeleteAccount removes the account credentials from the OS keychain
func DeleteAccount() error {
	ring, err := openKeyring(keyringConfig())
	if err != nil {
		return fmt.Errorf("failed to open keyring: %w", err)
	}

	if err := ring.Remove(accountKey); err != nil {
		if !errors.Is(err, keyring.ErrKeyNotFound) {
			return fmt.Errorf("failed to remove account: %w", err)
		}
	}
	return nil
}

// HasAccount checks if an account is configured
func HasAccount() bool {
	_, err := LoadAccount()
	return err == nil
}
