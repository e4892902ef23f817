package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"xscrap/pkg/session"
)

// Account holds the login for one source account. Either Password or
// CookieFile must be set; a cookie file skips the login form.
type Account struct {
	Login        string    `json:"login"`
	Password     string    `json:"password,omitempty"`
	CookieFile   string    `json:"cookie_file,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// Credentials converts the account for a session driver
func (a *Account) Credentials() session.Credentials {
	return session.Credentials{
		Login:      a.Login,
		Password:   a.Password,
		CookieFile: a.CookieFile,
	}
}

// Validate checks that the account can be used to open a session
func (a *Account) Validate() error {
	if a == nil || a.Login == "" {
		return errors.New("login is required")
	}
	if a.Password == "" && a.CookieFile == "" {
		return errors.New("password or cookie file is required")
	}
	return nil
}

// ResolveCookieFile returns path as an absolute path to an existing
// regular file
func ResolveCookieFile(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("cookie file: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", fmt.Errorf("cookie file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("cookie file: %s is not a regular file", abs)
	}
	return abs, nil
}

// accountKey is the key a handle is stored under. Handles are
// case-insensitive and often written with a leading @.
func accountKey(login string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(login), "@"))
}

// persistable is the copy of account a durable store writes, keyed by
// handle and with the cookie file resolved. A cookie file that no longer
// exists is rejected so a later session does not fail at login.
func persistable(account *Account) (Account, error) {
	if err := account.Validate(); err != nil {
		return Account{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
	}

	a := *account
	a.Login = accountKey(a.Login)
	if a.Login == "" {
		return Account{}, fmt.Errorf("%w: login is required", ErrInvalidCredentials)
	}
	if a.CookieFile != "" {
		path, err := ResolveCookieFile(a.CookieFile)
		if err != nil {
			return Account{}, fmt.Errorf("%w: %v", ErrInvalidCredentials, err)
		}
		a.CookieFile = path
	}
	if a.LastModified.IsZero() {
		a.LastModified = time.Now()
	}
	return a, nil
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	// Store saves credentials for a given account
	Store(account *Account) error

	// Retrieve gets credentials for a specific login
	Retrieve(login string) (*Account, error)

	// List returns all stored accounts
	List() ([]*Account, error)

	// Delete removes credentials for a specific login
	Delete(login string) error

	// Exists checks if credentials exist for a login
	Exists(login string) bool
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a credential manager using the system keychain when
// available, an encrypted file under configDir, and the environment.
// An empty configDir selects the per-user config directory.
func NewManager(configDir string) (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	if configDir == "" {
		dir, err := ConfigDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get config directory: %w", err)
		}
		configDir = dir
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"))
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore)

	stores = append(stores, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores creates a manager over the given stores, tried in order
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves credentials using the first store that accepts them
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}

	account.LastModified = time.Now()

	var lastErr error
	for _, store := range m.stores {
		err := store.Store(account)
		if err == nil {
			return nil
		}
		lastErr = err
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return errors.New("no available credential stores")
}

// Retrieve gets credentials from the first store that has them
func (m *Manager) Retrieve(login string) (*Account, error) {
	for _, store := range m.stores {
		if account, err := store.Retrieve(login); err == nil && account != nil {
			return account, nil
		}
	}
	return nil, fmt.Errorf("%w for %s", ErrCredentialsNotFound, login)
}

// RetrieveDefault returns environment credentials if set, otherwise the
// most recently modified stored account
func (m *Manager) RetrieveDefault() (*Account, error) {
	for _, store := range m.stores {
		if env, ok := store.(*EnvironmentStore); ok {
			if account, err := env.Retrieve(""); err == nil {
				return account, nil
			}
		}
	}

	accounts, err := m.List()
	if err == nil && len(accounts) > 0 {
		return accounts[0], nil
	}

	return nil, ErrCredentialsNotFound
}

// List returns all stored accounts, newest first
func (m *Manager) List() ([]*Account, error) {
	accountMap := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			if existing, ok := accountMap[account.Login]; !ok || account.LastModified.After(existing.LastModified) {
				accountMap[account.Login] = account
			}
		}
	}

	result := make([]*Account, 0, len(accountMap))
	for _, account := range accountMap {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].LastModified.Equal(result[j].LastModified) {
			return result[i].LastModified.After(result[j].LastModified)
		}
		return result[i].Login < result[j].Login
	})

	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(login string) error {
	var deleted bool
	var lastErr error

	for _, store := range m.stores {
		if err := store.Delete(login); err == nil {
			deleted = true
		} else if !errors.Is(err, ErrCredentialsNotFound) && !errors.Is(err, ErrStoreUnavailable) {
			lastErr = err
		}
	}

	if !deleted && lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	if !deleted {
		return fmt.Errorf("%w for %s", ErrCredentialsNotFound, login)
	}

	return nil
}

// ConfigDir returns the per-user configuration directory, creating it
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "xscrap")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "xscrap")
	default:
		if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
			configDir = filepath.Join(xdgConfig, "xscrap")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "xscrap")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}

	return configDir, nil
}

// SanitizeAccount creates a copy of the account with the password masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}

	sanitized := *account
	if sanitized.Password != "" {
		sanitized.Password = maskString(account.Password)
	}
	return &sanitized
}

// maskString masks all but the first 2 and last 2 characters of a string
func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:2] + "..." + s[len(s)-2:]
}

// Errors
var (
	ErrCredentialsNotFound = errors.New("credentials not found")
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrStoreUnavailable    = errors.New("credential store unavailable")
)
