package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore
const (
	LoginEnv      = "XSCRAP_LOGIN"
	PasswordEnv   = "XSCRAP_PASSWORD"
	CookieFileEnv = "XSCRAP_COOKIE_FILE"
)

// EnvironmentStore implements CredentialStore over environment variables.
// It is read-only and holds at most one account.
type EnvironmentStore struct{}

// NewEnvironmentStore creates a new environment-based credential store
func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

// Store is not supported for environment variables
func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

// Retrieve returns the environment account. An empty login matches it;
// otherwise login must equal XSCRAP_LOGIN.
func (e *EnvironmentStore) Retrieve(login string) (*Account, error) {
	account := &Account{
		Login:        os.Getenv(LoginEnv),
		Password:     os.Getenv(PasswordEnv),
		CookieFile:   os.Getenv(CookieFileEnv),
		LastModified: time.Now(),
	}
	if account.Validate() != nil {
		return nil, ErrCredentialsNotFound
	}
	if login != "" && login != account.Login {
		return nil, ErrCredentialsNotFound
	}
	return account, nil
}

// List returns a single account if environment variables are set
func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

// Delete is not supported for environment variables
func (e *EnvironmentStore) Delete(login string) error {
	return ErrStoreUnavailable
}

// Exists checks if environment credentials exist for login
func (e *EnvironmentStore) Exists(login string) bool {
	_, err := e.Retrieve(login)
	return err == nil
}
