package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/zalando/go-keyring"
)

const (
	keyringService = "xscrap"
	keyringPrefix  = "account:"
	// keyringIndex lists the stored handles, since keychains cannot be
	// enumerated portably
	keyringIndex = "accounts"
)

// keyringSecret is what one keychain entry holds for a handle
type keyringSecret struct {
	Password     string    `json:"password,omitempty"`
	CookieFile   string    `json:"cookie_file,omitempty"`
	LastModified time.Time `json:"last_modified"`
}

// KeyringStore keeps each account in the system keychain, plus an index
// entry naming every stored handle
type KeyringStore struct {
	mu sync.Mutex
}

// NewKeyringStore returns ErrStoreUnavailable when no keychain answers
func NewKeyringStore() (*KeyringStore, error) {
	if _, err := keyring.Get(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &KeyringStore{}, nil
}

func (k *KeyringStore) Store(account *Account) error {
	a, err := persistable(account)
	if err != nil {
		return err
	}

	secret, err := json.Marshal(keyringSecret{
		Password:     a.Password,
		CookieFile:   a.CookieFile,
		LastModified: a.LastModified,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal account: %w", err)
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	if err := keyring.Set(keyringService, keyringPrefix+a.Login, string(secret)); err != nil {
		return fmt.Errorf("failed to store in keyring: %w", err)
	}
	return k.updateIndex(func(handles map[string]bool) { handles[a.Login] = true })
}

func (k *KeyringStore) Retrieve(login string) (*Account, error) {
	handle := accountKey(login)
	if handle == "" {
		return nil, ErrInvalidCredentials
	}

	data, err := keyring.Get(keyringService, keyringPrefix+handle)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil, ErrCredentialsNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring: %w", err)
	}

	var secret keyringSecret
	if err := json.Unmarshal([]byte(data), &secret); err != nil {
		return nil, fmt.Errorf("keyring entry for %s is unreadable: %w", handle, err)
	}
	return &Account{
		Login:        handle,
		Password:     secret.Password,
		CookieFile:   secret.CookieFile,
		LastModified: secret.LastModified,
	}, nil
}

// List returns the indexed accounts ordered by handle. Index entries whose
// secret was removed outside xscrap are skipped.
func (k *KeyringStore) List() ([]*Account, error) {
	k.mu.Lock()
	handles, err := k.readIndex()
	k.mu.Unlock()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(handles))
	for h := range handles {
		names = append(names, h)
	}
	sort.Strings(names)

	accounts := make([]*Account, 0, len(names))
	for _, h := range names {
		a, err := k.Retrieve(h)
		if errors.Is(err, ErrCredentialsNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, nil
}

func (k *KeyringStore) Delete(login string) error {
	handle := accountKey(login)
	if handle == "" {
		return ErrInvalidCredentials
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	err := keyring.Delete(keyringService, keyringPrefix+handle)
	if errors.Is(err, keyring.ErrNotFound) {
		return ErrCredentialsNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete from keyring: %w", err)
	}
	return k.updateIndex(func(handles map[string]bool) { delete(handles, handle) })
}

func (k *KeyringStore) Exists(login string) bool {
	_, err := k.Retrieve(login)
	return err == nil
}

func (k *KeyringStore) readIndex() (map[string]bool, error) {
	handles := make(map[string]bool)
	data, err := keyring.Get(keyringService, keyringIndex)
	if errors.Is(err, keyring.ErrNotFound) {
		return handles, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read keyring index: %w", err)
	}

	var list []string
	if err := json.Unmarshal([]byte(data), &list); err != nil {
		return nil, fmt.Errorf("keyring index is unreadable: %w", err)
	}
	for _, h := range list {
		handles[h] = true
	}
	return handles, nil
}

// updateIndex applies fn to the index and writes it back; an empty index
// is removed
func (k *KeyringStore) updateIndex(fn func(map[string]bool)) error {
	handles, err := k.readIndex()
	if err != nil {
		return err
	}
	fn(handles)

	if len(handles) == 0 {
		if err := keyring.Delete(keyringService, keyringIndex); err != nil && !errors.Is(err, keyring.ErrNotFound) {
			return fmt.Errorf("failed to clear keyring index: %w", err)
		}
		return nil
	}

	list := make([]string, 0, len(handles))
	for h := range handles {
		list = append(list, h)
	}
	sort.Strings(list)
	data, err := json.Marshal(list)
	if err != nil {
		return fmt.Errorf("failed to marshal keyring index: %w", err)
	}
	if err := keyring.Set(keyringService, keyringIndex, string(data)); err != nil {
		return fmt.Errorf("failed to write keyring index: %w", err)
	}
	return nil
}
