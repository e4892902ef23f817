package auth

import "sync"

// MemoryStore is a CredentialStore held in process memory. Store errors
// can be injected with FailWith.
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]Account
	failWith error
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{accounts: make(map[string]Account)}
}

// FailWith makes every subsequent Store call return err
func (m *MemoryStore) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

func (m *MemoryStore) Store(account *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failWith != nil {
		return m.failWith
	}
	if account == nil || account.Login == "" {
		return ErrInvalidCredentials
	}
	m.accounts[account.Login] = *account
	return nil
}

func (m *MemoryStore) Retrieve(login string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	account, ok := m.accounts[login]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &account, nil
}

func (m *MemoryStore) List() ([]*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	accounts := make([]*Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		accounts = append(accounts, &account)
	}
	return accounts, nil
}

func (m *MemoryStore) Delete(login string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[login]; !ok {
		return ErrCredentialsNotFound
	}
	delete(m.accounts, login)
	return nil
}

func (m *MemoryStore) Exists(login string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.accounts[login]
	return ok
}

// Len returns the number of stored accounts
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}
