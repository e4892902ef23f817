package auth

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"golang.org/x/crypto/pbkdf2"
)

// PassphraseEnv overrides the generated key file
const PassphraseEnv = "XSCRAP_PASSPHRASE"

const (
	vaultVersion = 2
	keyFileName  = "credentials.key"
	saltSize     = 32
	keySize      = 32
	iterations   = 100000
)

// vaultFile is the on-disk form of the account vault. Sealed is the
// AES-GCM sealed JSON of the accounts keyed by handle.
type vaultFile struct {
	Version  int       `json:"version"`
	Salt     string    `json:"salt"`
	Sealed   string    `json:"sealed"`
	Modified time.Time `json:"modified"`
}

// EncryptedFileStore keeps accounts in one encrypted vault file. The key
// is derived from XSCRAP_PASSPHRASE, or from a random passphrase kept in
// credentials.key beside the vault.
type EncryptedFileStore struct {
	path       string
	passphrase string

	mu sync.Mutex
	// key is the cached derivation for salt
	salt []byte
	key  []byte
}

// NewEncryptedFileStore opens the vault at path, creating its directory
func NewEncryptedFileStore(path string) (*EncryptedFileStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create directory: %w", err)
	}

	passphrase, err := loadPassphrase(filepath.Join(dir, keyFileName))
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}
	return &EncryptedFileStore{path: path, passphrase: passphrase}, nil
}

// Store seals account into the vault, replacing any entry for the handle
func (e *EncryptedFileStore) Store(account *Account) error {
	a, err := persistable(account)
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, salt, err := e.open()
	if err != nil {
		return err
	}
	accounts[a.Login] = a
	return e.seal(accounts, salt)
}

func (e *EncryptedFileStore) Retrieve(login string) (*Account, error) {
	key := accountKey(login)
	if key == "" {
		return nil, ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, _, err := e.open()
	if err != nil {
		return nil, err
	}
	a, ok := accounts[key]
	if !ok {
		return nil, ErrCredentialsNotFound
	}
	return &a, nil
}

// List returns the vault's accounts ordered by handle
func (e *EncryptedFileStore) List() ([]*Account, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, _, err := e.open()
	if err != nil {
		return nil, err
	}
	out := make([]*Account, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, &a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Login < out[j].Login })
	return out, nil
}

// Delete removes the handle. The vault file goes with the last account.
func (e *EncryptedFileStore) Delete(login string) error {
	key := accountKey(login)
	if key == "" {
		return ErrInvalidCredentials
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	accounts, salt, err := e.open()
	if err != nil {
		return err
	}
	if _, ok := accounts[key]; !ok {
		return ErrCredentialsNotFound
	}
	delete(accounts, key)

	if len(accounts) == 0 {
		if err := os.Remove(e.path); err != nil {
			return fmt.Errorf("failed to remove vault: %w", err)
		}
		return nil
	}
	return e.seal(accounts, salt)
}

func (e *EncryptedFileStore) Exists(login string) bool {
	_, err := e.Retrieve(login)
	return err == nil
}

// open reads and unseals the vault. A missing vault is empty, with a fresh
// salt for the first seal.
func (e *EncryptedFileStore) open() (map[string]Account, []byte, error) {
	content, err := os.ReadFile(e.path)
	if errors.Is(err, os.ErrNotExist) {
		salt := make([]byte, saltSize)
		if _, err := io.ReadFull(rand.Reader, salt); err != nil {
			return nil, nil, fmt.Errorf("failed to generate salt: %w", err)
		}
		return make(map[string]Account), salt, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read vault: %w", err)
	}

	var vf vaultFile
	if err := json.Unmarshal(content, &vf); err != nil {
		return nil, nil, fmt.Errorf("failed to parse vault: %w", err)
	}
	if vf.Version != vaultVersion {
		return nil, nil, fmt.Errorf("unsupported vault version %d", vf.Version)
	}
	salt, err := base64.StdEncoding.DecodeString(vf.Salt)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode salt: %w", err)
	}
	sealed, err := base64.StdEncoding.DecodeString(vf.Sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode vault: %w", err)
	}

	plain, err := unseal(sealed, e.deriveKey(salt))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decrypt vault (wrong %s?): %w", PassphraseEnv, err)
	}

	accounts := make(map[string]Account)
	if err := json.Unmarshal(plain, &accounts); err != nil {
		return nil, nil, fmt.Errorf("failed to parse accounts: %w", err)
	}
	return accounts, salt, nil
}

// seal writes accounts to the vault through a temp file and rename
func (e *EncryptedFileStore) seal(accounts map[string]Account, salt []byte) error {
	plain, err := json.Marshal(accounts)
	if err != nil {
		return fmt.Errorf("failed to marshal accounts: %w", err)
	}
	sealed, err := sealBytes(plain, e.deriveKey(salt))
	if err != nil {
		return fmt.Errorf("failed to encrypt vault: %w", err)
	}

	content, err := json.MarshalIndent(vaultFile{
		Version:  vaultVersion,
		Salt:     base64.StdEncoding.EncodeToString(salt),
		Sealed:   base64.StdEncoding.EncodeToString(sealed),
		Modified: time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal vault: %w", err)
	}

	tmp := e.path + ".tmp"
	if err := os.WriteFile(tmp, content, 0600); err != nil {
		return fmt.Errorf("failed to write vault: %w", err)
	}
	if err := os.Rename(tmp, e.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to replace vault: %w", err)
	}
	return nil
}

func (e *EncryptedFileStore) deriveKey(salt []byte) []byte {
	if e.key != nil && string(e.salt) == string(salt) {
		return e.key
	}
	e.salt = append([]byte(nil), salt...)
	e.key = pbkdf2.Key([]byte(e.passphrase), salt, iterations, keySize, sha256.New)
	return e.key
}

// loadPassphrase prefers XSCRAP_PASSPHRASE, then the key file, and
// otherwise writes a new random key file
func loadPassphrase(keyFile string) (string, error) {
	if pass := os.Getenv(PassphraseEnv); pass != "" {
		return pass, nil
	}
	if content, err := os.ReadFile(keyFile); err == nil && len(content) > 0 {
		return string(content), nil
	}

	b := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, b); err != nil {
		return "", fmt.Errorf("failed to generate passphrase: %w", err)
	}
	passphrase := base64.URLEncoding.EncodeToString(b)
	if err := os.WriteFile(keyFile, []byte(passphrase), 0600); err != nil {
		return "", fmt.Errorf("failed to save passphrase: %w", err)
	}
	return passphrase, nil
}

// sealBytes encrypts with AES-GCM, prefixing the nonce
func sealBytes(plain, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plain, nil), nil
}

func unseal(sealed, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < gcm.NonceSize() {
		return nil, errors.New("sealed vault too short")
	}
	nonce, body := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
