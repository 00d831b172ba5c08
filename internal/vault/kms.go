package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// KeyManager wraps and unwraps per-record data keys with a versioned
// master key. Old versions stay available so previously wrapped keys keep
// decrypting after a rotation.
type KeyManager interface {
	// Wrap encrypts a data key, returning versioned ciphertext "v<N>:<base64>".
	Wrap(dataKey []byte) (string, error)

	// Unwrap decrypts versioned ciphertext produced by Wrap.
	Unwrap(wrapped string) ([]byte, error)

	// Rotate generates a new active master key.
	Rotate() (version int, err error)

	// ActiveVersion returns the current active key version.
	ActiveVersion() int
}

// keystore is the on-disk JSON format for persisted master keys.
type keystore struct {
	ActiveVersion int               `json:"active_version"`
	Keys          map[string]string `json:"keys"` // version -> base64 32-byte key
}

// LocalKeyManager is a file-backed key manager using AES-256-GCM.
type LocalKeyManager struct {
	mu    sync.RWMutex
	store keystore
	path  string
	keys  map[int][]byte
}

// NewLocalKeyManager loads or creates a keystore at the given path. A new
// version-1 key is generated when the file does not exist.
func NewLocalKeyManager(path string) (*LocalKeyManager, error) {
	km := &LocalKeyManager{
		path: path,
		keys: make(map[int][]byte),
	}

	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("vault: create keystore dir: %w", err)
		}

		key := make([]byte, 32)
		if _, err := io.ReadFull(rand.Reader, key); err != nil {
			return nil, fmt.Errorf("vault: generate master key: %w", err)
		}

		km.store = keystore{
			ActiveVersion: 1,
			Keys:          map[string]string{"1": base64.StdEncoding.EncodeToString(key)},
		}
		km.keys[1] = key

		if err := km.persist(); err != nil {
			return nil, err
		}
		return km, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("vault: read keystore: %w", err)
	}
	if err := json.Unmarshal(data, &km.store); err != nil {
		return nil, fmt.Errorf("vault: parse keystore: %w", err)
	}

	for vStr, encoded := range km.store.Keys {
		v, err := strconv.Atoi(vStr)
		if err != nil {
			return nil, fmt.Errorf("vault: bad key version %q", vStr)
		}
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("vault: bad key material for version %d", v)
		}
		km.keys[v] = key
	}
	if _, ok := km.keys[km.store.ActiveVersion]; !ok {
		return nil, fmt.Errorf("vault: active key version %d missing", km.store.ActiveVersion)
	}
	return km, nil
}

func (km *LocalKeyManager) persist() error {
	data, err := json.MarshalIndent(km.store, "", "  ")
	if err != nil {
		return fmt.Errorf("vault: marshal keystore: %w", err)
	}
	tmp := km.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("vault: write keystore: %w", err)
	}
	return os.Rename(tmp, km.path)
}

// Wrap encrypts the data key under the active master key.
func (km *LocalKeyManager) Wrap(dataKey []byte) (string, error) {
	km.mu.RLock()
	version := km.store.ActiveVersion
	master := km.keys[version]
	km.mu.RUnlock()

	ciphertext, err := gcmSeal(master, dataKey)
	if err != nil {
		return "", fmt.Errorf("vault: wrap data key: %w", err)
	}
	return fmt.Sprintf("v%d:%s", version, base64.StdEncoding.EncodeToString(ciphertext)), nil
}

// Unwrap decrypts a wrapped data key with the master key version embedded
// in the ciphertext.
func (km *LocalKeyManager) Unwrap(wrapped string) ([]byte, error) {
	var version int
	var encoded string
	if _, err := fmt.Sscanf(wrapped, "v%d:%s", &version, &encoded); err != nil {
		return nil, fmt.Errorf("vault: malformed wrapped key")
	}

	km.mu.RLock()
	master, ok := km.keys[version]
	km.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vault: unknown master key version %d", version)
	}

	ciphertext, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault: malformed wrapped key: %w", err)
	}
	dataKey, err := gcmOpen(master, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("vault: unwrap data key: %w", err)
	}
	return dataKey, nil
}

// Rotate generates a new active master key. Old keys remain for decryption.
func (km *LocalKeyManager) Rotate() (int, error) {
	km.mu.Lock()
	defer km.mu.Unlock()

	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return 0, fmt.Errorf("vault: generate master key: %w", err)
	}

	version := km.store.ActiveVersion + 1
	km.store.ActiveVersion = version
	km.store.Keys[strconv.Itoa(version)] = base64.StdEncoding.EncodeToString(key)
	km.keys[version] = key

	if err := km.persist(); err != nil {
		return 0, err
	}
	return version, nil
}

// ActiveVersion returns the current active key version.
func (km *LocalKeyManager) ActiveVersion() int {
	km.mu.RLock()
	defer km.mu.RUnlock()
	return km.store.ActiveVersion
}

// gcmSeal encrypts plaintext with AES-256-GCM, prepending the nonce.
func gcmSeal(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// gcmOpen decrypts ciphertext produced by gcmSeal.
func gcmOpen(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, sealed := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, sealed, nil)
}
