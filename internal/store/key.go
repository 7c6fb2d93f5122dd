package store

import (
	"crypto/rand"
	"fmt"
	"os"

	"golang.org/x/crypto/chacha20poly1305"
)

// encryptionKey wraps the at-rest key material read from a tmpfs-backed
// path (/run/airdump/db.key, 0600). It is zeroed in place and the backing
// file unlinked on Close, mirroring the teacher gps.State's "closer
// stored, invoked on teardown" shape (internal/gps/state.go's
// activeCloser) and original_source/src/core/encryption.py's
// clear_db_key (overwrite, then unlink).
type encryptionKey struct {
	bytes []byte
	path  string
	aead  interface {
		Open(dst, nonce, ciphertext, additionalData []byte) ([]byte, error)
		Seal(dst, nonce, plaintext, additionalData []byte) []byte
	}
}

func loadOrCreateKey(path string) (*encryptionKey, error) {
	if path == "" {
		path = "/run/airdump/db.key"
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
		raw = make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(raw); err != nil {
			return nil, fmt.Errorf("generate key: %w", err)
		}
		if err := os.WriteFile(path, raw, 0o600); err != nil {
			return nil, fmt.Errorf("persist key: %w", err)
		}
	}
	if len(raw) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("key at %s has wrong length %d, want %d", path, len(raw), chacha20poly1305.KeySize)
	}

	aead, err := chacha20poly1305.New(raw)
	if err != nil {
		return nil, err
	}
	return &encryptionKey{bytes: raw, path: path, aead: aead}, nil
}

// seal encrypts plaintext with a fresh random nonce, returned prefixed to
// the ciphertext.
func (k *encryptionKey) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, chacha20poly1305.NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return k.aead.Seal(nonce, nonce, plaintext, nil), nil
}

func (k *encryptionKey) open(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < chacha20poly1305.NonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:chacha20poly1305.NonceSize], ciphertext[chacha20poly1305.NonceSize:]
	return k.aead.Open(nil, nonce, body, nil)
}

// zero scrubs the in-memory key material and unlinks the tmpfs-backed key
// file, per spec §5 ("zeroed+unlinked on teardown").
func (k *encryptionKey) zero() {
	for i := range k.bytes {
		k.bytes[i] = 0
	}
	if k.path != "" {
		_ = os.Remove(k.path)
	}
}
