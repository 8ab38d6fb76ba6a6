// Package session is a file-backed credential store. Tokens are
// encrypted at rest with an age x25519 keypair kept next to them, so a
// leaked backup of the directory alone does not expose the session.
package session

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"filippo.io/age"
)

const keyFile = "store.key"

// Store implements backend.CredentialStore over a directory of per-key
// .age ciphertext files.
type Store struct {
	dir      string
	identity *age.X25519Identity
}

// Open loads the store's keypair from dir, generating one on first use.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	keyPath := filepath.Join(dir, keyFile)

	data, err := os.ReadFile(keyPath)
	switch {
	case err == nil:
		identity, err := age.ParseX25519Identity(strings.TrimSpace(string(data)))
		if err != nil {
			return nil, fmt.Errorf("parse store key: %w", err)
		}
		return &Store{dir: dir, identity: identity}, nil
	case os.IsNotExist(err):
		identity, err := age.GenerateX25519Identity()
		if err != nil {
			return nil, fmt.Errorf("generate store key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(identity.String()+"\n"), 0o600); err != nil {
			return nil, fmt.Errorf("write store key: %w", err)
		}
		return &Store{dir: dir, identity: identity}, nil
	default:
		return nil, fmt.Errorf("read store key: %w", err)
	}
}

func (s *Store) path(key string) string {
	return filepath.Join(s.dir, key+".age")
}

// Save encrypts data and writes it under key, replacing any previous
// value atomically.
func (s *Store) Save(key string, data []byte) error {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return fmt.Errorf("encrypt %q: %w", key, err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("encrypt %q: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("encrypt %q: %w", key, err)
	}

	tmp := s.path(key) + ".tmp"
	if err := os.WriteFile(tmp, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	if err := os.Rename(tmp, s.path(key)); err != nil {
		return fmt.Errorf("write %q: %w", key, err)
	}
	return nil
}

// Load decrypts the value stored under key. A key that was never saved
// returns (nil, nil).
func (s *Store) Load(key string) ([]byte, error) {
	f, err := os.Open(s.path(key))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("open %q: %w", key, err)
	}
	defer f.Close()

	r, err := age.Decrypt(f, s.identity)
	if err != nil {
		return nil, fmt.Errorf("decrypt %q: %w", key, err)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decrypt %q: %w", key, err)
	}
	return data, nil
}

// Delete removes the value stored under key. Deleting a missing key is
// a no-op.
func (s *Store) Delete(key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %q: %w", key, err)
	}
	return nil
}
