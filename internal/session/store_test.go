package session_test

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"chatsync/internal/session"
)

func TestStore_RoundTrip(t *testing.T) {
	s, err := session.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	want := []byte("opaque session token")
	if err := s.Save("mtproto", want); err != nil {
		t.Fatalf("Save: %v", err)
	}

	got, err := s.Load("mtproto")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(got, want) {
		t.Errorf("Load = %q, want %q", got, want)
	}
}

func TestStore_MissingKeyIsNil(t *testing.T) {
	s, err := session.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	got, err := s.Load("never-saved")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Errorf("Load = %q, want nil for missing key", got)
	}
}

func TestStore_EncryptedAtRest(t *testing.T) {
	dir := t.TempDir()
	s, err := session.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	secret := []byte("do not store me in the clear")
	if err := s.Save("token", secret); err != nil {
		t.Fatalf("Save: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, "token.age"))
	if err != nil {
		t.Fatalf("read ciphertext: %v", err)
	}
	if bytes.Contains(raw, secret) {
		t.Error("plaintext found in stored file")
	}
}

func TestStore_ReopenDecrypts(t *testing.T) {
	dir := t.TempDir()
	s, err := session.Open(dir)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save("token", []byte("survives restart")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	reopened, err := session.Open(dir)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.Load("token")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if string(got) != "survives restart" {
		t.Errorf("Load = %q, want %q", got, "survives restart")
	}
}

func TestStore_Delete(t *testing.T) {
	s, err := session.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := s.Save("token", []byte("x")); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if err := s.Delete("token"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	got, err := s.Load("token")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got != nil {
		t.Error("value survived delete")
	}

	// Deleting again is a no-op.
	if err := s.Delete("token"); err != nil {
		t.Errorf("Delete on missing key: %v", err)
	}
}
