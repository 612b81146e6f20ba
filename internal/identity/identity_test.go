package identity

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

func TestNewIdentity(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	if id.PeerID == "" {
		t.Fatal("empty peer id")
	}
}

func TestIdentityRoundTrip(t *testing.T) {
	id, err := NewIdentity()
	if err != nil {
		t.Fatalf("NewIdentity: %v", err)
	}
	data, err := id.Bytes()
	if err != nil {
		t.Fatalf("Bytes: %v", err)
	}
	reloaded, err := IdentityFromBytes(data, id.PeerID)
	if err != nil {
		t.Fatalf("IdentityFromBytes: %v", err)
	}
	if reloaded.PeerID != id.PeerID {
		t.Errorf("peer IDs differ: %s != %s", reloaded.PeerID, id.PeerID)
	}
}

func TestIdentityFromBytes_Mismatch(t *testing.T) {
	id1, _ := NewIdentity()
	id2, _ := NewIdentity()
	data, _ := id1.Bytes()
	_, err := IdentityFromBytes(data, id2.PeerID)
	if !errors.Is(err, ErrIdentityMismatch) {
		t.Fatalf("expected ErrIdentityMismatch, got %v", err)
	}
}

func TestLoadOrCreateIdentity_Creates(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "test.key")

	id, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if id == nil {
		t.Fatal("nil identity")
	}

	info, err := os.Stat(keyPath)
	if err != nil {
		t.Fatalf("key file not created: %v", err)
	}
	if runtime.GOOS != "windows" {
		if mode := info.Mode().Perm(); mode != 0600 {
			t.Errorf("key file permissions = %04o, want 0600", mode)
		}
	}
}

func TestLoadOrCreateIdentity_Loads(t *testing.T) {
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "test.key")

	id1, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("first LoadOrCreateIdentity: %v", err)
	}
	id2, err := LoadOrCreateIdentity(keyPath)
	if err != nil {
		t.Fatalf("second LoadOrCreateIdentity: %v", err)
	}
	if id1.PeerID != id2.PeerID {
		t.Errorf("peer IDs differ: %s != %s", id1.PeerID, id2.PeerID)
	}
}

func TestLoadOrCreateIdentity_BadPermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permissions not applicable on Windows")
	}
	dir := t.TempDir()
	keyPath := filepath.Join(dir, "test.key")

	if _, err := LoadOrCreateIdentity(keyPath); err != nil {
		t.Fatalf("LoadOrCreateIdentity: %v", err)
	}
	if err := os.Chmod(keyPath, 0644); err != nil {
		t.Fatalf("Chmod: %v", err)
	}
	_, err := LoadOrCreateIdentity(keyPath)
	if err == nil {
		t.Fatal("expected failure loading insecure key file")
	}
}
