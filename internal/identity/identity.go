// Package identity manages agent key material: generation, persistence, and
// the peer id derived from an Ed25519 keypair.
package identity

import (
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
)

// ErrIdentityMismatch is returned when a rehydrated identity's derived peer
// id does not match the peer id it was created with.
var ErrIdentityMismatch = errors.New("identity mismatch")

// PeerIdentity is a keypair plus its derived, stable peer id. Immutable
// after construction.
type PeerIdentity struct {
	Priv   crypto.PrivKey
	PeerID peer.ID
}

// NewIdentity generates a fresh Ed25519 keypair and derives its peer id.
func NewIdentity() (*PeerIdentity, error) {
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		return nil, fmt.Errorf("generate keypair: %w", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}
	return &PeerIdentity{Priv: priv, PeerID: id}, nil
}

// IdentityFromBytes rehydrates an identity from a protobuf-encoded private
// key. The derived peer id is recomputed and must be internally consistent;
// a corrupted or foreign key fails with ErrIdentityMismatch when the caller
// supplies wantPeerID and it does not match.
func IdentityFromBytes(data []byte, wantPeerID peer.ID) (*PeerIdentity, error) {
	priv, err := crypto.UnmarshalPrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("unmarshal private key: %w", err)
	}
	id, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("derive peer id: %w", err)
	}
	if wantPeerID != "" && id != wantPeerID {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrIdentityMismatch, id, wantPeerID)
	}
	return &PeerIdentity{Priv: priv, PeerID: id}, nil
}

// Bytes returns the protobuf-encoded private key, suitable for IdentityFromBytes.
func (p *PeerIdentity) Bytes() ([]byte, error) {
	data, err := crypto.MarshalPrivateKey(p.Priv)
	if err != nil {
		return nil, fmt.Errorf("marshal private key: %w", err)
	}
	return data, nil
}

// CheckKeyFilePermissions rejects key files readable by group or others.
func CheckKeyFilePermissions(path string) error {
	if runtime.GOOS == "windows" {
		return nil
	}
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("cannot stat key file %s: %w", path, err)
	}
	mode := info.Mode().Perm()
	if mode&0077 != 0 {
		return fmt.Errorf("key file %s has insecure permissions %04o (expected 0600); fix with: chmod 600 %s", path, mode, path)
	}
	return nil
}

// LoadOrCreateIdentity loads an identity from path, or generates and
// persists a new one (mode 0600) if the file does not exist.
func LoadOrCreateIdentity(path string) (*PeerIdentity, error) {
	if data, err := os.ReadFile(path); err == nil {
		if err := CheckKeyFilePermissions(path); err != nil {
			return nil, err
		}
		return IdentityFromBytes(data, "")
	}

	ident, err := NewIdentity()
	if err != nil {
		return nil, err
	}
	data, err := ident.Bytes()
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return nil, fmt.Errorf("save key to %s: %w", path, err)
	}
	return ident, nil
}
