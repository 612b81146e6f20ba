package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoad_Admin(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "admin.yaml", `
name: alice
mode: admin
workspace:
  id: ws1
network:
  listen_port: 7846
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Network.BufferSize != DefaultBufferSize {
		t.Errorf("BufferSize default = %d, want %d", cfg.Network.BufferSize, DefaultBufferSize)
	}
	if cfg.Discovery.RendezvousNamespace != "CEYLON-AI-PEER" {
		t.Errorf("RendezvousNamespace default = %q", cfg.Discovery.RendezvousNamespace)
	}
	if !cfg.Discovery.IsMDNSEnabled() {
		t.Error("mDNS should default to enabled")
	}
	if cfg.Discovery.IsDHTBootstrapEnabled() {
		t.Error("DHT bootstrap should default to disabled")
	}
}

func TestLoad_MemberMissingAdminCoords(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "member.yaml", `
name: bob
mode: member
workspace:
  id: ws1
`)
	_, err := Load(path)
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestLoad_MemberComplete(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "member.yaml", `
name: bob
mode: member
workspace:
  id: ws1
  admin_peer_id: 12D3KooWExample
  admin_ip: 127.0.0.1
  admin_port: 7846
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Workspace.AdminPort != 7846 {
		t.Errorf("AdminPort = %d", cfg.Workspace.AdminPort)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nonexistent.yaml"))
	if !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid, got %v", err)
	}
}

func TestValidate_BadMode(t *testing.T) {
	cfg := &AgentConfig{Name: "x", Mode: "root", Workspace: WorkspaceSection{ID: "ws"}}
	if err := Validate(cfg); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for bad mode, got %v", err)
	}
}

func TestValidate_MissingName(t *testing.T) {
	cfg := &AgentConfig{Mode: "admin", Workspace: WorkspaceSection{ID: "ws"}}
	if err := Validate(cfg); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("expected ErrConfigInvalid for missing name, got %v", err)
	}
}
