package main

import (
	"errors"
	"testing"

	"github.com/shurlinet/ceylonmesh/internal/config"
)

func TestResolveConfig_AdminFromFlags(t *testing.T) {
	f := &agentFlags{name: "admin-1", workspace: "ws1", listenPort: 7846, mdns: true}
	cfg, err := resolveConfig("admin", f)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.Network.BufferSize != config.DefaultBufferSize {
		t.Errorf("buffer size = %d, want default", cfg.Network.BufferSize)
	}
	if !cfg.Discovery.IsMDNSEnabled() {
		t.Errorf("mdns should be enabled")
	}
}

func TestResolveConfig_MemberRequiresAdminCoordinates(t *testing.T) {
	f := &agentFlags{name: "worker-1", workspace: "ws1"}
	_, err := resolveConfig("member", f)
	if !errors.Is(err, config.ErrConfigInvalid) {
		t.Fatalf("got %v, want ErrConfigInvalid", err)
	}
}

func TestResolveConfig_MemberFromAdminAddr(t *testing.T) {
	f := &agentFlags{
		name: "worker-1", workspace: "ws1",
		adminPeer: "12D3KooWExample", adminAddr: "203.0.113.10:7846",
	}
	cfg, err := resolveConfig("member", f)
	if err != nil {
		t.Fatalf("resolveConfig: %v", err)
	}
	if cfg.Workspace.AdminIP != "203.0.113.10" || cfg.Workspace.AdminPort != 7846 {
		t.Errorf("unexpected workspace coordinates: %+v", cfg.Workspace)
	}
}

func TestSplitHostPort_RejectsMalformed(t *testing.T) {
	if _, _, err := splitHostPort("not-an-address"); !errors.Is(err, config.ErrConfigInvalid) {
		t.Fatalf("got %v, want ErrConfigInvalid", err)
	}
}
