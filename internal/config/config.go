// Package config loads and validates agent configuration for ceylonmesh.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// CurrentConfigVersion is the latest configuration schema version.
// Bump this when adding fields that require migration.
const CurrentConfigVersion = 1

// DefaultBufferSize is the channel capacity applied when BufferSize is unset.
const DefaultBufferSize = 100

// AgentConfig is the unified configuration for an admin or member agent.
type AgentConfig struct {
	Version   int              `yaml:"version,omitempty"`
	Name      string           `yaml:"name"`
	Role      string           `yaml:"role,omitempty"`
	Mode      string           `yaml:"mode"`
	Workspace WorkspaceSection `yaml:"workspace"`
	Identity  IdentitySection  `yaml:"identity"`
	Network   NetworkSection   `yaml:"network"`
	Discovery DiscoverySection `yaml:"discovery,omitempty"`
	Telemetry TelemetrySection `yaml:"telemetry,omitempty"`
}

// WorkspaceSection identifies the workspace and, for members, how to reach the admin.
type WorkspaceSection struct {
	ID          string `yaml:"id"`
	AdminPeerID string `yaml:"admin_peer_id,omitempty"`
	AdminIP     string `yaml:"admin_ip,omitempty"`
	AdminPort   int    `yaml:"admin_port,omitempty"`
	StateFile   string `yaml:"state_file,omitempty"`
}

// IdentitySection holds the location of the persisted private key.
type IdentitySection struct {
	KeyFile string `yaml:"key_file"`
}

// NetworkSection holds transport-level settings.
type NetworkSection struct {
	ListenPort int `yaml:"listen_port,omitempty"`
	BufferSize int `yaml:"buffer_size,omitempty"`
}

// DiscoverySection holds optional discovery-assist settings.
type DiscoverySection struct {
	MDNSEnabled         *bool  `yaml:"mdns_enabled,omitempty"`
	DHTBootstrapEnabled *bool  `yaml:"dht_bootstrap_enabled,omitempty"`
	RendezvousNamespace string `yaml:"rendezvous_namespace,omitempty"`
}

// IsMDNSEnabled reports whether LAN discovery is enabled. Defaults to true.
func (d *DiscoverySection) IsMDNSEnabled() bool {
	if d.MDNSEnabled == nil {
		return true
	}
	return *d.MDNSEnabled
}

// IsDHTBootstrapEnabled reports whether DHT-assisted admin lookup is enabled.
// Defaults to false: most workspaces run with an explicit admin address.
func (d *DiscoverySection) IsDHTBootstrapEnabled() bool {
	if d.DHTBootstrapEnabled == nil {
		return false
	}
	return *d.DHTBootstrapEnabled
}

// TelemetrySection holds observability settings, disabled by default.
type TelemetrySection struct {
	Metrics MetricsSection `yaml:"metrics,omitempty"`
}

// MetricsSection controls Prometheus metrics exposure.
type MetricsSection struct {
	Enabled       bool   `yaml:"enabled"`
	ListenAddress string `yaml:"listen_address"`
}

// Load reads, parses, defaults, and validates an AgentConfig from path.
func Load(path string) (*AgentConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read config: %v", ErrConfigInvalid, err)
	}
	var cfg AgentConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config: %v", ErrConfigInvalid, err)
	}
	applyDefaults(&cfg)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(cfg *AgentConfig) {
	if cfg.Version == 0 {
		cfg.Version = CurrentConfigVersion
	}
	if cfg.Network.BufferSize == 0 {
		cfg.Network.BufferSize = DefaultBufferSize
	}
	if cfg.Discovery.RendezvousNamespace == "" {
		cfg.Discovery.RendezvousNamespace = "CEYLON-AI-PEER"
	}
}

// Validate checks required fields, returning ErrConfigInvalid-wrapped errors.
func Validate(cfg *AgentConfig) error {
	if cfg.Name == "" {
		return fmt.Errorf("%w: name is required", ErrConfigInvalid)
	}
	if cfg.Mode != "admin" && cfg.Mode != "member" {
		return fmt.Errorf("%w: mode must be \"admin\" or \"member\", got %q", ErrConfigInvalid, cfg.Mode)
	}
	if cfg.Workspace.ID == "" {
		return fmt.Errorf("%w: workspace.id is required", ErrConfigInvalid)
	}
	if cfg.Mode == "member" {
		if cfg.Workspace.AdminPeerID == "" || cfg.Workspace.AdminIP == "" || cfg.Workspace.AdminPort == 0 {
			return fmt.Errorf("%w: member requires workspace.admin_peer_id, admin_ip, and admin_port", ErrConfigInvalid)
		}
	}
	return nil
}
