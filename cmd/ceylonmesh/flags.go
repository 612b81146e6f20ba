package main

import (
	"flag"

	"github.com/shurlinet/ceylonmesh/internal/config"
)

// agentFlags mirrors config.AgentConfig's fields as individual flags, for
// invocations that skip --config entirely.
type agentFlags struct {
	configFile  string
	name        string
	role        string
	workspace   string
	keyFile     string
	listenPort  int
	bufferSize  int
	adminPeer   string
	adminAddr   string // host:port, member only
	stateFile   string
	rendezvous  string
	mdns        bool
	echo        bool
	metricsAddr string
}

func registerAgentFlags(fs *flag.FlagSet, f *agentFlags) {
	fs.StringVar(&f.configFile, "config", "", "path to a YAML agent config file")
	fs.StringVar(&f.name, "name", "", "agent name")
	fs.StringVar(&f.role, "role", "", "agent role")
	fs.StringVar(&f.workspace, "workspace", "", "workspace id")
	fs.StringVar(&f.keyFile, "key-file", "", "path to the persisted private key (created if absent)")
	fs.IntVar(&f.listenPort, "listen-port", 0, "QUIC/UDP listen port (admin only; 0 picks a random free port)")
	fs.IntVar(&f.bufferSize, "buffer-size", 0, "inbound/outbound queue capacity (default 100)")
	fs.StringVar(&f.adminPeer, "admin-peer", "", "admin's peer id (member only, unless --state-file is given)")
	fs.StringVar(&f.adminAddr, "admin-addr", "", "admin's host:port (member only, unless --state-file is given)")
	fs.StringVar(&f.stateFile, "state-file", "", "admin: where to persist workspace state; member: where to read it from")
	fs.StringVar(&f.rendezvous, "rendezvous-namespace", "", "rendezvous namespace override")
	fs.BoolVar(&f.mdns, "mdns", true, "enable LAN discovery via mDNS")
	fs.StringVar(&f.metricsAddr, "metrics-addr", "", "if set, serve Prometheus metrics on this address")
	fs.BoolVar(&f.echo, "echo", false, "run the demonstration echo processor instead of a silent no-op")
}

// resolveConfig builds an *config.AgentConfig either by loading --config, or
// by assembling one from the individual flags, then applies config.Load's
// buffer-size and rendezvous-namespace defaults (Version is left unset) and
// validates with config.Validate.
func resolveConfig(mode string, f *agentFlags) (*config.AgentConfig, error) {
	if f.configFile != "" {
		return config.Load(f.configFile)
	}

	cfg := &config.AgentConfig{
		Name: f.name,
		Role: f.role,
		Mode: mode,
		Workspace: config.WorkspaceSection{
			ID:          f.workspace,
			AdminPeerID: f.adminPeer,
			AdminIP:     "",
			AdminPort:   0,
			StateFile:   f.stateFile,
		},
		Identity: config.IdentitySection{KeyFile: f.keyFile},
		Network: config.NetworkSection{
			ListenPort: f.listenPort,
			BufferSize: f.bufferSize,
		},
		Discovery: config.DiscoverySection{
			RendezvousNamespace: f.rendezvous,
		},
	}
	cfg.Discovery.MDNSEnabled = &f.mdns
	if f.metricsAddr != "" {
		cfg.Telemetry.Metrics = config.MetricsSection{Enabled: true, ListenAddress: f.metricsAddr}
	}
	if f.adminAddr != "" {
		host, port, err := splitHostPort(f.adminAddr)
		if err != nil {
			return nil, err
		}
		cfg.Workspace.AdminIP = host
		cfg.Workspace.AdminPort = port
	}

	applyFileDefaults(cfg, mode)

	if cfg.Network.BufferSize == 0 {
		cfg.Network.BufferSize = config.DefaultBufferSize
	}
	if cfg.Discovery.RendezvousNamespace == "" {
		cfg.Discovery.RendezvousNamespace = "CEYLON-AI-PEER"
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyFileDefaults fills in workspace coordinates for a member from
// --state-file when the individual --admin-peer/--admin-addr flags were
// not given, matching the admin/member state-file handoff in §12.
func applyFileDefaults(cfg *config.AgentConfig, mode string) {
	if mode != "member" || cfg.Workspace.StateFile == "" {
		return
	}
	if cfg.Workspace.AdminPeerID != "" && cfg.Workspace.AdminIP != "" && cfg.Workspace.AdminPort != 0 {
		return
	}
	st, err := config.LoadWorkspaceState(cfg.Workspace.StateFile)
	if err != nil {
		return // surfaced again, more precisely, by Validate
	}
	if cfg.Workspace.ID == "" {
		cfg.Workspace.ID = st.WorkspaceID
	}
	cfg.Workspace.AdminPeerID = st.PeerID
	cfg.Workspace.AdminIP = st.IP
	cfg.Workspace.AdminPort = st.Port
}
