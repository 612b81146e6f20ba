// Package workspace orchestrates one admin agent and its members as
// sibling tasks under a shared cancellation, per the Workspace
// Orchestrator component.
package workspace

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/ceylonmesh/internal/agent"
	"github.com/shurlinet/ceylonmesh/internal/config"
	"github.com/shurlinet/ceylonmesh/internal/meshnet"
	"github.com/shurlinet/ceylonmesh/internal/peernode"
)

// ErrConfigInvalid is re-exported from internal/config so orchestrator
// callers do not need to import that package solely for error checks.
var ErrConfigInvalid = config.ErrConfigInvalid

// ParticipantSpec describes one agent to launch, admin or member.
type ParticipantSpec struct {
	Name       string
	Role       string
	Mode       peernode.Mode
	PrivKey    crypto.PrivKey
	ListenAddr string // admin only
	Handlers   agent.Handlers
}

// Config is the Workspace Orchestrator's construction input.
type Config struct {
	WorkspaceID         string
	RendezvousNamespace string
	EnableMDNS          bool
	Metrics             *meshnet.Metrics
	Admin               ParticipantSpec
	Members             []ParticipantSpec
}

// Validate checks that every participant name is unique, per the
// duplicate-name-rejected invariant.
func (c Config) Validate() error {
	seen := map[string]bool{c.Admin.Name: true}
	for _, m := range c.Members {
		if m.Name == "" {
			return fmt.Errorf("%w: member name is required", ErrConfigInvalid)
		}
		if seen[m.Name] {
			return fmt.Errorf("%w: duplicate agent name %q", ErrConfigInvalid, m.Name)
		}
		seen[m.Name] = true
	}
	return nil
}

// Workspace owns the running admin agent and its members.
type Workspace struct {
	cfg   Config
	log   *slog.Logger
	admin *agent.Agent
	nodes []*agent.Agent
}

// New validates cfg and constructs a Workspace. It does not start anything.
func New(cfg Config, log *slog.Logger) (*Workspace, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}
	return &Workspace{cfg: cfg, log: log}, nil
}

// Run starts the admin, waits for its swarm to be listening, then starts
// every member with the admin's peer id prefilled, and blocks until ctx is
// cancelled or any agent's Start returns.
func (w *Workspace) Run(ctx context.Context, initialInput any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var adminListenAddrs []string
	if w.cfg.Admin.ListenAddr != "" {
		adminListenAddrs = []string{w.cfg.Admin.ListenAddr}
	}
	adminSwarm, err := meshnet.New(meshnet.Config{
		PrivKey:             w.cfg.Admin.PrivKey,
		ListenAddrs:         adminListenAddrs,
		RendezvousNamespace: w.cfg.RendezvousNamespace,
		EnableMDNS:          w.cfg.EnableMDNS,
		Metrics:             w.cfg.Metrics,
	})
	if err != nil {
		return fmt.Errorf("start admin swarm: %w", err)
	}
	defer adminSwarm.Close()
	adminPeerID := adminSwarm.PeerID()
	adminAddrs := adminSwarm.Host().Addrs()

	adminNode := peernode.New(peernode.Config{
		Name:        w.cfg.Admin.Name,
		Role:        w.cfg.Admin.Role,
		WorkspaceID: w.cfg.WorkspaceID,
		Mode:        peernode.ModeAdmin,
		Metrics:     w.cfg.Metrics,
	}, adminSwarm, w.log)
	w.admin = agent.New(agent.Config{
		Detail: agent.AgentDetail{ID: adminPeerID.String(), Name: w.cfg.Admin.Name, Role: w.cfg.Admin.Role},
	}, adminNode, w.cfg.Admin.Handlers, w.log)

	var wg sync.WaitGroup
	errs := make([]error, 1+len(w.cfg.Members))

	wg.Add(1)
	go func() {
		defer wg.Done()
		errs[0] = w.admin.Start(ctx, initialInput)
		cancel()
	}()

	w.nodes = make([]*agent.Agent, len(w.cfg.Members))
	for i, spec := range w.cfg.Members {
		memberSwarm, err := meshnet.New(meshnet.Config{
			PrivKey:             spec.PrivKey,
			RendezvousNamespace: w.cfg.RendezvousNamespace,
			EnableMDNS:          w.cfg.EnableMDNS,
			Metrics:             w.cfg.Metrics,
		})
		if err != nil {
			cancel()
			wg.Wait()
			return fmt.Errorf("start member %q swarm: %w", spec.Name, err)
		}
		defer memberSwarm.Close()
		if err := memberSwarm.Dial(ctx, adminPeerID, adminAddrs); err != nil {
			w.log.Warn("workspace: initial dial to admin failed, relying on mdns", "member", spec.Name, "error", err)
		}

		memberNode := peernode.New(peernode.Config{
			Name:        spec.Name,
			Role:        spec.Role,
			WorkspaceID: w.cfg.WorkspaceID,
			Mode:        peernode.ModeMember,
			AdminPeerID: adminPeerID,
			Metrics:     w.cfg.Metrics,
		}, memberSwarm, w.log)
		a := agent.New(agent.Config{
			Detail: agent.AgentDetail{ID: memberSwarm.PeerID().String(), Name: spec.Name, Role: spec.Role},
		}, memberNode, spec.Handlers, w.log)
		w.nodes[i] = a

		idx := i + 1
		wg.Add(1)
		go func(spec ParticipantSpec) {
			defer wg.Done()
			errs[idx] = a.Start(ctx, initialInput)
			cancel()
		}(spec)
	}

	<-ctx.Done()
	wg.Wait()

	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

// Stop cancels the admin and every member agent.
func (w *Workspace) Stop() {
	if w.admin != nil {
		w.admin.Stop()
	}
	for _, n := range w.nodes {
		n.Stop()
	}
}

// AdminPeerID is the admin's peer id, valid only once Run has started it.
func (w *Workspace) AdminPeerID() (peer.ID, bool) {
	if w.admin == nil {
		return "", false
	}
	id, err := peer.Decode(w.admin.Details().ID)
	if err != nil {
		return "", false
	}
	return id, true
}
