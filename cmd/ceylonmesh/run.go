package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/shurlinet/ceylonmesh/internal/agent"
	"github.com/shurlinet/ceylonmesh/internal/config"
	"github.com/shurlinet/ceylonmesh/internal/identity"
	"github.com/shurlinet/ceylonmesh/internal/meshnet"
	"github.com/shurlinet/ceylonmesh/internal/peernode"
)

// Exit codes, per the CLI front end's contract.
const (
	exitOK            = 0
	exitConfigInvalid = 1
	exitSignalled     = 130
)

// runAgentProcess parses flags for mode ("admin" or "member"), builds and
// runs a single agent, and returns the process exit code.
func runAgentProcess(mode string, args []string) int {
	fs := flag.NewFlagSet(mode, flag.ExitOnError)
	f := &agentFlags{}
	registerAgentFlags(fs, f)
	fs.Parse(args)

	log := slog.Default()

	cfg, err := resolveConfig(mode, f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ceylonmesh: %v\n", err)
		return exitConfigInvalid
	}

	keyFile := cfg.Identity.KeyFile
	if keyFile == "" {
		keyFile = defaultKeyFilePath(cfg)
	}
	ident, err := identity.LoadOrCreateIdentity(keyFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ceylonmesh: load identity: %v\n", err)
		return exitConfigInvalid
	}
	log.Info("ceylonmesh: identity ready", "peer_id", ident.PeerID, "key_file", keyFile)

	var metrics *meshnet.Metrics
	if cfg.Telemetry.Metrics.Enabled {
		metrics = meshnet.NewMetrics(version, goVersion())
	}

	var listenAddrs []string
	if mode == "admin" {
		port := cfg.Network.ListenPort
		listenAddrs = []string{fmt.Sprintf("/ip4/0.0.0.0/udp/%d/quic-v1", port)}
	}

	swarm, err := meshnet.New(meshnet.Config{
		PrivKey:             ident.Priv,
		ListenAddrs:         listenAddrs,
		RendezvousNamespace: cfg.Discovery.RendezvousNamespace,
		EnableMDNS:          cfg.Discovery.IsMDNSEnabled(),
		Metrics:             metrics,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "ceylonmesh: start swarm: %v\n", err)
		return exitConfigInvalid
	}
	defer swarm.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if metrics != nil && cfg.Telemetry.Metrics.ListenAddress != "" {
		srv := &http.Server{Addr: cfg.Telemetry.Metrics.ListenAddress, Handler: metrics.Handler()}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("ceylonmesh: metrics server stopped", "error", err)
			}
		}()
		go func() {
			<-ctx.Done()
			srv.Close()
		}()
	}

	var adminPeerID peer.ID
	if mode == "member" {
		adminPeerID, err = peer.Decode(cfg.Workspace.AdminPeerID)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ceylonmesh: bad admin peer id: %v\n", err)
			return exitConfigInvalid
		}
		addr, err := ma.NewMultiaddr(fmt.Sprintf("/ip4/%s/udp/%d/quic-v1", cfg.Workspace.AdminIP, cfg.Workspace.AdminPort))
		if err != nil {
			fmt.Fprintf(os.Stderr, "ceylonmesh: bad admin address: %v\n", err)
			return exitConfigInvalid
		}
		if err := swarm.Dial(ctx, adminPeerID, []ma.Multiaddr{addr}); err != nil {
			log.Warn("ceylonmesh: initial dial to admin failed, relying on mDNS", "error", err)
		}
	} else if cfg.Workspace.StateFile != "" {
		if err := persistWorkspaceState(swarm, cfg); err != nil {
			log.Warn("ceylonmesh: could not persist workspace state", "error", err)
		}
	}

	nodeMode := peernode.ModeMember
	if mode == "admin" {
		nodeMode = peernode.ModeAdmin
	}
	node := peernode.New(peernode.Config{
		Name:        cfg.Name,
		Role:        cfg.Role,
		WorkspaceID: cfg.Workspace.ID,
		Mode:        nodeMode,
		BufferSize:  cfg.Network.BufferSize,
		AdminPeerID: adminPeerID,
		Metrics:     metrics,
	}, swarm, log)

	done := make(chan struct{})
	var proc agent.Processor = noopProcessor{done: done}
	if f.echo {
		proc = echoProcessor{log: log, done: done}
	}
	handler := loggingHandler{log: log}

	a := agent.New(agent.Config{
		Detail:     agent.AgentDetail{ID: ident.PeerID.String(), Name: cfg.Name, Role: cfg.Role},
		BufferSize: cfg.Network.BufferSize,
	}, node, agent.Handlers{MessageHandler: handler, EventHandler: handler, Processor: proc}, log)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	signalled := false
	go func() {
		select {
		case sig := <-sigCh:
			log.Info("ceylonmesh: received signal, shutting down", "signal", sig)
			signalled = true
			a.Stop()
		case <-ctx.Done():
		}
		close(done)
	}()

	log.Info("ceylonmesh: agent starting", "mode", mode, "name", cfg.Name, "workspace", cfg.Workspace.ID)
	startErr := a.Start(ctx, nil)
	cancel()

	if startErr != nil {
		fmt.Fprintf(os.Stderr, "ceylonmesh: %v\n", startErr)
		return exitConfigInvalid
	}
	if signalled {
		return exitSignalled
	}
	return exitOK
}

func defaultKeyFilePath(cfg *config.AgentConfig) string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "ceylonmesh", cfg.Mode+"-"+cfg.Name+".key")
}

func persistWorkspaceState(swarm *meshnet.Swarm, cfg *config.AgentConfig) error {
	addrs := swarm.Host().Addrs()
	if len(addrs) == 0 {
		return fmt.Errorf("no listen addresses available to persist")
	}
	ip, port, err := hostPortFromMultiaddr(addrs[0])
	if err != nil {
		return err
	}
	return config.WriteWorkspaceState(cfg.Workspace.StateFile, config.WorkspaceState{
		WorkspaceID: cfg.Workspace.ID,
		PeerID:      swarm.PeerID().String(),
		Port:        port,
		IP:          ip,
	})
}
