package peernode

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/shurlinet/ceylonmesh/internal/meshnet"
)

func newTestSwarm(t *testing.T) *meshnet.Swarm {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := meshnet.New(meshnet.Config{
		PrivKey:     priv,
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
	})
	if err != nil {
		t.Fatalf("meshnet.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestNode_AdminMemberHandshakeAndBroadcast(t *testing.T) {
	adminSwarm := newTestSwarm(t)
	memberSwarm := newTestSwarm(t)

	const workspace = "ws-test"

	admin := New(Config{Name: "admin", Mode: ModeAdmin, WorkspaceID: workspace}, adminSwarm, nil)
	member := New(Config{Name: "worker", Mode: ModeMember, WorkspaceID: workspace, AdminPeerID: adminSwarm.PeerID()}, memberSwarm, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := memberSwarm.Dial(ctx, adminSwarm.PeerID(), adminSwarm.Host().Addrs()); err != nil {
		t.Fatalf("dial: %v", err)
	}

	go admin.Run(ctx)
	go member.Run(ctx)

	// Wait for the introduction to surface on the admin side, which only
	// happens once the member has subscribed and announced itself.
	deadline := time.After(8 * time.Second)
	for {
		select {
		case in := <-admin.Inbound():
			if in.Kind == InboundIntroduction {
				goto introduced
			}
		case <-deadline:
			t.Fatal("timed out waiting for introduction")
		}
	}
introduced:

	member.Emitter() <- Outbound{From: member.PeerID(), Payload: []byte("hi-from-member")}

	deadline = time.After(8 * time.Second)
	for {
		select {
		case in := <-admin.Inbound():
			if in.Kind == InboundMessage && string(in.Envelope.Payload) == "hi-from-member" {
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for broadcast message")
		}
	}
}
