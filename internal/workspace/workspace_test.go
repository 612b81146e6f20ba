package workspace

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"

	"github.com/shurlinet/ceylonmesh/internal/agent"
)

type noopHandler struct{}

func (noopHandler) OnMessage(string, []byte, int64)            {}
func (noopHandler) OnAgentConnected(string, agent.AgentDetail) {}
func (noopHandler) Run(any) error                              { return nil }

func genKey(t *testing.T) crypto.PrivKey {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	return priv
}

func TestConfig_ValidateRejectsDuplicateNames(t *testing.T) {
	cfg := Config{
		Admin: ParticipantSpec{Name: "admin"},
		Members: []ParticipantSpec{
			{Name: "worker"},
			{Name: "worker"},
		},
	}
	if err := cfg.Validate(); !errors.Is(err, ErrConfigInvalid) {
		t.Fatalf("got %v, want ErrConfigInvalid", err)
	}
}

func TestConfig_ValidateAcceptsUniqueNames(t *testing.T) {
	cfg := Config{
		Admin: ParticipantSpec{Name: "admin"},
		Members: []ParticipantSpec{
			{Name: "worker-1"},
			{Name: "worker-2"},
		},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestWorkspace_StartsAndStopsCleanly(t *testing.T) {
	h := noopHandler{}
	cfg := Config{
		WorkspaceID: "ws-lifecycle-test",
		Admin: ParticipantSpec{
			Name:       "admin",
			Mode:       "admin",
			PrivKey:    genKey(t),
			ListenAddr: "/ip4/127.0.0.1/tcp/0",
			Handlers:   agent.Handlers{MessageHandler: h, EventHandler: h, Processor: h},
		},
		Members: []ParticipantSpec{
			{
				Name:     "worker",
				Mode:     "member",
				PrivKey:  genKey(t),
				Handlers: agent.Handlers{MessageHandler: h, EventHandler: h, Processor: h},
			},
		},
	}

	ws, err := New(cfg, nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- ws.Run(ctx, nil) }()

	time.Sleep(300 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return within 5s of cancellation")
	}
}
