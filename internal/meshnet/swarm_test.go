package meshnet

import (
	"context"
	"testing"
	"time"

	"github.com/libp2p/go-libp2p/core/crypto"
)

func newTestSwarm(t *testing.T) *Swarm {
	t.Helper()
	priv, _, err := crypto.GenerateKeyPair(crypto.Ed25519, -1)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	s, err := New(Config{
		PrivKey:     priv,
		ListenAddrs: []string{"/ip4/127.0.0.1/tcp/0"},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func connectSwarms(t *testing.T, a, b *Swarm) {
	t.Helper()
	addrs := b.Host().Addrs()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Dial(ctx, b.PeerID(), addrs); err != nil {
		t.Fatalf("dial: %v", err)
	}
}

func TestSwarm_PublishSubscribeRoundTrip(t *testing.T) {
	a := newTestSwarm(t)
	b := newTestSwarm(t)
	connectSwarms(t, a, b)

	const topic = "workspace-test"
	if err := a.Subscribe(topic); err != nil {
		t.Fatalf("a.Subscribe: %v", err)
	}
	if err := b.Subscribe(topic); err != nil {
		t.Fatalf("b.Subscribe: %v", err)
	}

	// Give gossipsub a moment to form the mesh between the two peers.
	time.Sleep(500 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Publish(ctx, topic, []byte("hello")); err != nil {
		t.Fatalf("a.Publish: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-b.Events():
			if ev.Kind == EventGossipMessage && ev.Topic == topic {
				if string(ev.Data) != "hello" {
					t.Fatalf("got payload %q, want %q", ev.Data, "hello")
				}
				return
			}
		case <-deadline:
			t.Fatal("timed out waiting for gossip message")
		}
	}
}

func TestSwarm_PublishWithoutSubscribe(t *testing.T) {
	a := newTestSwarm(t)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := a.Publish(ctx, "nope", []byte("x")); err != ErrNotSubscribed {
		t.Fatalf("got %v, want ErrNotSubscribed", err)
	}
}

func TestSwarm_RendezvousRegister(t *testing.T) {
	admin := newTestSwarm(t)
	member := newTestSwarm(t)
	connectSwarms(t, member, admin)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := member.RegisterRendezvous(ctx, admin.PeerID()); err != nil {
		t.Fatalf("RegisterRendezvous: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-admin.Events():
			if ev.Kind == EventRendezvousPeerRegistered {
				return
			}
		case ev := <-member.Events():
			if ev.Kind == EventRendezvousRegistered {
				continue
			}
		case <-deadline:
			t.Fatal("timed out waiting for rendezvous registration event")
		}
	}
}
