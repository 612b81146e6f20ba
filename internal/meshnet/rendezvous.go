package meshnet

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
)

// RendezvousProtocol is the stream protocol members dial once connected to
// an admin, so the admin can learn who has joined the workspace without
// waiting on a gossipsub heartbeat.
const RendezvousProtocol protocol.ID = "/CEYLON-AI-RENDEZVOUS/1.0.0"

const rendezvousTTL = 2 * time.Hour

type rendezvousRequest struct {
	Namespace string `json:"namespace"`
}

type rendezvousResponse struct {
	TTLSeconds int64 `json:"ttl_seconds"`
}

// registerRendezvousHandler installs the server side of the rendezvous
// exchange. Every swarm runs it; only a swarm acting as admin ever sees a
// dial, since members have no reason to open this protocol against
// each other.
func (s *Swarm) registerRendezvousHandler() {
	s.host.SetStreamHandler(RendezvousProtocol, func(str network.Stream) {
		defer str.Close()
		var req rendezvousRequest
		if err := json.NewDecoder(bufio.NewReader(str)).Decode(&req); err != nil {
			str.Reset()
			return
		}
		resp := rendezvousResponse{TTLSeconds: int64(rendezvousTTL.Seconds())}
		w := bufio.NewWriter(str)
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			str.Reset()
			return
		}
		if err := w.Flush(); err != nil {
			str.Reset()
			return
		}
		if s.metrics != nil {
			s.metrics.RendezvousRegistrationsTotal.WithLabelValues("server", "ok").Inc()
		}
		s.emit(Event{
			Kind:      EventRendezvousPeerRegistered,
			Peer:      str.Conn().RemotePeer(),
			Namespace: req.Namespace,
			TTL:       rendezvousTTL,
		})
	})
}

// RegisterRendezvous registers this swarm with the rendezvous point at
// rzPeer under namespace. Called by members once dialed into the admin.
func (s *Swarm) RegisterRendezvous(ctx context.Context, rzPeer peer.ID) error {
	str, err := s.host.NewStream(ctx, rzPeer, RendezvousProtocol)
	if err != nil {
		return fmt.Errorf("%w: open rendezvous stream to %s: %v", ErrTransport, rzPeer, err)
	}
	defer str.Close()

	w := bufio.NewWriter(str)
	if err := json.NewEncoder(w).Encode(rendezvousRequest{Namespace: s.rzNamespace}); err != nil {
		str.Reset()
		return fmt.Errorf("%w: send rendezvous request: %v", ErrTransport, err)
	}
	if err := w.Flush(); err != nil {
		str.Reset()
		return fmt.Errorf("%w: flush rendezvous request: %v", ErrTransport, err)
	}

	var resp rendezvousResponse
	if err := json.NewDecoder(bufio.NewReader(str)).Decode(&resp); err != nil {
		str.Reset()
		return fmt.Errorf("%w: read rendezvous response: %v", ErrTransport, err)
	}

	ttl := time.Duration(resp.TTLSeconds) * time.Second
	if s.metrics != nil {
		s.metrics.RendezvousRegistrationsTotal.WithLabelValues("client", "ok").Inc()
	}
	s.emit(Event{Kind: EventRendezvousRegistered, Namespace: s.rzNamespace, TTL: ttl, Node: rzPeer})
	return nil
}
