// Package peernode drives a single Swarm Adapter through the admin/member
// handshake (connect, register, subscribe, introduce) and exposes the
// resulting traffic as a bounded inbound queue and an emitter channel for
// outbound requests, so the agent runtime never touches the transport
// directly.
package peernode

import (
	"context"
	"log/slog"
	"sync"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/ceylonmesh/internal/meshcodec"
	"github.com/shurlinet/ceylonmesh/internal/meshnet"
)

// Mode is the peer's role within a workspace.
type Mode string

const (
	ModeAdmin  Mode = "admin"
	ModeMember Mode = "member"
)

// DefaultBufferSize is the default capacity of the inbound and outbound
// queues when Config.BufferSize is zero.
const DefaultBufferSize = 100

// Config controls a Node's handshake behavior.
type Config struct {
	Name        string
	Role        string
	WorkspaceID string
	Mode        Mode
	BufferSize  int

	// AdminPeerID is required in ModeMember; the node registers with this
	// peer over rendezvous. Dialing the admin is left to the caller, before
	// Run.
	AdminPeerID peer.ID

	// Metrics is optional; when set, the node increments its send/receive/
	// introduction counters alongside the swarm adapter's own transport
	// counters.
	Metrics *meshnet.Metrics
}

// InboundKind discriminates the Inbound variants a Node surfaces.
type InboundKind int

const (
	InboundMessage InboundKind = iota
	InboundSubscribe
	InboundUnsubscribe
	InboundIntroduction
)

// Inbound is the single typed shape pushed onto a Node's inbound queue.
type Inbound struct {
	Kind     InboundKind
	Envelope meshcodec.Envelope
	From     peer.ID
	Topic    string
	Peer     peer.ID
}

// Outbound is an application-originated request to publish on the
// workspace topic, either as a broadcast (ToPeer empty) or direct message.
type Outbound struct {
	From    peer.ID
	Payload []byte
	ToPeer  string
}

// Node owns a Swarm Adapter and runs the admin/member protocol over it.
type Node struct {
	cfg   Config
	swarm *meshnet.Swarm
	log   *slog.Logger

	inbound  chan Inbound
	outbound chan Outbound

	subscribeOnce sync.Once

	mu             sync.RWMutex
	connectedPeers map[string]map[peer.ID]struct{}
	introduced     map[peer.ID]bool
}

// New builds a Node bound to swarm. swarm must not yet be running any
// application-level traffic; Node.Run drives its entire lifecycle.
func New(cfg Config, swarm *meshnet.Swarm, log *slog.Logger) *Node {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Node{
		cfg:            cfg,
		swarm:          swarm,
		log:            log,
		inbound:        make(chan Inbound, cfg.BufferSize),
		outbound:       make(chan Outbound, cfg.BufferSize),
		connectedPeers: make(map[string]map[peer.ID]struct{}),
		introduced:     make(map[peer.ID]bool),
	}
}

// PeerID is this node's own peer id.
func (n *Node) PeerID() peer.ID { return n.swarm.PeerID() }

// Inbound is the queue of application-relevant events the ingress pump
// produces. The channel is never closed while Run is active.
func (n *Node) Inbound() <-chan Inbound { return n.inbound }

// Emitter is the channel the egress pump forwards outbound requests onto.
func (n *Node) Emitter() chan<- Outbound { return n.outbound }

// ConnectedPeers returns a snapshot of the peers recorded as subscribed to
// topic. Only populated when Config.Mode is ModeAdmin.
func (n *Node) ConnectedPeers(topic string) []peer.ID {
	n.mu.RLock()
	defer n.mu.RUnlock()
	set := n.connectedPeers[topic]
	out := make([]peer.ID, 0, len(set))
	for p := range set {
		out = append(out, p)
	}
	return out
}

// Run drives the peer node until ctx is cancelled. In ModeMember it first
// registers with the admin over rendezvous (it does not dial), then services
// transport events and outbound requests until cancellation, per the shared
// steady-state pumps.
func (n *Node) Run(ctx context.Context) error {
	if n.cfg.Mode == ModeMember {
		if err := n.swarm.RegisterRendezvous(ctx, n.cfg.AdminPeerID); err != nil {
			n.log.Warn("peernode: initial rendezvous registration failed, will retry on reconnect", "error", err)
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-n.swarm.Events():
			if !ok {
				return nil
			}
			n.handleEvent(ctx, ev)
		case req, ok := <-n.outbound:
			if !ok {
				return nil
			}
			n.handleOutbound(ctx, req)
		}
	}
}

func (n *Node) handleEvent(ctx context.Context, ev meshnet.Event) {
	switch ev.Kind {
	case meshnet.EventConnectionEstablished:
		if n.cfg.Mode == ModeMember && ev.Peer == n.cfg.AdminPeerID {
			if err := n.swarm.RegisterRendezvous(ctx, n.cfg.AdminPeerID); err != nil {
				n.log.Warn("peernode: register with admin failed", "error", err)
			}
		}

	case meshnet.EventRendezvousRegistered:
		n.subscribeOnce.Do(func() { n.subscribe(ctx) })

	case meshnet.EventRendezvousPeerRegistered:
		if n.cfg.Mode == ModeAdmin {
			n.subscribeOnce.Do(func() { n.subscribe(ctx) })
		}

	case meshnet.EventGossipMessage:
		n.handleGossipMessage(ev)

	case meshnet.EventGossipSubscribed:
		if n.cfg.Mode == ModeAdmin {
			n.recordMember(ev.Topic, ev.Peer)
		}
		n.pushInbound(Inbound{Kind: InboundSubscribe, Topic: ev.Topic, Peer: ev.Peer})
		if ev.Peer == n.PeerID() && n.cfg.Mode == ModeMember {
			n.announce(ctx)
		}

	case meshnet.EventGossipUnsubscribed:
		if n.cfg.Mode == ModeAdmin {
			n.forgetMember(ev.Topic, ev.Peer)
		}
		n.pushInbound(Inbound{Kind: InboundUnsubscribe, Topic: ev.Topic, Peer: ev.Peer})

	default:
		if ev.Cause != nil {
			n.log.Debug("peernode: unhandled transport event", "kind", ev.Kind, "error", ev.Cause)
		}
	}
}

func (n *Node) handleGossipMessage(ev meshnet.Event) {
	e, err := meshcodec.Decode(ev.Data)
	if err != nil {
		n.log.Debug("peernode: dropping undecodable envelope", "error", err)
		return
	}

	switch e.Type {
	case meshcodec.KindNodeMessage:
		if e.Routing == nil {
			return
		}
		switch e.Routing.Kind {
		case meshcodec.RoutingBroadcast:
			if n.cfg.Metrics != nil {
				n.cfg.Metrics.MessagesReceivedTotal.WithLabelValues("broadcast").Inc()
			}
			n.pushInbound(Inbound{Kind: InboundMessage, Envelope: e, From: ev.From})
		case meshcodec.RoutingDirect:
			if e.Routing.ToPeer == n.PeerID().String() {
				if n.cfg.Metrics != nil {
					n.cfg.Metrics.MessagesReceivedTotal.WithLabelValues("direct").Inc()
				}
				n.pushInbound(Inbound{Kind: InboundMessage, Envelope: e, From: ev.From})
			}
		}

	case meshcodec.KindAgentIntroduction:
		if n.markIntroduced(ev.From) {
			if n.cfg.Metrics != nil {
				n.cfg.Metrics.IntroductionsTotal.WithLabelValues("received").Inc()
			}
			n.pushInbound(Inbound{Kind: InboundIntroduction, Envelope: e, From: ev.From})
		}

	case meshcodec.KindSystemMessage:
		// Reserved for forward compatibility; no handler consumes it.
	}
}

func (n *Node) handleOutbound(ctx context.Context, req Outbound) {
	var e meshcodec.Envelope
	routing := "broadcast"
	if req.ToPeer == "" {
		e = meshcodec.NewBroadcast(req.Payload)
	} else {
		routing = "direct"
		e = meshcodec.NewDirect(req.Payload, req.ToPeer)
	}
	data, err := meshcodec.Encode(e)
	if err != nil {
		n.log.Error("peernode: failed to encode outbound envelope", "error", err)
		return
	}
	if err := n.swarm.Publish(ctx, n.cfg.WorkspaceID, data); err != nil {
		n.log.Error("peernode: failed to publish", "error", err)
		return
	}
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.MessagesSentTotal.WithLabelValues(routing).Inc()
	}
}

func (n *Node) subscribe(ctx context.Context) {
	if err := n.swarm.Subscribe(n.cfg.WorkspaceID); err != nil {
		n.log.Error("peernode: failed to subscribe to workspace topic", "error", err)
	}
}

func (n *Node) announce(ctx context.Context) {
	e := meshcodec.NewAgentIntroduction(n.PeerID().String(), n.cfg.Role, n.cfg.Name, n.cfg.WorkspaceID)
	data, err := meshcodec.Encode(e)
	if err != nil {
		n.log.Error("peernode: failed to encode introduction", "error", err)
		return
	}
	if err := n.swarm.Publish(ctx, n.cfg.WorkspaceID, data); err != nil {
		n.log.Error("peernode: failed to publish introduction", "error", err)
		return
	}
	if n.cfg.Metrics != nil {
		n.cfg.Metrics.IntroductionsTotal.WithLabelValues("sent").Inc()
	}
}

func (n *Node) pushInbound(in Inbound) {
	n.inbound <- in
}

func (n *Node) markIntroduced(p peer.ID) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.introduced[p] {
		return false
	}
	n.introduced[p] = true
	return true
}

func (n *Node) recordMember(topic string, p peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	set, ok := n.connectedPeers[topic]
	if !ok {
		set = make(map[peer.ID]struct{})
		n.connectedPeers[topic] = set
	}
	set[p] = struct{}{}
}

func (n *Node) forgetMember(topic string, p peer.ID) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if set, ok := n.connectedPeers[topic]; ok {
		delete(set, p)
	}
}
