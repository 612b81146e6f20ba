// Package meshnet wraps the libp2p host, gossipsub, and rendezvous stack
// behind a single typed event stream and a small set of publish/subscribe/
// dial primitives, so the peer node (internal/peernode) never touches the
// underlying networking library directly.
package meshnet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	pb "github.com/libp2p/go-libp2p-pubsub/pb"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/p2p/net/connmgr"
	"github.com/libp2p/go-libp2p/p2p/protocol/ping"
	libp2pquic "github.com/libp2p/go-libp2p/p2p/transport/quic"
	"github.com/libp2p/go-libp2p/p2p/transport/tcp"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/zeebo/blake3"
)

// IdentifyProtocol is the identify user-agent protocol string this swarm
// advertises, matching the upstream protocol this system was modeled on.
const IdentifyProtocol = "/CEYLON-AI-IDENTITY/0.0.1"

// RendezvousNamespace is the default namespace members register under.
const RendezvousNamespace = "CEYLON-AI-PEER"

const (
	heartbeatInterval  = 1 * time.Second
	historyLength      = 10
	historyGossip      = 10
	idleConnTimeout    = 240 * time.Second
	pingInterval       = 10 * time.Second
	defaultEventBuffer = 256
)

// Config controls swarm construction.
type Config struct {
	PrivKey             crypto.PrivKey
	ListenAddrs         []string
	RendezvousNamespace string // defaults to RendezvousNamespace when empty
	EnableMDNS          bool
	Metrics             *Metrics
}

// Swarm owns the libp2p host, the gossipsub router, and the rendezvous
// client/server behaviours, and republishes everything as a single Event
// stream.
type Swarm struct {
	host host.Host
	ps   *pubsub.PubSub
	ping *ping.PingService

	rzNamespace string

	topicsMu sync.Mutex
	topics   map[string]*pubsub.Topic
	subs     map[string]*pubsub.Subscription

	mdns *MDNSDiscovery

	events chan Event
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics *Metrics
}

// New builds a libp2p host with TCP and QUIC transports, a gossipsub
// router configured per this system's wire contract, and a rendezvous
// server behaviour (used only when this swarm acts as an admin; members
// simply never receive registrations).
func New(cfg Config) (*Swarm, error) {
	if cfg.PrivKey == nil {
		return nil, fmt.Errorf("%w: private key is required", ErrTransport)
	}
	ns := cfg.RendezvousNamespace
	if ns == "" {
		ns = RendezvousNamespace
	}

	cm, err := connmgr.NewConnManager(32, 128, connmgr.WithGracePeriod(idleConnTimeout))
	if err != nil {
		return nil, fmt.Errorf("%w: connection manager: %v", ErrTransport, err)
	}

	opts := []libp2p.Option{
		libp2p.Identity(cfg.PrivKey),
		libp2p.Transport(tcp.NewTCPTransport),
		libp2p.Transport(libp2pquic.NewTransport),
		libp2p.ConnectionManager(cm),
		libp2p.UserAgent(IdentifyProtocol),
	}
	if len(cfg.ListenAddrs) > 0 {
		opts = append(opts, libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	}

	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: create host: %v", ErrTransport, err)
	}

	ctx, cancel := context.WithCancel(context.Background())

	gsParams := pubsub.DefaultGossipSubParams()
	gsParams.HistoryLength = historyLength
	gsParams.HistoryGossip = historyGossip
	gsParams.HeartbeatInterval = heartbeatInterval

	ps, err := pubsub.NewGossipSub(ctx, h,
		pubsub.WithGossipSubParams(gsParams),
		pubsub.WithMessageIdFn(contentHashMessageID),
	)
	if err != nil {
		cancel()
		h.Close()
		return nil, fmt.Errorf("%w: create gossipsub: %v", ErrTransport, err)
	}

	s := &Swarm{
		host:        h,
		ps:          ps,
		ping:        ping.NewPingService(h),
		rzNamespace: ns,
		topics:      make(map[string]*pubsub.Topic),
		subs:        make(map[string]*pubsub.Subscription),
		events:      make(chan Event, defaultEventBuffer),
		ctx:         ctx,
		cancel:      cancel,
		metrics:     cfg.Metrics,
	}

	h.Network().Notify(s.notifiee())
	s.registerRendezvousHandler()

	if cfg.EnableMDNS {
		s.mdns = NewMDNSDiscovery(h, cfg.Metrics)
		if err := s.mdns.Start(ctx); err != nil {
			s.emit(Event{Kind: EventOther, Cause: err})
		}
	}

	s.wg.Add(1)
	go s.pingLoop()

	return s, nil
}

// Host exposes the underlying libp2p host for tests and CLI wiring.
func (s *Swarm) Host() host.Host { return s.host }

// PeerID is the swarm's own peer id.
func (s *Swarm) PeerID() peer.ID { return s.host.ID() }

// Events returns the channel of transport events. It is never closed while
// the swarm is open; callers select on it alongside their own cancellation.
func (s *Swarm) Events() <-chan Event { return s.events }

// Listen binds an additional listen address at runtime.
func (s *Swarm) Listen(addr ma.Multiaddr) error {
	if err := s.host.Network().Listen(addr); err != nil {
		return fmt.Errorf("%w: listen %s: %v", ErrTransport, addr, err)
	}
	s.emit(Event{Kind: EventNewListenAddr})
	return nil
}

// Dial opens an outbound connection to peerID at the given addresses.
func (s *Swarm) Dial(ctx context.Context, peerID peer.ID, addrs []ma.Multiaddr) error {
	s.host.Peerstore().AddAddrs(peerID, addrs, time.Hour)
	if err := s.host.Connect(ctx, peer.AddrInfo{ID: peerID, Addrs: addrs}); err != nil {
		return fmt.Errorf("%w: dial %s: %v", ErrTransport, peerID, err)
	}
	return nil
}

// Subscribe joins the gossipsub topic and starts forwarding its messages
// and (un)subscribe notifications as Events.
func (s *Swarm) Subscribe(topic string) error {
	s.topicsMu.Lock()
	defer s.topicsMu.Unlock()
	if _, ok := s.topics[topic]; ok {
		return nil
	}
	t, err := s.ps.Join(topic)
	if err != nil {
		return fmt.Errorf("%w: join topic %s: %v", ErrTransport, topic, err)
	}
	sub, err := t.Subscribe()
	if err != nil {
		t.Close()
		return fmt.Errorf("%w: subscribe %s: %v", ErrTransport, topic, err)
	}
	evts, err := t.EventHandler()
	if err != nil {
		sub.Cancel()
		t.Close()
		return fmt.Errorf("%w: topic event handler %s: %v", ErrTransport, topic, err)
	}
	s.topics[topic] = t
	s.subs[topic] = sub

	s.wg.Add(2)
	go s.readMessages(topic, sub)
	go s.readTopicEvents(topic, evts)

	// go-libp2p-pubsub's TopicEventHandler only reports remote peers
	// joining; surface our own subscription as a synthetic event so
	// callers can treat "subscribed" uniformly regardless of whose peer
	// id it is.
	s.emit(Event{Kind: EventGossipSubscribed, Topic: topic, Peer: s.host.ID()})
	return nil
}

// Publish broadcasts data on topic. The swarm must already be subscribed.
func (s *Swarm) Publish(ctx context.Context, topic string, data []byte) error {
	s.topicsMu.Lock()
	t, ok := s.topics[topic]
	s.topicsMu.Unlock()
	if !ok {
		return ErrNotSubscribed
	}
	if err := t.Publish(ctx, data); err != nil {
		if s.metrics != nil {
			s.metrics.PublishFailuresTotal.WithLabelValues(topic).Inc()
		}
		return fmt.Errorf("%w: publish %s: %v", ErrTransport, topic, err)
	}
	return nil
}

// Close tears down all subscriptions, the gossipsub router, and the host.
func (s *Swarm) Close() error {
	s.cancel()
	if s.mdns != nil {
		s.mdns.Close()
	}
	s.topicsMu.Lock()
	for _, sub := range s.subs {
		sub.Cancel()
	}
	for _, t := range s.topics {
		t.Close()
	}
	s.topicsMu.Unlock()
	s.wg.Wait()
	// The host's disconnect notifications still emit while it shuts down,
	// so the event channel is closed only after the host is.
	err := s.host.Close()
	close(s.events)
	return err
}

func (s *Swarm) emit(e Event) {
	select {
	case s.events <- e:
	case <-s.ctx.Done():
	}
}

func (s *Swarm) readMessages(topic string, sub *pubsub.Subscription) {
	defer s.wg.Done()
	for {
		msg, err := sub.Next(s.ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == s.host.ID() {
			continue
		}
		s.emit(Event{Kind: EventGossipMessage, Topic: topic, From: msg.GetFrom(), Data: msg.Data})
	}
}

func (s *Swarm) readTopicEvents(topic string, evts *pubsub.TopicEventHandler) {
	defer s.wg.Done()
	for {
		ev, err := evts.NextPeerEvent(s.ctx)
		if err != nil {
			return
		}
		switch ev.Type {
		case pubsub.PeerJoin:
			s.emit(Event{Kind: EventGossipSubscribed, Topic: topic, Peer: ev.Peer})
		case pubsub.PeerLeave:
			s.emit(Event{Kind: EventGossipUnsubscribed, Topic: topic, Peer: ev.Peer})
		}
	}
}

func (s *Swarm) notifiee() *network.NotifyBundle {
	return &network.NotifyBundle{
		ConnectedF: func(n network.Network, c network.Conn) {
			if s.metrics != nil {
				s.metrics.ConnectedPeers.WithLabelValues("peer").Set(float64(len(n.Peers())))
			}
			s.emit(Event{Kind: EventConnectionEstablished, Peer: c.RemotePeer()})
		},
		DisconnectedF: func(n network.Network, c network.Conn) {
			if s.metrics != nil {
				s.metrics.ConnectedPeers.WithLabelValues("peer").Set(float64(len(n.Peers())))
			}
			s.emit(Event{Kind: EventConnectionClosed, Peer: c.RemotePeer()})
		},
	}
}

func (s *Swarm) pingLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, p := range s.host.Network().Peers() {
				res := <-s.ping.Ping(s.ctx, p)
				if res.Error != nil {
					s.emit(Event{Kind: EventOther, Peer: p, Cause: res.Error})
				}
			}
		}
	}
}

// contentHashMessageID derives a gossipsub message id from a blake3 digest
// of the message payload, so identical payloads deduplicate across the
// mesh regardless of which peer relayed them first.
func contentHashMessageID(pmsg *pb.Message) string {
	h := blake3.Sum256(pmsg.Data)
	return string(h[:])
}
