package meshnet

import (
	"time"

	"github.com/libp2p/go-libp2p/core/peer"
)

// EventKind discriminates the uniform transport event stream the swarm
// adapter surfaces to the peer node.
type EventKind int

const (
	EventOther EventKind = iota
	EventNewListenAddr
	EventConnectionEstablished
	EventConnectionClosed
	EventGossipMessage
	EventGossipSubscribed
	EventGossipUnsubscribed
	EventRendezvousRegistered
	EventRendezvousPeerRegistered
)

func (k EventKind) String() string {
	switch k {
	case EventNewListenAddr:
		return "NewListenAddr"
	case EventConnectionEstablished:
		return "ConnectionEstablished"
	case EventConnectionClosed:
		return "ConnectionClosed"
	case EventGossipMessage:
		return "GossipMessage"
	case EventGossipSubscribed:
		return "GossipSubscribed"
	case EventGossipUnsubscribed:
		return "GossipUnsubscribed"
	case EventRendezvousRegistered:
		return "RendezvousRegistered"
	case EventRendezvousPeerRegistered:
		return "RendezvousPeerRegistered"
	default:
		return "Other"
	}
}

// Event is the single typed shape for everything the swarm adapter reports.
// Only the fields relevant to Kind are populated.
type Event struct {
	Kind EventKind

	Peer  peer.ID
	Cause error

	Topic string
	From  peer.ID
	Data  []byte

	Namespace string
	TTL       time.Duration
	Node      peer.ID
}
