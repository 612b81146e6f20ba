// Package meshcodec encodes and decodes the application-layer envelopes
// exchanged over the workspace gossip topic.
package meshcodec

import (
	"encoding/json"
	"fmt"
	"time"
)

// Kind discriminates the Envelope variants.
type Kind string

const (
	KindNodeMessage       Kind = "NodeMessage"
	KindAgentIntroduction Kind = "AgentIntroduction"
	KindSystemMessage     Kind = "SystemMessage"
)

// RoutingKind discriminates how a NodeMessage envelope is addressed.
type RoutingKind string

const (
	RoutingBroadcast RoutingKind = "broadcast"
	RoutingDirect    RoutingKind = "direct"
)

// Routing carries the addressing intent of a NodeMessage envelope.
type Routing struct {
	Kind   RoutingKind `json:"kind"`
	ToPeer string      `json:"to_peer,omitempty"`
}

// Envelope is the wire-level tagged union. Only the fields relevant to Type
// are populated; JSON omits the rest via omitempty.
type Envelope struct {
	Type Kind `json:"type"`

	// NodeMessage fields.
	ID      uint64   `json:"id,omitempty"`
	Payload []byte   `json:"payload,omitempty"`
	Routing *Routing `json:"routing,omitempty"`

	// AgentIntroduction fields.
	AgentID string `json:"agent_id,omitempty"`
	Role    string `json:"role,omitempty"`
	Name    string `json:"name,omitempty"`
	Topic   string `json:"topic,omitempty"`
}

// NewBroadcast builds a NodeMessage envelope addressed to every subscriber.
func NewBroadcast(payload []byte) Envelope {
	return Envelope{
		Type:    KindNodeMessage,
		ID:      uint64(time.Now().UnixNano()),
		Payload: payload,
		Routing: &Routing{Kind: RoutingBroadcast},
	}
}

// NewDirect builds a NodeMessage envelope addressed to a single peer.
func NewDirect(payload []byte, toPeer string) Envelope {
	return Envelope{
		Type:    KindNodeMessage,
		ID:      uint64(time.Now().UnixNano()),
		Payload: payload,
		Routing: &Routing{Kind: RoutingDirect, ToPeer: toPeer},
	}
}

// NewAgentIntroduction builds the handshake envelope a peer publishes once
// it has subscribed to the workspace topic.
func NewAgentIntroduction(agentID, role, name, topic string) Envelope {
	return Envelope{
		Type:    KindAgentIntroduction,
		AgentID: agentID,
		Role:    role,
		Name:    name,
		Topic:   topic,
	}
}

// NewSystemMessage builds the reserved, currently-unused system envelope.
func NewSystemMessage(id uint64, payload []byte) Envelope {
	return Envelope{Type: KindSystemMessage, ID: id, Payload: payload}
}

// Encode serializes an envelope to its wire representation.
func Encode(e Envelope) ([]byte, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	return data, nil
}

// Decode parses a wire-format envelope. An unrecognized Type yields
// ErrUnknownVariant so callers can log-and-drop per the forward-compatible
// contract.
func Decode(data []byte) (Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(data, &e); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrCodec, err)
	}
	switch e.Type {
	case KindNodeMessage, KindAgentIntroduction, KindSystemMessage:
		return e, nil
	default:
		return Envelope{}, fmt.Errorf("%w: %q", ErrUnknownVariant, e.Type)
	}
}
