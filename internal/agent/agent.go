// Package agent implements the per-peer runtime: identity, a PeerNode, the
// three host-supplied callbacks, and the four cooperating tasks (peer
// loop, ingress, processor, egress) joined by a single cancellation.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p/core/peer"

	"github.com/shurlinet/ceylonmesh/internal/peernode"
)

// ErrCancelled is observed by a task when the shared cancellation fires.
// It is never returned to the caller of Start.
var ErrCancelled = errors.New("agent: cancelled")

// AgentDetail is the descriptive metadata a peer publishes about itself in
// the introduction handshake.
type AgentDetail struct {
	ID   string
	Name string
	Role string
}

// MessageHandler receives application payloads routed to this agent.
type MessageHandler interface {
	OnMessage(createdBy string, data []byte, timeEpochSeconds int64)
}

// EventHandler is notified the first (and only the first) time a given
// peer's introduction is observed.
type EventHandler interface {
	OnAgentConnected(topic string, detail AgentDetail)
}

// Processor is the agent's single entry point, invoked exactly once per
// Start with the caller-supplied initial input.
type Processor interface {
	Run(initialInput any) error
}

// Handlers bundles the three callback interfaces a host supplies.
type Handlers struct {
	MessageHandler MessageHandler
	EventHandler   EventHandler
	Processor      Processor
}

// Config controls an Agent's construction.
type Config struct {
	Detail     AgentDetail
	BufferSize int
}

// Agent owns a PeerNode and drives callbacks from its traffic.
type Agent struct {
	cfg      Config
	node     *peernode.Node
	handlers Handlers
	log      *slog.Logger

	outbound chan peernode.Outbound
	shutdown chan peer.ID

	shutdownOnce sync.Once
}

// New builds an Agent around node. node must not yet be running.
func New(cfg Config, node *peernode.Node, handlers Handlers, log *slog.Logger) *Agent {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = peernode.DefaultBufferSize
	}
	if log == nil {
		log = slog.Default()
	}
	return &Agent{
		cfg:      cfg,
		node:     node,
		handlers: handlers,
		log:      log,
		outbound: make(chan peernode.Outbound, cfg.BufferSize),
		shutdown: make(chan peer.ID, 1),
	}
}

// Details is a pure accessor for this agent's descriptive metadata.
func (a *Agent) Details() AgentDetail { return a.cfg.Detail }

// Broadcast enqueues a fire-and-forget broadcast payload.
func (a *Agent) Broadcast(data []byte) {
	a.outbound <- peernode.Outbound{From: a.node.PeerID(), Payload: data}
}

// SendDirect enqueues a fire-and-forget payload addressed to toPeer.
func (a *Agent) SendDirect(toPeer string, data []byte) {
	a.outbound <- peernode.Outbound{From: a.node.PeerID(), Payload: data, ToPeer: toPeer}
}

// Stop requests cancellation. Idempotent: a second call is a harmless no-op.
func (a *Agent) Stop() {
	a.shutdownOnce.Do(func() {
		a.shutdown <- a.node.PeerID()
	})
}

// Start launches the peer loop, ingress, processor, and egress tasks and
// waits for any one of them to finish (or for Stop), then cancels the
// others and waits for them to exit. A single multi-way select — not a
// sequential join — is used so cancellation is observed as soon as any
// task stops, regardless of which one.
func (a *Agent) Start(ctx context.Context, initialInput any) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	peerDone := make(chan error, 1)
	ingressDone := make(chan struct{}, 1)
	processorDone := make(chan error, 1)
	egressDone := make(chan struct{}, 1)

	go func() { peerDone <- a.node.Run(ctx) }()
	go func() { a.runIngress(ctx); close(ingressDone) }()
	go func() { processorDone <- a.runProcessor(initialInput) }()
	go func() { a.runEgress(ctx); close(egressDone) }()

	var firstErr error
	var peerFired, ingressFired, processorFired, egressFired bool
	select {
	case err := <-peerDone:
		firstErr, peerFired = err, true
	case <-ingressDone:
		ingressFired = true
	case err := <-processorDone:
		firstErr, processorFired = err, true
	case <-egressDone:
		egressFired = true
	case <-a.shutdown:
	case <-ctx.Done():
	}

	cancel()

	// Drain the tasks that had not yet finished. The peer, ingress, and
	// egress tasks exit promptly on ctx.Done(); the processor task does not
	// observe ctx and is waited for until Processor.Run returns. A task whose
	// completion channel already fired above must not be read again — it
	// sends or closes exactly once.
	if !peerFired {
		<-peerDone
	}
	if !ingressFired {
		<-ingressDone
	}
	if !processorFired {
		<-processorDone
	}
	if !egressFired {
		<-egressDone
	}

	return firstErr
}

func (a *Agent) runIngress(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case in, ok := <-a.node.Inbound():
			if !ok {
				return
			}
			a.dispatch(in)
		}
	}
}

func (a *Agent) dispatch(in peernode.Inbound) {
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("agent: callback panicked, recovered", "panic", r)
		}
	}()

	switch in.Kind {
	case peernode.InboundMessage:
		if a.handlers.MessageHandler == nil {
			return
		}
		now := time.Now().Unix()
		a.handlers.MessageHandler.OnMessage(in.From.String(), in.Envelope.Payload, now)

	case peernode.InboundIntroduction:
		if a.handlers.EventHandler == nil {
			return
		}
		detail := AgentDetail{
			ID:   in.Envelope.AgentID,
			Name: in.Envelope.Name,
			Role: in.Envelope.Role,
		}
		a.handlers.EventHandler.OnAgentConnected(in.Envelope.Topic, detail)

	case peernode.InboundSubscribe, peernode.InboundUnsubscribe:
		// No host-visible callback; membership is exposed via
		// Node.ConnectedPeers for operators who need it.
	}
}

func (a *Agent) runProcessor(initialInput any) error {
	if a.handlers.Processor == nil {
		return nil
	}
	defer func() {
		if r := recover(); r != nil {
			a.log.Error("agent: processor panicked, recovered", "panic", r)
		}
	}()
	if err := a.handlers.Processor.Run(initialInput); err != nil {
		return fmt.Errorf("processor: %w", err)
	}
	return nil
}

func (a *Agent) runEgress(ctx context.Context) {
	emitter := a.node.Emitter()
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-a.outbound:
			select {
			case emitter <- req:
			case <-ctx.Done():
				return
			}
		}
	}
}
