package main

import (
	"log/slog"

	"github.com/shurlinet/ceylonmesh/internal/agent"
)

// loggingHandler is the default MessageHandler/EventHandler: it logs
// messages at debug level and agent connections at info level so an operator running the binary directly sees
// activity without having to embed it in a larger program.
type loggingHandler struct {
	log *slog.Logger
}

func (h loggingHandler) OnMessage(createdBy string, data []byte, timeEpochSeconds int64) {
	h.log.Debug("ceylonmesh: message received", "from", createdBy, "bytes", len(data), "at", timeEpochSeconds)
}

func (h loggingHandler) OnAgentConnected(topic string, detail agent.AgentDetail) {
	h.log.Info("ceylonmesh: agent connected", "topic", topic, "peer", detail.ID, "name", detail.Name, "role", detail.Role)
}

// noopProcessor never returns, so Start blocks until cancelled by signal or
// a peer/ingress/egress failure. This is the default when --echo is absent.
type noopProcessor struct {
	done <-chan struct{}
}

func (p noopProcessor) Run(any) error {
	<-p.done
	return nil
}

// echoProcessor is the trivial demonstration processor named in the CLI
// front end: it logs the initial input once and then blocks like
// noopProcessor, standing in for a real application's message loop.
type echoProcessor struct {
	log  *slog.Logger
	done <-chan struct{}
}

func (p echoProcessor) Run(initialInput any) error {
	p.log.Info("ceylonmesh: echo processor started", "initial_input", initialInput)
	<-p.done
	return nil
}
