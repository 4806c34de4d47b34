// Package flow is the small runtime that receives the endpoint's messages: a
// sender that hands each message to the wired nodes, and the nodes themselves.
package flow

import (
	"context"
	"fmt"
	"log/slog"

	"aitrios-ingest/internal/metrics"
	"aitrios-ingest/internal/model"
)

// Node consumes messages.
type Node interface {
	Name() string
	Receive(ctx context.Context, msg *model.Message) error
}

// Sender delivers each message to its nodes in order and stops at the first
// node that fails.
type Sender struct {
	nodes   []Node
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewSender creates a Sender. m is optional.
func NewSender(logger *slog.Logger, m *metrics.Metrics, nodes ...Node) *Sender {
	return &Sender{
		nodes:   nodes,
		logger:  logger.With("component", "flow"),
		metrics: m,
	}
}

// Send delivers msg.
func (s *Sender) Send(ctx context.Context, msg *model.Message) error {
	if s.metrics != nil {
		s.metrics.MessagesTotal.WithLabelValues(msg.Payload.Kind().String()).Inc()
	}
	for _, n := range s.nodes {
		if err := n.Receive(ctx, msg); err != nil {
			return fmt.Errorf("node %s: %w", n.Name(), err)
		}
	}
	if len(s.nodes) == 0 {
		s.logger.Debug("message dropped: no nodes wired", "msgid", msg.ID)
	}
	return nil
}

// Nodes lists the names of the wired nodes in order.
func (s *Sender) Nodes() []string {
	names := make([]string, len(s.nodes))
	for i, n := range s.nodes {
		names[i] = n.Name()
	}
	return names
}
