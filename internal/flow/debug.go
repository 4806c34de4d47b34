package flow

import (
	"context"
	"log/slog"

	"github.com/dustin/go-humanize"

	"aitrios-ingest/internal/model"
)

// Debug logs a one-line summary of every message.
type Debug struct {
	logger *slog.Logger
}

// NewDebug creates a Debug node.
func NewDebug(logger *slog.Logger) *Debug {
	return &Debug{logger: logger.With("component", "debug")}
}

// Name implements Node.
func (d *Debug) Name() string { return "debug" }

// Receive implements Node.
func (d *Debug) Receive(_ context.Context, msg *model.Message) error {
	d.logger.Info("message",
		"msgid", msg.ID,
		"kind", msg.Payload.Kind().String(),
		"size", humanize.Bytes(uint64(msg.Payload.Len())),
		"content_type", msg.Req.HeaderValue("Content-Type"),
		"path", msg.Req.Path(),
		"remote_ip", msg.Req.RemoteIP(),
	)
	return nil
}
