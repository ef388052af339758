package events

import (
	"context"
	"encoding/json"
	"log/slog"

	nats "github.com/nats-io/nats.go"

	"github.com/swarmguard/coordination/pkg/core/natsctx"
)

// natsPublisher is the subset of *nats.Conn the bridge needs, so tests can
// substitute a fake instead of requiring a live broker.
type natsPublisher interface {
	PublishMsg(*nats.Msg) error
}

// NATSBridge forwards bus events onto NATS subjects "coordination.<topic>",
// with trace-context injection via pkg/core/natsctx — the same header-carrier
// pattern control-plane and the federation service use for cross-service
// propagation. It is optional: the coordination core runs correctly with no
// Bridge attached (spec's event bus is explicitly local, §1/§9); attaching
// one only mirrors events outward for external observers.
type NATSBridge struct {
	subjectPrefix string
	publish       func(ctx context.Context, subject string, data []byte) error
}

// NewNATSBridge wraps a live connection using natsctx.Publish for trace
// propagation.
func NewNATSBridge(nc *nats.Conn, subjectPrefix string) *NATSBridge {
	if subjectPrefix == "" {
		subjectPrefix = "coordination."
	}
	return &NATSBridge{
		subjectPrefix: subjectPrefix,
		publish: func(ctx context.Context, subject string, data []byte) error {
			return natsctx.Publish(ctx, nc, subject, data)
		},
	}
}

// newTestNATSBridge lets tests exercise the forwarding path without a
// broker.
func newTestNATSBridge(prefix string, publish func(ctx context.Context, subject string, data []byte) error) *NATSBridge {
	return &NATSBridge{subjectPrefix: prefix, publish: publish}
}

func (b *NATSBridge) Forward(ctx context.Context, ev Event) {
	data, err := json.Marshal(struct {
		Topic   Topic       `json:"topic"`
		Payload interface{} `json:"payload"`
	}{Topic: ev.Topic, Payload: ev.Payload})
	if err != nil {
		slog.Warn("nats bridge marshal failed", "topic", ev.Topic, "error", err)
		return
	}
	subject := b.subjectPrefix + string(ev.Topic)
	if err := b.publish(ctx, subject, data); err != nil {
		slog.Warn("nats bridge publish failed", "subject", subject, "error", err)
	}
}
