package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/alanyoungcy/tradeagent/internal/domain"
)

// AuditSender records every event in the audit log.
type AuditSender struct {
	store domain.AuditStore
}

// NewAuditSender creates an AuditSender.
func NewAuditSender(store domain.AuditStore) *AuditSender {
	return &AuditSender{store: store}
}

// Send writes the event with its fields as detail.
func (a *AuditSender) Send(ctx context.Context, msg Message) error {
	detail := make(map[string]any, len(msg.Fields))
	for k, v := range msg.Fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		detail[k] = v
	}
	if err := a.store.Log(ctx, "notify."+string(msg.Kind), detail); err != nil {
		return fmt.Errorf("audit: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (a *AuditSender) Name() string {
	return "audit"
}

// BusSender publishes events as JSON on "<prefix><kind>".
type BusSender struct {
	bus    domain.EventBus
	prefix string
}

// NewBusSender creates a BusSender.
func NewBusSender(bus domain.EventBus, prefix string) *BusSender {
	return &BusSender{bus: bus, prefix: prefix}
}

type busEvent struct {
	Kind   domain.EventKind `json:"kind"`
	Title  string           `json:"title"`
	Fields map[string]any   `json:"fields,omitempty"`
	Time   time.Time        `json:"time"`
}

// Send publishes the event.
func (b *BusSender) Send(ctx context.Context, msg Message) error {
	fields := make(map[string]any, len(msg.Fields))
	for k, v := range msg.Fields {
		if err, ok := v.(error); ok {
			v = err.Error()
		}
		fields[k] = v
	}
	payload, err := json.Marshal(busEvent{Kind: msg.Kind, Title: msg.Title, Fields: fields, Time: msg.Time})
	if err != nil {
		return fmt.Errorf("bus: marshal: %w", err)
	}
	if err := b.bus.Publish(ctx, b.prefix+string(msg.Kind), payload); err != nil {
		return fmt.Errorf("bus: %w", err)
	}
	return nil
}

// Name returns the sender identifier.
func (b *BusSender) Name() string {
	return "bus"
}
