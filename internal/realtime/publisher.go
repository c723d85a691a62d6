package realtime

import (
	"context"
	"time"
)

// ChangeEvent is published after each successfully committed write so
// dashboards and downstream consumers can react without polling.
type ChangeEvent struct {
	OrganizationID string    `json:"organization_id"`
	ConversationID uint      `json:"conversation_id"`
	MessageID      uint      `json:"message_id,omitempty"`
	EventKind      string    `json:"event_kind"`
	Timestamp      time.Time `json:"timestamp"`
}

// Publisher delivers change events on an outbound channel. Publishing is
// fire-and-forget: the pipeline logs a failure and moves on, and a failed
// publish never rolls back the committed write it announces.
type Publisher interface {
	Publish(ctx context.Context, topic string, event ChangeEvent) error
}

// Fanout publishes to several channels (broker + in-process WebSocket hub).
type Fanout struct {
	publishers []Publisher
}

func NewFanout(publishers ...Publisher) *Fanout {
	return &Fanout{publishers: publishers}
}

func (f *Fanout) Publish(ctx context.Context, topic string, event ChangeEvent) error {
	var firstErr error
	for _, p := range f.publishers {
		if err := p.Publish(ctx, topic, event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
