// Package events publishes account lifecycle events to the message queue.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/usermgmt/apiserver/internal/mq"
	"github.com/usermgmt/apiserver/types"
)

// Type names an account event.
type Type string

const (
	UserRegistered      Type = "user.registered"
	UserLoggedIn        Type = "user.logged_in"
	UserProfileUpdated  Type = "user.profile_updated"
	UserPasswordChanged Type = "user.password_changed"
	UserStatusChanged   Type = "user.status_changed"
)

const typeAttribute = "type"

// AccountEvent is the JSON payload of every account event.
type AccountEvent struct {
	Type       Type         `json:"type"`
	UserID     uuid.UUID    `json:"userId"`
	Email      string       `json:"email"`
	Status     types.Status `json:"status,omitempty"`
	ActorID    *uuid.UUID   `json:"actorId,omitempty"`
	OccurredAt time.Time    `json:"occurredAt"`
}

// NewAccountEvent builds an event for user.
func NewAccountEvent(eventType Type, user types.User) AccountEvent {
	return AccountEvent{
		Type:       eventType,
		UserID:     user.ID,
		Email:      user.Email,
		OccurredAt: time.Now().UTC(),
	}
}

// LogAttrs returns the event as slog key/value pairs. Status and actor are
// included only when the event carries them.
func (e AccountEvent) LogAttrs() []any {
	attrs := []any{
		"type", e.Type,
		"user_id", e.UserID,
		"email", e.Email,
		"occurred_at", e.OccurredAt,
	}
	if e.Status != "" {
		attrs = append(attrs, "status", e.Status)
	}
	if e.ActorID != nil {
		attrs = append(attrs, "actor_id", *e.ActorID)
	}
	return attrs
}

// Publisher publishes account events.
type Publisher interface {
	Publish(ctx context.Context, event AccountEvent) error
}

// MQPublisher publishes events as JSON to one mq channel.
type MQPublisher struct {
	queue   *mq.MQ
	channel string
}

func NewMQPublisher(queue *mq.MQ, channel string) *MQPublisher {
	return &MQPublisher{queue: queue, channel: channel}
}

func (p *MQPublisher) Publish(ctx context.Context, event AccountEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal %s event: %w", event.Type, err)
	}

	id, err := p.queue.Publish(ctx, p.channel, data, map[string]string{typeAttribute: string(event.Type)})
	if err != nil {
		return fmt.Errorf("publish %s event: %w", event.Type, err)
	}
	slog.DebugContext(ctx, "account event published", "type", event.Type, "message_id", id, "channel", p.channel)
	return nil
}

// Discard drops every event.
type Discard struct{}

func (Discard) Publish(context.Context, AccountEvent) error { return nil }

// Decode parses an mq message into an AccountEvent.
func Decode(msg mq.Message) (AccountEvent, error) {
	var event AccountEvent
	if err := json.Unmarshal(msg.Data, &event); err != nil {
		return AccountEvent{}, fmt.Errorf("decode account event %s: %w", msg.ID, err)
	}
	return event, nil
}

// Watch subscribes to channel and calls handle for every decoded event until
// ctx is done. Undecodable messages are logged and acknowledged.
func Watch(ctx context.Context, queue *mq.MQ, channel string, handle func(context.Context, AccountEvent) error) error {
	return queue.Subscribe(ctx, channel, func(ctx context.Context, msg mq.Message) error {
		event, err := Decode(msg)
		if err != nil {
			slog.WarnContext(ctx, "dropping malformed account event", "message_id", msg.ID, "error", err)
			return nil
		}
		return handle(ctx, event)
	})
}
