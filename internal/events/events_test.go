package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usermgmt/apiserver/internal/mq"
	"github.com/usermgmt/apiserver/types"
)

func TestMQPublisherPublish(t *testing.T) {
	backend := mq.NewMemoryBackend()
	queue := mq.New(backend, "memory")
	publisher := NewMQPublisher(queue, "account-events")

	user := types.User{ID: uuid.New(), Email: "jane@x.com", Status: types.StatusActive}
	event := NewAccountEvent(UserRegistered, user)
	require.NoError(t, publisher.Publish(context.Background(), event))

	published := backend.Published("account-events")
	require.Len(t, published, 1)
	assert.Equal(t, string(UserRegistered), published[0].Attributes["type"])

	decoded, err := Decode(published[0])
	require.NoError(t, err)
	assert.Equal(t, user.ID, decoded.UserID)
	assert.Equal(t, "jane@x.com", decoded.Email)
	assert.Equal(t, UserRegistered, decoded.Type)
	assert.WithinDuration(t, time.Now(), decoded.OccurredAt, time.Minute)
}

func TestMQPublisherClosedBackend(t *testing.T) {
	backend := mq.NewMemoryBackend()
	require.NoError(t, backend.Close())
	publisher := NewMQPublisher(mq.New(backend, "memory"), "account-events")

	err := publisher.Publish(context.Background(), NewAccountEvent(UserLoggedIn, types.User{ID: uuid.New()}))
	assert.ErrorIs(t, err, mq.ErrClosed)
}

func TestWatchSkipsMalformed(t *testing.T) {
	backend := mq.NewMemoryBackend()
	queue := mq.New(backend, "memory")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan AccountEvent, 1)
	go func() {
		_ = Watch(ctx, queue, "account-events", func(ctx context.Context, event AccountEvent) error {
			got <- event
			return nil
		})
	}()

	publisher := NewMQPublisher(queue, "account-events")
	event := NewAccountEvent(UserStatusChanged, types.User{ID: uuid.New(), Email: "a@x.com"})
	event.Status = types.StatusInactive

	require.Eventually(t, func() bool {
		_, _ = queue.Publish(ctx, "account-events", []byte("not json"), nil)
		_ = publisher.Publish(ctx, event)
		select {
		case received := <-got:
			assert.Equal(t, types.StatusInactive, received.Status)
			return true
		case <-time.After(20 * time.Millisecond):
			return false
		}
	}, 2*time.Second, 10*time.Millisecond)
}

func TestAccountEventLogAttrs(t *testing.T) {
	user := types.User{ID: uuid.New(), Email: "a@x.com"}
	registered := NewAccountEvent(UserRegistered, user)
	assert.Equal(t, []any{
		"type", UserRegistered,
		"user_id", user.ID,
		"email", "a@x.com",
		"occurred_at", registered.OccurredAt,
	}, registered.LogAttrs())

	actor := uuid.New()
	changed := NewAccountEvent(UserStatusChanged, user)
	changed.Status = types.StatusInactive
	changed.ActorID = &actor
	attrs := changed.LogAttrs()
	require.Len(t, attrs, 12)
	assert.Equal(t, []any{"status", types.StatusInactive, "actor_id", actor}, attrs[8:])
}

func TestDiscard(t *testing.T) {
	assert.NoError(t, Discard{}.Publish(context.Background(), AccountEvent{}))
}
