package mq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/usermgmt/apiserver/config"
)

func TestOpenNoneBackend(t *testing.T) {
	m, err := Open(context.Background(), config.MQConfig{Backend: config.MQBackendNone})
	require.NoError(t, err)
	assert.Nil(t, m)
}

func TestOpenUnknownBackend(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: "kafka"})
	require.Error(t, err)
}

func TestOpenRequiresBrokerSettings(t *testing.T) {
	_, err := Open(context.Background(), config.MQConfig{Backend: config.MQBackendRabbitMQ})
	require.Error(t, err)

	_, err = Open(context.Background(), config.MQConfig{Backend: config.MQBackendPubSub})
	require.Error(t, err)

	_, err = Open(context.Background(), config.MQConfig{Backend: config.MQBackendNATS})
	require.Error(t, err)
}

func TestMemoryBackendPublishSubscribe(t *testing.T) {
	m, err := Open(context.Background(), config.MQConfig{Backend: config.MQBackendMemory})
	require.NoError(t, err)
	require.NotNil(t, m)
	defer m.Close()
	assert.Equal(t, config.MQBackendMemory, m.Name())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	received := make(chan Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- m.Subscribe(ctx, "account-events", func(ctx context.Context, msg Message) error {
			received <- msg
			return nil
		})
	}()

	backend := m.backend.(*MemoryBackend)
	require.Eventually(t, func() bool {
		backend.mu.Lock()
		defer backend.mu.Unlock()
		return len(backend.subscribers["account-events"]) == 1
	}, time.Second, 5*time.Millisecond)

	id, err := m.Publish(ctx, "account-events", []byte(`{"type":"user.registered"}`), map[string]string{"type": "user.registered"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case msg := <-received:
		assert.Equal(t, id, msg.ID)
		assert.JSONEq(t, `{"type":"user.registered"}`, string(msg.Data))
		assert.Equal(t, "user.registered", msg.Attributes["type"])
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Len(t, backend.Published("account-events"), 1)
}

func TestMemoryBackendClosed(t *testing.T) {
	backend := NewMemoryBackend()
	require.NoError(t, backend.Close())
	require.NoError(t, backend.Close())

	_, err := backend.Publish(context.Background(), "c", nil, nil)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, backend.Subscribe(context.Background(), "c", nil), ErrClosed)
}

func TestMemoryBackendStalledSubscriber(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	stalled := newMemorySubscriber(0)
	backend.mu.Lock()
	backend.subscribers["c"] = append(backend.subscribers["c"], stalled)
	backend.mu.Unlock()

	published := make(chan error, 1)
	go func() {
		_, err := backend.Publish(context.Background(), "c", []byte("x"), nil)
		published <- err
	}()

	// The blocked delivery must not hold the lock.
	require.Eventually(t, func() bool { return len(backend.Published("c")) == 1 }, time.Second, 5*time.Millisecond)

	backend.unsubscribe("c", stalled)
	select {
	case err := <-published:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("publish still blocked after unsubscribe")
	}
}

func TestMemoryBackendPublishHonorsContext(t *testing.T) {
	backend := NewMemoryBackend()
	defer backend.Close()

	backend.mu.Lock()
	backend.subscribers["c"] = append(backend.subscribers["c"], newMemorySubscriber(0))
	backend.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := backend.Publish(ctx, "c", []byte("x"), nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestMemoryBackendHistoryIsBounded(t *testing.T) {
	backend := NewMemoryBackendWithHistory(3)
	defer backend.Close()

	var last string
	for range 5 {
		id, err := backend.Publish(context.Background(), "c", []byte("x"), nil)
		require.NoError(t, err)
		last = id
	}
	kept := backend.Published("c")
	require.Len(t, kept, 3)
	assert.Equal(t, last, kept[2].ID)

	none := NewMemoryBackendWithHistory(0)
	defer none.Close()
	_, err := none.Publish(context.Background(), "c", []byte("x"), nil)
	require.NoError(t, err)
	assert.Empty(t, none.Published("c"))
}
