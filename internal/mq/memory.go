package mq

import (
	"context"
	"errors"
	"maps"
	"sync"
)

// ErrClosed is returned by a closed MemoryBackend.
var ErrClosed = errors.New("mq: backend closed")

// DefaultMemoryHistory is how many messages per channel a MemoryBackend
// retains for Published.
const DefaultMemoryHistory = 1000

// MemoryBackend delivers messages in-process to every active subscriber of a
// channel and keeps the most recent messages published. Used for local runs
// and tests.
type MemoryBackend struct {
	mu          sync.Mutex
	closed      bool
	history     int
	published   map[string][]Message
	subscribers map[string][]*memorySubscriber
}

type memorySubscriber struct {
	messages chan Message
	done     chan struct{}
}

func newMemorySubscriber(buffer int) *memorySubscriber {
	return &memorySubscriber{
		messages: make(chan Message, buffer),
		done:     make(chan struct{}),
	}
}

// NewMemoryBackend returns a backend retaining DefaultMemoryHistory messages
// per channel.
func NewMemoryBackend() *MemoryBackend {
	return NewMemoryBackendWithHistory(DefaultMemoryHistory)
}

// NewMemoryBackendWithHistory returns a backend retaining up to history
// messages per channel. A history of zero or less retains nothing.
func NewMemoryBackendWithHistory(history int) *MemoryBackend {
	return &MemoryBackend{
		history:     history,
		published:   make(map[string][]Message),
		subscribers: make(map[string][]*memorySubscriber),
	}
}

// Publish records msg and hands it to each subscriber, waiting for slow
// subscribers until ctx is done. The lock is not held while delivering.
func (m *MemoryBackend) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if channel == "" {
		return "", errors.New("memory channel is required")
	}

	msg := Message{
		ID:         newMessageID(),
		Data:       append([]byte(nil), data...),
		Attributes: maps.Clone(attrs),
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return "", ErrClosed
	}
	m.record(channel, msg)
	subs := append([]*memorySubscriber(nil), m.subscribers[channel]...)
	m.mu.Unlock()

	for _, sub := range subs {
		select {
		case sub.messages <- msg:
		case <-sub.done:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return msg.ID, nil
}

func (m *MemoryBackend) record(channel string, msg Message) {
	if m.history <= 0 {
		return
	}
	kept := append(m.published[channel], msg)
	if over := len(kept) - m.history; over > 0 {
		kept = append([]Message(nil), kept[over:]...)
	}
	m.published[channel] = kept
}

func (m *MemoryBackend) Subscribe(ctx context.Context, channel string, handler Handler) error {
	sub := newMemorySubscriber(64)

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.subscribers[channel] = append(m.subscribers[channel], sub)
	m.mu.Unlock()

	defer m.unsubscribe(channel, sub)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-sub.done:
			return ErrClosed
		case msg := <-sub.messages:
			_ = handler(ctx, msg)
		}
	}
}

// Published returns the retained messages published to channel, oldest first.
func (m *MemoryBackend) Published(channel string) []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.published[channel]...)
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for _, subs := range m.subscribers {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	m.subscribers = nil
	return nil
}

func (m *MemoryBackend) unsubscribe(channel string, target *memorySubscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	subs := m.subscribers[channel]
	for i, sub := range subs {
		if sub == target {
			m.subscribers[channel] = append(subs[:i:i], subs[i+1:]...)
			close(sub.done)
			return
		}
	}
}
