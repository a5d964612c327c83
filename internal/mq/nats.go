package mq

import (
	"context"
	"errors"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/usermgmt/apiserver/config"
)

const natsMsgIDHeader = "Nats-Msg-Id"

// NATSClient publishes on core NATS subjects. Subscribers join a queue group
// so each message is handled by one replica. Core NATS has no redelivery, so
// handler errors are only logged.
type NATSClient struct {
	conn       *nats.Conn
	queueGroup string
}

func NewNATSClient(cfg config.NATSConfig) (*NATSClient, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("nats url is required")
	}

	conn, err := nats.Connect(cfg.URL, nats.Name("usermgmt"))
	if err != nil {
		return nil, err
	}

	return &NATSClient{conn: conn, queueGroup: cfg.QueueGroup}, nil
}

func (n *NATSClient) Publish(ctx context.Context, channel string, data []byte, attrs map[string]string) (string, error) {
	if strings.TrimSpace(channel) == "" {
		return "", errors.New("nats subject is required")
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	messageID := newMessageID()
	msg := nats.NewMsg(channel)
	msg.Data = data
	msg.Header.Set(natsMsgIDHeader, messageID)
	for key, value := range attrs {
		msg.Header.Set(key, value)
	}

	if err := n.conn.PublishMsg(msg); err != nil {
		return "", err
	}
	return messageID, nil
}

func (n *NATSClient) Subscribe(ctx context.Context, channel string, handler Handler) error {
	if strings.TrimSpace(channel) == "" {
		return errors.New("nats subject is required")
	}

	msgs := make(chan *nats.Msg, 64)
	sub, err := n.conn.ChanQueueSubscribe(channel, n.queueGroup, msgs)
	if err != nil {
		return err
	}
	defer func() {
		_ = sub.Unsubscribe()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-msgs:
			message := Message{
				ID:         msg.Header.Get(natsMsgIDHeader),
				Data:       msg.Data,
				Attributes: natsHeaderToAttributes(msg.Header),
			}
			if err := handler(ctx, message); err != nil {
				slog.WarnContext(ctx, "nats handler failed", "subject", channel, "message_id", message.ID, "error", err)
			}
		}
	}
}

// Close drains in-flight messages and closes the connection.
func (n *NATSClient) Close() error {
	return n.conn.Drain()
}

func natsHeaderToAttributes(header nats.Header) map[string]string {
	if len(header) == 0 {
		return nil
	}
	attrs := make(map[string]string, len(header))
	for key := range header {
		if key == natsMsgIDHeader {
			continue
		}
		attrs[key] = header.Get(key)
	}
	return attrs
}
