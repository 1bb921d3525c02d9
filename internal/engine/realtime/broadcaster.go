// Package realtime fans pipeline events out to live subscribers.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

const OrdersChannel = "inspection_orders"

// UserChannel is the per-user channel name.
func UserChannel(userID string) string {
	return "user." + userID
}

type Message struct {
	Channel string      `json:"channel"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	SentAt  int64       `json:"sent_at"`
}

type Broadcaster interface {
	Publish(ctx context.Context, channel, event string, payload interface{}) error
	Close()
}

// Conn is the part of *nats.Conn the broadcaster uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Close()
}

type NATSBroadcaster struct {
	conn   Conn
	prefix string
}

// Connect dials NATS and returns a broadcaster publishing under prefix.
func Connect(url, prefix string) (*NATSBroadcaster, error) {
	nc, err := nats.Connect(url,
		nats.Name("eventhub-realtime"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn().Err(err).Msg("Disconnected from NATS")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("Reconnected to NATS")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return NewNATSBroadcaster(nc, prefix), nil
}

func NewNATSBroadcaster(conn Conn, prefix string) *NATSBroadcaster {
	return &NATSBroadcaster{conn: conn, prefix: strings.TrimSuffix(prefix, ".")}
}

func (b *NATSBroadcaster) Publish(_ context.Context, channel, event string, payload interface{}) error {
	data, err := json.Marshal(Message{
		Channel: channel,
		Event:   event,
		Payload: payload,
		SentAt:  time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal realtime message: %w", err)
	}

	subject := channel
	if b.prefix != "" {
		subject = b.prefix + "." + channel
	}
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBroadcaster) Close() {
	b.conn.Close()
}

// Noop is used when no NATS URL is configured.
type Noop struct{}

func (Noop) Publish(context.Context, string, string, interface{}) error { return nil }

func (Noop) Close() {}
