package natsadapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"

	"github.com/nasaharvest/street2sat/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS JetStream.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber with its own NATS connection.
func NewSubscriber(url string) (*Subscriber, error) {
	conn, err := RawConn(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStreams(js); err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn, js: js}, nil
}

func (s *Subscriber) SubscribeUploads(ctx context.Context, handler func(ctx context.Context, event *domain.UploadEvent) error) error {
	return s.subscribe(uploadsPrefix+">", "upload-processor", func(msg *nats.Msg) error {
		var event domain.UploadEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return poison(msg, err)
		}
		return handler(ctx, &event)
	})
}

func (s *Subscriber) SubscribeDeletions(ctx context.Context, handler func(ctx context.Context, event *domain.DeletionEvent) error) error {
	return s.subscribe(deletionsPrefix+">", "deletion-processor", func(msg *nats.Msg) error {
		var event domain.DeletionEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			return poison(msg, err)
		}
		return handler(ctx, &event)
	})
}

// errPoison marks a message that can never be processed and was terminated.
var errPoison = errors.New("poison message")

func poison(msg *nats.Msg, err error) error {
	slog.Error("dropping undecodable message", "subject", msg.Subject, "error", err)
	_ = msg.Term()
	return errPoison
}

func (s *Subscriber) subscribe(subject, durable string, handle func(msg *nats.Msg) error) error {
	sub, err := s.js.Subscribe(subject, func(msg *nats.Msg) {
		switch err := handle(msg); {
		case errors.Is(err, errPoison):
		case err != nil:
			slog.Warn("event handler failed", "subject", msg.Subject, "error", err)
			_ = msg.Nak()
		default:
			_ = msg.Ack()
		}
	},
		nats.Durable(durable),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return err
	}
	s.subs = append(s.subs, sub)
	return nil
}

// Close unsubscribes and drains.
func (s *Subscriber) Close() {
	for _, sub := range s.subs {
		_ = sub.Unsubscribe()
	}
	_ = s.conn.Drain()
}
