package natsadapter

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nats-io/nats.go"

	"github.com/samirrijal/nearby/internal/core/domain"
)

// Subscriber implements ports.EventSubscriber using NATS.
type Subscriber struct {
	conn *nats.Conn
	js   nats.JetStreamContext
	subs []*nats.Subscription
}

// NewSubscriber creates a subscriber on a shared connection.
func NewSubscriber(conn *nats.Conn) (*Subscriber, error) {
	js, err := conn.JetStream()
	if err != nil {
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if err := ensureStream(js); err != nil {
		return nil, err
	}
	return &Subscriber{conn: conn, js: js}, nil
}

// SubscribePOIUpdates delivers every POI update to this instance. The
// consumer is ephemeral so each API instance sees all updates; handler
// failures are redelivered.
func (s *Subscriber) SubscribePOIUpdates(ctx context.Context, handler func(ctx context.Context, category domain.Category) error) error {
	sub, err := s.js.Subscribe(poisUpdatedPrefix+">", func(msg *nats.Msg) {
		category, err := categoryFromSubject(msg.Subject)
		if err != nil {
			slog.Warn("dropping poi update", "subject", msg.Subject, "error", err)
			_ = msg.Term()
			return
		}
		if err := handler(ctx, category); err != nil {
			slog.Warn("poi update handler failed", "category", category, "error", err)
			_ = msg.Nak()
			return
		}
		_ = msg.Ack()
	},
		nats.DeliverNew(),
		nats.ManualAck(),
		nats.MaxDeliver(3),
	)
	if err != nil {
		return fmt.Errorf("subscribe poi updates: %w", err)
	}
	s.subs = append(s.subs, sub)
	return nil
}

// SubscribeFavoriteChanges listens for user favorite edits. The payload is
// the user id. These signals are best effort; engines also poll.
func (s *Subscriber) SubscribeFavoriteChanges(ctx context.Context, handler func(ctx context.Context, userID string) error) error {
	sub, err := s.conn.Subscribe(favoritesChangedSubject, func(msg *nats.Msg) {
		userID := strings.TrimSpace(string(msg.Data))
		if userID == "" {
			return
		}
		if err := handler(ctx, userID); err != nil {
			slog.Warn("favorites handler failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("subscribe favorite changes: %w", err)
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

func categoryFromSubject(subject string) (domain.Category, error) {
	rest, ok := strings.CutPrefix(subject, poisUpdatedPrefix)
	if !ok {
		return "", fmt.Errorf("unexpected subject %q", subject)
	}
	return domain.ParseCategory(rest)
}
