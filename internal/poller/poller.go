// Package poller consumes checkout completion events and empties the
// purchased account carts.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

const (
	DefaultTopic   = "checkout-outbox"
	DefaultGroupID = "cart-service-consumer"

	readBackoff = time.Second
)

var ErrMissingUserID = errors.New("missing or invalid user_id")

// CartClearer deletes the stored cart of an account
type CartClearer interface {
	DeleteAll(ctx context.Context, accountID string) error
}

// SessionResetter re-hydrates live sessions bound to an account. It returns
// how many sessions were reset.
type SessionResetter interface {
	ResetAccount(accountID string) int
}

type checkoutEvent struct {
	CheckoutID string `json:"checkout_id"`
	UserID     string `json:"user_id"`
}

type Poller struct {
	carts    CartClearer
	sessions SessionResetter
	reader   *kafka.Reader
	log      *slog.Logger
}

func NewPoller(carts CartClearer, sessions SessionResetter, log *slog.Logger, topic string, brokers ...string) *Poller {
	if log == nil {
		log = slog.Default()
	}
	if topic == "" {
		topic = DefaultTopic
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  brokers,
		Topic:    topic,
		GroupID:  DefaultGroupID,
		MaxBytes: 10e6, // 10MB
	})
	return &Poller{carts: carts, sessions: sessions, reader: reader, log: log}
}

// Run consumes until ctx is cancelled
func (p *Poller) Run(ctx context.Context) {
	for {
		m, err := p.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			p.log.Error("error reading checkout event", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(readBackoff):
			}
			continue
		}

		if err := p.handle(ctx, m.Value); err != nil {
			p.log.Error("failed to handle checkout event",
				"partition", m.Partition, "offset", m.Offset, "error", err)
		}
	}
}

func (p *Poller) Close() {
	if err := p.reader.Close(); err != nil {
		p.log.Error("error closing reader", "error", err)
	}
}

// handle empties the cart of the account that completed a checkout. Live
// sessions of that account re-hydrate so they stop showing purchased lines.
func (p *Poller) handle(ctx context.Context, value []byte) error {
	var event checkoutEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return fmt.Errorf("error parsing message: %w", err)
	}
	if event.UserID == "" {
		return ErrMissingUserID
	}

	if err := p.carts.DeleteAll(ctx, event.UserID); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}

	reset := 0
	if p.sessions != nil {
		reset = p.sessions.ResetAccount(event.UserID)
	}
	p.log.Info("cart cleared after checkout",
		"checkout_id", event.CheckoutID, "account_id", event.UserID, "sessions_reset", reset)
	return nil
}
