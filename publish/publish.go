// Package publish forwards cleanly validated Items to NATS.
package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/c360studio/topo4dform/item"
)

// DefaultSubject receives published items.
const DefaultSubject = "topo4d.items.validated"

// ItemMessage is the payload published for each valid Item.
type ItemMessage struct {
	SessionID   string     `json:"session_id"`
	PublishedAt time.Time  `json:"published_at"`
	Item        *item.Item `json:"item"`
}

// conn is the subset of *nats.Conn the publisher uses.
type conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher sends items to a NATS subject. A nil *Publisher is valid and
// publishes nothing.
type Publisher struct {
	nc      conn
	subject string
	logger  *slog.Logger
}

// Connect dials url and returns a publisher for subject. An empty url
// disables publishing and returns nil.
func Connect(url, subject string, logger *slog.Logger) (*Publisher, error) {
	if url == "" {
		return nil, nil
	}
	if logger == nil {
		logger = slog.Default()
	}

	nc, err := nats.Connect(url,
		nats.Name("topo4d-form"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	logger.Info("Publishing valid items", "url", url, "subject", subjectOrDefault(subject))
	return newPublisher(nc, subject, logger), nil
}

func newPublisher(nc conn, subject string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, subject: subjectOrDefault(subject), logger: logger}
}

func subjectOrDefault(s string) string {
	if s == "" {
		return DefaultSubject
	}
	return s
}

// Publish sends it on the configured subject.
func (p *Publisher) Publish(ctx context.Context, sessionID string, it *item.Item) error {
	if p == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(ItemMessage{
		SessionID:   sessionID,
		PublishedAt: time.Now().UTC(),
		Item:        it,
	})
	if err != nil {
		return fmt.Errorf("marshal item: %w", err)
	}

	if err := p.nc.Publish(p.subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", p.subject, err)
	}
	p.logger.Debug("Published item", "subject", p.subject, "item_id", it.ID, "session_id", sessionID)
	return nil
}

// Close drains the connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.nc.Drain()
}
