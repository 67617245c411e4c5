// Package notify forwards server events to NATS for the chat front end.
//
// Events are published as JSON on <prefix>.<serverID>.<event type>, for
// example warden.3.chat_trigger.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/ernie/warden/internal/domain"
)

// DefaultPrefix is the subject prefix used when none is configured
const DefaultPrefix = "warden"

// Source delivers events until the returned cancel function is called
type Source interface {
	Subscribe() (<-chan domain.Event, func())
}

// Publisher publishes events on a NATS connection
type Publisher struct {
	nc     *nats.Conn
	prefix string
	log    *slog.Logger
}

// Connect dials the NATS server at url and returns a publisher on it. The
// connection reconnects on its own for as long as the publisher lives.
func Connect(url, prefix string, logger *slog.Logger) (*Publisher, error) {
	if logger == nil {
		logger = slog.Default()
	}
	nc, err := nats.Connect(url,
		nats.Name("warden"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}
	return New(nc, prefix, logger), nil
}

// New wraps an existing connection
func New(nc *nats.Conn, prefix string, logger *slog.Logger) *Publisher {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{nc: nc, prefix: prefix, log: logger}
}

// Subject returns the subject an event is published on
func (p *Publisher) Subject(ev domain.Event) string {
	return fmt.Sprintf("%s.%d.%s", p.prefix, ev.ServerID, ev.Type)
}

// Publish sends one event
func (p *Publisher) Publish(ev domain.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encoding %s event: %w", ev.Type, err)
	}
	return p.nc.Publish(p.Subject(ev), data)
}

// Run publishes events from src until ctx is done or the source closes
func (p *Publisher) Run(ctx context.Context, src Source) {
	events, cancel := src.Subscribe()
	defer cancel()

	p.log.Info("publishing events to nats", "prefix", p.prefix)
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if err := p.Publish(ev); err != nil {
				p.log.Warn("failed to publish event", "event", ev.Type, "server_id", ev.ServerID, "error", err)
			}
		}
	}
}

// Close flushes pending messages and closes the connection
func (p *Publisher) Close() error {
	return p.nc.Drain()
}
