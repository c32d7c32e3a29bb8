package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"

	"github.com/buhogo/payd/internal/config"
)

// NATSPublisher publishes events over core NATS subjects of the form
// "<prefix>.<event type>".
type NATSPublisher struct {
	conn          *nats.Conn
	subjectPrefix string
	log           zerolog.Logger
}

// NewNATSPublisher connects to the broker and returns a publisher.
func NewNATSPublisher(cfg config.EventsConfig, log zerolog.Logger) (*NATSPublisher, error) {
	logger := log.With().Str("component", "events").Logger()

	opts := []nats.Option{
		nats.Name(cfg.ClientName),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait.Duration),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Info().Str("url", c.ConnectedUrl()).Msg("nats reconnected")
		}),
	}

	conn, err := nats.Connect(cfg.NATSURL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connecting to nats: %w", err)
	}

	logger.Info().Str("url", conn.ConnectedUrl()).Msg("nats connection established")

	return &NATSPublisher{
		conn:          conn,
		subjectPrefix: cfg.SubjectPrefix,
		log:           logger,
	}, nil
}

// Publish sends the event to "<prefix>.<type>".
func (p *NATSPublisher) Publish(_ context.Context, event *Event) error {
	subject := fmt.Sprintf("%s.%s", p.subjectPrefix, event.Type)

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}

	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publishing event: %w", err)
	}

	p.log.Debug().
		Str("event_id", event.ID).
		Str("type", event.Type).
		Str("subject", subject).
		Msg("event published")
	return nil
}

// Close drains and closes the connection.
func (p *NATSPublisher) Close() {
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}
