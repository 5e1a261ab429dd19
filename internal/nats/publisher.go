// Package nats publishes detection events to NATS subjects.
package nats

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"
	natsgo "github.com/nats-io/nats.go"

	"github.com/Capitan-Parrot/motion-detector/internal/models"
	"github.com/Capitan-Parrot/motion-detector/internal/observer"
)

// Conn is the part of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
}

type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// Connect dials NATS and keeps reconnecting forever.
func Connect(url string, logger *slog.Logger) (*natsgo.Conn, error) {
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := natsgo.Connect(url,
		natsgo.Name("motion-detector"),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2*time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", "error", err)
			}
		}),
		natsgo.ReconnectHandler(func(c *natsgo.Conn) {
			logger.Info("NATS reconnected", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS at %s: %w", url, err)
	}
	return conn, nil
}

func NewPublisher(conn Conn, prefix string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{conn: conn, prefix: prefix, logger: logger}
}

// Subject returns <prefix>.<streamID>.
func (p *Publisher) Subject(streamID string) string {
	return p.prefix + "." + streamID
}

func (p *Publisher) PublishDetection(event models.DetectionEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	subject := p.Subject(event.StreamID)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	p.logger.Debug("detection published", "subject", subject)
	return nil
}

// Observer returns an observer publishing every detection of streamID.
func (p *Publisher) Observer(streamID string) *observer.Func {
	return observer.NewFunc(func(message string) error {
		return p.PublishDetection(models.DetectionEvent{
			StreamID:  streamID,
			Message:   message,
			Timestamp: time.Now().UTC(),
		})
	})
}
