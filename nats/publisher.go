// Package nats announces ranking events on a NATS bus.
package nats

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/cheeseformice/ranking"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

const (
	// DefaultUpdateSubject receives an event whenever source data was updated.
	DefaultUpdateSubject = "ranking.update"
	// DefaultRebuiltSubject receives an event for every committed generation.
	DefaultRebuiltSubject = "ranking.rebuilt"
)

var ErrNoNatsConnection = errors.New("nats connection has not been established. Call Open() first")

var _ ranking.Notifier = (*Publisher)(nil)

// Conn is the part of a NATS connection the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
}

// Publisher publishes ranking events as JSON messages.
type Publisher struct {
	URL            string
	ClientName     string
	UpdateSubject  string
	RebuiltSubject string

	conn   Conn
	logger *zap.Logger
}

// NewPublisher returns a publisher for the server at url. Open must be called
// before publishing.
func NewPublisher(logger *zap.Logger, url string) *Publisher {
	return &Publisher{
		URL:            url,
		ClientName:     "rankingd-" + uuid.NewString(),
		UpdateSubject:  DefaultUpdateSubject,
		RebuiltSubject: DefaultRebuiltSubject,
		logger:         logger.With(zap.String("service", "nats")),
	}
}

// Open connects to the NATS server. The connection reconnects on its own for
// as long as the publisher is open.
func (p *Publisher) Open(ctx context.Context) error {
	opts := append([]nats.Option{
		nats.Name(p.ClientName),
		nats.MaxReconnects(-1),
	}, connectionHandlers(p.logger)...)

	nc, err := nats.Connect(p.URL, opts...)
	if err != nil {
		return err
	}
	p.conn = nc
	p.logger.Info("Connected to NATS", zap.String("url", nc.ConnectedUrlRedacted()), zap.String("client", p.ClientName))
	return nil
}

// WithConn makes the publisher use an existing connection.
func (p *Publisher) WithConn(c Conn) {
	p.conn = c
}

// Close drains pending messages and closes the connection.
func (p *Publisher) Close() error {
	if p.conn == nil {
		return nil
	}
	err := p.conn.Drain()
	p.conn = nil
	return err
}

// Notify publishes e on the subject of its kind.
func (p *Publisher) Notify(ctx context.Context, e ranking.Event) error {
	if p.conn == nil {
		return ErrNoNatsConnection
	}

	var subject string
	switch e.Kind {
	case ranking.EventUpdate:
		subject = p.UpdateSubject
	case ranking.EventRebuilt:
		subject = p.RebuiltSubject
	default:
		return errors.New("unknown event kind " + e.Kind)
	}

	data, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return p.conn.Publish(subject, data)
}
