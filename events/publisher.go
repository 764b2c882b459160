package events

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/c360studio/datafactory/workflow"
)

// Conn is the subset of *nats.Conn the publisher uses.
type Conn interface {
	Publish(subject string, data []byte) error
	Flush() error
	Close()
}

// Publisher forwards controller events to NATS.
type Publisher struct {
	conn   Conn
	prefix string
	logger *slog.Logger
}

// Option configures a Publisher.
type Option func(*Publisher)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(p *Publisher) {
		p.logger = logger
	}
}

// WithPrefix sets the subject prefix.
func WithPrefix(prefix string) Option {
	return func(p *Publisher) {
		if prefix != "" {
			p.prefix = prefix
		}
	}
}

// Connect dials the NATS server at url and returns a publisher for it.
func Connect(url string, opts ...Option) (*Publisher, error) {
	nc, err := nats.Connect(url,
		nats.Name("datafactory"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS at %s: %w", url, err)
	}
	return NewPublisher(nc, opts...), nil
}

// NewPublisher wraps an existing connection.
func NewPublisher(conn Conn, opts ...Option) *Publisher {
	p := &Publisher{
		conn:   conn,
		prefix: DefaultPrefix,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Observe publishes ev. It satisfies workflow.Observer; publish failures
// are logged and never reach the controller.
func (p *Publisher) Observe(ev workflow.Event) {
	if err := p.Publish(ev); err != nil {
		p.logger.Warn("Failed to publish workflow event",
			slog.String("type", ev.Type.String()),
			slog.String("error", err.Error()))
	}
}

// Publish sends ev on its subject.
func (p *Publisher) Publish(ev workflow.Event) error {
	data, err := json.Marshal(NewEnvelope(ev))
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	subject := Subject(p.prefix, ev.Type)
	if err := p.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("publish to %s: %w", subject, err)
	}
	p.logger.Debug("Published workflow event", slog.String("subject", subject))
	return nil
}

// Close flushes pending events and closes the connection.
func (p *Publisher) Close() error {
	err := p.conn.Flush()
	p.conn.Close()
	return err
}

// NewEnvelope converts a controller event to its wire format.
func NewEnvelope(ev workflow.Event) Envelope {
	snap := ev.Snapshot
	env := Envelope{
		ID:        uuid.NewString(),
		Type:      ev.Type.String(),
		SessionID: snap.SessionID,
		From:      string(ev.From),
		To:        string(ev.To),
		Phase:     int(snap.Phase),
		Message:   ev.Message,
		Revision:  snap.Revision,
		Approved:  []int{},
		Time:      ev.Time.UTC(),
	}
	if snap.Progress != nil {
		env.Progress = &Progress{
			Stage:   snap.Progress.Stage,
			Percent: snap.Progress.Percent,
			Message: snap.Progress.Message,
		}
	}
	if ev.Type == workflow.EventCelebrate && snap.Drafts.QA != nil {
		score := snap.Drafts.QA.OverallScore
		env.QAScore = &score
	}
	for p := 0; p < workflow.PhaseCount; p++ {
		if snap.Ledger.Approved(workflow.Phase(p)) {
			env.Approved = append(env.Approved, p)
		}
	}
	return env
}
