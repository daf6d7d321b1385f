package notify

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

type natsConn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATS publishes outcomes to <subject>.<device_id>.
type NATS struct {
	conn    natsConn
	subject string
}

// NewNATS connects to url.
func NewNATS(url, subject string) (*NATS, error) {
	conn, err := nats.Connect(url, nats.Name("signalcraft-agent"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return newNATSWithConn(conn, subject), nil
}

func newNATSWithConn(conn natsConn, subject string) *NATS {
	if subject == "" {
		subject = "signalcraft.diagnosis"
	}
	return &NATS{conn: conn, subject: subject}
}

func (n *NATS) Publish(ctx context.Context, outcome Outcome) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(outcome)
	if err != nil {
		return fmt.Errorf("marshal outcome: %w", err)
	}
	return n.conn.Publish(subjectFor(n.subject, outcome.DeviceID), data)
}

func (n *NATS) Close() error {
	if n.conn == nil {
		return nil
	}
	err := n.conn.Drain()
	n.conn.Close()
	return err
}

var _ Notifier = (*NATS)(nil)
