package events

import (
	"context"

	"github.com/nats-io/nats.go"
)

type natsPublisher struct {
	conn    *nats.Conn
	subject string
}

func NewNatsPublisher(url string, subject string) (Publisher, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, err
	}
	return &natsPublisher{conn: nc, subject: subject}, nil
}

// Publish отправляет в подтему по виду события: foodmart.events.order.placed
func (p *natsPublisher) Publish(_ context.Context, e Event) error {
	payload, err := e.Marshal()
	if err != nil {
		return err
	}
	return p.conn.Publish(p.subject+"."+string(e.Kind), payload)
}

func (p *natsPublisher) Close() error {
	return p.conn.Drain()
}
