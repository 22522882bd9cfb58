package events

import (
	"context"

	"go.uber.org/zap"
)

type logPublisher struct {
	zaplog *zap.Logger
}

func NewLogPublisher(zaplog *zap.Logger) Publisher {
	return logPublisher{zaplog: zaplog}
}

func (p logPublisher) Publish(_ context.Context, e Event) error {
	p.zaplog.Info("event",
		zap.String("kind", string(e.Kind)),
		zap.String("order", e.OrderID),
		zap.String("from", string(e.From)),
		zap.String("to", string(e.To)),
		zap.String("settlement", e.Settlement),
		zap.Time("at", e.OccurredAt),
	)
	return nil
}

func (p logPublisher) Close() error {
	return nil
}
