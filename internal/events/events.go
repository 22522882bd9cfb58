// Package events публикует факты об изменениях заказов и выплат после
// записи в хранилище. Подписчики (UI, уведомления) в ядро не входят.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/iurnickita/foodmart/internal/events/config"
	"github.com/iurnickita/foodmart/internal/model"
)

type Kind string

const (
	KindOrderPlaced        Kind = "order.placed"
	KindOrderStatusChanged Kind = "order.status_changed"
	KindSettlementRecorded Kind = "settlement.recorded"
)

type Event struct {
	Kind       Kind              `json:"kind"`
	OrderID    string            `json:"order_id,omitempty"`
	ShopID     string            `json:"shop_id,omitempty"`
	CourierID  string            `json:"courier_id,omitempty"`
	From       model.OrderStatus `json:"from,omitempty"`
	To         model.OrderStatus `json:"to,omitempty"`
	ActorID    string            `json:"actor_id,omitempty"`
	ActorRole  model.Role        `json:"actor_role,omitempty"`
	Settlement string            `json:"settlement_id,omitempty"`
	Amount     *decimal.Decimal  `json:"amount,omitempty"`
	OccurredAt time.Time         `json:"occurred_at"`
}

// Key - ключ партиционирования: события одного заказа идут по порядку
func (e Event) Key() string {
	if e.OrderID != "" {
		return e.OrderID
	}
	return e.Settlement
}

func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

func OrderPlaced(order model.Order, actor model.Actor) Event {
	return Event{
		Kind:       KindOrderPlaced,
		OrderID:    order.ID,
		ShopID:     order.ShopID,
		To:         order.Status,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Amount:     &order.TotalAmount,
		OccurredAt: order.CreatedAt,
	}
}

func StatusChanged(order model.Order, from model.OrderStatus, actor model.Actor) Event {
	return Event{
		Kind:       KindOrderStatusChanged,
		OrderID:    order.ID,
		ShopID:     order.ShopID,
		CourierID:  order.CourierID,
		From:       from,
		To:         order.Status,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		OccurredAt: order.UpdatedAt,
	}
}

func SettlementRecorded(s model.Settlement, actor model.Actor) Event {
	amount := s.Amount
	return Event{
		Kind:       KindSettlementRecorded,
		ShopID:     s.ShopID,
		CourierID:  s.CourierID,
		Settlement: s.ID,
		ActorID:    actor.ID,
		ActorRole:  actor.Role,
		Amount:     &amount,
		OccurredAt: s.ProcessedAt,
	}
}

type Publisher interface {
	Publish(ctx context.Context, e Event) error
	Close() error
}

// Bus раздает событие внешним публикаторам и подписчикам внутри процесса
type Bus struct {
	mu          sync.RWMutex
	publishers  []Publisher
	subscribers []func(Event)
}

func NewBus(publishers ...Publisher) *Bus {
	return &Bus{publishers: publishers}
}

// Subscribe - обработчик вызывается синхронно из Publish
func (bus *Bus) Subscribe(fn func(Event)) {
	bus.mu.Lock()
	defer bus.mu.Unlock()
	bus.subscribers = append(bus.subscribers, fn)
}

// Publish вызывает подписчиков по очереди, затем публикаторы параллельно.
// Блокировка держится только на время копирования списков.
func (bus *Bus) Publish(ctx context.Context, e Event) error {
	bus.mu.RLock()
	subscribers := slices.Clone(bus.subscribers)
	publishers := slices.Clone(bus.publishers)
	bus.mu.RUnlock()

	for _, fn := range subscribers {
		fn(e)
	}

	// ошибка одного публикатора не отменяет остальные
	errs := make([]error, len(publishers))
	var g errgroup.Group
	for i, p := range publishers {
		g.Go(func() error {
			errs[i] = p.Publish(ctx, e)
			return nil
		})
	}
	g.Wait()
	return errors.Join(errs...)
}

func (bus *Bus) Close() error {
	bus.mu.RLock()
	publishers := slices.Clone(bus.publishers)
	bus.mu.RUnlock()

	var errs []error
	for _, p := range publishers {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New собирает шину с публикатором, выбранным в конфигурации
func New(cfg config.Config, zaplog *zap.Logger) (*Bus, error) {
	switch cfg.Driver {
	case "", "log":
		return NewBus(NewLogPublisher(zaplog)), nil
	case "none":
		return NewBus(), nil
	case "kafka":
		return NewBus(NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)), nil
	case "nats":
		p, err := NewNatsPublisher(cfg.NatsURL, cfg.NatsSubject)
		if err != nil {
			return nil, err
		}
		return NewBus(p), nil
	case "webhook":
		if cfg.WebhookURL == "" {
			return nil, errors.New("events: WEBHOOK_URL is empty")
		}
		return NewBus(NewWebhookPublisher(cfg.WebhookURL)), nil
	}
	return nil, errors.New("events: unknown driver " + cfg.Driver)
}
