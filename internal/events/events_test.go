package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/foodmart/internal/events/config"
	"github.com/iurnickita/foodmart/internal/model"
)

type failingPublisher struct{ calls int }

func (p *failingPublisher) Publish(context.Context, Event) error {
	p.calls++
	return errors.New("broker down")
}

func (p *failingPublisher) Close() error { return nil }

func TestBus(t *testing.T) {
	failing := &failingPublisher{}
	bus := NewBus(NewLogPublisher(zap.NewNop()), failing)

	var got []Event
	bus.Subscribe(func(e Event) { got = append(got, e) })

	order := model.Order{
		ID:        "o-1",
		ShopID:    "s-1",
		CourierID: "c-1",
		Status:    model.OrderStatusPickedUp,
		UpdatedAt: time.Now(),
	}
	err := bus.Publish(context.Background(), StatusChanged(order, model.OrderStatusReadyForPickup, model.Actor{ID: "c-1", Role: model.RoleCourier}))

	// подписчик получил событие, ошибка публикатора вернулась наружу
	require.Error(t, err)
	require.Equal(t, 1, failing.calls)
	require.Len(t, got, 1)
	require.Equal(t, KindOrderStatusChanged, got[0].Kind)
	require.Equal(t, model.OrderStatusReadyForPickup, got[0].From)
	require.Equal(t, model.OrderStatusPickedUp, got[0].To)
	require.Equal(t, "o-1", got[0].Key())
	require.NoError(t, bus.Close())
}

// blockingPublisher держит Publish до закрытия release
type blockingPublisher struct {
	started chan struct{}
	release chan struct{}
}

func (p *blockingPublisher) Publish(ctx context.Context, _ Event) error {
	close(p.started)
	select {
	case <-p.release:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *blockingPublisher) Close() error { return nil }

func TestBusSubscribeDuringSlowPublish(t *testing.T) {
	slow := &blockingPublisher{started: make(chan struct{}), release: make(chan struct{})}
	bus := NewBus(slow)

	done := make(chan error, 1)
	go func() {
		done <- bus.Publish(context.Background(), Event{Kind: KindOrderPlaced, OrderID: "o-1"})
	}()
	<-slow.started

	subscribed := make(chan struct{})
	go func() {
		bus.Subscribe(func(Event) {})
		close(subscribed)
	}()
	select {
	case <-subscribed:
	case <-time.After(time.Second):
		t.Fatal("Subscribe blocked behind a running Publish")
	}

	close(slow.release)
	require.NoError(t, <-done)
}

func TestBusSubscribeFromHandler(t *testing.T) {
	bus := NewBus()
	calls := 0
	bus.Subscribe(func(Event) {
		calls++
		bus.Subscribe(func(Event) { calls++ })
	})

	require.NoError(t, bus.Publish(context.Background(), Event{Kind: KindOrderPlaced}))
	require.Equal(t, 1, calls)
	require.NoError(t, bus.Publish(context.Background(), Event{Kind: KindOrderPlaced}))
	// во второй раз вызваны оба обработчика
	require.Equal(t, 3, calls)
}

func TestBusJoinsPublisherErrors(t *testing.T) {
	first, second := &failingPublisher{}, &failingPublisher{}
	bus := NewBus(first, NewLogPublisher(zap.NewNop()), second)

	err := bus.Publish(context.Background(), Event{Kind: KindOrderPlaced})
	require.Error(t, err)
	require.Equal(t, 1, first.calls)
	require.Equal(t, 1, second.calls)
	require.Len(t, err.(interface{ Unwrap() []error }).Unwrap(), 2)
}

func TestWebhookPublisher(t *testing.T) {
	received := make(chan Event, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.Header.Get("X-Event-Kind") != string(KindSettlementRecorded) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		body, _ := io.ReadAll(r.Body)
		var e Event
		if err := json.Unmarshal(body, &e); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		received <- e
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	p := NewWebhookPublisher(srv.URL)
	s := model.Settlement{
		ID:          "st-1",
		ShopID:      "s-1",
		Amount:      decimal.RequireFromString("600.00"),
		ProcessedAt: time.Now().UTC(),
	}
	require.NoError(t, p.Publish(context.Background(), SettlementRecorded(s, model.Actor{ID: "a-1", Role: model.RoleAdmin})))

	e := <-received
	require.Equal(t, "st-1", e.Settlement)
	require.Equal(t, "s-1", e.ShopID)
	require.NotNil(t, e.Amount)
	require.True(t, decimal.NewFromInt(600).Equal(*e.Amount))
}

func TestWebhookPublisherStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	err := NewWebhookPublisher(srv.URL).Publish(context.Background(), Event{Kind: KindOrderPlaced})
	require.Error(t, err)
}

func TestNew(t *testing.T) {
	bus, err := New(config.Config{Driver: "log"}, zap.NewNop())
	require.NoError(t, err)
	require.Len(t, bus.publishers, 1)

	bus, err = New(config.Config{Driver: "none"}, zap.NewNop())
	require.NoError(t, err)
	require.Empty(t, bus.publishers)

	_, err = New(config.Config{Driver: "webhook"}, zap.NewNop())
	require.Error(t, err)

	_, err = New(config.Config{Driver: "smoke-signals"}, zap.NewNop())
	require.Error(t, err)
}
