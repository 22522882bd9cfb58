// Package dispatch - пул заказов, готовых к выдаче, и допуск курьера к захвату.
// Сам захват происходит при проверке кода выдачи в lifecycle.
package dispatch

import (
	"context"
	"sort"

	"github.com/pkg/errors"

	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/store"
)

type Dispatch interface {
	ListAvailable(ctx context.Context, courierID string) ([]model.Order, error)
	Active(ctx context.Context, courierID string) ([]model.Order, error)
	History(ctx context.Context, courierID string, limit int) ([]model.Order, error)
	Eligible(ctx context.Context, courierID string) error
}

var (
	activeStatuses = []model.OrderStatus{model.OrderStatusPickedUp, model.OrderStatusOnTheWay}
	closedStatuses = []model.OrderStatus{model.OrderStatusDelivered, model.OrderStatusCancelled}
)

type dispatch struct {
	store store.Store
}

func NewDispatch(store store.Store) Dispatch {
	return &dispatch{store: store}
}

func (dispatch *dispatch) courier(ctx context.Context, courierID string) error {
	_, err := dispatch.store.CourierGet(ctx, courierID)
	if errors.Is(err, store.ErrNoRows) {
		return errors.Wrapf(model.ErrNotFound, "courier %s", courierID)
	}
	return err
}

// ListAvailable - неназначенные заказы ready_for_pickup, старые первыми.
// Занятость курьера список не сужает.
func (dispatch *dispatch) ListAvailable(ctx context.Context, courierID string) ([]model.Order, error) {
	if err := dispatch.courier(ctx, courierID); err != nil {
		return nil, err
	}
	orders, err := dispatch.store.OrderList(ctx, store.OrderFilter{
		Statuses:   []model.OrderStatus{model.OrderStatusReadyForPickup},
		Unassigned: true,
	})
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i] = orders[i].WithCodes(false, false)
	}
	return orders, nil
}

func (dispatch *dispatch) Active(ctx context.Context, courierID string) ([]model.Order, error) {
	if err := dispatch.courier(ctx, courierID); err != nil {
		return nil, err
	}
	orders, err := dispatch.store.OrderList(ctx, store.OrderFilter{
		CourierID: courierID,
		Statuses:  activeStatuses,
	})
	if err != nil {
		return nil, err
	}
	for i := range orders {
		orders[i] = orders[i].WithCodes(false, false)
	}
	return orders, nil
}

// History - завершенные заказы курьера, новые первыми. limit <= 0 - все.
func (dispatch *dispatch) History(ctx context.Context, courierID string, limit int) ([]model.Order, error) {
	if err := dispatch.courier(ctx, courierID); err != nil {
		return nil, err
	}
	orders, err := dispatch.store.OrderList(ctx, store.OrderFilter{
		CourierID: courierID,
		Statuses:  closedStatuses,
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(orders, func(i, j int) bool {
		return orders[i].UpdatedAt.After(orders[j].UpdatedAt)
	})
	if limit > 0 && len(orders) > limit {
		orders = orders[:limit]
	}
	for i := range orders {
		orders[i] = orders[i].WithCodes(false, false)
	}
	return orders, nil
}

// Eligible - у курьера нет заказа в picked_up/on_the_way
func (dispatch *dispatch) Eligible(ctx context.Context, courierID string) error {
	orders, err := dispatch.store.OrderList(ctx, store.OrderFilter{
		CourierID: courierID,
		Statuses:  activeStatuses,
	})
	if err != nil {
		return err
	}
	if len(orders) > 0 {
		return errors.Wrapf(model.ErrCourierUnavailable, "courier %s has order %s", courierID, orders[0].ID)
	}
	return nil
}
