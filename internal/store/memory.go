package store

import (
	"context"
	"sort"
	"sync"

	"github.com/iurnickita/foodmart/internal/model"
)

// memoryStore держит всё под одним мьютексом: условное обновление заказа
// выполняется целиком под блокировкой, как UPDATE ... WHERE в базе.
type memoryStore struct {
	mu          sync.RWMutex
	shops       map[string]model.Shop
	couriers    map[string]model.Courier
	orders      map[string]model.Order
	settlements []model.Settlement
}

func NewMemoryStore() Store {
	return &memoryStore{
		shops:    make(map[string]model.Shop),
		couriers: make(map[string]model.Courier),
		orders:   make(map[string]model.Order),
	}
}

func (store *memoryStore) ShopCreate(_ context.Context, shop model.Shop) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.shops[shop.ID]; ok {
		return ErrAlreadyExists
	}
	store.shops[shop.ID] = shop
	return nil
}

func (store *memoryStore) ShopGet(_ context.Context, id string) (model.Shop, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	shop, ok := store.shops[id]
	if !ok {
		return model.Shop{}, ErrNoRows
	}
	return shop, nil
}

func (store *memoryStore) ShopList(_ context.Context) ([]model.Shop, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return store.shopList(), nil
}

func (store *memoryStore) shopList() []model.Shop {
	shops := make([]model.Shop, 0, len(store.shops))
	for _, shop := range store.shops {
		shops = append(shops, shop)
	}
	sort.Slice(shops, func(i, j int) bool {
		if shops[i].CreatedAt.Equal(shops[j].CreatedAt) {
			return shops[i].ID < shops[j].ID
		}
		return shops[i].CreatedAt.Before(shops[j].CreatedAt)
	})
	return shops
}

func (store *memoryStore) ShopUpdate(_ context.Context, id string, change ShopChange) (model.Shop, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	shop, ok := store.shops[id]
	if !ok {
		return model.Shop{}, ErrNoRows
	}
	if change.IsOpen != nil {
		shop.IsOpen = *change.IsOpen
	}
	if change.IsVerified != nil {
		shop.IsVerified = *change.IsVerified
	}
	if change.CommissionRate != nil {
		shop.CommissionRate.Decimal = *change.CommissionRate
		shop.CommissionRate.Valid = true
	}
	store.shops[id] = shop
	return shop, nil
}

func (store *memoryStore) CourierCreate(_ context.Context, courier model.Courier) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.couriers[courier.ID]; ok {
		return ErrAlreadyExists
	}
	for _, c := range store.couriers {
		if c.UserID == courier.UserID {
			return ErrAlreadyExists
		}
	}
	store.couriers[courier.ID] = courier
	return nil
}

func (store *memoryStore) CourierGet(_ context.Context, id string) (model.Courier, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	courier, ok := store.couriers[id]
	if !ok {
		return model.Courier{}, ErrNoRows
	}
	return courier, nil
}

func (store *memoryStore) CourierList(_ context.Context) ([]model.Courier, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return store.courierList(), nil
}

func (store *memoryStore) courierList() []model.Courier {
	couriers := make([]model.Courier, 0, len(store.couriers))
	for _, courier := range store.couriers {
		couriers = append(couriers, courier)
	}
	sort.Slice(couriers, func(i, j int) bool {
		if couriers[i].CreatedAt.Equal(couriers[j].CreatedAt) {
			return couriers[i].ID < couriers[j].ID
		}
		return couriers[i].CreatedAt.Before(couriers[j].CreatedAt)
	})
	return couriers
}

func (store *memoryStore) CourierUpdate(_ context.Context, id string, change CourierChange) (model.Courier, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	courier, ok := store.couriers[id]
	if !ok {
		return model.Courier{}, ErrNoRows
	}
	if change.IsAvailable != nil {
		courier.IsAvailable = *change.IsAvailable
	}
	if change.Lat != nil {
		lat := *change.Lat
		courier.Lat = &lat
	}
	if change.Lng != nil {
		lng := *change.Lng
		courier.Lng = &lng
	}
	store.couriers[id] = courier
	return courier, nil
}

func (store *memoryStore) OrderCreate(_ context.Context, order model.Order) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	if _, ok := store.orders[order.ID]; ok {
		return ErrAlreadyExists
	}
	store.orders[order.ID] = order
	return nil
}

func (store *memoryStore) OrderGet(_ context.Context, id string) (model.Order, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	order, ok := store.orders[id]
	if !ok {
		return model.Order{}, ErrNoRows
	}
	return order, nil
}

func (store *memoryStore) OrderList(_ context.Context, filter OrderFilter) ([]model.Order, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return store.orderList(filter), nil
}

func (store *memoryStore) orderList(filter OrderFilter) []model.Order {
	orders := []model.Order{}
	for _, order := range store.orders {
		if filter.match(order) {
			orders = append(orders, order)
		}
	}
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders
}

func (store *memoryStore) OrderUpdate(_ context.Context, id string, guard OrderGuard, change OrderChange) (model.Order, error) {
	store.mu.Lock()
	defer store.mu.Unlock()

	order, ok := store.orders[id]
	if !ok {
		return model.Order{}, ErrNoRows
	}
	if !guard.match(order) {
		return model.Order{}, ErrConflict
	}
	if guard.CourierIdle != "" {
		for _, other := range store.orders {
			if other.ID != id && other.CourierID == guard.CourierIdle && other.Status.Active() {
				return model.Order{}, ErrCourierBusy
			}
		}
	}

	order = change.apply(order)
	store.orders[id] = order
	return order, nil
}

func (store *memoryStore) SettlementCreate(_ context.Context, settlement model.Settlement) error {
	store.mu.Lock()
	defer store.mu.Unlock()

	for _, s := range store.settlements {
		if s.ID == settlement.ID {
			return ErrAlreadyExists
		}
	}
	store.settlements = append(store.settlements, settlement)
	return nil
}

func (store *memoryStore) SettlementList(_ context.Context, filter SettlementFilter) ([]model.Settlement, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return store.settlementList(filter), nil
}

func (store *memoryStore) settlementList(filter SettlementFilter) []model.Settlement {
	settlements := []model.Settlement{}
	for _, s := range store.settlements {
		if filter.match(s) {
			settlements = append(settlements, s)
		}
	}
	return settlements
}

func (store *memoryStore) Snapshot(_ context.Context, orders OrderFilter, settlements SettlementFilter) (Snapshot, error) {
	store.mu.RLock()
	defer store.mu.RUnlock()

	return Snapshot{
		Orders:      store.orderList(orders),
		Shops:       store.shopList(),
		Couriers:    store.courierList(),
		Settlements: store.settlementList(settlements),
	}, nil
}

func (store *memoryStore) Close() error {
	return nil
}
