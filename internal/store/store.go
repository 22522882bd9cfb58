package store

import (
	"context"
	"errors"
	"time"

	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/store/config"
	"github.com/shopspring/decimal"
)

type Store interface {
	ShopCreate(ctx context.Context, shop model.Shop) error
	ShopGet(ctx context.Context, id string) (model.Shop, error)
	ShopList(ctx context.Context) ([]model.Shop, error)
	ShopUpdate(ctx context.Context, id string, change ShopChange) (model.Shop, error)

	CourierCreate(ctx context.Context, courier model.Courier) error
	CourierGet(ctx context.Context, id string) (model.Courier, error)
	CourierList(ctx context.Context) ([]model.Courier, error)
	CourierUpdate(ctx context.Context, id string, change CourierChange) (model.Courier, error)

	OrderCreate(ctx context.Context, order model.Order) error
	OrderGet(ctx context.Context, id string) (model.Order, error)
	OrderList(ctx context.Context, filter OrderFilter) ([]model.Order, error)
	OrderUpdate(ctx context.Context, id string, guard OrderGuard, change OrderChange) (model.Order, error)

	SettlementCreate(ctx context.Context, settlement model.Settlement) error
	SettlementList(ctx context.Context, filter SettlementFilter) ([]model.Settlement, error)

	Snapshot(ctx context.Context, orders OrderFilter, settlements SettlementFilter) (Snapshot, error)

	Close() error
}

var (
	ErrNoRows        = errors.New("no rows")
	ErrAlreadyExists = errors.New("already exists")
	// ErrConflict - условие обновления не выполнено, строка не изменена
	ErrConflict = errors.New("guard not satisfied")
	// ErrCourierBusy - у курьера уже есть активный заказ
	ErrCourierBusy = errors.New("courier busy")
)

// OrderGuard - условия, которые должны выполняться в момент записи.
// Пустые поля не проверяются.
type OrderGuard struct {
	Status      model.OrderStatus
	Unassigned  bool
	CourierID   string
	PickupOTP   string
	DeliveryOTP string
	// у курьера CourierIdle нет заказов в picked_up/on_the_way
	CourierIdle string
}

// OrderChange - что меняется при успешной проверке OrderGuard.
// nil-указатель - поле не трогаем, указатель на "" - очищаем.
type OrderChange struct {
	Status      model.OrderStatus
	CourierID   string
	PickupOTP   *string
	DeliveryOTP *string
	DeliveredAt *time.Time
	UpdatedAt   time.Time
}

func (g OrderGuard) match(o model.Order) bool {
	if g.Status != "" && o.Status != g.Status {
		return false
	}
	if g.Unassigned && o.CourierID != "" {
		return false
	}
	if g.CourierID != "" && o.CourierID != g.CourierID {
		return false
	}
	// погашенный код не совпадает ни с чем
	if g.PickupOTP != "" && (o.PickupOTP == "" || o.PickupOTP != g.PickupOTP) {
		return false
	}
	if g.DeliveryOTP != "" && (o.DeliveryOTP == "" || o.DeliveryOTP != g.DeliveryOTP) {
		return false
	}
	return true
}

func (c OrderChange) apply(o model.Order) model.Order {
	if c.Status != "" {
		o.Status = c.Status
	}
	if c.CourierID != "" {
		o.CourierID = c.CourierID
	}
	if c.PickupOTP != nil {
		o.PickupOTP = *c.PickupOTP
	}
	if c.DeliveryOTP != nil {
		o.DeliveryOTP = *c.DeliveryOTP
	}
	if c.DeliveredAt != nil {
		t := *c.DeliveredAt
		o.DeliveredAt = &t
	}
	if !c.UpdatedAt.IsZero() {
		o.UpdatedAt = c.UpdatedAt
	}
	return o
}

type ShopChange struct {
	IsOpen         *bool
	IsVerified     *bool
	CommissionRate *decimal.Decimal
}

type CourierChange struct {
	IsAvailable *bool
	Lat         *float64
	Lng         *float64
}

// OrderFilter - выборка заказов. Нулевые значения не ограничивают.
// Результат упорядочен по created_at по возрастанию.
type OrderFilter struct {
	Statuses      []model.OrderStatus
	ShopID        string
	CourierID     string
	Unassigned    bool
	CreatedFrom   time.Time
	CreatedTo     time.Time
	DeliveredFrom time.Time
	DeliveredTo   time.Time
}

func (f OrderFilter) match(o model.Order) bool {
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if o.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if f.ShopID != "" && o.ShopID != f.ShopID {
		return false
	}
	if f.CourierID != "" && o.CourierID != f.CourierID {
		return false
	}
	if f.Unassigned && o.CourierID != "" {
		return false
	}
	if !inRange(o.CreatedAt, f.CreatedFrom, f.CreatedTo) {
		return false
	}
	if !f.DeliveredFrom.IsZero() || !f.DeliveredTo.IsZero() {
		if o.DeliveredAt == nil || !inRange(*o.DeliveredAt, f.DeliveredFrom, f.DeliveredTo) {
			return false
		}
	}
	return true
}

type SettlementFilter struct {
	Target   model.TargetType
	TargetID string
	From     time.Time
	To       time.Time
}

func (f SettlementFilter) match(s model.Settlement) bool {
	target, id := s.Target()
	if f.Target != "" && target != f.Target {
		return false
	}
	if f.TargetID != "" && id != f.TargetID {
		return false
	}
	return inRange(s.ProcessedAt, f.From, f.To)
}

// Snapshot - согласованный срез заказов, магазинов и выплат на один момент.
type Snapshot struct {
	Orders      []model.Order
	Shops       []model.Shop
	Couriers    []model.Courier
	Settlements []model.Settlement
}

// границы включительные
func inRange(t, from, to time.Time) bool {
	if !from.IsZero() && t.Before(from) {
		return false
	}
	if !to.IsZero() && t.After(to) {
		return false
	}
	return true
}

func NewStore(cfg config.Config) (Store, error) {
	if cfg.DBDsn == "" {
		return NewMemoryStore(), nil
	}
	return NewPostgresStore(context.Background(), cfg.DBDsn)
}
