package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Заказы

type OrderStatus string

const (
	OrderStatusPending        OrderStatus = "pending"
	OrderStatusConfirmed      OrderStatus = "confirmed"
	OrderStatusPreparing      OrderStatus = "preparing"
	OrderStatusReadyForPickup OrderStatus = "ready_for_pickup"
	OrderStatusPickedUp       OrderStatus = "picked_up"
	OrderStatusOnTheWay       OrderStatus = "on_the_way"
	OrderStatusDelivered      OrderStatus = "delivered"
	OrderStatusCancelled      OrderStatus = "cancelled"
)

// Terminal - из статуса нет переходов
func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// Active - курьер с заказом в этом статусе занят
func (s OrderStatus) Active() bool {
	return s == OrderStatusPickedUp || s == OrderStatusOnTheWay
}

func (s OrderStatus) Valid() bool {
	switch s {
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusPreparing,
		OrderStatusReadyForPickup, OrderStatusPickedUp, OrderStatusOnTheWay,
		OrderStatusDelivered, OrderStatusCancelled:
		return true
	}
	return false
}

type PaymentMethod string

const (
	PaymentCOD  PaymentMethod = "cod"
	PaymentGPay PaymentMethod = "gpay"
)

type Order struct {
	ID          string
	CustomerID  string
	ShopID      string
	CourierID   string // пусто до назначения
	Status      OrderStatus
	TotalAmount decimal.Decimal
	DeliveryFee decimal.NullDecimal
	PickupOTP   string
	DeliveryOTP string

	PaymentMethod   PaymentMethod
	DeliveryAddress string
	Notes           string
	IsScheduled     bool
	ScheduledAt     *time.Time

	CreatedAt   time.Time
	UpdatedAt   time.Time
	DeliveredAt *time.Time
}

// Магазины и курьеры

type Shop struct {
	ID             string              `json:"id"`
	OwnerID        string              `json:"owner_id"`
	Name           string              `json:"name"`
	CommissionRate decimal.NullDecimal `json:"commission_rate"`
	IsOpen         bool                `json:"is_open"`
	IsVerified     bool                `json:"is_verified"`
	CreatedAt      time.Time           `json:"created_at"`
}

type Courier struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	IsAvailable bool      `json:"is_available"`
	Lat         *float64  `json:"lat,omitempty"`
	Lng         *float64  `json:"lng,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Выплаты

type TargetType string

const (
	TargetShop    TargetType = "shop"
	TargetCourier TargetType = "courier"
)

// Settlement - неизменяемая запись о выплате.
// Заполнен ровно один из ShopID и CourierID.
type Settlement struct {
	ID          string
	ShopID      string
	CourierID   string
	Amount      decimal.Decimal
	Reference   string
	ProcessedAt time.Time
}

func (s Settlement) Target() (TargetType, string) {
	if s.ShopID != "" {
		return TargetShop, s.ShopID
	}
	return TargetCourier, s.CourierID
}

// WithCodes - копия заказа, в которой видны только разрешенные коды.
// Курьер код передачи от магазина узнает только на месте.
func (o Order) WithCodes(pickup, delivery bool) Order {
	if !pickup {
		o.PickupOTP = ""
	}
	if !delivery {
		o.DeliveryOTP = ""
	}
	return o
}
