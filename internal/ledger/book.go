package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/store"
)

// Balance - состояние расчетов с магазином или курьером.
// Каждая сумма округляется один раз, после сложения.
type Balance struct {
	Target   model.TargetType `json:"target"`
	ID       string           `json:"id"`
	Earnings decimal.Decimal  `json:"earnings"`
	Settled  decimal.Decimal  `json:"settled"`
	Pending  decimal.Decimal  `json:"pending"`
	Orders   int              `json:"orders"`
	// только для магазина
	Breakdown *Breakdown `json:"breakdown,omitempty"`
}

type Breakdown struct {
	Gross        decimal.Decimal `json:"gross"`
	DeliveryFees decimal.Decimal `json:"delivery_fees"`
	PlatformFees decimal.Decimal `json:"platform_fees"`
	Commissions  decimal.Decimal `json:"commissions"`
}

// Summary - итоги платформы
type Summary struct {
	DeliveredOrders int             `json:"delivered_orders"`
	Revenue         decimal.Decimal `json:"revenue"`
	PlatformFees    decimal.Decimal `json:"platform_fees"`
	Commissions     decimal.Decimal `json:"commissions"`
	NetEarnings     decimal.Decimal `json:"net_earnings"`
	ShopPayable     decimal.Decimal `json:"shop_payable"`
	CourierPayable  decimal.Decimal `json:"courier_payable"`
	Settled         decimal.Decimal `json:"settled"`
	PendingPayouts  decimal.Decimal `json:"pending_payouts"`
}

// account - точные (неокругленные) накопления по одному получателю
type account struct {
	orders   int
	earnings decimal.Decimal
	settled  decimal.Decimal
	gross    decimal.Decimal
	delivery decimal.Decimal
	platform decimal.Decimal
	comm     decimal.Decimal
}

// book - результат одного прохода по срезу. Срез не меняется,
// поэтому повторный расчет дает те же числа.
type book struct {
	shops    map[string]*account
	couriers map[string]*account
	summary  account
	revenue  decimal.Decimal
	shopPay  decimal.Decimal
	courPay  decimal.Decimal
	settled  decimal.Decimal
}

func (p Policy) book(snap store.Snapshot) book {
	b := book{
		shops:    make(map[string]*account),
		couriers: make(map[string]*account),
	}
	shops := make(map[string]model.Shop, len(snap.Shops))
	for _, shop := range snap.Shops {
		shops[shop.ID] = shop
		b.shops[shop.ID] = &account{}
	}
	for _, courier := range snap.Couriers {
		b.couriers[courier.ID] = &account{}
	}

	for _, order := range snap.Orders {
		if order.Status != model.OrderStatusDelivered {
			continue
		}
		split := p.Split(order, shops[order.ShopID])

		shop := b.shopAccount(order.ShopID)
		shop.orders++
		shop.earnings = shop.earnings.Add(split.ShopShare)
		shop.gross = shop.gross.Add(order.TotalAmount)
		shop.delivery = shop.delivery.Add(split.DeliveryFee)
		shop.platform = shop.platform.Add(split.PlatformFee)
		shop.comm = shop.comm.Add(split.Commission)

		if order.CourierID != "" {
			courier := b.courierAccount(order.CourierID)
			courier.orders++
			courier.earnings = courier.earnings.Add(split.CourierShare)
		}

		b.summary.orders++
		b.revenue = b.revenue.Add(order.TotalAmount)
		b.summary.platform = b.summary.platform.Add(split.PlatformFee)
		b.summary.comm = b.summary.comm.Add(split.Commission)
		b.shopPay = b.shopPay.Add(split.ShopShare)
		b.courPay = b.courPay.Add(split.CourierShare)
	}

	for _, s := range snap.Settlements {
		target, id := s.Target()
		var acc *account
		if target == model.TargetShop {
			acc = b.shopAccount(id)
		} else {
			acc = b.courierAccount(id)
		}
		acc.settled = acc.settled.Add(s.Amount)
		b.settled = b.settled.Add(s.Amount)
	}
	return b
}

func (b *book) shopAccount(id string) *account {
	acc, ok := b.shops[id]
	if !ok {
		acc = &account{}
		b.shops[id] = acc
	}
	return acc
}

func (b *book) courierAccount(id string) *account {
	acc, ok := b.couriers[id]
	if !ok {
		acc = &account{}
		b.couriers[id] = acc
	}
	return acc
}

func round(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// pending = max(0, earnings - settled) по уже округленным итогам
func pending(earnings, settled decimal.Decimal) decimal.Decimal {
	return decimal.Max(decimal.Zero, earnings.Sub(settled))
}

func (acc *account) balance(target model.TargetType, id string) Balance {
	bal := Balance{
		Target:   target,
		ID:       id,
		Earnings: round(acc.earnings),
		Settled:  round(acc.settled),
		Orders:   acc.orders,
	}
	bal.Pending = pending(bal.Earnings, bal.Settled)
	if target == model.TargetShop {
		bal.Breakdown = &Breakdown{
			Gross:        round(acc.gross),
			DeliveryFees: round(acc.delivery),
			PlatformFees: round(acc.platform),
			Commissions:  round(acc.comm),
		}
	}
	return bal
}

func (b book) shopBalance(id string) Balance {
	acc, ok := b.shops[id]
	if !ok {
		acc = &account{}
	}
	return acc.balance(model.TargetShop, id)
}

func (b book) courierBalance(id string) Balance {
	acc, ok := b.couriers[id]
	if !ok {
		acc = &account{}
	}
	return acc.balance(model.TargetCourier, id)
}

func (b book) summaryTotals() Summary {
	sum := Summary{
		DeliveredOrders: b.summary.orders,
		Revenue:         round(b.revenue),
		PlatformFees:    round(b.summary.platform),
		Commissions:     round(b.summary.comm),
		NetEarnings:     round(b.summary.platform.Add(b.summary.comm)),
		ShopPayable:     round(b.shopPay),
		CourierPayable:  round(b.courPay),
		Settled:         round(b.settled),
	}
	sum.PendingPayouts = pending(sum.ShopPayable.Add(sum.CourierPayable), sum.Settled)
	return sum
}
