package ledger

import (
	"github.com/shopspring/decimal"

	"github.com/iurnickita/foodmart/internal/ledger/config"
	"github.com/iurnickita/foodmart/internal/model"
)

var hundred = decimal.NewFromInt(100)

// Split - распределение денег одного заказа. Значения не округлены.
type Split struct {
	DeliveryFee  decimal.Decimal
	PlatformFee  decimal.Decimal
	ItemSubtotal decimal.Decimal
	Commission   decimal.Decimal
	ShopShare    decimal.Decimal
	CourierShare decimal.Decimal
	PlatformTake decimal.Decimal
}

// Quote - цена заказа для покупателя при оформлении
type Quote struct {
	Subtotal    decimal.Decimal
	DeliveryFee decimal.Decimal
	PlatformFee decimal.Decimal
	Discount    decimal.Decimal
	Total       decimal.Decimal
}

// Policy считает деньги по одним и тем же тарифам везде
type Policy struct {
	cfg config.Config
}

func NewPolicy(cfg config.Config) Policy {
	return Policy{cfg: cfg}
}

// DeliveryFee - записанная плата за доставку. Ноль (бесплатная доставка
// для покупателя) считается отсутствующей: курьеру платится ставка по умолчанию.
func (p Policy) DeliveryFee(order model.Order) decimal.Decimal {
	if order.DeliveryFee.Valid && order.DeliveryFee.Decimal.IsPositive() {
		return order.DeliveryFee.Decimal
	}
	return p.cfg.DefaultDeliveryFee
}

func (p Policy) CommissionRate(shop model.Shop) decimal.Decimal {
	if shop.CommissionRate.Valid {
		return shop.CommissionRate.Decimal
	}
	return p.cfg.DefaultCommissionRate
}

// Split. Комиссия с отрицательной суммы товаров тоже отрицательная,
// ограничивается снизу только доля магазина.
func (p Policy) Split(order model.Order, shop model.Shop) Split {
	var s Split
	s.DeliveryFee = p.DeliveryFee(order)
	s.PlatformFee = p.cfg.PlatformFee
	s.ItemSubtotal = order.TotalAmount.Sub(s.DeliveryFee).Sub(s.PlatformFee)
	s.Commission = s.ItemSubtotal.Mul(p.CommissionRate(shop)).Div(hundred)
	s.ShopShare = decimal.Max(decimal.Zero, s.ItemSubtotal.Sub(s.Commission))
	s.CourierShare = decimal.Zero
	if order.CourierID != "" {
		s.CourierShare = s.DeliveryFee
	}
	s.PlatformTake = s.PlatformFee.Add(s.Commission)
	return s
}

// Quote: доставка бесплатна от порога, итог не меньше нуля
func (p Policy) Quote(subtotal, discount decimal.Decimal) Quote {
	q := Quote{
		Subtotal:    subtotal,
		DeliveryFee: p.cfg.DefaultDeliveryFee,
		PlatformFee: p.cfg.PlatformFee,
		Discount:    discount,
	}
	if subtotal.GreaterThanOrEqual(p.cfg.FreeDeliveryThreshold) {
		q.DeliveryFee = decimal.Zero
	}
	total := subtotal.Add(q.DeliveryFee).Add(q.PlatformFee).Sub(discount)
	q.Total = decimal.Max(decimal.Zero, total).Round(2)
	return q
}
