package ledger

import (
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/store"
)

type Period string

const (
	PeriodToday Period = "today"
	PeriodWeek  Period = "week"
	PeriodMonth Period = "month"
	PeriodDay   Period = "day"
	PeriodRange Period = "range"
)

// Basis - по какой дате заказ попадает в окно
type Basis string

const (
	BasisCreated   Basis = "created"
	BasisDelivered Basis = "delivered"
)

type Window struct {
	Period Period
	Basis  Basis
	// для PeriodDay
	Day time.Time
	// для PeriodRange, включительно
	From time.Time
	To   time.Time
}

// Bounds - границы окна включительно. Неделя начинается с понедельника.
func (w Window) Bounds(now time.Time) (time.Time, time.Time, error) {
	startOfDay := func(t time.Time) time.Time {
		y, m, d := t.Date()
		return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
	}
	end := func(from time.Time, years, months, days int) time.Time {
		return from.AddDate(years, months, days).Add(-time.Nanosecond)
	}

	switch w.Period {
	case PeriodToday, "":
		from := startOfDay(now)
		return from, end(from, 0, 0, 1), nil
	case PeriodWeek:
		today := startOfDay(now)
		from := today.AddDate(0, 0, -((int(today.Weekday()) + 6) % 7))
		return from, end(from, 0, 0, 7), nil
	case PeriodMonth:
		y, m, _ := now.Date()
		from := time.Date(y, m, 1, 0, 0, 0, 0, now.Location())
		return from, end(from, 0, 1, 0), nil
	case PeriodDay:
		if w.Day.IsZero() {
			return time.Time{}, time.Time{}, errors.Wrap(model.ErrInvalidRequest, "report day is empty")
		}
		from := startOfDay(w.Day)
		return from, end(from, 0, 0, 1), nil
	case PeriodRange:
		if w.From.IsZero() || w.To.IsZero() || w.To.Before(w.From) {
			return time.Time{}, time.Time{}, errors.Wrap(model.ErrInvalidRequest, "report range is invalid")
		}
		return w.From, w.To, nil
	}
	return time.Time{}, time.Time{}, errors.Wrapf(model.ErrInvalidRequest, "unknown report period %q", w.Period)
}

type Report struct {
	From            time.Time       `json:"from"`
	To              time.Time       `json:"to"`
	Basis           Basis           `json:"basis"`
	TotalOrders     int             `json:"total_orders"`
	DeliveredOrders int             `json:"delivered_orders"`
	Revenue         decimal.Decimal `json:"revenue"`
	PlatformFees    decimal.Decimal `json:"platform_fees"`
	Commissions     decimal.Decimal `json:"commissions"`
	NetEarnings     decimal.Decimal `json:"net_earnings"`
	Payable         decimal.Decimal `json:"payable"`
	SettledAmount   decimal.Decimal `json:"settled_amount"`
	Settlements     int             `json:"settlements"`
}

func (w Window) filters(from, to time.Time) (store.OrderFilter, store.SettlementFilter, error) {
	var orders store.OrderFilter
	switch w.Basis {
	case BasisCreated, "":
		orders.CreatedFrom, orders.CreatedTo = from, to
	case BasisDelivered:
		orders.DeliveredFrom, orders.DeliveredTo = from, to
	default:
		return store.OrderFilter{}, store.SettlementFilter{}, errors.Wrapf(model.ErrInvalidRequest, "unknown report basis %q", w.Basis)
	}
	return orders, store.SettlementFilter{From: from, To: to}, nil
}

// report - та же формула Split, меняется только набор заказов
func (p Policy) report(snap store.Snapshot) Report {
	b := p.book(snap)
	sum := b.summaryTotals()

	var rep Report
	rep.TotalOrders = len(snap.Orders)
	rep.DeliveredOrders = sum.DeliveredOrders
	rep.Revenue = sum.Revenue
	rep.PlatformFees = sum.PlatformFees
	rep.Commissions = sum.Commissions
	rep.NetEarnings = sum.NetEarnings
	rep.Payable = round(b.shopPay.Add(b.courPay))
	rep.SettledAmount = sum.Settled
	rep.Settlements = len(snap.Settlements)
	return rep
}
