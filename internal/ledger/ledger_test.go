package ledger

import (
	"context"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/foodmart/internal/events"
	"github.com/iurnickita/foodmart/internal/ledger/config"
	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/store"
)

var admin = model.Actor{ID: "admin-1", Role: model.RoleAdmin}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func requireDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	require.True(t, dec(want).Equal(got), "want %s, got %s", want, got)
}

type fixture struct {
	store  store.Store
	ledger *ledger
	events []events.Event
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{store: store.NewMemoryStore()}
	bus := events.NewBus()
	bus.Subscribe(func(e events.Event) { f.events = append(f.events, e) })
	f.ledger = NewLedger(config.Default(), f.store, bus, nil, zap.NewNop()).(*ledger)
	return f
}

func (f *fixture) shop(t *testing.T, rate *decimal.Decimal) model.Shop {
	shop := model.Shop{
		ID:         uuid.NewString(),
		OwnerID:    uuid.NewString(),
		Name:       "Dosa Point",
		IsOpen:     true,
		IsVerified: true,
		CreatedAt:  time.Now().UTC(),
	}
	if rate != nil {
		shop.CommissionRate = decimal.NewNullDecimal(*rate)
	}
	require.NoError(t, f.store.ShopCreate(context.Background(), shop))
	return shop
}

func (f *fixture) courier(t *testing.T) model.Courier {
	courier := model.Courier{ID: uuid.NewString(), UserID: uuid.NewString(), CreatedAt: time.Now().UTC()}
	require.NoError(t, f.store.CourierCreate(context.Background(), courier))
	return courier
}

func (f *fixture) order(t *testing.T, shopID, courierID string, status model.OrderStatus, total string, fee *decimal.Decimal) model.Order {
	now := time.Now().UTC()
	order := model.Order{
		ID:            uuid.NewString(),
		CustomerID:    uuid.NewString(),
		ShopID:        shopID,
		CourierID:     courierID,
		Status:        status,
		TotalAmount:   dec(total),
		PaymentMethod: model.PaymentCOD,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if fee != nil {
		order.DeliveryFee = decimal.NewNullDecimal(*fee)
	}
	if status == model.OrderStatusDelivered {
		order.DeliveredAt = &now
	}
	require.NoError(t, f.store.OrderCreate(context.Background(), order))
	return order
}

func TestSplit(t *testing.T) {
	policy := NewPolicy(config.Default())
	shop := model.Shop{}

	// 250, доставка по умолчанию 25, сбор 8, комиссия 15%
	s := policy.Split(model.Order{TotalAmount: dec("250"), CourierID: "c"}, shop)
	requireDec(t, "25", s.DeliveryFee)
	requireDec(t, "8", s.PlatformFee)
	requireDec(t, "217", s.ItemSubtotal)
	requireDec(t, "32.55", s.Commission)
	requireDec(t, "184.45", s.ShopShare)
	requireDec(t, "25", s.CourierShare)
	requireDec(t, "40.55", s.PlatformTake)

	// сборы больше суммы заказа: комиссия отрицательная, доля магазина 0
	fee := decimal.NewNullDecimal(dec("25"))
	s = policy.Split(model.Order{TotalAmount: dec("20"), DeliveryFee: fee, CourierID: "c"}, shop)
	requireDec(t, "-13", s.ItemSubtotal)
	requireDec(t, "-1.95", s.Commission)
	requireDec(t, "0", s.ShopShare)
	requireDec(t, "6.05", s.PlatformTake)

	// бесплатная для покупателя доставка: курьер все равно получает ставку по умолчанию
	free := decimal.NewNullDecimal(decimal.Zero)
	s = policy.Split(model.Order{TotalAmount: dec("208"), DeliveryFee: free, CourierID: "c"}, shop)
	requireDec(t, "25", s.DeliveryFee)
	requireDec(t, "175", s.ItemSubtotal)
	requireDec(t, "25", s.CourierShare)
	requireDec(t, "148.75", s.ShopShare)

	// без курьера доставка никому не начисляется
	s = policy.Split(model.Order{TotalAmount: dec("250")}, shop)
	requireDec(t, "0", s.CourierShare)

	// ставка магазина
	rate := decimal.NewNullDecimal(dec("10"))
	s = policy.Split(model.Order{TotalAmount: dec("250")}, model.Shop{CommissionRate: rate})
	requireDec(t, "21.7", s.Commission)
	requireDec(t, "195.3", s.ShopShare)
}

func TestQuote(t *testing.T) {
	policy := NewPolicy(config.Default())

	q := policy.Quote(dec("150"), decimal.Zero)
	requireDec(t, "25", q.DeliveryFee)
	requireDec(t, "183", q.Total)

	// от порога доставка бесплатна
	q = policy.Quote(dec("199"), dec("20"))
	requireDec(t, "0", q.DeliveryFee)
	requireDec(t, "187", q.Total)

	// скидка больше суммы
	q = policy.Quote(dec("50"), dec("500"))
	requireDec(t, "0", q.Total)

	// заказ с бесплатной доставкой в расчетах
	q = policy.Quote(dec("200"), decimal.Zero)
	requireDec(t, "208", q.Total)
	order := model.Order{
		TotalAmount: q.Total,
		DeliveryFee: decimal.NewNullDecimal(q.DeliveryFee),
		CourierID:   "c",
	}
	s := policy.Split(order, model.Shop{})
	requireDec(t, "25", s.CourierShare)
	requireDec(t, "148.75", s.ShopShare)
}

func TestBalanceHappyPath(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shop := f.shop(t, nil)
	courier := f.courier(t)

	f.order(t, shop.ID, courier.ID, model.OrderStatusDelivered, "250", nil)
	// в расчет не попадают
	f.order(t, shop.ID, courier.ID, model.OrderStatusCancelled, "900", nil)
	f.order(t, shop.ID, "", model.OrderStatusPreparing, "400", nil)

	bal, err := f.ledger.Shop(ctx, model.Actor{ID: shop.OwnerID, Role: model.RoleShopOwner}, shop.ID)
	require.NoError(t, err)
	require.Equal(t, 1, bal.Orders)
	requireDec(t, "184.45", bal.Earnings)
	requireDec(t, "184.45", bal.Pending)
	require.NotNil(t, bal.Breakdown)
	requireDec(t, "250", bal.Breakdown.Gross)
	requireDec(t, "32.55", bal.Breakdown.Commissions)
	requireDec(t, "8", bal.Breakdown.PlatformFees)
	requireDec(t, "25", bal.Breakdown.DeliveryFees)

	cbal, err := f.ledger.Courier(ctx, model.Actor{ID: courier.ID, Role: model.RoleCourier}, courier.ID)
	require.NoError(t, err)
	requireDec(t, "25", cbal.Earnings)
	require.Nil(t, cbal.Breakdown)

	sum, err := f.ledger.Summary(ctx, admin)
	require.NoError(t, err)
	require.Equal(t, 1, sum.DeliveredOrders)
	requireDec(t, "250", sum.Revenue)
	requireDec(t, "40.55", sum.NetEarnings)
	requireDec(t, "184.45", sum.ShopPayable)
	requireDec(t, "25", sum.CourierPayable)
	requireDec(t, "209.45", sum.PendingPayouts)
}

func TestBalanceAccess(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shop := f.shop(t, nil)
	courier := f.courier(t)

	_, err := f.ledger.Shop(ctx, model.Actor{ID: "stranger", Role: model.RoleShopOwner}, shop.ID)
	require.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.ledger.Courier(ctx, model.Actor{ID: "other", Role: model.RoleCourier}, courier.ID)
	require.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.ledger.Shops(ctx, model.Actor{ID: shop.OwnerID, Role: model.RoleShopOwner})
	require.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = f.ledger.Shop(ctx, admin, uuid.NewString())
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.ledger.Settlements(ctx, model.Actor{ID: shop.OwnerID, Role: model.RoleShopOwner}, model.TargetShop, shop.ID)
	require.NoError(t, err)
	_, err = f.ledger.Settlements(ctx, model.Actor{ID: "x", Role: model.RoleCustomer}, model.TargetCourier, courier.ID)
	require.ErrorIs(t, err, model.ErrUnauthorized)
}

func TestSettlementReconciliation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	zero := decimal.Zero
	shop := f.shop(t, &zero)
	courier := f.courier(t)

	// 508 - 0 доставка - 8 сбор = 500 магазину, два заказа = 1000
	f.order(t, shop.ID, courier.ID, model.OrderStatusDelivered, "508", &zero)
	f.order(t, shop.ID, courier.ID, model.OrderStatusDelivered, "508", &zero)

	_, err := f.ledger.RecordSettlement(ctx, admin, model.TargetShop, shop.ID, dec("600"), "UTR-600")
	require.NoError(t, err)
	bal, err := f.ledger.Shop(ctx, admin, shop.ID)
	require.NoError(t, err)
	requireDec(t, "1000", bal.Earnings)
	requireDec(t, "600", bal.Settled)
	requireDec(t, "400", bal.Pending)

	// переплата допускается, остаток не уходит в минус
	_, err = f.ledger.RecordSettlement(ctx, admin, model.TargetShop, shop.ID, dec("500"), "")
	require.NoError(t, err)
	bal, err = f.ledger.Shop(ctx, admin, shop.ID)
	require.NoError(t, err)
	requireDec(t, "1100", bal.Settled)
	requireDec(t, "0", bal.Pending)

	history, err := f.ledger.Settlements(ctx, admin, model.TargetShop, shop.ID)
	require.NoError(t, err)
	require.Len(t, history, 2)
	require.Equal(t, "UTR-600", history[0].Reference)

	require.Len(t, f.events, 2)
	require.Equal(t, events.KindSettlementRecorded, f.events[0].Kind)
}

func TestRecordSettlementRejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shop := f.shop(t, nil)

	_, err := f.ledger.RecordSettlement(ctx, model.Actor{ID: shop.OwnerID, Role: model.RoleShopOwner}, model.TargetShop, shop.ID, dec("10"), "")
	require.ErrorIs(t, err, model.ErrUnauthorized)

	for _, amount := range []string{"0", "-5", "0.004"} {
		_, err = f.ledger.RecordSettlement(ctx, admin, model.TargetShop, shop.ID, dec(amount), "")
		require.ErrorIs(t, err, model.ErrInvalidAmount, amount)
	}

	_, err = f.ledger.RecordSettlement(ctx, admin, model.TargetCourier, uuid.NewString(), dec("10"), "")
	require.ErrorIs(t, err, model.ErrNotFound)

	_, err = f.ledger.RecordSettlement(ctx, admin, "bank", shop.ID, dec("10"), "")
	require.ErrorIs(t, err, model.ErrInvalidRequest)

	// сумма округляется до копеек
	s, err := f.ledger.RecordSettlement(ctx, admin, model.TargetShop, shop.ID, dec("10.005"), "")
	require.NoError(t, err)
	requireDec(t, "10.01", s.Amount)

	require.Len(t, f.events, 1)
}

func TestAggregateRoundedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shop := f.shop(t, nil)
	courier := f.courier(t)

	// 33.10 - 25 - 8 = 0.10, комиссия 0.015, доля 0.085.
	// Округление по заказам дало бы 10 * 0.09 = 0.90
	for i := 0; i < 10; i++ {
		f.order(t, shop.ID, courier.ID, model.OrderStatusDelivered, "33.10", nil)
	}

	bal, err := f.ledger.Shop(ctx, admin, shop.ID)
	require.NoError(t, err)
	requireDec(t, "0.85", bal.Earnings)
	requireDec(t, "0.15", bal.Breakdown.Commissions)
}

func TestLedgerIdempotentAndNonNegative(t *testing.T) {
	faker := gofakeit.New(42)
	policy := NewPolicy(config.Default())

	var snap store.Snapshot
	for i := 0; i < 5; i++ {
		rate := decimal.NewFromInt(int64(faker.Number(0, 30)))
		snap.Shops = append(snap.Shops, model.Shop{ID: faker.UUID(), CommissionRate: decimal.NewNullDecimal(rate)})
		snap.Couriers = append(snap.Couriers, model.Courier{ID: faker.UUID()})
	}
	statuses := []model.OrderStatus{
		model.OrderStatusDelivered, model.OrderStatusDelivered, model.OrderStatusCancelled, model.OrderStatusOnTheWay,
	}
	for i := 0; i < 300; i++ {
		order := model.Order{
			ID:          faker.UUID(),
			ShopID:      snap.Shops[faker.Number(0, 4)].ID,
			CourierID:   snap.Couriers[faker.Number(0, 4)].ID,
			Status:      statuses[faker.Number(0, len(statuses)-1)],
			TotalAmount: decimal.New(int64(faker.Number(500, 150000)), -2),
		}
		if faker.Bool() {
			order.DeliveryFee = decimal.NewNullDecimal(decimal.New(int64(faker.Number(0, 4000)), -2))
		}
		snap.Orders = append(snap.Orders, order)
	}
	for i := 0; i < 20; i++ {
		s := model.Settlement{ID: faker.UUID(), Amount: decimal.New(int64(faker.Number(1, 500000)), -2)}
		if faker.Bool() {
			s.ShopID = snap.Shops[faker.Number(0, 4)].ID
		} else {
			s.CourierID = snap.Couriers[faker.Number(0, 4)].ID
		}
		snap.Settlements = append(snap.Settlements, s)
	}

	first, second := policy.book(snap), policy.book(snap)
	for _, shop := range snap.Shops {
		a, b := first.shopBalance(shop.ID), second.shopBalance(shop.ID)
		require.True(t, a.Earnings.Equal(b.Earnings))
		require.True(t, a.Pending.Equal(b.Pending))
		require.False(t, a.Pending.IsNegative())
		require.False(t, a.Earnings.IsNegative())
	}
	for _, courier := range snap.Couriers {
		a, b := first.courierBalance(courier.ID), second.courierBalance(courier.ID)
		require.True(t, a.Pending.Equal(b.Pending))
		require.False(t, a.Pending.IsNegative())
	}
	s1, s2 := first.summaryTotals(), second.summaryTotals()
	require.Equal(t, s1.DeliveredOrders, s2.DeliveredOrders)
	require.True(t, s1.PendingPayouts.Equal(s2.PendingPayouts))
	require.False(t, s1.PendingPayouts.IsNegative())
}

func TestWindowBounds(t *testing.T) {
	// среда
	now := time.Date(2026, 10, 14, 15, 30, 0, 0, time.UTC)

	from, to, err := Window{Period: PeriodToday}.Bounds(now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 10, 14, 0, 0, 0, 0, time.UTC), from)
	require.Equal(t, time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), to)

	from, _, err = Window{Period: PeriodWeek}.Bounds(now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), from)

	// воскресенье относится к неделе с понедельника 12-го
	from, _, err = Window{Period: PeriodWeek}.Bounds(time.Date(2026, 10, 18, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 10, 12, 0, 0, 0, 0, time.UTC), from)

	from, to, err = Window{Period: PeriodMonth}.Bounds(now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 10, 1, 0, 0, 0, 0, time.UTC), from)
	require.Equal(t, time.Date(2026, 11, 1, 0, 0, 0, 0, time.UTC).Add(-time.Nanosecond), to)

	from, _, err = Window{Period: PeriodDay, Day: time.Date(2026, 9, 3, 18, 0, 0, 0, time.UTC)}.Bounds(now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2026, 9, 3, 0, 0, 0, 0, time.UTC), from)

	_, _, err = Window{Period: PeriodRange, From: now, To: now.Add(-time.Hour)}.Bounds(now)
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	_, _, err = Window{Period: "fortnight"}.Bounds(now)
	require.ErrorIs(t, err, model.ErrInvalidRequest)
}

func TestReport(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	shop := f.shop(t, nil)
	courier := f.courier(t)

	f.order(t, shop.ID, courier.ID, model.OrderStatusDelivered, "250", nil)
	f.order(t, shop.ID, courier.ID, model.OrderStatusDelivered, "250", nil)
	f.order(t, shop.ID, "", model.OrderStatusPending, "100", nil)
	_, err := f.ledger.RecordSettlement(ctx, admin, model.TargetCourier, courier.ID, dec("30"), "")
	require.NoError(t, err)

	rep, err := f.ledger.Report(ctx, admin, Window{Period: PeriodToday})
	require.NoError(t, err)
	require.Equal(t, BasisCreated, rep.Basis)
	require.Equal(t, 3, rep.TotalOrders)
	require.Equal(t, 2, rep.DeliveredOrders)
	requireDec(t, "500", rep.Revenue)
	requireDec(t, "16", rep.PlatformFees)
	requireDec(t, "65.1", rep.Commissions)
	requireDec(t, "81.1", rep.NetEarnings)
	requireDec(t, "418.9", rep.Payable)
	requireDec(t, "30", rep.SettledAmount)
	require.Equal(t, 1, rep.Settlements)

	rep, err = f.ledger.Report(ctx, admin, Window{Period: PeriodToday, Basis: BasisDelivered})
	require.NoError(t, err)
	require.Equal(t, 2, rep.TotalOrders)

	// окно в прошлом пустое
	rep, err = f.ledger.Report(ctx, admin, Window{Period: PeriodDay, Day: time.Now().AddDate(0, 0, -3)})
	require.NoError(t, err)
	require.Equal(t, 0, rep.TotalOrders)
	requireDec(t, "0", rep.Revenue)

	_, err = f.ledger.Report(ctx, admin, Window{Period: PeriodToday, Basis: "paid"})
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	_, err = f.ledger.Report(ctx, model.Actor{ID: courier.ID, Role: model.RoleCourier}, Window{})
	require.ErrorIs(t, err, model.ErrUnauthorized)
}
