// Package ledger считает доли платформы, магазинов и курьеров по
// доставленным заказам и сверяет их с записанными выплатами.
package ledger

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/foodmart/internal/events"
	"github.com/iurnickita/foodmart/internal/ledger/config"
	"github.com/iurnickita/foodmart/internal/metrics"
	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/store"
)

type Ledger interface {
	Policy() Policy

	Shop(ctx context.Context, actor model.Actor, shopID string) (Balance, error)
	Courier(ctx context.Context, actor model.Actor, courierID string) (Balance, error)
	Shops(ctx context.Context, actor model.Actor) ([]Balance, error)
	Couriers(ctx context.Context, actor model.Actor) ([]Balance, error)
	Summary(ctx context.Context, actor model.Actor) (Summary, error)
	Report(ctx context.Context, actor model.Actor, window Window) (Report, error)

	RecordSettlement(ctx context.Context, actor model.Actor, target model.TargetType, targetID string, amount decimal.Decimal, reference string) (model.Settlement, error)
	Settlements(ctx context.Context, actor model.Actor, target model.TargetType, targetID string) ([]model.Settlement, error)
}

type ledger struct {
	policy  Policy
	store   store.Store
	bus     events.Publisher
	metrics *metrics.Metrics
	zaplog  *zap.Logger
	now     func() time.Time
}

func NewLedger(cfg config.Config, store store.Store, bus events.Publisher, m *metrics.Metrics, zaplog *zap.Logger) Ledger {
	return &ledger{
		policy:  NewPolicy(cfg),
		store:   store,
		bus:     bus,
		metrics: m,
		zaplog:  zaplog,
		now:     time.Now,
	}
}

func (ledger *ledger) Policy() Policy {
	return ledger.policy
}

var delivered = []model.OrderStatus{model.OrderStatusDelivered}

// Баланс магазина видят его владелец и администратор
func (ledger *ledger) Shop(ctx context.Context, actor model.Actor, shopID string) (Balance, error) {
	shop, err := ledger.store.ShopGet(ctx, shopID)
	if err != nil {
		return Balance{}, notFound(err, "shop %s", shopID)
	}
	if !actor.IsAdmin() && !(actor.Role == model.RoleShopOwner && actor.ID == shop.OwnerID) {
		return Balance{}, errors.Wrapf(model.ErrUnauthorized, "shop %s balance", shopID)
	}

	snap, err := ledger.store.Snapshot(ctx,
		store.OrderFilter{Statuses: delivered, ShopID: shopID},
		store.SettlementFilter{Target: model.TargetShop, TargetID: shopID})
	if err != nil {
		return Balance{}, err
	}
	return ledger.policy.book(snap).shopBalance(shopID), nil
}

// Баланс курьера видят сам курьер и администратор
func (ledger *ledger) Courier(ctx context.Context, actor model.Actor, courierID string) (Balance, error) {
	if _, err := ledger.store.CourierGet(ctx, courierID); err != nil {
		return Balance{}, notFound(err, "courier %s", courierID)
	}
	if !actor.IsAdmin() && !(actor.Role == model.RoleCourier && actor.ID == courierID) {
		return Balance{}, errors.Wrapf(model.ErrUnauthorized, "courier %s balance", courierID)
	}

	snap, err := ledger.store.Snapshot(ctx,
		store.OrderFilter{Statuses: delivered, CourierID: courierID},
		store.SettlementFilter{Target: model.TargetCourier, TargetID: courierID})
	if err != nil {
		return Balance{}, err
	}
	return ledger.policy.book(snap).courierBalance(courierID), nil
}

func (ledger *ledger) Shops(ctx context.Context, actor model.Actor) ([]Balance, error) {
	b, snap, err := ledger.adminBook(ctx, actor)
	if err != nil {
		return nil, err
	}
	balances := make([]Balance, 0, len(snap.Shops))
	for _, shop := range snap.Shops {
		balances = append(balances, b.shopBalance(shop.ID))
	}
	return balances, nil
}

func (ledger *ledger) Couriers(ctx context.Context, actor model.Actor) ([]Balance, error) {
	b, snap, err := ledger.adminBook(ctx, actor)
	if err != nil {
		return nil, err
	}
	balances := make([]Balance, 0, len(snap.Couriers))
	for _, courier := range snap.Couriers {
		balances = append(balances, b.courierBalance(courier.ID))
	}
	return balances, nil
}

func (ledger *ledger) Summary(ctx context.Context, actor model.Actor) (Summary, error) {
	b, _, err := ledger.adminBook(ctx, actor)
	if err != nil {
		return Summary{}, err
	}
	return b.summaryTotals(), nil
}

func (ledger *ledger) adminBook(ctx context.Context, actor model.Actor) (book, store.Snapshot, error) {
	if !actor.IsAdmin() {
		return book{}, store.Snapshot{}, errors.Wrap(model.ErrUnauthorized, "ledger overview")
	}
	snap, err := ledger.store.Snapshot(ctx,
		store.OrderFilter{Statuses: delivered},
		store.SettlementFilter{})
	if err != nil {
		return book{}, store.Snapshot{}, err
	}
	return ledger.policy.book(snap), snap, nil
}

func (ledger *ledger) Report(ctx context.Context, actor model.Actor, window Window) (Report, error) {
	if !actor.IsAdmin() {
		return Report{}, errors.Wrap(model.ErrUnauthorized, "ledger report")
	}
	from, to, err := window.Bounds(ledger.now())
	if err != nil {
		return Report{}, err
	}
	orders, settlements, err := window.filters(from, to)
	if err != nil {
		return Report{}, err
	}
	snap, err := ledger.store.Snapshot(ctx, orders, settlements)
	if err != nil {
		return Report{}, err
	}

	rep := ledger.policy.report(snap)
	rep.From, rep.To = from, to
	rep.Basis = window.Basis
	if rep.Basis == "" {
		rep.Basis = BasisCreated
	}
	return rep, nil
}

// RecordSettlement - выплата больше остатка не запрещена
func (ledger *ledger) RecordSettlement(ctx context.Context, actor model.Actor, target model.TargetType, targetID string, amount decimal.Decimal, reference string) (model.Settlement, error) {
	if !actor.IsAdmin() {
		return model.Settlement{}, errors.Wrap(model.ErrUnauthorized, "record settlement")
	}
	amount = round(amount)
	if !amount.IsPositive() {
		ledger.metrics.Rejected("record_settlement", "invalid_amount")
		return model.Settlement{}, errors.Wrapf(model.ErrInvalidAmount, "amount %s", amount)
	}

	settlement := model.Settlement{
		ID:          uuid.NewString(),
		Amount:      amount,
		Reference:   reference,
		ProcessedAt: ledger.now().UTC(),
	}
	switch target {
	case model.TargetShop:
		if _, err := ledger.store.ShopGet(ctx, targetID); err != nil {
			return model.Settlement{}, notFound(err, "shop %s", targetID)
		}
		settlement.ShopID = targetID
	case model.TargetCourier:
		if _, err := ledger.store.CourierGet(ctx, targetID); err != nil {
			return model.Settlement{}, notFound(err, "courier %s", targetID)
		}
		settlement.CourierID = targetID
	default:
		return model.Settlement{}, errors.Wrapf(model.ErrInvalidRequest, "settlement target %q", target)
	}

	if err := ledger.store.SettlementCreate(ctx, settlement); err != nil {
		return model.Settlement{}, err
	}

	ledger.zaplog.Info("settlement recorded",
		zap.String("settlement", settlement.ID),
		zap.String("target", string(target)),
		zap.String("target_id", targetID),
		zap.String("amount", amount.StringFixed(2)),
		zap.String("actor", actor.ID),
	)
	ledger.metrics.Settlement(target, amount)
	if err := ledger.bus.Publish(ctx, events.SettlementRecorded(settlement, actor)); err != nil {
		ledger.zaplog.Error("publish settlement event", zap.String("settlement", settlement.ID), zap.Error(err))
	}
	return settlement, nil
}

func (ledger *ledger) Settlements(ctx context.Context, actor model.Actor, target model.TargetType, targetID string) ([]model.Settlement, error) {
	switch target {
	case model.TargetShop:
		shop, err := ledger.store.ShopGet(ctx, targetID)
		if err != nil {
			return nil, notFound(err, "shop %s", targetID)
		}
		if !actor.IsAdmin() && !(actor.Role == model.RoleShopOwner && actor.ID == shop.OwnerID) {
			return nil, errors.Wrapf(model.ErrUnauthorized, "shop %s settlements", targetID)
		}
	case model.TargetCourier:
		if _, err := ledger.store.CourierGet(ctx, targetID); err != nil {
			return nil, notFound(err, "courier %s", targetID)
		}
		if !actor.IsAdmin() && !(actor.Role == model.RoleCourier && actor.ID == targetID) {
			return nil, errors.Wrapf(model.ErrUnauthorized, "courier %s settlements", targetID)
		}
	default:
		return nil, errors.Wrapf(model.ErrInvalidRequest, "settlement target %q", target)
	}
	return ledger.store.SettlementList(ctx, store.SettlementFilter{Target: target, TargetID: targetID})
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNoRows) {
		return errors.Wrapf(model.ErrNotFound, format, args...)
	}
	return err
}
