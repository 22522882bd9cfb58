// Package lifecycle - жизненный цикл заказа от оформления до доставки.
// Каждое изменение статуса выполняется одним условным обновлением в хранилище.
package lifecycle

import (
	"context"
	"crypto/subtle"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/foodmart/internal/dispatch"
	"github.com/iurnickita/foodmart/internal/events"
	"github.com/iurnickita/foodmart/internal/ledger"
	"github.com/iurnickita/foodmart/internal/lifecycle/config"
	"github.com/iurnickita/foodmart/internal/metrics"
	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/otp"
	"github.com/iurnickita/foodmart/internal/store"
)

type Lifecycle interface {
	Place(ctx context.Context, actor model.Actor, req PlaceRequest) (model.Order, error)
	Get(ctx context.Context, actor model.Actor, orderID string) (model.Order, error)
	Transition(ctx context.Context, actor model.Actor, req TransitionRequest) (model.Order, error)
	VerifyPickup(ctx context.Context, orderID string, courierID string, code string) (model.Order, error)
	VerifyDelivery(ctx context.Context, orderID string, courierID string, code string) (model.Order, error)
}

type PlaceRequest struct {
	ShopID          string              `json:"shop_id" validate:"required"`
	ItemsSubtotal   decimal.Decimal     `json:"items_subtotal"`
	Discount        decimal.Decimal     `json:"discount"`
	PaymentMethod   model.PaymentMethod `json:"payment_method" validate:"required,oneof=cod gpay"`
	DeliveryAddress string              `json:"delivery_address" validate:"required,max=500"`
	Notes           string              `json:"notes" validate:"max=1000"`
	ScheduledAt     *time.Time          `json:"scheduled_at"`
}

type TransitionRequest struct {
	OrderID string            `json:"-"`
	Status  model.OrderStatus `json:"status"`
	// код выдачи для picked_up и delivered
	Code string `json:"code,omitempty"`
}

// следующий статус для переходов магазина
var next = map[model.OrderStatus]model.OrderStatus{
	model.OrderStatusPending:   model.OrderStatusConfirmed,
	model.OrderStatusConfirmed: model.OrderStatusPreparing,
	model.OrderStatusPreparing: model.OrderStatusReadyForPickup,
}

type lifecycle struct {
	policy   ledger.Policy
	store    store.Store
	dispatch dispatch.Dispatch
	otp      otp.Generator
	validate *validator.Validate
	bus      events.Publisher
	metrics  *metrics.Metrics
	zaplog   *zap.Logger
	now      func() time.Time
}

func NewLifecycle(cfg config.Config, policy ledger.Policy, store store.Store, dispatch dispatch.Dispatch,
	bus events.Publisher, m *metrics.Metrics, zaplog *zap.Logger) (Lifecycle, error) {
	gen, err := otp.NewGenerator(cfg.OTPDigits)
	if err != nil {
		return nil, err
	}
	return &lifecycle{
		policy:   policy,
		store:    store,
		dispatch: dispatch,
		otp:      gen,
		validate: validator.New(),
		bus:      bus,
		metrics:  m,
		zaplog:   zaplog,
		now:      time.Now,
	}, nil
}

// Place - оформление заказа покупателем
func (lc *lifecycle) Place(ctx context.Context, actor model.Actor, req PlaceRequest) (model.Order, error) {
	if actor.Role != model.RoleCustomer {
		return model.Order{}, errors.Wrap(model.ErrUnauthorized, "only customers place orders")
	}
	if err := lc.validate.Struct(req); err != nil {
		return model.Order{}, errors.Wrap(model.ErrInvalidRequest, err.Error())
	}
	if !req.ItemsSubtotal.IsPositive() {
		return model.Order{}, errors.Wrap(model.ErrInvalidRequest, "items subtotal must be positive")
	}
	if req.Discount.IsNegative() {
		return model.Order{}, errors.Wrap(model.ErrInvalidRequest, "discount must not be negative")
	}
	now := lc.now().UTC()
	if req.ScheduledAt != nil && !req.ScheduledAt.After(now) {
		return model.Order{}, errors.Wrap(model.ErrInvalidRequest, "scheduled time is in the past")
	}

	shop, err := lc.store.ShopGet(ctx, req.ShopID)
	if err != nil {
		return model.Order{}, notFound(err, "shop %s", req.ShopID)
	}
	if !shop.IsVerified || !shop.IsOpen {
		return model.Order{}, errors.Wrapf(model.ErrShopUnavailable, "shop %s", shop.ID)
	}

	deliveryOTP, err := lc.otp.Generate()
	if err != nil {
		return model.Order{}, err
	}
	quote := lc.policy.Quote(req.ItemsSubtotal, req.Discount)
	order := model.Order{
		ID:              uuid.NewString(),
		CustomerID:      actor.ID,
		ShopID:          shop.ID,
		Status:          model.OrderStatusPending,
		TotalAmount:     quote.Total,
		DeliveryFee:     decimal.NewNullDecimal(quote.DeliveryFee),
		DeliveryOTP:     deliveryOTP,
		PaymentMethod:   req.PaymentMethod,
		DeliveryAddress: req.DeliveryAddress,
		Notes:           req.Notes,
		IsScheduled:     req.ScheduledAt != nil,
		ScheduledAt:     req.ScheduledAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if err = lc.store.OrderCreate(ctx, order); err != nil {
		return model.Order{}, err
	}

	lc.zaplog.Info("order placed",
		zap.String("order", order.ID),
		zap.String("shop", order.ShopID),
		zap.String("customer", order.CustomerID),
		zap.String("total", order.TotalAmount.StringFixed(2)),
	)
	lc.publish(ctx, events.OrderPlaced(order, actor))
	return order.WithCodes(false, true), nil
}

// Get - заказ виден участникам. Покупатель видит код доставки,
// магазин - код выдачи, курьер - ни одного.
func (lc *lifecycle) Get(ctx context.Context, actor model.Actor, orderID string) (model.Order, error) {
	order, err := lc.store.OrderGet(ctx, orderID)
	if err != nil {
		return model.Order{}, notFound(err, "order %s", orderID)
	}

	switch actor.Role {
	case model.RoleAdmin:
		return order, nil
	case model.RoleCustomer:
		if order.CustomerID == actor.ID {
			return order.WithCodes(false, true), nil
		}
	case model.RoleShopOwner:
		owner, err := lc.shopOwner(ctx, order, actor)
		if err != nil {
			return model.Order{}, err
		}
		if owner {
			return order.WithCodes(true, false), nil
		}
	case model.RoleCourier:
		inPool := order.Status == model.OrderStatusReadyForPickup && order.CourierID == ""
		if order.CourierID == actor.ID || inPool {
			return order.WithCodes(false, false), nil
		}
	}
	return model.Order{}, errors.Wrapf(model.ErrUnauthorized, "order %s", orderID)
}

// Transition - запрошенный переход статуса.
// picked_up и delivered проходят только через проверку кода.
func (lc *lifecycle) Transition(ctx context.Context, actor model.Actor, req TransitionRequest) (model.Order, error) {
	order, err := lc.transition(ctx, actor, req)
	if err != nil {
		lc.rejected("transition", req.OrderID, actor, err)
		return model.Order{}, err
	}
	return order, nil
}

func (lc *lifecycle) transition(ctx context.Context, actor model.Actor, req TransitionRequest) (model.Order, error) {
	order, err := lc.store.OrderGet(ctx, req.OrderID)
	if err != nil {
		return model.Order{}, notFound(err, "order %s", req.OrderID)
	}
	if order.Status.Terminal() || !req.Status.Valid() {
		return model.Order{}, errors.Wrapf(model.ErrInvalidTransition, "order %s: %s -> %s", order.ID, order.Status, req.Status)
	}

	switch req.Status {
	case model.OrderStatusPickedUp, model.OrderStatusDelivered:
		if actor.Role != model.RoleCourier {
			return model.Order{}, errors.Wrapf(model.ErrUnauthorized, "order %s: %s by %s", order.ID, req.Status, actor.Role)
		}
		if req.Code == "" {
			return model.Order{}, errors.Wrapf(model.ErrInvalidTransition, "order %s: %s requires a handoff code", order.ID, req.Status)
		}
		if req.Status == model.OrderStatusPickedUp {
			return lc.verifyPickup(ctx, order.ID, actor.ID, req.Code)
		}
		return lc.verifyDelivery(ctx, order.ID, actor.ID, req.Code)

	case model.OrderStatusOnTheWay:
		if actor.Role != model.RoleCourier || order.CourierID == "" || order.CourierID != actor.ID {
			return model.Order{}, errors.Wrapf(model.ErrUnauthorized, "order %s: on_the_way by %s", order.ID, actor.ID)
		}
		if order.Status != model.OrderStatusPickedUp {
			return model.Order{}, errors.Wrapf(model.ErrInvalidTransition, "order %s: %s -> %s", order.ID, order.Status, req.Status)
		}
		return lc.apply(ctx, actor, order,
			store.OrderGuard{Status: order.Status, CourierID: actor.ID},
			store.OrderChange{Status: req.Status})

	case model.OrderStatusCancelled:
		if err = lc.shopOrAdmin(ctx, order, actor); err != nil {
			return model.Order{}, err
		}
		cleared := ""
		return lc.apply(ctx, actor, order,
			store.OrderGuard{Status: order.Status},
			store.OrderChange{Status: req.Status, PickupOTP: &cleared, DeliveryOTP: &cleared})

	default:
		if err = lc.shopOrAdmin(ctx, order, actor); err != nil {
			return model.Order{}, err
		}
		if next[order.Status] != req.Status {
			return model.Order{}, errors.Wrapf(model.ErrInvalidTransition, "order %s: %s -> %s", order.ID, order.Status, req.Status)
		}
		change := store.OrderChange{Status: req.Status}
		if req.Status == model.OrderStatusReadyForPickup {
			code, err := lc.otp.Generate()
			if err != nil {
				return model.Order{}, err
			}
			change.PickupOTP = &code
		}
		return lc.apply(ctx, actor, order, store.OrderGuard{Status: order.Status}, change)
	}
}

// VerifyPickup - курьер называет код магазина и тем самым забирает заказ
func (lc *lifecycle) VerifyPickup(ctx context.Context, orderID string, courierID string, code string) (model.Order, error) {
	order, err := lc.verifyPickup(ctx, orderID, courierID, code)
	if err != nil {
		lc.rejected("verify_pickup", orderID, courierActor(courierID), err)
		return model.Order{}, err
	}
	return order, nil
}

func (lc *lifecycle) verifyPickup(ctx context.Context, orderID string, courierID string, code string) (model.Order, error) {
	if _, err := lc.store.CourierGet(ctx, courierID); err != nil {
		return model.Order{}, notFound(err, "courier %s", courierID)
	}
	order, err := lc.store.OrderGet(ctx, orderID)
	if err != nil {
		return model.Order{}, notFound(err, "order %s", orderID)
	}
	if err = pickupReady(order); err != nil {
		return model.Order{}, err
	}
	if err = lc.dispatch.Eligible(ctx, courierID); err != nil {
		return model.Order{}, err
	}
	if !sameCode(order.PickupOTP, code) {
		return model.Order{}, errors.Wrapf(model.ErrCodeMismatch, "order %s pickup", order.ID)
	}

	consumed := ""
	return lc.apply(ctx, courierActor(courierID), order,
		store.OrderGuard{
			Status:      model.OrderStatusReadyForPickup,
			Unassigned:  true,
			PickupOTP:   code,
			CourierIdle: courierID,
		},
		store.OrderChange{
			Status:    model.OrderStatusPickedUp,
			CourierID: courierID,
			PickupOTP: &consumed,
		})
}

// VerifyDelivery - покупатель сообщает курьеру код, заказ доставлен
func (lc *lifecycle) VerifyDelivery(ctx context.Context, orderID string, courierID string, code string) (model.Order, error) {
	order, err := lc.verifyDelivery(ctx, orderID, courierID, code)
	if err != nil {
		lc.rejected("verify_delivery", orderID, courierActor(courierID), err)
		return model.Order{}, err
	}
	return order, nil
}

func (lc *lifecycle) verifyDelivery(ctx context.Context, orderID string, courierID string, code string) (model.Order, error) {
	order, err := lc.store.OrderGet(ctx, orderID)
	if err != nil {
		return model.Order{}, notFound(err, "order %s", orderID)
	}
	if order.Status != model.OrderStatusOnTheWay {
		return model.Order{}, errors.Wrapf(model.ErrInvalidTransition, "order %s: %s -> delivered", order.ID, order.Status)
	}
	if order.CourierID != courierID {
		return model.Order{}, errors.Wrapf(model.ErrUnauthorized, "order %s is assigned to another courier", order.ID)
	}
	if !sameCode(order.DeliveryOTP, code) {
		return model.Order{}, errors.Wrapf(model.ErrCodeMismatch, "order %s delivery", order.ID)
	}

	consumed := ""
	deliveredAt := lc.now().UTC()
	return lc.apply(ctx, courierActor(courierID), order,
		store.OrderGuard{
			Status:      model.OrderStatusOnTheWay,
			CourierID:   courierID,
			DeliveryOTP: code,
		},
		store.OrderChange{
			Status:      model.OrderStatusDelivered,
			DeliveryOTP: &consumed,
			DeliveredAt: &deliveredAt,
		})
}

// apply записывает изменение, если заказ все еще в ожидаемом состоянии
func (lc *lifecycle) apply(ctx context.Context, actor model.Actor, order model.Order, guard store.OrderGuard, change store.OrderChange) (model.Order, error) {
	change.UpdatedAt = lc.now().UTC()
	updated, err := lc.store.OrderUpdate(ctx, order.ID, guard, change)
	switch {
	case err == nil:
	case errors.Is(err, store.ErrCourierBusy):
		return model.Order{}, errors.Wrapf(model.ErrCourierUnavailable, "courier %s", guard.CourierIdle)
	case errors.Is(err, store.ErrConflict):
		return model.Order{}, lc.diagnose(ctx, order, guard)
	default:
		return model.Order{}, notFound(err, "order %s", order.ID)
	}

	lc.zaplog.Info("order status changed",
		zap.String("order", updated.ID),
		zap.String("from", string(order.Status)),
		zap.String("to", string(updated.Status)),
		zap.String("actor", actor.ID),
		zap.String("role", string(actor.Role)),
	)
	lc.metrics.Transition(order.Status, updated.Status)
	lc.publish(ctx, events.StatusChanged(updated, order.Status, actor))

	switch actor.Role {
	case model.RoleAdmin:
		return updated, nil
	case model.RoleShopOwner:
		return updated.WithCodes(true, false), nil
	}
	return updated.WithCodes(false, false), nil
}

// diagnose - почему условное обновление не прошло: заказ изменился
// параллельно или код уже не тот. Повтора нет.
func (lc *lifecycle) diagnose(ctx context.Context, before model.Order, guard store.OrderGuard) error {
	current, err := lc.store.OrderGet(ctx, before.ID)
	if err != nil {
		return notFound(err, "order %s", before.ID)
	}
	if current.Status != guard.Status || (guard.Unassigned && current.CourierID != "") ||
		(guard.CourierID != "" && current.CourierID != guard.CourierID) {
		return errors.Wrapf(model.ErrInvalidTransition, "order %s changed concurrently: now %s", current.ID, current.Status)
	}
	if guard.PickupOTP != "" || guard.DeliveryOTP != "" {
		return errors.Wrapf(model.ErrCodeMismatch, "order %s", current.ID)
	}
	return errors.Wrapf(model.ErrInvalidTransition, "order %s", current.ID)
}

func pickupReady(order model.Order) error {
	if order.Status != model.OrderStatusReadyForPickup {
		return errors.Wrapf(model.ErrInvalidTransition, "order %s: %s -> picked_up", order.ID, order.Status)
	}
	if order.CourierID != "" {
		return errors.Wrapf(model.ErrInvalidTransition, "order %s already assigned", order.ID)
	}
	return nil
}

func (lc *lifecycle) shopOwner(ctx context.Context, order model.Order, actor model.Actor) (bool, error) {
	if actor.Role != model.RoleShopOwner {
		return false, nil
	}
	shop, err := lc.store.ShopGet(ctx, order.ShopID)
	if err != nil {
		return false, notFound(err, "shop %s", order.ShopID)
	}
	return shop.OwnerID == actor.ID, nil
}

func (lc *lifecycle) shopOrAdmin(ctx context.Context, order model.Order, actor model.Actor) error {
	if actor.IsAdmin() {
		return nil
	}
	owner, err := lc.shopOwner(ctx, order, actor)
	if err != nil {
		return err
	}
	if !owner {
		return errors.Wrapf(model.ErrUnauthorized, "order %s: %s is not the shop owner", order.ID, actor.ID)
	}
	return nil
}

func (lc *lifecycle) publish(ctx context.Context, e events.Event) {
	if err := lc.bus.Publish(ctx, e); err != nil {
		lc.zaplog.Error("publish order event",
			zap.String("kind", string(e.Kind)),
			zap.String("order", e.OrderID),
			zap.Error(err))
	}
}

func (lc *lifecycle) rejected(operation string, orderID string, actor model.Actor, err error) {
	reason := Reason(err)
	lc.metrics.Rejected(operation, reason)
	lc.zaplog.Warn("order operation rejected",
		zap.String("operation", operation),
		zap.String("order", orderID),
		zap.String("actor", actor.ID),
		zap.String("reason", reason),
		zap.Error(err))
}

// Reason - вид ошибки для метрик и логов
func Reason(err error) string {
	switch {
	case errors.Is(err, model.ErrNotFound):
		return "not_found"
	case errors.Is(err, model.ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, model.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, model.ErrCodeMismatch):
		return "code_mismatch"
	case errors.Is(err, model.ErrCourierUnavailable):
		return "courier_unavailable"
	case errors.Is(err, model.ErrShopUnavailable):
		return "shop_unavailable"
	case errors.Is(err, model.ErrInvalidRequest):
		return "invalid_request"
	case errors.Is(err, model.ErrInvalidAmount):
		return "invalid_amount"
	}
	return "internal"
}

// пустой сохраненный код (погашенный) не совпадает ни с чем
func sameCode(stored, submitted string) bool {
	if stored == "" || submitted == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored), []byte(submitted)) == 1
}

func courierActor(courierID string) model.Actor {
	return model.Actor{ID: courierID, Role: model.RoleCourier}
}

func notFound(err error, format string, args ...any) error {
	if errors.Is(err, store.ErrNoRows) {
		return errors.Wrapf(model.ErrNotFound, format, args...)
	}
	return err
}
