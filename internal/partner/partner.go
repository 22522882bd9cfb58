// Package partner - справочник магазинов и курьеров
package partner

import (
	"context"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/store"
)

type Partner interface {
	RegisterShop(ctx context.Context, actor model.Actor, name string) (model.Shop, error)
	SetShopOpen(ctx context.Context, actor model.Actor, shopID string, open bool) (model.Shop, error)
	VerifyShop(ctx context.Context, actor model.Actor, shopID string, verified bool) (model.Shop, error)
	SetCommissionRate(ctx context.Context, actor model.Actor, shopID string, rate decimal.Decimal) (model.Shop, error)

	RegisterCourier(ctx context.Context, actor model.Actor) (model.Courier, error)
	SetAvailability(ctx context.Context, actor model.Actor, courierID string, available bool) (model.Courier, error)
	UpdateLocation(ctx context.Context, actor model.Actor, courierID string, loc Location) (model.Courier, error)
}

type Location struct {
	Lat float64 `json:"lat" validate:"min=-90,max=90"`
	Lng float64 `json:"lng" validate:"min=-180,max=180"`
}

type shopName struct {
	Name string `validate:"required,max=200"`
}

var hundred = decimal.NewFromInt(100)

type partner struct {
	store    store.Store
	validate *validator.Validate
	zaplog   *zap.Logger
}

func NewPartner(store store.Store, zaplog *zap.Logger) Partner {
	return &partner{
		store:    store,
		validate: validator.New(),
		zaplog:   zaplog,
	}
}

// Новый магазин закрыт и не проверен, ставка не задана
func (partner *partner) RegisterShop(ctx context.Context, actor model.Actor, name string) (model.Shop, error) {
	if actor.Role != model.RoleShopOwner {
		return model.Shop{}, errors.Wrap(model.ErrUnauthorized, "only shop owners register shops")
	}
	if err := partner.validate.Struct(shopName{Name: name}); err != nil {
		return model.Shop{}, errors.Wrap(model.ErrInvalidRequest, err.Error())
	}

	shop := model.Shop{
		ID:        uuid.NewString(),
		OwnerID:   actor.ID,
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := partner.store.ShopCreate(ctx, shop); err != nil {
		return model.Shop{}, err
	}
	partner.zaplog.Info("shop registered", zap.String("shop", shop.ID), zap.String("owner", actor.ID))
	return shop, nil
}

func (partner *partner) SetShopOpen(ctx context.Context, actor model.Actor, shopID string, open bool) (model.Shop, error) {
	shop, err := partner.shop(ctx, shopID)
	if err != nil {
		return model.Shop{}, err
	}
	if !actor.IsAdmin() && !(actor.Role == model.RoleShopOwner && actor.ID == shop.OwnerID) {
		return model.Shop{}, errors.Wrapf(model.ErrUnauthorized, "shop %s", shopID)
	}
	return partner.updateShop(ctx, shopID, store.ShopChange{IsOpen: &open})
}

func (partner *partner) VerifyShop(ctx context.Context, actor model.Actor, shopID string, verified bool) (model.Shop, error) {
	if !actor.IsAdmin() {
		return model.Shop{}, errors.Wrap(model.ErrUnauthorized, "verify shop")
	}
	return partner.updateShop(ctx, shopID, store.ShopChange{IsVerified: &verified})
}

// SetCommissionRate - ставка в процентах, 0..100
func (partner *partner) SetCommissionRate(ctx context.Context, actor model.Actor, shopID string, rate decimal.Decimal) (model.Shop, error) {
	if !actor.IsAdmin() {
		return model.Shop{}, errors.Wrap(model.ErrUnauthorized, "set commission rate")
	}
	if rate.IsNegative() || rate.GreaterThan(hundred) {
		return model.Shop{}, errors.Wrapf(model.ErrInvalidRequest, "commission rate %s", rate)
	}
	return partner.updateShop(ctx, shopID, store.ShopChange{CommissionRate: &rate})
}

func (partner *partner) shop(ctx context.Context, shopID string) (model.Shop, error) {
	shop, err := partner.store.ShopGet(ctx, shopID)
	if errors.Is(err, store.ErrNoRows) {
		return model.Shop{}, errors.Wrapf(model.ErrNotFound, "shop %s", shopID)
	}
	return shop, err
}

func (partner *partner) updateShop(ctx context.Context, shopID string, change store.ShopChange) (model.Shop, error) {
	shop, err := partner.store.ShopUpdate(ctx, shopID, change)
	if errors.Is(err, store.ErrNoRows) {
		return model.Shop{}, errors.Wrapf(model.ErrNotFound, "shop %s", shopID)
	}
	if err != nil {
		return model.Shop{}, err
	}
	partner.zaplog.Info("shop updated",
		zap.String("shop", shop.ID),
		zap.Bool("open", shop.IsOpen),
		zap.Bool("verified", shop.IsVerified),
	)
	return shop, nil
}

// RegisterCourier - покупатель становится курьером, новый курьер не на линии.
// Дальше он входит с токеном роли courier, где user_id - ID курьера.
func (partner *partner) RegisterCourier(ctx context.Context, actor model.Actor) (model.Courier, error) {
	switch actor.Role {
	case model.RoleCustomer:
	case model.RoleCourier:
		return model.Courier{}, errors.Wrapf(model.ErrInvalidRequest, "courier %s is already registered", actor.ID)
	default:
		return model.Courier{}, errors.Wrapf(model.ErrUnauthorized, "%s cannot register as a courier", actor.Role)
	}
	userID := actor.ID
	if userID == "" {
		return model.Courier{}, errors.Wrap(model.ErrInvalidRequest, "user id is empty")
	}
	courier := model.Courier{
		ID:        uuid.NewString(),
		UserID:    userID,
		CreatedAt: time.Now().UTC(),
	}
	err := partner.store.CourierCreate(ctx, courier)
	if errors.Is(err, store.ErrAlreadyExists) {
		return model.Courier{}, errors.Wrapf(model.ErrInvalidRequest, "user %s is already a courier", userID)
	}
	if err != nil {
		return model.Courier{}, err
	}
	partner.zaplog.Info("courier registered", zap.String("courier", courier.ID), zap.String("user", userID))
	return courier, nil
}

// SetAvailability меняет только сам курьер
func (partner *partner) SetAvailability(ctx context.Context, actor model.Actor, courierID string, available bool) (model.Courier, error) {
	if actor.Role != model.RoleCourier || actor.ID != courierID {
		return model.Courier{}, errors.Wrapf(model.ErrUnauthorized, "courier %s availability", courierID)
	}
	return partner.updateCourier(ctx, courierID, store.CourierChange{IsAvailable: &available})
}

func (partner *partner) UpdateLocation(ctx context.Context, actor model.Actor, courierID string, loc Location) (model.Courier, error) {
	if actor.Role != model.RoleCourier || actor.ID != courierID {
		return model.Courier{}, errors.Wrapf(model.ErrUnauthorized, "courier %s location", courierID)
	}
	if err := partner.validate.Struct(loc); err != nil {
		return model.Courier{}, errors.Wrap(model.ErrInvalidRequest, err.Error())
	}
	return partner.updateCourier(ctx, courierID, store.CourierChange{Lat: &loc.Lat, Lng: &loc.Lng})
}

func (partner *partner) updateCourier(ctx context.Context, courierID string, change store.CourierChange) (model.Courier, error) {
	courier, err := partner.store.CourierUpdate(ctx, courierID, change)
	if errors.Is(err, store.ErrNoRows) {
		return model.Courier{}, errors.Wrapf(model.ErrNotFound, "courier %s", courierID)
	}
	return courier, err
}
