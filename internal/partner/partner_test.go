package partner

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iurnickita/foodmart/internal/model"
	"github.com/iurnickita/foodmart/internal/store"
)

var admin = model.Actor{ID: "admin-1", Role: model.RoleAdmin}

func TestShops(t *testing.T) {
	ctx := context.Background()
	p := NewPartner(store.NewMemoryStore(), zap.NewNop())
	owner := model.Actor{ID: uuid.NewString(), Role: model.RoleShopOwner}

	shop, err := p.RegisterShop(ctx, owner, "Chai Point")
	require.NoError(t, err)
	require.False(t, shop.IsOpen)
	require.False(t, shop.IsVerified)
	require.False(t, shop.CommissionRate.Valid)

	_, err = p.RegisterShop(ctx, owner, "")
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	_, err = p.RegisterShop(ctx, model.Actor{ID: "c", Role: model.RoleCustomer}, "Chai Point")
	require.ErrorIs(t, err, model.ErrUnauthorized)

	shop, err = p.SetShopOpen(ctx, owner, shop.ID, true)
	require.NoError(t, err)
	require.True(t, shop.IsOpen)
	_, err = p.SetShopOpen(ctx, model.Actor{ID: "other", Role: model.RoleShopOwner}, shop.ID, false)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	// проверку и ставку меняет только администратор
	_, err = p.VerifyShop(ctx, owner, shop.ID, true)
	require.ErrorIs(t, err, model.ErrUnauthorized)
	shop, err = p.VerifyShop(ctx, admin, shop.ID, true)
	require.NoError(t, err)
	require.True(t, shop.IsVerified)

	_, err = p.SetCommissionRate(ctx, owner, shop.ID, decimal.NewFromInt(5))
	require.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = p.SetCommissionRate(ctx, admin, shop.ID, decimal.NewFromInt(101))
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	_, err = p.SetCommissionRate(ctx, admin, shop.ID, decimal.NewFromInt(-1))
	require.ErrorIs(t, err, model.ErrInvalidRequest)
	shop, err = p.SetCommissionRate(ctx, admin, shop.ID, decimal.RequireFromString("12.5"))
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("12.5").Equal(shop.CommissionRate.Decimal))

	_, err = p.VerifyShop(ctx, admin, uuid.NewString(), true)
	require.ErrorIs(t, err, model.ErrNotFound)
}

func TestCouriers(t *testing.T) {
	ctx := context.Background()
	p := NewPartner(store.NewMemoryStore(), zap.NewNop())

	user := model.Actor{ID: "user-1", Role: model.RoleCustomer}
	courier, err := p.RegisterCourier(ctx, user)
	require.NoError(t, err)
	require.False(t, courier.IsAvailable)
	require.Equal(t, "user-1", courier.UserID)

	_, err = p.RegisterCourier(ctx, user)
	require.ErrorIs(t, err, model.ErrInvalidRequest)

	// уже курьер
	_, err = p.RegisterCourier(ctx, model.Actor{ID: courier.ID, Role: model.RoleCourier})
	require.ErrorIs(t, err, model.ErrInvalidRequest)

	// магазины и администраторы курьерами не становятся
	_, err = p.RegisterCourier(ctx, admin)
	require.ErrorIs(t, err, model.ErrUnauthorized)
	_, err = p.RegisterCourier(ctx, model.Actor{ID: uuid.NewString(), Role: model.RoleShopOwner})
	require.ErrorIs(t, err, model.ErrUnauthorized)

	self := model.Actor{ID: courier.ID, Role: model.RoleCourier}
	courier, err = p.SetAvailability(ctx, self, courier.ID, true)
	require.NoError(t, err)
	require.True(t, courier.IsAvailable)

	_, err = p.SetAvailability(ctx, admin, courier.ID, false)
	require.ErrorIs(t, err, model.ErrUnauthorized)

	courier, err = p.UpdateLocation(ctx, self, courier.ID, Location{Lat: 12.97, Lng: 77.59})
	require.NoError(t, err)
	require.NotNil(t, courier.Lat)
	require.InDelta(t, 12.97, *courier.Lat, 1e-9)

	_, err = p.UpdateLocation(ctx, self, courier.ID, Location{Lat: 91, Lng: 0})
	require.ErrorIs(t, err, model.ErrInvalidRequest)

	ghost := uuid.NewString()
	_, err = p.SetAvailability(ctx, model.Actor{ID: ghost, Role: model.RoleCourier}, ghost, true)
	require.ErrorIs(t, err, model.ErrNotFound)
}
