// Package token разбирает JWT сервиса идентификации: кто вызывает и в какой роли.
//
// Claim user_id - идентификатор пользователя для ролей customer, shop_owner
// и admin. Для роли courier сервис идентификации кладет в user_id ID курьера,
// полученный при регистрации (POST /api/couriers).
package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"github.com/iurnickita/foodmart/internal/model"
)

var ErrInvalidToken = errors.New("invalid token")

type Claims struct {
	jwt.RegisteredClaims
	UserID string     `json:"user_id"`
	Role   model.Role `json:"role"`
}

// Build выпускает токен. Нужен тестам и локальной отладке,
// в работе токены выдает сервис идентификации.
func Build(secret string, actor model.Actor, ttl time.Duration) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
		UserID: actor.ID,
		Role:   actor.Role,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

func Parse(secret string, tokenString string) (model.Actor, error) {
	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return []byte(secret), nil
	})
	if err != nil || !parsed.Valid {
		return model.Actor{}, ErrInvalidToken
	}

	switch claims.Role {
	case model.RoleCustomer, model.RoleShopOwner, model.RoleCourier, model.RoleAdmin:
	default:
		return model.Actor{}, ErrInvalidToken
	}
	if claims.UserID == "" {
		return model.Actor{}, ErrInvalidToken
	}
	return model.Actor{ID: claims.UserID, Role: claims.Role}, nil
}
