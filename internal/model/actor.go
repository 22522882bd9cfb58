package model

type Role string

const (
	RoleCustomer  Role = "customer"
	RoleShopOwner Role = "shop_owner"
	RoleCourier   Role = "courier"
	RoleAdmin     Role = "admin"
)

// Actor - кто вызывает операцию (приходит из сервиса идентификации).
// Для курьера ID - идентификатор курьера, для остальных - пользователя.
type Actor struct {
	ID   string
	Role Role
}

func (a Actor) IsAdmin() bool { return a.Role == RoleAdmin }
