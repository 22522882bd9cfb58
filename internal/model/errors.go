package model

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrCodeMismatch       = errors.New("invalid code")
	ErrCourierUnavailable = errors.New("courier already has an active order")
	ErrInvalidAmount      = errors.New("invalid amount")
	ErrShopUnavailable    = errors.New("shop is not accepting orders")
	ErrInvalidRequest     = errors.New("invalid request")
)
