// Package otp выпускает одноразовые цифровые коды передачи заказа.
package otp

import (
	"crypto/rand"
	"errors"
	"math/big"
	"strings"
)

// MinDigits - короче код не выпускаем
const MinDigits = 4

var ErrTooShort = errors.New("otp: too few digits")

type Generator interface {
	Generate() (string, error)
}

type generator struct {
	digits int
	max    *big.Int
}

func NewGenerator(digits int) (Generator, error) {
	if digits < MinDigits {
		return nil, ErrTooShort
	}
	return &generator{
		digits: digits,
		max:    new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(digits)), nil),
	}, nil
}

// Generate возвращает код ровно из digits цифр, ведущие нули допустимы
func (g *generator) Generate() (string, error) {
	n, err := rand.Int(rand.Reader, g.max)
	if err != nil {
		return "", err
	}
	code := n.String()
	return strings.Repeat("0", g.digits-len(code)) + code, nil
}
