package config

import "github.com/shopspring/decimal"

// Config - единственный источник тарифов платформы.
// Значения читаются из текста, без потерь точности.
type Config struct {
	PlatformFee           decimal.Decimal `env:"PLATFORM_FEE" envDefault:"8"`
	DefaultDeliveryFee    decimal.Decimal `env:"DEFAULT_DELIVERY_FEE" envDefault:"25"`
	DefaultCommissionRate decimal.Decimal `env:"DEFAULT_COMMISSION_RATE" envDefault:"15"`
	FreeDeliveryThreshold decimal.Decimal `env:"FREE_DELIVERY_THRESHOLD" envDefault:"199"`
}

func Default() Config {
	return Config{
		PlatformFee:           decimal.NewFromInt(8),
		DefaultDeliveryFee:    decimal.NewFromInt(25),
		DefaultCommissionRate: decimal.NewFromInt(15),
		FreeDeliveryThreshold: decimal.NewFromInt(199),
	}
}
