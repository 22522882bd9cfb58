package config

import (
	"errors"
	"io/fs"

	"github.com/caarlos0/env/v9"
	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"

	eventsConfig "github.com/iurnickita/foodmart/internal/events/config"
	handlerConfig "github.com/iurnickita/foodmart/internal/handler/config"
	ledgerConfig "github.com/iurnickita/foodmart/internal/ledger/config"
	lifecycleConfig "github.com/iurnickita/foodmart/internal/lifecycle/config"
	loggerConfig "github.com/iurnickita/foodmart/internal/logger/config"
	storeConfig "github.com/iurnickita/foodmart/internal/store/config"
)

type Config struct {
	Handler   handlerConfig.Config
	Store     storeConfig.Config
	Logger    loggerConfig.Config
	Events    eventsConfig.Config
	Lifecycle lifecycleConfig.Config
	Ledger    ledgerConfig.Config
}

// GetConfig читает окружение. Файл .env необязателен,
// переменные окружения важнее значений из него.
func GetConfig() (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, pkgerrors.Wrap(err, "load .env")
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, pkgerrors.Wrap(err, "parse env")
	}
	return cfg, nil
}
