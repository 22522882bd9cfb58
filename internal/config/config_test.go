package config

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetConfig(t *testing.T) {
	t.Setenv("JWT_SECRET", "secret")
	t.Setenv("DATABASE_URI", "postgres://foodmart@localhost/foodmart")
	t.Setenv("PLATFORM_FEE", "9.50")
	t.Setenv("EVENTS_DRIVER", "nats")

	cfg, err := GetConfig()
	require.NoError(t, err)

	require.Equal(t, ":8080", cfg.Handler.ServerAddr)
	require.Equal(t, "secret", cfg.Handler.JWTSecret)
	require.Equal(t, "postgres://foodmart@localhost/foodmart", cfg.Store.DBDsn)
	require.Equal(t, "info", cfg.Logger.LogLevel)
	require.Equal(t, "nats", cfg.Events.Driver)
	require.Equal(t, 4, cfg.Lifecycle.OTPDigits)
	require.Equal(t, "9.5", cfg.Ledger.PlatformFee.String())
	require.Equal(t, "25", cfg.Ledger.DefaultDeliveryFee.String())
	require.Equal(t, "199", cfg.Ledger.FreeDeliveryThreshold.String())
}

func TestGetConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")

	_, err := GetConfig()
	require.Error(t, err)
}
