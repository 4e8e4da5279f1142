package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "escrow.db", cfg.Database.Path)
	assert.Equal(t, 30*time.Minute, cfg.Engine.TradeExpiryWindow)
	assert.Equal(t, "0.001", cfg.Engine.MismatchTolerance.String())
	assert.Equal(t, int32(8), cfg.Engine.CryptoDecimals)
	assert.Equal(t, 256, cfg.Chat.SendBuffer)
	assert.Equal(t, "info", cfg.LogLevel)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TRADE_EXPIRY_WINDOW", "15m")
	t.Setenv("DEPOSIT_MISMATCH_TOLERANCE", "0.01")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 15*time.Minute, cfg.Engine.TradeExpiryWindow)
	assert.Equal(t, "0.01", cfg.Engine.MismatchTolerance.String())
	assert.Equal(t, ":9090", cfg.Server.Addr)
}

func TestLoadInvalid(t *testing.T) {
	t.Setenv("TRADE_SWEEP_INTERVAL", "soon")
	_, err := Load()
	assert.Error(t, err)

	t.Setenv("TRADE_SWEEP_INTERVAL", "")
	t.Setenv("DEPOSIT_MISMATCH_TOLERANCE", "-1")
	_, err = Load()
	assert.Error(t, err)
}
