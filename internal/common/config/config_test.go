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

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, StorageMemory, cfg.Storage)
	assert.Equal(t, 10*time.Minute, cfg.Ledger.HoldWindow)
	assert.Equal(t, 60*time.Second, cfg.Ledger.SweepInterval)
	assert.Equal(t, int64(100), cfg.Ledger.MaxTicketsPerPurchase)
	assert.Equal(t, int64(100), cfg.Loyalty.ReferralBonus)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("ADMIN_IDS", "11,42")
	t.Setenv("LEDGER_HOLD_WINDOW", "5m")
	t.Setenv("STORAGE_DRIVER", "redis")

	cfg, err := Load()
	require.NoError(t, err)

	assert.True(t, cfg.IsAdmin(42))
	assert.False(t, cfg.IsAdmin(7))
	assert.Equal(t, 5*time.Minute, cfg.Ledger.HoldWindow)
	assert.Equal(t, StorageRedis, cfg.Storage)
}

func TestLoadRejectsUnknownStorage(t *testing.T) {
	t.Setenv("STORAGE_DRIVER", "postgres")

	_, err := Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "STORAGE_DRIVER")
}
