package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("PG_DSN", "postgres://ledger@localhost/ledger")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	require.Equal(t, "VOU", cfg.LedgerDocumentType)
	require.True(t, cfg.LedgerPreventParentPosting)
	require.Equal(t, "4501", cfg.FXGainAccount)
	require.Equal(t, "5501", cfg.FXLossAccount)
	require.Equal(t, 5*time.Minute, cfg.RevaluationLockTTL)
	require.Equal(t, 5, cfg.WorkerConcurrency)
	require.Equal(t, 0, cfg.RedisDB)
	require.Equal(t, 5*time.Second, cfg.RedisPingTimeout)
	require.False(t, cfg.IsProduction())
}

func TestLoadConfigRejectsSameFXAccounts(t *testing.T) {
	t.Setenv("FX_UNREALIZED_GAIN_ACCOUNT", "4501")
	t.Setenv("FX_UNREALIZED_LOSS_ACCOUNT", "4501")
	_, err := LoadConfig()
	require.Error(t, err)
}

func TestInTestMode(t *testing.T) {
	t.Setenv(testModeEnv, "1")
	RefreshTestMode()
	require.True(t, InTestMode())
	t.Setenv(testModeEnv, "0")
	RefreshTestMode()
	require.False(t, InTestMode())
}
