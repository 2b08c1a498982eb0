package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stock-sync/config"
	"stock-sync/internal/models"
	"stock-sync/internal/service"
	"stock-sync/internal/store"
	"stock-sync/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

func memoryConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{Driver: "memory"},
		Sync: config.SyncConfig{
			Watchdog:            30 * time.Minute,
			ReservationStatuses: []string{"Created"},
			HBCacheFile:         "",
		},
	}
}

func TestNewWithMemoryStore(t *testing.T) {
	a, err := New(memoryConfig())
	require.NoError(t, err)
	defer a.Close()

	assert.NotEmpty(t, a.InstanceID)
	assert.Nil(t, a.Redis)
	assert.Nil(t, a.Producer)
	require.NoError(t, a.Migrate())
	require.NoError(t, a.Store.Ping(context.Background()))

	mem, ok := a.Store.(*store.MemoryStore)
	require.True(t, ok)
	mem.PutProduct(models.Product{Barcode: "A", Platforms: []models.Platform{models.PlatformTrendyol}})

	// no credentials: every item is recorded as not configured
	summary, err := a.Orchestrator.SyncAll(context.Background(), service.SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, 1, summary.Skipped)

	swept, err := a.Sweeper.Sweep(context.Background())
	require.NoError(t, err)
	assert.Empty(t, swept)

	started, err := a.Scheduler.Tick(context.Background())
	require.NoError(t, err)
	assert.Empty(t, started)
}

func TestConfiguredInstanceID(t *testing.T) {
	cfg := memoryConfig()
	cfg.Server.InstanceID = "worker-7"
	a, err := New(cfg)
	require.NoError(t, err)
	defer a.Close()
	assert.Equal(t, "worker-7", a.InstanceID)
}

func TestUnknownStoreDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.Database.Driver = "sqlite"
	_, err := New(cfg)
	assert.Error(t, err)
}
