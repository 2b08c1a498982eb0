package store

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-sync/internal/models"
)

func newRunningSession(t *testing.T, s *MemoryStore, id string, startedAt time.Time) {
	t.Helper()
	require.NoError(t, s.CreateSession(context.Background(), &models.SyncSession{
		ID:          id,
		Platform:    models.PlatformAll,
		Status:      models.SessionStatusRunning,
		StartedAt:   startedAt,
		TriggeredBy: models.TriggeredByManual,
	}))
}

func TestMemorySnapshotCountsOnlyReservingStatuses(t *testing.T) {
	s := NewMemoryStore([]string{"Created", "Picking"})
	s.SetCentralStock("A", 10)
	s.AddOrder("Created", map[string]int{"A": 2})
	s.AddOrder("Picking", map[string]int{"A": 1, "B": 4})
	s.AddOrder("Shipped", map[string]int{"A": 5})

	snap, err := s.LoadStockSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 10, snap.Central["A"])
	assert.Equal(t, 3, snap.Reserved["A"])
	assert.Equal(t, 4, snap.Reserved["B"])
}

func TestMemoryAppendDetailsBumpsCounters(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	newRunningSession(t, s, "s1", time.Now())

	err := s.AppendDetails(ctx, "s1", []models.SyncDetail{
		{Platform: models.PlatformTrendyol, Barcode: "A", Status: models.DetailStatusSuccess},
		{Platform: models.PlatformTrendyol, Barcode: "B", Status: models.DetailStatusError},
		{Platform: models.PlatformIdefix, Barcode: "A", Status: models.DetailStatusSuccess},
	})
	require.NoError(t, err)

	session, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 2, session.SuccessCount)
	assert.Equal(t, 1, session.ErrorCount)

	details, err := s.GetSessionDetails(ctx, "s1")
	require.NoError(t, err)
	require.Len(t, details, 3)
	assert.Equal(t, "s1", details[0].SessionID)
	assert.Less(t, details[0].ID, details[1].ID)
}

func TestMemoryConcurrentAppends(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	newRunningSession(t, s, "s1", time.Now())

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.AppendDetails(ctx, "s1", []models.SyncDetail{{Barcode: "x", Status: models.DetailStatusSuccess}})
		}()
	}
	wg.Wait()

	session, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, 20, session.SuccessCount)
}

func TestMemoryTerminalSessionIsFrozen(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	started := time.Now().Add(-time.Minute)
	newRunningSession(t, s, "s1", started)

	ok, err := s.FinishSession(ctx, "s1", models.SessionStatusCompleted, "", time.Now())
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.FinishSession(ctx, "s1", models.SessionStatusFailed, "late", time.Now())
	require.NoError(t, err)
	assert.False(t, ok)

	err = s.AppendDetails(ctx, "s1", []models.SyncDetail{{Barcode: "x", Status: models.DetailStatusSuccess}})
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.SetSessionTotal(ctx, "s1", 5), ErrSessionClosed)

	session, err := s.GetSession(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.Equal(t, 0, session.SuccessCount)
	assert.GreaterOrEqual(t, session.DurationSeconds, 59.0)
}

func TestMemoryListAndDeleteSessions(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()
	now := time.Now()
	newRunningSession(t, s, "old", now.Add(-48*time.Hour))
	newRunningSession(t, s, "new", now)
	newRunningSession(t, s, "stuck", now.Add(-72*time.Hour))
	_, _ = s.FinishSession(ctx, "old", models.SessionStatusCompleted, "", now)

	sessions, err := s.ListSessions(ctx, "", 2)
	require.NoError(t, err)
	require.Len(t, sessions, 2)
	assert.Equal(t, "new", sessions[0].ID)

	running, err := s.ListRunningSessions(ctx)
	require.NoError(t, err)
	assert.Len(t, running, 2)

	n, err := s.DeleteSessionsBefore(ctx, now.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = s.GetSession(ctx, "old")
	assert.ErrorIs(t, err, ErrNotFound)

	ok, err := s.DeleteSession(ctx, "new")
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = s.DeleteSession(ctx, "new")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemoryPlatformConfigLastSync(t *testing.T) {
	s := NewMemoryStore(nil)
	ctx := context.Background()

	_, err := s.GetPlatformConfig(ctx, models.PlatformAmazon)
	assert.ErrorIs(t, err, ErrNotFound)

	at := time.Now().UTC()
	fallback := models.PlatformConfig{Platform: models.PlatformAmazon, IsActive: true, BatchSize: 50, MaxRetries: 3, SyncIntervalMinutes: 60}
	require.NoError(t, s.TouchLastSync(ctx, fallback, at))

	cfg, err := s.GetPlatformConfig(ctx, models.PlatformAmazon)
	require.NoError(t, err)
	require.NotNil(t, cfg.LastSyncAt)
	assert.Equal(t, 50, cfg.BatchSize)

	cfg.BatchSize = 10
	cfg.LastSyncAt = nil
	require.NoError(t, s.UpsertPlatformConfig(ctx, cfg))

	cfg, err = s.GetPlatformConfig(ctx, models.PlatformAmazon)
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.BatchSize)
	require.NotNil(t, cfg.LastSyncAt)
	assert.True(t, at.Equal(*cfg.LastSyncAt))
}
