package service

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stock-sync/internal/models"
	"stock-sync/internal/store"
)

func TestSyncPlatformCleanRun(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	repo.PutProduct(product("A", models.PlatformTrendyol))
	repo.PutProduct(product("B", models.PlatformTrendyol))
	repo.SetCentralStock("A", 10)
	repo.SetCentralStock("B", 5)
	repo.AddOrder("Created", map[string]int{"A": 3})
	repo.AddOrder("Shipped", map[string]int{"B": 4})

	trendyol := newFakeAdapter(models.PlatformTrendyol)
	orch := newTestOrchestrator(repo, Options{}, trendyol)

	summary, err := orch.SyncPlatform(ctx, models.PlatformTrendyol, SyncRequest{User: "alice"})
	require.NoError(t, err)

	require.Equal(t, 1, trendyol.calls())
	sent := trendyol.sent()
	require.Len(t, sent, 2)
	assert.Equal(t, "A", sent[0].Barcode)
	assert.Equal(t, 7, sent[0].Quantity)
	assert.Equal(t, "B", sent[1].Barcode)
	assert.Equal(t, 5, sent[1].Quantity)

	assert.Equal(t, models.SessionStatusCompleted, summary.Status)
	assert.Equal(t, 2, summary.TotalItems)
	assert.Equal(t, 2, summary.SuccessCount)
	assert.Equal(t, 0, summary.ErrorCount)
	assert.Equal(t, float64(100), summary.SuccessRate)

	session, err := repo.GetSession(ctx, summary.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.Equal(t, "trendyol", session.Platform)
	assert.Equal(t, models.TriggeredByManual, session.TriggeredBy)
	assert.Equal(t, "alice", session.TriggeredByUser)
	assert.Equal(t, "test-instance", session.Owner)
	require.NotNil(t, session.FinishedAt)

	details, err := repo.GetSessionDetails(ctx, summary.SessionID)
	require.NoError(t, err)
	assert.Len(t, details, 2)

	cfg, err := repo.GetPlatformConfig(ctx, models.PlatformTrendyol)
	require.NoError(t, err)
	assert.NotNil(t, cfg.LastSyncAt)
	assert.True(t, cfg.IsActive)
}

func TestNegativeStockIsClampedToZero(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	repo.PutProduct(product("X", models.PlatformIdefix))
	repo.SetCentralStock("X", 2)
	repo.AddOrder("Picking", map[string]int{"X": 5})

	idefix := newFakeAdapter(models.PlatformIdefix)
	orch := newTestOrchestrator(repo, Options{}, idefix)

	summary, err := orch.SyncPlatform(ctx, models.PlatformIdefix, SyncRequest{})
	require.NoError(t, err)

	require.Len(t, idefix.sent(), 1)
	assert.Equal(t, 0, idefix.sent()[0].Quantity)
	assert.Equal(t, 1, summary.AdjustedNegative)

	details, err := repo.GetSessionDetails(ctx, summary.SessionID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, models.DetailStatusSuccess, details[0].Status)
	assert.Equal(t, 0, details[0].QuantitySent)
}

func TestAliasRedirectsToCanonicalBarcode(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	p := product("NEW", models.PlatformWooCommerce)
	p.WooProductID = 42
	repo.PutProduct(p)
	repo.PutProduct(product("OTHER", models.PlatformWooCommerce))
	repo.PutAlias("OLD", "NEW")
	repo.SetCentralStock("OLD", 4)

	woo := newFakeAdapter(models.PlatformWooCommerce)
	orch := newTestOrchestrator(repo, Options{}, woo)

	summary, err := orch.SyncAll(ctx, SyncRequest{Barcodes: []string{"OLD", " NEW "}})
	require.NoError(t, err)

	sent := woo.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, int64(42), sent[0].WooProductID)
	assert.Equal(t, "NEW", sent[0].Barcode)
	assert.Equal(t, 4, sent[0].Quantity)

	details, err := repo.GetSessionDetails(ctx, summary.SessionID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "NEW", details[0].Barcode)
	assert.Equal(t, models.PlatformAll, mustSession(t, repo, summary.SessionID).Platform)
}

func TestAliasToShortBarcodeWithPadding(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	repo.PutProduct(product("12345", models.PlatformTrendyol))
	repo.PutAlias("OLD", "12345")
	repo.SetCentralStock("12345", 6)

	trendyol := newFakeAdapter(models.PlatformTrendyol)
	orch := newTestOrchestrator(repo, Options{PadEAN13: true}, trendyol)

	summary, err := orch.SyncPlatform(ctx, models.PlatformTrendyol, SyncRequest{Barcodes: []string{"OLD"}})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalItems)

	sent := trendyol.sent()
	require.Len(t, sent, 1)
	assert.Equal(t, "0000000012345", sent[0].Barcode)
	assert.Equal(t, 6, sent[0].Quantity)
}

func TestAliasedProductRowsSyncOnce(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	repo.PutProduct(product("NEW", models.PlatformTrendyol))
	repo.PutProduct(product("OLD", models.PlatformTrendyol))
	repo.PutAlias("OLD", "NEW")
	repo.SetCentralStock("NEW", 2)

	trendyol := newFakeAdapter(models.PlatformTrendyol)
	orch := newTestOrchestrator(repo, Options{}, trendyol)

	summary, err := orch.SyncPlatform(ctx, models.PlatformTrendyol, SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, 1, summary.TotalItems)

	details, err := repo.GetSessionDetails(ctx, summary.SessionID)
	require.NoError(t, err)
	require.Len(t, details, 1)
	assert.Equal(t, "NEW", details[0].Barcode)
}

func TestPlatformPartition(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	repo.PutProduct(product("T1", models.PlatformTrendyol))
	repo.PutProduct(product("B1", models.PlatformTrendyol, models.PlatformIdefix))
	amazonOnly := product("AZ", models.PlatformAmazon)
	repo.PutProduct(amazonOnly)
	withASIN := product("AZ2", models.PlatformAmazon)
	withASIN.ASIN = "B000TEST"
	repo.PutProduct(withASIN)

	trendyol := newFakeAdapter(models.PlatformTrendyol)
	idefix := newFakeAdapter(models.PlatformIdefix)
	amazon := newFakeAdapter(models.PlatformAmazon)
	orch := newTestOrchestrator(repo, Options{}, trendyol, idefix, amazon)

	summary, err := orch.SyncAll(ctx, SyncRequest{})
	require.NoError(t, err)

	assert.Len(t, trendyol.sent(), 2)
	require.Len(t, idefix.sent(), 1)
	assert.Equal(t, "B1", idefix.sent()[0].Barcode)
	require.Len(t, amazon.sent(), 1)
	assert.Equal(t, "AZ2", amazon.sent()[0].Barcode)

	details, err := repo.GetSessionDetails(ctx, summary.SessionID)
	require.NoError(t, err)
	assert.Len(t, details, 5)

	var missing *models.SyncDetail
	for i := range details {
		if details[i].Barcode == "AZ" {
			missing = &details[i]
		}
	}
	require.NotNil(t, missing)
	assert.Equal(t, models.DetailStatusError, missing.Status)
	assert.Equal(t, models.ErrMsgMissingExternalID, missing.ErrorMessage)

	assert.Equal(t, 4, summary.SuccessCount)
	assert.Equal(t, 1, summary.ErrorCount)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 1, summary.PerPlatform[models.PlatformAmazon].Skipped)
	assert.Equal(t, models.SessionStatusCompleted, summary.Status)
}

func TestUnconfiguredPlatformRecordsRows(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	repo.PutProduct(product("A", models.PlatformIdefix))
	repo.PutProduct(product("B", models.PlatformIdefix))

	idefix := newFakeAdapter(models.PlatformIdefix)
	idefix.configured = false
	orch := newTestOrchestrator(repo, Options{}, idefix)

	summary, err := orch.SyncPlatform(ctx, models.PlatformIdefix, SyncRequest{})
	require.NoError(t, err)

	assert.Equal(t, 0, idefix.calls())
	assert.Equal(t, 2, summary.ErrorCount)
	assert.Equal(t, models.ErrMsgNotConfigured, summary.PerPlatform[models.PlatformIdefix].Error)

	details, err := repo.GetSessionDetails(ctx, summary.SessionID)
	require.NoError(t, err)
	require.Len(t, details, 2)
	for _, d := range details {
		assert.Equal(t, models.ErrMsgNotConfigured, d.ErrorMessage)
	}

	_, err = repo.GetPlatformConfig(ctx, models.PlatformIdefix)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestDisabledAndUnknownPlatforms(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	repo.PutProduct(product("A", models.PlatformTrendyol, models.PlatformHepsiburada))
	require.NoError(t, repo.UpsertPlatformConfig(ctx, &models.PlatformConfig{
		Platform: models.PlatformHepsiburada, IsActive: false, BatchSize: 50, MaxRetries: 3, SyncIntervalMinutes: 60,
	}))

	trendyol := newFakeAdapter(models.PlatformTrendyol)
	hb := newFakeAdapter(models.PlatformHepsiburada)
	orch := newTestOrchestrator(repo, Options{}, trendyol, hb)

	_, err := orch.SyncPlatform(ctx, models.PlatformHepsiburada, SyncRequest{})
	assert.ErrorIs(t, err, ErrPlatformDisabled)

	_, err = orch.SyncPlatform(ctx, models.Platform("ebay"), SyncRequest{})
	assert.ErrorIs(t, err, ErrUnknownPlatform)

	_, err = orch.SyncAll(ctx, SyncRequest{Platforms: []models.Platform{"ebay"}})
	assert.ErrorIs(t, err, ErrUnknownPlatform)

	_, err = orch.SyncBackground(ctx, "ebay", SyncRequest{})
	assert.ErrorIs(t, err, ErrUnknownPlatform)

	summary, err := orch.SyncAll(ctx, SyncRequest{})
	require.NoError(t, err)
	assert.Equal(t, 0, hb.calls())
	assert.Equal(t, 1, trendyol.calls())
	assert.NotContains(t, summary.PerPlatform, models.PlatformHepsiburada)

	sessions, err := repo.ListSessions(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)
}

func TestCancelStopsBeforeNextBatch(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	for _, b := range []string{"01", "02", "03", "04", "05", "06", "07", "08", "09", "10"} {
		repo.PutProduct(product(b, models.PlatformTrendyol))
	}

	events := &recordingEvents{}
	trendyol := newFakeAdapter(models.PlatformTrendyol)
	trendyol.batchSize = 2
	orch := newTestOrchestrator(repo, Options{Events: events}, trendyol)

	var cancelled bool
	trendyol.onBatch = func(call int) {
		if call != 1 {
			return
		}
		events.mu.Lock()
		id := events.started[0].SessionID
		events.mu.Unlock()
		ok, err := orch.Cancel(ctx, id)
		assert.NoError(t, err)
		cancelled = ok
	}

	summary, err := orch.SyncPlatform(ctx, models.PlatformTrendyol, SyncRequest{})
	require.NoError(t, err)

	assert.True(t, cancelled)
	assert.Equal(t, 2, trendyol.calls())
	assert.Equal(t, models.SessionStatusCancelled, summary.Status)
	assert.Equal(t, 4, summary.SuccessCount)

	session := mustSession(t, repo, summary.SessionID)
	assert.Equal(t, models.SessionStatusCancelled, session.Status)
	assert.Equal(t, models.ErrMsgCancelled, session.ErrorMessage)
	assert.Equal(t, 10, session.TotalItems)

	details, err := repo.GetSessionDetails(ctx, summary.SessionID)
	require.NoError(t, err)
	assert.Len(t, details, 4)
	assert.Equal(t, session.SuccessCount+session.ErrorCount, len(details))

	require.Len(t, events.finished, 1)
	assert.Equal(t, models.SessionStatusCancelled, events.finished[0].Summary.Status)
}

func TestRemoteCancelFlagIsHonoured(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	for _, b := range []string{"A", "B", "C", "D"} {
		repo.PutProduct(product(b, models.PlatformIdefix, models.PlatformTrendyol))
	}

	flags := newMemoryFlags()
	trendyol := newFakeAdapter(models.PlatformTrendyol)
	trendyol.batchSize = 1
	idefix := newFakeAdapter(models.PlatformIdefix)
	idefix.batchSize = 1
	orch := newTestOrchestrator(repo, Options{Cancels: flags}, trendyol, idefix)

	trendyol.onBatch = func(call int) {
		if call != 0 {
			return
		}
		running, err := repo.ListRunningSessions(ctx)
		if assert.NoError(t, err) && assert.Len(t, running, 1) {
			// as another process would
			assert.NoError(t, flags.RequestCancel(ctx, running[0].ID))
		}
	}

	summary, err := orch.SyncAll(ctx, SyncRequest{})
	require.NoError(t, err)

	assert.Equal(t, models.SessionStatusCancelled, summary.Status)
	assert.Equal(t, 1, trendyol.calls())

	details, err := repo.GetSessionDetails(ctx, summary.SessionID)
	require.NoError(t, err)
	session := mustSession(t, repo, summary.SessionID)
	assert.Equal(t, session.SuccessCount+session.ErrorCount, len(details))

	requested, err := flags.IsCancelRequested(ctx, summary.SessionID)
	require.NoError(t, err)
	assert.False(t, requested)
}

func TestCancelUnknownAndFinishedSessions(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	repo.PutProduct(product("A", models.PlatformTrendyol))
	orch := newTestOrchestrator(repo, Options{Cancels: newMemoryFlags()}, newFakeAdapter(models.PlatformTrendyol))

	_, err := orch.Cancel(ctx, "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)

	summary, err := orch.SyncAll(ctx, SyncRequest{})
	require.NoError(t, err)

	ok, err := orch.Cancel(ctx, summary.SessionID)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, models.SessionStatusCompleted, mustSession(t, repo, summary.SessionID).Status)
}

func TestCancelWhileFinishingIsRefused(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	repo.PutProduct(product("A", models.PlatformTrendyol))
	flags := newMemoryFlags()
	events := newSlowFinishEvents()
	orch := newTestOrchestrator(repo, Options{Cancels: flags, Events: events}, newFakeAdapter(models.PlatformTrendyol))

	id, err := orch.SyncBackground(ctx, "trendyol", SyncRequest{})
	require.NoError(t, err)

	select {
	case <-events.entered:
	case <-time.After(5 * time.Second):
		t.Fatal("session never reached its finished event")
	}
	assert.Equal(t, models.SessionStatusCompleted, mustSession(t, repo, id).Status)

	ok, err := orch.Cancel(ctx, id)
	require.NoError(t, err)
	assert.False(t, ok)

	close(events.release)
	orch.Wait()

	assert.Equal(t, models.SessionStatusCompleted, mustSession(t, repo, id).Status)
	requested, err := flags.IsCancelRequested(ctx, id)
	require.NoError(t, err)
	assert.False(t, requested)
}

func TestSyncBackground(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	repo := newMemoryStore()
	repo.PutProduct(product("A", models.PlatformTrendyol))
	repo.PutProduct(product("B", models.PlatformTrendyol))

	trendyol := newFakeAdapter(models.PlatformTrendyol)
	release := make(chan struct{})
	trendyol.onBatch = func(int) { <-release }
	orch := newTestOrchestrator(repo, Options{}, trendyol)

	id, err := orch.SyncBackground(ctx, "trendyol", SyncRequest{TriggeredBy: models.TriggeredByAPI})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	// the run outlives the request that started it
	cancel()
	assert.Equal(t, models.SessionStatusRunning, mustSession(t, repo, id).Status)
	assert.Eventually(t, func() bool { return orch.IsPlatformBusy(models.PlatformTrendyol) }, time.Second, 5*time.Millisecond)

	close(release)
	orch.Wait()

	session := mustSession(t, repo, id)
	assert.Equal(t, models.SessionStatusCompleted, session.Status)
	assert.Equal(t, 2, session.SuccessCount)
	assert.Equal(t, models.TriggeredByAPI, session.TriggeredBy)
	assert.False(t, orch.IsPlatformBusy(models.PlatformTrendyol))
}

// failingStore loses its connection when details are written
type failingStore struct {
	*store.MemoryStore
}

func (f *failingStore) AppendDetails(context.Context, string, []models.SyncDetail) error {
	return errors.New("connection refused")
}

func TestStoreFailureFailsSession(t *testing.T) {
	ctx := context.Background()
	mem := newMemoryStore()
	mem.PutProduct(product("A", models.PlatformTrendyol))
	repo := &failingStore{MemoryStore: mem}

	orch := newTestOrchestrator(repo, Options{}, newFakeAdapter(models.PlatformTrendyol))

	summary, err := orch.SyncAll(ctx, SyncRequest{})
	require.Error(t, err)
	require.NotNil(t, summary)
	assert.Equal(t, models.SessionStatusFailed, summary.Status)

	session := mustSession(t, mem, summary.SessionID)
	assert.Equal(t, models.SessionStatusFailed, session.Status)
	assert.True(t, strings.HasPrefix(session.ErrorMessage, "store_error: "), session.ErrorMessage)
}

func TestConservationAcrossPlatforms(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryStore()
	for _, b := range []string{"A", "B", "C", "D", "E"} {
		repo.PutProduct(product(b, models.PlatformTrendyol, models.PlatformIdefix))
		repo.SetCentralStock(b, 3)
	}
	repo.AddOrder("Invoiced", map[string]int{"C": 10})

	events := &recordingEvents{}
	trendyol := newFakeAdapter(models.PlatformTrendyol)
	trendyol.batchSize = 2
	trendyol.failing["B"] = "http 400: bad barcode"
	idefix := newFakeAdapter(models.PlatformIdefix)
	idefix.batchSize = 3
	orch := newTestOrchestrator(repo, Options{Events: events}, trendyol, idefix)

	summary, err := orch.SyncAll(ctx, SyncRequest{})
	require.NoError(t, err)

	session := mustSession(t, repo, summary.SessionID)
	details, err := repo.GetSessionDetails(ctx, summary.SessionID)
	require.NoError(t, err)

	assert.Equal(t, 10, session.TotalItems)
	assert.Equal(t, session.SuccessCount+session.ErrorCount, len(details))
	assert.Equal(t, 9, session.SuccessCount)
	assert.Equal(t, 1, session.ErrorCount)
	for _, d := range details {
		assert.GreaterOrEqual(t, d.QuantitySent, 0)
		if d.Barcode == "C" {
			assert.Equal(t, 0, d.QuantitySent)
		}
	}

	assert.Len(t, events.started, 1)
	assert.Len(t, events.batches, 5)
	require.Len(t, events.finished, 1)
	assert.Equal(t, 9, events.finished[0].Summary.SuccessCount)
}

func mustSession(t *testing.T, repo SessionStore, id string) *models.SyncSession {
	t.Helper()
	session, err := repo.GetSession(context.Background(), id)
	require.NoError(t, err)
	return session
}
