package platform

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

// scriptedAdapter answers each SendBatch call with the next scripted verdict
type scriptedAdapter struct {
	mu       sync.Mutex
	calls    [][]WorkItem
	callTime []time.Time
	verdict  func(call int, item WorkItem) ItemResult
}

func (a *scriptedAdapter) Platform() models.Platform { return models.PlatformTrendyol }
func (a *scriptedAdapter) Configured() bool          { return true }
func (a *scriptedAdapter) Defaults() Settings        { return Settings{BatchSize: 2} }
func (a *scriptedAdapter) FetchCatalog(context.Context) ([]CatalogEntry, error) {
	return nil, nil
}

func (a *scriptedAdapter) SendBatch(_ context.Context, items []WorkItem) []ItemResult {
	a.mu.Lock()
	call := len(a.calls)
	a.calls = append(a.calls, items)
	a.callTime = append(a.callTime, time.Now())
	a.mu.Unlock()

	out := make([]ItemResult, len(items))
	for i, item := range items {
		if a.verdict == nil {
			out[i] = ItemResult{Item: item, Success: true, QuantitySent: Quantity(item.Quantity)}
			continue
		}
		out[i] = a.verdict(call, item)
	}
	return out
}

func items(barcodes ...string) []WorkItem {
	out := make([]WorkItem, len(barcodes))
	for i, b := range barcodes {
		out[i] = WorkItem{Barcode: b, Quantity: i + 1}
	}
	return out
}

type collector struct {
	mu      sync.Mutex
	results []ItemResult
	sent    []int
}

func (c *collector) progress(_ context.Context, results []ItemResult, sent, total int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, results...)
	c.sent = append(c.sent, sent)
	return nil
}

func TestSendAllBatchesInOrder(t *testing.T) {
	adapter := &scriptedAdapter{}
	c := &collector{}
	p := NewPipeline(adapter, Settings{BatchSize: 2, BackoffBase: time.Millisecond})

	report, err := p.SendAll(context.Background(), items("a", "b", "c", "d", "e"), c.progress)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Total)
	assert.Equal(t, 5, report.Sent)
	assert.False(t, report.Cancelled)
	require.Len(t, adapter.calls, 3)
	assert.Len(t, adapter.calls[2], 1)
	assert.Equal(t, []int{2, 4, 5}, c.sent)

	var got []string
	for _, r := range c.results {
		got = append(got, r.Item.Barcode)
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, got)
}

func TestSendAllRetriesOnlyTransientItems(t *testing.T) {
	adapter := &scriptedAdapter{
		verdict: func(call int, item WorkItem) ItemResult {
			switch {
			case item.Barcode == "flaky" && call == 0:
				return ItemResult{Item: item, ErrorMessage: "server_error: http 503", Retryable: true}
			case item.Barcode == "bad":
				return ItemResult{Item: item, ErrorMessage: "http 400: invalid barcode"}
			}
			return ItemResult{Item: item, Success: true}
		},
	}
	c := &collector{}
	p := NewPipeline(adapter, Settings{BatchSize: 10, MaxRetries: 3, BackoffBase: time.Millisecond})

	_, err := p.SendAll(context.Background(), items("ok", "flaky", "bad"), c.progress)
	require.NoError(t, err)

	require.Len(t, adapter.calls, 2)
	require.Len(t, adapter.calls[1], 1)
	assert.Equal(t, "flaky", adapter.calls[1][0].Barcode)

	byBarcode := map[string]ItemResult{}
	for _, r := range c.results {
		byBarcode[r.Item.Barcode] = r
	}
	assert.True(t, byBarcode["ok"].Success)
	assert.True(t, byBarcode["flaky"].Success)
	assert.Empty(t, byBarcode["flaky"].ErrorMessage)
	assert.False(t, byBarcode["bad"].Success)
	assert.Equal(t, "http 400: invalid barcode", byBarcode["bad"].ErrorMessage)
}

func TestSendAllBoundsRetries(t *testing.T) {
	adapter := &scriptedAdapter{
		verdict: func(_ int, item WorkItem) ItemResult {
			return ItemResult{Item: item, ErrorMessage: "server_error: http 500", Retryable: true}
		},
	}
	c := &collector{}
	p := NewPipeline(adapter, Settings{BatchSize: 5, MaxRetries: 2, BackoffBase: time.Millisecond})

	_, err := p.SendAll(context.Background(), items("a"), c.progress)
	require.NoError(t, err)

	assert.Len(t, adapter.calls, 3)
	require.Len(t, c.results, 1)
	assert.False(t, c.results[0].Success)
	assert.Equal(t, "server_error: http 500", c.results[0].ErrorMessage)
}

func TestSendAllWaitsBetweenBatches(t *testing.T) {
	adapter := &scriptedAdapter{}
	p := NewPipeline(adapter, Settings{BatchSize: 1, RateLimitDelay: 30 * time.Millisecond})

	_, err := p.SendAll(context.Background(), items("a", "b", "c"), (&collector{}).progress)
	require.NoError(t, err)

	require.Len(t, adapter.callTime, 3)
	for i := 1; i < len(adapter.callTime); i++ {
		assert.GreaterOrEqual(t, adapter.callTime[i].Sub(adapter.callTime[i-1]), 30*time.Millisecond)
	}
}

func TestSendAllStopsBeforeNextBatch(t *testing.T) {
	stop := make(chan struct{})
	adapter := &scriptedAdapter{}
	c := &collector{}
	progress := func(ctx context.Context, results []ItemResult, sent, total int) error {
		close(stop)
		return c.progress(ctx, results, sent, total)
	}
	p := NewPipeline(adapter, Settings{BatchSize: 2, RateLimitDelay: time.Hour}, WithStop(stop))

	report, err := p.SendAll(context.Background(), items("a", "b", "c", "d"), progress)
	require.NoError(t, err)

	assert.True(t, report.Cancelled)
	assert.Equal(t, 2, report.Sent)
	assert.Len(t, adapter.calls, 1)
	assert.Len(t, c.results, 2)
}

func TestSendAllHonoursStopCheck(t *testing.T) {
	adapter := &scriptedAdapter{}
	p := NewPipeline(adapter, Settings{BatchSize: 1}, WithStopCheck(func(context.Context) bool { return true }))

	report, err := p.SendAll(context.Background(), items("a", "b"), (&collector{}).progress)
	require.NoError(t, err)
	assert.True(t, report.Cancelled)
	assert.Empty(t, adapter.calls)
}

func TestSendAllAbortsOnProgressError(t *testing.T) {
	adapter := &scriptedAdapter{}
	boom := errors.New("store down")
	p := NewPipeline(adapter, Settings{BatchSize: 1})

	report, err := p.SendAll(context.Background(), items("a", "b"), func(context.Context, []ItemResult, int, int) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, report.Sent)
	assert.Len(t, adapter.calls, 1)
}

type preparingAdapter struct {
	scriptedAdapter
}

func (a *preparingAdapter) Prepare(_ context.Context, in []WorkItem) ([]WorkItem, []ItemResult) {
	var ready []WorkItem
	var rejected []ItemResult
	for _, item := range in {
		if item.MerchantSKU == "" {
			rejected = append(rejected, Reject(item, models.ErrMsgUnmatchedSKU))
			continue
		}
		ready = append(ready, item)
	}
	return ready, rejected
}

func TestSendAllRecordsPreparerRejections(t *testing.T) {
	adapter := &preparingAdapter{}
	c := &collector{}
	p := NewPipeline(adapter, Settings{BatchSize: 10})

	work := []WorkItem{{Barcode: "a", MerchantSKU: "A"}, {Barcode: "b", Quantity: -3}}
	report, err := p.SendAll(context.Background(), work, c.progress)
	require.NoError(t, err)

	assert.Equal(t, 2, report.Sent)
	require.Len(t, adapter.calls, 1)
	assert.Equal(t, "a", adapter.calls[0][0].Barcode)
	require.Len(t, c.results, 2)
	assert.Equal(t, models.ErrMsgUnmatchedSKU, c.results[0].ErrorMessage)
	assert.Equal(t, 0, c.results[0].QuantitySent)
}

func TestSettingsWithConfig(t *testing.T) {
	base := Settings{BatchSize: 100, RateLimitDelay: 200 * time.Millisecond, MaxRetries: 3}

	assert.Equal(t, base, base.WithConfig(nil))

	got := base.WithConfig(&models.PlatformConfig{BatchSize: 25, RateLimitDelaySeconds: 1.5, MaxRetries: 5})
	assert.Equal(t, 25, got.BatchSize)
	assert.Equal(t, 1500*time.Millisecond, got.RateLimitDelay)
	assert.Equal(t, 5, got.MaxRetries)
}

func TestQuantityClampsNegatives(t *testing.T) {
	assert.Equal(t, 0, Quantity(-4))
	assert.Equal(t, 0, Quantity(0))
	assert.Equal(t, 7, Quantity(7))
}
