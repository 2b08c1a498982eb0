package worker

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"stock-sync/internal/models"
	"stock-sync/internal/service"
	"stock-sync/internal/util"
)

func TestMain(m *testing.M) {
	util.SetLogger(zap.NewNop())
	os.Exit(m.Run())
}

type recordingSyncer struct {
	mu       sync.Mutex
	targets  []string
	requests []service.SyncRequest
	err      error
}

func (s *recordingSyncer) SyncBackground(_ context.Context, target string, req service.SyncRequest) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	s.targets = append(s.targets, target)
	s.requests = append(s.requests, req)
	return "session-1", nil
}

func TestStockChangeStartsPartialSync(t *testing.T) {
	syncer := &recordingSyncer{}
	w := NewStockChangeWorker(nil, syncer)

	event := models.StockChangedEvent{
		BaseEvent: models.NewBaseEvent(models.EventTypeStockChanged),
		Barcodes:  []string{"A", "B"},
		Platforms: []models.Platform{models.PlatformTrendyol},
	}
	payload, err := json.Marshal(event)
	require.NoError(t, err)

	require.NoError(t, w.eventHandler.HandleMessage(context.Background(), kafka.Message{Value: payload}))

	require.Len(t, syncer.requests, 1)
	assert.Equal(t, models.PlatformAll, syncer.targets[0])
	req := syncer.requests[0]
	assert.Equal(t, []string{"A", "B"}, req.Barcodes)
	assert.Equal(t, []models.Platform{models.PlatformTrendyol}, req.Platforms)
	assert.Equal(t, models.TriggeredByAPI, req.TriggeredBy)
	assert.Equal(t, "kafka", req.User)
}

func TestStockChangeWithoutBarcodesIsIgnored(t *testing.T) {
	syncer := &recordingSyncer{}
	w := NewStockChangeWorker(nil, syncer)

	require.NoError(t, w.HandleStockChanged(context.Background(), &models.StockChangedEvent{}))
	assert.Empty(t, syncer.requests)

	syncer.err = errors.New("store down")
	err := w.HandleStockChanged(context.Background(), &models.StockChangedEvent{Barcodes: []string{"A"}})
	assert.Error(t, err)
}

type countingTicker struct {
	mu    sync.Mutex
	ticks int
}

func (c *countingTicker) Tick(context.Context) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ticks++
	return []string{"id"}, nil
}

func (c *countingTicker) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

func TestPeriodicWorkerTicksUntilCancelled(t *testing.T) {
	ticker := &countingTicker{}
	w := NewPeriodicWorker("scheduler", ticker, 5*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return ticker.count() >= 2 }, time.Second, time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}

type recordingHeartbeats struct {
	mu    sync.Mutex
	beats int
	ttl   time.Duration
}

func (h *recordingHeartbeats) Heartbeat(_ context.Context, instanceID string, ttl time.Duration) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.beats++
	h.ttl = ttl
	return nil
}

func (h *recordingHeartbeats) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.beats
}

func TestHeartbeatWorker(t *testing.T) {
	hb := &recordingHeartbeats{}
	w := NewHeartbeatWorker(hb, "instance-1", 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	assert.Eventually(t, func() bool { return hb.count() >= 2 }, time.Second, time.Millisecond)
	cancel()
	<-done

	hb.mu.Lock()
	defer hb.mu.Unlock()
	assert.Equal(t, 30*time.Millisecond, hb.ttl)
}
