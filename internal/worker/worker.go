package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"stock-sync/internal/broker"
	"stock-sync/internal/models"
	"stock-sync/internal/service"
	"stock-sync/internal/util"
)

// BackgroundSyncer starts sync sessions that run past the caller
type BackgroundSyncer interface {
	SyncBackground(ctx context.Context, target string, req service.SyncRequest) (string, error)
}

// StockChangeWorker turns warehouse stock-change events into partial syncs
type StockChangeWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	syncer       BackgroundSyncer
	logger       *zap.Logger
}

// NewStockChangeWorker creates a new stock change worker
func NewStockChangeWorker(consumer *broker.Consumer, syncer BackgroundSyncer) *StockChangeWorker {
	w := &StockChangeWorker{
		consumer:     consumer,
		eventHandler: broker.NewEventHandler(),
		syncer:       syncer,
		logger:       util.GetLogger(),
	}
	w.eventHandler.OnStockChanged(w.HandleStockChanged)
	return w
}

// HandleStockChanged starts a background sync limited to the changed barcodes
func (w *StockChangeWorker) HandleStockChanged(ctx context.Context, event *models.StockChangedEvent) error {
	if len(event.Barcodes) == 0 {
		w.logger.Debug("Ignoring stock change without barcodes", zap.String("event_id", event.EventID))
		return nil
	}

	sessionID, err := w.syncer.SyncBackground(ctx, models.PlatformAll, service.SyncRequest{
		Platforms:   event.Platforms,
		Barcodes:    event.Barcodes,
		TriggeredBy: models.TriggeredByAPI,
		User:        "kafka",
	})
	if err != nil {
		return err
	}

	w.logger.Info("Stock change sync started",
		zap.String("event_id", event.EventID),
		zap.String("session_id", sessionID),
		zap.Int("barcodes", len(event.Barcodes)),
	)
	return nil
}

// Start starts the worker
func (w *StockChangeWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting stock change worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *StockChangeWorker) Stop() error {
	w.logger.Info("Stopping stock change worker")
	return w.consumer.Close()
}

// Ticker is anything that does periodic work
type Ticker interface {
	Tick(ctx context.Context) ([]string, error)
}

// PeriodicWorker calls a Ticker on a fixed interval
type PeriodicWorker struct {
	name     string
	ticker   Ticker
	interval time.Duration
	logger   *zap.Logger
}

// NewPeriodicWorker creates a new periodic worker
func NewPeriodicWorker(name string, ticker Ticker, interval time.Duration) *PeriodicWorker {
	return &PeriodicWorker{
		name:     name,
		ticker:   ticker,
		interval: interval,
		logger:   util.GetLogger().With(zap.String("worker", name)),
	}
}

// Start ticks until ctx is done
func (w *PeriodicWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting periodic worker", zap.Duration("interval", w.interval))
	return every(ctx, w.interval, func(ctx context.Context) {
		ids, err := w.ticker.Tick(ctx)
		if err != nil {
			w.logger.Error("Tick failed", zap.Error(err))
			return
		}
		if len(ids) > 0 {
			w.logger.Info("Tick produced work", zap.Strings("ids", ids))
		}
	})
}

// SweepTicker adapts a Sweeper to the Ticker interface
type SweepTicker struct {
	Sweeper *service.Sweeper
}

// Tick runs one sweep
func (s SweepTicker) Tick(ctx context.Context) ([]string, error) {
	return s.Sweeper.Sweep(ctx)
}

// Heartbeater records that an instance is alive
type Heartbeater interface {
	Heartbeat(ctx context.Context, instanceID string, ttl time.Duration) error
}

// HeartbeatWorker keeps this instance's heartbeat key fresh so the sweeper on
// other replicas leaves its sessions alone
type HeartbeatWorker struct {
	heartbeats Heartbeater
	instanceID string
	interval   time.Duration
	logger     *zap.Logger
}

// NewHeartbeatWorker creates a new heartbeat worker
func NewHeartbeatWorker(heartbeats Heartbeater, instanceID string, interval time.Duration) *HeartbeatWorker {
	return &HeartbeatWorker{
		heartbeats: heartbeats,
		instanceID: instanceID,
		interval:   interval,
		logger:     util.GetLogger(),
	}
}

// Start beats immediately and then every interval until ctx is done
func (w *HeartbeatWorker) Start(ctx context.Context) error {
	ttl := 3 * w.interval
	beat := func(ctx context.Context) {
		if err := w.heartbeats.Heartbeat(ctx, w.instanceID, ttl); err != nil {
			w.logger.Warn("Heartbeat failed", zap.String("instance_id", w.instanceID), zap.Error(err))
		}
	}
	beat(ctx)
	return every(ctx, w.interval, beat)
}

func every(ctx context.Context, interval time.Duration, fn func(ctx context.Context)) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			fn(ctx)
		}
	}
}
