// Package app wires the sync engine from configuration. It is shared by the
// HTTP server and the operator CLI.
package app

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"stock-sync/config"
	"stock-sync/internal/broker"
	"stock-sync/internal/platform"
	"stock-sync/internal/redisclient"
	"stock-sync/internal/service"
	"stock-sync/internal/store"
	"stock-sync/internal/util"
)

// Store is a repository with a connection lifecycle
type Store interface {
	service.Repository
	Ping(ctx context.Context) error
	Close() error
}

// App holds every long-lived component of one engine process
type App struct {
	Config       *config.Config
	InstanceID   string
	Store        Store
	Redis        *redisclient.Client
	Producer     *broker.Producer
	Orchestrator *service.Orchestrator
	Sweeper      *service.Sweeper
	Scheduler    *service.Scheduler

	logger *zap.Logger
}

// New connects to the configured backends and builds the engine
func New(cfg *config.Config) (*App, error) {
	a := &App{
		Config:     cfg,
		InstanceID: cfg.Server.InstanceID,
		logger:     util.GetLogger(),
	}
	if a.InstanceID == "" {
		a.InstanceID = uuid.New().String()
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	a.Store = st
	a.logger.Info("Store connected", zap.String("driver", cfg.Database.Driver))

	opts := service.Options{
		InstanceID: a.InstanceID,
		PadEAN13:   cfg.Sync.PadEAN13,
	}

	// interfaces only receive non-nil clients
	var heartbeats service.HeartbeatChecker
	var locker service.Locker
	if cfg.Redis.Enabled {
		rdb, err := redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Redis = rdb
		opts.Cancels = rdb
		heartbeats = rdb
		locker = rdb
		a.logger.Info("Redis connected", zap.String("addr", cfg.Redis.Addr))
	}

	if cfg.Kafka.Enabled {
		a.Producer = broker.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.TopicSyncEvents)
		opts.Events = broker.NewEventPublisher(a.Producer)
		a.logger.Info("Kafka producer initialized", zap.String("topic", cfg.Kafka.TopicSyncEvents))
	}

	adapters := platform.NewAdapters(cfg.Platforms, cfg.Sync.HBCacheFile)
	for _, adapter := range adapters {
		a.logger.Info("Platform adapter",
			zap.String("platform", string(adapter.Platform())),
			zap.Bool("configured", adapter.Configured()),
		)
	}

	a.Orchestrator = service.NewOrchestrator(a.Store, adapters, opts)
	a.Sweeper = service.NewSweeper(a.Store, heartbeats, a.InstanceID, cfg.Sync.Watchdog)
	a.Scheduler = service.NewScheduler(a.Orchestrator, a.Store, locker, cfg.Sync.Watchdog)
	return a, nil
}

func openStore(cfg *config.Config) (Store, error) {
	switch cfg.Database.Driver {
	case "memory":
		return store.NewMemoryStore(cfg.Sync.ReservationStatuses), nil
	case "postgres", "":
		pg, err := store.NewStore(cfg.Database.URL, cfg.Sync.ReservationStatuses)
		if err != nil {
			return nil, err
		}
		return pg, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Database.Driver)
	}
}

// Migrate applies schema migrations when the store is backed by Postgres
func (a *App) Migrate() error {
	pg, ok := a.Store.(*store.Store)
	if !ok {
		return nil
	}
	if err := pg.RunMigrations(); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	a.logger.Info("Migrations applied")
	return nil
}

// Close waits for background runs and releases every connection
func (a *App) Close() {
	if a.Orchestrator != nil {
		a.Orchestrator.Wait()
	}
	if a.Producer != nil {
		if err := a.Producer.Close(); err != nil {
			a.logger.Warn("Failed to close kafka producer", zap.Error(err))
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.logger.Warn("Failed to close redis", zap.Error(err))
		}
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.logger.Warn("Failed to close store", zap.Error(err))
		}
	}
}
