package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

// Scheduler starts interval syncs for platforms whose last sync is due
type Scheduler struct {
	orchestrator *Orchestrator
	configs      ConfigStore
	locker       Locker
	lockTTL      time.Duration
	now          func() time.Time
	logger       *zap.Logger
}

// NewScheduler creates a new Scheduler. locker may be nil for a single replica.
func NewScheduler(orchestrator *Orchestrator, configs ConfigStore, locker Locker, lockTTL time.Duration) *Scheduler {
	return &Scheduler{
		orchestrator: orchestrator,
		configs:      configs,
		locker:       locker,
		lockTTL:      lockTTL,
		now:          func() time.Time { return time.Now().UTC() },
		logger:       util.GetLogger(),
	}
}

// Due reports whether cfg should be synced at now. A zero interval marks a
// platform that was never opted into scheduling.
func Due(cfg models.PlatformConfig, now time.Time) bool {
	if !cfg.IsActive || cfg.SyncIntervalMinutes <= 0 {
		return false
	}
	if cfg.LastSyncAt == nil {
		return true
	}
	interval := time.Duration(cfg.SyncIntervalMinutes) * time.Minute
	return !now.Before(cfg.LastSyncAt.Add(interval))
}

// Tick starts a background sync for every due platform and returns the new
// session ids. Platforms without a stored config are never scheduled.
func (s *Scheduler) Tick(ctx context.Context) ([]string, error) {
	ctx, span := util.StartSpan(ctx, "Scheduler.Tick")
	defer span.End()

	configs, err := s.configs.ListPlatformConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list platform configs: %w", err)
	}

	now := s.now()
	var started []string
	for _, cfg := range configs {
		p := cfg.Platform
		if !Due(cfg, now) || s.orchestrator.IsPlatformBusy(p) {
			continue
		}
		if adapter, ok := s.orchestrator.adapters[p]; !ok || !adapter.Configured() {
			continue
		}

		release := func() {}
		if s.locker != nil {
			key := "schedule:" + string(p)
			token, ok, err := s.locker.AcquireLock(ctx, key, s.lockTTL)
			if err != nil {
				s.logger.Warn("Failed to acquire schedule lock", zap.String("platform", string(p)), zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			release = func() {
				if err := s.locker.ReleaseLock(context.Background(), key, token); err != nil {
					s.logger.Warn("Failed to release schedule lock", zap.String("platform", string(p)), zap.Error(err))
				}
			}
		}

		req := SyncRequest{TriggeredBy: models.TriggeredByScheduled, User: "scheduler"}
		id, err := s.orchestrator.startBackground(ctx, string(p), req, func(*models.SessionSummary) { release() })
		if err != nil {
			release()
			s.logger.Error("Failed to start scheduled sync", zap.String("platform", string(p)), zap.Error(err))
			continue
		}
		s.logger.Info("Scheduled sync started", zap.String("platform", string(p)), zap.String("session_id", id))
		started = append(started, id)
	}
	return started, nil
}
