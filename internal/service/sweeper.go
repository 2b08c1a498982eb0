package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

// Sweeper fails sessions left running by a process that died mid-run
type Sweeper struct {
	sessions   SessionStore
	heartbeats HeartbeatChecker
	instanceID string
	watchdog   time.Duration
	now        func() time.Time
	logger     *zap.Logger
}

// NewSweeper creates a new Sweeper. heartbeats may be nil, in which case age
// alone decides.
func NewSweeper(sessions SessionStore, heartbeats HeartbeatChecker, instanceID string, watchdog time.Duration) *Sweeper {
	return &Sweeper{
		sessions:   sessions,
		heartbeats: heartbeats,
		instanceID: instanceID,
		watchdog:   watchdog,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     util.GetLogger(),
	}
}

// Sweep marks orphaned sessions failed and returns their ids. A running
// session is orphaned when it is older than the watchdog, is not owned by this
// process, and its owner no longer heartbeats.
func (s *Sweeper) Sweep(ctx context.Context) ([]string, error) {
	ctx, span := util.StartSpan(ctx, "Sweeper.Sweep")
	defer span.End()

	running, err := s.sessions.ListRunningSessions(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list running sessions: %w", err)
	}

	now := s.now()
	var swept []string
	for _, session := range running {
		if session.Owner == s.instanceID || now.Sub(session.StartedAt) < s.watchdog {
			continue
		}
		if s.heartbeats != nil && session.Owner != "" {
			alive, err := s.heartbeats.IsInstanceAlive(ctx, session.Owner)
			if err != nil {
				s.logger.Warn("Failed to check owner heartbeat", zap.String("owner", session.Owner), zap.Error(err))
				continue
			}
			if alive {
				continue
			}
		}

		ok, err := s.sessions.FinishSession(ctx, session.ID, models.SessionStatusFailed, models.ErrMsgOrphaned, now)
		if err != nil {
			return swept, fmt.Errorf("failed to fail orphaned session %s: %w", session.ID, err)
		}
		if !ok {
			continue
		}
		util.OrphanedSessionsTotal.Inc()
		util.SyncSessionsFinished.WithLabelValues(string(models.SessionStatusFailed)).Inc()
		s.logger.Warn("Orphaned session failed",
			zap.String("session_id", session.ID),
			zap.String("owner", session.Owner),
			zap.Time("started_at", session.StartedAt),
		)
		swept = append(swept, session.ID)
	}
	return swept, nil
}
