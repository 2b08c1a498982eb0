package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"stock-sync/internal/models"
	"stock-sync/internal/store"
	"stock-sync/internal/util"
)

// SessionView is a session with its details and the summary derived from them
type SessionView struct {
	Session *models.SyncSession    `json:"session"`
	Summary *models.SessionSummary `json:"summary"`
	Details []models.SyncDetail    `json:"details"`
}

// GetSession loads a session with every detail row
func (o *Orchestrator) GetSession(ctx context.Context, id string) (*SessionView, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.GetSession")
	defer span.End()

	session, err := o.repo.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	details, err := o.repo.GetSessionDetails(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get session details: %w", err)
	}

	return &SessionView{
		Session: session,
		Summary: Summarize(session, details),
		Details: details,
	}, nil
}

// Summarize rebuilds a summary from persisted rows
func Summarize(session *models.SyncSession, details []models.SyncDetail) *models.SessionSummary {
	summary := &models.SessionSummary{
		SessionID:       session.ID,
		Status:          session.Status,
		TotalItems:      session.TotalItems,
		SuccessCount:    session.SuccessCount,
		ErrorCount:      session.ErrorCount,
		SuccessRate:     models.SuccessRate(session.SuccessCount, session.TotalItems),
		DurationSeconds: session.DurationSeconds,
		PerPlatform:     models.SummarizeDetails(details),
	}
	for _, d := range details {
		if d.Status == models.DetailStatusError && isDataGap(d.ErrorMessage) {
			summary.Skipped++
			summary.PerPlatform[d.Platform].Skipped++
		}
	}
	return summary
}

// ListSessions returns recent sessions, newest first. platform may be empty,
// "all" or a platform name.
func (o *Orchestrator) ListSessions(ctx context.Context, platform string, limit int) ([]models.SyncSession, error) {
	if platform != "" && platform != models.PlatformAll {
		p, err := models.ParsePlatform(platform)
		if err != nil {
			return nil, ErrUnknownPlatform
		}
		platform = string(p)
	}
	if limit <= 0 {
		limit = 20
	}

	sessions, err := o.repo.ListSessions(ctx, platform, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return sessions, nil
}

// DeleteSession removes a finished session with its details
func (o *Orchestrator) DeleteSession(ctx context.Context, id string) error {
	session, err := o.repo.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to get session: %w", err)
	}
	if session.Status == models.SessionStatusRunning {
		return ErrSessionRunning
	}

	deleted, err := o.repo.DeleteSession(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if !deleted {
		return ErrSessionNotFound
	}
	o.logger.Info("Session deleted", zap.String("session_id", id))
	return nil
}

// DeleteSessionsBefore prunes finished sessions started before the cutoff
func (o *Orchestrator) DeleteSessionsBefore(ctx context.Context, before time.Time) (int64, error) {
	n, err := o.repo.DeleteSessionsBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	o.logger.Info("Sessions pruned", zap.Time("before", before), zap.Int64("deleted", n))
	return n, nil
}
