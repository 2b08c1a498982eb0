package service

import (
	"context"
	"errors"
	"time"

	"stock-sync/internal/models"
)

var (
	ErrUnknownPlatform   = errors.New("unknown platform")
	ErrPlatformDisabled  = errors.New("platform disabled")
	ErrSessionNotFound   = errors.New("session not found")
	ErrSessionNotRunning = errors.New("session not running")
	ErrSessionRunning    = errors.New("session still running")
	ErrNotConfigured     = errors.New("platform not configured")
)

// CatalogReader is the read-only view of the catalog subsystem
type CatalogReader interface {
	ListProducts(ctx context.Context) ([]models.Product, error)
	ListBarcodeAliases(ctx context.Context) ([]models.BarcodeAlias, error)
	LoadStockSnapshot(ctx context.Context) (*models.StockSnapshot, error)
}

// SessionStore persists sessions and their details
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.SyncSession) error
	SetSessionTotal(ctx context.Context, id string, total int) error
	AppendDetails(ctx context.Context, sessionID string, details []models.SyncDetail) error
	FinishSession(ctx context.Context, id string, status models.SessionStatus, errMsg string, finishedAt time.Time) (bool, error)
	GetSession(ctx context.Context, id string) (*models.SyncSession, error)
	GetSessionDetails(ctx context.Context, id string) ([]models.SyncDetail, error)
	ListSessions(ctx context.Context, platform string, limit int) ([]models.SyncSession, error)
	ListRunningSessions(ctx context.Context) ([]models.SyncSession, error)
	DeleteSession(ctx context.Context, id string) (bool, error)
	DeleteSessionsBefore(ctx context.Context, before time.Time) (int64, error)
}

// ConfigStore persists per-platform tunables
type ConfigStore interface {
	ListPlatformConfigs(ctx context.Context) ([]models.PlatformConfig, error)
	GetPlatformConfig(ctx context.Context, platform models.Platform) (*models.PlatformConfig, error)
	UpsertPlatformConfig(ctx context.Context, cfg *models.PlatformConfig) error
	TouchLastSync(ctx context.Context, fallback models.PlatformConfig, at time.Time) error
}

// Repository is everything the engine persists or reads
type Repository interface {
	CatalogReader
	SessionStore
	ConfigStore
}

// CancelSignal propagates cancel requests between processes
type CancelSignal interface {
	RequestCancel(ctx context.Context, sessionID string) error
	IsCancelRequested(ctx context.Context, sessionID string) (bool, error)
	ClearCancel(ctx context.Context, sessionID string) error
}

// HeartbeatChecker reports whether another engine instance is alive
type HeartbeatChecker interface {
	IsInstanceAlive(ctx context.Context, instanceID string) (bool, error)
}

// Locker hands out short-lived distributed locks
type Locker interface {
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error)
	ReleaseLock(ctx context.Context, key, token string) error
}

// EventPublisher emits sync lifecycle events
type EventPublisher interface {
	PublishSessionStarted(ctx context.Context, event *models.SyncSessionStartedEvent) error
	PublishBatchCompleted(ctx context.Context, event *models.SyncBatchCompletedEvent) error
	PublishSessionFinished(ctx context.Context, event *models.SyncSessionFinishedEvent) error
}
