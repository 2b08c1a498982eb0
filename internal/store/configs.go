package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"stock-sync/internal/models"
)

// ListPlatformConfigs returns every stored platform config
func (s *Store) ListPlatformConfigs(ctx context.Context) ([]models.PlatformConfig, error) {
	var configs []models.PlatformConfig
	err := s.db.SelectContext(ctx, &configs, "SELECT * FROM platform_configs ORDER BY platform")
	if err != nil {
		return nil, fmt.Errorf("failed to list platform configs: %w", err)
	}
	return configs, nil
}

// GetPlatformConfig returns the config of one platform, or ErrNotFound
func (s *Store) GetPlatformConfig(ctx context.Context, platform models.Platform) (*models.PlatformConfig, error) {
	var cfg models.PlatformConfig
	err := s.db.GetContext(ctx, &cfg, "SELECT * FROM platform_configs WHERE platform = $1", platform)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cfg, nil
}

// UpsertPlatformConfig writes the tunables of a platform, keeping last_sync_at
func (s *Store) UpsertPlatformConfig(ctx context.Context, cfg *models.PlatformConfig) error {
	cfg.UpdatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO platform_configs (platform, is_active, batch_size, rate_limit_delay_seconds, max_retries, sync_interval_minutes, updated_at)
		VALUES (:platform, :is_active, :batch_size, :rate_limit_delay_seconds, :max_retries, :sync_interval_minutes, :updated_at)
		ON CONFLICT (platform) DO UPDATE SET
			is_active = EXCLUDED.is_active,
			batch_size = EXCLUDED.batch_size,
			rate_limit_delay_seconds = EXCLUDED.rate_limit_delay_seconds,
			max_retries = EXCLUDED.max_retries,
			sync_interval_minutes = EXCLUDED.sync_interval_minutes,
			updated_at = EXCLUDED.updated_at`,
		cfg)
	if err != nil {
		return fmt.Errorf("failed to upsert platform config: %w", err)
	}
	return nil
}

// TouchLastSync stamps last_sync_at, inserting fallback as the row when the
// platform has no stored config yet
func (s *Store) TouchLastSync(ctx context.Context, fallback models.PlatformConfig, at time.Time) error {
	fallback.LastSyncAt = &at
	fallback.UpdatedAt = time.Now().UTC()
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO platform_configs (platform, is_active, batch_size, rate_limit_delay_seconds, max_retries, sync_interval_minutes, last_sync_at, updated_at)
		VALUES (:platform, :is_active, :batch_size, :rate_limit_delay_seconds, :max_retries, :sync_interval_minutes, :last_sync_at, :updated_at)
		ON CONFLICT (platform) DO UPDATE SET last_sync_at = EXCLUDED.last_sync_at`,
		&fallback)
	if err != nil {
		return fmt.Errorf("failed to touch last sync: %w", err)
	}
	return nil
}
