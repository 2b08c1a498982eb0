package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"stock-sync/internal/models"
	"stock-sync/internal/platform"
	"stock-sync/internal/store"
	"stock-sync/internal/util"
)

// PlatformStatus is the operator view of one marketplace
type PlatformStatus struct {
	Platform   models.Platform `json:"platform"`
	Configured bool            `json:"configured"`
	Active     bool            `json:"active"`
	LastSyncAt *time.Time      `json:"last_sync_at,omitempty"`
	Running    bool            `json:"running"`
}

// PlatformStatuses reports every supported platform in a stable order
func (o *Orchestrator) PlatformStatuses(ctx context.Context) ([]PlatformStatus, error) {
	stored, err := o.repo.ListPlatformConfigs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load platform configs: %w", err)
	}
	configs := make(map[models.Platform]models.PlatformConfig, len(stored))
	for _, cfg := range stored {
		configs[cfg.Platform] = cfg
	}

	statuses := make([]PlatformStatus, 0, len(models.Platforms))
	for _, p := range models.Platforms {
		status := PlatformStatus{Platform: p, Active: true, Running: o.IsPlatformBusy(p)}
		if adapter, ok := o.adapters[p]; ok {
			status.Configured = adapter.Configured()
		}
		if cfg, ok := configs[p]; ok {
			status.Active = cfg.IsActive
			status.LastSyncAt = cfg.LastSyncAt
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// GetConfig returns the stored config, or the adapter defaults when none is stored
func (o *Orchestrator) GetConfig(ctx context.Context, p models.Platform) (*models.PlatformConfig, error) {
	if !p.Valid() {
		return nil, ErrUnknownPlatform
	}

	cfg, err := o.repo.GetPlatformConfig(ctx, p)
	if err == nil {
		return cfg, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("failed to get platform config: %w", err)
	}

	adapter, ok := o.adapters[p]
	if !ok {
		return nil, ErrNotConfigured
	}
	defaults := platform.DefaultConfig(adapter)
	return &defaults, nil
}

// ConfigUpdate is a partial PlatformConfig. Nil fields keep their current value.
type ConfigUpdate struct {
	IsActive              *bool    `json:"is_active"`
	BatchSize             *int     `json:"batch_size"`
	RateLimitDelaySeconds *float64 `json:"rate_limit_delay_seconds"`
	MaxRetries            *int     `json:"max_retries"`
	SyncIntervalMinutes   *int     `json:"sync_interval_minutes"`
}

func (u ConfigUpdate) apply(cfg *models.PlatformConfig) {
	if u.IsActive != nil {
		cfg.IsActive = *u.IsActive
	}
	if u.BatchSize != nil {
		cfg.BatchSize = *u.BatchSize
	}
	if u.RateLimitDelaySeconds != nil {
		cfg.RateLimitDelaySeconds = *u.RateLimitDelaySeconds
	}
	if u.MaxRetries != nil {
		cfg.MaxRetries = *u.MaxRetries
	}
	if u.SyncIntervalMinutes != nil {
		cfg.SyncIntervalMinutes = *u.SyncIntervalMinutes
	}
}

// PutConfig merges update onto the current config, validates and stores it.
// Saving a config opts the platform into scheduling: a row left unscheduled
// by a manual sync gets the default interval unless one is given.
func (o *Orchestrator) PutConfig(ctx context.Context, p models.Platform, update ConfigUpdate) (*models.PlatformConfig, error) {
	current, err := o.GetConfig(ctx, p)
	if err != nil {
		return nil, err
	}
	cfg := *current
	update.apply(&cfg)
	if update.SyncIntervalMinutes == nil && cfg.SyncIntervalMinutes == 0 {
		cfg.SyncIntervalMinutes = platform.DefaultSyncIntervalMinutes
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = o.now()
	if err := o.repo.UpsertPlatformConfig(ctx, &cfg); err != nil {
		return nil, fmt.Errorf("failed to save platform config: %w", err)
	}

	o.logger.Info("Platform config updated",
		zap.String("platform", string(cfg.Platform)),
		zap.Bool("active", cfg.IsActive),
		zap.Int("batch_size", cfg.BatchSize),
	)
	return o.repo.GetPlatformConfig(ctx, cfg.Platform)
}

// CatalogReport compares a marketplace catalog with the local product set
type CatalogReport struct {
	Platform          models.Platform         `json:"platform"`
	Entries           []platform.CatalogEntry `json:"entries"`
	MissingExternalID []string                `json:"missing_external_id"`
	NotListed         []string                `json:"not_listed"`
}

// ReconcileCatalog fetches the marketplace catalog and lists local products
// that cannot be synced to it: those without the required external id and
// those the marketplace does not report
func (o *Orchestrator) ReconcileCatalog(ctx context.Context, p models.Platform) (*CatalogReport, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.ReconcileCatalog", attribute.String("platform", string(p)))
	defer span.End()

	if !p.Valid() {
		return nil, ErrUnknownPlatform
	}
	adapter, ok := o.adapters[p]
	if !ok || !adapter.Configured() {
		return nil, ErrNotConfigured
	}

	entries, err := adapter.FetchCatalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s catalog: %w", p, err)
	}

	products, err := o.repo.ListProducts(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list products: %w", err)
	}
	aliases, err := o.repo.ListBarcodeAliases(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list barcode aliases: %w", err)
	}

	n := NewNormalizer(aliases, o.padEAN13)
	remote := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Barcode != "" {
			remote[n.Normalize(e.Barcode)] = true
		}
	}

	report := &CatalogReport{Platform: p, Entries: entries}
	ix := NewProductIndex(products, n)
	for _, product := range ix.ProductsOn(p) {
		if _, ok := WorkItem(p, product, 0); !ok {
			report.MissingExternalID = append(report.MissingExternalID, product.Barcode)
		}
		if len(remote) > 0 && !remote[product.Barcode] {
			report.NotListed = append(report.NotListed, product.Barcode)
		}
	}

	o.logger.Info("Catalog reconciled",
		zap.String("platform", string(p)),
		zap.Int("entries", len(entries)),
		zap.Int("missing_external_id", len(report.MissingExternalID)),
		zap.Int("not_listed", len(report.NotListed)),
	)
	return report, nil
}
