// Package platform holds the marketplace adapters and the batch pipeline that
// drives them.
package platform

import (
	"context"
	"time"

	"stock-sync/internal/models"
)

// WorkItem is one barcode queued for one platform
type WorkItem struct {
	Barcode        string
	Quantity       int
	MerchantSKU    string
	ASIN           string
	WooProductID   int64
	HepsiburadaSKU string
}

// ItemResult is the outcome of sending one WorkItem
type ItemResult struct {
	Item         WorkItem
	Success      bool
	QuantitySent int
	ErrorMessage string
	RawResponse  string
	SentAt       time.Time
	ResponseAt   time.Time

	// Retryable marks a transient failure the pipeline may resend
	Retryable bool
}

// Settings are the batching knobs of an adapter
type Settings struct {
	BatchSize      int
	RateLimitDelay time.Duration
	MaxRetries     int
	Timeout        time.Duration
	BackoffBase    time.Duration
}

// WithConfig overlays a stored PlatformConfig on top of the adapter defaults
func (s Settings) WithConfig(cfg *models.PlatformConfig) Settings {
	if cfg == nil {
		return s
	}
	if cfg.BatchSize > 0 {
		s.BatchSize = cfg.BatchSize
	}
	if cfg.RateLimitDelaySeconds >= 0 {
		s.RateLimitDelay = time.Duration(cfg.RateLimitDelaySeconds * float64(time.Second))
	}
	if cfg.MaxRetries > 0 {
		s.MaxRetries = cfg.MaxRetries
	}
	return s
}

// DefaultSyncIntervalMinutes is the interval offered before an operator picks one
const DefaultSyncIntervalMinutes = 60

// DefaultConfig renders adapter defaults as a PlatformConfig row
func DefaultConfig(a Adapter) models.PlatformConfig {
	d := a.Defaults()
	return models.PlatformConfig{
		Platform:              a.Platform(),
		IsActive:              true,
		BatchSize:             d.BatchSize,
		RateLimitDelaySeconds: d.RateLimitDelay.Seconds(),
		MaxRetries:            d.MaxRetries,
		SyncIntervalMinutes:   DefaultSyncIntervalMinutes,
	}
}

// FallbackConfig is the row stored when a platform is first synced without a
// saved config. A zero interval means the scheduler leaves it alone.
func FallbackConfig(a Adapter) models.PlatformConfig {
	cfg := DefaultConfig(a)
	cfg.SyncIntervalMinutes = 0
	return cfg
}

// CatalogEntry is one listing as the marketplace reports it
type CatalogEntry struct {
	Barcode     string `json:"barcode,omitempty"`
	MerchantSKU string `json:"merchant_sku,omitempty"`
	ExternalID  string `json:"external_id,omitempty"`
	Stock       int    `json:"stock"`
}

// Adapter is the contract every marketplace implementation satisfies.
// SendBatch never fails as a whole: every input item gets exactly one result,
// in input order.
type Adapter interface {
	Platform() models.Platform
	Configured() bool
	Defaults() Settings
	SendBatch(ctx context.Context, items []WorkItem) []ItemResult
	FetchCatalog(ctx context.Context) ([]CatalogEntry, error)
}

// Preparer is implemented by adapters that resolve external ids before sending.
// Rejected items are recorded and never transmitted.
type Preparer interface {
	Prepare(ctx context.Context, items []WorkItem) (ready []WorkItem, rejected []ItemResult)
}

// RequiresExternalID reports whether the product index must supply a
// platform-specific id for p
func RequiresExternalID(p models.Platform) bool {
	return p == models.PlatformAmazon || p == models.PlatformWooCommerce
}

// Quantity clamps a requested quantity so negatives are never transmitted
func Quantity(q int) int {
	if q < 0 {
		return 0
	}
	return q
}

// Reject builds a failed result for an item that is never sent
func Reject(item WorkItem, message string) ItemResult {
	now := time.Now()
	return ItemResult{
		Item:         item,
		QuantitySent: Quantity(item.Quantity),
		ErrorMessage: message,
		SentAt:       now,
		ResponseAt:   now,
	}
}
