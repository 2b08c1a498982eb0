package models

import (
	"fmt"
	"strings"
	"time"
)

// Platform is one of the marketplaces the engine pushes stock to
type Platform string

const (
	PlatformTrendyol    Platform = "trendyol"
	PlatformIdefix      Platform = "idefix"
	PlatformAmazon      Platform = "amazon"
	PlatformWooCommerce Platform = "woocommerce"
	PlatformHepsiburada Platform = "hepsiburada"
)

// PlatformAll is the session platform value for multi-platform runs
const PlatformAll = "all"

// Platforms lists every supported marketplace in a stable order
var Platforms = []Platform{
	PlatformTrendyol,
	PlatformIdefix,
	PlatformAmazon,
	PlatformWooCommerce,
	PlatformHepsiburada,
}

// Valid reports whether p belongs to the closed platform set
func (p Platform) Valid() bool {
	for _, known := range Platforms {
		if p == known {
			return true
		}
	}
	return false
}

// ParsePlatform converts user input into a Platform
func ParsePlatform(s string) (Platform, error) {
	p := Platform(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown platform: %q", s)
	}
	return p, nil
}

// SessionStatus is the lifecycle state of a sync session
type SessionStatus string

const (
	SessionStatusRunning   SessionStatus = "running"
	SessionStatusCompleted SessionStatus = "completed"
	SessionStatusFailed    SessionStatus = "failed"
	SessionStatusCancelled SessionStatus = "cancelled"
)

// IsTerminal reports whether no further transition is allowed
func (s SessionStatus) IsTerminal() bool {
	return s == SessionStatusCompleted || s == SessionStatusFailed || s == SessionStatusCancelled
}

// DetailStatus is the outcome of one barcode on one platform
type DetailStatus string

const (
	DetailStatusSuccess DetailStatus = "success"
	DetailStatusError   DetailStatus = "error"
)

// TriggeredBy records what started a session
type TriggeredBy string

const (
	TriggeredByManual    TriggeredBy = "manual"
	TriggeredByScheduled TriggeredBy = "scheduled"
	TriggeredByAPI       TriggeredBy = "api"
)

// Valid reports whether t is a known trigger source
func (t TriggeredBy) Valid() bool {
	return t == TriggeredByManual || t == TriggeredByScheduled || t == TriggeredByAPI
}

// Error messages recorded on sync details and sessions
const (
	ErrMsgNotConfigured     = "platform_not_configured"
	ErrMsgMissingExternalID = "missing_external_id"
	ErrMsgUnmatchedSKU      = "unmatched_sku"
	ErrMsgOrphaned          = "orphaned"
	ErrMsgCancelled         = "cancelled"
)

// Product is the read-only catalog view the engine syncs from
type Product struct {
	Barcode        string     `db:"barcode" json:"barcode"`
	Name           string     `db:"name" json:"name"`
	Platforms      []Platform `db:"-" json:"platforms"`
	ASIN           string     `db:"asin" json:"asin,omitempty"`
	MerchantSKU    string     `db:"merchant_sku" json:"merchant_sku,omitempty"`
	WooProductID   int64      `db:"woo_product_id" json:"woo_product_id,omitempty"`
	HepsiburadaSKU string     `db:"hepsiburada_sku" json:"hepsiburada_sku,omitempty"`
}

// ListedOn reports whether the product is published on p
func (p *Product) ListedOn(platform Platform) bool {
	for _, listed := range p.Platforms {
		if listed == platform {
			return true
		}
	}
	return false
}

// BarcodeAlias points an alternate barcode at its canonical product
type BarcodeAlias struct {
	AliasBarcode string `db:"alias_barcode" json:"alias_barcode"`
	MainBarcode  string `db:"main_barcode" json:"main_barcode"`
}

// CentralStock is the raw on-hand count for a barcode
type CentralStock struct {
	Barcode string `db:"barcode" json:"barcode"`
	Qty     int    `db:"qty" json:"qty"`
}

// StockSnapshot is one consistent read of central stock and reservations
type StockSnapshot struct {
	Central  map[string]int
	Reserved map[string]int
	TakenAt  time.Time
}

// PlatformConfig holds per-marketplace tunables overriding adapter defaults
type PlatformConfig struct {
	Platform              Platform   `db:"platform" json:"platform"`
	IsActive              bool       `db:"is_active" json:"is_active"`
	BatchSize             int        `db:"batch_size" json:"batch_size"`
	RateLimitDelaySeconds float64    `db:"rate_limit_delay_seconds" json:"rate_limit_delay_seconds"`
	MaxRetries            int        `db:"max_retries" json:"max_retries"`
	SyncIntervalMinutes   int        `db:"sync_interval_minutes" json:"sync_interval_minutes"`
	LastSyncAt            *time.Time `db:"last_sync_at" json:"last_sync_at,omitempty"`
	UpdatedAt             time.Time  `db:"updated_at" json:"updated_at"`
}

// Validate enforces the ranges accepted at the API boundary
func (c *PlatformConfig) Validate() error {
	if !c.Platform.Valid() {
		return &ValidationError{Field: "platform", Reason: "unknown platform", Value: c.Platform}
	}
	if c.BatchSize < 1 || c.BatchSize > 500 {
		return &ValidationError{Field: "batch_size", Reason: "must be between 1 and 500", Value: c.BatchSize}
	}
	if c.RateLimitDelaySeconds < 0 || c.RateLimitDelaySeconds > 5 {
		return &ValidationError{Field: "rate_limit_delay_seconds", Reason: "must be between 0 and 5", Value: c.RateLimitDelaySeconds}
	}
	if c.MaxRetries < 1 || c.MaxRetries > 10 {
		return &ValidationError{Field: "max_retries", Reason: "must be between 1 and 10", Value: c.MaxRetries}
	}
	if c.SyncIntervalMinutes < 5 {
		return &ValidationError{Field: "sync_interval_minutes", Reason: "must be at least 5", Value: c.SyncIntervalMinutes}
	}
	return nil
}

// ValidationError is returned when a field is out of range
type ValidationError struct {
	Field  string
	Reason string
	Value  interface{}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s (got %v)", e.Field, e.Reason, e.Value)
}

// SyncSession is one orchestrator run
type SyncSession struct {
	ID              string        `db:"id" json:"session_id"`
	Platform        string        `db:"platform" json:"platform"`
	Status          SessionStatus `db:"status" json:"status"`
	TotalItems      int           `db:"total_items" json:"total_items"`
	SuccessCount    int           `db:"success_count" json:"success_count"`
	ErrorCount      int           `db:"error_count" json:"error_count"`
	StartedAt       time.Time     `db:"started_at" json:"started_at"`
	FinishedAt      *time.Time    `db:"finished_at" json:"finished_at,omitempty"`
	DurationSeconds float64       `db:"duration_seconds" json:"duration_seconds"`
	TriggeredBy     TriggeredBy   `db:"triggered_by" json:"triggered_by"`
	TriggeredByUser string        `db:"triggered_by_user" json:"triggered_by_user,omitempty"`
	ErrorMessage    string        `db:"error_message" json:"error_message,omitempty"`
	Owner           string        `db:"owner" json:"owner"`
}

// SyncDetail is the outcome of one barcode on one platform within a session
type SyncDetail struct {
	ID           int64        `db:"id" json:"id"`
	SessionID    string       `db:"session_id" json:"session_id"`
	Platform     Platform     `db:"platform" json:"platform"`
	Barcode      string       `db:"barcode" json:"barcode"`
	Status       DetailStatus `db:"status" json:"status"`
	QuantitySent int          `db:"quantity_sent" json:"quantity_sent"`
	ErrorMessage string       `db:"error_message" json:"error_message,omitempty"`
	RawResponse  string       `db:"raw_response" json:"raw_response,omitempty"`
	SentAt       time.Time    `db:"sent_at" json:"sent_at"`
	ResponseAt   time.Time    `db:"response_at" json:"response_at"`
}

// PlatformSummary aggregates one platform's share of a session
type PlatformSummary struct {
	Platform     Platform `json:"platform"`
	TotalItems   int      `json:"total_items"`
	SuccessCount int      `json:"success_count"`
	ErrorCount   int      `json:"error_count"`
	Skipped      int      `json:"skipped"`
	Error        string   `json:"error,omitempty"`
}

// SessionSummary is what a finished run reports back to its caller
type SessionSummary struct {
	SessionID        string                        `json:"session_id"`
	Status           SessionStatus                 `json:"status"`
	TotalItems       int                           `json:"total_items"`
	SuccessCount     int                           `json:"success_count"`
	ErrorCount       int                           `json:"error_count"`
	SuccessRate      float64                       `json:"success_rate"`
	DurationSeconds  float64                       `json:"duration"`
	AdjustedNegative int                           `json:"adjusted_negative"`
	Skipped          int                           `json:"skipped"`
	PerPlatform      map[Platform]*PlatformSummary `json:"per_platform"`
}

// SummarizeDetails groups details by platform
func SummarizeDetails(details []SyncDetail) map[Platform]*PlatformSummary {
	out := make(map[Platform]*PlatformSummary)
	for _, d := range details {
		ps, ok := out[d.Platform]
		if !ok {
			ps = &PlatformSummary{Platform: d.Platform}
			out[d.Platform] = ps
		}
		ps.TotalItems++
		if d.Status == DetailStatusSuccess {
			ps.SuccessCount++
		} else {
			ps.ErrorCount++
		}
	}
	return out
}

// SuccessRate returns the percentage of successful items
func SuccessRate(success, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(success) * 100 / float64(total)
}
