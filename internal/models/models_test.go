package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform(" Trendyol ")
	require.NoError(t, err)
	assert.Equal(t, PlatformTrendyol, p)

	_, err = ParsePlatform("ebay")
	assert.Error(t, err)

	_, err = ParsePlatform(PlatformAll)
	assert.Error(t, err)
}

func TestPlatformConfigValidate(t *testing.T) {
	valid := PlatformConfig{
		Platform:              PlatformIdefix,
		IsActive:              true,
		BatchSize:             50,
		RateLimitDelaySeconds: 0.3,
		MaxRetries:            3,
		SyncIntervalMinutes:   5,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		field  string
		mutate func(c *PlatformConfig)
	}{
		{"platform", func(c *PlatformConfig) { c.Platform = "ebay" }},
		{"batch_size", func(c *PlatformConfig) { c.BatchSize = 0 }},
		{"batch_size", func(c *PlatformConfig) { c.BatchSize = 501 }},
		{"rate_limit_delay_seconds", func(c *PlatformConfig) { c.RateLimitDelaySeconds = 5.5 }},
		{"max_retries", func(c *PlatformConfig) { c.MaxRetries = 11 }},
		{"sync_interval_minutes", func(c *PlatformConfig) { c.SyncIntervalMinutes = 4 }},
	}

	for _, tt := range tests {
		cfg := valid
		tt.mutate(&cfg)
		err := cfg.Validate()
		var verr *ValidationError
		require.ErrorAs(t, err, &verr, tt.field)
		assert.Equal(t, tt.field, verr.Field)
	}
}

func TestSessionStatusIsTerminal(t *testing.T) {
	assert.False(t, SessionStatusRunning.IsTerminal())
	assert.True(t, SessionStatusCompleted.IsTerminal())
	assert.True(t, SessionStatusFailed.IsTerminal())
	assert.True(t, SessionStatusCancelled.IsTerminal())
}

func TestSummarizeDetails(t *testing.T) {
	summary := SummarizeDetails([]SyncDetail{
		{Platform: PlatformTrendyol, Status: DetailStatusSuccess},
		{Platform: PlatformTrendyol, Status: DetailStatusError},
		{Platform: PlatformAmazon, Status: DetailStatusSuccess},
	})

	require.Len(t, summary, 2)
	assert.Equal(t, 2, summary[PlatformTrendyol].TotalItems)
	assert.Equal(t, 1, summary[PlatformTrendyol].ErrorCount)
	assert.Equal(t, 1, summary[PlatformAmazon].SuccessCount)

	assert.Equal(t, float64(0), SuccessRate(0, 0))
	assert.Equal(t, float64(75), SuccessRate(3, 4))
}
