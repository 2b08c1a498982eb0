package platform

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"stock-sync/internal/util"
)

// ProgressFunc is invoked after every batch with that batch's results and the
// running sent/total counters. Returning an error aborts the pipeline.
type ProgressFunc func(ctx context.Context, results []ItemResult, sent, total int) error

// PipelineOption customizes a Pipeline
type PipelineOption func(*Pipeline)

// WithStop wires a channel that is closed when the run should stop
func WithStop(stop <-chan struct{}) PipelineOption {
	return func(p *Pipeline) { p.stop = stop }
}

// WithStopCheck wires an extra cancellation check consulted before every batch
func WithStopCheck(check func(ctx context.Context) bool) PipelineOption {
	return func(p *Pipeline) { p.stopCheck = check }
}

// Pipeline pushes a work list through one adapter in batches
type Pipeline struct {
	adapter   Adapter
	settings  Settings
	stop      <-chan struct{}
	stopCheck func(ctx context.Context) bool
	logger    *zap.Logger
}

// NewPipeline creates a new Pipeline
func NewPipeline(adapter Adapter, settings Settings, opts ...PipelineOption) *Pipeline {
	if settings.BatchSize < 1 {
		settings.BatchSize = 1
	}
	if settings.MaxRetries < 0 {
		settings.MaxRetries = 0
	}
	if settings.BackoffBase <= 0 {
		settings.BackoffBase = time.Second
	}
	p := &Pipeline{
		adapter:  adapter,
		settings: settings,
		logger:   util.GetLogger().With(zap.String("platform", string(adapter.Platform()))),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Report is what SendAll hands back once the work list is drained or stopped
type Report struct {
	Sent      int
	Total     int
	Cancelled bool
}

// SendAll chops items into batches and sends them in order. Items the adapter
// marks transient are resent with exponential backoff, at most MaxRetries
// times. Between batches the pipeline waits RateLimitDelay; the stop signal is
// honoured before each batch and during that wait, never mid-request.
func (p *Pipeline) SendAll(ctx context.Context, items []WorkItem, progress ProgressFunc) (Report, error) {
	ctx, span := util.StartSpan(ctx, "Pipeline.SendAll",
		attribute.String("platform", string(p.adapter.Platform())),
		attribute.Int("items", len(items)),
	)
	defer span.End()

	report := Report{Total: len(items)}

	ready := items
	if prep, ok := p.adapter.(Preparer); ok {
		var rejected []ItemResult
		ready, rejected = prep.Prepare(ctx, items)
		if p.stopped(ctx) {
			report.Cancelled = true
			return report, nil
		}
		if len(rejected) > 0 {
			report.Sent += len(rejected)
			if err := progress(ctx, rejected, report.Sent, report.Total); err != nil {
				return report, err
			}
		}
	}

	for start := 0; start < len(ready); start += p.settings.BatchSize {
		if p.stopped(ctx) {
			report.Cancelled = true
			p.logger.Info("Pipeline stopped", zap.Int("sent", report.Sent), zap.Int("total", report.Total))
			return report, nil
		}

		end := start + p.settings.BatchSize
		if end > len(ready) {
			end = len(ready)
		}

		started := time.Now()
		results := p.sendWithRetry(ctx, ready[start:end])
		util.PlatformBatchLatency.WithLabelValues(string(p.adapter.Platform())).Observe(time.Since(started).Seconds())

		report.Sent += len(results)
		if err := progress(ctx, results, report.Sent, report.Total); err != nil {
			return report, err
		}

		if end < len(ready) && p.settings.RateLimitDelay > 0 {
			if !p.wait(ctx, p.settings.RateLimitDelay, p.stop) {
				report.Cancelled = true
				return report, nil
			}
		}
	}

	return report, nil
}

func (p *Pipeline) sendWithRetry(ctx context.Context, batch []WorkItem) []ItemResult {
	results := make([]ItemResult, len(batch))
	pending := make([]int, len(batch))
	for i := range batch {
		pending[i] = i
	}

	for attempt := 0; ; attempt++ {
		sub := make([]WorkItem, len(pending))
		for i, idx := range pending {
			sub[i] = batch[idx]
		}

		out := p.adapter.SendBatch(ctx, sub)

		var retry []int
		for i, idx := range pending {
			var r ItemResult
			if i < len(out) {
				r = out[i]
			} else {
				r = ItemResult{ErrorMessage: "adapter returned no result", Retryable: true}
			}
			r.Item = batch[idx]
			if r.QuantitySent < 0 {
				r.QuantitySent = 0
			}
			if r.Success {
				r.Retryable = false
				r.ErrorMessage = ""
			}
			results[idx] = r
			if r.Retryable {
				retry = append(retry, idx)
			}
		}

		if len(retry) == 0 || attempt >= p.settings.MaxRetries || ctx.Err() != nil {
			break
		}

		backoff := p.settings.BackoffBase << uint(attempt)
		util.PlatformRetriesTotal.WithLabelValues(string(p.adapter.Platform())).Inc()
		p.logger.Warn("Retrying transient failures",
			zap.Int("items", len(retry)),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
		)
		if !p.wait(ctx, backoff, nil) {
			break
		}
		pending = retry
	}

	return results
}

func (p *Pipeline) stopped(ctx context.Context) bool {
	if ctx.Err() != nil {
		return true
	}
	select {
	case <-p.stop:
		return true
	default:
	}
	return p.stopCheck != nil && p.stopCheck(ctx)
}

// wait sleeps for d and reports false if ctx ended or stop fired first
func (p *Pipeline) wait(ctx context.Context, d time.Duration, stop <-chan struct{}) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-stop:
		return false
	case <-ctx.Done():
		return false
	}
}
