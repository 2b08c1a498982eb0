package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"stock-sync/internal/models"
	"stock-sync/internal/platform"
	"stock-sync/internal/store"
	"stock-sync/internal/util"
)

// Options carries the optional collaborators of an Orchestrator
type Options struct {
	InstanceID string
	PadEAN13   bool
	Cancels    CancelSignal
	Events     EventPublisher

	// BackoffBase overrides the adapters' retry backoff unit when non-zero
	BackoffBase time.Duration
}

// SyncRequest describes what to sync and who asked for it
type SyncRequest struct {
	Platforms   []models.Platform
	Barcodes    []string
	TriggeredBy models.TriggeredBy
	User        string
}

// Orchestrator runs sync sessions: one pipeline per target platform, in
// parallel, with results persisted after every batch
type Orchestrator struct {
	repo        Repository
	adapters    map[models.Platform]platform.Adapter
	cancels     CancelSignal
	events      EventPublisher
	instanceID  string
	padEAN13    bool
	backoffBase time.Duration
	now         func() time.Time
	logger      *zap.Logger

	mu   sync.Mutex
	runs map[string]*run
	busy map[models.Platform]int
	wg   sync.WaitGroup
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(repo Repository, adapters []platform.Adapter, opts Options) *Orchestrator {
	if opts.InstanceID == "" {
		opts.InstanceID = uuid.New().String()
	}
	return &Orchestrator{
		repo:        repo,
		adapters:    platform.Index(adapters),
		cancels:     opts.Cancels,
		events:      opts.Events,
		instanceID:  opts.InstanceID,
		padEAN13:    opts.PadEAN13,
		backoffBase: opts.BackoffBase,
		now:         func() time.Time { return time.Now().UTC() },
		logger:      util.GetLogger(),
		runs:        make(map[string]*run),
		busy:        make(map[models.Platform]int),
	}
}

// InstanceID identifies this process as session owner
func (o *Orchestrator) InstanceID() string {
	return o.instanceID
}

type run struct {
	session   models.SyncSession
	targets   []models.Platform
	configs   map[models.Platform]*models.PlatformConfig
	stop      chan struct{}
	stopOnce  sync.Once
	cancelled atomic.Bool

	// closing is set under Orchestrator.mu once the final status is decided
	closing bool
}

func (r *run) requestStop() {
	r.cancelled.Store(true)
	r.stopOnce.Do(func() { close(r.stop) })
}

func (r *run) stopped() bool {
	return r.cancelled.Load()
}

// SyncAll syncs every active platform, or the active subset of req.Platforms
func (o *Orchestrator) SyncAll(ctx context.Context, req SyncRequest) (*models.SessionSummary, error) {
	r, err := o.begin(ctx, models.PlatformAll, req)
	if err != nil {
		return nil, err
	}
	return o.execute(context.WithoutCancel(ctx), r, req)
}

// SyncPlatform syncs a single platform. A disabled platform is refused with
// ErrPlatformDisabled.
func (o *Orchestrator) SyncPlatform(ctx context.Context, p models.Platform, req SyncRequest) (*models.SessionSummary, error) {
	r, err := o.begin(ctx, string(p), req)
	if err != nil {
		return nil, err
	}
	return o.execute(context.WithoutCancel(ctx), r, req)
}

// SyncBackground opens the session and returns its id while the run goes on.
// target is a platform name or "all".
func (o *Orchestrator) SyncBackground(ctx context.Context, target string, req SyncRequest) (string, error) {
	return o.startBackground(ctx, target, req, nil)
}

func (o *Orchestrator) startBackground(ctx context.Context, target string, req SyncRequest, done func(*models.SessionSummary)) (string, error) {
	label := models.PlatformAll
	if target != "" && target != models.PlatformAll {
		p, err := models.ParsePlatform(target)
		if err != nil {
			return "", ErrUnknownPlatform
		}
		label = string(p)
	}

	r, err := o.begin(ctx, label, req)
	if err != nil {
		return "", err
	}

	bg := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		summary, err := o.execute(bg, r, req)
		if err != nil {
			o.logger.Error("Background sync failed", zap.String("session_id", r.session.ID), zap.Error(err))
		}
		if done != nil {
			done(summary)
		}
	}()
	return r.session.ID, nil
}

// Wait blocks until every background run has finished
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

// Cancel asks a running session to stop before its next batch. Sessions run
// by another process are reached through the shared cancel signal.
func (o *Orchestrator) Cancel(ctx context.Context, id string) (bool, error) {
	o.mu.Lock()
	r, local := o.runs[id]
	closing := local && r.closing
	if local && !closing {
		r.requestStop()
	}
	o.mu.Unlock()

	if closing {
		return false, nil
	}
	if local {
		if o.cancels != nil {
			if err := o.cancels.RequestCancel(ctx, id); err != nil {
				o.logger.Warn("Failed to publish cancel flag", zap.String("session_id", id), zap.Error(err))
			}
		}
		o.logger.Info("Cancel requested", zap.String("session_id", id))
		return true, nil
	}

	session, err := o.repo.GetSession(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return false, ErrSessionNotFound
	}
	if err != nil {
		return false, fmt.Errorf("failed to get session: %w", err)
	}
	if session.Status != models.SessionStatusRunning || o.cancels == nil {
		return false, nil
	}
	if err := o.cancels.RequestCancel(ctx, id); err != nil {
		return false, fmt.Errorf("failed to request cancel: %w", err)
	}
	o.logger.Info("Cancel requested for remote session", zap.String("session_id", id), zap.String("owner", session.Owner))
	return true, nil
}

// IsPlatformBusy reports whether a local run currently targets p
func (o *Orchestrator) IsPlatformBusy(p models.Platform) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.busy[p] > 0
}

// resolveTargets picks the platforms a session will run. label is either a
// single platform or "all" with an optional filter.
func (o *Orchestrator) resolveTargets(ctx context.Context, label string, filter []models.Platform) ([]models.Platform, map[models.Platform]*models.PlatformConfig, error) {
	stored, err := o.repo.ListPlatformConfigs(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load platform configs: %w", err)
	}
	configs := make(map[models.Platform]*models.PlatformConfig, len(stored))
	for i := range stored {
		configs[stored[i].Platform] = &stored[i]
	}
	active := func(p models.Platform) bool {
		cfg, ok := configs[p]
		return !ok || cfg.IsActive
	}

	if label != models.PlatformAll {
		p := models.Platform(label)
		if !p.Valid() {
			return nil, nil, ErrUnknownPlatform
		}
		if !active(p) {
			return nil, nil, fmt.Errorf("%w: %s", ErrPlatformDisabled, p)
		}
		return []models.Platform{p}, configs, nil
	}

	candidates := filter
	if len(candidates) == 0 {
		candidates = models.Platforms
	}
	var targets []models.Platform
	seen := make(map[models.Platform]bool)
	for _, p := range candidates {
		if !p.Valid() {
			return nil, nil, ErrUnknownPlatform
		}
		if seen[p] || !active(p) {
			continue
		}
		seen[p] = true
		targets = append(targets, p)
	}
	return targets, configs, nil
}

// begin resolves targets and opens the running session
func (o *Orchestrator) begin(ctx context.Context, label string, req SyncRequest) (*run, error) {
	if req.TriggeredBy == "" {
		req.TriggeredBy = models.TriggeredByManual
	}
	if !req.TriggeredBy.Valid() {
		return nil, &models.ValidationError{Field: "triggered_by", Reason: "unknown trigger", Value: req.TriggeredBy}
	}

	targets, configs, err := o.resolveTargets(ctx, label, req.Platforms)
	if err != nil {
		return nil, err
	}

	r := &run{
		session: models.SyncSession{
			ID:              uuid.New().String(),
			Platform:        label,
			Status:          models.SessionStatusRunning,
			StartedAt:       o.now(),
			TriggeredBy:     req.TriggeredBy,
			TriggeredByUser: req.User,
			Owner:           o.instanceID,
		},
		targets: targets,
		configs: configs,
		stop:    make(chan struct{}),
	}
	if err := o.repo.CreateSession(ctx, &r.session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	o.mu.Lock()
	o.runs[r.session.ID] = r
	for _, p := range targets {
		o.busy[p]++
	}
	o.mu.Unlock()

	util.SyncSessionsStarted.WithLabelValues(label, string(req.TriggeredBy)).Inc()
	o.logger.Info("Sync session started",
		zap.String("session_id", r.session.ID),
		zap.String("platform", label),
		zap.Int("targets", len(targets)),
		zap.String("triggered_by", string(req.TriggeredBy)),
	)

	if o.events != nil {
		event := &models.SyncSessionStartedEvent{
			BaseEvent:   models.NewBaseEvent(models.EventTypeSyncSessionStarted),
			SessionID:   r.session.ID,
			Platform:    label,
			TriggeredBy: req.TriggeredBy,
			User:        req.User,
		}
		if err := o.events.PublishSessionStarted(ctx, event); err != nil {
			o.logger.Warn("Failed to publish session started", zap.Error(err))
		}
	}
	return r, nil
}

// markClosing stops Cancel from accepting the run; stopped() is final after it
func (o *Orchestrator) markClosing(r *run) {
	o.mu.Lock()
	r.closing = true
	o.mu.Unlock()
}

func (o *Orchestrator) release(r *run) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.runs, r.session.ID)
	for _, p := range r.targets {
		if o.busy[p]--; o.busy[p] <= 0 {
			delete(o.busy, p)
		}
	}
}

// platformWork is the per-platform share of a session
type platformWork struct {
	platform  models.Platform
	adapter   platform.Adapter
	settings  platform.Settings
	fallback  models.PlatformConfig
	items     []platform.WorkItem
	rejected  []platform.ItemResult
	summary   *models.PlatformSummary
	attempted bool
}

type syncPlan struct {
	work             []*platformWork
	total            int
	adjustedNegative int
}

// plan reads the catalog and stock snapshot once and builds every
// platform's work list
func (o *Orchestrator) plan(ctx context.Context, r *run, barcodes []string) (*syncPlan, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.plan")
	defer span.End()

	products, err := o.repo.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	aliases, err := o.repo.ListBarcodeAliases(ctx)
	if err != nil {
		return nil, err
	}
	snap, err := o.repo.LoadStockSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	n := NewNormalizer(aliases, o.padEAN13)
	ix := NewProductIndex(products, n)
	calc := NewStockCalculator(snap, n)

	var selected []*models.Product
	if len(barcodes) > 0 {
		seen := make(map[string]bool, len(barcodes))
		for _, raw := range barcodes {
			canonical := n.Normalize(raw)
			if canonical == "" || seen[canonical] {
				continue
			}
			seen[canonical] = true
			if p, ok := ix.Lookup(canonical); ok {
				selected = append(selected, p)
			} else {
				o.logger.Debug("Barcode not in catalog", zap.String("barcode", raw), zap.String("canonical", canonical))
			}
		}
	}

	plan := &syncPlan{}
	for _, target := range r.targets {
		adapter := o.adapters[target]
		pw := &platformWork{
			platform: target,
			adapter:  adapter,
			summary:  &models.PlatformSummary{Platform: target},
		}
		configured := adapter != nil && adapter.Configured()
		if adapter != nil {
			pw.settings = adapter.Defaults().WithConfig(r.configs[target])
			if o.backoffBase > 0 {
				pw.settings.BackoffBase = o.backoffBase
			}
			pw.fallback = platform.FallbackConfig(adapter)
		}
		if !configured {
			pw.summary.Error = models.ErrMsgNotConfigured
		}

		candidates := ix.ProductsOn(target)
		if len(barcodes) > 0 {
			var listed []*models.Product
			for _, p := range selected {
				if p.ListedOn(target) {
					listed = append(listed, p)
				}
			}
			candidates = listed
		}

		for _, p := range candidates {
			item, hasIDs := WorkItem(target, p, calc.Available(p.Barcode))
			switch {
			case !configured:
				pw.rejected = append(pw.rejected, platform.Reject(item, models.ErrMsgNotConfigured))
			case !hasIDs:
				pw.rejected = append(pw.rejected, platform.Reject(item, models.ErrMsgMissingExternalID))
			default:
				pw.items = append(pw.items, item)
			}
		}

		pw.summary.TotalItems = len(pw.items) + len(pw.rejected)
		plan.total += pw.summary.TotalItems
		plan.work = append(plan.work, pw)
	}

	plan.adjustedNegative = calc.AdjustedNegative()
	if plan.adjustedNegative > 0 {
		util.StockAdjustedNegativeTotal.Add(float64(plan.adjustedNegative))
	}
	return plan, nil
}

// execute drives a session from planning to its terminal transition
func (o *Orchestrator) execute(ctx context.Context, r *run, req SyncRequest) (*models.SessionSummary, error) {
	ctx, span := util.StartSpan(ctx, "Orchestrator.execute",
		attribute.String("session_id", r.session.ID),
		attribute.String("platform", r.session.Platform),
	)
	defer span.End()
	defer o.release(r)

	summary := &models.SessionSummary{
		SessionID:   r.session.ID,
		PerPlatform: make(map[models.Platform]*models.PlatformSummary),
	}

	plan, err := o.plan(ctx, r, req.Barcodes)
	if err != nil {
		o.markClosing(r)
		err = fmt.Errorf("failed to load catalog: %w", err)
		o.finish(ctx, r, summary, nil, models.SessionStatusFailed, "store_error: "+err.Error())
		return summary, err
	}
	summary.TotalItems = plan.total
	summary.AdjustedNegative = plan.adjustedNegative
	for _, pw := range plan.work {
		summary.PerPlatform[pw.platform] = pw.summary
	}

	if err := o.repo.SetSessionTotal(ctx, r.session.ID, plan.total); err != nil {
		o.markClosing(r)
		err = fmt.Errorf("failed to set session total: %w", err)
		o.finish(ctx, r, summary, plan, models.SessionStatusFailed, "store_error: "+err.Error())
		return summary, err
	}

	var g errgroup.Group
	for _, pw := range plan.work {
		pw := pw
		g.Go(func() error {
			return o.runPlatform(ctx, r, pw)
		})
	}
	runErr := g.Wait()
	o.markClosing(r)

	status, reason := models.SessionStatusCompleted, ""
	produced := 0
	for _, pw := range plan.work {
		produced += pw.summary.SuccessCount + pw.summary.ErrorCount
	}
	switch {
	case runErr != nil:
		status, reason = models.SessionStatusFailed, "store_error: "+runErr.Error()
	case r.stopped():
		status, reason = models.SessionStatusCancelled, models.ErrMsgCancelled
	case plan.total > 0 && produced == 0:
		status, reason = models.SessionStatusFailed, "no platform produced results"
	}

	o.finish(ctx, r, summary, plan, status, reason)
	return summary, runErr
}

// runPlatform records the platform's rejected items and drives its pipeline
func (o *Orchestrator) runPlatform(ctx context.Context, r *run, pw *platformWork) error {
	ctx, span := util.StartSpan(ctx, "Orchestrator.runPlatform", attribute.String("platform", string(pw.platform)))
	defer span.End()

	logger := o.logger.With(zap.String("session_id", r.session.ID), zap.String("platform", string(pw.platform)))
	offset := len(pw.rejected)
	total := pw.summary.TotalItems

	record := func(ctx context.Context, results []platform.ItemResult, sent int) error {
		details := make([]models.SyncDetail, len(results))
		success, failed, skipped := 0, 0, 0
		for i, res := range results {
			details[i] = toDetail(r.session.ID, pw.platform, res)
			switch {
			case res.Success:
				success++
			case isDataGap(res.ErrorMessage):
				failed++
				skipped++
			default:
				failed++
			}
		}

		if err := o.repo.AppendDetails(ctx, r.session.ID, details); err != nil {
			if errors.Is(err, store.ErrSessionClosed) {
				// terminated elsewhere, e.g. swept as orphaned
				r.requestStop()
			}
			return fmt.Errorf("failed to persist %s batch: %w", pw.platform, err)
		}

		pw.summary.SuccessCount += success
		pw.summary.ErrorCount += failed
		pw.summary.Skipped += skipped
		util.SyncItemsTotal.WithLabelValues(string(pw.platform), string(models.DetailStatusSuccess)).Add(float64(success))
		util.SyncItemsTotal.WithLabelValues(string(pw.platform), string(models.DetailStatusError)).Add(float64(failed))
		logger.Debug("Batch recorded", zap.Int("sent", sent), zap.Int("total", total), zap.Int("success", success), zap.Int("error", failed))

		if o.events != nil {
			event := &models.SyncBatchCompletedEvent{
				BaseEvent:    models.NewBaseEvent(models.EventTypeSyncBatchCompleted),
				SessionID:    r.session.ID,
				Platform:     pw.platform,
				Sent:         sent,
				Total:        total,
				SuccessCount: pw.summary.SuccessCount,
				ErrorCount:   pw.summary.ErrorCount,
			}
			if err := o.events.PublishBatchCompleted(ctx, event); err != nil {
				logger.Warn("Failed to publish batch event", zap.Error(err))
			}
		}
		return nil
	}

	if len(pw.rejected) > 0 && !r.stopped() {
		if err := record(ctx, pw.rejected, offset); err != nil {
			pw.summary.Error = err.Error()
			return err
		}
	}
	if len(pw.items) == 0 || r.stopped() {
		return nil
	}

	pw.attempted = true
	pipeline := platform.NewPipeline(pw.adapter, pw.settings,
		platform.WithStop(r.stop),
		platform.WithStopCheck(o.remoteCancelCheck(r)),
	)
	report, err := pipeline.SendAll(ctx, pw.items, func(ctx context.Context, results []platform.ItemResult, sent, _ int) error {
		return record(ctx, results, offset+sent)
	})
	if err != nil {
		pw.summary.Error = err.Error()
		logger.Error("Pipeline aborted", zap.Error(err))
		return err
	}
	if report.Cancelled {
		logger.Info("Pipeline cancelled", zap.Int("sent", report.Sent), zap.Int("total", report.Total))
	}
	return nil
}

func (o *Orchestrator) remoteCancelCheck(r *run) func(ctx context.Context) bool {
	if o.cancels == nil {
		return nil
	}
	return func(ctx context.Context) bool {
		requested, err := o.cancels.IsCancelRequested(ctx, r.session.ID)
		if err != nil {
			o.logger.Warn("Failed to read cancel flag", zap.String("session_id", r.session.ID), zap.Error(err))
			return false
		}
		if requested {
			r.requestStop()
		}
		return requested
	}
}

// finish performs the terminal transition and fills the summary
func (o *Orchestrator) finish(ctx context.Context, r *run, summary *models.SessionSummary, plan *syncPlan, status models.SessionStatus, reason string) {
	finishedAt := o.now()
	logger := o.logger.With(zap.String("session_id", r.session.ID))

	transitioned, err := o.repo.FinishSession(ctx, r.session.ID, status, reason, finishedAt)
	if err != nil {
		logger.Error("Failed to finish session", zap.Error(err))
	}
	if !transitioned && err == nil {
		// another actor already closed it; report what the store holds
		if stored, getErr := o.repo.GetSession(ctx, r.session.ID); getErr == nil {
			status = stored.Status
		}
	}

	summary.Status = status
	summary.DurationSeconds = finishedAt.Sub(r.session.StartedAt).Seconds()
	if plan != nil {
		for _, pw := range plan.work {
			summary.SuccessCount += pw.summary.SuccessCount
			summary.ErrorCount += pw.summary.ErrorCount
			summary.Skipped += pw.summary.Skipped

			if pw.attempted {
				if err := o.repo.TouchLastSync(ctx, pw.fallback, finishedAt); err != nil {
					logger.Warn("Failed to stamp last sync", zap.String("platform", string(pw.platform)), zap.Error(err))
				}
			}
		}
	}
	summary.SuccessRate = models.SuccessRate(summary.SuccessCount, summary.TotalItems)

	if o.cancels != nil && r.stopped() {
		if err := o.cancels.ClearCancel(ctx, r.session.ID); err != nil {
			logger.Debug("Failed to clear cancel flag", zap.Error(err))
		}
	}

	util.SyncSessionsFinished.WithLabelValues(string(status)).Inc()
	util.SyncSessionDuration.Observe(summary.DurationSeconds)
	logger.Info("Sync session finished",
		zap.String("status", string(status)),
		zap.Int("total", summary.TotalItems),
		zap.Int("success", summary.SuccessCount),
		zap.Int("error", summary.ErrorCount),
		zap.Float64("duration_seconds", summary.DurationSeconds),
	)

	if o.events != nil {
		event := &models.SyncSessionFinishedEvent{
			BaseEvent: models.NewBaseEvent(models.EventTypeSyncSessionFinished),
			Summary:   *summary,
		}
		if err := o.events.PublishSessionFinished(ctx, event); err != nil {
			logger.Warn("Failed to publish session finished", zap.Error(err))
		}
	}
}

func toDetail(sessionID string, p models.Platform, res platform.ItemResult) models.SyncDetail {
	status := models.DetailStatusError
	if res.Success {
		status = models.DetailStatusSuccess
	}
	return models.SyncDetail{
		SessionID:    sessionID,
		Platform:     p,
		Barcode:      res.Item.Barcode,
		Status:       status,
		QuantitySent: platform.Quantity(res.QuantitySent),
		ErrorMessage: res.ErrorMessage,
		RawResponse:  res.RawResponse,
		SentAt:       res.SentAt.UTC(),
		ResponseAt:   res.ResponseAt.UTC(),
	}
}

// isDataGap reports whether an item was rejected before transmission
func isDataGap(msg string) bool {
	return msg == models.ErrMsgNotConfigured ||
		msg == models.ErrMsgMissingExternalID ||
		strings.HasPrefix(msg, models.ErrMsgUnmatchedSKU)
}
