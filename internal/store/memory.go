package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"stock-sync/internal/models"
)

type memoryOrder struct {
	status string
	lines  map[string]int
}

// MemoryStore is a thread-safe in-memory implementation of every repository
// the engine needs. It backs STORE_DRIVER=memory and the service tests.
type MemoryStore struct {
	mu                  sync.RWMutex
	reservationStatuses map[string]bool
	products            map[string]models.Product
	aliases             map[string]string
	central             map[string]int
	orders              []memoryOrder
	configs             map[models.Platform]models.PlatformConfig
	sessions            map[string]*models.SyncSession
	details             map[string][]models.SyncDetail
	nextDetailID        int64
}

// NewMemoryStore constructs a new MemoryStore
func NewMemoryStore(reservationStatuses []string) *MemoryStore {
	statuses := make(map[string]bool, len(reservationStatuses))
	for _, s := range reservationStatuses {
		statuses[s] = true
	}
	return &MemoryStore{
		reservationStatuses: statuses,
		products:            make(map[string]models.Product),
		aliases:             make(map[string]string),
		central:             make(map[string]int),
		configs:             make(map[models.Platform]models.PlatformConfig),
		sessions:            make(map[string]*models.SyncSession),
		details:             make(map[string][]models.SyncDetail),
	}
}

// PutProduct inserts or replaces a catalog product
func (s *MemoryStore) PutProduct(p models.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.products[p.Barcode] = p
}

// PutAlias maps alias onto main
func (s *MemoryStore) PutAlias(alias, main string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.aliases[alias] = main
}

// SetCentralStock sets the on-hand quantity of a barcode
func (s *MemoryStore) SetCentralStock(barcode string, qty int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.central[barcode] = qty
}

// AddOrder records an order whose lines reserve stock while its status is open
func (s *MemoryStore) AddOrder(status string, lines map[string]int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]int, len(lines))
	for k, v := range lines {
		copied[k] = v
	}
	s.orders = append(s.orders, memoryOrder{status: status, lines: copied})
}

func (s *MemoryStore) ListProducts(ctx context.Context) ([]models.Product, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.Product, 0, len(s.products))
	for _, p := range s.products {
		p.Platforms = append([]models.Platform(nil), p.Platforms...)
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Barcode < out[j].Barcode })
	return out, nil
}

func (s *MemoryStore) ListBarcodeAliases(ctx context.Context) ([]models.BarcodeAlias, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.BarcodeAlias, 0, len(s.aliases))
	for alias, main := range s.aliases {
		out = append(out, models.BarcodeAlias{AliasBarcode: alias, MainBarcode: main})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AliasBarcode < out[j].AliasBarcode })
	return out, nil
}

// LoadStockSnapshot copies stock and reservations under one read lock
func (s *MemoryStore) LoadStockSnapshot(ctx context.Context) (*models.StockSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := &models.StockSnapshot{
		Central:  make(map[string]int, len(s.central)),
		Reserved: make(map[string]int),
		TakenAt:  time.Now().UTC(),
	}
	for barcode, qty := range s.central {
		snap.Central[barcode] = qty
	}
	for _, o := range s.orders {
		if !s.reservationStatuses[o.status] {
			continue
		}
		for barcode, qty := range o.lines {
			snap.Reserved[barcode] += qty
		}
	}
	return snap, nil
}

func (s *MemoryStore) CreateSession(ctx context.Context, session *models.SyncSession) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *session
	s.sessions[session.ID] = &copied
	return nil
}

func (s *MemoryStore) SetSessionTotal(ctx context.Context, id string, total int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.Status != models.SessionStatusRunning {
		return ErrSessionClosed
	}
	session.TotalItems = total
	return nil
}

func (s *MemoryStore) AppendDetails(ctx context.Context, sessionID string, details []models.SyncDetail) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(details) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[sessionID]
	if !ok || session.Status != models.SessionStatusRunning {
		return ErrSessionClosed
	}
	for _, d := range details {
		s.nextDetailID++
		d.ID = s.nextDetailID
		d.SessionID = sessionID
		if d.Status == models.DetailStatusSuccess {
			session.SuccessCount++
		} else {
			session.ErrorCount++
		}
		s.details[sessionID] = append(s.details[sessionID], d)
	}
	return nil
}

func (s *MemoryStore) FinishSession(ctx context.Context, id string, status models.SessionStatus, errMsg string, finishedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[id]
	if !ok || session.Status != models.SessionStatusRunning {
		return false, nil
	}
	session.Status = status
	session.ErrorMessage = errMsg
	session.FinishedAt = &finishedAt
	if d := finishedAt.Sub(session.StartedAt).Seconds(); d > 0 {
		session.DurationSeconds = d
	}
	return true, nil
}

func (s *MemoryStore) GetSession(ctx context.Context, id string) (*models.SyncSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *session
	return &copied, nil
}

func (s *MemoryStore) GetSessionDetails(ctx context.Context, id string) ([]models.SyncDetail, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.SyncDetail(nil), s.details[id]...), nil
}

func (s *MemoryStore) ListSessions(ctx context.Context, platform string, limit int) ([]models.SyncSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.SyncSession, 0, len(s.sessions))
	for _, session := range s.sessions {
		if platform != "" && session.Platform != platform {
			continue
		}
		out = append(out, *session)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ListRunningSessions(ctx context.Context) ([]models.SyncSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.SyncSession
	for _, session := range s.sessions {
		if session.Status == models.SessionStatusRunning {
			out = append(out, *session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out, nil
}

func (s *MemoryStore) DeleteSession(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	delete(s.details, id)
	return true, nil
}

func (s *MemoryStore) DeleteSessionsBefore(ctx context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, session := range s.sessions {
		if session.StartedAt.Before(before) && session.Status != models.SessionStatusRunning {
			delete(s.sessions, id)
			delete(s.details, id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListPlatformConfigs(ctx context.Context) ([]models.PlatformConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.PlatformConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Platform < out[j].Platform })
	return out, nil
}

func (s *MemoryStore) GetPlatformConfig(ctx context.Context, platform models.Platform) (*models.PlatformConfig, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	cfg, ok := s.configs[platform]
	if !ok {
		return nil, ErrNotFound
	}
	return &cfg, nil
}

func (s *MemoryStore) UpsertPlatformConfig(ctx context.Context, cfg *models.PlatformConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg.UpdatedAt = time.Now().UTC()
	if existing, ok := s.configs[cfg.Platform]; ok {
		cfg.LastSyncAt = existing.LastSyncAt
	} else {
		cfg.LastSyncAt = nil
	}
	s.configs[cfg.Platform] = *cfg
	return nil
}

func (s *MemoryStore) TouchLastSync(ctx context.Context, fallback models.PlatformConfig, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[fallback.Platform]
	if !ok {
		cfg = fallback
		cfg.UpdatedAt = time.Now().UTC()
	}
	cfg.LastSyncAt = &at
	s.configs[fallback.Platform] = cfg
	return nil
}

// Ping always succeeds
func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

// Close is a no-op
func (s *MemoryStore) Close() error {
	return nil
}
