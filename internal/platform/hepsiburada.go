package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"stock-sync/config"
	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

const (
	hepsiburadaProdURL  = "https://listing-external.hepsiburada.com"
	hepsiburadaSITURL   = "https://listing-external-sit.hepsiburada.com"
	hepsiburadaPageSize = 100
	hepsiburadaCacheTTL = 10 * time.Minute
)

// SKUPair is the identifier pair Hepsiburada addresses a listing by
type SKUPair struct {
	HepsiburadaSKU string `json:"hepsiburada_sku"`
	MerchantSKU    string `json:"merchant_sku"`
	Stock          int    `json:"stock"`
}

type skuCache struct {
	MerchantID string             `json:"merchant_id"`
	SavedAt    time.Time          `json:"saved_at"`
	Listings   map[string]SKUPair `json:"listings"`
}

// HepsiburadaAdapter pushes stock through the listing-external API. Listings
// are addressed by SKU pair, so barcodes are resolved through a merchant-wide
// listing map that is cached in memory and on disk.
type HepsiburadaAdapter struct {
	creds     config.HepsiburadaCredentials
	client    *resty.Client
	cacheFile string
	now       func() time.Time
	logger    *zap.Logger

	group    singleflight.Group
	mu       sync.RWMutex
	skuMap   map[string]SKUPair
	loadedAt time.Time
}

// NewHepsiburadaAdapter creates a new HepsiburadaAdapter. cacheFile may be
// empty to disable the on-disk listing cache.
func NewHepsiburadaAdapter(creds config.HepsiburadaCredentials, cacheFile string) *HepsiburadaAdapter {
	if creds.BaseURL == "" {
		creds.BaseURL = hepsiburadaSITURL
		if creds.IsProduction {
			creds.BaseURL = hepsiburadaProdURL
		}
	}
	a := &HepsiburadaAdapter{
		creds:     creds,
		cacheFile: cacheFile,
		now:       time.Now,
		logger:    util.GetLogger().With(zap.String("platform", string(models.PlatformHepsiburada))),
	}
	a.client = newClient(creds.BaseURL, a.Defaults().Timeout).
		SetBasicAuth(creds.Username, creds.Password).
		SetHeader("User-Agent", creds.UserAgent)
	return a
}

func (a *HepsiburadaAdapter) Platform() models.Platform { return models.PlatformHepsiburada }

// Configured requires the merchant id, basic credentials and the agent string
// the API insists on
func (a *HepsiburadaAdapter) Configured() bool {
	c := a.creds
	return c.MerchantID != "" && c.Username != "" && c.Password != "" && c.UserAgent != ""
}

func (a *HepsiburadaAdapter) Defaults() Settings {
	return Settings{
		BatchSize:      50,
		RateLimitDelay: 300 * time.Millisecond,
		MaxRetries:     3,
		Timeout:        30 * time.Second,
		BackoffBase:    time.Second,
	}
}

// Prepare fills in the SKU pair of every item from the listing map. Items
// already carrying both SKUs pass through untouched.
func (a *HepsiburadaAdapter) Prepare(ctx context.Context, items []WorkItem) ([]WorkItem, []ItemResult) {
	ready := make([]WorkItem, 0, len(items))
	var rejected []ItemResult

	var skuMap map[string]SKUPair
	var loadErr error
	loaded := false

	for _, item := range items {
		if item.HepsiburadaSKU != "" && item.MerchantSKU != "" {
			ready = append(ready, item)
			continue
		}
		if !loaded {
			skuMap, loadErr = a.SKUMap(ctx)
			loaded = true
			if loadErr != nil {
				a.logger.Error("Failed to load listing map", zap.Error(loadErr))
			}
		}
		pair, ok := skuMap[item.Barcode]
		if !ok {
			msg := models.ErrMsgUnmatchedSKU + ": no listing for barcode"
			if loadErr != nil {
				msg = models.ErrMsgUnmatchedSKU + ": " + loadErr.Error()
			}
			rejected = append(rejected, Reject(item, msg))
			continue
		}
		item.HepsiburadaSKU = pair.HepsiburadaSKU
		item.MerchantSKU = pair.MerchantSKU
		ready = append(ready, item)
	}
	return ready, rejected
}

// SKUMap returns barcode to SKU pair for every merchant listing. Concurrent
// callers share a single load.
func (a *HepsiburadaAdapter) SKUMap(ctx context.Context) (map[string]SKUPair, error) {
	a.mu.RLock()
	if a.skuMap != nil && a.now().Sub(a.loadedAt) < hepsiburadaCacheTTL {
		m := a.skuMap
		a.mu.RUnlock()
		return m, nil
	}
	a.mu.RUnlock()

	v, err, _ := a.group.Do("sku-map", func() (interface{}, error) {
		if m, ok := a.readCache(); ok {
			a.store(m)
			return m, nil
		}
		m, err := a.loadListings(ctx)
		if err != nil {
			return nil, err
		}
		a.store(m)
		a.writeCache(m)
		return m, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]SKUPair), nil
}

func (a *HepsiburadaAdapter) store(m map[string]SKUPair) {
	a.mu.Lock()
	a.skuMap = m
	a.loadedAt = a.now()
	a.mu.Unlock()
}

func (a *HepsiburadaAdapter) readCache() (map[string]SKUPair, bool) {
	if a.cacheFile == "" {
		return nil, false
	}
	info, err := os.Stat(a.cacheFile)
	if err != nil || a.now().Sub(info.ModTime()) > hepsiburadaCacheTTL {
		return nil, false
	}
	raw, err := os.ReadFile(a.cacheFile)
	if err != nil {
		return nil, false
	}
	var cache skuCache
	if err := json.Unmarshal(raw, &cache); err != nil || cache.MerchantID != a.creds.MerchantID {
		return nil, false
	}
	a.logger.Debug("Listing map loaded from cache", zap.Int("listings", len(cache.Listings)))
	return cache.Listings, true
}

func (a *HepsiburadaAdapter) writeCache(m map[string]SKUPair) {
	if a.cacheFile == "" {
		return
	}
	raw, err := json.Marshal(skuCache{MerchantID: a.creds.MerchantID, SavedAt: a.now(), Listings: m})
	if err != nil {
		return
	}
	if err := os.WriteFile(a.cacheFile, raw, 0o644); err != nil {
		a.logger.Warn("Failed to write listing cache", zap.String("file", a.cacheFile), zap.Error(err))
	}
}

type hepsiburadaListingPage struct {
	TotalCount int `json:"totalCount"`
	Listings   []struct {
		HepsiburadaSku string `json:"hepsiburadaSku"`
		MerchantSku    string `json:"merchantSku"`
		Barcode        string `json:"barcode"`
		AvailableStock int    `json:"availableStock"`
	} `json:"listings"`
}

// loadListings pages through every listing of the merchant
func (a *HepsiburadaAdapter) loadListings(ctx context.Context) (map[string]SKUPair, error) {
	out := make(map[string]SKUPair)
	for offset := 0; ; offset += hepsiburadaPageSize {
		resp, err := a.client.R().
			SetContext(ctx).
			SetPathParam("merchantId", a.creds.MerchantID).
			SetQueryParams(map[string]string{
				"offset": strconv.Itoa(offset),
				"limit":  strconv.Itoa(hepsiburadaPageSize),
			}).
			Get("/listings/merchantid/{merchantId}")
		if o := classify(resp, err); !o.ok {
			return nil, fmt.Errorf("failed to fetch hepsiburada listings at offset %d: %s", offset, o.message)
		}

		var page hepsiburadaListingPage
		if err := json.Unmarshal(resp.Body(), &page); err != nil {
			return nil, fmt.Errorf("failed to decode hepsiburada listings: %w", err)
		}
		for _, l := range page.Listings {
			key := l.Barcode
			if key == "" {
				key = l.MerchantSku
			}
			out[key] = SKUPair{HepsiburadaSKU: l.HepsiburadaSku, MerchantSKU: l.MerchantSku, Stock: l.AvailableStock}
		}
		if len(page.Listings) == 0 || offset+len(page.Listings) >= page.TotalCount {
			break
		}
	}
	a.logger.Info("Listing map loaded", zap.Int("listings", len(out)))
	return out, nil
}

type hepsiburadaStockUpdate struct {
	HepsiburadaSku string `json:"HepsiburadaSku"`
	MerchantSku    string `json:"MerchantSku"`
	AvailableStock int    `json:"AvailableStock"`
}

func (a *HepsiburadaAdapter) SendBatch(ctx context.Context, items []WorkItem) []ItemResult {
	body := make([]hepsiburadaStockUpdate, len(items))
	for i, item := range items {
		body[i] = hepsiburadaStockUpdate{
			HepsiburadaSku: item.HepsiburadaSKU,
			MerchantSku:    item.MerchantSKU,
			AvailableStock: Quantity(item.Quantity),
		}
	}

	sentAt := time.Now()
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("merchantId", a.creds.MerchantID).
		SetBody(body).
		Post("/listings/merchantid/{merchantId}")
	o := classify(resp, err)
	if !o.ok {
		a.logger.Warn("Batch rejected", zap.Int("items", len(items)), zap.String("error", o.message))
	}
	return shared(items, o, sentAt, time.Now())
}

// FetchCatalog reloads the listing map bypassing both caches
func (a *HepsiburadaAdapter) FetchCatalog(ctx context.Context) ([]CatalogEntry, error) {
	m, err := a.loadListings(ctx)
	if err != nil {
		return nil, err
	}
	a.store(m)
	a.writeCache(m)

	entries := make([]CatalogEntry, 0, len(m))
	for barcode, pair := range m {
		entries = append(entries, CatalogEntry{
			Barcode:     barcode,
			MerchantSKU: pair.MerchantSKU,
			ExternalID:  pair.HepsiburadaSKU,
			Stock:       pair.Stock,
		})
	}
	return entries, nil
}
