package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"stock-sync/config"
	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

// IdefixAdapter pushes stock through the PIM inventory-upload endpoint and
// falls back to one request per item when the bulk form is unavailable.
type IdefixAdapter struct {
	creds  config.IdefixCredentials
	client *resty.Client
	logger *zap.Logger
}

// NewIdefixAdapter creates a new IdefixAdapter
func NewIdefixAdapter(creds config.IdefixCredentials) *IdefixAdapter {
	a := &IdefixAdapter{
		creds:  creds,
		logger: util.GetLogger().With(zap.String("platform", string(models.PlatformIdefix))),
	}
	a.client = newClient(creds.BaseURL, a.Defaults().Timeout).
		SetBasicAuth(creds.Token, creds.Secret)
	return a
}

func (a *IdefixAdapter) Platform() models.Platform { return models.PlatformIdefix }

func (a *IdefixAdapter) Configured() bool {
	return a.creds.SellerID != "" && a.creds.Token != "" && a.creds.Secret != "" && a.creds.BaseURL != ""
}

func (a *IdefixAdapter) Defaults() Settings {
	return Settings{
		BatchSize:      50,
		RateLimitDelay: 300 * time.Millisecond,
		MaxRetries:     3,
		Timeout:        60 * time.Second,
		BackoffBase:    time.Second,
	}
}

type idefixItem struct {
	Barcode           string `json:"barcode"`
	InventoryQuantity int    `json:"inventoryQuantity"`
	DeliveryDuration  int    `json:"deliveryDuration"`
	DeliveryType      string `json:"deliveryType"`
}

type idefixRequest struct {
	Items []idefixItem `json:"items"`
}

func (a *IdefixAdapter) SendBatch(ctx context.Context, items []WorkItem) []ItemResult {
	sentAt := time.Now()
	resp, err := a.upload(ctx, items)
	if err == nil && bulkUnavailable(resp.StatusCode()) {
		a.logger.Info("Bulk upload unavailable, falling back to per-item",
			zap.Int("status", resp.StatusCode()), zap.Int("items", len(items)))
		return a.sendEach(ctx, items)
	}
	return shared(items, classify(resp, err), sentAt, time.Now())
}

func (a *IdefixAdapter) upload(ctx context.Context, items []WorkItem) (*resty.Response, error) {
	body := idefixRequest{Items: make([]idefixItem, len(items))}
	for i, item := range items {
		body.Items[i] = idefixItem{
			Barcode:           item.Barcode,
			InventoryQuantity: Quantity(item.Quantity),
			DeliveryDuration:  1,
			DeliveryType:      "regular",
		}
	}
	return a.client.R().
		SetContext(ctx).
		SetPathParam("sellerId", a.creds.SellerID).
		SetBody(body).
		Post("/pim/catalog/{sellerId}/inventory-upload")
}

// sendEach uploads items one at a time, strictly serialized
func (a *IdefixAdapter) sendEach(ctx context.Context, items []WorkItem) []ItemResult {
	results := make([]ItemResult, len(items))
	sem := semaphore.NewWeighted(1)
	var wg sync.WaitGroup

	for i, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = shared([]WorkItem{item}, classify(nil, err), time.Now(), time.Now())[0]
			continue
		}
		wg.Add(1)
		go func(i int, item WorkItem) {
			defer wg.Done()
			defer sem.Release(1)
			sentAt := time.Now()
			resp, err := a.upload(ctx, []WorkItem{item})
			results[i] = shared([]WorkItem{item}, classify(resp, err), sentAt, time.Now())[0]
		}(i, item)
	}

	wg.Wait()
	return results
}

func bulkUnavailable(status int) bool {
	return status == http.StatusNotFound || status == http.StatusMethodNotAllowed || status == http.StatusNotImplemented
}

type idefixProductPage struct {
	TotalPages int `json:"totalPages"`
	Products   []struct {
		Barcode           string `json:"barcode"`
		VendorStockCode   string `json:"vendorStockCode"`
		InventoryQuantity int    `json:"inventoryQuantity"`
	} `json:"products"`
}

// FetchCatalog pages through the seller's PIM products
func (a *IdefixAdapter) FetchCatalog(ctx context.Context) ([]CatalogEntry, error) {
	var entries []CatalogEntry
	for page := 1; ; page++ {
		resp, err := a.client.R().
			SetContext(ctx).
			SetPathParam("sellerId", a.creds.SellerID).
			SetQueryParams(map[string]string{"page": strconv.Itoa(page), "limit": "100"}).
			Get("/pim/catalog/{sellerId}/products")
		if o := classify(resp, err); !o.ok {
			return nil, fmt.Errorf("failed to fetch idefix products page %d: %s", page, o.message)
		}

		var result idefixProductPage
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return nil, fmt.Errorf("failed to decode idefix products: %w", err)
		}
		for _, p := range result.Products {
			entries = append(entries, CatalogEntry{
				Barcode:     p.Barcode,
				MerchantSKU: p.VendorStockCode,
				Stock:       p.InventoryQuantity,
			})
		}
		if len(result.Products) == 0 || page >= result.TotalPages {
			return entries, nil
		}
	}
}
