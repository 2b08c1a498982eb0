package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"stock-sync/config"
	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

// TrendyolAdapter pushes stock through the supplier price-and-inventory endpoint
type TrendyolAdapter struct {
	creds  config.TrendyolCredentials
	client *resty.Client
	logger *zap.Logger
}

// NewTrendyolAdapter creates a new TrendyolAdapter
func NewTrendyolAdapter(creds config.TrendyolCredentials) *TrendyolAdapter {
	a := &TrendyolAdapter{
		creds:  creds,
		logger: util.GetLogger().With(zap.String("platform", string(models.PlatformTrendyol))),
	}
	a.client = newClient(creds.BaseURL, a.Defaults().Timeout).
		SetBasicAuth(creds.APIKey, creds.APISecret).
		SetHeader("User-Agent", fmt.Sprintf("%s - SelfIntegration", creds.SupplierID))
	return a
}

func (a *TrendyolAdapter) Platform() models.Platform { return models.PlatformTrendyol }

// Configured requires credentials and a numeric supplier id
func (a *TrendyolAdapter) Configured() bool {
	if a.creds.APIKey == "" || a.creds.APISecret == "" || a.creds.BaseURL == "" {
		return false
	}
	_, err := strconv.ParseUint(a.creds.SupplierID, 10, 64)
	return err == nil
}

func (a *TrendyolAdapter) Defaults() Settings {
	return Settings{
		BatchSize:      100,
		RateLimitDelay: 200 * time.Millisecond,
		MaxRetries:     3,
		Timeout:        60 * time.Second,
		BackoffBase:    time.Second,
	}
}

type trendyolItem struct {
	Barcode  string `json:"barcode"`
	Quantity int    `json:"quantity"`
}

type trendyolRequest struct {
	Items []trendyolItem `json:"items"`
}

func (a *TrendyolAdapter) SendBatch(ctx context.Context, items []WorkItem) []ItemResult {
	body := trendyolRequest{Items: make([]trendyolItem, len(items))}
	for i, item := range items {
		body.Items[i] = trendyolItem{Barcode: item.Barcode, Quantity: Quantity(item.Quantity)}
	}

	sentAt := time.Now()
	resp, err := a.client.R().
		SetContext(ctx).
		SetPathParam("supplierId", a.creds.SupplierID).
		SetBody(body).
		Post("/suppliers/{supplierId}/products/price-and-inventory")
	o := classify(resp, err)
	if !o.ok {
		a.logger.Warn("Batch rejected", zap.Int("items", len(items)), zap.String("error", o.message))
	}
	return shared(items, o, sentAt, time.Now())
}

type trendyolProductPage struct {
	TotalPages int `json:"totalPages"`
	Content    []struct {
		Barcode   string `json:"barcode"`
		StockCode string `json:"stockCode"`
		Quantity  int    `json:"quantity"`
		ProductID int64  `json:"productContentId"`
	} `json:"content"`
}

// FetchCatalog pages through the approved supplier products
func (a *TrendyolAdapter) FetchCatalog(ctx context.Context) ([]CatalogEntry, error) {
	var entries []CatalogEntry
	for page := 0; ; page++ {
		resp, err := a.client.R().
			SetContext(ctx).
			SetPathParam("supplierId", a.creds.SupplierID).
			SetQueryParams(map[string]string{
				"page":     strconv.Itoa(page),
				"size":     "200",
				"approved": "true",
			}).
			Get("/suppliers/{supplierId}/products")
		if o := classify(resp, err); !o.ok {
			return nil, fmt.Errorf("failed to fetch trendyol products page %d: %s", page, o.message)
		}

		var result trendyolProductPage
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return nil, fmt.Errorf("failed to decode trendyol products: %w", err)
		}
		for _, p := range result.Content {
			entries = append(entries, CatalogEntry{
				Barcode:     p.Barcode,
				MerchantSKU: p.StockCode,
				ExternalID:  strconv.FormatInt(p.ProductID, 10),
				Stock:       p.Quantity,
			})
		}
		if len(result.Content) == 0 || page+1 >= result.TotalPages {
			return entries, nil
		}
	}
}
