package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"stock-sync/config"
	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

// WooCommerceAdapter updates stock through the REST v3 products batch endpoint
type WooCommerceAdapter struct {
	creds  config.WooCommerceCredentials
	client *resty.Client
	logger *zap.Logger
}

// NewWooCommerceAdapter creates a new WooCommerceAdapter
func NewWooCommerceAdapter(creds config.WooCommerceCredentials) *WooCommerceAdapter {
	creds.StoreURL = strings.TrimRight(creds.StoreURL, "/")
	a := &WooCommerceAdapter{
		creds:  creds,
		logger: util.GetLogger().With(zap.String("platform", string(models.PlatformWooCommerce))),
	}
	a.client = newClient(creds.StoreURL+"/wp-json/wc/v3", a.Defaults().Timeout).
		SetBasicAuth(creds.ConsumerKey, creds.ConsumerSecret)
	return a
}

func (a *WooCommerceAdapter) Platform() models.Platform { return models.PlatformWooCommerce }

// Configured requires an absolute store URL and REST API key pair
func (a *WooCommerceAdapter) Configured() bool {
	u, err := url.Parse(a.creds.StoreURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return false
	}
	return strings.HasPrefix(a.creds.ConsumerKey, "ck_") && strings.HasPrefix(a.creds.ConsumerSecret, "cs_")
}

func (a *WooCommerceAdapter) Defaults() Settings {
	return Settings{
		BatchSize:      100,
		RateLimitDelay: 200 * time.Millisecond,
		MaxRetries:     3,
		Timeout:        60 * time.Second,
		BackoffBase:    time.Second,
	}
}

// Prepare rejects items without a WooCommerce product id
func (a *WooCommerceAdapter) Prepare(_ context.Context, items []WorkItem) ([]WorkItem, []ItemResult) {
	ready := make([]WorkItem, 0, len(items))
	var rejected []ItemResult
	for _, item := range items {
		if item.WooProductID <= 0 {
			rejected = append(rejected, Reject(item, models.ErrMsgMissingExternalID))
			continue
		}
		ready = append(ready, item)
	}
	return ready, rejected
}

type wooUpdate struct {
	ID            int64 `json:"id"`
	StockQuantity int   `json:"stock_quantity"`
	ManageStock   bool  `json:"manage_stock"`
}

type wooBatchRequest struct {
	Update []wooUpdate `json:"update"`
}

type wooBatchResponse struct {
	Update []struct {
		ID    int64 `json:"id"`
		Error *struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	} `json:"update"`
}

func (a *WooCommerceAdapter) SendBatch(ctx context.Context, items []WorkItem) []ItemResult {
	body := wooBatchRequest{Update: make([]wooUpdate, len(items))}
	for i, item := range items {
		body.Update[i] = wooUpdate{
			ID:            item.WooProductID,
			StockQuantity: Quantity(item.Quantity),
			ManageStock:   true,
		}
	}

	sentAt := time.Now()
	resp, err := a.client.R().
		SetContext(ctx).
		SetBody(body).
		Post("/products/batch")
	responseAt := time.Now()

	o := classify(resp, err)
	results := shared(items, o, sentAt, responseAt)
	if !o.ok {
		return results
	}

	var decoded wooBatchResponse
	if err := json.Unmarshal(resp.Body(), &decoded); err != nil {
		a.logger.Warn("Undecodable batch response", zap.Error(err))
		return results
	}

	// the batch call succeeds as a whole while single updates may still fail
	byID := make(map[int64]string, len(decoded.Update))
	for _, u := range decoded.Update {
		msg := ""
		if u.Error != nil {
			msg = fmt.Sprintf("%s: %s", u.Error.Code, u.Error.Message)
		}
		byID[u.ID] = msg
	}
	for i := range results {
		msg, found := byID[items[i].WooProductID]
		switch {
		case !found:
			results[i].Success = false
			results[i].ErrorMessage = "no result returned for product id " + strconv.FormatInt(items[i].WooProductID, 10)
		case msg != "":
			results[i].Success = false
			results[i].ErrorMessage = msg
		}
	}
	return results
}

type wooProduct struct {
	ID            int64  `json:"id"`
	SKU           string `json:"sku"`
	StockQuantity *int   `json:"stock_quantity"`
}

// FetchCatalog pages through the store's products
func (a *WooCommerceAdapter) FetchCatalog(ctx context.Context) ([]CatalogEntry, error) {
	const perPage = 100
	var entries []CatalogEntry
	for page := 1; ; page++ {
		var products []wooProduct
		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"page":     strconv.Itoa(page),
				"per_page": strconv.Itoa(perPage),
			}).
			SetResult(&products).
			Get("/products")
		if o := classify(resp, err); !o.ok {
			return nil, fmt.Errorf("failed to fetch woocommerce products page %d: %s", page, o.message)
		}
		for _, p := range products {
			entry := CatalogEntry{
				Barcode:     p.SKU,
				MerchantSKU: p.SKU,
				ExternalID:  strconv.FormatInt(p.ID, 10),
			}
			if p.StockQuantity != nil {
				entry.Stock = *p.StockQuantity
			}
			entries = append(entries, entry)
		}
		if len(products) < perPage {
			return entries, nil
		}
	}
}
