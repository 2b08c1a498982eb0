package platform

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"stock-sync/config"
	"stock-sync/internal/models"
	"stock-sync/internal/util"
)

const (
	amazonListingsPath   = "/listings/2021-08-01/items/{sellerId}"
	amazonConcurrency    = 3
	amazonTokenSkew      = 60 * time.Second
	amazonDefaultItemGap = 500 * time.Millisecond
)

// AmazonAdapter patches fulfillment availability through the SP-API listings
// endpoint, one item per request, authenticated with an LWA access token.
type AmazonAdapter struct {
	creds   config.AmazonCredentials
	client  *resty.Client
	lwa     *resty.Client
	itemGap time.Duration
	now     func() time.Time
	logger  *zap.Logger

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

// AmazonOption customizes an AmazonAdapter
type AmazonOption func(*AmazonAdapter)

// WithAmazonItemDelay sets the pause after each item request
func WithAmazonItemDelay(d time.Duration) AmazonOption {
	return func(a *AmazonAdapter) { a.itemGap = d }
}

// NewAmazonAdapter creates a new AmazonAdapter
func NewAmazonAdapter(creds config.AmazonCredentials, opts ...AmazonOption) *AmazonAdapter {
	a := &AmazonAdapter{
		creds:   creds,
		itemGap: amazonDefaultItemGap,
		now:     time.Now,
		logger:  util.GetLogger().With(zap.String("platform", string(models.PlatformAmazon))),
	}
	for _, opt := range opts {
		opt(a)
	}
	timeout := a.Defaults().Timeout
	a.client = newClient(creds.Endpoint, timeout)
	a.lwa = resty.New().SetTimeout(timeout)
	return a
}

func (a *AmazonAdapter) Platform() models.Platform { return models.PlatformAmazon }

func (a *AmazonAdapter) Configured() bool {
	c := a.creds
	return c.ClientID != "" && c.ClientSecret != "" && c.RefreshToken != "" &&
		c.SellerID != "" && c.MarketplaceID != "" && c.Endpoint != "" && c.LWAEndpoint != ""
}

func (a *AmazonAdapter) Defaults() Settings {
	return Settings{
		BatchSize:      50,
		RateLimitDelay: time.Second,
		MaxRetries:     3,
		Timeout:        90 * time.Second,
		BackoffBase:    time.Second,
	}
}

type lwaResponse struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int    `json:"expires_in"`
	Error       string `json:"error"`
	Description string `json:"error_description"`
}

// accessToken returns the cached token, refreshing it when expired or forced
func (a *AmazonAdapter) accessToken(ctx context.Context, force bool) (string, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !force && a.token != "" && a.now().Before(a.expiresAt) {
		return a.token, nil
	}

	var body lwaResponse
	resp, err := a.lwa.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"grant_type":    "refresh_token",
			"refresh_token": a.creds.RefreshToken,
			"client_id":     a.creds.ClientID,
			"client_secret": a.creds.ClientSecret,
		}).
		SetResult(&body).
		SetError(&body).
		Post(a.creds.LWAEndpoint)
	if o := classify(resp, err); !o.ok {
		a.token = ""
		return "", &tokenError{outcome: o, detail: body.Description}
	}
	if body.AccessToken == "" {
		return "", &tokenError{outcome: outcome{message: "auth_error: empty access token"}}
	}

	util.PlatformAuthRefreshTotal.WithLabelValues(string(models.PlatformAmazon)).Inc()
	a.token = body.AccessToken
	a.expiresAt = a.now().Add(time.Duration(body.ExpiresIn)*time.Second - amazonTokenSkew)
	return a.token, nil
}

type tokenError struct {
	outcome outcome
	detail  string
}

func (e *tokenError) Error() string {
	if e.detail != "" {
		return fmt.Sprintf("lwa token refresh failed: %s (%s)", e.outcome.message, e.detail)
	}
	return "lwa token refresh failed: " + e.outcome.message
}

// listingID picks the identifier the listings endpoint is addressed by
func listingID(item WorkItem) string {
	if item.ASIN != "" {
		return item.ASIN
	}
	return item.MerchantSKU
}

// Prepare rejects items that carry no ASIN or SKU
func (a *AmazonAdapter) Prepare(_ context.Context, items []WorkItem) ([]WorkItem, []ItemResult) {
	ready := make([]WorkItem, 0, len(items))
	var rejected []ItemResult
	for _, item := range items {
		if listingID(item) == "" {
			rejected = append(rejected, Reject(item, models.ErrMsgMissingExternalID))
			continue
		}
		ready = append(ready, item)
	}
	return ready, rejected
}

func (a *AmazonAdapter) SendBatch(ctx context.Context, items []WorkItem) []ItemResult {
	results := make([]ItemResult, len(items))
	sem := semaphore.NewWeighted(amazonConcurrency)
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
			results[i] = a.sendItem(ctx, item)
			if a.itemGap > 0 {
				select {
				case <-time.After(a.itemGap):
				case <-ctx.Done():
				}
			}
		}(i, item)
	}

	wg.Wait()
	return results
}

type amazonPatch struct {
	Op    string        `json:"op"`
	Path  string        `json:"path"`
	Value []interface{} `json:"value"`
}

type amazonPatchRequest struct {
	ProductType string        `json:"productType"`
	Patches     []amazonPatch `json:"patches"`
}

type amazonPatchResponse struct {
	SKU    string `json:"sku"`
	Status string `json:"status"`
	Issues []struct {
		Code     string `json:"code"`
		Message  string `json:"message"`
		Severity string `json:"severity"`
	} `json:"issues"`
}

func (a *AmazonAdapter) sendItem(ctx context.Context, item WorkItem) ItemResult {
	sentAt := time.Now()
	single := []WorkItem{item}

	id := listingID(item)
	if id == "" {
		return Reject(item, models.ErrMsgMissingExternalID)
	}

	token, err := a.accessToken(ctx, false)
	if err != nil {
		return a.tokenFailure(item, err, sentAt)
	}

	resp, err := a.patch(ctx, token, id, item)
	if err == nil && (resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden) {
		a.logger.Info("Access token rejected, refreshing", zap.String("barcode", item.Barcode))
		token, err = a.accessToken(ctx, true)
		if err != nil {
			return a.tokenFailure(item, err, sentAt)
		}
		resp, err = a.patch(ctx, token, id, item)
	}

	o := classify(resp, err)
	if o.ok {
		var body amazonPatchResponse
		if jsonErr := json.Unmarshal(resp.Body(), &body); jsonErr == nil && strings.EqualFold(body.Status, "INVALID") {
			o.ok = false
			o.message = "listing_invalid: " + amazonIssues(body)
		}
	}
	return shared(single, o, sentAt, time.Now())[0]
}

func (a *AmazonAdapter) tokenFailure(item WorkItem, err error, sentAt time.Time) ItemResult {
	o := outcome{retryable: true, message: err.Error()}
	if te, ok := err.(*tokenError); ok {
		o.retryable = te.outcome.retryable
		o.raw = te.outcome.raw
	}
	return shared([]WorkItem{item}, o, sentAt, time.Now())[0]
}

func (a *AmazonAdapter) patch(ctx context.Context, token, id string, item WorkItem) (*resty.Response, error) {
	body := amazonPatchRequest{
		ProductType: "PRODUCT",
		Patches: []amazonPatch{{
			Op:   "replace",
			Path: "/attributes/fulfillment_availability",
			Value: []interface{}{map[string]interface{}{
				"fulfillment_channel_code": "DEFAULT",
				"quantity":                 Quantity(item.Quantity),
			}},
		}},
	}
	return a.client.R().
		SetContext(ctx).
		SetHeader("x-amz-access-token", token).
		SetPathParams(map[string]string{"sellerId": a.creds.SellerID, "sku": id}).
		SetQueryParam("marketplaceIds", a.creds.MarketplaceID).
		SetBody(body).
		Patch(amazonListingsPath + "/{sku}")
}

func amazonIssues(body amazonPatchResponse) string {
	msgs := make([]string, 0, len(body.Issues))
	for _, issue := range body.Issues {
		msgs = append(msgs, issue.Code+" "+issue.Message)
	}
	return strings.Join(msgs, "; ")
}

type amazonSearchResponse struct {
	Items []struct {
		SKU       string `json:"sku"`
		Summaries []struct {
			ASIN string `json:"asin"`
		} `json:"summaries"`
		FulfillmentAvailability []struct {
			Quantity int `json:"quantity"`
		} `json:"fulfillmentAvailability"`
	} `json:"items"`
	Pagination struct {
		NextToken string `json:"nextToken"`
	} `json:"pagination"`
}

// FetchCatalog lists the seller's listings with their ASIN and quantity
func (a *AmazonAdapter) FetchCatalog(ctx context.Context) ([]CatalogEntry, error) {
	token, err := a.accessToken(ctx, false)
	if err != nil {
		return nil, err
	}

	var entries []CatalogEntry
	next := ""
	for {
		req := a.client.R().
			SetContext(ctx).
			SetHeader("x-amz-access-token", token).
			SetPathParam("sellerId", a.creds.SellerID).
			SetQueryParams(map[string]string{
				"marketplaceIds": a.creds.MarketplaceID,
				"includedData":   "summaries,fulfillmentAvailability",
				"pageSize":       "20",
			})
		if next != "" {
			req.SetQueryParam("pageToken", next)
		}
		resp, err := req.Get(amazonListingsPath)
		if o := classify(resp, err); !o.ok {
			return nil, fmt.Errorf("failed to search amazon listings: %s", o.message)
		}

		var result amazonSearchResponse
		if err := json.Unmarshal(resp.Body(), &result); err != nil {
			return nil, fmt.Errorf("failed to decode amazon listings: %w", err)
		}
		for _, item := range result.Items {
			entry := CatalogEntry{MerchantSKU: item.SKU}
			if len(item.Summaries) > 0 {
				entry.ExternalID = item.Summaries[0].ASIN
			}
			if len(item.FulfillmentAvailability) > 0 {
				entry.Stock = item.FulfillmentAvailability[0].Quantity
			}
			entries = append(entries, entry)
		}
		if result.Pagination.NextToken == "" {
			return entries, nil
		}
		next = result.Pagination.NextToken
	}
}
