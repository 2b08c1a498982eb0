package platform

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const maxRawResponse = 2000

// outcome is the classification of one HTTP exchange
type outcome struct {
	ok        bool
	retryable bool
	status    int
	message   string
	raw       string
}

func newClient(baseURL string, timeout time.Duration) *resty.Client {
	return resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("Content-Type", "application/json")
}

// classify maps a resty call onto the transient / permanent split.
// Transport errors, timeouts, 429 and 5xx are transient; other 4xx are not.
func classify(resp *resty.Response, err error) outcome {
	if err != nil {
		return outcome{
			retryable: isRetryableError(err),
			message:   "transport_error: " + err.Error(),
		}
	}

	status := resp.StatusCode()
	o := outcome{status: status, raw: truncate(resp.String())}
	switch {
	case status >= 200 && status < 300:
		o.ok = true
	case status == http.StatusTooManyRequests:
		o.retryable = true
		o.message = fmt.Sprintf("rate_limited: http %d", status)
	case status >= 500:
		o.retryable = true
		o.message = fmt.Sprintf("server_error: http %d", status)
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		o.message = fmt.Sprintf("auth_error: http %d", status)
	default:
		o.message = fmt.Sprintf("http %d: %s", status, truncate(strings.TrimSpace(resp.String())))
	}
	return o
}

// isRetryableError treats every transport failure as transient except a
// caller-side cancellation or a malformed URL.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return !strings.Contains(strings.ToLower(err.Error()), "unsupported protocol scheme")
}

func truncate(s string) string {
	if len(s) <= maxRawResponse {
		return s
	}
	return s[:maxRawResponse]
}

// shared fans one outcome out to every item of a batch
func shared(items []WorkItem, o outcome, sentAt, responseAt time.Time) []ItemResult {
	results := make([]ItemResult, len(items))
	for i, item := range items {
		results[i] = ItemResult{
			Item:         item,
			Success:      o.ok,
			Retryable:    !o.ok && o.retryable,
			QuantitySent: Quantity(item.Quantity),
			ErrorMessage: o.message,
			RawResponse:  o.raw,
			SentAt:       sentAt,
			ResponseAt:   responseAt,
		}
	}
	return results
}
