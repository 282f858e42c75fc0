// Package ecommerce implements marketplace.Adapter for MercadoLivre, Amazon
// SP-API and AliExpress dropshipping on top of a shared HTTP client that maps
// responses onto the marketplace error taxonomy and reports live quota headers.
package ecommerce

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/marketsync/internal/domain/marketplace"
	"github.com/storefront/marketsync/internal/infrastructure/telemetry"
	"go.uber.org/zap"
)

// maxResponseSize is the maximum allowed response size from a marketplace API (10MB)
const maxResponseSize = 10 * 1024 * 1024

// Quota headers read from every response
const (
	headerRateLimitLimit     = "X-RateLimit-Limit"
	headerRateLimitRemaining = "X-RateLimit-Remaining"
	headerRateLimitReset     = "X-RateLimit-Reset"
	headerRetryAfter         = "Retry-After"
)

// apiClient is the HTTP plumbing shared by all adapters
type apiClient struct {
	name     marketplace.Name
	http     *http.Client
	observer marketplace.QuotaObserver
	logger   *zap.Logger
	now      func() time.Time
}

func newAPIClient(name marketplace.Name, timeout time.Duration, observer marketplace.QuotaObserver, logger *zap.Logger) *apiClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &apiClient{
		name:     name,
		http:     &http.Client{Timeout: timeout},
		observer: observer,
		logger:   logger.With(zap.String("marketplace", name.String())),
		now:      time.Now,
	}
}

// newJSONRequest builds a request with an optional JSON body
func (c *apiClient) newJSONRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, marketplace.NewError(c.name, "encodeRequest", "failed to encode request body", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, marketplace.NewError(c.name, "buildRequest", "failed to create request", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// do sends req and returns the body of a 2xx response. Any other outcome is
// a *marketplace.MarketplaceError tagged with operation.
func (c *apiClient) do(operation string, req *http.Request) (body []byte, err error) {
	ctx, span := telemetry.StartMarketplaceCall(req.Context(), c.name, operation)
	defer func() {
		telemetry.RecordError(span, err)
		span.End()
	}()

	resp, err := c.http.Do(req.WithContext(ctx))
	if err != nil {
		return nil, marketplace.NewError(c.name, operation, "request failed", err)
	}
	defer resp.Body.Close()
	telemetry.SetAttribute(span, telemetry.SpanAttrHTTPStatus, resp.StatusCode)

	c.observeQuota(resp.Header)

	body, err = io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, marketplace.NewError(c.name, operation, "failed to read response", err)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp.Header.Get(headerRetryAfter), c.now())
		if c.observer != nil {
			c.observer.ObserveRateLimited(c.name, retryAfter)
		}
		return nil, marketplace.NewRateLimitError(c.name, operation, retryAfter)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		e := marketplace.NewAuthenticationError(c.name, errorMessage(resp.StatusCode, body), nil)
		e.Operation = operation
		e.StatusCode = resp.StatusCode
		return nil, e
	default:
		return nil, marketplace.NewHTTPError(c.name, operation, resp.StatusCode, errorMessage(resp.StatusCode, body))
	}
}

// doJSON sends req and decodes a successful body into out
func (c *apiClient) doJSON(operation string, req *http.Request, out any) error {
	body, err := c.do(operation, req)
	if err != nil {
		return err
	}
	if out == nil || len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return marketplace.NewError(c.name, operation, "failed to parse response", fmt.Errorf("%w: %v", marketplace.ErrInvalidResponse, err))
	}
	return nil
}

func (c *apiClient) observeQuota(h http.Header) {
	if c.observer == nil {
		return
	}
	quota, ok := parseQuota(h, c.now())
	if !ok {
		return
	}
	c.observer.ObserveQuota(c.name, quota)
}

// parseQuota reads the X-RateLimit-* headers. The reset header may be an
// absolute unix time or a number of seconds from now.
func parseQuota(h http.Header, now time.Time) (marketplace.Quota, bool) {
	remainingRaw := h.Get(headerRateLimitRemaining)
	if remainingRaw == "" {
		return marketplace.Quota{}, false
	}
	remaining, err := strconv.Atoi(strings.TrimSpace(remainingRaw))
	if err != nil {
		return marketplace.Quota{}, false
	}

	q := marketplace.Quota{Remaining: remaining}
	if limit, err := strconv.Atoi(strings.TrimSpace(h.Get(headerRateLimitLimit))); err == nil {
		q.Limit = limit
	}
	if reset, err := strconv.ParseInt(strings.TrimSpace(h.Get(headerRateLimitReset)), 10, 64); err == nil && reset > 0 {
		if reset > 1_000_000_000 {
			q.ResetAt = time.Unix(reset, 0)
		} else {
			q.ResetAt = now.Add(time.Duration(reset) * time.Second)
		}
	}
	return q, true
}

// parseRetryAfter accepts delta-seconds or an HTTP date. Zero means no hint.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// errorMessage extracts a readable message from an error body
func errorMessage(status int, body []byte) string {
	var payload struct {
		Message          string `json:"message"`
		Error            string `json:"error"`
		ErrorDescription string `json:"error_description"`
		Errors           []struct {
			Message string `json:"message"`
		} `json:"errors"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		switch {
		case payload.ErrorDescription != "":
			return payload.ErrorDescription
		case payload.Message != "":
			return payload.Message
		case len(payload.Errors) > 0 && payload.Errors[0].Message != "":
			return payload.Errors[0].Message
		case payload.Error != "":
			return payload.Error
		}
	}
	return fmt.Sprintf("HTTP %d", status)
}

// ParseDecimal safely parses a string to decimal
func ParseDecimal(s string) decimal.Decimal {
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// asAuthError reclassifies a failed token request. Rate limits, server errors
// and transport failures keep their kind so they stay retryable.
func asAuthError(name marketplace.Name, err error) error {
	me, ok := marketplace.AsMarketplaceError(err)
	if !ok {
		return marketplace.NewAuthenticationError(name, "token request failed", err)
	}
	if me.Kind == marketplace.ErrorKindAuthentication || me.Kind == marketplace.ErrorKindRateLimited {
		return me
	}
	if me.StatusCode == 0 || me.StatusCode >= 500 {
		return me
	}
	auth := marketplace.NewAuthenticationError(name, me.Message, me.Cause)
	auth.StatusCode = me.StatusCode
	return auth
}

// notFoundAs attaches sentinel to a 404 so callers can match it with errors.Is
func notFoundAs(err error, sentinel error) error {
	if me, ok := marketplace.AsMarketplaceError(err); ok && me.StatusCode == http.StatusNotFound && me.Cause == nil {
		me.Cause = sentinel
	}
	return err
}

// isStatus reports whether err carries the given HTTP status
func isStatus(err error, status int) bool {
	me, ok := marketplace.AsMarketplaceError(err)
	return ok && me.StatusCode == status
}
