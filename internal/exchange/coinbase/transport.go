package coinbase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"time"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/circuitbreaker"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"market_maker/internal/core"
	"market_maker/internal/ratelimit"
	"market_maker/internal/telemetry"
	apperrors "market_maker/pkg/errors"
)

const (
	retryBaseDelay = 1 * time.Second
	retryCapDelay  = 30 * time.Second
)

// APIError is a non-2xx HTTP response from the exchange.
type APIError struct {
	StatusCode int
	Body       []byte
}

func (e *APIError) Error() string {
	return fmt.Sprintf("coinbase: API error status=%d body=%s", e.StatusCode, string(e.Body))
}

// IsRetryable reports whether this status should be retried (429 or 5xx).
func (e *APIError) IsRetryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode >= 500
}

// transport wraps http.Client with a failsafe-go circuit breaker that opens
// when 5 of the last 10 requests fail with a network error or a 5xx, plus a
// bespoke full-jitter retry loop (REQ-CB1)
// run outside the failsafe pipeline so the exact backoff formula is
// enforceable deterministically in tests.
type transport struct {
	httpClient *http.Client
	baseURL    string
	signer     Signer
	breaker    failsafe.Executor[*http.Response]
	maxRetries int
	logger     core.Logger
	latency    *telemetry.LatencyTracker
	limiter    *ratelimit.Limiter

	tracer      trace.Tracer
	reqCounter  metric.Int64Counter
	errCounter  metric.Int64Counter
	latencyHist metric.Float64Histogram
}

func newTransport(baseURL string, timeout time.Duration, signer Signer, logger core.Logger, latency *telemetry.LatencyTracker) *transport {
	breaker := circuitbreaker.NewBuilder[*http.Response]().
		HandleIf(func(resp *http.Response, err error) bool {
			if err != nil {
				return true
			}
			return resp.StatusCode >= 500
		}).
		WithFailureThresholdRatio(5, 10).
		WithDelay(10 * time.Second).
		Build()

	tracer := telemetry.GetTracer("coinbase-client")
	meter := telemetry.GetMeter("coinbase-client")
	reqCounter, _ := meter.Int64Counter("http_requests_total", metric.WithDescription("Total HTTP requests to the exchange"))
	errCounter, _ := meter.Int64Counter("http_errors_total", metric.WithDescription("Total HTTP errors from the exchange"))
	latencyHist, _ := meter.Float64Histogram("http_request_duration_seconds", metric.WithDescription("Exchange HTTP request latency in seconds"))

	return &transport{
		httpClient:  &http.Client{Timeout: timeout},
		baseURL:     baseURL,
		signer:      signer,
		breaker:     failsafe.With[*http.Response](breaker),
		maxRetries:  3,
		logger:      logger,
		latency:     latency,
		tracer:      tracer,
		reqCounter:  reqCounter,
		errCounter:  errCounter,
		latencyHist: latencyHist,
	}
}

func (t *transport) get(ctx context.Context, path string, query map[string]string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	q := req.URL.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	req.URL.RawQuery = q.Encode()
	return t.doWithRetry(req)
}

func (t *transport) post(ctx context.Context, path string, body interface{}) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return t.doWithRetry(req)
}

func (t *transport) delete(ctx context.Context, path string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.baseURL+path, nil)
	if err != nil {
		return nil, err
	}
	return t.doWithRetry(req)
}

// doWithRetry applies the REQ-CB1 full-jitter retry formula:
// sleep = random_uniform(0, min(cap, base*2^attempt)). Only network errors,
// timeouts, 429, and 5xx are retried; 4xx (excluding 429) is returned
// immediately. No sleep after the final attempt.
func (t *transport) doWithRetry(req *http.Request) ([]byte, error) {
	if t.limiter != nil {
		if err := t.limiter.Acquire(req.Context(), req.URL.Path, 1, true, true); err != nil {
			return nil, fmt.Errorf("coinbase: rate limiter: %w", err)
		}
	}
	var lastErr error
	for attempt := 0; attempt <= t.maxRetries; attempt++ {
		body, err := t.doOnce(cloneRequest(req))
		if err == nil {
			return body, nil
		}
		lastErr = err

		var apiErr *APIError
		retryable := true
		if ok := asAPIError(err, &apiErr); ok {
			retryable = apiErr.IsRetryable()
			if apiErr.StatusCode == http.StatusTooManyRequests {
				telemetry.GetGlobalMetrics().SetRateLimitUtilization(req.URL.Path, 1.0)
			}
		}
		if !retryable {
			return nil, err
		}
		if attempt == t.maxRetries {
			break
		}
		if t.logger != nil {
			t.logger.Warn("coinbase request retrying", "path", req.URL.Path, "attempt", attempt, "error", err.Error())
		}
		time.Sleep(fullJitterBackoff(attempt))
	}
	return nil, lastErr
}

// fullJitterBackoff implements sleep = random_uniform(0, min(cap, base*2^attempt)).
func fullJitterBackoff(attempt int) time.Duration {
	max := retryBaseDelay * time.Duration(1<<uint(attempt))
	if max > retryCapDelay {
		max = retryCapDelay
	}
	if max <= 0 {
		return 0
	}
	return time.Duration(rand.Int63n(int64(max)))
}

func (t *transport) doOnce(req *http.Request) ([]byte, error) {
	start := time.Now()
	ctx, span := t.tracer.Start(req.Context(), req.Method+" "+req.URL.Path)
	defer span.End()
	req = req.WithContext(ctx)

	if t.signer != nil {
		if err := t.signer.SignRequest(req); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("coinbase: sign request: %w", err)
		}
	}

	resp, err := t.breaker.GetWithExecution(func(exec failsafe.Execution[*http.Response]) (*http.Response, error) {
		return t.httpClient.Do(req)
	})

	duration := time.Since(start)
	attrs := metric.WithAttributes(attribute.String("method", req.Method), attribute.String("path", req.URL.Path))
	t.reqCounter.Add(ctx, 1, attrs)
	t.latencyHist.Record(ctx, duration.Seconds(), attrs)
	if t.latency != nil {
		t.latency.Record(req.URL.Path, duration)
	}

	if err != nil {
		span.RecordError(err)
		t.errCounter.Add(ctx, 1, attrs)
		return nil, fmt.Errorf("coinbase: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("coinbase: read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		t.errCounter.Add(ctx, 1, attrs)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: respBody}
		if sentinel := classifyStatus(resp.StatusCode); sentinel != nil {
			return nil, fmt.Errorf("%w: %w", sentinel, apiErr)
		}
		return nil, apiErr
	}
	return respBody, nil
}

// classifyStatus maps a response status to one of the standardized exchange
// errors so callers can test with errors.Is instead of switching on
// APIError.StatusCode directly.
func classifyStatus(status int) error {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return apperrors.ErrAuthenticationFailed
	case http.StatusTooManyRequests:
		return apperrors.ErrRateLimitExceeded
	case http.StatusNotFound:
		return apperrors.ErrOrderNotFound
	case http.StatusServiceUnavailable:
		return apperrors.ErrExchangeMaintenance
	default:
		return nil
	}
}

func asAPIError(err error, target **APIError) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	*target = ae
	return true
}

func cloneRequest(req *http.Request) *http.Request {
	clone := req.Clone(req.Context())
	if req.Body != nil {
		if b, err := io.ReadAll(req.Body); err == nil {
			req.Body = io.NopCloser(bytes.NewReader(b))
			clone.Body = io.NopCloser(bytes.NewReader(b))
		}
	}
	return clone
}
