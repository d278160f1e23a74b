// Package ratelimit implements per-endpoint token-bucket quotas against the
// exchange, grounded on the teacher's order executor's use of
// golang.org/x/time/rate for its submit-path limiter.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"market_maker/internal/core"
	"market_maker/internal/telemetry"
)

// defaultPublicRPS and defaultPrivateRPS back unconfigured endpoints, split
// by whether they require authentication, per REQ in the RateLimiter spec.
const (
	defaultPublicRPS  = 10.0
	defaultPrivateRPS = 15.0
	defaultAlertThreshold = 0.8
)

type bucket struct {
	limiter *rate.Limiter
	ratePerSec float64

	mu          sync.Mutex
	windowStart time.Time
	callsInWindow int
}

// Limiter is a thread-safe collection of per-endpoint token buckets.
type Limiter struct {
	mu             sync.Mutex
	buckets        map[string]*bucket
	alertThreshold float64
	logger         core.Logger
	alerts         core.AlertSink
}

// New creates a Limiter. alertThreshold defaults to 0.8 when <= 0.
func New(alertThreshold float64, logger core.Logger, alerts core.AlertSink) *Limiter {
	if alertThreshold <= 0 {
		alertThreshold = defaultAlertThreshold
	}
	return &Limiter{
		buckets:        make(map[string]*bucket),
		alertThreshold: alertThreshold,
		logger:         logger,
		alerts:         alerts,
	}
}

// Configure sets an explicit requests-per-second quota for an endpoint,
// overriding the public/private default that would otherwise apply.
func (l *Limiter) Configure(endpoint string, requestsPerSecond float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.buckets[endpoint] = &bucket{
		limiter:     rate.NewLimiter(rate.Limit(requestsPerSecond), maxBurst(requestsPerSecond)),
		ratePerSec:  requestsPerSecond,
		windowStart: time.Now(),
	}
}

func maxBurst(rps float64) int {
	b := int(rps)
	if b < 1 {
		b = 1
	}
	return b
}

func (l *Limiter) bucketFor(endpoint string, private bool) *bucket {
	l.mu.Lock()
	defer l.mu.Unlock()
	b, ok := l.buckets[endpoint]
	if !ok {
		rps := defaultPublicRPS
		if private {
			rps = defaultPrivateRPS
		}
		b = &bucket{
			limiter:     rate.NewLimiter(rate.Limit(rps), maxBurst(rps)),
			ratePerSec:  rps,
			windowStart: time.Now(),
		}
		l.buckets[endpoint] = b
	}
	return b
}

// Acquire blocks (when wait is true) until `tokens` are available for
// endpoint, or returns immediately with an error when the context expires
// first. It records utilization and fires an alert above alertThreshold.
func (l *Limiter) Acquire(ctx context.Context, endpoint string, tokens int, wait bool, private bool) error {
	if tokens <= 0 {
		tokens = 1
	}
	b := l.bucketFor(endpoint, private)

	b.mu.Lock()
	if time.Since(b.windowStart) >= time.Second {
		b.windowStart = time.Now()
		b.callsInWindow = 0
	}
	b.callsInWindow += tokens
	util := float64(b.callsInWindow) / b.ratePerSec
	b.mu.Unlock()

	telemetry.GetGlobalMetrics().SetRateLimitUtilization(endpoint, util)
	if util >= l.alertThreshold {
		if l.logger != nil {
			l.logger.Warn("rate limit utilization high", "endpoint", endpoint, "utilization", util)
		}
		if l.alerts != nil {
			_ = l.alerts.Send(ctx, core.AlertWarning, "rate limit utilization high",
				endpoint, map[string]string{"endpoint": endpoint, "utilization": fmt.Sprintf("%.2f", util)})
		}
	}

	if !wait {
		if b.limiter.AllowN(time.Now(), tokens) {
			return nil
		}
		return core.NewRateLimitExceeded(endpoint)
	}
	return b.limiter.WaitN(ctx, tokens)
}

// WaitTime returns how long a caller would need to wait before `tokens` are
// available for endpoint, without consuming any.
func (l *Limiter) WaitTime(endpoint string, tokens int, private bool) time.Duration {
	if tokens <= 0 {
		tokens = 1
	}
	b := l.bucketFor(endpoint, private)
	r := b.limiter.ReserveN(time.Now(), tokens)
	defer r.Cancel()
	if !r.OK() {
		return time.Duration(0)
	}
	d := r.Delay()
	if d < 0 {
		return 0
	}
	return d
}

// Snapshot returns the current utilization fraction for every endpoint that
// has been accessed, for the health endpoint's exchange_rate_limits field.
func (l *Limiter) Snapshot() map[string]float64 {
	l.mu.Lock()
	endpoints := make([]string, 0, len(l.buckets))
	bks := make([]*bucket, 0, len(l.buckets))
	for ep, b := range l.buckets {
		endpoints = append(endpoints, ep)
		bks = append(bks, b)
	}
	l.mu.Unlock()

	out := make(map[string]float64, len(endpoints))
	for i, ep := range endpoints {
		b := bks[i]
		b.mu.Lock()
		util := float64(b.callsInWindow) / b.ratePerSec
		b.mu.Unlock()
		out[ep] = util
	}
	return out
}
