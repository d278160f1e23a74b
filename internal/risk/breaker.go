// Package risk implements the hard-gate RiskEngine and its circuit breaker
// set, generalized from the teacher's single PnL CircuitBreaker into a
// named-breaker registry covering rate limiting, API health, connectivity,
// exchange health, and volatility.
package risk

import (
	"sync"
	"time"

	"market_maker/internal/telemetry"
)

// BreakerState is open/closed, mirroring the teacher's CircuitState.
type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
)

// Breaker is a single named circuit with a cooldown-based auto-reset,
// adapted from the teacher's CircuitBreaker (consecutive-loss/drawdown trip)
// into a generic threshold-trip primitive reused across all five named
// breakers the RiskEngine evaluates.
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       BreakerState
	lastTripped time.Time
	cooldown    time.Duration
	reason      string
}

// NewBreaker builds a closed breaker with the given auto-reset cooldown.
func NewBreaker(name string, cooldown time.Duration) *Breaker {
	return &Breaker{name: name, state: BreakerClosed, cooldown: cooldown}
}

// Trip opens the breaker and records why.
func (b *Breaker) Trip(reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerOpen
	b.lastTripped = time.Now()
	b.reason = reason
	telemetry.GetGlobalMetrics().SetCircuitOpen(b.name, true)
}

// Reset manually closes the breaker.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = BreakerClosed
	b.reason = ""
	telemetry.GetGlobalMetrics().SetCircuitOpen(b.name, false)
}

// IsOpen reports whether the breaker is currently tripped, auto-resetting
// once the cooldown has elapsed.
func (b *Breaker) IsOpen() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != BreakerOpen {
		return false
	}
	if b.cooldown > 0 && time.Since(b.lastTripped) > b.cooldown {
		b.state = BreakerClosed
		b.reason = ""
		telemetry.GetGlobalMetrics().SetCircuitOpen(b.name, false)
		return false
	}
	return true
}

// Reason returns the trip reason, or "" when closed.
func (b *Breaker) Reason() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.reason
}

// BreakerSet holds the five named breakers the RiskEngine consults every
// cycle. Each one trips independently and any open breaker blocks all
// proposals for the cycle.
type BreakerSet struct {
	RateLimitCooldown   *Breaker
	APIHealth           *Breaker
	ExchangeConnectivity *Breaker
	ExchangeHealth      *Breaker
	VolatilityCrash     *Breaker

	mu                sync.Mutex
	consecutiveAPIErrs int
	staleSnapshotCount int
	volatilityWindow   []volSample
}

type volSample struct {
	at  time.Time
	nav float64
}

// NewBreakerSet builds the standard five breakers with policy-driven cooldowns.
func NewBreakerSet(rateLimitCooldownCycles int, cycleInterval time.Duration) *BreakerSet {
	return &BreakerSet{
		RateLimitCooldown:    NewBreaker("rate_limit_cooldown", time.Duration(rateLimitCooldownCycles)*cycleInterval),
		APIHealth:            NewBreaker("api_health", 5*time.Minute),
		ExchangeConnectivity: NewBreaker("exchange_connectivity", 2*time.Minute),
		ExchangeHealth:       NewBreaker("exchange_health", 5*time.Minute),
		VolatilityCrash:      NewBreaker("volatility_crash", 15*time.Minute),
	}
}

// RecordAPIError increments the consecutive-error counter used by the
// api_health breaker and trips it once it reaches maxConsecutive.
func (s *BreakerSet) RecordAPIError(maxConsecutive int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveAPIErrs++
	if maxConsecutive > 0 && s.consecutiveAPIErrs >= maxConsecutive {
		s.APIHealth.Trip("consecutive API error count exceeded threshold")
	}
}

// RecordAPISuccess resets the consecutive-error counter.
func (s *BreakerSet) RecordAPISuccess() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consecutiveAPIErrs = 0
}

// RecordRateLimited trips the rate_limit_cooldown breaker on a 429.
func (s *BreakerSet) RecordRateLimited() {
	s.RateLimitCooldown.Trip("repeated 429 responses from exchange")
}

// RecordConnectivityFailure trips exchange_connectivity after a failed probe.
func (s *BreakerSet) RecordConnectivityFailure() {
	s.ExchangeConnectivity.Trip("connectivity probe failed")
}

// RecordConnectivitySuccess resets exchange_connectivity.
func (s *BreakerSet) RecordConnectivitySuccess() {
	s.ExchangeConnectivity.Reset()
}

// RecordSnapshotStale increments the stale-snapshot counter and trips
// exchange_health once it reaches the configured threshold.
func (s *BreakerSet) RecordSnapshotStale(valid bool, threshold int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if valid {
		s.staleSnapshotCount = 0
		return
	}
	s.staleSnapshotCount++
	if threshold > 0 && s.staleSnapshotCount >= threshold {
		s.ExchangeHealth.Trip("exchange snapshot stale/invalid repeatedly")
	}
}

// RecordNAV appends a NAV sample and trips volatility_crash if the drawdown
// within windowCycles samples exceeds drawdownPct.
func (s *BreakerSet) RecordNAV(nav float64, windowCycles int, drawdownPct float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.volatilityWindow = append(s.volatilityWindow, volSample{at: time.Now(), nav: nav})
	if windowCycles > 0 && len(s.volatilityWindow) > windowCycles {
		s.volatilityWindow = s.volatilityWindow[len(s.volatilityWindow)-windowCycles:]
	}
	if len(s.volatilityWindow) < 2 || drawdownPct <= 0 {
		return
	}
	peak := s.volatilityWindow[0].nav
	for _, sample := range s.volatilityWindow {
		if sample.nav > peak {
			peak = sample.nav
		}
	}
	if peak <= 0 {
		return
	}
	drop := (peak - nav) / peak * 100
	if drop >= drawdownPct {
		s.VolatilityCrash.Trip("NAV drawdown within window exceeded threshold")
	}
}

// Tripped returns the name and reason of the first open breaker, if any.
func (s *BreakerSet) Tripped() (string, string, bool) {
	for _, b := range []*Breaker{s.RateLimitCooldown, s.APIHealth, s.ExchangeConnectivity, s.ExchangeHealth, s.VolatilityCrash} {
		if b.IsOpen() {
			return b.name, b.Reason(), true
		}
	}
	return "", "", false
}
