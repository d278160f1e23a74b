// Package clocksync validates host clock drift against public NTP servers
// before trading starts, mode-gated per spec.md §4.9. Grounded on
// original_source/infra/clock_sync.py's query/offset math, reimplemented
// against the raw NTP wire format with stdlib net.
package clocksync

import (
	"encoding/binary"
	"fmt"
	"net"
	"time"

	"market_maker/internal/core"
)

const ntpEpochOffset = 2208988800 // seconds between 1900-01-01 and 1970-01-01

// DefaultServers is the fallback list queried in order until one answers.
var DefaultServers = []string{
	"pool.ntp.org",
	"time.cloudflare.com",
	"time.google.com",
}

// Result is one successful NTP query's derived offset/round-trip.
type Result struct {
	Server      string
	OffsetMs    float64
	RoundTripMs float64
}

// Validator queries NTP servers and gates startup on drift.
type Validator struct {
	Servers    []string
	MaxDriftMs float64
	Timeout    time.Duration
	logger     core.Logger
}

// New builds a Validator with the REQ-TIME1 default of 100ms max drift.
func New(logger core.Logger) *Validator {
	return &Validator{
		Servers:    DefaultServers,
		MaxDriftMs: 100,
		Timeout:    5 * time.Second,
		logger:     logger,
	}
}

// Query tries each configured server in turn, returning the first
// successful result. Returns an error only once every server has failed.
func (v *Validator) Query() (Result, error) {
	var lastErr error
	for _, server := range v.Servers {
		result, err := v.queryOne(server)
		if err != nil {
			lastErr = err
			if v.logger != nil {
				v.logger.Warn("ntp query failed", "server", server, "error", err.Error())
			}
			continue
		}
		return result, nil
	}
	return Result{}, fmt.Errorf("clocksync: all ntp servers unreachable: %w", lastErr)
}

func (v *Validator) queryOne(server string) (Result, error) {
	conn, err := net.DialTimeout("udp", server+":123", v.Timeout)
	if err != nil {
		return Result{}, err
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(v.Timeout))

	req := make([]byte, 48)
	req[0] = 0x1b // LI=0, VN=3, Mode=3 (client)

	t1 := time.Now()
	if _, err := conn.Write(req); err != nil {
		return Result{}, err
	}

	resp := make([]byte, 48)
	if _, err := conn.Read(resp); err != nil {
		return Result{}, err
	}
	t4 := time.Now()

	t2 := ntpTimestampToUnix(resp[32:40])
	t3 := ntpTimestampToUnix(resp[40:48])
	t1Unix := float64(t1.UnixNano()) / 1e9
	t4Unix := float64(t4.UnixNano()) / 1e9

	offset := ((t2 - t1Unix) + (t3 - t4Unix)) / 2
	roundTrip := (t4Unix - t1Unix) - (t3 - t2)

	return Result{
		Server:      server,
		OffsetMs:    offset * 1000,
		RoundTripMs: roundTrip * 1000,
	}, nil
}

func ntpTimestampToUnix(b []byte) float64 {
	raw := binary.BigEndian.Uint64(b)
	seconds := float64(raw>>32) - ntpEpochOffset
	frac := float64(raw&0xFFFFFFFF) / (1 << 32)
	return seconds + frac
}

// ValidateOrFail runs the mode-gated startup check: DRY_RUN always passes;
// PAPER logs a warning on excess drift or unreachable servers but never
// blocks; LIVE returns an error that the caller must treat as a startup
// failure.
func (v *Validator) ValidateOrFail(mode core.Mode) error {
	if mode == core.ModeDryRun {
		if v.logger != nil {
			v.logger.Info("clock sync check skipped (DRY_RUN)")
		}
		return nil
	}

	result, err := v.Query()
	if err != nil {
		if mode == core.ModeLive {
			return fmt.Errorf("clocksync: %w", err)
		}
		if v.logger != nil {
			v.logger.Warn("clock sync unreachable, continuing in PAPER mode", "error", err.Error())
		}
		return nil
	}

	drift := absFloat(result.OffsetMs)
	if drift <= v.MaxDriftMs {
		if v.logger != nil {
			v.logger.Info("clock sync validated", "server", result.Server, "drift_ms", drift)
		}
		return nil
	}

	if mode == core.ModeLive {
		return fmt.Errorf("clocksync: drift %.1fms exceeds max %.1fms (server=%s)", drift, v.MaxDriftMs, result.Server)
	}
	if v.logger != nil {
		v.logger.Warn("clock drift exceeds tolerance in PAPER mode", "drift_ms", drift, "max_drift_ms", v.MaxDriftMs)
	}
	return nil
}

func absFloat(f float64) float64 {
	if f < 0 {
		return -f
	}
	return f
}
