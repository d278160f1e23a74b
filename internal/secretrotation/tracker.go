// Package secretrotation tracks API credential rotation dates and raises
// alerts when rotation is overdue, per spec.md §4.10. It never performs the
// rotation itself (Coinbase key regeneration is a manual, out-of-band
// action) — it only tracks *when* it last happened and nags.
package secretrotation

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"market_maker/internal/core"
)

const (
	// PolicyDays is the maximum age a credential may reach before rotation
	// is considered overdue.
	PolicyDays = 90
	// WarningDays is how far ahead of the deadline a WARNING alert fires.
	WarningDays = 7
)

// Event is one recorded rotation.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Reason    string    `json:"reason"`
}

type metadata struct {
	LastRotationUTC time.Time `json:"last_rotation_utc"`
	PolicyDays      int       `json:"rotation_policy_days"`
	Rotations       []Event   `json:"rotations"`
}

// Status is a point-in-time, secret-free summary suitable for logging and
// alerting.
type Status struct {
	LastRotationUTC  time.Time
	DaysSinceRotate  float64
	DaysUntilDue     float64
	RotationDue      bool
	RotationWarning  bool
	PolicyDays       int
}

// Tracker persists rotation metadata to a JSON file under path.
type Tracker struct {
	path   string
	logger core.Logger
}

// New returns a Tracker backed by path, creating it (and its parent
// directory) with an "initial setup" rotation event if it doesn't exist.
func New(path string, logger core.Logger) (*Tracker, error) {
	t := &Tracker{path: path, logger: logger}
	if err := t.ensureExists(); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *Tracker) ensureExists() error {
	if _, err := os.Stat(t.path); err == nil {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o755); err != nil {
		return fmt.Errorf("secretrotation: create metadata dir: %w", err)
	}
	now := time.Now().UTC()
	md := metadata{
		LastRotationUTC: now,
		PolicyDays:      PolicyDays,
		Rotations:       []Event{{Timestamp: now, Reason: "initial setup (first run)"}},
	}
	if err := t.save(md); err != nil {
		return err
	}
	if t.logger != nil {
		t.logger.Info("initialized secret rotation metadata", "path", t.path)
	}
	return nil
}

func (t *Tracker) load() metadata {
	data, err := os.ReadFile(t.path)
	if err != nil {
		if t.logger != nil {
			t.logger.Error("failed to load rotation metadata, treating as overdue", "error", err.Error())
		}
		return metadata{LastRotationUTC: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), PolicyDays: PolicyDays}
	}
	var md metadata
	if err := json.Unmarshal(data, &md); err != nil {
		if t.logger != nil {
			t.logger.Error("failed to parse rotation metadata, treating as overdue", "error", err.Error())
		}
		return metadata{LastRotationUTC: time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), PolicyDays: PolicyDays}
	}
	if md.PolicyDays == 0 {
		md.PolicyDays = PolicyDays
	}
	return md
}

func (t *Tracker) save(md metadata) error {
	data, err := json.MarshalIndent(md, "", "  ")
	if err != nil {
		return fmt.Errorf("secretrotation: marshal metadata: %w", err)
	}
	if err := os.WriteFile(t.path, data, 0o644); err != nil {
		return fmt.Errorf("secretrotation: write metadata: %w", err)
	}
	return nil
}

// Status returns the current rotation status.
func (t *Tracker) Status() Status {
	md := t.load()
	daysSince := time.Since(md.LastRotationUTC).Hours() / 24
	daysUntilDue := float64(md.PolicyDays) - daysSince
	return Status{
		LastRotationUTC: md.LastRotationUTC,
		DaysSinceRotate: daysSince,
		DaysUntilDue:    daysUntilDue,
		RotationDue:     daysSince > float64(md.PolicyDays),
		RotationWarning: daysSince > float64(md.PolicyDays-WarningDays),
		PolicyDays:      md.PolicyDays,
	}
}

// RecordRotation appends a rotation event and resets the last-rotation
// clock. Call this after manually regenerating API credentials.
func (t *Tracker) RecordRotation(reason string) error {
	if reason == "" {
		reason = "manual rotation per policy"
	}
	md := t.load()
	now := time.Now().UTC()
	md.Rotations = append(md.Rotations, Event{Timestamp: now, Reason: reason})
	md.LastRotationUTC = now
	if err := t.save(md); err != nil {
		return err
	}
	if t.logger != nil {
		t.logger.Info("recorded secret rotation", "reason", reason, "next_due", now.AddDate(0, 0, md.PolicyDays).Format("2006-01-02"))
	}
	return nil
}

// History returns the most recent rotation events, newest first, capped at
// limit.
func (t *Tracker) History(limit int) []Event {
	md := t.load()
	events := append([]Event(nil), md.Rotations...)
	sort.Slice(events, func(i, j int) bool { return events[i].Timestamp.After(events[j].Timestamp) })
	if limit > 0 && len(events) > limit {
		events = events[:limit]
	}
	return events
}

// CheckAndAlert evaluates rotation status and fires a CRITICAL alert when
// overdue or a WARNING alert when approaching the deadline. sink may be nil,
// in which case only the status is logged.
func (t *Tracker) CheckAndAlert(ctx context.Context, sink core.AlertSink) {
	status := t.Status()

	switch {
	case status.RotationDue:
		msg := fmt.Sprintf("API secrets overdue for rotation. Last rotation %s (%.1f days ago). Policy requires rotation every %d days. Rotate Coinbase API keys immediately.",
			status.LastRotationUTC.Format("2006-01-02"), status.DaysSinceRotate, status.PolicyDays)
		if t.logger != nil {
			t.logger.Error(msg)
		}
		if sink != nil {
			_ = sink.Send(ctx, core.AlertCritical, "Secret Rotation Overdue", msg, map[string]string{"category": "compliance"})
		}
	case status.RotationWarning:
		msg := fmt.Sprintf("API secrets rotation approaching. Last rotation %s (%.1f days ago). Due in %.1f days.",
			status.LastRotationUTC.Format("2006-01-02"), status.DaysSinceRotate, status.DaysUntilDue)
		if t.logger != nil {
			t.logger.Warn(msg)
		}
		if sink != nil {
			_ = sink.Send(ctx, core.AlertWarning, "Secret Rotation Due Soon", msg, map[string]string{"category": "compliance"})
		}
	default:
		if t.logger != nil {
			t.logger.Info("secret rotation status ok", "days_since_rotation", status.DaysSinceRotate, "days_until_due", status.DaysUntilDue)
		}
	}
}
