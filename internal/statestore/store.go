// Package statestore persists PortfolioState/OpenOrders/PendingMarkers to a
// single JSON snapshot (write-temp, fsync, rename) with rotated backups, and
// mirrors AuditEvents into a queryable sqlite table, grounded on the
// teacher's internal/engine/simple.SQLiteStore (checksum + WAL shape) and
// its sibling store_memory.go's in-memory snapshot contract.
package statestore

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	_ "github.com/mattn/go-sqlite3"

	"market_maker/internal/core"
)

const (
	snapshotFile = "state.json"
	maxBackups   = 5
)

// Store implements core.StateStore against a JSON file (source of truth)
// plus a sqlite mirror of audit events (queryable, not authoritative).
type Store struct {
	dir    string
	db     *sql.DB
	logger core.Logger

	mu    sync.Mutex
	state core.PersistedState
}

// New opens (creating if absent) the sqlite events mirror under dir and
// returns a Store. Call Load to populate state from disk.
func New(dir string, logger core.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("statestore: create data dir: %w", err)
	}

	db, err := sql.Open("sqlite3", filepath.Join(dir, "events.db"))
	if err != nil {
		return nil, fmt.Errorf("statestore: open sqlite mirror: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("statestore: enable WAL: %w", err)
	}
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ts INTEGER NOT NULL,
		kind TEXT NOT NULL,
		detail TEXT NOT NULL
	)`); err != nil {
		return nil, fmt.Errorf("statestore: create events table: %w", err)
	}

	return &Store{
		dir:    dir,
		db:     db,
		logger: logger,
		state:  newDefaultPersistedState(),
	}, nil
}

func (s *Store) path() string { return filepath.Join(s.dir, snapshotFile) }

// Load reads the JSON snapshot. A missing file initializes safe defaults; a
// corrupt or torn file falls back to the newest readable backup, then to
// safe defaults if no backup parses either.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path())
	if err == nil {
		var st core.PersistedState
		if uerr := json.Unmarshal(data, &st); uerr == nil {
			s.state = st
			return nil
		}
		if s.logger != nil {
			s.logger.Warn("state snapshot corrupt, trying backups", "path", s.path())
		}
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("statestore: read snapshot: %w", err)
	}

	for _, backup := range s.backupsNewestFirst() {
		data, err := os.ReadFile(backup)
		if err != nil {
			continue
		}
		var st core.PersistedState
		if err := json.Unmarshal(data, &st); err == nil {
			if s.logger != nil {
				s.logger.Warn("restored state from backup", "backup", backup)
			}
			s.state = st
			return nil
		}
	}

	if s.logger != nil {
		s.logger.Warn("no usable state snapshot or backup, reinitializing with defaults")
	}
	s.state = newDefaultPersistedState()
	return nil
}

func newDefaultPersistedState() core.PersistedState {
	return core.PersistedState{
		Portfolio:      core.NewPortfolioState(),
		OpenOrders:     make(map[string]core.Order),
		PendingMarkers: make(map[string]core.PendingMarker),
		LatencyStats:   make(map[string]core.LatencyStats),
	}
}

// Save atomically writes the snapshot: marshal, write to a temp file in the
// same directory, fsync, rename over the target, then rotate the previous
// good file into the backup chain.
func (s *Store) Save(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.SavedAt = time.Now().UTC()
	data, err := json.MarshalIndent(s.state, "", "  ")
	if err != nil {
		return fmt.Errorf("statestore: marshal snapshot: %w", err)
	}

	tmp := s.path() + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("statestore: open temp snapshot: %w", err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return fmt.Errorf("statestore: write temp snapshot: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("statestore: fsync temp snapshot: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("statestore: close temp snapshot: %w", err)
	}

	s.rotateBackupsLocked()
	if err := os.Rename(tmp, s.path()); err != nil {
		return fmt.Errorf("statestore: rename temp snapshot: %w", err)
	}
	return nil
}

func (s *Store) rotateBackupsLocked() {
	if _, err := os.Stat(s.path()); err != nil {
		return
	}
	for i := maxBackups - 1; i >= 1; i-- {
		src := fmt.Sprintf("%s.bak.%d", s.path(), i)
		dst := fmt.Sprintf("%s.bak.%d", s.path(), i+1)
		if _, err := os.Stat(src); err == nil {
			_ = os.Rename(src, dst)
		}
	}
	_ = os.Rename(s.path(), s.path()+".bak.1")
}

func (s *Store) backupsNewestFirst() []string {
	var backups []string
	for i := 1; i <= maxBackups; i++ {
		p := fmt.Sprintf("%s.bak.%d", s.path(), i)
		if _, err := os.Stat(p); err == nil {
			backups = append(backups, p)
		}
	}
	sort.Strings(backups)
	return backups
}

// Snapshot returns a copy of the in-memory persisted state.
func (s *Store) Snapshot() core.PersistedState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// UpdateFromFills records each fill as a "fill" audit event and mirrors it to
// the sqlite events table. Cash balances and positions are not changed here.
func (s *Store) UpdateFromFills(fills []core.Fill) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, f := range fills {
		s.appendEventLocked(core.AuditEvent{
			Timestamp: time.Now().UTC(),
			Kind:      "fill",
			Detail: map[string]interface{}{
				"order_id":  f.OrderID,
				"product":   f.ProductID,
				"price":     f.Price.String(),
				"base_size": f.EffectiveBaseSize().String(),
			},
		})
		if err := s.mirrorEventLocked("fill", f.OrderID); err != nil {
			return err
		}
	}
	return nil
}

// ReconcileExchangeSnapshot overwrites the positions/cash/open-orders view
// with a freshly fetched exchange snapshot.
func (s *Store) ReconcileExchangeSnapshot(positions map[string]core.Position, cash map[string]decimal.Decimal, openOrders map[string]core.Order, ts time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.state.Portfolio.OpenPositions = positions
	for k, v := range cash {
		s.state.Portfolio.CashBalances[k] = v
	}
	s.state.OpenOrders = openOrders
	s.appendEventLocked(core.AuditEvent{Timestamp: ts, Kind: "reconcile", Detail: map[string]interface{}{"positions": len(positions), "open_orders": len(openOrders)}})
	return s.mirrorEventLocked("reconcile", "")
}

// RecordOpenOrder tracks a newly submitted order in the persisted index.
func (s *Store) RecordOpenOrder(clientOrderID string, order core.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.OpenOrders == nil {
		s.state.OpenOrders = make(map[string]core.Order)
	}
	s.state.OpenOrders[clientOrderID] = order
	return nil
}

// CloseOrder removes an order from the open index and records its terminal
// disposition as an audit event.
func (s *Store) CloseOrder(clientOrderID string, status core.OrderStatus, detail map[string]interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.state.OpenOrders, clientOrderID)
	merged := map[string]interface{}{"client_order_id": clientOrderID, "status": string(status)}
	for k, v := range detail {
		merged[k] = v
	}
	s.appendEventLocked(core.AuditEvent{Timestamp: time.Now().UTC(), Kind: "order_closed", Detail: merged})
	return s.mirrorEventLocked("order_closed", clientOrderID)
}

// PurgeExpiredPending drops pending exposure markers past their ExpiresAt
// and returns how many were removed.
func (s *Store) PurgeExpiredPending(now time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for id, marker := range s.state.PendingMarkers {
		if now.After(marker.ExpiresAt) {
			delete(s.state.PendingMarkers, id)
			removed++
		}
	}
	return removed
}

// UpdateLatencyStats records the latest latency percentile snapshot for an
// endpoint so it survives restarts.
func (s *Store) UpdateLatencyStats(endpoint string, stats core.LatencyStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.LatencyStats == nil {
		s.state.LatencyStats = make(map[string]core.LatencyStats)
	}
	s.state.LatencyStats[endpoint] = stats
}

func (s *Store) appendEventLocked(ev core.AuditEvent) {
	s.state.Events = append(s.state.Events, ev)
	const maxInMemoryEvents = 1000
	if len(s.state.Events) > maxInMemoryEvents {
		s.state.Events = s.state.Events[len(s.state.Events)-maxInMemoryEvents:]
	}
}

func (s *Store) mirrorEventLocked(kind, detail string) error {
	checksum := sha256.Sum256([]byte(kind + detail))
	_, err := s.db.Exec(`INSERT INTO events (ts, kind, detail) VALUES (?, ?, ?)`, time.Now().UnixNano(), kind, fmt.Sprintf("%s:%x", detail, checksum[:4]))
	return err
}

// Close releases the sqlite handle.
func (s *Store) Close() error {
	return s.db.Close()
}

var _ core.StateStore = (*Store)(nil)
