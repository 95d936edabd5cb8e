package wiz

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Fixture sources recorded in the inventory.
const (
	SourceConfig       = "config"
	SourceDiscovery    = "discovery"
	SourceNotification = "notification"
)

// FixtureRecord is one row of the fixture inventory.
type FixtureRecord struct {
	Address   string    `json:"address"`
	MAC       string    `json:"mac,omitempty"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
	SeenCount int       `json:"seen_count"`
	LastRSSI  int       `json:"last_rssi,omitempty"`
	Source    string    `json:"source"`
}

// FixtureRecorder keeps an inventory of every fixture the bridge has seen
// in the wiz_fixtures table. It records addresses, MACs and signal strength;
// fixture state is not persisted.
//
// Thread Safety: All methods are safe for concurrent use.
type FixtureRecorder struct {
	db     *sql.DB
	logger Logger

	upsertStmt *sql.Stmt
	stmtMu     sync.Mutex

	closed bool
	mu     sync.RWMutex
}

// NewFixtureRecorder creates a recorder. The database must have the
// wiz_fixtures table (see migrations).
func NewFixtureRecorder(db *sql.DB) *FixtureRecorder {
	return &FixtureRecorder{db: db}
}

// SetLogger sets the logger for the recorder.
func (r *FixtureRecorder) SetLogger(logger Logger) {
	r.logger = logger
}

// Start prepares the upsert statement. Idempotent.
func (r *FixtureRecorder) Start() error {
	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		return nil
	}

	// An empty MAC or zero RSSI never overwrites a known value.
	stmt, err := r.db.Prepare(`
		INSERT INTO wiz_fixtures (address, mac, first_seen, last_seen, seen_count, last_rssi, source)
		VALUES (?, ?, ?, ?, 1, ?, ?)
		ON CONFLICT(address) DO UPDATE SET
			mac = CASE WHEN excluded.mac != '' THEN excluded.mac ELSE mac END,
			last_seen = excluded.last_seen,
			seen_count = seen_count + 1,
			last_rssi = CASE WHEN excluded.last_rssi != 0 THEN excluded.last_rssi ELSE last_rssi END
	`)
	if err != nil {
		return fmt.Errorf("preparing fixture upsert statement: %w", err)
	}

	r.upsertStmt = stmt
	r.log("fixture recorder started")
	return nil
}

// Stop releases the prepared statement. Later records are dropped.
func (r *FixtureRecorder) Stop() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	r.stmtMu.Lock()
	defer r.stmtMu.Unlock()

	if r.upsertStmt != nil {
		r.upsertStmt.Close()
		r.upsertStmt = nil
	}
}

// RecordFixture upserts a sighting of the fixture at address.
//
// Parameters:
//   - address: Fixture IPv4 address
//   - mac: Reported MAC, or "" if unknown
//   - rssi: Reported signal strength, or 0 if unknown
//   - source: SourceConfig, SourceDiscovery or SourceNotification; only
//     the first sighting's source is kept
func (r *FixtureRecorder) RecordFixture(address, mac string, rssi int, source string) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return
	}

	r.stmtMu.Lock()
	stmt := r.upsertStmt
	r.stmtMu.Unlock()
	if stmt == nil {
		return
	}

	now := time.Now().Unix()
	if _, err := stmt.Exec(address, mac, now, now, rssi, source); err != nil {
		r.logError("recording fixture", err)
	}
}

// Fixtures returns the inventory ordered by address.
func (r *FixtureRecorder) Fixtures(ctx context.Context) ([]FixtureRecord, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT address, mac, first_seen, last_seen, seen_count, last_rssi, source
		FROM wiz_fixtures ORDER BY address
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []FixtureRecord
	for rows.Next() {
		rec, err := scanFixture(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Fixture returns the inventory row for address, or ErrFixtureNotFound.
func (r *FixtureRecorder) Fixture(ctx context.Context, address string) (FixtureRecord, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT address, mac, first_seen, last_seen, seen_count, last_rssi, source
		FROM wiz_fixtures WHERE address = ?
	`, address)

	rec, err := scanFixture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return FixtureRecord{}, fmt.Errorf("%w: %s", ErrFixtureNotFound, address)
	}
	return rec, err
}

// Count returns the number of fixtures in the inventory.
func (r *FixtureRecorder) Count(ctx context.Context) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM wiz_fixtures`).Scan(&count)
	return count, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanFixture(s scanner) (FixtureRecord, error) {
	var (
		rec             FixtureRecord
		first, lastSeen int64
	)
	if err := s.Scan(&rec.Address, &rec.MAC, &first, &lastSeen, &rec.SeenCount, &rec.LastRSSI, &rec.Source); err != nil {
		return FixtureRecord{}, err
	}
	rec.FirstSeen = time.Unix(first, 0).UTC()
	rec.LastSeen = time.Unix(lastSeen, 0).UTC()
	return rec, nil
}

func (r *FixtureRecorder) log(msg string, keysAndValues ...any) {
	if r.logger != nil {
		r.logger.Info(msg, keysAndValues...)
	}
}

func (r *FixtureRecorder) logError(msg string, err error) {
	if r.logger != nil {
		r.logger.Error(msg, "error", err)
	}
}
