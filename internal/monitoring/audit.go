// Package monitoring - audit.go persists gateway events to SQLite.
//
// DESIGN: Breaker transitions, health changes, and registry mutations
// are the gateway's core failure-isolation record and must survive a
// restart. They land in a single-table SQLite database (pure-Go
// driver, no cgo). Writes are log-and-continue: a broken audit disk
// never fails the operation that produced the event.
package monitoring

import (
	"database/sql"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS gateway_events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      TEXT NOT NULL,
	kind    TEXT NOT NULL,
	service TEXT NOT NULL DEFAULT '',
	detail  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_gateway_events_kind ON gateway_events(kind);
`

// pruneEvery bounds how often the retention query runs.
const pruneEvery = 64

// AuditLog is a persistent, size-capped record of gateway events.
type AuditLog struct {
	db            *sql.DB
	maxRows       int
	sincePrune    atomic.Int64
	writeFailures atomic.Int64
}

// OpenAudit opens (or creates) the audit database at path and applies
// the schema. maxRows caps retention; oldest events are pruned first.
func OpenAudit(path string, maxRows int) (*AuditLog, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit db: %w", err)
	}
	// A single writer sidesteps SQLITE_BUSY entirely.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(auditSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply audit schema: %w", err)
	}

	a := &AuditLog{db: db, maxRows: maxRows}
	a.prune()
	return a, nil
}

// Record appends an event. Failures are logged and swallowed; the
// caller's operation must not depend on audit durability.
func (a *AuditLog) Record(evt Event) {
	_, err := a.db.Exec(
		`INSERT INTO gateway_events (ts, kind, service, detail) VALUES (?, ?, ?, ?)`,
		evt.Time.UTC().Format(time.RFC3339Nano), string(evt.Kind), evt.Service, evt.Detail,
	)
	if err != nil {
		a.writeFailures.Add(1)
		log.Warn().Err(err).Str("kind", string(evt.Kind)).Msg("Audit write failed")
		return
	}
	if a.sincePrune.Add(1) >= pruneEvery {
		a.sincePrune.Store(0)
		a.prune()
	}
}

// Recent returns up to limit events, newest first.
func (a *AuditLog) Recent(limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := a.db.Query(
		`SELECT ts, kind, service, detail FROM gateway_events ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Event
	for rows.Next() {
		var ts, kind, service, detail string
		if err := rows.Scan(&ts, &kind, &service, &detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		t, _ := time.Parse(time.RFC3339Nano, ts)
		out = append(out, Event{Time: t, Kind: EventKind(kind), Service: service, Detail: detail})
	}
	return out, rows.Err()
}

// CountEvents returns the number of stored events.
func (a *AuditLog) CountEvents() (int, error) {
	var n int
	err := a.db.QueryRow(`SELECT COUNT(*) FROM gateway_events`).Scan(&n)
	return n, err
}

// WriteFailures returns how many inserts have failed since open.
func (a *AuditLog) WriteFailures() int64 {
	return a.writeFailures.Load()
}

// prune enforces the row cap by dropping the oldest events.
func (a *AuditLog) prune() {
	if a.maxRows <= 0 {
		return
	}
	_, err := a.db.Exec(
		`DELETE FROM gateway_events WHERE id NOT IN (
			SELECT id FROM gateway_events ORDER BY id DESC LIMIT ?)`, a.maxRows)
	if err != nil {
		log.Warn().Err(err).Msg("Audit prune failed")
	}
}

// Close releases the database handle.
func (a *AuditLog) Close() error {
	return a.db.Close()
}
