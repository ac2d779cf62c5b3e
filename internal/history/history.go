// Package history provides a SQLite-backed journal of every alert the
// scanner has sent, capped to a configured size.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Alert kinds recorded in the journal.
const (
	KindNewMarket   = "new_market"
	KindPriceSpike  = "price_spike"
	KindRangeEntry  = "range_entry"
	KindVolumeSpike = "volume_spike"
	KindWhaleTrade  = "whale_trade"
	KindInsider     = "insider_detection"
)

// Entry is one journaled alert.
type Entry struct {
	ID      string
	Kind    string
	Subject string // outcome, market, or wallet identifier
	Message string
	SentAt  time.Time
}

// Store wraps a SQLite database holding the alert journal.
type Store struct {
	db        *sql.DB
	maxAlerts int
}

// New opens or creates the journal database at dbPath.
func New(dbPath string, maxAlerts int) (*Store, error) {
	if dbPath != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create data directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1) // single writer; WAL allows concurrent readers
	if _, err := db.Exec(`PRAGMA journal_mode=WAL`); err != nil {
		return nil, fmt.Errorf("failed to set WAL mode: %w", err)
	}
	s := &Store{db: db, maxAlerts: maxAlerts}
	if err := s.createTables(); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createTables() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS alerts (
			id       TEXT PRIMARY KEY,
			kind     TEXT NOT NULL,
			subject  TEXT NOT NULL,
			message  TEXT NOT NULL,
			sent_at  INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_sent_at ON alerts(sent_at)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_kind ON alerts(kind)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// Record journals a sent alert and rotates out the oldest entries past the
// configured cap.
func (s *Store) Record(kind, subject, message string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	_, err = tx.Exec(`
		INSERT INTO alerts (id, kind, subject, message, sent_at)
		VALUES (?,?,?,?,?)`,
		uuid.NewString(), kind, subject, message, time.Now().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert alert: %w", err)
	}

	if _, err = tx.Exec(`
		DELETE FROM alerts WHERE id NOT IN (
			SELECT id FROM alerts ORDER BY sent_at DESC LIMIT ?
		)`, s.maxAlerts); err != nil {
		return fmt.Errorf("failed to enforce alert cap: %w", err)
	}

	return tx.Commit()
}

// Recent returns up to limit journaled alerts, newest first.
func (s *Store) Recent(limit int) ([]Entry, error) {
	rows, err := s.db.Query(`
		SELECT id, kind, subject, message, sent_at
		FROM alerts ORDER BY sent_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query alerts: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var sentAtNano int64
		if err := rows.Scan(&e.ID, &e.Kind, &e.Subject, &e.Message, &sentAtNano); err != nil {
			return nil, fmt.Errorf("failed to scan alert: %w", err)
		}
		e.SentAt = time.Unix(0, sentAtNano)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// CountByKind returns the number of journaled alerts per kind.
func (s *Store) CountByKind() (map[string]int, error) {
	rows, err := s.db.Query(`SELECT kind, COUNT(*) FROM alerts GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("failed to count alerts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var kind string
		var n int
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[kind] = n
	}
	return counts, rows.Err()
}
