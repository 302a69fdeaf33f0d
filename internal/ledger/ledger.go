// Package ledger keeps an append-only history of what each device loop did:
// user corrections, applied predictions, resets and failed saves.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/lumad/internal/eventbus"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	EventType eventbus.EventType
	Timestamp time.Time
	Device    string
	RunID     string
	Payload   map[string]any
}

// Query filters ledger reads. Zero values mean "any".
type Query struct {
	Device    string
	EventType eventbus.EventType
	Since     time.Time
	Limit     int
}

// Ledger provides append-only event logging
type Ledger struct {
	db    *sql.DB
	runID string
}

// New creates a new Ledger using the provided database connection. runID
// tags every row appended by this process.
func New(db *sql.DB, runID string) *Ledger {
	return &Ledger{db: db, runID: runID}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(eventType eventbus.EventType, device string, at time.Time, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}
	if at.IsZero() {
		at = time.Now()
	}

	_, err = l.db.Exec(
		`INSERT INTO event_ledger (event_type, timestamp, device, run_id, payload) VALUES (?, ?, ?, ?, ?)`,
		string(eventType), at.UTC().UnixMilli(), device, l.runID, string(payloadJSON),
	)
	return err
}

// Record appends a bus event. Use it as an eventbus.Handler.
func (l *Ledger) Record(e eventbus.Event) {
	if err := l.Append(e.Type, e.Device, e.Time, e.Data); err != nil {
		log.Error().Err(err).Str("event_type", string(e.Type)).Str("device", e.Device).Msg("Failed to append ledger entry")
	}
}

// Find returns entries matching q, newest first
func (l *Ledger) Find(q Query) ([]*Entry, error) {
	if q.Limit <= 0 {
		q.Limit = 50
	}

	rows, err := l.db.Query(`
		SELECT id, event_type, timestamp, device, run_id, payload
		FROM event_ledger
		WHERE (? = '' OR device = ?)
		  AND (? = '' OR event_type = ?)
		  AND timestamp >= ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, q.Device, q.Device, string(q.EventType), string(q.EventType), sinceMillis(q.Since), q.Limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// Recent returns the newest entries across all devices
func (l *Ledger) Recent(limit int) ([]*Entry, error) {
	return l.Find(Query{Limit: limit})
}

// CountByType counts entries of one type for a device since a point in time.
func (l *Ledger) CountByType(device string, eventType eventbus.EventType, since time.Time) (int, error) {
	var n int
	err := l.db.QueryRow(`
		SELECT COUNT(*) FROM event_ledger
		WHERE device = ? AND event_type = ? AND timestamp >= ?
	`, device, string(eventType), sinceMillis(since)).Scan(&n)
	return n, err
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().UnixMilli()
	result, err := l.db.Exec(`
		DELETE FROM event_ledger WHERE timestamp < ?
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func sinceMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UTC().UnixMilli()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var eventType string
		var payloadStr sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &eventType, &timestamp, &entry.Device, &entry.RunID, &payloadStr)
		if err != nil {
			return nil, err
		}

		entry.EventType = eventbus.EventType(eventType)
		entry.Timestamp = time.UnixMilli(timestamp).UTC()

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
