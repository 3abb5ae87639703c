package store

import (
	"time"

	"github.com/satisfyguy/escrowd/internal/escrowerr"
)

// EventRecord is a best-effort structured log of an emitted event, used
// only by the health endpoint's recent-activity view. The escrow row and
// snapshot remain the source of truth.
type EventRecord struct {
	TraceID     string
	EventType   string
	EscrowID    string
	TimestampMs int64
	Detail      string
}

// RecordEvent appends an event to the recent-activity log.
func (s *Store) RecordEvent(rec EventRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO events (trace_id, event_type, escrow_id, timestamp_ms, detail)
		VALUES (?, ?, ?, ?, ?)
	`, rec.TraceID, rec.EventType, rec.EscrowID, rec.TimestampMs, rec.Detail)
	if err != nil {
		return escrowerr.Wrap(escrowerr.PersistenceFailure, "record event", err)
	}
	return nil
}

// RecentEvents returns the most recent events, newest first, bounded by limit.
func (s *Store) RecentEvents(limit int) ([]EventRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.Query(`
		SELECT trace_id, event_type, escrow_id, timestamp_ms, detail
		FROM events ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, escrowerr.Wrap(escrowerr.PersistenceFailure, "list recent events", err)
	}
	defer rows.Close()

	var result []EventRecord
	for rows.Next() {
		var rec EventRecord
		if err := rows.Scan(&rec.TraceID, &rec.EventType, &rec.EscrowID, &rec.TimestampMs, &rec.Detail); err != nil {
			return nil, escrowerr.Wrap(escrowerr.PersistenceFailure, "scan event", err)
		}
		result = append(result, rec)
	}
	return result, nil
}

// CleanupEventsOlderThan removes events older than the given time, mirroring
// the retention-sweep idiom used by the timeout monitor and recovery loop.
func (s *Store) CleanupEventsOlderThan(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM events WHERE timestamp_ms < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, escrowerr.Wrap(escrowerr.PersistenceFailure, "cleanup events", err)
	}
	return res.RowsAffected()
}
