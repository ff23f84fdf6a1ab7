package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mmynk/tatekae/internal/storage"
)

// LogEvent persists a telemetry event. Errors are logged and swallowed so that
// telemetry can never fail a session operation.
func (s *SQLiteStore) LogEvent(ctx context.Context, event storage.Event) {
	defer s.observe("log_event", time.Now())

	if event.At.IsZero() {
		event.At = s.now()
	}

	var metadata any
	if len(event.Metadata) > 0 {
		b, err := json.Marshal(event.Metadata)
		if err != nil {
			s.logger.Warn("Failed to encode event metadata", "event_type", event.Type, "error", err)
		} else {
			metadata = string(b)
		}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO analytics_events (id, event_type, group_id, user_id, amount, label, created_at, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		uuid.New().String(), event.Type,
		nullString(event.GroupID), nullString(event.UserID),
		event.Amount, nullString(event.Label),
		formatTime(event.At), metadata,
	)
	if err != nil {
		s.logger.Warn("Failed to log analytics event",
			"event_type", event.Type,
			"group_id", event.GroupID,
			"error", err,
		)
	}
}

// EventCounts returns the number of recorded events per type.
func (s *SQLiteStore) EventCounts(ctx context.Context) (map[string]int, error) {
	defer s.observe("event_counts", time.Now())

	rows, err := s.db.QueryContext(ctx,
		"SELECT event_type, COUNT(*) FROM analytics_events GROUP BY event_type ORDER BY event_type",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to count events: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var eventType string
		var n int
		if err := rows.Scan(&eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan event count: %w", err)
		}
		counts[eventType] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event counts: %w", err)
	}

	return counts, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
