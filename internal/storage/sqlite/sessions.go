package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mmynk/tatekae/internal/models"
	"github.com/mmynk/tatekae/internal/storage"
)

const upsertSession = `
	INSERT INTO sessions (group_id, status, created_at, updated_at, document)
	VALUES (?, ?, ?, ?, ?)
	ON CONFLICT(group_id) DO UPDATE SET
		status = excluded.status,
		created_at = excluded.created_at,
		updated_at = excluded.updated_at,
		document = excluded.document
`

// execer is satisfied by both *sql.DB and *sql.Tx.
type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// Get retrieves the live session for a group.
// Returns nil if the group has no active or settled session.
func (s *SQLiteStore) Get(ctx context.Context, groupID string) (*models.Session, error) {
	defer s.observe("get", time.Now())

	query := `
		SELECT document
		FROM sessions
		WHERE group_id = ? AND status IN ('active', 'settled')
		ORDER BY updated_at DESC
		LIMIT 1
	`

	var doc string
	err := s.db.QueryRowContext(ctx, query, groupID).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	return decodeSession(groupID, doc)
}

// Upsert writes the session, replacing any existing row for the group.
func (s *SQLiteStore) Upsert(ctx context.Context, session *models.Session) error {
	defer s.observe("upsert", time.Now())

	if err := upsert(ctx, s.db, session); err != nil {
		return fmt.Errorf("failed to upsert session: %w", err)
	}
	return nil
}

// BatchUpsert writes all sessions in one transaction. Either all rows are written or none.
func (s *SQLiteStore) BatchUpsert(ctx context.Context, sessions []*models.Session) error {
	defer s.observe("batch_upsert", time.Now())

	if len(sessions) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, session := range sessions {
		if err := upsert(ctx, tx, session); err != nil {
			return fmt.Errorf("failed to upsert session in batch: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetAll returns every stored session, most recently updated first.
func (s *SQLiteStore) GetAll(ctx context.Context) ([]*models.Session, error) {
	defer s.observe("get_all", time.Now())

	rows, err := s.db.QueryContext(ctx,
		"SELECT group_id, document FROM sessions ORDER BY updated_at DESC, group_id",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	return scanSessions(rows)
}

func upsert(ctx context.Context, db execer, session *models.Session) error {
	if session == nil || session.GroupID == "" {
		return fmt.Errorf("%w: session without group id", storage.ErrConstraint)
	}

	doc, err := json.Marshal(session)
	if err != nil {
		return fmt.Errorf("failed to encode session %s: %w", session.GroupID, err)
	}

	_, err = db.ExecContext(ctx, upsertSession,
		session.GroupID,
		string(session.Status),
		formatTime(session.CreatedAt),
		formatTime(session.UpdatedAt),
		string(doc),
	)
	if err != nil {
		return classify(err)
	}
	return nil
}

// scanSessions reads (group_id, document) rows and closes them.
func scanSessions(rows *sql.Rows) ([]*models.Session, error) {
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		var groupID, doc string
		if err := rows.Scan(&groupID, &doc); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		session, err := decodeSession(groupID, doc)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}

	return sessions, nil
}

func decodeSession(groupID, doc string) (*models.Session, error) {
	session := &models.Session{}
	if err := json.Unmarshal([]byte(doc), session); err != nil {
		return nil, fmt.Errorf("%w: group %s: %v", storage.ErrDecode, groupID, err)
	}
	return session, nil
}
