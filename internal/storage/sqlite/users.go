package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmynk/tatekae/internal/calculator"
	"github.com/mmynk/tatekae/internal/models"
	"github.com/mmynk/tatekae/internal/storage"
)

// memberFilter matches sessions whose member list contains the user ID exactly.
const memberFilter = `
	EXISTS (
		SELECT 1 FROM json_each(sessions.document, '$.members') AS m
		WHERE json_extract(m.value, '$.userId') = ?
	)
`

// GetUserSessions returns the user's completed sessions, newest first.
// Invalid input yields an empty result rather than an error.
func (s *SQLiteStore) GetUserSessions(ctx context.Context, userID string, opts storage.UserSessionsOptions) ([]*models.Session, error) {
	defer s.observe("get_user_sessions", time.Now())

	limit, months, ok := opts.Validate()
	if !ok || strings.TrimSpace(userID) == "" {
		return []*models.Session{}, nil
	}

	query := "SELECT group_id, document FROM sessions WHERE status = 'completed' AND" + memberFilter
	args := []any{userID}
	if months > 0 {
		cutoff := s.now().In(s.loc).AddDate(0, -months, 0)
		query += " AND created_at >= ?"
		args = append(args, formatTime(cutoff))
	}
	query += " ORDER BY created_at DESC, group_id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get user sessions: %w", err)
	}
	return scanSessions(rows)
}

// GetUserStats aggregates the user's share and payments across completed sessions,
// all time and since the start of the current calendar month.
func (s *SQLiteStore) GetUserStats(ctx context.Context, userID string) (storage.UserStats, error) {
	defer s.observe("get_user_stats", time.Now())

	var stats storage.UserStats
	if strings.TrimSpace(userID) == "" {
		return stats, nil
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT group_id, document FROM sessions WHERE status = 'completed' AND"+memberFilter,
		userID,
	)
	if err != nil {
		return stats, fmt.Errorf("failed to get user stats: %w", err)
	}
	sessions, err := scanSessions(rows)
	if err != nil {
		return stats, err
	}

	now := s.now().In(s.loc)
	monthStart := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, s.loc)

	for _, session := range sessions {
		balances := calculator.CalculateBalances(session.Payments, session.Members)
		share, ok := calculator.ShareOf(balances, userID)
		if !ok {
			continue
		}

		stats.TotalSessions++
		stats.TotalAmount += share.Owes
		stats.TotalPaid += share.Paid

		if !session.CreatedAt.Before(monthStart) {
			stats.ThisMonthSessions++
			stats.ThisMonthAmount += share.Owes
			stats.ThisMonthPaid += share.Paid
		}
	}

	return stats, nil
}
