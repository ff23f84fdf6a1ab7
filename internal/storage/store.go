// Package storage provides abstractions for durable session storage.
package storage

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/mmynk/tatekae/internal/models"
)

var (
	// ErrConstraint is returned when the store rejects a write, e.g. an unknown status value.
	ErrConstraint = errors.New("storage: constraint violation")

	// ErrDecode is returned when a persisted document cannot be decoded.
	ErrDecode = errors.New("storage: corrupt session document")
)

const (
	DefaultUserSessionsLimit = 10
	MaxUserSessionsLimit     = 100
	MaxUserSessionsMonths    = 12
)

// Store defines the interface for session storage operations.
// This abstraction keeps the cache and service layers independent of the
// concrete embedded database.
type Store interface {
	// Get returns the most recently updated live (active or settled) session for
	// the group. Completed sessions are invisible here.
	// Returns nil and no error if there is none.
	Get(ctx context.Context, groupID string) (*models.Session, error)

	// Upsert inserts or replaces the session row keyed by group ID.
	Upsert(ctx context.Context, session *models.Session) error

	// BatchUpsert upserts all sessions in a single transaction.
	BatchUpsert(ctx context.Context, sessions []*models.Session) error

	// GetAll returns every session regardless of status, most recently updated first.
	GetAll(ctx context.Context) ([]*models.Session, error)

	// GetUserSessions returns completed sessions the user was a member of.
	// Invalid input yields an empty result, not an error.
	GetUserSessions(ctx context.Context, userID string, opts UserSessionsOptions) ([]*models.Session, error)

	// GetUserStats aggregates the user's completed sessions.
	// An invalid user ID yields zero stats, not an error.
	GetUserStats(ctx context.Context, userID string) (UserStats, error)

	// LogEvent records a telemetry event. Failures are logged, never returned.
	LogEvent(ctx context.Context, event Event)

	// Checkpoint merges the write-ahead log into the main database file.
	Checkpoint(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// UserSessionsOptions filters GetUserSessions. Nil fields use defaults.
// Fields are float64 so that non-integer input from adapters is rejected
// instead of silently truncated.
type UserSessionsOptions struct {
	// Limit bounds the number of sessions returned, in [1,100]. Default 10.
	Limit *float64 `json:"limit,omitempty"`

	// Months restricts results to sessions created within the last N months, in [1,12].
	Months *float64 `json:"months,omitempty"`
}

// Validate returns the effective limit and months (0 = unbounded) and whether the options are valid.
func (o UserSessionsOptions) Validate() (limit, months int, ok bool) {
	limit = DefaultUserSessionsLimit
	if o.Limit != nil {
		v, isInt := wholeNumber(*o.Limit)
		if !isInt || v < 1 || v > MaxUserSessionsLimit {
			return 0, 0, false
		}
		limit = v
	}
	if o.Months != nil {
		v, isInt := wholeNumber(*o.Months)
		if !isInt || v < 1 || v > MaxUserSessionsMonths {
			return 0, 0, false
		}
		months = v
	}
	return limit, months, true
}

func wholeNumber(f float64) (int, bool) {
	if math.IsNaN(f) || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, false
	}
	if f > math.MaxInt32 || f < math.MinInt32 {
		return 0, false
	}
	return int(f), true
}

// Num is a convenience for building UserSessionsOptions.
func Num(v float64) *float64 {
	return &v
}

// UserStats summarizes a user's completed sessions.
type UserStats struct {
	// TotalSessions is the number of completed sessions the user was a member of.
	TotalSessions int `json:"totalSessions"`

	// TotalAmount is the user's share of all non-deleted payments in those sessions.
	TotalAmount int64 `json:"totalAmount"`

	// TotalPaid is what the user paid out of pocket in those sessions.
	TotalPaid int64 `json:"totalPaid"`

	// ThisMonth* restrict the figures above to sessions created this calendar month.
	ThisMonthSessions int   `json:"thisMonthSessions"`
	ThisMonthAmount   int64 `json:"thisMonthAmount"`
	ThisMonthPaid     int64 `json:"thisMonthPaid"`
}

// Event is a fire-and-forget telemetry record.
type Event struct {
	Type     string
	GroupID  string
	UserID   string
	Amount   int64
	Label    string
	Metadata map[string]any
	At       time.Time
}

// Event types logged by the session service.
const (
	EventSessionStarted   = "session_started"
	EventSessionUpdated   = "session_updated"
	EventSessionSettled   = "session_settled"
	EventSessionEnded     = "session_ended"
	EventSessionsRestored = "sessions_restored"
)
