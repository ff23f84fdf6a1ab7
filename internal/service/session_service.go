package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/mmynk/tatekae/internal/cache"
	"github.com/mmynk/tatekae/internal/calculator"
	"github.com/mmynk/tatekae/internal/models"
	"github.com/mmynk/tatekae/internal/storage"
)

var (
	ErrSessionNotFound  = errors.New("no live session for group")
	ErrSessionActive    = errors.New("group already has an active session")
	ErrSessionNotActive = errors.New("session is not accepting changes")
	ErrNotMember        = errors.New("user is not a member of the session")
	ErrInvalidSession   = errors.New("invalid session")
)

// Report is the derived ledger position of a session.
type Report struct {
	Balances    []models.Balance    `json:"balances"`
	Settlements []models.Settlement `json:"settlements"`
	Summary     calculator.Summary  `json:"summary"`
}

// SessionService is the core session API used by chat adapters and the
// ledger RPC surface. Creates and ends are written to the store before
// returning; updates are written behind by the cache.
type SessionService struct {
	cache  *cache.Cache
	store  storage.Store
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a SessionService.
type Option func(*SessionService)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *SessionService) { s.now = now }
}

// WithLogger sets the service logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *SessionService) { s.logger = logger }
}

// NewSessionService creates a SessionService on top of the cache and its backing store.
func NewSessionService(c *cache.Cache, store storage.Store, opts ...Option) *SessionService {
	s := &SessionService{
		cache:  c,
		store:  store,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateSession caches the session and persists it immediately.
func (s *SessionService) CreateSession(ctx context.Context, session *models.Session) error {
	if session == nil || strings.TrimSpace(session.GroupID) == "" {
		return fmt.Errorf("%w: group id required", ErrInvalidSession)
	}
	if !session.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSession, session.Status)
	}

	if err := s.cache.Create(ctx, session); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Session created",
		"group_id", session.GroupID,
		"members", len(session.Members),
		"durability", cache.DurabilityImmediate,
	)
	s.store.LogEvent(ctx, storage.Event{
		Type:    storage.EventSessionStarted,
		GroupID: session.GroupID,
		UserID:  session.CreatedBy.UserID,
		At:      s.now(),
	})
	return nil
}

// GetSession returns the live session for a group, or nil.
func (s *SessionService) GetSession(ctx context.Context, groupID string) (*models.Session, error) {
	return s.cache.Get(ctx, groupID)
}

// UpdateSession merges upd into the cached session and queues an eventual
// write. It reports false, without touching the store, if the session is not
// cached.
func (s *SessionService) UpdateSession(ctx context.Context, groupID string, upd models.SessionUpdate) bool {
	if !s.cache.Update(ctx, groupID, upd) {
		return false
	}
	s.logger.DebugContext(ctx, "Session updated",
		"group_id", groupID,
		"durability", cache.DurabilityEventual,
	)
	return true
}

// EndSession completes the session, persists it immediately and evicts it from the cache.
func (s *SessionService) EndSession(ctx context.Context, groupID string) error {
	if err := s.cache.End(ctx, groupID); err != nil {
		return err
	}

	s.logger.InfoContext(ctx, "Session ended", "group_id", groupID, "durability", cache.DurabilityImmediate)
	s.store.LogEvent(ctx, storage.Event{
		Type:    storage.EventSessionEnded,
		GroupID: groupID,
		At:      s.now(),
	})
	return nil
}

// Shutdown flushes every queued write. Call it before closing the store.
func (s *SessionService) Shutdown(ctx context.Context) error {
	stats := s.cache.Stats()
	if err := s.FlushPending(ctx); err != nil {
		return err
	}
	s.logger.Info("Session cache flushed", "cached", stats.Size, "flushed", stats.Pending)
	return nil
}

// FlushPending writes every queued eventual update to the store now.
func (s *SessionService) FlushPending(ctx context.Context) error {
	if err := s.cache.ForceFlush(ctx); err != nil {
		return fmt.Errorf("failed to flush pending writes: %w", err)
	}
	return nil
}

// StartSession begins a new session for the group with creator as the first member.
// It fails with ErrSessionActive if the group already has an active session;
// a settled session is replaced.
func (s *SessionService) StartSession(ctx context.Context, groupID, groupName string, creator models.Member) (*models.Session, error) {
	if strings.TrimSpace(creator.UserID) == "" {
		return nil, fmt.Errorf("%w: creator user id required", ErrInvalidSession)
	}

	existing, err := s.GetSession(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if existing != nil && existing.Status == models.StatusActive {
		return nil, ErrSessionActive
	}

	session := models.NewSession(groupID, groupName, creator, s.now())
	if err := s.CreateSession(ctx, session); err != nil {
		return nil, err
	}
	return s.GetSession(ctx, groupID)
}

// Join adds member to the group's active session. It reports false if the
// user was already a member.
func (s *SessionService) Join(ctx context.Context, groupID string, member models.Member) (*models.Session, bool, error) {
	if strings.TrimSpace(member.UserID) == "" {
		return nil, false, fmt.Errorf("%w: member user id required", ErrInvalidSession)
	}

	session, err := s.activeSession(ctx, groupID)
	if err != nil {
		return nil, false, err
	}
	if member.JoinedAt.IsZero() {
		member.JoinedAt = s.now()
	}
	member.ParticipationRange.StartFrom = models.NextSequence(session.Payments)
	if !session.AddMember(member) {
		return session, false, nil
	}

	if err := s.apply(ctx, session, models.SessionUpdate{Members: session.Members}); err != nil {
		return nil, false, err
	}
	s.store.LogEvent(ctx, storage.Event{
		Type:    storage.EventSessionUpdated,
		GroupID: groupID,
		UserID:  member.UserID,
		Label:   "join",
		At:      s.now(),
	})
	return session, true, nil
}

// AddPayment appends a payment by payerID to the group's active session.
func (s *SessionService) AddPayment(ctx context.Context, groupID, payerID, label string, amount int64) (models.Payment, error) {
	session, err := s.activeSession(ctx, groupID)
	if err != nil {
		return models.Payment{}, err
	}
	payer := session.Member(payerID)
	if payer == nil {
		return models.Payment{}, ErrNotMember
	}

	payment, err := models.NewPayment(session, label, amount, payer.Ref(), s.now())
	if err != nil {
		return models.Payment{}, err
	}
	payments := append(session.Payments, payment)

	if err := s.apply(ctx, session, models.SessionUpdate{Payments: payments}); err != nil {
		return models.Payment{}, err
	}

	s.logger.InfoContext(ctx, "Payment recorded",
		"group_id", groupID,
		"sequence", payment.Sequence,
		"amount", payment.Amount,
	)
	s.store.LogEvent(ctx, storage.Event{
		Type:    storage.EventSessionUpdated,
		GroupID: groupID,
		UserID:  payerID,
		Amount:  amount,
		Label:   payment.Label,
		At:      payment.Timestamp,
	})
	return payment, nil
}

// CancelLastPayment soft deletes the most recent payment of the active session.
// It reports false if there was nothing to cancel.
func (s *SessionService) CancelLastPayment(ctx context.Context, groupID string) (models.Payment, bool, error) {
	session, err := s.activeSession(ctx, groupID)
	if err != nil {
		return models.Payment{}, false, err
	}
	cancelled, ok := session.CancelLastPayment()
	if !ok {
		return models.Payment{}, false, nil
	}

	if err := s.apply(ctx, session, models.SessionUpdate{Payments: session.Payments}); err != nil {
		return models.Payment{}, false, err
	}
	s.logger.InfoContext(ctx, "Payment cancelled", "group_id", groupID, "sequence", cancelled.Sequence)
	return cancelled, true, nil
}

// Balances computes the current report for the group's live session without storing it.
func (s *SessionService) Balances(ctx context.Context, groupID string) (Report, error) {
	session, err := s.GetSession(ctx, groupID)
	if err != nil {
		return Report{}, err
	}
	if session == nil {
		return Report{}, ErrSessionNotFound
	}
	return report(session), nil
}

// Settle computes balances and settlements and stores them with status settled.
func (s *SessionService) Settle(ctx context.Context, groupID string) (Report, error) {
	session, err := s.GetSession(ctx, groupID)
	if err != nil {
		return Report{}, err
	}
	if session == nil {
		return Report{}, ErrSessionNotFound
	}

	r := report(session)
	settled := models.StatusSettled
	if err := s.apply(ctx, session, models.SessionUpdate{
		Settlements: r.Settlements,
		Status:      &settled,
	}); err != nil {
		return Report{}, err
	}

	s.logger.InfoContext(ctx, "Session settled",
		"group_id", groupID,
		"total", r.Summary.Total,
		"transfers", len(r.Settlements),
	)
	s.store.LogEvent(ctx, storage.Event{
		Type:    storage.EventSessionSettled,
		GroupID: groupID,
		Amount:  r.Summary.Total,
		Metadata: map[string]any{
			"members":     r.Summary.MemberCount,
			"settlements": len(r.Settlements),
		},
		At: s.now(),
	})
	return r, nil
}

// UserSessions returns the user's completed sessions. Invalid input yields an empty list.
func (s *SessionService) UserSessions(ctx context.Context, userID string, opts storage.UserSessionsOptions) ([]*models.Session, error) {
	return s.store.GetUserSessions(ctx, userID, opts)
}

// UserStats returns the user's aggregate statistics. Invalid input yields zeros.
func (s *SessionService) UserStats(ctx context.Context, userID string) (storage.UserStats, error) {
	return s.store.GetUserStats(ctx, userID)
}

// AllSessions returns every stored session, including completed ones.
// Queued writes are flushed first so the result reflects the cache.
func (s *SessionService) AllSessions(ctx context.Context) ([]*models.Session, error) {
	if err := s.cache.ForceFlush(ctx); err != nil {
		s.logger.WarnContext(ctx, "Flush before full scan failed", "error", err)
	}
	return s.store.GetAll(ctx)
}

// CacheStats reports the hot cache size and queued writes.
func (s *SessionService) CacheStats() cache.Stats {
	return s.cache.Stats()
}

// SweepCache runs TTL and LRU eviction on the hot cache.
func (s *SessionService) SweepCache() int {
	return s.cache.Sweep()
}

func (s *SessionService) activeSession(ctx context.Context, groupID string) (*models.Session, error) {
	session, err := s.GetSession(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, ErrSessionNotFound
	}
	if session.Status != models.StatusActive {
		return nil, ErrSessionNotActive
	}
	return session, nil
}

// apply writes upd through the cache. A session that is not cached (settled
// sessions loaded from the store, or an entry evicted since it was read) is
// merged here and re-cached with an immediate write instead.
func (s *SessionService) apply(ctx context.Context, session *models.Session, upd models.SessionUpdate) error {
	if s.UpdateSession(ctx, session.GroupID, upd) {
		return nil
	}

	merged := session.Clone()
	upd.Apply(merged)
	if err := s.cache.Create(ctx, merged); err != nil {
		return fmt.Errorf("failed to write session %s: %w", session.GroupID, err)
	}
	s.logger.DebugContext(ctx, "Session updated",
		"group_id", session.GroupID,
		"durability", cache.DurabilityImmediate,
	)
	return nil
}

func report(session *models.Session) Report {
	balances := calculator.CalculateBalances(session.Payments, session.Members)
	return Report{
		Balances:    balances,
		Settlements: calculator.CalculateSettlements(balances),
		Summary:     calculator.Summarize(session.Payments, session.Members),
	}
}
