package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tatekae/internal/backup"
	"github.com/mmynk/tatekae/internal/cache"
	"github.com/mmynk/tatekae/internal/maintenance"
	"github.com/mmynk/tatekae/internal/models"
	"github.com/mmynk/tatekae/internal/storage"
	"github.com/mmynk/tatekae/internal/storage/sqlite"
)

// setupService creates a SessionService over a temporary SQLite database.
func setupService(t *testing.T) (*SessionService, *sqlite.SQLiteStore) {
	t.Helper()

	tempDir, err := os.MkdirTemp("", "tatekae-service-*")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(tempDir) })

	store, err := sqlite.New(filepath.Join(tempDir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := cache.New(store, cache.Options{FlushDelay: 10 * time.Millisecond})
	svc := NewSessionService(c, store)
	t.Cleanup(func() { svc.Shutdown(context.Background()) })

	return svc, store
}

func member(id string) models.Member {
	return models.Member{UserID: id, DisplayName: "User " + id}
}

// startWorkedExample builds the A/B/C session: A pays 5000, B pays 3000.
func startWorkedExample(t *testing.T, svc *SessionService, groupID string) {
	t.Helper()
	ctx := context.Background()

	_, err := svc.StartSession(ctx, groupID, "Drinks", member("A"))
	require.NoError(t, err)
	for _, id := range []string{"B", "C"} {
		_, joined, err := svc.Join(ctx, groupID, member(id))
		require.NoError(t, err)
		require.True(t, joined)
	}
	_, err = svc.AddPayment(ctx, groupID, "A", "Izakaya", 5000)
	require.NoError(t, err)
	_, err = svc.AddPayment(ctx, groupID, "B", "Karaoke", 3000)
	require.NoError(t, err)
}

func TestSessionLifecycle(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	startWorkedExample(t, svc, "G1")

	t.Run("balances", func(t *testing.T) {
		r, err := svc.Balances(ctx, "G1")
		require.NoError(t, err)

		got := map[string]int64{}
		var sum int64
		for _, b := range r.Balances {
			got[b.UserID] = b.Balance
			sum += b.Balance
		}
		assert.Equal(t, map[string]int64{"A": 2332, "B": 334, "C": -2666}, got)
		assert.Zero(t, sum)
		assert.Equal(t, int64(8000), r.Summary.Total)
	})

	t.Run("settle stores settlements", func(t *testing.T) {
		r, err := svc.Settle(ctx, "G1")
		require.NoError(t, err)
		require.Len(t, r.Settlements, 2)
		assert.Equal(t, "C", r.Settlements[0].From.UserID)
		assert.Equal(t, "A", r.Settlements[0].To.UserID)
		assert.Equal(t, int64(2332), r.Settlements[0].Amount)
		assert.Equal(t, "B", r.Settlements[1].To.UserID)
		assert.Equal(t, int64(334), r.Settlements[1].Amount)

		session, err := svc.GetSession(ctx, "G1")
		require.NoError(t, err)
		assert.Equal(t, models.StatusSettled, session.Status)
		assert.Len(t, session.Settlements, 2)
	})

	t.Run("shutdown flushes to the store", func(t *testing.T) {
		require.NoError(t, svc.Shutdown(ctx))

		durable, err := store.Get(ctx, "G1")
		require.NoError(t, err)
		require.NotNil(t, durable)
		assert.Equal(t, models.StatusSettled, durable.Status)
		assert.Len(t, durable.Members, 3)
		assert.Len(t, durable.Payments, 2)
	})

	t.Run("end hides the session but keeps it durable", func(t *testing.T) {
		require.NoError(t, svc.EndSession(ctx, "G1"))

		session, err := svc.GetSession(ctx, "G1")
		require.NoError(t, err)
		assert.Nil(t, session)

		all, err := svc.AllSessions(ctx)
		require.NoError(t, err)
		require.Len(t, all, 1)
		assert.Equal(t, models.StatusCompleted, all[0].Status)
	})

	t.Run("history and stats", func(t *testing.T) {
		sessions, err := svc.UserSessions(ctx, "C", storage.UserSessionsOptions{})
		require.NoError(t, err)
		require.Len(t, sessions, 1)
		assert.Equal(t, "G1", sessions[0].GroupID)

		stats, err := svc.UserStats(ctx, "A")
		require.NoError(t, err)
		assert.Equal(t, 1, stats.TotalSessions)
		assert.Equal(t, int64(2668), stats.TotalAmount)
		assert.Equal(t, int64(5000), stats.TotalPaid)
	})

	t.Run("telemetry events are recorded", func(t *testing.T) {
		counts, err := store.EventCounts(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, counts[storage.EventSessionStarted])
		assert.Equal(t, 1, counts[storage.EventSessionSettled])
		assert.Equal(t, 1, counts[storage.EventSessionEnded])
		// Two joins and two payments.
		assert.Equal(t, 4, counts[storage.EventSessionUpdated])
	})
}

func TestStartSession(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	session, err := svc.StartSession(ctx, "G1", "Lunch", member("A"))
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, session.Status)
	assert.Equal(t, []string{"A"}, session.MemberIDs())

	_, err = svc.StartSession(ctx, "G1", "Lunch", member("B"))
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = svc.StartSession(ctx, "G2", "Lunch", models.Member{})
	assert.ErrorIs(t, err, ErrInvalidSession)

	// A settled session can be replaced by a new one.
	_, err = svc.Settle(ctx, "G1")
	require.NoError(t, err)
	session, err = svc.StartSession(ctx, "G1", "Dinner", member("B"))
	require.NoError(t, err)
	assert.Equal(t, "Dinner", session.GroupName)
	assert.Empty(t, session.Payments)
}

func TestCreateSessionValidation(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	err := svc.CreateSession(ctx, &models.Session{Status: models.StatusActive})
	assert.ErrorIs(t, err, ErrInvalidSession)

	err = svc.CreateSession(ctx, &models.Session{GroupID: "G1", Status: "archived"})
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestPayments(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.AddPayment(ctx, "nope", "A", "Taxi", 100)
	assert.ErrorIs(t, err, ErrSessionNotFound)

	_, err = svc.StartSession(ctx, "G1", "Trip", member("A"))
	require.NoError(t, err)

	tests := []struct {
		name    string
		payer   string
		label   string
		amount  int64
		wantErr error
	}{
		{"non-member payer", "Z", "Taxi", 100, ErrNotMember},
		{"zero amount", "A", "Taxi", 0, models.ErrInvalidAmount},
		{"negative amount", "A", "Taxi", -5, models.ErrInvalidAmount},
		{"empty label", "A", " ", 100, models.ErrEmptyLabel},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.AddPayment(ctx, "G1", tt.payer, tt.label, tt.amount)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}

	t.Run("sequence and cancel", func(t *testing.T) {
		first, err := svc.AddPayment(ctx, "G1", "A", "Taxi", 1200)
		require.NoError(t, err)
		second, err := svc.AddPayment(ctx, "G1", "A", "Lunch", 3400)
		require.NoError(t, err)
		assert.Greater(t, second.Sequence, first.Sequence)

		cancelled, ok, err := svc.CancelLastPayment(ctx, "G1")
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, second.ID, cancelled.ID)

		session, _ := svc.GetSession(ctx, "G1")
		require.Len(t, session.Payments, 2)
		assert.True(t, session.Payments[1].IsDeleted)
		assert.Len(t, session.ActivePayments(), 1)

		third, err := svc.AddPayment(ctx, "G1", "A", "Dessert", 500)
		require.NoError(t, err)
		assert.Greater(t, third.Sequence, second.Sequence, "deleted payments keep their number")
	})

	t.Run("payments rejected once settled", func(t *testing.T) {
		_, err := svc.Settle(ctx, "G1")
		require.NoError(t, err)
		_, err = svc.AddPayment(ctx, "G1", "A", "Late", 100)
		assert.ErrorIs(t, err, ErrSessionNotActive)
	})
}

func TestJoin(t *testing.T) {
	svc, _ := setupService(t)
	ctx := context.Background()

	_, err := svc.StartSession(ctx, "G1", "Trip", member("U123"))
	require.NoError(t, err)

	session, joined, err := svc.Join(ctx, "G1", member("U123"))
	require.NoError(t, err)
	assert.False(t, joined)
	assert.Len(t, session.Members, 1)

	_, err = svc.AddPayment(ctx, "G1", "U123", "Taxi", 100)
	require.NoError(t, err)

	session, joined, err = svc.Join(ctx, "G1", member("U1234567"))
	require.NoError(t, err)
	assert.True(t, joined)
	assert.Equal(t, []string{"U123", "U1234567"}, session.MemberIDs())
	assert.Equal(t, 1, session.Members[1].ParticipationRange.StartFrom)

	_, _, err = svc.Join(ctx, "G1", models.Member{})
	assert.ErrorIs(t, err, ErrInvalidSession)
}

func TestUpdateSessionRequiresCachedEntry(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	name := "renamed"
	assert.False(t, svc.UpdateSession(ctx, "G1", models.SessionUpdate{GroupName: &name}))

	// Present in the store but never loaded into the cache.
	require.NoError(t, store.Upsert(ctx, models.NewSession("G2", "Stored", member("A"), time.Now())))
	assert.False(t, svc.UpdateSession(ctx, "G2", models.SessionUpdate{GroupName: &name}))

	durable, err := store.Get(ctx, "G2")
	require.NoError(t, err)
	assert.Equal(t, "Stored", durable.GroupName)
}

func TestEventualWriteReachesStore(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	_, err := svc.StartSession(ctx, "G1", "Trip", member("A"))
	require.NoError(t, err)
	_, err = svc.AddPayment(ctx, "G1", "A", "Taxi", 700)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		s, err := store.Get(ctx, "G1")
		return err == nil && s != nil && len(s.Payments) == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestSettleUncachedSettledSession(t *testing.T) {
	svc, store := setupService(t)
	ctx := context.Background()

	s := models.NewSession("G1", "Trip", member("A"), time.Now())
	s.AddMember(member("B"))
	p, err := models.NewPayment(s, "Taxi", 1000, s.Members[0].Ref(), time.Now())
	require.NoError(t, err)
	s.Payments = append(s.Payments, p)
	s.Status = models.StatusSettled
	require.NoError(t, store.Upsert(ctx, s))

	r, err := svc.Settle(ctx, "G1")
	require.NoError(t, err)
	require.Len(t, r.Settlements, 1)

	durable, err := store.Get(ctx, "G1")
	require.NoError(t, err)
	assert.Len(t, durable.Settlements, 1, "uncached sessions are written immediately")
}

func TestBalancesNotFound(t *testing.T) {
	svc, _ := setupService(t)
	_, err := svc.Balances(context.Background(), "missing")
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestBackupJobIncludesQueuedWrites(t *testing.T) {
	dir := t.TempDir()
	store, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	c := cache.New(store, cache.Options{FlushDelay: time.Hour})
	svc := NewSessionService(c, store)
	ctx := context.Background()

	_, err = svc.StartSession(ctx, "G1", "Trip", member("A"))
	require.NoError(t, err)
	_, err = svc.AddPayment(ctx, "G1", "A", "Taxi", 700)
	require.NoError(t, err)
	require.Positive(t, c.Stats().Pending)

	backups := backup.New(store, backup.Options{Dir: filepath.Join(dir, "backups")})
	require.NoError(t, maintenance.BackupJob(backups, svc, nil)(ctx))

	assert.Zero(t, c.Stats().Pending)
	snap, err := backup.ReadSnapshot(backups.PathFor(time.Now()))
	require.NoError(t, err)
	require.Contains(t, snap, "G1")
	assert.Len(t, snap["G1"].Payments, 1)
}
