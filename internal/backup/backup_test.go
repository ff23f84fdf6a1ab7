package backup

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tatekae/internal/models"
	"github.com/mmynk/tatekae/internal/storage/sqlite"
)

var (
	jst     = time.FixedZone("JST", 9*60*60)
	testNow = time.Date(2026, 6, 15, 3, 0, 0, 0, jst)
)

type fixture struct {
	store *sqlite.SQLiteStore
	svc   *Service
	dir   string
}

func setup(t *testing.T) *fixture {
	t.Helper()

	tempDir := t.TempDir()
	store, err := sqlite.New(filepath.Join(tempDir, "data", "tatekae.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	dir := filepath.Join(tempDir, "backups")
	svc := New(store, Options{
		Dir:      dir,
		Location: jst,
		Now:      func() time.Time { return testNow },
	})
	return &fixture{store: store, svc: svc, dir: dir}
}

func session(groupID string, status models.Status) *models.Session {
	s := models.NewSession(groupID, "Group "+groupID, models.Member{UserID: "A", DisplayName: "Alice"}, testNow.Add(-time.Hour))
	s.Status = status
	return s
}

func (f *fixture) seed(t *testing.T, sessions ...*models.Session) {
	t.Helper()
	require.NoError(t, f.store.BatchUpsert(context.Background(), sessions))
}

func TestRun(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, session("G1", models.StatusActive), session("G2", models.StatusCompleted))

	path, created, err := f.svc.Run(ctx)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, filepath.Join(f.dir, "sessions_2026-06-15.json"), path)

	snap, err := ReadSnapshot(path)
	require.NoError(t, err)
	assert.Len(t, snap, 2)
	assert.Equal(t, models.StatusCompleted, snap["G2"].Status)

	t.Run("second run on the same day is skipped", func(t *testing.T) {
		again, created, err := f.svc.Run(ctx)
		require.NoError(t, err)
		assert.False(t, created)
		assert.Equal(t, path, again)
	})
}

func TestRunUsesConfiguredTimezone(t *testing.T) {
	f := setup(t)
	// 2026-06-14 20:00 UTC is already the 15th in Tokyo.
	f.svc.now = func() time.Time { return time.Date(2026, 6, 14, 20, 0, 0, 0, time.UTC) }

	path, _, err := f.svc.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "sessions_2026-06-15.json", filepath.Base(path))
}

func TestCleanupAndList(t *testing.T) {
	f := setup(t)
	require.NoError(t, os.MkdirAll(f.dir, 0755))

	ages := map[string]int{
		"sessions_2026-06-14.json": 1,
		"sessions_2026-06-08.json": 7,
		"sessions_2026-06-01.json": 14,
	}
	for name, days := range ages {
		path := filepath.Join(f.dir, name)
		require.NoError(t, WriteSnapshot(path, Snapshot{}))
		mtime := testNow.Add(-time.Duration(days)*24*time.Hour - time.Minute)
		require.NoError(t, os.Chtimes(path, mtime, mtime))
	}
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "notes.txt"), []byte("x"), 0644))

	backups, err := f.svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.Equal(t, "2026-06-14", backups[0].Date)
	assert.Equal(t, "2026-06-01", backups[2].Date)

	removed, err := f.svc.Cleanup()
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	backups, err = f.svc.List()
	require.NoError(t, err)
	require.Len(t, backups, 1)
	assert.Equal(t, "sessions_2026-06-14.json", backups[0].Name)
}

func TestListMissingDirectory(t *testing.T) {
	f := setup(t)
	backups, err := f.svc.List()
	require.NoError(t, err)
	assert.Empty(t, backups)

	_, err = f.svc.RestoreLatest(context.Background())
	assert.ErrorIs(t, err, ErrNoBackups)
}

func TestRestore(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, session("G1", models.StatusActive))

	_, _, err := f.svc.Run(ctx)
	require.NoError(t, err)

	// Close the session, then restore the snapshot taken while it was active.
	broken := session("G1", models.StatusCompleted)
	f.seed(t, broken)

	n, err := f.svc.RestoreDate(ctx, "2026-06-15")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := f.store.Get(ctx, "G1")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, models.StatusActive, got.Status)

	t.Run("latest", func(t *testing.T) {
		n, err := f.svc.RestoreLatest(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, n)
	})

	t.Run("bad date", func(t *testing.T) {
		_, err := f.svc.RestoreDate(ctx, "15/06/2026")
		assert.Error(t, err)
	})

	t.Run("missing date", func(t *testing.T) {
		_, err := f.svc.RestoreDate(ctx, "2020-01-01")
		assert.Error(t, err)
	})
}

func TestRestoreRejectsCorruptSnapshot(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	bad := session("G1", models.StatusActive)
	bad.Status = "archived"
	path := filepath.Join(f.dir, "sessions_2026-06-15.json")
	require.NoError(t, WriteSnapshot(path, Snapshot{"G1": bad}))

	_, err := f.svc.RestoreFile(ctx, path)
	assert.ErrorIs(t, err, ErrIntegrity)

	all, err := f.store.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestCheckIntegrity(t *testing.T) {
	ok := session("G1", models.StatusSettled)
	noMembers := session("G3", models.StatusActive)
	noMembers.Members = nil

	tests := []struct {
		name    string
		snap    Snapshot
		wantErr bool
	}{
		{"valid", Snapshot{"G1": ok}, false},
		{"empty", Snapshot{}, false},
		{"nil entry", Snapshot{"G1": nil}, true},
		{"key mismatch", Snapshot{"G2": ok}, true},
		{"members null", Snapshot{"G3": noMembers}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckIntegrity(tt.snap)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrIntegrity)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReadSnapshotArrayFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "export.json")
	body := `[{"groupId":"G1","status":"completed","members":[],"payments":[]}]`
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))

	snap, err := ReadSnapshot(path)
	require.NoError(t, err)
	require.Contains(t, snap, "G1")
	assert.Equal(t, models.StatusCompleted, snap["G1"].Status)
}

func TestImport(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, session("OLD", models.StatusCompleted))

	path := filepath.Join(t.TempDir(), "import.json")
	require.NoError(t, WriteSnapshot(path, NewSnapshot([]*models.Session{
		session("G1", models.StatusActive),
		session("G2", models.StatusCompleted),
	})))

	t.Run("dry run writes nothing", func(t *testing.T) {
		res, err := f.svc.Import(ctx, path, true)
		require.NoError(t, err)
		assert.True(t, res.DryRun)
		assert.Equal(t, 2, res.Sessions)
		assert.Empty(t, res.Backup)

		all, err := f.store.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
	})

	t.Run("import backs up first", func(t *testing.T) {
		res, err := f.svc.Import(ctx, path, false)
		require.NoError(t, err)
		require.NotEmpty(t, res.Backup)

		pre, err := ReadSnapshot(res.Backup)
		require.NoError(t, err)
		assert.Len(t, pre, 1)
		assert.Contains(t, pre, "OLD")

		all, err := f.store.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 3)
	})
}

func TestExportAndVerify(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seed(t, session("G1", models.StatusActive), session("G2", models.StatusSettled))

	path := filepath.Join(t.TempDir(), "export.json")
	n, err := f.svc.Export(ctx, path)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	report, err := f.svc.Verify(ctx, path)
	require.NoError(t, err)
	assert.True(t, report.OK())
	assert.Equal(t, 2, report.Checked)

	// Diverge the store from the export.
	changed := session("G1", models.StatusCompleted)
	f.seed(t, changed)
	extra := NewSnapshot([]*models.Session{session("G1", models.StatusActive), session("G9", models.StatusActive)})
	require.NoError(t, WriteSnapshot(path, extra))

	report, err = f.svc.Verify(ctx, path)
	require.NoError(t, err)
	assert.False(t, report.OK())
	assert.Equal(t, []string{"G9"}, report.Missing)
	require.Len(t, report.Mismatches, 1)
	assert.Equal(t, Mismatch{GroupID: "G1", Field: "status", Snapshot: "active", Store: "completed"}, report.Mismatches[0])
}
