package maintenance

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmynk/tatekae/internal/cache"
)

type fakeBackup struct {
	runs  atomic.Int32
	err   error
	calls *[]string
}

func (f *fakeBackup) Run(ctx context.Context) (string, bool, error) {
	f.runs.Add(1)
	if f.calls != nil {
		*f.calls = append(*f.calls, "backup")
	}
	return "sessions_2026-06-15.json", true, f.err
}

type fakeFlusher struct {
	err   error
	calls *[]string
}

func (f *fakeFlusher) FlushPending(ctx context.Context) error {
	*f.calls = append(*f.calls, "flush")
	return f.err
}

type fakeCheckpoint struct {
	ctxHadDeadline bool
}

func (f *fakeCheckpoint) Checkpoint(ctx context.Context) error {
	_, f.ctxHadDeadline = ctx.Deadline()
	return nil
}

type fakeSweeper struct {
	evicted int
	sweeps  int
}

func (f *fakeSweeper) SweepCache() int {
	f.sweeps++
	return f.evicted
}

func (f *fakeSweeper) CacheStats() cache.Stats {
	return cache.Stats{Size: 3}
}

func TestScheduler(t *testing.T) {
	s := New(time.UTC, time.Minute, nil)

	b := &fakeBackup{}
	cp := &fakeCheckpoint{}
	sw := &fakeSweeper{evicted: 2}

	require.NoError(t, s.Add(JobBackup, "0 3 * * *", BackupJob(b, nil, nil)))
	require.NoError(t, s.Add(JobCheckpoint, "*/30 * * * *", CheckpointJob(cp)))
	require.NoError(t, s.Add(JobSweep, "@hourly", SweepJob(sw, nil)))

	t.Run("run now", func(t *testing.T) {
		require.NoError(t, s.RunNow(JobBackup))
		assert.Equal(t, int32(1), b.runs.Load())

		require.NoError(t, s.RunNow(JobCheckpoint))
		assert.True(t, cp.ctxHadDeadline)

		require.NoError(t, s.RunNow(JobSweep))
		assert.Equal(t, 1, sw.sweeps)
	})

	t.Run("duplicate name", func(t *testing.T) {
		assert.Error(t, s.Add(JobBackup, "@daily", BackupJob(b, nil, nil)))
	})

	t.Run("unknown job", func(t *testing.T) {
		assert.Error(t, s.RunNow("reindex"))
	})

	t.Run("errors are returned", func(t *testing.T) {
		b.err = errors.New("disk full")
		assert.ErrorContains(t, s.RunNow(JobBackup), "disk full")
	})
}

func TestBackupJobFlushesFirst(t *testing.T) {
	t.Run("pending writes reach the store before the snapshot", func(t *testing.T) {
		var calls []string
		job := BackupJob(&fakeBackup{calls: &calls}, &fakeFlusher{calls: &calls}, nil)
		require.NoError(t, job(context.Background()))
		assert.Equal(t, []string{"flush", "backup"}, calls)
	})

	t.Run("failed flush still takes the snapshot", func(t *testing.T) {
		var calls []string
		f := &fakeFlusher{err: errors.New("disk full"), calls: &calls}
		job := BackupJob(&fakeBackup{calls: &calls}, f, nil)
		require.NoError(t, job(context.Background()))
		assert.Equal(t, []string{"flush", "backup"}, calls)
	})
}

func TestSchedulerRejectsBadSpec(t *testing.T) {
	s := New(time.UTC, 0, nil)
	assert.Error(t, s.Add("bad", "every tuesday", func(ctx context.Context) error { return nil }))
	// The name is free again after a failed registration.
	assert.NoError(t, s.Add("bad", "@daily", func(ctx context.Context) error { return nil }))
}

func TestSchedulerDisabledJob(t *testing.T) {
	s := New(time.UTC, 0, nil)
	var ran bool
	require.NoError(t, s.Add(JobSweep, "", func(ctx context.Context) error {
		ran = true
		return nil
	}))
	assert.Empty(t, s.cron.Entries())

	require.NoError(t, s.RunNow(JobSweep))
	assert.True(t, ran)
}

func TestSchedulerStartStop(t *testing.T) {
	s := New(time.UTC, 0, nil)

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start()
	require.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}
