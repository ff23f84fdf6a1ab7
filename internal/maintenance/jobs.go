package maintenance

import (
	"context"
	"log/slog"

	"github.com/mmynk/tatekae/internal/cache"
)

const (
	JobBackup     = "backup"
	JobCheckpoint = "checkpoint"
	JobSweep      = "cache_sweep"
)

// Backuper writes the daily snapshot.
type Backuper interface {
	Run(ctx context.Context) (string, bool, error)
}

// Checkpointer truncates the write-ahead log.
type Checkpointer interface {
	Checkpoint(ctx context.Context) error
}

// Sweeper evicts expired and excess cache entries.
type Sweeper interface {
	SweepCache() int
	CacheStats() cache.Stats
}

// Flusher drains queued eventual writes into the store.
type Flusher interface {
	FlushPending(ctx context.Context) error
}

// BackupJob flushes pending writes and then runs the daily snapshot. A failed
// flush is logged and the snapshot still taken from what the store holds.
// A nil Flusher skips the flush.
func BackupJob(b Backuper, f Flusher, logger *slog.Logger) JobFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		if f != nil {
			if err := f.FlushPending(ctx); err != nil {
				logger.Warn("Backup taken without flushing pending writes", "error", err)
			}
		}
		_, _, err := b.Run(ctx)
		return err
	}
}

// CheckpointJob checkpoints the store's WAL.
func CheckpointJob(c Checkpointer) JobFunc {
	return func(ctx context.Context) error {
		return c.Checkpoint(ctx)
	}
}

// SweepJob evicts cache entries and logs the resulting cache size.
func SweepJob(s Sweeper, logger *slog.Logger) JobFunc {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context) error {
		evicted := s.SweepCache()
		if evicted > 0 {
			stats := s.CacheStats()
			logger.Info("Cache swept", "evicted", evicted, "size", stats.Size, "pending", stats.Pending)
		}
		return nil
	}
}
