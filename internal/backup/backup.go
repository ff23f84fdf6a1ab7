// Package backup writes daily JSON snapshots of the ledger store and restores,
// imports, exports and verifies them.
package backup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/mmynk/tatekae/internal/models"
)

const (
	filePrefix = "sessions_"
	fileSuffix = ".json"
	dateLayout = "2006-01-02"

	DefaultRetentionDays = 7
)

// ErrNoBackups is returned by RestoreLatest when the backup directory is empty.
var ErrNoBackups = errors.New("no backups found")

// Store is the subset of the ledger store used for backups.
type Store interface {
	GetAll(ctx context.Context) ([]*models.Session, error)
	BatchUpsert(ctx context.Context, sessions []*models.Session) error
	Checkpoint(ctx context.Context) error
}

// Options configures a Service.
type Options struct {
	// Dir is where snapshot files live.
	Dir string

	// RetentionDays is how long snapshot files are kept, by modification time.
	RetentionDays int

	// Location decides which calendar day a backup belongs to. Defaults to UTC.
	Location *time.Location

	Now    func() time.Time
	Logger *slog.Logger
}

// Info describes one snapshot file.
type Info struct {
	Name    string    `json:"name"`
	Path    string    `json:"path"`
	Date    string    `json:"date"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"modTime"`
}

// Service manages snapshot files for a store.
type Service struct {
	store     Store
	dir       string
	retention time.Duration
	loc       *time.Location
	now       func() time.Time
	logger    *slog.Logger
}

// New creates a backup Service.
func New(store Store, opts Options) *Service {
	if opts.RetentionDays <= 0 {
		opts.RetentionDays = DefaultRetentionDays
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Service{
		store:     store,
		dir:       opts.Dir,
		retention: time.Duration(opts.RetentionDays) * 24 * time.Hour,
		loc:       opts.Location,
		now:       opts.Now,
		logger:    opts.Logger,
	}
}

// PathFor returns the snapshot path for the given day.
func (s *Service) PathFor(day time.Time) string {
	return filepath.Join(s.dir, filePrefix+day.In(s.loc).Format(dateLayout)+fileSuffix)
}

// Run writes today's snapshot unless it already exists, then prunes old files.
// It reports the snapshot path and whether a new file was written.
func (s *Service) Run(ctx context.Context) (string, bool, error) {
	path := s.PathFor(s.now())
	if _, err := os.Stat(path); err == nil {
		s.logger.Info("Backup already exists for today, skipping", "path", path)
		return path, false, nil
	}

	// A failed checkpoint only means the WAL stays large; the snapshot is read
	// through SQL and is unaffected.
	if err := s.store.Checkpoint(ctx); err != nil {
		s.logger.Warn("WAL checkpoint before backup failed", "error", err)
	}

	n, err := s.Export(ctx, path)
	if err != nil {
		return "", false, err
	}

	snap, err := ReadSnapshot(path)
	if err != nil {
		return "", false, err
	}
	if err := CheckIntegrity(snap); err != nil {
		return "", false, fmt.Errorf("backup %s: %w", filepath.Base(path), err)
	}

	s.logger.Info("Backup created", "path", path, "sessions", n)

	if removed, err := s.Cleanup(); err != nil {
		s.logger.Warn("Backup cleanup failed", "error", err)
	} else if removed > 0 {
		s.logger.Info("Old backups removed", "count", removed)
	}
	return path, true, nil
}

// Export writes every stored session to path and returns how many were written.
func (s *Service) Export(ctx context.Context, path string) (int, error) {
	sessions, err := s.store.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to read sessions: %w", err)
	}
	if err := WriteSnapshot(path, NewSnapshot(sessions)); err != nil {
		return 0, err
	}
	return len(sessions), nil
}

// Cleanup removes snapshot files older than the retention period.
func (s *Service) Cleanup() (int, error) {
	backups, err := s.List()
	if err != nil {
		return 0, err
	}

	cutoff := s.now().Add(-s.retention)
	removed := 0
	for _, b := range backups {
		if !b.ModTime.Before(cutoff) {
			continue
		}
		if err := os.Remove(b.Path); err != nil {
			return removed, fmt.Errorf("failed to remove %s: %w", b.Name, err)
		}
		removed++
	}
	return removed, nil
}

// List returns the snapshot files in the backup directory, newest first.
// A missing directory yields an empty list.
func (s *Service) List() ([]Info, error) {
	entries, err := os.ReadDir(s.dir)
	if errors.Is(err, os.ErrNotExist) {
		return []Info{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read backup directory: %w", err)
	}

	backups := []Info{}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		fi, err := e.Info()
		if err != nil {
			continue
		}
		backups = append(backups, Info{
			Name:    name,
			Path:    filepath.Join(s.dir, name),
			Date:    strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix),
			Size:    fi.Size(),
			ModTime: fi.ModTime(),
		})
	}

	slices.SortFunc(backups, func(a, b Info) int {
		if c := b.ModTime.Compare(a.ModTime); c != 0 {
			return c
		}
		return strings.Compare(b.Name, a.Name)
	})
	return backups, nil
}

// RestoreLatest restores the newest snapshot file.
func (s *Service) RestoreLatest(ctx context.Context) (int, error) {
	backups, err := s.List()
	if err != nil {
		return 0, err
	}
	if len(backups) == 0 {
		return 0, ErrNoBackups
	}
	return s.RestoreFile(ctx, backups[0].Path)
}

// RestoreDate restores the snapshot taken on date (YYYY-MM-DD).
func (s *Service) RestoreDate(ctx context.Context, date string) (int, error) {
	day, err := time.ParseInLocation(dateLayout, date, s.loc)
	if err != nil {
		return 0, fmt.Errorf("invalid backup date %q: %w", date, err)
	}
	return s.RestoreFile(ctx, s.PathFor(day))
}

// RestoreFile upserts every session in the snapshot in one transaction.
// The snapshot must pass the integrity check.
func (s *Service) RestoreFile(ctx context.Context, path string) (int, error) {
	snap, err := ReadSnapshot(path)
	if err != nil {
		return 0, err
	}
	if err := CheckIntegrity(snap); err != nil {
		return 0, err
	}

	sessions := snap.Sessions()
	if err := s.store.BatchUpsert(ctx, sessions); err != nil {
		return 0, fmt.Errorf("failed to restore sessions: %w", err)
	}

	s.logger.Info("Sessions restored", "path", path, "sessions", len(sessions))
	return len(sessions), nil
}
