package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/mmynk/tatekae/internal/models"
)

// ErrIntegrity is returned when a snapshot fails validation.
var ErrIntegrity = errors.New("backup integrity check failed")

// Snapshot is the on-disk backup format: group ID to session document.
type Snapshot map[string]*models.Session

// NewSnapshot indexes sessions by group ID.
func NewSnapshot(sessions []*models.Session) Snapshot {
	snap := make(Snapshot, len(sessions))
	for _, s := range sessions {
		snap[s.GroupID] = s
	}
	return snap
}

// Sessions returns the snapshot's sessions ordered by group ID.
func (s Snapshot) Sessions() []*models.Session {
	ids := sortedKeys(s)
	out := make([]*models.Session, len(ids))
	for i, id := range ids {
		out[i] = s[id]
	}
	return out
}

// ReadSnapshot loads a snapshot file. Besides the keyed object format it
// accepts a plain JSON array of sessions, as written by older exports.
func ReadSnapshot(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var sessions []*models.Session
		if err := json.Unmarshal(trimmed, &sessions); err != nil {
			return nil, fmt.Errorf("failed to decode snapshot %s: %w", filepath.Base(path), err)
		}
		return NewSnapshot(sessions), nil
	}

	var snap Snapshot
	if err := json.Unmarshal(trimmed, &snap); err != nil {
		return nil, fmt.Errorf("failed to decode snapshot %s: %w", filepath.Base(path), err)
	}
	return snap, nil
}

// WriteSnapshot writes snap as indented JSON. The file is written to a
// temporary name and renamed so a crash never leaves a partial backup.
func WriteSnapshot(path string, snap Snapshot) error {
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create backup directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".snapshot-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write snapshot: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close snapshot: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to move snapshot into place: %w", err)
	}
	return nil
}

// CheckIntegrity validates every entry of the snapshot. It returns an error
// wrapping ErrIntegrity that lists each problem found.
func CheckIntegrity(snap Snapshot) error {
	var problems []string
	for _, id := range sortedKeys(snap) {
		s := snap[id]
		switch {
		case s == nil:
			problems = append(problems, fmt.Sprintf("%s: empty entry", id))
			continue
		case s.GroupID == "":
			problems = append(problems, fmt.Sprintf("%s: missing groupId", id))
		case s.GroupID != id:
			problems = append(problems, fmt.Sprintf("%s: groupId %q does not match key", id, s.GroupID))
		}
		if !s.Status.Valid() {
			problems = append(problems, fmt.Sprintf("%s: invalid status %q", id, s.Status))
		}
		if s.Members == nil {
			problems = append(problems, fmt.Sprintf("%s: members is not an array", id))
		}
		if s.Payments == nil {
			problems = append(problems, fmt.Sprintf("%s: payments is not an array", id))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", ErrIntegrity, strings.Join(problems, "; "))
	}
	return nil
}

func sortedKeys(snap Snapshot) []string {
	ids := make([]string, 0, len(snap))
	for id := range snap {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}
