// Package checkpoint snapshots files before mutation so every edit can be
// rolled back.
//
// A checkpoint lives in <dir>/<timestamp>-<id>/ and holds one copy per file
// plus manifest.json. Commit discards the copies, Rollback restores them,
// Retain keeps them on disk until Cleanup ages them out.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ErrFileNotFound is returned when a file to snapshot does not exist.
var ErrFileNotFound = errors.New("file not found")

// ErrUnknownCheckpoint is returned when no checkpoint has the requested ID.
var ErrUnknownCheckpoint = errors.New("unknown checkpoint")

const (
	manifestName    = "manifest.json"
	timestampFormat = "20060102T150405Z"
)

// Entry maps one snapshotted file to its copy.
type Entry struct {
	Path   string      `json:"path"`
	Backup string      `json:"backup"`
	Mode   fs.FileMode `json:"mode"`
}

// Token identifies an open checkpoint.
type Token struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Entries   []Entry   `json:"files"`

	dir string
}

// Files returns the snapshotted paths in snapshot order.
func (t *Token) Files() []string {
	out := make([]string, len(t.Entries))
	for i, e := range t.Entries {
		out[i] = e.Path
	}
	return out
}

// Store creates and resolves checkpoints under one directory.
type Store struct {
	dir    string
	logger *zap.Logger
	now    func() time.Time
}

// NewStore creates a Store rooted at dir. The directory is created lazily.
func NewStore(dir string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{dir: dir, logger: logger.Named("checkpoint"), now: time.Now}
}

// Dir returns the root directory of the store.
func (s *Store) Dir() string { return s.dir }

// Begin snapshots files. Duplicate paths are snapshotted once. It fails,
// leaving nothing behind, when any file is absent or cannot be copied.
func (s *Store) Begin(files []string) (*Token, error) {
	id := uuid.NewString()
	created := s.now().UTC()
	tok := &Token{
		ID:        id,
		CreatedAt: created,
		dir:       filepath.Join(s.dir, created.Format(timestampFormat)+"-"+id),
	}

	if err := os.MkdirAll(tok.dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating checkpoint dir: %w", err)
	}

	seen := make(map[string]bool, len(files))
	for _, f := range files {
		abs, err := filepath.Abs(f)
		if err != nil {
			s.discard(tok)
			return nil, fmt.Errorf("resolving %s: %w", f, err)
		}
		if seen[abs] {
			continue
		}
		seen[abs] = true

		entry, err := s.snapshot(tok, abs, len(tok.Entries))
		if err != nil {
			s.discard(tok)
			return nil, err
		}
		tok.Entries = append(tok.Entries, entry)
	}

	if err := writeManifest(tok); err != nil {
		s.discard(tok)
		return nil, err
	}
	s.logger.Debug("checkpoint begun", zap.String("id", id), zap.Int("files", len(tok.Entries)))
	return tok, nil
}

func (s *Store) snapshot(tok *Token, path string, n int) (Entry, error) {
	info, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Entry{}, fmt.Errorf("%w: %s", ErrFileNotFound, path)
	}
	if err != nil {
		return Entry{}, fmt.Errorf("stat %s: %w", path, err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Entry{}, fmt.Errorf("reading %s: %w", path, err)
	}
	name := fmt.Sprintf("%03d-%s.bak", n, filepath.Base(path))
	if err := os.WriteFile(filepath.Join(tok.dir, name), data, 0o644); err != nil {
		return Entry{}, fmt.Errorf("copying %s: %w", path, err)
	}
	return Entry{Path: path, Backup: name, Mode: info.Mode().Perm()}, nil
}

func writeManifest(tok *Token) error {
	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(tok.dir, manifestName), data, 0o644); err != nil {
		return fmt.Errorf("writing manifest: %w", err)
	}
	return nil
}

// Commit discards the snapshot.
func (s *Store) Commit(tok *Token) error {
	if err := os.RemoveAll(tok.dir); err != nil {
		return fmt.Errorf("discarding checkpoint %s: %w", tok.ID, err)
	}
	return nil
}

// Rollback restores every snapshotted file, then discards the snapshot. When a
// file cannot be restored the snapshot is kept so it can be recovered by hand.
func (s *Store) Rollback(tok *Token) error {
	var errs []error
	for _, e := range tok.Entries {
		data, err := os.ReadFile(filepath.Join(tok.dir, e.Backup))
		if err != nil {
			errs = append(errs, fmt.Errorf("reading backup of %s: %w", e.Path, err))
			continue
		}
		if err := WriteFile(e.Path, data, e.Mode); err != nil {
			errs = append(errs, fmt.Errorf("restoring %s: %w", e.Path, err))
		}
	}
	if len(errs) > 0 {
		s.logger.Error("checkpoint restore incomplete",
			zap.String("id", tok.ID), zap.String("dir", tok.dir), zap.Errors("errors", errs))
		return errors.Join(errs...)
	}
	s.logger.Debug("checkpoint rolled back", zap.String("id", tok.ID))
	return s.Commit(tok)
}

// Retain keeps the snapshot on disk for the retention policy.
func (s *Store) Retain(tok *Token) {
	s.logger.Debug("checkpoint retained", zap.String("id", tok.ID), zap.String("dir", tok.dir))
}

func (s *Store) discard(tok *Token) {
	if err := os.RemoveAll(tok.dir); err != nil {
		s.logger.Warn("removing partial checkpoint", zap.String("dir", tok.dir), zap.Error(err))
	}
}

// Open resolves a retained checkpoint by ID.
func (s *Store) Open(id string) (*Token, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownCheckpoint, id)
		}
		return nil, err
	}
	for _, de := range entries {
		if de.IsDir() && strings.HasSuffix(de.Name(), "-"+id) {
			return readToken(filepath.Join(s.dir, de.Name()))
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownCheckpoint, id)
}

func readToken(dir string) (*Token, error) {
	data, err := os.ReadFile(filepath.Join(dir, manifestName))
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	var tok Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}
	tok.dir = dir
	return &tok, nil
}

// List returns every checkpoint on disk, oldest first. Unreadable ones are skipped.
func (s *Store) List() []*Token {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil
	}
	var out []*Token
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		tok, err := readToken(filepath.Join(s.dir, de.Name()))
		if err != nil {
			s.logger.Debug("skipping unreadable checkpoint", zap.String("dir", de.Name()), zap.Error(err))
			continue
		}
		out = append(out, tok)
	}
	return out
}

// Cleanup deletes checkpoints older than maxAgeDays and returns how many were
// removed. Individual failures are logged and ignored.
func (s *Store) Cleanup(maxAgeDays int) int {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0
	}
	cutoff := s.now().Add(-time.Duration(maxAgeDays) * 24 * time.Hour)

	removed := 0
	for _, de := range entries {
		if !de.IsDir() {
			continue
		}
		dir := filepath.Join(s.dir, de.Name())
		created, ok := checkpointTime(dir, de)
		if !ok || !created.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(dir); err != nil {
			s.logger.Debug("cleanup failed", zap.String("dir", dir), zap.Error(err))
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("removed aged checkpoints", zap.Int("count", removed), zap.Int("max_age_days", maxAgeDays))
	}
	return removed
}

func checkpointTime(dir string, de fs.DirEntry) (time.Time, bool) {
	if tok, err := readToken(dir); err == nil && !tok.CreatedAt.IsZero() {
		return tok.CreatedAt, true
	}
	info, err := de.Info()
	if err != nil {
		return time.Time{}, false
	}
	return info.ModTime(), true
}

// WriteFile replaces path with data through a temporary file in the same
// directory, so readers never observe a partially written file.
func WriteFile(path string, data []byte, perm fs.FileMode) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Chmod(tmpName, perm); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
