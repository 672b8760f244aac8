package checkpoint

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setup(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	return NewStore(filepath.Join(root, "backups"), nil), root
}

func write(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func read(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func checkpointDirs(t *testing.T, s *Store) []os.DirEntry {
	t.Helper()
	entries, err := os.ReadDir(s.Dir())
	if os.IsNotExist(err) {
		return nil
	}
	require.NoError(t, err)
	return entries
}

func TestBeginRollback(t *testing.T) {
	s, root := setup(t)
	a := filepath.Join(root, "a.cpp")
	b := filepath.Join(root, "b.cpp")
	write(t, a, "alpha\n")
	write(t, b, "beta\n")

	tok, err := s.Begin([]string{a, b, a})
	require.NoError(t, err)
	assert.Len(t, tok.Entries, 2, "duplicates snapshotted once")

	write(t, a, "mutated\n")
	write(t, b, "mutated\n")

	require.Equal(t, a, tok.Entries[0].Path)
	backup, err := os.ReadFile(filepath.Join(tok.dir, tok.Entries[0].Backup))
	require.NoError(t, err)
	assert.Equal(t, "alpha\n", string(backup))

	require.NoError(t, s.Rollback(tok))
	assert.Equal(t, "alpha\n", read(t, a))
	assert.Equal(t, "beta\n", read(t, b))
	assert.Empty(t, checkpointDirs(t, s))
}

func TestBeginCommit(t *testing.T) {
	s, root := setup(t)
	a := filepath.Join(root, "a.cpp")
	write(t, a, "alpha\n")

	tok, err := s.Begin([]string{a})
	require.NoError(t, err)
	require.Len(t, checkpointDirs(t, s), 1)

	write(t, a, "kept\n")
	require.NoError(t, s.Commit(tok))
	assert.Equal(t, "kept\n", read(t, a))
	assert.Empty(t, checkpointDirs(t, s))
}

func TestBegin_MissingFile(t *testing.T) {
	s, root := setup(t)
	a := filepath.Join(root, "a.cpp")
	write(t, a, "alpha\n")

	_, err := s.Begin([]string{a, filepath.Join(root, "gone.cpp")})
	require.ErrorIs(t, err, ErrFileNotFound)
	assert.Empty(t, checkpointDirs(t, s), "partial checkpoint removed")
}

func TestRetainOpen(t *testing.T) {
	s, root := setup(t)
	a := filepath.Join(root, "a.cpp")
	write(t, a, "alpha\n")

	tok, err := s.Begin([]string{a})
	require.NoError(t, err)
	s.Retain(tok)
	write(t, a, "changed\n")

	reopened, err := s.Open(tok.ID)
	require.NoError(t, err)
	assert.Equal(t, tok.Files(), reopened.Files())
	require.Len(t, s.List(), 1)

	require.NoError(t, s.Rollback(reopened))
	assert.Equal(t, "alpha\n", read(t, a))

	_, err = s.Open("nope")
	assert.ErrorIs(t, err, ErrUnknownCheckpoint)
}

func TestCleanup(t *testing.T) {
	s, root := setup(t)
	a := filepath.Join(root, "a.cpp")
	write(t, a, "alpha\n")

	old := time.Now().Add(-10 * 24 * time.Hour)
	s.now = func() time.Time { return old }
	_, err := s.Begin([]string{a})
	require.NoError(t, err)

	s.now = time.Now
	_, err = s.Begin([]string{a})
	require.NoError(t, err)

	assert.Equal(t, 1, s.Cleanup(7))
	assert.Len(t, checkpointDirs(t, s), 1)
	assert.Equal(t, 0, s.Cleanup(7))
}

func TestCleanup_MissingDir(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "none"), nil)
	assert.Zero(t, s.Cleanup(0))
	assert.Empty(t, s.List())
}

func TestWriteFile_PreservesMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x.sh")
	require.NoError(t, WriteFile(path, []byte("echo"), 0o755))
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())
	assert.Equal(t, "echo", read(t, path))
}
