package versions

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littlehelper/littlehelper/internal/fault"
)

func setupTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	root := t.TempDir()
	s, err := Open(root)
	require.NoError(t, err)
	return s, root
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func TestSave_CreatedThenUpdated(t *testing.T) {
	s, root := setupTestStore(t)
	path := filepath.Join(root, "notes", "a.txt")

	writeFile(t, path, "one")
	v1, err := s.SaveVersion(path)
	require.NoError(t, err)
	assert.Equal(t, 1, v1.Number)
	assert.Equal(t, "Created a.txt", v1.Description)
	assert.Empty(t, v1.ParentHash)

	writeFile(t, path, "two")
	v2, err := s.SaveVersion(path)
	require.NoError(t, err)
	assert.Equal(t, 2, v2.Number)
	assert.Equal(t, "Updated a.txt", v2.Description)
	assert.Equal(t, v1.Hash, v2.ParentHash)

	_, err = os.Stat(filepath.Join(root, ".little-helper", "versions", "objects.git", "HEAD"))
	assert.NoError(t, err)
}

func TestRestore_SavesCurrentFirst(t *testing.T) {
	s, root := setupTestStore(t)
	path := filepath.Join(root, "a.txt")

	writeFile(t, path, "hello")
	_, err := s.SaveVersion(path)
	require.NoError(t, err)
	writeFile(t, path, "hello world")
	_, err = s.SaveVersion(path)
	require.NoError(t, err)

	_, err = s.Restore(path, 1)
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	vs, err := s.List(path)
	require.NoError(t, err)
	require.Len(t, vs, 3)
	assert.Equal(t, "Saved before restoring version 1", vs[2].Description)
	assert.True(t, vs[0].IsCurrent)
	assert.False(t, vs[1].IsCurrent)
	assert.False(t, vs[2].IsCurrent)

	old, err := s.Content(path, 3)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(old))
}

func TestRestore_CurrentMatches(t *testing.T) {
	s, root := setupTestStore(t)
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "same")
	_, err := s.SaveVersion(path)
	require.NoError(t, err)

	_, err = s.Restore(path, 1)
	assert.True(t, errors.Is(err, fault.ErrCurrentMatches))

	vs, err := s.List(path)
	require.NoError(t, err)
	assert.Len(t, vs, 1)
}

func TestRestore_UnknownVersion(t *testing.T) {
	s, root := setupTestStore(t)
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "x")
	_, err := s.SaveVersion(path)
	require.NoError(t, err)

	_, err = s.Restore(path, 5)
	assert.True(t, errors.Is(err, fault.ErrNotFound))
	_, err = s.Restore(path, 0)
	assert.True(t, errors.Is(err, fault.ErrNotFound))
}

func TestRestore_RecreatesMissingFile(t *testing.T) {
	s, root := setupTestStore(t)
	path := filepath.Join(root, "gone.txt")
	writeFile(t, path, "keep me")
	_, err := s.SaveVersion(path)
	require.NoError(t, err)
	require.NoError(t, os.Remove(path))

	_, err = s.Restore(path, 1)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "keep me", string(data))
}

func TestSave_NumbersDenseAndTimesIncrease(t *testing.T) {
	s, root := setupTestStore(t)
	fixed := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }
	path := filepath.Join(root, "a.txt")

	for i := 0; i < 6; i++ {
		_, err := s.SaveBytes(path, []byte{byte(i)}, SaveOptions{})
		require.NoError(t, err)
	}

	vs, err := s.List(path)
	require.NoError(t, err)
	require.Len(t, vs, 6)
	for i, v := range vs {
		assert.Equal(t, i+1, v.Number)
		if i > 0 {
			assert.True(t, v.Timestamp.After(vs[i-1].Timestamp), "timestamps must increase")
		}
	}
}

func TestList_NoStoreIsEmpty(t *testing.T) {
	s, root := setupTestStore(t)
	vs, err := s.List(filepath.Join(root, "never.txt"))
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestSave_OutsideRoot(t *testing.T) {
	s, _ := setupTestStore(t)
	other := filepath.Join(t.TempDir(), "x.txt")
	writeFile(t, other, "x")

	_, err := s.SaveVersion(other)
	assert.True(t, errors.Is(err, fault.ErrInvalidInput))
}

func TestSave_RecreatesCorruptStore(t *testing.T) {
	s, root := setupTestStore(t)
	objects := filepath.Join(root, ".little-helper", "versions", "objects.git")
	require.NoError(t, os.MkdirAll(filepath.Dir(objects), 0755))
	require.NoError(t, os.WriteFile(objects, []byte("garbage"), 0644))

	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "data")
	v, err := s.SaveVersion(path)
	require.NoError(t, err)
	assert.Equal(t, 1, v.Number)

	matches, err := filepath.Glob(objects + ".corrupt-*")
	require.NoError(t, err)
	assert.Len(t, matches, 1, "corrupt store is moved aside, not deleted")

	content, err := s.Content(path, 1)
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))
}

func TestStore_ReopenReadsHistory(t *testing.T) {
	s, root := setupTestStore(t)
	path := filepath.Join(root, "a.txt")
	writeFile(t, path, "v1")
	_, err := s.SaveVersion(path)
	require.NoError(t, err)

	again, err := Open(root)
	require.NoError(t, err)
	vs, err := again.List(path)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	content, err := again.Content(path, 1)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(content))
}

func TestSaveBytes_Linked(t *testing.T) {
	s, root := setupTestStore(t)
	path := filepath.Join(root, "b.txt")
	v, err := s.SaveBytes(path, []byte("moved"), SaveOptions{
		Description: "Moved from a.txt",
		LinkedFrom:  "a.txt",
		Parent:      HashOf([]byte("moved")),
	})
	require.NoError(t, err)
	assert.Equal(t, "a.txt", v.LinkedFrom)
	assert.Equal(t, v.Hash, v.ParentHash)
}

func TestWriteFileAtomic_KeepsMode(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte("old"), 0700))
	require.NoError(t, WriteFileAtomic(path, []byte("new")))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0700), info.Mode().Perm())
	data, _ := os.ReadFile(path)
	assert.Equal(t, "new", string(data))
}
