package safefs

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/versions"
)

type fixture struct {
	ops     *Ops
	log     *audit.Log
	work    string
	archive string
}

func setupTestOps(t *testing.T) fixture {
	t.Helper()
	base := t.TempDir()
	work := filepath.Join(base, "work")
	require.NoError(t, os.MkdirAll(work, 0755))
	log, err := audit.Open(filepath.Join(base, "audit"))
	require.NoError(t, err)
	archive := filepath.Join(base, "archive")
	ops := New(Config{
		Roots:       versions.NewRoots([]string{work}),
		Audit:       log,
		ArchiveDir:  archive,
		AllowedDirs: []string{work},
	})
	return fixture{ops: ops, log: log, work: work, archive: archive}
}

func fileOps(t *testing.T, l *audit.Log) []audit.Entry {
	t.Helper()
	got, err := l.Query(audit.Filter{Types: []audit.EventType{audit.FileOpEvent}, Ascending: true})
	require.NoError(t, err)
	return got
}

func TestCreate_VersionsAndAudits(t *testing.T) {
	f := setupTestOps(t)
	path := filepath.Join(f.work, "sub", "new.txt")

	a, err := f.ops.Create(path, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, Created, a.Kind)
	assert.Equal(t, 1, a.Version)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "hi", string(data))

	entries := fileOps(t, f.log)
	require.Len(t, entries, 1)
	assert.Equal(t, "File created", entries[0].Action)

	_, err = f.ops.Create(path, []byte("again"))
	assert.True(t, errors.Is(err, fault.ErrAlreadyExists))
}

func TestModify_SnapshotsUnversionedFile(t *testing.T) {
	f := setupTestOps(t)
	path := filepath.Join(f.work, "external.txt")
	require.NoError(t, os.WriteFile(path, []byte("written elsewhere"), 0644))

	a, err := f.ops.Modify(path, []byte("changed"))
	require.NoError(t, err)
	assert.Equal(t, 2, a.Version)

	store, err := f.ops.Versions().For(path)
	require.NoError(t, err)
	first, err := store.Content(path, 1)
	require.NoError(t, err)
	assert.Equal(t, "written elsewhere", string(first))
}

func TestModify_Missing(t *testing.T) {
	f := setupTestOps(t)
	_, err := f.ops.Modify(filepath.Join(f.work, "nope.txt"), []byte("x"))
	assert.True(t, errors.Is(err, fault.ErrNotFound))
}

func TestWrite_UnchangedSkipsVersion(t *testing.T) {
	f := setupTestOps(t)
	path := filepath.Join(f.work, "w.txt")
	_, err := f.ops.Write(path, []byte("same"))
	require.NoError(t, err)

	a, err := f.ops.Write(path, []byte("same"))
	require.NoError(t, err)
	assert.Equal(t, Unchanged, a.Kind)

	store, _ := f.ops.Versions().For(path)
	vs, err := store.List(path)
	require.NoError(t, err)
	assert.Len(t, vs, 1)
}

func TestAppend(t *testing.T) {
	f := setupTestOps(t)
	path := filepath.Join(f.work, "log.md")
	_, err := f.ops.Append(path, []byte("a"))
	require.NoError(t, err)
	a, err := f.ops.Append(path, []byte("b"))
	require.NoError(t, err)
	assert.Equal(t, Modified, a.Kind)

	data, _ := os.ReadFile(path)
	assert.Equal(t, "ab", string(data))
}

func TestArchive_MovesAndKeepsVersion(t *testing.T) {
	f := setupTestOps(t)
	f.ops.now = func() time.Time { return time.Date(2025, 4, 5, 6, 7, 8, 0, time.Local) }
	path := filepath.Join(f.work, "report.pdf")
	require.NoError(t, os.WriteFile(path, []byte("pdf bytes"), 0644))

	a, err := f.ops.Archive(path)
	require.NoError(t, err)
	want := filepath.Join(f.archive, "20250405_060708", "report.pdf")
	assert.Equal(t, want, a.To)

	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	data, err := os.ReadFile(want)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(data))

	store, _ := f.ops.Versions().For(path)
	saved, err := store.Content(path, 1)
	require.NoError(t, err)
	assert.Equal(t, "pdf bytes", string(saved))

	entries := fileOps(t, f.log)
	require.Len(t, entries, 1)
	assert.Equal(t, "File archived to "+want, entries[0].Action)

	// Same second, same name.
	require.NoError(t, os.WriteFile(path, []byte("second"), 0644))
	a2, err := f.ops.Archive(path)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.archive, "20250405_060708", "report_1.pdf"), a2.To)
}

func TestMove_LinksHistory(t *testing.T) {
	f := setupTestOps(t)
	src := filepath.Join(f.work, "a.txt")
	dst := filepath.Join(f.work, "docs", "b.txt")
	_, err := f.ops.Create(src, []byte("content"))
	require.NoError(t, err)

	a, err := f.ops.Move(src, dst)
	require.NoError(t, err)
	assert.Equal(t, Moved, a.Kind)
	assert.Equal(t, src, a.From)

	store, _ := f.ops.Versions().For(dst)
	vs, err := store.List(dst)
	require.NoError(t, err)
	require.Len(t, vs, 1)
	assert.Equal(t, src, vs[0].LinkedFrom)
	assert.Equal(t, "Moved from a.txt", vs[0].Description)
	assert.Equal(t, versions.HashOf([]byte("content")), vs[0].ParentHash)

	_, err = f.ops.Move(dst, dst)
	assert.True(t, errors.Is(err, fault.ErrAlreadyExists))
}

func TestRestore_ThroughOps(t *testing.T) {
	f := setupTestOps(t)
	path := filepath.Join(f.work, "r.txt")
	_, err := f.ops.Create(path, []byte("v1"))
	require.NoError(t, err)
	_, err = f.ops.Modify(path, []byte("v2"))
	require.NoError(t, err)

	a, err := f.ops.Restore(path, 1)
	require.NoError(t, err)
	assert.Equal(t, Restored, a.Kind)
	data, _ := os.ReadFile(path)
	assert.Equal(t, "v1", string(data))

	_, err = f.ops.Restore(path, 1)
	assert.True(t, errors.Is(err, fault.ErrCurrentMatches))
}

func TestOps_OutsideAllowedDirs(t *testing.T) {
	f := setupTestOps(t)
	_, err := f.ops.Create(filepath.Join(t.TempDir(), "x.txt"), []byte("x"))
	assert.True(t, errors.Is(err, fault.ErrPermissionDenied))

	_, err = f.ops.Create(filepath.Join(f.work, ".little-helper", "versions", "x"), []byte("x"))
	assert.True(t, errors.Is(err, fault.ErrPermissionDenied))
}

func TestWithSkill_StampsAudit(t *testing.T) {
	f := setupTestOps(t)
	_, err := f.ops.WithSkill("file_write").Create(filepath.Join(f.work, "s.txt"), []byte("x"))
	require.NoError(t, err)

	entries := fileOps(t, f.log)
	require.Len(t, entries, 1)
	assert.Equal(t, "file_write", entries[0].SkillID)
}

// Every byte string a file ever held through these operations is
// retrievable afterwards.
func TestOps_NoContentIsLost(t *testing.T) {
	f := setupTestOps(t)
	path := filepath.Join(f.work, "p.txt")
	states := []string{"one"}
	_, err := f.ops.Create(path, []byte("one"))
	require.NoError(t, err)

	for _, next := range []string{"two", "three", "two"} {
		_, err := f.ops.Write(path, []byte(next))
		require.NoError(t, err)
		states = append(states, next)
	}
	_, err = f.ops.Append(path, []byte("!"))
	require.NoError(t, err)
	states = append(states, "two!")
	_, err = f.ops.Restore(path, 1)
	require.NoError(t, err)

	store, _ := f.ops.Versions().For(path)
	vs, err := store.List(path)
	require.NoError(t, err)
	held := map[string]bool{}
	for _, v := range vs {
		b, err := store.Content(path, v.Number)
		require.NoError(t, err)
		held[string(b)] = true
	}
	for _, s := range states {
		assert.True(t, held[s], "lost %q", s)
	}
	_, err = f.ops.Archive(path)
	require.NoError(t, err)
	assert.Len(t, fileOps(t, f.log), 7)
}
