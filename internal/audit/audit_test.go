package audit

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestLog(t *testing.T) *Log {
	t.Helper()
	l, err := Open(filepath.Join(t.TempDir(), "audit"))
	require.NoError(t, err)
	return l
}

func TestAppend_WritesDatedFile(t *testing.T) {
	l := setupTestLog(t)
	e := FileOp("/w/a.txt", "Created a.txt", "")
	l.Append(e)

	name := e.Timestamp.UTC().Format("2006-01-02") + ".jsonl"
	data, err := os.ReadFile(filepath.Join(l.Dir(), name))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"action":"Created a.txt"`)
	assert.Contains(t, string(data), `"event_type":"file_op"`)
	assert.Equal(t, int64(0), l.Failures())
}

func TestQuery_FiltersAndOrder(t *testing.T) {
	l := setupTestLog(t)
	base := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)

	entries := []Entry{
		SkillExec("file_search", "Started file_search", nil),
		FileOp("/w/docs/a.txt", "Created a.txt", "file_write"),
		PermChange("file_write", "ask", "enabled"),
		Error("boom", "", "").Hidden(),
	}
	for i := range entries {
		entries[i].Timestamp = base.Add(time.Duration(i) * time.Minute)
		l.Append(entries[i])
	}

	all, err := l.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, ErrorEvent, all[0].Type, "newest first")

	asc, err := l.Query(Filter{Ascending: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, asc, 2)
	assert.Equal(t, SkillExecEvent, asc[0].Type)

	byPath, err := l.Query(Filter{PathPrefix: "/w/docs"})
	require.NoError(t, err)
	require.Len(t, byPath, 1)
	assert.Equal(t, "file_write", byPath[0].SkillID)

	bySkill, err := l.Query(Filter{SkillID: "file_write", Types: []EventType{PermChangeEvent}})
	require.NoError(t, err)
	require.Len(t, bySkill, 1)
	assert.JSONEq(t, `{"old":"ask","new":"enabled"}`, string(bySkill[0].Details))

	visible, err := l.Query(Filter{UserVisibleOnly: true})
	require.NoError(t, err)
	assert.Len(t, visible, 3)

	window, err := l.Query(Filter{From: base.Add(time.Minute), To: base.Add(3 * time.Minute)})
	require.NoError(t, err)
	assert.Len(t, window, 2)
}

func TestAppend_RotatesBySize(t *testing.T) {
	l := setupTestLog(t)
	l.maxFileSize = 300
	ts := time.Date(2025, 3, 2, 9, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		e := FileOp("/w/file.txt", "Updated file.txt", "")
		e.Timestamp = ts.Add(time.Duration(i) * time.Second)
		l.Append(e)
	}

	_, err := os.Stat(filepath.Join(l.Dir(), "2025-03-02.jsonl"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(l.Dir(), "2025-03-02.1.jsonl"))
	require.NoError(t, err)

	got, err := l.Query(Filter{})
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestAppend_FailureIsSwallowed(t *testing.T) {
	l := setupTestLog(t)

	// Replace the directory with a plain file so writes fail.
	require.NoError(t, os.RemoveAll(l.Dir()))
	require.NoError(t, os.WriteFile(l.Dir(), []byte("x"), 0644))

	lost := FileOp("/w/a.txt", "Updated a.txt", "")
	l.Append(lost)
	assert.Equal(t, int64(1), l.Failures())

	require.NoError(t, os.Remove(l.Dir()))
	require.NoError(t, os.MkdirAll(l.Dir(), 0755))
	l.Append(FileOp("/w/b.txt", "Updated b.txt", ""))

	got, err := l.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, got, 2)

	ids := []string{got[0].ID, got[1].ID}
	assert.Contains(t, ids, lost.ID)
}

func TestRecent_RingKeepsNewest(t *testing.T) {
	l := setupTestLog(t)
	for i := 0; i < TailSize+10; i++ {
		l.Append(SkillExec("s", "run", map[string]int{"i": i}))
	}
	recent := l.Recent(3)
	require.Len(t, recent, 3)
	assert.JSONEq(t, `{"i":265}`, string(recent[0].Details))
	assert.Len(t, l.Recent(0), TailSize)
	assert.Equal(t, TailSize, l.Stats().SkillExecutions)
}

func TestQuery_SkipsMalformedLines(t *testing.T) {
	l := setupTestLog(t)
	path := filepath.Join(l.Dir(), "2025-01-01.jsonl")
	require.NoError(t, os.WriteFile(path, []byte("not json\n{\"id\":\"x\",\"event_type\":\"error\",\"action\":\"a\",\"timestamp\":\"2025-01-01T00:00:00Z\"}\n"), 0644))

	got, err := l.Query(Filter{})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "x", got[0].ID)
}

func TestSummarize(t *testing.T) {
	s := Summarize([]Entry{
		SkillExec("file_search", "Started file_search", nil),
		FileOp("/w/a.txt", "Created a.txt", "file_write"),
		FileOp("/w/b.txt", "Created b.txt", "file_write"),
		PermChange("file_write", "ask", "enabled"),
		Error("boom", "", ""),
	})
	assert.Equal(t, Stats{Total: 5, SkillExecutions: 1, FileOperations: 2, PermissionChanges: 1, Errors: 1}, s)
}
