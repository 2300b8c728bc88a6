package builtin

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/index"
	"github.com/littlehelper/littlehelper/internal/safefs"
	"github.com/littlehelper/littlehelper/internal/shellguard"
	"github.com/littlehelper/littlehelper/internal/skill"
	"github.com/littlehelper/littlehelper/internal/versions"
)

type env struct {
	dir string
	rt  *skill.Runtime
	sc  *skill.Context
	log *audit.Log
}

func setup(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	data := t.TempDir()

	log, err := audit.Open(filepath.Join(data, "audit"))
	require.NoError(t, err)
	ix, err := index.Open(filepath.Join(data, "file_index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { ix.Close() })

	allowed := []string{dir}
	files := safefs.New(safefs.Config{
		Roots:       versions.NewRoots(allowed),
		Audit:       log,
		ArchiveDir:  filepath.Join(data, "archive"),
		AllowedDirs: allowed,
	})

	reg := skill.NewRegistry(log)
	require.NoError(t, Register(reg, Deps{Index: ix, Files: files}))

	sc := skill.NewContext(skill.ModeFind, data, dir)
	sc.Commands = shellguard.New(allowed, nil)
	return &env{dir: dir, rt: skill.NewRuntime(reg, log, skill.RuntimeConfig{}), sc: sc, log: log}
}

func (e *env) invoke(t *testing.T, id string, in skill.Input) *skill.Execution {
	t.Helper()
	return e.rt.Invoke(context.Background(), id, in, e.sc)
}

func (e *env) write(t *testing.T, name, content string) string {
	t.Helper()
	p := filepath.Join(e.dir, name)
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func TestRegister_AllSkills(t *testing.T) {
	e := setup(t)
	var ids []string
	for _, info := range e.rt.Registry().List() {
		ids = append(ids, info.ID)
	}
	assert.Equal(t, []string{
		"drive_index", "file_archive", "file_search", "file_write",
		"run_command", "version_history", "version_restore",
	}, ids)
	assert.ElementsMatch(t, IDs, ids)

	s, ok := e.rt.Registry().Get("file_write")
	require.True(t, ok)
	schema := s.(skill.Schemer).Schema()
	assert.Equal(t, []string{"action", "path"}, schema.Required)
}

func TestIndexThenSearch(t *testing.T) {
	e := setup(t)
	e.write(t, "budget_2024.xlsx", "a")
	e.write(t, "report.pdf", "b")
	e.write(t, "quarterly_budget.csv", "c")

	exec := e.invoke(t, "drive_index", skill.Input{}.WithParam("path", e.dir).WithParam("drive_id", "d1"))
	require.NoError(t, exec.Err())
	var stats index.ScanStats
	require.NoError(t, json.Unmarshal(exec.Output.Data, &stats))
	assert.Equal(t, index.ScanStats{TotalFiles: 3, Indexed: 3}, stats)

	exec = e.invoke(t, "file_search", skill.Query("budget"))
	require.NoError(t, exec.Err())
	var results []index.Result
	require.NoError(t, json.Unmarshal(exec.Output.Data, &results))
	require.Len(t, results, 2)
	assert.Equal(t, "budget_2024.xlsx", results[0].Name)
	assert.Equal(t, "quarterly_budget.csv", results[1].Name)

	exec = e.invoke(t, "file_search", skill.Query("budget").WithParam("extensions", []string{"csv"}))
	require.NoError(t, exec.Err())
	require.NoError(t, json.Unmarshal(exec.Output.Data, &results))
	require.Len(t, results, 1)
	assert.Equal(t, "quarterly_budget.csv", results[0].Name)
}

func TestSearch_RequiresQuery(t *testing.T) {
	e := setup(t)
	exec := e.invoke(t, "file_search", skill.Query("  "))
	assert.ErrorIs(t, exec.Err(), fault.ErrInvalidInput)
}

func TestDriveIndex_OutsideAllowed(t *testing.T) {
	e := setup(t)
	exec := e.invoke(t, "drive_index", skill.Input{}.WithParam("path", t.TempDir()))
	assert.ErrorIs(t, exec.Err(), fault.ErrPermissionDenied)
}

func TestWriteHistoryRestore(t *testing.T) {
	e := setup(t)
	path := filepath.Join(e.dir, "note.txt")

	exec := e.invoke(t, "file_write", skill.Input{}.WithParam("action", "create").WithParam("path", path).WithParam("content", "v1"))
	assert.ErrorIs(t, exec.Err(), fault.ErrPermissionDenied, "sensitive skills need approval")
	assert.NoFileExists(t, path)

	e.sc.Approvals.Approve("file_write")
	e.sc.Approvals.Approve("version_restore")

	exec = e.invoke(t, "file_write", skill.Input{}.WithParam("action", "create").WithParam("path", path).WithParam("content", "v1"))
	require.NoError(t, exec.Err())
	require.Len(t, exec.Output.Files, 1)
	assert.Equal(t, "created", exec.Output.Files[0].Action)
	assert.Equal(t, skill.ResultMixed, exec.Output.Type)

	exec = e.invoke(t, "file_write", skill.Input{}.WithParam("action", "modify").WithParam("path", path).WithParam("content", "v2"))
	require.NoError(t, exec.Err())

	exec = e.invoke(t, "version_history", skill.Input{}.WithParam("path", path))
	require.NoError(t, exec.Err())
	var list []versions.Version
	require.NoError(t, json.Unmarshal(exec.Output.Data, &list))
	require.Len(t, list, 2)
	assert.True(t, list[1].IsCurrent)
	assert.Contains(t, exec.Output.Text, "(current)")

	exec = e.invoke(t, "version_restore", skill.Input{}.WithParam("path", path).WithParam("version", 1))
	require.NoError(t, exec.Err())
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	exec = e.invoke(t, "version_restore", skill.Input{}.WithParam("path", path).WithParam("version", 0))
	assert.ErrorIs(t, exec.Err(), fault.ErrInvalidInput)
}

func TestFileWrite_Validation(t *testing.T) {
	e := setup(t)
	e.sc.Approvals.Approve("file_write")
	path := filepath.Join(e.dir, "x.txt")

	exec := e.invoke(t, "file_write", skill.Input{}.WithParam("action", "delete").WithParam("path", path))
	assert.ErrorIs(t, exec.Err(), fault.ErrInvalidInput)
	exec = e.invoke(t, "file_write", skill.Input{}.WithParam("action", "create").WithParam("path", path))
	assert.ErrorIs(t, exec.Err(), fault.ErrInvalidInput)
	exec = e.invoke(t, "file_write", skill.Input{}.WithParam("action", "move").WithParam("path", path))
	assert.ErrorIs(t, exec.Err(), fault.ErrInvalidInput)
}

func TestFileWrite_Move(t *testing.T) {
	e := setup(t)
	e.sc.Approvals.Approve("file_write")
	src := e.write(t, "a.txt", "content")
	dst := filepath.Join(e.dir, "sub", "b.txt")

	exec := e.invoke(t, "file_write", skill.Input{}.WithParam("action", "move").WithParam("path", src).WithParam("to", dst))
	require.NoError(t, exec.Err())
	assert.NoFileExists(t, src)
	assert.FileExists(t, dst)
}

func TestArchive(t *testing.T) {
	e := setup(t)
	e.sc.Approvals.Approve("file_write")
	e.sc.Approvals.Approve("file_archive")
	path := filepath.Join(e.dir, "temp.txt")

	exec := e.invoke(t, "file_write", skill.Input{}.WithParam("action", "create").WithParam("path", path).WithParam("content", "hello"))
	require.NoError(t, exec.Err())
	exec = e.invoke(t, "file_archive", skill.Input{ContextFiles: []string{path}})
	require.NoError(t, exec.Err())

	require.Len(t, exec.Output.Files, 1)
	to := exec.Output.Files[0].To
	got, err := os.ReadFile(to)
	require.NoError(t, err)
	assert.Equal(t, "hello", string(got))
	assert.NoFileExists(t, path)

	entries, err := e.log.Query(audit.Filter{Types: []audit.EventType{audit.FileOpEvent}, SkillID: "file_archive"})
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.Contains(t, entries[0].Action, "archived")
}

func TestRunCommand(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("uses a POSIX shell")
	}
	e := setup(t)
	e.write(t, "a.txt", "alpha\n")
	e.sc.Mode = skill.ModeFix
	e.sc.Approvals.Approve("run_command")

	exec := e.invoke(t, "run_command", skill.Input{}.WithParam("command", "cat a.txt"))
	require.NoError(t, exec.Err())
	var res shellguard.Result
	require.NoError(t, json.Unmarshal(exec.Output.Data, &res))
	assert.Equal(t, "alpha\n", res.Stdout)

	exec = e.invoke(t, "run_command", skill.Input{}.WithParam("command", "rm a.txt"))
	assert.ErrorIs(t, exec.Err(), fault.ErrPermissionDenied)
	assert.FileExists(t, filepath.Join(e.dir, "a.txt"))

	exec = e.invoke(t, "run_command", skill.Input{}.WithParam("command", "cat a.txt; id"))
	assert.ErrorIs(t, exec.Err(), fault.ErrBlocked)
}
