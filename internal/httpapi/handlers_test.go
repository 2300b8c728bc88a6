package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/index"
	"github.com/littlehelper/littlehelper/internal/safefs"
	"github.com/littlehelper/littlehelper/internal/skill"
	"github.com/littlehelper/littlehelper/internal/skill/builtin"
	"github.com/littlehelper/littlehelper/internal/versions"
)

type fixture struct {
	dir   string
	srv   *httptest.Server
	files *safefs.Ops
	ix    *index.Index
	sc    *skill.Context
}

func setup(t *testing.T) *fixture {
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
	require.NoError(t, builtin.Register(reg, builtin.Deps{Index: ix, Files: files}))
	sc := skill.NewContext(skill.ModeFind, data, dir)

	h := NewHandler(Deps{
		Index:   ix,
		Files:   files,
		Audit:   log,
		Runtime: skill.NewRuntime(reg, log, skill.RuntimeConfig{}),
		Session: sc,
	})
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return &fixture{dir: dir, srv: srv, files: files, ix: ix, sc: sc}
}

func (f *fixture) get(t *testing.T, path string, out any) int {
	t.Helper()
	resp, err := http.Get(f.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func (f *fixture) post(t *testing.T, path, body string, out any) int {
	t.Helper()
	resp, err := http.Post(f.srv.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestHealth(t *testing.T) {
	f := setup(t)
	var body map[string]string
	assert.Equal(t, http.StatusOK, f.get(t, "/health", &body))
	assert.Equal(t, "ok", body["status"])
}

func TestSearchAndCount(t *testing.T) {
	f := setup(t)
	for _, name := range []string{"budget_2024.xlsx", "report.pdf", "quarterly_budget.csv"} {
		require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), []byte("x"), 0o644))
	}
	_, err := f.ix.Scan(context.Background(), f.dir, "d1", index.ScanOptions{})
	require.NoError(t, err)

	var count map[string]int64
	assert.Equal(t, http.StatusOK, f.get(t, "/files/count", &count))
	assert.Equal(t, int64(3), count["count"])

	var res struct {
		Results []index.Result `json:"results"`
	}
	assert.Equal(t, http.StatusOK, f.get(t, "/search?q=budget&limit=10", &res))
	require.Len(t, res.Results, 2)
	assert.Equal(t, "budget_2024.xlsx", res.Results[0].Name)

	assert.Equal(t, http.StatusOK, f.get(t, "/search?q=budget&ext=csv", &res))
	require.Len(t, res.Results, 1)

	var e errorBody
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/search", &e))
	assert.Equal(t, "invalid_input", e.Category)
	assert.Equal(t, http.StatusBadRequest, f.get(t, "/search?q=x&limit=abc", nil))
}

func TestVersionsAndRestore(t *testing.T) {
	f := setup(t)
	path := filepath.Join(f.dir, "note.txt")
	_, err := f.files.Create(path, []byte("v1"))
	require.NoError(t, err)
	_, err = f.files.Modify(path, []byte("v2"))
	require.NoError(t, err)

	var list struct {
		Versions []versions.Version `json:"versions"`
	}
	assert.Equal(t, http.StatusOK, f.get(t, "/versions?path="+url.QueryEscape(path), &list))
	require.Len(t, list.Versions, 2)

	var action safefs.FileAction
	body := `{"path":` + jsonString(path) + `,"version":1}`
	assert.Equal(t, http.StatusOK, f.post(t, "/versions/restore", body, &action))
	assert.Equal(t, safefs.Restored, action.Kind)
	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "v1", string(got))

	var e errorBody
	assert.Equal(t, http.StatusConflict, f.post(t, "/versions/restore", body, &e))
	assert.Equal(t, "current_matches", e.Category)

	assert.Equal(t, http.StatusBadRequest, f.post(t, "/versions/restore", `{"path":"x","version":0}`, nil))
	assert.Equal(t, http.StatusForbidden, f.get(t, "/versions?path="+url.QueryEscape(filepath.Join(t.TempDir(), "a.txt")), nil))
}

func TestAudit(t *testing.T) {
	f := setup(t)
	_, err := f.files.Create(filepath.Join(f.dir, "a.txt"), []byte("a"))
	require.NoError(t, err)

	var res struct {
		Entries []audit.Entry `json:"entries"`
	}
	assert.Equal(t, http.StatusOK, f.get(t, "/audit?type=file_op&limit=5", &res))
	require.Len(t, res.Entries, 1)
	assert.Equal(t, audit.FileOpEvent, res.Entries[0].Type)

	assert.Equal(t, http.StatusOK, f.get(t, "/audit?type=perm_change", &res))
	assert.Empty(t, res.Entries)
}

func TestSkillsAndInvoke(t *testing.T) {
	f := setup(t)
	var list struct {
		Skills []skill.Info `json:"skills"`
	}
	assert.Equal(t, http.StatusOK, f.get(t, "/skills", &list))
	assert.NotEmpty(t, list.Skills)

	path := filepath.Join(f.dir, "new.txt")
	body := `{"params":{"action":"create","path":` + jsonString(path) + `,"content":"hi"}}`

	var exec skill.Execution
	assert.Equal(t, http.StatusForbidden, f.post(t, "/skills/file_write/invoke", body, &exec))
	assert.Equal(t, skill.StatusFailed, exec.Status)
	assert.Equal(t, "permission_denied", exec.ErrorCategory)
	assert.NoFileExists(t, path)

	f.sc.Approvals.Approve("file_write")
	exec = skill.Execution{}
	assert.Equal(t, http.StatusOK, f.post(t, "/skills/file_write/invoke", body, &exec))
	assert.Equal(t, skill.StatusCompleted, exec.Status)
	assert.FileExists(t, path)

	assert.Equal(t, http.StatusNotFound, f.post(t, "/skills/nope/invoke", "", nil))
}

func jsonString(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
