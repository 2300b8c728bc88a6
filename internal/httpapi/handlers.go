package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/index"
	"github.com/littlehelper/littlehelper/internal/skill"
)

type errorBody struct {
	Error    string `json:"error"`
	Category string `json:"category"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(category string) int {
	switch category {
	case "not_found":
		return http.StatusNotFound
	case "permission_denied", "blocked", "mode_not_supported":
		return http.StatusForbidden
	case "invalid_input":
		return http.StatusBadRequest
	case "current_matches", "already_exists":
		return http.StatusConflict
	case "timeout":
		return http.StatusGatewayTimeout
	case "upstream":
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	cat := fault.Category(err)
	status := statusFor(cat)
	if status == http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, errorBody{Error: err.Error(), Category: cat})
}

func badRequest(msg string) error {
	return fmt.Errorf("%s: %w", msg, fault.ErrInvalidInput)
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	if h.d.Index == nil {
		h.fail(w, fmt.Errorf("index not open: %w", fault.ErrInternal))
		return
	}
	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		h.fail(w, badRequest("q is required"))
		return
	}
	limit, err := intParam(r, "limit", index.DefaultLimit)
	if err != nil || limit < 0 {
		h.fail(w, badRequest("limit must be a non-negative integer"))
		return
	}
	filter := index.Filter{DriveID: r.URL.Query().Get("drive")}
	if ext := r.URL.Query().Get("ext"); ext != "" {
		filter.Extensions = strings.Split(ext, ",")
	}

	var results []index.Result
	if semantic, _ := strconv.ParseBool(r.URL.Query().Get("semantic")); semantic {
		results, err = h.d.Index.SemanticSearch(r.Context(), q, filter, limit)
	} else {
		results, err = h.d.Index.Search(q, filter, limit)
	}
	if err != nil {
		h.fail(w, err)
		return
	}
	if results == nil {
		results = []index.Result{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"query": q, "results": results})
}

func (h *Handler) FileCount(w http.ResponseWriter, r *http.Request) {
	if h.d.Index == nil {
		h.fail(w, fmt.Errorf("index not open: %w", fault.ErrInternal))
		return
	}
	n, err := h.d.Index.FileCount()
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"count": n})
}

func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	abs, err := h.d.Files.Check(r.URL.Query().Get("path"))
	if err != nil {
		h.fail(w, err)
		return
	}
	store, err := h.d.Files.Versions().For(abs)
	if err != nil {
		h.fail(w, err)
		return
	}
	list, err := store.List(abs)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"path": abs, "versions": list})
}

type restoreRequest struct {
	Path    string `json:"path"`
	Version int    `json:"version"`
}

func (h *Handler) Restore(w http.ResponseWriter, r *http.Request) {
	var req restoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.fail(w, badRequest("invalid request body: "+err.Error()))
		return
	}
	if req.Version < 1 {
		h.fail(w, badRequest("version must be 1 or more"))
		return
	}
	action, err := h.d.Files.Restore(req.Path, req.Version)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, action)
}

func (h *Handler) Audit(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := intParam(r, "limit", 100)
	if err != nil || limit < 0 {
		h.fail(w, badRequest("limit must be a non-negative integer"))
		return
	}
	f := audit.Filter{
		SkillID:    q.Get("skill"),
		PathPrefix: q.Get("path"),
		Limit:      limit,
	}
	if t := q.Get("type"); t != "" {
		for _, s := range strings.Split(t, ",") {
			f.Types = append(f.Types, audit.EventType(strings.TrimSpace(s)))
		}
	}
	entries, err := h.d.Audit.Query(f)
	if err != nil {
		h.fail(w, err)
		return
	}
	if entries == nil {
		entries = []audit.Entry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (h *Handler) Skills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"skills": h.d.Runtime.Registry().List()})
}

// Invoke runs a skill. The body is the skill input; the response is the
// execution record with a status code matching its outcome.
func (h *Handler) Invoke(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "skillID")
	var in skill.Input
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			h.fail(w, badRequest("invalid request body: "+err.Error()))
			return
		}
	}
	exec := h.d.Runtime.Invoke(r.Context(), id, in, h.d.Session)
	status := http.StatusOK
	if !exec.Succeeded() {
		status = statusFor(exec.ErrorCategory)
	}
	writeJSON(w, status, exec)
}
