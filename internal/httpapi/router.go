// Package httpapi exposes search, versions, the audit log and skills over a
// local JSON HTTP API.
package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/index"
	"github.com/littlehelper/littlehelper/internal/safefs"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// DefaultAddr binds to loopback only.
const DefaultAddr = "127.0.0.1:7717"

type Deps struct {
	Index   *index.Index
	Files   *safefs.Ops
	Audit   *audit.Log
	Runtime *skill.Runtime
	// Session is the skill context every invocation runs with.
	Session *skill.Context
	Logger  *slog.Logger
}

type Handler struct {
	d   Deps
	log *slog.Logger
}

func NewHandler(d Deps) *Handler {
	log := d.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Handler{d: d, log: log}
}

// NewRouter wires the routes.
func NewRouter(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Get("/health", h.Health)
	r.Get("/search", h.Search)
	r.Get("/files/count", h.FileCount)
	r.Get("/versions", h.Versions)
	r.Post("/versions/restore", h.Restore)
	r.Get("/audit", h.Audit)
	r.Get("/skills", h.Skills)
	r.Post("/skills/{skillID}/invoke", h.Invoke)

	return r
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		h.log.Debug("http request",
			"method", r.Method,
			"route", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()))
	})
}

// Serve listens on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string, handler http.Handler) error {
	if addr == "" {
		addr = DefaultAddr
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	srv := &http.Server{Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()
	slog.Info("http api listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func intParam(r *http.Request, key string, def int) (int, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
