package skill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/fault"
)

const DefaultTimeout = 60 * time.Second

// Execution is the record of one invocation. Invoke always returns one, also
// when the call was refused before the skill ran.
type Execution struct {
	ID            uuid.UUID `json:"id"`
	SkillID       string    `json:"skill_id"`
	Mode          Mode      `json:"mode"`
	Timestamp     time.Time `json:"timestamp"`
	Input         Input     `json:"input"`
	Output        *Output   `json:"output,omitempty"`
	Status        Status    `json:"status"`
	DurationMS    int64     `json:"duration_ms"`
	Error         string    `json:"error,omitempty"`
	ErrorCategory string    `json:"error_category,omitempty"`

	err error
}

// Err returns the typed error behind a Failed or Timeout record.
func (e *Execution) Err() error { return e.err }

func (e *Execution) Succeeded() bool { return e.Status == StatusCompleted }

func (e *Execution) finish(status Status, out *Output, err error, d time.Duration) {
	e.Status = status
	e.Output = out
	e.DurationMS = d.Milliseconds()
	e.err = err
	if err != nil {
		e.Error = err.Error()
		e.ErrorCategory = fault.Category(err)
	}
}

type RuntimeConfig struct {
	// Timeout bounds each execution. Zero means DefaultTimeout.
	Timeout time.Duration
	// Events receives progress events. Sends never block; events are dropped
	// when the channel is full.
	Events chan<- Event
	// OnFinish, when set, sees every finished or refused execution.
	OnFinish func(*Execution)
	Logger   *slog.Logger
}

// Runtime dispatches invocations to registered skills.
type Runtime struct {
	reg     *Registry
	audit   *audit.Log
	timeout time.Duration
	events  chan<- Event
	finish  func(*Execution)
	log     *slog.Logger
	now     func() time.Time
}

func NewRuntime(reg *Registry, auditLog *audit.Log, cfg RuntimeConfig) *Runtime {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runtime{
		reg:     reg,
		audit:   auditLog,
		timeout: cfg.Timeout,
		events:  cfg.Events,
		finish:  cfg.OnFinish,
		log:     cfg.Logger,
		now:     time.Now,
	}
}

func (r *Runtime) Registry() *Registry { return r.reg }

// Invoke checks, validates and runs skill id. Errors are captured in the
// returned record; use Execution.Err to inspect them.
func (r *Runtime) Invoke(ctx context.Context, id string, in Input, sc *Context) *Execution {
	if sc == nil {
		sc = NewContext(ModeFind, "", "")
	}
	exec := &Execution{
		ID:        uuid.New(),
		SkillID:   id,
		Mode:      sc.Mode,
		Timestamp: r.now().UTC(),
		Input:     in,
		Status:    StatusRunning,
	}

	s, err := r.admit(id, in, sc)
	if err != nil {
		exec.finish(StatusFailed, nil, err, 0)
		r.log.Info("skill refused", "skill", id, "error", err)
		if r.audit != nil {
			r.audit.Append(audit.Error(err.Error(), id, "").WithDetails(map[string]any{
				"execution_id": exec.ID.String(),
				"category":     exec.ErrorCategory,
			}))
		}
		if r.finish != nil {
			r.finish(exec)
		}
		return exec
	}

	r.run(ctx, s, exec, sc)
	return exec
}

// admit applies the checks that run before a skill may execute.
func (r *Runtime) admit(id string, in Input, sc *Context) (Skill, error) {
	s, ok := r.reg.Get(id)
	if !ok {
		return nil, fmt.Errorf("skill %q: %w", id, fault.ErrNotFound)
	}
	if !supportsMode(s, sc.Mode) {
		return nil, fmt.Errorf("skill %q in %s mode: %w", id, sc.Mode, fault.ErrModeNotSupported)
	}
	perm, err := r.reg.Permission(id)
	if err != nil {
		return nil, err
	}
	switch perm {
	case Disabled:
		return nil, fmt.Errorf("skill %q is disabled: %w", id, fault.ErrPermissionDenied)
	case Ask:
		if s.PermissionLevel() == Sensitive && !sc.IsApproved(id) {
			return nil, fmt.Errorf("skill %q needs approval for this session: %w", id, fault.ErrPermissionDenied)
		}
	}
	if err := s.Validate(in); err != nil {
		if !errors.Is(err, fault.ErrInvalidInput) {
			err = fmt.Errorf("%v: %w", err, fault.ErrInvalidInput)
		}
		return nil, err
	}
	return s, nil
}

type result struct {
	out *Output
	err error
}

func (r *Runtime) run(ctx context.Context, s Skill, exec *Execution, sc *Context) {
	var mu sync.Mutex
	closed := false
	emit := func(ev Event) {
		mu.Lock()
		defer mu.Unlock()
		if closed {
			return
		}
		ev.ExecutionID = exec.ID
		ev.SkillID = exec.SkillID
		ev.Time = r.now().UTC()
		if ev.Terminal() {
			closed = true
		}
		r.send(ev)
	}

	local := *sc
	local.execID = exec.ID
	local.report = emit

	emit(Event{Kind: EventStarted})
	start := r.now()

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	done := make(chan result, 1)
	go func() {
		defer func() {
			if p := recover(); p != nil {
				done <- result{err: fmt.Errorf("skill %q panicked: %v: %w", s.ID(), p, fault.ErrInternal)}
			}
		}()
		out, err := s.Execute(tctx, exec.Input, &local)
		done <- result{out: out, err: err}
	}()

	var res result
	select {
	case res = <-done:
	case <-tctx.Done():
		res.err = tctx.Err()
	}
	elapsed := r.now().Sub(start)

	switch {
	case res.err == nil:
		if res.out == nil {
			res.out = TextOutput("")
		}
		exec.finish(StatusCompleted, res.out, nil, elapsed)
		emit(Event{Kind: EventCompleted})
	case errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
		err := fmt.Errorf("skill %q exceeded %s: %w", s.ID(), r.timeout, fault.ErrTimeout)
		exec.finish(StatusTimeout, nil, err, elapsed)
		emit(Event{Kind: EventTimeout, Message: err.Error()})
	default:
		exec.finish(StatusFailed, nil, res.err, elapsed)
		emit(Event{Kind: EventFailed, Message: res.err.Error()})
	}
	r.record(exec)
}

func (r *Runtime) send(ev Event) {
	if r.events == nil {
		return
	}
	select {
	case r.events <- ev:
	default:
	}
}

func (r *Runtime) record(exec *Execution) {
	r.log.Debug("skill finished", "skill", exec.SkillID, "status", exec.Status, "duration_ms", exec.DurationMS)
	if r.finish != nil {
		r.finish(exec)
	}
	if r.audit == nil {
		return
	}
	details := map[string]any{
		"execution_id": exec.ID.String(),
		"mode":         exec.Mode,
		"status":       exec.Status,
		"duration_ms":  exec.DurationMS,
	}
	if exec.Error != "" {
		details["error"] = exec.Error
		details["category"] = exec.ErrorCategory
	}
	r.audit.Append(audit.SkillExec(exec.SkillID, fmt.Sprintf("Skill %s %s", exec.SkillID, exec.Status), details))
}
