package skill

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/littlehelper/littlehelper/internal/audit"
	"github.com/littlehelper/littlehelper/internal/fault"
)

type testSkill struct {
	id      string
	level   PermissionLevel
	modes   []Mode
	run     func(ctx context.Context, in Input, sc *Context) (*Output, error)
	invalid error
	calls   atomic.Int32
}

func (s *testSkill) ID() string                       { return s.id }
func (s *testSkill) Name() string                     { return s.id }
func (s *testSkill) Description() string              { return "test skill " + s.id }
func (s *testSkill) PermissionLevel() PermissionLevel { return s.level }
func (s *testSkill) Modes() []Mode                    { return s.modes }
func (s *testSkill) Validate(Input) error             { return s.invalid }

func (s *testSkill) Execute(ctx context.Context, in Input, sc *Context) (*Output, error) {
	s.calls.Add(1)
	if s.run != nil {
		return s.run(ctx, in, sc)
	}
	return TextOutput("ok: " + in.Query), nil
}

func newRuntime(t *testing.T, events chan Event, skills ...Skill) (*Runtime, *audit.Log) {
	t.Helper()
	log, err := audit.Open(t.TempDir())
	require.NoError(t, err)
	reg := NewRegistry(log)
	for _, s := range skills {
		require.NoError(t, reg.Register(s))
	}
	return NewRuntime(reg, log, RuntimeConfig{Timeout: time.Second, Events: events}), log
}

func drain(ch chan Event) []Event {
	var out []Event
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
		default:
			return out
		}
	}
}

func eventKinds(evs []Event) []EventKind {
	out := make([]EventKind, len(evs))
	for i, e := range evs {
		out[i] = e.Kind
	}
	return out
}

func TestInvoke_Completed(t *testing.T) {
	events := make(chan Event, 16)
	s := &testSkill{id: "echo", level: Safe, run: func(ctx context.Context, in Input, sc *Context) (*Output, error) {
		sc.Progress("halfway", 50)
		sc.Progress("still going", -1)
		return TextOutput("done"), nil
	}}
	rt, log := newRuntime(t, events, s)

	exec := rt.Invoke(context.Background(), "echo", Query("hi"), NewContext(ModeFind, "", ""))
	require.NoError(t, exec.Err())
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.Equal(t, "done", exec.Output.Text)
	assert.Equal(t, ModeFind, exec.Mode)

	evs := drain(events)
	assert.Equal(t, []EventKind{EventStarted, EventProgress, EventProgress, EventCompleted}, eventKinds(evs))
	require.NotNil(t, evs[1].Percent)
	assert.Equal(t, 50.0, *evs[1].Percent)
	assert.Nil(t, evs[2].Percent)
	for _, ev := range evs {
		assert.Equal(t, exec.ID, ev.ExecutionID)
		assert.Equal(t, "echo", ev.SkillID)
	}

	entries := log.Recent(10)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.SkillExecEvent, entries[0].Type)
	assert.Equal(t, "echo", entries[0].SkillID)
}

func TestInvoke_NotFound(t *testing.T) {
	events := make(chan Event, 4)
	rt, log := newRuntime(t, events)
	exec := rt.Invoke(context.Background(), "nope", Query(""), nil)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.ErrorIs(t, exec.Err(), fault.ErrNotFound)
	assert.Equal(t, "not_found", exec.ErrorCategory)
	assert.Empty(t, drain(events))

	entries := log.Recent(1)
	require.Len(t, entries, 1)
	assert.Equal(t, audit.ErrorEvent, entries[0].Type)
}

func TestInvoke_ModeNotSupported(t *testing.T) {
	s := &testSkill{id: "fixer", level: Safe, modes: []Mode{ModeFix}}
	rt, _ := newRuntime(t, nil, s)
	exec := rt.Invoke(context.Background(), "fixer", Query(""), NewContext(ModeFind, "", ""))
	assert.ErrorIs(t, exec.Err(), fault.ErrModeNotSupported)
	assert.Zero(t, s.calls.Load())

	exec = rt.Invoke(context.Background(), "fixer", Query(""), NewContext(ModeFix, "", ""))
	assert.Equal(t, StatusCompleted, exec.Status)
}

func TestInvoke_Disabled(t *testing.T) {
	s := &testSkill{id: "search", level: Safe}
	rt, _ := newRuntime(t, nil, s)
	require.NoError(t, rt.Registry().SetPermission("search", Disabled))
	exec := rt.Invoke(context.Background(), "search", Query(""), NewContext(ModeFind, "", ""))
	assert.ErrorIs(t, exec.Err(), fault.ErrPermissionDenied)
	assert.Zero(t, s.calls.Load())
}

func TestInvoke_SensitiveNeedsSessionApproval(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "out.txt")
	s := &testSkill{id: "mutate_files", level: Sensitive, run: func(ctx context.Context, in Input, sc *Context) (*Output, error) {
		return TextOutput("written"), os.WriteFile(target, []byte("x"), 0o644)
	}}
	rt, _ := newRuntime(t, nil, s)

	perm, err := rt.Registry().Permission("mutate_files")
	require.NoError(t, err)
	assert.Equal(t, Ask, perm)

	sc := NewContext(ModeFind, "", "")
	exec := rt.Invoke(context.Background(), "mutate_files", Query(""), sc)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, "permission_denied", exec.ErrorCategory)
	assert.Zero(t, s.calls.Load())
	assert.NoFileExists(t, target)

	sc.Approvals.Approve("mutate_files")
	exec = rt.Invoke(context.Background(), "mutate_files", Query(""), sc)
	assert.Equal(t, StatusCompleted, exec.Status)
	assert.FileExists(t, target)
}

func TestInvoke_AskOnSafeSkillRuns(t *testing.T) {
	s := &testSkill{id: "search", level: Safe}
	rt, _ := newRuntime(t, nil, s)
	require.NoError(t, rt.Registry().SetPermission("search", Ask))
	exec := rt.Invoke(context.Background(), "search", Query(""), NewContext(ModeFind, "", ""))
	assert.Equal(t, StatusCompleted, exec.Status)
}

func TestInvoke_InvalidInput(t *testing.T) {
	s := &testSkill{id: "v", level: Safe, invalid: errors.New("query is required")}
	rt, _ := newRuntime(t, nil, s)
	exec := rt.Invoke(context.Background(), "v", Query(""), nil)
	assert.ErrorIs(t, exec.Err(), fault.ErrInvalidInput)
	assert.Contains(t, exec.Error, "query is required")
	assert.Zero(t, s.calls.Load())
}

func TestInvoke_SkillError(t *testing.T) {
	events := make(chan Event, 8)
	s := &testSkill{id: "bad", level: Safe, run: func(context.Context, Input, *Context) (*Output, error) {
		return nil, errors.New("disk on fire")
	}}
	rt, _ := newRuntime(t, events, s)
	exec := rt.Invoke(context.Background(), "bad", Query(""), nil)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.Equal(t, "disk on fire", exec.Error)
	assert.Equal(t, []EventKind{EventStarted, EventFailed}, eventKinds(drain(events)))
}

func TestInvoke_Timeout(t *testing.T) {
	events := make(chan Event, 8)
	release := make(chan struct{})
	defer close(release)
	s := &testSkill{id: "slow", level: Safe, run: func(ctx context.Context, in Input, sc *Context) (*Output, error) {
		<-release
		sc.Progress("too late", -1)
		return TextOutput("late"), nil
	}}
	rt, _ := newRuntime(t, events, s)
	rt.timeout = 30 * time.Millisecond

	exec := rt.Invoke(context.Background(), "slow", Query(""), nil)
	assert.Equal(t, StatusTimeout, exec.Status)
	assert.ErrorIs(t, exec.Err(), fault.ErrTimeout)
	assert.Equal(t, "timeout", exec.ErrorCategory)
	assert.Nil(t, exec.Output)
	assert.Equal(t, []EventKind{EventStarted, EventTimeout}, eventKinds(drain(events)))
}

func TestInvoke_OwnDeadlineIsFailure(t *testing.T) {
	events := make(chan Event, 8)
	s := &testSkill{id: "fetch", level: Safe, run: func(ctx context.Context, in Input, sc *Context) (*Output, error) {
		inner, cancel := context.WithTimeout(ctx, time.Millisecond)
		defer cancel()
		<-inner.Done()
		return nil, fmt.Errorf("remote fetch: %w", inner.Err())
	}}
	rt, _ := newRuntime(t, events, s)

	exec := rt.Invoke(context.Background(), "fetch", Query(""), nil)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.ErrorIs(t, exec.Err(), context.DeadlineExceeded)
	assert.NotErrorIs(t, exec.Err(), fault.ErrTimeout)
	assert.Equal(t, []EventKind{EventStarted, EventFailed}, eventKinds(drain(events)))
}

func TestInvoke_PanicIsFailure(t *testing.T) {
	s := &testSkill{id: "boom", level: Safe, run: func(context.Context, Input, *Context) (*Output, error) {
		panic("unexpected")
	}}
	rt, _ := newRuntime(t, nil, s)
	exec := rt.Invoke(context.Background(), "boom", Query(""), nil)
	assert.Equal(t, StatusFailed, exec.Status)
	assert.ErrorIs(t, exec.Err(), fault.ErrInternal)
}

func TestInvoke_SlowConsumerDropsEvents(t *testing.T) {
	events := make(chan Event)
	s := &testSkill{id: "echo", level: Safe}
	rt, _ := newRuntime(t, events, s)
	exec := rt.Invoke(context.Background(), "echo", Query("x"), nil)
	assert.Equal(t, StatusCompleted, exec.Status)
}

func TestExecuteBatchAndConcurrent(t *testing.T) {
	var running, peak atomic.Int32
	slow := &testSkill{id: "slow", level: Safe, run: func(ctx context.Context, in Input, sc *Context) (*Output, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		running.Add(-1)
		return TextOutput(in.Query), nil
	}}
	rt, _ := newRuntime(t, nil, slow)

	calls := []Call{
		{SkillID: "slow", Input: Query("a")},
		{SkillID: "missing", Input: Query("b")},
		{SkillID: "slow", Input: Query("c")},
		{SkillID: "slow", Input: Query("d")},
	}

	rep := rt.ExecuteBatch(context.Background(), calls, nil)
	assert.Len(t, rep.Successful, 3)
	assert.Len(t, rep.Failed, 1)
	assert.EqualValues(t, 1, peak.Load())

	peak.Store(0)
	rep = rt.ExecuteConcurrent(context.Background(), calls, nil, 2)
	require.Len(t, rep.Executions, 4)
	for i, c := range calls {
		assert.Equal(t, c.SkillID, rep.Executions[i].SkillID)
		assert.Equal(t, c.Input.Query, rep.Executions[i].Input.Query)
	}
	assert.Len(t, rep.Successful, 3)
	assert.Equal(t, "missing", rep.Failed[0].SkillID)
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestInvoke_OnFinishSeesEveryOutcome(t *testing.T) {
	log, err := audit.Open(t.TempDir())
	require.NoError(t, err)
	reg := NewRegistry(log)
	require.NoError(t, reg.Register(&testSkill{id: "echo", level: Safe}))

	var seen []Status
	rt := NewRuntime(reg, log, RuntimeConfig{OnFinish: func(e *Execution) { seen = append(seen, e.Status) }})
	rt.Invoke(context.Background(), "echo", Query("x"), nil)
	rt.Invoke(context.Background(), "missing", Query("x"), nil)
	assert.Equal(t, []Status{StatusCompleted, StatusFailed}, seen)
}
