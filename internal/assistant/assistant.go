// Package assistant runs chat turns: it streams a reply from the provider
// router, dispatches tool calls to skills and feeds the results back until
// the model answers in plain text.
package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/preview"
	"github.com/littlehelper/littlehelper/internal/provider"
	"github.com/littlehelper/littlehelper/internal/skill"
)

// DefaultMaxRounds bounds the tool rounds of one turn.
const DefaultMaxRounds = 4

// conversationTail is how many earlier user messages a skill sees.
const conversationTail = 5

type Config struct {
	System    string
	MaxRounds int
	Budget    int
	Counter   Counter
	Logger    *slog.Logger
}

// Session holds one conversation. It is not safe for concurrent turns.
type Session struct {
	router  *provider.Router
	runtime *skill.Runtime
	sc      *skill.Context

	system    string
	history   []provider.Message
	maxRounds int
	budget    int
	counter   Counter
	log       *slog.Logger
}

func NewSession(router *provider.Router, runtime *skill.Runtime, sc *skill.Context, cfg Config) *Session {
	s := &Session{
		router:    router,
		runtime:   runtime,
		sc:        sc,
		system:    cfg.System,
		maxRounds: cfg.MaxRounds,
		budget:    cfg.Budget,
		counter:   cfg.Counter,
		log:       cfg.Logger,
	}
	if s.maxRounds <= 0 {
		s.maxRounds = DefaultMaxRounds
	}
	if s.budget == 0 {
		s.budget = DefaultBudget
	}
	if s.counter == nil {
		s.counter = DefaultCounter()
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

// ToolCall is a completed tool request and what the skill did with it.
type ToolCall struct {
	ID        string
	Name      string
	Input     json.RawMessage
	Execution *skill.Execution
}

// Reply is the outcome of one turn. Text has the preview tags removed.
type Reply struct {
	Text       string
	Raw        string
	Previews   []preview.Tag
	ToolCalls  []ToolCall
	StopReason string
}

// History returns a copy of the conversation so far.
func (s *Session) History() []provider.Message {
	return append([]provider.Message(nil), s.history...)
}

// Reset forgets the conversation.
func (s *Session) Reset() { s.history = nil }

// Turn sends user text and returns the final reply. onText, when set,
// receives text as it streams in.
func (s *Session) Turn(ctx context.Context, text string, onText func(string)) (*Reply, error) {
	s.history = append(s.history, provider.Message{Role: provider.RoleUser, Content: text})
	tools := s.runtime != nil
	if tools {
		s.router.SetTools(Tools(s.runtime.Registry(), s.sc.Mode))
	}

	reply := &Reply{}
	for round := 0; ; round++ {
		last := round >= s.maxRounds
		res, err := s.round(ctx, tools && !last, onText)
		if err != nil {
			return reply, err
		}
		reply.StopReason = res.stop
		if len(res.calls) == 0 || last {
			s.history = append(s.history, provider.Message{Role: provider.RoleAssistant, Content: res.text})
			reply.Raw = res.text
			reply.Text = preview.Strip(res.text)
			reply.Previews = preview.Parse(res.text)
			return reply, nil
		}

		s.history = append(s.history, provider.Message{Role: provider.RoleAssistant, Content: describeCalls(res.text, res.calls)})
		for _, call := range res.calls {
			call.Execution = s.dispatch(ctx, call)
			reply.ToolCalls = append(reply.ToolCalls, call)
			s.history = append(s.history, provider.Message{Role: provider.RoleTool, Content: toolResult(call)})
		}
	}
}

type roundResult struct {
	text  string
	calls []ToolCall
	stop  string
}

func (s *Session) round(ctx context.Context, tools bool, onText func(string)) (roundResult, error) {
	msgs := s.messages()
	sink := make(chan provider.Chunk, 64)
	errc := make(chan error, 1)
	go func() {
		errc <- s.router.GenerateStream(ctx, msgs, sink, tools)
		close(sink)
	}()

	var (
		res   roundResult
		text  strings.Builder
		chErr string
	)
	for c := range sink {
		switch c.Kind {
		case provider.ChunkText:
			text.WriteString(c.Text)
			if onText != nil {
				onText(c.Text)
			}
		case provider.ChunkToolUseComplete:
			res.calls = append(res.calls, ToolCall{ID: c.ToolID, Name: c.ToolName, Input: c.Input})
		case provider.ChunkDone:
			res.stop = c.StopReason
		case provider.ChunkError:
			chErr = c.Err
		}
	}
	err := <-errc
	res.text = text.String()
	if err != nil {
		return res, err
	}
	if chErr != "" {
		return res, fmt.Errorf("%s: %w", chErr, fault.ErrUpstream)
	}
	return res, nil
}

func (s *Session) messages() []provider.Message {
	var msgs []provider.Message
	if strings.TrimSpace(s.system) != "" {
		msgs = append(msgs, provider.Message{Role: provider.RoleSystem, Content: s.system})
	}
	msgs = append(msgs, s.history...)
	return fit(msgs, s.counter, s.budget)
}

func (s *Session) dispatch(ctx context.Context, call ToolCall) *skill.Execution {
	if s.runtime == nil {
		return nil
	}
	in, err := inputFor(call.Input, s.recentUserText())
	if err != nil {
		in = skill.Input{}
		s.log.Warn("tool input is not an object", "skill", call.Name, "error", err)
	}
	exec := s.runtime.Invoke(ctx, call.Name, in, s.sc)
	s.log.Debug("tool call finished", "skill", call.Name, "status", exec.Status, "duration_ms", exec.DurationMS)
	return exec
}

func (s *Session) recentUserText() []string {
	var out []string
	for i := len(s.history) - 1; i >= 0 && len(out) < conversationTail; i-- {
		if s.history[i].Role == provider.RoleUser {
			out = append([]string{s.history[i].Content}, out...)
		}
	}
	return out
}

func describeCalls(text string, calls []ToolCall) string {
	var sb strings.Builder
	sb.WriteString(strings.TrimSpace(text))
	for _, c := range calls {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		input := string(c.Input)
		if input == "" {
			input = "{}"
		}
		fmt.Fprintf(&sb, "[called %s with %s]", c.Name, input)
	}
	return sb.String()
}

func toolResult(c ToolCall) string {
	exec := c.Execution
	if exec == nil {
		return fmt.Sprintf("Result of %s: no result", c.Name)
	}
	if exec.Succeeded() {
		return fmt.Sprintf("Result of %s:\n%s", c.Name, exec.Output.Summary())
	}
	return fmt.Sprintf("Result of %s: %s (%s): %s", c.Name, exec.Status, exec.ErrorCategory, fault.Friendly(exec.Err()))
}
