// Package skill registers capabilities the assistant can call and runs them
// behind permission checks, validation and a timeout.
package skill

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/littlehelper/littlehelper/internal/fault"
	"github.com/littlehelper/littlehelper/internal/shellguard"
)

type PermissionLevel string

const (
	Safe      PermissionLevel = "safe"
	Sensitive PermissionLevel = "sensitive"
)

type Permission string

const (
	Enabled  Permission = "enabled"
	Disabled Permission = "disabled"
	Ask      Permission = "ask"
)

// ParsePermission accepts enabled, disabled or ask in any case.
func ParsePermission(s string) (Permission, error) {
	switch p := Permission(strings.ToLower(strings.TrimSpace(s))); p {
	case Enabled, Disabled, Ask:
		return p, nil
	}
	return "", fmt.Errorf("unknown permission %q: %w", s, fault.ErrInvalidInput)
}

// DefaultPermission is Enabled for safe skills and Ask for sensitive ones.
func DefaultPermission(l PermissionLevel) Permission {
	if l == Sensitive {
		return Ask
	}
	return Enabled
}

type Mode string

const (
	ModeFind     Mode = "find"
	ModeFix      Mode = "fix"
	ModeResearch Mode = "research"
	ModeData     Mode = "data"
	ModeContent  Mode = "content"
	ModeBuild    Mode = "build"
)

var AllModes = []Mode{ModeFind, ModeFix, ModeResearch, ModeData, ModeContent, ModeBuild}

func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllModes {
		if m == known {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q: %w", s, fault.ErrInvalidInput)
}

type Status string

const (
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusTimeout   Status = "timeout"
)

// Input is what a skill is invoked with.
type Input struct {
	Query        string                     `json:"query"`
	Params       map[string]json.RawMessage `json:"params,omitempty"`
	ContextFiles []string                   `json:"context_files,omitempty"`
	Conversation []string                   `json:"conversation,omitempty"`
}

func Query(q string) Input { return Input{Query: q} }

// WithParam returns a copy of in with key set to the JSON encoding of v.
func (in Input) WithParam(key string, v any) Input {
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte("null")
	}
	params := make(map[string]json.RawMessage, len(in.Params)+1)
	for k, p := range in.Params {
		params[k] = p
	}
	params[key] = b
	in.Params = params
	return in
}

func (in Input) Has(key string) bool {
	_, ok := in.Params[key]
	return ok
}

// Param decodes the named parameter into dst. A missing parameter leaves dst
// untouched and returns false.
func (in Input) Param(key string, dst any) (bool, error) {
	raw, ok := in.Params[key]
	if !ok || len(raw) == 0 || string(raw) == "null" {
		return false, nil
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return true, fmt.Errorf("parameter %q: %v: %w", key, err, fault.ErrInvalidInput)
	}
	return true, nil
}

// StringParam returns a string parameter, or "" when missing or not a string.
func (in Input) StringParam(key string) string {
	var s string
	if ok, err := in.Param(key, &s); !ok || err != nil {
		return ""
	}
	return s
}

type ResultType string

const (
	ResultText  ResultType = "text"
	ResultFiles ResultType = "files"
	ResultData  ResultType = "data"
	ResultMixed ResultType = "mixed"
	ResultError ResultType = "error"
)

type FileResult struct {
	Path    string `json:"path"`
	Action  string `json:"action"`
	From    string `json:"from,omitempty"`
	To      string `json:"to,omitempty"`
	Version int    `json:"version,omitempty"`
	Preview string `json:"preview,omitempty"`
}

type Citation struct {
	Text       string    `json:"text"`
	URL        string    `json:"url"`
	AccessedAt time.Time `json:"accessed_at"`
	Verified   bool      `json:"verified"`
}

type SuggestedAction struct {
	Label   string                     `json:"label"`
	SkillID string                     `json:"skill_id"`
	Params  map[string]json.RawMessage `json:"params,omitempty"`
}

// Output is what a skill returns. Type says which fields matter.
type Output struct {
	Type             ResultType        `json:"result_type"`
	Text             string            `json:"text,omitempty"`
	Files            []FileResult      `json:"files,omitempty"`
	Data             json.RawMessage   `json:"data,omitempty"`
	Citations        []Citation        `json:"citations,omitempty"`
	SuggestedActions []SuggestedAction `json:"suggested_actions,omitempty"`
}

func TextOutput(s string) *Output { return &Output{Type: ResultText, Text: s} }

// DataOutput wraps v as structured data with a short text summary.
func DataOutput(summary string, v any) (*Output, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode output: %v: %w", err, fault.ErrInternal)
	}
	return &Output{Type: ResultData, Text: summary, Data: b}, nil
}

// AddFile records a touched file; a text output becomes mixed.
func (o *Output) AddFile(f FileResult) *Output {
	o.Files = append(o.Files, f)
	switch o.Type {
	case ResultText:
		o.Type = ResultMixed
	case "":
		o.Type = ResultFiles
	}
	return o
}

// Summary renders the output as plain text for a model or a terminal.
func (o *Output) Summary() string {
	if o == nil {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(o.Text)
	for _, f := range o.Files {
		if sb.Len() > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "%s: %s", f.Action, f.Path)
	}
	if len(o.Data) > 0 && o.Text == "" {
		sb.Write(o.Data)
	}
	return sb.String()
}

// Property describes one parameter in a tool schema.
type Property struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Items       *Items   `json:"items,omitempty"`
	Enum        []string `json:"enum,omitempty"`
}

type Items struct {
	Type string `json:"type"`
}

// Schema is the JSON schema of a skill's parameters.
type Schema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties,omitempty"`
	Required   []string            `json:"required,omitempty"`
}

// Skill is one capability. Implementations must be safe for concurrent use.
type Skill interface {
	ID() string
	Name() string
	Description() string
	PermissionLevel() PermissionLevel
	// Modes lists where the skill may run; empty means every mode.
	Modes() []Mode
	Validate(in Input) error
	Execute(ctx context.Context, in Input, sc *Context) (*Output, error)
}

// Schemer is implemented by skills that can be offered as tools.
type Schemer interface {
	Schema() Schema
}

func supportsMode(s Skill, m Mode) bool {
	modes := s.Modes()
	if len(modes) == 0 {
		return true
	}
	for _, x := range modes {
		if x == m {
			return true
		}
	}
	return false
}

// Context is the per-session state handed to skills.
type Context struct {
	Mode       Mode
	Approvals  *Approvals
	DataDir    string
	WorkingDir string
	// Commands runs shell commands for skills that need them. May be nil.
	Commands *shellguard.Guard

	execID uuid.UUID
	report func(Event)
}

func NewContext(mode Mode, dataDir, workingDir string) *Context {
	return &Context{Mode: mode, Approvals: NewApprovals(), DataDir: dataDir, WorkingDir: workingDir}
}

// IsApproved reports whether id was approved for this session.
func (c *Context) IsApproved(id string) bool {
	return c.Approvals != nil && c.Approvals.Has(id)
}

// Progress reports a step of the running execution. percent < 0 means unknown.
func (c *Context) Progress(message string, percent float64) {
	if c.report == nil {
		return
	}
	ev := Event{Kind: EventProgress, ExecutionID: c.execID, Message: message}
	if percent >= 0 {
		p := percent
		ev.Percent = &p
	}
	c.report(ev)
}

// ExecuteCommand runs cmd through the command guard.
func (c *Context) ExecuteCommand(ctx context.Context, cmd string, timeout time.Duration) (*shellguard.Result, error) {
	if c.Commands == nil {
		return nil, fmt.Errorf("command execution not available: %w", fault.ErrBlocked)
	}
	return c.Commands.Execute(ctx, cmd, timeout)
}
