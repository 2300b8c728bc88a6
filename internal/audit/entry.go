package audit

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	SkillExecEvent  EventType = "skill_exec"
	FileOpEvent     EventType = "file_op"
	PermChangeEvent EventType = "perm_change"
	ErrorEvent      EventType = "error"
)

// Entry is one immutable audit record.
type Entry struct {
	ID          string          `json:"id"`
	Timestamp   time.Time       `json:"timestamp"`
	Type        EventType       `json:"event_type"`
	SkillID     string          `json:"skill_id,omitempty"`
	FilePath    string          `json:"file_path,omitempty"`
	Action      string          `json:"action"`
	Details     json.RawMessage `json:"details,omitempty"`
	UserVisible bool            `json:"user_visible"`
}

func newID() string {
	if id, err := uuid.NewV7(); err == nil {
		return id.String()
	}
	return uuid.New().String()
}

func newEntry(t EventType, action string) Entry {
	return Entry{
		ID:          newID(),
		Timestamp:   time.Now().UTC(),
		Type:        t,
		Action:      action,
		UserVisible: true,
	}
}

func SkillExec(skillID, action string, details any) Entry {
	e := newEntry(SkillExecEvent, action)
	e.SkillID = skillID
	return e.WithDetails(details)
}

func FileOp(path, action, skillID string) Entry {
	e := newEntry(FileOpEvent, action)
	e.FilePath = path
	e.SkillID = skillID
	return e
}

func PermChange(skillID, from, to string) Entry {
	e := newEntry(PermChangeEvent, "Permission changed from "+from+" to "+to)
	e.SkillID = skillID
	return e.WithDetails(map[string]string{"old": from, "new": to})
}

func Error(message, skillID, path string) Entry {
	e := newEntry(ErrorEvent, message)
	e.SkillID = skillID
	e.FilePath = path
	return e
}

// WithDetails attaches v as JSON. Values that fail to marshal are dropped.
func (e Entry) WithDetails(v any) Entry {
	if v == nil {
		return e
	}
	if raw, ok := v.(json.RawMessage); ok {
		e.Details = raw
		return e
	}
	if b, err := json.Marshal(v); err == nil {
		e.Details = b
	}
	return e
}

// Hidden marks the entry as internal bookkeeping.
func (e Entry) Hidden() Entry {
	e.UserVisible = false
	return e
}

// Filter selects entries in Query. Zero fields match everything.
type Filter struct {
	Types           []EventType
	SkillID         string
	PathPrefix      string
	UserVisibleOnly bool
	From            time.Time // inclusive
	To              time.Time // exclusive
	Limit           int
	Ascending       bool
}

func (f Filter) Matches(e Entry) bool {
	if len(f.Types) > 0 {
		ok := false
		for _, t := range f.Types {
			if t == e.Type {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if f.SkillID != "" && e.SkillID != f.SkillID {
		return false
	}
	if f.PathPrefix != "" && !strings.HasPrefix(e.FilePath, f.PathPrefix) {
		return false
	}
	if f.UserVisibleOnly && !e.UserVisible {
		return false
	}
	if !f.From.IsZero() && e.Timestamp.Before(f.From) {
		return false
	}
	if !f.To.IsZero() && !e.Timestamp.Before(f.To) {
		return false
	}
	return true
}
