// Package provider talks to chat models. A Router tries providers in the
// user's order of preference and fails over while nothing has been streamed.
package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

type ChunkKind string

const (
	ChunkText            ChunkKind = "text"
	ChunkToolUseStart    ChunkKind = "tool_use_start"
	ChunkToolInputDelta  ChunkKind = "tool_input_delta"
	ChunkToolUseComplete ChunkKind = "tool_use_complete"
	ChunkDone            ChunkKind = "done"
	ChunkError           ChunkKind = "error"
)

// Chunk is one streamed event. Which fields are set depends on Kind.
type Chunk struct {
	Kind       ChunkKind       `json:"kind"`
	Text       string          `json:"text,omitempty"`
	ToolID     string          `json:"tool_id,omitempty"`
	ToolName   string          `json:"tool_name,omitempty"`
	Input      json.RawMessage `json:"input,omitempty"`
	StopReason string          `json:"stop_reason,omitempty"`
	Err        string          `json:"error,omitempty"`
}

func (c Chunk) Terminal() bool { return c.Kind == ChunkDone || c.Kind == ChunkError }

// Tool is a function the model may call.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	InputSchema json.RawMessage `json:"input_schema"`
}

// Provider is one model backend. Stream emits chunks in order and, on
// success, finishes with a Done chunk. An error from emit means the consumer
// has gone away and must be returned as is.
type Provider interface {
	Name() string
	Generate(ctx context.Context, msgs []Message) (string, error)
	Stream(ctx context.Context, msgs []Message, tools []Tool, emit func(Chunk) error) error
}

const (
	// GenerateTimeout bounds non-streaming calls.
	GenerateTimeout = 120 * time.Second
	// DefaultIdleTimeout is how long a stream may go without a chunk.
	DefaultIdleTimeout = 120 * time.Second
	maxErrorBody       = 800
)

// splitSystem joins system messages with a blank line and returns the rest.
func splitSystem(msgs []Message) (string, []Message) {
	var sys []string
	rest := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role == RoleSystem {
			if s := strings.TrimSpace(m.Content); s != "" {
				sys = append(sys, s)
			}
			continue
		}
		rest = append(rest, m)
	}
	return strings.Join(sys, "\n\n"), rest
}

// truncateBody keeps error messages short.
func truncateBody(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBody {
		cut := maxErrorBody
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		return s[:cut] + "..."
	}
	return s
}

func statusError(provider string, code int, body []byte) error {
	return fmt.Errorf("%s: status %d: %s: %w", provider, code, truncateBody(body), errUpstream)
}
