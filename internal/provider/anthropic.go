package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/littlehelper/littlehelper/internal/config"
	"github.com/littlehelper/littlehelper/internal/fault"
)

const (
	DefaultAnthropicURL = "https://api.anthropic.com"
	anthropicVersion    = "2023-06-01"
	anthropicOAuthBeta  = "oauth-2025-04-20"
	anthropicMaxTokens  = 4096
)

type AnthropicConfig struct {
	Token string
	// OAuth sends Token as a bearer token instead of an api key.
	OAuth      bool
	Model      string
	BaseURL    string
	HTTPClient *http.Client
}

// Anthropic speaks the messages API directly so tool use can be streamed.
type Anthropic struct {
	cfg AnthropicConfig
}

func NewAnthropic(cfg AnthropicConfig) *Anthropic {
	if cfg.Model == "" {
		cfg.Model = config.DefaultAnthropicModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultAnthropicURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Anthropic{cfg: cfg}
}

func (a *Anthropic) Name() string { return "anthropic" }

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	System    string             `json:"system,omitempty"`
	Messages  []anthropicMessage `json:"messages"`
	Stream    bool               `json:"stream,omitempty"`
	Tools     []Tool             `json:"tools,omitempty"`
}

// anthropicMessages merges consecutive turns from the same side, since the
// API requires strict alternation. Tool results are sent as user turns.
func anthropicMessages(msgs []Message) []anthropicMessage {
	var out []anthropicMessage
	for _, m := range msgs {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		if n := len(out); n > 0 && out[n-1].Role == role {
			out[n-1].Content += "\n\n" + m.Content
			continue
		}
		out = append(out, anthropicMessage{Role: role, Content: m.Content})
	}
	return out
}

func (a *Anthropic) request(msgs []Message, stream bool, tools []Tool) anthropicRequest {
	sys, rest := splitSystem(msgs)
	return anthropicRequest{
		Model:     a.cfg.Model,
		MaxTokens: anthropicMaxTokens,
		System:    sys,
		Messages:  anthropicMessages(rest),
		Stream:    stream,
		Tools:     tools,
	}
}

func (a *Anthropic) do(ctx context.Context, body anthropicRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("anthropic-version", anthropicVersion)
	if a.cfg.OAuth {
		req.Header.Set("Authorization", "Bearer "+a.cfg.Token)
		req.Header.Set("anthropic-beta", anthropicOAuthBeta)
	} else {
		req.Header.Set("x-api-key", a.cfg.Token)
	}
	resp, err := a.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("anthropic: %v: %w", err, fault.ErrUpstream)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, statusError("anthropic", resp.StatusCode, b)
	}
	return resp, nil
}

func (a *Anthropic) Generate(ctx context.Context, msgs []Message) (string, error) {
	resp, err := a.do(ctx, a.request(msgs, false, nil))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("anthropic: decode response: %v: %w", err, fault.ErrUpstream)
	}
	var sb strings.Builder
	for _, c := range out.Content {
		if c.Type == "text" {
			sb.WriteString(c.Text)
		}
	}
	return sb.String(), nil
}

type anthropicEvent struct {
	Type         string `json:"type"`
	Index        int    `json:"index"`
	ContentBlock *struct {
		Type string `json:"type"`
		ID   string `json:"id"`
		Name string `json:"name"`
		Text string `json:"text"`
	} `json:"content_block"`
	Delta *struct {
		Type        string `json:"type"`
		Text        string `json:"text"`
		PartialJSON string `json:"partial_json"`
		StopReason  string `json:"stop_reason"`
	} `json:"delta"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

type toolBlock struct {
	id, name string
	input    strings.Builder
}

func (a *Anthropic) Stream(ctx context.Context, msgs []Message, tools []Tool, emit func(Chunk) error) error {
	resp, err := a.do(ctx, a.request(msgs, true, tools))
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return decodeAnthropicStream(ctx, resp.Body, emit)
}

// decodeAnthropicStream turns the messages API event stream into chunks.
func decodeAnthropicStream(ctx context.Context, body io.Reader, emit func(Chunk) error) error {
	sse := newSSEReader(body)
	blocks := map[int]*toolBlock{}
	stop := ""
	for {
		ev, err := sse.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("anthropic: read stream: %v: %w", err, fault.ErrUpstream)
		}
		if ev.Data == sseDone {
			break
		}
		var e anthropicEvent
		if err := json.Unmarshal([]byte(ev.Data), &e); err != nil {
			continue
		}
		switch e.Type {
		case "content_block_start":
			if e.ContentBlock == nil {
				continue
			}
			switch e.ContentBlock.Type {
			case "tool_use":
				blocks[e.Index] = &toolBlock{id: e.ContentBlock.ID, name: e.ContentBlock.Name}
				if err := emit(Chunk{Kind: ChunkToolUseStart, ToolID: e.ContentBlock.ID, ToolName: e.ContentBlock.Name}); err != nil {
					return err
				}
			case "text":
				if e.ContentBlock.Text != "" {
					if err := emit(Chunk{Kind: ChunkText, Text: e.ContentBlock.Text}); err != nil {
						return err
					}
				}
			}
		case "content_block_delta":
			if e.Delta == nil {
				continue
			}
			switch e.Delta.Type {
			case "text_delta":
				if e.Delta.Text == "" {
					continue
				}
				if err := emit(Chunk{Kind: ChunkText, Text: e.Delta.Text}); err != nil {
					return err
				}
			case "input_json_delta":
				b, ok := blocks[e.Index]
				if !ok {
					continue
				}
				b.input.WriteString(e.Delta.PartialJSON)
				if err := emit(Chunk{Kind: ChunkToolInputDelta, ToolID: b.id, Text: e.Delta.PartialJSON}); err != nil {
					return err
				}
			}
		case "content_block_stop":
			b, ok := blocks[e.Index]
			if !ok {
				continue
			}
			delete(blocks, e.Index)
			if err := emit(Chunk{Kind: ChunkToolUseComplete, ToolID: b.id, ToolName: b.name, Input: toolInput(b.input.String())}); err != nil {
				return err
			}
		case "message_delta":
			if e.Delta != nil && e.Delta.StopReason != "" {
				stop = e.Delta.StopReason
			}
		case "message_stop":
			return emit(Chunk{Kind: ChunkDone, StopReason: stop})
		case "error":
			msg := "stream error"
			if e.Error != nil {
				msg = e.Error.Type + ": " + e.Error.Message
			}
			return fmt.Errorf("anthropic: %s: %w", msg, fault.ErrUpstream)
		}
	}
	return emit(Chunk{Kind: ChunkDone, StopReason: stop})
}

// toolInput parses accumulated partial JSON; anything unparsable becomes {}.
func toolInput(raw string) json.RawMessage {
	raw = strings.TrimSpace(raw)
	if raw == "" || !json.Valid([]byte(raw)) {
		return json.RawMessage("{}")
	}
	return json.RawMessage(raw)
}
