package provider

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/littlehelper/littlehelper/internal/config"
	"github.com/littlehelper/littlehelper/internal/fault"
)

const DefaultOllamaURL = "http://127.0.0.1:11434"

type OllamaConfig struct {
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

// Ollama talks to a local Ollama daemon.
type Ollama struct {
	cfg OllamaConfig
}

func NewOllama(cfg OllamaConfig) *Ollama {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = config.DefaultLocalModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Ollama{cfg: cfg}
}

func (o *Ollama) Name() string { return "local" }

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []ollamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

type ollamaChatResponse struct {
	Message    ollamaMessage `json:"message"`
	Done       bool          `json:"done"`
	DoneReason string        `json:"done_reason"`
	Error      string        `json:"error"`
}

func ollamaMessages(msgs []Message) []ollamaMessage {
	sys, rest := splitSystem(msgs)
	out := make([]ollamaMessage, 0, len(rest)+1)
	if sys != "" {
		out = append(out, ollamaMessage{Role: "system", Content: sys})
	}
	for _, m := range rest {
		role := "user"
		if m.Role == RoleAssistant {
			role = "assistant"
		}
		out = append(out, ollamaMessage{Role: role, Content: m.Content})
	}
	return out
}

func (o *Ollama) do(ctx context.Context, msgs []Message, stream bool) (*http.Response, error) {
	payload, err := json.Marshal(ollamaChatRequest{Model: o.cfg.Model, Messages: ollamaMessages(msgs), Stream: stream})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := o.cfg.HTTPClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("local: %v: %w", err, fault.ErrUpstream)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		return nil, statusError("local", resp.StatusCode, b)
	}
	return resp, nil
}

func (o *Ollama) Generate(ctx context.Context, msgs []Message) (string, error) {
	resp, err := o.do(ctx, msgs, false)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	var out ollamaChatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("local: decode response: %v: %w", err, fault.ErrUpstream)
	}
	if out.Error != "" {
		return "", fmt.Errorf("local: %s: %w", out.Error, fault.ErrUpstream)
	}
	return out.Message.Content, nil
}

// Stream reads the newline delimited JSON objects Ollama sends.
func (o *Ollama) Stream(ctx context.Context, msgs []Message, _ []Tool, emit func(Chunk) error) error {
	resp, err := o.do(ctx, msgs, true)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 4<<20)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var r ollamaChatResponse
		if err := json.Unmarshal(line, &r); err != nil {
			continue
		}
		if r.Error != "" {
			return fmt.Errorf("local: %s: %w", r.Error, fault.ErrUpstream)
		}
		if r.Message.Content != "" {
			if err := emit(Chunk{Kind: ChunkText, Text: r.Message.Content}); err != nil {
				return err
			}
		}
		if r.Done {
			return emit(Chunk{Kind: ChunkDone, StopReason: r.DoneReason})
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("local: read stream: %v: %w", err, fault.ErrUpstream)
	}
	return emit(Chunk{Kind: ChunkDone})
}
