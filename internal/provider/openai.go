package provider

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/littlehelper/littlehelper/internal/config"
	"github.com/littlehelper/littlehelper/internal/fault"
)

type OpenAIConfig struct {
	// Token is an api key or an OAuth access token; both are sent as bearer.
	Token   string
	BaseURL string
	Model   string
}

// OpenAI is the chat completions adapter. Tools are not offered to it.
type OpenAI struct {
	client openai.Client
	model  string
}

func NewOpenAI(cfg OpenAIConfig) *OpenAI {
	if cfg.Model == "" {
		cfg.Model = config.DefaultOpenAIModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Token),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(cfg.BaseURL, "/")+"/v1/"))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: cfg.Model}
}

func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) params(msgs []Message) openai.ChatCompletionNewParams {
	sys, rest := splitSystem(msgs)
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(rest)+1)
	if sys != "" {
		out = append(out, openai.SystemMessage(sys))
	}
	for _, m := range rest {
		switch m.Role {
		case RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(o.model),
		Messages: out,
	}
}

func (o *OpenAI) Generate(ctx context.Context, msgs []Message) (string, error) {
	resp, err := o.client.Chat.Completions.New(ctx, o.params(msgs))
	if err != nil {
		return "", o.wrap(ctx, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai: empty response: %w", fault.ErrUpstream)
	}
	return resp.Choices[0].Message.Content, nil
}

func (o *OpenAI) Stream(ctx context.Context, msgs []Message, _ []Tool, emit func(Chunk) error) error {
	stream := o.client.Chat.Completions.NewStreaming(ctx, o.params(msgs))
	defer stream.Close()

	stop := ""
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			if err := emit(Chunk{Kind: ChunkText, Text: choice.Delta.Content}); err != nil {
				return err
			}
		}
		if choice.FinishReason != "" {
			stop = string(choice.FinishReason)
		}
	}
	if err := stream.Err(); err != nil {
		return o.wrap(ctx, err)
	}
	return emit(Chunk{Kind: ChunkDone, StopReason: stop})
}

func (o *OpenAI) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	msg := err.Error()
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody] + "..."
	}
	return fmt.Errorf("openai: %s: %w", msg, fault.ErrUpstream)
}
