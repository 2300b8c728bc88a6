package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/generative-ai-go/genai"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/littlehelper/littlehelper/internal/config"
	"github.com/littlehelper/littlehelper/internal/fault"
)

// geminiContinue is appended when the history ends on a model turn, since
// the API wants the last turn to come from the user.
const geminiContinue = "Continue."

type GeminiConfig struct {
	Model  string
	APIKey string
	// OAuth is used when APIKey is empty. With Client set the token is
	// refreshed through Google's token endpoint.
	OAuth  *config.OAuthCredentials
	Client *config.GoogleOAuthClient
}

type Gemini struct {
	client *genai.Client
	model  string
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.Model == "" {
		cfg.Model = config.DefaultGeminiModel
	}
	var opt option.ClientOption
	switch {
	case cfg.APIKey != "":
		opt = option.WithAPIKey(cfg.APIKey)
	case cfg.OAuth != nil && cfg.OAuth.AccessToken != "":
		opt = option.WithTokenSource(geminiTokenSource(ctx, cfg.OAuth, cfg.Client))
	default:
		return nil, fmt.Errorf("gemini: no credentials: %w", fault.ErrInvalidInput)
	}
	client, err := genai.NewClient(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %v: %w", err, fault.ErrUpstream)
	}
	return &Gemini{client: client, model: cfg.Model}, nil
}

func geminiTokenSource(ctx context.Context, creds *config.OAuthCredentials, client *config.GoogleOAuthClient) oauth2.TokenSource {
	tok := &oauth2.Token{AccessToken: creds.AccessToken, RefreshToken: creds.RefreshToken, TokenType: "Bearer"}
	if creds.ExpiresAt > 0 {
		tok.Expiry = time.Unix(creds.ExpiresAt, 0)
	}
	if client == nil || creds.RefreshToken == "" {
		return oauth2.StaticTokenSource(tok)
	}
	conf := &oauth2.Config{
		ClientID:     client.ClientID,
		ClientSecret: client.ClientSecret,
		Endpoint:     google.Endpoint,
	}
	return conf.TokenSource(ctx, tok)
}

func (g *Gemini) Name() string { return "gemini" }

func (g *Gemini) Close() error { return g.client.Close() }

// geminiContents maps messages to Gemini turns. Consecutive turns from the
// same side are merged, leading model turns are dropped and a trailing model
// turn gets a user "Continue." after it.
func geminiContents(msgs []Message) ([]*genai.Content, error) {
	type turn struct {
		role string
		text []string
	}
	var turns []turn
	for _, m := range msgs {
		if m.Role == RoleSystem {
			continue
		}
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		if len(turns) == 0 && role == "model" {
			continue
		}
		if n := len(turns); n > 0 && turns[n-1].role == role {
			turns[n-1].text = append(turns[n-1].text, m.Content)
			continue
		}
		turns = append(turns, turn{role: role, text: []string{m.Content}})
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("gemini: no user message to send: %w", fault.ErrInvalidInput)
	}
	if turns[len(turns)-1].role == "model" {
		turns = append(turns, turn{role: "user", text: []string{geminiContinue}})
	}
	out := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		out = append(out, &genai.Content{Role: t.role, Parts: []genai.Part{genai.Text(strings.Join(t.text, "\n\n"))}})
	}
	return out, nil
}

// session prepares a chat whose history is every turn but the last, which
// is returned for sending.
func (g *Gemini) session(msgs []Message) (*genai.ChatSession, []genai.Part, error) {
	sys, rest := splitSystem(msgs)
	contents, err := geminiContents(rest)
	if err != nil {
		return nil, nil, err
	}
	model := g.client.GenerativeModel(g.model)
	if sys != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(sys)}}
	}
	cs := model.StartChat()
	last := contents[len(contents)-1]
	cs.History = contents[:len(contents)-1]
	return cs, last.Parts, nil
}

func (g *Gemini) Generate(ctx context.Context, msgs []Message) (string, error) {
	cs, parts, err := g.session(msgs)
	if err != nil {
		return "", err
	}
	resp, err := cs.SendMessage(ctx, parts...)
	if err != nil {
		return "", g.wrap(ctx, err)
	}
	return responseText(resp), nil
}

func (g *Gemini) Stream(ctx context.Context, msgs []Message, _ []Tool, emit func(Chunk) error) error {
	cs, parts, err := g.session(msgs)
	if err != nil {
		return err
	}
	iter := cs.SendMessageStream(ctx, parts...)
	stop := ""
	for {
		resp, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return g.wrap(ctx, err)
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].FinishReason != genai.FinishReasonUnspecified {
			stop = resp.Candidates[0].FinishReason.String()
		}
		if text := responseText(resp); text != "" {
			if err := emit(Chunk{Kind: ChunkText, Text: text}); err != nil {
				return err
			}
		}
	}
	return emit(Chunk{Kind: ChunkDone, StopReason: stop})
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

func (g *Gemini) wrap(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("gemini: %v: %w", err, fault.ErrUpstream)
}
