package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/littlehelper/littlehelper/internal/config"
	"github.com/littlehelper/littlehelper/internal/fault"
)

// Environment variables consulted when settings hold no credential.
const (
	EnvOpenAIKey    = "OPENAI_API_KEY"
	EnvAnthropicKey = "ANTHROPIC_API_KEY"
	EnvGeminiKey    = "GEMINI_API_KEY"
	EnvOllamaURL    = "OLLAMA_BASE_URL"
)

// Options tunes how New builds providers. The zero value is usable.
type Options struct {
	HTTPClient  *http.Client
	GoogleOAuth *config.GoogleOAuthClient
	IdleTimeout time.Duration
	Logger      *slog.Logger
	Getenv      func(string) string
}

// Router tries providers in order until one answers.
type Router struct {
	providers []Provider
	tools     []Tool
	idle      time.Duration
	log       *slog.Logger
	// answered, when set, learns which provider answered after how many
	// failovers.
	answered func(provider string, failovers int)
}

// NewRouter wraps already built providers.
func NewRouter(providers ...Provider) *Router {
	return &Router{providers: providers, idle: DefaultIdleTimeout, log: slog.Default()}
}

// New builds one provider per entry of the preference list. Entries that
// cannot be built stay in the list and fail immediately when tried.
func New(ms config.ModelSettings, opts Options) *Router {
	if opts.Getenv == nil {
		opts.Getenv = os.Getenv
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{}
	}
	r := NewRouter()
	if opts.IdleTimeout > 0 {
		r.idle = opts.IdleTimeout
	}
	if opts.Logger != nil {
		r.log = opts.Logger
	}
	for _, name := range ms.ProviderPreference {
		r.providers = append(r.providers, build(strings.ToLower(strings.TrimSpace(name)), ms, opts))
	}
	return r
}

func build(name string, ms config.ModelSettings, opts Options) Provider {
	switch name {
	case "openai":
		token, _ := resolveCredential(ms.OpenAIAuth, EnvOpenAIKey, opts.Getenv)
		if token == "" {
			return unavailable(name, "no api key or oauth token")
		}
		return NewOpenAI(OpenAIConfig{Token: token, BaseURL: ms.OpenAIBaseURL, Model: ms.OpenAIModel})
	case "anthropic":
		token, oauth := resolveCredential(ms.AnthropicAuth, EnvAnthropicKey, opts.Getenv)
		if token == "" {
			return unavailable(name, "no api key or oauth token")
		}
		return NewAnthropic(AnthropicConfig{Token: token, OAuth: oauth, Model: ms.AnthropicModel, HTTPClient: opts.HTTPClient})
	case "gemini":
		token, oauth := resolveCredential(ms.GeminiAuth, EnvGeminiKey, opts.Getenv)
		if token == "" {
			return unavailable(name, "no api key or oauth token")
		}
		cfg := GeminiConfig{Model: ms.GeminiModel, APIKey: token}
		if oauth {
			cfg.APIKey = ""
			cfg.OAuth = ms.GeminiAuth.OAuth
			cfg.Client = opts.GoogleOAuth
		}
		p, err := NewGemini(context.Background(), cfg)
		if err != nil {
			return &brokenProvider{name: name, err: err}
		}
		return p
	case "local", "ollama":
		return NewOllama(OllamaConfig{BaseURL: opts.Getenv(EnvOllamaURL), Model: ms.LocalModel, HTTPClient: opts.HTTPClient})
	default:
		return &brokenProvider{name: name, err: fmt.Errorf("unknown provider %q: %w", name, fault.ErrInvalidInput)}
	}
}

// resolveCredential prefers the api key, then the OAuth access token, then
// the environment.
func resolveCredential(auth config.ProviderAuth, env string, getenv func(string) string) (string, bool) {
	if token, oauth := auth.Credential(); token != "" {
		return token, oauth
	}
	return strings.TrimSpace(getenv(env)), false
}

// SetTools sets the tools offered when streaming with tools enabled.
func (r *Router) SetTools(tools []Tool) { r.tools = tools }

func (r *Router) SetIdleTimeout(d time.Duration) { r.idle = d }

// OnAnswer registers fn to be told which provider served each call.
func (r *Router) OnAnswer(fn func(provider string, failovers int)) { r.answered = fn }

func (r *Router) report(p Provider, failovers int) {
	if r.answered != nil {
		r.answered(p.Name(), failovers)
	}
}

// Status describes one configured provider.
type Status struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Reason string `json:"reason,omitempty"`
}

// Providers reports the configured providers in order.
func (r *Router) Providers() []Status {
	out := make([]Status, 0, len(r.providers))
	for _, p := range r.providers {
		st := Status{Name: p.Name(), Ready: true}
		if b, ok := p.(*brokenProvider); ok {
			st.Ready = false
			st.Reason = b.err.Error()
		}
		out = append(out, st)
	}
	return out
}

// Generate returns the first successful completion.
func (r *Router) Generate(ctx context.Context, msgs []Message) (string, error) {
	var lastErr error
	for i, p := range r.providers {
		cctx, cancel := context.WithTimeout(ctx, GenerateTimeout)
		out, err := p.Generate(cctx, msgs)
		cancel()
		if err == nil {
			r.report(p, i)
			return out, nil
		}
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("%s: %v: %w", p.Name(), err, fault.ErrTimeout)
		}
		r.log.Warn("provider failed, trying next", "provider", p.Name(), "error", err)
		lastErr = err
	}
	return "", exhausted(lastErr)
}

// GenerateStream streams a reply into sink. Providers are tried in order
// until one emits a chunk; after that an error ends the stream with a single
// Error chunk. Exactly one Done or Error chunk is sent unless ctx is
// cancelled. The sink is never closed.
func (r *Router) GenerateStream(ctx context.Context, msgs []Message, sink chan<- Chunk, enableTools bool) error {
	var tools []Tool
	if enableTools {
		tools = r.tools
	}
	var lastErr error
	for i, p := range r.providers {
		emitted, terminal, err := r.streamOne(ctx, p, msgs, tools, sink)
		if err == nil {
			r.report(p, i)
			if !terminal {
				return send(ctx, sink, Chunk{Kind: ChunkDone})
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if terminal {
			return err
		}
		if emitted {
			r.log.Warn("provider failed mid-stream", "provider", p.Name(), "error", err)
			if serr := send(ctx, sink, Chunk{Kind: ChunkError, Err: err.Error()}); serr != nil {
				return serr
			}
			return err
		}
		r.log.Warn("provider failed, trying next", "provider", p.Name(), "error", err)
		lastErr = err
	}
	err := exhausted(lastErr)
	if serr := send(ctx, sink, Chunk{Kind: ChunkError, Err: err.Error()}); serr != nil {
		return serr
	}
	return err
}

func (r *Router) streamOne(ctx context.Context, p Provider, msgs []Message, tools []Tool, sink chan<- Chunk) (emitted, terminal bool, err error) {
	sctx, wd := withWatchdog(ctx, r.idle)
	defer wd.stop()
	emit := func(c Chunk) error {
		if terminal {
			return nil
		}
		select {
		case sink <- c:
		case <-sctx.Done():
			return sctx.Err()
		}
		wd.kick()
		emitted = true
		terminal = c.Terminal()
		return nil
	}
	err = wd.err(p.Stream(sctx, msgs, tools, emit))
	return emitted, terminal, err
}

func send(ctx context.Context, sink chan<- Chunk, c Chunk) error {
	select {
	case sink <- c:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func exhausted(last error) error {
	if last == nil {
		return fmt.Errorf("no providers configured: %w", fault.ErrProviderExhausted)
	}
	return fmt.Errorf("%w: %v", fault.ErrProviderExhausted, last)
}
