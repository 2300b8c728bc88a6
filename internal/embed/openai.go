package embed

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/littlehelper/littlehelper/internal/fault"
)

const DefaultOpenAIModel = "text-embedding-3-small"

// maxOpenAIBatch is the number of inputs sent per embeddings request.
const maxOpenAIBatch = 100

// OpenAI embeds text through the OpenAI embeddings API.
type OpenAI struct {
	client openai.Client
	model  string
}

// NewOpenAI builds an embedder. baseURL is the API root without /v1 and may
// be empty.
func NewOpenAI(apiKey, baseURL, model string) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key not set: %w", fault.ErrInvalidInput)
	}
	if model == "" {
		model = DefaultOpenAIModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithRequestTimeout(requestTimeout),
		option.WithMaxRetries(1),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimRight(baseURL, "/")+"/v1/"))
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}, nil
}

func (e *OpenAI) Model() string { return e.model }

func (e *OpenAI) IsAvailable(ctx context.Context) bool {
	_, err := e.EmbedSingle(ctx, "ping")
	return err == nil
}

func (e *OpenAI) EmbedSingle(ctx context.Context, text string) ([]float32, error) {
	vs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vs[0], nil
}

func (e *OpenAI) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += maxOpenAIBatch {
		end := min(start+maxOpenAIBatch, len(texts))
		resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
			Model: openai.EmbeddingModel(e.model),
			Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts[start:end]},
		})
		if err != nil {
			return nil, fmt.Errorf("openai embeddings: %v: %w", err, fault.ErrUpstream)
		}
		if len(resp.Data) != end-start {
			return nil, fmt.Errorf("openai embeddings: got %d vectors for %d texts: %w", len(resp.Data), end-start, fault.ErrUpstream)
		}
		for _, d := range resp.Data {
			v := make([]float32, len(d.Embedding))
			for i, x := range d.Embedding {
				v[i] = float32(x)
			}
			if len(v) == 0 {
				return nil, fmt.Errorf("openai embeddings: empty vector: %w", fault.ErrUpstream)
			}
			out = append(out, v)
		}
	}
	return out, nil
}
