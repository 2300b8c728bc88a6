// Package embed turns short texts into dense vectors for hybrid search.
package embed

import (
	"context"
	"math"
)

// Embedder produces vectors for text. Implementations must be safe for
// concurrent use.
type Embedder interface {
	Model() string
	IsAvailable(ctx context.Context) bool
	EmbedSingle(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either is the zero vector.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
