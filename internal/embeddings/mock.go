package embeddings

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"strings"

	"github.com/promptlens/core/pkg/vectors"
)

// MockClient generates deterministic embeddings from a hash of the input
// text. Identical inputs always map to identical vectors, which makes
// assignment and drift behavior reproducible in tests and local runs.
type MockClient struct {
	dimensions int
}

var _ Client = (*MockClient)(nil)

// NewMockClient creates a mock embedding client with the given dimensions.
func NewMockClient(dimensions int) *MockClient {
	if dimensions <= 0 {
		dimensions = defaultDimensions
	}
	return &MockClient{dimensions: dimensions}
}

// Embed returns a deterministic L2-normalized vector derived from text.
func (c *MockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}
	return c.deterministic(text), nil
}

// EmbedBatch returns deterministic vectors for each text.
func (c *MockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, ErrEmptyInput
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}

func (c *MockClient) deterministic(text string) []float32 {
	vec := make([]float32, c.dimensions)
	sum := sha256.Sum256([]byte(text))

	// Re-hash per 8-value block so the vector does not repeat with period 32.
	for i := 0; i < c.dimensions; i += 8 {
		for j := 0; j < 8 && i+j < c.dimensions; j++ {
			bits := binary.BigEndian.Uint32(sum[(j*4)%28 : (j*4)%28+4])
			vec[i+j] = (float32(bits%65536) / 32767.5) - 1.0
		}
		sum = sha256.Sum256(sum[:])
	}

	vectors.NormalizeL2(vec)

	return vec
}
