package embedder

import (
	"context"
	"crypto/sha256"
	"math"
)

// Mock is a deterministic in-process embedder for tests. Vectors are
// derived from a content hash, unit-normalized, so identical text
// always embeds identically and different texts almost never collide.
type Mock struct {
	Dim   int
	Calls int
	Fail  error // when set, every call returns this error
}

// NewMock returns a mock embedder with the given dimension.
func NewMock(dim int) *Mock {
	if dim <= 0 {
		dim = 8
	}
	return &Mock{Dim: dim}
}

func (m *Mock) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}
	m.Calls++
	if m.Fail != nil {
		return nil, m.Fail
	}
	return m.embed(req.Text), nil
}

func (m *Mock) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}
	m.Calls++
	if m.Fail != nil {
		return nil, m.Fail
	}
	embeddings := make([]*Embedding, len(req.Texts))
	for i, text := range req.Texts {
		embeddings[i] = m.embed(text)
	}
	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   m.Provider(),
		Model:      m.Model(),
	}, nil
}

func (m *Mock) embed(text string) *Embedding {
	sum := sha256.Sum256([]byte(text))
	vec := make([]float32, m.Dim)
	var norm float64
	for i := range vec {
		// Spread hash bytes into [-1, 1).
		v := float64(sum[i%len(sum)])/128.0 - 1.0
		vec[i] = float32(v)
		norm += v * v
	}
	if norm > 0 {
		scale := float32(1.0 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return &Embedding{
		Vector:    vec,
		Dimension: m.Dim,
		Provider:  m.Provider(),
		Model:     m.Model(),
		Hash:      ComputeHash(text),
	}
}

func (m *Mock) Dimension() int   { return m.Dim }
func (m *Mock) Provider() string { return "mock" }
func (m *Mock) Model() string    { return "mock-embed" }
func (m *Mock) Close() error     { return nil }
