// Package embeddings provides text embedding for the memory engine.
//
// The engine treats embedding as an opaque remote call: text in, fixed-size
// vector out. The default provider speaks the OpenAI-compatible embeddings
// API; tests use a deterministic local provider.
package embeddings

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.uber.org/zap"
)

// ErrEmptyText is returned when an empty string is submitted for embedding.
var ErrEmptyText = errors.New("cannot embed empty text")

// Provider generates vector embeddings from text.
type Provider interface {
	// EmbedQuery embeds a single query string.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// EmbedDocuments embeds a batch of documents, one vector per input.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// OpenAIConfig configures the OpenAI-compatible provider.
type OpenAIConfig struct {
	BaseURL string
	APIKey  string
	Model   string
}

// OpenAIProvider embeds text through an OpenAI-compatible endpoint.
// Any service implementing the /embeddings API works (OpenAI, LocalAI,
// LM Studio, vLLM).
type OpenAIProvider struct {
	embed  chromem.EmbeddingFunc
	logger *zap.Logger
}

// NewOpenAIProvider creates a provider for the given endpoint.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) (*OpenAIProvider, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	normalized := true
	fn := chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, &normalized)

	return &OpenAIProvider{embed: fn, logger: logger}, nil
}

// EmbedQuery embeds one query string.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}
	vec, err := p.embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	return vec, nil
}

// EmbedDocuments embeds each document sequentially. The endpoint handles
// batching internally per request; a failed document fails the batch so
// callers never receive a vector slice misaligned with its inputs.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := p.EmbedQuery(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding document %d: %w", i, err)
		}
		out[i] = vec
	}
	return out, nil
}

// MockProvider is a deterministic bag-of-words embedder for tests.
//
// Each word is hashed into one of Dim buckets and the resulting vector is
// L2-normalized, so texts sharing vocabulary get positive cosine similarity
// and identical texts embed identically. No network, no model files.
type MockProvider struct {
	// Dim is the vector dimensionality. Defaults to 256.
	Dim int

	// Fail forces every call to return an error, for failure-path tests.
	Fail bool
}

// EmbedQuery embeds one string deterministically.
func (m *MockProvider) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if m.Fail {
		return nil, errors.New("mock embedder failure")
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	dim := m.Dim
	if dim == 0 {
		dim = 256
	}

	vec := make([]float32, dim)
	for _, word := range strings.Fields(strings.ToLower(text)) {
		word = strings.Trim(word, ".,!?;:\"'()")
		if word == "" {
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(word))
		vec[h.Sum32()%uint32(dim)] += 1
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return vec, nil
}

// EmbedDocuments embeds a batch of strings.
func (m *MockProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := m.EmbedQuery(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = vec
	}
	return out, nil
}
