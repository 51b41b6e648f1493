// Package embedding provides a pluggable interface for text embedding providers.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/LEE-hyeon0771/AI-change-app/internal/fault"
)

// Vector is a float32 embedding vector.
type Vector = []float32

// Embedder generates embedding vectors from text. The same text must map to
// the same vector for a given provider and model.
type Embedder interface {
	Embed(ctx context.Context, text string) (Vector, error)
}

// Config selects and configures a provider.
type Config struct {
	Provider string
	Model    string
	BaseURL  string
	APIKey   string
	Timeout  time.Duration
}

// CosineSimilarity computes cosine similarity between two vectors.
func CosineSimilarity(a, b Vector) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// --- OpenAI Provider ---

const (
	DefaultOpenAIModel = "text-embedding-3-small"
	DefaultOllamaModel = "nomic-embed-text"
	DefaultOllamaURL   = "http://localhost:11434"
)

// OpenAIEmbedder calls the OpenAI embeddings endpoint through the SDK.
type OpenAIEmbedder struct {
	client openai.Client
	model  string
	hasKey bool
}

// NewOpenAIEmbedder creates an embedder for OpenAI or any compatible API.
// SDK retries are disabled: a failed call surfaces once to the caller.
func NewOpenAIEmbedder(cfg Config) *OpenAIEmbedder {
	if cfg.Model == "" {
		cfg.Model = DefaultOpenAIModel
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		opts = append(opts, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAIEmbedder{
		client: openai.NewClient(opts...),
		model:  cfg.Model,
		hasKey: strings.TrimSpace(cfg.APIKey) != "",
	}
}

func (e *OpenAIEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	if !e.hasKey {
		return nil, fault.New(fault.CodeProvider, "OPENAI_API_KEY is not set", fault.Field("setting", "embedding.api_key"))
	}
	resp, err := e.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeProvider, "openai embeddings request failed",
			fault.Field("model", e.model))
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fault.New(fault.CodeProvider, "openai returned no embedding", fault.Field("model", e.model))
	}
	src := resp.Data[0].Embedding
	vec := make(Vector, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Model returns the model label recorded next to a persisted index.
func (e *OpenAIEmbedder) Model() string { return "openai/" + e.model }

// --- Ollama Provider ---

// OllamaEmbedder uses a local Ollama instance for embeddings.
type OllamaEmbedder struct {
	baseURL string
	model   string
	client  *http.Client
}

type ollamaRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaResponse struct {
	Embedding []float32 `json:"embedding"`
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
func NewOllamaEmbedder(cfg Config) *OllamaEmbedder {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOllamaURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultOllamaModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OllamaEmbedder{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}
}

func (e *OllamaEmbedder) Embed(ctx context.Context, text string) (Vector, error) {
	body, _ := json.Marshal(ollamaRequest{Model: e.model, Prompt: text})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeProvider, "build ollama request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fault.Wrap(err, fault.CodeProvider, "ollama request failed", fault.Field("url", e.baseURL))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fault.Errorf(fault.CodeProvider, "ollama error %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}

	var result ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fault.Wrap(err, fault.CodeProvider, "decode ollama response")
	}
	if len(result.Embedding) == 0 {
		return nil, fault.New(fault.CodeProvider, "ollama returned no embedding", fault.Field("model", e.model))
	}
	return result.Embedding, nil
}

func (e *OllamaEmbedder) Model() string { return "ollama/" + e.model }

// --- Factory ---

// New builds the embedder named by cfg.Provider ("openai" or "ollama").
// A missing OpenAI key is not an error here; it fails the first Embed call
// so commands that never embed still work.
func New(cfg Config) (Embedder, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "openai", "":
		return NewOpenAIEmbedder(cfg), nil
	case "ollama":
		return NewOllamaEmbedder(cfg), nil
	default:
		return nil, fault.New(fault.CodeConfig, fmt.Sprintf("unknown embedding provider %q", cfg.Provider),
			fault.Field("setting", "embedding.provider"))
	}
}

// ModelOf returns the model label of e, or "" when e does not report one.
func ModelOf(e Embedder) string {
	if m, ok := e.(interface{ Model() string }); ok {
		return m.Model()
	}
	return ""
}
