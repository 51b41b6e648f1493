package embedding

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LEE-hyeon0771/AI-change-app/internal/fault"
)

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name     string
		a, b     Vector
		expected float64
		delta    float64
	}{
		{"identical", Vector{1, 0, 0}, Vector{1, 0, 0}, 1.0, 0.001},
		{"orthogonal", Vector{1, 0, 0}, Vector{0, 1, 0}, 0.0, 0.001},
		{"opposite", Vector{1, 0, 0}, Vector{-1, 0, 0}, -1.0, 0.001},
		{"similar", Vector{1, 1, 0}, Vector{1, 0, 0}, 0.707, 0.01},
		{"empty", Vector{}, Vector{}, 0.0, 0.001},
		{"different lengths", Vector{1, 0}, Vector{1, 0, 0}, 0.0, 0.001},
		{"zero vector", Vector{0, 0, 0}, Vector{1, 0, 0}, 0.0, 0.001},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CosineSimilarity(tt.a, tt.b)
			if math.Abs(got-tt.expected) > tt.delta {
				t.Errorf("CosineSimilarity(%v, %v) = %f, want %f (±%f)", tt.a, tt.b, got, tt.expected, tt.delta)
			}
		})
	}
}

func fakeOpenAI(t *testing.T, status int, vector []float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "text-embedding-3-small", body["model"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status != http.StatusOK {
			_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  "text-embedding-3-small",
			"data": []map[string]any{
				{"object": "embedding", "index": 0, "embedding": vector},
			},
			"usage": map[string]any{"prompt_tokens": 3, "total_tokens": 3},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIEmbedder(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusOK, []float64{0.25, -0.5, 1})
	e := NewOpenAIEmbedder(Config{APIKey: "sk-test", BaseURL: srv.URL, Timeout: 5 * time.Second})

	vec, err := e.Embed(context.Background(), "벽체 두께 변경")
	require.NoError(t, err)
	assert.Equal(t, Vector{0.25, -0.5, 1}, vec)
	assert.Equal(t, "openai/text-embedding-3-small", ModelOf(e))
}

func TestOpenAIEmbedderUpstreamFailure(t *testing.T) {
	srv := fakeOpenAI(t, http.StatusUnauthorized, nil)
	e := NewOpenAIEmbedder(Config{APIKey: "sk-test", BaseURL: srv.URL})

	_, err := e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, fault.IsProvider(err))
}

func TestOpenAIEmbedderMissingKey(t *testing.T) {
	e, err := New(Config{Provider: "openai"})
	require.NoError(t, err)

	_, err = e.Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, fault.IsProvider(err))
}

func TestOllamaEmbedder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, DefaultOllamaModel, req.Model)
		_ = json.NewEncoder(w).Encode(ollamaResponse{Embedding: []float32{1, 2}})
	}))
	defer srv.Close()

	e, err := New(Config{Provider: "ollama", BaseURL: srv.URL + "/"})
	require.NoError(t, err)

	vec, err := e.Embed(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, Vector{1, 2}, vec)
}

func TestOllamaEmbedderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	_, err := NewOllamaEmbedder(Config{BaseURL: srv.URL}).Embed(context.Background(), "x")
	require.Error(t, err)
	assert.True(t, fault.IsProvider(err))
	assert.Contains(t, err.Error(), "404")
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "cohere"})
	require.Error(t, err)
	assert.True(t, fault.IsConfig(err))
}
