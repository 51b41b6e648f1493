// Package embeddingtest provides deterministic embedders for tests.
package embeddingtest

import (
	"context"
	"hash/fnv"
	"math"
	"regexp"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/LEE-hyeon0771/AI-change-app/internal/embedding"
)

var tokenRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// Hash embeds text as an L2-normalized bag of hashed tokens. Texts that share
// more tokens end up closer together.
type Hash struct {
	Dims int

	calls atomic.Int64
	mu    sync.Mutex
	texts []string
	err   error
}

// NewHash returns a Hash embedder with the given dimension.
func NewHash(dims int) *Hash {
	return &Hash{Dims: dims}
}

func (h *Hash) Embed(ctx context.Context, text string) (embedding.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.calls.Add(1)
	h.mu.Lock()
	h.texts = append(h.texts, text)
	err := h.err
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return HashVector(text, h.Dims), nil
}

func (h *Hash) Model() string { return "test/hash" }

// Calls reports how many times Embed was called.
func (h *Hash) Calls() int { return int(h.calls.Load()) }

// CallsWith counts calls whose text was exactly text.
func (h *Hash) CallsWith(text string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, t := range h.texts {
		if t == text {
			n++
		}
	}
	return n
}

// FailWith makes every following call return err. Pass nil to recover.
func (h *Hash) FailWith(err error) {
	h.mu.Lock()
	h.err = err
	h.mu.Unlock()
}

// HashVector is the vector Hash returns for text.
func HashVector(text string, dims int) embedding.Vector {
	vec := make(embedding.Vector, dims)
	for _, tok := range tokenRe.FindAllString(strings.ToLower(text), -1) {
		f := fnv.New32a()
		f.Write([]byte(tok))
		vec[int(f.Sum32()%uint32(dims))]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// Func adapts a function to the Embedder interface.
type Func func(text string) embedding.Vector

func (f Func) Embed(_ context.Context, text string) (embedding.Vector, error) {
	return f(text), nil
}
