// Package retrieve answers "which recorded changes are relevant to this
// question" with the nearest entries of the vector index.
package retrieve

import (
	"context"
	"strings"

	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

// DefaultK is the number of results returned when k is not positive.
const DefaultK = 5

// Searcher is the read side of the vector index.
type Searcher interface {
	Search(ctx context.Context, query string, k int) ([]model.ScoredChange, error)
}

// Retriever is a thin, read-only view over a Searcher.
type Retriever struct {
	searcher Searcher
}

func New(s Searcher) *Retriever {
	return &Retriever{searcher: s}
}

// Retrieve returns at most k records ordered closest first. A blank
// question or an empty index yields an empty slice, never an error.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]model.ScoredChange, error) {
	if k <= 0 {
		k = DefaultK
	}
	question = strings.TrimSpace(question)
	if question == "" {
		return []model.ScoredChange{}, nil
	}
	results, err := r.searcher.Search(ctx, question, k)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []model.ScoredChange{}
	}
	return results, nil
}

// Sources lists the records behind results, dropping repeats.
func Sources(results []model.ScoredChange) []model.Source {
	out := make([]model.Source, 0, len(results))
	seen := make(map[string]bool, len(results))
	for _, r := range results {
		if seen[r.Metadata.ID] {
			continue
		}
		seen[r.Metadata.ID] = true
		out = append(out, r.Metadata.Source())
	}
	return out
}
