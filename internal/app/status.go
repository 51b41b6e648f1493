package app

import (
	"context"
	"strings"

	"github.com/LEE-hyeon0771/AI-change-app/internal/embedding"
	"github.com/LEE-hyeon0771/AI-change-app/internal/vecindex"
)

// Status is the health report of an App.
type Status struct {
	OK         bool           `json:"ok"`
	Provider   string         `json:"provider"`
	Model      string         `json:"model"`
	APIKeySet  bool           `json:"api_key_set"`
	ChangeLog  string         `json:"change_log"`
	Records    int            `json:"records"`
	LogError   string         `json:"log_error,omitempty"`
	Index      vecindex.Stats `json:"index"`
	IndexError string         `json:"index_error,omitempty"`
	LatestID   string         `json:"latest_id,omitempty"`
}

// Status loads the index if needed and reports on every component. Errors
// are reported in the result rather than returned.
func (a *App) Status(ctx context.Context) Status {
	st := Status{
		Provider:  a.cfg.Embedding.Provider,
		Model:     embedding.ModelOf(a.embedder),
		APIKeySet: strings.TrimSpace(a.cfg.Embedding.APIKey) != "",
		ChangeLog: a.log.Path(),
	}
	if st.Model == "" {
		st.Model = a.cfg.Embedding.Model
	}

	n, err := a.log.Count()
	st.Records = n
	if err != nil {
		st.LogError = err.Error()
	}
	if latest, err := a.coord.Latest(); err == nil && latest != nil {
		st.LatestID = latest.ID
	}

	stats, err := a.index.Stats(ctx)
	st.Index = stats
	if err != nil {
		st.IndexError = err.Error()
	}

	st.OK = st.LogError == "" && st.IndexError == ""
	return st
}
