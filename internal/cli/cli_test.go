package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/LEE-hyeon0771/AI-change-app/internal/embedding/embeddingtest"
	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

const dims = 32

// fakeOpenAI serves /embeddings with token-hash vectors.
func fakeOpenAI(t *testing.T) *atomic.Int64 {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		var body struct {
			Input string `json:"input"`
			Model string `json:"model"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		vec := embeddingtest.HashVector(body.Input, dims)
		out := make([]float64, len(vec))
		for i, v := range vec {
			out[i] = float64(v)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  body.Model,
			"data":   []map[string]any{{"object": "embedding", "index": 0, "embedding": out}},
			"usage":  map[string]any{"prompt_tokens": 1, "total_tokens": 1},
		})
	}))
	t.Cleanup(srv.Close)

	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("AICHANGE_EMBEDDING_API_KEY", "")
	t.Setenv("AICHANGE_EMBEDDING_BASE_URL", srv.URL)
	t.Setenv("AICHANGE_EMBEDDING_PROVIDER", "openai")
	t.Setenv("AICHANGE_DATA_DIR", "")
	return &calls
}

func resetFlags(c *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	c.Flags().VisitAll(reset)
	c.PersistentFlags().VisitAll(reset)
	for _, sub := range c.Commands() {
		resetFlags(sub)
	}
}

func run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	resetFlags(RootCmd)
	var out, errOut bytes.Buffer
	RootCmd.SetOut(&out)
	RootCmd.SetErr(&errOut)
	RootCmd.SetIn(strings.NewReader(stdin))
	RootCmd.SetArgs(args)
	err := RootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestAddLatestSearch(t *testing.T) {
	fakeOpenAI(t)
	dir := t.TempDir()

	out, err := run(t, "", "latest", "--data-dir", dir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"has_change":false,"latest":null}`, out)

	out, err = run(t, "", "add", "--data-dir", dir,
		"--date", "2024-01-03", "--title", "벽체 두께 변경",
		"--description", "지하 2층 외벽 두께를 200mm -> 240mm로 변경")
	require.NoError(t, err)
	var rec model.DesignChangeRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, "2024-01-03", rec.ChangeDate.String())

	out, err = run(t, "", "latest", "--data-dir", dir)
	require.NoError(t, err)
	var latest struct {
		HasChange bool                      `json:"has_change"`
		Latest    model.LatestChangeSummary `json:"latest"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &latest))
	assert.True(t, latest.HasChange)
	assert.Equal(t, rec.ID, latest.Latest.ID)
	assert.Equal(t, "지하 2층 외벽 두께를 200mm -> 240mm로 변경", latest.Latest.Description)

	out, err = run(t, "", "search", "--data-dir", dir, "-k", "1", "외벽", "두께")
	require.NoError(t, err)
	var found searchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	assert.Equal(t, "외벽 두께", found.Question)
	require.Len(t, found.Results, 1)
	assert.Equal(t, rec.ID, found.Results[0].Metadata.ID)
	require.Len(t, found.Sources, 1)
	assert.Equal(t, "벽체 두께 변경", found.Sources[0].Title)
}

func TestAddReadsDescriptionFromStdin(t *testing.T) {
	fakeOpenAI(t)
	dir := t.TempDir()

	out, err := run(t, "창호를 로이유리로 교체\n", "add", "--data-dir", dir,
		"--date", "2024-02-01", "--title", "창호 교체", "--org", "설계팀")
	require.NoError(t, err)
	var rec model.DesignChangeRecord
	require.NoError(t, json.Unmarshal([]byte(out), &rec))
	assert.Equal(t, "창호를 로이유리로 교체", rec.Description)
	assert.Equal(t, "설계팀", rec.Organization)
}

func TestAddValidationError(t *testing.T) {
	calls := fakeOpenAI(t)
	dir := t.TempDir()

	_, err := run(t, "", "add", "--data-dir", dir, "--date", "2024-01-03", "--title", "제목만")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "description")
	assert.Zero(t, calls.Load())
	assert.NoFileExists(t, filepath.Join(dir, "change_log.jsonl"))
}

func TestSearchEmptyStore(t *testing.T) {
	fakeOpenAI(t)

	out, err := run(t, "", "search", "--data-dir", t.TempDir(), "아무거나")
	require.NoError(t, err)
	var found searchOutput
	require.NoError(t, json.Unmarshal([]byte(out), &found))
	assert.Empty(t, found.Results)
}

func TestImportListReindexStatus(t *testing.T) {
	fakeOpenAI(t)
	dir := t.TempDir()

	input := filepath.Join(t.TempDir(), "changes.jsonl")
	require.NoError(t, os.WriteFile(input, []byte(strings.Join([]string{
		`{"change_date":"2024-01-03","title":"벽체 두께 변경","description":"지하 2층 외벽 두께를 200mm -> 240mm로 변경"}`,
		`{"change_date":"2024-01-04","title":"","description":"제목 없음"}`,
		`{"change_date":"2024-01-05","title":"창호 교체","description":"로이유리 적용"}`,
	}, "\n")), 0o644))

	out, err := run(t, "", "import", "--data-dir", dir, input)
	require.NoError(t, err)
	var report struct {
		OK       bool `json:"ok"`
		Imported int  `json:"imported"`
		Skipped  int  `json:"skipped"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.True(t, report.OK)
	assert.Equal(t, 2, report.Imported)
	assert.Equal(t, 1, report.Skipped)

	out, err = run(t, "", "list", "--data-dir", dir, "--titles-only")
	require.NoError(t, err)
	assert.Equal(t, "2024-01-03\t벽체 두께 변경\n2024-01-05\t창호 교체\n", out)

	out, err = run(t, "", "list", "--data-dir", dir, "--limit", "1")
	require.NoError(t, err)
	var listed []model.DesignChangeRecord
	require.NoError(t, json.Unmarshal([]byte(out), &listed))
	require.Len(t, listed, 1)
	assert.Equal(t, "창호 교체", listed[0].Title)

	require.NoError(t, os.RemoveAll(filepath.Join(dir, "faiss_index")))
	out, err = run(t, "", "reindex", "--data-dir", dir)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true,"indexed":2}`, out)

	out, err = run(t, "", "status", "--data-dir", dir)
	require.NoError(t, err)
	var st struct {
		OK        bool   `json:"ok"`
		Provider  string `json:"provider"`
		Model     string `json:"model"`
		APIKeySet bool   `json:"api_key_set"`
		Records   int    `json:"records"`
		Index     struct {
			Entries int `json:"entries"`
			Dim     int `json:"dim"`
		} `json:"index"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.True(t, st.OK)
	assert.Equal(t, "openai", st.Provider)
	assert.Equal(t, "openai/text-embedding-3-small", st.Model)
	assert.True(t, st.APIKeySet)
	assert.Equal(t, 2, st.Records)
	assert.Equal(t, 2, st.Index.Entries)
	assert.Equal(t, dims, st.Index.Dim)
}

func TestConfigInit(t *testing.T) {
	fakeOpenAI(t)
	path := filepath.Join(t.TempDir(), "ai-change.yaml")

	_, err := run(t, "", "config", "init", path)
	require.NoError(t, err)
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "provider: openai")
	assert.NotContains(t, string(raw), "sk-test")

	_, err = run(t, "", "config", "init", path)
	require.Error(t, err)

	_, err = run(t, "", "config", "init", path, "--force")
	require.NoError(t, err)
}

func TestBadLogLevel(t *testing.T) {
	fakeOpenAI(t)

	_, err := run(t, "", "status", "--data-dir", t.TempDir(), "--log-level", "loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log.level")
}
