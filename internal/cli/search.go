package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
	"github.com/LEE-hyeon0771/AI-change-app/internal/retrieve"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [question]",
		Short: "Find recorded changes relevant to a question",
		Long:  "Embed the question and return the nearest recorded changes, closest first.",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runSearch,
	}

	cmd.Flags().IntP("k", "k", 0, "Max results (default: retrieval.top_k)")

	RootCmd.AddCommand(cmd)
}

type searchOutput struct {
	Question string               `json:"question"`
	Results  []model.ScoredChange `json:"results"`
	Sources  []model.Source       `json:"sources"`
}

func runSearch(cmd *cobra.Command, args []string) error {
	k, _ := cmd.Flags().GetInt("k")
	question := strings.Join(args, " ")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	results, err := a.Retrieve(cmd.Context(), question, k)
	if err != nil {
		return opErr("search", err)
	}

	return printJSON(cmd, searchOutput{
		Question: question,
		Results:  results,
		Sources:  retrieve.Sources(results),
	})
}
