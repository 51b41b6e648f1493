package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "latest",
		Short: "Show the most recent design change",
		Long:  "Show the most recent design change. Clients poll this to notice new changes.",
		RunE:  runLatest,
	}

	cmd.Flags().Bool("full", false, "Print the full record instead of the summary")

	RootCmd.AddCommand(cmd)
}

func runLatest(cmd *cobra.Command, args []string) error {
	full, _ := cmd.Flags().GetBool("full")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	if full {
		rec, err := a.Latest()
		if err != nil {
			return opErr("latest", err)
		}
		return printJSON(cmd, map[string]any{"has_change": rec != nil, "latest": rec})
	}

	sum, err := a.LatestSummary()
	if err != nil {
		return opErr("latest", err)
	}
	return printJSON(cmd, map[string]any{"has_change": sum != nil, "latest": sum})
}
