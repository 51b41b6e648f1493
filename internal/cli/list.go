package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded changes, newest last",
		RunE:  runList,
	}

	cmd.Flags().IntP("limit", "l", 20, "Max records from the end of the log (0 for all)")
	cmd.Flags().Bool("titles-only", false, "Only output date and title")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	titlesOnly, _ := cmd.Flags().GetBool("titles-only")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	records, err := a.List(limit)
	if err != nil {
		return opErr("list", err)
	}

	if titlesOnly {
		for _, r := range records {
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", r.ChangeDate, r.Title)
		}
		return nil
	}

	return printJSON(cmd, records)
}
