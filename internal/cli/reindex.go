package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Rebuild the vector index from the change log",
		Long:  "Re-embed every record in the change log into a fresh vector index. Use after changing the embedding model or when the index is reported corrupt.",
		RunE:  runReindex,
	}

	RootCmd.AddCommand(cmd)
}

func runReindex(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	n, err := a.Reindex(cmd.Context())
	if err != nil {
		return opErr("reindex", err)
	}
	return printJSON(cmd, map[string]any{"ok": true, "indexed": n})
}
