package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/LEE-hyeon0771/AI-change-app/internal/ingest"
)

func init() {
	cmd := &cobra.Command{
		Use:   "import [file]",
		Short: "Import design changes from JSON Lines",
		Long:  "Import design changes from JSON Lines (a file or stdin), one input object per line. Malformed or invalid lines are skipped and reported.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runImport,
	}

	RootCmd.AddCommand(cmd)
}

type importOutput struct {
	OK bool `json:"ok"`
	ingest.ImportReport
}

func runImport(cmd *cobra.Command, args []string) error {
	var r io.Reader = cmd.InOrStdin()
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return opErr("open input", err)
		}
		defer f.Close()
		r = f
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.Import(cmd.Context(), r)
	if err != nil {
		// what was imported before the failure stays imported
		_ = printJSON(cmd, importOutput{OK: false, ImportReport: report})
		return opErr("import", err)
	}
	return printJSON(cmd, importOutput{OK: true, ImportReport: report})
}
