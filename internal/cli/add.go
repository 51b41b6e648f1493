package cli

import (
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/LEE-hyeon0771/AI-change-app/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "add [description]",
		Short: "Record a design change",
		Long:  "Record a design change. The description can be a flag, a positional arg or piped via stdin.",
		RunE:  runAdd,
	}

	cmd.Flags().String("date", "", "Change date, YYYY-MM-DD (required)")
	cmd.Flags().StringP("title", "t", "", "Title (required)")
	cmd.Flags().String("description", "", "Description")
	cmd.Flags().String("author", "", "Author")
	cmd.Flags().String("org", "", "Organization")
	cmd.Flags().String("project", "", "Project name")
	cmd.Flags().String("client", "", "Client")

	cmd.MarkFlagRequired("date")
	cmd.MarkFlagRequired("title")

	RootCmd.AddCommand(cmd)
}

func runAdd(cmd *cobra.Command, args []string) error {
	date, _ := cmd.Flags().GetString("date")
	title, _ := cmd.Flags().GetString("title")
	description, _ := cmd.Flags().GetString("description")
	author, _ := cmd.Flags().GetString("author")
	org, _ := cmd.Flags().GetString("org")
	project, _ := cmd.Flags().GetString("project")
	client, _ := cmd.Flags().GetString("client")

	changeDate, err := model.ParseDate(date)
	if err != nil {
		return opErr("add", err)
	}

	// flag first, then positional args, then piped stdin
	if description == "" && len(args) > 0 {
		description = strings.Join(args, " ")
	}
	if description == "" && stdinPiped(cmd) {
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return opErr("read stdin", err)
		}
		description = string(b)
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rec, err := a.Ingest(cmd.Context(), model.DesignChangeInput{
		ChangeDate:   changeDate,
		Title:        title,
		Description:  description,
		Author:       author,
		Organization: org,
		ProjectName:  project,
		Client:       client,
	})
	if err != nil {
		return opErr("add", err)
	}
	return printJSON(cmd, rec)
}

// stdinPiped reports whether the command input is something other than a
// terminal.
func stdinPiped(cmd *cobra.Command) bool {
	in := cmd.InOrStdin()
	f, ok := in.(*os.File)
	if !ok {
		return in != nil
	}
	stat, err := f.Stat()
	if err != nil {
		return false
	}
	return stat.Mode()&os.ModeCharDevice == 0
}
