package cli

import (
	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/LEE-hyeon0771/AI-change-app/internal/tui"
)

func init() {
	cmd := &cobra.Command{
		Use:   "explore",
		Short: "Browse recorded changes interactively",
		RunE:  runExplore,
	}

	cmd.Flags().IntP("k", "k", 0, "Results per question (default: retrieval.top_k)")

	RootCmd.AddCommand(cmd)
}

func runExplore(cmd *cobra.Command, args []string) error {
	k, _ := cmd.Flags().GetInt("k")

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	p := tea.NewProgram(tui.New(cmd.Context(), a, k),
		tea.WithAltScreen(),
		tea.WithInput(cmd.InOrStdin()),
		tea.WithOutput(cmd.OutOrStdout()))
	if _, err := p.Run(); err != nil {
		return opErr("explore", err)
	}
	return nil
}
