package cli

import (
	"errors"
	"io/fs"
	"os"

	"github.com/spf13/cobra"

	"github.com/LEE-hyeon0771/AI-change-app/internal/config"
)

const defaultConfigFile = "ai-change.yaml"

func init() {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage the configuration file",
	}

	initCmd := &cobra.Command{
		Use:   "init [path]",
		Short: "Write the effective configuration as YAML",
		Long:  "Write the effective configuration (defaults, environment and flags) as YAML. The API key is never written.",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runConfigInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing file")

	cmd.AddCommand(initCmd)
	RootCmd.AddCommand(cmd)
}

func runConfigInit(cmd *cobra.Command, args []string) error {
	force, _ := cmd.Flags().GetBool("force")
	path := defaultConfigFile
	if len(args) == 1 {
		path = args[0]
	}

	if _, err := os.Stat(path); err == nil && !force {
		return opErr("config init", fs.ErrExist)
	} else if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return opErr("config init", err)
	}

	cfg, err := loadConfig()
	if err != nil {
		return opErr("load config", err)
	}
	if err := config.Save(path, cfg); err != nil {
		return opErr("config init", err)
	}
	return printJSON(cmd, map[string]any{"ok": true, "path": path})
}
