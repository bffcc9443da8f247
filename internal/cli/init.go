package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/smartnotifier/internal/paths"
)

func newInitCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Initialize configuration and rule storage",
		Long:  "Create the configuration and data directories, write a default config.yaml\nif missing, and initialize the configured storage backend.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := a.openStore(); err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, "smartnotifier initialized successfully")
			fmt.Fprintln(out, "  config: ", paths.ConfigFile(a.configDir))
			fmt.Fprintln(out, "  backend:", a.cfg.GetString(cfgKeyBackend))
			fmt.Fprintln(out, "  data:   ", a.dataDir)
			return nil
		},
	}
}
