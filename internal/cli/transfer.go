package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/smartnotifier/internal/backup"
	"github.com/mesh-intelligence/smartnotifier/internal/legacy"
	"github.com/mesh-intelligence/smartnotifier/internal/paths"
)

func newImportLegacyCmd(a *app) *cobra.Command {
	var (
		from  string
		force bool
	)
	cmd := &cobra.Command{
		Use:   "import-legacy",
		Short: "Import CSV rule files written by earlier releases (runs once)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if from == "" {
				from = paths.LegacyDir(a.dataDir)
			}
			res, err := legacy.Import(cmd.Context(), store, legacy.Options{
				SourceDir: from,
				MarkerDir: a.dataDir,
				Force:     force,
			}, a.log)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			if res.AlreadyDone {
				fmt.Fprintln(cmd.OutOrStdout(), "legacy import already done (use --force to run again)")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules from %d files (%d skipped)\n", res.Imported, res.Files, res.Skipped)
			return nil
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "directory holding legacy *.csv files (default: <data-dir>/data)")
	cmd.Flags().BoolVar(&force, "force", false, "import even if a previous import completed")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: "Write every channel's rules to a JSONL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			n, err := backup.Export(cmd.Context(), store, args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "exported %d rules to %s\n", n, args[0])
			return nil
		},
	}
}

func newImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>",
		Short: "Restore rules from a JSONL export, replacing each channel it contains",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			res, err := backup.Import(cmd.Context(), store, args[0], a.log)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), res)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d rules into %d channels (%d skipped)\n", res.Rules, res.Channels, res.Skipped)
			return nil
		},
	}
}
