package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/smartnotifier/pkg/types"
)

func newRulesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rules",
		Short: "Inspect and edit per-channel rules",
	}
	cmd.AddCommand(
		newRulesListCmd(a),
		newRulesChannelsCmd(a),
		newRulesSetCmd(a),
		newRulesEnableCmd(a, true),
		newRulesEnableCmd(a, false),
		newRulesReplaceCmd(a),
		newRulesDeleteCmd(a),
		newRulesClearCmd(a),
	)
	return cmd
}

// writeJSON prints v indented.
func writeJSON(w io.Writer, v any) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	fmt.Fprintln(w, string(out))
	return nil
}

// parseIndex reads a list position argument.
func parseIndex(s string) (int, error) {
	i, err := strconv.Atoi(s)
	if err != nil || i < 0 {
		return 0, &types.ValidationError{Field: "index", Reason: fmt.Sprintf("%q is not a list position", s)}
	}
	return i, nil
}

func newRulesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list <channel>",
		Short: "List a channel's rules, seeding an empty channel with template rows",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID := args[0]
			store, err := a.openStore()
			if err != nil {
				return err
			}
			template := types.TemplateRules(channelID, a.cfg.GetInt(cfgKeyTemplateSize), a.cfg.GetString(cfgKeyDefaultSound))
			if _, err := store.EnsureInitialized(cmd.Context(), channelID, template); err != nil {
				return err
			}
			rules, err := store.GetByChannel(cmd.Context(), channelID)
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), rules)
			}
			for i, r := range rules {
				d := r.Display()
				state := "off"
				if d.Enabled {
					state = "on"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%2d  %-3s  %-24s  %s\n", i, state, d.SearchText, d.Sound)
			}
			return nil
		},
	}
}

func newRulesChannelsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "channels",
		Short: "List channels that have rules",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			channels, err := store.Channels(cmd.Context())
			if err != nil {
				return err
			}
			if a.flags.jsonMode {
				return writeJSON(cmd.OutOrStdout(), channels)
			}
			for _, c := range channels {
				fmt.Fprintln(cmd.OutOrStdout(), c)
			}
			return nil
		},
	}
}

func newRulesSetCmd(a *app) *cobra.Command {
	var (
		sound    string
		priority int
		disabled bool
	)
	cmd := &cobra.Command{
		Use:   "set <channel> <index> <search-text>",
		Short: "Create or update the rule at a list position",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			channelID, text := args[0], args[2]
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			rules, err := store.GetByChannel(cmd.Context(), channelID)
			if err != nil {
				return err
			}

			rule := types.Rule{ChannelID: channelID, Order: index}
			for _, r := range rules {
				if r.Order == index {
					rule = r
					break
				}
			}
			rule.SearchText = text
			rule.Enabled = !disabled
			if cmd.Flags().Changed("sound") {
				rule.Sound = sound
			}
			if cmd.Flags().Changed("priority") {
				rule.Priority = priority
			}

			stored, err := store.Upsert(cmd.Context(), types.UpsertOf(rule))
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), stored)
		},
	}
	cmd.Flags().StringVar(&sound, "sound", "", "sound designator (empty: platform default)")
	cmd.Flags().IntVar(&priority, "priority", 0, "informational priority")
	cmd.Flags().BoolVar(&disabled, "disabled", false, "store the rule disabled")
	return cmd
}

func newRulesEnableCmd(a *app, enabled bool) *cobra.Command {
	use, short := "enable", "Enable the rule at a list position"
	if !enabled {
		use, short = "disable", "Disable the rule at a list position"
	}
	return &cobra.Command{
		Use:   use + " <channel> <index>",
		Short: short,
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			index, err := parseIndex(args[1])
			if err != nil {
				return err
			}
			store, err := a.openStore()
			if err != nil {
				return err
			}
			r, err := store.SetEnabled(cmd.Context(), args[0], index, enabled)
			if err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), r)
		},
	}
}

func newRulesReplaceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "replace <channel> <file|->",
		Short: "Replace a channel's rules with a JSON array read from a file or stdin",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var (
				data []byte
				err  error
			)
			if args[1] == "-" {
				data, err = io.ReadAll(cmd.InOrStdin())
			} else {
				data, err = os.ReadFile(args[1])
			}
			if err != nil {
				return fmt.Errorf("read rules: %w", err)
			}
			var rules []types.Rule
			if err := json.Unmarshal(data, &rules); err != nil {
				return &types.ValidationError{Field: "rules", Reason: err.Error()}
			}

			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Replace(cmd.Context(), args[0], rules); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "replaced %s with %d rules\n", args[0], len(rules))
			return nil
		},
	}
}

func newRulesDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <rule-id>",
		Short: "Delete one rule by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "deleted", args[0])
			return nil
		},
	}
}

func newRulesClearCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "clear <channel>",
		Short: "Delete every rule of a channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openStore()
			if err != nil {
				return err
			}
			if err := store.DeleteByChannel(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "cleared", args[0])
			return nil
		},
	}
}
