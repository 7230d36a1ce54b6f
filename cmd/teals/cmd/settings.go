package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/risk"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change stored settings",
	Long: `Settings are string key/value pairs kept in the ledger database. The
risk keys (position_size, max_daily_loss, stop_loss_pct) are validated as a
policy before they are stored.

Examples:
  teals settings list
  teals settings set max_daily_loss 250`,
}

var settingsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List settings",
	Args:  cobra.NoArgs,
	RunE:  runSettingsList,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set one setting",
	Args:  cobra.ExactArgs(2),
	RunE:  runSettingsSet,
}

func init() {
	rootCmd.AddCommand(settingsCmd)
	settingsCmd.AddCommand(settingsListCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

func runSettingsList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	settings, err := a.db.Settings(cmd.Context())
	if err != nil {
		return err
	}
	for _, s := range settings {
		fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", s.Key, s.Value)
	}
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	key, value := args[0], args[1]

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	return a.db.WithTx(ctx, func(tx *journal.Tx) error {
		if !risk.IsPolicyKey(key) {
			return tx.SetSetting(ctx, key, value)
		}
		u, err := risk.ParseUpdate(map[string]any{key: value})
		if err != nil {
			return err
		}
		current, err := tx.SettingsMap(ctx)
		if err != nil {
			return err
		}
		p, err := risk.PolicyFromSettings(current)
		if err != nil {
			return err
		}
		p, err = p.Apply(u)
		if err != nil {
			return err
		}
		for k, v := range p.Settings() {
			if err := tx.SetSetting(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	})
}
