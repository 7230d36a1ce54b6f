package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var watchlistCmd = &cobra.Command{
	Use:   "watchlist",
	Short: "Manage the symbol watchlist",
	Long: `List, add and remove watchlist symbols.

Examples:
  teals watchlist list
  teals watchlist add SOL/USD
  teals watchlist remove DOGE/USD`,
}

var watchlistListCmd = &cobra.Command{
	Use:   "list",
	Short: "List watched symbols",
	Args:  cobra.NoArgs,
	RunE:  runWatchlistList,
}

var watchlistAddCmd = &cobra.Command{
	Use:   "add <symbol>...",
	Short: "Add symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatchlistAdd,
}

var watchlistRemoveCmd = &cobra.Command{
	Use:   "remove <symbol>...",
	Short: "Remove symbols",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runWatchlistRemove,
}

func init() {
	rootCmd.AddCommand(watchlistCmd)
	watchlistCmd.AddCommand(watchlistListCmd)
	watchlistCmd.AddCommand(watchlistAddCmd)
	watchlistCmd.AddCommand(watchlistRemoveCmd)
}

func runWatchlistList(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	entries, err := a.db.Watchlist(cmd.Context())
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintln(cmd.OutOrStdout(), e.Symbol)
	}
	return nil
}

func runWatchlistAdd(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, sym := range args {
		added, err := a.db.AddToWatchlist(cmd.Context(), sym)
		if err != nil {
			return err
		}
		if !added {
			fmt.Fprintf(cmd.OutOrStdout(), "%s already watched\n", sym)
		}
	}
	return nil
}

func runWatchlistRemove(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, sym := range args {
		removed, err := a.db.RemoveFromWatchlist(cmd.Context(), sym)
		if err != nil {
			return err
		}
		if !removed {
			fmt.Fprintf(cmd.OutOrStdout(), "%s not watched\n", sym)
		}
	}
	return nil
}
