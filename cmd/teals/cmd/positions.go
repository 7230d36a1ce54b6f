package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/market"
)

var positionsCmd = &cobra.Command{
	Use:   "positions [symbol]",
	Short: "List open positions, or one symbol's history",
	Long: `Without arguments, list every open position. With a symbol, list all of
its position rows, closed ones included, oldest first.

Examples:
  teals positions
  teals positions BTC/USD`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPositions,
}

func init() {
	rootCmd.AddCommand(positionsCmd)
}

func runPositions(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	if len(args) == 1 {
		hist, err := a.db.PositionHistory(ctx, market.NormalizeSymbol(args[0]))
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), journal.FormatPositionsOrg(hist))
		return nil
	}

	open, err := a.db.ListOpenPositions(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatPositionsOrg(open))
	return nil
}
