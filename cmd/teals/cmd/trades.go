package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
)

var tradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "List trades in execution order",
	Long: `List ledger trades executed at or after --since, oldest first.

Examples:
  teals trades
  teals trades --since 2024-04-01 --limit 20
  teals trades --csv > trades.csv
  teals trades show <trade-id>`,
	Args: cobra.NoArgs,
	RunE: runTrades,
}

var tradesShowCmd = &cobra.Command{
	Use:   "show <trade-id>",
	Short: "Show one trade",
	Args:  cobra.ExactArgs(1),
	RunE:  runTradesShow,
}

var (
	tradesSince string
	tradesLimit int
	tradesCSV   bool
)

func init() {
	rootCmd.AddCommand(tradesCmd)
	tradesCmd.AddCommand(tradesShowCmd)

	tradesCmd.Flags().StringVar(&tradesSince, "since", "", "only trades executed at or after this time")
	tradesCmd.Flags().IntVarP(&tradesLimit, "limit", "n", 0, "maximum trades to list (0 = all)")
	tradesCmd.Flags().BoolVar(&tradesCSV, "csv", false, "write CSV instead of org tables")
}

func runTrades(cmd *cobra.Command, args []string) error {
	var since time.Time
	if tradesSince != "" {
		t, err := market.ParseTime(tradesSince)
		if err != nil {
			return fmt.Errorf("since: %w", err)
		}
		since = t
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	seq := a.db.ListSince(cmd.Context(), since)
	if tradesCSV {
		_, err := journal.WriteTradesCSV(cmd.OutOrStdout(), limitTrades(seq, tradesLimit))
		return err
	}

	var trades []ledger.Trade
	for t, err := range limitTrades(seq, tradesLimit) {
		if err != nil {
			return err
		}
		trades = append(trades, t)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradesOrg(trades))
	return nil
}

func runTradesShow(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	t, err := a.db.GetTrade(cmd.Context(), args[0])
	if err != nil {
		return fmt.Errorf("get trade: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatTradeOrg(t))
	return nil
}
