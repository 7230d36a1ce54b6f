package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
)

var performanceCmd = &cobra.Command{
	Use:     "performance",
	Aliases: []string{"perf"},
	Short:   "Query daily performance",
	Long: `Query daily realized and unrealized P&L.

Subcommands:
  today       - Today's row
  day         - One date
  range       - All rows between two dates
  unrealized  - Recompute unrealized P&L for a date from marks

Examples:
  teals performance today
  teals performance day 2024-04-10
  teals performance range --from 2024-04-01 --to 2024-04-30
  teals performance unrealized 2024-04-10 --mark BTC/USD=65000 --mark ETH/USD=3100`,
}

var performanceTodayCmd = &cobra.Command{
	Use:   "today",
	Short: "Show today's performance",
	Args:  cobra.NoArgs,
	RunE:  runPerformanceToday,
}

var performanceDayCmd = &cobra.Command{
	Use:   "day <YYYY-MM-DD>",
	Short: "Show performance for a date",
	Args:  cobra.ExactArgs(1),
	RunE:  runPerformanceDay,
}

var performanceRangeCmd = &cobra.Command{
	Use:   "range",
	Short: "List performance rows in a date range",
	Args:  cobra.NoArgs,
	RunE:  runPerformanceRange,
}

var performanceUnrealizedCmd = &cobra.Command{
	Use:   "unrealized <YYYY-MM-DD>",
	Short: "Recompute unrealized P&L from mark prices",
	Args:  cobra.ExactArgs(1),
	RunE:  runPerformanceUnrealized,
}

var (
	perfFrom  string
	perfTo    string
	perfCSV   bool
	perfMarks []string
)

func init() {
	rootCmd.AddCommand(performanceCmd)
	performanceCmd.AddCommand(performanceTodayCmd)
	performanceCmd.AddCommand(performanceDayCmd)
	performanceCmd.AddCommand(performanceRangeCmd)
	performanceCmd.AddCommand(performanceUnrealizedCmd)

	performanceRangeCmd.Flags().StringVar(&perfFrom, "from", "", "first date (inclusive)")
	performanceRangeCmd.Flags().StringVar(&perfTo, "to", "", "last date (inclusive)")
	performanceRangeCmd.Flags().BoolVar(&perfCSV, "csv", false, "write CSV instead of an org table")
	performanceUnrealizedCmd.Flags().StringArrayVarP(&perfMarks, "mark", "m", nil, "mark price as SYMBOL=PRICE (repeatable)")
}

func runPerformanceToday(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := a.engine.Today(cmd.Context(), time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatPerformanceOrg([]ledger.PerformanceDay{day}))
	return nil
}

func runPerformanceDay(cmd *cobra.Command, args []string) error {
	date := args[0]
	if _, err := market.ParseDate(date); err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	day, found, err := a.db.PerformanceDay(cmd.Context(), date)
	if err != nil {
		return err
	}
	if !found {
		day = ledger.NewPerformanceDay(date)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatPerformanceOrg([]ledger.PerformanceDay{day}))
	return nil
}

func runPerformanceRange(cmd *cobra.Command, args []string) error {
	for _, d := range []string{perfFrom, perfTo} {
		if d == "" {
			continue
		}
		if _, err := market.ParseDate(d); err != nil {
			return err
		}
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	days, err := a.db.ListPerformance(cmd.Context(), perfFrom, perfTo)
	if err != nil {
		return err
	}
	if perfCSV {
		return journal.WritePerformanceCSV(cmd.OutOrStdout(), days)
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatPerformanceOrg(days))
	return nil
}

func runPerformanceUnrealized(cmd *cobra.Command, args []string) error {
	marks, err := parseMarks(perfMarks)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	day, err := a.engine.RecomputeUnrealized(cmd.Context(), args[0], marks)
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), journal.FormatPerformanceOrg([]ledger.PerformanceDay{day}))
	return nil
}
