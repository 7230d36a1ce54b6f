package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/teals/risk"
)

var riskCmd = &cobra.Command{
	Use:   "risk",
	Short: "Check open positions against the risk policy",
	Long: `Evaluate the stored risk policy against today's P&L and the open
positions. Positions are marked at --mark prices. A symbol without a mark is
sized at its average price and skips the stop check.

Example:
  teals risk --mark BTC/USD=61000 --mark ETH/USD=2900`,
	Args: cobra.NoArgs,
	RunE: runRisk,
}

var riskMarks []string

func init() {
	rootCmd.AddCommand(riskCmd)
	riskCmd.Flags().StringArrayVarP(&riskMarks, "mark", "m", nil, "mark price as SYMBOL=PRICE (repeatable)")
}

func runRisk(cmd *cobra.Command, args []string) error {
	marks, err := parseMarks(riskMarks)
	if err != nil {
		return err
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	settings, err := a.db.SettingsMap(ctx)
	if err != nil {
		return err
	}
	policy, err := risk.PolicyFromSettings(settings)
	if err != nil {
		return err
	}
	day, err := a.engine.Today(ctx, time.Now())
	if err != nil {
		return err
	}
	open, err := a.db.ListOpenPositions(ctx)
	if err != nil {
		return err
	}

	d := risk.Evaluate(policy, day, open, marks)
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "day P&L:  %s\n", d.DayPnL.StringFixed(2))
	fmt.Fprintf(out, "exposure: %s\n", d.Exposure.StringFixed(2))
	if d.Allowed {
		fmt.Fprintln(out, "✓ within limits")
		return nil
	}
	for _, v := range d.Violations {
		fmt.Fprintf(out, "✗ %s %s %s\n", v.Code, v.Symbol, v.Msg)
	}
	return nil
}
