package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Compare stored positions and performance with a ledger replay",
	Long: `Replay every trade in the ledger and compare the result with the stored
open positions and daily performance rows. Nothing is written. Exits non-zero
when any drift is found.`,
	Args: cobra.NoArgs,
	RunE: runAudit,
}

var errDrift = errors.New("ledger drift detected")

func init() {
	rootCmd.AddCommand(auditCmd)
}

func runAudit(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	rep, err := a.engine.Audit(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "trades:    %d\n", rep.Trades)
	fmt.Fprintf(out, "positions: %d open\n", len(rep.Positions))
	fmt.Fprintf(out, "days:      %d\n", len(rep.Days))
	if rep.Clean() {
		fmt.Fprintln(out, "✓ no drift")
		return nil
	}

	fmt.Fprintln(out, "| Kind | Key | Field | Stored | Rebuilt |")
	fmt.Fprintln(out, "|------+-----+-------+--------+---------|")
	for _, d := range rep.Drift {
		fmt.Fprintf(out, "| %s | %s | %s | %s | %s |\n", d.Kind, d.Key, d.Field, d.Stored, d.Rebuilt)
	}
	return fmt.Errorf("%w: %d differences", errDrift, len(rep.Drift))
}
