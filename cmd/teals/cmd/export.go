package cmd

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/rustyeddy/teals/journal"
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the ledger to CSV",
	Long: `Write trades or daily performance as CSV.

Examples:
  teals export trades -o trades.csv
  teals export performance --from 2024-04-01 -o april.csv`,
}

var exportTradesCmd = &cobra.Command{
	Use:   "trades",
	Short: "Export every trade in execution order",
	Args:  cobra.NoArgs,
	RunE:  runExportTrades,
}

var exportPerformanceCmd = &cobra.Command{
	Use:   "performance",
	Short: "Export daily performance rows",
	Args:  cobra.NoArgs,
	RunE:  runExportPerformance,
}

var (
	exportOutput string
	exportFrom   string
	exportTo     string
)

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportTradesCmd)
	exportCmd.AddCommand(exportPerformanceCmd)

	exportCmd.PersistentFlags().StringVarP(&exportOutput, "output", "o", "-", "output file (- for stdout)")
	exportPerformanceCmd.Flags().StringVar(&exportFrom, "from", "", "first date (inclusive)")
	exportPerformanceCmd.Flags().StringVar(&exportTo, "to", "", "last date (inclusive)")
}

// exportWriter opens the output target; the returned close is a no-op for stdout.
func exportWriter(cmd *cobra.Command) (io.Writer, func() error, error) {
	if exportOutput == "" || exportOutput == "-" {
		return cmd.OutOrStdout(), func() error { return nil }, nil
	}
	f, err := os.Create(exportOutput)
	if err != nil {
		return nil, nil, fmt.Errorf("create output: %w", err)
	}
	return f, f.Close, nil
}

func runExportTrades(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	w, closeOut, err := exportWriter(cmd)
	if err != nil {
		return err
	}
	n, err := journal.WriteTradesCSV(w, a.db.ListSince(cmd.Context(), time.Time{}))
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	if exportOutput != "" && exportOutput != "-" {
		fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d trades to %s\n", n, exportOutput)
	}
	return nil
}

func runExportPerformance(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	days, err := a.db.ListPerformance(cmd.Context(), exportFrom, exportTo)
	if err != nil {
		return err
	}
	w, closeOut, err := exportWriter(cmd)
	if err != nil {
		return err
	}
	err = journal.WritePerformanceCSV(w, days)
	if cerr := closeOut(); err == nil {
		err = cerr
	}
	return err
}
