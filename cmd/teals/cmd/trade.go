package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/rustyeddy/teals/journal"
	"github.com/rustyeddy/teals/ledger"
	"github.com/rustyeddy/teals/market"
	"github.com/rustyeddy/teals/pkg/id"
)

var tradeCmd = &cobra.Command{
	Use:   "trade",
	Short: "Record an executed trade",
	Long: `Record one fill and reconcile the position and daily performance.

The client id makes the call idempotent: recording the same id twice is
rejected as a duplicate. One is generated when --id is omitted.

Examples:
  teals trade --symbol BTC/USD --side buy --qty 0.5 --price 64000
  teals trade --id fill-42 --symbol ETH/USD --side sell --qty 2 --price 3100 --at "2024-04-10 14:30:00"`,
	Args: cobra.NoArgs,
	RunE: runTrade,
}

var (
	tradeClientID string
	tradeSymbol   string
	tradeSide     string
	tradeQty      string
	tradePrice    string
	tradeAt       string
	tradeStrategy string
)

func init() {
	rootCmd.AddCommand(tradeCmd)

	tradeCmd.Flags().StringVar(&tradeClientID, "id", "", "client trade id (generated when empty)")
	tradeCmd.Flags().StringVarP(&tradeSymbol, "symbol", "s", "", "symbol, e.g. BTC/USD (required)")
	tradeCmd.Flags().StringVar(&tradeSide, "side", "", "buy or sell (required)")
	tradeCmd.Flags().StringVarP(&tradeQty, "qty", "q", "", "quantity (required)")
	tradeCmd.Flags().StringVarP(&tradePrice, "price", "p", "", "execution price (required)")
	tradeCmd.Flags().StringVar(&tradeAt, "at", "", "execution time (default now)")
	tradeCmd.Flags().StringVar(&tradeStrategy, "strategy", "", "strategy tag")
	for _, f := range []string{"symbol", "side", "qty", "price"} {
		_ = tradeCmd.MarkFlagRequired(f)
	}
}

func runTrade(cmd *cobra.Command, args []string) error {
	qty, err := decimal.NewFromString(tradeQty)
	if err != nil {
		return fmt.Errorf("qty: %w", err)
	}
	price, err := decimal.NewFromString(tradePrice)
	if err != nil {
		return fmt.Errorf("price: %w", err)
	}
	executed := time.Now()
	if tradeAt != "" {
		if executed, err = market.ParseTime(tradeAt); err != nil {
			return fmt.Errorf("at: %w", err)
		}
	}
	clientID := tradeClientID
	if clientID == "" {
		clientID = id.New()
	}

	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.engine.Process(cmd.Context(), ledger.Trade{
		ClientID:   clientID,
		Symbol:     tradeSymbol,
		Side:       ledger.Side(strings.ToUpper(tradeSide)),
		Quantity:   qty,
		Price:      price,
		ExecutedAt: executed,
		Strategy:   tradeStrategy,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, journal.FormatTradeOrg(res.Trade))
	if res.Closed != nil {
		fmt.Fprintln(out, journal.FormatPositionsOrg([]ledger.Position{*res.Closed, res.Position}))
	} else {
		fmt.Fprintln(out, journal.FormatPositionsOrg([]ledger.Position{res.Position}))
	}
	fmt.Fprintf(out, "realized %s, day %s %s (%d trades)\n",
		res.Delta.RealizedPnL.String(), res.Performance.Date,
		res.Performance.RealizedPnL.String(), res.Performance.TradesCount)
	return nil
}
