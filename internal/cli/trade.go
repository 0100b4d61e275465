package cli

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/exchange"
	"unocoin-client/internal/models"
	"unocoin-client/internal/security"
	"unocoin-client/internal/store"
)

const tradesSyncKey = "unocoin_trades"

// addTradeCommands adds the buy lifecycle commands.
func addTradeCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newBuyCmd(app))
	rootCmd.AddCommand(newTradesCmd(app))
	rootCmd.AddCommand(newTradeCmd(app))
	rootCmd.AddCommand(newRefreshCmd(app))
	rootCmd.AddCommand(newReferenceCmd(app))
	rootCmd.AddCommand(newCancelCmd(app))
}

func newBuyCmd(app *App) *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "buy <amount>",
		Short: "Buy bitcoin with a bank transfer",
		Long: `Quote and place a buy order paid by bank transfer.

The bitcoin is sent to the next free receive address of the wallet. After
paying, record the bank reference number with 'unocoin reference'.`,
		Args: cobra.ExactArgs(1),
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			q, err := buyQuote(ctx, app.Session, args[0], base)
			if err != nil {
				return err
			}
			mediums, err := q.PaymentMediums(ctx)
			if err != nil {
				return err
			}
			bank, ok := mediums[models.MediumBank]
			if !ok {
				return fmt.Errorf("bank transfer unavailable")
			}

			t, err := bank.Buy(ctx)
			if err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(tradeView(t))
			}
			out.Success("Trade %d created", t.ID())
			printTrade(out, t)
			out.Println()
			out.Info("Transfer %s and run: unocoin reference %d <bank-reference>", FormatRupees(t.InAmount()), t.ID())
			return nil
		}),
	}

	cmd.Flags().StringVar(&base, "base", string(models.INR), "currency the amount is given in (INR or BTC)")
	return cmd
}

func newTradesCmd(app *App) *cobra.Command {
	var (
		sync  bool
		state string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "trades",
		Short: "List trades",
		Long: `List trades saved with the session.

With --sync the list is reloaded from the exchange first.`,
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			if sync {
				if _, err := app.Session.GetTrades(ctx); err != nil {
					return err
				}
				if err := app.Store.SetLastSync(tradesSyncKey, time.Now()); err != nil {
					app.Logger.Warn().Err(err).Msg("Failed to record trade sync")
				}
			}

			records, err := app.Store.ListTrades(ctx, store.TradeFilter{
				Partner: exchange.PartnerName,
				State:   state,
				Limit:   limit,
			})
			if err != nil {
				return err
			}

			if out.IsJSON() {
				views := make([]map[string]any, 0, len(records))
				for _, r := range records {
					if t, err := app.Session.Trade(r.ID); err == nil {
						views = append(views, tradeView(t))
					}
				}
				return out.JSON(views)
			}

			if len(records) == 0 {
				out.Dim("No trades")
				return nil
			}
			table := NewTable(out, "ID", "STATE", "PAY", "RECEIVE", "CREATED", "ADDRESS")
			for _, r := range records {
				t, err := app.Session.Trade(r.ID)
				if err != nil {
					table.AddRow(strconv.FormatInt(r.ID, 10), out.StateText(r.State), "-", "-", "-", "-")
					continue
				}
				table.AddRow(
					strconv.FormatInt(t.ID(), 10),
					out.StateText(string(t.State())),
					FormatRupees(t.InAmount()),
					FormatBTC(receiving(t)),
					FormatDateTime(t.CreatedAt()),
					TruncateString(t.ReceiveAddress(), 20),
				)
			}
			table.Render()

			if last := app.Store.GetLastSync(tradesSyncKey); !last.IsZero() {
				out.Dim("Synced %s ago", FormatDuration(time.Since(last)))
			}
			return nil
		}),
	}

	cmd.Flags().BoolVar(&sync, "sync", false, "reload trades from the exchange")
	cmd.Flags().StringVar(&state, "state", "", "only trades in this state")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum trades to show")
	return cmd
}

func newTradeCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "trade <id>",
		Short: "Show one trade",
		Args:  cobra.ExactArgs(1),
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			t, err := lookupTrade(app.Session, args[0])
			if err != nil {
				return err
			}
			expected, err := t.BtcExpected(ctx)
			if err != nil {
				app.Logger.Debug().Err(err).Int64("trade_id", t.ID()).Msg("No expected amount")
			}
			if out.IsJSON() {
				v := tradeView(t)
				v["btc_expected"] = expected
				return out.JSON(v)
			}
			printTrade(out, t)
			if expected > 0 {
				out.Printf("Expected  %s\n", FormatBTC(expected))
			}
			return nil
		}),
	}
}

func newRefreshCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh <id>",
		Short: "Reload a trade from the exchange",
		Args:  cobra.ExactArgs(1),
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			t, err := lookupTrade(app.Session, args[0])
			if err != nil {
				return err
			}
			before := t.State()
			if _, err := t.Refresh(ctx); err != nil {
				return err
			}

			// The exchange reports the payout hash; hand it to the wallet
			// as the wallet's own watcher would.
			if tx := t.TxHash(); tx != "" && !t.Confirmed() && t.ReceiveAddress() != "" {
				app.Wallet.Deliver(t.ReceiveAddress(), tx)
			}

			if out.IsJSON() {
				return out.JSON(tradeView(t))
			}
			if before != t.State() {
				out.Info("Trade %d: %s -> %s", t.ID(), before, t.State())
			}
			printTrade(out, t)
			return nil
		}),
	}
}

func newReferenceCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "reference <id> <bank-reference>",
		Short: "Record the bank transfer reference number for a trade",
		Args:  cobra.ExactArgs(2),
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			if err := security.ValidateReferenceNumber(args[1]); err != nil {
				return err
			}
			t, err := lookupTrade(app.Session, args[0])
			if err != nil {
				return err
			}
			if _, err := t.AddReferenceNumber(ctx, args[1]); err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(tradeView(t))
			}
			out.Success("Reference %s recorded for trade %d", t.ReferenceNumber(), t.ID())
			return nil
		}),
	}
}

func newCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a trade awaiting payment",
		Args:  cobra.ExactArgs(1),
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			t, err := lookupTrade(app.Session, args[0])
			if err != nil {
				return err
			}
			if _, err := t.Cancel(ctx); err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(tradeView(t))
			}
			out.Success("Trade %d is %s", t.ID(), t.State())
			return nil
		}),
	}
}

func lookupTrade(s *exchange.Session, arg string) (*exchange.Trade, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil {
		return nil, apperrors.NewValidationError("id", arg, "trade id must be a number")
	}
	return s.Trade(id)
}

// receiving is the settled amount when known, else the expected one.
func receiving(t *exchange.Trade) int64 {
	if t.OutAmount() > 0 {
		return t.OutAmount()
	}
	return t.OutAmountExpected()
}

func tradeView(t *exchange.Trade) map[string]any {
	return map[string]any{
		"id":                  t.ID(),
		"state":               t.State(),
		"is_buy":              t.IsBuy(),
		"medium":              t.Medium(),
		"in_currency":         t.InCurrency(),
		"out_currency":        t.OutCurrency(),
		"in_amount":           t.InAmount(),
		"out_amount":          t.OutAmount(),
		"out_amount_expected": t.OutAmountExpected(),
		"created_at":          t.CreatedAt(),
		"reference_number":    t.ReferenceNumber(),
		"receive_address":     t.ReceiveAddress(),
		"tx_hash":             t.TxHash(),
		"confirmed":           t.Confirmed(),
	}
}

func printTrade(out *Output, t *exchange.Trade) {
	out.Printf("Trade     %d\n", t.ID())
	out.Printf("State     %s\n", out.StateText(string(t.State())))
	out.Printf("Pay       %s\n", FormatRupees(t.InAmount()))
	out.Printf("Receive   %s\n", FormatBTC(receiving(t)))
	out.Printf("Created   %s\n", FormatDateTime(t.CreatedAt()))
	if ref := t.ReferenceNumber(); ref != "" {
		out.Printf("Reference %s\n", ref)
	}
	if addr := t.ReceiveAddress(); addr != "" {
		out.Printf("Address   %s\n", addr)
	}
	if tx := t.TxHash(); tx != "" {
		out.Printf("Tx        %s (confirmed: %v)\n", tx, t.Confirmed())
	}
}
