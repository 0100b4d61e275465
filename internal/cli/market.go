package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"unocoin-client/internal/exchange"
	"unocoin-client/internal/models"
)

// addMarketCommands adds rate card and quote commands.
func addMarketCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newTickerCmd(app))
	rootCmd.AddCommand(newRateCmd(app))
	rootCmd.AddCommand(newQuoteCmd(app))
}

func newTickerCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "ticker",
		Short: "Show the exchange's current buy rate",
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			tk, err := app.Session.Ticker(ctx)
			if err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(map[string]any{
					"buy_price":  tk.Buy.Price,
					"buy_fee":    tk.Buy.Fee,
					"buy_tax":    tk.Buy.Tax,
					"updated_at": tk.UpdatedAt,
				})
			}
			out.Printf("BTC/INR  %s\n", out.Cyan(FormatIndianCurrency(tk.Buy.Price)))
			out.Printf("Fee      %s + %s tax\n", FormatPercent(tk.Buy.Fee), FormatPercent(tk.Buy.Tax))
			out.Dim("Updated %s", FormatDateTime(tk.UpdatedAt))
			return nil
		}),
	}
}

func newRateCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "rate <base> <quote>",
		Short: "Price one unit of base in quote",
		Args:  cobra.ExactArgs(2),
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			base := parseCurrency(args[0])
			quote := parseCurrency(args[1])
			rate, err := app.Session.ExchangeRate(ctx, base, quote)
			if err != nil {
				return err
			}
			if out.IsJSON() {
				return out.JSON(map[string]any{"base": base, "quote": quote, "rate": rate})
			}
			out.Printf("1 %s = %s %s\n", base, formatRate(rate), quote)
			return nil
		}),
	}
}

func formatRate(rate float64) string {
	if rate < 1 {
		return fmt.Sprintf("%.8f", rate)
	}
	return fmt.Sprintf("%.2f", rate)
}

func parseCurrency(s string) models.Currency {
	return models.Currency(strings.ToUpper(strings.TrimSpace(s)))
}

func newQuoteCmd(app *App) *cobra.Command {
	var base string

	cmd := &cobra.Command{
		Use:   "quote <amount>",
		Short: "Price a purchase at the current buy rate",
		Long: `Price a purchase of bitcoin.

The amount is in the base currency: rupees to spend with --base INR, or
bitcoin to receive with --base BTC.`,
		Example: `  unocoin quote 5000
  unocoin quote 0.01 --base BTC`,
		Args: cobra.ExactArgs(1),
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			q, err := buyQuote(ctx, app.Session, args[0], base)
			if err != nil {
				return err
			}
			mediums, err := q.PaymentMediums(ctx)
			if err != nil {
				out.Warning("Payment mediums unavailable: %v", err)
			}
			if out.IsJSON() {
				return out.JSON(quoteView(q, mediums[models.MediumBank]))
			}
			printQuote(out, q, mediums[models.MediumBank])
			return nil
		}),
	}

	cmd.Flags().StringVar(&base, "base", string(models.INR), "currency the amount is given in (INR or BTC)")
	return cmd
}

// buyQuote prices amount of base. The amount leaves the buyer, so it is
// quoted negative.
func buyQuote(ctx context.Context, s *exchange.Session, amount, base string) (*exchange.Quote, error) {
	baseCur := parseCurrency(base)
	settings := s.Settings()
	quoteCur := settings.Crypto
	if baseCur == settings.Crypto {
		quoteCur = settings.Fiat
	}
	n, err := ParseAmount(amount, baseCur)
	if err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, fmt.Errorf("amount must be positive")
	}
	return s.GetBuyQuote(ctx, -n, baseCur, quoteCur)
}

func quoteView(q *exchange.Quote, bank *exchange.PaymentMedium) map[string]any {
	v := map[string]any{
		"id":             q.ID(),
		"base_amount":    q.BaseAmount(),
		"base_currency":  q.BaseCurrency(),
		"quote_amount":   q.QuoteAmount(),
		"quote_currency": q.QuoteCurrency(),
		"fee_amount":     q.FeeAmount(),
		"fee_currency":   q.FeeCurrency(),
		"expires_at":     q.ExpiresAt(),
	}
	if bank != nil {
		v["bank"] = map[string]any{
			"total":         bank.Total(),
			"minimum":       bank.Minimum(),
			"limit":         bank.LimitInAmount(),
			"meets_minimum": bank.CheckMinimum(),
			"within_limit":  bank.CheckLimit(),
		}
	}
	return v
}

func printQuote(out *Output, q *exchange.Quote, bank *exchange.PaymentMedium) {
	lines := []string{
		fmt.Sprintf("Pay:      %s", FormatRupees(abs(q.FiatAmount()))),
		fmt.Sprintf("Receive:  %s", FormatBTC(abs(q.CryptoAmount()))),
		fmt.Sprintf("Fee:      %s", FormatAmount(abs(q.FeeAmount()), q.FeeCurrency())),
		fmt.Sprintf("Expires:  in %s", FormatDuration(time.Until(q.ExpiresAt()))),
	}
	out.Box("Quote "+q.ID(), lines)

	if bank == nil {
		return
	}
	if !bank.CheckMinimum() {
		out.Warning("Below the %s minimum", FormatRupees(bank.Minimum()))
	}
	if !bank.CheckLimit() {
		out.Warning("Above the remaining buy limit of %s", FormatRupees(bank.LimitInAmount()))
	}
}

func abs(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}
