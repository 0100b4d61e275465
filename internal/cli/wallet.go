package cli

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"unocoin-client/internal/wallet"
)

// addWalletCommands adds receive address pool commands.
func addWalletCommands(rootCmd *cobra.Command, app *App) {
	cmd := &cobra.Command{
		Use:   "wallet",
		Short: "Receive address pool",
	}
	cmd.AddCommand(newAddressesCmd(app))
	cmd.AddCommand(newDeliverCmd(app))
	rootCmd.AddCommand(cmd)
}

func newAddressesCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "addresses",
		Short: "List receive addresses and the trades holding them",
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			recs, err := app.Ledger.List()
			if err != nil {
				return err
			}
			sort.Slice(recs, func(i, j int) bool {
				if recs[i].AccountIndex != recs[j].AccountIndex {
					return recs[i].AccountIndex < recs[j].AccountIndex
				}
				return recs[i].ReceiveIndex < recs[j].ReceiveIndex
			})
			if out.IsJSON() {
				return out.JSON(recs)
			}
			if len(recs) == 0 {
				out.Warning("No receive addresses configured; add wallet.receive_addresses to config.toml")
				return nil
			}

			table := NewTable(out, "INDEX", "ADDRESS", "STATUS", "TRADE", "UPDATED")
			for _, r := range recs {
				trade := "-"
				if r.TradeID != 0 {
					trade = strconv.FormatInt(r.TradeID, 10)
				}
				table.AddRow(
					strconv.Itoa(r.AccountIndex)+"/"+strconv.Itoa(r.ReceiveIndex),
					r.Address,
					addressStatusText(out, r.Status),
					trade,
					FormatDateTime(time.UnixMilli(r.UpdatedAt)),
				)
			}
			table.Render()
			return nil
		}),
	}
}

func addressStatusText(out *Output, s wallet.AddressStatus) string {
	switch s {
	case wallet.AddressFree:
		return out.Green(string(s))
	case wallet.AddressUsed:
		return out.DimText(string(s))
	case wallet.AddressReserved:
		return out.Cyan(string(s))
	}
	return out.Yellow(string(s))
}

func newDeliverCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "deliver <address> <tx-hash>",
		Short: "Record a payment seen on a receive address",
		Long: `Record that a transaction paid a receive address.

Trades waiting on the address are marked confirmed and the session is
saved.`,
		Args: cobra.ExactArgs(2),
		RunE: app.withSession(func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error {
			n := app.Wallet.Deliver(args[0], args[1])
			if out.IsJSON() {
				return out.JSON(map[string]any{"address": args[0], "tx_hash": args[1], "trades": n})
			}
			if n == 0 {
				out.Warning("No trade was waiting on %s", args[0])
				return nil
			}
			out.Success("Payment recorded for %d trade(s)", n)
			return nil
		}),
	}
}
