// Package cli provides the command-line interface for the exchange client.
package cli

import (
	"context"
	"encoding/json"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"unocoin-client/internal/api"
	"unocoin-client/internal/config"
	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/exchange"
	"unocoin-client/internal/logging"
	"unocoin-client/internal/security"
	"unocoin-client/internal/store"
	"unocoin-client/internal/wallet"
)

// Version information
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-01"
)

// App holds the application dependencies. Everything past Config and
// Logger is opened on first use by a command that talks to the exchange.
type App struct {
	Config *config.Config
	Logger zerolog.Logger

	API     *api.Client
	Store   *store.SQLiteStore
	Ledger  *wallet.Ledger
	Wallet  *wallet.Delegate
	Session *exchange.Session
}

// NewRootCmd creates the root command for the CLI. A nil cfg is loaded
// from the --config directory before any command runs.
func NewRootCmd(cfg *config.Config, logger zerolog.Logger) *cobra.Command {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	rootCmd := &cobra.Command{
		Use:   "unocoin",
		Short: "Unocoin client - buy bitcoin with INR",
		Long: `unocoin is a command-line client for the Unocoin exchange.

It signs a wallet user up, submits the KYC profile, prices quotes from the
live rate card and tracks bank-funded bitcoin purchases until the coins
reach the wallet's receive address.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if app.Config == nil || cmd.Flags().Changed("config") {
				dir, _ := cmd.Flags().GetString("config")
				loaded, err := config.Load(dir)
				if err != nil {
					if cmd.Name() == "version" {
						return nil
					}
					return err
				}
				app.Config = loaded
				app.Logger = logging.NewLoggerWithConfig(loaded.LogConfig())
			}

			debug, _ := cmd.Flags().GetBool("debug")
			if debug {
				logging.SetDebugLevel()
				app.Logger = app.Logger.Level(zerolog.DebugLevel)
			}
			return nil
		},
	}

	rootCmd.PersistentFlags().String("config", "", "config directory (default: ~/.config/unocoin-client)")
	rootCmd.PersistentFlags().Bool("json", false, "output in JSON format")
	rootCmd.PersistentFlags().Bool("debug", false, "enable debug logging")

	addCoreCommands(rootCmd, app)
	addAccountCommands(rootCmd, app)
	addMarketCommands(rootCmd, app)
	addTradeCommands(rootCmd, app)
	addWalletCommands(rootCmd, app)

	return rootCmd
}

// open wires the exchange session: transport, store, wallet ledger and
// delegate. The session is restored from the store when one was saved,
// otherwise seeded from the configured account.
func (a *App) open(ctx context.Context) error {
	if a.Session != nil {
		return nil
	}
	cfg := a.Config
	logger := logging.FromContext(ctx)

	a.API = api.NewClient(cfg.APIClientConfig(), logger)

	var opts []store.Option
	if cfg.Store.Seal {
		sealer, err := security.NewSealer(cfg.Account.StorePassphrase)
		if err != nil {
			return err
		}
		opts = append(opts, store.WithSealer(sealer))
	}
	st, err := store.NewSQLiteStore(cfg.Store.Path, opts...)
	if err != nil {
		return apperrors.Wrap(err, "opening store")
	}
	a.Store = st

	ledger, err := wallet.OpenLedger(cfg.Wallet.LedgerPath, cfg.Wallet.ReceiveAddresses)
	if err != nil {
		a.Close()
		return apperrors.Wrap(err, "opening wallet ledger")
	}
	a.Ledger = ledger

	a.Wallet = wallet.NewDelegate(wallet.Config{
		Email:         cfg.Account.Email,
		EmailVerified: cfg.Account.EmailVerified,
		GUID:          cfg.Account.WalletGUID,
		SharedKey:     cfg.Account.SharedKey,
		TokenURL:      cfg.Account.TokenURL,
		Token:         cfg.Account.EmailToken,
	}, ledger, st, logger)

	data, err := st.LoadState(ctx, exchange.PartnerName)
	switch {
	case err == nil:
		logger.Debug().Int("bytes", len(data)).Msg("Restoring saved session")
	case apperrors.Is(err, apperrors.ErrDataNotFound):
		data, err = seedSession(cfg.Account)
		if err != nil {
			a.Close()
			return err
		}
	default:
		a.Close()
		return apperrors.Wrap(err, "loading session")
	}

	session, err := exchange.SessionFromJSON(data, a.API, a.Wallet, cfg.ExchangeSettings(), logger)
	if err != nil {
		a.Close()
		return err
	}
	a.Wallet.Attach(session)
	a.Session = session
	if n := session.MonitorPayments(); n > 0 {
		logger.Debug().Int("trades", n).Msg("Watching receive addresses")
	}
	return nil
}

// seedSession builds a first session snapshot from the configured account.
func seedSession(acct config.AccountConfig) ([]byte, error) {
	return json.Marshal(map[string]any{
		"user":          acct.User,
		"offline_token": acct.OfflineToken,
		"auto_login":    true,
		"trades":        []any{},
	})
}

// Close releases the store and ledger.
func (a *App) Close() {
	if a.API != nil {
		if stats := a.API.BreakerStats(); stats.TotalFailures > 0 {
			a.Logger.Debug().
				Str("state", string(stats.State)).
				Int64("requests", stats.TotalRequests).
				Int64("failures", stats.TotalFailures).
				Int64("rejected", stats.TotalRejected).
				Float64("failure_rate", stats.FailureRate()).
				Msg("Exchange breaker stats")
		}
		a.API = nil
	}
	if a.Ledger != nil {
		if err := a.Ledger.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close wallet ledger")
		}
		a.Ledger = nil
	}
	if a.Store != nil {
		if err := a.Store.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close store")
		}
		a.Store = nil
	}
	a.Session = nil
}

// withSession adapts fn into a RunE that opens the app around it.
func (a *App) withSession(fn func(ctx context.Context, cmd *cobra.Command, args []string, out *Output) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		ctx = logging.WithLogger(ctx, a.Logger)
		if err := a.open(ctx); err != nil {
			return err
		}
		defer a.Close()
		return fn(ctx, cmd, args, NewOutput(cmd))
	}
}

// addCoreCommands adds core utility commands.
func addCoreCommands(rootCmd *cobra.Command, app *App) {
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newConfigCmd(app))
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			if output.IsJSON() {
				output.JSON(map[string]string{
					"version":    Version,
					"build_date": BuildDate,
					"partner":    exchange.PartnerName,
				})
			} else {
				output.Printf("Unocoin Client v%s\n", Version)
				output.Dim("Build date: %s", BuildDate)
			}
		},
	}
}

func newConfigCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Configuration management",
		Long:  "View and validate application configuration.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show current configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if output.IsJSON() {
				return output.JSON(redactedConfig(app.Config))
			}
			return showConfig(output, app.Config)
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration directory path",
		Run: func(cmd *cobra.Command, args []string) {
			output := NewOutput(cmd)
			dir := app.Config.Dir
			if output.IsJSON() {
				output.JSON(map[string]string{"path": dir})
			} else {
				output.Println(dir)
			}
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "validate",
		Short: "Validate configuration files",
		RunE: func(cmd *cobra.Command, args []string) error {
			output := NewOutput(cmd)
			if err := app.Config.Validate(); err != nil {
				output.Error("Configuration validation failed: %v", err)
				return err
			}
			if output.IsJSON() {
				output.JSON(map[string]bool{"valid": true})
			} else {
				output.Success("Configuration is valid")
			}
			return nil
		},
	})

	return cmd
}

// redactedConfig copies cfg with every secret masked.
func redactedConfig(cfg *config.Config) config.Config {
	c := *cfg
	c.Account.OfflineToken = security.MaskCredential(c.Account.OfflineToken)
	c.Account.SharedKey = security.MaskCredential(c.Account.SharedKey)
	c.Account.EmailToken = security.MaskCredential(c.Account.EmailToken)
	c.Account.StorePassphrase = security.MaskCredential(c.Account.StorePassphrase)
	return c
}

func showConfig(output *Output, cfg *config.Config) error {
	c := redactedConfig(cfg)

	output.Bold("Exchange")
	if c.API.Production {
		output.Printf("  Environment:     %s\n", output.Red("production"))
	} else {
		output.Printf("  Environment:     %s\n", output.Green("sandbox"))
	}
	if c.API.BaseURL != "" {
		output.Printf("  Base URL:        %s\n", c.API.BaseURL)
	}
	output.Printf("  Timeout:         %s\n", c.API.Timeout)
	output.Printf("  Rate Limit:      %.1f req/s (burst %d)\n", c.API.RateLimit, c.API.Burst)
	output.Printf("  Pair:            %s/%s\n", c.Exchange.CryptoCurrency, c.Exchange.FiatCurrency)
	output.Printf("  Quote TTL:       %s\n", c.Exchange.QuoteTTL)
	output.Printf("  Ticker TTL:      %s\n", c.Exchange.TickerTTL)
	output.Printf("  Minimum:         %s\n", FormatRupees(c.Exchange.MinimumAmount))
	output.Println()

	output.Bold("Wallet")
	output.Printf("  Ledger:          %s\n", c.Wallet.LedgerPath)
	output.Printf("  Addresses:       %d configured\n", len(c.Wallet.ReceiveAddresses))
	output.Println()

	output.Bold("Store")
	output.Printf("  Path:            %s\n", c.Store.Path)
	output.Printf("  Sealed:          %v\n", c.Store.Seal)
	output.Println()

	output.Bold("Account")
	output.Printf("  User:            %s\n", c.Account.User)
	output.Printf("  Email:           %s (verified: %v)\n", c.Account.Email, c.Account.EmailVerified)
	output.Printf("  Offline Token:   %s\n", c.Account.OfflineToken)
	output.Printf("  Shared Key:      %s\n", c.Account.SharedKey)

	return nil
}
