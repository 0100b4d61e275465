// Package config provides configuration management for the Unocoin client.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"unocoin-client/internal/api"
	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/exchange"
	"unocoin-client/internal/logging"
	"unocoin-client/internal/models"
)

// Config holds all application configuration.
type Config struct {
	API      APIConfig      `mapstructure:"api"`
	Exchange ExchangeConfig `mapstructure:"exchange"`
	Wallet   WalletConfig   `mapstructure:"wallet"`
	Store    StoreConfig    `mapstructure:"store"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Account  AccountConfig  `mapstructure:"-"` // Loaded separately

	Dir string `mapstructure:"-"`
}

// APIConfig holds transport configuration.
type APIConfig struct {
	Production bool          `mapstructure:"production"`
	BaseURL    string        `mapstructure:"base_url"`
	Timeout    time.Duration `mapstructure:"timeout"`
	RateLimit  float64       `mapstructure:"rate_limit"` // requests per second
	Burst      int           `mapstructure:"burst"`

	BreakerThreshold int           `mapstructure:"breaker_threshold"`
	BreakerCooldown  time.Duration `mapstructure:"breaker_cooldown"`
}

// ExchangeConfig holds the quote and trade constants.
type ExchangeConfig struct {
	FiatCurrency   string        `mapstructure:"fiat_currency"`
	CryptoCurrency string        `mapstructure:"crypto_currency"`
	QuoteTTL       time.Duration `mapstructure:"quote_ttl"`
	QuoteQATTL     time.Duration `mapstructure:"quote_qa_ttl"`
	TickerTTL      time.Duration `mapstructure:"ticker_ttl"`
	EstimateTTL    time.Duration `mapstructure:"estimate_ttl"`
	MinimumAmount  int64         `mapstructure:"minimum_amount"`
}

// WalletConfig holds the receive address pool.
type WalletConfig struct {
	LedgerPath       string   `mapstructure:"ledger_path"`
	ReceiveAddresses []string `mapstructure:"receive_addresses"`
}

// StoreConfig holds session persistence configuration.
type StoreConfig struct {
	Path string `mapstructure:"path"`
	Seal bool   `mapstructure:"seal"`
}

// LoggingConfig holds log output configuration.
type LoggingConfig struct {
	Level    string `mapstructure:"level"`
	Console  bool   `mapstructure:"console"`
	File     bool   `mapstructure:"file"`
	FilePath string `mapstructure:"file_path"`
}

// AccountConfig holds the account identity and secrets.
type AccountConfig struct {
	User            string `mapstructure:"user"`
	OfflineToken    string `mapstructure:"offline_token"`
	Email           string `mapstructure:"email"`
	EmailVerified   bool   `mapstructure:"email_verified"`
	WalletGUID      string `mapstructure:"wallet_guid"`
	SharedKey       string `mapstructure:"shared_key"`
	TokenURL        string `mapstructure:"token_url"`
	EmailToken      string `mapstructure:"email_token"`
	StorePassphrase string `mapstructure:"store_passphrase"`
}

type credentialsFile struct {
	Account AccountConfig `mapstructure:"account"`
}

// DefaultConfigDir returns the default configuration directory.
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".config/unocoin-client"
	}
	return filepath.Join(home, ".config", "unocoin-client")
}

// Load loads configuration from the specified directory.
// If configDir is empty, uses the default config directory.
func Load(configDir string) (*Config, error) {
	if configDir == "" {
		configDir = DefaultConfigDir()
	}

	cfg := &Config{Dir: configDir}

	// Load main config
	if err := loadConfigFile(configDir, "config", cfg); err != nil {
		return nil, fmt.Errorf("loading config.toml: %w", err)
	}

	// Load credentials
	if err := loadCredentials(configDir, &cfg.Account); err != nil {
		return nil, fmt.Errorf("loading credentials.toml: %w", err)
	}

	cfg.applyPathDefaults()

	// Apply environment variable overrides
	loadDotEnv(configDir)
	applyEnvOverrides(cfg)

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.production", false)
	v.SetDefault("api.timeout", 30*time.Second)
	v.SetDefault("api.rate_limit", 2.0)
	v.SetDefault("api.burst", 4)
	v.SetDefault("api.breaker_threshold", 5)
	v.SetDefault("api.breaker_cooldown", 30*time.Second)

	v.SetDefault("exchange.fiat_currency", string(models.INR))
	v.SetDefault("exchange.crypto_currency", string(models.BTC))
	v.SetDefault("exchange.quote_ttl", 15*time.Minute)
	v.SetDefault("exchange.quote_qa_ttl", 3*time.Second)
	v.SetDefault("exchange.ticker_ttl", 60*time.Second)
	v.SetDefault("exchange.estimate_ttl", time.Minute)
	v.SetDefault("exchange.minimum_amount", 1000)

	v.SetDefault("store.seal", false)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.console", true)
	v.SetDefault("logging.file", true)
}

func loadConfigFile(configDir, name string, target interface{}) error {
	v := viper.New()
	v.SetConfigName(name)
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, create template
			return createTemplateConfig(configDir, name)
		}
		return err
	}

	return v.Unmarshal(target)
}

func loadCredentials(configDir string, account *AccountConfig) error {
	v := viper.New()
	v.SetConfigName("credentials")
	v.SetConfigType("toml")
	v.AddConfigPath(configDir)
	v.SetDefault("account.token_url", "https://blockchain.info/wallet/signed-token")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return createTemplateCredentials(configDir)
		}
		return err
	}

	var creds credentialsFile
	if err := v.Unmarshal(&creds); err != nil {
		return err
	}
	*account = creds.Account
	return nil
}

func (c *Config) applyPathDefaults() {
	if c.Wallet.LedgerPath == "" {
		c.Wallet.LedgerPath = filepath.Join(c.Dir, "wallet.db")
	}
	if c.Store.Path == "" {
		c.Store.Path = filepath.Join(c.Dir, "unocoin.db")
	}
	if c.Logging.FilePath == "" {
		c.Logging.FilePath = logging.DefaultLogConfig().FilePath
	}
}

// loadDotEnv reads .env from the config directory and the working
// directory. Variables already set win.
func loadDotEnv(configDir string) {
	for _, path := range []string{filepath.Join(configDir, ".env"), ".env"} {
		if _, err := os.Stat(path); err == nil {
			_ = godotenv.Load(path)
		}
	}
}

func applyEnvOverrides(cfg *Config) {
	// Account credentials
	if v := os.Getenv("UNOCOIN_OFFLINE_TOKEN"); v != "" {
		cfg.Account.OfflineToken = v
	}
	if v := os.Getenv("UNOCOIN_EMAIL"); v != "" {
		cfg.Account.Email = v
	}
	if v := os.Getenv("UNOCOIN_WALLET_GUID"); v != "" {
		cfg.Account.WalletGUID = v
	}
	if v := os.Getenv("UNOCOIN_SHARED_KEY"); v != "" {
		cfg.Account.SharedKey = v
	}
	if v := os.Getenv("UNOCOIN_STORE_PASSPHRASE"); v != "" {
		cfg.Account.StorePassphrase = v
	}

	// Environment
	if v := os.Getenv("UNOCOIN_PRODUCTION"); v != "" {
		cfg.API.Production = v == "1" || strings.EqualFold(v, "true")
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	fiat := strings.TrimSpace(c.Exchange.FiatCurrency)
	crypto := strings.TrimSpace(c.Exchange.CryptoCurrency)
	if fiat == "" || crypto == "" {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "fiat_currency and crypto_currency are required")
	}
	if strings.EqualFold(fiat, crypto) {
		return apperrors.Wrapf(apperrors.ErrConfigInvalid, "fiat and crypto currency are both %s", fiat)
	}

	if c.Exchange.QuoteTTL <= 0 || c.Exchange.QuoteQATTL <= 0 || c.Exchange.TickerTTL <= 0 || c.Exchange.EstimateTTL <= 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "exchange durations must be positive")
	}
	if c.Exchange.MinimumAmount <= 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "minimum_amount must be positive")
	}

	if c.API.Timeout <= 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "api timeout must be positive")
	}
	if c.API.RateLimit < 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "rate_limit must be non-negative")
	}
	if c.API.BreakerThreshold < 0 || c.API.BreakerCooldown < 0 {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "breaker settings must be non-negative")
	}

	if c.Store.Seal && c.Account.StorePassphrase == "" {
		return apperrors.Wrap(apperrors.ErrConfigInvalid, "store.seal requires a store passphrase")
	}

	return nil
}

// ExchangeSettings converts the exchange section.
func (c *Config) ExchangeSettings() exchange.Settings {
	s := exchange.DefaultSettings()
	s.Fiat = models.Currency(strings.ToUpper(c.Exchange.FiatCurrency))
	s.Crypto = models.Currency(strings.ToUpper(c.Exchange.CryptoCurrency))
	s.QuoteTTL = c.Exchange.QuoteTTL
	s.QuoteQATTL = c.Exchange.QuoteQATTL
	s.TickerTTL = c.Exchange.TickerTTL
	s.EstimateTTL = c.Exchange.EstimateTTL
	s.MinimumAmount = c.Exchange.MinimumAmount
	return s
}

// APIClientConfig converts the api section.
func (c *Config) APIClientConfig() api.Config {
	return api.Config{
		Production: c.API.Production,
		BaseURL:    c.API.BaseURL,
		Timeout:    c.API.Timeout,
		RateLimit:  c.API.RateLimit,
		Burst:      c.API.Burst,

		BreakerThreshold: c.API.BreakerThreshold,
		BreakerCooldown:  c.API.BreakerCooldown,
	}
}

// LogConfig converts the logging section.
func (c *Config) LogConfig() logging.LogConfig {
	lc := logging.DefaultLogConfig()
	lc.Level = c.Logging.Level
	lc.Console = c.Logging.Console
	lc.File = c.Logging.File
	if c.Logging.FilePath != "" {
		lc.FilePath = c.Logging.FilePath
	}
	return lc
}

// IsProduction returns true when talking to the live exchange.
func (c *Config) IsProduction() bool {
	return c.API.Production
}
