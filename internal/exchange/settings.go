package exchange

import (
	"time"

	"unocoin-client/internal/models"
)

// Settings are the per-exchange constants: currency pair, lifetimes and
// the minimum order.
type Settings struct {
	Fiat          models.Currency
	Crypto        models.Currency
	QuoteTTL      time.Duration
	QuoteQATTL    time.Duration
	TickerTTL     time.Duration
	EstimateTTL   time.Duration
	MinimumAmount int64 // in whole fiat units

	// Now is the wall clock; tests replace it.
	Now func() time.Time
}

// DefaultSettings returns the INR/BTC settings.
func DefaultSettings() Settings {
	return Settings{
		Fiat:          models.INR,
		Crypto:        models.BTC,
		QuoteTTL:      15 * time.Minute,
		QuoteQATTL:    3 * time.Second,
		TickerTTL:     60 * time.Second,
		EstimateTTL:   time.Minute,
		MinimumAmount: 1000,
		Now:           time.Now,
	}
}

func (s Settings) now() time.Time {
	if s.Now == nil {
		return time.Now()
	}
	return s.Now()
}

func (s Settings) supports(c models.Currency) bool {
	return c == s.Fiat || c == s.Crypto
}
