package exchange

import (
	"context"
	"math"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/models"
)

func TestNewQuote_BTCBase(t *testing.T) {
	settings := testSettings(newTestClock())

	q, err := NewQuote(testTicker(150000), -100000000, models.BTC, models.INR, settings)
	require.NoError(t, err)
	assert.Equal(t, int64(150000), q.QuoteAmount())
	assert.Equal(t, models.INR, q.QuoteCurrency())
	assert.Equal(t, models.INR, q.FeeCurrency())
	assert.Equal(t, int64(150000), q.FiatAmount())
	assert.Equal(t, int64(-100000000), q.CryptoAmount())
	assert.NotEmpty(t, q.ID())
}

func TestNewQuote_FiatBase(t *testing.T) {
	settings := testSettings(newTestClock())

	q, err := NewQuote(testTicker(150000), -150000, models.INR, models.BTC, settings)
	require.NoError(t, err)
	assert.Equal(t, int64(100000000), q.QuoteAmount())
	assert.Equal(t, models.BTC, q.FeeCurrency())
	assert.Equal(t, int64(-150000), q.FiatAmount())
	assert.Equal(t, int64(100000000), q.CryptoAmount())
}

func TestNewQuote_Fee(t *testing.T) {
	settings := testSettings(newTestClock())
	tk := models.Ticker{Buy: models.PriceSide{Price: 100000, Fee: 1, Tax: 18}}

	q, err := NewQuote(tk, -5000, models.INR, models.BTC, settings)
	require.NoError(t, err)
	// 100000 - 100000/1.0118
	assert.Equal(t, int64(-1166), q.FeeAmount())
}

func TestNewQuote_Rejects(t *testing.T) {
	settings := testSettings(newTestClock())

	_, err := NewQuote(testTicker(150000), -100, "USD", models.BTC, settings)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedCurrency)

	_, err = NewQuote(testTicker(150000), -100, models.INR, "EUR", settings)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedCurrency)

	_, err = NewQuote(testTicker(150000), -100, models.INR, models.INR, settings)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedCurrency)

	_, err = NewQuote(testTicker(0), -100, models.INR, models.BTC, settings)
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestQuote_Expiry(t *testing.T) {
	clock := newTestClock()
	settings := testSettings(clock)

	q, err := NewQuote(testTicker(150000), -5000, models.INR, models.BTC, settings)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(settings.QuoteTTL), q.ExpiresAt())
	assert.False(t, q.Expired())

	q.Expire()
	assert.False(t, q.Expired())
	clock.Advance(settings.QuoteQATTL)
	assert.True(t, q.Expired())
}

func TestQuote_PaymentMediumsNeedsSession(t *testing.T) {
	q, err := NewQuote(testTicker(150000), -5000, models.INR, models.BTC, testSettings(newTestClock()))
	require.NoError(t, err)
	_, err = q.PaymentMediums(context.Background())
	assert.Error(t, err)
}

// TestProperty_QuoteConversion checks a fiat-based quote converts at the
// buy price to within half a satoshi, and that the two legs carry opposite
// signs.
func TestProperty_QuoteConversion(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)
	settings := testSettings(newTestClock())

	properties.Property("fiat amount converts at the buy price", prop.ForAll(
		func(amount int64, price float64) bool {
			q, err := NewQuote(testTicker(price), -amount, models.INR, models.BTC, settings)
			if err != nil {
				t.Logf("NewQuote(%d, %f): %v", amount, price, err)
				return false
			}
			exact := float64(amount) * models.SatoshiPerBTC / price
			return math.Abs(float64(q.QuoteAmount())-exact) <= 0.5 && q.FiatAmount() < 0 && q.CryptoAmount() >= 0
		},
		gen.Int64Range(1, 10000000),
		gen.Float64Range(1e5, 5e6),
	))

	properties.Property("crypto amount converts at the buy price", prop.ForAll(
		func(sats int64, price float64) bool {
			q, err := NewQuote(testTicker(price), -sats, models.BTC, models.INR, settings)
			if err != nil {
				return false
			}
			exact := float64(sats) * price / models.SatoshiPerBTC
			return math.Abs(float64(q.QuoteAmount())-exact) <= 0.5 && q.CryptoAmount() < 0
		},
		gen.Int64Range(1, 2100000000000000),
		gen.Float64Range(1e5, 5e6),
	))

	properties.TestingRun(t)
}
