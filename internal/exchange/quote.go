package exchange

import (
	"context"
	"time"

	"github.com/google/uuid"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/models"
)

// Quote is a client-side, time-boxed offer. The exchange has no quote
// concept; a quote wraps the current buy price.
//
// Amounts are in the smallest unit of their currency: satoshi for BTC and
// whole rupees for INR. Negative amounts leave the buyer.
type Quote struct {
	id            string
	baseAmount    int64
	baseCurrency  models.Currency
	quoteAmount   int64
	quoteCurrency models.Currency
	feeAmount     int64
	feeCurrency   models.Currency
	expiresAt     time.Time

	settings Settings
	session  *Session
}

// NewQuote prices amount of base in quote currency using the ticker's buy
// price.
func NewQuote(ticker models.Ticker, amount int64, base, quote models.Currency, settings Settings) (*Quote, error) {
	if !settings.supports(base) {
		return nil, apperrors.Wrapf(apperrors.ErrUnsupportedCurrency, "base %s", base)
	}
	if !settings.supports(quote) {
		return nil, apperrors.Wrapf(apperrors.ErrUnsupportedCurrency, "quote %s", quote)
	}
	if base == quote {
		return nil, apperrors.Wrapf(apperrors.ErrUnsupportedCurrency, "%s to itself", base)
	}

	price := ticker.Buy.Price
	if price <= 0 {
		return nil, apperrors.NewValidationError("price", price, "price must be positive")
	}

	// Fee per BTC implied by the percentage fee and the tax levied on it.
	beforeFees := price / (1.0 + (ticker.Buy.Fee+ticker.Buy.Tax/100.0)/100.0)
	fee := price - beforeFees

	q := &Quote{
		id:            uuid.New().String(),
		baseAmount:    amount,
		baseCurrency:  base,
		quoteCurrency: quote,
		feeAmount:     -round(fee),
		expiresAt:     settings.now().Add(settings.QuoteTTL),
		settings:      settings,
	}

	if base == settings.Fiat {
		q.quoteAmount = round(-float64(amount) * models.SatoshiPerBTC / price)
		q.feeCurrency = settings.Crypto
	} else {
		q.quoteAmount = round(-float64(amount) * price / models.SatoshiPerBTC)
		q.feeCurrency = settings.Fiat
	}
	return q, nil
}

func (q *Quote) ID() string                     { return q.id }
func (q *Quote) BaseAmount() int64              { return q.baseAmount }
func (q *Quote) BaseCurrency() models.Currency  { return q.baseCurrency }
func (q *Quote) QuoteAmount() int64             { return q.quoteAmount }
func (q *Quote) QuoteCurrency() models.Currency { return q.quoteCurrency }
func (q *Quote) FeeAmount() int64               { return q.feeAmount }
func (q *Quote) FeeCurrency() models.Currency   { return q.feeCurrency }
func (q *Quote) ExpiresAt() time.Time           { return q.expiresAt }

// Expired reports whether the quote can no longer be bought.
func (q *Quote) Expired() bool {
	return !q.settings.now().Before(q.expiresAt)
}

// Expire shortens the quote's life so expiry handling can be exercised.
func (q *Quote) Expire() {
	q.expiresAt = q.settings.now().Add(q.settings.QuoteQATTL)
}

// FiatAmount is the fiat leg of the quote, whichever side it is on.
func (q *Quote) FiatAmount() int64 {
	if q.baseCurrency == q.settings.Fiat {
		return q.baseAmount
	}
	return q.quoteAmount
}

// CryptoAmount is the crypto leg of the quote in satoshi.
func (q *Quote) CryptoAmount() int64 {
	if q.baseCurrency == q.settings.Crypto {
		return q.baseAmount
	}
	return q.quoteAmount
}

// PaymentMediums lists the ways this quote can be paid for.
func (q *Quote) PaymentMediums(ctx context.Context) (map[string]*PaymentMedium, error) {
	if q.session == nil {
		return nil, apperrors.New("quote is not attached to a session")
	}
	return PaymentMediums(ctx, q.session, q.settings.Fiat, q.settings.Crypto, q)
}
