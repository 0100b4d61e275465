package exchange

import (
	"context"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/models"
)

// PaymentMedium is a funding rail a quote can be executed through. The
// exchange only offers bank transfer.
type PaymentMedium struct {
	session *Session
	quote   *Quote
	profile *Profile

	inMedium      string
	outMedium     string
	inCurrencies  []models.Currency
	outCurrencies []models.Currency
	inCurrency    models.Currency
	outCurrency   models.Currency

	inFixedFee       int64
	outFixedFee      int64
	inPercentageFee  float64
	outPercentageFee float64

	fee   int64
	total int64

	minimum       int64
	limitInAmount int64
}

// PaymentMediums returns the mediums for buying out with in, keyed by
// medium name. It resolves the session profile to read the remaining buy
// allowance; exceeding it, or an incomplete profile, is reported by Buy.
func PaymentMediums(ctx context.Context, s *Session, in, out models.Currency, q *Quote) (map[string]*PaymentMedium, error) {
	if q == nil {
		return nil, apperrors.NewValidationError("quote", nil, "quote required")
	}
	if !s.settings.supports(in) || !s.settings.supports(out) || in == out {
		return nil, apperrors.Wrapf(apperrors.ErrUnsupportedCurrency, "%s to %s", in, out)
	}

	profile, err := s.profileOrFetch(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "resolving profile limits")
	}

	bank := newBankMedium(s, q)
	bank.profile = profile
	bank.limitInAmount = profile.Limits().BuyRemaining
	return map[string]*PaymentMedium{models.MediumBank: bank}, nil
}

func newBankMedium(s *Session, q *Quote) *PaymentMedium {
	fiat, crypto := s.settings.Fiat, s.settings.Crypto
	m := &PaymentMedium{
		session:       s,
		quote:         q,
		inMedium:      models.MediumBank,
		outMedium:     models.MediumBlockchain,
		inCurrencies:  []models.Currency{fiat, crypto},
		outCurrencies: []models.Currency{crypto, fiat},
		inCurrency:    fiat,
		outCurrency:   crypto,
		minimum:       s.settings.MinimumAmount,
	}
	if q != nil {
		m.fee = 0
		m.total = -q.BaseAmount()
	}
	return m
}

func (m *PaymentMedium) InMedium() string                 { return m.inMedium }
func (m *PaymentMedium) OutMedium() string                { return m.outMedium }
func (m *PaymentMedium) InCurrency() models.Currency      { return m.inCurrency }
func (m *PaymentMedium) OutCurrency() models.Currency     { return m.outCurrency }
func (m *PaymentMedium) InCurrencies() []models.Currency  { return m.inCurrencies }
func (m *PaymentMedium) OutCurrencies() []models.Currency { return m.outCurrencies }
func (m *PaymentMedium) InFixedFee() int64                { return m.inFixedFee }
func (m *PaymentMedium) OutFixedFee() int64               { return m.outFixedFee }
func (m *PaymentMedium) InPercentageFee() float64         { return m.inPercentageFee }
func (m *PaymentMedium) OutPercentageFee() float64        { return m.outPercentageFee }
func (m *PaymentMedium) Fee() int64                       { return m.fee }
func (m *PaymentMedium) Total() int64                     { return m.total }
func (m *PaymentMedium) Minimum() int64                   { return m.minimum }
func (m *PaymentMedium) LimitInAmount() int64             { return m.limitInAmount }
func (m *PaymentMedium) Quote() *Quote                    { return m.quote }

// CheckMinimum reports whether the quote's fiat amount reaches the minimum
// transaction size.
func (m *PaymentMedium) CheckMinimum() bool {
	return abs(m.quote.FiatAmount()) >= m.minimum
}

// CheckLimit reports whether the fiat amount fits the remaining allowance.
// An unknown (zero) allowance passes.
func (m *PaymentMedium) CheckLimit() bool {
	return m.limitInAmount <= 0 || abs(m.quote.FiatAmount()) <= m.limitInAmount
}

// Buy creates a trade for the quote. The profile and amount checks run
// before any request.
func (m *PaymentMedium) Buy(ctx context.Context) (*Trade, error) {
	if m.quote == nil {
		return nil, apperrors.NewValidationError("quote", nil, "quote required")
	}
	if m.profile == nil || !m.profile.Complete() {
		return nil, apperrors.Wrap(apperrors.ErrProfileIncomplete, "complete verification before buying")
	}
	if !m.CheckMinimum() {
		return nil, apperrors.Wrapf(apperrors.ErrBelowMinimum, "%d %s < %d", abs(m.quote.FiatAmount()), m.inCurrency, m.minimum)
	}
	if !m.CheckLimit() {
		return nil, apperrors.Wrapf(apperrors.ErrAboveLimit, "%d %s > %d", abs(m.quote.FiatAmount()), m.inCurrency, m.limitInAmount)
	}
	return m.session.buy(ctx, m.quote, m.inMedium)
}
