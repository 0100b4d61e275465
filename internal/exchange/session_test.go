package exchange

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/models"
)

func newTestSession(t *testing.T, api *fakeAPI, delegate *fakeDelegate, clock *testClock) *Session {
	t.Helper()
	s, err := NewSession(api, delegate, testSettings(clock), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestNewSession_RequiresCollaborators(t *testing.T) {
	_, err := NewSession(newFakeAPI(), nil, DefaultSettings(), zerolog.Nop())
	assert.Error(t, err)
	_, err = NewSession(nil, newFakeDelegate(), DefaultSettings(), zerolog.Nop())
	assert.Error(t, err)

	s, err := NewSession(newFakeAPI(), newFakeDelegate(), DefaultSettings(), zerolog.Nop())
	require.NoError(t, err)
	assert.False(t, s.HasAccount())
	assert.True(t, s.AutoLogin())
	assert.Equal(t, []models.Currency{models.INR}, s.BuyCurrencies())
	assert.Equal(t, []models.Currency{models.INR}, s.SellCurrencies())
}

func TestSignup(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.on("POST", endpointRegister, `{"status_code":200,"message":"Registered","access_token":"offline-123"}`)
	s := newTestSession(t, api, delegate, newTestClock())

	require.NoError(t, s.Signup(context.Background()))
	assert.True(t, s.HasAccount())
	assert.Equal(t, "buyer@example.com", s.User())
	assert.True(t, api.IsLoggedIn())
	assert.Equal(t, 1, delegate.saveCount())

	calls := api.callsTo(endpointRegister)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"email_id": "buyer@example.com"}, calls[0].Data)
	assert.Equal(t, "Bearer email-token", calls[0].Headers["Authorization"])
}

func TestSignup_AlreadyRegistered(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.on("POST", endpointRegister, `{"status_code":724,"message":"Email already in use"}`)
	s := newTestSession(t, api, delegate, newTestClock())

	err := s.Signup(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyRegistered)
	assert.False(t, s.HasAccount())
	assert.Zero(t, delegate.saveCount())
}

func TestSignup_VendorErrorAndMissingToken(t *testing.T) {
	api := newFakeAPI()
	api.on("POST", endpointRegister, `{"status_code":500,"message":"Try again later"}`)
	s := newTestSession(t, api, newFakeDelegate(), newTestClock())

	err := s.Signup(context.Background())
	var vendorErr *apperrors.VendorError
	require.ErrorAs(t, err, &vendorErr)
	assert.Equal(t, 500, vendorErr.Code)

	api.on("POST", endpointRegister, `{"status_code":200}`)
	err = s.Signup(context.Background())
	var validation *apperrors.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Equal(t, "access_token", validation.Field)
	assert.False(t, s.HasAccount())
}

func TestSignup_EmailPreconditions(t *testing.T) {
	api := newFakeAPI()

	noEmail := newFakeDelegate()
	noEmail.email = ""
	err := newTestSession(t, api, noEmail, newTestClock()).Signup(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrEmailRequired)

	unverified := newFakeDelegate()
	unverified.verified = false
	err = newTestSession(t, api, unverified, newTestClock()).Signup(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrEmailNotVerified)

	noToken := newFakeDelegate()
	noToken.token = ""
	err = newTestSession(t, api, noToken, newTestClock()).Signup(context.Background())
	assert.Error(t, err)

	assert.Empty(t, api.callsTo(endpointRegister))
}

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"email": "buyer@example.com",
		"exp":   exp.Unix(),
	}).SignedString([]byte("wallet-secret"))
	require.NoError(t, err)
	return token
}

func TestSignup_TokenExpiry(t *testing.T) {
	clock := newTestClock()
	api := newFakeAPI()
	api.on("POST", endpointRegister, `{"status_code":200,"access_token":"offline-123"}`)

	expired := newFakeDelegate()
	expired.token = signedToken(t, clock.Now().Add(-time.Minute))
	err := newTestSession(t, api, expired, clock).Signup(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrTokenExpired)
	assert.Empty(t, api.callsTo(endpointRegister))

	fresh := newFakeDelegate()
	fresh.token = signedToken(t, clock.Now().Add(time.Hour))
	s := newTestSession(t, api, fresh, clock)
	require.NoError(t, s.Signup(context.Background()))
	assert.True(t, s.HasAccount())
}

func TestSession_JSONRoundTrip(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	cancelled := `{"id":9,"state":"cancelled","tx_hash":null,"confirmed":false,"is_buy":true}`
	s := loggedInSession(t, api, delegate, newTestClock(), pendingSnapshot, cancelled)

	assert.True(t, api.IsLoggedIn())
	assert.Len(t, s.Trades(), 2)

	out, err := s.MarshalJSON()
	require.NoError(t, err)
	want := `{"user":"buyer@example.com","offline_token":"offline","auto_login":true,"trades":[` + pendingSnapshot + `]}`
	assert.Equal(t, want, string(out))

	restored, err := SessionFromJSON(out, newFakeAPI(), delegate, DefaultSettings(), zerolog.Nop())
	require.NoError(t, err)
	again, err := restored.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, want, string(again))
}

func TestSessionFromJSON_Invalid(t *testing.T) {
	_, err := SessionFromJSON([]byte(`{"trades":[{"state":"completed"}]}`), newFakeAPI(), newFakeDelegate(), DefaultSettings(), zerolog.Nop())
	assert.ErrorIs(t, err, apperrors.ErrInvalidTrade)

	_, err = SessionFromJSON([]byte(`[`), newFakeAPI(), newFakeDelegate(), DefaultSettings(), zerolog.Nop())
	assert.Error(t, err)
}

func TestSession_Trade(t *testing.T) {
	s := loggedInSession(t, newFakeAPI(), newFakeDelegate(), newTestClock(), pendingSnapshot)

	tr, err := s.Trade(1142)
	require.NoError(t, err)
	assert.Equal(t, int64(1142), tr.ID())

	_, err = s.Trade(1)
	assert.ErrorIs(t, err, apperrors.ErrTradeNotFound)
}

func TestGetTrades(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.on("POST", endpointRates, ratesResponse)
	api.on("AUTH GET", endpointTrades, `{"status_code":200,"transactions":[
		{"order_id":"1142","status":"Pending","reference_number":"UTR77","inr":"5000","time":1496300000},
		{"order_id":"2000","status":"Completed","inr":"3000","btc":"0.02","time":1496300000},
		{"status":"Pending"}
	]}`)
	s := loggedInSession(t, api, delegate, newTestClock(), pendingSnapshot)
	existing, err := s.Trade(1142)
	require.NoError(t, err)

	trades, err := s.GetTrades(context.Background())
	require.NoError(t, err)
	require.Len(t, trades, 2)
	assert.Same(t, existing, trades[0])
	assert.Equal(t, models.StateAwaitingTransferIn, existing.State())

	added, err := s.Trade(2000)
	require.NoError(t, err)
	assert.True(t, added.IsBuy())
	assert.Equal(t, models.StateCompleted, added.State())
	assert.Equal(t, int64(2000000), added.OutAmount())
	assert.Equal(t, 1, delegate.saveCount())
}

func TestGetTrades_NotLoggedIn(t *testing.T) {
	api := newFakeAPI()
	s := newTestSession(t, api, newFakeDelegate(), newTestClock())

	_, err := s.GetTrades(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrNotLoggedIn)
	assert.Empty(t, api.callsTo(endpointTrades))
}

func TestGetTrades_VendorError(t *testing.T) {
	api := newFakeAPI()
	api.on("POST", endpointRates, ratesResponse)
	api.on("AUTH GET", endpointTrades, `{"status_code":401,"message":"Session expired"}`)
	s := loggedInSession(t, api, newFakeDelegate(), newTestClock())

	_, err := s.GetTrades(context.Background())
	assert.EqualError(t, err, "Session expired")
}

func TestExchangeRate(t *testing.T) {
	api := newFakeAPI()
	api.on("POST", endpointRates, ratesResponse)
	s := newTestSession(t, api, newFakeDelegate(), newTestClock())
	ctx := context.Background()

	rate, err := s.ExchangeRate(ctx, models.BTC, models.INR)
	require.NoError(t, err)
	assert.Equal(t, 150000.0, rate)

	rate, err = s.ExchangeRate(ctx, models.INR, models.BTC)
	require.NoError(t, err)
	assert.InDelta(t, 1.0/150000, rate, 1e-15)

	rate, err = s.ExchangeRate(ctx, models.INR, models.INR)
	require.NoError(t, err)
	assert.Equal(t, 1.0, rate)

	_, err = s.ExchangeRate(ctx, "USD", models.INR)
	assert.ErrorIs(t, err, apperrors.ErrUnsupportedCurrency)

	_, err = s.ExchangeRate(ctx, "", models.INR)
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)

	// Both lookups shared one rate card.
	assert.Len(t, api.callsTo(endpointRates), 1)
}

func TestGetBuyQuote(t *testing.T) {
	api := newFakeAPI()
	api.on("POST", endpointRates, `{"buy":"0"}`)
	s := newTestSession(t, api, newFakeDelegate(), newTestClock())

	_, err := s.GetBuyQuote(context.Background(), -5000, models.INR, models.BTC)
	var validation *apperrors.ValidationError
	assert.ErrorAs(t, err, &validation)
}

func TestMonitorPayments(t *testing.T) {
	delegate := newFakeDelegate()
	s := loggedInSession(t, newFakeAPI(), delegate, newTestClock(),
		`{"id":1,"state":"awaiting_transfer_in","is_buy":true,"receive_address":"1Waiting"}`,
		`{"id":2,"state":"cancelled","is_buy":true,"receive_address":"1Cancelled"}`,
		`{"id":3,"state":"completed","tx_hash":"ab","confirmed":true,"is_buy":true,"receive_address":"1Paid"}`,
		`{"id":4,"state":"awaiting_reference_number","is_buy":true}`,
	)

	assert.Equal(t, 1, s.MonitorPayments())
	callback := delegate.monitor("1Waiting")
	require.NotNil(t, callback)
	assert.Nil(t, delegate.monitor("1Cancelled"))
	assert.Nil(t, delegate.monitor("1Paid"))

	callback("cafe")
	tr, err := s.Trade(1)
	require.NoError(t, err)
	assert.True(t, tr.Confirmed())
	assert.Equal(t, "cafe", tr.TxHash())
}
