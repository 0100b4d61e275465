package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/logging"
	"unocoin-client/internal/models"
)

// PartnerName identifies this exchange when asking the wallet for a token.
const PartnerName = "unocoin"

// Session is the account on the exchange: credentials, the trade list and
// the cached profile and ticker. It is the unit the delegate persists.
type Session struct {
	api      API
	delegate Delegate
	settings Settings
	logger   zerolog.Logger
	ticker   *TickerCache

	mu           sync.Mutex
	user         string
	offlineToken string
	autoLogin    bool
	trades       []*Trade
	profile      *Profile
}

type sessionSnapshot struct {
	User         string            `json:"user,omitempty"`
	OfflineToken string            `json:"offline_token,omitempty"`
	AutoLogin    bool              `json:"auto_login"`
	Trades       []json.RawMessage `json:"trades"`
}

// NewSession starts a session for an account that has not signed up yet.
func NewSession(api API, delegate Delegate, settings Settings, logger zerolog.Logger) (*Session, error) {
	if delegate == nil {
		return nil, apperrors.NewValidationError("delegate", nil, "delegate required")
	}
	if api == nil {
		return nil, apperrors.NewValidationError("api", nil, "api required")
	}
	s := &Session{
		api:       api,
		delegate:  delegate,
		settings:  settings,
		logger:    logger.With().Str("exchange", PartnerName).Logger(),
		autoLogin: true,
	}
	s.ticker = NewTickerCache(settings.TickerTTL, func(ctx context.Context) (models.Ticker, error) {
		return fetchRates(ctx, s.api, s.settings.now)
	})
	return s, nil
}

// SessionFromJSON restores a session saved with MarshalJSON. Trades are
// rebuilt from their snapshots without contacting the exchange.
func SessionFromJSON(data []byte, api API, delegate Delegate, settings Settings, logger zerolog.Logger) (*Session, error) {
	s, err := NewSession(api, delegate, settings, logger)
	if err != nil {
		return nil, err
	}
	var snap sessionSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, apperrors.Wrap(err, "decoding session")
	}
	s.user = snap.User
	s.offlineToken = snap.OfflineToken
	s.autoLogin = snap.AutoLogin
	if s.offlineToken != "" {
		api.SetOfflineToken(s.offlineToken)
	}

	deps := s.deps()
	for _, raw := range snap.Trades {
		t, err := NewTrade(raw, deps)
		if err != nil {
			return nil, apperrors.Wrap(err, "restoring trade")
		}
		s.trades = append(s.trades, t)
	}
	return s, nil
}

// MarshalJSON writes the persisted form. Only trades still worth tracking
// are kept.
func (s *Session) MarshalJSON() ([]byte, error) {
	s.mu.Lock()
	snap := sessionSnapshot{
		User:         s.user,
		OfflineToken: s.offlineToken,
		AutoLogin:    s.autoLogin,
	}
	trades := append([]*Trade(nil), s.trades...)
	s.mu.Unlock()

	snap.Trades = []json.RawMessage{}
	for _, t := range FilteredTrades(trades) {
		b, err := t.MarshalJSON()
		if err != nil {
			return nil, err
		}
		snap.Trades = append(snap.Trades, b)
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(snap); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

func (s *Session) deps() TradeDeps {
	return TradeDeps{
		API:      s.api,
		Delegate: s.delegate,
		Ticker:   s.ticker,
		Settings: s.settings,
		Logger:   s.logger,
	}
}

func (s *Session) User() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.user
}

func (s *Session) AutoLogin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.autoLogin
}

// HasAccount reports whether an offline token is present.
func (s *Session) HasAccount() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.offlineToken != ""
}

func (s *Session) Settings() Settings { return s.settings }

// BuyCurrencies are the fiat currencies accepted for buying.
func (s *Session) BuyCurrencies() []models.Currency {
	return []models.Currency{s.settings.Fiat}
}

// SellCurrencies are the fiat currencies paid out when selling.
func (s *Session) SellCurrencies() []models.Currency {
	return []models.Currency{s.settings.Fiat}
}

// Trades returns the trades known to the session.
func (s *Session) Trades() []*Trade {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*Trade(nil), s.trades...)
}

// Trade looks up a known trade by id.
func (s *Session) Trade(id int64) (*Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.trades {
		if t.ID() == id {
			return t, nil
		}
	}
	return nil, apperrors.Wrapf(apperrors.ErrTradeNotFound, "trade %d", id)
}

// Profile returns the cached profile, or nil before FetchProfile.
func (s *Session) Profile() *Profile {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.profile
}

type signupResponse struct {
	envelope
	AccessToken string `json:"access_token"`
}

// Signup registers the delegate's verified email and stores the returned
// offline token.
func (s *Session) Signup(ctx context.Context) error {
	email := s.delegate.Email()
	if email == "" {
		return apperrors.ErrEmailRequired
	}
	if !s.delegate.IsEmailVerified() {
		return apperrors.ErrEmailNotVerified
	}

	token, err := s.delegate.GetToken(ctx, PartnerName, TokenOptions{WalletAge: true})
	if err != nil {
		return apperrors.Wrap(err, "getting email token")
	}
	if token == "" {
		return apperrors.NewValidationError("token", "", "email token missing")
	}
	if err := checkTokenExpiry(token, s.settings.now()); err != nil {
		return err
	}

	raw, err := s.api.POST(ctx, endpointRegister, map[string]any{"email_id": email}, map[string]string{
		"Authorization": "Bearer " + token,
	})
	if err != nil {
		return err
	}
	var res signupResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return apperrors.Wrap(err, "decoding signup response")
	}
	switch res.StatusCode {
	case statusOK:
	case statusAlreadyInUse:
		return apperrors.Wrap(apperrors.ErrAlreadyRegistered, res.Message)
	default:
		return apperrors.NewVendorError(res.StatusCode, res.Message)
	}
	if res.AccessToken == "" {
		return apperrors.NewValidationError("access_token", "", "missing from signup response")
	}

	s.mu.Lock()
	s.user = email
	s.offlineToken = res.AccessToken
	s.mu.Unlock()
	s.api.SetOfflineToken(res.AccessToken)
	l := logging.WithOperation(s.logger, "signup")
	l.Info().Str("user", email).Msg("Signed up")

	return s.delegate.Save(ctx)
}

// checkTokenExpiry rejects a JWT whose exp claim has passed. Tokens that do
// not parse as JWTs are left for the exchange to judge.
func checkTokenExpiry(token string, now time.Time) error {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return nil
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return nil
	}
	if !now.Before(exp.Time) {
		return apperrors.Wrapf(apperrors.ErrTokenExpired, "expired at %s", exp.Time.Format(time.RFC3339))
	}
	return nil
}

// FetchProfile loads and caches the account profile.
func (s *Session) FetchProfile(ctx context.Context) (*Profile, error) {
	p, err := FetchProfile(ctx, s.api, s.logger)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.profile = p
	s.mu.Unlock()
	return p, nil
}

func (s *Session) profileOrFetch(ctx context.Context) (*Profile, error) {
	if p := s.Profile(); p != nil {
		return p, nil
	}
	return s.FetchProfile(ctx)
}

// Ticker returns the current rate card, fetching it when older than the
// ticker lifetime.
func (s *Session) Ticker(ctx context.Context) (models.Ticker, error) {
	return s.ticker.Get(ctx)
}

// GetBuyQuote prices amount of base in quote at the current buy price.
func (s *Session) GetBuyQuote(ctx context.Context, amount int64, base, quote models.Currency) (*Quote, error) {
	tk, err := s.Ticker(ctx)
	if err != nil {
		return nil, err
	}
	q, err := NewQuote(tk, amount, base, quote, s.settings)
	if err != nil {
		return nil, err
	}
	q.session = s
	return q, nil
}

// ExchangeRate returns the price of one unit of base in quote.
func (s *Session) ExchangeRate(ctx context.Context, base, quote models.Currency) (float64, error) {
	if base == "" {
		return 0, apperrors.NewValidationError("base", base, "base currency required")
	}
	if quote == "" {
		return 0, apperrors.NewValidationError("quote", quote, "quote currency required")
	}
	if !s.settings.supports(base) || !s.settings.supports(quote) {
		return 0, apperrors.Wrapf(apperrors.ErrUnsupportedCurrency, "%s/%s", base, quote)
	}
	if base == quote {
		return 1, nil
	}
	tk, err := s.Ticker(ctx)
	if err != nil {
		return 0, err
	}
	if base == s.settings.Crypto {
		return tk.Buy.Price, nil
	}
	return 1 / tk.Buy.Price, nil
}

// GetTrades reloads the trade list from the exchange, merging it into the
// trades already known, and saves.
func (s *Session) GetTrades(ctx context.Context) ([]*Trade, error) {
	if !s.HasAccount() {
		return nil, apperrors.ErrNotLoggedIn
	}
	// Estimates for trades without a btc amount need a price.
	if _, err := s.Ticker(ctx); err != nil {
		return nil, err
	}

	raw, err := s.api.AuthGET(ctx, endpointTrades, nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeTradeList(raw)
	if err != nil {
		return nil, err
	}

	deps := s.deps()
	for _, item := range items {
		id, ok := peekTradeID(item)
		if !ok {
			s.logger.Warn().RawJSON("trade", item).Msg("Skipping trade without id")
			continue
		}
		if t, err := s.Trade(id); err == nil {
			if err := t.SetFromAPI(item); err != nil {
				return nil, err
			}
			continue
		}
		t, err := NewTradeFromAPI(item, deps, true)
		if err != nil {
			return nil, err
		}
		s.mu.Lock()
		s.trades = append(s.trades, t)
		s.mu.Unlock()
	}

	trades := s.Trades()
	for _, t := range trades {
		t.Process()
	}
	if err := s.delegate.Save(ctx); err != nil {
		return nil, apperrors.Wrap(err, "saving trades")
	}
	return trades, nil
}

// buy creates a trade for q and keeps it in the session.
func (s *Session) buy(ctx context.Context, q *Quote, medium string) (*Trade, error) {
	if !s.HasAccount() {
		return nil, apperrors.ErrNotLoggedIn
	}
	t, err := BuyTrade(ctx, q, medium, s.deps())
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	s.trades = append(s.trades, t)
	s.mu.Unlock()

	if err := s.delegate.Save(ctx); err != nil {
		return nil, apperrors.Wrap(err, "saving trade")
	}
	return t, nil
}

// MonitorPayments watches the receive address of every unconfirmed buy
// still waiting for coins. Call it once after restoring a session.
func (s *Session) MonitorPayments() int {
	n := 0
	for _, t := range s.Trades() {
		if !t.IsBuy() || t.Confirmed() || t.State().ReleasesAddress() {
			continue
		}
		if t.ReceiveAddress() == "" {
			continue
		}
		t.monitorAddress()
		n++
	}
	return n
}
