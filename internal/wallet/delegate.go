// Package wallet is a file-backed wallet that serves as the exchange
// delegate: it hands out receive addresses, fetches email tokens and
// persists the exchange session.
package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/exchange"
	"unocoin-client/internal/store"
	"unocoin-client/pkg/utils"
)

// Extra field keys stored alongside each trade.
const (
	fieldAccountIndex = "account_index"
	fieldReceiveIndex = "receive_index"
)

// Session is what the delegate persists.
type Session interface {
	json.Marshaler
	Trades() []*exchange.Trade
}

// Config identifies the wallet.
type Config struct {
	Email         string
	EmailVerified bool
	GUID          string
	SharedKey     string
	TokenURL      string // signed-token endpoint
	Token         string // fixed token, skips TokenURL
}

var _ exchange.Delegate = (*Delegate)(nil)

// Delegate implements exchange.Delegate.
type Delegate struct {
	cfg    Config
	ledger *Ledger
	store  store.StateStore
	http   *http.Client
	retry  utils.RetryConfig
	logger zerolog.Logger

	mu       sync.Mutex
	session  Session
	monitors map[string][]func(txHash string)
}

// NewDelegate creates a delegate over ledger and st. Attach must be called
// before the exchange saves.
func NewDelegate(cfg Config, ledger *Ledger, st store.StateStore, logger zerolog.Logger) *Delegate {
	return &Delegate{
		cfg:      cfg,
		ledger:   ledger,
		store:    st,
		http:     &http.Client{Timeout: 20 * time.Second},
		retry:    tokenRetry(),
		logger:   logger.With().Str("component", "wallet").Logger(),
		monitors: make(map[string][]func(string)),
	}
}

func tokenRetry() utils.RetryConfig {
	cfg := utils.DefaultRetryConfig()
	cfg.Retryable = retryableTokenError
	return cfg
}

// Attach sets the session written by Save.
func (d *Delegate) Attach(s Session) {
	d.mu.Lock()
	d.session = s
	d.mu.Unlock()
}

func (d *Delegate) Email() string         { return d.cfg.Email }
func (d *Delegate) IsEmailVerified() bool { return d.cfg.EmailVerified }

type signedTokenResponse struct {
	Success bool   `json:"success"`
	Token   string `json:"token"`
	Error   string `json:"error"`
}

// GetToken asks the wallet service for a token vouching for the user's
// email, signed for partner.
func (d *Delegate) GetToken(ctx context.Context, partner string, opts exchange.TokenOptions) (string, error) {
	if d.cfg.Token != "" {
		return d.cfg.Token, nil
	}
	if d.cfg.TokenURL == "" {
		return "", apperrors.NewValidationError("token_url", "", "token endpoint not configured")
	}

	fields := "email"
	if opts.WalletAge {
		fields += "|wallet_age"
	}
	q := url.Values{}
	q.Set("guid", d.cfg.GUID)
	q.Set("sharedKey", d.cfg.SharedKey)
	q.Set("fields", fields)
	q.Set("partner", partner)

	endpoint := d.cfg.TokenURL + "?" + q.Encode()
	body, err := utils.RetryWithResult(ctx, d.retry, func() ([]byte, error) {
		return d.fetchToken(ctx, endpoint)
	})
	if err != nil {
		return "", err
	}

	var res signedTokenResponse
	if err := json.Unmarshal(body, &res); err != nil {
		return "", fmt.Errorf("decoding token: %w", err)
	}
	if !res.Success || res.Token == "" {
		return "", fmt.Errorf("token refused: %s", res.Error)
	}
	return res.Token, nil
}

func (d *Delegate) fetchToken(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	resp, err := d.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading token: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperrors.NewTransportError(http.MethodGet, "signed-token", resp.StatusCode, string(body))
	}
	return body, nil
}

// retryableTokenError retries network failures and server errors. A 4xx
// answer will not change on retry.
func retryableTokenError(err error) bool {
	var te *apperrors.TransportError
	if apperrors.As(err, &te) {
		return te.StatusCode >= 500
	}
	return !apperrors.Is(err, context.Canceled) && !apperrors.Is(err, context.DeadlineExceeded)
}

// Save writes the attached session to the store with an index of its
// trades.
func (d *Delegate) Save(ctx context.Context) error {
	d.mu.Lock()
	s := d.session
	d.mu.Unlock()
	if s == nil {
		return apperrors.New("no session attached")
	}

	data, err := s.MarshalJSON()
	if err != nil {
		return fmt.Errorf("serializing session: %w", err)
	}

	trades := exchange.FilteredTrades(s.Trades())
	records := make([]store.TradeRecord, 0, len(trades))
	for _, t := range trades {
		records = append(records, store.TradeRecord{
			Partner: exchange.PartnerName,
			ID:      t.ID(),
			State:   string(t.State()),
			IsBuy:   t.IsBuy(),
		})
	}

	if err := d.store.SaveState(ctx, exchange.PartnerName, data, records); err != nil {
		return err
	}
	d.logger.Debug().Int("trades", len(records)).Msg("Session saved")
	return nil
}

// ReserveReceiveAddress hands out the next free address. The reservation
// becomes permanent only when committed to a trade.
func (d *Delegate) ReserveReceiveAddress(ctx context.Context) (*exchange.AddressReservation, error) {
	rec, err := d.ledger.Reserve()
	if err != nil {
		return nil, err
	}
	return &exchange.AddressReservation{
		Address: rec.Address,
		Commit: func(t *exchange.Trade) error {
			if err := d.ledger.Commit(rec.Address, t.ID()); err != nil {
				return err
			}
			t.SetReceiveIndices(rec.AccountIndex, rec.ReceiveIndex)
			d.logger.Info().Int64("trade_id", t.ID()).Str("address", rec.Address).Msg("Receive address reserved")
			return nil
		},
	}, nil
}

// ReleaseReceiveAddress frees the address of a trade that will not be paid.
func (d *Delegate) ReleaseReceiveAddress(t *exchange.Trade) {
	released, err := d.ledger.Release(t.ID())
	if err != nil {
		d.logger.Error().Err(err).Int64("trade_id", t.ID()).Msg("Failed to release receive address")
		return
	}
	if released {
		d.logger.Info().Int64("trade_id", t.ID()).Msg("Receive address released")
	}
}

// GetReceiveAddress resolves a trade's address from its wallet indices,
// falling back to the ledger's trade binding.
func (d *Delegate) GetReceiveAddress(t *exchange.Trade) string {
	var rec *AddressRecord
	var err error
	if account, receive, ok := t.ReceiveIndices(); ok {
		rec, err = d.ledger.ByIndex(account, receive)
	} else {
		rec, err = d.ledger.ByTrade(t.ID())
	}
	if err != nil {
		d.logger.Error().Err(err).Int64("trade_id", t.ID()).Msg("Failed to look up receive address")
		return ""
	}
	if rec == nil {
		return ""
	}
	return rec.Address
}

// MonitorAddress registers callback for the next payment to address.
func (d *Delegate) MonitorAddress(address string, callback func(txHash string)) {
	d.mu.Lock()
	d.monitors[address] = append(d.monitors[address], callback)
	d.mu.Unlock()
}

// Deliver reports a payment to address, marks it used and runs the
// callbacks registered for it. It returns how many ran.
func (d *Delegate) Deliver(address, txHash string) int {
	d.mu.Lock()
	callbacks := d.monitors[address]
	delete(d.monitors, address)
	d.mu.Unlock()

	if err := d.ledger.MarkUsed(address, txHash); err != nil {
		d.logger.Error().Err(err).Str("address", address).Msg("Failed to mark address used")
	}
	for _, cb := range callbacks {
		cb(txHash)
	}
	return len(callbacks)
}

// SerializeExtraFields stores the trade's wallet position.
func (d *Delegate) SerializeExtraFields(extra exchange.ExtraFields, t *exchange.Trade) {
	account, receive, ok := t.ReceiveIndices()
	if !ok {
		return
	}
	_ = extra.Set(fieldAccountIndex, account)
	_ = extra.Set(fieldReceiveIndex, receive)
}

// DeserializeExtraFields restores the trade's wallet position.
func (d *Delegate) DeserializeExtraFields(extra exchange.ExtraFields, t *exchange.Trade) {
	var account, receive int
	okA, errA := extra.Get(fieldAccountIndex, &account)
	okR, errR := extra.Get(fieldReceiveIndex, &receive)
	if errA != nil || errR != nil {
		d.logger.Warn().Int64("trade_id", t.ID()).Msg("Ignoring malformed receive indices")
		return
	}
	if okA && okR {
		t.SetReceiveIndices(account, receive)
	}
}
