package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/logging"
	"unocoin-client/internal/models"
)

// TradeDeps are the collaborators a trade talks to.
type TradeDeps struct {
	API      API
	Delegate Delegate
	Ticker   *TickerCache
	Settings Settings
	Logger   zerolog.Logger
}

// Trade is one purchase attempt tracked from creation to settlement.
//
// A trade is built either from a persisted snapshot (NewTrade) or from an
// exchange payload (NewTradeFromAPI, BuyTrade). Mutating operations are
// serialized per trade and end by saving through the delegate.
type Trade struct {
	deps TradeDeps

	ops sync.Mutex // serializes Refresh, AddReferenceNumber and Cancel
	mu  sync.Mutex // guards the fields below; never held across I/O

	id                int64
	state             models.TradeState
	isBuy             bool
	inCurrency        models.Currency
	outCurrency       models.Currency
	medium            string
	inAmount          int64
	outAmount         int64
	outAmountExpected int64
	createdAt         time.Time
	confirmed         bool
	txHash            string
	referenceNumber   string
	receiveAddress    string
	accountIndex      *int
	receiveIndex      *int
	estimatedAt       time.Time
}

// Keys owned by the trade in its persisted form; the rest belong to the
// delegate.
var tradeKeys = map[string]bool{
	"id":        true,
	"state":     true,
	"tx_hash":   true,
	"confirmed": true,
	"is_buy":    true,
}

// IST is the exchange's local time zone for listed timestamps.
var IST = time.FixedZone("IST", 5*3600+30*60)

func newTrade(deps TradeDeps) *Trade {
	return &Trade{
		deps:        deps,
		state:       models.StateAwaitingReferenceNumber,
		inCurrency:  deps.Settings.Fiat,
		outCurrency: deps.Settings.Crypto,
		medium:      models.MediumBank,
	}
}

// NewTrade reconstitutes a trade from its persisted snapshot. Fields are
// taken verbatim; no request is made.
func NewTrade(data []byte, deps TradeDeps) (*Trade, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInvalidTrade, err)
	}
	if fields == nil {
		return nil, apperrors.Wrap(apperrors.ErrInvalidTrade, "snapshot missing")
	}

	t := newTrade(deps)

	rawID, ok := fields["id"]
	if !ok {
		return nil, apperrors.Wrap(apperrors.ErrInvalidTrade, "id missing")
	}
	var id flexID
	if err := json.Unmarshal(rawID, &id); err != nil || id <= 0 {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidTrade, "bad id %s", rawID)
	}
	t.id = int64(id)

	var state string
	if raw, ok := fields["state"]; !ok || json.Unmarshal(raw, &state) != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidTrade, "trade %d: state missing", t.id)
	}
	t.state = models.TradeState(state)
	if !t.state.Known() {
		deps.Logger.Warn().Int64("trade_id", t.id).Str("state", state).Msg("Unknown trade state")
		t.state = models.StateAwaitingReferenceNumber
	}

	if raw, ok := fields["is_buy"]; !ok || json.Unmarshal(raw, &t.isBuy) != nil {
		return nil, apperrors.Wrapf(apperrors.ErrInvalidTrade, "trade %d: is_buy missing", t.id)
	}
	if raw, ok := fields["confirmed"]; ok {
		if err := json.Unmarshal(raw, &t.confirmed); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidTrade, "trade %d: confirmed", t.id)
		}
	}
	if raw, ok := fields["tx_hash"]; ok {
		var hash *string
		if err := json.Unmarshal(raw, &hash); err != nil {
			return nil, apperrors.Wrapf(apperrors.ErrInvalidTrade, "trade %d: tx_hash", t.id)
		}
		if hash != nil {
			t.txHash = *hash
		}
	}

	extra := ExtraFields{}
	for k, v := range fields {
		if !tradeKeys[k] {
			extra[k] = v
		}
	}
	deps.Delegate.DeserializeExtraFields(extra, t)
	t.receiveAddress = deps.Delegate.GetReceiveAddress(t)

	return t, nil
}

// NewTradeFromAPI builds a trade from an exchange payload.
func NewTradeFromAPI(raw json.RawMessage, deps TradeDeps, isBuy bool) (*Trade, error) {
	t := newTrade(deps)
	t.isBuy = isBuy
	if err := t.setFromAPI(raw); err != nil {
		return nil, err
	}
	return t, nil
}

type vendorTrade struct {
	ID              *flexID    `json:"id"`
	OrderID         *flexID    `json:"order_id"`
	Time            flexNumber `json:"time"`
	RequestedTime   string     `json:"requested_time"`
	INR             flexNumber `json:"inr"`
	BTC             flexNumber `json:"btc"`
	ReferenceNumber string     `json:"reference_number"`
	TransactionHash string     `json:"transaction_hash"`
	BitcoinAddress  string     `json:"bitcoin_address"`
	Status          string     `json:"status"`
}

func (v vendorTrade) id() (int64, bool) {
	switch {
	case v.OrderID != nil && *v.OrderID > 0:
		return int64(*v.OrderID), true
	case v.ID != nil && *v.ID > 0:
		return int64(*v.ID), true
	}
	return 0, false
}

// SetFromAPI updates the trade from an exchange payload, inferring the
// canonical state. It waits for any in-flight Refresh, AddReferenceNumber
// or Cancel on the same trade.
func (t *Trade) SetFromAPI(raw json.RawMessage) error {
	t.ops.Lock()
	defer t.ops.Unlock()
	return t.setFromAPI(raw)
}

func (t *Trade) setFromAPI(raw json.RawMessage) error {
	var v vendorTrade
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrInvalidTrade, err)
	}
	id, ok := v.id()
	if !ok {
		return apperrors.Wrap(apperrors.ErrInvalidTrade, "order id missing")
	}
	logger := logging.WithTradeID(t.deps.Logger, id)

	t.mu.Lock()
	if t.id != 0 && t.id != id {
		current := t.id
		t.mu.Unlock()
		return apperrors.Wrapf(apperrors.ErrInvalidTrade, "payload for %d applied to trade %d", id, current)
	}
	t.id = id

	from := t.state
	to := from
	if v.Status != "" {
		var known bool
		to, known = InferState(v.Status, v.ReferenceNumber)
		if !known {
			logger.Warn().Str("status", v.Status).Msg("Unknown trade status")
		}
	}
	t.state = to
	if v.ReferenceNumber != "" {
		t.referenceNumber = v.ReferenceNumber
	}

	if v.INR != 0 {
		t.inAmount = abs(round(float64(v.INR)))
	}

	switch {
	case v.Time > 0:
		t.createdAt = time.Unix(int64(v.Time), 0).UTC()
	case v.RequestedTime != "":
		if at, err := parseRequestedTime(v.RequestedTime); err == nil {
			t.createdAt = at
		} else {
			logger.Warn().Str("requested_time", v.RequestedTime).Msg("Unparseable trade creation time")
		}
	default:
		logger.Warn().Msg("Trade creation time missing")
	}

	btc := abs(round(float64(v.BTC) * models.SatoshiPerBTC))
	if btc != 0 {
		t.outAmountExpected = btc
		if to == models.StateCompleted {
			t.outAmount = btc
		}
	}
	if v.TransactionHash != "" {
		t.txHash = v.TransactionHash
	}
	if v.BitcoinAddress != "" && t.receiveAddress == "" {
		t.receiveAddress = v.BitcoinAddress
	}
	inAmount := t.inAmount
	t.mu.Unlock()

	if btc == 0 {
		t.estimateFromTicker(inAmount)
	}
	t.transitioned(from, to)
	return nil
}

func parseRequestedTime(s string) (time.Time, error) {
	if at, err := time.ParseInLocation("2006-01-02 15:04:05", s, IST); err == nil {
		return at, nil
	}
	return time.Parse(time.RFC3339, s)
}

// estimateFromTicker guesses the receive amount from the last cached price.
func (t *Trade) estimateFromTicker(inAmount int64) {
	if t.deps.Ticker == nil || inAmount == 0 {
		return
	}
	tk, ok := t.deps.Ticker.Last()
	if !ok || tk.Buy.Price <= 0 {
		return
	}
	estimate := round(float64(inAmount) * models.SatoshiPerBTC / tk.Buy.Price)
	t.mu.Lock()
	t.outAmountExpected = estimate
	t.mu.Unlock()
}

// transitioned logs a state change and releases the receive address when
// the trade enters a state that frees it. It reports whether it released.
func (t *Trade) transitioned(from, to models.TradeState) bool {
	if from == to {
		return false
	}
	logging.LogTradeState(t.deps.Logger, t.ID(), string(from), string(to))
	if to.ReleasesAddress() && !from.ReleasesAddress() {
		t.deps.Delegate.ReleaseReceiveAddress(t)
		return true
	}
	return false
}

func (t *Trade) setState(to models.TradeState) bool {
	t.mu.Lock()
	from := t.state
	t.state = to
	t.mu.Unlock()
	return t.transitioned(from, to)
}

// Process releases the address of a trade that ended without payment, and
// re-claims the address of a buy whose wallet indices are known.
func (t *Trade) Process() {
	t.mu.Lock()
	state, isBuy := t.state, t.isBuy
	indexed := t.accountIndex != nil && t.receiveIndex != nil
	hasAddress := t.receiveAddress != ""
	t.mu.Unlock()

	if state.ReleasesAddress() {
		t.deps.Logger.Debug().Int64("trade_id", t.ID()).Str("state", string(state)).Msg("Releasing receive address")
		t.deps.Delegate.ReleaseReceiveAddress(t)
		return
	}
	if isBuy && indexed && !hasAddress {
		addr := t.deps.Delegate.GetReceiveAddress(t)
		t.mu.Lock()
		t.receiveAddress = addr
		t.mu.Unlock()
	}
}

// Refresh reloads the trade. The exchange has no single-trade lookup, so
// the whole list is fetched and searched by id.
func (t *Trade) Refresh(ctx context.Context) (*Trade, error) {
	t.ops.Lock()
	defer t.ops.Unlock()

	id := t.ID()
	t.deps.Logger.Debug().Int64("trade_id", id).Str("state", string(t.State())).Msg("Refreshing trade")

	raw, err := t.deps.API.AuthGET(ctx, endpointTrades, nil, nil)
	if err != nil {
		return nil, err
	}
	items, err := decodeTradeList(raw)
	if err != nil {
		return nil, err
	}

	var match json.RawMessage
	for _, item := range items {
		if itemID, ok := peekTradeID(item); ok && itemID == id {
			match = item
			break
		}
	}
	if match == nil {
		return nil, apperrors.Wrapf(apperrors.ErrTradeNotFound, "trade %d", id)
	}

	if err := t.setFromAPI(match); err != nil {
		return nil, err
	}
	t.Process()
	if err := t.deps.Delegate.Save(ctx); err != nil {
		return nil, apperrors.Wrap(err, "saving trade")
	}
	return t, nil
}

// AddReferenceNumber attaches the buyer's bank reference. The state only
// advances when the exchange accepts it.
func (t *Trade) AddReferenceNumber(ctx context.Context, ref string) (*Trade, error) {
	t.ops.Lock()
	defer t.ops.Unlock()

	id := t.ID()
	raw, err := t.deps.API.AuthPOST(ctx, endpointReference, map[string]any{
		"inr_transaction_id": id,
		"ref_num":            ref,
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(raw); err != nil {
		t.deps.Logger.Error().Err(err).Int64("trade_id", id).Msg("Failed to set reference number")
		return nil, err
	}

	t.mu.Lock()
	t.referenceNumber = ref
	t.mu.Unlock()
	t.setState(models.StateAwaitingTransferIn)

	if err := t.deps.Delegate.Save(ctx); err != nil {
		return nil, apperrors.Wrap(err, "saving trade")
	}
	return t, nil
}

type cancelResponse struct {
	envelope
	State  string `json:"state"`
	Status string `json:"status"`
}

// Cancel asks the exchange to cancel the trade, adopts the state it
// returns and releases the receive address.
func (t *Trade) Cancel(ctx context.Context) (*Trade, error) {
	t.ops.Lock()
	defer t.ops.Unlock()

	id := t.ID()
	raw, err := t.deps.API.AuthPATCH(ctx, endpointCancel, map[string]any{"order_id": id}, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(raw); err != nil {
		return nil, err
	}
	var res cancelResponse
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, apperrors.Wrap(err, "decoding cancel response")
	}

	to := models.StateCancelled
	switch {
	case models.TradeState(res.State).Known():
		to = models.TradeState(res.State)
	case res.Status != "":
		if s, known := InferState(res.Status, ""); known {
			to = s
		}
	}
	if released := t.setState(to); !released {
		t.deps.Delegate.ReleaseReceiveAddress(t)
	}

	if err := t.deps.Delegate.Save(ctx); err != nil {
		return nil, apperrors.Wrap(err, "saving trade")
	}
	return t, nil
}

// BuyTrade submits a quote to the exchange and returns the created trade.
// The caller is responsible for keeping and saving it.
func BuyTrade(ctx context.Context, q *Quote, medium string, deps TradeDeps) (*Trade, error) {
	if q.Expired() {
		return nil, apperrors.Wrapf(apperrors.ErrQuoteExpired, "quote %s expired at %s", q.ID(), q.ExpiresAt().Format(time.RFC3339))
	}

	reservation, err := deps.Delegate.ReserveReceiveAddress(ctx)
	if err != nil {
		return nil, apperrors.Wrap(err, "reserving receive address")
	}
	if reservation == nil {
		reservation = &AddressReservation{}
	}

	amount := abs(q.FiatAmount())
	raw, err := deps.API.AuthPOST(ctx, endpointBuy, map[string]any{
		"destination": reservation.Address,
		"amount":      amount,
	}, nil)
	if err != nil {
		return nil, err
	}
	if err := checkStatus(raw); err != nil {
		return nil, err
	}

	t := newTrade(deps)
	t.isBuy = true
	t.medium = medium
	t.inAmount = amount
	if err := t.setFromAPI(raw); err != nil {
		deps.Logger.Error().Err(err).RawJSON("response", raw).Msg("Accepted buy order could not be read")
		return nil, err
	}

	t.mu.Lock()
	if t.receiveAddress == "" {
		t.receiveAddress = reservation.Address
	}
	if t.outAmountExpected == 0 {
		t.outAmountExpected = abs(q.CryptoAmount())
	}
	t.mu.Unlock()

	// The order exists on the exchange from here on; the trade is returned
	// even if the ledger write fails.
	if reservation.Commit != nil {
		if err := reservation.Commit(t); err != nil {
			deps.Logger.Error().Err(err).Int64("trade_id", t.ID()).Str("address", reservation.Address).Msg("Failed to commit receive address")
		}
	}
	t.monitorAddress()
	return t, nil
}

// monitorAddress watches the receive address for the incoming payment.
func (t *Trade) monitorAddress() {
	addr := t.ReceiveAddress()
	if addr == "" {
		return
	}
	t.deps.Delegate.MonitorAddress(addr, func(txHash string) {
		t.mu.Lock()
		t.txHash = txHash
		t.confirmed = true
		t.mu.Unlock()
		t.deps.Logger.Info().Int64("trade_id", t.ID()).Str("tx_hash", txHash).Msg("Payment received")
		if err := t.deps.Delegate.Save(context.Background()); err != nil {
			t.deps.Logger.Error().Err(err).Int64("trade_id", t.ID()).Msg("Failed to save trade")
		}
	})
}

// BtcExpected returns the satoshi the buyer will receive: the settled
// amount once final, otherwise an estimate refreshed at most once per
// EstimateTTL from the ticker.
func (t *Trade) BtcExpected(ctx context.Context) (int64, error) {
	t.mu.Lock()
	isBuy, state := t.isBuy, t.state
	expected, inAmount, at := t.outAmountExpected, t.inAmount, t.estimatedAt
	t.mu.Unlock()

	if !isBuy {
		return 0, apperrors.New("expected amount is only known for buys")
	}
	if state.Settled() {
		return expected, nil
	}
	settings := t.deps.Settings
	now := settings.now()
	if !at.IsZero() && now.Sub(at) < settings.EstimateTTL {
		return expected, nil
	}
	if t.deps.Ticker == nil {
		return expected, nil
	}

	tk, err := t.deps.Ticker.Get(ctx)
	if err != nil {
		return 0, err
	}
	q, err := NewQuote(tk, -inAmount, settings.Fiat, settings.Crypto, settings)
	if err != nil {
		return 0, err
	}

	t.mu.Lock()
	t.outAmountExpected = q.QuoteAmount()
	t.estimatedAt = now
	t.mu.Unlock()
	return q.QuoteAmount(), nil
}

// MarshalJSON writes the persisted form: the trade's own keys in fixed
// order followed by the delegate's extra fields sorted by key.
func (t *Trade) MarshalJSON() ([]byte, error) {
	t.mu.Lock()
	id, state, confirmed, isBuy, hash := t.id, t.state, t.confirmed, t.isBuy, t.txHash
	t.mu.Unlock()

	extra := ExtraFields{}
	t.deps.Delegate.SerializeExtraFields(extra, t)

	var txHash any
	if hash != "" {
		txHash = hash
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	pairs := []struct {
		key   string
		value any
	}{
		{"id", id},
		{"state", state},
		{"tx_hash", txHash},
		{"confirmed", confirmed},
		{"is_buy", isBuy},
	}
	for i, p := range pairs {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONPair(&buf, p.key, p.value); err != nil {
			return nil, err
		}
	}

	keys := make([]string, 0, len(extra))
	for k := range extra {
		if !tradeKeys[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	for _, k := range keys {
		buf.WriteByte(',')
		if err := writeJSONPair(&buf, k, extra[k]); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func writeJSONPair(buf *bytes.Buffer, key string, value any) error {
	k, err := json.Marshal(key)
	if err != nil {
		return err
	}
	v, err := json.Marshal(value)
	if err != nil {
		return err
	}
	buf.Write(k)
	buf.WriteByte(':')
	buf.Write(v)
	return nil
}

func (t *Trade) ID() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.id
}

func (t *Trade) State() models.TradeState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Trade) IsBuy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.isBuy
}

func (t *Trade) InCurrency() models.Currency  { return t.inCurrency }
func (t *Trade) OutCurrency() models.Currency { return t.outCurrency }
func (t *Trade) Medium() string               { return t.medium }

// InAmount is the fiat paid.
func (t *Trade) InAmount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.inAmount
}

// OutAmount is the settled satoshi amount, zero until completed.
func (t *Trade) OutAmount() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outAmount
}

// OutAmountExpected is the provisional or settled receive amount.
func (t *Trade) OutAmountExpected() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outAmountExpected
}

// CreatedAt is zero when the exchange did not report it.
func (t *Trade) CreatedAt() time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.createdAt
}

func (t *Trade) Confirmed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.confirmed
}

func (t *Trade) TxHash() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.txHash
}

func (t *Trade) ReferenceNumber() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.referenceNumber
}

func (t *Trade) ReceiveAddress() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.receiveAddress
}

// SetConfirmed records that the payout transaction confirmed.
func (t *Trade) SetConfirmed(confirmed bool) {
	t.mu.Lock()
	t.confirmed = confirmed
	t.mu.Unlock()
}

// SetReceiveIndices is called by the delegate while deserializing.
func (t *Trade) SetReceiveIndices(account, receive int) {
	t.mu.Lock()
	t.accountIndex = &account
	t.receiveIndex = &receive
	t.mu.Unlock()
}

// ReceiveIndices returns the wallet account and receive index, if known.
func (t *Trade) ReceiveIndices() (account, receive int, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.accountIndex == nil || t.receiveIndex == nil {
		return 0, 0, false
	}
	return *t.accountIndex, *t.receiveIndex, true
}

// decodeTradeList accepts either a bare array or a status envelope with a
// transactions array.
func decodeTradeList(raw json.RawMessage) ([]json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var items []json.RawMessage
		if err := json.Unmarshal(trimmed, &items); err != nil {
			return nil, apperrors.Wrap(err, "decoding trades")
		}
		return items, nil
	}
	var res struct {
		envelope
		Transactions []json.RawMessage `json:"transactions"`
	}
	if err := json.Unmarshal(trimmed, &res); err != nil {
		return nil, apperrors.Wrap(err, "decoding trades")
	}
	if res.StatusCode != 0 && res.StatusCode != statusOK {
		return nil, apperrors.NewVendorError(res.StatusCode, res.Message)
	}
	return res.Transactions, nil
}

func peekTradeID(raw json.RawMessage) (int64, bool) {
	var v vendorTrade
	if err := json.Unmarshal(raw, &v); err != nil {
		return 0, false
	}
	return v.id()
}
