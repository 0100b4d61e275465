package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/models"
)

const pendingSnapshot = `{"id":1142,"state":"awaiting_reference_number","tx_hash":null,"confirmed":false,"is_buy":true}`

func TestNewTrade_SnapshotRoundTrip(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())

	tr, err := NewTrade([]byte(pendingSnapshot), deps)
	require.NoError(t, err)
	assert.Equal(t, int64(1142), tr.ID())
	assert.Equal(t, models.StateAwaitingReferenceNumber, tr.State())
	assert.True(t, tr.IsBuy())
	assert.False(t, tr.Confirmed())
	assert.Empty(t, tr.TxHash())

	out, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.Equal(t, pendingSnapshot, string(out))
}

func TestNewTrade_ExtraFieldsFollowOwnKeys(t *testing.T) {
	delegate := newFakeDelegate()
	deps := testDeps(t, newFakeAPI(), delegate, newTestClock())

	snap := `{"id":7,"state":"completed","tx_hash":"abc","confirmed":true,"is_buy":true,"receive_address":"1Addr"}`
	tr, err := NewTrade([]byte(snap), deps)
	require.NoError(t, err)
	assert.Equal(t, "1Addr", tr.ReceiveAddress())
	assert.Equal(t, "abc", tr.TxHash())

	out, err := json.Marshal(tr)
	require.NoError(t, err)
	assert.Equal(t, snap, string(out))
}

func TestNewTrade_Invalid(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())

	testCases := map[string]string{
		"not json":      `{`,
		"null":          `null`,
		"missing id":    `{"state":"completed","is_buy":true}`,
		"zero id":       `{"id":0,"state":"completed","is_buy":true}`,
		"fraction id":   `{"id":1.5,"state":"completed","is_buy":true}`,
		"no state":      `{"id":1,"is_buy":true}`,
		"no is_buy":     `{"id":1,"state":"completed"}`,
		"bad tx_hash":   `{"id":1,"state":"completed","is_buy":true,"tx_hash":12}`,
		"bad confirmed": `{"id":1,"state":"completed","is_buy":true,"confirmed":"yes"}`,
	}
	for name, snap := range testCases {
		t.Run(name, func(t *testing.T) {
			_, err := NewTrade([]byte(snap), deps)
			assert.ErrorIs(t, err, apperrors.ErrInvalidTrade)
		})
	}
}

func TestNewTrade_UnknownStateFallsBack(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())

	tr, err := NewTrade([]byte(`{"id":"55","state":"teleported","is_buy":true}`), deps)
	require.NoError(t, err)
	assert.Equal(t, int64(55), tr.ID())
	assert.Equal(t, models.StateAwaitingReferenceNumber, tr.State())
}

func TestNewTradeFromAPI(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())

	raw := `{"order_id":"1142","inr":"5,000","btc":"0.0333","status":"Pending","reference_number":"","requested_time":"2017-06-01 10:00:00","bitcoin_address":"1Vendor"}`
	tr, err := NewTradeFromAPI(json.RawMessage(raw), deps, true)
	require.NoError(t, err)

	assert.Equal(t, int64(1142), tr.ID())
	assert.Equal(t, models.StateAwaitingReferenceNumber, tr.State())
	assert.Equal(t, int64(5000), tr.InAmount())
	assert.Equal(t, int64(3330000), tr.OutAmountExpected())
	assert.Zero(t, tr.OutAmount())
	assert.Equal(t, "1Vendor", tr.ReceiveAddress())
	assert.True(t, tr.CreatedAt().Equal(time.Date(2017, 6, 1, 4, 30, 0, 0, time.UTC)))
}

func TestSetFromAPI_Completed(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())

	tr, err := NewTradeFromAPI(json.RawMessage(`{"id":9,"inr":-1500,"btc":0.01,"status":"Completed","time":1496300000,"transaction_hash":"f00d"}`), deps, true)
	require.NoError(t, err)
	assert.Equal(t, models.StateCompleted, tr.State())
	assert.Equal(t, int64(1500), tr.InAmount())
	assert.Equal(t, int64(1000000), tr.OutAmount())
	assert.Equal(t, "f00d", tr.TxHash())
	assert.Equal(t, time.Unix(1496300000, 0).UTC(), tr.CreatedAt())
}

func TestSetFromAPI_EstimatesWithoutBTC(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())

	tr, err := NewTradeFromAPI(json.RawMessage(`{"id":10,"inr":"15000","status":"Pending","time":1496300000}`), deps, true)
	require.NoError(t, err)
	// 15000 INR at 150000 INR/BTC
	assert.Equal(t, int64(10000000), tr.OutAmountExpected())
}

func TestSetFromAPI_RejectsOtherTrade(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())

	tr, err := NewTrade([]byte(pendingSnapshot), deps)
	require.NoError(t, err)
	err = tr.SetFromAPI(json.RawMessage(`{"order_id":99,"status":"Completed"}`))
	assert.ErrorIs(t, err, apperrors.ErrInvalidTrade)
	assert.Equal(t, int64(1142), tr.ID())
	assert.Equal(t, models.StateAwaitingReferenceNumber, tr.State())
}

func TestSetFromAPI_EmptyStatusKeepsState(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())

	tr, err := NewTrade([]byte(`{"id":3,"state":"processing","is_buy":true}`), deps)
	require.NoError(t, err)
	require.NoError(t, tr.SetFromAPI(json.RawMessage(`{"id":3,"inr":2000,"time":1496300000}`)))
	assert.Equal(t, models.StateProcessing, tr.State())
}

func TestAddReferenceNumber(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.on("AUTH POST", endpointReference, `{"status_code":200,"message":"Reference number added"}`)

	tr, err := NewTrade([]byte(pendingSnapshot), testDeps(t, api, delegate, newTestClock()))
	require.NoError(t, err)

	got, err := tr.AddReferenceNumber(context.Background(), "UTR0001")
	require.NoError(t, err)
	assert.Same(t, tr, got)
	assert.Equal(t, models.StateAwaitingTransferIn, tr.State())
	assert.Equal(t, "UTR0001", tr.ReferenceNumber())
	assert.Equal(t, 1, delegate.saveCount())

	calls := api.callsTo(endpointReference)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"inr_transaction_id": int64(1142), "ref_num": "UTR0001"}, calls[0].Data)
}

func TestAddReferenceNumber_RejectedLeavesTradeUnchanged(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.on("AUTH POST", endpointReference, `{"status_code":400,"message":"Invalid reference number"}`)

	tr, err := NewTrade([]byte(pendingSnapshot), testDeps(t, api, delegate, newTestClock()))
	require.NoError(t, err)

	_, err = tr.AddReferenceNumber(context.Background(), "bad")
	var vendorErr *apperrors.VendorError
	require.ErrorAs(t, err, &vendorErr)
	assert.Equal(t, 400, vendorErr.Code)
	assert.Equal(t, "Invalid reference number", err.Error())

	assert.Equal(t, models.StateAwaitingReferenceNumber, tr.State())
	assert.Empty(t, tr.ReferenceNumber())
	assert.Zero(t, delegate.saveCount())
}

func TestRefresh(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.on("AUTH GET", endpointTrades, `{"status_code":200,"transactions":[
		{"order_id":"1","status":"Pending","inr":"1000","time":1496300000},
		{"order_id":"1142","status":"Approved","inr":"5000","btc":"0.0333","reference_number":"UTR9","time":1496300000}
	]}`)

	tr, err := NewTrade([]byte(pendingSnapshot), testDeps(t, api, delegate, newTestClock()))
	require.NoError(t, err)

	_, err = tr.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateProcessing, tr.State())
	assert.Equal(t, "UTR9", tr.ReferenceNumber())
	assert.Equal(t, int64(5000), tr.InAmount())
	assert.Equal(t, 1, delegate.saveCount())
	assert.Empty(t, delegate.releasedIDs())
}

func TestRefresh_CancelledReleasesAddress(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.on("AUTH GET", endpointTrades, `[{"order_id":1142,"status":"Cancelled","inr":5000,"time":1496300000}]`)

	tr, err := NewTrade([]byte(pendingSnapshot), testDeps(t, api, delegate, newTestClock()))
	require.NoError(t, err)

	_, err = tr.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, tr.State())
	assert.Contains(t, delegate.releasedIDs(), int64(1142))
}

func TestRefresh_NotFound(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.on("AUTH GET", endpointTrades, `[{"order_id":"2","status":"Pending"}]`)

	tr, err := NewTrade([]byte(pendingSnapshot), testDeps(t, api, delegate, newTestClock()))
	require.NoError(t, err)

	_, err = tr.Refresh(context.Background())
	assert.ErrorIs(t, err, apperrors.ErrTradeNotFound)
	assert.Equal(t, models.StateAwaitingReferenceNumber, tr.State())
	assert.Zero(t, delegate.saveCount())
}

func TestRefresh_TransportErrorPassesThrough(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.fail("AUTH GET", endpointTrades, apperrors.NewTransportError("GET", endpointTrades, 502, "bad gateway"))

	tr, err := NewTrade([]byte(pendingSnapshot), testDeps(t, api, delegate, newTestClock()))
	require.NoError(t, err)

	_, err = tr.Refresh(context.Background())
	var transportErr *apperrors.TransportError
	require.ErrorAs(t, err, &transportErr)
	assert.Equal(t, 502, transportErr.StatusCode)
	assert.NotErrorIs(t, err, apperrors.ErrTradeNotFound)
}

func TestCancel(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.on("AUTH PATCH", endpointCancel, `{"status_code":200,"message":"Order cancelled"}`)

	tr, err := NewTrade([]byte(pendingSnapshot), testDeps(t, api, delegate, newTestClock()))
	require.NoError(t, err)

	_, err = tr.Cancel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateCancelled, tr.State())
	assert.Equal(t, []int64{1142}, delegate.releasedIDs())
	assert.Equal(t, 1, delegate.saveCount())

	calls := api.callsTo(endpointCancel)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"order_id": int64(1142)}, calls[0].Data)
}

func TestCancel_AdoptsReturnedState(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.on("AUTH PATCH", endpointCancel, `{"status_code":200,"state":"expired"}`)

	tr, err := NewTrade([]byte(pendingSnapshot), testDeps(t, api, delegate, newTestClock()))
	require.NoError(t, err)

	_, err = tr.Cancel(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.StateExpired, tr.State())
	assert.Equal(t, []int64{1142}, delegate.releasedIDs())
}

func TestCancel_Rejected(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.on("AUTH PATCH", endpointCancel, `{"status_code":401,"message":"Order already processed"}`)

	tr, err := NewTrade([]byte(pendingSnapshot), testDeps(t, api, delegate, newTestClock()))
	require.NoError(t, err)

	_, err = tr.Cancel(context.Background())
	assert.EqualError(t, err, "Order already processed")
	assert.Equal(t, models.StateAwaitingReferenceNumber, tr.State())
	assert.Empty(t, delegate.releasedIDs())
}

func TestBuyTrade(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	clock := newTestClock()
	api.SetOfflineToken("offline")
	api.on("AUTH POST", endpointBuy, `{"status_code":200,"message":"Order placed","order_id":77,"inr":5000,"time":1496300000}`)

	deps := testDeps(t, api, delegate, clock)
	q, err := NewQuote(testTicker(150000), -5000, models.INR, models.BTC, deps.Settings)
	require.NoError(t, err)

	tr, err := BuyTrade(context.Background(), q, models.MediumBank, deps)
	require.NoError(t, err)
	assert.Equal(t, int64(77), tr.ID())
	assert.True(t, tr.IsBuy())
	assert.Equal(t, models.MediumBank, tr.Medium())
	assert.Equal(t, int64(5000), tr.InAmount())
	assert.Equal(t, int64(3333333), tr.OutAmountExpected())
	assert.Equal(t, models.StateAwaitingReferenceNumber, tr.State())
	assert.Equal(t, delegate.nextAddress, tr.ReceiveAddress())
	assert.Equal(t, []int64{77}, delegate.committed)

	calls := api.callsTo(endpointBuy)
	require.Len(t, calls, 1)
	assert.Equal(t, map[string]any{"destination": delegate.nextAddress, "amount": int64(5000)}, calls[0].Data)

	// The wallet reports the payout on the watched address.
	callback := delegate.monitor(delegate.nextAddress)
	require.NotNil(t, callback)
	callback("deadbeef")
	assert.Equal(t, "deadbeef", tr.TxHash())
	assert.True(t, tr.Confirmed())
	assert.Equal(t, 1, delegate.saveCount())
}

func TestBuyTrade_ExpiredQuote(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	clock := newTestClock()
	api.SetOfflineToken("offline")

	deps := testDeps(t, api, delegate, clock)
	q, err := NewQuote(testTicker(150000), -5000, models.INR, models.BTC, deps.Settings)
	require.NoError(t, err)
	clock.Advance(deps.Settings.QuoteTTL)

	_, err = BuyTrade(context.Background(), q, models.MediumBank, deps)
	assert.ErrorIs(t, err, apperrors.ErrQuoteExpired)
	assert.Empty(t, api.callsTo(endpointBuy))
	assert.Empty(t, delegate.committed)
}

func TestBuyTrade_VendorRejection(t *testing.T) {
	api := newFakeAPI()
	delegate := newFakeDelegate()
	api.SetOfflineToken("offline")
	api.on("AUTH POST", endpointBuy, `{"status_code":402,"message":"Insufficient limit"}`)

	deps := testDeps(t, api, delegate, newTestClock())
	q, err := NewQuote(testTicker(150000), -5000, models.INR, models.BTC, deps.Settings)
	require.NoError(t, err)

	_, err = BuyTrade(context.Background(), q, models.MediumBank, deps)
	var vendorErr *apperrors.VendorError
	require.ErrorAs(t, err, &vendorErr)
	assert.Equal(t, 402, vendorErr.Code)
	assert.Empty(t, delegate.committed)
}

func TestBtcExpected(t *testing.T) {
	clock := newTestClock()
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), clock)

	tr, err := NewTrade([]byte(`{"id":5,"state":"awaiting_transfer_in","is_buy":true}`), deps)
	require.NoError(t, err)
	tr.inAmount = 150000

	got, err := tr.BtcExpected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100000000), got)

	// Within the estimate lifetime the price is not consulted again.
	deps.Ticker.Set(testTicker(300000))
	clock.Advance(deps.Settings.EstimateTTL / 2)
	got, err = tr.BtcExpected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(100000000), got)

	clock.Advance(deps.Settings.EstimateTTL)
	got, err = tr.BtcExpected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(50000000), got)
}

func TestBtcExpected_SettledUsesStoredAmount(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())

	tr, err := NewTradeFromAPI(json.RawMessage(`{"id":9,"inr":1500,"btc":0.01,"status":"Completed","time":1496300000}`), deps, true)
	require.NoError(t, err)
	got, err := tr.BtcExpected(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1000000), got)

	sell, err := NewTrade([]byte(`{"id":10,"state":"processing","is_buy":false}`), deps)
	require.NoError(t, err)
	_, err = sell.BtcExpected(context.Background())
	assert.Error(t, err)
}

func TestProcess(t *testing.T) {
	delegate := newFakeDelegate()
	deps := testDeps(t, newFakeAPI(), delegate, newTestClock())

	expired, err := NewTrade([]byte(`{"id":11,"state":"expired","is_buy":true}`), deps)
	require.NoError(t, err)
	expired.Process()
	assert.Equal(t, []int64{11}, delegate.releasedIDs())

	pending, err := NewTrade([]byte(`{"id":12,"state":"awaiting_transfer_in","is_buy":true}`), deps)
	require.NoError(t, err)
	delegate.addresses[12] = "1Indexed"
	pending.SetReceiveIndices(0, 4)
	pending.Process()
	assert.Equal(t, "1Indexed", pending.ReceiveAddress())
	assert.Equal(t, []int64{11}, delegate.releasedIDs())
}

// TestProperty_TradeSnapshotRoundTrip checks that restoring a persisted
// trade and persisting it again reproduces the same bytes, wallet fields
// included.
func TestProperty_TradeSnapshotRoundTrip(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("marshal after restore is stable", prop.ForAll(
		func(id int64, state string, txHash string, confirmed, isBuy bool, address string) bool {
			fields := map[string]any{
				"id":        id,
				"state":     state,
				"tx_hash":   nil,
				"confirmed": confirmed,
				"is_buy":    isBuy,
			}
			if txHash != "" {
				fields["tx_hash"] = txHash
			}
			if address != "" {
				fields["receive_address"] = address
			}
			input, err := json.Marshal(fields)
			if err != nil {
				return false
			}

			deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())
			first, err := NewTrade(input, deps)
			if err != nil {
				t.Logf("NewTrade(%s): %v", input, err)
				return false
			}
			once, err := json.Marshal(first)
			if err != nil {
				return false
			}

			deps = testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())
			second, err := NewTrade(once, deps)
			if err != nil {
				t.Logf("NewTrade(%s): %v", once, err)
				return false
			}
			twice, err := json.Marshal(second)
			if err != nil {
				return false
			}
			if !bytes.Equal(once, twice) {
				t.Logf("%s != %s", once, twice)
				return false
			}
			return second.ID() == id && string(second.State()) == state &&
				second.TxHash() == txHash && second.Confirmed() == confirmed &&
				second.IsBuy() == isBuy && second.ReceiveAddress() == address
		},
		gen.Int64Range(1, 1000000000),
		gen.OneConstOf(
			string(models.StateAwaitingReferenceNumber),
			string(models.StateAwaitingTransferIn),
			string(models.StateProcessing),
			string(models.StateReviewing),
			string(models.StateCompleted),
			string(models.StateCompletedTest),
			string(models.StateCancelled),
			string(models.StateRejected),
			string(models.StateExpired),
			string(models.StateFailed),
		),
		gen.AlphaString(),
		gen.Bool(),
		gen.Bool(),
		gen.AlphaString(),
	))

	properties.TestingRun(t)
}

func TestSetFromAPI_WaitsForTradeOperation(t *testing.T) {
	deps := testDeps(t, newFakeAPI(), newFakeDelegate(), newTestClock())
	tr, err := NewTrade([]byte(pendingSnapshot), deps)
	require.NoError(t, err)

	tr.ops.Lock()
	done := make(chan error, 1)
	go func() {
		done <- tr.SetFromAPI(json.RawMessage(`{"order_id":1142,"status":"Completed","time":1496300000}`))
	}()

	select {
	case <-done:
		t.Fatal("SetFromAPI ran while a trade operation held the lock")
	case <-time.After(50 * time.Millisecond):
	}
	assert.Equal(t, models.StateAwaitingReferenceNumber, tr.State())

	tr.ops.Unlock()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("SetFromAPI did not resume after the lock was released")
	}
	assert.Equal(t, models.StateCompleted, tr.State())
}
