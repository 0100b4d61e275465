package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/models"
)

type apiCall struct {
	Method   string
	Endpoint string
	Data     any
	Headers  map[string]string
}

// fakeAPI answers requests from canned responses keyed by "METHOD endpoint".
type fakeAPI struct {
	mu        sync.Mutex
	token     string
	responses map[string][]byte
	errs      map[string]error
	calls     []apiCall
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		responses: map[string][]byte{},
		errs:      map[string]error{},
	}
}

func (f *fakeAPI) on(method, endpoint, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[method+" "+endpoint] = []byte(body)
}

func (f *fakeAPI) fail(method, endpoint string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs[method+" "+endpoint] = err
}

func (f *fakeAPI) do(method, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, apiCall{Method: method, Endpoint: endpoint, Data: data, Headers: headers})
	key := method + " " + endpoint
	if err := f.errs[key]; err != nil {
		return nil, err
	}
	body, ok := f.responses[key]
	if !ok {
		return nil, apperrors.NewTransportError(method, endpoint, 404, "no fake response")
	}
	return json.RawMessage(body), nil
}

func (f *fakeAPI) auth(method, endpoint string, data any, headers map[string]string) (json.RawMessage, error) {
	if !f.IsLoggedIn() {
		return nil, apperrors.ErrNotLoggedIn
	}
	return f.do("AUTH "+method, endpoint, data, headers)
}

func (f *fakeAPI) GET(_ context.Context, e string, d any, h map[string]string) (json.RawMessage, error) {
	return f.do("GET", e, d, h)
}
func (f *fakeAPI) POST(_ context.Context, e string, d any, h map[string]string) (json.RawMessage, error) {
	return f.do("POST", e, d, h)
}
func (f *fakeAPI) PATCH(_ context.Context, e string, d any, h map[string]string) (json.RawMessage, error) {
	return f.do("PATCH", e, d, h)
}
func (f *fakeAPI) DELETE(_ context.Context, e string, d any, h map[string]string) (json.RawMessage, error) {
	return f.do("DELETE", e, d, h)
}
func (f *fakeAPI) AuthGET(_ context.Context, e string, d any, h map[string]string) (json.RawMessage, error) {
	return f.auth("GET", e, d, h)
}
func (f *fakeAPI) AuthPOST(_ context.Context, e string, d any, h map[string]string) (json.RawMessage, error) {
	return f.auth("POST", e, d, h)
}
func (f *fakeAPI) AuthPATCH(_ context.Context, e string, d any, h map[string]string) (json.RawMessage, error) {
	return f.auth("PATCH", e, d, h)
}
func (f *fakeAPI) AuthDELETE(_ context.Context, e string, d any, h map[string]string) (json.RawMessage, error) {
	return f.auth("DELETE", e, d, h)
}

func (f *fakeAPI) IsLoggedIn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.token != ""
}

func (f *fakeAPI) SetOfflineToken(token string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.token = token
}

func (f *fakeAPI) PhotoURL(filename string) string {
	return "https://www.unocoin.com/uploads/" + filename
}

func (f *fakeAPI) callsTo(endpoint string) []apiCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []apiCall
	for _, c := range f.calls {
		if c.Endpoint == endpoint {
			out = append(out, c)
		}
	}
	return out
}

// fakeDelegate keeps receive addresses in memory and records what the
// exchange asked of it.
type fakeDelegate struct {
	mu sync.Mutex

	email    string
	verified bool
	token    string
	tokenErr error

	nextAddress string
	addresses   map[int64]string
	committed   []int64
	commitErr   error
	released    []int64
	monitors    map[string]func(string)
	saves       int
	saveErr     error
}

func newFakeDelegate() *fakeDelegate {
	return &fakeDelegate{
		email:       "buyer@example.com",
		verified:    true,
		token:       "email-token",
		nextAddress: "1BoatSLRHtKNngkdXEeobR76b53LETtpyT",
		addresses:   map[int64]string{},
		monitors:    map[string]func(string){},
	}
}

func (d *fakeDelegate) Email() string         { return d.email }
func (d *fakeDelegate) IsEmailVerified() bool { return d.verified }

func (d *fakeDelegate) GetToken(context.Context, string, TokenOptions) (string, error) {
	return d.token, d.tokenErr
}

func (d *fakeDelegate) Save(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.saves++
	return d.saveErr
}

func (d *fakeDelegate) ReserveReceiveAddress(context.Context) (*AddressReservation, error) {
	addr := d.nextAddress
	return &AddressReservation{
		Address: addr,
		Commit: func(t *Trade) error {
			d.mu.Lock()
			defer d.mu.Unlock()
			if d.commitErr != nil {
				return d.commitErr
			}
			d.addresses[t.ID()] = addr
			d.committed = append(d.committed, t.ID())
			return nil
		},
	}, nil
}

func (d *fakeDelegate) ReleaseReceiveAddress(t *Trade) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.released = append(d.released, t.ID())
}

func (d *fakeDelegate) GetReceiveAddress(t *Trade) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addresses[t.ID()]
}

func (d *fakeDelegate) MonitorAddress(address string, callback func(string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.monitors[address] = callback
}

func (d *fakeDelegate) SerializeExtraFields(extra ExtraFields, t *Trade) {
	if addr := t.ReceiveAddress(); addr != "" {
		_ = extra.Set("receive_address", addr)
	}
}

func (d *fakeDelegate) DeserializeExtraFields(extra ExtraFields, t *Trade) {
	var addr string
	if ok, err := extra.Get("receive_address", &addr); ok && err == nil {
		d.mu.Lock()
		d.addresses[t.ID()] = addr
		d.mu.Unlock()
	}
}

func (d *fakeDelegate) saveCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.saves
}

func (d *fakeDelegate) releasedIDs() []int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int64(nil), d.released...)
}

func (d *fakeDelegate) monitor(address string) func(string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.monitors[address]
}

// testClock is a settable wall clock shared by settings and quotes.
type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func newTestClock() *testClock {
	return &testClock{now: time.Date(2017, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func testSettings(clock *testClock) Settings {
	s := DefaultSettings()
	s.Now = clock.Now
	return s
}

func testTicker(price float64) models.Ticker {
	return models.Ticker{Buy: models.PriceSide{Price: price}}
}

func staticTickerCache(tk models.Ticker) *TickerCache {
	c := NewTickerCache(time.Minute, func(context.Context) (models.Ticker, error) {
		return tk, nil
	})
	c.Set(tk)
	return c
}

func testDeps(t *testing.T, api *fakeAPI, delegate *fakeDelegate, clock *testClock) TradeDeps {
	t.Helper()
	return TradeDeps{
		API:      api,
		Delegate: delegate,
		Ticker:   staticTickerCache(testTicker(150000)),
		Settings: testSettings(clock),
		Logger:   zerolog.Nop(),
	}
}

// loggedInSession restores a session holding an offline token and the
// given trade snapshots.
func loggedInSession(t *testing.T, api *fakeAPI, delegate *fakeDelegate, clock *testClock, trades ...string) *Session {
	t.Helper()
	snap := `{"user":"buyer@example.com","offline_token":"offline","auto_login":true,"trades":[`
	for i, tr := range trades {
		if i > 0 {
			snap += ","
		}
		snap += tr
	}
	snap += `]}`
	s, err := SessionFromJSON([]byte(snap), api, delegate, testSettings(clock), zerolog.Nop())
	if err != nil {
		t.Fatalf("SessionFromJSON: %v", err)
	}
	return s
}
