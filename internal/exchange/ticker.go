package exchange

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"

	apperrors "unocoin-client/internal/errors"
	"unocoin-client/internal/models"
)

const tickerKey = "ticker"

// TickerFetcher loads a fresh rate card.
type TickerFetcher func(ctx context.Context) (models.Ticker, error)

// TickerCache holds a single ticker for ttl. Concurrent readers of a stale
// cache share one fetch.
type TickerCache struct {
	entries *cache.Cache
	fetch   TickerFetcher

	mu   sync.Mutex // held while fetching
	last models.Ticker
	seen bool
	lmu  sync.RWMutex
}

// NewTickerCache creates a cache that refreshes through fetch.
func NewTickerCache(ttl time.Duration, fetch TickerFetcher) *TickerCache {
	return &TickerCache{
		entries: cache.New(ttl, 2*ttl),
		fetch:   fetch,
	}
}

// Get returns the cached ticker, fetching a new one when it expired.
func (c *TickerCache) Get(ctx context.Context) (models.Ticker, error) {
	if t, ok := c.cached(); ok {
		return t, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Another caller may have refreshed while we waited.
	if t, ok := c.cached(); ok {
		return t, nil
	}
	if c.fetch == nil {
		return models.Ticker{}, apperrors.Wrap(apperrors.ErrDataNotFound, "ticker")
	}

	t, err := c.fetch(ctx)
	if err != nil {
		return models.Ticker{}, err
	}
	c.Set(t)
	return t, nil
}

// Set stores t as the current ticker.
func (c *TickerCache) Set(t models.Ticker) {
	c.entries.SetDefault(tickerKey, t)
	c.lmu.Lock()
	c.last = t
	c.seen = true
	c.lmu.Unlock()
}

// Last returns the most recent ticker even if it expired.
func (c *TickerCache) Last() (models.Ticker, bool) {
	c.lmu.RLock()
	defer c.lmu.RUnlock()
	return c.last, c.seen
}

func (c *TickerCache) cached() (models.Ticker, bool) {
	v, ok := c.entries.Get(tickerKey)
	if !ok {
		return models.Ticker{}, false
	}
	return v.(models.Ticker), true
}

type vendorRates struct {
	Buy        flexNumber `json:"buy"`
	BuyBTCFee  flexNumber `json:"buy_btc_fee"`
	BuyBTCTax  flexNumber `json:"buy_btc_tax"`
	Sell       flexNumber `json:"sell"`
	StatusCode int        `json:"status_code"`
	Message    string     `json:"message"`
}

// fetchRates loads the rate card from the exchange.
func fetchRates(ctx context.Context, api API, now func() time.Time) (models.Ticker, error) {
	raw, err := api.POST(ctx, endpointRates, nil, nil)
	if err != nil {
		return models.Ticker{}, err
	}
	var r vendorRates
	if err := json.Unmarshal(raw, &r); err != nil {
		return models.Ticker{}, apperrors.Wrap(err, "decoding rates")
	}
	if r.StatusCode != 0 && r.StatusCode != statusOK {
		return models.Ticker{}, apperrors.NewVendorError(r.StatusCode, r.Message)
	}
	if r.Buy <= 0 {
		return models.Ticker{}, apperrors.NewValidationError("buy", float64(r.Buy), "price must be positive")
	}
	return models.Ticker{
		Buy: models.PriceSide{
			Price: float64(r.Buy),
			Fee:   float64(r.BuyBTCFee),
			Tax:   float64(r.BuyBTCTax),
		},
		UpdatedAt: now(),
	}, nil
}
