// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"
)

// StateStore persists exchange session snapshots.
type StateStore interface {
	// Snapshots
	SaveState(ctx context.Context, partner string, data []byte, trades []TradeRecord) error
	LoadState(ctx context.Context, partner string) ([]byte, error)

	// Trade index
	ListTrades(ctx context.Context, filter TradeFilter) ([]TradeRecord, error)

	// Sync
	GetLastSync(dataType string) time.Time
	SetLastSync(dataType string, t time.Time) error

	// Lifecycle
	Close() error
}

// TradeRecord is the indexed summary of a persisted trade.
type TradeRecord struct {
	Partner   string
	ID        int64
	State     string
	IsBuy     bool
	UpdatedAt time.Time
}

// TradeFilter represents filters for querying indexed trades.
type TradeFilter struct {
	Partner string
	State   string
	IsBuy   *bool
	Limit   int
}
