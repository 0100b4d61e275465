package models

import "time"

// PriceSide is one side of the exchange's rate card. Price is fiat per BTC;
// Fee and Tax are percentages.
type PriceSide struct {
	Price float64
	Fee   float64
	Tax   float64
}

// Ticker is a snapshot of the exchange's current rates.
type Ticker struct {
	Buy       PriceSide
	UpdatedAt time.Time
}

// Fresh reports whether the ticker is younger than ttl at now.
func (t Ticker) Fresh(now time.Time, ttl time.Duration) bool {
	return !t.UpdatedAt.IsZero() && now.Sub(t.UpdatedAt) < ttl
}
