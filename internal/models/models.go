// Package models provides domain models for the exchange client.
package models

// Currency is an ISO-ish currency code as used by the exchange.
type Currency string

const (
	INR Currency = "INR"
	BTC Currency = "BTC"
)

// SatoshiPerBTC converts whole bitcoin into its smallest unit.
const SatoshiPerBTC = 100000000

// Medium names used by payment mediums and trades.
const (
	MediumBank       = "bank"
	MediumBlockchain = "blockchain"
)
