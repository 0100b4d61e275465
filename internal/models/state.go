package models

// TradeState is the client's canonical trade progress, independent of the
// coarse status string the exchange reports.
type TradeState string

const (
	StateAwaitingReferenceNumber TradeState = "awaiting_reference_number"
	StateAwaitingTransferIn      TradeState = "awaiting_transfer_in"
	StateProcessing              TradeState = "processing"
	StateReviewing               TradeState = "reviewing"
	StateCompleted               TradeState = "completed"
	StateCompletedTest           TradeState = "completed_test"
	StateCancelled               TradeState = "cancelled"
	StateRejected                TradeState = "rejected"
	StateExpired                 TradeState = "expired"
	StateFailed                  TradeState = "failed"
)

var knownStates = map[TradeState]bool{
	StateAwaitingReferenceNumber: true,
	StateAwaitingTransferIn:      true,
	StateProcessing:              true,
	StateReviewing:               true,
	StateCompleted:               true,
	StateCompletedTest:           true,
	StateCancelled:               true,
	StateRejected:                true,
	StateExpired:                 true,
	StateFailed:                  true,
}

// Known reports whether s is a canonical state.
func (s TradeState) Known() bool {
	return knownStates[s]
}

// ReleasesAddress is true for terminal states that free the receive address.
func (s TradeState) ReleasesAddress() bool {
	switch s {
	case StateRejected, StateCancelled, StateExpired:
		return true
	}
	return false
}

// Settled is true once the amount the buyer receives is final.
func (s TradeState) Settled() bool {
	switch s {
	case StateCompleted, StateCompletedTest, StateCancelled, StateFailed, StateRejected:
		return true
	}
	return false
}

// Relevant is true for trades worth keeping in the persisted list: ones
// still awaiting payment or already completed.
func (s TradeState) Relevant() bool {
	switch s {
	case StateAwaitingReferenceNumber, StateAwaitingTransferIn, StateProcessing,
		StateReviewing, StateCompleted, StateCompletedTest:
		return true
	}
	return false
}
