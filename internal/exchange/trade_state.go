package exchange

import (
	"strings"

	"unocoin-client/internal/models"
)

// InferState maps the exchange's coarse status onto a canonical state.
// Pending splits on whether a bank reference is attached. Unknown statuses
// fall back to awaiting_reference_number and report known=false.
func InferState(status, referenceNumber string) (state models.TradeState, known bool) {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "pending":
		if strings.TrimSpace(referenceNumber) == "" {
			return models.StateAwaitingReferenceNumber, true
		}
		return models.StateAwaitingTransferIn, true
	case "approved":
		return models.StateProcessing, true
	case "completed":
		return models.StateCompleted, true
	case "cancelled", "canceled":
		return models.StateCancelled, true
	}
	return models.StateAwaitingReferenceNumber, false
}

// FilteredTrades keeps trades that are still awaiting payment or completed,
// dropping ones that were abandoned, expired or rejected.
func FilteredTrades(trades []*Trade) []*Trade {
	out := make([]*Trade, 0, len(trades))
	for _, t := range trades {
		if t.State().Relevant() {
			out = append(out, t)
		}
	}
	return out
}
