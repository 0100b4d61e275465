package exchange

import (
	"strings"

	"github.com/rs/zerolog"
)

// KYCStatus is the exchange's verification verdict for the account.
type KYCStatus string

const (
	KYCUnverified KYCStatus = "unverified"
	KYCPending    KYCStatus = "pending"
	KYCVerified   KYCStatus = "verified"
)

// ParseKYCStatus maps the exchange's status text. Unknown text is logged
// and treated as unverified.
func ParseKYCStatus(status string, logger zerolog.Logger) KYCStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "unverified user", "":
		return KYCUnverified
	case "verification pending":
		return KYCPending
	case "verified user":
		return KYCVerified
	}
	logger.Warn().Str("status", status).Msg("Unknown KYC status")
	return KYCUnverified
}

// KYCStatusForLevel derives a status when the exchange sends none.
func KYCStatusForLevel(level int) KYCStatus {
	switch {
	case level >= 3:
		return KYCVerified
	case level == 2:
		return KYCPending
	}
	return KYCUnverified
}
