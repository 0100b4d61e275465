package security

import (
	"regexp"
	"strings"

	apperrors "unocoin-client/internal/errors"
)

// Validation patterns for the identity fields the exchange checks on
// submission.
var (
	// PAN: five letters, four digits, one letter.
	panPattern = regexp.MustCompile(`^[A-Z]{5}[0-9]{4}[A-Z]$`)

	// IFSC: bank code, a literal zero, branch code.
	ifscPattern = regexp.MustCompile(`^[A-Z]{4}0[A-Z0-9]{6}$`)

	mobilePattern    = regexp.MustCompile(`^[0-9]{10}$`)
	pincodePattern   = regexp.MustCompile(`^[1-9][0-9]{5}$`)
	accountPattern   = regexp.MustCompile(`^[0-9]{4,18}$`)
	referencePattern = regexp.MustCompile(`^[A-Za-z0-9]{6,30}$`)

	// Token patterns for detection (not validation)
	tokenPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)(bearer)\s+([A-Za-z0-9_\-\.]{8,})`),
		regexp.MustCompile(`(?i)(offline[_-]?token|access[_-]?token|shared[_-]?key|passphrase)["']?[=:\s]+["']?([^\s"',}]+)`),
	}
)

// ValidatePAN validates a permanent account number.
func ValidatePAN(pan string) error {
	pan = strings.ToUpper(strings.TrimSpace(pan))
	if !panPattern.MatchString(pan) {
		return apperrors.NewValidationError("pancard", pan, "invalid PAN format")
	}
	return nil
}

// ValidateIFSC validates a bank branch code.
func ValidateIFSC(ifsc string) error {
	ifsc = strings.ToUpper(strings.TrimSpace(ifsc))
	if !ifscPattern.MatchString(ifsc) {
		return apperrors.NewValidationError("ifsc", ifsc, "invalid IFSC format")
	}
	return nil
}

// ValidateMobile validates a ten digit mobile number.
func ValidateMobile(mobile string) error {
	if !mobilePattern.MatchString(strings.TrimSpace(mobile)) {
		return apperrors.NewValidationError("mobile", mobile, "mobile must be 10 digits")
	}
	return nil
}

// ValidatePincode validates a postal index number.
func ValidatePincode(pin string) error {
	if !pincodePattern.MatchString(strings.TrimSpace(pin)) {
		return apperrors.NewValidationError("zipcode", pin, "invalid pincode")
	}
	return nil
}

// ValidateBankAccount validates an account number.
func ValidateBankAccount(number string) error {
	if !accountPattern.MatchString(strings.TrimSpace(number)) {
		return apperrors.NewValidationError("bank_account_number", number, "invalid account number")
	}
	return nil
}

// ValidateReferenceNumber validates a bank transfer reference.
func ValidateReferenceNumber(ref string) error {
	if !referencePattern.MatchString(strings.TrimSpace(ref)) {
		return apperrors.NewValidationError("reference_number", ref, "reference must be 6-30 letters or digits")
	}
	return nil
}

// MaskCredential masks a credential for display, showing only first and last few characters.
func MaskCredential(value string) string {
	if len(value) == 0 {
		return ""
	}
	if len(value) <= 4 {
		return strings.Repeat("*", len(value))
	}
	if len(value) <= 8 {
		return value[:2] + strings.Repeat("*", len(value)-2)
	}
	return value[:4] + strings.Repeat("*", len(value)-8) + value[len(value)-4:]
}

// MaskTokens masks bearer tokens and credential assignments in s.
func MaskTokens(s string) string {
	for _, pattern := range tokenPatterns {
		s = pattern.ReplaceAllStringFunc(s, func(match string) string {
			sub := pattern.FindStringSubmatch(match)
			if len(sub) < 3 {
				return MaskCredential(match)
			}
			return strings.Replace(match, sub[2], MaskCredential(sub[2]), 1)
		})
	}
	return s
}
