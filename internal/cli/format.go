package cli

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"unocoin-client/internal/models"
)

// FormatIndianCurrency formats a number in Indian currency format (lakhs, crores).
func FormatIndianCurrency(amount float64) string {
	negative := amount < 0
	if negative {
		amount = -amount
	}

	str := fmt.Sprintf("%.2f", amount)
	parts := strings.Split(str, ".")
	intPart := parts[0]
	decPart := parts[1]

	formatted := formatIndianNumber(intPart)

	result := "₹" + formatted + "." + decPart
	if negative {
		result = "-" + result
	}
	return result
}

// formatIndianNumber formats an integer string in Indian numbering system.
// Indian system: 1,00,00,000 (1 crore) vs Western: 10,000,000
func formatIndianNumber(s string) string {
	n := len(s)
	if n <= 3 {
		return s
	}

	// First group of 3 from right (hundreds)
	result := s[n-3:]
	s = s[:n-3]

	// Then groups of 2 (thousands, lakhs, crores)
	for len(s) > 0 {
		if len(s) >= 2 {
			result = s[len(s)-2:] + "," + result
			s = s[:len(s)-2]
		} else {
			result = s + "," + result
			s = ""
		}
	}

	return result
}

// FormatRupees formats a whole-rupee amount as stored on quotes and trades.
func FormatRupees(amount int64) string {
	return FormatIndianCurrency(float64(amount))
}

// FormatBTC renders satoshis as a fixed 8-decimal BTC amount.
func FormatBTC(sats int64) string {
	sign := ""
	if sats < 0 {
		sign = "-"
		sats = -sats
	}
	whole := sats / models.SatoshiPerBTC
	frac := sats % models.SatoshiPerBTC
	return fmt.Sprintf("%s%d.%08d BTC", sign, whole, frac)
}

// FormatAmount renders an amount in its currency's unit.
func FormatAmount(amount int64, c models.Currency) string {
	if c == models.BTC {
		return FormatBTC(amount)
	}
	return FormatRupees(amount)
}

// ParseAmount reads a CLI amount in the currency's display unit and returns
// it in the unit quotes work in: satoshis for BTC, rupees for INR.
func ParseAmount(s string, c models.Currency) (int64, error) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(strings.TrimSpace(s), ",", ""), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("invalid amount %q", s)
	}
	if c == models.BTC {
		return int64(math.Round(v * models.SatoshiPerBTC)), nil
	}
	return int64(math.Round(v)), nil
}

// FormatPercent formats a fee or tax rate.
func FormatPercent(value float64) string {
	return fmt.Sprintf("%.2f%%", value)
}

// FormatDateTime formats a datetime in IST.
func FormatDateTime(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	ist, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		ist = time.FixedZone("IST", 5*3600+30*60)
	}
	return t.In(ist).Format("02-Jan-2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	} else if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	} else if d < 24*time.Hour {
		return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	return fmt.Sprintf("%dd %dh", days, hours)
}

// TruncateString truncates a string to max length with ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return s[:maxLen]
	}
	return s[:maxLen-3] + "..."
}
