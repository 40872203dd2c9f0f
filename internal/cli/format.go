package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// FormatPrice formats a price with as many decimals as the tick size needs.
func FormatPrice(price, tick float64) string {
	places := int32(2)
	if tick > 0 {
		if exp := decimal.NewFromFloat(tick).Exponent(); -exp > places {
			places = -exp
		}
	}
	return decimal.NewFromFloat(price).StringFixed(places)
}

// FormatQuantity formats a signed position quantity.
func FormatQuantity(q int) string {
	if q > 0 {
		return fmt.Sprintf("+%d", q)
	}
	return fmt.Sprintf("%d", q)
}

// FormatTime formats a time of day in the local zone.
func FormatTime(t time.Time) string {
	return t.Local().Format("15:04:05")
}

// FormatDateTime formats a datetime.
func FormatDateTime(t time.Time) string {
	return t.Local().Format("02-Jan-2006 15:04:05")
}

// FormatDuration formats a duration in human-readable form.
func FormatDuration(d time.Duration) string {
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

// PadRight pads a string to the right.
func PadRight(s string, length int) string {
	if len(s) >= length {
		return s
	}
	return s + strings.Repeat(" ", length-len(s))
}
