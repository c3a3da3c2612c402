package stats

import (
	"fmt"
	"math"
	"time"
)

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatMHz formats a clock value, or "-" when no sample exists.
func FormatMHz(mhz uint64) string {
	if mhz == 0 || mhz == math.MaxUint64 {
		return "-"
	}
	return fmt.Sprintf("%d MHz", mhz)
}

// FormatMHzFloat formats a fractional clock value, or "-" for zero.
func FormatMHzFloat(mhz float64) string {
	if mhz <= 0 || math.IsNaN(mhz) {
		return "-"
	}
	return fmt.Sprintf("%.0f MHz", mhz)
}

// FormatProgress renders elapsed/total seconds, e.g. "00:01:05 / 00:05:00".
func FormatProgress(current, total uint64) string {
	return FormatDuration(time.Duration(current)*time.Second) + " / " +
		FormatDuration(time.Duration(total)*time.Second)
}

// Percent returns part/whole as a percentage, 0 when whole is 0.
func Percent(part, whole uint64) float64 {
	if whole == 0 {
		return 0
	}
	p := float64(part) / float64(whole) * 100
	if p > 100 {
		return 100
	}
	return p
}
