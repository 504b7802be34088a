// Package report formats engine results for terminal output.
package report

import (
	"fmt"
	"math"
	"strings"
)

// FormatInt formats an integer with comma separators.
func FormatInt(n int64) string {
	if n < 0 {
		return "-" + FormatInt(-n)
	}
	s := fmt.Sprintf("%d", n)
	if len(s) <= 3 {
		return s
	}
	var b strings.Builder
	start := len(s) % 3
	if start > 0 {
		b.WriteString(s[:start])
	}
	for i := start; i < len(s); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(s[i : i+3])
	}
	return b.String()
}

// FormatMoney formats a currency amount as 12,345.67.
func FormatMoney(v float64) string {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return FormatRatio(v)
	}
	cents := int64(math.Round(math.Abs(v) * 100))
	s := fmt.Sprintf("%s.%02d", FormatInt(cents/100), cents%100)
	if v < 0 && cents != 0 {
		return "-" + s
	}
	return s
}

// FormatPct formats a value already expressed in percent with an explicit
// sign, e.g. "+12.3%". Zero prints as "0.0%".
func FormatPct(p float64) string {
	switch {
	case math.IsNaN(p) || math.IsInf(p, 0):
		return FormatRatio(p)
	case math.Abs(p) < 0.05:
		return "0.0%"
	case p > 0:
		return fmt.Sprintf("+%.1f%%", p)
	}
	return fmt.Sprintf("%.1f%%", p)
}

// FormatWeight formats a portfolio weight in [0,1] as a percentage.
func FormatWeight(w float64) string {
	return fmt.Sprintf("%.2f%%", w*100)
}

// FormatRatio formats a dimensionless ratio such as Sharpe or profit
// factor. Infinities print as INF.
func FormatRatio(v float64) string {
	switch {
	case math.IsInf(v, 1):
		return "INF"
	case math.IsInf(v, -1):
		return "-INF"
	case math.IsNaN(v):
		return "n/a"
	}
	return fmt.Sprintf("%.3f", v)
}
