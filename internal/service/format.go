package service

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// groupThousands renders d with comma separators and the given decimals.
func groupThousands(d decimal.Decimal, places int32) string {
	s := d.Abs().StringFixed(places)
	intPart, frac, hasFrac := strings.Cut(s, ".")

	var b strings.Builder
	if d.IsNegative() && !d.Round(places).IsZero() {
		b.WriteByte('-')
	}
	for i, r := range intPart {
		if i > 0 && (len(intPart)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if hasFrac {
		b.WriteByte('.')
		b.WriteString(frac)
	}
	return b.String()
}

// sats renders an integer amount of satoshis.
func sats(n int64) string {
	return groupThousands(decimal.NewFromInt(n), 0)
}

// spanText renders a lookback window the way alerts phrase it.
func spanText(d time.Duration) string {
	switch {
	case d >= time.Hour && d%time.Hour == 0:
		h := int(d / time.Hour)
		if h == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", h)
	case d >= time.Minute && d%time.Minute == 0:
		return fmt.Sprintf("%d min", int(d/time.Minute))
	default:
		return d.String()
	}
}

var markdownEscaper = strings.NewReplacer("_", "\\_", "*", "\\*", "`", "\\`", "[", "\\[")

// escapeMarkdown protects user-controlled text such as node aliases.
func escapeMarkdown(s string) string {
	return markdownEscaper.Replace(s)
}
