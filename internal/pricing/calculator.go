// Package pricing derives discount and final amounts for checkout intents.
//
// All amounts are integers in the smallest currency unit. Percentages are decimals so that
// catalog values such as "12.5" survive without float drift.
package pricing

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ErrMalformedAmount is returned when a formatted amount cannot be normalised.
var ErrMalformedAmount = errors.New("pricing: malformed amount")

// ErrMalformedPercentage is returned when a percentage string cannot be parsed.
var ErrMalformedPercentage = errors.New("pricing: malformed percentage")

// ErrAmountOverflow is returned when a line or order total does not fit in int64.
var ErrAmountOverflow = errors.New("pricing: amount overflow")

var (
	hundred      = decimal.NewFromInt(100)
	currencyTags = []string{"vnd", "đ", "₫"}
)

// ComputeDiscount returns round(amount * percentage / 100), rounding half away from zero.
// The percentage is clamped to [0, 100] and a negative amount yields zero.
func ComputeDiscount(amount int64, percentage decimal.Decimal) int64 {
	if amount <= 0 {
		return 0
	}
	pct := clampPercentage(percentage)
	if pct.IsZero() {
		return 0
	}
	discount := decimal.NewFromInt(amount).Mul(pct).Div(hundred).Round(0)
	return discount.IntPart()
}

// ApplyDiscount returns max(0, amount - discount).
func ApplyDiscount(amount, discount int64) int64 {
	if discount < 0 {
		discount = 0
	}
	final := amount - discount
	if final < 0 {
		return 0
	}
	return final
}

// ParseAmount normalises a storefront-formatted amount such as "1.250.000 đ" into units.
// Both '.' and ',' are treated as thousands separators.
func ParseAmount(raw string) (int64, error) {
	cleaned := strings.ToLower(strings.TrimSpace(raw))
	for _, tag := range currencyTags {
		cleaned = strings.TrimSuffix(cleaned, tag)
		cleaned = strings.TrimPrefix(cleaned, tag)
	}
	var b strings.Builder
	for _, r := range cleaned {
		switch {
		case r == '.' || r == ',' || unicode.IsSpace(r):
			continue
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' && b.Len() == 0:
			b.WriteRune(r)
		default:
			return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
		}
	}
	digits := b.String()
	if digits == "" || digits == "-" {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	value, err := strconv.ParseInt(digits, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedAmount, raw)
	}
	return value, nil
}

// ParsePercentage parses values such as "10", "12.5" or "15%".
func ParsePercentage(raw string) (decimal.Decimal, error) {
	cleaned := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(raw), "%"))
	if cleaned == "" {
		return decimal.Zero, fmt.Errorf("%w: empty", ErrMalformedPercentage)
	}
	pct, err := decimal.NewFromString(cleaned)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: %q", ErrMalformedPercentage, raw)
	}
	return pct, nil
}

// DiscountFromText is the lenient form of ComputeDiscount used with raw catalog values.
// Malformed input yields zero.
func DiscountFromText(amount, percentage string) int64 {
	value, err := ParseAmount(amount)
	if err != nil {
		return 0
	}
	pct, err := ParsePercentage(percentage)
	if err != nil {
		return 0
	}
	return ComputeDiscount(value, pct)
}

// ApplyDiscountFromText applies discount to a formatted amount, yielding zero for malformed input.
func ApplyDiscountFromText(amount string, discount int64) int64 {
	value, err := ParseAmount(amount)
	if err != nil {
		return 0
	}
	return ApplyDiscount(value, discount)
}

// Line is a priced input line.
type Line struct {
	UnitPrice int64
	Quantity  int64
}

// LineQuote holds the derived figures for one line.
type LineQuote struct {
	LineTotal    int64
	LineDiscount int64
	LineFinal    int64
}

// Breakdown is the full quote for an order.
type Breakdown struct {
	Lines          []LineQuote
	Percentage     decimal.Decimal
	OriginalAmount int64
	DiscountAmount int64
	FinalAmount    int64
}

// Quote prices every line and the order as a whole. Line discounts are rounded independently,
// so their sum may differ by rounding from the order-level DiscountAmount.
func Quote(lines []Line, percentage decimal.Decimal) (Breakdown, error) {
	pct := clampPercentage(percentage)
	out := Breakdown{
		Lines:      make([]LineQuote, 0, len(lines)),
		Percentage: pct,
	}
	for i, line := range lines {
		qty := line.Quantity
		if qty < 0 {
			qty = 0
		}
		price := line.UnitPrice
		if price < 0 {
			price = 0
		}
		if qty != 0 && price > math.MaxInt64/qty {
			return Breakdown{}, fmt.Errorf("%w: line %d is %d x %d", ErrAmountOverflow, i+1, price, qty)
		}
		total := price * qty
		if out.OriginalAmount > math.MaxInt64-total {
			return Breakdown{}, fmt.Errorf("%w: order total at line %d", ErrAmountOverflow, i+1)
		}
		discount := ComputeDiscount(total, pct)
		out.Lines = append(out.Lines, LineQuote{
			LineTotal:    total,
			LineDiscount: discount,
			LineFinal:    ApplyDiscount(total, discount),
		})
		out.OriginalAmount += total
	}
	out.DiscountAmount = ComputeDiscount(out.OriginalAmount, pct)
	out.FinalAmount = ApplyDiscount(out.OriginalAmount, out.DiscountAmount)
	return out, nil
}

func clampPercentage(pct decimal.Decimal) decimal.Decimal {
	if pct.IsNegative() {
		return decimal.Zero
	}
	if pct.GreaterThan(hundred) {
		return hundred
	}
	return pct
}
