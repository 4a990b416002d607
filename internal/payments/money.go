package payments

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// minorUnitScale returns the number of decimal places used by the ISO currency.
func minorUnitScale(code string) int32 {
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return 2
	}
	scale, _ := currency.Standard.Rounding(unit)
	return int32(scale)
}

// FormatMajor renders minor units as a decimal string in major units ("12.50").
func FormatMajor(amount int64, code string) string {
	scale := minorUnitScale(code)
	return decimal.New(amount, -scale).StringFixed(scale)
}

// ParseMajor converts a decimal major-unit string into minor units.
func ParseMajor(value string, code string) (int64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return 0, fmt.Errorf("payments: parse amount %q: %w", value, err)
	}
	return d.Shift(minorUnitScale(code)).Round(0).IntPart(), nil
}
