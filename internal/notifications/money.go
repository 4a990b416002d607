package notifications

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

// FormatMoney renders minor units as "AED 1,234.50" using the ISO code and the currency's standard scale.
// Unknown currencies fall back to two decimals.
func FormatMoney(minor int64, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	scale := 2
	if unit, err := currency.ParseISO(code); err == nil {
		scale, _ = currency.Standard.Rounding(unit)
		code = unit.String()
	}
	amount, _ := decimal.New(minor, int32(-scale)).Float64()
	formatted := message.NewPrinter(language.English).Sprint(number.Decimal(amount, number.Scale(scale)))
	if code == "" {
		return formatted
	}
	return code + " " + formatted
}
