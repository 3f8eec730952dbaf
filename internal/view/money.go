package view

import (
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"
)

var printer = message.NewPrinter(language.English)

// Money formats amount with the ISO currency symbol and grouped digits.
// Unknown currency codes fall back to the code itself.
func Money(amount decimal.Decimal, code string) string {
	code = strings.ToUpper(strings.TrimSpace(code))
	value, _ := amount.Round(2).Float64()
	digits := printer.Sprint(number.Decimal(value, number.MinFractionDigits(2), number.MaxFractionDigits(2)))
	unit, err := currency.ParseISO(code)
	if err != nil {
		if code == "" {
			return digits
		}
		return code + " " + digits
	}
	return printer.Sprint(currency.Symbol(unit)) + " " + digits
}
