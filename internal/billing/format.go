package billing

import (
	money "github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// FormatAmount renders amount in the currency's display form, e.g. "$9.99".
// Unknown currency codes fall back to "9.99 XYZ".
func FormatAmount(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2) + " " + currency
	}
	minor := amount.Mul(decimal.New(1, int32(cur.Fraction))).Round(0).IntPart()
	return money.New(minor, cur.Code).Display()
}
