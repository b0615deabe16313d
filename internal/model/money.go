package model

import "github.com/shopspring/decimal"

// MoneyScale is the number of fractional digits the money columns keep.
const MoneyScale = 2

// MaxMoney is the exclusive upper bound of a NUMERIC(20,2) column.
var MaxMoney = decimal.New(1, 20-MoneyScale)

// ValidMoney reports whether d is stored exactly by the money columns,
// without rounding or overflow.
func ValidMoney(d decimal.Decimal) bool {
	return d.Equal(d.Truncate(MoneyScale)) && d.Abs().LessThan(MaxMoney)
}
