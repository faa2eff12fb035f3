package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MoneyScale is the fixed fractional precision of every balance, price
	// and amount in the system.
	MoneyScale = 8
	// RiskScale is the precision of user risk scores.
	RiskScale = 2
)

// Money parses a decimal literal known at compile time. It panics on a bad
// literal, so it is only for constants and tests.
func Money(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(fmt.Sprintf("bad money literal %q: %v", s, err))
	}
	return d
}

// MulMoney multiplies two amounts and truncates the product to money scale.
// Truncation, not rounding: the system must never create value.
func MulMoney(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(MoneyScale)
}

// DivMoney divides a by b truncating toward zero at the given scale. Panics
// on division by zero, matching decimal.Decimal.Div.
func DivMoney(a, b decimal.Decimal, scale int32) decimal.Decimal {
	if b.IsZero() {
		panic("division by zero")
	}
	q, _ := a.QuoRem(b, scale)
	return q
}

// SumMoney adds a slice of amounts.
func SumMoney(values []decimal.Decimal) decimal.Decimal {
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum
}
