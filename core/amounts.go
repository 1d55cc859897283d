package core

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// EtherDecimals is the number of smallest units per whole native coin (wei per ether).
const EtherDecimals int32 = 18

var (
	one     = decimal.NewFromInt(1)
	hundred = decimal.NewFromInt(100)
)

// IsValidAmount returns true if d is a non-negative whole number of smallest units.
func IsValidAmount(d decimal.Decimal) bool {
	return !d.IsNegative() && d.IsInteger()
}

// ParseAmount parses a base-10 integer amount in smallest units.
func ParseAmount(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%w: amount %q: %v", ErrInvalidParameters, s, err)
	}
	if !IsValidAmount(d) {
		return decimal.Zero, fmt.Errorf("%w: amount %q must be a non-negative integer", ErrInvalidParameters, s)
	}
	return d, nil
}

// Ether converts a human ether value such as "1.5" into wei.
// Panics on malformed input; intended for configuration literals and tests.
func Ether(s string) decimal.Decimal {
	return decimal.RequireFromString(s).Shift(EtherDecimals)
}

// FormatEther renders a wei amount as ether with trailing zeros trimmed.
func FormatEther(wei decimal.Decimal) string {
	return wei.Shift(-EtherDecimals).String()
}

// MeetsMinimum returns true if amount is at least minimum.
func MeetsMinimum(amount, minimum decimal.Decimal) bool {
	return amount.GreaterThanOrEqual(minimum)
}

// SplitCommission divides a winning amount into the platform commission
// (amount * percent / 100, rounded down) and the seller's proceeds.
// The two parts always sum to amount.
func SplitCommission(amount decimal.Decimal, commissionPercent int) (commission, sellerProceeds decimal.Decimal) {
	commission, _ = amount.Mul(decimal.NewFromInt(int64(commissionPercent))).QuoRem(hundred, 0)
	return commission, amount.Sub(commission)
}

// SumAmounts adds a list of amounts.
func SumAmounts(amounts ...decimal.Decimal) decimal.Decimal {
	total := decimal.Zero
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
