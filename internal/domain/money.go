package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

const (
	// MaxMinorAmount caps any single amount (unit price, order total, payout) in minor units.
	MaxMinorAmount int64 = 1_000_000_000_000
	// MaxQuantity caps the quantity of one cart line.
	MaxQuantity = 10_000
)

var ErrAmountOutOfRange = errors.New("amount out of range")

var (
	hundred   = decimal.NewFromInt(100)
	maxAmount = decimal.NewFromInt(MaxMinorAmount)
)

// ToMinorUnits converts a major-unit amount to integer minor units, rounding half away from zero.
func ToMinorUnits(major decimal.Decimal) int64 {
	return major.Mul(hundred).Round(0).IntPart()
}

// ToMinorUnitsFloat is ToMinorUnits for float inputs. The float is read at its shortest
// decimal representation, so 0.01 becomes exactly 1.
func ToMinorUnitsFloat(major float64) int64 {
	return ToMinorUnits(decimal.NewFromFloat(major))
}

// FromMinorUnits converts minor units back to an exact major-unit decimal.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// ValidateMajorAmount rejects amounts that are not positive, carry more than two
// decimals, or exceed MaxMinorAmount once converted. An amount that passes always
// converts to minor units without overflow.
func ValidateMajorAmount(major decimal.Decimal) error {
	if !major.IsPositive() {
		return fmt.Errorf("amount must be positive")
	}
	if !major.Equal(major.Truncate(2)) {
		return fmt.Errorf("amount must have at most 2 decimal places")
	}
	if major.Mul(hundred).GreaterThan(maxAmount) {
		return fmt.Errorf("amount must not exceed %s", FromMinorUnits(MaxMinorAmount).StringFixed(2))
	}
	return nil
}

// CheckedLineTotal is LineTotal that refuses results above MaxMinorAmount.
func (c CartItem) CheckedLineTotal() (int64, error) {
	if c.Price < 0 || c.Quantity < 0 {
		return 0, ErrAmountOutOfRange
	}
	if c.Quantity > 0 && c.Price > MaxMinorAmount/int64(c.Quantity) {
		return 0, ErrAmountOutOfRange
	}
	return c.Price * int64(c.Quantity), nil
}

// OrderTotal sums the line totals, failing instead of exceeding MaxMinorAmount.
func OrderTotal(items []CartItem) (int64, error) {
	var total int64
	for _, it := range items {
		line, err := it.CheckedLineTotal()
		if err != nil {
			return 0, fmt.Errorf("line %s: %w", it.ProductID, err)
		}
		if line > MaxMinorAmount-total {
			return 0, fmt.Errorf("order total: %w", ErrAmountOutOfRange)
		}
		total += line
	}
	return total, nil
}
