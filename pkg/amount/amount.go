// Package amount converts between decimal string token amounts and integer
// base units, and implements the harness's spend allocation policy.
package amount

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// ErrInvalidAmount indicates a value string that is non-numeric, negative, or
// cannot be represented in base units at the given decimal scale.
var ErrInvalidAmount = errors.New("invalid amount")

const maxDigits = 19

// ToBaseUnits converts a decimal string representation of a token amount to
// its integer base unit value at the provided decimal scale.
//
// An error is returned if the value string is invalid, or it cannot be
// accurately represented as base units. For example, a value smaller than one
// base unit, or a value far greater than the supply.
func ToBaseUnits(val string, decimals uint8) (uint64, error) {
	parts := strings.Split(val, ".")
	if len(parts) > 2 {
		return 0, errors.Wrapf(ErrInvalidAmount, "%s is not a decimal value", val)
	}

	if len(parts[0]) > maxDigits-int(decimals) {
		return 0, errors.Wrapf(ErrInvalidAmount, "%s cannot be represented", val)
	}

	whole, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return 0, errors.Wrapf(ErrInvalidAmount, "%s is not a positive decimal value", val)
	}

	var frac uint64
	if len(parts) == 2 {
		if len(parts[1]) > int(decimals) {
			return 0, errors.Wrapf(ErrInvalidAmount, "%s cannot be represented at %d decimals", val, decimals)
		}

		padded := fmt.Sprintf("%s%s", parts[1], strings.Repeat("0", int(decimals)-len(parts[1])))
		frac, err = strconv.ParseUint(padded, 10, 64)
		if err != nil {
			return 0, errors.Wrapf(ErrInvalidAmount, "%s has an invalid decimal component", val)
		}
	}

	return whole*pow10(decimals) + frac, nil
}

// FromBaseUnits converts an integer base unit value to its decimal string
// representation at the provided decimal scale.
func FromBaseUnits(units uint64, decimals uint8) string {
	if decimals == 0 {
		return strconv.FormatUint(units, 10)
	}

	scale := pow10(decimals)
	return fmt.Sprintf("%d.%0*d", units/scale, decimals, units%scale)
}

// SplitEvenly divides a total into near-equal spend amounts using integer
// floor division. A parts value <= 0 yields the total unchanged (no split).
//
// Guarantees: result <= total and result*parts <= total.
func SplitEvenly(total uint64, parts int) uint64 {
	if parts <= 0 {
		return total
	}

	return total / uint64(parts)
}

// ClampToBalance reduces the requested amount to the available balance and
// reports whether a reduction was applied.
func ClampToBalance(requested, available uint64) (uint64, bool) {
	if requested > available {
		return available, true
	}
	return requested, false
}

func pow10(decimals uint8) uint64 {
	result := uint64(1)
	for i := uint8(0); i < decimals; i++ {
		result *= 10
	}
	return result
}
