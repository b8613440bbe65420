package ledger

import (
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is an amount in minor units (cents). No floats.
// Arithmetic is checked: overflow returns ErrOverflow instead of wrapping.
type Money int64

var (
	maxMoney = decimal.NewFromInt(math.MaxInt64)
	minMoney = decimal.NewFromInt(math.MinInt64)
)

func (m Money) IsZero() bool     { return m == 0 }
func (m Money) IsNegative() bool { return m < 0 }

// Add returns m+o.
func (m Money) Add(o Money) (Money, error) {
	s := m + o
	if (o > 0 && s < m) || (o < 0 && s > m) {
		return 0, ErrOverflow
	}
	return s, nil
}

// Sub returns m-o.
func (m Money) Sub(o Money) (Money, error) {
	d := m - o
	if (o > 0 && d > m) || (o < 0 && d < m) {
		return 0, ErrOverflow
	}
	return d, nil
}

// Neg returns -m.
func (m Money) Neg() (Money, error) {
	if m == math.MinInt64 {
		return 0, ErrOverflow
	}
	return -m, nil
}

// Cmp returns -1, 0 or +1.
func (m Money) Cmp(o Money) int {
	switch {
	case m < o:
		return -1
	case m > o:
		return 1
	default:
		return 0
	}
}

// String renders major units with two decimals, e.g. "-4.00".
func (m Money) String() string {
	return decimal.New(int64(m), -2).StringFixed(2)
}

// ParseMoney parses a decimal amount in major units ("12.34", "-4", "0.5").
// Sub-cent precision is rejected.
func ParseMoney(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("parse money %q: %w", s, err)
	}
	minor := d.Shift(2)
	if !minor.Equal(minor.Truncate(0)) {
		return 0, fmt.Errorf("parse money %q: more than two decimal places", s)
	}
	if minor.GreaterThan(maxMoney) || minor.LessThan(minMoney) {
		return 0, ErrOverflow
	}
	return Money(minor.IntPart()), nil
}

// Sum adds all values, failing on the first overflow.
func Sum(values ...Money) (Money, error) {
	var total Money
	for _, v := range values {
		var err error
		if total, err = total.Add(v); err != nil {
			return 0, err
		}
	}
	return total, nil
}
