package money

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Money is a currency amount held at two-decimal precision.
//
// Invariant: every constructor and arithmetic result is rounded half-up to cents,
// so two Money values compare equal iff they print the same.
type Money struct {
	d decimal.Decimal
}

const places = 2

var ErrInvalidAmount = errors.New("money: invalid amount")

// Zero is $0.00.
var Zero = Money{d: decimal.Zero}

// New parses a decimal string such as "7.50" or "10".
func New(s string) (Money, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return Money{}, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	return FromDecimal(d), nil
}

// MustNew is New for constants and tests.
func MustNew(s string) Money {
	m, err := New(s)
	if err != nil {
		panic(err)
	}
	return m
}

func FromCents(cents int64) Money { return Money{d: decimal.New(cents, -places)} }

func FromDecimal(d decimal.Decimal) Money { return Money{d: round(d)} }

// FromFloat exists for legacy documents that stored credits as floating point.
func FromFloat(f float64) Money { return FromDecimal(decimal.NewFromFloat(f)) }

// round is half-up for non-negative amounts (decimal.Round rounds half away from zero).
func round(d decimal.Decimal) decimal.Decimal { return d.Round(places) }

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) Add(o Money) Money { return FromDecimal(m.d.Add(o.d)) }
func (m Money) Sub(o Money) Money { return FromDecimal(m.d.Sub(o.d)) }
func (m Money) Neg() Money        { return Money{d: m.d.Neg()} }

// MulFraction multiplies by an arbitrary fraction (e.g. the provider share) and rounds.
func (m Money) MulFraction(f decimal.Decimal) Money { return FromDecimal(m.d.Mul(f)) }

func (m Money) Abs() Money               { return Money{d: m.d.Abs()} }
func (m Money) Cmp(o Money) int          { return m.d.Cmp(o.d) }
func (m Money) Equal(o Money) bool       { return m.d.Equal(o.d) }
func (m Money) GreaterThan(o Money) bool { return m.d.GreaterThan(o.d) }
func (m Money) LessThan(o Money) bool    { return m.d.LessThan(o.d) }
func (m Money) IsZero() bool             { return m.d.IsZero() }
func (m Money) IsNegative() bool         { return m.d.IsNegative() }
func (m Money) IsPositive() bool         { return m.d.IsPositive() }

func Min(a, b Money) Money {
	if a.LessThan(b) {
		return a
	}
	return b
}

// Cents returns the amount in minor units.
func (m Money) Cents() int64 { return m.d.Shift(places).IntPart() }

func (m Money) String() string { return m.d.StringFixed(places) }

// Format renders the amount for display, e.g. "$7.50".
func (m Money) Format() string {
	if m.IsNegative() {
		return "-$" + m.Abs().String()
	}
	return "$" + m.String()
}

// MarshalJSON writes a fixed two-decimal string so clients never see float artifacts.
func (m Money) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

// UnmarshalJSON accepts a JSON string, an integer, or a decimal number.
// Older account documents stored credits as integers; all forms normalize to cents.
func (m *Money) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == "" {
		*m = Zero
		return nil
	}
	if strings.HasPrefix(s, `"`) {
		var raw string
		if err := json.Unmarshal(b, &raw); err != nil {
			return fmt.Errorf("%w: %s", ErrInvalidAmount, s)
		}
		s = raw
	}
	v, err := New(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Value stores the amount as a NUMERIC-compatible string.
func (m Money) Value() (driver.Value, error) { return m.String(), nil }

// Scan reads NUMERIC, integer, float, or text columns.
func (m *Money) Scan(src any) error {
	var d decimal.Decimal
	switch v := src.(type) {
	case nil:
		*m = Zero
		return nil
	case int64:
		d = decimal.NewFromInt(v)
	case float64:
		d = decimal.NewFromFloat(v)
	default:
		if err := d.Scan(src); err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidAmount, err)
		}
	}
	*m = FromDecimal(d)
	return nil
}
