package model

import (
	"bytes"
	"fmt"

	"github.com/shopspring/decimal"
)

// Money is a currency amount held at two decimal places.
type Money struct {
	d decimal.Decimal
}

func NewMoney(d decimal.Decimal) Money {
	return Money{d: d.Round(2)}
}

func MoneyFromFloat(f float64) Money {
	return NewMoney(decimal.NewFromFloat(f))
}

func (m Money) Decimal() decimal.Decimal { return m.d }

func (m Money) String() string { return m.d.StringFixed(2) }

func (m Money) Equal(o Money) bool { return m.d.Equal(o.d) }

func (m Money) Add(o Money) Money { return NewMoney(m.d.Add(o.d)) }

// MarshalJSON writes the amount as a bare JSON number, e.g. 14.00.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.d.StringFixed(2)), nil
}

// UnmarshalJSON accepts a JSON number or a numeric string.
func (m *Money) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*m = Money{}
		return nil
	}
	b = bytes.Trim(b, `"`)
	d, err := decimal.NewFromString(string(b))
	if err != nil {
		return fmt.Errorf("parse money %q: %w", string(b), err)
	}
	*m = NewMoney(d)
	return nil
}
