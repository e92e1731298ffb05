package whiskers

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Money carries an exact decimal for parameters that target money or
// smallmoney columns. Parameters declare as decimal with the value's own
// scale and the server converts from there. Fetched money column values
// decode to plain decimal.Decimal; Scan converts them in place.
type Money struct {
	decimal.Decimal
}

// MoneyFromString parses a decimal literal such as "-882342757768.9998".
func MoneyFromString(s string) (Money, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Decimal: d}, nil
}

// Scan accepts the decimal.Decimal a fetched money column produces, or a
// numeric string or integer.
func (m *Money) Scan(v interface{}) error {
	switch vt := v.(type) {
	case decimal.Decimal:
		m.Decimal = vt
		return nil
	case string:
		d, err := decimal.NewFromString(vt)
		if err != nil {
			return err
		}
		m.Decimal = d
		return nil
	case int64:
		m.Decimal = decimal.NewFromInt(vt)
		return nil
	default:
		return fmt.Errorf("cannot convert %T to Money", v)
	}
}

// NullMoney represents a money value that may be NULL.
type NullMoney struct {
	Money Money
	Valid bool
}

func (n *NullMoney) Scan(v interface{}) error {
	if v == nil {
		*n = NullMoney{}
		return nil
	}
	n.Valid = true
	return n.Money.Scan(v)
}

func (n NullMoney) String() string {
	if !n.Valid {
		return "NULL"
	}
	return n.Money.String()
}
