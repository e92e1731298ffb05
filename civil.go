package whiskers

import (
	"fmt"
	"time"

	"github.com/golang-sql/civil"
)

// NullDate represents a civil.Date that may be null. It implements Scan so
// fetched date column values (time.Time) can be converted in place.
type NullDate struct {
	Date  civil.Date
	Valid bool // Valid is true if Date is not NULL
}

// Scan implements the Scanner interface.
func (n *NullDate) Scan(value interface{}) error {
	if value == nil {
		n.Date, n.Valid = civil.Date{}, false
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		n.Date, n.Valid = civil.DateOf(v), true
		return nil
	default:
		n.Valid = false
		return fmt.Errorf("cannot scan %T into NullDate", value)
	}
}

// String returns the string representation of the date or "NULL".
func (n NullDate) String() string {
	if !n.Valid {
		return "NULL"
	}
	return n.Date.String()
}

// NullTime represents a civil.Time that may be null.
type NullTime struct {
	Time  civil.Time
	Valid bool
}

// Scan implements the Scanner interface.
func (n *NullTime) Scan(value interface{}) error {
	if value == nil {
		n.Time, n.Valid = civil.Time{}, false
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		n.Time, n.Valid = civil.TimeOf(v), true
		return nil
	default:
		n.Valid = false
		return fmt.Errorf("cannot scan %T into NullTime", value)
	}
}

func (n NullTime) String() string {
	if !n.Valid {
		return "NULL"
	}
	return n.Time.String()
}

// NullDateTime represents a civil.DateTime that may be null.
type NullDateTime struct {
	DateTime civil.DateTime
	Valid    bool
}

// Scan implements the Scanner interface.
func (n *NullDateTime) Scan(value interface{}) error {
	if value == nil {
		n.DateTime, n.Valid = civil.DateTime{}, false
		return nil
	}
	switch v := value.(type) {
	case time.Time:
		n.DateTime, n.Valid = civil.DateTimeOf(v), true
		return nil
	default:
		n.Valid = false
		return fmt.Errorf("cannot scan %T into NullDateTime", value)
	}
}

func (n NullDateTime) String() string {
	if !n.Valid {
		return "NULL"
	}
	return n.DateTime.String()
}
