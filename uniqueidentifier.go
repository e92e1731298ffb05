package whiskers

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// UniqueIdentifier is a 16 byte GUID in its canonical (display) byte order.
// Column values decode to uuid.UUID; this type exists for callers that want
// SQL Server's uppercase text convention and wire-order scanning.
type UniqueIdentifier uuid.UUID

// Scan accepts a wire-order []byte as sent by the server or a GUID string.
func (u *UniqueIdentifier) Scan(v interface{}) error {
	switch vt := v.(type) {
	case []byte:
		if len(vt) != 16 {
			return fmt.Errorf("invalid UniqueIdentifier length %d", len(vt))
		}
		*u = UniqueIdentifier(decodeGuid(vt))
		return nil
	case string:
		parsed, err := uuid.Parse(vt)
		if err != nil {
			return err
		}
		*u = UniqueIdentifier(parsed)
		return nil
	default:
		return fmt.Errorf("cannot convert %T to UniqueIdentifier", v)
	}
}

// Value returns the wire-order bytes.
func (u UniqueIdentifier) Value() ([]byte, error) {
	return encodeGuid(uuid.UUID(u)), nil
}

func (u UniqueIdentifier) String() string {
	return strings.ToUpper(uuid.UUID(u).String())
}

// MarshalText implements encoding.TextMarshaler.
func (u UniqueIdentifier) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (u *UniqueIdentifier) UnmarshalJSON(b []byte) error {
	input := strings.Trim(string(b), `"`)
	parsed, err := uuid.Parse(input)
	if err != nil {
		return err
	}
	*u = UniqueIdentifier(parsed)
	return nil
}

// NullUniqueIdentifier represents a nullable GUID.
type NullUniqueIdentifier struct {
	UUID  UniqueIdentifier
	Valid bool
}

func (n *NullUniqueIdentifier) Scan(v interface{}) error {
	if v == nil {
		*n = NullUniqueIdentifier{}
		return nil
	}
	n.Valid = true
	return n.UUID.Scan(v)
}

func (n NullUniqueIdentifier) String() string {
	if !n.Valid {
		return "NULL"
	}
	return n.UUID.String()
}
