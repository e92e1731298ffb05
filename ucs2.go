package whiskers

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// TDS carries identifiers and login fields as UCS-2 little endian.
var utf16le = unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)

func str2ucs2(s string) []byte {
	ret, err := utf16le.NewEncoder().Bytes([]byte(s))
	if err != nil {
		// Invalid UTF-8 input, substitute what cannot be encoded.
		ret, _ = encoding.ReplaceUnsupported(utf16le.NewEncoder()).Bytes([]byte(s))
	}
	return ret
}

func ucs22str(s []byte) (string, error) {
	if len(s)%2 != 0 {
		return "", fmt.Errorf("illegal UCS2 string length: %d", len(s))
	}
	buf, err := utf16le.NewDecoder().Bytes(s)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

func readUcs2(r io.Reader, numchars int) (res string, err error) {
	buf := make([]byte, numchars*2)
	if _, err = io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return ucs22str(buf)
}

func readBVarChar(r io.Reader) (string, error) {
	var numchars uint8
	if err := binary.Read(r, binary.LittleEndian, &numchars); err != nil {
		return "", err
	}
	return readUcs2(r, int(numchars))
}

func writeBVarChar(w io.Writer, s string) error {
	buf := str2ucs2(s)
	if len(buf)/2 > 0xff {
		return fmt.Errorf("invalid size of B_VARCHAR")
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(len(buf)/2)); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

func readUsVarChar(r io.Reader) (string, error) {
	var numchars uint16
	if err := binary.Read(r, binary.LittleEndian, &numchars); err != nil {
		return "", err
	}
	return readUcs2(r, int(numchars))
}

func writeUsVarChar(w io.Writer, s string) error {
	buf := str2ucs2(s)
	if len(buf)/2 > 0xffff {
		return fmt.Errorf("invalid size of US_VARCHAR")
	}
	if err := binary.Write(w, binary.LittleEndian, uint16(len(buf)/2)); err != nil {
		return err
	}
	_, err := w.Write(buf)
	return err
}

func readBVarByte(r io.Reader) ([]byte, error) {
	var length uint8
	if err := binary.Read(r, binary.LittleEndian, &length); err != nil {
		return nil, err
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

func writeBVarByte(w io.Writer, b []byte) error {
	if len(b) > 0xff {
		return fmt.Errorf("invalid size of B_VARBYTE")
	}
	if err := binary.Write(w, binary.LittleEndian, uint8(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// streamErr wraps malformed-stream conditions raised from the tdsBuffer read
// primitives. The token parser recovers it at its boundary and returns a
// ProtocolError, so stream handling code stays free of error plumbing.
type streamErr struct {
	err error
}

func (e streamErr) Error() string {
	return e.err.Error()
}

func badStreamPanic(err error) {
	panic(streamErr{err: err})
}

func badStreamPanicf(format string, v ...interface{}) {
	badStreamPanic(fmt.Errorf(format, v...))
}
