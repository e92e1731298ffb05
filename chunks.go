package whiskers

import (
	"encoding/binary"
	"io"
)

// plpInlineThreshold is the largest PLP value decoded inline. Values above
// it (and values of unknown total length) surface as a *ValueChunks the
// caller streams, so a varbinary(max) of many megabytes never has to sit in
// memory whole.
const plpInlineThreshold = 8192

// readPLPType reads a partially-length-prefixed value: a uint64 total
// followed by uint32-prefixed chunks up to a zero terminator.
func readPLPType(ti *typeInfo, r *tdsBuffer) interface{} {
	total := r.uint64()
	if total == plpNull {
		return nil
	}
	vc := &ValueChunks{r: r, ti: ti, total: total}
	if total != plpUnknownLen && total <= plpInlineThreshold {
		buf, err := vc.ReadAll()
		if err != nil {
			badStreamPanic(err)
		}
		return decodeRaw(ti, buf)
	}
	return vc
}

// ValueChunks is the lazy byte-chunk sequence of one large-object value. It
// reads straight off the session's response stream, so it is consumable
// exactly once and only while its row is current: advancing the result set
// discards whatever was not read. Chunks of character columns are raw wire
// bytes; DecodeString interprets them under the column collation.
type ValueChunks struct {
	r  *tdsBuffer
	ti *typeInfo

	total     uint64
	remaining uint32 // unread bytes of the current chunk
	finished  bool
	err       error
}

// KnownLength reports the total value size when the server declared one.
func (vc *ValueChunks) KnownLength() (uint64, bool) {
	if vc.total == plpUnknownLen {
		return 0, false
	}
	return vc.total, true
}

func (vc *ValueChunks) fail(err error) error {
	vc.err = err
	vc.finished = true
	return err
}

// nextChunk positions at the next non-empty chunk, setting finished on the
// zero terminator.
func (vc *ValueChunks) nextChunk() error {
	for vc.remaining == 0 && !vc.finished {
		var hdr [4]byte
		if _, err := io.ReadFull(vc.r, hdr[:]); err != nil {
			return vc.fail(ProtocolError{Message: "reading PLP chunk header", Err: err})
		}
		size := binary.LittleEndian.Uint32(hdr[:])
		if size == 0 {
			vc.finished = true
			return nil
		}
		vc.remaining = size
	}
	return nil
}

// Next returns the next chunk of the value, or io.EOF after the last one.
// The returned slice is only valid until the following call.
func (vc *ValueChunks) Next() ([]byte, error) {
	if vc.err != nil {
		return nil, vc.err
	}
	if err := vc.nextChunk(); err != nil {
		return nil, err
	}
	if vc.finished {
		return nil, io.EOF
	}
	buf := make([]byte, vc.remaining)
	if _, err := io.ReadFull(vc.r, buf); err != nil {
		return nil, vc.fail(ProtocolError{Message: "reading PLP chunk", Err: err})
	}
	vc.remaining = 0
	return buf, nil
}

// Read implements io.Reader over the concatenated chunks.
func (vc *ValueChunks) Read(p []byte) (int, error) {
	if vc.err != nil {
		return 0, vc.err
	}
	if err := vc.nextChunk(); err != nil {
		return 0, err
	}
	if vc.finished {
		return 0, io.EOF
	}
	if len(p) > int(vc.remaining) {
		p = p[:vc.remaining]
	}
	n, err := io.ReadFull(vc.r, p)
	if err != nil {
		return n, vc.fail(ProtocolError{Message: "reading PLP chunk", Err: err})
	}
	vc.remaining -= uint32(n)
	return n, nil
}

// ReadAll drains the remaining chunks into one buffer.
func (vc *ValueChunks) ReadAll() ([]byte, error) {
	var res []byte
	if vc.total != plpUnknownLen {
		res = make([]byte, 0, vc.total)
	}
	for {
		chunk, err := vc.Next()
		if err == io.EOF {
			return res, nil
		}
		if err != nil {
			return nil, err
		}
		res = append(res, chunk...)
	}
}

// DecodeString drains the remaining chunks and decodes them as the column's
// character type.
func (vc *ValueChunks) DecodeString() (string, error) {
	buf, err := vc.ReadAll()
	if err != nil {
		return "", err
	}
	switch vc.ti.TypeId {
	case typeNVarChar, typeNChar, typeNText, typeXml:
		return ucs22str(buf)
	case typeBigVarChar, typeBigChar, typeText:
		return charsetToUTF8(vc.ti.Collation, buf)
	}
	return string(buf), nil
}

// discard reads the value to its terminator without retaining it. The row
// machinery calls this before moving past a value the caller left unread.
func (vc *ValueChunks) discard() error {
	for {
		if err := vc.nextChunk(); err != nil {
			return err
		}
		if vc.finished {
			return nil
		}
		if _, err := io.CopyN(io.Discard, vc.r, int64(vc.remaining)); err != nil {
			return vc.fail(ProtocolError{Message: "discarding PLP chunk", Err: err})
		}
		vc.remaining = 0
	}
}
