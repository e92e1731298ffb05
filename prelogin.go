package whiskers

import (
	"encoding/binary"
	"io"
	"sort"
)

// Prelogin option tokens.
const (
	preloginVERSION    = 0
	preloginENCRYPTION = 1
	preloginINSTOPT    = 2
	preloginTHREADID   = 3
	preloginMARS       = 4
	preloginTRACEID    = 5
	preloginTERMINATOR = 0xff
)

// Values of the prelogin ENCRYPTION option.
const (
	encryptOff    = 0 // encrypt login packets only
	encryptOn     = 1 // encrypt the whole session
	encryptNotSup = 2 // client cannot encrypt
	encryptReq    = 3 // encryption is mandatory
)

// writePrelogin frames the prelogin option table into one message. The same
// encoding serves the client request (packPrelogin) and the server reply
// (packReply).
func writePrelogin(packetType packetType, w *tdsBuffer, fields map[uint8][]byte) error {
	keys := make([]uint8, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	w.BeginPacket(packetType, false)
	offset := uint16(5*len(fields) + 1)
	// Option headers: token, big-endian offset, big-endian length.
	for _, k := range keys {
		if err := w.WriteByte(k); err != nil {
			return err
		}
		var hdr [4]byte
		binary.BigEndian.PutUint16(hdr[:2], offset)
		size := uint16(len(fields[k]))
		binary.BigEndian.PutUint16(hdr[2:], size)
		if _, err := w.Write(hdr[:]); err != nil {
			return err
		}
		offset += size
	}
	if err := w.WriteByte(preloginTERMINATOR); err != nil {
		return err
	}
	for _, k := range keys {
		if _, err := w.Write(fields[k]); err != nil {
			return err
		}
	}
	return w.FinishPacket()
}

// readPrelogin consumes the server's prelogin reply into an option table.
func readPrelogin(r *tdsBuffer) (map[uint8][]byte, error) {
	packetType, err := r.BeginRead()
	if err != nil {
		return nil, err
	}
	if packetType != packReply {
		return nil, protocolErrorf("expected prelogin reply packet, got %v", packetType)
	}
	payload, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if len(payload) == 0 {
		return nil, protocolErrorf("empty prelogin reply")
	}
	fields := map[uint8][]byte{}
	for offset := 0; ; offset += 5 {
		if offset >= len(payload) {
			return nil, protocolErrorf("prelogin reply is missing the terminator option")
		}
		token := payload[offset]
		if token == preloginTERMINATOR {
			break
		}
		if offset+5 > len(payload) {
			return nil, protocolErrorf("truncated prelogin option header")
		}
		start := int(binary.BigEndian.Uint16(payload[offset+1:]))
		size := int(binary.BigEndian.Uint16(payload[offset+3:]))
		if start+size > len(payload) {
			return nil, protocolErrorf("prelogin option %d extends past the reply (%d+%d > %d)",
				token, start, size, len(payload))
		}
		fields[token] = payload[start : start+size]
	}
	return fields, nil
}
