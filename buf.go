package whiskers

import (
	"encoding/binary"
	"errors"
	"io"
)

// tdsBuffer frames the TDS packet stream over a transport. The write side
// fragments one logical message into packets of at most packetSize bytes,
// numbering them and raising the end-of-message status bit on the last. The
// read side reassembles a response message, validating header length, SPID
// and sequence continuity as packets arrive.
//
// Read primitives panic with an error value on malformed input; the token
// parser converts those panics back into a ProtocolError at its boundary.
type tdsBuffer struct {
	transport io.ReadWriteCloser

	packetSize int

	// Write fields.
	wbuf        []byte
	wpos        int
	wPacketSeq  byte
	wPacketType packetType

	// Read fields.
	rbuf        []byte
	rpos        int
	rsize       int
	final       bool
	rPacketType packetType
	rSeq        byte
	rSpid       uint16

	// afterFirst is called after the first packet of a message is
	// flushed. The TLS handshake wrapper uses it to switch from the
	// prelogin framing to raw records.
	afterFirst func()
}

func newTdsBuffer(bufsize uint16, transport io.ReadWriteCloser) *tdsBuffer {
	return &tdsBuffer{
		packetSize: int(bufsize),
		wbuf:       make([]byte, bufsize),
		rbuf:       make([]byte, bufsize),
		rpos:       packetHeaderSize,
		transport:  transport,
	}
}

// ResizeBuffer applies a renegotiated packet size from an ENVCHANGE token.
func (w *tdsBuffer) ResizeBuffer(packetSize int) {
	w.packetSize = packetSize
	if len(w.wbuf) != packetSize {
		w.wbuf = make([]byte, packetSize)
	}
}

func (w *tdsBuffer) PackPacketSize() int {
	return w.packetSize
}

// BeginPacket starts a new outgoing message of the given type.
func (w *tdsBuffer) BeginPacket(packetType packetType, resetSession bool) {
	status := byte(0)
	if resetSession && packetType == packSQLBatch {
		status = packStatusResetConnection
	}
	w.wbuf[1] = status
	w.wpos = packetHeaderSize
	w.wPacketSeq = 1
	w.wPacketType = packetType
}

func (w *tdsBuffer) flushPacket(final bool) error {
	// Construct the header on top of the accumulated payload.
	w.wbuf[0] = byte(w.wPacketType)
	if final {
		w.wbuf[1] |= packStatusEOM
	}
	binary.BigEndian.PutUint16(w.wbuf[2:], uint16(w.wpos))
	binary.BigEndian.PutUint16(w.wbuf[4:], 0) // SPID, client sends 0
	w.wbuf[6] = w.wPacketSeq
	w.wbuf[7] = 0 // window

	if _, err := w.transport.Write(w.wbuf[:w.wpos]); err != nil {
		return err
	}
	if w.wPacketSeq == 1 && w.afterFirst != nil {
		w.afterFirst()
		w.afterFirst = nil
	}
	w.wPacketSeq++
	w.wpos = packetHeaderSize
	// Leave the reset bit to the first packet of the message only.
	w.wbuf[1] &^= packStatusResetConnection
	return nil
}

// FinishPacket flushes the current message with the end-of-message bit set.
func (w *tdsBuffer) FinishPacket() error {
	return w.flushPacket(true)
}

func (w *tdsBuffer) Write(p []byte) (total int, err error) {
	for {
		copied := copy(w.wbuf[w.wpos:], p)
		w.wpos += copied
		total += copied
		if copied == len(p) {
			return
		}
		if err = w.flushPacket(false); err != nil {
			return
		}
		p = p[copied:]
	}
}

func (w *tdsBuffer) WriteByte(b byte) error {
	if w.wpos == len(w.wbuf) {
		if err := w.flushPacket(false); err != nil {
			return err
		}
	}
	w.wbuf[w.wpos] = b
	w.wpos++
	return nil
}

// sendAttention writes the out-of-band attention packet that asks the server
// to cancel the in-flight request.
func (w *tdsBuffer) sendAttention() error {
	hdr := [packetHeaderSize]byte{byte(packAttention), packStatusEOM, 0, packetHeaderSize, 0, 0, 1, 0}
	_, err := w.transport.Write(hdr[:])
	return err
}

var errPacketTooShort = errors.New("invalid packet size, it is shorter than header size")
var errPacketTooLong = errors.New("invalid packet size, it is longer than negotiated buffer size")

// readNextPacket reads one packet and validates its header against the
// message in progress.
func (r *tdsBuffer) readNextPacket(continuation bool) error {
	var header [packetHeaderSize]byte
	if _, err := io.ReadFull(r.transport, header[:]); err != nil {
		return err
	}
	size := int(binary.BigEndian.Uint16(header[2:]))
	if size < packetHeaderSize {
		return ProtocolError{Message: "bad packet header", Err: errPacketTooShort}
	}
	if size > r.packetSize {
		return ProtocolError{Message: "bad packet header", Err: errPacketTooLong}
	}
	if len(r.rbuf) < size {
		r.rbuf = make([]byte, r.packetSize)
	}
	if _, err := io.ReadFull(r.transport, r.rbuf[packetHeaderSize:size]); err != nil {
		return err
	}
	ptype := packetType(header[0])
	spid := binary.BigEndian.Uint16(header[4:])
	seq := header[6]
	if continuation {
		if ptype != r.rPacketType {
			return protocolErrorf("packet type changed mid-message from %v to %v", r.rPacketType, ptype)
		}
		if spid != r.rSpid {
			return protocolErrorf("packet stream id changed mid-message from %d to %d", r.rSpid, spid)
		}
		if seq != r.rSeq+1 {
			return protocolErrorf("out of order packet: got sequence %d, want %d", seq, r.rSeq+1)
		}
	}
	r.rPacketType = ptype
	r.rSpid = spid
	r.rSeq = seq
	r.rsize = size
	r.rpos = packetHeaderSize
	r.final = header[1]&packStatusEOM != 0
	return nil
}

// BeginRead starts consuming a response message, returning the type of its
// first packet.
func (r *tdsBuffer) BeginRead() (packetType, error) {
	if err := r.readNextPacket(false); err != nil {
		return 0, err
	}
	return r.rPacketType, nil
}

func (r *tdsBuffer) ReadByte() (res byte, err error) {
	if r.rpos == r.rsize {
		if r.final {
			return 0, io.EOF
		}
		if err = r.readNextPacket(true); err != nil {
			return 0, err
		}
	}
	res = r.rbuf[r.rpos]
	r.rpos++
	return res, nil
}

// Read implements io.Reader over the reassembled message payload, returning
// io.EOF once the final packet is exhausted.
func (r *tdsBuffer) Read(buf []byte) (copied int, err error) {
	if len(buf) == 0 {
		return 0, nil
	}
	if r.rpos == r.rsize {
		if r.final {
			return 0, io.EOF
		}
		if err = r.readNextPacket(true); err != nil {
			return 0, err
		}
	}
	copied = copy(buf, r.rbuf[r.rpos:r.rsize])
	r.rpos += copied
	return
}

func (r *tdsBuffer) byte() byte {
	b, err := r.ReadByte()
	if err != nil {
		badStreamPanic(err)
	}
	return b
}

func (r *tdsBuffer) ReadFull(buf []byte) {
	for offset := 0; offset < len(buf); {
		if r.rpos == r.rsize {
			if r.final {
				badStreamPanic(io.ErrUnexpectedEOF)
			}
			if err := r.readNextPacket(true); err != nil {
				badStreamPanic(err)
			}
		}
		copied := copy(buf[offset:], r.rbuf[r.rpos:r.rsize])
		r.rpos += copied
		offset += copied
	}
}

func (r *tdsBuffer) uint64() uint64 {
	var buf [8]byte
	r.ReadFull(buf[:])
	return binary.LittleEndian.Uint64(buf[:])
}

func (r *tdsBuffer) int32() int32 {
	return int32(r.uint32())
}

func (r *tdsBuffer) uint32() uint32 {
	var buf [4]byte
	r.ReadFull(buf[:])
	return binary.LittleEndian.Uint32(buf[:])
}

func (r *tdsBuffer) uint16() uint16 {
	var buf [2]byte
	r.ReadFull(buf[:])
	return binary.LittleEndian.Uint16(buf[:])
}

// BVarChar reads a byte-length-prefixed UCS-2 string.
func (r *tdsBuffer) BVarChar() string {
	return readBVarCharOrPanic(r)
}

// UsVarChar reads a uint16-length-prefixed UCS-2 string.
func (r *tdsBuffer) UsVarChar() string {
	return readUsVarCharOrPanic(r)
}

func readBVarCharOrPanic(r io.Reader) string {
	s, err := readBVarChar(r)
	if err != nil {
		badStreamPanic(err)
	}
	return s
}

func readUsVarCharOrPanic(r io.Reader) string {
	s, err := readUsVarChar(r)
	if err != nil {
		badStreamPanic(err)
	}
	return s
}

// ReadUCS2 reads n UCS-2 characters.
func (r *tdsBuffer) ReadUCS2(numchars int) string {
	b := make([]byte, numchars*2)
	r.ReadFull(b)
	res, err := ucs22str(b)
	if err != nil {
		badStreamPanic(err)
	}
	return res
}
