package whiskers

import (
	"bytes"
	"encoding/binary"
)

// mockTransport is an in-memory io.ReadWriteCloser: reads consume the
// preloaded response bytes, writes accumulate for inspection.
type mockTransport struct {
	in     bytes.Reader
	out    bytes.Buffer
	closed bool
}

func newMockTransport(response []byte) *mockTransport {
	t := &mockTransport{}
	t.in.Reset(response)
	return t
}

func (t *mockTransport) Read(p []byte) (int, error)  { return t.in.Read(p) }
func (t *mockTransport) Write(p []byte) (int, error) { return t.out.Write(p) }
func (t *mockTransport) Close() error                { t.closed = true; return nil }

// buildPacket frames one payload fragment as a TDS packet.
func buildPacket(ptype packetType, status byte, seq byte, payload []byte) []byte {
	size := packetHeaderSize + len(payload)
	packet := make([]byte, size)
	packet[0] = byte(ptype)
	packet[1] = status
	binary.BigEndian.PutUint16(packet[2:], uint16(size))
	binary.BigEndian.PutUint16(packet[4:], 123) // arbitrary SPID
	packet[6] = seq
	packet[7] = 0
	copy(packet[packetHeaderSize:], payload)
	return packet
}

// buildMessage splits payload into packets of at most fragSize payload
// bytes, marking the last one end-of-message.
func buildMessage(ptype packetType, fragSize int, payload []byte) []byte {
	var out []byte
	seq := byte(1)
	for {
		n := len(payload)
		if n > fragSize {
			n = fragSize
		}
		frag := payload[:n]
		payload = payload[n:]
		status := byte(0)
		if len(payload) == 0 {
			status = packStatusEOM
		}
		out = append(out, buildPacket(ptype, status, seq, frag)...)
		seq++
		if len(payload) == 0 {
			return out
		}
	}
}

// replyMessage frames a token stream as a single-fragment server reply.
func replyMessage(tokens ...[]byte) []byte {
	return buildMessage(packReply, 4096-packetHeaderSize, bytes.Join(tokens, nil))
}

func le16(v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return b[:]
}

func le32(v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return b[:]
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

func ucs2Bytes(s string) []byte {
	return str2ucs2(s)
}

func bVarCharBytes(s string) []byte {
	u := ucs2Bytes(s)
	return append([]byte{byte(len(u) / 2)}, u...)
}

func usVarCharBytes(s string) []byte {
	u := ucs2Bytes(s)
	return append(le16(uint16(len(u)/2)), u...)
}

func cat(parts ...[]byte) []byte {
	return bytes.Join(parts, nil)
}

// Token stream builders below mirror the layouts the parser consumes.

func doneToken(status uint16, rowCount uint64) []byte {
	return cat([]byte{byte(tokenDone)}, le16(status), le16(0), le64(rowCount))
}

func loginAckToken(progName string) []byte {
	body := cat(
		[]byte{1},                      // interface
		[]byte{0x74, 0x00, 0x00, 0x04}, // TDS version
		bVarCharBytes(progName),
		[]byte{16, 0, 0, 0}, // prog version
	)
	return cat([]byte{byte(tokenLoginAck)}, le16(uint16(len(body))), body)
}

func errorToken(number int32, class uint8, msg string) []byte {
	body := cat(
		le32(uint32(number)),
		[]byte{1, class},
		usVarCharBytes(msg),
		bVarCharBytes("testsrv"),
		bVarCharBytes(""),
		le32(0),
	)
	return cat([]byte{byte(tokenError)}, le16(uint16(len(body))), body)
}

func infoToken(number int32, msg string) []byte {
	body := cat(
		le32(uint32(number)),
		[]byte{1, 0},
		usVarCharBytes(msg),
		bVarCharBytes("testsrv"),
		bVarCharBytes(""),
		le32(0),
	)
	return cat([]byte{byte(tokenInfo)}, le16(uint16(len(body))), body)
}

func envDatabaseToken(db string) []byte {
	body := cat([]byte{envTypDatabase}, bVarCharBytes(db), bVarCharBytes("master"))
	return cat([]byte{byte(tokenEnvChange)}, le16(uint16(len(body))), body)
}

func envBeginTranToken(txnID uint64) []byte {
	body := cat([]byte{envTypBeginTran, 8}, le64(txnID), []byte{0})
	return cat([]byte{byte(tokenEnvChange)}, le16(uint16(len(body))), body)
}

func envCommitTranToken(txnID uint64) []byte {
	body := cat([]byte{envTypCommitTran, 0, 8}, le64(txnID))
	return cat([]byte{byte(tokenEnvChange)}, le16(uint16(len(body))), body)
}

func envRollbackTranToken() []byte {
	body := cat([]byte{envTypRollbackTran, 0, 0})
	return cat([]byte{byte(tokenEnvChange)}, le16(uint16(len(body))), body)
}

// colMetadataInt4 is a COLMETADATA token with int NOT NULL columns.
func colMetadataInt4(names ...string) []byte {
	body := le16(uint16(len(names)))
	for _, name := range names {
		body = cat(body,
			le32(0),          // user type
			le16(0),          // flags
			[]byte{typeInt4}, // fixed length int
			bVarCharBytes(name),
		)
	}
	return cat([]byte{byte(tokenColMetadata)}, body)
}

// colMetadataNVarChar is a COLMETADATA token with one nullable
// nvarchar(size) column.
func colMetadataNVarChar(name string, size uint16) []byte {
	body := cat(
		le16(1),
		le32(0),
		le16(colFlagNullable),
		[]byte{typeNVarChar}, le16(size*2),
		le16(0x0409), le16(0x00d0), []byte{0}, // collation
		bVarCharBytes(name),
	)
	return cat([]byte{byte(tokenColMetadata)}, body)
}

func rowInt4(values ...int32) []byte {
	body := []byte{byte(tokenRow)}
	for _, v := range values {
		body = cat(body, le32(uint32(v)))
	}
	return body
}

func rowNVarChar(s string) []byte {
	u := ucs2Bytes(s)
	return cat([]byte{byte(tokenRow)}, le16(uint16(len(u))), u)
}

// tokenReadBuffer packs a token stream into a reply message and returns a
// read-positioned buffer over it.
func tokenReadBuffer(tokens ...[]byte) *tdsBuffer {
	buf := newTdsBuffer(4096, newMockTransport(replyMessage(tokens...)))
	if _, err := buf.BeginRead(); err != nil {
		panic(err)
	}
	return buf
}
