package whiskers

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
)

type token byte

const (
	tokenReturnStatus  token = 121 // 0x79
	tokenColMetadata   token = 129 // 0x81
	tokenOrder         token = 169 // 0xA9
	tokenError         token = 170 // 0xAA
	tokenInfo          token = 171 // 0xAB
	tokenReturnValue   token = 172 // 0xAC
	tokenLoginAck      token = 173 // 0xAD
	tokenFeatureExtAck token = 174 // 0xAE
	tokenRow           token = 209 // 0xD1
	tokenNbcRow        token = 210 // 0xD2
	tokenEnvChange     token = 227 // 0xE3
	tokenSSPI          token = 237 // 0xED
	tokenDone          token = 253 // 0xFD
	tokenDoneProc      token = 254 // 0xFE
	tokenDoneInProc    token = 255 // 0xFF
)

// DONE status bits.
const (
	doneFinal    = 0x0000
	doneMore     = 0x0001
	doneError    = 0x0002
	doneInxact   = 0x0004
	doneCount    = 0x0010
	doneAttn     = 0x0020
	doneSrvError = 0x0100
)

// Environment change subtokens.
const (
	envTypDatabase     = 1
	envTypLanguage     = 2
	envTypCharset      = 3
	envTypPacketSize   = 4
	envSQLCollation    = 7
	envTypBeginTran    = 8
	envTypCommitTran   = 9
	envTypRollbackTran = 10
	envRouting         = 20
)

// tokenEvent is the closed variant over decoded response tokens. Every
// concrete event type is produced by exactly one entry of the dispatch
// table in tokenParser.next.
type tokenEvent interface {
	tokenEvent()
}

type colMetadataEvent struct {
	columns []columnStruct
}

type rowEvent struct {
	values []interface{}
}

type doneEvent struct {
	Token    token
	Status   uint16
	CurCmd   uint16
	RowCount uint64
}

type errorEvent ServerError

type infoEvent struct {
	Number  int32
	State   uint8
	Class   uint8
	Message string
	Server  string
	Proc    string
	Line    int32
}

type envChangeEvent struct {
	Type       uint8
	Database   string
	PacketSize int
	TxnID      uint64
}

type loginAckEvent struct {
	Interface  uint8
	TDSVersion uint32
	ProgName   string
	ProgVer    uint32
}

type returnStatusEvent int32

type returnValueEvent struct {
	Name  string
	Value interface{}
}

type sspiEvent []byte

type featureExtAckEvent map[byte][]byte

type orderEvent []uint16

func (colMetadataEvent) tokenEvent()   {}
func (rowEvent) tokenEvent()           {}
func (doneEvent) tokenEvent()          {}
func (errorEvent) tokenEvent()         {}
func (infoEvent) tokenEvent()          {}
func (envChangeEvent) tokenEvent()     {}
func (loginAckEvent) tokenEvent()      {}
func (returnStatusEvent) tokenEvent()  {}
func (returnValueEvent) tokenEvent()   {}
func (sspiEvent) tokenEvent()          {}
func (featureExtAckEvent) tokenEvent() {}
func (orderEvent) tokenEvent()         {}

func (d doneEvent) more() bool {
	return d.Status&doneMore != 0
}

func (d doneEvent) attention() bool {
	return d.Status&doneAttn != 0
}

func (d doneEvent) hasCount() bool {
	return d.Status&doneCount != 0
}

// columnStruct is the wire form of one column descriptor.
type columnStruct struct {
	UserType uint32
	Flags    uint16
	ColName  string
	ti       typeInfo
}

const colFlagNullable = 1

// Column is the externally visible descriptor of one result set column.
type Column struct {
	Name      string
	TypeId    uint8
	Size      int
	Precision uint8
	Scale     uint8
	Nullable  bool
}

func (c columnStruct) describe() Column {
	return Column{
		Name:      c.ColName,
		TypeId:    c.ti.TypeId,
		Size:      c.ti.Size,
		Precision: c.ti.Prec,
		Scale:     c.ti.Scale,
		Nullable:  c.Flags&colFlagNullable != 0,
	}
}

// tokenParser pulls decoded events off one response message. It is strictly
// single-pass: the caller keeps invoking next until io.EOF.
type tokenParser struct {
	r       *tdsBuffer
	columns []columnStruct
	strict  bool

	// pendingChunks is a lazy large-object value handed to the caller
	// that must be exhausted before the stream can move on.
	pendingChunks *ValueChunks
}

// finishPending drains an unconsumed lazy value so the stream is positioned
// at the next token.
func (p *tokenParser) finishPending() error {
	if p.pendingChunks == nil {
		return nil
	}
	vc := p.pendingChunks
	p.pendingChunks = nil
	return vc.discard()
}

// next decodes one token. It returns io.EOF when the response message is
// fully consumed. Malformed input surfaces as ProtocolError.
func (p *tokenParser) next() (ev tokenEvent, err error) {
	defer func() {
		if r := recover(); r != nil {
			se, ok := r.(streamErr)
			if !ok {
				panic(r)
			}
			var pe ProtocolError
			if ok := asProtocolError(se.err, &pe); ok {
				err = pe
			} else {
				err = ProtocolError{Message: "malformed token stream", Err: se.err}
			}
		}
	}()

	if err := p.finishPending(); err != nil {
		return nil, err
	}
	tok, err := p.r.ReadByte()
	if err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, err
	}
	handler, ok := tokenDispatch[token(tok)]
	if !ok {
		if p.strict {
			return nil, protocolErrorf("unknown token 0x%02x", tok)
		}
		// Assume the common uint16-length-prefixed layout and skip.
		p.skipLengthPrefixed()
		return p.next()
	}
	return handler(p), nil
}

// tokenDispatch is the single dispatch table over the token tags this
// client understands.
var tokenDispatch = map[token]func(*tokenParser) tokenEvent{
	tokenReturnStatus:  func(p *tokenParser) tokenEvent { return returnStatusEvent(p.r.int32()) },
	tokenColMetadata:   (*tokenParser).parseColMetadata,
	tokenOrder:         (*tokenParser).parseOrder,
	tokenError:         (*tokenParser).parseError,
	tokenInfo:          (*tokenParser).parseInfo,
	tokenReturnValue:   (*tokenParser).parseReturnValue,
	tokenLoginAck:      (*tokenParser).parseLoginAck,
	tokenFeatureExtAck: (*tokenParser).parseFeatureExtAck,
	tokenRow:           (*tokenParser).parseRow,
	tokenNbcRow:        (*tokenParser).parseNbcRow,
	tokenEnvChange:     (*tokenParser).parseEnvChange,
	tokenSSPI:          (*tokenParser).parseSSPI,
	tokenDone:          func(p *tokenParser) tokenEvent { return p.parseDone(tokenDone) },
	tokenDoneProc:      func(p *tokenParser) tokenEvent { return p.parseDone(tokenDoneProc) },
	tokenDoneInProc:    func(p *tokenParser) tokenEvent { return p.parseDone(tokenDoneInProc) },
}

func asProtocolError(err error, target *ProtocolError) bool {
	pe, ok := err.(ProtocolError)
	if ok {
		*target = pe
	}
	return ok
}

func (p *tokenParser) skipLengthPrefixed() {
	size := int(p.r.uint16())
	buf := make([]byte, size)
	p.r.ReadFull(buf)
}

func (p *tokenParser) parseDone(tok token) tokenEvent {
	return doneEvent{
		Token:    tok,
		Status:   p.r.uint16(),
		CurCmd:   p.r.uint16(),
		RowCount: p.r.uint64(),
	}
}

func (p *tokenParser) parseColMetadata() tokenEvent {
	count := p.r.uint16()
	if count == 0xffff {
		// NoMetaData: the request named no columns.
		p.columns = nil
		return colMetadataEvent{}
	}
	columns := make([]columnStruct, count)
	for i := range columns {
		column := &columns[i]
		column.UserType = p.r.uint32()
		column.Flags = p.r.uint16()
		column.ti = readTypeInfo(p.r)
		column.ColName = p.r.BVarChar()
	}
	p.columns = columns
	return colMetadataEvent{columns: columns}
}

func (p *tokenParser) parseOrder() tokenEvent {
	count := int(p.r.uint16()) / 2
	cols := make([]uint16, count)
	for i := range cols {
		cols[i] = p.r.uint16()
	}
	return orderEvent(cols)
}

func (p *tokenParser) parseRow() tokenEvent {
	if p.columns == nil {
		badStreamPanicf("ROW token with no preceding COLMETADATA")
	}
	values := make([]interface{}, len(p.columns))
	for i := range p.columns {
		col := &p.columns[i]
		values[i] = col.ti.Reader(&col.ti, p.r)
		p.holdOrDrain(values, i)
	}
	return rowEvent{values: values}
}

// holdOrDrain enforces the streaming rule for lazy values: only the last
// column of a row may stay lazy, since decoding the next column needs the
// stream. Earlier large objects are materialized.
func (p *tokenParser) holdOrDrain(values []interface{}, i int) {
	vc, ok := values[i].(*ValueChunks)
	if !ok {
		return
	}
	if i == len(p.columns)-1 {
		p.pendingChunks = vc
		return
	}
	buf, err := vc.ReadAll()
	if err != nil {
		badStreamPanic(err)
	}
	values[i] = decodeRaw(vc.ti, buf)
}

func (p *tokenParser) parseNbcRow() tokenEvent {
	if p.columns == nil {
		badStreamPanicf("NBCROW token with no preceding COLMETADATA")
	}
	bitmap := make([]byte, (len(p.columns)+7)/8)
	p.r.ReadFull(bitmap)
	values := make([]interface{}, len(p.columns))
	for i := range p.columns {
		if bitmap[i/8]&(1<<uint(i%8)) != 0 {
			values[i] = nil
			continue
		}
		col := &p.columns[i]
		values[i] = col.ti.Reader(&col.ti, p.r)
		p.holdOrDrain(values, i)
	}
	return rowEvent{values: values}
}

func (p *tokenParser) parseError() tokenEvent {
	p.r.uint16() // token length
	return errorEvent{
		Number:     p.r.int32(),
		State:      p.r.byte(),
		Class:      p.r.byte(),
		Message:    p.r.UsVarChar(),
		ServerName: p.r.BVarChar(),
		ProcName:   p.r.BVarChar(),
		LineNo:     p.r.int32(),
	}
}

func (p *tokenParser) parseInfo() tokenEvent {
	p.r.uint16() // token length
	return infoEvent{
		Number:  p.r.int32(),
		State:   p.r.byte(),
		Class:   p.r.byte(),
		Message: p.r.UsVarChar(),
		Server:  p.r.BVarChar(),
		Proc:    p.r.BVarChar(),
		Line:    p.r.int32(),
	}
}

func (p *tokenParser) parseReturnValue() tokenEvent {
	p.r.uint16() // param ordinal
	name := p.r.BVarChar()
	p.r.byte()   // status
	p.r.uint32() // user type
	p.r.uint16() // flags
	ti := readTypeInfo(p.r)
	value := ti.Reader(&ti, p.r)
	if vc, ok := value.(*ValueChunks); ok {
		buf, err := vc.ReadAll()
		if err != nil {
			badStreamPanic(err)
		}
		value = decodeRaw(vc.ti, buf)
	}
	return returnValueEvent{Name: name, Value: value}
}

func (p *tokenParser) parseLoginAck() tokenEvent {
	size := p.r.uint16()
	buf := make([]byte, size)
	p.r.ReadFull(buf)
	if len(buf) < 10 {
		badStreamPanicf("LOGINACK token of %d bytes is too short", len(buf))
	}
	rd := bytes.NewReader(buf)
	var res loginAckEvent
	res.Interface = buf[0]
	res.TDSVersion = uint32(buf[1])<<24 | uint32(buf[2])<<16 | uint32(buf[3])<<8 | uint32(buf[4])
	rd.Seek(5, io.SeekStart)
	progname, err := readBVarChar(rd)
	if err != nil {
		badStreamPanic(err)
	}
	res.ProgName = progname
	var ver [4]byte
	if _, err := io.ReadFull(rd, ver[:]); err != nil {
		badStreamPanic(err)
	}
	res.ProgVer = uint32(ver[0])<<24 | uint32(ver[1])<<16 | uint32(ver[2])<<8 | uint32(ver[3])
	return res
}

func (p *tokenParser) parseFeatureExtAck() tokenEvent {
	acks := featureExtAckEvent{}
	for {
		featureID := p.r.byte()
		if featureID == 0xff {
			return acks
		}
		size := p.r.uint32()
		data := make([]byte, size)
		p.r.ReadFull(data)
		acks[featureID] = data
	}
}

func (p *tokenParser) parseSSPI() tokenEvent {
	size := p.r.uint16()
	buf := make([]byte, size)
	p.r.ReadFull(buf)
	return sspiEvent(buf)
}

func (p *tokenParser) parseEnvChange() tokenEvent {
	size := p.r.uint16()
	buf := make([]byte, size)
	p.r.ReadFull(buf)
	if len(buf) == 0 {
		badStreamPanicf("empty ENVCHANGE token")
	}
	ev := envChangeEvent{Type: buf[0]}
	rd := bytes.NewReader(buf[1:])
	switch ev.Type {
	case envTypDatabase:
		newValue, err := readBVarChar(rd)
		if err != nil {
			badStreamPanic(err)
		}
		ev.Database = newValue
	case envTypPacketSize:
		newValue, err := readBVarChar(rd)
		if err != nil {
			badStreamPanic(err)
		}
		packetSize, err := strconv.Atoi(newValue)
		if err != nil {
			badStreamPanic(fmt.Errorf("invalid ENVCHANGE packet size %q: %v", newValue, err))
		}
		ev.PacketSize = packetSize
	case envTypBeginTran:
		id, err := readBVarByte(rd)
		if err != nil {
			badStreamPanic(err)
		}
		if len(id) != 8 {
			badStreamPanicf("invalid transaction descriptor length %d", len(id))
		}
		ev.TxnID = uint64(id[0]) | uint64(id[1])<<8 | uint64(id[2])<<16 | uint64(id[3])<<24 |
			uint64(id[4])<<32 | uint64(id[5])<<40 | uint64(id[6])<<48 | uint64(id[7])<<56
	case envTypCommitTran, envTypRollbackTran:
		// Transaction ended; descriptor resets to zero.
	default:
		// Language, collation, routing and the rest carry nothing this
		// client acts on; the payload was already consumed above.
	}
	return ev
}
