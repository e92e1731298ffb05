package whiskers

import (
	"encoding/binary"
	"fmt"
	"math"
	"time"

	"github.com/golang-sql/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Special RPC procedure ids.
const (
	sp_ExecuteSql = 10
	sp_Prepare    = 11
	sp_Execute    = 12
)

// All request payloads start with ALL_HEADERS carrying the transaction
// descriptor of the enclosing transaction (zero in autocommit).
func writeAllHeaders(w *tdsBuffer, txnID uint64) error {
	var buf [22]byte
	binary.LittleEndian.PutUint32(buf[0:], 22) // total length
	binary.LittleEndian.PutUint32(buf[4:], 18) // header length
	binary.LittleEndian.PutUint16(buf[8:], 2)  // transaction descriptor header
	binary.LittleEndian.PutUint64(buf[10:], txnID)
	binary.LittleEndian.PutUint32(buf[18:], 1) // outstanding request count
	_, err := w.Write(buf[:])
	return err
}

// sendSqlBatch frames a plain batch request: headers plus UCS-2 SQL text.
func sendSqlBatch(w *tdsBuffer, sql string, txnID uint64, resetSession bool) error {
	w.BeginPacket(packSQLBatch, resetSession)
	if err := writeAllHeaders(w, txnID); err != nil {
		return err
	}
	if _, err := w.Write(str2ucs2(sql)); err != nil {
		return err
	}
	return w.FinishPacket()
}

// param is one wire-encoded RPC parameter.
type param struct {
	name     string
	declType string
	ti       []byte // TYPE_INFO declaration
	val      []byte // length-prefixed value bytes
}

// sendRpc frames an sp_executesql invocation: the statement text, the
// parameter declaration string, then the parameter values.
func sendRpc(w *tdsBuffer, sql string, params []param, txnID uint64) error {
	w.BeginPacket(packRPCRequest, false)
	if err := writeAllHeaders(w, txnID); err != nil {
		return err
	}
	// ProcIDSwitch + proc id, then option flags.
	var head [6]byte
	binary.LittleEndian.PutUint16(head[0:], 0xffff)
	binary.LittleEndian.PutUint16(head[2:], sp_ExecuteSql)
	binary.LittleEndian.PutUint16(head[4:], 0)
	if _, err := w.Write(head[:]); err != nil {
		return err
	}

	decl := ""
	for i, p := range params {
		if i > 0 {
			decl += ","
		}
		decl += fmt.Sprintf("%s %s", p.name, p.declType)
	}
	stmtParam, err := makeParam(sql)
	if err != nil {
		return err
	}
	declParam, err := makeParam(decl)
	if err != nil {
		return err
	}
	all := append([]param{stmtParam, declParam}, params...)
	for i, p := range all {
		name := ""
		if i >= 2 {
			name = p.name
		}
		if err := writeBVarChar(w, name); err != nil {
			return err
		}
		if err := w.WriteByte(0); err != nil { // status flags, no output params
			return err
		}
		if err := writeTypeInfoAndValue(w, p); err != nil {
			return err
		}
	}
	return w.FinishPacket()
}

// makeParams encodes positional arguments as @p1..@pN.
func makeParams(args []interface{}) ([]param, error) {
	params := make([]param, len(args))
	for i, v := range args {
		p, err := makeParam(v)
		if err != nil {
			return nil, err
		}
		p.name = fmt.Sprintf("@p%d", i+1)
		params[i] = p
	}
	return params, nil
}

const maxInlineVarLen = 8000 // bytes; larger values go PLP

// makeParam maps one Go value to a declared wire type and encodes it.
// Values with no safe mapping fail with UnsupportedTypeError.
func makeParam(val interface{}) (res param, err error) {
	switch v := val.(type) {
	case nil:
		res.declType = "nvarchar(1)"
		res.ti = nvarcharTypeInfo(2)
		res.val = []byte{0xff, 0xff} // CHARBIN_NULL
	case string:
		res = encodeStringParam(v)
	case []byte:
		if len(v) > maxInlineVarLen {
			res.declType = "varbinary(max)"
			res.ti = []byte{typeBigVarBin, 0xff, 0xff}
			res.val = plpValue(v)
		} else {
			size := len(v)
			if size == 0 {
				size = 1
			}
			res.declType = fmt.Sprintf("varbinary(%d)", size)
			res.ti = make([]byte, 3)
			res.ti[0] = typeBigVarBin
			binary.LittleEndian.PutUint16(res.ti[1:], uint16(size))
			res.val = make([]byte, 2+len(v))
			binary.LittleEndian.PutUint16(res.val, uint16(len(v)))
			copy(res.val[2:], v)
		}
	case int:
		return makeParam(int64(v))
	case int8:
		return makeParam(int64(v))
	case int16:
		return makeParam(int64(v))
	case int32:
		return makeParam(int64(v))
	case uint8:
		return makeParam(int64(v))
	case uint16:
		return makeParam(int64(v))
	case uint32:
		return makeParam(int64(v))
	case uint:
		if uint64(v) > math.MaxInt64 {
			return res, UnsupportedTypeError{Value: val}
		}
		return makeParam(int64(v))
	case uint64:
		// bigint is the widest integer the wire offers.
		if v > math.MaxInt64 {
			return res, UnsupportedTypeError{Value: val}
		}
		return makeParam(int64(v))
	case int64:
		res.declType = "bigint"
		res.ti = []byte{typeIntN, 8}
		res.val = make([]byte, 9)
		res.val[0] = 8
		binary.LittleEndian.PutUint64(res.val[1:], uint64(v))
	case bool:
		res.declType = "bit"
		res.ti = []byte{typeBitN, 1}
		res.val = []byte{1, 0}
		if v {
			res.val[1] = 1
		}
	case float32:
		return makeParam(float64(v))
	case float64:
		res.declType = "float"
		res.ti = []byte{typeFltN, 8}
		res.val = make([]byte, 9)
		res.val[0] = 8
		binary.LittleEndian.PutUint64(res.val[1:], math.Float64bits(v))
	case decimal.Decimal:
		buf, prec, scale, derr := encodeDecimal(v)
		if derr != nil {
			return res, derr
		}
		res.declType = fmt.Sprintf("decimal(%d,%d)", prec, scale)
		res.ti = []byte{typeDecimalN, byte(len(buf)), prec, scale}
		res.val = append([]byte{byte(len(buf))}, buf...)
	case Money:
		return makeParam(v.Decimal)
	case NullMoney:
		if !v.Valid {
			return makeParam(nil)
		}
		return makeParam(v.Money.Decimal)
	case uuid.UUID:
		res.declType = "uniqueidentifier"
		res.ti = []byte{typeGuid, 16}
		res.val = append([]byte{16}, encodeGuid(v)...)
	case time.Time:
		res.declType = "datetimeoffset(7)"
		res.ti = []byte{typeDateTimeOffsetN, 7}
		buf := encodeDateTimeOffset(v, 7)
		res.val = append([]byte{byte(len(buf))}, buf...)
	case civil.Date:
		res.declType = "date"
		res.ti = []byte{typeDateN}
		buf := make([]byte, 3)
		putDateDays(buf, time.Date(v.Year, v.Month, v.Day, 0, 0, 0, 0, time.UTC))
		res.val = append([]byte{3}, buf...)
	case civil.Time:
		res.declType = "time(7)"
		res.ti = []byte{typeTimeN, 7}
		buf := make([]byte, 5)
		t := time.Date(1, 1, 1, v.Hour, v.Minute, v.Second, v.Nanosecond, time.UTC)
		putTimeOfDay(buf, t, 7)
		res.val = append([]byte{5}, buf...)
	case civil.DateTime:
		res.declType = "datetime2(7)"
		res.ti = []byte{typeDateTime2N, 7}
		t := time.Date(v.Date.Year, v.Date.Month, v.Date.Day,
			v.Time.Hour, v.Time.Minute, v.Time.Second, v.Time.Nanosecond, time.UTC)
		buf := encodeDateTime2(t, 7)
		res.val = append([]byte{byte(len(buf))}, buf...)
	default:
		return res, UnsupportedTypeError{Value: val}
	}
	return res, nil
}

func nvarcharTypeInfo(maxByteLen int) []byte {
	ti := make([]byte, 8)
	ti[0] = typeNVarChar
	binary.LittleEndian.PutUint16(ti[1:], uint16(maxByteLen))
	binary.LittleEndian.PutUint32(ti[3:], defaultCollation.lcidAndFlags)
	ti[7] = defaultCollation.sortId
	return ti
}

func encodeStringParam(s string) (res param) {
	ucs2 := str2ucs2(s)
	if len(ucs2) > maxInlineVarLen {
		res.declType = "nvarchar(max)"
		res.ti = nvarcharTypeInfo(0xffff)
		res.val = plpValue(ucs2)
		return
	}
	size := len(ucs2)
	if size == 0 {
		size = 2
	}
	res.declType = fmt.Sprintf("nvarchar(%d)", size/2)
	res.ti = nvarcharTypeInfo(size)
	res.val = make([]byte, 2+len(ucs2))
	binary.LittleEndian.PutUint16(res.val, uint16(len(ucs2)))
	copy(res.val[2:], ucs2)
	return
}

// plpValue encodes bytes in the PLP layout: known total, one chunk, zero
// terminator.
func plpValue(b []byte) []byte {
	res := make([]byte, 8+4+len(b)+4)
	binary.LittleEndian.PutUint64(res, uint64(len(b)))
	binary.LittleEndian.PutUint32(res[8:], uint32(len(b)))
	copy(res[12:], b)
	return res
}
