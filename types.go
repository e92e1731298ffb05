package whiskers

import (
	"encoding/binary"
	"io"
	"math"
	"time"

	"github.com/google/uuid"
)

// TDS data type tags.
const (
	typeNull     = 0x1f
	typeInt1     = 0x30
	typeBit      = 0x32
	typeInt2     = 0x34
	typeInt4     = 0x38
	typeDateTim4 = 0x3a
	typeFlt4     = 0x3b
	typeMoney    = 0x3c
	typeDateTime = 0x3d
	typeFlt8     = 0x3e
	typeMoney4   = 0x7a
	typeInt8     = 0x7f
)

const (
	typeGuid            = 0x24
	typeIntN            = 0x26
	typeDecimal         = 0x37 // legacy
	typeNumeric         = 0x3f // legacy
	typeBitN            = 0x68
	typeDecimalN        = 0x6a
	typeNumericN        = 0x6c
	typeFltN            = 0x6d
	typeMoneyN          = 0x6e
	typeDateTimeN       = 0x6f
	typeDateN           = 0x28
	typeTimeN           = 0x29
	typeDateTime2N      = 0x2a
	typeDateTimeOffsetN = 0x2b
	typeChar            = 0x2f // legacy
	typeVarChar         = 0x27 // legacy
	typeBigVarBin       = 0xa5
	typeBigVarChar      = 0xa7
	typeBigBinary       = 0xad
	typeBigChar         = 0xaf
	typeNVarChar        = 0xe7
	typeNChar           = 0xef
	typeXml             = 0xf1
	typeUdt             = 0xf0
	typeText            = 0x23
	typeImage           = 0x22
	typeNText           = 0x63
	typeVariant         = 0x62
)

// Sentinels of the variable length layouts.
const (
	charNull      = 0xffff // CHARBIN_NULL for short length types
	plpMax        = 0xffff // USHORTMAXLEN, declares a PLP column
	plpNull       = 0xffffffffffffffff
	longNull      = 0xffffffff // text/image null
	plpUnknownLen = 0xfffffffffffffffe
)

// typeInfo is the decoded TYPE_INFO of one column or parameter. Reader pulls
// one value of this type off the stream; it is chosen once per result set
// when COLMETADATA is parsed.
type typeInfo struct {
	TypeId    uint8
	Size      int
	Scale     uint8
	Prec      uint8
	Collation collation
	Reader    func(ti *typeInfo, r *tdsBuffer) interface{}
}

func readTypeInfo(r *tdsBuffer) (res typeInfo) {
	res.TypeId = r.byte()
	switch res.TypeId {
	case typeNull, typeInt1, typeBit, typeInt2, typeInt4, typeDateTim4,
		typeFlt4, typeMoney, typeDateTime, typeFlt8, typeMoney4, typeInt8:
		// Fixed types encode their width in the tag.
		switch res.TypeId {
		case typeNull:
			res.Size = 0
		case typeInt1, typeBit:
			res.Size = 1
		case typeInt2:
			res.Size = 2
		case typeInt4, typeDateTim4, typeFlt4, typeMoney4:
			res.Size = 4
		case typeMoney, typeDateTime, typeFlt8, typeInt8:
			res.Size = 8
		}
		res.Reader = readFixedType
	default:
		readVarLen(&res, r)
	}
	return
}

func readVarLen(ti *typeInfo, r *tdsBuffer) {
	switch ti.TypeId {
	case typeDateN:
		ti.Size = 3
		ti.Reader = readByteLenType
	case typeTimeN, typeDateTime2N, typeDateTimeOffsetN:
		ti.Scale = r.byte()
		if ti.Scale > 7 {
			badStreamPanicf("invalid scale %d for temporal column", ti.Scale)
		}
		switch {
		case ti.Scale <= 2:
			ti.Size = 3
		case ti.Scale <= 4:
			ti.Size = 4
		default:
			ti.Size = 5
		}
		switch ti.TypeId {
		case typeDateTime2N:
			ti.Size += 3
		case typeDateTimeOffsetN:
			ti.Size += 5
		}
		ti.Reader = readByteLenType
	case typeGuid, typeIntN, typeBitN, typeFltN, typeMoneyN, typeDateTimeN,
		typeChar, typeVarChar:
		ti.Size = int(r.byte())
		ti.Reader = readByteLenType
	case typeDecimal, typeNumeric, typeDecimalN, typeNumericN:
		ti.Size = int(r.byte())
		ti.Prec = r.byte()
		ti.Scale = r.byte()
		ti.Reader = readByteLenType
	case typeBigVarBin, typeBigBinary:
		ti.Size = int(r.uint16())
		if ti.Size == plpMax {
			ti.Reader = readPLPType
		} else {
			ti.Reader = readShortLenType
		}
	case typeBigVarChar, typeBigChar, typeNVarChar, typeNChar:
		ti.Size = int(r.uint16())
		ti.Collation = readCollation(r)
		if ti.Size == plpMax {
			ti.Reader = readPLPType
		} else {
			ti.Reader = readShortLenType
		}
	case typeXml:
		schemaPresent := r.byte()
		if schemaPresent != 0 {
			r.BVarChar()  // db name
			r.BVarChar()  // owning schema
			r.UsVarChar() // xml schema collection
		}
		ti.Reader = readPLPType
	case typeText, typeNText, typeImage:
		ti.Size = int(r.uint32())
		if ti.TypeId != typeImage {
			ti.Collation = readCollation(r)
		}
		numparts := int(r.byte())
		for i := 0; i < numparts; i++ {
			r.UsVarChar() // table name the blob belongs to
		}
		ti.Reader = readLongLenType
	case typeVariant:
		badStreamPanicf("sql_variant columns are not supported")
	case typeUdt:
		badStreamPanicf("UDT columns are not supported")
	default:
		badStreamPanicf("unknown data type tag 0x%02x", ti.TypeId)
	}
}

func readFixedType(ti *typeInfo, r *tdsBuffer) interface{} {
	buf := make([]byte, ti.Size)
	r.ReadFull(buf)
	return decodeRaw(ti, buf)
}

func readByteLenType(ti *typeInfo, r *tdsBuffer) interface{} {
	size := int(r.byte())
	if size == 0 {
		return nil
	}
	buf := make([]byte, size)
	r.ReadFull(buf)
	return decodeRaw(ti, buf)
}

func readShortLenType(ti *typeInfo, r *tdsBuffer) interface{} {
	size := int(r.uint16())
	if size == charNull {
		return nil
	}
	buf := make([]byte, size)
	r.ReadFull(buf)
	return decodeRaw(ti, buf)
}

// readLongLenType handles the legacy text/ntext/image layout with its text
// pointer and timestamp prefix.
func readLongLenType(ti *typeInfo, r *tdsBuffer) interface{} {
	ptrLen := int(r.byte())
	if ptrLen == 0 {
		return nil
	}
	ptr := make([]byte, ptrLen)
	r.ReadFull(ptr)
	var timestamp [8]byte
	r.ReadFull(timestamp[:])
	size := r.uint32()
	if size == longNull {
		return nil
	}
	buf := make([]byte, size)
	r.ReadFull(buf)
	return decodeRaw(ti, buf)
}

// decodeRaw interprets the raw value bytes under the column type.
func decodeRaw(ti *typeInfo, buf []byte) interface{} {
	switch ti.TypeId {
	case typeNull:
		return nil
	case typeInt1:
		return int64(buf[0])
	case typeBit, typeBitN:
		return buf[0] != 0
	case typeInt2:
		return int64(int16(binary.LittleEndian.Uint16(buf)))
	case typeInt4:
		return int64(int32(binary.LittleEndian.Uint32(buf)))
	case typeInt8:
		return int64(binary.LittleEndian.Uint64(buf))
	case typeIntN:
		switch len(buf) {
		case 1:
			return int64(buf[0])
		case 2:
			return int64(int16(binary.LittleEndian.Uint16(buf)))
		case 4:
			return int64(int32(binary.LittleEndian.Uint32(buf)))
		case 8:
			return int64(binary.LittleEndian.Uint64(buf))
		}
		badStreamPanicf("invalid size %d for INTN value", len(buf))
	case typeFlt4:
		return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
	case typeFlt8:
		return math.Float64frombits(binary.LittleEndian.Uint64(buf))
	case typeFltN:
		switch len(buf) {
		case 4:
			return float64(math.Float32frombits(binary.LittleEndian.Uint32(buf)))
		case 8:
			return math.Float64frombits(binary.LittleEndian.Uint64(buf))
		}
		badStreamPanicf("invalid size %d for FLTN value", len(buf))
	case typeMoney, typeMoneyN:
		switch len(buf) {
		case 4:
			return decodeSmallMoney(buf)
		case 8:
			return decodeMoney(buf)
		}
		badStreamPanicf("invalid size %d for MONEYN value", len(buf))
	case typeMoney4:
		return decodeSmallMoney(buf)
	case typeDecimal, typeNumeric, typeDecimalN, typeNumericN:
		d, err := decodeDecimal(buf, ti.Scale)
		if err != nil {
			badStreamPanic(err)
		}
		return d
	case typeDateTim4:
		return decodeDateTim4(buf)
	case typeDateTime, typeDateTimeN:
		switch len(buf) {
		case 4:
			return decodeDateTim4(buf)
		case 8:
			return decodeDateTime(buf)
		}
		badStreamPanicf("invalid size %d for DATETIMN value", len(buf))
	case typeDateN:
		if len(buf) != 3 {
			badStreamPanicf("invalid size %d for DATE value", len(buf))
		}
		return decodeDate(buf)
	case typeTimeN:
		return decodeTime(ti.Scale, buf)
	case typeDateTime2N:
		return decodeDateTime2(ti.Scale, buf)
	case typeDateTimeOffsetN:
		return decodeDateTimeOffset(ti.Scale, buf)
	case typeGuid:
		return decodeGuid(buf)
	case typeBigVarBin, typeBigBinary, typeImage:
		return buf
	case typeBigVarChar, typeBigChar, typeVarChar, typeChar, typeText:
		s, err := charsetToUTF8(ti.Collation, buf)
		if err != nil {
			badStreamPanic(err)
		}
		return s
	case typeNVarChar, typeNChar, typeNText, typeXml:
		s, err := ucs22str(buf)
		if err != nil {
			badStreamPanic(err)
		}
		return s
	}
	badStreamPanicf("unknown data type tag 0x%02x", ti.TypeId)
	return nil
}

func decodeGuid(buf []byte) uuid.UUID {
	if len(buf) != 16 {
		badStreamPanicf("invalid size %d for GUID value", len(buf))
	}
	var u uuid.UUID
	copy(u[:], buf)
	// The first three fields travel little endian.
	u[0], u[1], u[2], u[3] = u[3], u[2], u[1], u[0]
	u[4], u[5] = u[5], u[4]
	u[6], u[7] = u[7], u[6]
	return u
}

func encodeGuid(u uuid.UUID) []byte {
	buf := make([]byte, 16)
	copy(buf, u[:])
	buf[0], buf[1], buf[2], buf[3] = buf[3], buf[2], buf[1], buf[0]
	buf[4], buf[5] = buf[5], buf[4]
	buf[6], buf[7] = buf[7], buf[6]
	return buf
}

// Temporal codecs. DATE counts days from 0001-01-01, DATETIME from
// 1900-01-01 with 1/300 s ticks, TIME is 10^-scale seconds since midnight.

var zeroDateTime = time.Date(1900, time.January, 1, 0, 0, 0, 0, time.UTC)
var zeroDate = time.Date(1, time.January, 1, 0, 0, 0, 0, time.UTC)

var scaleToNanos = [8]int64{
	1e9, 1e8, 1e7, 1e6, 1e5, 1e4, 1e3, 1e2,
}

func decodeDateTim4(buf []byte) time.Time {
	days := binary.LittleEndian.Uint16(buf)
	mins := binary.LittleEndian.Uint16(buf[2:])
	return zeroDateTime.AddDate(0, 0, int(days)).Add(time.Duration(mins) * time.Minute)
}

func decodeDateTime(buf []byte) time.Time {
	days := int32(binary.LittleEndian.Uint32(buf))
	tm := binary.LittleEndian.Uint32(buf[4:])
	ns := int64(math.Trunc(float64(tm) / 300 * 1e9))
	return zeroDateTime.AddDate(0, 0, int(days)).Add(time.Duration(ns))
}

func encodeDateTime(t time.Time) []byte {
	t = t.UTC()
	days := int32(t.Sub(zeroDateTime) / (24 * time.Hour))
	base := zeroDateTime.AddDate(0, 0, int(days))
	if t.Before(base) {
		days--
		base = zeroDateTime.AddDate(0, 0, int(days))
	}
	tm := uint32(math.Round(float64(t.Sub(base)) / 1e9 * 300))
	buf := make([]byte, 8)
	binary.LittleEndian.PutUint32(buf, uint32(days))
	binary.LittleEndian.PutUint32(buf[4:], tm)
	return buf
}

func dateDays(buf []byte) int {
	return int(buf[0]) | int(buf[1])<<8 | int(buf[2])<<16
}

func decodeDate(buf []byte) time.Time {
	return zeroDate.AddDate(0, 0, dateDays(buf))
}

func putDateDays(buf []byte, t time.Time) {
	days := divFloor(t.Unix()-zeroDate.Unix(), 24*3600)
	buf[0] = byte(days)
	buf[1] = byte(days >> 8)
	buf[2] = byte(days >> 16)
}

func divFloor(x, y int64) int64 {
	q := x / y
	if x%y < 0 {
		q--
	}
	return q
}

func timeNanosOfDay(scale uint8, buf []byte) int64 {
	var acc uint64
	for i := len(buf) - 1; i >= 0; i-- {
		acc = acc<<8 | uint64(buf[i])
	}
	return int64(acc) * scaleToNanos[scale]
}

func decodeTime(scale uint8, buf []byte) time.Time {
	ns := timeNanosOfDay(scale, buf)
	return zeroDate.Add(time.Duration(ns))
}

func decodeDateTime2(scale uint8, buf []byte) time.Time {
	timePart := buf[:len(buf)-3]
	ns := timeNanosOfDay(scale, timePart)
	days := dateDays(buf[len(buf)-3:])
	return zeroDate.AddDate(0, 0, days).Add(time.Duration(ns))
}

func decodeDateTimeOffset(scale uint8, buf []byte) time.Time {
	timePart := buf[:len(buf)-5]
	ns := timeNanosOfDay(scale, timePart)
	days := dateDays(buf[len(buf)-5 : len(buf)-2])
	offsetMins := int(int16(binary.LittleEndian.Uint16(buf[len(buf)-2:])))
	// The wire value is UTC; reattach the offset as the zone.
	utc := zeroDate.AddDate(0, 0, days).Add(time.Duration(ns))
	return utc.In(time.FixedZone("", offsetMins*60))
}

func timeSizeForScale(scale uint8) int {
	switch {
	case scale <= 2:
		return 3
	case scale <= 4:
		return 4
	default:
		return 5
	}
}

// encodeDateTime2 renders (time, 3 byte date) at the given scale.
func encodeDateTime2(t time.Time, scale uint8) []byte {
	size := timeSizeForScale(scale)
	buf := make([]byte, size+3)
	putTimeOfDay(buf[:size], t, scale)
	putDateDays(buf[size:], t)
	return buf
}

// encodeDateTimeOffset appends the offset in minutes to a UTC datetime2.
func encodeDateTimeOffset(t time.Time, scale uint8) []byte {
	_, offsetSecs := t.Zone()
	utc := t.UTC()
	size := timeSizeForScale(scale)
	buf := make([]byte, size+5)
	putTimeOfDay(buf[:size], utc, scale)
	putDateDays(buf[size:size+3], utc)
	binary.LittleEndian.PutUint16(buf[size+3:], uint16(int16(offsetSecs/60)))
	return buf
}

func putTimeOfDay(buf []byte, t time.Time, scale uint8) {
	ns := int64(t.Hour())*3600*1e9 +
		int64(t.Minute())*60*1e9 +
		int64(t.Second())*1e9 +
		int64(t.Nanosecond())
	units := uint64(ns / scaleToNanos[scale])
	for i := range buf {
		buf[i] = byte(units)
		units >>= 8
	}
}

// writeTypeInfoAndValue emits one RPC parameter: its TYPE_INFO declaration
// followed by the value bytes. p is already wire-encoded by makeParam.
func writeTypeInfoAndValue(w io.Writer, p param) error {
	if _, err := w.Write(p.ti); err != nil {
		return err
	}
	_, err := w.Write(p.val)
	return err
}
