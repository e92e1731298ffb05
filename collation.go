package whiskers

import (
	"encoding/binary"
	"fmt"
	"io"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/japanese"
	"golang.org/x/text/encoding/korean"
	"golang.org/x/text/encoding/simplifiedchinese"
	"golang.org/x/text/encoding/traditionalchinese"
)

// collation is the 5 byte collation descriptor attached to char/varchar/text
// columns: a 20 bit LCID plus comparison flags, and a legacy SQL sort order
// id. The sort id, when present, wins over the LCID when picking a code
// page.
type collation struct {
	lcidAndFlags uint32
	sortId       uint8
}

func (c collation) getLcid() uint32 {
	return c.lcidAndFlags & 0x000fffff
}

func readCollation(r *tdsBuffer) (res collation) {
	res.lcidAndFlags = r.uint32()
	res.sortId = r.byte()
	return
}

func writeCollation(w io.Writer, col collation) (err error) {
	if err = binary.Write(w, binary.LittleEndian, col.lcidAndFlags); err != nil {
		return
	}
	return binary.Write(w, binary.LittleEndian, col.sortId)
}

// defaultCollation is what parameters are declared with; the server converts
// as needed. Latin1_General_CI_AS.
var defaultCollation = collation{lcidAndFlags: 0x00d00409}

// Windows code pages by legacy SQL sort order id.
var cpFromSortID = map[uint8]int{
	30: 437, 31: 437, 32: 437, 33: 437, 34: 437,
	40: 850, 41: 850, 42: 850, 43: 850, 44: 850, 49: 850,
	50: 1252, 51: 1252, 52: 1252, 53: 1252, 54: 1252,
	55: 850, 56: 850, 57: 850, 58: 850, 59: 850, 60: 850, 61: 850,
	71: 1252, 72: 1252, 73: 1252, 74: 1252, 75: 1252, 76: 1252, 77: 1252,
	80: 1250, 81: 1250, 82: 1250, 83: 1250, 84: 1250, 85: 1250, 86: 1250,
	87: 1250, 88: 1250, 89: 1250, 90: 1250, 91: 1250, 92: 1250, 93: 1250,
	94: 1250, 95: 1250, 96: 1250,
	104: 1251, 105: 1251, 106: 1251, 107: 1251, 108: 1251,
	112: 1253, 113: 1253, 114: 1253, 120: 1253, 121: 1253, 124: 1253,
	128: 1254, 129: 1254, 130: 1254,
	136: 1255, 137: 1255, 138: 1255,
	144: 1256, 145: 1256, 146: 1256,
	152: 1257, 153: 1257, 154: 1257, 155: 1257, 156: 1257,
	157: 1257, 158: 1257, 159: 1257, 160: 1257,
	183: 1252, 184: 1252, 185: 1252, 186: 1252,
	192: 932, 193: 932, 194: 949, 195: 949, 196: 950, 197: 950,
	198: 936, 199: 936, 200: 932, 201: 949, 202: 950, 203: 936,
	204: 874, 205: 874, 206: 874,
	210: 1252, 211: 1252, 212: 1252, 213: 1252, 214: 1252, 215: 1252,
	216: 1252, 217: 1252,
}

// Windows code pages by primary language id (low 10 bits of the LCID).
var cpFromLangID = map[uint32]int{
	0x0401: 1256, 0x0402: 1251, 0x0404: 950, 0x0405: 1250, 0x0406: 1252,
	0x0407: 1252, 0x0408: 1253, 0x0409: 1252, 0x040a: 1252, 0x040b: 1252,
	0x040c: 1252, 0x040d: 1255, 0x040e: 1250, 0x040f: 1252, 0x0410: 1252,
	0x0411: 932, 0x0412: 949, 0x0413: 1252, 0x0414: 1252, 0x0415: 1250,
	0x0416: 1252, 0x0418: 1250, 0x0419: 1251, 0x041a: 1250, 0x041b: 1250,
	0x041c: 1250, 0x041d: 1252, 0x041e: 874, 0x041f: 1254, 0x0420: 1256,
	0x0422: 1251, 0x0423: 1251, 0x0424: 1250, 0x0425: 1257, 0x0426: 1257,
	0x0427: 1257, 0x0429: 1256, 0x042a: 1258, 0x042d: 1252, 0x0804: 936,
	0x0807: 1252, 0x0809: 1252, 0x080a: 1252, 0x080c: 1252, 0x0c04: 950,
	0x0c0a: 1252, 0x1004: 936, 0x1404: 950, 0x2c0a: 1252,
}

var encFromCP = map[int]encoding.Encoding{
	437:  charmap.CodePage437,
	850:  charmap.CodePage850,
	874:  charmap.Windows874,
	932:  japanese.ShiftJIS,
	936:  simplifiedchinese.GBK,
	949:  korean.EUCKR,
	950:  traditionalchinese.Big5,
	1250: charmap.Windows1250,
	1251: charmap.Windows1251,
	1252: charmap.Windows1252,
	1253: charmap.Windows1253,
	1254: charmap.Windows1254,
	1255: charmap.Windows1255,
	1256: charmap.Windows1256,
	1257: charmap.Windows1257,
	1258: charmap.Windows1258,
}

// charsetEncoding resolves a column collation to a character encoding.
func charsetEncoding(col collation) (encoding.Encoding, error) {
	var cp int
	var ok bool
	if col.sortId != 0 {
		cp, ok = cpFromSortID[col.sortId]
		if !ok {
			return nil, EncodingError{Message: fmt.Sprintf("unknown sql sort order id %d", col.sortId)}
		}
	} else {
		cp, ok = cpFromLangID[col.getLcid()&0xffff]
		if !ok {
			return nil, EncodingError{Message: fmt.Sprintf("unknown collation lcid 0x%x", col.getLcid())}
		}
	}
	enc, ok := encFromCP[cp]
	if !ok {
		return nil, EncodingError{Message: fmt.Sprintf("no decoder for code page %d", cp)}
	}
	return enc, nil
}

// charsetToUTF8 decodes char/varchar bytes under the column collation.
func charsetToUTF8(col collation, s []byte) (string, error) {
	enc, err := charsetEncoding(col)
	if err != nil {
		return "", err
	}
	decoded, err := enc.NewDecoder().Bytes(s)
	if err != nil {
		return "", EncodingError{Message: fmt.Sprintf("decoding bytes under collation lcid 0x%x: %v", col.getLcid(), err)}
	}
	return string(decoded), nil
}
