package whiskers

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// Exact numeric values never travel through float64. DECIMAL/NUMERIC wire
// format is a sign byte followed by a little-endian magnitude whose width
// depends on the declared precision; MONEY is a fixed-point int64 scaled by
// 10^4 with its halves swapped.

const maxDecimalPrecision = 38

// decimalSize gives the magnitude width in bytes for a precision.
func decimalSize(precision uint8) uint8 {
	switch {
	case precision <= 9:
		return 4
	case precision <= 19:
		return 8
	case precision <= 28:
		return 12
	default:
		return 16
	}
}

// ten38 is the first coefficient too large for precision 38.
var ten38 = func() *big.Int {
	n := big.NewInt(10)
	return n.Exp(n, big.NewInt(maxDecimalPrecision), nil)
}()

// decodeDecimal turns sign byte + little-endian magnitude into an exact
// decimal at the column scale.
func decodeDecimal(buf []byte, scale uint8) (decimal.Decimal, error) {
	if len(buf) < 2 {
		return decimal.Decimal{}, protocolErrorf("decimal value of %d bytes is too short", len(buf))
	}
	positive := buf[0] != 0
	mag := make([]byte, len(buf)-1)
	for i, b := range buf[1:] {
		mag[len(mag)-1-i] = b
	}
	coef := new(big.Int).SetBytes(mag)
	if !positive {
		coef.Neg(coef)
	}
	return decimal.NewFromBigInt(coef, -int32(scale)), nil
}

// encodeDecimal renders a decimal as declared-type bytes, returning the
// precision and scale to put in the parameter type info.
func encodeDecimal(d decimal.Decimal) (buf []byte, precision, scale uint8, err error) {
	exp := d.Exponent()
	coef := new(big.Int).Set(d.Coefficient())
	if exp > 0 {
		// Fold a positive exponent into the coefficient; the wire has
		// no notion of one.
		coef.Mul(coef, new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(exp)), nil))
		exp = 0
	}
	if -exp > maxDecimalPrecision {
		return nil, 0, 0, UnsupportedTypeError{Value: d}
	}
	scale = uint8(-exp)
	abs := new(big.Int).Abs(coef)
	if abs.Cmp(ten38) >= 0 {
		return nil, 0, 0, UnsupportedTypeError{Value: d}
	}
	precision = maxDecimalPrecision

	size := int(decimalSize(precision))
	buf = make([]byte, size+1)
	if coef.Sign() >= 0 {
		buf[0] = 1
	}
	for i, b := range abs.Bytes() {
		buf[size-len(abs.Bytes())+i+1] = b
	}
	// The magnitude is little endian on the wire.
	for i, j := 1, size; i < j; i, j = i+1, j-1 {
		buf[i], buf[j] = buf[j], buf[i]
	}
	return buf, precision, scale, nil
}

// decodeMoney decodes the 8 byte MONEY layout: the int64 is stored high
// half first.
func decodeMoney(buf []byte) decimal.Decimal {
	money := int64(uint64(buf[4]) |
		uint64(buf[5])<<8 |
		uint64(buf[6])<<16 |
		uint64(buf[7])<<24 |
		uint64(buf[0])<<32 |
		uint64(buf[1])<<40 |
		uint64(buf[2])<<48 |
		uint64(buf[3])<<56)
	return decimal.New(money, -4)
}

// decodeSmallMoney decodes the 4 byte SMALLMONEY layout.
func decodeSmallMoney(buf []byte) decimal.Decimal {
	money := int32(uint32(buf[0]) |
		uint32(buf[1])<<8 |
		uint32(buf[2])<<16 |
		uint32(buf[3])<<24)
	return decimal.New(int64(money), -4)
}
