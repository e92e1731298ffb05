package whiskers

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecimalRoundTrip(t *testing.T) {
	values := []string{
		"0", "1", "-1", "12.34", "-12.34",
		"0.0000001",
		"99999999999999999999999999999999999999", // precision 38
		"-99999999999999999999999999999999999999",
		"1234567890.123456789",
	}
	for _, s := range values {
		d := decimal.RequireFromString(s)
		buf, prec, scale, err := encodeDecimal(d)
		require.NoError(t, err, s)
		assert.Equal(t, uint8(maxDecimalPrecision), prec)
		got, err := decodeDecimal(buf, scale)
		require.NoError(t, err, s)
		assert.True(t, d.Equal(got), "%s decoded as %s", s, got)
	}
}

func TestEncodeDecimalOverflow(t *testing.T) {
	tooBig := decimal.RequireFromString("199999999999999999999999999999999999999")
	_, _, _, err := encodeDecimal(tooBig)
	var ute UnsupportedTypeError
	require.ErrorAs(t, err, &ute)

	tooPrecise := decimal.New(1, -40)
	_, _, _, err = encodeDecimal(tooPrecise)
	require.ErrorAs(t, err, &ute)
}

func TestDecodeDecimalSign(t *testing.T) {
	// sign byte 0 means negative
	buf := []byte{0, 0xd2, 0x04, 0x00, 0x00} // 1234
	d, err := decodeDecimal(buf, 2)
	require.NoError(t, err)
	assert.Equal(t, "-12.34", d.String())
}

func TestDecodeDecimalTooShort(t *testing.T) {
	_, err := decodeDecimal([]byte{1}, 0)
	require.Error(t, err)
}

func TestDecodeMoney(t *testing.T) {
	// 1.0000 = 10000 raw, high int32 first
	buf := []byte{0, 0, 0, 0, 0x10, 0x27, 0, 0}
	assert.Equal(t, "1", decodeMoney(buf).String())

	// -1.0000
	raw := int64(-10000)
	buf = []byte{
		byte(raw >> 32), byte(raw >> 40), byte(raw >> 48), byte(raw >> 56),
		byte(raw), byte(raw >> 8), byte(raw >> 16), byte(raw >> 24),
	}
	assert.Equal(t, "-1", decodeMoney(buf).String())
}

func TestDecodeSmallMoney(t *testing.T) {
	buf := []byte{0x10, 0x27, 0, 0}
	assert.Equal(t, "1", decodeSmallMoney(buf).String())
}
