package whiskers

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUcs2RoundTrip(t *testing.T) {
	for _, s := range []string{"", "hello", "héllo wörld", "日本語", "emoji 😀"} {
		got, err := ucs22str(str2ucs2(s))
		require.NoError(t, err)
		assert.Equal(t, s, got)
	}
}

func TestUcs22strOddLength(t *testing.T) {
	_, err := ucs22str([]byte{0x41, 0x00, 0x42})
	require.Error(t, err)
}

func TestBVarCharRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBVarChar(&buf, "master"))
	got, err := readBVarChar(&buf)
	require.NoError(t, err)
	assert.Equal(t, "master", got)
}

func TestBVarCharTooLong(t *testing.T) {
	long := make([]byte, 256)
	for i := range long {
		long[i] = 'a'
	}
	var buf bytes.Buffer
	require.Error(t, writeBVarChar(&buf, string(long)))
}

func TestUsVarCharRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeUsVarChar(&buf, "a longer string value"))
	got, err := readUsVarChar(&buf)
	require.NoError(t, err)
	assert.Equal(t, "a longer string value", got)
}

func TestBVarByteRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBVarByte(&buf, []byte{1, 2, 3}))
	got, err := readBVarByte(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)
}
