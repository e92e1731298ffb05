package whiskers

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// plpBytes renders a PLP value of the given chunks with a known total.
func plpBytes(known bool, chunks ...[]byte) []byte {
	total := uint64(plpUnknownLen)
	if known {
		total = 0
		for _, c := range chunks {
			total += uint64(len(c))
		}
	}
	out := le64(total)
	for _, c := range chunks {
		out = append(out, le32(uint32(len(c)))...)
		out = append(out, c...)
	}
	return append(out, le32(0)...)
}

func plpNullBytes() []byte {
	return le64(plpNull)
}

func varbinMaxTypeInfo() []byte {
	return cat([]byte{typeBigVarBin}, le16(plpMax))
}

func nvarcharMaxTypeInfo() []byte {
	return cat([]byte{typeNVarChar}, le16(plpMax), le16(0x0409), le16(0x00d0), []byte{0})
}

func TestPLPSmallValueDecodesInline(t *testing.T) {
	payload := cat(varbinMaxTypeInfo(), plpBytes(true, []byte("ab"), []byte("cd")))
	got := readOneValue(t, payload)
	assert.Equal(t, []byte("abcd"), got)
}

func TestPLPNull(t *testing.T) {
	payload := cat(varbinMaxTypeInfo(), plpNullBytes())
	assert.Nil(t, readOneValue(t, payload))
}

func TestPLPUnknownLengthStreams(t *testing.T) {
	payload := cat(varbinMaxTypeInfo(), plpBytes(false, []byte("hello "), []byte("world")))
	got := readOneValue(t, payload)
	vc, ok := got.(*ValueChunks)
	require.True(t, ok, "expected a lazy value, got %T", got)
	_, known := vc.KnownLength()
	assert.False(t, known)

	all, err := vc.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte("hello world"), all)
}

func TestPLPLargeValueStreams(t *testing.T) {
	big := bytes.Repeat([]byte{0xab}, plpInlineThreshold+1)
	payload := cat(varbinMaxTypeInfo(), plpBytes(true, big[:4000], big[4000:]))
	got := readOneValue(t, payload)
	vc, ok := got.(*ValueChunks)
	require.True(t, ok)
	total, known := vc.KnownLength()
	require.True(t, known)
	assert.Equal(t, uint64(len(big)), total)

	var assembled []byte
	for {
		chunk, err := vc.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		assembled = append(assembled, chunk...)
	}
	assert.Equal(t, big, assembled)
}

func TestPLPReaderInterface(t *testing.T) {
	big := bytes.Repeat([]byte("0123456789"), 2000)
	payload := cat(varbinMaxTypeInfo(), plpBytes(true, big))
	vc := readOneValue(t, payload).(*ValueChunks)
	all, err := io.ReadAll(vc)
	require.NoError(t, err)
	assert.Equal(t, big, all)
}

func TestPLPDecodeString(t *testing.T) {
	text := bytes.Repeat([]byte("é"), plpInlineThreshold) // expands past the inline limit as UCS-2
	u := ucs2Bytes(string(text))
	payload := cat(nvarcharMaxTypeInfo(), plpBytes(true, u[:8000], u[8000:]))
	vc, ok := readOneValue(t, payload).(*ValueChunks)
	require.True(t, ok)
	s, err := vc.DecodeString()
	require.NoError(t, err)
	assert.Equal(t, string(text), s)
}

func TestPLPDiscard(t *testing.T) {
	big := bytes.Repeat([]byte{1}, plpInlineThreshold*2)
	payload := cat(
		varbinMaxTypeInfo(), plpBytes(true, big),
		[]byte{typeInt4}, le32(42),
	)
	buf := valueReadBuffer(t, payload)
	ti := readTypeInfo(buf)
	vc := ti.Reader(&ti, buf).(*ValueChunks)
	require.NoError(t, vc.discard())

	// The stream is positioned at the next value.
	ti2 := readTypeInfo(buf)
	assert.Equal(t, int64(42), ti2.Reader(&ti2, buf))
}

func TestPLPTruncatedChunkFails(t *testing.T) {
	payload := cat(
		varbinMaxTypeInfo(),
		le64(plpUnknownLen),
		le32(10), []byte("abc"), // chunk header promises 10 bytes
	)
	vc := readOneValue(t, payload).(*ValueChunks)
	_, err := vc.ReadAll()
	require.Error(t, err)
	var perr ProtocolError
	assert.ErrorAs(t, err, &perr)

	// The failure sticks.
	_, err = vc.Next()
	assert.Error(t, err)
}
