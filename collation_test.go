package whiskers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCharsetToUTF8Latin1(t *testing.T) {
	// Latin1_General: lang id 0x0409 maps to code page 1252.
	col := collation{lcidAndFlags: 0x00d00409}
	got, err := charsetToUTF8(col, []byte{'c', 'a', 0xe9 /* é in cp1252 */})
	require.NoError(t, err)
	assert.Equal(t, "café", got)
}

func TestCharsetSortIDOverridesLangID(t *testing.T) {
	// Sort id 30 selects code page 437 regardless of the lang id.
	col := collation{lcidAndFlags: 0x00d00409, sortId: 30}
	got, err := charsetToUTF8(col, []byte{0x82 /* é in cp437 */})
	require.NoError(t, err)
	assert.Equal(t, "é", got)
}

func TestCharsetUnknownCollation(t *testing.T) {
	col := collation{lcidAndFlags: 0x0000ffff}
	_, err := charsetToUTF8(col, []byte("x"))
	var encErr EncodingError
	require.ErrorAs(t, err, &encErr)
}

func TestCollationRoundTrip(t *testing.T) {
	transport := &mockTransport{}
	wbuf := newTdsBuffer(64, transport)
	wbuf.BeginPacket(packReply, false)
	require.NoError(t, writeCollation(wbuf, defaultCollation))
	require.NoError(t, wbuf.FinishPacket())

	rbuf := newTdsBuffer(64, newMockTransport(transport.out.Bytes()))
	_, err := rbuf.BeginRead()
	require.NoError(t, err)
	assert.Equal(t, defaultCollation, readCollation(rbuf))
}
