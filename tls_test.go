package whiskers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTLSHandshakeConnWrapsWritesInPrelogin(t *testing.T) {
	transport := &mockTransport{}
	hs := &tlsHandshakeConn{buf: newTdsBuffer(4096, transport)}

	hello := []byte{0x16, 0x03, 0x01, 0x00, 0x05, 1, 2, 3, 4, 5}
	n, err := hs.Write(hello)
	require.NoError(t, err)
	assert.Equal(t, len(hello), n)

	// Nothing hits the wire until the packet is finished.
	assert.Zero(t, transport.out.Len())

	sent, err := hs.FinishPacket()
	require.NoError(t, err)
	assert.True(t, sent)

	raw := transport.out.Bytes()
	require.Equal(t, buildPacket(packPrelogin, packStatusEOM, 1, hello), raw)
}

func TestTLSHandshakeConnReadsPreloginPayload(t *testing.T) {
	payload := []byte{0x16, 0x03, 0x03, 0x00, 0x02, 0xaa, 0xbb}
	hs := &tlsHandshakeConn{buf: newTdsBuffer(4096, newMockTransport(buildMessage(packPrelogin, 4096, payload)))}

	got := make([]byte, len(payload))
	n, err := hs.Read(got)
	require.NoError(t, err)
	assert.Equal(t, len(payload), n)
	assert.Equal(t, payload, got)
}

func TestTLSHandshakeConnRejectsNonPrelogin(t *testing.T) {
	hs := &tlsHandshakeConn{buf: newTdsBuffer(4096, newMockTransport(buildMessage(packReply, 4096, []byte{1})))}

	_, err := hs.Read(make([]byte, 4))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "instead of prelogin")
}

func TestTLSHandshakeConnFlushesPendingWriteBeforeRead(t *testing.T) {
	transport := newMockTransport(buildMessage(packPrelogin, 4096, []byte{0x02}))
	hs := &tlsHandshakeConn{buf: newTdsBuffer(4096, transport)}

	_, err := hs.Write([]byte{0x01})
	require.NoError(t, err)

	got := make([]byte, 1)
	_, err = hs.Read(got)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x02}, got)
	// The pending client packet went out as part of the read.
	assert.Equal(t, buildPacket(packPrelogin, packStatusEOM, 1, []byte{0x01}), transport.out.Bytes())
}
