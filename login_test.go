package whiskers

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copycatdb/whiskers/wsdsn"
)

func TestManglePassword(t *testing.T) {
	// Each UCS-2 byte has its nibbles swapped, then is XORed with 0xA5.
	assert.Equal(t, []byte{0x92, 0xa5, 0xb3, 0xa5}, manglePassword("sa"))
	assert.Empty(t, manglePassword(""))
}

func TestMakeLogin(t *testing.T) {
	p, err := wsdsn.Parse("server=srv;database=db;uid=user;pwd=pw;app name=app")
	require.NoError(t, err)
	l := makeLogin(p)
	assert.Equal(t, uint32(verTDS74), l.TDSVersion)
	assert.Equal(t, "user", l.UserName)
	assert.Equal(t, "pw", l.Password)
	assert.Equal(t, "db", l.Database)
	assert.Equal(t, "srv", l.ServerName)
	assert.Equal(t, "app", l.AppName)
	assert.Zero(t, l.OptionFlags2&fIntSecurity)
}

func TestMakeLoginIntegratedSecurity(t *testing.T) {
	p, err := wsdsn.Parse("server=srv;authentication=ntlm;uid=dom\\user;pwd=pw")
	require.NoError(t, err)
	l := makeLogin(p)
	assert.Equal(t, byte(fIntSecurity), l.OptionFlags2&fIntSecurity)
}

func TestSendLoginLayout(t *testing.T) {
	transport := &mockTransport{}
	buf := newTdsBuffer(4096, transport)
	l := login{
		TDSVersion: verTDS74,
		PacketSize: 4096,
		HostName:   "host",
		UserName:   "user",
		Password:   "secret",
		AppName:    "app",
		ServerName: "srv",
		CtlIntName: "driver",
		Database:   "db",
	}
	require.NoError(t, sendLogin(buf, l))

	out := transport.out.Bytes()
	require.Equal(t, byte(packLogin7), out[0])
	payload := out[packetHeaderSize:]

	length := binary.LittleEndian.Uint32(payload[0:])
	assert.Equal(t, int(length), len(payload))
	assert.Equal(t, uint32(verTDS74), binary.LittleEndian.Uint32(payload[4:]))

	// HostName is the first entry of the variable block, right after the
	// 94 byte fixed header.
	hostOffset := binary.LittleEndian.Uint16(payload[36:])
	hostLen := binary.LittleEndian.Uint16(payload[38:])
	require.Equal(t, uint16(94), hostOffset)
	require.Equal(t, uint16(4), hostLen)
	host, err := ucs22str(payload[hostOffset : hostOffset+hostLen*2])
	require.NoError(t, err)
	assert.Equal(t, "host", host)

	// The password field holds the mangled form, never the clear text.
	pwdOffset := binary.LittleEndian.Uint16(payload[44:])
	pwdLen := binary.LittleEndian.Uint16(payload[46:])
	require.Equal(t, uint16(6), pwdLen)
	assert.Equal(t, manglePassword("secret"), payload[pwdOffset:pwdOffset+pwdLen*2])
}

func TestSendSSPIMessage(t *testing.T) {
	transport := &mockTransport{}
	buf := newTdsBuffer(4096, transport)
	blob := []byte{1, 2, 3, 4}
	require.NoError(t, sendSSPIMessage(buf, blob))
	out := transport.out.Bytes()
	assert.Equal(t, byte(packSSPIMessage), out[0])
	assert.Equal(t, blob, out[packetHeaderSize:])
}
