package ntlm

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/copycatdb/whiskers/wsdsn"
)

func TestGetAuthSplitsDomain(t *testing.T) {
	a, err := getAuth(wsdsn.Config{User: `CORP\alice`, Password: "pw", Workstation: "ws1"})
	require.NoError(t, err)
	na := a.(*auth)
	assert.Equal(t, "CORP", na.Domain)
	assert.Equal(t, "alice", na.UserName)
	assert.Equal(t, "pw", na.Password)
	assert.Equal(t, "ws1", na.Workstation)
}

func TestGetAuthBareUser(t *testing.T) {
	a, err := getAuth(wsdsn.Config{User: "alice", Password: "pw"})
	require.NoError(t, err)
	na := a.(*auth)
	assert.Empty(t, na.Domain)
	assert.Equal(t, "alice", na.UserName)
}

func TestInitialBytesNegotiateMessage(t *testing.T) {
	a := &auth{Domain: "CORP", UserName: "alice", Password: "pw", Workstation: "ws1"}
	msg, err := a.InitialBytes()
	require.NoError(t, err)

	require.Equal(t, "NTLMSSP\x00", string(msg[:8]))
	assert.Equal(t, uint32(1), binary.LittleEndian.Uint32(msg[8:]))
	assert.Equal(t, uint32(negotiateFlags), binary.LittleEndian.Uint32(msg[12:]))

	domainLen := binary.LittleEndian.Uint16(msg[16:])
	domainOffset := binary.LittleEndian.Uint32(msg[20:])
	assert.Equal(t, "CORP", string(msg[domainOffset:domainOffset+uint32(domainLen)]))

	wsLen := binary.LittleEndian.Uint16(msg[24:])
	wsOffset := binary.LittleEndian.Uint32(msg[28:])
	assert.Equal(t, "ws1", string(msg[wsOffset:wsOffset+uint32(wsLen)]))
}

// challengeMessage builds a minimal CHALLENGE_MESSAGE with the given server
// challenge and target info block.
func challengeMessage(challenge [8]byte, targetInfo []byte) []byte {
	msg := make([]byte, 56+len(targetInfo))
	copy(msg, []byte("NTLMSSP\x00"))
	binary.LittleEndian.PutUint32(msg[8:], 2)
	copy(msg[24:32], challenge[:])
	binary.LittleEndian.PutUint16(msg[40:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint16(msg[42:], uint16(len(targetInfo)))
	binary.LittleEndian.PutUint32(msg[44:], 56)
	copy(msg[56:], targetInfo)
	return msg
}

func TestNextBytesAuthenticateMessage(t *testing.T) {
	a := &auth{Domain: "CORP", UserName: "alice", Password: "secret", Workstation: "ws1"}
	challenge := [8]byte{1, 2, 3, 4, 5, 6, 7, 8}
	targetInfo := []byte{0x02, 0x00, 0x08, 0x00, 'C', 0, 'O', 0, 'R', 0, 'P', 0, 0, 0, 0, 0}

	msg, err := a.NextBytes(challengeMessage(challenge, targetInfo))
	require.NoError(t, err)

	require.Equal(t, "NTLMSSP\x00", string(msg[:8]))
	assert.Equal(t, uint32(3), binary.LittleEndian.Uint32(msg[8:]))

	readField := func(headerOffset int) []byte {
		length := binary.LittleEndian.Uint16(msg[headerOffset:])
		offset := binary.LittleEndian.Uint32(msg[headerOffset+4:])
		return msg[offset : offset+uint32(length)]
	}

	lmV2 := readField(12)
	ntlmV2 := readField(20)
	assert.Len(t, lmV2, 24)
	assert.GreaterOrEqual(t, len(ntlmV2), 16+28+len(targetInfo))

	assert.Equal(t, utf16le("CORP"), readField(28))
	assert.Equal(t, utf16le("alice"), readField(36))
	assert.Equal(t, utf16le("ws1"), readField(44))

	// The NT proof must verify against the response's own temp blob.
	key := ntowfv2(a.Password, a.UserName, a.Domain)
	h := hmac.New(md5.New, key)
	h.Write(challenge[:])
	h.Write(ntlmV2[16:])
	assert.Equal(t, h.Sum(nil), ntlmV2[:16])
}

func TestNextBytesRejectsMalformedChallenge(t *testing.T) {
	a := &auth{UserName: "alice", Password: "pw"}

	_, err := a.NextBytes([]byte("too short"))
	assert.ErrorIs(t, err, errorNTLM)

	bad := challengeMessage([8]byte{}, nil)
	binary.LittleEndian.PutUint32(bad[8:], 1) // wrong message type
	_, err = a.NextBytes(bad)
	assert.ErrorIs(t, err, errorNTLM)

	overflow := challengeMessage([8]byte{}, nil)
	binary.LittleEndian.PutUint16(overflow[40:], 200)
	_, err = a.NextBytes(overflow)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "target info")
}

func TestNTOWFv2KnownVector(t *testing.T) {
	// MS-NLMP 4.2.4.1.1: user "User", domain "Domain", password "Password".
	want := []byte{
		0x0c, 0x86, 0x8a, 0x40, 0x3b, 0xfd, 0x7a, 0x93,
		0xa3, 0x00, 0x1e, 0xf2, 0x2e, 0xf0, 0x2e, 0x3f,
	}
	assert.Equal(t, want, ntowfv2("Password", "User", "Domain"))
}
