// Package ntlm implements NTLMv2 authentication for integrated login
// without any platform SSPI dependency.
package ntlm

import (
	"crypto/hmac"
	"crypto/md5"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf16"

	"golang.org/x/crypto/md4"

	"github.com/copycatdb/whiskers/integratedauth"
	"github.com/copycatdb/whiskers/wsdsn"
)

// AuthProvider handles NTLM authentication; register it under the name the
// connection string uses:
//
//	integratedauth.SetIntegratedAuthenticationProvider("ntlm", ntlm.AuthProvider)
var AuthProvider integratedauth.Provider = integratedauth.ProviderFunc(getAuth)

const (
	negotiateUnicode         = 0x00000001
	negotiateOEM             = 0x00000002
	requestTarget            = 0x00000004
	negotiateNTLM            = 0x00000200
	negotiateAlwaysSign      = 0x00008000
	negotiateExtendedUnicode = 0x00080000 // NTLM2 session security
	negotiate128             = 0x20000000
)

const negotiateFlags = negotiateUnicode |
	negotiateOEM |
	requestTarget |
	negotiateNTLM |
	negotiateAlwaysSign |
	negotiateExtendedUnicode |
	negotiate128

// auth holds one login exchange. User names of the form DOMAIN\user carry
// the domain; a bare user name leaves it to the server's default.
type auth struct {
	Domain      string
	UserName    string
	Password    string
	Workstation string
}

func getAuth(config wsdsn.Config) (integratedauth.IntegratedAuthenticator, error) {
	if !strings.ContainsRune(config.User, '\\') {
		return &auth{UserName: config.User, Password: config.Password, Workstation: config.Workstation}, nil
	}
	domainUser := strings.SplitN(config.User, `\`, 2)
	return &auth{
		Domain:      domainUser[0],
		UserName:    domainUser[1],
		Password:    config.Password,
		Workstation: config.Workstation,
	}, nil
}

// InitialBytes builds the NEGOTIATE_MESSAGE.
func (a *auth) InitialBytes() ([]byte, error) {
	domainLen := len(a.Domain)
	workstationLen := len(a.Workstation)
	msg := make([]byte, 40+domainLen+workstationLen)
	copy(msg, []byte("NTLMSSP\x00"))
	binary.LittleEndian.PutUint32(msg[8:], 1) // NEGOTIATE
	binary.LittleEndian.PutUint32(msg[12:], negotiateFlags)
	// Domain and workstation fields, sent in OEM bytes.
	binary.LittleEndian.PutUint16(msg[16:], uint16(domainLen))
	binary.LittleEndian.PutUint16(msg[18:], uint16(domainLen))
	binary.LittleEndian.PutUint32(msg[20:], uint32(40+workstationLen))
	binary.LittleEndian.PutUint16(msg[24:], uint16(workstationLen))
	binary.LittleEndian.PutUint16(msg[26:], uint16(workstationLen))
	binary.LittleEndian.PutUint32(msg[28:], 40)
	// Version: 8 zero bytes.
	copy(msg[40:], a.Workstation)
	copy(msg[40+workstationLen:], a.Domain)
	return msg, nil
}

var errorNTLM = errors.New("ntlm: protocol error")

// NextBytes answers the CHALLENGE_MESSAGE with an NTLMv2
// AUTHENTICATE_MESSAGE.
func (a *auth) NextBytes(bytes []byte) ([]byte, error) {
	if len(bytes) < 48 || string(bytes[0:8]) != "NTLMSSP\x00" {
		return nil, errorNTLM
	}
	if binary.LittleEndian.Uint32(bytes[8:]) != 2 { // CHALLENGE
		return nil, errorNTLM
	}
	var challenge [8]byte
	copy(challenge[:], bytes[24:32])

	// Target info block for NTLMv2, from the challenge message.
	targetInfoLen := binary.LittleEndian.Uint16(bytes[40:])
	targetInfoOffset := binary.LittleEndian.Uint32(bytes[44:])
	if int(targetInfoOffset)+int(targetInfoLen) > len(bytes) {
		return nil, fmt.Errorf("ntlm: target info block extends past the challenge message")
	}
	targetInfo := bytes[targetInfoOffset : targetInfoOffset+uint32(targetInfoLen)]

	ntlmV2Response, lmV2Response, err := a.ntlmV2Responses(challenge, targetInfo)
	if err != nil {
		return nil, err
	}

	domain := utf16le(a.Domain)
	user := utf16le(a.UserName)
	workstation := utf16le(a.Workstation)

	payloadOffset := 64
	msg := make([]byte, payloadOffset+len(domain)+len(user)+len(workstation)+len(lmV2Response)+len(ntlmV2Response))
	copy(msg, []byte("NTLMSSP\x00"))
	binary.LittleEndian.PutUint32(msg[8:], 3) // AUTHENTICATE

	addField := func(headerOffset int, field []byte) {
		binary.LittleEndian.PutUint16(msg[headerOffset:], uint16(len(field)))
		binary.LittleEndian.PutUint16(msg[headerOffset+2:], uint16(len(field)))
		binary.LittleEndian.PutUint32(msg[headerOffset+4:], uint32(payloadOffset))
		copy(msg[payloadOffset:], field)
		payloadOffset += len(field)
	}
	addField(12, lmV2Response)
	addField(20, ntlmV2Response)
	addField(28, domain)
	addField(36, user)
	addField(44, workstation)
	// Session key: empty.
	binary.LittleEndian.PutUint32(msg[52:], uint32(payloadOffset))
	binary.LittleEndian.PutUint32(msg[60:], negotiateFlags)
	return msg, nil
}

func (a *auth) Free() {}

func utf16le(val string) []byte {
	var v []byte
	for _, r := range utf16.Encode([]rune(val)) {
		v = append(v, byte(r), byte(r>>8))
	}
	return v
}

// ntowfv1 is MD4 over the UTF-16LE password.
func ntowfv1(password string) []byte {
	h := md4.New()
	h.Write(utf16le(password))
	return h.Sum(nil)
}

// ntowfv2 keys the v1 hash with the uppercased user and the domain.
func ntowfv2(password, user, domain string) []byte {
	h := hmac.New(md5.New, ntowfv1(password))
	h.Write(utf16le(strings.ToUpper(user) + domain))
	return h.Sum(nil)
}

// ntlmV2Responses computes the NTLMv2 and LMv2 proof blobs.
func (a *auth) ntlmV2Responses(challenge [8]byte, targetInfo []byte) (ntlmV2, lmV2 []byte, err error) {
	key := ntowfv2(a.Password, a.UserName, a.Domain)

	var clientChallenge [8]byte
	if _, err = rand.Read(clientChallenge[:]); err != nil {
		return nil, nil, err
	}

	// Windows FILETIME: 100ns intervals since 1601-01-01.
	timestamp := uint64(time.Now().UnixNano()/100) + 116444736000000000

	// temp blob: version, timestamp, client challenge, target info.
	temp := make([]byte, 28+len(targetInfo)+4)
	temp[0] = 1
	temp[1] = 1
	binary.LittleEndian.PutUint64(temp[8:], timestamp)
	copy(temp[16:], clientChallenge[:])
	copy(temp[28:], targetInfo)

	h := hmac.New(md5.New, key)
	h.Write(challenge[:])
	h.Write(temp)
	ntProof := h.Sum(nil)
	ntlmV2 = append(ntProof, temp...)

	h = hmac.New(md5.New, key)
	h.Write(challenge[:])
	h.Write(clientChallenge[:])
	lmV2 = append(h.Sum(nil), clientChallenge[:]...)
	return ntlmV2, lmV2, nil
}
