package whiskers

import (
	"encoding/binary"
	"os"

	"github.com/copycatdb/whiskers/wsdsn"
)

const verTDS74 = 0x74000004

// LOGIN7 option flags.
const (
	fUseDB       = 0x20 // OptionFlags1: fail login if the database is unusable
	fSetLang     = 0x80 // OptionFlags1: warn on language change
	fODBC        = 0x02 // OptionFlags2: ODBC defaults (implicit SET ANSI semantics)
	fIntSecurity = 0x80 // OptionFlags2: SSPI instead of UID/PWD
)

// login carries every variable field of the LOGIN7 message.
type login struct {
	TDSVersion     uint32
	PacketSize     uint32
	ClientProgVer  uint32
	ClientPID      uint32
	ConnectionID   uint32
	OptionFlags1   uint8
	OptionFlags2   uint8
	TypeFlags      uint8
	OptionFlags3   uint8
	ClientTimeZone int32
	ClientLCID     uint32
	HostName       string
	UserName       string
	Password       string
	AppName        string
	ServerName     string
	CtlIntName     string
	Language       string
	Database       string
	ClientID       [6]byte
	SSPI           []byte
	AtchDBFile     string
	ChangePassword string
}

// loginHeader is the fixed 94 byte prefix of the LOGIN7 message: lengths,
// flags and the offset/length directory of the variable portion.
type loginHeader struct {
	Length               uint32
	TDSVersion           uint32
	PacketSize           uint32
	ClientProgVer        uint32
	ClientPID            uint32
	ConnectionID         uint32
	OptionFlags1         uint8
	OptionFlags2         uint8
	TypeFlags            uint8
	OptionFlags3         uint8
	ClientTimeZone       int32
	ClientLCID           uint32
	HostNameOffset       uint16
	HostNameLength       uint16
	UserNameOffset       uint16
	UserNameLength       uint16
	PasswordOffset       uint16
	PasswordLength       uint16
	AppNameOffset        uint16
	AppNameLength        uint16
	ServerNameOffset     uint16
	ServerNameLength     uint16
	ExtensionOffset      uint16
	ExtensionLength      uint16
	CtlIntNameOffset     uint16
	CtlIntNameLength     uint16
	LanguageOffset       uint16
	LanguageLength       uint16
	DatabaseOffset       uint16
	DatabaseLength       uint16
	ClientID             [6]byte
	SSPIOffset           uint16
	SSPILength           uint16
	AtchDBFileOffset     uint16
	AtchDBFileLength     uint16
	ChangePasswordOffset uint16
	ChangePasswordLength uint16
	SSPILongLength       uint32
}

// manglePassword obfuscates the password the way LOGIN7 requires: swap the
// nibbles of every UCS-2 byte, then XOR with 0xA5.
func manglePassword(password string) []byte {
	ucs2 := str2ucs2(password)
	for i, ch := range ucs2 {
		ucs2[i] = ((ch << 4) | (ch >> 4)) ^ 0xA5
	}
	return ucs2
}

// makeLogin assembles the LOGIN7 fields from a parsed config. The SSPI blob
// is filled in by the caller when integrated auth is negotiated.
func makeLogin(p wsdsn.Config) login {
	appname := p.AppName
	if appname == "" {
		appname = "whiskers"
	}
	hostname := p.Workstation
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	l := login{
		TDSVersion:    verTDS74,
		PacketSize:    uint32(p.PacketSize),
		ClientProgVer: driverVersionCode,
		ClientPID:     uint32(os.Getpid()),
		OptionFlags1:  fUseDB | fSetLang,
		OptionFlags2:  fODBC,
		HostName:      hostname,
		AppName:       appname,
		ServerName:    p.Host,
		CtlIntName:    "whiskers",
		Database:      p.Database,
	}
	if p.Auth == wsdsn.AuthSQL {
		l.UserName = p.User
		l.Password = p.Password
	} else {
		l.OptionFlags2 |= fIntSecurity
	}
	return l
}

// sendLogin frames and sends the LOGIN7 message.
func sendLogin(w *tdsBuffer, l login) error {
	w.BeginPacket(packLogin7, false)
	hostname := str2ucs2(l.HostName)
	username := str2ucs2(l.UserName)
	password := manglePassword(l.Password)
	appname := str2ucs2(l.AppName)
	servername := str2ucs2(l.ServerName)
	ctlintname := str2ucs2(l.CtlIntName)
	language := str2ucs2(l.Language)
	database := str2ucs2(l.Database)
	atchdbfile := str2ucs2(l.AtchDBFile)
	changepassword := manglePassword(l.ChangePassword)

	hdr := loginHeader{
		TDSVersion:     l.TDSVersion,
		PacketSize:     l.PacketSize,
		ClientProgVer:  l.ClientProgVer,
		ClientPID:      l.ClientPID,
		ConnectionID:   l.ConnectionID,
		OptionFlags1:   l.OptionFlags1,
		OptionFlags2:   l.OptionFlags2,
		TypeFlags:      l.TypeFlags,
		OptionFlags3:   l.OptionFlags3,
		ClientTimeZone: l.ClientTimeZone,
		ClientLCID:     l.ClientLCID,
		ClientID:       l.ClientID,

		HostNameLength:       uint16(len(hostname) / 2),
		UserNameLength:       uint16(len(username) / 2),
		PasswordLength:       uint16(len(password) / 2),
		AppNameLength:        uint16(len(appname) / 2),
		ServerNameLength:     uint16(len(servername) / 2),
		CtlIntNameLength:     uint16(len(ctlintname) / 2),
		LanguageLength:       uint16(len(language) / 2),
		DatabaseLength:       uint16(len(database) / 2),
		SSPILength:           uint16(len(l.SSPI)),
		AtchDBFileLength:     uint16(len(atchdbfile) / 2),
		ChangePasswordLength: uint16(len(changepassword) / 2),
	}
	offset := uint16(binary.Size(hdr))
	hdr.HostNameOffset = offset
	offset += uint16(len(hostname))
	hdr.UserNameOffset = offset
	offset += uint16(len(username))
	hdr.PasswordOffset = offset
	offset += uint16(len(password))
	hdr.AppNameOffset = offset
	offset += uint16(len(appname))
	hdr.ServerNameOffset = offset
	offset += uint16(len(servername))
	hdr.ExtensionOffset = offset
	hdr.CtlIntNameOffset = offset
	offset += uint16(len(ctlintname))
	hdr.LanguageOffset = offset
	offset += uint16(len(language))
	hdr.DatabaseOffset = offset
	offset += uint16(len(database))
	hdr.SSPIOffset = offset
	offset += uint16(len(l.SSPI))
	hdr.AtchDBFileOffset = offset
	offset += uint16(len(atchdbfile))
	hdr.ChangePasswordOffset = offset
	offset += uint16(len(changepassword))
	hdr.Length = uint32(offset)

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}
	for _, chunk := range [][]byte{
		hostname, username, password, appname, servername,
		ctlintname, language, database, l.SSPI, atchdbfile, changepassword,
	} {
		if _, err := w.Write(chunk); err != nil {
			return err
		}
	}
	return w.FinishPacket()
}

// sendSSPIMessage carries an integrated-auth continuation blob.
func sendSSPIMessage(w *tdsBuffer, blob []byte) error {
	w.BeginPacket(packSSPIMessage, false)
	if _, err := w.Write(blob); err != nil {
		return err
	}
	return w.FinishPacket()
}
