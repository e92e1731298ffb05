// Package wsdsn parses SQL Server connection strings into a Config and
// builds the TLS settings negotiated during the prelogin exchange.
package wsdsn

import (
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode"
)

// Log is a bitmask selecting which driver events are written to the logger.
type Log uint64

const (
	LogErrors      Log = 1
	LogMessages    Log = 2
	LogRows        Log = 4
	LogSQL         Log = 8
	LogParams      Log = 16
	LogTransaction Log = 32
	LogDebug       Log = 64
)

// Encryption is the TLS posture requested by the client and reconciled with
// the server's answer during prelogin.
type Encryption int

const (
	// EncryptionOff offers TLS for the login packets only.
	EncryptionOff Encryption = iota
	// EncryptionRequired encrypts the whole session and fails if the
	// server cannot.
	EncryptionRequired
	// EncryptionDisabled never upgrades the socket.
	EncryptionDisabled
)

// AuthMode selects how LOGIN7 credentials are presented.
type AuthMode int

const (
	// AuthSQL sends the UID/PWD pair in the LOGIN7 packet.
	AuthSQL AuthMode = iota
	// AuthNTLM negotiates NTLMv2 over SSPI continuation packets.
	AuthNTLM
	// AuthKrb5 presents a Kerberos service ticket via SPNEGO.
	AuthKrb5
)

const (
	DefaultPort        = 1433
	DefaultPacketSize  = 4096
	DefaultPoolMaxSize = 10
	DefaultDialTimeout = 15 * time.Second
	DefaultAcquireWait = 30 * time.Second
	DefaultIdleTimeout = 5 * time.Minute
	minPacketSize      = 512
	maxPacketSize      = 32767
)

// Config is the immutable outcome of parsing one connection string. A copy
// of it becomes the login context of every session the pool opens.
type Config struct {
	Host     string
	Port     uint64
	Database string
	User     string
	Password string

	Encryption      Encryption
	TrustServerCert bool
	HostInCert      string

	AppName     string
	Workstation string
	ServerSPN   string

	Auth         AuthMode
	Krb5ConfFile string
	KeytabFile   string
	CCacheFile   string

	PacketSize  uint16
	DialTimeout time.Duration
	ConnTimeout time.Duration

	PoolMaxSize        int
	PoolIdleTimeout    time.Duration
	PoolAcquireTimeout time.Duration

	LogFlags Log
}

// ConfigError reports a malformed connection-string entry.
type ConfigError struct {
	Key     string
	Value   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "wsdsn: " + e.Message
	}
	return fmt.Sprintf("wsdsn: invalid value %q for key %q: %s", e.Value, e.Key, e.Message)
}

func badValue(key, value, msg string) error {
	return &ConfigError{Key: key, Value: value, Message: msg}
}

// Parse reads a semicolon separated key=value connection string in the ADO
// style. Keys are case insensitive; unrecognized keys are ignored so that
// strings written for newer drivers keep working.
func Parse(dsn string) (Config, error) {
	p := Config{
		Host:               "localhost",
		Port:               0,
		PacketSize:         DefaultPacketSize,
		DialTimeout:        DefaultDialTimeout,
		PoolMaxSize:        DefaultPoolMaxSize,
		PoolIdleTimeout:    DefaultIdleTimeout,
		PoolAcquireTimeout: DefaultAcquireWait,
	}

	pairs, err := splitConnectionString(dsn)
	if err != nil {
		return p, err
	}

	for key, value := range pairs {
		switch key {
		case "server", "data source", "address", "network address":
			host := strings.TrimPrefix(value, "tcp:")
			if comma := strings.IndexByte(host, ','); comma >= 0 {
				portStr := strings.TrimSpace(host[comma+1:])
				host = host[:comma]
				port, err := strconv.ParseUint(portStr, 10, 16)
				if err != nil {
					return p, badValue(key, value, "port must be an integer")
				}
				p.Port = port
			}
			if host == "" {
				host = "localhost"
			}
			p.Host = host
		case "port":
			port, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return p, badValue(key, value, "port must be an integer")
			}
			p.Port = port
		case "database", "initial catalog":
			p.Database = value
		case "uid", "user id", "user":
			p.User = value
		case "pwd", "password":
			p.Password = value
		case "trustservercertificate", "trust server certificate":
			b, err := parseBool(value)
			if err != nil {
				return p, badValue(key, value, err.Error())
			}
			p.TrustServerCert = b
		case "encrypt", "encryption":
			switch strings.ToLower(value) {
			case "true", "yes", "1", "mandatory":
				p.Encryption = EncryptionRequired
			case "false", "no", "0", "optional":
				p.Encryption = EncryptionOff
			case "disable", "disabled":
				p.Encryption = EncryptionDisabled
			default:
				return p, badValue(key, value, "expected true, false or disable")
			}
		case "hostnameincertificate":
			p.HostInCert = value
		case "app name", "application name":
			p.AppName = value
		case "workstation id":
			p.Workstation = value
		case "serverspn":
			p.ServerSPN = value
		case "authentication", "integrated security":
			switch strings.ToLower(value) {
			case "sql", "sqlpassword", "false", "no":
				p.Auth = AuthSQL
			case "ntlm", "sspi", "true", "yes":
				p.Auth = AuthNTLM
			case "krb5", "kerberos":
				p.Auth = AuthKrb5
			default:
				return p, badValue(key, value, "unknown authentication mode")
			}
		case "krb5conffile":
			p.Krb5ConfFile = value
		case "krbkeytabfile":
			p.KeytabFile = value
		case "krbcachefile":
			p.CCacheFile = value
		case "packet size":
			size, err := strconv.ParseUint(value, 10, 16)
			if err != nil {
				return p, badValue(key, value, "packet size must be an integer")
			}
			// the protocol caps negotiated packet sizes; out of range
			// values are clamped the way other drivers do
			switch {
			case size < minPacketSize:
				size = minPacketSize
			case size > maxPacketSize:
				size = maxPacketSize
			}
			p.PacketSize = uint16(size)
		case "connection timeout":
			p.ConnTimeout, err = parseSeconds(key, value)
			if err != nil {
				return p, err
			}
		case "dial timeout":
			p.DialTimeout, err = parseSeconds(key, value)
			if err != nil {
				return p, err
			}
		case "pool max size":
			n, err := strconv.Atoi(value)
			if err != nil || n < 1 {
				return p, badValue(key, value, "pool max size must be a positive integer")
			}
			p.PoolMaxSize = n
		case "pool idle timeout":
			p.PoolIdleTimeout, err = parseSeconds(key, value)
			if err != nil {
				return p, err
			}
		case "pool acquire timeout":
			p.PoolAcquireTimeout, err = parseSeconds(key, value)
			if err != nil {
				return p, err
			}
		case "log":
			flags, err := strconv.ParseUint(value, 10, 64)
			if err != nil {
				return p, badValue(key, value, "log flags must be an integer bitmask")
			}
			p.LogFlags = Log(flags)
		default:
			// Unknown keys are forward compatible no-ops.
		}
	}

	if p.Port == 0 {
		p.Port = DefaultPort
	}
	return p, nil
}

// Addr returns the host:port dial target.
func (p Config) Addr() string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}

func splitConnectionString(dsn string) (map[string]string, error) {
	res := map[string]string{}
	for _, part := range strings.Split(dsn, ";") {
		part = strings.TrimFunc(part, unicode.IsSpace)
		if part == "" {
			continue
		}
		eq := strings.IndexByte(part, '=')
		if eq < 1 {
			return nil, &ConfigError{Message: fmt.Sprintf("entry %q is not of the form key=value", part)}
		}
		key := strings.ToLower(strings.TrimSpace(part[:eq]))
		value := strings.TrimSpace(part[eq+1:])
		res[key] = value
	}
	return res, nil
}

func parseBool(value string) (bool, error) {
	switch strings.ToLower(value) {
	case "true", "yes", "1":
		return true, nil
	case "false", "no", "0":
		return false, nil
	}
	return false, fmt.Errorf("expected a boolean (true/false/yes/no/1/0)")
}

func parseSeconds(key, value string) (time.Duration, error) {
	seconds, err := strconv.ParseFloat(value, 64)
	if err != nil || seconds < 0 {
		return 0, badValue(key, value, "expected a non-negative number of seconds")
	}
	return time.Duration(seconds * float64(time.Second)), nil
}
