package whiskers

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/copycatdb/whiskers/integratedauth"
	"github.com/copycatdb/whiskers/wsdsn"
)

// sessionState tracks the lifecycle of one physical connection.
//
//	Unconnected → Handshaking → Ready ⇄ Busy → Closed
//	                  any ──────────────→ Failed → Closed
//
// A Failed session is unusable; the pool discards it instead of lending it
// out again.
type sessionState int

const (
	sessionUnconnected sessionState = iota
	sessionHandshaking
	sessionReady
	sessionBusy
	sessionFailed
	sessionClosed
)

func (s sessionState) String() string {
	switch s {
	case sessionUnconnected:
		return "Unconnected"
	case sessionHandshaking:
		return "Handshaking"
	case sessionReady:
		return "Ready"
	case sessionBusy:
		return "Busy"
	case sessionFailed:
		return "Failed"
	case sessionClosed:
		return "Closed"
	}
	return "Invalid"
}

// tdsSession owns one socket and sequences request/response exchanges on
// it. TDS does not multiplex: exactly one request may be outstanding, and
// its response must be consumed (or attention-cancelled) before the next.
type tdsSession struct {
	conn net.Conn
	buf  *tdsBuffer

	stateMu sync.Mutex
	state   sessionState

	logger   ContextLogger
	logFlags wsdsn.Log
	p        wsdsn.Config

	connid     uuid.UUID
	activityid uuid.UUID

	// Mutated by ENVCHANGE tokens.
	database string
	txnID    uint64 // transaction descriptor for request headers

	loginAck loginAckEvent
	attnMu   sync.Mutex
	attnSent bool
}

func newSession(outbuf *tdsBuffer, logger ContextLogger, p wsdsn.Config) *tdsSession {
	if logger == nil {
		logger = nullLogger{}
	}
	sess := &tdsSession{
		buf:      outbuf,
		logger:   logger,
		logFlags: p.LogFlags,
		p:        p,
		state:    sessionUnconnected,
		database: p.Database,
	}
	// Generating a guid has a small chance of failure. Make a best effort.
	if connid, cerr := uuid.NewRandom(); cerr == nil {
		sess.connid = connid
	}
	if activityid, cerr := uuid.NewRandom(); cerr == nil {
		sess.activityid = activityid
	}
	return sess
}

func (s *tdsSession) logf(ctx context.Context, category wsdsn.Log, format string, args ...interface{}) {
	if s.logFlags&category != 0 {
		s.logger.Log(ctx, category, fmt.Sprintf(format, args...))
	}
}

// preparePreloginFields builds the prelogin option table, including the
// trace id that ties server-side diagnostics to this session.
func (s *tdsSession) preparePreloginFields(p wsdsn.Config) map[uint8][]byte {
	var encrypt byte
	switch p.Encryption {
	case wsdsn.EncryptionDisabled:
		encrypt = encryptNotSup
	case wsdsn.EncryptionRequired:
		encrypt = encryptOn
	default:
		encrypt = encryptOff
	}
	v := driverVersionCode
	traceID := make([]byte, 36) // 16 byte connection id + 16 byte activity id + 4 byte sequence
	copy(traceID[:16], s.connid[:])
	copy(traceID[16:32], s.activityid[:])
	return map[uint8][]byte{
		preloginVERSION:    {byte(v), byte(v >> 8), byte(v >> 16), byte(v >> 24), 0, 0},
		preloginENCRYPTION: {encrypt},
		preloginINSTOPT:    {0},
		preloginTHREADID:   {0, 0, 0, 0},
		preloginMARS:       {0}, // MARS disabled
		preloginTRACEID:    traceID,
	}
}

// dialSession opens a socket and runs the full handshake: prelogin,
// optional TLS upgrade, LOGIN7 and any SSPI continuation, leaving the
// session Ready.
func dialSession(ctx context.Context, p wsdsn.Config, logger ContextLogger) (*tdsSession, error) {
	dialer := &net.Dialer{Timeout: p.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.Addr())
	if err != nil {
		return nil, fmt.Errorf("whiskers: unable to open tcp connection with host %q: %w", p.Addr(), err)
	}
	buf := newTdsBuffer(p.PacketSize, conn)
	sess := newSession(buf, logger, p)
	sess.conn = conn
	sess.state = sessionHandshaking
	if err := sess.handshake(ctx); err != nil {
		conn.Close()
		sess.state = sessionClosed
		return nil, err
	}
	sess.state = sessionReady
	return sess, nil
}

func (s *tdsSession) handshake(ctx context.Context) error {
	p := s.p
	s.logf(ctx, wsdsn.LogDebug, "sending prelogin with connection id %s", s.connid)
	fields := s.preparePreloginFields(p)
	if err := writePrelogin(packPrelogin, s.buf, fields); err != nil {
		return fmt.Errorf("whiskers: prelogin write failed: %w", err)
	}
	reply, err := readPrelogin(s.buf)
	if err != nil {
		return fmt.Errorf("whiskers: prelogin read failed: %w", err)
	}
	encryptField, ok := reply[preloginENCRYPTION]
	if !ok || len(encryptField) != 1 {
		return protocolErrorf("server prelogin reply is missing the encryption option")
	}
	if err := s.setupEncryption(encryptField[0]); err != nil {
		return err
	}

	l := makeLogin(p)
	var auth integratedauth.IntegratedAuthenticator
	if p.Auth != wsdsn.AuthSQL {
		auth, err = getIntegratedAuthenticator(p)
		if err != nil {
			return err
		}
		defer auth.Free()
		l.SSPI, err = auth.InitialBytes()
		if err != nil {
			return err
		}
	}
	if err := sendLogin(s.buf, l); err != nil {
		return fmt.Errorf("whiskers: login write failed: %w", err)
	}
	return s.readLoginResponse(ctx, auth)
}

// setupEncryption reconciles the client and server encryption positions and
// upgrades the socket when TLS is wanted.
func (s *tdsSession) setupEncryption(serverEncrypt byte) error {
	p := s.p
	if p.Encryption == wsdsn.EncryptionDisabled {
		if serverEncrypt == encryptReq || serverEncrypt == encryptOn {
			return protocolErrorf("server requires encryption but it is disabled in the connection string")
		}
		return nil
	}
	if serverEncrypt == encryptNotSup {
		if p.Encryption == wsdsn.EncryptionRequired {
			return protocolErrorf("encryption is required but the server does not support it")
		}
		return nil
	}
	fullEncryption := p.Encryption == wsdsn.EncryptionRequired ||
		serverEncrypt == encryptOn || serverEncrypt == encryptReq

	config := p.SetupTLS()
	handshakeConn := &tlsHandshakeConn{buf: s.buf}
	passthrough := &passthroughConn{c: handshakeConn}
	tlsConn := tls.Client(passthrough, config)
	if err := tlsConn.Handshake(); err != nil {
		return fmt.Errorf("whiskers: TLS handshake failed: %w", err)
	}
	passthrough.c = s.conn
	s.buf.transport = tlsConn
	if !fullEncryption {
		// Only the login packets travel encrypted; fall back to the
		// raw socket after the first login packet is flushed.
		s.buf.afterFirst = func() {
			s.buf.transport = s.conn
		}
	}
	return nil
}

// readLoginResponse consumes the login token stream, relaying SSPI
// challenges, until the server acknowledges or rejects the login.
func (s *tdsSession) readLoginResponse(ctx context.Context, auth integratedauth.IntegratedAuthenticator) error {
	for {
		if _, err := s.buf.BeginRead(); err != nil {
			return fmt.Errorf("whiskers: reading login response: %w", err)
		}
		parser := &tokenParser{r: s.buf}
		var sspiBlob []byte
		var loginErr *ServerError
		sawLoginAck := false
		for {
			ev, err := parser.next()
			if err != nil {
				if errors.Is(err, io.EOF) {
					break
				}
				return err
			}
			switch ev := ev.(type) {
			case loginAckEvent:
				s.loginAck = ev
				sawLoginAck = true
			case sspiEvent:
				sspiBlob = []byte(ev)
			case errorEvent:
				e := ServerError(ev)
				loginErr = &e
			case envChangeEvent:
				s.applyEnvChange(ctx, ev)
			case doneEvent:
				// end of this response
			}
		}
		if loginErr != nil {
			return *loginErr
		}
		if sawLoginAck {
			s.logf(ctx, wsdsn.LogMessages, "login accepted by %s version %x",
				s.loginAck.ProgName, s.loginAck.ProgVer)
			return nil
		}
		if sspiBlob != nil && auth != nil {
			out, err := auth.NextBytes(sspiBlob)
			if err != nil {
				return err
			}
			if len(out) > 0 {
				if err := sendSSPIMessage(s.buf, out); err != nil {
					return err
				}
			}
			continue
		}
		return protocolErrorf("login response ended without LOGINACK")
	}
}

func (s *tdsSession) applyEnvChange(ctx context.Context, ev envChangeEvent) {
	switch ev.Type {
	case envTypDatabase:
		s.logf(ctx, wsdsn.LogMessages, "database changed to %s", ev.Database)
		s.database = ev.Database
	case envTypPacketSize:
		if ev.PacketSize > 0 {
			s.logf(ctx, wsdsn.LogDebug, "packet size renegotiated to %d", ev.PacketSize)
			s.buf.ResizeBuffer(ev.PacketSize)
		}
	case envTypBeginTran:
		s.txnID = ev.TxnID
	case envTypCommitTran, envTypRollbackTran:
		s.txnID = 0
	}
}

// currentState returns the session state under the lock.
func (s *tdsSession) currentState() sessionState {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	return s.state
}

// beginRequest moves Ready → Busy, refusing reentrancy.
func (s *tdsSession) beginRequest() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	switch s.state {
	case sessionReady:
		s.state = sessionBusy
		s.attnMu.Lock()
		s.attnSent = false
		s.attnMu.Unlock()
		return nil
	case sessionBusy:
		return ErrSessionBusy
	default:
		return ErrSessionClosed
	}
}

// endRequest moves Busy → Ready once the response stream is drained.
func (s *tdsSession) endRequest() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == sessionBusy {
		s.state = sessionReady
	}
}

// fail marks the session protocol-fatal and tears down the socket. The
// pool never reuses a failed session.
func (s *tdsSession) fail(ctx context.Context, err error) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == sessionFailed || s.state == sessionClosed {
		return
	}
	s.logf(ctx, wsdsn.LogErrors, "session failed: %v", err)
	s.state = sessionFailed
	if s.conn != nil {
		s.conn.Close()
	}
}

// sendAttention raises the out-of-band cancel for the in-flight request.
func (s *tdsSession) sendAttention(ctx context.Context) error {
	if s.currentState() != sessionBusy {
		return nil
	}
	s.attnMu.Lock()
	defer s.attnMu.Unlock()
	if s.attnSent {
		return nil
	}
	s.logf(ctx, wsdsn.LogMessages, "sending attention signal")
	if err := s.buf.sendAttention(); err != nil {
		return err
	}
	s.attnSent = true
	return nil
}

func (s *tdsSession) attentionPending() bool {
	s.attnMu.Lock()
	defer s.attnMu.Unlock()
	return s.attnSent
}

// Close shuts the socket down regardless of state.
func (s *tdsSession) Close() error {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.state == sessionClosed {
		return nil
	}
	s.state = sessionClosed
	if s.conn != nil {
		return s.conn.Close()
	}
	return nil
}

// healthy reports whether the session can take another request.
func (s *tdsSession) healthy() bool {
	return s.currentState() == sessionReady
}
