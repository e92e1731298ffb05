package whiskers

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
)

// fakeServer speaks just enough of the protocol to let a real session
// handshake over TCP. Each accepted connection answers the prelogin and
// login exchanges, then hands off to the test's script.
type fakeServer struct {
	t  *testing.T
	ln net.Listener
	wg sync.WaitGroup
}

// serverConn is the server side of one accepted connection.
type serverConn struct {
	t *testing.T
	c net.Conn
}

func startFakeServer(t *testing.T, script func(sc *serverConn)) *fakeServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeServer{t: t, ln: ln}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				defer c.Close()
				sc := &serverConn{t: t, c: c}
				if !sc.acceptLogin() {
					return
				}
				if script != nil {
					script(sc)
				}
			}()
		}
	}()
	t.Cleanup(func() {
		ln.Close()
		s.wg.Wait()
	})
	return s
}

func (s *fakeServer) dsn(extra string) string {
	addr := s.ln.Addr().(*net.TCPAddr)
	return fmt.Sprintf("server=127.0.0.1,%d;uid=sa;pwd=pw;encrypt=disable%s", addr.Port, extra)
}

// readMessage reassembles one incoming message.
func (sc *serverConn) readMessage() (packetType, []byte, error) {
	var payload []byte
	for {
		var header [packetHeaderSize]byte
		if _, err := io.ReadFull(sc.c, header[:]); err != nil {
			return 0, nil, err
		}
		size := int(binary.BigEndian.Uint16(header[2:]))
		body := make([]byte, size-packetHeaderSize)
		if _, err := io.ReadFull(sc.c, body); err != nil {
			return 0, nil, err
		}
		payload = append(payload, body...)
		if header[1]&packStatusEOM != 0 {
			return packetType(header[0]), payload, nil
		}
	}
}

func (sc *serverConn) mustRead(want packetType) []byte {
	ptype, payload, err := sc.readMessage()
	if err != nil {
		sc.t.Errorf("fake server read: %v", err)
		return nil
	}
	if ptype != want {
		sc.t.Errorf("fake server got packet type %v, want %v", ptype, want)
	}
	return payload
}

func (sc *serverConn) write(b []byte) {
	if _, err := sc.c.Write(b); err != nil {
		sc.t.Errorf("fake server write: %v", err)
	}
}

// reply frames a token stream as a server reply message.
func (sc *serverConn) reply(tokens ...[]byte) {
	sc.write(replyMessage(tokens...))
}

// acceptLogin answers the prelogin and LOGIN7 exchanges.
func (sc *serverConn) acceptLogin() bool {
	if _, _, err := sc.readMessage(); err != nil {
		return false
	}
	preloginReply := map[uint8][]byte{
		preloginVERSION:    {16, 0, 0, 0, 0, 0},
		preloginENCRYPTION: {encryptNotSup},
	}
	buf := newTdsBuffer(4096, sc.c)
	if err := writePrelogin(packReply, buf, preloginReply); err != nil {
		sc.t.Errorf("fake server prelogin: %v", err)
		return false
	}
	if _, _, err := sc.readMessage(); err != nil {
		return false
	}
	sc.reply(
		envDatabaseToken("master"),
		loginAckToken("Microsoft SQL Server"),
		doneToken(doneFinal, 0),
	)
	return true
}

// serveBatch reads one SQLBatch request and answers with the given tokens.
func (sc *serverConn) serveBatch(tokens ...[]byte) {
	sc.mustRead(packSQLBatch)
	sc.reply(tokens...)
}

// batchText extracts the statement text from a SQLBatch payload.
func batchText(t *testing.T, payload []byte) string {
	t.Helper()
	if len(payload) < 22 {
		t.Fatalf("batch payload of %d bytes is too short", len(payload))
	}
	headerLen := binary.LittleEndian.Uint32(payload)
	s, err := ucs22str(payload[headerLen:])
	if err != nil {
		t.Fatalf("decoding batch text: %v", err)
	}
	return s
}
