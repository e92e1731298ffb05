package whiskers

import (
	"fmt"
	"net"
	"time"
)

// TDS wraps the TLS handshake records inside prelogin packets: the client
// hello travels as the payload of a packPrelogin message and the server
// hello comes back the same way. Once the handshake completes, TLS records
// flow raw on the socket and the TDS packets travel inside TLS.

// tlsHandshakeConn is the net.Conn given to crypto/tls during the
// handshake: writes open a prelogin packet, reads finish it and pull the
// server's reply payload.
type tlsHandshakeConn struct {
	buf           *tdsBuffer
	packetPending bool
	continueRead  bool
}

// FinishPacket flushes a pending handshake packet, reporting whether one
// was written.
func (c *tlsHandshakeConn) FinishPacket() (bool, error) {
	if !c.packetPending {
		return false, nil
	}
	if err := c.buf.FinishPacket(); err != nil {
		return false, fmt.Errorf("cannot send handshake packet: %v", err)
	}
	c.packetPending = false
	return true, nil
}

func (c *tlsHandshakeConn) Read(b []byte) (n int, err error) {
	if _, err = c.FinishPacket(); err != nil {
		return 0, err
	}
	if !c.continueRead {
		var packet packetType
		packet, err = c.buf.BeginRead()
		if err != nil {
			return 0, fmt.Errorf("cannot read handshake packet: %v", err)
		}
		if packet != packPrelogin {
			return 0, fmt.Errorf("unexpected packet %v instead of prelogin during handshake", packet)
		}
		c.continueRead = true
	}
	n, err = c.buf.Read(b)
	if n == 0 && err == nil {
		c.continueRead = false
		return c.Read(b)
	}
	return n, err
}

func (c *tlsHandshakeConn) Write(b []byte) (n int, err error) {
	if !c.packetPending {
		c.buf.BeginPacket(packPrelogin, false)
		c.packetPending = true
	}
	return c.buf.Write(b)
}

func (c *tlsHandshakeConn) Close() error {
	return c.buf.transport.Close()
}

func (c *tlsHandshakeConn) LocalAddr() net.Addr                { return nil }
func (c *tlsHandshakeConn) RemoteAddr() net.Addr               { return nil }
func (c *tlsHandshakeConn) SetDeadline(_ time.Time) error      { return nil }
func (c *tlsHandshakeConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c *tlsHandshakeConn) SetWriteDeadline(_ time.Time) error { return nil }

// passthroughConn lets the connection the TLS object talks to be swapped
// from the handshake wrapper to the raw socket once the handshake is done.
type passthroughConn struct {
	c net.Conn
}

func (c passthroughConn) Read(b []byte) (n int, err error)   { return c.c.Read(b) }
func (c passthroughConn) Write(b []byte) (n int, err error)  { return c.c.Write(b) }
func (c passthroughConn) Close() error                       { return c.c.Close() }
func (c passthroughConn) LocalAddr() net.Addr                { return nil }
func (c passthroughConn) RemoteAddr() net.Addr               { return nil }
func (c passthroughConn) SetDeadline(_ time.Time) error      { return nil }
func (c passthroughConn) SetReadDeadline(_ time.Time) error  { return nil }
func (c passthroughConn) SetWriteDeadline(_ time.Time) error { return nil }
