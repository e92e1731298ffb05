package whiskers

import (
	"errors"
	"fmt"
)

// ServerError is an error reported by SQL Server through an ERROR token.
// It carries everything the token does so callers can branch on the server
// message number or severity class. A ServerError does not invalidate the
// session that produced it; the session returns to ready once the response
// stream completes.
type ServerError struct {
	Number     int32
	State      uint8
	Class      uint8
	Message    string
	ServerName string
	ProcName   string
	LineNo     int32

	// All holds every error token of the response in arrival order when
	// the server raised more than one.
	All []ServerError
}

func (e ServerError) Error() string {
	return "whiskers: " + e.Message
}

// SQLErrorNumber returns the server message number, e.g. 2627 for a primary
// key violation.
func (e ServerError) SQLErrorNumber() int32 {
	return e.Number
}

func (e ServerError) SQLErrorState() uint8 {
	return e.State
}

func (e ServerError) SQLErrorClass() uint8 {
	return e.Class
}

func (e ServerError) SQLErrorMessage() string {
	return e.Message
}

// ProtocolError reports a malformed or unexpected byte sequence on the wire.
// A ProtocolError is fatal to the session that hit it.
type ProtocolError struct {
	Message string
	Err     error
}

func (e ProtocolError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("whiskers: protocol error: %s: %v", e.Message, e.Err)
	}
	return "whiskers: protocol error: " + e.Message
}

func (e ProtocolError) Unwrap() error { return e.Err }

func protocolErrorf(format string, args ...interface{}) ProtocolError {
	return ProtocolError{Message: fmt.Sprintf(format, args...)}
}

// EncodingError reports a column whose bytes cannot be interpreted, most
// commonly an unrecognized collation on a char/varchar column.
type EncodingError struct {
	Message string
}

func (e EncodingError) Error() string {
	return "whiskers: encoding error: " + e.Message
}

// UnsupportedTypeError reports a parameter value with no safe mapping to a
// TDS wire type.
type UnsupportedTypeError struct {
	Value interface{}
}

func (e UnsupportedTypeError) Error() string {
	return fmt.Sprintf("whiskers: cannot encode value of type %T as a sql parameter", e.Value)
}

// Sentinel errors for conditions callers branch on with errors.Is.
var (
	// ErrSessionBusy is returned when a request is issued on a session
	// that already has one in flight. TDS does not multiplex requests.
	ErrSessionBusy = errors.New("whiskers: session busy with another request")

	// ErrPoolTimeout is returned by Pool.Connect when no connection
	// became available within the acquire timeout.
	ErrPoolTimeout = errors.New("whiskers: timed out waiting for a pooled connection")

	// ErrPoolClosed is returned by Pool.Connect after Pool.Close.
	ErrPoolClosed = errors.New("whiskers: pool is closed")

	// ErrCancelled is reported by a statement interrupted by an
	// attention signal before its response completed.
	ErrCancelled = errors.New("whiskers: statement cancelled")

	// ErrSequence is returned when a cursor operation is called out of
	// order, e.g. a fetch with no prior execute.
	ErrSequence = errors.New("whiskers: cursor operation out of sequence")

	// ErrSessionClosed is returned for any operation on a closed or
	// failed session.
	ErrSessionClosed = errors.New("whiskers: session is closed")
)
