package whiskers

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/copycatdb/whiskers/wsdsn"
)

// Statements that manage transactions server side. Commit and rollback are
// guarded so that a transaction already terminated by a server error (for
// example a deadlock victim rollback) does not raise error 3902.
const (
	beginTranStmt    = "BEGIN TRANSACTION"
	commitTranStmt   = "IF @@TRANCOUNT > 0 COMMIT TRANSACTION"
	rollbackTranStmt = "IF @@TRANCOUNT > 0 ROLLBACK TRANSACTION"
)

// Conn is a single borrowed session. It is not safe for concurrent use;
// issue one statement at a time and consume or close its results before
// the next. Close returns the session to the pool.
type Conn struct {
	pool *Pool
	sess *tdsSession

	mu         sync.Mutex
	autocommit bool
	closed     bool
}

func newConn(pool *Pool, sess *tdsSession) *Conn {
	return &Conn{pool: pool, sess: sess, autocommit: true}
}

// Autocommit reports whether statements commit as they complete.
func (c *Conn) Autocommit() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.autocommit
}

// SetAutocommit switches transaction handling. Turning autocommit off
// makes the next statement open a transaction implicitly; it stays open
// until Commit or Rollback.
func (c *Conn) SetAutocommit(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.autocommit = on
}

// InTransaction reports whether a server transaction is open on this
// connection.
func (c *Conn) InTransaction() bool {
	return c.sess.txnID != 0
}

// Cursor creates a new cursor over this connection. Cursors share the
// underlying session, so only one can have an unconsumed result set.
func (c *Conn) Cursor() *Cursor {
	return &Cursor{conn: c}
}

// Commit commits the open transaction, if any.
func (c *Conn) Commit(ctx context.Context) error {
	return c.execDrain(ctx, commitTranStmt)
}

// Rollback rolls back the open transaction, if any.
func (c *Conn) Rollback(ctx context.Context) error {
	return c.execDrain(ctx, rollbackTranStmt)
}

// Close returns the session to the pool. An open transaction is rolled
// back first so the next borrower starts clean.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()
	c.pool.release(c.sess)
	return nil
}

// execute runs sql on the session, opening an implicit transaction first
// when autocommit is off and none is active.
func (c *Conn) execute(ctx context.Context, sql string, args []interface{}) (*resultStream, error) {
	c.mu.Lock()
	closed := c.closed
	autocommit := c.autocommit
	c.mu.Unlock()
	if closed {
		return nil, ErrSessionClosed
	}
	if !autocommit && c.sess.txnID == 0 {
		c.sess.logf(ctx, wsdsn.LogTransaction, "implicit %s", beginTranStmt)
		if err := c.execDrain(ctx, beginTranStmt); err != nil {
			return nil, err
		}
	}
	return c.sess.sendRequest(ctx, sql, args, false)
}

// execDrain runs a statement and consumes its whole response, surfacing
// the first server error.
func (c *Conn) execDrain(ctx context.Context, sql string) error {
	rs, err := c.sess.sendRequest(ctx, sql, nil, false)
	if err != nil {
		return err
	}
	var srvErr *ServerError
	for {
		ev, err := rs.next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return err
			}
			break
		}
		if e, ok := ev.(errorEvent); ok && srvErr == nil {
			se := ServerError(e)
			srvErr = &se
		}
	}
	if srvErr != nil {
		return *srvErr
	}
	return nil
}
