package whiskers

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/copycatdb/whiskers/wsdsn"
)

// Pool hands out connections up to a fixed ceiling, reusing idle sessions
// in most-recently-used order. It is safe for concurrent use.
type Pool struct {
	cfg    wsdsn.Config
	logger ContextLogger

	// slots is a counting semaphore: one token per connection the pool
	// is allowed to have open at once.
	slots chan struct{}

	mu     sync.Mutex
	idle   []idleSession
	closed bool
}

type idleSession struct {
	sess  *tdsSession
	since time.Time
}

// Open parses a connection string and creates a pool for it. No
// connection is dialed until the first Connect.
func Open(dsn string) (*Pool, error) {
	cfg, err := wsdsn.Parse(dsn)
	if err != nil {
		return nil, err
	}
	return OpenConfig(cfg), nil
}

// OpenConfig creates a pool from an already parsed configuration.
func OpenConfig(cfg wsdsn.Config) *Pool {
	if cfg.PoolMaxSize <= 0 {
		cfg.PoolMaxSize = wsdsn.DefaultPoolMaxSize
	}
	return &Pool{
		cfg:    cfg,
		logger: nullLogger{},
		slots:  make(chan struct{}, cfg.PoolMaxSize),
	}
}

// SetLogger installs a logger for driver diagnostics. Call it before the
// first Connect.
func (p *Pool) SetLogger(logger ContextLogger) {
	if logger == nil {
		logger = nullLogger{}
	}
	p.logger = logger
}

// Connect borrows a connection, dialing a new session when no idle one is
// available and the pool is under its ceiling. It waits up to the
// configured acquire timeout for a slot, returning ErrPoolTimeout when
// the wait runs out.
func (p *Pool) Connect(ctx context.Context) (*Conn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	p.mu.Unlock()

	wait := p.cfg.PoolAcquireTimeout
	if wait <= 0 {
		wait = wsdsn.DefaultAcquireWait
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case p.slots <- struct{}{}:
	case <-timer.C:
		return nil, ErrPoolTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	sess, err := p.takeIdleOrDial(ctx)
	if err != nil {
		<-p.slots
		return nil, err
	}
	return newConn(p, sess), nil
}

// takeIdleOrDial pops the freshest healthy idle session, closing any that
// sat idle past the idle timeout, and dials when none remain.
func (p *Pool) takeIdleOrDial(ctx context.Context) (*tdsSession, error) {
	idleMax := p.cfg.PoolIdleTimeout
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}
		n := len(p.idle)
		if n == 0 {
			p.mu.Unlock()
			return dialSession(ctx, p.cfg, p.logger)
		}
		entry := p.idle[n-1]
		p.idle = p.idle[:n-1]
		p.mu.Unlock()

		if idleMax > 0 && time.Since(entry.since) > idleMax {
			entry.sess.Close()
			continue
		}
		if !entry.sess.healthy() {
			entry.sess.Close()
			continue
		}
		return entry.sess, nil
	}
}

// release takes a session back from a closed Conn. A session with an open
// transaction is rolled back first; a session that cannot be cleaned up
// is discarded rather than parked.
func (p *Pool) release(sess *tdsSession) {
	defer func() { <-p.slots }()

	if sess.txnID != 0 {
		if err := p.rollbackAbandoned(sess); err != nil {
			sess.Close()
			return
		}
	}
	if !sess.healthy() {
		sess.Close()
		return
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		sess.Close()
		return
	}
	p.idle = append(p.idle, idleSession{sess: sess, since: time.Now()})
	p.mu.Unlock()
}

func (p *Pool) rollbackAbandoned(sess *tdsSession) error {
	timeout := p.cfg.ConnTimeout
	if timeout <= 0 {
		timeout = wsdsn.DefaultDialTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	sess.logf(ctx, wsdsn.LogTransaction, "rolling back abandoned transaction")
	rs, err := sess.sendRequest(ctx, rollbackTranStmt, nil, false)
	if err != nil {
		return err
	}
	for {
		ev, err := rs.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if e, ok := ev.(errorEvent); ok {
			return ServerError(e)
		}
	}
}

// Stats reports the pool's current occupancy.
func (p *Pool) Stats() (open, idle int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.slots), len(p.idle)
}

// Close shuts the pool down. Idle sessions close immediately; borrowed
// connections close as they are returned. Connect fails with
// ErrPoolClosed afterwards.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.mu.Unlock()
	for _, entry := range idle {
		entry.sess.Close()
	}
	return nil
}
