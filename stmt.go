package whiskers

import (
	"context"
	"errors"
	"io"

	"github.com/copycatdb/whiskers/wsdsn"
)

// resultStream is one request/response exchange on a session. It issues
// the request, then hands the response tokens out one at a time; the
// session stays Busy until the stream is finished or drained.
type resultStream struct {
	sess   *tdsSession
	ctx    context.Context
	parser *tokenParser

	stopWatch chan struct{}
	watchDone chan struct{}

	began     bool
	finished  bool
	cancelled bool
}

// sendRequest issues sql on the session as a batch, or as an sp_executesql
// RPC when args are present. Reading the response starts on the first call
// to next.
func (s *tdsSession) sendRequest(ctx context.Context, sql string, args []interface{}, resetSession bool) (*resultStream, error) {
	if err := s.beginRequest(); err != nil {
		return nil, err
	}
	s.logf(ctx, wsdsn.LogSQL, "%s", sql)
	var err error
	if len(args) == 0 {
		err = sendSqlBatch(s.buf, sql, s.txnID, resetSession)
	} else {
		if s.logFlags&wsdsn.LogParams != 0 {
			for i, a := range args {
				s.logf(ctx, wsdsn.LogParams, "@p%d = %v", i+1, a)
			}
		}
		var params []param
		params, err = makeParams(args)
		if err != nil {
			s.endRequest()
			return nil, err
		}
		err = sendRpc(s.buf, sql, params, s.txnID)
	}
	if err != nil {
		s.fail(ctx, err)
		return nil, err
	}
	rs := &resultStream{
		sess:      s,
		ctx:       ctx,
		parser:    &tokenParser{r: s.buf},
		stopWatch: make(chan struct{}),
		watchDone: make(chan struct{}),
	}
	go rs.watchCancel()
	return rs, nil
}

// watchCancel raises attention when the request context is cancelled. The
// response keeps being read until the server acknowledges with the
// attention bit on a DONE token.
func (rs *resultStream) watchCancel() {
	defer close(rs.watchDone)
	select {
	case <-rs.ctx.Done():
		_ = rs.sess.sendAttention(rs.ctx)
	case <-rs.stopWatch:
	}
}

// next returns the following response event. Internal ENVCHANGE effects
// are applied and skipped. Returns io.EOF at the end of the response,
// ErrCancelled once the server acknowledges an attention.
func (rs *resultStream) next() (tokenEvent, error) {
	if rs.finished {
		return nil, io.EOF
	}
	if !rs.began {
		// The first read blocks until the server starts responding; the
		// cancel watcher is already running by now, so an attention can
		// still unblock a stalled request.
		if _, err := rs.sess.buf.BeginRead(); err != nil {
			rs.sess.fail(rs.ctx, err)
			rs.finish()
			return nil, err
		}
		rs.began = true
	}
	for {
		ev, err := rs.parser.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				rs.finish()
				if rs.cancelled {
					return nil, ErrCancelled
				}
				return nil, io.EOF
			}
			rs.sess.fail(rs.ctx, err)
			rs.finish()
			return nil, err
		}
		switch e := ev.(type) {
		case envChangeEvent:
			rs.sess.applyEnvChange(rs.ctx, e)
			continue
		case doneEvent:
			if e.Status&doneAttn != 0 {
				rs.cancelled = true
			}
			if rs.cancelled {
				// rows after the attention ack are discarded
				continue
			}
			if e.Status&doneMore == 0 {
				// Last DONE of the response; release the session without
				// waiting for the caller to read into EOF.
				rs.finish()
			}
			return ev, nil
		case rowEvent:
			if rs.cancelled || rs.sess.attentionPending() {
				// a cancel is in flight; drop rows on the floor
				continue
			}
			return ev, nil
		default:
			return ev, nil
		}
	}
}

// drain consumes the rest of the response so the session can be reused.
func (rs *resultStream) drain() error {
	for {
		_, err := rs.next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if errors.Is(err, ErrCancelled) {
				return nil
			}
			return err
		}
	}
}

// finish releases the session back to Ready and stops the cancel watcher.
func (rs *resultStream) finish() {
	if rs.finished {
		return
	}
	rs.finished = true
	close(rs.stopWatch)
	<-rs.watchDone
	rs.sess.endRequest()
}
