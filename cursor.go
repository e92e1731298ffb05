package whiskers

import (
	"context"
	"errors"
	"io"
	"strings"
)

// ErrNoMoreRows is returned by the fetch methods once the current result
// set is exhausted.
var ErrNoMoreRows = errors.New("whiskers: no more rows")

// Row is one fetched row, column values in result set order. Values are
// decoded to Go types: int64, float64, bool, string, []byte,
// decimal.Decimal, uuid.UUID, time.Time, or nil for NULL.
type Row []interface{}

// Message is an informational message (severity below 11) the server
// attached to a statement, such as a PRINT or a DBCC summary line.
type Message struct {
	Number  int32
	State   uint8
	Class   uint8
	Message string
	Server  string
	Proc    string
	Line    int32
}

type cursorState int

const (
	curIdle    cursorState = iota // no statement executed yet
	curRows                       // inside a result set
	curBetween                    // current result set exhausted, more may follow
	curDone                       // response fully consumed
)

// Cursor executes statements and walks their result sets. A cursor holds
// its connection's single response stream, so finish or Close one cursor's
// results before executing on another cursor of the same connection.
type Cursor struct {
	conn *Conn
	rs   *resultStream

	state     cursorState
	cols      []columnStruct
	desc      []Column
	rowCount  int64
	msgs      []Message
	srvErrs   []ServerError
	retStatus *int32
	closed    bool
}

// Execute runs a statement. Arguments bind as @p1..@pN placeholders via
// sp_executesql; a statement of the form {CALL proc(...)} is rewritten to
// an EXEC batch. Any unconsumed results of the previous statement are
// discarded first.
func (cur *Cursor) Execute(ctx context.Context, sql string, args ...interface{}) error {
	if cur.closed {
		return ErrSessionClosed
	}
	if cur.rs != nil {
		if err := cur.rs.drain(); err != nil {
			return err
		}
		cur.rs = nil
	}
	cur.state = curIdle
	cur.cols = nil
	cur.desc = nil
	cur.rowCount = -1
	cur.msgs = nil
	cur.srvErrs = nil
	cur.retStatus = nil

	sql = translateCall(sql)
	rs, err := cur.conn.execute(ctx, sql, args)
	if err != nil {
		return err
	}
	cur.rs = rs
	return cur.advance()
}

// advance pumps the response until a result set begins or the response
// ends, skipping past any remaining rows of the current result set.
func (cur *Cursor) advance() error {
	for {
		ev, err := cur.rs.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				cur.state = curDone
				return cur.takeServerError()
			}
			cur.state = curDone
			return err
		}
		switch e := ev.(type) {
		case colMetadataEvent:
			cur.cols = e.columns
			cur.desc = describeAll(e.columns)
			cur.state = curRows
			return nil
		case rowEvent:
			discardRow(e.values)
		case doneEvent:
			if e.hasCount() {
				cur.rowCount = int64(e.RowCount)
			}
			if !e.more() {
				cur.state = curDone
				return cur.takeServerError()
			}
		case errorEvent:
			cur.srvErrs = append(cur.srvErrs, ServerError(e))
		case infoEvent:
			cur.msgs = append(cur.msgs, Message(e))
		case returnStatusEvent:
			v := int32(e)
			cur.retStatus = &v
		}
	}
}

// FetchOne returns the next row of the current result set, or
// ErrNoMoreRows when it is exhausted. Calling it before Execute is a
// sequence error.
func (cur *Cursor) FetchOne() (Row, error) {
	return cur.fetchOne(true)
}

// FetchOneLazy is FetchOne without large-object materialization: a
// varchar(max)/varbinary(max)/xml value may come back as a *ValueChunks
// streaming straight from the wire. Stream or decode it before the next
// fetch; a value left unconsumed is discarded then.
func (cur *Cursor) FetchOneLazy() (Row, error) {
	return cur.fetchOne(false)
}

func (cur *Cursor) fetchOne(materialize bool) (Row, error) {
	switch cur.state {
	case curIdle:
		return nil, ErrSequence
	case curBetween, curDone:
		return nil, ErrNoMoreRows
	}
	for {
		ev, err := cur.rs.next()
		if err != nil {
			if errors.Is(err, io.EOF) {
				cur.state = curDone
				if serr := cur.takeServerError(); serr != nil {
					return nil, serr
				}
				return nil, ErrNoMoreRows
			}
			cur.state = curDone
			return nil, err
		}
		switch e := ev.(type) {
		case rowEvent:
			if materialize {
				return materializeRow(e.values)
			}
			return Row(e.values), nil
		case doneEvent:
			if e.hasCount() {
				cur.rowCount = int64(e.RowCount)
			}
			if e.more() {
				cur.state = curBetween
			} else {
				cur.state = curDone
				if serr := cur.takeServerError(); serr != nil {
					return nil, serr
				}
			}
			return nil, ErrNoMoreRows
		case errorEvent:
			cur.srvErrs = append(cur.srvErrs, ServerError(e))
		case infoEvent:
			cur.msgs = append(cur.msgs, Message(e))
		case returnStatusEvent:
			v := int32(e)
			cur.retStatus = &v
		}
	}
}

// FetchMany returns up to n rows. Fewer rows (possibly zero) come back
// when the result set runs out; that is not an error.
func (cur *Cursor) FetchMany(n int) ([]Row, error) {
	if n <= 0 {
		return nil, nil
	}
	rows := make([]Row, 0, n)
	for len(rows) < n {
		row, err := cur.FetchOne()
		if err != nil {
			if errors.Is(err, ErrNoMoreRows) {
				break
			}
			return rows, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

// FetchAll returns all remaining rows of the current result set.
func (cur *Cursor) FetchAll() ([]Row, error) {
	var rows []Row
	for {
		row, err := cur.FetchOne()
		if err != nil {
			if errors.Is(err, ErrNoMoreRows) {
				return rows, nil
			}
			return rows, err
		}
		rows = append(rows, row)
	}
}

// NextResultSet skips the rest of the current result set and positions on
// the next one, reporting whether one exists.
func (cur *Cursor) NextResultSet() (bool, error) {
	switch cur.state {
	case curIdle:
		return false, ErrSequence
	case curDone:
		return false, nil
	}
	if err := cur.advance(); err != nil {
		return false, err
	}
	return cur.state == curRows, nil
}

// Description returns the column descriptors of the current result set,
// or nil when the statement returned no rows.
func (cur *Cursor) Description() []Column {
	return cur.desc
}

// RowCount returns the rows-affected count of the completed statement, or
// -1 when the server did not report one.
func (cur *Cursor) RowCount() int64 {
	return cur.rowCount
}

// Messages returns the informational messages collected since the last
// Execute.
func (cur *Cursor) Messages() []Message {
	return cur.msgs
}

// ReturnStatus returns the RETURN value of an executed procedure.
func (cur *Cursor) ReturnStatus() (int32, bool) {
	if cur.retStatus == nil {
		return 0, false
	}
	return *cur.retStatus, true
}

// Cancel raises attention for the executing statement and discards the
// rest of the response. The connection stays usable.
func (cur *Cursor) Cancel(ctx context.Context) error {
	if cur.closed || cur.rs == nil || cur.state == curDone {
		return nil
	}
	if err := cur.rs.sess.sendAttention(ctx); err != nil {
		return err
	}
	cur.state = curDone
	return cur.rs.drain()
}

// Close discards any unconsumed results. The cursor cannot be used again;
// the connection stays usable.
func (cur *Cursor) Close() error {
	if cur.closed {
		return nil
	}
	cur.closed = true
	cur.state = curDone
	if cur.rs != nil {
		err := cur.rs.drain()
		cur.rs = nil
		return err
	}
	return nil
}

// takeServerError assembles collected error tokens into one ServerError,
// first as primary with the rest attached, and resets the collection.
func (cur *Cursor) takeServerError() error {
	if len(cur.srvErrs) == 0 {
		return nil
	}
	primary := cur.srvErrs[0]
	primary.All = cur.srvErrs
	cur.srvErrs = nil
	return primary
}

func describeAll(cols []columnStruct) []Column {
	desc := make([]Column, len(cols))
	for i, c := range cols {
		desc[i] = c.describe()
	}
	return desc
}

// materializeRow resolves any lazy large-object value so the row owns all
// of its data.
func materializeRow(values []interface{}) (Row, error) {
	row := Row(values)
	for i, v := range row {
		vc, ok := v.(*ValueChunks)
		if !ok {
			continue
		}
		switch vc.ti.TypeId {
		case typeNVarChar, typeNChar, typeXml, typeBigVarChar, typeBigChar, typeText, typeNText:
			s, err := vc.DecodeString()
			if err != nil {
				return nil, err
			}
			row[i] = s
		default:
			b, err := vc.ReadAll()
			if err != nil {
				return nil, err
			}
			row[i] = b
		}
	}
	return row, nil
}

func discardRow(values []interface{}) {
	for _, v := range values {
		if vc, ok := v.(*ValueChunks); ok {
			_ = vc.discard()
		}
	}
}

// translateCall rewrites an ODBC style {CALL procname(arg, ...)} escape
// into an EXEC batch; anything else passes through untouched.
func translateCall(sql string) string {
	trimmed := strings.TrimSpace(sql)
	if len(trimmed) < 2 || trimmed[0] != '{' || trimmed[len(trimmed)-1] != '}' {
		return sql
	}
	inner := strings.TrimSpace(trimmed[1 : len(trimmed)-1])
	if len(inner) < 4 || !strings.EqualFold(inner[:4], "CALL") {
		return sql
	}
	call := strings.TrimSpace(inner[4:])
	if call == "" {
		return sql
	}
	name := call
	args := ""
	if i := strings.IndexByte(call, '('); i >= 0 {
		name = strings.TrimSpace(call[:i])
		rest := strings.TrimSpace(call[i:])
		if !strings.HasSuffix(rest, ")") {
			return sql
		}
		args = strings.TrimSpace(rest[1 : len(rest)-1])
	}
	if name == "" {
		return sql
	}
	if args == "" {
		return "EXEC " + name
	}
	return "EXEC " + name + " " + args
}
