// Package whiskers is a self-contained TDS client for Microsoft SQL Server.
//
// It implements the TDS protocol directly over TCP, with its own connection
// pool and a cursor-style execution API, so it can back language bindings
// that do not go through database/sql.
//
// # Connecting
//
// Connection strings use semicolon separated key=value pairs:
//
//	pool, err := whiskers.Open("Server=localhost,1433;Database=master;UID=sa;PWD=secret;TrustServerCertificate=yes")
//	if err != nil { ... }
//	defer pool.Close()
//
//	conn, err := pool.Connect(ctx)
//	if err != nil { ... }
//	defer conn.Close()
//
//	cur := conn.Cursor()
//	if err := cur.Execute(ctx, "SELECT name FROM sys.databases WHERE owner_sid = @p1", 1); err != nil { ... }
//	for {
//		row, err := cur.FetchOne()
//		if err == whiskers.ErrNoMoreRows {
//			break
//		}
//		...
//	}
//
// # Recognized connection string keys
//
// Server (host or host,port), Database, UID, PWD, Encrypt,
// TrustServerCertificate, App Name, Packet Size, Connection Timeout,
// Dial Timeout, Pool Max Size, Pool Idle Timeout, Pool Acquire Timeout,
// Authentication (sql, ntlm, krb5), ServerSPN, Workstation ID, Log.
// Unrecognized keys are ignored.
//
// # Transactions
//
// Connections start in autocommit. After SetAutocommit(false) the first
// statement on a cursor opens a transaction which stays open until Commit or
// Rollback. A connection returned to the pool with an open transaction is
// rolled back before it is lent out again, so an abandoned transaction never
// leaks into the next borrower.
//
// # Concurrency
//
// A Pool is safe for concurrent use. A Conn or Cursor is not: it owns one
// physical session and one request may be in flight on it at a time.
package whiskers
