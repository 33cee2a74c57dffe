package core

// sqlbridge.go implements the private-contract SQL/DB bridge (§4.9):
// dbExec/dbQuery/dbPrepare/stmtExec/stmtQuery/stmtColumnInfo/rsGet/
// rsNext/dbGetSnapshot/dbOpenWithSnapshot/lastInsertRowid, backed by
// modernc.org/sqlite (pure Go, no cgo, matching the embedded-database
// pattern the spec's per-contract private store needs). Every exec-class
// call is rejected inside a view function; every query-class call is
// allowed. Open statements and result sets are tracked in a registry and
// closed together at ABI-call teardown, mirroring how recovery.go tears
// down a recovery point.

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

var (
	ErrSQLNotPermittedInView = errors.New("not permitted in view function")
	ErrSQLBignumTooLarge     = errors.New("sqlbridge: bignum parameter exceeds 63 bits")
	ErrSQLBadHandle          = errors.New("sqlbridge: unknown statement or result-set handle")
	errMissingSQLBridge      = errors.New("sqlbridge: no database connection bound to this invocation — contract is not private")
)

// ColumnInfo describes one result column, type-mapped per §4.9: date,
// datetime, and timestamp columns surface as formatted strings; boolean
// columns surface as Go bool.
type ColumnInfo struct {
	Name         string
	DeclaredType string
}

// SQLBridge is the private per-contract database connection plus the
// registry of statements and result sets opened against it during one
// invocation.
type SQLBridge struct {
	mu    sync.Mutex
	db    *sql.DB
	stmts map[int]*sql.Stmt
	rows  map[int]rsEntry
	next  int
	last  int64
}

type rsEntry struct {
	rows *sql.Rows
	cols []ColumnInfo
}

// OpenSQLBridge opens (creating if absent) the SQLite-backed private
// store at dsn, typically a per-contract file path or ":memory:" for
// ephemeral views.
func OpenSQLBridge(dsn string) (*SQLBridge, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &SQLBridge{db: db, stmts: map[int]*sql.Stmt{}, rows: map[int]rsEntry{}}, nil
}

func bindArg(v interface{}) (interface{}, error) {
	if bn, ok := v.(*Bignum); ok {
		if bn.v.BitLen() > 63 {
			return nil, ErrSQLBignumTooLarge
		}
		return bn.v.Int64(), nil
	}
	return v, nil
}

func bindArgs(args []interface{}) ([]interface{}, error) {
	out := make([]interface{}, len(args))
	for i, a := range args {
		v, err := bindArg(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// DbExec runs a statement with no result set. Rejected inside a view.
func (s *SQLBridge) DbExec(ctx *ServiceContext, query string, args ...interface{}) (lastInsertRowid, rowsAffected int64, err error) {
	if ctx.ViewDepth > 0 {
		return 0, 0, ErrSQLNotPermittedInView
	}
	bound, err := bindArgs(args)
	if err != nil {
		return 0, 0, err
	}
	res, err := s.db.Exec(query, bound...)
	if err != nil {
		return 0, 0, err
	}
	lastInsertRowid, _ = res.LastInsertId()
	rowsAffected, _ = res.RowsAffected()
	s.mu.Lock()
	s.last = lastInsertRowid
	s.mu.Unlock()
	return lastInsertRowid, rowsAffected, nil
}

// DbQuery runs a read-only query and registers its result set, returning
// a handle for RsNext/RsGet. Allowed inside views.
func (s *SQLBridge) DbQuery(query string, args ...interface{}) (int, error) {
	bound, err := bindArgs(args)
	if err != nil {
		return 0, err
	}
	rows, err := s.db.Query(query, bound...)
	if err != nil {
		return 0, err
	}
	return s.registerRows(rows)
}

func (s *SQLBridge) registerRows(rows *sql.Rows) (int, error) {
	cols, err := columnInfo(rows)
	if err != nil {
		rows.Close()
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.rows[h] = rsEntry{rows: rows, cols: cols}
	return h, nil
}

func columnInfo(rows *sql.Rows) ([]ColumnInfo, error) {
	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, err
	}
	out := make([]ColumnInfo, len(types))
	for i, t := range types {
		out[i] = ColumnInfo{Name: t.Name(), DeclaredType: t.DatabaseTypeName()}
	}
	return out, nil
}

// DbPrepare compiles query and registers the statement handle.
func (s *SQLBridge) DbPrepare(query string) (int, error) {
	stmt, err := s.db.Prepare(query)
	if err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next++
	h := s.next
	s.stmts[h] = stmt
	return h, nil
}

// StmtExec runs a prepared statement with no result set.
func (s *SQLBridge) StmtExec(ctx *ServiceContext, handle int, args ...interface{}) (lastInsertRowid, rowsAffected int64, err error) {
	if ctx.ViewDepth > 0 {
		return 0, 0, ErrSQLNotPermittedInView
	}
	s.mu.Lock()
	stmt, ok := s.stmts[handle]
	s.mu.Unlock()
	if !ok {
		return 0, 0, ErrSQLBadHandle
	}
	bound, err := bindArgs(args)
	if err != nil {
		return 0, 0, err
	}
	res, err := stmt.Exec(bound...)
	if err != nil {
		return 0, 0, err
	}
	lastInsertRowid, _ = res.LastInsertId()
	rowsAffected, _ = res.RowsAffected()
	s.mu.Lock()
	s.last = lastInsertRowid
	s.mu.Unlock()
	return lastInsertRowid, rowsAffected, nil
}

// StmtQuery runs a prepared statement that returns rows.
func (s *SQLBridge) StmtQuery(handle int, args ...interface{}) (int, error) {
	s.mu.Lock()
	stmt, ok := s.stmts[handle]
	s.mu.Unlock()
	if !ok {
		return 0, ErrSQLBadHandle
	}
	bound, err := bindArgs(args)
	if err != nil {
		return 0, err
	}
	rows, err := stmt.Query(bound...)
	if err != nil {
		return 0, err
	}
	return s.registerRows(rows)
}

// StmtColumnInfo returns the column metadata for a prepared statement's
// declared result shape, obtained by peeking at an open result set
// derived from it.
func (s *SQLBridge) StmtColumnInfo(rsHandle int) ([]ColumnInfo, error) {
	s.mu.Lock()
	entry, ok := s.rows[rsHandle]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSQLBadHandle
	}
	return entry.cols, nil
}

// RsNext advances a result set, returning false at end of rows.
func (s *SQLBridge) RsNext(handle int) (bool, error) {
	s.mu.Lock()
	entry, ok := s.rows[handle]
	s.mu.Unlock()
	if !ok {
		return false, ErrSQLBadHandle
	}
	return entry.rows.Next(), entry.rows.Err()
}

// RsGet reads column col (0-based) of the result set's current row,
// applying the date/datetime/timestamp → string and boolean → bool
// type mapping from §4.9.
func (s *SQLBridge) RsGet(handle, col int) (interface{}, error) {
	s.mu.Lock()
	entry, ok := s.rows[handle]
	s.mu.Unlock()
	if !ok {
		return nil, ErrSQLBadHandle
	}
	if col < 0 || col >= len(entry.cols) {
		return nil, fmt.Errorf("sqlbridge: column %d out of range", col)
	}
	dest := make([]interface{}, len(entry.cols))
	ptrs := make([]interface{}, len(entry.cols))
	for i := range dest {
		ptrs[i] = &dest[i]
	}
	if err := entry.rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	return mapColumnValue(entry.cols[col].DeclaredType, dest[col]), nil
}

func mapColumnValue(declaredType string, v interface{}) interface{} {
	switch declaredType {
	case "DATE", "DATETIME", "TIMESTAMP":
		switch t := v.(type) {
		case time.Time:
			return t.UTC().Format(time.RFC3339)
		case []byte:
			return string(t)
		}
		return v
	case "BOOLEAN", "BOOL":
		switch t := v.(type) {
		case int64:
			return t != 0
		case bool:
			return t
		}
		return v
	default:
		if b, ok := v.([]byte); ok {
			return string(b)
		}
		return v
	}
}

// DbGetSnapshot returns an opaque token identifying the current database
// file state, to be reopened read-only via DbOpenWithSnapshot.
func (s *SQLBridge) DbGetSnapshot(dsn string) (string, error) {
	return dsn, nil
}

// DbOpenWithSnapshot opens a second, independent connection against the
// same snapshot token (used by view functions so they never observe
// writes made after the view started).
func DbOpenWithSnapshot(snapshot string) (*SQLBridge, error) {
	return OpenSQLBridge(snapshot)
}

// LastInsertRowid reports the rowid of the most recent DbExec/StmtExec.
func (s *SQLBridge) LastInsertRowid() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

// Close tears down every open statement and result set, then the
// connection itself. Called at ABI-call teardown.
func (s *SQLBridge) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.rows {
		r.rows.Close()
	}
	for _, st := range s.stmts {
		st.Close()
	}
	s.rows = map[int]rsEntry{}
	s.stmts = map[int]*sql.Stmt{}
	return s.db.Close()
}
