package rethinkengine

import (
	"context"
	"fmt"
	"unicode/utf8"
)

// D is a wire document: string keys, JSON-shaped values. An alias so
// plain map literals flow in and out without conversion.
type D = map[string]any

// OpKind selects what an Operation asks the connection to do.
type OpKind int

const (
	OpGet OpKind = iota + 1
	OpScan
	OpTableList
	OpInsert
	OpUpdate
	OpDelete
	OpTableCreate
	OpTableDrop
)

func (k OpKind) String() string {
	switch k {
	case OpGet:
		return "get"
	case OpScan:
		return "scan"
	case OpTableList:
		return "table_list"
	case OpInsert:
		return "insert"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	case OpTableCreate:
		return "table_create"
	case OpTableDrop:
		return "table_drop"
	}
	return "unknown"
}

// Order is one sort criterion for a scan, by wire key.
type Order struct {
	Field string
	Desc  bool
}

// Operation is the single request envelope the document layer sends
// to a connection. Only the fields the Kind needs are set.
type Operation struct {
	Kind  OpKind
	Table string

	// Key is the primary key value for point reads, updates, deletes.
	Key string

	// Doc is the wire document for inserts and updates.
	Doc D

	// Filter restricts scans to documents whose wire values equal
	// every listed key. OrderBy, Skip and Limit window the result,
	// applied in that order.
	Filter  D
	OrderBy []Order
	Skip    int
	Limit   int

	// PrimaryKey names the key field for table creation.
	PrimaryKey string
}

// DocKey pulls a usable primary key value out of the operation's
// document. Absent, nil and empty-string values all mean "let the
// backend generate one".
func (op *Operation) DocKey(pkField string) (string, bool) {
	v, ok := op.Doc[pkField]
	if !ok || v == nil {
		return "", false
	}
	if str, isStr := v.(string); isStr {
		if str == "" {
			return "", false
		}
		return str, true
	}
	return fmt.Sprint(v), true
}

// ValidTableName accepts any non-empty valid UTF-8 name without
// control characters. Both backends enforce it on table creation.
func ValidTableName(name string) bool {
	if name == "" || !utf8.ValidString(name) {
		return false
	}
	for _, c := range name {
		if c < ' ' {
			return false
		}
	}
	return true
}

// WriteResult mirrors the raw result structure write operations
// produce. Callers inspect Errors and FirstError for storage-reported
// failures; transport failures surface as Go errors instead.
type WriteResult struct {
	Errors        int      `json:"errors"`
	FirstError    string   `json:"first_error,omitempty"`
	Inserted      int64    `json:"inserted"`
	Replaced      int64    `json:"replaced"`
	Unchanged     int64    `json:"unchanged"`
	Deleted       int64    `json:"deleted"`
	Skipped       int64    `json:"skipped"`
	TablesCreated int64    `json:"tables_created,omitempty"`
	TablesDropped int64    `json:"tables_dropped,omitempty"`
	GeneratedKeys []string `json:"generated_keys,omitempty"`
}

// Failed is a storage-reported error result, not a Go error. Backends
// return it for failures the operation itself caused: a duplicate
// primary key, a missing table, a missing document on update.
func Failed(format string, args ...any) WriteResult {
	return WriteResult{Errors: 1, FirstError: fmt.Sprintf(format, args...)}
}

// Cursor walks the rows a read operation produced.
type Cursor interface {
	// Next stores the next row in *dst and reports whether there was
	// one. After it returns false, check Err.
	Next(dst *D) bool
	Err() error
	Close() error
}

// RowsCursor is a Cursor over rows a backend materialized up front.
// Both bundled backends run their scans eagerly and hand results out
// through one of these.
type RowsCursor struct {
	rows   []D
	pos    int
	closed bool
	err    error
}

// NewRowsCursor builds a cursor yielding rows in order.
func NewRowsCursor(rows ...D) *RowsCursor {
	return &RowsCursor{rows: rows}
}

func (c *RowsCursor) Next(dst *D) bool {
	if c.closed {
		c.err = ErrClosedCursor
		return false
	}
	if c.pos >= len(c.rows) {
		return false
	}
	*dst = c.rows[c.pos]
	c.pos++
	return true
}

func (c *RowsCursor) Err() error { return c.err }

// Close releases the cursor. Next refuses to run afterwards.
func (c *RowsCursor) Close() error {
	c.closed = true
	return nil
}

// Conn is the pluggable storage backend. Implementations live in the
// store (pebble) and sqlstore (sqlite) packages; tests use stubs.
type Conn interface {
	Run(ctx context.Context, op Operation) (Cursor, error)
	RunWrite(ctx context.Context, op Operation) (WriteResult, error)
	Close() error
}
