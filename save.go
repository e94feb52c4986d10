package rethinkengine

import (
	"context"
	"fmt"
	"time"
)

// Save persists the document through the default connection. A clean
// document is a no-op with no round trip. The write is an insert
// while the identifier is absent, otherwise an update that replaces
// the whole stored document. Exactly one storage-reported error fails
// the save with an OperationError and leaves the document dirty; on
// success the dirty flag clears and a generated key, if any, becomes
// the document's identifier.
func (d *Document) Save(ctx context.Context) error {
	if !d.dirty {
		return nil
	}
	table := d.schema.meta.TableName
	if err := d.Validate(); err != nil {
		ValidationFailures.WithLabelValues(table).Inc()
		return err
	}
	conn, err := GetConn()
	if err != nil {
		return err
	}

	doc := d.Doc()
	id := d.effective("id")
	kind := "insert"
	op := Operation{Kind: OpInsert, Table: table, Doc: doc}
	if !isFalsy(id) {
		kind = "update"
		op = Operation{Kind: OpUpdate, Table: table, Key: fmt.Sprint(id), Doc: doc}
	}

	start := time.Now()
	res, err := conn.RunWrite(ctx, op)
	if err != nil {
		OperationErrors.WithLabelValues(table, kind).Inc()
		return err
	}
	if res.Errors == 1 {
		OperationErrors.WithLabelValues(table, kind).Inc()
		return &OperationError{Detail: res.FirstError}
	}

	d.dirty = false
	if len(res.GeneratedKeys) > 0 {
		d.data[d.schema.storageKey("id")] = res.GeneratedKeys[0]
	}
	SaveCount.WithLabelValues(table, kind).Inc()
	SaveDuration.WithLabelValues(table).Observe(time.Since(start).Seconds())
	return nil
}

// Delete removes the stored document by identifier and returns the
// raw result. A document with no identifier has nothing stored, so
// nothing is sent and both results are nil.
func (d *Document) Delete(ctx context.Context) (*WriteResult, error) {
	id := d.effective("id")
	if isFalsy(id) {
		return nil, nil
	}
	conn, err := GetConn()
	if err != nil {
		return nil, err
	}
	table := d.schema.meta.TableName
	res, err := conn.RunWrite(ctx, Operation{Kind: OpDelete, Table: table, Key: fmt.Sprint(id)})
	if err != nil {
		OperationErrors.WithLabelValues(table, "delete").Inc()
		return nil, err
	}
	DeleteCount.WithLabelValues(table).Inc()
	return &res, nil
}
