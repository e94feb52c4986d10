package rethinkengine

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// QuerySet is an immutable query builder. Every chaining call returns
// a copy, so partial queries can be shared and refined independently.
// Field names are translated to wire keys at build time; a name the
// class never declared poisons the set and surfaces when it runs.
type QuerySet struct {
	schema *Schema
	conn   Conn
	filter D
	order  []Order
	limit  int
	skip   int
	err    error
}

func newQuerySet(s *Schema) *QuerySet {
	return &QuerySet{schema: s}
}

func (q *QuerySet) clone() *QuerySet {
	c := *q
	if q.filter != nil {
		c.filter = make(D, len(q.filter))
		for k, v := range q.filter {
			c.filter[k] = v
		}
	}
	c.order = append([]Order(nil), q.order...)
	return &c
}

// Filter adds equality conditions. Values get the same treatment Set
// gives them: instants go UTC, referenced documents collapse to their
// key, and each value crosses ToWire so it compares against stored
// wire values.
func (q *QuerySet) Filter(where D) *QuerySet {
	c := q.clone()
	if c.err != nil {
		return c
	}
	if c.filter == nil {
		c.filter = make(D, len(where))
	}
	for name, v := range where {
		f, ok := c.schema.byName[name]
		if !ok {
			c.err = &UnknownFieldError{Class: c.schema.name, Field: name}
			return c
		}
		if t, isTime := v.(time.Time); isTime {
			v = t.UTC()
		}
		if f.IsReference() {
			if ref, isDoc := v.(*Document); isDoc {
				v = ref.effective("id")
			}
		}
		c.filter[c.schema.wireKey(name)] = f.ToWire(v)
	}
	return c
}

// OrderBy replaces the sort order. A leading "-" sorts descending.
func (q *QuerySet) OrderBy(names ...string) *QuerySet {
	c := q.clone()
	if c.err != nil {
		return c
	}
	c.order = nil
	for _, n := range names {
		desc := strings.HasPrefix(n, "-")
		if desc {
			n = n[1:]
		}
		if _, ok := c.schema.byName[n]; !ok {
			c.err = &UnknownFieldError{Class: c.schema.name, Field: n}
			return c
		}
		c.order = append(c.order, Order{Field: c.schema.wireKey(n), Desc: desc})
	}
	return c
}

// Limit caps the result. Zero means no cap.
func (q *QuerySet) Limit(n int) *QuerySet {
	c := q.clone()
	c.limit = n
	return c
}

// Skip drops the first n rows after ordering.
func (q *QuerySet) Skip(n int) *QuerySet {
	c := q.clone()
	c.skip = n
	return c
}

// Use runs the set on a specific connection instead of the default.
func (q *QuerySet) Use(conn Conn) *QuerySet {
	c := q.clone()
	c.conn = conn
	return c
}

func (q *QuerySet) connection() (Conn, error) {
	if q.conn != nil {
		return q.conn, nil
	}
	return GetConn()
}

// op assembles the scan. With no explicit order, the class Meta's
// OrderBy applies.
func (q *QuerySet) op() Operation {
	order := q.order
	if len(order) == 0 && q.schema.meta.OrderBy != "" {
		n := q.schema.meta.OrderBy
		desc := strings.HasPrefix(n, "-")
		if desc {
			n = n[1:]
		}
		order = []Order{{Field: q.schema.wireKey(n), Desc: desc}}
	}
	return Operation{
		Kind:    OpScan,
		Table:   q.schema.meta.TableName,
		Filter:  q.filter,
		OrderBy: order,
		Limit:   q.limit,
		Skip:    q.skip,
	}
}

func (q *QuerySet) rows(ctx context.Context, op Operation) ([]D, error) {
	if q.err != nil {
		return nil, q.err
	}
	conn, err := q.connection()
	if err != nil {
		return nil, err
	}
	QueryCount.WithLabelValues(q.schema.meta.TableName).Inc()
	cur, err := conn.Run(ctx, op)
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var out []D
	var row D
	for cur.Next(&row) {
		out = append(out, row)
	}
	return out, cur.Err()
}

// All runs the set and hydrates every row.
func (q *QuerySet) All(ctx context.Context) ([]*Document, error) {
	rows, err := q.rows(ctx, q.op())
	if err != nil {
		return nil, err
	}
	docs := make([]*Document, 0, len(rows))
	for _, row := range rows {
		docs = append(docs, q.schema.FromDoc(row))
	}
	return docs, nil
}

// First returns the first match, or nil with no error when nothing
// matched.
func (q *QuerySet) First(ctx context.Context) (*Document, error) {
	op := q.op()
	op.Limit = 1
	rows, err := q.rows(ctx, op)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return q.schema.FromDoc(rows[0]), nil
}

// One demands exactly one match. It fetches at most two rows, enough
// to tell zero, one and many apart, and fails with the class-scoped
// error either way.
func (q *QuerySet) One(ctx context.Context) (*Document, error) {
	op := q.op()
	op.Limit = 2
	rows, err := q.rows(ctx, op)
	if err != nil {
		return nil, err
	}
	switch len(rows) {
	case 0:
		return nil, q.schema.errNotFound
	case 1:
		return q.schema.FromDoc(rows[0]), nil
	}
	return nil, q.schema.errMultiple
}

// Count reports how many rows the set matches, window included.
func (q *QuerySet) Count(ctx context.Context) (int64, error) {
	rows, err := q.rows(ctx, q.op())
	if err != nil {
		return 0, err
	}
	return int64(len(rows)), nil
}

// Delete removes every match by key and aggregates the raw results.
func (q *QuerySet) Delete(ctx context.Context) (WriteResult, error) {
	var agg WriteResult
	rows, err := q.rows(ctx, q.op())
	if err != nil {
		return agg, err
	}
	conn, err := q.connection()
	if err != nil {
		return agg, err
	}
	table := q.schema.meta.TableName
	pk := q.schema.meta.PrimaryKeyField
	for _, row := range rows {
		v, ok := row[pk]
		if !ok || v == nil {
			agg.Skipped++
			continue
		}
		res, err := conn.RunWrite(ctx, Operation{Kind: OpDelete, Table: table, Key: fmt.Sprint(v)})
		if err != nil {
			return agg, err
		}
		agg.Deleted += res.Deleted
		agg.Skipped += res.Skipped
		agg.Errors += res.Errors
		if agg.FirstError == "" {
			agg.FirstError = res.FirstError
		}
	}
	DeleteCount.WithLabelValues(table).Add(float64(agg.Deleted))
	return agg, nil
}
