package rethinkengine

import "context"

// Manager is the query handle every schema carries as Objects.
type Manager struct {
	schema *Schema
}

// All starts an unrestricted query set over the class table.
func (m *Manager) All() *QuerySet {
	return newQuerySet(m.schema)
}

// Filter starts a query set restricted to documents whose fields
// equal every entry of where. Keys are field names, not wire keys.
func (m *Manager) Filter(where D) *QuerySet {
	return newQuerySet(m.schema).Filter(where)
}

// Get returns the single document matching where. Zero matches fail
// with the class ErrNotFound, two or more with ErrMultipleResults.
func (m *Manager) Get(ctx context.Context, where D) (*Document, error) {
	return m.Filter(where).One(ctx)
}

// GetByID is the point-lookup fast path: one keyed read, no scan.
func (m *Manager) GetByID(ctx context.Context, id string) (*Document, error) {
	conn, err := GetConn()
	if err != nil {
		return nil, err
	}
	table := m.schema.meta.TableName
	QueryCount.WithLabelValues(table).Inc()
	cur, err := conn.Run(ctx, Operation{Kind: OpGet, Table: table, Key: id})
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var row D
	if !cur.Next(&row) {
		if err := cur.Err(); err != nil {
			return nil, err
		}
		return nil, m.schema.errNotFound
	}
	return m.schema.FromDoc(row), nil
}

// Count reports how many documents the class table holds.
func (m *Manager) Count(ctx context.Context) (int64, error) {
	return m.All().Count(ctx)
}
