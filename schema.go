package rethinkengine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/RethinkEngine/rethinkengine/fields"
	"github.com/puzpuzpuz/xsync/v3"
)

// Meta is the per-class configuration block. Zero fields inherit: the
// table name defaults to the lowercased class name, the primary key
// field to "id", and ordering to none.
type Meta struct {
	// TableName is the storage table documents of the class live in.
	TableName string
	// PrimaryKeyField is the wire name the identifier is sent under.
	PrimaryKeyField string
	// OrderBy is the default sort for queries, "-name" for descending.
	OrderBy string
}

func defaultMeta() Meta {
	return Meta{PrimaryKeyField: "id"}
}

// Decl declares the fields of a class. Map order is irrelevant; the
// creation-order tokens of the field values decide the class order.
type Decl map[string]fields.Field

// ClassSpec is everything Register needs to build a class.
type ClassSpec struct {
	Name    string
	Fields  Decl
	Meta    *Meta
	Extends *Schema
}

// Schema is a registered document class: its fields in declaration
// order, merged configuration, scoped errors, and the query manager.
type Schema struct {
	name   string
	names  []string
	byName map[string]fields.Field
	meta   Meta

	// Objects runs queries for this class.
	Objects *Manager

	errNotFound *NotFoundError
	errMultiple *MultipleResultsError
}

var classes = xsync.NewMapOf[string, *Schema]()

// Register builds a Schema from spec and installs it in the process
// registry. Fields of spec.Extends come first in inherited order; an
// ObjectID field is upserted as "id" so every class has an identifier
// even if a parent already declared one; spec.Fields follow in the
// order their values were constructed. Registering the same class
// name twice fails.
func Register(spec ClassSpec) (*Schema, error) {
	if err := checkName(spec.Name); err != nil {
		return nil, err
	}

	s := &Schema{
		name:   spec.Name,
		byName: make(map[string]fields.Field),
	}
	if spec.Extends != nil {
		for _, n := range spec.Extends.names {
			s.upsert(n, spec.Extends.byName[n])
		}
	}
	s.upsert("id", fields.ObjectID())

	type decl struct {
		name  string
		field fields.Field
	}
	declared := make([]decl, 0, len(spec.Fields))
	for n, f := range spec.Fields {
		if f == nil {
			return nil, fmt.Errorf("%w: %s: field %q is nil", ErrBadClass, spec.Name, n)
		}
		if err := checkName(n); err != nil {
			return nil, fmt.Errorf("%w: %s: field %q", ErrBadClass, spec.Name, n)
		}
		declared = append(declared, decl{n, f})
	}
	sort.Slice(declared, func(i, j int) bool {
		a, b := declared[i], declared[j]
		if a.field.CreationOrder() != b.field.CreationOrder() {
			return a.field.CreationOrder() < b.field.CreationOrder()
		}
		return a.name < b.name
	})
	for _, d := range declared {
		s.upsert(d.name, d.field)
	}

	s.meta = defaultMeta()
	if spec.Extends != nil {
		s.meta = spec.Extends.meta
	}
	if spec.Meta != nil {
		if spec.Meta.TableName != "" {
			s.meta.TableName = spec.Meta.TableName
		}
		if spec.Meta.PrimaryKeyField != "" {
			s.meta.PrimaryKeyField = spec.Meta.PrimaryKeyField
		}
		if spec.Meta.OrderBy != "" {
			s.meta.OrderBy = spec.Meta.OrderBy
		}
	}
	if s.meta.TableName == "" {
		s.meta.TableName = strings.ToLower(spec.Name)
	}

	s.errNotFound = &NotFoundError{Class: spec.Name}
	s.errMultiple = &MultipleResultsError{Class: spec.Name}
	s.Objects = &Manager{schema: s}

	if _, loaded := classes.LoadOrStore(strings.ToLower(spec.Name), s); loaded {
		return nil, fmt.Errorf("%w: %s", ErrSchemaRegistered, spec.Name)
	}
	return s, nil
}

// MustRegister is Register for package init blocks.
func MustRegister(spec ClassSpec) *Schema {
	s, err := Register(spec)
	if err != nil {
		panic(err)
	}
	return s
}

// LookupSchema finds a registered class by name, case-insensitively.
func LookupSchema(name string) (*Schema, bool) {
	return classes.Load(strings.ToLower(name))
}

func checkName(name string) error {
	if name == "" || !utf8.ValidString(name) {
		return fmt.Errorf("%w: bad name %q", ErrBadClass, name)
	}
	for _, c := range name {
		if c < ' ' {
			return fmt.Errorf("%w: bad name %q", ErrBadClass, name)
		}
	}
	return nil
}

// upsert keeps the position of an existing name, appends a new one.
func (s *Schema) upsert(name string, f fields.Field) {
	if _, ok := s.byName[name]; !ok {
		s.names = append(s.names, name)
	}
	s.byName[name] = f
}

func (s *Schema) Name() string { return s.name }

// Meta returns a copy of the merged configuration.
func (s *Schema) Meta() Meta { return s.meta }

// FieldNames lists the declared fields in class order, "id" included.
func (s *Schema) FieldNames() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Field returns the declared field by name.
func (s *Schema) Field(name string) (fields.Field, bool) {
	f, ok := s.byName[name]
	return f, ok
}

// ErrNotFound is the class-scoped lookup failure. errors.Is also
// matches the package-level ErrNotFound sentinel.
func (s *Schema) ErrNotFound() error { return s.errNotFound }

// ErrMultipleResults is the class-scoped ambiguity failure.
func (s *Schema) ErrMultipleResults() error { return s.errMultiple }

// storageKey is the instance-storage key of a declared field.
// Reference fields store the referenced primary key under name_id.
func (s *Schema) storageKey(name string) string {
	if f, ok := s.byName[name]; ok && f.IsReference() {
		return name + "_id"
	}
	return name
}

// wireKey is the outgoing document key of a declared field: the
// identifier travels under the configured primary key name, reference
// fields keep their _id suffix.
func (s *Schema) wireKey(name string) string {
	if name == "id" {
		return s.meta.PrimaryKeyField
	}
	return s.storageKey(name)
}

// TableCreate creates the class table with the configured primary key
// name. With ifNotExists set an existing table is left alone and a
// nil result returned.
func (s *Schema) TableCreate(ctx context.Context, ifNotExists bool) (*WriteResult, error) {
	conn, err := GetConn()
	if err != nil {
		return nil, err
	}
	if ifNotExists {
		names, err := TableList(ctx, conn)
		if err != nil {
			return nil, err
		}
		for _, n := range names {
			if n == s.meta.TableName {
				return nil, nil
			}
		}
	}
	res, err := conn.RunWrite(ctx, Operation{
		Kind:       OpTableCreate,
		Table:      s.meta.TableName,
		PrimaryKey: s.meta.PrimaryKeyField,
	})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// TableDrop removes the class table and every document in it. The raw
// result is returned as-is; a missing table is a storage-reported
// error, not a Go error.
func (s *Schema) TableDrop(ctx context.Context) (*WriteResult, error) {
	conn, err := GetConn()
	if err != nil {
		return nil, err
	}
	res, err := conn.RunWrite(ctx, Operation{Kind: OpTableDrop, Table: s.meta.TableName})
	if err != nil {
		return nil, err
	}
	return &res, nil
}

// TableList names the tables the connection currently holds.
func TableList(ctx context.Context, c Conn) (names []string, err error) {
	cur, err := c.Run(ctx, Operation{Kind: OpTableList})
	if err != nil {
		return nil, err
	}
	defer cur.Close()
	var row D
	for cur.Next(&row) {
		if n, ok := row["name"].(string); ok {
			names = append(names, n)
		}
	}
	return names, cur.Err()
}
