package rethinkengine

import (
	"fmt"
	"reflect"
	"time"

	"github.com/RethinkEngine/rethinkengine/fields"
)

// Document is one instance of a registered class. Field values live
// in a storage map keyed by storage key; names the class never
// declared land in a side bag and never touch persistence. A dirty
// flag tracks whether anything changed since the last save.
type Document struct {
	schema *Schema
	data   map[string]any
	extra  map[string]any
	dirty  bool
	cursor int
}

// Item is one field name with its effective value.
type Item struct {
	Name  string
	Value any
}

// New builds a fresh document and applies vals through Set. Fresh
// documents start dirty so an immediate Save persists them.
func (s *Schema) New(vals D) *Document {
	d := &Document{schema: s, data: make(map[string]any), dirty: true, cursor: -1}
	for k, v := range vals {
		d.Set(k, v)
	}
	return d
}

// FromDoc rebuilds a document from a wire row: wire keys map back to
// declared fields, values pass through FromWire, keys nobody declared
// are dropped. Loaded documents start clean.
func (s *Schema) FromDoc(row D) *Document {
	d := &Document{schema: s, data: make(map[string]any, len(row)), cursor: -1}
	for _, name := range s.names {
		v, ok := row[s.wireKey(name)]
		if !ok || v == nil {
			continue
		}
		d.data[s.storageKey(name)] = s.byName[name].FromWire(v)
	}
	return d
}

// Schema returns the class this document belongs to.
func (d *Document) Schema() *Schema { return d.schema }

// Dirty reports whether the document changed since the last save.
func (d *Document) Dirty() bool { return d.dirty }

// Set assigns a field value. Instants are pinned to UTC, a referenced
// document collapses to its primary key, and the dirty flag flips only
// when the value actually differs from the current effective one.
// Undeclared names go to the extension bag untracked.
func (d *Document) Set(name string, value any) {
	f, ok := d.schema.byName[name]
	if !ok {
		if d.extra == nil {
			d.extra = make(map[string]any)
		}
		d.extra[name] = value
		return
	}
	if t, isTime := value.(time.Time); isTime {
		value = t.UTC()
	}
	if f.IsReference() {
		if ref, isDoc := value.(*Document); isDoc {
			value = ref.effective("id")
		}
	}
	key := d.schema.storageKey(name)
	cur, has := d.data[key]
	if !has {
		cur = f.Default()
	}
	if !reflect.DeepEqual(cur, value) {
		d.dirty = true
	}
	d.data[key] = value
}

// Get returns the effective value of a declared field (stored value,
// else the field default), or the extension bag entry for undeclared
// names. Unknown names fail with UnknownFieldError.
func (d *Document) Get(name string) (any, error) {
	if _, ok := d.schema.byName[name]; ok {
		return d.effective(name), nil
	}
	if v, ok := d.extra[name]; ok {
		return v, nil
	}
	return nil, &UnknownFieldError{Class: d.schema.name, Field: name}
}

// ID returns the identifier, or "" while unset.
func (d *Document) ID() string {
	if v, ok := d.effective("id").(string); ok {
		return v
	}
	return ""
}

func (d *Document) effective(name string) any {
	if v, ok := d.data[d.schema.storageKey(name)]; ok {
		return v
	}
	if f, ok := d.schema.byName[name]; ok {
		return f.Default()
	}
	return nil
}

// Items lists every declared field with its effective value, in class
// order.
func (d *Document) Items() []Item {
	out := make([]Item, 0, len(d.schema.names))
	for _, n := range d.schema.names {
		out = append(out, Item{Name: n, Value: d.effective(n)})
	}
	return out
}

// Next yields the next declared field name. The cursor starts on the
// first call and stays exhausted once it runs out; Rewind starts over.
func (d *Document) Next() (string, bool) {
	if d.cursor < 0 {
		d.cursor = 0
	}
	if d.cursor >= len(d.schema.names) {
		return "", false
	}
	n := d.schema.names[d.cursor]
	d.cursor++
	return n, true
}

// Rewind discards the field cursor so Next starts from the first
// field again.
func (d *Document) Rewind() { d.cursor = -1 }

// Validate checks every effective value against its field. The
// identifier is exempt while absent, a fresh document may not have
// one yet. The first offending field fails the whole document.
func (d *Document) Validate() error {
	for _, name := range d.schema.names {
		f := d.schema.byName[name]
		v := d.effective(name)
		if _, isID := f.(*fields.ObjectIDField); isID && v == nil {
			continue
		}
		if !f.Validate(v) {
			return &ValidationError{Class: d.schema.name, Field: name, Kind: f.Kind(), Value: v}
		}
	}
	return nil
}

// Doc builds the outgoing wire document: the identifier travels under
// the configured primary key name and is omitted entirely while
// absent, so inserts never carry a placeholder key. Falsy values are
// flattened to nil, everything else passes through ToWire.
func (d *Document) Doc() D {
	doc := make(D, len(d.schema.names))
	for _, name := range d.schema.names {
		f := d.schema.byName[name]
		key := d.schema.wireKey(name)
		v := d.effective(name)
		if key == d.schema.meta.PrimaryKeyField && isFalsy(v) {
			continue
		}
		if isFalsy(v) {
			doc[key] = nil
		} else {
			doc[key] = f.ToWire(v)
		}
	}
	return doc
}

func (d *Document) String() string {
	if id := d.ID(); id != "" {
		return fmt.Sprintf("<%s %s>", d.schema.name, id)
	}
	return fmt.Sprintf("<%s>", d.schema.name)
}

// isFalsy mirrors truthiness on wire values: nil, zero numbers, empty
// strings, false, empty containers and zero instants all count.
func isFalsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	case int:
		return t == 0
	case int8:
		return t == 0
	case int16:
		return t == 0
	case int32:
		return t == 0
	case int64:
		return t == 0
	case uint:
		return t == 0
	case uint8:
		return t == 0
	case uint16:
		return t == 0
	case uint32:
		return t == 0
	case uint64:
		return t == 0
	case float32:
		return t == 0
	case float64:
		return t == 0
	case time.Time:
		return t.IsZero()
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Slice, reflect.Map, reflect.Array:
		return rv.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return rv.IsNil()
	}
	return false
}
