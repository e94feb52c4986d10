package fields

import (
	"reflect"
	"time"
)

// ObjectIDField holds a document's primary key, a plain string.
// Unset ids are tolerated so a fresh document can be saved and
// adopt a generated key.
type ObjectIDField struct{ base }

func ObjectID(opts ...Option) *ObjectIDField {
	return &ObjectIDField{newBase(opts)}
}

func (f *ObjectIDField) Kind() string { return "ObjectIdField" }

func (f *ObjectIDField) Validate(v any) bool {
	if v == nil {
		return f.nilOK()
	}
	_, ok := v.(string)
	return ok
}

func (f *ObjectIDField) ToWire(v any) any   { return v }
func (f *ObjectIDField) FromWire(v any) any { return v }

type StringField struct{ base }

func String(opts ...Option) *StringField {
	return &StringField{newBase(opts)}
}

func (f *StringField) Kind() string { return "StringField" }

func (f *StringField) Validate(v any) bool {
	if v == nil {
		return f.nilOK()
	}
	_, ok := v.(string)
	return ok
}

func (f *StringField) ToWire(v any) any   { return v }
func (f *StringField) FromWire(v any) any { return v }

// IntField normalizes every integer flavor to int64 on the wire.
type IntField struct{ base }

func Int(opts ...Option) *IntField {
	return &IntField{newBase(opts)}
}

func (f *IntField) Kind() string { return "IntField" }

func (f *IntField) Validate(v any) bool {
	if v == nil {
		return f.nilOK()
	}
	switch v.(type) {
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32:
		return true
	}
	return false
}

func (f *IntField) ToWire(v any) any {
	switch t := v.(type) {
	case int:
		return int64(t)
	case int8:
		return int64(t)
	case int16:
		return int64(t)
	case int32:
		return int64(t)
	case int64:
		return t
	case uint:
		return int64(t)
	case uint8:
		return int64(t)
	case uint16:
		return int64(t)
	case uint32:
		return int64(t)
	}
	return v
}

func (f *IntField) FromWire(v any) any {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64: // JSON numbers decode to float64
		return int64(t)
	}
	return v
}

type FloatField struct{ base }

func Float(opts ...Option) *FloatField {
	return &FloatField{newBase(opts)}
}

func (f *FloatField) Kind() string { return "FloatField" }

func (f *FloatField) Validate(v any) bool {
	if v == nil {
		return f.nilOK()
	}
	switch v.(type) {
	case float64, float32:
		return true
	}
	return false
}

func (f *FloatField) ToWire(v any) any {
	if t, ok := v.(float32); ok {
		return float64(t)
	}
	return v
}

func (f *FloatField) FromWire(v any) any { return v }

type BoolField struct{ base }

func Bool(opts ...Option) *BoolField {
	return &BoolField{newBase(opts)}
}

func (f *BoolField) Kind() string { return "BoolField" }

func (f *BoolField) Validate(v any) bool {
	if v == nil {
		return f.nilOK()
	}
	_, ok := v.(bool)
	return ok
}

func (f *BoolField) ToWire(v any) any   { return v }
func (f *BoolField) FromWire(v any) any { return v }

// DateTimeField keeps instants in UTC. Wire values may come back as
// RFC 3339 strings depending on the backend, so FromWire accepts both.
type DateTimeField struct{ base }

func DateTime(opts ...Option) *DateTimeField {
	return &DateTimeField{newBase(opts)}
}

func (f *DateTimeField) Kind() string { return "DateTimeField" }

func (f *DateTimeField) Validate(v any) bool {
	if v == nil {
		return f.nilOK()
	}
	_, ok := v.(time.Time)
	return ok
}

func (f *DateTimeField) ToWire(v any) any {
	if t, ok := v.(time.Time); ok {
		return t.UTC()
	}
	return v
}

func (f *DateTimeField) FromWire(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed.UTC()
		}
	}
	return v
}

// ListField accepts any slice and normalizes it to []any on the wire.
// Element values must survive JSON, that is the contract for compound
// fields.
type ListField struct{ base }

func List(opts ...Option) *ListField {
	return &ListField{newBase(opts)}
}

func (f *ListField) Kind() string { return "ListField" }

func (f *ListField) Validate(v any) bool {
	if v == nil {
		return f.nilOK()
	}
	k := reflect.ValueOf(v).Kind()
	return k == reflect.Slice || k == reflect.Array
}

func (f *ListField) ToWire(v any) any {
	if t, ok := v.([]any); ok {
		return t
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array {
		return v
	}
	out := make([]any, rv.Len())
	for i := 0; i < rv.Len(); i++ {
		out[i] = rv.Index(i).Interface()
	}
	return out
}

func (f *ListField) FromWire(v any) any { return v }

// DictField accepts string-keyed maps and normalizes them to
// map[string]any on the wire.
type DictField struct{ base }

func Dict(opts ...Option) *DictField {
	return &DictField{newBase(opts)}
}

func (f *DictField) Kind() string { return "DictField" }

func (f *DictField) Validate(v any) bool {
	if v == nil {
		return f.nilOK()
	}
	rv := reflect.ValueOf(v)
	return rv.Kind() == reflect.Map && rv.Type().Key().Kind() == reflect.String
}

func (f *DictField) ToWire(v any) any {
	if t, ok := v.(map[string]any); ok {
		return t
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Map || rv.Type().Key().Kind() != reflect.String {
		return v
	}
	out := make(map[string]any, rv.Len())
	for _, k := range rv.MapKeys() {
		out[k.String()] = rv.MapIndex(k).Interface()
	}
	return out
}

func (f *DictField) FromWire(v any) any { return v }

// ReferenceField stores the primary key of a document in another
// class. The document layer collapses a live document to its key
// before the value gets here, so the in-memory form is a string too.
type ReferenceField struct {
	base
	class string
}

func Reference(class string, opts ...Option) *ReferenceField {
	return &ReferenceField{base: newBase(opts), class: class}
}

func (f *ReferenceField) Kind() string { return "ReferenceField" }

// Class names the referenced document class.
func (f *ReferenceField) Class() string { return f.class }

func (f *ReferenceField) IsReference() bool { return true }

func (f *ReferenceField) Validate(v any) bool {
	if v == nil {
		return f.nilOK()
	}
	_, ok := v.(string)
	return ok
}

func (f *ReferenceField) ToWire(v any) any   { return v }
func (f *ReferenceField) FromWire(v any) any { return v }
