/*
Package fields holds the field kinds a document class may declare.

Every field value carries a creation-order token drawn from a
process-wide counter, so a class can report its fields in the order
the program constructed them no matter how the declaration map was
written down. A field knows its default, how to validate an in-memory
value, and how to translate values to and from their wire form.
*/
package fields

import "sync/atomic"

var creationOrder atomic.Uint64

// Field is what the schema layer sees: an opaque capability with a
// default, a validity test, wire conversions and an ordering token.
type Field interface {
	// Kind names the field kind, e.g. "StringField". Used in error text.
	Kind() string
	// Default is the effective value of an unset field. May be nil.
	Default() any
	// Validate reports whether v is acceptable for this field.
	// A nil v is acceptable unless the field is required.
	Validate(v any) bool
	// ToWire converts an in-memory value to its wire representation.
	ToWire(v any) any
	// FromWire converts a wire value back to the in-memory form.
	FromWire(v any) any
	// CreationOrder returns the construction token of this field.
	CreationOrder() uint64
	// IsReference reports whether the field points at another document.
	IsReference() bool
}

// Option tweaks a field at construction time.
type Option func(*base)

// Default sets the value an unset field reports.
func Default(v any) Option {
	return func(b *base) { b.def = v }
}

// Required rejects nil values at validation time.
func Required() Option {
	return func(b *base) { b.required = true }
}

type base struct {
	def      any
	required bool
	order    uint64
}

func newBase(opts []Option) base {
	b := base{order: creationOrder.Add(1)}
	for _, o := range opts {
		o(&b)
	}
	return b
}

func (b *base) Default() any          { return b.def }
func (b *base) CreationOrder() uint64 { return b.order }
func (b *base) IsReference() bool     { return false }

// nilOK reports whether a nil value passes validation.
func (b *base) nilOK() bool { return !b.required }
