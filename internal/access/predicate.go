package access

import (
	"strconv"
	"strings"
)

// Kind tags a Predicate node.
type Kind int

const (
	KindTrue Kind = iota
	KindAnd
	KindOr
	KindEq
	KindHas
)

// Predicate is a declarative filter over Operation fields. It is a plain tree so that any
// storage backend can translate it; Eval is the reference semantics every translation must match.
type Predicate struct {
	Kind     Kind
	Field    string
	Value    string
	Children []Predicate
}

// Record is anything a Predicate can be evaluated against.
type Record interface {
	// Scalar returns the value of a single-valued field.
	Scalar(field string) (string, bool)
	// Set returns every value of a set-valued field.
	Set(field string) []string
}

// True matches every record.
func True() Predicate { return Predicate{Kind: KindTrue} }

// And matches when all children match. An empty And matches everything.
func And(children ...Predicate) Predicate { return Predicate{Kind: KindAnd, Children: children} }

// Or matches when any child matches. An empty Or matches nothing.
func Or(children ...Predicate) Predicate { return Predicate{Kind: KindOr, Children: children} }

// Eq matches when the scalar field equals value.
func Eq(field, value string) Predicate { return Predicate{Kind: KindEq, Field: field, Value: value} }

// Has matches when some element of the set-valued field equals value.
func Has(field, value string) Predicate { return Predicate{Kind: KindHas, Field: field, Value: value} }

// IsTrue reports whether p places no restriction at all.
func (p Predicate) IsTrue() bool { return p.Kind == KindTrue }

// Eval evaluates p against r. Unknown kinds and unknown fields never match.
func (p Predicate) Eval(r Record) bool {
	switch p.Kind {
	case KindTrue:
		return true
	case KindAnd:
		for _, c := range p.Children {
			if !c.Eval(r) {
				return false
			}
		}
		return true
	case KindOr:
		for _, c := range p.Children {
			if c.Eval(r) {
				return true
			}
		}
		return false
	case KindEq:
		v, ok := r.Scalar(p.Field)
		return ok && v == p.Value
	case KindHas:
		for _, v := range r.Set(p.Field) {
			if v == p.Value {
				return true
			}
		}
		return false
	}
	return false
}

// String renders p in a compact prefix form, e.g. or(eq(visibility,"EVERYONE"),...).
func (p Predicate) String() string {
	var b strings.Builder
	p.write(&b)
	return b.String()
}

func (p Predicate) write(b *strings.Builder) {
	switch p.Kind {
	case KindTrue:
		b.WriteString("true")
	case KindAnd, KindOr:
		if p.Kind == KindAnd {
			b.WriteString("and(")
		} else {
			b.WriteString("or(")
		}
		for i, c := range p.Children {
			if i > 0 {
				b.WriteByte(',')
			}
			c.write(b)
		}
		b.WriteByte(')')
	case KindEq:
		b.WriteString("eq(" + p.Field + "," + strconv.Quote(p.Value) + ")")
	case KindHas:
		b.WriteString("has(" + p.Field + "," + strconv.Quote(p.Value) + ")")
	default:
		b.WriteString("invalid")
	}
}
