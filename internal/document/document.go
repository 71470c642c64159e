// Package document models a parsed generator response as an ordered mapping of
// sections to a closed set of value kinds.
package document

import (
	"fmt"
	"strings"
)

// Kind enumerates the value variants.
type Kind int

const (
	KindMissing Kind = iota
	KindScalar
	KindList
	KindMap
	KindRaw
)

func (k Kind) String() string {
	switch k {
	case KindScalar:
		return "scalar"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	case KindRaw:
		return "raw"
	default:
		return "missing"
	}
}

// ParseKind maps a schema kind name to a Kind. Unknown names report false.
func ParseKind(name string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "scalar", "string", "text":
		return KindScalar, true
	case "list", "sequence", "array":
		return KindList, true
	case "map", "mapping", "object":
		return KindMap, true
	default:
		return KindMissing, false
	}
}

// Value is implemented only by the types in this package.
type Value interface {
	Kind() Kind
	sealed()
}

// Missing marks an absent section or path.
type Missing struct{}

// Scalar holds a string, bool, int64, float64 or nil.
type Scalar struct {
	V any
}

// List is an ordered sequence of values.
type List []Value

// Raw keeps the text of a section that could not be parsed on its own.
type Raw struct {
	Text  string
	Cause string
}

// Map is an insertion-ordered mapping. A nil *Map behaves as empty.
type Map struct {
	keys    []string
	entries map[string]Value
}

func (Missing) Kind() Kind { return KindMissing }
func (Scalar) Kind() Kind  { return KindScalar }
func (List) Kind() Kind    { return KindList }
func (Raw) Kind() Kind     { return KindRaw }
func (*Map) Kind() Kind    { return KindMap }

func (Missing) sealed() {}
func (Scalar) sealed()  {}
func (List) sealed()    {}
func (Raw) sealed()     {}
func (*Map) sealed()    {}

// String renders the scalar the way it would appear in text.
func (s Scalar) String() string {
	if s.V == nil {
		return ""
	}
	return fmt.Sprint(s.V)
}

// NewMap returns an empty ordered map.
func NewMap() *Map {
	return &Map{entries: map[string]Value{}}
}

// Set inserts or replaces key, keeping the original position on replace.
func (m *Map) Set(key string, value Value) {
	if m.entries == nil {
		m.entries = map[string]Value{}
	}
	if value == nil {
		value = Missing{}
	}
	if _, exists := m.entries[key]; !exists {
		m.keys = append(m.keys, key)
	}
	m.entries[key] = value
}

// Get returns the value under key, or Missing.
func (m *Map) Get(key string) Value {
	if m == nil {
		return Missing{}
	}
	if value, ok := m.entries[key]; ok {
		return value
	}
	return Missing{}
}

// Has reports whether key is present.
func (m *Map) Has(key string) bool {
	if m == nil {
		return false
	}
	_, ok := m.entries[key]
	return ok
}

// Keys returns the keys in insertion order.
func (m *Map) Keys() []string {
	if m == nil {
		return nil
	}
	return append([]string(nil), m.keys...)
}

func (m *Map) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Document is the parser's product: top-level sections in source order.
type Document struct {
	*Map
}

// New returns an empty document.
func New() Document {
	return Document{Map: NewMap()}
}

// FromMap wraps m as a document.
func FromMap(m *Map) Document {
	if m == nil {
		m = NewMap()
	}
	return Document{Map: m}
}

// Section returns the named top-level section, or Missing.
func (d Document) Section(name string) Value {
	return d.Map.Get(name)
}

// RawSections lists the sections that are held as Raw text.
func (d Document) RawSections() []string {
	var names []string
	for _, key := range d.Keys() {
		if d.Get(key).Kind() == KindRaw {
			names = append(names, key)
		}
	}
	return names
}

// Lookup resolves a dotted path through nested maps, e.g. "knowledge_graph.nodes".
// An empty path returns the document root.
func (d Document) Lookup(path string) Value {
	var current Value = d.Map
	if d.Map == nil {
		current = NewMap()
	}
	if strings.TrimSpace(path) == "" {
		return current
	}
	for _, segment := range strings.Split(path, ".") {
		m, ok := current.(*Map)
		if !ok {
			return Missing{}
		}
		current = m.Get(segment)
	}
	return current
}

// IsEmpty reports whether v carries no usable content.
func IsEmpty(v Value) bool {
	switch typed := v.(type) {
	case nil, Missing:
		return true
	case Scalar:
		return strings.TrimSpace(typed.String()) == ""
	case List:
		return len(typed) == 0
	case *Map:
		return typed.Len() == 0
	case Raw:
		return strings.TrimSpace(typed.Text) == ""
	default:
		return true
	}
}

// Count returns the number of entries in a list or map, and 0 otherwise.
func Count(v Value) int {
	switch typed := v.(type) {
	case List:
		return len(typed)
	case *Map:
		return typed.Len()
	default:
		return 0
	}
}

// Text flattens a value into a single string: scalars as-is, raw sections by
// their text, and entries of a map by the first scalar field found.
func Text(v Value, field string) string {
	switch typed := v.(type) {
	case Scalar:
		return typed.String()
	case Raw:
		return typed.Text
	case *Map:
		if field != "" {
			return Text(typed.Get(field), "")
		}
		for _, key := range typed.Keys() {
			if scalar, ok := typed.Get(key).(Scalar); ok {
				return scalar.String()
			}
		}
	}
	return ""
}
