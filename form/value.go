// Package form models raw form submissions: the tagged value union carried by
// each field, grid reconstruction of indexed matrix inputs, and key-wise
// merging of partial submissions.
package form

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
)

// Kind identifies the shape of a Value.
type Kind int

const (
	// KindNone is the zero Value.
	KindNone Kind = iota
	// KindScalar is a single text value.
	KindScalar
	// KindList is a repeated control (several values for one name).
	KindList
	// KindGrid is a reconstructed matrix of raw cell values.
	KindGrid
	// KindRelation is an already structured href/type/title triple.
	KindRelation
)

// Relation is a reference to another resource. Empty members are omitted
// when encoded.
type Relation struct {
	Href  string `json:"href,omitempty"`
	Type  string `json:"type,omitempty"`
	Title string `json:"title,omitempty"`
}

// IsEmpty reports whether none of the members are set.
func (r Relation) IsEmpty() bool {
	return r.Href == "" && r.Type == "" && r.Title == ""
}

// Value is one field of a submission. Exactly one shape is populated,
// selected by Kind.
type Value struct {
	kind     Kind
	scalar   string
	list     []string
	grid     [][]string
	relation Relation
}

// Scalar returns a text value.
func Scalar(s string) Value { return Value{kind: KindScalar, scalar: s} }

// List returns a repeated-control value.
func List(items ...string) Value {
	return Value{kind: KindList, list: append([]string(nil), items...)}
}

// Grid returns a matrix value. Rows are copied.
func Grid(rows [][]string) Value {
	cp := make([][]string, len(rows))
	for i, row := range rows {
		cp[i] = append([]string(nil), row...)
	}
	return Value{kind: KindGrid, grid: cp}
}

// Rel returns a structured relation value.
func Rel(r Relation) Value { return Value{kind: KindRelation, relation: r} }

// Kind returns the shape of v.
func (v Value) Kind() Kind { return v.kind }

// Text returns the scalar text and whether v is a scalar.
func (v Value) Text() (string, bool) {
	return v.scalar, v.kind == KindScalar
}

// Items returns the list members and whether v is a list.
func (v Value) Items() ([]string, bool) {
	return v.list, v.kind == KindList
}

// Rows returns the grid rows and whether v is a grid.
func (v Value) Rows() ([][]string, bool) {
	return v.grid, v.kind == KindGrid
}

// Relation returns the structured relation and whether v is one.
func (v Value) Relation() (Relation, bool) {
	return v.relation, v.kind == KindRelation
}

// IsEmpty reports whether v carries nothing worth keeping: the zero Value,
// an empty string, or an empty list, grid or relation.
func (v Value) IsEmpty() bool {
	switch v.kind {
	case KindScalar:
		return v.scalar == ""
	case KindList:
		return len(v.list) == 0
	case KindGrid:
		return len(v.grid) == 0
	case KindRelation:
		return v.relation.IsEmpty()
	default:
		return true
	}
}

// First returns the scalar text, or the first list member. It is used where a
// single text value is expected but the control may have been repeated.
func (v Value) First() string {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindList:
		if len(v.list) > 0 {
			return v.list[0]
		}
	}
	return ""
}

// Interface returns v as a plain JSON-compatible value.
func (v Value) Interface() any {
	switch v.kind {
	case KindScalar:
		return v.scalar
	case KindList:
		return append([]string(nil), v.list...)
	case KindGrid:
		return Grid(v.grid).grid
	case KindRelation:
		return v.relation
	default:
		return nil
	}
}

// MarshalJSON encodes v in its natural JSON shape.
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON accepts a string, number, boolean, null, an array of
// scalars, an array of arrays of scalars, or an object with href, type and
// title members.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = Value{}
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	switch t := raw.(type) {
	case map[string]any:
		var rel Relation
		for key, field := range map[string]*string{"href": &rel.Href, "type": &rel.Type, "title": &rel.Title} {
			if m, ok := t[key]; ok && m != nil {
				s, err := scalarText(m)
				if err != nil {
					return fmt.Errorf("relation member %q: %w", key, err)
				}
				*field = s
			}
		}
		*v = Rel(rel)
	case []any:
		nested := len(t) > 0
		for _, e := range t {
			if _, ok := e.([]any); !ok {
				nested = false
				break
			}
		}
		if nested {
			rows := make([][]string, len(t))
			for i, e := range t {
				for _, cell := range e.([]any) {
					s, err := scalarText(cell)
					if err != nil {
						return fmt.Errorf("row %d: %w", i, err)
					}
					rows[i] = append(rows[i], s)
				}
			}
			*v = Value{kind: KindGrid, grid: rows}
			return nil
		}
		items := make([]string, 0, len(t))
		for i, e := range t {
			s, err := scalarText(e)
			if err != nil {
				return fmt.Errorf("item %d: %w", i, err)
			}
			items = append(items, s)
		}
		*v = Value{kind: KindList, list: items}
	default:
		s, err := scalarText(t)
		if err != nil {
			return err
		}
		*v = Scalar(s)
	}
	return nil
}

func scalarText(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	default:
		return "", fmt.Errorf("unsupported value of type %T", v)
	}
}

// Submission is a flat mapping from field name to value.
type Submission map[string]Value

// FromValues converts decoded form controls. A name with a single value
// becomes a Scalar; a repeated control becomes a List.
func FromValues(values url.Values) Submission {
	sub := make(Submission, len(values))
	for name, vals := range values {
		switch len(vals) {
		case 0:
			sub[name] = Scalar("")
		case 1:
			sub[name] = Scalar(vals[0])
		default:
			sub[name] = List(vals...)
		}
	}
	return sub
}

// Get returns the value stored under key; the zero Value when absent.
func (s Submission) Get(key string) Value {
	return s[key]
}

// Text returns the text stored under key, or "" when absent or not a
// single text value.
func (s Submission) Text(key string) string {
	return s[key].First()
}

// Clone returns a shallow copy of s. Values are immutable, so this is
// sufficient for independent documents.
func (s Submission) Clone() Submission {
	out := make(Submission, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Keys returns the field names in sorted order.
func (s Submission) Keys() []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// String renders the submission for logs.
func (s Submission) String() string {
	var b strings.Builder
	b.WriteByte('{')
	for i, k := range s.Keys() {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s=%v", k, s[k].Interface())
	}
	b.WriteByte('}')
	return b.String()
}
