package message

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"

	"github.com/c360/controlbus/errors"
)

// ParameterSet maps parameter names to ordered float sequences.
//
// Element order within a sequence is significant (x, y, z components and so
// on). A name maps to at most one sequence. Names keep their insertion order,
// which is also the order they are encoded on the wire.
//
// The zero value is an empty set ready to use. Reset keeps the backing
// storage so a pooled set stops allocating once it has seen its working set
// of names.
type ParameterSet struct {
	names  []string
	values [][]float64
	index  map[string]int
}

// Len returns the number of names in the set.
func (p *ParameterSet) Len() int {
	return len(p.names)
}

// Get returns the sequence stored under name. The returned slice aliases the
// set's storage and is only valid until the next mutation.
func (p *ParameterSet) Get(name string) ([]float64, bool) {
	i, ok := p.index[name]
	if !ok {
		return nil, false
	}
	return p.values[i], true
}

// Has reports whether name is present.
func (p *ParameterSet) Has(name string) bool {
	_, ok := p.index[name]
	return ok
}

// Set stores a copy of values under name, replacing any previous sequence.
func (p *ParameterSet) Set(name string, values ...float64) {
	slot := p.slot(name)
	*slot = append((*slot)[:0], values...)
}

// Apply replaces, for every name present in other, the whole sequence stored
// under that name. Names absent from other are left untouched.
func (p *ParameterSet) Apply(other *ParameterSet) {
	if other == nil || other == p {
		return
	}
	for i, name := range other.names {
		p.Set(name, other.values[i]...)
	}
}

// CopyFrom makes p an exact copy of other.
func (p *ParameterSet) CopyFrom(other *ParameterSet) {
	p.Reset()
	p.Apply(other)
}

// Names returns the parameter names in insertion order.
func (p *ParameterSet) Names() []string {
	return slices.Clone(p.names)
}

// Range calls fn for every name in insertion order until fn returns false.
func (p *ParameterSet) Range(fn func(name string, values []float64) bool) {
	for i, name := range p.names {
		if !fn(name, p.values[i]) {
			return
		}
	}
}

// Equal reports whether both sets hold the same names with element-wise equal
// sequences. Insertion order is not compared.
func (p *ParameterSet) Equal(other *ParameterSet) bool {
	if other == nil {
		return p.Len() == 0
	}
	if p.Len() != other.Len() {
		return false
	}
	for i, name := range p.names {
		theirs, ok := other.Get(name)
		if !ok || !slices.Equal(p.values[i], theirs) {
			return false
		}
	}
	return true
}

// Reset empties the set while keeping its storage.
func (p *ParameterSet) Reset() {
	clear(p.names)
	p.names = p.names[:0]
	for i := range p.values {
		p.values[i] = p.values[i][:0]
	}
	p.values = p.values[:0]
	clear(p.index)
}

// String renders the set for logs.
func (p *ParameterSet) String() string {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, name := range p.names {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%v", name, p.values[i])
	}
	b.WriteByte('}')
	return b.String()
}

// slot returns the storage for name, creating an empty entry if needed.
// Storage left behind by Reset is reused before anything is allocated.
func (p *ParameterSet) slot(name string) *[]float64 {
	if i, ok := p.index[name]; ok {
		return &p.values[i]
	}
	if p.index == nil {
		p.index = make(map[string]int)
	}

	n := len(p.names)
	p.names = append(p.names, name)
	if n < cap(p.values) {
		p.values = p.values[:n+1]
		p.values[n] = p.values[n][:0]
	} else {
		p.values = append(p.values, nil)
	}
	p.index[name] = n
	return &p.values[n]
}

// MarshalJSON encodes the set as {"name":[...]} in insertion order.
func (p *ParameterSet) MarshalJSON() ([]byte, error) {
	return p.appendJSON(make([]byte, 0, 16*len(p.names)+2))
}

func (p *ParameterSet) appendJSON(b []byte) ([]byte, error) {
	b = append(b, '{')
	for i, name := range p.names {
		if i > 0 {
			b = append(b, ',')
		}
		key, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		b = append(b, key...)
		b = append(b, ':')

		values := p.values[i]
		if values == nil {
			values = []float64{}
		}
		enc, err := json.Marshal(values)
		if err != nil {
			return nil, errors.WrapInvalid(err, "ParameterSet", "MarshalJSON",
				fmt.Sprintf("encode parameter %q", name))
		}
		b = append(b, enc...)
	}
	return append(b, '}'), nil
}

// UnmarshalJSON decodes {"name":[...]} preserving the order names appear in
// the document. Existing contents are discarded; storage is reused.
func (p *ParameterSet) UnmarshalJSON(data []byte) error {
	p.Reset()

	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return errors.WrapInvalid(err, "ParameterSet", "UnmarshalJSON", "read object start")
	}
	if tok == nil {
		return nil
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return errors.WrapInvalid(errors.ErrInvalidData, "ParameterSet", "UnmarshalJSON",
			"expect parameter object")
	}

	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return errors.WrapInvalid(err, "ParameterSet", "UnmarshalJSON", "read parameter name")
		}
		name, ok := tok.(string)
		if !ok {
			return errors.WrapInvalid(errors.ErrInvalidData, "ParameterSet", "UnmarshalJSON",
				"expect parameter name")
		}

		slot := p.slot(name)
		// Decoding into a slice truncates it and appends, so capacity carries over.
		if err := dec.Decode(slot); err != nil {
			return errors.WrapInvalid(err, "ParameterSet", "UnmarshalJSON",
				fmt.Sprintf("decode parameter %q", name))
		}
	}

	if _, err := dec.Token(); err != nil {
		return errors.WrapInvalid(err, "ParameterSet", "UnmarshalJSON", "read object end")
	}
	return nil
}
