package message

import (
	"fmt"
	"sort"

	"github.com/c360/controlbus/errors"
)

// Range bounds a parameter's values.
type Range struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Contains reports whether v lies within the range, bounds included.
func (r Range) Contains(v float64) bool {
	return v >= r.Min && v <= r.Max
}

// Clamp limits v to the range.
func (r Range) Clamp(v float64) float64 {
	return min(max(v, r.Min), r.Max)
}

// ParameterDeclaration describes one parameter a channel carries.
type ParameterDeclaration struct {
	Identifier   string  `json:"identifier" yaml:"identifier"`
	Range        Range   `json:"range" yaml:"range"`
	DefaultValue float64 `json:"defaultValue" yaml:"defaultValue"`
}

// ChannelDeclaration describes a channel and its parameters.
type ChannelDeclaration struct {
	Identifier string                 `json:"identifier" yaml:"identifier"`
	Parameters []ParameterDeclaration `json:"parameters" yaml:"parameters"`
}

// Parameter returns the declaration for the named parameter.
func (d ChannelDeclaration) Parameter(identifier string) (ParameterDeclaration, bool) {
	for _, p := range d.Parameters {
		if p.Identifier == identifier {
			return p, true
		}
	}
	return ParameterDeclaration{}, false
}

// ApplyDefaults sets every declared parameter missing from ps to its default.
func (d ChannelDeclaration) ApplyDefaults(ps *ParameterSet) {
	for _, p := range d.Parameters {
		if !ps.Has(p.Identifier) {
			ps.Set(p.Identifier, p.DefaultValue)
		}
	}
}

// ComponentDeclaration describes a component and its channels. It is what the
// handshake sends to a freshly connected endpoint.
type ComponentDeclaration struct {
	Identifier string               `json:"identifier" yaml:"identifier"`
	Channels   []ChannelDeclaration `json:"channels" yaml:"channels"`
}

// Channel returns the declaration for the named channel.
func (d ComponentDeclaration) Channel(identifier string) (ChannelDeclaration, bool) {
	for _, c := range d.Channels {
		if c.Identifier == identifier {
			return c, true
		}
	}
	return ChannelDeclaration{}, false
}

// Validate checks identifiers are present and unique and ranges are ordered.
func (d ComponentDeclaration) Validate() error {
	if d.Identifier == "" {
		return errors.WrapInvalid(errors.ErrMissingField, "ComponentDeclaration", "Validate",
			"check component identifier")
	}

	channels := make(map[string]struct{}, len(d.Channels))
	for _, c := range d.Channels {
		if c.Identifier == "" {
			return errors.WrapInvalid(errors.ErrMissingField, "ComponentDeclaration", "Validate",
				fmt.Sprintf("check channel identifier in %s", d.Identifier))
		}
		if _, dup := channels[c.Identifier]; dup {
			return errors.WrapInvalid(errors.ErrInvalidData, "ComponentDeclaration", "Validate",
				fmt.Sprintf("check duplicate channel %s/%s", d.Identifier, c.Identifier))
		}
		channels[c.Identifier] = struct{}{}

		params := make(map[string]struct{}, len(c.Parameters))
		for _, p := range c.Parameters {
			if p.Identifier == "" {
				return errors.WrapInvalid(errors.ErrMissingField, "ComponentDeclaration", "Validate",
					fmt.Sprintf("check parameter identifier in %s/%s", d.Identifier, c.Identifier))
			}
			if _, dup := params[p.Identifier]; dup {
				return errors.WrapInvalid(errors.ErrInvalidData, "ComponentDeclaration", "Validate",
					fmt.Sprintf("check duplicate parameter %s/%s/%s", d.Identifier, c.Identifier, p.Identifier))
			}
			params[p.Identifier] = struct{}{}
			if p.Range.Min > p.Range.Max {
				return errors.WrapInvalid(errors.ErrInvalidData, "ComponentDeclaration", "Validate",
					fmt.Sprintf("check range of %s/%s/%s", d.Identifier, c.Identifier, p.Identifier))
			}
		}
	}
	return nil
}

// SortDeclarations orders components and their channels by identifier.
func SortDeclarations(decls []ComponentDeclaration) {
	sort.Slice(decls, func(i, j int) bool { return decls[i].Identifier < decls[j].Identifier })
	for _, d := range decls {
		sort.Slice(d.Channels, func(i, j int) bool { return d.Channels[i].Identifier < d.Channels[j].Identifier })
	}
}
