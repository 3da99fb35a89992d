package provider

import (
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/ioc"
)

// Registry is an ordered, read-only collection of providers.
// It is built once at startup and safe for concurrent reads.
type Registry struct {
	descriptors []Descriptor
}

// NewRegistry registers providers in the given order.
// Empty or duplicate names and empty capability sets are configuration errors.
func NewRegistry(providers ...Provider) (*Registry, error) {
	seen := make(map[string]struct{}, len(providers))
	descriptors := make([]Descriptor, 0, len(providers))

	for i, p := range providers {
		if p == nil {
			return nil, errors.NewConfigurationError("provider at position %d is nil", i)
		}
		name := p.Name()
		if name == "" {
			return nil, errors.NewConfigurationError("provider at position %d has no name", i)
		}
		if _, dup := seen[name]; dup {
			return nil, errors.NewConfigurationError("duplicate provider name %q", name)
		}
		seen[name] = struct{}{}

		supported := make(map[ioc.Type]struct{})
		for _, t := range p.SupportedTypes() {
			if !t.Valid() {
				return nil, errors.NewConfigurationError("provider %q declares unknown type %q", name, string(t))
			}
			supported[t] = struct{}{}
		}
		if len(supported) == 0 {
			return nil, errors.NewConfigurationError("provider %q supports no indicator types", name)
		}

		descriptors = append(descriptors, Descriptor{Name: name, Supported: supported, Provider: p})
	}

	return &Registry{descriptors: descriptors}, nil
}

// ProvidersFor returns the providers that handle t, in registration order.
// The result may be empty; it is never an error.
func (r *Registry) ProvidersFor(t ioc.Type) []Descriptor {
	if r == nil || !t.Valid() {
		return nil
	}
	var out []Descriptor
	for _, d := range r.descriptors {
		if d.Supports(t) {
			out = append(out, d)
		}
	}
	return out
}

// Descriptors returns a copy of every registered descriptor.
func (r *Registry) Descriptors() []Descriptor {
	if r == nil {
		return nil
	}
	return append([]Descriptor(nil), r.descriptors...)
}

// Names returns provider names in registration order.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	names := make([]string, len(r.descriptors))
	for i, d := range r.descriptors {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of registered providers.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.descriptors)
}
