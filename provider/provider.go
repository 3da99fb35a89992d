// Package provider defines threat-intelligence providers, the immutable
// registry that holds them and the executor that fans a lookup out to them.
package provider

import (
	"context"

	"github.com/teranos/cyberlens/ioc"
)

// Options carries per-call settings handed to every provider's Query.
// Providers ignore keys they do not understand.
type Options map[string]any

// Provider is one external threat-intelligence source.
type Provider interface {
	// Name identifies the provider in logs, config and responses. Unique per registry.
	Name() string
	// SupportedTypes lists the indicator kinds this provider can look up.
	SupportedTypes() []ioc.Type
	// Query fetches intelligence for a single normalized indicator and returns
	// a provider-specific payload. Implementations must honor ctx cancellation
	// where their transport allows it.
	Query(ctx context.Context, value string, typ ioc.Type, opts Options) (any, error)
}

// Scored is implemented by payloads that can express a threat score in 0..100.
// ok is false when the provider has no opinion, e.g. the indicator is unknown
// to it. Verdict derivation uses it; payloads that don't implement it are neutral.
type Scored interface {
	ThreatScore() (score int, ok bool)
}

// Descriptor is a registered provider plus its capability set.
type Descriptor struct {
	Name      string
	Supported map[ioc.Type]struct{}
	Provider  Provider
}

// Supports reports whether the provider handles t.
func (d Descriptor) Supports(t ioc.Type) bool {
	_, ok := d.Supported[t]
	return ok
}

// SupportedTypes returns the capability set in classification order.
func (d Descriptor) SupportedTypes() []ioc.Type {
	out := make([]ioc.Type, 0, len(d.Supported))
	for _, t := range ioc.Types {
		if d.Supports(t) {
			out = append(out, t)
		}
	}
	return out
}

// Observer receives every per-provider result as it is recorded.
// Implementations must be safe for concurrent use.
type Observer interface {
	ObserveResult(typ ioc.Type, result Result)
}
