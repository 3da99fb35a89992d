// Package orchestrator is the lookup entry point: it classifies a raw
// indicator, fans it out to the capable providers and assembles one response.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/provider"
)

// Orchestrator runs lookups against an immutable provider registry.
// It is safe for concurrent use.
type Orchestrator struct {
	registry *provider.Registry
	timeout  time.Duration
	observer provider.Observer
	logger   *zap.SugaredLogger
	now      func() time.Time
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithTimeout sets the default per-provider timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Orchestrator) {
		if d > 0 {
			o.timeout = d
		}
	}
}

// WithLogger sets the logger used for lookup diagnostics.
func WithLogger(l *zap.SugaredLogger) Option {
	return func(o *Orchestrator) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithObserver attaches an observer that sees every provider result.
func WithObserver(obs provider.Observer) Option {
	return func(o *Orchestrator) { o.observer = obs }
}

// WithClock overrides the wall clock used for meta.executedAt.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// New returns an orchestrator over reg. A nil registry behaves as empty.
func New(reg *provider.Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: reg,
		timeout:  provider.DefaultTimeout,
		logger:   logger.ComponentLogger("orchestrator"),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Options are per-lookup settings.
type Options struct {
	// AssertedType is the caller's claim about the indicator kind. Optional.
	AssertedType ioc.Type
	// ProviderOptions is passed through to every provider.
	ProviderOptions provider.Options
	// Timeout overrides the default per-provider timeout for this lookup.
	Timeout time.Duration
}

// Registry returns the registry the orchestrator dispatches to.
func (o *Orchestrator) Registry() *provider.Registry {
	return o.registry
}

// DefaultTimeout returns the per-provider timeout used when a lookup sets none.
func (o *Orchestrator) DefaultTimeout() time.Duration {
	return o.timeout
}

// Orchestrate performs one lookup. It never fails: provider problems are
// reported inside Response.Providers, and an unclassifiable input returns a
// response with no detected type and no provider results.
func (o *Orchestrator) Orchestrate(ctx context.Context, raw string, opts Options) *Response {
	start := time.Now()
	executedAt := o.now().UTC()
	log := logger.FromContext(ctx, o.logger)

	classified := ioc.Classify(raw)
	validation := ioc.Validate(classified, opts.AssertedType)
	if !validation.IsValid {
		log.Debugw("asserted type does not match detected type",
			logger.FieldAsserted, opts.AssertedType.String(),
			logger.FieldIOCType, classified.Type.String())
	}

	resp := &Response{
		IOC:          raw,
		DetectedType: classified.Type,
		Validation:   validation,
		Providers:    []provider.Result{},
		Meta:         Meta{ExecutedAt: executedAt},
	}

	if !classified.Detected() {
		log.Debugw("input not classified, skipping providers")
		resp.Meta.ExecutionTimeMS = time.Since(start).Milliseconds()
		return resp
	}

	resp.Meta.Detected = &Detected{IPVersion: classified.IPVersion}
	resp.classified = classified

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = o.timeout
	}

	descriptors := o.registry.ProvidersFor(classified.Type)
	if len(descriptors) > 0 {
		resp.Providers = provider.Execute(ctx, descriptors, classified.Normalized, classified.Type, provider.ExecuteOptions{
			Timeout:  timeout,
			Options:  opts.ProviderOptions,
			Observer: o.observer,
		})
	}

	resp.Meta.ExecutionTimeMS = time.Since(start).Milliseconds()

	log.Debugw("lookup complete",
		logger.FieldIOCType, classified.Type.String(),
		logger.FieldProviders, len(resp.Providers),
		logger.FieldDurationMS, resp.Meta.ExecutionTimeMS,
		logger.FieldTimeoutMS, timeout.Milliseconds())

	return resp
}
