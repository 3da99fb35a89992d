package provider

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/ioc"
)

// DefaultTimeout bounds each provider call when the caller sets none.
const DefaultTimeout = 10 * time.Second

// ExecuteOptions tunes one fan-out.
type ExecuteOptions struct {
	// Timeout applies to each provider independently. <= 0 means DefaultTimeout.
	Timeout time.Duration
	// Options is passed through to every provider's Query.
	Options Options
	// Observer, if set, is notified once per result.
	Observer Observer
}

type callOutcome struct {
	payload  any
	err      error
	panicked bool
}

// Execute queries every descriptor concurrently and returns one Result per
// descriptor, in input order regardless of completion order.
//
// Each call gets its own deadline. Errors and panics are contained in the
// call's Result and never affect siblings. When a call times out the executor
// stops waiting for it; cancellation of the underlying call is advisory, so
// a transport that ignores ctx keeps running in the background and its late
// result is dropped. There are no retries.
func Execute(ctx context.Context, descriptors []Descriptor, value string, typ ioc.Type, opts ExecuteOptions) []Result {
	results := make([]Result, len(descriptors))
	if len(descriptors) == 0 {
		return results
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	// Slots are disjoint and written once, so no locking is needed.
	var g errgroup.Group
	for i, d := range descriptors {
		g.Go(func() error {
			results[i] = invoke(ctx, d, value, typ, timeout, opts.Options)
			if opts.Observer != nil {
				opts.Observer.ObserveResult(typ, results[i])
			}
			return nil
		})
	}
	_ = g.Wait() // outcomes are captured per slot

	return results
}

func invoke(parent context.Context, d Descriptor, value string, typ ioc.Type, timeout time.Duration, opts Options) Result {
	start := time.Now()
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	// Buffered so an abandoned call can still deliver and exit.
	done := make(chan callOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- callOutcome{err: errors.Newf("provider %s panicked: %v", d.Name, r), panicked: true}
			}
		}()
		payload, err := d.Provider.Query(ctx, value, typ, opts)
		done <- callOutcome{payload: payload, err: err}
	}()

	select {
	case out := <-done:
		elapsed := elapsedMS(start)
		switch {
		case out.err == nil:
			return successResult(d.Name, out.payload, elapsed)
		case out.panicked:
			return failureResult(d.Name, KindInternal, out.err.Error(), elapsed)
		case ctx.Err() != nil && errors.Is(out.err, context.DeadlineExceeded):
			return timeoutResult(d.Name, elapsed)
		default:
			return failureResult(d.Name, ClassifyError(out.err), out.err.Error(), elapsed)
		}

	case <-ctx.Done():
		elapsed := elapsedMS(start)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return timeoutResult(d.Name, elapsed)
		}
		return failureResult(d.Name, KindCanceled, "lookup canceled before provider responded", elapsed)
	}
}

func elapsedMS(start time.Time) int64 {
	ms := time.Since(start).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
