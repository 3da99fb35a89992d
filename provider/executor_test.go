package provider

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/ioc"
)

func descriptorsFor(t *testing.T, providers ...Provider) []Descriptor {
	t.Helper()
	reg, err := NewRegistry(providers...)
	require.NoError(t, err)
	return reg.Descriptors()
}

type recordingObserver struct {
	mu      sync.Mutex
	results []Result
}

func (o *recordingObserver) ObserveResult(_ ioc.Type, r Result) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.results = append(o.results, r)
}

func TestExecuteEmpty(t *testing.T) {
	results := Execute(context.Background(), nil, "1.2.3.4", ioc.TypeIP, ExecuteOptions{})
	assert.NotNil(t, results)
	assert.Empty(t, results)
}

func TestExecutePreservesInputOrder(t *testing.T) {
	// Completion order is the reverse of registration order.
	slow := &fakeProvider{name: "slow", types: []ioc.Type{ioc.TypeIP}, delay: 60 * time.Millisecond, data: "s"}
	mid := &fakeProvider{name: "mid", types: []ioc.Type{ioc.TypeIP}, delay: 30 * time.Millisecond, data: "m"}
	fast := &fakeProvider{name: "fast", types: []ioc.Type{ioc.TypeIP}, data: "f"}

	results := Execute(context.Background(), descriptorsFor(t, slow, mid, fast), "1.2.3.4", ioc.TypeIP, ExecuteOptions{Timeout: time.Second})

	require.Len(t, results, 3)
	assert.Equal(t, "slow", results[0].ProviderName)
	assert.Equal(t, "mid", results[1].ProviderName)
	assert.Equal(t, "fast", results[2].ProviderName)
	for _, r := range results {
		assert.Equal(t, StatusSuccess, r.Status)
		assert.Nil(t, r.Error)
	}
	assert.Equal(t, "s", results[0].Data)
}

func TestExecuteRunsConcurrently(t *testing.T) {
	const delay = 100 * time.Millisecond
	var providers []Provider
	for _, name := range []string{"a", "b", "c", "d"} {
		providers = append(providers, &fakeProvider{name: name, types: []ioc.Type{ioc.TypeURL}, delay: delay})
	}

	start := time.Now()
	results := Execute(context.Background(), descriptorsFor(t, providers...), "http://x.test", ioc.TypeURL, ExecuteOptions{Timeout: time.Second})
	elapsed := time.Since(start)

	require.Len(t, results, 4)
	assert.Less(t, elapsed, 3*delay, "calls should overlap")
}

func TestExecuteTimeoutIsBounded(t *testing.T) {
	stuck := &fakeProvider{name: "stuck", types: []ioc.Type{ioc.TypeIP}, delay: 5 * time.Second, ignoreCtx: true}
	ok := &fakeProvider{name: "ok", types: []ioc.Type{ioc.TypeIP}, data: "fine"}

	const timeout = 50 * time.Millisecond
	start := time.Now()
	results := Execute(context.Background(), descriptorsFor(t, stuck, ok), "1.2.3.4", ioc.TypeIP, ExecuteOptions{Timeout: timeout})
	elapsed := time.Since(start)

	require.Len(t, results, 2)
	assert.Equal(t, StatusTimeout, results[0].Status)
	assert.Nil(t, results[0].Data)
	assert.Nil(t, results[0].Error)
	assert.GreaterOrEqual(t, results[0].ElapsedMS, int64(0))
	assert.LessOrEqual(t, results[0].ElapsedMS, int64(timeout/time.Millisecond)+100)

	assert.Equal(t, StatusSuccess, results[1].Status)
	assert.Less(t, elapsed, time.Second, "executor must not wait for a provider that ignores ctx")
}

func TestExecuteTimeoutHonoringCtx(t *testing.T) {
	p := &fakeProvider{name: "p", types: []ioc.Type{ioc.TypeIP}, delay: time.Second}
	results := Execute(context.Background(), descriptorsFor(t, p), "1.2.3.4", ioc.TypeIP, ExecuteOptions{Timeout: 20 * time.Millisecond})
	require.Len(t, results, 1)
	assert.Equal(t, StatusTimeout, results[0].Status)
}

func TestExecuteFailureIsolation(t *testing.T) {
	failing := &fakeProvider{name: "failing", types: []ioc.Type{ioc.TypeDomain}, err: errors.Wrap(ErrRemoteRejected, "status 403")}
	good := &fakeProvider{name: "good", types: []ioc.Type{ioc.TypeDomain}, data: map[string]int{"score": 3}}

	results := Execute(context.Background(), descriptorsFor(t, failing, good), "example.com", ioc.TypeDomain, ExecuteOptions{})

	require.Len(t, results, 2)
	assert.Equal(t, StatusFailure, results[0].Status)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, KindRemoteRejected, results[0].Error.Kind)
	assert.Contains(t, results[0].Error.Message, "status 403")
	assert.Nil(t, results[0].Data)

	assert.Equal(t, StatusSuccess, results[1].Status)
	assert.Equal(t, map[string]int{"score": 3}, results[1].Data)
}

func TestExecuteRecoversPanics(t *testing.T) {
	boom := &fakeProvider{name: "boom", types: []ioc.Type{ioc.TypeHash}, panic: "nil map write"}
	good := &fakeProvider{name: "good", types: []ioc.Type{ioc.TypeHash}, data: true}

	results := Execute(context.Background(), descriptorsFor(t, boom, good), "d41d8cd98f00b204e9800998ecf8427e", ioc.TypeHash, ExecuteOptions{})

	require.Len(t, results, 2)
	assert.Equal(t, StatusFailure, results[0].Status)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, KindInternal, results[0].Error.Kind)
	assert.Contains(t, results[0].Error.Message, "panicked")
	assert.Equal(t, StatusSuccess, results[1].Status)
}

func TestExecuteParentCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := &fakeProvider{name: "p", types: []ioc.Type{ioc.TypeIP}, delay: time.Second, ignoreCtx: true}

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()
	results := Execute(ctx, descriptorsFor(t, p), "1.2.3.4", ioc.TypeIP, ExecuteOptions{Timeout: 5 * time.Second})

	require.Len(t, results, 1)
	assert.Equal(t, StatusFailure, results[0].Status)
	require.NotNil(t, results[0].Error)
	assert.Equal(t, KindCanceled, results[0].Error.Kind)
}

func TestExecutePassesValueAndNotifiesObserver(t *testing.T) {
	a := &fakeProvider{name: "a", types: []ioc.Type{ioc.TypeIP}}
	b := &fakeProvider{name: "b", types: []ioc.Type{ioc.TypeIP}, err: ErrRateLimited}
	obs := &recordingObserver{}

	Execute(context.Background(), descriptorsFor(t, a, b), "10.0.0.1", ioc.TypeIP, ExecuteOptions{Observer: obs})

	assert.Equal(t, int32(1), a.calls.Load())
	assert.Equal(t, int32(1), b.calls.Load())
	assert.Equal(t, "10.0.0.1", a.lastValue.Load())
	assert.Len(t, obs.results, 2)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"rate limited", errors.Wrap(ErrRateLimited, "429"), KindRateLimited},
		{"rejected", errors.Wrap(ErrRemoteRejected, "401"), KindRemoteRejected},
		{"malformed", errors.Wrap(ErrMalformedResponse, "bad json"), KindMalformedResponse},
		{"unsupported", errors.Wrap(ErrUnsupported, "sha1"), KindUnsupported},
		{"network sentinel", errors.Wrap(ErrNetwork, "dial"), KindNetwork},
		{"canceled", errors.Wrap(context.Canceled, "lookup"), KindCanceled},
		{"net error", &net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}, KindNetwork},
		{"other", errors.New("something odd"), KindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyError(tt.err))
		})
	}
}
