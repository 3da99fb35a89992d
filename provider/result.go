package provider

import (
	"context"
	"net"

	"github.com/teranos/cyberlens/errors"
)

// Status is the outcome discriminant of one provider call.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
	StatusTimeout Status = "timeout"
)

// ErrorKind is the coarse category of a provider failure.
type ErrorKind string

const (
	KindNetwork           ErrorKind = "network"
	KindRemoteRejected    ErrorKind = "remote_rejected"
	KindRateLimited       ErrorKind = "rate_limited"
	KindMalformedResponse ErrorKind = "malformed_response"
	KindUnsupported       ErrorKind = "unsupported"
	KindCanceled          ErrorKind = "canceled"
	KindInternal          ErrorKind = "internal"
)

// Sentinels that provider implementations wrap so the executor can
// categorize failures with errors.Is.
var (
	ErrNetwork           = errors.New("provider network error")
	ErrRemoteRejected    = errors.New("provider rejected request")
	ErrRateLimited       = errors.New("provider rate limit exceeded")
	ErrMalformedResponse = errors.New("malformed provider response")
	ErrUnsupported       = errors.New("indicator not supported by provider")
)

// Failure describes a failed provider call.
type Failure struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// Result is the outcome of one provider call within one lookup.
// Exactly one of the success, failure and timeout shapes is populated:
// Data only on success, Error only on failure, neither on timeout.
type Result struct {
	ProviderName string   `json:"providerName"`
	Status       Status   `json:"status"`
	Data         any      `json:"data,omitempty"`
	Error        *Failure `json:"error,omitempty"`
	ElapsedMS    int64    `json:"elapsedMs"`
}

func successResult(name string, data any, elapsedMS int64) Result {
	return Result{ProviderName: name, Status: StatusSuccess, Data: data, ElapsedMS: elapsedMS}
}

func failureResult(name string, kind ErrorKind, message string, elapsedMS int64) Result {
	return Result{
		ProviderName: name,
		Status:       StatusFailure,
		Error:        &Failure{Kind: kind, Message: message},
		ElapsedMS:    elapsedMS,
	}
}

func timeoutResult(name string, elapsedMS int64) Result {
	return Result{ProviderName: name, Status: StatusTimeout, ElapsedMS: elapsedMS}
}

// ClassifyError maps an arbitrary provider error to its coarse kind.
func ClassifyError(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrRemoteRejected):
		return KindRemoteRejected
	case errors.Is(err, ErrMalformedResponse):
		return KindMalformedResponse
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrNetwork):
		return KindNetwork
	case errors.Is(err, context.Canceled):
		return KindCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	return KindInternal
}
