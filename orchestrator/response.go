package orchestrator

import (
	"time"

	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/provider"
)

// Response is the aggregate result of one lookup.
type Response struct {
	// IOC is the caller's input, verbatim.
	IOC          string            `json:"ioc"`
	DetectedType ioc.Type          `json:"detectedType"`
	Validation   ioc.Validation    `json:"validation"`
	Providers    []provider.Result `json:"providers"`
	Meta         Meta              `json:"meta"`

	classified ioc.Classified
}

// Meta carries timing and classification details.
type Meta struct {
	ExecutedAt      time.Time `json:"executedAt"`
	ExecutionTimeMS int64     `json:"executionTimeMs"`
	Detected        *Detected `json:"detected"`
}

// Detected is present only when classification succeeded.
type Detected struct {
	IPVersion int `json:"ipVersion,omitempty"`
}

// Classified returns the classification the lookup was based on.
func (r *Response) Classified() ioc.Classified {
	if r.classified.Raw == "" && r.DetectedType != ioc.TypeNone {
		return ioc.Classify(r.IOC)
	}
	return r.classified
}

// Counts tallies provider outcomes.
func (r *Response) Counts() (succeeded, failed, timedOut int) {
	for _, p := range r.Providers {
		switch p.Status {
		case provider.StatusSuccess:
			succeeded++
		case provider.StatusFailure:
			failed++
		case provider.StatusTimeout:
			timedOut++
		}
	}
	return succeeded, failed, timedOut
}
