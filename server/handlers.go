package server

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/teranos/cyberlens/db"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/history"
	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/metrics"
	"github.com/teranos/cyberlens/orchestrator"
)

// maxTimeoutMS caps the per-provider timeout a caller may request
const maxTimeoutMS = 60_000

// LookupRequest is the POST /lookup body
type LookupRequest struct {
	IOC       string `json:"ioc"`
	Type      string `json:"type,omitempty"`
	TimeoutMS int    `json:"timeoutMs,omitempty"`
}

// ProviderInfo describes one registered provider
type ProviderInfo struct {
	Name           string     `json:"name"`
	SupportedTypes []ioc.Type `json:"supportedTypes"`
}

// HandleHealth reports liveness; a draining server answers 503
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if state := s.getState(); state == ServerStateDraining || state == ServerStateStopped {
		_ = writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": state.String()})
		return
	}
	_ = writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleLookup runs one lookup. GET takes ioc, type and timeoutMs query
// parameters; POST takes a LookupRequest body.
func (s *Server) HandleLookup(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	if r.Method == http.MethodPost {
		if err := readJSON(w, r, &req); err != nil {
			s.writeErrorFor(w, r, err)
			return
		}
	} else {
		q := r.URL.Query()
		req.IOC = q.Get("ioc")
		req.Type = q.Get("type")
		timeout, err := queryInt(r, "timeoutMs", 0)
		if err != nil {
			s.writeErrorFor(w, r, err)
			return
		}
		req.TimeoutMS = timeout
	}

	opts, err := req.options()
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}

	ctx := logger.WithComponent(r.Context(), "lookup")
	resp := s.orch.Orchestrate(ctx, req.IOC, opts)
	metrics.ObserveLookup(resp.DetectedType, resp.Meta.ExecutionTimeMS)

	s.record(r, resp)

	_ = writeJSON(w, http.StatusOK, resp)
}

// options validates the request and converts it to orchestrator options
func (req LookupRequest) options() (orchestrator.Options, error) {
	if strings.TrimSpace(req.IOC) == "" {
		return orchestrator.Options{}, errors.NewInvalidRequestError("ioc is required")
	}
	asserted, err := ioc.ParseType(req.Type)
	if err != nil {
		return orchestrator.Options{}, err
	}
	if req.TimeoutMS < 0 || req.TimeoutMS > maxTimeoutMS {
		return orchestrator.Options{}, errors.NewInvalidRequestError("timeoutMs must be between 0 and %d", maxTimeoutMS)
	}
	return orchestrator.Options{
		AssertedType: asserted,
		Timeout:      time.Duration(req.TimeoutMS) * time.Millisecond,
	}, nil
}

// record stores the lookup in history. Failures never fail the lookup.
func (s *Server) record(r *http.Request, resp *orchestrator.Response) {
	if s.history == nil || !s.recordHistory.Load() {
		return
	}
	entry, err := s.history.Record(r.Context(), resp)
	if db.IsDatabaseClosed(err) {
		s.logger.Debugw("lookup history not recorded, database closed")
		return
	}
	if err != nil {
		s.logger.Warnw("failed to record lookup history",
			logger.FieldIOCType, resp.DetectedType.String(),
			logger.FieldError, err)
		return
	}
	if entry != nil {
		metrics.ObserveVerdict(entry.Verdict)
	}
}

// HandleProviders lists registered providers and their capabilities
func (s *Server) HandleProviders(w http.ResponseWriter, r *http.Request) {
	descriptors := s.orch.Registry().Descriptors()
	out := make([]ProviderInfo, 0, len(descriptors))
	for _, d := range descriptors {
		out = append(out, ProviderInfo{Name: d.Name, SupportedTypes: d.SupportedTypes()})
	}
	_ = writeJSON(w, http.StatusOK, map[string]any{
		"providers": out,
		"timeoutMs": s.orch.DefaultTimeout().Milliseconds(),
	})
}

// HandleHistory pages through recorded lookups
func (s *Server) HandleHistory(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeErrorFor(w, r, errors.Wrap(errors.ErrServiceUnavailable, "history is not available"))
		return
	}

	limit, err := queryInt(r, "limit", history.DefaultLimit)
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}

	page, err := s.history.Query(r.Context(), history.Query{
		Limit:  limit,
		Offset: offset,
		Search: r.URL.Query().Get("search"),
	})
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, page)
}

// HandleAnalyticsSummary aggregates history for the analytics view
func (s *Server) HandleAnalyticsSummary(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		s.writeErrorFor(w, r, errors.Wrap(errors.ErrServiceUnavailable, "history is not available"))
		return
	}

	recent, err := queryInt(r, "recent", history.DefaultRecent)
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}

	summary, err := s.history.Summary(r.Context(), recent)
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, summary)
}

// HandleNewsList pages through ingested articles
func (s *Server) HandleNewsList(w http.ResponseWriter, r *http.Request) {
	if s.news == nil {
		s.writeErrorFor(w, r, errors.Wrap(errors.ErrServiceUnavailable, "news is not available"))
		return
	}

	limit, err := queryInt(r, "limit", 0)
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}

	page, err := s.news.List(r.Context(), limit, offset)
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, page)
}

// HandleNewsGet returns one article with its indicators
func (s *Server) HandleNewsGet(w http.ResponseWriter, r *http.Request) {
	if s.news == nil {
		s.writeErrorFor(w, r, errors.Wrap(errors.ErrServiceUnavailable, "news is not available"))
		return
	}

	article, err := s.news.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		s.writeErrorFor(w, r, err)
		return
	}
	_ = writeJSON(w, http.StatusOK, article)
}
