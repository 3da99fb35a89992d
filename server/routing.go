package server

import (
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/metrics"
)

func (s *Server) setupRoutes(cfg *am.Config) {
	r := s.router
	r.Use(s.loggingMiddleware, s.corsMiddleware)

	r.HandleFunc("/", s.HandleHealth).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/health", s.HandleHealth).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/lookup", s.HandleLookup).Methods(http.MethodGet, http.MethodPost, http.MethodOptions)
	r.HandleFunc("/providers", s.HandleProviders).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/history", s.HandleHistory).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/analytics/summary", s.HandleAnalyticsSummary).Methods(http.MethodGet, http.MethodOptions)

	r.HandleFunc("/news", s.HandleNewsList).Methods(http.MethodGet, http.MethodOptions)
	r.HandleFunc("/news/{id}", s.HandleNewsGet).Methods(http.MethodGet, http.MethodOptions)

	if cfg.Metrics.Enabled {
		r.Handle(cfg.GetMetricsPath(), metrics.Handler()).Methods(http.MethodGet)
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
}

// requestIDHeader carries the request id to and from clients
const requestIDHeader = "X-Request-ID"

// maxRequestIDLen bounds a client-supplied request id
const maxRequestIDLen = 64

// corsMiddleware answers preflight requests and sets CORS headers for
// configured origins. "*" allows any origin.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, "+requestIDHeader)
			w.Header().Set("Access-Control-Expose-Headers", requestIDHeader)
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	allowed := s.allowedOrigins.Load()
	if allowed == nil {
		return false
	}
	return slices.Contains(*allowed, "*") || slices.Contains(*allowed, origin)
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// loggingMiddleware tags each request with an id, kept from the client when
// it sends a usable one, and logs the outcome under it.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		requestID := r.Header.Get(requestIDHeader)
		if requestID == "" || len(requestID) > maxRequestIDLen {
			requestID = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, requestID)
		r = r.WithContext(logger.WithRequestID(r.Context(), requestID))

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.Debugw("request",
			logger.FieldRequestID, requestID,
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds())
	})
}
