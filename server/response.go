package server

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"

	"github.com/teranos/cyberlens/errors"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 64 << 10

// errorBody is the JSON shape of every error response
type errorBody struct {
	Error string `json:"error"`
	Hint  string `json:"hint,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		return errors.Wrap(err, "failed to encode JSON")
	}
	return nil
}

// writeError writes a JSON error response
func writeError(w http.ResponseWriter, status int, message string) {
	_ = writeJSON(w, status, errorBody{Error: message})
}

// writeErrorFor maps an error to a status code and writes it. Server-side
// failures are logged and reported without internals.
func (s *Server) writeErrorFor(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.IsInvalidRequestError(err):
		_ = writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Hint: errors.FlattenHints(err)})
	case errors.IsNotFoundError(err):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, errors.ErrServiceUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Errorw("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

// readJSON decodes a bounded JSON request body. Unknown fields are rejected.
func readJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.NewInvalidRequestError("request body is empty")
		}
		return errors.NewInvalidRequestError("invalid request body: %v", err)
	}
	return nil
}

// queryInt parses an optional integer query parameter
func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, errors.NewInvalidRequestError("%s must be an integer, got %q", name, raw)
	}
	return v, nil
}
