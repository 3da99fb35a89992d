// Package sources implements the threat-intelligence providers CyberLens
// queries: VirusTotal, AbuseIPDB, URLhaus and AlienVault OTX.
package sources

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/internal/httpclient"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/provider"
)

// maxResponseBytes caps how much of a provider response is read
const maxResponseBytes = 4 << 20

// Config is what every provider needs to talk to its API
type Config struct {
	APIKey            string
	BaseURL           string
	RequestsPerMinute int // 0 = unlimited
	Client            *httpclient.SaferClient
	Logger            *zap.SugaredLogger
}

// httpSource holds the transport shared by all providers
type httpSource struct {
	name    string
	apiKey  string
	baseURL string
	client  *httpclient.SaferClient
	limiter *rate.Limiter
	logger  *zap.SugaredLogger
}

func newHTTPSource(name, defaultBaseURL string, cfg Config) httpSource {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}

	client := cfg.Client
	if client == nil {
		client = httpclient.NewSaferClient(30 * time.Second)
	}

	log := cfg.Logger
	if log == nil {
		log = logger.ComponentLogger("sources." + name)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.RequestsPerMinute)), 1)
	}

	return httpSource{
		name:    name,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		client:  client,
		limiter: limiter,
		logger:  log,
	}
}

// do sends req and decodes a 2xx JSON body into out. When notFoundOK is set
// a 404 is reported as found=false instead of an error.
func (s *httpSource) do(ctx context.Context, req *http.Request, out any, notFoundOK bool) (found bool, err error) {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			if ctx.Err() != nil {
				return false, errors.WithStack(ctx.Err())
			}
			// Waiting would outlive the deadline
			return false, errors.Wrapf(provider.ErrRateLimited, "%s local request budget exhausted", s.name)
		}
	}

	req.Header.Set("Accept", "application/json")
	start := time.Now()

	resp, err := s.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return false, errors.WithStack(ctx.Err())
		}
		return false, errors.Mark(errors.Wrapf(err, "%s request failed", s.name), provider.ErrNetwork)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		if ctx.Err() != nil {
			return false, errors.WithStack(ctx.Err())
		}
		return false, errors.Mark(errors.Wrapf(err, "%s read response", s.name), provider.ErrNetwork)
	}

	s.logger.Debugw("provider response",
		logger.FieldProvider, s.name,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	switch {
	case resp.StatusCode == http.StatusNotFound && notFoundOK:
		return false, nil
	case resp.StatusCode == http.StatusTooManyRequests:
		return false, errors.Wrapf(provider.ErrRateLimited, "%s returned 429", s.name)
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		return false, errors.Wrapf(provider.ErrRemoteRejected, "%s returned %d: %s", s.name, resp.StatusCode, snippet(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return false, errors.Mark(errors.Wrapf(err, "%s response is not valid JSON", s.name), provider.ErrMalformedResponse)
	}
	return true, nil
}

// newRequest builds a request against the provider's base URL
func (s *httpSource) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, errors.Wrapf(err, "%s build request", s.name)
	}
	return req, nil
}

// snippet trims an error body for inclusion in messages
func snippet(body []byte) string {
	const limit = 200
	s := strings.TrimSpace(string(body))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}

func clampScore(score int) int {
	switch {
	case score < 0:
		return 0
	case score > 100:
		return 100
	}
	return score
}
