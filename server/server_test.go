package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/history"
	lenstest "github.com/teranos/cyberlens/internal/testing"
	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/news"
	"github.com/teranos/cyberlens/orchestrator"
	"github.com/teranos/cyberlens/provider"
)

type scoredPayload struct {
	Score int `json:"score"`
}

func (p scoredPayload) ThreatScore() (int, bool) { return p.Score, true }

type stubProvider struct {
	name  string
	types []ioc.Type
	data  any
	err   error
}

func (s *stubProvider) Name() string               { return s.name }
func (s *stubProvider) SupportedTypes() []ioc.Type { return s.types }

func (s *stubProvider) Query(_ context.Context, _ string, _ ioc.Type, _ provider.Options) (any, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

type testEnv struct {
	server  *Server
	history *history.Store
	config  *am.Config
	db      *sql.DB
}

func newTestEnv(t *testing.T, withStores bool) *testEnv {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()

	reg, err := provider.NewRegistry(
		&stubProvider{name: "alpha", types: []ioc.Type{ioc.TypeIP, ioc.TypeDomain}, data: scoredPayload{Score: 85}},
		&stubProvider{name: "beta", types: []ioc.Type{ioc.TypeIP}, err: provider.ErrRateLimited},
		&stubProvider{name: "gamma", types: []ioc.Type{ioc.TypeHash}, data: map[string]string{"seen": "no"}},
	)
	require.NoError(t, err)

	cfg := am.DefaultConfig()
	cfg.Lookup.RecordHistory = true
	cfg.Server.AllowedOrigins = []string{"http://localhost:5173"}
	cfg.Metrics.Enabled = true

	deps := Deps{
		Orchestrator: orchestrator.New(reg, orchestrator.WithLogger(log), orchestrator.WithTimeout(2*time.Second)),
		Config:       cfg,
		Logger:       log,
	}
	env := &testEnv{config: cfg}
	if withStores {
		env.db = lenstest.CreateTestDB(t)
		env.history = history.NewStore(env.db, log)
		deps.History = env.history
		deps.News = news.NewStore(env.db)
	}

	env.server, err = New(deps)
	require.NoError(t, err)
	return env
}

func (e *testEnv) do(t *testing.T, method, target, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestNewRequiresOrchestrator(t *testing.T) {
	_, err := New(Deps{})
	require.Error(t, err)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	env.server.setState(ServerStateDraining)
	rec = env.do(t, http.MethodGet, "/", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "draining", decode[map[string]string](t, rec)["status"])
}

func TestLookupGet(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/lookup?ioc=8.8.8.8", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[orchestrator.Response](t, rec)
	assert.Equal(t, "8.8.8.8", resp.IOC)
	assert.Equal(t, ioc.TypeIP, resp.DetectedType)
	assert.True(t, resp.Validation.IsValid)
	require.NotNil(t, resp.Meta.Detected)
	assert.Equal(t, 4, resp.Meta.Detected.IPVersion)

	require.Len(t, resp.Providers, 2)
	assert.Equal(t, "alpha", resp.Providers[0].ProviderName)
	assert.Equal(t, provider.StatusSuccess, resp.Providers[0].Status)
	assert.Equal(t, "beta", resp.Providers[1].ProviderName)
	assert.Equal(t, provider.StatusFailure, resp.Providers[1].Status)
	require.NotNil(t, resp.Providers[1].Error)
	assert.Equal(t, provider.KindRateLimited, resp.Providers[1].Error.Kind)
}

func TestLookupPost(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodPost, "/lookup", `{"ioc":"example.com","type":"ip","timeoutMs":500}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[orchestrator.Response](t, rec)
	assert.Equal(t, ioc.TypeDomain, resp.DetectedType)
	assert.False(t, resp.Validation.IsValid)
	assert.Equal(t, ioc.TypeIP, resp.Validation.UserSelectedType)
	require.Len(t, resp.Providers, 1)
	assert.Equal(t, "alpha", resp.Providers[0].ProviderName)
}

func TestLookupUnclassifiedStillAnswers(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/lookup?ioc=not+an+indicator", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[orchestrator.Response](t, rec)
	assert.Equal(t, ioc.TypeNone, resp.DetectedType)
	assert.Empty(t, resp.Providers)
	assert.Nil(t, resp.Meta.Detected)

	page, err := env.history.Query(context.Background(), history.Query{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestLookupBadRequests(t *testing.T) {
	env := newTestEnv(t, false)

	tests := []struct {
		name   string
		method string
		target string
		body   string
	}{
		{"missing ioc", http.MethodGet, "/lookup", ""},
		{"blank ioc", http.MethodGet, "/lookup?ioc=%20%20", ""},
		{"unknown type", http.MethodGet, "/lookup?ioc=8.8.8.8&type=email", ""},
		{"non-numeric timeout", http.MethodGet, "/lookup?ioc=8.8.8.8&timeoutMs=soon", ""},
		{"negative timeout", http.MethodPost, "/lookup", `{"ioc":"8.8.8.8","timeoutMs":-1}`},
		{"timeout too large", http.MethodPost, "/lookup", `{"ioc":"8.8.8.8","timeoutMs":600000}`},
		{"empty body", http.MethodPost, "/lookup", ""},
		{"malformed body", http.MethodPost, "/lookup", `{"ioc":`},
		{"unknown field", http.MethodPost, "/lookup", `{"ioc":"8.8.8.8","verbose":true}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, tt.method, tt.target, tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
			assert.NotEmpty(t, decode[map[string]string](t, rec)["error"])
		})
	}
}

func TestLookupRecordsHistory(t *testing.T) {
	env := newTestEnv(t, true)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/lookup?ioc=8.8.8.8", "").Code)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/lookup?ioc=d41d8cd98f00b204e9800998ecf8427e", "").Code)

	rec := env.do(t, http.MethodGet, "/history?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[history.Page](t, rec)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, 10, page.Limit)
	require.Len(t, page.Items, 2)

	byValue := map[string]history.Entry{}
	for _, e := range page.Items {
		byValue[e.Value] = e
	}
	assert.Equal(t, history.VerdictMalicious, byValue["8.8.8.8"].Verdict)
	assert.Equal(t, 1, byValue["8.8.8.8"].ProvidersFailed)
	assert.Equal(t, history.VerdictUnknown, byValue["d41d8cd98f00b204e9800998ecf8427e"].Verdict)

	rec = env.do(t, http.MethodGet, "/history?search=8.8.8", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[history.Page](t, rec).Total)

	rec = env.do(t, http.MethodGet, "/analytics/summary?recent=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summary := decode[history.Summary](t, rec)
	assert.Equal(t, 2, summary.TotalLookups)
	assert.Equal(t, 2, summary.UniqueIOCs)
	assert.Len(t, summary.Recent, 1)
}

func TestApplyConfigDisablesHistory(t *testing.T) {
	env := newTestEnv(t, true)

	cfg := *env.config
	cfg.Lookup.RecordHistory = false
	env.server.ApplyConfig(&cfg)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/lookup?ioc=8.8.8.8", "").Code)

	page, err := env.history.Query(context.Background(), history.Query{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)
}

func TestHistoryInvalidPaging(t *testing.T) {
	env := newTestEnv(t, true)
	rec := env.do(t, http.MethodGet, "/history?offset=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStoresUnavailable(t *testing.T) {
	env := newTestEnv(t, false)

	for _, target := range []string{"/history", "/analytics/summary", "/news", "/news/abc"} {
		rec := env.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
	}
}

func TestStoresAfterDatabaseClosed(t *testing.T) {
	env := newTestEnv(t, true)
	require.NoError(t, env.db.Close())

	for _, target := range []string{"/history", "/analytics/summary", "/news"} {
		rec := env.do(t, http.MethodGet, target, "")
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, target)
		assert.NotContains(t, rec.Body.String(), "internal server error", target)
	}

	// recording fails quietly; the lookup itself still answers
	rec := env.do(t, http.MethodGet, "/lookup?ioc=8.8.8.8", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestProviders(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/providers", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Providers []ProviderInfo `json:"providers"`
		TimeoutMS int64          `json:"timeoutMs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, int64(2000), body.TimeoutMS)
	require.Len(t, body.Providers, 3)
	assert.Equal(t, "alpha", body.Providers[0].Name)
	assert.Equal(t, []ioc.Type{ioc.TypeIP, ioc.TypeDomain}, body.Providers[0].SupportedTypes)
	assert.Equal(t, []ioc.Type{ioc.TypeHash}, body.Providers[2].SupportedTypes)
}

func TestNewsEndpoints(t *testing.T) {
	env := newTestEnv(t, true)

	rec := env.do(t, http.MethodGet, "/news?limit=5", "")
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[news.ArticlePage](t, rec)
	assert.Zero(t, page.Total)
	assert.Equal(t, 5, page.Limit)

	rec = env.do(t, http.MethodGet, "/news/3f1c1b9e-0d8a-4c57-9a57-1f1f5b0b6a11", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/news/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodOptions, "/lookup", "", "Origin", "http://localhost:5173")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Contains(t, rec.Header().Get("Access-Control-Allow-Methods"), http.MethodPost)

	rec = env.do(t, http.MethodGet, "/health", "", "Origin", "http://evil.example")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	cfg := *env.config
	cfg.Server.AllowedOrigins = []string{"*"}
	env.server.ApplyConfig(&cfg)

	rec = env.do(t, http.MethodGet, "/health", "", "Origin", "http://evil.example")
	assert.Equal(t, "http://evil.example", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/health", "")
	_, err := uuid.Parse(rec.Header().Get("X-Request-ID"))
	assert.NoError(t, err)

	rec = env.do(t, http.MethodGet, "/health", "", "X-Request-ID", "trace-42")
	assert.Equal(t, "trace-42", rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodGet, "/health", "", "X-Request-ID", strings.Repeat("x", 100))
	assert.Len(t, rec.Header().Get("X-Request-ID"), 36)

	var fields []interface{}
	handler := env.server.loggingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fields = logger.FieldsFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/lookup?ioc=8.8.8.8", nil)
	req.Header.Set("X-Request-ID", "trace-43")
	handler.ServeHTTP(httptest.NewRecorder(), req)
	assert.Equal(t, []interface{}{logger.FieldRequestID, "trace-43"}, fields)
}

func TestRoutingErrors(t *testing.T) {
	env := newTestEnv(t, false)

	rec := env.do(t, http.MethodGet, "/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not found", decode[map[string]string](t, rec)["error"])

	rec = env.do(t, http.MethodDelete, "/lookup", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, false)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/lookup?ioc=8.8.8.8", "").Code)

	rec := env.do(t, http.MethodGet, env.config.GetMetricsPath(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "cyberlens_lookups_total")
}

func TestServeShutsDownOnCancel(t *testing.T) {
	env := newTestEnv(t, false)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.server.Serve(ctx, ln) }()

	url := "http://" + ln.Addr().String() + "/health"
	require.Eventually(t, func() bool {
		resp, err := http.Get(url)
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	assert.Equal(t, ServerStateStopped, env.server.getState())
}
