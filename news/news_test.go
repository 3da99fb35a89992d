package news

import (
	"context"
	"database/sql"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/internal/httpclient"
	lenstest "github.com/teranos/cyberlens/internal/testing"
	"github.com/teranos/cyberlens/ioc"
)

const rssFeed = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
<channel>
  <title>Threat Blog</title>
  <link>https://blog.example.org</link>
  <item>
    <title>Botnet uses 45.33.32.156 for C2</title>
    <link>https://blog.example.org/botnet</link>
    <description><![CDATA[<p>Payload <b>d41d8cd98f00b204e9800998ecf8427e</b> was served from evil-cdn.net.</p>]]></description>
    <pubDate>Mon, 02 Mar 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>Quiet week</title>
    <link>https://blog.example.org/quiet</link>
    <description>Nothing to report.</description>
    <pubDate>Sun, 01 Mar 2026 10:00:00 GMT</pubDate>
  </item>
  <item>
    <title>No link, skipped</title>
    <description>45.33.32.157</description>
  </item>
</channel>
</rss>`

type feedObserver struct {
	mu    sync.Mutex
	feeds map[string]error
}

func (o *feedObserver) ObserveFeed(feed string, err error, articles, iocs int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.feeds == nil {
		o.feeds = map[string]error{}
	}
	o.feeds[feed] = err
}

func feedServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/rss", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, rssFeed)
	})
	mux.HandleFunc("/broken", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusBadGateway)
	})
	mux.HandleFunc("/garbage", func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "this is not a feed")
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server
}

func newTestIngester(t *testing.T, db *sql.DB, server *httptest.Server, feeds []am.FeedConfig, opts ...IngesterOption) *Ingester {
	opts = append([]IngesterOption{
		WithClient(httpclient.WrapClient(server.Client())),
		WithLogger(zaptest.NewLogger(t).Sugar()),
	}, opts...)
	return NewIngester(db, feeds, opts...)
}

func TestIngesterRun(t *testing.T) {
	db := lenstest.CreateTestDB(t)
	server := feedServer(t)
	observer := &feedObserver{}

	ing := newTestIngester(t, db, server, []am.FeedConfig{
		{Name: "Threat Blog", FeedURL: server.URL + "/rss"},
		{Name: "Broken", FeedURL: server.URL + "/broken"},
		{Name: "Garbage", FeedURL: server.URL + "/garbage"},
	}, WithObserver(observer))

	stats, err := ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Stats{
		FeedsAttempted:    3,
		FeedsSucceeded:    1,
		ArticlesProcessed: 2,
		ArticlesInserted:  2,
		IOCsInserted:      3,
	}, stats)

	assert.NoError(t, observer.feeds["Threat Blog"])
	assert.Error(t, observer.feeds["Broken"])
	assert.Error(t, observer.feeds["Garbage"])

	// A second run refreshes rather than duplicates
	stats, err = ing.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, stats.ArticlesProcessed)
	assert.Equal(t, 0, stats.ArticlesInserted)
	assert.Equal(t, 0, stats.IOCsInserted)

	store := NewStore(db)
	page, err := store.List(context.Background(), 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, DefaultLimit, page.Limit)
	require.Len(t, page.Items, 2)

	first := page.Items[0]
	assert.Equal(t, "Botnet uses 45.33.32.156 for C2", first.Title)
	assert.Equal(t, "Threat Blog", first.Source.Name)
	assert.Equal(t, "https://blog.example.org", first.Source.SiteURL, "site url falls back to the feed link")
	assert.Equal(t, "Payload d41d8cd98f00b204e9800998ecf8427e was served from evil-cdn.net.", first.Summary)
	assert.Equal(t, 3, first.IOCCount)
	assert.True(t, first.PublishedAt.Equal(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)))

	detail, err := store.Get(context.Background(), first.ID)
	require.NoError(t, err)
	assert.Equal(t, []ioc.Extracted{
		{Type: ioc.TypeDomain, Value: "evil-cdn.net"},
		{Type: ioc.TypeHash, Value: "d41d8cd98f00b204e9800998ecf8427e"},
		{Type: ioc.TypeIP, Value: "45.33.32.156"},
	}, detail.IOCs)

	quiet, err := store.Get(context.Background(), page.Items[1].ID)
	require.NoError(t, err)
	assert.NotNil(t, quiet.IOCs)
	assert.Empty(t, quiet.IOCs)
}

func TestIngesterCanceled(t *testing.T) {
	db := lenstest.CreateTestDB(t)
	server := feedServer(t)
	ing := newTestIngester(t, db, server, []am.FeedConfig{{Name: "x", FeedURL: server.URL + "/rss"}})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	stats, err := ing.Run(ctx)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, 0, stats.FeedsAttempted)
}

func TestIngesterSetFeeds(t *testing.T) {
	ing := NewIngester(nil, []am.FeedConfig{{Name: "a"}})
	ing.SetFeeds([]am.FeedConfig{{Name: "b"}, {Name: "c"}})
	assert.Len(t, ing.Feeds(), 2)
	assert.Equal(t, "b", ing.Feeds()[0].Name)
}

func TestStoreGetNotFound(t *testing.T) {
	store := NewStore(lenstest.CreateTestDB(t))

	for _, id := range []string{"not-a-uuid", "", "6f1c8a57-0000-4000-8000-000000000000"} {
		_, err := store.Get(context.Background(), id)
		require.Error(t, err, id)
		assert.True(t, errors.IsNotFoundError(err), id)
	}
}

func TestStoreListBounds(t *testing.T) {
	store := NewStore(lenstest.CreateTestDB(t))

	page, err := store.List(context.Background(), 1000, -5)
	require.NoError(t, err)
	assert.Equal(t, MaxLimit, page.Limit)
	assert.Equal(t, 0, page.Offset)
	assert.NotNil(t, page.Items)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "abc…", truncate("abcdef", 3))
}

func TestSchedulerReschedule(t *testing.T) {
	ing := NewIngester(nil, nil)
	s, err := NewScheduler(ing, "0 * * * *", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer s.Stop(context.Background())

	first := s.entryID
	require.NoError(t, s.Reschedule("0 * * * *"))
	assert.Equal(t, first, s.entryID, "same spec keeps the entry")

	require.NoError(t, s.Reschedule("*/5 * * * *"))
	assert.NotEqual(t, first, s.entryID)
	assert.Len(t, s.cron.Entries(), 1)

	err = s.Reschedule("every tuesday")
	require.Error(t, err)
	assert.True(t, errors.IsConfigurationError(err))
	assert.Equal(t, "*/5 * * * *", s.spec)
}

func TestNewSchedulerRejectsBadSpec(t *testing.T) {
	_, err := NewScheduler(NewIngester(nil, nil), "nope", zaptest.NewLogger(t).Sugar())
	assert.True(t, errors.IsConfigurationError(err))
}

func TestSchedulerApplyConfigAndRun(t *testing.T) {
	db := lenstest.CreateTestDB(t)
	server := feedServer(t)
	ing := newTestIngester(t, db, server, nil)

	s, err := NewScheduler(ing, "0 0 1 1 *", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	cfg := &am.Config{}
	cfg.News.Schedule = "30 * * * *"
	cfg.News.Feeds = []am.FeedConfig{{Name: "Threat Blog", FeedURL: server.URL + "/rss"}}
	s.ApplyConfig(cfg)
	assert.Equal(t, "30 * * * *", s.spec)
	assert.Len(t, ing.Feeds(), 1)

	s.RunOnce()
	page, err := NewStore(db).List(context.Background(), 10, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)

	s.Start(true)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestSchedulerSkipsTickDuringStartupRun(t *testing.T) {
	release := make(chan struct{})
	var hits atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/slow", func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		select {
		case <-release:
		case <-r.Context().Done():
		}
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = io.WriteString(w, rssFeed)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	db := lenstest.CreateTestDB(t)
	ing := newTestIngester(t, db, server, []am.FeedConfig{{Name: "slow", FeedURL: server.URL + "/slow"}})
	s, err := NewScheduler(ing, "0 0 1 1 *", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)

	s.Start(true)
	require.Eventually(t, func() bool { return hits.Load() == 1 }, 5*time.Second, 10*time.Millisecond)

	// a tick arriving mid-run returns at once without fetching
	ticked := make(chan struct{})
	go func() {
		s.job.Run()
		close(ticked)
	}()
	select {
	case <-ticked:
	case <-time.After(5 * time.Second):
		t.Fatal("tick waited for the running ingestion")
	}
	assert.EqualValues(t, 1, hits.Load())

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.EqualValues(t, 1, hits.Load())
}

func TestIngesterStopsOnClosedDatabase(t *testing.T) {
	db := lenstest.CreateTestDB(t)
	server := feedServer(t)
	ing := newTestIngester(t, db, server, []am.FeedConfig{
		{Name: "Threat Blog", FeedURL: server.URL + "/rss"},
		{Name: "Threat Blog mirror", FeedURL: server.URL + "/rss"},
	})
	require.NoError(t, db.Close())

	stats, err := ing.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))
	assert.Equal(t, 1, stats.FeedsAttempted)
	assert.Zero(t, stats.FeedsSucceeded)

	_, err = NewStore(db).List(context.Background(), 10, 0)
	assert.True(t, errors.Is(err, errors.ErrServiceUnavailable))

	s, err := NewScheduler(ing, "0 0 1 1 *", zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	s.RunOnce()
	require.NoError(t, s.Stop(context.Background()))
}
