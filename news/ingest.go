package news

import (
	"context"
	"database/sql"
	"strings"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/db"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/internal/httpclient"
	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/logger"
)

const (
	// fetchTimeout bounds one feed download
	fetchTimeout = 30 * time.Second

	// maxSummaryRunes bounds summaries derived from full article content
	maxSummaryRunes = 500
)

// Stats summarizes one ingestion run
type Stats struct {
	FeedsAttempted    int `json:"feedsAttempted"`
	FeedsSucceeded    int `json:"feedsSucceeded"`
	ArticlesProcessed int `json:"articlesProcessed"`
	ArticlesInserted  int `json:"articlesInserted"`
	IOCsInserted      int `json:"iocsInserted"`
}

// FeedObserver is told how each feed went. Implementations must be safe for
// concurrent use.
type FeedObserver interface {
	ObserveFeed(feed string, err error, articles, iocs int)
}

// Ingester fetches configured feeds and stores their articles and indicators
type Ingester struct {
	db       *sql.DB
	client   *httpclient.SaferClient
	logger   *zap.SugaredLogger
	observer FeedObserver
	now      func() time.Time

	mu    sync.RWMutex
	feeds []am.FeedConfig
}

// IngesterOption customizes an Ingester
type IngesterOption func(*Ingester)

// WithClient overrides the HTTP client used to fetch feeds
func WithClient(client *httpclient.SaferClient) IngesterOption {
	return func(i *Ingester) { i.client = client }
}

// WithLogger overrides the ingester logger
func WithLogger(log *zap.SugaredLogger) IngesterOption {
	return func(i *Ingester) { i.logger = log }
}

// WithObserver reports per-feed outcomes, e.g. to metrics
func WithObserver(o FeedObserver) IngesterOption {
	return func(i *Ingester) { i.observer = o }
}

// NewIngester creates an ingester for the given feeds
func NewIngester(db *sql.DB, feeds []am.FeedConfig, opts ...IngesterOption) *Ingester {
	i := &Ingester{
		db:    db,
		feeds: append([]am.FeedConfig(nil), feeds...),
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.client == nil {
		i.client = httpclient.NewSaferClient(fetchTimeout)
	}
	if i.logger == nil {
		i.logger = logger.ComponentLogger("news")
	}
	return i
}

// SetFeeds replaces the feed list used by subsequent runs
func (i *Ingester) SetFeeds(feeds []am.FeedConfig) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.feeds = append([]am.FeedConfig(nil), feeds...)
}

// Feeds returns the current feed list
func (i *Ingester) Feeds() []am.FeedConfig {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return append([]am.FeedConfig(nil), i.feeds...)
}

// Run ingests every configured feed once. A failing feed is logged and
// skipped. Run stops with an error when ctx is done or the database has
// been closed.
func (i *Ingester) Run(ctx context.Context) (Stats, error) {
	var stats Stats
	start := i.now()

	for _, feed := range i.Feeds() {
		if err := ctx.Err(); err != nil {
			return stats, errors.WithStack(err)
		}
		stats.FeedsAttempted++

		articles, inserted, iocs, err := i.ingestFeed(ctx, feed)
		if i.observer != nil {
			i.observer.ObserveFeed(feed.Name, err, articles, iocs)
		}
		if db.IsDatabaseClosed(err) {
			return stats, err
		}
		if err != nil {
			i.logger.Warnw("feed ingestion failed",
				logger.FieldFeed, feed.Name,
				logger.FieldFeedURL, feed.FeedURL,
				logger.FieldError, err)
			continue
		}

		stats.FeedsSucceeded++
		stats.ArticlesProcessed += articles
		stats.ArticlesInserted += inserted
		stats.IOCsInserted += iocs
	}

	i.logger.Infow("news ingestion finished",
		"feeds_attempted", stats.FeedsAttempted,
		"feeds_succeeded", stats.FeedsSucceeded,
		"articles_processed", stats.ArticlesProcessed,
		"articles_inserted", stats.ArticlesInserted,
		"iocs_inserted", stats.IOCsInserted,
		logger.FieldDurationMS, i.now().Sub(start).Milliseconds())
	return stats, nil
}

// ingestFeed stores one feed in a single transaction
func (i *Ingester) ingestFeed(ctx context.Context, feed am.FeedConfig) (articles, inserted, iocs int, err error) {
	parsed, err := i.fetch(ctx, feed.FeedURL)
	if err != nil {
		return 0, 0, 0, err
	}

	name := feed.Name
	if name == "" {
		name = strings.TrimSpace(parsed.Title)
	}
	if name == "" {
		name = feed.FeedURL
	}
	siteURL := feed.SiteURL
	if siteURL == "" {
		siteURL = parsed.Link
	}

	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, 0, db.WrapError(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	sourceID, err := upsertSource(ctx, tx, name, feed.FeedURL, siteURL)
	if err != nil {
		return 0, 0, 0, err
	}

	for _, raw := range parsed.Items {
		item, ok := toFeedItem(raw, i.now())
		if !ok {
			continue
		}
		articles++

		id, created, err := upsertArticle(ctx, tx, sourceID, item)
		if err != nil {
			return 0, 0, 0, err
		}
		if created {
			inserted++
		}

		n, err := insertIOCs(ctx, tx, id, ioc.ExtractIOCs(item.Title+"\n"+item.Text))
		if err != nil {
			return 0, 0, 0, err
		}
		iocs += n
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, 0, db.WrapError(err, "failed to commit feed")
	}

	i.logger.Debugw("feed ingested",
		logger.FieldFeed, name,
		"articles", articles,
		"inserted", inserted,
		"iocs", iocs)
	return articles, inserted, iocs, nil
}

func (i *Ingester) fetch(ctx context.Context, feedURL string) (*gofeed.Feed, error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	resp, err := i.client.Get(ctx, feedURL)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", feedURL)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errors.Newf("feed %s returned %d", feedURL, resp.StatusCode)
	}

	parsed, err := gofeed.NewParser().Parse(resp.Body)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to parse feed %s", feedURL)
	}
	return parsed, nil
}

// feedItem is the normalized form of a parsed feed entry
type feedItem struct {
	Title       string
	URL         string
	Summary     string
	Text        string // everything indicators are extracted from
	PublishedAt time.Time
}

// toFeedItem normalizes an entry. Items without a link cannot be keyed and
// are skipped.
func toFeedItem(item *gofeed.Item, now time.Time) (feedItem, bool) {
	if item == nil {
		return feedItem{}, false
	}
	link := strings.TrimSpace(item.Link)
	if link == "" {
		return feedItem{}, false
	}

	title := strings.TrimSpace(item.Title)
	if title == "" {
		title = link
	}

	summary := plainText(item.Description)
	if summary == "" {
		summary = truncate(plainText(item.Content), maxSummaryRunes)
	}

	published := now
	switch {
	case item.PublishedParsed != nil:
		published = *item.PublishedParsed
	case item.UpdatedParsed != nil:
		published = *item.UpdatedParsed
	}

	return feedItem{
		Title:       title,
		URL:         link,
		Summary:     summary,
		Text:        item.Description + "\n" + item.Content,
		PublishedAt: published.UTC(),
	}, true
}

// plainText strips markup and collapses whitespace
func plainText(s string) string {
	return strings.Join(strings.Fields(ioc.StripHTML(s)), " ")
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return strings.TrimSpace(string(runes[:n])) + "…"
}
