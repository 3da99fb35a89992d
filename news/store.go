// Package news ingests security RSS feeds, extracts indicators from the
// articles and serves them back for the news view.
package news

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/teranos/cyberlens/db"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/ioc"
)

// Paging limits for List
const (
	DefaultLimit = 20
	MaxLimit     = 50
)

// Article is one stored feed item
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Summary     string    `json:"summary"`
	PublishedAt time.Time `json:"publishedAt"`
	Source      Source    `json:"source"`
	IOCCount    int       `json:"iocCount"`
}

// Source is the feed an article came from
type Source struct {
	Name    string `json:"name"`
	SiteURL string `json:"siteUrl,omitempty"`
}

// ArticleDetail is an article with its extracted indicators
type ArticleDetail struct {
	Article
	IOCs []ioc.Extracted `json:"iocs"`
}

// ArticlePage is one page of articles
type ArticlePage struct {
	Items  []Article `json:"items"`
	Total  int       `json:"total"`
	Limit  int       `json:"limit"`
	Offset int       `json:"offset"`
}

const selectArticles = `
	SELECT a.id, a.title, a.url, COALESCE(a.summary, ''), a.published_at, a.created_at,
		s.name, COALESCE(s.site_url, ''),
		(SELECT COUNT(*) FROM news_iocs i WHERE i.article_id = a.id)
	FROM news_articles a
	JOIN news_sources s ON s.id = a.source_id`

// Store reads and writes news tables
type Store struct {
	db *sql.DB
}

// NewStore creates a news store
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// List returns articles, most recently published first
func (s *Store) List(ctx context.Context, limit, offset int) (*ArticlePage, error) {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if limit > MaxLimit {
		limit = MaxLimit
	}
	if offset < 0 {
		offset = 0
	}

	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM news_articles`).Scan(&total); err != nil {
		return nil, db.WrapError(err, "failed to count articles")
	}

	rows, err := s.db.QueryContext(ctx,
		selectArticles+` ORDER BY COALESCE(a.published_at, a.created_at) DESC, a.id LIMIT ? OFFSET ?`,
		limit, offset)
	if err != nil {
		return nil, db.WrapError(err, "failed to list articles")
	}
	defer rows.Close()

	items := []Article{}
	for rows.Next() {
		a, err := scanArticle(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "error iterating articles")
	}

	return &ArticlePage{Items: items, Total: total, Limit: limit, Offset: offset}, nil
}

// Get returns one article with its indicators sorted by type then value.
// Ids that are not UUIDs are reported as not found.
func (s *Store) Get(ctx context.Context, id string) (*ArticleDetail, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, errors.NewNotFoundError("article %q", id)
	}

	row := s.db.QueryRowContext(ctx, selectArticles+` WHERE a.id = ?`, id)
	a, err := scanArticle(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("article %q", id)
	}
	if err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ioc_type, ioc_value FROM news_iocs WHERE article_id = ? ORDER BY ioc_type, ioc_value`, id)
	if err != nil {
		return nil, db.WrapError(err, "failed to load article iocs")
	}
	defer rows.Close()

	detail := &ArticleDetail{Article: a, IOCs: []ioc.Extracted{}}
	for rows.Next() {
		var typ, value string
		if err := rows.Scan(&typ, &value); err != nil {
			return nil, db.WrapError(err, "failed to scan article ioc")
		}
		detail.IOCs = append(detail.IOCs, ioc.Extracted{Type: ioc.Type(typ), Value: value})
	}
	if err := rows.Err(); err != nil {
		return nil, db.WrapError(err, "error iterating article iocs")
	}
	return detail, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanArticle(row scanner) (Article, error) {
	var (
		a         Article
		published sql.NullTime
		created   time.Time
	)
	err := row.Scan(&a.ID, &a.Title, &a.URL, &a.Summary, &published, &created,
		&a.Source.Name, &a.Source.SiteURL, &a.IOCCount)
	if errors.Is(err, sql.ErrNoRows) {
		return a, err
	}
	if err != nil {
		return a, db.WrapError(err, "failed to scan article")
	}
	a.PublishedAt = created
	if published.Valid {
		a.PublishedAt = published.Time
	}
	return a, nil
}

// upsertSource creates or refreshes a feed source and returns its id
func upsertSource(ctx context.Context, tx *sql.Tx, name, feedURL, siteURL string) (int64, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO news_sources (name, feed_url, site_url)
		VALUES (?, ?, ?)
		ON CONFLICT(feed_url) DO UPDATE SET
			name = excluded.name,
			site_url = excluded.site_url,
			updated_at = CURRENT_TIMESTAMP`,
		name, feedURL, nullString(siteURL))
	if err != nil {
		return 0, db.WrapErrorf(err, "failed to upsert source %s", feedURL)
	}

	var id int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM news_sources WHERE feed_url = ?`, feedURL).Scan(&id); err != nil {
		return 0, db.WrapErrorf(err, "failed to load source %s", feedURL)
	}
	return id, nil
}

// upsertArticle inserts an article keyed by URL or refreshes the existing
// row. It returns the article id and whether a row was inserted.
func upsertArticle(ctx context.Context, tx *sql.Tx, sourceID int64, item feedItem) (string, bool, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM news_articles WHERE url = ?`, item.URL).Scan(&id)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		id = uuid.NewString()
		_, err = tx.ExecContext(ctx, `
			INSERT INTO news_articles (id, source_id, title, url, summary, published_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			id, sourceID, item.Title, item.URL, nullString(item.Summary), item.PublishedAt)
		if err != nil {
			return "", false, db.WrapErrorf(err, "failed to insert article %s", item.URL)
		}
		return id, true, nil
	case err != nil:
		return "", false, db.WrapErrorf(err, "failed to look up article %s", item.URL)
	}

	_, err = tx.ExecContext(ctx, `
		UPDATE news_articles
		SET title = ?, summary = ?, published_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		item.Title, nullString(item.Summary), item.PublishedAt, id)
	if err != nil {
		return "", false, db.WrapErrorf(err, "failed to update article %s", item.URL)
	}
	return id, false, nil
}

// insertIOCs stores indicators for an article, ignoring ones already stored
func insertIOCs(ctx context.Context, tx *sql.Tx, articleID string, iocs []ioc.Extracted) (int, error) {
	if len(iocs) == 0 {
		return 0, nil
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO news_iocs (article_id, ioc_type, ioc_value) VALUES (?, ?, ?)`)
	if err != nil {
		return 0, db.WrapError(err, "failed to prepare ioc insert")
	}
	defer stmt.Close()

	inserted := 0
	for _, e := range iocs {
		res, err := stmt.ExecContext(ctx, articleID, string(e.Type), e.Value)
		if err != nil {
			return inserted, db.WrapErrorf(err, "failed to insert ioc %s", e.Value)
		}
		if n, err := res.RowsAffected(); err == nil {
			inserted += int(n)
		}
	}
	return inserted, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
