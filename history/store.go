package history

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/teranos/cyberlens/db"
	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/orchestrator"
)

// Paging limits for Query
const (
	DefaultLimit = 50
	MaxLimit     = 100

	// DefaultRecent is how many recent lookups Summary returns by default
	DefaultRecent = 10
)

// Query constants
const (
	insertQuery = `
		INSERT INTO ioc_history (id, ioc_type, ioc_value, raw_input, verdict, score,
			providers_succeeded, providers_failed, providers_timed_out, execution_time_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectColumns = `
		SELECT id, ioc_type, ioc_value, raw_input, verdict, score,
			providers_succeeded, providers_failed, providers_timed_out, execution_time_ms, created_at
		FROM ioc_history`

	searchClause = `
		WHERE ioc_value LIKE ? ESCAPE '\' OR ioc_type LIKE ? ESCAPE '\' OR verdict LIKE ? ESCAPE '\'`

	orderClause = `
		ORDER BY created_at DESC, id DESC`
)

// Entry is one recorded lookup
type Entry struct {
	ID                 string    `json:"id"`
	Type               ioc.Type  `json:"type"`
	Value              string    `json:"value"`
	RawInput           string    `json:"rawInput"`
	Verdict            string    `json:"verdict"`
	Score              *int      `json:"score"`
	ProvidersSucceeded int       `json:"providersSucceeded"`
	ProvidersFailed    int       `json:"providersFailed"`
	ProvidersTimedOut  int       `json:"providersTimedOut"`
	ExecutionTimeMS    int64     `json:"executionTimeMs"`
	CreatedAt          time.Time `json:"createdAt"`
}

// Query filters and pages history
type Query struct {
	Limit  int
	Offset int
	Search string
}

// normalize applies defaults and bounds
func (q Query) normalize() Query {
	if q.Limit <= 0 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	q.Search = strings.TrimSpace(q.Search)
	return q
}

// Page is one page of history
type Page struct {
	Items  []Entry `json:"items"`
	Total  int     `json:"total"`
	Limit  int     `json:"limit"`
	Offset int     `json:"offset"`
}

// TypeCount is a per-type tally
type TypeCount struct {
	Type  ioc.Type `json:"type"`
	Count int      `json:"count"`
}

// VerdictCount is a per-verdict tally
type VerdictCount struct {
	Verdict string `json:"verdict"`
	Count   int    `json:"count"`
}

// Summary aggregates the whole history for the analytics view
type Summary struct {
	TotalLookups int            `json:"totalLookups"`
	UniqueIOCs   int            `json:"uniqueIocs"`
	ByType       []TypeCount    `json:"byType"`
	ByVerdict    []VerdictCount `json:"byVerdict"`
	Recent       []Entry        `json:"recent"`
}

// Store persists lookups in the ioc_history table
type Store struct {
	db     *sql.DB
	logger *zap.SugaredLogger
	now    func() time.Time
}

// NewStore creates a history store
func NewStore(db *sql.DB, log *zap.SugaredLogger) *Store {
	if log == nil {
		log = logger.ComponentLogger("history")
	}
	return &Store{db: db, logger: log, now: time.Now}
}

// Record writes one row for a classified lookup. Unclassified lookups are
// skipped and return a nil entry.
func (s *Store) Record(ctx context.Context, resp *orchestrator.Response) (*Entry, error) {
	if resp == nil || resp.DetectedType == ioc.TypeNone {
		return nil, nil
	}

	verdict := DeriveVerdict(resp)
	succeeded, failed, timedOut := resp.Counts()

	createdAt := resp.Meta.ExecutedAt
	if createdAt.IsZero() {
		createdAt = s.now()
	}

	entry := &Entry{
		ID:                 uuid.NewString(),
		Type:               resp.DetectedType,
		Value:              resp.Classified().Normalized,
		RawInput:           resp.IOC,
		Verdict:            verdict.Verdict,
		Score:              verdict.Score,
		ProvidersSucceeded: succeeded,
		ProvidersFailed:    failed,
		ProvidersTimedOut:  timedOut,
		ExecutionTimeMS:    resp.Meta.ExecutionTimeMS,
		CreatedAt:          createdAt.UTC(),
	}

	var score sql.NullInt64
	if entry.Score != nil {
		score = sql.NullInt64{Int64: int64(*entry.Score), Valid: true}
	}

	_, err := s.db.ExecContext(ctx, insertQuery,
		entry.ID,
		string(entry.Type),
		entry.Value,
		entry.RawInput,
		entry.Verdict,
		score,
		entry.ProvidersSucceeded,
		entry.ProvidersFailed,
		entry.ProvidersTimedOut,
		entry.ExecutionTimeMS,
		entry.CreatedAt,
	)
	if err != nil {
		return nil, db.WrapError(err, "failed to record lookup")
	}

	s.logger.Debugw("lookup recorded",
		logger.FieldIOCType, entry.Type,
		logger.FieldVerdict, entry.Verdict)
	return entry, nil
}

// Query returns history newest first
func (s *Store) Query(ctx context.Context, q Query) (*Page, error) {
	q = q.normalize()

	var (
		where string
		args  []any
	)
	if q.Search != "" {
		pattern := "%" + escapeLike(q.Search) + "%"
		where = searchClause
		args = []any{pattern, pattern, pattern}
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ioc_history"+where, args...).Scan(&total); err != nil {
		return nil, db.WrapError(err, "failed to count history")
	}

	rows, err := s.db.QueryContext(ctx, selectColumns+where+orderClause+" LIMIT ? OFFSET ?",
		append(args, q.Limit, q.Offset)...)
	if err != nil {
		return nil, db.WrapError(err, "failed to query history")
	}
	items, err := scanEntries(rows)
	if err != nil {
		return nil, err
	}

	return &Page{Items: items, Total: total, Limit: q.Limit, Offset: q.Offset}, nil
}

// Summary aggregates totals, breakdowns and the most recent lookups
func (s *Store) Summary(ctx context.Context, recent int) (*Summary, error) {
	if recent <= 0 {
		recent = DefaultRecent
	}
	if recent > MaxLimit {
		recent = MaxLimit
	}

	sum := &Summary{ByType: []TypeCount{}, ByVerdict: []VerdictCount{}}

	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COUNT(DISTINCT ioc_type || ':' || ioc_value) FROM ioc_history`,
	).Scan(&sum.TotalLookups, &sum.UniqueIOCs)
	if err != nil {
		return nil, db.WrapError(err, "failed to count history")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT ioc_type, COUNT(*) FROM ioc_history GROUP BY ioc_type ORDER BY COUNT(*) DESC, ioc_type`)
	if err != nil {
		return nil, db.WrapError(err, "failed to group history by type")
	}
	for rows.Next() {
		var tc TypeCount
		var typ string
		if err := rows.Scan(&typ, &tc.Count); err != nil {
			rows.Close()
			return nil, db.WrapError(err, "failed to scan type count")
		}
		tc.Type = ioc.Type(typ)
		sum.ByType = append(sum.ByType, tc)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx,
		`SELECT verdict, COUNT(*) FROM ioc_history GROUP BY verdict ORDER BY COUNT(*) DESC, verdict`)
	if err != nil {
		return nil, db.WrapError(err, "failed to group history by verdict")
	}
	for rows.Next() {
		var vc VerdictCount
		if err := rows.Scan(&vc.Verdict, &vc.Count); err != nil {
			rows.Close()
			return nil, db.WrapError(err, "failed to scan verdict count")
		}
		sum.ByVerdict = append(sum.ByVerdict, vc)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, selectColumns+orderClause+" LIMIT ?", recent)
	if err != nil {
		return nil, db.WrapError(err, "failed to query recent history")
	}
	if sum.Recent, err = scanEntries(rows); err != nil {
		return nil, err
	}

	return sum, nil
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	items := []Entry{}
	for rows.Next() {
		var (
			e     Entry
			typ   string
			score sql.NullInt64
		)
		err := rows.Scan(&e.ID, &typ, &e.Value, &e.RawInput, &e.Verdict, &score,
			&e.ProvidersSucceeded, &e.ProvidersFailed, &e.ProvidersTimedOut,
			&e.ExecutionTimeMS, &e.CreatedAt)
		if err != nil {
			rows.Close()
			return nil, db.WrapError(err, "failed to scan history row")
		}
		e.Type = ioc.Type(typ)
		if score.Valid {
			v := int(score.Int64)
			e.Score = &v
		}
		items = append(items, e)
	}
	if err := closeRows(rows); err != nil {
		return nil, err
	}
	return items, nil
}

func closeRows(rows *sql.Rows) error {
	if err := rows.Err(); err != nil {
		rows.Close()
		return db.WrapError(err, "error iterating rows")
	}
	return rows.Close()
}

// escapeLike escapes LIKE wildcards so search text matches literally
func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
