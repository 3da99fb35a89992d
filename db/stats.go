package db

import (
	"context"
	"database/sql"

	"github.com/teranos/cyberlens/errors"
)

// Tables owned by the application schema, in display order
var Tables = []string{"ioc_history", "news_sources", "news_articles", "news_iocs"}

// TableCount is the row count of one table
type TableCount struct {
	Table string `json:"table"`
	Rows  int64  `json:"rows"`
}

// Stats summarizes database contents
type Stats struct {
	Tables            []TableCount `json:"tables"`
	AppliedMigrations []string     `json:"applied_migrations"`
}

// CollectStats counts rows in every application table
func CollectStats(ctx context.Context, db *sql.DB) (*Stats, error) {
	stats := &Stats{}
	for _, table := range Tables {
		var n int64
		// Table names come from the fixed list above
		if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
			return nil, errors.Wrapf(err, "count %s", table)
		}
		stats.Tables = append(stats.Tables, TableCount{Table: table, Rows: n})
	}

	versions, err := AppliedVersions(db)
	if err != nil {
		return nil, err
	}
	stats.AppliedMigrations = versions
	return stats, nil
}
