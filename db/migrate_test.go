package db

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestOpenWithMigrations(t *testing.T) {
	t.Run("creates every application table", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), zaptest.NewLogger(t).Sugar())
		require.NoError(t, err)
		defer db.Close()

		for _, table := range append([]string{"schema_migrations"}, Tables...) {
			var n int
			err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&n)
			require.NoError(t, err)
			assert.Equal(t, 1, n, "table %s should exist", table)
		}
	})

	t.Run("open failures carry stack traces", func(t *testing.T) {
		if os.Geteuid() == 0 {
			t.Skip("root ignores directory permissions")
		}
		tmpDir := t.TempDir()
		dbPath := filepath.Join(tmpDir, "test.db")

		first, err := Open(dbPath, nil)
		require.NoError(t, err)
		first.Close()

		require.NoError(t, os.Chmod(tmpDir, 0555))
		defer os.Chmod(tmpDir, 0755)

		db, err := OpenWithMigrations(dbPath, nil)
		if err == nil {
			db.Close()
			t.Skip("filesystem allowed WAL in read-only directory")
		}
		assert.Contains(t, fmt.Sprintf("%+v", err), "connection.go")
	})
}

func TestMigrate(t *testing.T) {
	t.Run("records every migration", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))

		versions, err := AppliedVersions(db)
		require.NoError(t, err)
		assert.Equal(t, []string{"000", "001", "002"}, versions)

		pending, err := PendingMigrations(db)
		require.NoError(t, err)
		assert.Empty(t, pending)
	})

	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil), "running migrations multiple times should be safe")
	})

	t.Run("reports pending migrations on a fresh database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		pending, err := PendingMigrations(db)
		require.NoError(t, err)
		assert.Len(t, pending, 3)
		assert.Equal(t, "000_create_schema_migrations.sql", pending[0])
	})

	t.Run("closed database fails", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		require.Error(t, Migrate(db, nil))
	})

	t.Run("history check constraints hold", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		_, err = db.Exec(`INSERT INTO ioc_history (id, ioc_type, ioc_value, raw_input, verdict, created_at)
			VALUES ('x', 'email', 'a@b.c', 'a@b.c', 'unknown', CURRENT_TIMESTAMP)`)
		assert.Error(t, err)
	})
}

func TestCollectStats(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	_, err = db.Exec(`INSERT INTO news_sources (name, feed_url) VALUES ('a', 'https://a.test/feed')`)
	require.NoError(t, err)

	stats, err := CollectStats(context.Background(), db)
	require.NoError(t, err)
	require.Len(t, stats.Tables, len(Tables))
	for _, tc := range stats.Tables {
		if tc.Table == "news_sources" {
			assert.Equal(t, int64(1), tc.Rows)
		} else {
			assert.Equal(t, int64(0), tc.Rows, tc.Table)
		}
	}
	assert.Equal(t, []string{"000", "001", "002"}, stats.AppliedMigrations)
}
