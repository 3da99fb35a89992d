package commands

import (
	"strconv"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/db"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/logger"
)

// DbCmd represents the db (database) command
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: "Manage the CyberLens database",
	Long: `Manage the SQLite database that holds lookup history and news.

Examples:
  cyberlens db migrate   # Apply pending schema migrations
  cyberlens db stats     # Row counts and applied migrations`,
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE:  runDbMigrate,
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show database statistics",
	RunE:  runDbStats,
}

func init() {
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}

func runDbMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	path := cfg.GetDatabasePath()

	database, err := db.Open(path, logger.Logger)
	if err != nil {
		return errors.Wrapf(err, "failed to open database at %s", path)
	}
	defer database.Close()

	pending, err := db.PendingMigrations(database)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		pterm.Success.Printfln("%s is up to date", path)
		return nil
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		return errors.Wrapf(err, "failed to run migrations on %s", path)
	}
	pterm.Success.Printfln("Applied %d migrations to %s: %s", len(pending), path, strings.Join(pending, ", "))
	return nil
}

func runDbStats(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}

	database, err := openDatabase("", cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	stats, err := db.CollectStats(cmd.Context(), database)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	pterm.Fprint(w, pterm.DefaultSection.Sprintln("Database statistics"))
	pterm.Fprintln(w, "Path: "+cfg.GetDatabasePath())

	data := pterm.TableData{{"Table", "Rows"}}
	for _, t := range stats.Tables {
		data = append(data, []string{t.Table, strconv.FormatInt(t.Rows, 10)})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render table")
	}
	pterm.Fprintln(w, table)
	pterm.Fprintln(w, "Migrations: "+strings.Join(stats.AppliedMigrations, ", "))
	return nil
}
