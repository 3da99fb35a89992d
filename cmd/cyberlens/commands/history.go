package commands

import (
	"fmt"
	"strconv"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/history"
	"github.com/teranos/cyberlens/logger"
)

// HistoryCmd browses recorded lookups
var HistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse recorded lookups",
	Long: `List recorded lookups, newest first, or summarize them.

Examples:
  cyberlens history ls                  # Last 50 lookups
  cyberlens history ls --search evil    # Match value, type or verdict
  cyberlens history summary             # Totals by type and verdict`,
}

var historyLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List recorded lookups",
	RunE:  runHistoryLs,
}

var historySummaryCmd = &cobra.Command{
	Use:   "summary",
	Short: "Summarize recorded lookups by type and verdict",
	RunE:  runHistorySummary,
}

var (
	historyLimit  int
	historyOffset int
	historySearch string
)

func init() {
	historyLsCmd.Flags().IntVar(&historyLimit, "limit", history.DefaultLimit, "Maximum rows to show")
	historyLsCmd.Flags().IntVar(&historyOffset, "offset", 0, "Rows to skip")
	historyLsCmd.Flags().StringVarP(&historySearch, "search", "s", "", "Substring to match against value, type or verdict")

	HistoryCmd.AddCommand(historyLsCmd)
	HistoryCmd.AddCommand(historySummaryCmd)
}

func openHistory() (*history.Store, func(), error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}
	database, err := openDatabase("", cfg)
	if err != nil {
		return nil, nil, err
	}
	return history.NewStore(database, logger.ComponentLogger("history")), func() { database.Close() }, nil
}

func runHistoryLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	page, err := store.Query(cmd.Context(), history.Query{
		Limit:  historyLimit,
		Offset: historyOffset,
		Search: historySearch,
	})
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		pterm.Info.Println("No lookups recorded")
		return nil
	}

	table, err := historyTable(page.Items)
	if err != nil {
		return err
	}
	pterm.Fprint(cmd.OutOrStdout(), table)
	pterm.Fprintln(cmd.OutOrStdout(), fmt.Sprintf("Showing %d-%d of %d", page.Offset+1, page.Offset+len(page.Items), page.Total))
	return nil
}

func runHistorySummary(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openHistory()
	if err != nil {
		return err
	}
	defer closeDB()

	summary, err := store.Summary(cmd.Context(), history.DefaultRecent)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	pterm.Fprint(w, pterm.DefaultSection.Sprintln("Lookup history"))
	pterm.Fprintln(w, fmt.Sprintf("Total lookups: %d", summary.TotalLookups))
	pterm.Fprintln(w, fmt.Sprintf("Unique IOCs:   %d", summary.UniqueIOCs))

	bars := make(pterm.Bars, 0, len(summary.ByVerdict))
	for _, v := range summary.ByVerdict {
		bars = append(bars, pterm.Bar{Label: v.Verdict, Value: v.Count})
	}
	if len(bars) > 0 {
		chart, err := pterm.DefaultBarChart.WithHorizontal().WithShowValue().WithBars(bars).Srender()
		if err != nil {
			return errors.Wrap(err, "failed to render chart")
		}
		pterm.Fprint(w, pterm.DefaultSection.WithLevel(2).Sprintln("By verdict"))
		pterm.Fprintln(w, chart)
	}

	types := pterm.TableData{{"Type", "Count"}}
	for _, t := range summary.ByType {
		types = append(types, []string{t.Type.String(), strconv.Itoa(t.Count)})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(types).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render table")
	}
	pterm.Fprint(w, pterm.DefaultSection.WithLevel(2).Sprintln("By type"))
	pterm.Fprintln(w, table)
	return nil
}

func historyTable(entries []history.Entry) (string, error) {
	data := pterm.TableData{{"When", "Type", "Value", "Verdict", "Score", "OK/Fail/Timeout"}}
	for _, e := range entries {
		score := "-"
		if e.Score != nil {
			score = strconv.Itoa(*e.Score)
		}
		data = append(data, []string{
			e.CreatedAt.Local().Format(time.DateTime),
			e.Type.String(),
			e.Value,
			e.Verdict,
			score,
			fmt.Sprintf("%d/%d/%d", e.ProvidersSucceeded, e.ProvidersFailed, e.ProvidersTimedOut),
		})
	}
	rendered, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return "", errors.Wrap(err, "failed to render table")
	}
	return rendered + "\n", nil
}
