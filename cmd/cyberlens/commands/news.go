package commands

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/metrics"
	"github.com/teranos/cyberlens/news"
)

// NewsCmd manages security news ingestion
var NewsCmd = &cobra.Command{
	Use:   "news",
	Short: "Ingest and list security news",
	Long: `Fetch configured RSS/Atom feeds, store new articles and extract the
indicators they mention.

Examples:
  cyberlens news ingest       # Fetch every configured feed once
  cyberlens news ls           # Newest articles first
  cyberlens news show <id>    # One article with its indicators`,
}

var newsIngestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch every configured feed once",
	RunE:  runNewsIngest,
}

var newsLsCmd = &cobra.Command{
	Use:   "ls",
	Short: "List stored articles",
	RunE:  runNewsLs,
}

var newsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one article and its indicators",
	Args:  cobra.ExactArgs(1),
	RunE:  runNewsShow,
}

var (
	newsLimit  int
	newsOffset int
)

func init() {
	newsLsCmd.Flags().IntVar(&newsLimit, "limit", news.DefaultLimit, "Maximum articles to show")
	newsLsCmd.Flags().IntVar(&newsOffset, "offset", 0, "Articles to skip")

	NewsCmd.AddCommand(newsIngestCmd)
	NewsCmd.AddCommand(newsLsCmd)
	NewsCmd.AddCommand(newsShowCmd)
}

func runNewsIngest(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	if len(cfg.News.Feeds) == 0 {
		return errors.WithHint(errors.New("no news feeds configured"),
			"add [[news.feeds]] entries with name and feed_url to am.toml")
	}

	database, err := openDatabase("", cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ingester := news.NewIngester(database, cfg.News.Feeds,
		news.WithLogger(logger.ComponentLogger("news")),
		news.WithObserver(metrics.FeedObserver{}))

	spinner, _ := pterm.DefaultSpinner.Start(fmt.Sprintf("Fetching %d feeds...", len(cfg.News.Feeds)))
	start := time.Now()
	stats, err := ingester.Run(ctx)
	if err != nil {
		if spinner != nil {
			spinner.Fail("Ingestion interrupted")
		}
		return err
	}
	if spinner != nil {
		spinner.Success(fmt.Sprintf("Ingestion finished in %s", time.Since(start).Round(time.Millisecond)))
	}

	w := cmd.OutOrStdout()
	pterm.Fprintln(w, fmt.Sprintf("  Feeds:    %d/%d succeeded", stats.FeedsSucceeded, stats.FeedsAttempted))
	pterm.Fprintln(w, fmt.Sprintf("  Articles: %d processed, %d new", stats.ArticlesProcessed, stats.ArticlesInserted))
	pterm.Fprintln(w, fmt.Sprintf("  IOCs:     %d new", stats.IOCsInserted))
	if stats.FeedsSucceeded < stats.FeedsAttempted {
		pterm.Warning.Println("Some feeds failed; run with -v for details")
	}
	return nil
}

func openNews() (*news.Store, func(), error) {
	cfg, err := am.Load()
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to load configuration")
	}
	database, err := openDatabase("", cfg)
	if err != nil {
		return nil, nil, err
	}
	return news.NewStore(database), func() { database.Close() }, nil
}

func runNewsLs(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openNews()
	if err != nil {
		return err
	}
	defer closeDB()

	page, err := store.List(cmd.Context(), newsLimit, newsOffset)
	if err != nil {
		return err
	}
	if len(page.Items) == 0 {
		pterm.Info.Println("No articles stored; run 'cyberlens news ingest'")
		return nil
	}

	data := pterm.TableData{{"Published", "Source", "Title", "IOCs", "ID"}}
	for _, a := range page.Items {
		data = append(data, []string{
			a.PublishedAt.Local().Format(time.DateOnly),
			a.Source.Name,
			truncateCell(a.Title, 60),
			strconv.Itoa(a.IOCCount),
			a.ID,
		})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render table")
	}
	pterm.Fprintln(cmd.OutOrStdout(), table)
	pterm.Fprintln(cmd.OutOrStdout(), fmt.Sprintf("Showing %d-%d of %d", page.Offset+1, page.Offset+len(page.Items), page.Total))
	return nil
}

func runNewsShow(cmd *cobra.Command, args []string) error {
	store, closeDB, err := openNews()
	if err != nil {
		return err
	}
	defer closeDB()

	article, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	pterm.Fprint(w, pterm.DefaultSection.Sprintln(article.Title))
	pterm.Fprintln(w, article.URL)
	pterm.Fprintln(w, fmt.Sprintf("%s, %s", article.Source.Name, article.PublishedAt.Local().Format(time.DateTime)))
	if article.Summary != "" {
		pterm.Fprintln(w)
		pterm.Fprintln(w, article.Summary)
	}
	if len(article.IOCs) == 0 {
		return nil
	}

	data := pterm.TableData{{"Type", "Value"}}
	for _, i := range article.IOCs {
		data = append(data, []string{i.Type.String(), i.Value})
	}
	table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
	if err != nil {
		return errors.Wrap(err, "failed to render table")
	}
	pterm.Fprintln(w)
	pterm.Fprintln(w, table)
	return nil
}

func truncateCell(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
