package commands

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"slices"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/history"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/metrics"
	"github.com/teranos/cyberlens/news"
	"github.com/teranos/cyberlens/server"
	"github.com/teranos/cyberlens/version"
)

// ServerCmd starts the CyberLens HTTP API
var ServerCmd = &cobra.Command{
	Use:     "server",
	Aliases: []string{"serve"},
	Short:   "Start the CyberLens HTTP API",
	Long: `Serve lookups, history, analytics and news over HTTP.

When the active config file changes the server reloads CORS origins, history
recording and news feeds, and starts or stops news ingestion to follow
news.enabled. --no-news keeps ingestion off across reloads. Provider changes
take effect after a restart.`,
	RunE: runServer,
}

var (
	serverAddr   string
	serverDBPath string
	serverNoNews bool
)

func init() {
	ServerCmd.Flags().StringVar(&serverAddr, "addr", "", "Listen address (overrides server.addr)")
	ServerCmd.Flags().StringVar(&serverDBPath, "db-path", "", "Custom database path (overrides database.path)")
	ServerCmd.Flags().BoolVar(&serverNoNews, "no-news", false, "Disable scheduled news ingestion")
}

func runServer(cmd *cobra.Command, args []string) error {
	log := logger.ComponentLogger("server")

	loaded, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load configuration")
	}
	cfg := *loaded
	if serverAddr != "" {
		cfg.Server.Addr = serverAddr
	}
	if serverDBPath != "" {
		cfg.Database.Path = serverDBPath
	}
	if serverNoNews {
		cfg.News.Enabled = false
	}
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	database, err := openDatabase("", &cfg)
	if err != nil {
		return err
	}
	defer database.Close()

	orch, err := buildOrchestrator(&cfg)
	if err != nil {
		return err
	}

	srv, err := server.New(server.Deps{
		Orchestrator: orch,
		History:      history.NewStore(database, logger.ComponentLogger("history")),
		News:         news.NewStore(database),
		Config:       &cfg,
		Logger:       log,
	})
	if err != nil {
		return err
	}

	runner := &newsRunner{db: database, log: logger.ComponentLogger("news"), disabled: serverNoNews}
	if err := runner.apply(&cfg, cfg.News.RunOnStart); err != nil {
		return err
	}
	defer runner.stop(cfg.ShutdownTimeout())

	if path := am.ActiveConfigFile(); path != "" {
		watcher, err := am.NewConfigWatcher(path)
		if err != nil {
			log.Warnw("config hot reload disabled", logger.FieldError, err)
		} else {
			watcher.OnReload(func(next *am.Config) error {
				srv.ApplyConfig(next)
				if err := runner.apply(next, false); err != nil {
					log.Warnw("news reload failed", logger.FieldError, err)
				}
				if !slices.Equal(next.EnabledProviders(), orch.Registry().Names()) {
					log.Warnw("provider changes take effect after restart",
						logger.FieldProviders, next.EnabledProviders())
				}
				return nil
			})
			watcher.Start()
			am.SetGlobalWatcher(watcher)
			defer watcher.Stop()
		}
	}

	printStartupBanner(&cfg, orch.Registry().Names())

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := srv.ListenAndServe(ctx, cfg.GetServerAddr())

	if serveErr == nil {
		pterm.Success.Println("Server stopped")
	}
	return serveErr
}

// newsRunner owns the news scheduler so config reloads can start, retune
// or stop ingestion
type newsRunner struct {
	db       *sql.DB
	log      *zap.SugaredLogger
	disabled bool

	mu        sync.Mutex
	scheduler *news.Scheduler
}

// apply brings ingestion in line with cfg. runNow only matters when the
// scheduler is created by this call.
func (n *newsRunner) apply(cfg *am.Config, runNow bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	enabled := cfg.News.Enabled && !n.disabled
	switch {
	case enabled && n.scheduler == nil:
		ingester := news.NewIngester(n.db, cfg.News.Feeds,
			news.WithLogger(n.log),
			news.WithObserver(metrics.FeedObserver{}))
		scheduler, err := news.NewScheduler(ingester, cfg.GetNewsSchedule(), n.log)
		if err != nil {
			return err
		}
		scheduler.Start(runNow)
		n.scheduler = scheduler
	case enabled:
		n.scheduler.ApplyConfig(cfg)
	case n.scheduler != nil:
		n.stopLocked(cfg.ShutdownTimeout())
		n.log.Infow("news ingestion disabled")
	}
	return nil
}

func (n *newsRunner) running() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.scheduler != nil
}

func (n *newsRunner) stop(timeout time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopLocked(timeout)
}

func (n *newsRunner) stopLocked(timeout time.Duration) {
	if n.scheduler == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := n.scheduler.Stop(ctx); err != nil {
		n.log.Warnw("news scheduler stop", logger.FieldError, err)
	}
	n.scheduler = nil
}

func printStartupBanner(cfg *am.Config, providers []string) {
	info := version.Get()

	providerList := strings.Join(providers, ", ")
	if providerList == "" {
		providerList = pterm.Yellow("none enabled")
	}
	newsState := "disabled"
	if cfg.News.Enabled {
		newsState = cfg.GetNewsSchedule()
	}

	lines := []string{
		"Version:   " + info.Version + " (commit " + info.Short() + ")",
		"Listening: " + cfg.GetServerAddr(),
		"Database:  " + cfg.GetDatabasePath(),
		"Providers: " + providerList,
		"News:      " + newsState,
	}
	if cfg.Metrics.Enabled {
		lines = append(lines, "Metrics:   "+cfg.GetMetricsPath())
	}

	pterm.DefaultBox.WithTitle("CyberLens").Println(strings.Join(lines, "\n"))
	pterm.Info.Println("Press Ctrl+C to stop")
}
