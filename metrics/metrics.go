// Package metrics exposes Prometheus collectors for lookups, provider calls
// and news ingestion.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/provider"
)

var (
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberlens_lookups_total",
			Help: "Lookups by detected indicator type (none for unclassifiable input)",
		},
		[]string{"type"},
	)

	LookupDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cyberlens_lookup_duration_seconds",
			Help:    "Wall time of a whole lookup",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"type"},
	)

	ProviderResults = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberlens_provider_results_total",
			Help: "Provider call outcomes",
		},
		[]string{"provider", "status", "error_kind"},
	)

	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cyberlens_provider_latency_seconds",
			Help:    "Provider call latency, including timeouts",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "type"},
	)

	Verdicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberlens_verdicts_total",
			Help: "Recorded lookups by verdict",
		},
		[]string{"verdict"},
	)

	FeedRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cyberlens_news_feed_runs_total",
			Help: "Feed ingestion attempts by outcome",
		},
		[]string{"feed", "outcome"},
	)

	NewsArticles = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cyberlens_news_articles_processed_total",
		Help: "Feed items processed",
	})

	NewsIOCs = promauto.NewCounter(prometheus.CounterOpts{
		Name: "cyberlens_news_iocs_inserted_total",
		Help: "Indicators newly extracted from news articles",
	})
)

// Handler serves the default registry
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLookup counts one lookup and its duration
func ObserveLookup(typ ioc.Type, elapsedMS int64) {
	label := typ.String()
	Lookups.WithLabelValues(label).Inc()
	LookupDuration.WithLabelValues(label).Observe(float64(elapsedMS) / 1000)
}

// ObserveVerdict counts one recorded verdict
func ObserveVerdict(verdict string) {
	Verdicts.WithLabelValues(verdict).Inc()
}

// ProviderObserver feeds executor results into the provider collectors
type ProviderObserver struct{}

// ObserveResult implements provider.Observer
func (ProviderObserver) ObserveResult(typ ioc.Type, r provider.Result) {
	kind := ""
	if r.Error != nil {
		kind = string(r.Error.Kind)
	}
	ProviderResults.WithLabelValues(r.ProviderName, string(r.Status), kind).Inc()
	ProviderLatency.WithLabelValues(r.ProviderName, typ.String()).Observe(float64(r.ElapsedMS) / 1000)
}

// FeedObserver feeds news ingestion outcomes into the news collectors
type FeedObserver struct{}

// ObserveFeed implements news.FeedObserver
func (FeedObserver) ObserveFeed(feed string, err error, articles, iocs int) {
	if err != nil {
		FeedRuns.WithLabelValues(feed, "failure").Inc()
		return
	}
	FeedRuns.WithLabelValues(feed, "success").Inc()
	NewsArticles.Add(float64(articles))
	NewsIOCs.Add(float64(iocs))
}
