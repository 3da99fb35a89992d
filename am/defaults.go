package am

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Defaults used when a setting is absent
const (
	DefaultServerAddr             = ":3000"
	DefaultShutdownTimeoutSeconds = 10
	DefaultDatabasePath           = "cyberlens.db"
	DefaultLookupTimeoutMS        = 10000
	DefaultNewsSchedule           = "0 * * * *" // hourly, on the hour
	DefaultMetricsPath            = "/metrics"
)

// DefaultFeeds is the built-in security news feed list
var DefaultFeeds = []FeedConfig{
	{Name: "The Hacker News", FeedURL: "https://feeds.feedburner.com/TheHackersNews", SiteURL: "https://thehackernews.com"},
	{Name: "Krebs on Security", FeedURL: "https://krebsonsecurity.com/feed/", SiteURL: "https://krebsonsecurity.com"},
	{Name: "BleepingComputer", FeedURL: "https://www.bleepingcomputer.com/feed/", SiteURL: "https://www.bleepingcomputer.com"},
	{Name: "CISA Alerts", FeedURL: "https://www.cisa.gov/uscert/ncas/alerts.xml", SiteURL: "https://www.cisa.gov"},
}

// Public API endpoints per provider
var defaultBaseURLs = map[string]string{
	ProviderVirusTotal: "https://www.virustotal.com/api/v3",
	ProviderAbuseIPDB:  "https://api.abuseipdb.com/api/v2",
	ProviderURLhaus:    "https://urlhaus-api.abuse.ch/v1",
	ProviderOTX:        "https://otx.alienvault.com/api/v1",
}

// Free-tier request budgets
var defaultRequestsPerMinute = map[string]int{
	ProviderVirusTotal: 4,
	ProviderAbuseIPDB:  60,
	ProviderURLhaus:    0,
	ProviderOTX:        0,
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	// Server
	v.SetDefault("server.addr", DefaultServerAddr)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost:5173",
		"http://localhost:3000",
		"http://127.0.0.1:5173",
	})
	v.SetDefault("server.shutdown_timeout_seconds", DefaultShutdownTimeoutSeconds)

	// Database
	v.SetDefault("database.path", DefaultDatabasePath)

	// Lookups
	v.SetDefault("lookup.timeout_ms", DefaultLookupTimeoutMS)
	v.SetDefault("lookup.record_history", true)

	// Providers are opt-in; each needs an API key once enabled
	for name, baseURL := range defaultBaseURLs {
		v.SetDefault("providers."+name+".enabled", false)
		v.SetDefault("providers."+name+".api_key", "")
		v.SetDefault("providers."+name+".base_url", baseURL)
		v.SetDefault("providers."+name+".requests_per_minute", defaultRequestsPerMinute[name])
	}

	// News ingestion
	v.SetDefault("news.enabled", true)
	v.SetDefault("news.schedule", DefaultNewsSchedule)
	v.SetDefault("news.run_on_start", false)
	v.SetDefault("news.feeds", feedMaps(DefaultFeeds))

	// Metrics
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.path", DefaultMetricsPath)
}

// feedMaps converts feeds to the generic shape viper and TOML expect for arrays of tables
func feedMaps(feeds []FeedConfig) []map[string]interface{} {
	out := make([]map[string]interface{}, len(feeds))
	for i, f := range feeds {
		out[i] = map[string]interface{}{
			"name":     f.Name,
			"feed_url": f.FeedURL,
			"site_url": f.SiteURL,
		}
	}
	return out
}

// BindSensitiveEnvVars explicitly binds secrets so they resolve even when no
// config file mentions them
func BindSensitiveEnvVars(v *viper.Viper) {
	for name := range defaultBaseURLs {
		v.BindEnv("providers."+name+".api_key", envKey("providers."+name+".api_key"))
		v.BindEnv("providers."+name+".enabled", envKey("providers."+name+".enabled"))
	}
	v.BindEnv("database.path", envKey("database.path"))
}

// LookupTimeout returns the per-provider timeout
func (c *Config) LookupTimeout() time.Duration {
	if c.Lookup.TimeoutMS <= 0 {
		return DefaultLookupTimeoutMS * time.Millisecond
	}
	return time.Duration(c.Lookup.TimeoutMS) * time.Millisecond
}

// ShutdownTimeout returns how long the server waits for in-flight requests
func (c *Config) ShutdownTimeout() time.Duration {
	if c.Server.ShutdownTimeoutSeconds <= 0 {
		return DefaultShutdownTimeoutSeconds * time.Second
	}
	return time.Duration(c.Server.ShutdownTimeoutSeconds) * time.Second
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetServerAddr returns the listen address
func (c *Config) GetServerAddr() string {
	if c.Server.Addr == "" {
		return DefaultServerAddr
	}
	return c.Server.Addr
}

// GetNewsSchedule returns the cron spec for news ingestion
func (c *Config) GetNewsSchedule() string {
	if c.News.Schedule == "" {
		return DefaultNewsSchedule
	}
	return c.News.Schedule
}

// GetMetricsPath returns the Prometheus scrape path
func (c *Config) GetMetricsPath() string {
	if c.Metrics.Path == "" {
		return DefaultMetricsPath
	}
	return c.Metrics.Path
}

// EnabledProviders returns the names of enabled providers in registration order
func (c *Config) EnabledProviders() []string {
	var names []string
	for _, p := range c.Providers.Ordered() {
		if p.Config.Enabled {
			names = append(names, p.Name)
		}
	}
	return names
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Server: %s, Database: %s, Lookup: {TimeoutMS: %d}, Providers: %v, News: {Feeds: %d}}",
		c.GetServerAddr(), c.Database.Path, c.Lookup.TimeoutMS, c.EnabledProviders(), len(c.News.Feeds))
}
