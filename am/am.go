// Package am loads CyberLens configuration ("am" as in "I am configured as").
//
// Values cascade from built-in defaults through /etc/cyberlens/config.toml,
// ~/.cyberlens/am.toml and a project am.toml, with CYBERLENS_* environment
// variables taking precedence over every file.
package am

// Config represents the CyberLens configuration
type Config struct {
	Server    ServerConfig    `mapstructure:"server" toml:"server" json:"server" yaml:"server"`
	Database  DatabaseConfig  `mapstructure:"database" toml:"database" json:"database" yaml:"database"`
	Lookup    LookupConfig    `mapstructure:"lookup" toml:"lookup" json:"lookup" yaml:"lookup"`
	Providers ProvidersConfig `mapstructure:"providers" toml:"providers" json:"providers" yaml:"providers"`
	News      NewsConfig      `mapstructure:"news" toml:"news" json:"news" yaml:"news"`
	Metrics   MetricsConfig   `mapstructure:"metrics" toml:"metrics" json:"metrics" yaml:"metrics"`
}

// ServerConfig configures the HTTP API
type ServerConfig struct {
	Addr                   string   `mapstructure:"addr" toml:"addr" json:"addr" yaml:"addr"`
	AllowedOrigins         []string `mapstructure:"allowed_origins" toml:"allowed_origins" json:"allowed_origins" yaml:"allowed_origins"`
	ShutdownTimeoutSeconds int      `mapstructure:"shutdown_timeout_seconds" toml:"shutdown_timeout_seconds" json:"shutdown_timeout_seconds" yaml:"shutdown_timeout_seconds"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// LookupConfig configures indicator lookups
type LookupConfig struct {
	TimeoutMS     int  `mapstructure:"timeout_ms" toml:"timeout_ms" json:"timeout_ms" yaml:"timeout_ms"`             // per-provider timeout
	RecordHistory bool `mapstructure:"record_history" toml:"record_history" json:"record_history" yaml:"record_history"` // write one history row per classified lookup
}

// ProvidersConfig holds one section per threat-intelligence provider
type ProvidersConfig struct {
	VirusTotal ProviderConfig `mapstructure:"virustotal" toml:"virustotal" json:"virustotal" yaml:"virustotal"`
	AbuseIPDB  ProviderConfig `mapstructure:"abuseipdb" toml:"abuseipdb" json:"abuseipdb" yaml:"abuseipdb"`
	URLhaus    ProviderConfig `mapstructure:"urlhaus" toml:"urlhaus" json:"urlhaus" yaml:"urlhaus"`
	OTX        ProviderConfig `mapstructure:"otx" toml:"otx" json:"otx" yaml:"otx"`
}

// ProviderConfig configures a single provider
type ProviderConfig struct {
	Enabled           bool   `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	APIKey            string `mapstructure:"api_key" toml:"api_key" json:"api_key" yaml:"api_key"`
	BaseURL           string `mapstructure:"base_url" toml:"base_url" json:"base_url" yaml:"base_url"`
	RequestsPerMinute int    `mapstructure:"requests_per_minute" toml:"requests_per_minute" json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited
}

// NamedProvider pairs a provider section with its config key
type NamedProvider struct {
	Name   string
	Config ProviderConfig
}

// Ordered returns provider sections in registration order
func (p ProvidersConfig) Ordered() []NamedProvider {
	return []NamedProvider{
		{Name: ProviderVirusTotal, Config: p.VirusTotal},
		{Name: ProviderAbuseIPDB, Config: p.AbuseIPDB},
		{Name: ProviderURLhaus, Config: p.URLhaus},
		{Name: ProviderOTX, Config: p.OTX},
	}
}

// Provider config keys
const (
	ProviderVirusTotal = "virustotal"
	ProviderAbuseIPDB  = "abuseipdb"
	ProviderURLhaus    = "urlhaus"
	ProviderOTX        = "otx"
)

// NewsConfig configures RSS ingestion
type NewsConfig struct {
	Enabled    bool         `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	Schedule   string       `mapstructure:"schedule" toml:"schedule" json:"schedule" yaml:"schedule"` // standard 5-field cron spec
	RunOnStart bool         `mapstructure:"run_on_start" toml:"run_on_start" json:"run_on_start" yaml:"run_on_start"`
	Feeds      []FeedConfig `mapstructure:"feeds" toml:"feeds" json:"feeds" yaml:"feeds"`
}

// FeedConfig is one RSS or Atom feed
type FeedConfig struct {
	Name    string `mapstructure:"name" toml:"name" json:"name" yaml:"name"`
	FeedURL string `mapstructure:"feed_url" toml:"feed_url" json:"feed_url" yaml:"feed_url"`
	SiteURL string `mapstructure:"site_url" toml:"site_url" json:"site_url" yaml:"site_url"`
}

// MetricsConfig configures the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" toml:"enabled" json:"enabled" yaml:"enabled"`
	Path    string `mapstructure:"path" toml:"path" json:"path" yaml:"path"`
}

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
