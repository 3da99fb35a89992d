package am

import (
	"os"
	"sort"
	"strings"

	"github.com/spf13/viper"
)

// ConfigSource represents where a configuration value came from
type ConfigSource string

const (
	SourceDefault     ConfigSource = "default"
	SourceSystem      ConfigSource = "system"      // /etc/cyberlens/config.toml
	SourceUser        ConfigSource = "user"        // ~/.cyberlens/am.toml
	SourceProject     ConfigSource = "project"     // project am.toml
	SourceEnvironment ConfigSource = "environment" // CYBERLENS_* env vars
)

// SourceInfo tracks where a configuration value originated
type SourceInfo struct {
	Source ConfigSource
	Path   string // file path or environment variable name
}

// SettingInfo contains metadata about a configuration setting
type SettingInfo struct {
	Key        string       `json:"key" yaml:"key"`
	Value      interface{}  `json:"value" yaml:"value"`
	Source     ConfigSource `json:"source" yaml:"source"`
	SourcePath string       `json:"source_path,omitempty" yaml:"source_path,omitempty"`
}

// secretKeySuffixes mark settings whose values are never displayed
var secretKeySuffixes = []string{"api_key"}

// Introspect lists every effective setting with its origin, sorted by key.
// Secrets are masked.
func Introspect() []SettingInfo {
	v := GetViper()
	loadMu.Lock()
	sources := make(map[string]SourceInfo, len(ConfigSources))
	for k, s := range ConfigSources {
		sources[k] = s
	}
	loadMu.Unlock()
	return introspect(v, sources)
}

func introspect(v *viper.Viper, sources map[string]SourceInfo) []SettingInfo {
	keys := v.AllKeys()
	sort.Strings(keys)

	settings := make([]SettingInfo, 0, len(keys))
	for _, key := range keys {
		info := SourceInfo{Source: SourceDefault, Path: "built-in default"}
		if si, ok := sources[key]; ok {
			info = si
		}
		if env := envKey(key); os.Getenv(env) != "" {
			info = SourceInfo{Source: SourceEnvironment, Path: env}
		}

		value := v.Get(key)
		if isSecretKey(key) {
			value = maskSecret(v.GetString(key))
		}

		settings = append(settings, SettingInfo{
			Key:        key,
			Value:      value,
			Source:     info.Source,
			SourcePath: info.Path,
		})
	}
	return settings
}

func isSecretKey(key string) bool {
	for _, suffix := range secretKeySuffixes {
		if strings.HasSuffix(key, suffix) {
			return true
		}
	}
	return false
}

// maskSecret keeps the last four characters of long secrets
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	if len(s) <= 8 {
		return "****"
	}
	return "****" + s[len(s)-4:]
}

// Redacted returns a copy of c with API keys masked, for display
func (c *Config) Redacted() *Config {
	out := *c
	out.Providers.VirusTotal.APIKey = maskSecret(c.Providers.VirusTotal.APIKey)
	out.Providers.AbuseIPDB.APIKey = maskSecret(c.Providers.AbuseIPDB.APIKey)
	out.Providers.URLhaus.APIKey = maskSecret(c.Providers.URLhaus.APIKey)
	out.Providers.OTX.APIKey = maskSecret(c.Providers.OTX.APIKey)
	out.News.Feeds = append([]FeedConfig(nil), c.News.Feeds...)
	out.Server.AllowedOrigins = append([]string(nil), c.Server.AllowedOrigins...)
	return &out
}
