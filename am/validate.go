package am

import (
	"net/url"

	"github.com/robfig/cron/v3"

	"github.com/teranos/cyberlens/errors"
)

// Validate checks that the configuration is usable. Every failure is a
// configuration error and is meant to stop startup.
func (c *Config) Validate() error {
	// Lookup timeout: 0 = default, negative = invalid
	if c.Lookup.TimeoutMS < 0 {
		return errors.NewConfigurationError("lookup.timeout_ms must be >= 0, got %d", c.Lookup.TimeoutMS)
	}

	if c.Server.ShutdownTimeoutSeconds < 0 {
		return errors.NewConfigurationError("server.shutdown_timeout_seconds must be >= 0, got %d", c.Server.ShutdownTimeoutSeconds)
	}

	for _, p := range c.Providers.Ordered() {
		if err := p.Validate(); err != nil {
			return err
		}
	}

	if c.News.Enabled {
		if _, err := cron.ParseStandard(c.GetNewsSchedule()); err != nil {
			return errors.Wrapf(errors.ErrConfiguration, "news.schedule %q is not a valid cron spec: %v", c.News.Schedule, err)
		}
		for i, feed := range c.News.Feeds {
			if feed.FeedURL == "" {
				return errors.NewConfigurationError("news.feeds[%d] (%s) has no feed_url", i, feed.Name)
			}
			if !isHTTPURL(feed.FeedURL) {
				return errors.NewConfigurationError("news.feeds[%d].feed_url must be an http(s) URL, got %q", i, feed.FeedURL)
			}
		}
	}

	if c.Metrics.Enabled && c.Metrics.Path != "" && c.Metrics.Path[0] != '/' {
		return errors.NewConfigurationError("metrics.path must start with '/', got %q", c.Metrics.Path)
	}

	return nil
}

// Validate checks one provider section. Disabled providers are always valid.
func (p NamedProvider) Validate() error {
	if !p.Config.Enabled {
		return nil
	}
	if p.Config.APIKey == "" {
		return errors.WithHintf(
			errors.NewConfigurationError("providers.%s is enabled but has no api_key", p.Name),
			"set %s or disable the provider", envKey("providers."+p.Name+".api_key"))
	}
	if p.Config.BaseURL != "" && !isHTTPURL(p.Config.BaseURL) {
		return errors.NewConfigurationError("providers.%s.base_url must be an http(s) URL, got %q", p.Name, p.Config.BaseURL)
	}
	if p.Config.RequestsPerMinute < 0 {
		return errors.NewConfigurationError("providers.%s.requests_per_minute must be >= 0, got %d", p.Name, p.Config.RequestsPerMinute)
	}
	return nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
