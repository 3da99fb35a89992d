package sources

import (
	"time"

	"go.uber.org/zap"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/internal/httpclient"
	"github.com/teranos/cyberlens/logger"
	"github.com/teranos/cyberlens/provider"
)

// defaultClientTimeout bounds a single provider HTTP exchange. The executor's
// per-provider timeout is normally shorter and wins.
const defaultClientTimeout = 30 * time.Second

// constructors maps config keys to provider constructors
var constructors = map[string]func(Config) provider.Provider{
	am.ProviderVirusTotal: func(c Config) provider.Provider { return NewVirusTotal(c) },
	am.ProviderAbuseIPDB:  func(c Config) provider.Provider { return NewAbuseIPDB(c) },
	am.ProviderURLhaus:    func(c Config) provider.Provider { return NewURLhaus(c) },
	am.ProviderOTX:        func(c Config) provider.Provider { return NewOTX(c) },
}

// FactoryOption customizes NewRegistry
type FactoryOption func(*factory)

type factory struct {
	client *httpclient.SaferClient
	logger *zap.SugaredLogger
}

// WithClient overrides the HTTP client shared by all providers
func WithClient(client *httpclient.SaferClient) FactoryOption {
	return func(f *factory) { f.client = client }
}

// WithLogger sets the logger providers derive theirs from
func WithLogger(log *zap.SugaredLogger) FactoryOption {
	return func(f *factory) { f.logger = log }
}

// NewRegistry builds the provider registry from configuration. Enabled
// providers are registered in a fixed order; an enabled provider that is
// misconfigured is a configuration error.
func NewRegistry(cfg *am.Config, opts ...FactoryOption) (*provider.Registry, error) {
	if cfg == nil {
		return nil, errors.NewConfigurationError("no configuration")
	}

	f := &factory{}
	for _, opt := range opts {
		opt(f)
	}
	if f.client == nil {
		f.client = httpclient.NewSaferClient(defaultClientTimeout)
	}
	if f.logger == nil {
		f.logger = logger.ComponentLogger("sources")
	}

	var providers []provider.Provider
	for _, named := range cfg.Providers.Ordered() {
		if !named.Config.Enabled {
			continue
		}
		if err := named.Validate(); err != nil {
			return nil, err
		}
		build, ok := constructors[named.Name]
		if !ok {
			return nil, errors.NewConfigurationError("unknown provider %q", named.Name)
		}
		providers = append(providers, build(Config{
			APIKey:            named.Config.APIKey,
			BaseURL:           named.Config.BaseURL,
			RequestsPerMinute: named.Config.RequestsPerMinute,
			Client:            f.client,
			Logger:            f.logger.With(logger.FieldProvider, named.Name),
		}))
	}

	if len(providers) == 0 {
		f.logger.Warnw("no threat-intelligence providers enabled; lookups will classify only")
	} else {
		f.logger.Infow("providers registered", logger.FieldProviders, cfg.EnabledProviders())
	}

	return provider.NewRegistry(providers...)
}
