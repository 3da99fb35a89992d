package sources

import (
	"context"
	"net/http"
	"net/netip"
	"net/url"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/provider"
)

const otxBaseURL = "https://otx.alienvault.com/api/v1"

// OTX queries AlienVault Open Threat Exchange
type OTX struct {
	httpSource
}

// OTXReport summarizes the pulses that reference an indicator
type OTXReport struct {
	Found      bool     `json:"found"`
	PulseCount int      `json:"pulseCount"`
	Pulses     []string `json:"pulses,omitempty"`
	Reputation int      `json:"reputation,omitempty"`
	Country    string   `json:"country,omitempty"`
}

// otxMaxPulseNames caps how many pulse names are returned
const otxMaxPulseNames = 5

// ThreatScore grows by ten per referencing pulse
func (r OTXReport) ThreatScore() (int, bool) {
	if !r.Found {
		return 0, false
	}
	return clampScore(r.PulseCount * 10), true
}

type otxResponse struct {
	Reputation  int    `json:"reputation"`
	CountryName string `json:"country_name"`
	PulseInfo   struct {
		Count  int `json:"count"`
		Pulses []struct {
			Name string `json:"name"`
		} `json:"pulses"`
	} `json:"pulse_info"`
}

// NewOTX creates an AlienVault OTX provider
func NewOTX(cfg Config) *OTX {
	return &OTX{httpSource: newHTTPSource(am.ProviderOTX, otxBaseURL, cfg)}
}

func (o *OTX) Name() string { return o.name }

func (o *OTX) SupportedTypes() []ioc.Type {
	return []ioc.Type{ioc.TypeIP, ioc.TypeDomain, ioc.TypeURL, ioc.TypeHash}
}

func (o *OTX) Query(ctx context.Context, value string, typ ioc.Type, _ provider.Options) (any, error) {
	section, err := otxSection(value, typ)
	if err != nil {
		return nil, err
	}

	path := "/indicators/" + section + "/" + url.PathEscape(value) + "/general"
	req, err := o.newRequest(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	if o.apiKey != "" {
		req.Header.Set("X-OTX-API-KEY", o.apiKey)
	}

	var body otxResponse
	found, err := o.do(ctx, req, &body, true)
	if err != nil {
		return nil, err
	}
	if !found {
		return OTXReport{}, nil
	}

	report := OTXReport{
		Found:      true,
		PulseCount: body.PulseInfo.Count,
		Reputation: body.Reputation,
		Country:    body.CountryName,
	}
	for _, p := range body.PulseInfo.Pulses {
		if len(report.Pulses) == otxMaxPulseNames {
			break
		}
		report.Pulses = append(report.Pulses, p.Name)
	}
	return report, nil
}

// otxSection maps an indicator to the OTX indicator section name
func otxSection(value string, typ ioc.Type) (string, error) {
	switch typ {
	case ioc.TypeIP:
		addr, err := netip.ParseAddr(value)
		if err != nil {
			return "", errors.Wrapf(provider.ErrUnsupported, "otx: %q is not an IP address", value)
		}
		if addr.Is4() || addr.Is4In6() {
			return "IPv4", nil
		}
		return "IPv6", nil
	case ioc.TypeDomain:
		return "domain", nil
	case ioc.TypeURL:
		return "url", nil
	case ioc.TypeHash:
		return "file", nil
	}
	return "", errors.Wrapf(provider.ErrUnsupported, "otx cannot look up %s", typ)
}
