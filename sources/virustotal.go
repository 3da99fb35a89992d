package sources

import (
	"context"
	"encoding/base64"
	"net/http"
	"net/url"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/provider"
)

const virusTotalBaseURL = "https://www.virustotal.com/api/v3"

// VirusTotal queries the VirusTotal v3 API
type VirusTotal struct {
	httpSource
}

// VirusTotalReport is the subset of a VirusTotal object CyberLens returns
type VirusTotalReport struct {
	Found      bool           `json:"found"`
	Stats      AnalysisStats  `json:"stats"`
	Reputation int            `json:"reputation"`
	Tags       []string       `json:"tags,omitempty"`
	Link       string         `json:"link"`
	Extra      map[string]any `json:"extra,omitempty"`
}

// AnalysisStats counts engine verdicts from the last analysis
type AnalysisStats struct {
	Malicious  int `json:"malicious"`
	Suspicious int `json:"suspicious"`
	Harmless   int `json:"harmless"`
	Undetected int `json:"undetected"`
	Timeout    int `json:"timeout"`
}

// Engines is the number of engines that produced a verdict
func (s AnalysisStats) Engines() int {
	return s.Malicious + s.Suspicious + s.Harmless + s.Undetected
}

// ThreatScore weighs malicious detections twice as heavily as suspicious ones
func (r VirusTotalReport) ThreatScore() (int, bool) {
	if !r.Found || r.Stats.Engines() == 0 {
		return 0, false
	}
	return clampScore(r.Stats.Malicious*10 + r.Stats.Suspicious*5), true
}

type virusTotalResponse struct {
	Data struct {
		Attributes struct {
			LastAnalysisStats AnalysisStats `json:"last_analysis_stats"`
			Reputation        int           `json:"reputation"`
			Tags              []string      `json:"tags"`
			Country           string        `json:"country"`
			ASOwner           string        `json:"as_owner"`
			Registrar         string        `json:"registrar"`
			TypeDescription   string        `json:"type_description"`
		} `json:"attributes"`
	} `json:"data"`
}

// NewVirusTotal creates a VirusTotal provider
func NewVirusTotal(cfg Config) *VirusTotal {
	return &VirusTotal{httpSource: newHTTPSource(am.ProviderVirusTotal, virusTotalBaseURL, cfg)}
}

func (v *VirusTotal) Name() string { return v.name }

func (v *VirusTotal) SupportedTypes() []ioc.Type {
	return []ioc.Type{ioc.TypeIP, ioc.TypeDomain, ioc.TypeURL, ioc.TypeHash}
}

func (v *VirusTotal) Query(ctx context.Context, value string, typ ioc.Type, _ provider.Options) (any, error) {
	apiPath, guiPath, err := virusTotalPaths(value, typ)
	if err != nil {
		return nil, err
	}

	req, err := v.newRequest(ctx, http.MethodGet, apiPath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("x-apikey", v.apiKey)

	var body virusTotalResponse
	found, err := v.do(ctx, req, &body, true)
	if err != nil {
		return nil, err
	}

	report := VirusTotalReport{
		Found: found,
		Link:  "https://www.virustotal.com/gui/" + guiPath,
	}
	if !found {
		return report, nil
	}

	attrs := body.Data.Attributes
	report.Stats = attrs.LastAnalysisStats
	report.Reputation = attrs.Reputation
	report.Tags = attrs.Tags

	extra := map[string]any{}
	for k, val := range map[string]string{
		"country":         attrs.Country,
		"asOwner":         attrs.ASOwner,
		"registrar":       attrs.Registrar,
		"typeDescription": attrs.TypeDescription,
	} {
		if val != "" {
			extra[k] = val
		}
	}
	if len(extra) > 0 {
		report.Extra = extra
	}
	return report, nil
}

// virusTotalPaths returns the API path and the web UI path for an indicator.
// URL identifiers are unpadded base64url of the URL itself.
func virusTotalPaths(value string, typ ioc.Type) (apiPath, guiPath string, err error) {
	escaped := url.PathEscape(value)
	switch typ {
	case ioc.TypeIP:
		return "/ip_addresses/" + escaped, "ip-address/" + escaped, nil
	case ioc.TypeDomain:
		return "/domains/" + escaped, "domain/" + escaped, nil
	case ioc.TypeURL:
		id := base64.RawURLEncoding.EncodeToString([]byte(value))
		return "/urls/" + id, "url/" + id, nil
	case ioc.TypeHash:
		return "/files/" + escaped, "file/" + escaped, nil
	}
	return "", "", errors.Wrapf(provider.ErrUnsupported, "virustotal cannot look up %s", typ)
}
