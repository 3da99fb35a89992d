package sources

import (
	"context"
	"net/http"
	"net/url"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/provider"
)

const (
	abuseIPDBBaseURL = "https://api.abuseipdb.com/api/v2"

	// abuseIPDBMaxAgeDays bounds how far back reports are counted
	abuseIPDBMaxAgeDays = "90"
)

// AbuseIPDB queries the AbuseIPDB v2 check endpoint
type AbuseIPDB struct {
	httpSource
}

// AbuseIPDBReport is the check result for one address
type AbuseIPDBReport struct {
	IPAddress            string `json:"ipAddress"`
	IsPublic             bool   `json:"isPublic"`
	IsWhitelisted        bool   `json:"isWhitelisted"`
	AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
	CountryCode          string `json:"countryCode,omitempty"`
	UsageType            string `json:"usageType,omitempty"`
	ISP                  string `json:"isp,omitempty"`
	Domain               string `json:"domain,omitempty"`
	TotalReports         int    `json:"totalReports"`
	NumDistinctUsers     int    `json:"numDistinctUsers"`
	LastReportedAt       string `json:"lastReportedAt,omitempty"`
}

// ThreatScore is the abuse confidence score, which is already 0..100
func (r AbuseIPDBReport) ThreatScore() (int, bool) {
	return clampScore(r.AbuseConfidenceScore), true
}

// NewAbuseIPDB creates an AbuseIPDB provider
func NewAbuseIPDB(cfg Config) *AbuseIPDB {
	return &AbuseIPDB{httpSource: newHTTPSource(am.ProviderAbuseIPDB, abuseIPDBBaseURL, cfg)}
}

func (a *AbuseIPDB) Name() string { return a.name }

func (a *AbuseIPDB) SupportedTypes() []ioc.Type {
	return []ioc.Type{ioc.TypeIP}
}

func (a *AbuseIPDB) Query(ctx context.Context, value string, typ ioc.Type, _ provider.Options) (any, error) {
	if typ != ioc.TypeIP {
		return nil, errors.Wrapf(provider.ErrUnsupported, "abuseipdb cannot look up %s", typ)
	}

	params := url.Values{}
	params.Set("ipAddress", value)
	params.Set("maxAgeInDays", abuseIPDBMaxAgeDays)

	req, err := a.newRequest(ctx, http.MethodGet, "/check?"+params.Encode(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Key", a.apiKey)

	var body struct {
		Data AbuseIPDBReport `json:"data"`
	}
	if _, err := a.do(ctx, req, &body, false); err != nil {
		return nil, err
	}
	return body.Data, nil
}
