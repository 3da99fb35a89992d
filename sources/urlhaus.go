package sources

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/teranos/cyberlens/am"
	"github.com/teranos/cyberlens/errors"
	"github.com/teranos/cyberlens/ioc"
	"github.com/teranos/cyberlens/provider"
)

const urlhausBaseURL = "https://urlhaus-api.abuse.ch/v1"

// URLhaus statuses
const (
	urlhausStatusOK        = "ok"
	urlhausStatusNoResults = "no_results"
)

// URLhaus queries the abuse.ch URLhaus API
type URLhaus struct {
	httpSource
}

// URLhausReport summarizes what URLhaus knows about an indicator
type URLhausReport struct {
	Found     bool     `json:"found"`
	Status    string   `json:"status,omitempty"` // url_status for URLs: online, offline
	Threat    string   `json:"threat,omitempty"`
	URLCount  int      `json:"urlCount,omitempty"`
	Tags      []string `json:"tags,omitempty"`
	FileType  string   `json:"fileType,omitempty"`
	Signature string   `json:"signature,omitempty"`
	FirstSeen string   `json:"firstSeen,omitempty"`
	Reference string   `json:"reference,omitempty"`
}

// ThreatScore treats any URLhaus listing as malicious. An online URL scores
// highest; absence from the blocklist is not evidence either way.
func (r URLhausReport) ThreatScore() (int, bool) {
	if !r.Found {
		return 0, false
	}
	if r.Status == "offline" {
		return 70, true
	}
	return 90, true
}

type urlhausResponse struct {
	QueryStatus string `json:"query_status"`

	// url endpoint
	URLStatus string   `json:"url_status"`
	Threat    string   `json:"threat"`
	DateAdded string   `json:"date_added"`
	Reference string   `json:"urlhaus_reference"`
	Tags      []string `json:"tags"`

	// host endpoint
	URLCount  flexInt `json:"url_count"`
	FirstSeen string  `json:"firstseen"`

	// payload endpoint
	FileType  string `json:"file_type"`
	Signature string `json:"signature"`
}

// NewURLhaus creates a URLhaus provider
func NewURLhaus(cfg Config) *URLhaus {
	return &URLhaus{httpSource: newHTTPSource(am.ProviderURLhaus, urlhausBaseURL, cfg)}
}

func (u *URLhaus) Name() string { return u.name }

func (u *URLhaus) SupportedTypes() []ioc.Type {
	return []ioc.Type{ioc.TypeDomain, ioc.TypeURL, ioc.TypeHash}
}

func (u *URLhaus) Query(ctx context.Context, value string, typ ioc.Type, _ provider.Options) (any, error) {
	path, form, err := urlhausRequest(value, typ)
	if err != nil {
		return nil, err
	}

	req, err := u.newRequest(ctx, http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if u.apiKey != "" {
		req.Header.Set("Auth-Key", u.apiKey)
	}

	var body urlhausResponse
	if _, err := u.do(ctx, req, &body, false); err != nil {
		return nil, err
	}

	switch body.QueryStatus {
	case urlhausStatusNoResults:
		return URLhausReport{Found: false}, nil
	case urlhausStatusOK:
	default:
		// invalid_url, invalid_host, http_post_expected and friends
		return nil, errors.Wrapf(provider.ErrRemoteRejected, "urlhaus query_status %q", body.QueryStatus)
	}

	firstSeen := body.FirstSeen
	if firstSeen == "" {
		firstSeen = body.DateAdded
	}
	return URLhausReport{
		Found:     true,
		Status:    body.URLStatus,
		Threat:    body.Threat,
		URLCount:  int(body.URLCount),
		Tags:      body.Tags,
		FileType:  body.FileType,
		Signature: body.Signature,
		FirstSeen: firstSeen,
		Reference: body.Reference,
	}, nil
}

// urlhausRequest picks the endpoint and form for an indicator. Hash lookups
// accept MD5 and SHA-256 only.
func urlhausRequest(value string, typ ioc.Type) (string, url.Values, error) {
	form := url.Values{}
	switch typ {
	case ioc.TypeURL:
		form.Set("url", value)
		return "/url/", form, nil
	case ioc.TypeDomain:
		form.Set("host", value)
		return "/host/", form, nil
	case ioc.TypeHash:
		switch len(value) {
		case 32:
			form.Set("md5_hash", value)
		case 64:
			form.Set("sha256_hash", value)
		default:
			return "", nil, errors.Wrap(provider.ErrUnsupported, "urlhaus only indexes md5 and sha256 payloads")
		}
		return "/payload/", form, nil
	}
	return "", nil, errors.Wrapf(provider.ErrUnsupported, "urlhaus cannot look up %s", typ)
}

// flexInt accepts numbers that URLhaus sometimes sends as strings
type flexInt int

func (n *flexInt) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if s == "" {
			return nil
		}
		v, err := strconv.Atoi(s)
		if err != nil {
			return errors.Wrapf(err, "parse %q as integer", s)
		}
		*n = flexInt(v)
		return nil
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return errors.Wrap(err, "decode integer")
	}
	*n = flexInt(v)
	return nil
}
