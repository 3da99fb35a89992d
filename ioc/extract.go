package ioc

import (
	"io"
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

// Extracted is one indicator found in unstructured text.
type Extracted struct {
	Type  Type   `json:"type"`
	Value string `json:"value"`
}

// Candidate patterns are deliberately loose; every candidate is re-checked by
// Classify before it is accepted. Order matters: earlier patterns win the
// first-seen position in the output.
var candidatePatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bhttps?://[^\s"'<>]+`),
	regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\.){3}(?:25[0-5]|2[0-4]\d|1\d\d|[1-9]?\d)\b`),
	regexp.MustCompile(`(?i)\b(?:[a-f0-9]{1,4}:{1,2}){2,7}[a-f0-9]{1,4}\b`),
	regexp.MustCompile(`(?i)\b(?:[a-z0-9-]+\.)+[a-z]{2,}\b`),
	regexp.MustCompile(`(?i)\b(?:[a-f0-9]{64}|[a-f0-9]{40}|[a-f0-9]{32})\b`),
}

const (
	leadingBoundary  = " \t\r\n\"'`([{<"
	trailingBoundary = " \t\r\n\"'`)]}>.,;:"
)

// ExtractIOCs finds indicators in free text such as RSS article bodies.
// HTML markup is stripped first. Results are normalized and deduplicated by
// type and value, in first-seen order.
func ExtractIOCs(text string) []Extracted {
	plain := StripHTML(text)

	var candidates []string
	seenCandidate := make(map[string]struct{})
	for _, pattern := range candidatePatterns {
		for _, match := range pattern.FindAllString(plain, -1) {
			c := trimBoundaries(match)
			if c == "" {
				continue
			}
			if _, ok := seenCandidate[c]; ok {
				continue
			}
			seenCandidate[c] = struct{}{}
			candidates = append(candidates, c)
		}
	}

	seen := make(map[string]struct{})
	var out []Extracted
	for _, candidate := range candidates {
		classified := Classify(candidate)
		if !classified.Detected() {
			continue
		}
		value := NormalizeForStorage(candidate, classified.Type)
		if value == "" {
			continue
		}
		key := string(classified.Type) + ":" + value
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, Extracted{Type: classified.Type, Value: value})
	}
	return out
}

// NormalizeForStorage produces the canonical stored form of an indicator:
// lower case, URLs without scheme or trailing slashes, domains as bare hosts,
// IPs without brackets.
func NormalizeForStorage(raw string, t Type) string {
	v := trimBoundaries(strings.ToLower(strings.TrimSpace(raw)))
	if v == "" {
		return ""
	}

	switch t {
	case TypeURL:
		v = stripScheme(v)
		v = strings.TrimRight(v, "/")
	case TypeDomain:
		v = stripScheme(v)
		if i := strings.IndexByte(v, '/'); i >= 0 {
			v = v[:i]
		}
		v = strings.TrimSuffix(v, ".")
	case TypeIP:
		v = strings.TrimPrefix(v, "[")
		v = strings.TrimSuffix(v, "]")
	}
	return v
}

// StripHTML returns the text content of an HTML fragment, with tags replaced
// by spaces and entities decoded. Plain text passes through unchanged.
func StripHTML(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return s
	}

	z := html.NewTokenizer(strings.NewReader(s))
	var b strings.Builder
	for {
		switch z.Next() {
		case html.ErrorToken:
			if z.Err() == io.EOF {
				return b.String()
			}
			// Malformed markup: keep what we have plus the raw remainder.
			b.Write(z.Raw())
			return b.String()
		case html.TextToken:
			b.Write(z.Text())
		default:
			b.WriteByte(' ')
		}
	}
}

func trimBoundaries(s string) string {
	s = strings.TrimLeft(s, leadingBoundary)
	return strings.TrimRight(s, trailingBoundary)
}

func stripScheme(v string) string {
	for _, prefix := range []string{"http://", "https://"} {
		if strings.HasPrefix(v, prefix) {
			return v[len(prefix):]
		}
	}
	return v
}
