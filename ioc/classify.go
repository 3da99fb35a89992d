package ioc

import (
	"net/netip"
	"net/url"
	"regexp"
	"strings"
)

var (
	domainPattern = regexp.MustCompile(`(?i)^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,63}$`)
	hexPattern    = regexp.MustCompile(`^[0-9a-fA-F]+$`)
)

const maxDomainLength = 253

// Classify maps raw input to a typed indicator.
//
// Matching order is IP, domain, URL, hash; the first match wins. IP goes first
// because dotted literals would otherwise tokenize as domains.
func Classify(raw string) Classified {
	c := Classified{Raw: raw}

	value := strings.TrimSpace(raw)
	if value == "" {
		return c
	}

	if addr, ok := parseIP(value); ok {
		c.Type = TypeIP
		c.Normalized = addr.String()
		if addr.Is4() {
			c.IPVersion = 4
		} else {
			c.IPVersion = 6
		}
		return c
	}

	if host, ok := matchDomain(value); ok {
		c.Type = TypeDomain
		c.Normalized = host
		return c
	}

	if isURL(value) {
		c.Type = TypeURL
		c.Normalized = value
		return c
	}

	if alg, ok := hashAlgorithm(value); ok {
		c.Type = TypeHash
		c.Normalized = strings.ToLower(value)
		c.HashAlgorithm = alg
		return c
	}

	return c
}

// ValidateAssertedType checks a caller's claimed type against detection.
func ValidateAssertedType(raw string, asserted Type) Validation {
	if asserted == TypeNone {
		return Validate(Classified{}, asserted)
	}
	return Validate(Classify(raw), asserted)
}

// Validate checks an asserted type against an already classified input.
// Without an assertion the input is given the benefit of the doubt.
func Validate(c Classified, asserted Type) Validation {
	if asserted == TypeNone {
		return Validation{IsValid: true}
	}
	return Validation{
		IsValid:          c.Type == asserted,
		UserSelectedType: asserted,
	}
}

func parseIP(value string) (netip.Addr, bool) {
	if strings.HasPrefix(value, "[") && strings.HasSuffix(value, "]") {
		value = value[1 : len(value)-1]
	}
	addr, err := netip.ParseAddr(value)
	if err != nil || addr.Zone() != "" {
		return netip.Addr{}, false
	}
	return addr, true
}

func matchDomain(value string) (string, bool) {
	host := strings.TrimSuffix(value, ".")
	if len(host) == 0 || len(host) > maxDomainLength {
		return "", false
	}
	if !domainPattern.MatchString(host) {
		return "", false
	}
	return strings.ToLower(host), true
}

func isURL(value string) bool {
	lower := strings.ToLower(value)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return false
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return false
	}
	u, err := url.Parse(value)
	if err != nil {
		return false
	}
	return u.Host != ""
}

func hashAlgorithm(value string) (string, bool) {
	var alg string
	switch len(value) {
	case 32:
		alg = HashMD5
	case 40:
		alg = HashSHA1
	case 64:
		alg = HashSHA256
	default:
		return "", false
	}
	if !hexPattern.MatchString(value) {
		return "", false
	}
	return alg, true
}
