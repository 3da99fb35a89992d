// Package ioc classifies raw indicator-of-compromise strings.
//
// Classification is pure and never fails: an input that matches none of the
// supported shapes yields a Classified value with the zero Type.
package ioc

import (
	"encoding/json"
	"strings"

	"github.com/teranos/cyberlens/errors"
)

// Type is the closed set of indicator kinds. The zero value means "none".
type Type string

const (
	TypeNone   Type = ""
	TypeIP     Type = "ip"
	TypeDomain Type = "domain"
	TypeURL    Type = "url"
	TypeHash   Type = "hash"
)

// Types lists every known type in classification priority order.
var Types = []Type{TypeIP, TypeDomain, TypeURL, TypeHash}

// Valid reports whether t is one of the known types (none is not valid).
func (t Type) Valid() bool {
	switch t {
	case TypeIP, TypeDomain, TypeURL, TypeHash:
		return true
	}
	return false
}

func (t Type) String() string {
	if t == TypeNone {
		return "none"
	}
	return string(t)
}

// MarshalJSON encodes none as null.
func (t Type) MarshalJSON() ([]byte, error) {
	if t == TypeNone {
		return []byte("null"), nil
	}
	return json.Marshal(string(t))
}

// UnmarshalJSON accepts null or a known type name.
func (t *Type) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*t = TypeNone
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return errors.Wrap(err, "decode ioc type")
	}
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType converts user input into a Type. Empty input is none.
func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return TypeNone, nil
	}
	t := Type(s)
	if !t.Valid() {
		return TypeNone, errors.NewInvalidRequestError("unknown ioc type %q (valid: ip, domain, url, hash)", s)
	}
	return t, nil
}

// Hash algorithm names by hex length.
const (
	HashMD5    = "md5"
	HashSHA1   = "sha1"
	HashSHA256 = "sha256"
)

// Classified is the result of classifying one raw input.
type Classified struct {
	Raw        string `json:"raw"`
	Normalized string `json:"normalized"`
	Type       Type   `json:"type"`
	// IPVersion is 4 or 6 for IP indicators, 0 otherwise.
	IPVersion int `json:"ipVersion,omitempty"`
	// HashAlgorithm is inferred from length alone.
	HashAlgorithm string `json:"hashAlgorithm,omitempty"`
}

// Detected reports whether classification produced a type.
func (c Classified) Detected() bool {
	return c.Type != TypeNone
}

// Validation compares a caller-asserted type with the detected one.
type Validation struct {
	IsValid          bool `json:"isValid"`
	UserSelectedType Type `json:"userSelectedType,omitempty"`
}
