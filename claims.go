package vapid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"
)

// DefaultExpiration is added to the signing time when claims carry no exp.
const DefaultExpiration = 24 * time.Hour

// Claims is a JWT claim set. aud and sub are required; everything else is
// passed through.
type Claims map[string]any

// ValidateClaims checks the required claims and returns a copy with exp
// filled in when absent. The input map is never modified.
//
// Values in the copy are in their JSON-decoded form: integral numbers of any
// Go type become int64, other numbers float64, and structs or typed slices
// become maps and []any. The copy is therefore exactly what Decode returns
// for the signed token.
//
// aud must be an http or https origin with no path, query or fragment:
// "https://push.example.com" is valid, "https://push.example.com/" is not.
// sub must start with "mailto:" or "https:". A caller-supplied exp is kept
// as is, even if it is already in the past.
func ValidateClaims(claims Claims, now time.Time) (Claims, error) {
	if err := validateAudience(claims["aud"]); err != nil {
		return nil, err
	}
	if err := validateSubject(claims["sub"]); err != nil {
		return nil, err
	}

	out := make(Claims, len(claims)+1)
	for k, v := range claims {
		cv, err := canonicalValue(v)
		if err != nil {
			return nil, &ClaimValidationError{Claim: k, Msg: "not JSON-encodable: " + err.Error()}
		}
		out[k] = cv
	}
	if v, ok := out["exp"]; !ok || v == nil {
		out["exp"] = now.Add(DefaultExpiration).Unix()
	}
	return out, nil
}

// canonicalValue returns v as it reads back from its JSON encoding.
func canonicalValue(v any) (any, error) {
	switch v.(type) {
	case nil, string, bool, int64:
		return v, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return normalizeNumbers(out), nil
}

// normalizeNumbers turns json.Number into int64 where the value is integral
// and float64 otherwise, so decoded claims compare equal to signed ones.
func normalizeNumbers(v any) any {
	switch v := v.(type) {
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n
		}
		f, _ := v.Float64()
		return f
	case map[string]any:
		for k, e := range v {
			v[k] = normalizeNumbers(e)
		}
		return v
	case []any:
		for i, e := range v {
			v[i] = normalizeNumbers(e)
		}
		return v
	}
	return v
}

func validateAudience(v any) error {
	aud, ok := v.(string)
	if !ok || aud == "" {
		return &ClaimValidationError{Claim: "aud", Msg: "missing; must be the push service origin"}
	}
	u, err := url.Parse(aud)
	if err != nil {
		return &ClaimValidationError{Claim: "aud", Msg: fmt.Sprintf("unparseable URL %q", aud)}
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return &ClaimValidationError{Claim: "aud", Msg: fmt.Sprintf("%q must use http or https", aud)}
	}
	if u.Host == "" {
		return &ClaimValidationError{Claim: "aud", Msg: fmt.Sprintf("%q has no host", aud)}
	}
	if u.Path != "" || u.RawQuery != "" || u.ForceQuery || u.Fragment != "" || u.User != nil {
		return &ClaimValidationError{Claim: "aud", Msg: fmt.Sprintf("%q must be scheme://host[:port] only", aud)}
	}
	return nil
}

func validateSubject(v any) error {
	sub, ok := v.(string)
	if !ok || sub == "" {
		return &ClaimValidationError{Claim: "sub", Msg: "missing; must be a mailto: or https: contact"}
	}
	if !strings.HasPrefix(sub, "mailto:") && !strings.HasPrefix(sub, "https:") {
		return &ClaimValidationError{Claim: "sub", Msg: fmt.Sprintf("%q must start with mailto: or https:", sub)}
	}
	return nil
}

// Audience returns the aud claim, or "" if it is not a string.
func (c Claims) Audience() string {
	s, _ := c["aud"].(string)
	return s
}

// Subject returns the sub claim, or "" if it is not a string.
func (c Claims) Subject() string {
	s, _ := c["sub"].(string)
	return s
}

// Expiration returns the exp claim as a time.
func (c Claims) Expiration() (time.Time, bool) {
	var sec int64
	switch v := c["exp"].(type) {
	case int64:
		sec = v
	case int:
		sec = int64(v)
	case int32:
		sec = int64(v)
	case float64:
		sec = int64(math.Floor(v))
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return time.Time{}, false
		}
		sec = n
	default:
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}
