// Package jws encodes and decodes the compact ES256 tokens carried in VAPID
// headers: three dot-separated base64url segments holding the JSON header,
// the JSON claims and the raw signature.
package jws

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// Header is the protected header of every VAPID token.
type Header struct {
	Type      string `json:"typ"`
	Algorithm string `json:"alg"`
}

// ES256Header is the header used by both VAPID drafts.
var ES256Header = Header{Type: "JWT", Algorithm: "ES256"}

// Segment names used in TokenFormatError.
const (
	SegmentHeader    = "header"
	SegmentClaims    = "claims"
	SegmentSignature = "signature"
)

// TokenFormatError is returned when a compact token or one of its segments
// cannot be decoded.
type TokenFormatError struct {
	// Segment names the failing segment; empty when the overall structure
	// is wrong.
	Segment string
	Msg     string
	Err     error
}

func (e *TokenFormatError) Error() string {
	msg := "malformed token"
	if e.Segment != "" {
		msg += ": " + e.Segment + " segment"
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *TokenFormatError) Unwrap() error {
	return e.Err
}

// EncodeSegment marshals v as JSON and returns it base64url-encoded without
// padding. Maps are marshaled with sorted keys, so output is stable.
func EncodeSegment(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling segment: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// DecodeSegment reverses EncodeSegment into v. Numbers decoded into
// interface values are json.Number.
func DecodeSegment(seg string, v any) error {
	b, err := DecodeBase64(seg)
	if err != nil {
		return &TokenFormatError{Msg: "invalid base64url", Err: err}
	}
	if !utf8.Valid(b) {
		return &TokenFormatError{Msg: "invalid UTF-8"}
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return &TokenFormatError{Msg: "invalid JSON", Err: err}
	}
	if dec.More() {
		return &TokenFormatError{Msg: "trailing data after JSON value"}
	}
	return nil
}

// DecodeBase64 decodes base64url text with optional trailing padding.
// Decoding is strict: the unused bits of the final character must be zero
// and line breaks are rejected, so every encoded string maps to exactly one
// byte sequence.
func DecodeBase64(s string) ([]byte, error) {
	if strings.ContainsAny(s, "\r\n") {
		return nil, errors.New("line break in base64url data")
	}
	return base64.RawURLEncoding.Strict().DecodeString(strings.TrimRight(s, "="))
}

// SigningInput returns "header.claims", the bytes covered by the signature.
func SigningInput(header, claims string) string {
	return header + "." + claims
}

// Assemble joins the three segments into a compact token.
func Assemble(header, claims, sig string) string {
	return SigningInput(header, claims) + "." + sig
}

// Split breaks a compact token into its three segments. Anything other than
// exactly two separators is malformed.
func Split(token string) (header, claims, sig string, err error) {
	if n := strings.Count(token, "."); n != 2 {
		return "", "", "", &TokenFormatError{
			Msg: fmt.Sprintf("expected 3 segments, got %d", n+1),
		}
	}
	parts := strings.SplitN(token, ".", 3)
	return parts[0], parts[1], parts[2], nil
}
