package vapid

import (
	"errors"

	"github.com/imjasonh/vapid/jws"
	"github.com/imjasonh/vapid/keys"
)

// The error taxonomy of the keys and jws packages, re-exported so callers
// can match any failure with a single import.
type (
	// KeyFormatError reports unparseable or wrong-length key material.
	KeyFormatError = keys.KeyFormatError
	// TokenFormatError reports a malformed compact token or segment.
	TokenFormatError = jws.TokenFormatError
	// SignatureFormatError reports a signature that is not 64 raw bytes.
	SignatureFormatError = jws.SignatureFormatError
)

// ErrKeyNotInitialized is returned when a key is used before it was
// generated or imported.
var ErrKeyNotInitialized = keys.ErrKeyNotInitialized

// ErrInvalidSignature is returned by Decode when a well-formed token does
// not verify against the public key.
var ErrInvalidSignature = errors.New("vapid: signature verification failed")

// ClaimValidationError is returned when a required claim is missing or
// malformed. No token is produced.
type ClaimValidationError struct {
	Claim string
	Msg   string
}

func (e *ClaimValidationError) Error() string {
	return "invalid " + e.Claim + " claim: " + e.Msg
}
