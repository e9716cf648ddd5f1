// Package vapid issues and verifies VAPID (Voluntary Application Server
// Identification) tokens for Web Push, as described in
// draft-ietf-webpush-vapid-01 and -02.
//
// A Signer owns one key and produces the Authorization (and, for draft-01,
// Crypto-Key) headers for a claim set. Decode verifies a token against a
// base64url public key and returns its claims.
package vapid

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/imjasonh/vapid/jws"
	"github.com/imjasonh/vapid/keys"
	"github.com/imjasonh/vapid/storage"
)

// Signer builds signed VAPID headers with a single key. It holds no mutable
// state and is safe for concurrent use if its key signer is.
type Signer struct {
	key     keys.Signer
	variant Variant
	now     func() time.Time
	ledger  storage.Storage
}

// Option configures a Signer.
type Option func(*Signer)

// WithVariant selects the header layout. The default is Draft02.
func WithVariant(v Variant) Option {
	return func(s *Signer) { s.variant = v }
}

// WithClock sets the time source used for the default exp claim.
func WithClock(now func() time.Time) Option {
	return func(s *Signer) { s.now = now }
}

// WithLedger records every issued token in st. A failed write fails the
// sign call.
func WithLedger(st storage.Storage) Option {
	return func(s *Signer) { s.ledger = st }
}

// New creates a Signer for key. key is typically a *keys.KeyPair, a
// *keys.KMSSigner or a *keys.RotatingSigner. The public key is read from key
// on every call, so a rotating key is picked up without rebuilding the
// Signer.
func New(key keys.Signer, opts ...Option) (*Signer, error) {
	if key == nil {
		return nil, ErrKeyNotInitialized
	}
	raw := key.PublicKey()
	if len(raw) == 0 {
		return nil, ErrKeyNotInitialized
	}
	if _, err := keys.PublicKeyFromRaw(raw); err != nil {
		return nil, err
	}

	s := &Signer{
		key:     key,
		variant: Draft02,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// PublicKey returns the signer's public key as base64url without padding,
// the value of the k= and p256ecdsa= parameters.
func (s *Signer) PublicKey() string {
	return base64.RawURLEncoding.EncodeToString(s.key.PublicKey())
}

// Variant returns the header layout the signer produces.
func (s *Signer) Variant() Variant {
	return s.variant
}

// Token validates claims and returns the signed compact token together with
// the claims that were signed (exp filled in).
func (s *Signer) Token(ctx context.Context, claims Claims) (string, Claims, error) {
	token, _, signed, err := s.issue(ctx, claims)
	return token, signed, err
}

// issue signs claims and returns the token with the public key it verifies
// under.
func (s *Signer) issue(ctx context.Context, claims Claims) (token, publicKey string, signed Claims, err error) {
	now := s.now()
	signed, err = ValidateClaims(claims, now)
	if err != nil {
		return "", "", nil, err
	}

	header, err := jws.EncodeSegment(jws.ES256Header)
	if err != nil {
		return "", "", nil, err
	}
	payload, err := jws.EncodeSegment(signed)
	if err != nil {
		return "", "", nil, err
	}

	input := jws.SigningInput(header, payload)
	sig, publicKey, err := s.sign(ctx, []byte(input))
	if err != nil {
		return "", "", nil, fmt.Errorf("signing JWT: %w", err)
	}
	token = jws.Assemble(header, payload, base64.RawURLEncoding.EncodeToString(sig))

	if s.ledger != nil {
		if err := s.record(ctx, publicKey, signed, now); err != nil {
			return "", "", nil, err
		}
	}
	return token, publicKey, signed, nil
}

// maxSignAttempts bounds retries when the key changes mid-signature.
const maxSignAttempts = 3

// sign signs msg and returns the raw signature with the base64url public key
// it verifies under. Signers exposing keys.CurrentSigner are pinned to one
// key for the call; for any other signer the result is verified against the
// public key read before signing, and retried if a rotation slipped in
// between.
func (s *Signer) sign(ctx context.Context, msg []byte) ([]byte, string, error) {
	digest := sha256.Sum256(msg)
	for range maxSignAttempts {
		key := s.key
		if cs, ok := key.(keys.CurrentSigner); ok {
			key = cs.Current()
		}
		raw := key.PublicKey()
		pub, err := keys.PublicKeyFromRaw(raw)
		if err != nil {
			return nil, "", err
		}

		sig, err := key.Sign(ctx, digest[:])
		if err != nil {
			return nil, "", err
		}
		if _, err := jws.ParseRaw(sig); err != nil {
			return nil, "", err
		}
		if verifyRaw(pub, msg, sig) == nil {
			return sig, base64.RawURLEncoding.EncodeToString(raw), nil
		}
		if bytes.Equal(key.PublicKey(), raw) {
			// Same key, bad signature: the signer itself is broken.
			return nil, "", fmt.Errorf("signer output does not verify: %w", ErrInvalidSignature)
		}
	}
	return nil, "", errors.New("key changed during every signing attempt")
}

func (s *Signer) record(ctx context.Context, publicKey string, claims Claims, issuedAt time.Time) error {
	exp, _ := claims.Expiration()
	err := s.ledger.Save(ctx, &storage.Record{
		ID:        uuid.NewString(),
		KeyID:     publicKey,
		Variant:   s.variant.Name(),
		Audience:  claims.Audience(),
		Subject:   claims.Subject(),
		IssuedAt:  issuedAt,
		ExpiresAt: exp,
	})
	if err != nil {
		return fmt.Errorf("recording issued token: %w", err)
	}
	return nil
}

// Sign validates and signs claims and returns the request headers.
// cryptoKey is an existing Crypto-Key header value to extend; draft-02
// ignores it.
func (s *Signer) Sign(ctx context.Context, claims Claims, cryptoKey string) (Headers, error) {
	token, publicKey, _, err := s.issue(ctx, claims)
	if err != nil {
		return nil, err
	}
	return s.variant.BuildHeaders(token, publicKey, cryptoKey), nil
}

// Decode verifies token against the signer's own public key.
func (s *Signer) Decode(token string) (Claims, error) {
	return Decode(token, s.PublicKey())
}

// Validate signs an arbitrary validation message, such as the token shown
// by a push service dashboard, and returns the base64url raw signature.
func (s *Signer) Validate(ctx context.Context, msg []byte) (string, error) {
	sig, _, err := s.sign(ctx, msg)
	if err != nil {
		return "", fmt.Errorf("signing validation token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(sig), nil
}

// VerifyToken reports whether token carries a valid signature over msg by
// the signer's key. token may be a bare signature, as returned by Validate,
// or a compact token whose last segment is used. It never returns an error:
// anything that fails to verify is false.
func (s *Signer) VerifyToken(msg []byte, token string) bool {
	if i := strings.LastIndexByte(token, '.'); i >= 0 {
		token = token[i+1:]
	}
	pub, err := keys.PublicKeyFromRaw(s.key.PublicKey())
	if err != nil {
		return false
	}
	raw, err := jws.DecodeBase64(token)
	if err != nil {
		return false
	}
	return verifyRaw(pub, msg, raw) == nil
}
