// Package keys provides VAPID key pairs and the signers built on them.
//
// A KeyPair is a P-256 private key that can be imported from and exported
// to PEM, DER, raw scalar and raw uncompressed-point encodings.
package keys

import (
	"context"
	"crypto"
	"crypto/ecdh"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/base64"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"

	"github.com/go-jose/go-jose/v4"
	"github.com/imjasonh/vapid/jws"
)

// PublicKeySize is the length of an uncompressed P-256 point: 0x04 || X || Y.
const PublicKeySize = 65

// PrivateKeySize is the length of a raw P-256 private scalar.
const PrivateKeySize = 32

// Signer provides VAPID signing functionality.
type Signer interface {
	// Sign signs the given SHA-256 digest and returns the signature in
	// IEEE P1363 format (r || s, 64 bytes).
	Sign(ctx context.Context, digest []byte) ([]byte, error)
	// PublicKey returns the ECDSA public key in uncompressed format.
	PublicKey() []byte
}

// ErrKeyNotInitialized is returned when a KeyPair is used before a key has
// been generated or imported.
var ErrKeyNotInitialized = errors.New("no private key defined: import or generate a key")

// KeyFormatError is returned when key material cannot be parsed as a P-256
// key in the expected encoding.
type KeyFormatError struct {
	Format string
	Msg    string
	Err    error
}

func (e *KeyFormatError) Error() string {
	msg := "invalid " + e.Format + " key"
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *KeyFormatError) Unwrap() error {
	return e.Err
}

// KeyPair is a P-256 key pair. The zero value holds no key.
type KeyPair struct {
	priv *ecdsa.PrivateKey
	pub  []byte // uncompressed format
}

// Generate creates a new key pair from crypto/rand.
func Generate() (*KeyPair, error) {
	priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return newKeyPair(priv, "generated")
}

func newKeyPair(priv *ecdsa.PrivateKey, format string) (*KeyPair, error) {
	if priv.Curve != elliptic.P256() {
		return nil, &KeyFormatError{Format: format, Msg: "key must be P-256 curve"}
	}
	pub, err := MarshalPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, &KeyFormatError{Format: format, Err: err}
	}
	return &KeyPair{priv: priv, pub: pub}, nil
}

// FromPEM parses a PEM encoded private key. Both PKCS#8 ("PRIVATE KEY") and
// SEC1 ("EC PRIVATE KEY") blocks are accepted; any "EC PARAMETERS" block in
// front of the key is skipped.
func FromPEM(data []byte) (*KeyPair, error) {
	for {
		var block *pem.Block
		block, data = pem.Decode(data)
		if block == nil {
			return nil, &KeyFormatError{Format: "PEM", Msg: "no private key block found"}
		}
		switch block.Type {
		case "PRIVATE KEY", "EC PRIVATE KEY":
			kp, err := FromDER(block.Bytes)
			if err != nil {
				return nil, &KeyFormatError{Format: "PEM", Err: err}
			}
			return kp, nil
		case "EC PARAMETERS":
			continue
		default:
			return nil, &KeyFormatError{Format: "PEM", Msg: fmt.Sprintf("unexpected block type %q", block.Type)}
		}
	}
}

// FromDER parses a binary DER private key in PKCS#8 or SEC1 form.
func FromDER(der []byte) (*KeyPair, error) {
	if key, err := x509.ParsePKCS8PrivateKey(der); err == nil {
		priv, ok := key.(*ecdsa.PrivateKey)
		if !ok {
			return nil, &KeyFormatError{Format: "DER", Msg: fmt.Sprintf("key is %T, not ECDSA", key)}
		}
		return newKeyPair(priv, "DER")
	}
	priv, err := x509.ParseECPrivateKey(der)
	if err != nil {
		return nil, &KeyFormatError{Format: "DER", Err: err}
	}
	return newKeyPair(priv, "DER")
}

// FromRawPrivate builds a key pair from a 32-byte big-endian private scalar,
// deriving the public point from it.
func FromRawPrivate(raw []byte) (*KeyPair, error) {
	if len(raw) != PrivateKeySize {
		return nil, &KeyFormatError{
			Format: "raw",
			Msg:    fmt.Sprintf("private key must be %d bytes, got %d", PrivateKeySize, len(raw)),
		}
	}
	// crypto/ecdh rejects zero and out-of-range scalars.
	ek, err := ecdh.P256().NewPrivateKey(raw)
	if err != nil {
		return nil, &KeyFormatError{Format: "raw", Err: err}
	}
	pub, err := publicKeyFromPoint(ek.PublicKey().Bytes())
	if err != nil {
		return nil, err
	}
	return newKeyPair(&ecdsa.PrivateKey{
		PublicKey: *pub,
		D:         new(big.Int).SetBytes(raw),
	}, "raw")
}

// FromBase64 builds a key pair from a base64url-encoded raw private scalar,
// the form printed by GenerateKeyPair and used in configuration.
func FromBase64(privateKeyB64 string) (*KeyPair, error) {
	raw, err := jws.DecodeBase64(privateKeyB64)
	if err != nil {
		return nil, &KeyFormatError{Format: "raw", Msg: "decoding private key", Err: err}
	}
	return FromRawPrivate(raw)
}

// GenerateKeyPair generates a new key pair and returns both keys in
// base64url format without padding.
func GenerateKeyPair() (privateKeyB64, publicKeyB64 string, err error) {
	kp, err := Generate()
	if err != nil {
		return "", "", err
	}
	return kp.PrivateKeyBase64(), kp.PublicKeyBase64(), nil
}

// PublicKeyFromRaw parses a 65-byte uncompressed point.
func PublicKeyFromRaw(raw []byte) (*ecdsa.PublicKey, error) {
	if len(raw) != PublicKeySize {
		return nil, &KeyFormatError{
			Format: "raw",
			Msg:    fmt.Sprintf("public key must be %d bytes, got %d", PublicKeySize, len(raw)),
		}
	}
	if raw[0] != 0x04 {
		return nil, &KeyFormatError{
			Format: "raw",
			Msg:    fmt.Sprintf("public key must start with 0x04, got 0x%02x", raw[0]),
		}
	}
	return publicKeyFromPoint(raw)
}

// PublicKeyFromBase64 parses a base64url-encoded uncompressed point. Padding
// is optional.
func PublicKeyFromBase64(publicKeyB64 string) (*ecdsa.PublicKey, error) {
	raw, err := jws.DecodeBase64(publicKeyB64)
	if err != nil {
		return nil, &KeyFormatError{Format: "raw", Msg: "decoding public key", Err: err}
	}
	return PublicKeyFromRaw(raw)
}

// PublicKeyFromPEM parses a PKIX ("PUBLIC KEY") PEM block.
func PublicKeyFromPEM(data []byte) (*ecdsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, &KeyFormatError{Format: "PEM", Msg: "no PEM data found"}
	}
	if block.Type != "PUBLIC KEY" {
		return nil, &KeyFormatError{Format: "PEM", Msg: fmt.Sprintf("unexpected block type %q", block.Type)}
	}
	key, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, &KeyFormatError{Format: "PEM", Err: err}
	}
	pub, ok := key.(*ecdsa.PublicKey)
	if !ok {
		return nil, &KeyFormatError{Format: "PEM", Msg: fmt.Sprintf("key is %T, not ECDSA", key)}
	}
	if pub.Curve != elliptic.P256() {
		return nil, &KeyFormatError{Format: "PEM", Msg: "key must be P-256 curve"}
	}
	return pub, nil
}

// MarshalPublicKey returns pub as a 65-byte uncompressed point.
func MarshalPublicKey(pub *ecdsa.PublicKey) ([]byte, error) {
	ek, err := pub.ECDH()
	if err != nil {
		return nil, fmt.Errorf("converting public key: %w", err)
	}
	return ek.Bytes(), nil
}

// publicKeyFromPoint validates that raw is on the curve and splits it into
// coordinates.
func publicKeyFromPoint(raw []byte) (*ecdsa.PublicKey, error) {
	if _, err := ecdh.P256().NewPublicKey(raw); err != nil {
		return nil, &KeyFormatError{Format: "raw", Msg: "not a valid P-256 point", Err: err}
	}
	return &ecdsa.PublicKey{
		Curve: elliptic.P256(),
		X:     new(big.Int).SetBytes(raw[1:33]),
		Y:     new(big.Int).SetBytes(raw[33:65]),
	}, nil
}

// ECDSAPrivateKey returns the private key.
func (k *KeyPair) ECDSAPrivateKey() (*ecdsa.PrivateKey, error) {
	if k == nil || k.priv == nil {
		return nil, ErrKeyNotInitialized
	}
	return k.priv, nil
}

// ECDSAPublicKey returns the public key.
func (k *KeyPair) ECDSAPublicKey() (*ecdsa.PublicKey, error) {
	if k == nil || k.priv == nil {
		return nil, ErrKeyNotInitialized
	}
	return &k.priv.PublicKey, nil
}

// RawPublicKey returns the 65-byte uncompressed public point.
func (k *KeyPair) RawPublicKey() ([]byte, error) {
	if k == nil || k.priv == nil {
		return nil, ErrKeyNotInitialized
	}
	return append([]byte(nil), k.pub...), nil
}

// PublicKey returns the uncompressed public point, or nil when no key is
// set. It satisfies Signer.
func (k *KeyPair) PublicKey() []byte {
	raw, _ := k.RawPublicKey()
	return raw
}

// PublicKeyBase64 returns the public key as a base64url string without
// padding, the form embedded in VAPID headers.
func (k *KeyPair) PublicKeyBase64() string {
	return base64.RawURLEncoding.EncodeToString(k.PublicKey())
}

// RawPrivateKey returns the private scalar as 32 big-endian bytes.
func (k *KeyPair) RawPrivateKey() ([]byte, error) {
	priv, err := k.ECDSAPrivateKey()
	if err != nil {
		return nil, err
	}
	return priv.D.FillBytes(make([]byte, PrivateKeySize)), nil
}

// PrivateKeyBase64 returns the raw private scalar as base64url without
// padding. It is empty when no key is set.
func (k *KeyPair) PrivateKeyBase64() string {
	raw, err := k.RawPrivateKey()
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(raw)
}

// MarshalDER returns the private key as PKCS#8 DER.
func (k *KeyPair) MarshalDER() ([]byte, error) {
	priv, err := k.ECDSAPrivateKey()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, fmt.Errorf("marshaling private key: %w", err)
	}
	return der, nil
}

// MarshalPEM returns the private key as a PKCS#8 "PRIVATE KEY" PEM block.
func (k *KeyPair) MarshalPEM() ([]byte, error) {
	der, err := k.MarshalDER()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der}), nil
}

// MarshalPublicDER returns the public key as PKIX DER.
func (k *KeyPair) MarshalPublicDER() ([]byte, error) {
	pub, err := k.ECDSAPublicKey()
	if err != nil {
		return nil, err
	}
	der, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("marshaling public key: %w", err)
	}
	return der, nil
}

// MarshalPublicPEM returns the public key as a "PUBLIC KEY" PEM block.
func (k *KeyPair) MarshalPublicPEM() ([]byte, error) {
	der, err := k.MarshalPublicDER()
	if err != nil {
		return nil, err
	}
	return pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der}), nil
}

// Sign signs the digest and returns the signature in IEEE P1363 format.
func (k *KeyPair) Sign(_ context.Context, digest []byte) ([]byte, error) {
	priv, err := k.ECDSAPrivateKey()
	if err != nil {
		return nil, err
	}
	der, err := ecdsa.SignASN1(rand.Reader, priv, digest)
	if err != nil {
		return nil, fmt.Errorf("signing: %w", err)
	}
	sig, err := jws.ParseDER(der)
	if err != nil {
		return nil, err
	}
	return sig.Raw()
}

// JWK returns the public key as a JSON Web Key.
func (k *KeyPair) JWK() (jose.JSONWebKey, error) {
	pub, err := k.ECDSAPublicKey()
	if err != nil {
		return jose.JSONWebKey{}, err
	}
	return jose.JSONWebKey{
		Key:       pub,
		Algorithm: string(jose.ES256),
		Use:       "sig",
	}, nil
}

// KeyID returns the RFC 7638 SHA-256 thumbprint of the public key,
// base64url-encoded.
func (k *KeyPair) KeyID() (string, error) {
	jwk, err := k.JWK()
	if err != nil {
		return "", err
	}
	tp, err := jwk.Thumbprint(crypto.SHA256)
	if err != nil {
		return "", fmt.Errorf("computing thumbprint: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(tp), nil
}
