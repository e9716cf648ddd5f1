package jws

import (
	"fmt"
	"math/big"

	"golang.org/x/crypto/cryptobyte"
	"golang.org/x/crypto/cryptobyte/asn1"
)

// RawSignatureSize is the length of an ES256 signature in IEEE P1363
// format: r and s, 32 bytes each.
const RawSignatureSize = 64

const scalarSize = RawSignatureSize / 2

// Signature is an ECDSA P-256 signature in its algebraic form.
type Signature struct {
	R, S *big.Int
}

// SignatureFormatError is returned when signature bytes cannot be decoded.
type SignatureFormatError struct {
	Msg string
}

func (e *SignatureFormatError) Error() string {
	return "malformed signature: " + e.Msg
}

// ParseRaw decodes a raw r || s signature. It fails unless raw is exactly
// 64 bytes.
func ParseRaw(raw []byte) (Signature, error) {
	if len(raw) != RawSignatureSize {
		return Signature{}, &SignatureFormatError{
			Msg: fmt.Sprintf("raw signature must be %d bytes, got %d", RawSignatureSize, len(raw)),
		}
	}
	return Signature{
		R: new(big.Int).SetBytes(raw[:scalarSize]),
		S: new(big.Int).SetBytes(raw[scalarSize:]),
	}, nil
}

// Raw returns the fixed-width big-endian concatenation of r and s,
// zero-padded to 32 bytes each.
func (s Signature) Raw() ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	raw := make([]byte, RawSignatureSize)
	s.R.FillBytes(raw[:scalarSize])
	s.S.FillBytes(raw[scalarSize:])
	return raw, nil
}

// ParseDER decodes an ASN.1 DER SEQUENCE of two INTEGERs.
func ParseDER(der []byte) (Signature, error) {
	var (
		r, s  = new(big.Int), new(big.Int)
		inner cryptobyte.String
	)
	input := cryptobyte.String(der)
	if !input.ReadASN1(&inner, asn1.SEQUENCE) ||
		!input.Empty() ||
		!inner.ReadASN1Integer(r) ||
		!inner.ReadASN1Integer(s) ||
		!inner.Empty() {
		return Signature{}, &SignatureFormatError{Msg: "invalid ASN.1 DER signature"}
	}
	sig := Signature{R: r, S: s}
	if err := sig.check(); err != nil {
		return Signature{}, err
	}
	return sig, nil
}

// DER returns the ASN.1 DER encoding of the signature, the form consumed by
// ecdsa.VerifyASN1 and produced by ecdsa.SignASN1 and Cloud KMS.
func (s Signature) DER() ([]byte, error) {
	if err := s.check(); err != nil {
		return nil, err
	}
	var b cryptobyte.Builder
	b.AddASN1(asn1.SEQUENCE, func(b *cryptobyte.Builder) {
		b.AddASN1BigInt(s.R)
		b.AddASN1BigInt(s.S)
	})
	return b.Bytes()
}

// check rejects values that cannot be P-256 signature scalars.
func (s Signature) check() error {
	if s.R == nil || s.S == nil {
		return &SignatureFormatError{Msg: "missing r or s"}
	}
	if s.R.Sign() < 0 || s.S.Sign() < 0 {
		return &SignatureFormatError{Msg: "negative r or s"}
	}
	if s.R.BitLen() > scalarSize*8 || s.S.BitLen() > scalarSize*8 {
		return &SignatureFormatError{Msg: "r or s exceeds 256 bits"}
	}
	return nil
}
