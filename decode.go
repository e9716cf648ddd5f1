package vapid

import (
	"crypto/ecdsa"
	"crypto/sha256"

	"github.com/imjasonh/vapid/jws"
	"github.com/imjasonh/vapid/keys"
)

// Decode verifies token against a base64url uncompressed public key and
// returns its claims.
//
// Structural problems yield *TokenFormatError, *KeyFormatError or
// *SignatureFormatError; a well-formed token whose signature does not verify
// yields ErrInvalidSignature. exp is not checked.
//
// Integral numbers decode as int64 and other numbers as float64, matching the
// claims returned by ValidateClaims and Signer.Token.
func Decode(token, publicKeyB64 string) (Claims, error) {
	headerSeg, claimsSeg, sigSeg, err := jws.Split(token)
	if err != nil {
		return nil, err
	}

	var header jws.Header
	if err := jws.DecodeSegment(headerSeg, &header); err != nil {
		return nil, inSegment(err, jws.SegmentHeader)
	}
	if header.Algorithm != jws.ES256Header.Algorithm {
		return nil, &jws.TokenFormatError{Segment: jws.SegmentHeader, Msg: "unsupported alg " + header.Algorithm}
	}

	pub, err := keys.PublicKeyFromBase64(publicKeyB64)
	if err != nil {
		return nil, err
	}

	rawSig, err := jws.DecodeBase64(sigSeg)
	if err != nil {
		return nil, &jws.TokenFormatError{Segment: jws.SegmentSignature, Msg: "invalid base64url", Err: err}
	}
	if err := verifyRaw(pub, []byte(jws.SigningInput(headerSeg, claimsSeg)), rawSig); err != nil {
		return nil, err
	}

	var claims Claims
	if err := jws.DecodeSegment(claimsSeg, &claims); err != nil {
		return nil, inSegment(err, jws.SegmentClaims)
	}
	for k, v := range claims {
		claims[k] = normalizeNumbers(v)
	}
	return claims, nil
}

// verifyRaw checks a raw r || s signature over msg. The raw form is
// converted to DER for ecdsa.VerifyASN1.
func verifyRaw(pub *ecdsa.PublicKey, msg, rawSig []byte) error {
	sig, err := jws.ParseRaw(rawSig)
	if err != nil {
		return err
	}
	der, err := sig.DER()
	if err != nil {
		return err
	}
	digest := sha256.Sum256(msg)
	if !ecdsa.VerifyASN1(pub, digest[:], der) {
		return ErrInvalidSignature
	}
	return nil
}

func inSegment(err error, segment string) error {
	if tfe, ok := err.(*jws.TokenFormatError); ok {
		tfe.Segment = segment
	}
	return err
}
