package vapid

import (
	"encoding/base64"

	"github.com/imjasonh/vapid/keys"
)

// ApplicationServerKey returns the VAPID public key formatted for use with
// the JavaScript PushManager.subscribe() method.
func ApplicationServerKey(publicKey []byte) string {
	return base64.RawURLEncoding.EncodeToString(publicKey)
}

// DecodeApplicationServerKey decodes a base64url application server key and
// checks that it is an uncompressed P-256 point.
func DecodeApplicationServerKey(key string) ([]byte, error) {
	raw, err := base64.RawURLEncoding.DecodeString(key)
	if err != nil {
		return nil, &KeyFormatError{Format: "raw", Msg: "decoding application server key", Err: err}
	}
	if _, err := keys.PublicKeyFromRaw(raw); err != nil {
		return nil, err
	}
	return raw, nil
}
