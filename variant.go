package vapid

import (
	"fmt"
	"net/http"
	"strings"
)

// Header names set by the protocol variants.
const (
	HeaderAuthorization = "Authorization"
	HeaderCryptoKey     = "Crypto-Key"
)

// Headers is the header set produced for one push request.
type Headers map[string]string

// Apply sets every header in h on dst.
func (h Headers) Apply(dst http.Header) {
	for k, v := range h {
		dst.Set(k, v)
	}
}

// Variant formats a signed token into the headers of one VAPID draft.
type Variant interface {
	// Name identifies the draft, e.g. "draft-02".
	Name() string
	// BuildHeaders returns the headers carrying token and the base64url
	// public key. cryptoKey is any existing Crypto-Key header value.
	BuildHeaders(token, publicKey, cryptoKey string) Headers
}

var (
	// Draft01 is draft-ietf-webpush-vapid-01: "Authorization: WebPush <jwt>"
	// plus the public key in a Crypto-Key p256ecdsa parameter.
	Draft01 Variant = draft01{}
	// Draft02 is draft-ietf-webpush-vapid-02: a single
	// "Authorization: vapid t=<jwt>,k=<key>" header.
	Draft02 Variant = draft02{}
)

type draft01 struct{}

func (draft01) Name() string { return "draft-01" }

func (draft01) BuildHeaders(token, publicKey, cryptoKey string) Headers {
	param := "p256ecdsa=" + publicKey
	if cryptoKey != "" {
		param = cryptoKey + ";" + param
	}
	return Headers{
		HeaderAuthorization: "WebPush " + token,
		HeaderCryptoKey:     param,
	}
}

type draft02 struct{}

func (draft02) Name() string { return "draft-02" }

// BuildHeaders ignores cryptoKey; draft-02 carries the key in Authorization.
func (draft02) BuildHeaders(token, publicKey, _ string) Headers {
	return Headers{
		HeaderAuthorization: "vapid t=" + token + ",k=" + publicKey,
	}
}

// ParseVariant maps "01", "draft-01", "02", "draft-02" (and the bare digits)
// to a Variant.
func ParseVariant(name string) (Variant, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(name)), "draft-") {
	case "01", "1":
		return Draft01, nil
	case "02", "2", "":
		return Draft02, nil
	}
	return nil, fmt.Errorf("unknown VAPID variant %q", name)
}
