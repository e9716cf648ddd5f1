package keys

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/chainguard-dev/clog"
)

// LoadFile reads a private key from path. The file may hold PEM, binary DER,
// or base64 text wrapping DER. A missing file yields an error matching
// fs.ErrNotExist.
func LoadFile(path string) (*KeyPair, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading private key file: %w", err)
	}
	kp, err := parseKeyFile(data)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", path, err)
	}
	return kp, nil
}

func parseKeyFile(data []byte) (*KeyPair, error) {
	if bytes.Contains(data, []byte("-----BEGIN")) {
		return FromPEM(data)
	}
	if kp, err := FromDER(data); err == nil {
		return kp, nil
	}
	text := strings.Join(strings.Fields(string(data)), "")
	der, err := base64.StdEncoding.DecodeString(text)
	if err != nil {
		if der, err = base64.RawURLEncoding.DecodeString(strings.TrimRight(text, "=")); err != nil {
			return nil, &KeyFormatError{Format: "DER", Msg: "content is neither PEM, DER nor base64 DER"}
		}
	}
	return FromDER(der)
}

// GenerateFile generates a new key pair and writes it to path, replacing any
// existing content.
func GenerateFile(path string) (*KeyPair, error) {
	kp, err := Generate()
	if err != nil {
		return nil, err
	}
	if err := kp.Save(path); err != nil {
		return nil, err
	}
	return kp, nil
}

// LoadOrGenerateFile loads the key at path, generating and saving a new one
// if the file does not exist.
//
// Creation is not atomic: concurrent first use of the same path may race and
// overwrite the file. Callers that share a path must serialize the first
// call or provision the key ahead of time.
func LoadOrGenerateFile(ctx context.Context, path string) (*KeyPair, error) {
	kp, err := LoadFile(path)
	if err == nil {
		return kp, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	kp, err = GenerateFile(path)
	if err != nil {
		return nil, err
	}
	clog.FromContext(ctx).With("path", path, "publicKey", kp.PublicKeyBase64()).Info("generated new VAPID key")
	return kp, nil
}

// Save writes the private key to path with mode 0600. Paths ending in .der
// get binary PKCS#8 DER, everything else PEM.
func (k *KeyPair) Save(path string) error {
	var (
		data []byte
		err  error
	)
	if isDERPath(path) {
		data, err = k.MarshalDER()
	} else {
		data, err = k.MarshalPEM()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("writing private key: %w", err)
	}
	return nil
}

// SavePublic writes only the public key to path, PEM or PKIX DER following
// the same extension rule as Save.
func (k *KeyPair) SavePublic(path string) error {
	var (
		data []byte
		err  error
	)
	if isDERPath(path) {
		data, err = k.MarshalPublicDER()
	} else {
		data, err = k.MarshalPublicPEM()
	}
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing public key: %w", err)
	}
	return nil
}

func isDERPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".der")
}
