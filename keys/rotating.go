package keys

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"sync"
	"time"
)

// RotatingSigner signs with a current key while remembering previous keys.
//
// Tokens issued under a previous key stay verifiable until they expire, so
// the previous signers are kept until the issuance ledger shows no live
// tokens for them (see RemoveUnusedKeys).
type RotatingSigner struct {
	mu       sync.RWMutex
	current  Signer
	previous []Signer // most recent first
}

// NewRotatingSigner creates a new rotating signer with the given current key.
func NewRotatingSigner(current Signer) *RotatingSigner {
	return &RotatingSigner{current: current}
}

// CurrentSigner is implemented by signers that delegate to a replaceable
// key. Current returns the key in use now, so a caller can read its public
// key and sign with it without a rotation in between.
type CurrentSigner interface {
	Current() Signer
}

// Current returns the current key.
func (r *RotatingSigner) Current() Signer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Sign signs the digest using the current key.
func (r *RotatingSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	r.mu.RLock()
	cur := r.current
	r.mu.RUnlock()
	return cur.Sign(ctx, digest)
}

// PublicKey returns the current public key in uncompressed format.
func (r *RotatingSigner) PublicKey() []byte {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current.PublicKey()
}

// Rotate makes newKey current and moves the old current key to the front of
// the previous keys.
func (r *RotatingSigner) Rotate(newKey Signer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.previous = append([]Signer{r.current}, r.previous...)
	r.current = newKey
}

// KeyCount returns the total number of keys (current + previous).
func (r *RotatingSigner) KeyCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return 1 + len(r.previous)
}

// AllKeysBase64 returns every public key as base64url, current first.
func (r *RotatingSigner) AllKeysBase64() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := []string{base64.RawURLEncoding.EncodeToString(r.current.PublicKey())}
	for _, s := range r.previous {
		out = append(out, base64.RawURLEncoding.EncodeToString(s.PublicKey()))
	}
	return out
}

// SignerForKey returns the signer whose public key matches the base64url
// encoded key, or nil when the key is unknown or malformed.
func (r *RotatingSigner) SignerForKey(publicKeyB64 string) Signer {
	raw, err := base64.RawURLEncoding.DecodeString(publicKeyB64)
	if err != nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	if bytes.Equal(r.current.PublicKey(), raw) {
		return r.current
	}
	for _, s := range r.previous {
		if bytes.Equal(s.PublicKey(), raw) {
			return s
		}
	}
	return nil
}

// RemoveOldestKey drops the oldest previous key.
func (r *RotatingSigner) RemoveOldestKey() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.previous) == 0 {
		return errors.New("no previous keys to remove")
	}
	r.previous = r.previous[:len(r.previous)-1]
	return nil
}

// ActiveTokenCounter counts unexpired tokens issued under a key.
// storage.Storage implements it.
type ActiveTokenCounter interface {
	CountActiveByKey(ctx context.Context, keyID string, at time.Time) (int, error)
}

// RemoveUnusedKeysResult contains the result of a RemoveUnusedKeys operation.
type RemoveUnusedKeysResult struct {
	// RemovedKeys contains the base64url public keys that were removed.
	RemovedKeys []string
	// RetainedKeys contains the base64url public keys kept because tokens
	// issued under them have not expired yet.
	RetainedKeys []string
}

// RemoveUnusedKeys drops previous keys that have no unexpired tokens at the
// given time. The current key is never removed.
func (r *RotatingSigner) RemoveUnusedKeys(ctx context.Context, counter ActiveTokenCounter, at time.Time) (*RemoveUnusedKeysResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	result := &RemoveUnusedKeysResult{}
	var retained []Signer
	for _, s := range r.previous {
		keyB64 := base64.RawURLEncoding.EncodeToString(s.PublicKey())
		n, err := counter.CountActiveByKey(ctx, keyB64, at)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			retained = append(retained, s)
			result.RetainedKeys = append(result.RetainedKeys, keyB64)
		} else {
			result.RemovedKeys = append(result.RemovedKeys, keyB64)
		}
	}
	r.previous = retained
	return result, nil
}
