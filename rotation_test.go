package vapid

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/imjasonh/vapid/keys"
	"github.com/imjasonh/vapid/storage"
)

// TestRotationWithLedger issues tokens across a key rotation and checks that
// old tokens keep verifying until the ledger shows them expired.
func TestRotationWithLedger(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	first, err := keys.LoadOrGenerateFile(ctx, filepath.Join(dir, "first.pem"))
	if err != nil {
		t.Fatalf("LoadOrGenerateFile() error = %v", err)
	}
	second, err := keys.GenerateFile(filepath.Join(dir, "second.der"))
	if err != nil {
		t.Fatalf("GenerateFile() error = %v", err)
	}

	ledger, err := storage.NewSQLite(filepath.Join(dir, "ledger.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	defer ledger.Close()

	now := time.Unix(1700000000, 0)
	rot := keys.NewRotatingSigner(first)
	s, err := New(rot, WithLedger(ledger), WithClock(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	claims := Claims{"aud": "https://push.example.net", "sub": "mailto:admin@example.com"}

	oldHeaders, err := s.Sign(ctx, claims, "")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	oldKey := s.PublicKey()

	rot.Rotate(second)
	if s.PublicKey() == oldKey {
		t.Fatal("PublicKey() unchanged after rotation")
	}
	if s.PublicKey() != second.PublicKeyBase64() {
		t.Errorf("PublicKey() = %q, want the new key", s.PublicKey())
	}
	newHeaders, err := s.Sign(ctx, claims, "")
	if err != nil {
		t.Fatalf("Sign() error = %v", err)
	}
	if oldHeaders[HeaderAuthorization] == newHeaders[HeaderAuthorization] {
		t.Error("Authorization unchanged after rotation")
	}

	// The previous key still verifies tokens it signed.
	prev := rot.SignerForKey(oldKey)
	if prev == nil {
		t.Fatal("SignerForKey(old) = nil")
	}
	ps, err := New(prev)
	if err != nil {
		t.Fatalf("New(previous) error = %v", err)
	}
	tok, _, err := ps.Token(ctx, claims)
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}
	if _, err := Decode(tok, oldKey); err != nil {
		t.Errorf("Decode(old key) error = %v", err)
	}

	res, err := rot.RemoveUnusedKeys(ctx, ledger, now)
	if err != nil {
		t.Fatalf("RemoveUnusedKeys() error = %v", err)
	}
	if len(res.RemovedKeys) != 0 || len(res.RetainedKeys) != 1 || res.RetainedKeys[0] != oldKey {
		t.Errorf("RemoveUnusedKeys(now) = %+v, want old key retained", res)
	}

	later := now.Add(DefaultExpiration)
	n, err := ledger.DeleteExpired(ctx, later)
	if err != nil {
		t.Fatalf("DeleteExpired() error = %v", err)
	}
	if n != 2 {
		t.Errorf("DeleteExpired() = %d, want 2", n)
	}
	res, err = rot.RemoveUnusedKeys(ctx, ledger, later)
	if err != nil {
		t.Fatalf("RemoveUnusedKeys() error = %v", err)
	}
	if len(res.RemovedKeys) != 1 || res.RemovedKeys[0] != oldKey {
		t.Errorf("RemoveUnusedKeys(later) = %+v, want old key removed", res)
	}
	if rot.KeyCount() != 1 {
		t.Errorf("KeyCount() = %d, want 1", rot.KeyCount())
	}
}
