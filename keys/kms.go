package keys

import (
	"context"
	"crypto/ecdsa"
	"fmt"

	kms "cloud.google.com/go/kms/apiv1"
	"cloud.google.com/go/kms/apiv1/kmspb"
	"github.com/googleapis/gax-go/v2"
	"github.com/imjasonh/vapid/jws"
)

// KMSClient is the subset of the Cloud KMS client used by KMSSigner.
// *kms.KeyManagementClient satisfies it.
type KMSClient interface {
	GetPublicKey(ctx context.Context, req *kmspb.GetPublicKeyRequest, opts ...gax.CallOption) (*kmspb.PublicKey, error)
	AsymmetricSign(ctx context.Context, req *kmspb.AsymmetricSignRequest, opts ...gax.CallOption) (*kmspb.AsymmetricSignResponse, error)
	Close() error
}

// KMSSigner implements the Signer interface using Google Cloud KMS. The key
// version must use the EC_SIGN_P256_SHA256 algorithm.
type KMSSigner struct {
	client    KMSClient
	keyName   string
	publicKey *ecdsa.PublicKey
	raw       []byte // uncompressed format
}

// NewKMSSigner creates a new KMS-backed signer.
// keyName should be in the format:
// projects/{project}/locations/{location}/keyRings/{keyRing}/cryptoKeys/{key}/cryptoKeyVersions/{version}
func NewKMSSigner(ctx context.Context, keyName string) (*KMSSigner, error) {
	client, err := kms.NewKeyManagementClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("creating KMS client: %w", err)
	}
	s, err := NewKMSSignerWithClient(ctx, client, keyName)
	if err != nil {
		client.Close()
		return nil, err
	}
	return s, nil
}

// NewKMSSignerWithClient creates a KMS-backed signer using an existing
// client. The signer takes ownership of the client and closes it in Close.
func NewKMSSignerWithClient(ctx context.Context, client KMSClient, keyName string) (*KMSSigner, error) {
	resp, err := client.GetPublicKey(ctx, &kmspb.GetPublicKeyRequest{
		Name: keyName,
	})
	if err != nil {
		return nil, fmt.Errorf("getting public key for %s: %w", keyName, err)
	}

	pub, err := PublicKeyFromPEM([]byte(resp.Pem))
	if err != nil {
		return nil, fmt.Errorf("parsing public key for %s: %w", keyName, err)
	}
	raw, err := MarshalPublicKey(pub)
	if err != nil {
		return nil, err
	}

	return &KMSSigner{
		client:    client,
		keyName:   keyName,
		publicKey: pub,
		raw:       raw,
	}, nil
}

// Sign signs the digest with KMS and returns the signature in IEEE P1363
// format.
func (s *KMSSigner) Sign(ctx context.Context, digest []byte) ([]byte, error) {
	resp, err := s.client.AsymmetricSign(ctx, &kmspb.AsymmetricSignRequest{
		Name: s.keyName,
		Digest: &kmspb.Digest{
			Digest: &kmspb.Digest_Sha256{
				Sha256: digest,
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("signing with KMS: %w", err)
	}

	// KMS returns DER-encoded signatures.
	sig, err := jws.ParseDER(resp.Signature)
	if err != nil {
		return nil, fmt.Errorf("parsing KMS signature: %w", err)
	}
	return sig.Raw()
}

// PublicKey returns the ECDSA public key in uncompressed format.
func (s *KMSSigner) PublicKey() []byte {
	return s.raw
}

// KeyName returns the KMS key version resource name.
func (s *KMSSigner) KeyName() string {
	return s.keyName
}

// Close closes the underlying KMS client.
func (s *KMSSigner) Close() error {
	return s.client.Close()
}
