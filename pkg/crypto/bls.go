package crypto

import (
	"fmt"

	bls "github.com/cloudflare/circl/sign/bls"
)

type scheme = bls.KeyG1SigG2

type BLSPubKey = bls.PublicKey[scheme]

// BLSSigner holds a BLS private key. The custodian uses it to prove that a
// treasury transfer was authorized by the program itself.
type BLSSigner struct {
	sk *bls.PrivateKey[scheme]
	pk *BLSPubKey
}

// NewBLSSignerFromSeed derives a key from seed (at least 32 bytes of key material).
func NewBLSSignerFromSeed(seed []byte) (*BLSSigner, error) {
	if len(seed) < 32 {
		return nil, fmt.Errorf("bls seed must be at least 32 bytes, got %d", len(seed))
	}
	sk, err := bls.KeyGen[scheme](seed, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("bls keygen: %w", err)
	}
	return &BLSSigner{sk: sk, pk: sk.PublicKey()}, nil
}

func (s *BLSSigner) Pubkey() *BLSPubKey { return s.pk }

func (s *BLSSigner) Sign(msg []byte) []byte {
	return bls.Sign(s.sk, msg)
}

func VerifyBLS(pk *BLSPubKey, sigBytes, msg []byte) bool {
	if len(sigBytes) == 0 {
		return false
	}
	return bls.Verify(pk, msg, bls.Signature(sigBytes))
}
