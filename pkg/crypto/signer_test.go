package crypto

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}
	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
	// 04 prefix + 64 bytes uncompressed
	if len(signer.PublicKeyHex()) != 130 {
		t.Errorf("public key hex length = %d, want 130", len(signer.PublicKeyHex()))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()
	privHex := signer1.PrivateKeyHex()

	for _, in := range []string{privHex, "0x" + privHex} {
		signer2, err := FromPrivateKeyHex(in)
		if err != nil {
			t.Fatalf("failed to load key %q: %v", in, err)
		}
		if signer2.Address() != signer1.Address() {
			t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
		}
	}

	if _, err := FromPrivateKeyHex("zz"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	message := []byte("create_offer")

	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != SignatureLength {
		t.Errorf("signature length = %d, want %d", len(signature), SignatureLength)
	}

	hash := eth_crypto.Keccak256(message)
	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}

	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	if VerifySignature(common.HexToAddress("0x01"), hash, signature) {
		t.Error("signature should not verify with wrong address")
	}
}

func TestInvalidSignature(t *testing.T) {
	signer, _ := GenerateKey()
	hash := common.BytesToHash([]byte("test")).Bytes()

	if VerifySignature(signer.Address(), hash, []byte{1, 2, 3}) {
		t.Error("short signature should not verify")
	}
	if VerifySignature(signer.Address(), []byte("short"), make([]byte, SignatureLength)) {
		t.Error("short hash should not verify")
	}
}

func TestSignatureHexRoundTrip(t *testing.T) {
	signer, _ := GenerateKey()
	sig, _ := signer.SignMessage([]byte("settle"))

	decoded, err := DecodeSignature(EncodeSignature(sig))
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(decoded) != string(sig) {
		t.Error("signature changed after hex round trip")
	}

	if _, err := DecodeSignature("0x1234"); err == nil {
		t.Error("expected error for short signature")
	}
	if _, err := DecodeSignature("0xnothex"); err == nil {
		t.Error("expected error for non-hex signature")
	}
}
