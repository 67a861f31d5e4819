package lending

import (
	"errors"
	"testing"

	"github.com/NiftyApes/hsla-contracts/crypto"
)

func TestSignAndRecoverRoundTrip(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash, err := baseOffer().Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig, err := SignOfferHash(key, hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	signer, err := RecoverSigner(hash, sig)
	if err != nil {
		t.Fatalf("recover: %v", err)
	}
	if signer != key.PubKey().Address() {
		t.Fatalf("recovered %x, want %x", signer, key.PubKey().Address())
	}
}

func TestRecoverSignerAcceptsBothRecoveryForms(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash, err := baseOffer().Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig, err := SignOfferHash(key, hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	want := key.PubKey().Address()

	// Legacy 27/28 form, as produced by SignOfferHash.
	if signer, err := RecoverSigner(hash, sig); err != nil || signer != want {
		t.Fatalf("legacy form: signer=%x err=%v", signer, err)
	}
	// Raw 0/1 form.
	raw := make([]byte, len(sig))
	copy(raw, sig)
	raw[64] -= 27
	if signer, err := RecoverSigner(hash, raw); err != nil || signer != want {
		t.Fatalf("raw form: signer=%x err=%v", signer, err)
	}
}

func TestRecoverSignerRejectsMalformedSignatures(t *testing.T) {
	hash, err := baseOffer().Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	for name, sig := range map[string][]byte{
		"nil":          nil,
		"short":        make([]byte, 64),
		"long":         make([]byte, 66),
		"bad recovery": append(make([]byte, 64), 9),
	} {
		if _, err := RecoverSigner(hash, sig); !errors.Is(err, ErrInvalidSignature) {
			t.Fatalf("%s: expected ErrInvalidSignature, got %v", name, err)
		}
	}
}

func TestRecoverSignerDiffersPerHash(t *testing.T) {
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	hash, err := baseOffer().Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	sig, err := SignOfferHash(key, hash)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	other := baseOffer()
	other.FloorTerm = true
	otherHash, err := other.Hash()
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	// A signature over a different hash must not recover to the signer.
	signer, err := RecoverSigner(otherHash, sig)
	if err == nil && signer == key.PubKey().Address() {
		t.Fatal("signature transplanted across offers must not authenticate")
	}
}
