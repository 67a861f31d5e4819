package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Address is a raw 20-byte account identifier, the same representation used by
// the collateral registry and the fungible asset contracts the engine talks to.
type Address = [20]byte

// ZeroAddress is the empty account identifier.
var ZeroAddress = Address{}

// ParseAddress decodes a 0x-prefixed, 40-character hex address.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(strings.TrimPrefix(trimmed, "0x"), "0X")
	if len(trimmed) != 40 {
		return Address{}, fmt.Errorf("invalid address length: %q", s)
	}
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return Address{}, fmt.Errorf("invalid address %q: %w", s, err)
	}
	var addr Address
	copy(addr[:], raw)
	return addr, nil
}

// FormatAddress renders the address as 0x-prefixed lowercase hex.
func FormatAddress(a Address) string {
	return "0x" + hex.EncodeToString(a[:])
}

// --- Key Management ---

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Sign produces a 65-byte [R || S || V] secp256k1 signature over the supplied
// 32-byte digest. V is 0 or 1.
func (k *PrivateKey) Sign(digest []byte) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	return ethcrypto.Sign(digest, k.PrivateKey)
}

func (k *PublicKey) Address() Address {
	var addr Address
	copy(addr[:], ethcrypto.PubkeyToAddress(*k.PublicKey).Bytes())
	return addr
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
