package lending

import (
	"math/big"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Packed offer layout: two 20-byte addresses, one 20-byte asset, five 32-byte
// words and two single-byte booleans.
const offerPackedLen = 20 + 32 + 20 + 32*4 + 2

// Hash deterministically serialises every offer field in declaration order and
// returns the keccak256 digest of the packed bytes. Addresses are packed as 20
// raw bytes, numeric fields as 32-byte big-endian words and booleans as a
// single byte, matching the tightly packed encoding counterparties sign
// off-chain. Numeric fields that are negative or exceed 256 bits fail with
// ErrInvalidTerms rather than being coerced.
func (o *Offer) Hash() ([32]byte, error) {
	var digest [32]byte
	if o == nil {
		return digest, ErrInvalidTerms
	}
	buf := make([]byte, 0, offerPackedLen)
	buf = append(buf, o.NFTContractAddress[:]...)
	buf, err := appendWord(buf, o.NFTID)
	if err != nil {
		return digest, err
	}
	buf = append(buf, o.Asset[:]...)
	for _, field := range []*big.Int{o.Amount, o.InterestRate, o.Duration, o.Expiration} {
		buf, err = appendWord(buf, field)
		if err != nil {
			return digest, err
		}
	}
	buf = append(buf, packBool(o.FixedTerms), packBool(o.FloorTerm))
	copy(digest[:], ethcrypto.Keccak256(buf))
	return digest, nil
}

func appendWord(buf []byte, v *big.Int) ([]byte, error) {
	if v == nil || v.Sign() < 0 {
		return nil, ErrInvalidTerms
	}
	word, overflow := uint256.FromBig(v)
	if overflow {
		return nil, ErrInvalidTerms
	}
	packed := word.Bytes32()
	return append(buf, packed[:]...), nil
}

func packBool(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// validateTerms applies the positivity checks shared by both origination
// paths.
func (o *Offer) validateTerms() error {
	if o == nil {
		return ErrInvalidTerms
	}
	if o.Amount == nil || o.Amount.Sign() <= 0 {
		return ErrInvalidTerms
	}
	if o.Duration == nil || o.Duration.Sign() <= 0 {
		return ErrInvalidTerms
	}
	if o.InterestRate == nil || o.InterestRate.Sign() < 0 {
		return ErrInvalidTerms
	}
	if o.NFTID == nil || o.NFTID.Sign() < 0 {
		return ErrInvalidTerms
	}
	return nil
}
