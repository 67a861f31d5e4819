package lending

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/NiftyApes/hsla-contracts/crypto"
)

// signedMessagePrefix is the personal-sign envelope wallets apply before
// signing a 32-byte digest. Offer signatures are produced over the prefixed
// offer hash.
const signedMessagePrefix = "\x19Ethereum Signed Message:\n32"

const signatureLen = 65

// RecoverSigner recovers the account that signed the supplied offer hash. The
// signature is the 65-byte [R || S || V] form with V either 0/1 or the legacy
// 27/28. It does not compare the recovered identity against any expected
// party; that comparison belongs to the caller.
func RecoverSigner(hash [32]byte, sig []byte) ([20]byte, error) {
	var signer [20]byte
	if len(sig) != signatureLen {
		return signer, fmt.Errorf("%w: signature must be %d bytes, got %d", ErrInvalidSignature, signatureLen, len(sig))
	}
	normalized := make([]byte, signatureLen)
	copy(normalized, sig)
	if normalized[64] >= 27 {
		normalized[64] -= 27
	}
	if normalized[64] > 1 {
		return signer, fmt.Errorf("%w: invalid recovery id", ErrInvalidSignature)
	}
	digest := signedMessageDigest(hash)
	pub, err := ethcrypto.SigToPub(digest, normalized)
	if err != nil {
		return signer, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	copy(signer[:], ethcrypto.PubkeyToAddress(*pub).Bytes())
	return signer, nil
}

// SignOfferHash signs the offer hash with the personal-sign envelope and
// returns a 65-byte signature with the legacy 27/28 recovery byte, the form
// wallets emit and RecoverSigner accepts.
func SignOfferHash(key *crypto.PrivateKey, hash [32]byte) ([]byte, error) {
	if key == nil {
		return nil, fmt.Errorf("%w: nil key", ErrInvalidSignature)
	}
	sig, err := key.Sign(signedMessageDigest(hash))
	if err != nil {
		return nil, err
	}
	sig[64] += 27
	return sig, nil
}

func signedMessageDigest(hash [32]byte) []byte {
	return ethcrypto.Keccak256([]byte(signedMessagePrefix), hash[:])
}
