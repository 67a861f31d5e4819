package state

import (
	"errors"
	"fmt"
	"math"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"

	"github.com/NiftyApes/hsla-contracts/native/lending"
	"github.com/NiftyApes/hsla-contracts/storage"
)

var (
	loanPrefix    = []byte("lending/loan/")
	balancePrefix = []byte("lending/balance/")
	assetPrefix   = []byte("lending/asset/")
)

var errNilManager = errors.New("state: manager not initialised")

// Manager provides typed access to the lending tables over a raw key-value
// store. Records are RLP encoded. All three tables are readable independently
// of any write path.
type Manager struct {
	db storage.Database
}

// NewManager wraps the supplied database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

// storedLoan mirrors lending.LoanAuction with RLP-safe field types.
type storedLoan struct {
	NFTContractAddress [20]byte
	NFTID              *big.Int
	NFTOwner           [20]byte
	Lender             [20]byte
	Asset              [20]byte
	Amount             *big.Int
	InterestRate       *big.Int
	Duration           *big.Int
	HistoricInterest   *big.Int
	BestBidTime        uint64
	LoanExecutedTime   uint64
	AmountDrawn        *big.Int
	TimeDrawn          *big.Int
	FixedTerms         bool
}

// LoanGet retrieves the active loan for the collateral key.
func (m *Manager) LoanGet(nftContractAddress [20]byte, nftID *big.Int) (*lending.LoanAuction, bool, error) {
	if m == nil || m.db == nil {
		return nil, false, errNilManager
	}
	key, err := loanKey(nftContractAddress, nftID)
	if err != nil {
		return nil, false, err
	}
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var stored storedLoan
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, false, fmt.Errorf("state: decode loan: %w", err)
	}
	loan, err := fromStoredLoan(&stored)
	if err != nil {
		return nil, false, err
	}
	return loan, true, nil
}

// LoanPut stores the loan record under its collateral key.
func (m *Manager) LoanPut(loan *lending.LoanAuction) error {
	if m == nil || m.db == nil {
		return errNilManager
	}
	if loan == nil {
		return errors.New("state: nil loan")
	}
	key, err := loanKey(loan.NFTContractAddress, loan.NFTID)
	if err != nil {
		return err
	}
	stored, err := toStoredLoan(loan)
	if err != nil {
		return err
	}
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return fmt.Errorf("state: encode loan: %w", err)
	}
	return m.db.Put(key, encoded)
}

// LoanDelete removes the loan record for the collateral key.
func (m *Manager) LoanDelete(nftContractAddress [20]byte, nftID *big.Int) error {
	if m == nil || m.db == nil {
		return errNilManager
	}
	key, err := loanKey(nftContractAddress, nftID)
	if err != nil {
		return err
	}
	return m.db.Delete(key)
}

// BalanceGet returns the share balance for (wrappedAsset, account). Missing
// entries read as zero.
func (m *Manager) BalanceGet(wrappedAsset, account [20]byte) (*big.Int, error) {
	if m == nil || m.db == nil {
		return nil, errNilManager
	}
	raw, err := m.db.Get(balanceKey(wrappedAsset, account))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return big.NewInt(0), nil
	}
	if err != nil {
		return nil, err
	}
	balance := new(big.Int)
	if err := rlp.DecodeBytes(raw, balance); err != nil {
		return nil, fmt.Errorf("state: decode balance: %w", err)
	}
	return balance, nil
}

// BalancePut stores the share balance for (wrappedAsset, account).
func (m *Manager) BalancePut(wrappedAsset, account [20]byte, shares *big.Int) error {
	if m == nil || m.db == nil {
		return errNilManager
	}
	if shares == nil || shares.Sign() < 0 {
		return errors.New("state: balance must be non-negative")
	}
	encoded, err := rlp.EncodeToBytes(shares)
	if err != nil {
		return fmt.Errorf("state: encode balance: %w", err)
	}
	return m.db.Put(balanceKey(wrappedAsset, account), encoded)
}

// AssetMappingGet returns the wrapped asset configured for the underlying
// asset.
func (m *Manager) AssetMappingGet(asset [20]byte) ([20]byte, bool, error) {
	var wrapped [20]byte
	if m == nil || m.db == nil {
		return wrapped, false, errNilManager
	}
	raw, err := m.db.Get(assetKey(asset))
	if errors.Is(err, storage.ErrKeyNotFound) {
		return wrapped, false, nil
	}
	if err != nil {
		return wrapped, false, err
	}
	if err := rlp.DecodeBytes(raw, &wrapped); err != nil {
		return wrapped, false, fmt.Errorf("state: decode asset mapping: %w", err)
	}
	return wrapped, true, nil
}

// AssetMappingPut stores the wrapped-asset mapping for the underlying asset.
func (m *Manager) AssetMappingPut(asset, wrappedAsset [20]byte) error {
	if m == nil || m.db == nil {
		return errNilManager
	}
	encoded, err := rlp.EncodeToBytes(wrappedAsset)
	if err != nil {
		return fmt.Errorf("state: encode asset mapping: %w", err)
	}
	return m.db.Put(assetKey(asset), encoded)
}

func loanKey(nftContractAddress [20]byte, nftID *big.Int) ([]byte, error) {
	if nftID == nil || nftID.Sign() < 0 || nftID.BitLen() > 256 {
		return nil, fmt.Errorf("state: invalid nft id")
	}
	var word [32]byte
	nftID.FillBytes(word[:])
	buf := make([]byte, 0, len(loanPrefix)+20+32)
	buf = append(buf, loanPrefix...)
	buf = append(buf, nftContractAddress[:]...)
	return append(buf, word[:]...), nil
}

func balanceKey(wrappedAsset, account [20]byte) []byte {
	buf := make([]byte, 0, len(balancePrefix)+40)
	buf = append(buf, balancePrefix...)
	buf = append(buf, wrappedAsset[:]...)
	return append(buf, account[:]...)
}

func assetKey(asset [20]byte) []byte {
	buf := make([]byte, 0, len(assetPrefix)+20)
	buf = append(buf, assetPrefix...)
	return append(buf, asset[:]...)
}

func toStoredLoan(loan *lending.LoanAuction) (*storedLoan, error) {
	bestBidTime, err := int64ToUint64(loan.BestBidTime)
	if err != nil {
		return nil, fmt.Errorf("state: best bid time: %w", err)
	}
	executedTime, err := int64ToUint64(loan.LoanExecutedTime)
	if err != nil {
		return nil, fmt.Errorf("state: executed time: %w", err)
	}
	return &storedLoan{
		NFTContractAddress: loan.NFTContractAddress,
		NFTID:              nonNil(loan.NFTID),
		NFTOwner:           loan.NFTOwner,
		Lender:             loan.Lender,
		Asset:              loan.Asset,
		Amount:             nonNil(loan.Amount),
		InterestRate:       nonNil(loan.InterestRate),
		Duration:           nonNil(loan.Duration),
		HistoricInterest:   nonNil(loan.HistoricInterest),
		BestBidTime:        bestBidTime,
		LoanExecutedTime:   executedTime,
		AmountDrawn:        nonNil(loan.AmountDrawn),
		TimeDrawn:          nonNil(loan.TimeDrawn),
		FixedTerms:         loan.FixedTerms,
	}, nil
}

func fromStoredLoan(stored *storedLoan) (*lending.LoanAuction, error) {
	bestBidTime, err := uint64ToInt64(stored.BestBidTime)
	if err != nil {
		return nil, fmt.Errorf("state: best bid time: %w", err)
	}
	executedTime, err := uint64ToInt64(stored.LoanExecutedTime)
	if err != nil {
		return nil, fmt.Errorf("state: executed time: %w", err)
	}
	return &lending.LoanAuction{
		NFTContractAddress: stored.NFTContractAddress,
		NFTID:              nonNil(stored.NFTID),
		NFTOwner:           stored.NFTOwner,
		Lender:             stored.Lender,
		Asset:              stored.Asset,
		Amount:             nonNil(stored.Amount),
		InterestRate:       nonNil(stored.InterestRate),
		Duration:           nonNil(stored.Duration),
		HistoricInterest:   nonNil(stored.HistoricInterest),
		BestBidTime:        bestBidTime,
		LoanExecutedTime:   executedTime,
		AmountDrawn:        nonNil(stored.AmountDrawn),
		TimeDrawn:          nonNil(stored.TimeDrawn),
		FixedTerms:         stored.FixedTerms,
	}, nil
}

func nonNil(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

func int64ToUint64(value int64) (uint64, error) {
	if value < 0 {
		return 0, fmt.Errorf("value %d is negative", value)
	}
	return uint64(value), nil
}

func uint64ToInt64(value uint64) (int64, error) {
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("value %d exceeds int64 range", value)
	}
	return int64(value), nil
}
