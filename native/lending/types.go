package lending

import "math/big"

// Offer is the signed, off-chain set of loan terms proposed by either a lender
// (bid) or the collateral holder (ask). Offers are immutable value objects;
// their canonical hash is their identity for signature purposes.
type Offer struct {
	// NFTContractAddress identifies the collateral registry.
	NFTContractAddress [20]byte
	// NFTID identifies the collateral item within the registry. Ignored for
	// matching when FloorTerm is set.
	NFTID *big.Int
	// Asset is the fungible asset the loan is denominated in.
	Asset [20]byte
	// Amount is the loan principal in the asset's smallest unit.
	Amount *big.Int
	// InterestRate is the simple annual rate in basis points.
	InterestRate *big.Int
	// Duration is the loan term in seconds.
	Duration *big.Int
	// Expiration is the unix timestamp after which the offer is void.
	Expiration *big.Int
	// FixedTerms marks the resulting loan as non-renegotiable mid-term.
	FixedTerms bool
	// FloorTerm makes the offer applicable to any item in the collection
	// rather than the single item named by NFTID.
	FloorTerm bool
}

// Clone returns a deep copy so callers can safely mutate the copy without
// affecting the original offer.
func (o *Offer) Clone() *Offer {
	if o == nil {
		return nil
	}
	clone := *o
	clone.NFTID = cloneBigInt(o.NFTID)
	clone.Amount = cloneBigInt(o.Amount)
	clone.InterestRate = cloneBigInt(o.InterestRate)
	clone.Duration = cloneBigInt(o.Duration)
	clone.Expiration = cloneBigInt(o.Expiration)
	return &clone
}

// LoanAuction is the record of a currently active loan against one collateral
// item, keyed by (NFTContractAddress, NFTID). A record exists if and only if
// the collateral item is held in engine custody.
type LoanAuction struct {
	NFTContractAddress [20]byte
	NFTID              *big.Int
	// NFTOwner is the party entitled to the collateral back on repayment.
	NFTOwner [20]byte
	// Lender is the counterparty whose liquidity funds the loan.
	Lender [20]byte
	Asset  [20]byte
	// Amount is the approved principal; AmountDrawn tracks actual draw-down.
	Amount       *big.Int
	InterestRate *big.Int
	Duration     *big.Int
	// HistoricInterest accumulates interest locked in by prior refinancings.
	HistoricInterest *big.Int
	// BestBidTime is when the winning offer was accepted.
	BestBidTime int64
	// LoanExecutedTime is when the current terms took effect; interest accrues
	// from this point.
	LoanExecutedTime int64
	AmountDrawn      *big.Int
	// TimeDrawn is the elapsed time charged against the drawn amount, in
	// seconds, capped by Duration.
	TimeDrawn  *big.Int
	FixedTerms bool
}

// Clone returns a deep copy of the loan record.
func (l *LoanAuction) Clone() *LoanAuction {
	if l == nil {
		return nil
	}
	clone := *l
	clone.NFTID = cloneBigInt(l.NFTID)
	clone.Amount = cloneBigInt(l.Amount)
	clone.InterestRate = cloneBigInt(l.InterestRate)
	clone.Duration = cloneBigInt(l.Duration)
	clone.HistoricInterest = cloneBigInt(l.HistoricInterest)
	clone.AmountDrawn = cloneBigInt(l.AmountDrawn)
	clone.TimeDrawn = cloneBigInt(l.TimeDrawn)
	return &clone
}

func cloneBigInt(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
