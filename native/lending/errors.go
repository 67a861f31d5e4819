package lending

import "errors"

var (
	// ErrNilState indicates the engine was used before SetState.
	ErrNilState = errors.New("lending engine: state not configured")
	// ErrInvalidSignature covers malformed or non-recovering signatures.
	ErrInvalidSignature = errors.New("lending engine: invalid signature")
	// ErrSignatureMismatch is returned when the recovered identity is not the
	// required counterparty.
	ErrSignatureMismatch = errors.New("lending engine: signer is not the required counterparty")
	// ErrOfferExpired is returned when the current time is at or past the
	// offer expiration.
	ErrOfferExpired = errors.New("lending engine: offer expired")
	// ErrInvalidTerms covers non-positive or out-of-range offer fields and
	// floor/fixed term policy violations.
	ErrInvalidTerms = errors.New("lending engine: invalid offer terms")
	// ErrCollateralEncumbered is returned when an active loan already exists
	// for the collateral key.
	ErrCollateralEncumbered = errors.New("lending engine: collateral already encumbered")
	// ErrUnmappedAsset is returned when no wrapped asset is configured for the
	// underlying asset.
	ErrUnmappedAsset = errors.New("lending engine: no wrapped asset mapping")
	// ErrInsufficientBalance is returned when a ledger debit exceeds the
	// account's share balance.
	ErrInsufficientBalance = errors.New("lending engine: insufficient balance")
	// ErrUnauthorizedAdmin guards privileged configuration operations.
	ErrUnauthorizedAdmin = errors.New("lending engine: caller is not the administrator")
	// ErrUnauthorized is returned when a caller acts on a loan they do not
	// control.
	ErrUnauthorized = errors.New("lending engine: caller not authorized for loan")
	// ErrInvalidAmount is returned for non-positive ledger amounts.
	ErrInvalidAmount = errors.New("lending engine: amount must be positive")
	// ErrLoanNotFound is returned when no active loan exists for the key.
	ErrLoanNotFound = errors.New("lending engine: no active loan for collateral")
	// ErrFixedTerms is returned when attempting to renegotiate a fixed-terms
	// loan.
	ErrFixedTerms = errors.New("lending engine: loan terms are fixed")
	// ErrLoanNotExpired is returned when seizing collateral before the loan
	// term has elapsed.
	ErrLoanNotExpired = errors.New("lending engine: loan has not expired")
	// ErrDrawExceeded is returned when a draw-down exceeds the approved amount
	// or duration.
	ErrDrawExceeded = errors.New("lending engine: draw exceeds approved terms")
)
