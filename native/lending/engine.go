package lending

import (
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/NiftyApes/hsla-contracts/core/events"
)

// engineState is the subset of persistence functionality the engine and the
// ledger require. state.Manager satisfies it.
type engineState interface {
	LoanGet(nftContractAddress [20]byte, nftID *big.Int) (*LoanAuction, bool, error)
	LoanPut(loan *LoanAuction) error
	LoanDelete(nftContractAddress [20]byte, nftID *big.Int) error
	BalanceGet(wrappedAsset, account [20]byte) (*big.Int, error)
	BalancePut(wrappedAsset, account [20]byte, shares *big.Int) error
	AssetMappingGet(asset [20]byte) ([20]byte, bool, error)
	AssetMappingPut(asset, wrappedAsset [20]byte) error
}

// Engine is the loan auction state machine. It consumes verified, unexpired
// offers plus the counterparty's action to originate loans, maintains the
// single active loan record per collateral item, advances it through
// draw-down, interest accrual, refinancing and repayment, and routes funds
// through the liquidity ledger.
//
// State-mutating operations are processed to completion as one atomic unit per
// collateral key. Internal bookkeeping is finalised before any external
// interface is invoked, so reentrant calls from the money market observe
// consistent state; if an external call then fails, the bookkeeping is
// compensated so the whole operation has no effect.
type Engine struct {
	state         engineState
	ledger        *Ledger
	registry      CollateralRegistry
	tokens        TokenBridge
	adapter       MoneyMarketAdapter
	admin         [20]byte
	moduleAddress [20]byte
	emitter       events.Emitter
	nowFn         func() int64
}

// NewEngine constructs a lending engine bound to its external collaborators.
// The module address is the engine's own account at the registry, token and
// money-market interfaces; the admin address gates asset-mapping
// configuration.
func NewEngine(moduleAddress, admin [20]byte, registry CollateralRegistry, tokens TokenBridge, adapter MoneyMarketAdapter) *Engine {
	return &Engine{
		ledger:        NewLedger(moduleAddress, adapter, tokens),
		registry:      registry,
		tokens:        tokens,
		adapter:       adapter,
		admin:         admin,
		moduleAddress: moduleAddress,
		emitter:       events.NoopEmitter{},
		nowFn:         func() int64 { return time.Now().Unix() },
	}
}

// SetState wires the engine and its ledger to the persistence layer.
func (e *Engine) SetState(state engineState) {
	e.state = state
	e.ledger.SetState(state)
}

// Ledger exposes the liquidity ledger for direct supply and withdraw flows.
func (e *Engine) Ledger() *Ledger { return e.ledger }

// SetNowFunc overrides the time source. Primarily intended for tests to
// provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetEmitter configures the event emitter for the engine and its ledger.
// Passing nil resets to a no-op.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
	e.ledger.SetEmitter(emitter)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

func (e *Engine) emit(event *events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

// GetOfferHash returns the canonical hash counterparties sign off-chain.
func (e *Engine) GetOfferHash(offer *Offer) ([32]byte, error) {
	return offer.Hash()
}

// GetOfferSigner recovers the account that signed the offer hash.
func (e *Engine) GetOfferSigner(hash [32]byte, sig []byte) ([20]byte, error) {
	return RecoverSigner(hash, sig)
}

// SetAssetMapping establishes the wrapped-asset mapping for an underlying
// asset. Privileged; once set for an asset the mapping is treated as stable
// for the lifetime of records referencing it.
func (e *Engine) SetAssetMapping(caller, asset, wrappedAsset [20]byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if caller != e.admin {
		return ErrUnauthorizedAdmin
	}
	if err := e.state.AssetMappingPut(asset, wrappedAsset); err != nil {
		return err
	}
	e.emit(newAssetMappedEvent(asset, wrappedAsset))
	return nil
}

// GetAssetMapping returns the wrapped asset configured for the underlying
// asset, if any.
func (e *Engine) GetAssetMapping(asset [20]byte) ([20]byte, bool, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, false, ErrNilState
	}
	return e.state.AssetMappingGet(asset)
}

// Loan returns the active loan record for the collateral key.
func (e *Engine) Loan(nftContractAddress [20]byte, nftID *big.Int) (*LoanAuction, bool, error) {
	if e == nil || e.state == nil {
		return nil, false, ErrNilState
	}
	loan, ok, err := e.state.LoanGet(nftContractAddress, nftID)
	if err != nil || !ok {
		return nil, ok, err
	}
	return loan.Clone(), true, nil
}

// OwnerOf returns the economic owner of record for an active loan: the party
// entitled to the collateral back while custody is held by the engine. The
// zero address is returned when no loan is active.
func (e *Engine) OwnerOf(nftContractAddress [20]byte, nftID *big.Int) ([20]byte, error) {
	if e == nil || e.state == nil {
		return [20]byte{}, ErrNilState
	}
	loan, ok, err := e.state.LoanGet(nftContractAddress, nftID)
	if err != nil || !ok {
		return [20]byte{}, err
	}
	return loan.NFTOwner, nil
}

// CalculateInterestAccrued reports the interest owed on the active loan at the
// supplied unix time.
func (e *Engine) CalculateInterestAccrued(nftContractAddress [20]byte, nftID *big.Int, at int64) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, ok, err := e.state.LoanGet(nftContractAddress, nftID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	return interestOwed(loan, at), nil
}

// ExecuteLoanByBid settles a lender's standing bid. The caller must currently
// own the collateral item; the recovered signer of the offer is the lender
// whose ledger balance funds the loan. On success the item moves into engine
// custody, the lender's balance is debited for the principal and a loan record
// is created with the caller as NFTOwner.
func (e *Engine) ExecuteLoanByBid(caller [20]byte, offer *Offer, sig []byte, nftID *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := offer.validateTerms(); err != nil {
		return err
	}
	loanID := offer.NFTID
	if offer.FloorTerm {
		// Floor offers match any item in the collection; the caller names
		// the item being pledged.
		if nftID == nil || nftID.Sign() < 0 {
			return ErrInvalidTerms
		}
		loanID = nftID
	} else if nftID != nil && offer.NFTID.Cmp(nftID) != 0 {
		return ErrInvalidTerms
	}
	if err := e.checkUnexpired(offer); err != nil {
		return err
	}
	if err := e.checkUnoccupied(offer.NFTContractAddress, loanID); err != nil {
		return err
	}
	holder, err := e.registry.OwnerOf(offer.NFTContractAddress, loanID)
	if err != nil {
		return fmt.Errorf("registry ownerOf: %w", err)
	}
	if holder != caller {
		return ErrUnauthorized
	}
	hash, err := offer.Hash()
	if err != nil {
		return err
	}
	lender, err := RecoverSigner(hash, sig)
	if err != nil {
		return err
	}
	return e.originate(offer, loanID, caller, lender)
}

// ExecuteLoanByAsk settles a borrower's standing ask. The recovered signer
// must be the current collateral owner; the caller is the lender supplying
// funds from their ledger balance.
func (e *Engine) ExecuteLoanByAsk(caller [20]byte, offer *Offer, sig []byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := offer.validateTerms(); err != nil {
		return err
	}
	if offer.FloorTerm {
		// An ask pledges one specific item; floor terms are a bid-side
		// construct.
		return ErrInvalidTerms
	}
	if err := e.checkUnexpired(offer); err != nil {
		return err
	}
	if err := e.checkUnoccupied(offer.NFTContractAddress, offer.NFTID); err != nil {
		return err
	}
	hash, err := offer.Hash()
	if err != nil {
		return err
	}
	signer, err := RecoverSigner(hash, sig)
	if err != nil {
		return err
	}
	holder, err := e.registry.OwnerOf(offer.NFTContractAddress, offer.NFTID)
	if err != nil {
		return fmt.Errorf("registry ownerOf: %w", err)
	}
	if signer != holder {
		return ErrSignatureMismatch
	}
	return e.originate(offer, offer.NFTID, signer, caller)
}

// originate creates the loan record, debits the lender's ledger balance and
// then performs the external custody and disbursement interactions.
func (e *Engine) originate(offer *Offer, nftID *big.Int, nftOwner, lender [20]byte) error {
	wrapped, ok, err := e.state.AssetMappingGet(offer.Asset)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnmappedAsset
	}
	shares, err := e.quoteShares(wrapped, offer.Amount)
	if err != nil {
		return err
	}
	if err := e.ledger.debitForLoan(wrapped, lender, shares); err != nil {
		return err
	}
	now := e.now()
	loan := &LoanAuction{
		NFTContractAddress: offer.NFTContractAddress,
		NFTID:              cloneBigInt(nftID),
		NFTOwner:           nftOwner,
		Lender:             lender,
		Asset:              offer.Asset,
		Amount:             cloneBigInt(offer.Amount),
		InterestRate:       cloneBigInt(offer.InterestRate),
		Duration:           cloneBigInt(offer.Duration),
		HistoricInterest:   big.NewInt(0),
		BestBidTime:        now,
		LoanExecutedTime:   now,
		AmountDrawn:        cloneBigInt(offer.Amount),
		TimeDrawn:          cloneBigInt(offer.Duration),
		FixedTerms:         offer.FixedTerms,
	}
	if err := e.state.LoanPut(loan); err != nil {
		if creditErr := e.ledger.creditFromLoan(wrapped, lender, shares); creditErr != nil {
			err = errors.Join(err, creditErr)
		}
		return err
	}
	// Internal state is final before the external calls; a failure in either
	// unwinds the record and the lender debit so the operation has no effect.
	if err := e.registry.TransferFrom(loan.NFTContractAddress, nftOwner, e.moduleAddress, loan.NFTID); err != nil {
		return e.unwindOrigination(loan, wrapped, shares, fmt.Errorf("collateral custody: %w", err))
	}
	if err := e.disburse(wrapped, loan.Asset, loan.Amount, nftOwner); err != nil {
		if returnErr := e.registry.TransferFrom(loan.NFTContractAddress, e.moduleAddress, nftOwner, loan.NFTID); returnErr != nil {
			err = errors.Join(err, returnErr)
		}
		return e.unwindOrigination(loan, wrapped, shares, err)
	}
	e.emit(newLoanExecutedEvent(loan))
	return nil
}

// unwindOrigination reverses the record write and the lender's debit when a
// later external interaction fails.
func (e *Engine) unwindOrigination(loan *LoanAuction, wrapped [20]byte, shares *big.Int, err error) error {
	if delErr := e.state.LoanDelete(loan.NFTContractAddress, loan.NFTID); delErr != nil {
		err = errors.Join(err, delErr)
	}
	if creditErr := e.ledger.creditFromLoan(wrapped, loan.Lender, shares); creditErr != nil {
		err = errors.Join(err, creditErr)
	}
	return err
}

// restoreLoan reinstates a record removed mid-operation so a failed
// settlement leaves the loan exactly as it was.
func (e *Engine) restoreLoan(loan *LoanAuction, err error) error {
	if putErr := e.state.LoanPut(loan); putErr != nil {
		return errors.Join(err, putErr)
	}
	return err
}

// DrawLoanTime extends the time charged against the drawn amount. Only the
// borrower of record may draw, and the total may not exceed the loan duration.
func (e *Engine) DrawLoanTime(caller [20]byte, nftContractAddress [20]byte, nftID *big.Int, drawTime *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if drawTime == nil || drawTime.Sign() <= 0 {
		return ErrInvalidAmount
	}
	loan, ok, err := e.state.LoanGet(nftContractAddress, nftID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLoanNotFound
	}
	if loan.NFTOwner != caller {
		return ErrUnauthorized
	}
	total := new(big.Int).Add(loan.TimeDrawn, drawTime)
	if total.Cmp(loan.Duration) > 0 {
		return ErrDrawExceeded
	}
	loan.TimeDrawn = total
	if err := e.state.LoanPut(loan); err != nil {
		return err
	}
	e.emit(newLoanDrawnEvent(loan, "time", drawTime))
	return nil
}

// DrawLoanAmount disburses additional principal up to the approved amount.
// The lender's ledger balance funds the draw.
func (e *Engine) DrawLoanAmount(caller [20]byte, nftContractAddress [20]byte, nftID *big.Int, drawAmount *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if drawAmount == nil || drawAmount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	loan, ok, err := e.state.LoanGet(nftContractAddress, nftID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLoanNotFound
	}
	if loan.NFTOwner != caller {
		return ErrUnauthorized
	}
	total := new(big.Int).Add(loan.AmountDrawn, drawAmount)
	if total.Cmp(loan.Amount) > 0 {
		return ErrDrawExceeded
	}
	wrapped, ok, err := e.state.AssetMappingGet(loan.Asset)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnmappedAsset
	}
	shares, err := e.quoteShares(wrapped, drawAmount)
	if err != nil {
		return err
	}
	if err := e.ledger.debitForLoan(wrapped, loan.Lender, shares); err != nil {
		return err
	}
	prevDrawn := loan.AmountDrawn
	loan.AmountDrawn = total
	if err := e.state.LoanPut(loan); err != nil {
		if creditErr := e.ledger.creditFromLoan(wrapped, loan.Lender, shares); creditErr != nil {
			err = errors.Join(err, creditErr)
		}
		return err
	}
	if err := e.disburse(wrapped, loan.Asset, drawAmount, caller); err != nil {
		loan.AmountDrawn = prevDrawn
		if putErr := e.state.LoanPut(loan); putErr != nil {
			err = errors.Join(err, putErr)
		}
		if creditErr := e.ledger.creditFromLoan(wrapped, loan.Lender, shares); creditErr != nil {
			err = errors.Join(err, creditErr)
		}
		return err
	}
	e.emit(newLoanDrawnEvent(loan, "amount", drawAmount))
	return nil
}

// RefinanceByLender replaces the loan's lender with the signer of a strictly
// better, unexpired bid. The previous lender is made whole (drawn principal
// plus accrued interest) from the new lender's balance via internal share
// reassignment; accrued interest folds into HistoricInterest before the
// execution time resets, so total interest owed never decreases.
func (e *Engine) RefinanceByLender(offer *Offer, sig []byte) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	if err := offer.validateTerms(); err != nil {
		return err
	}
	if err := e.checkUnexpired(offer); err != nil {
		return err
	}
	loan, ok, err := e.state.LoanGet(offer.NFTContractAddress, offer.NFTID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLoanNotFound
	}
	if loan.FixedTerms {
		return ErrFixedTerms
	}
	if loan.Asset != offer.Asset {
		return ErrInvalidTerms
	}
	if !betterTerms(loan, offer) {
		return ErrInvalidTerms
	}
	hash, err := offer.Hash()
	if err != nil {
		return err
	}
	newLender, err := RecoverSigner(hash, sig)
	if err != nil {
		return err
	}
	if newLender == loan.Lender {
		return ErrSignatureMismatch
	}
	wrapped, ok, err := e.state.AssetMappingGet(loan.Asset)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnmappedAsset
	}
	now := e.now()
	accrued := interestOwed(loan, now)
	owed := new(big.Int).Add(loan.AmountDrawn, accrued)
	shares, err := e.quoteShares(wrapped, owed)
	if err != nil {
		return err
	}
	if err := e.ledger.debitForLoan(wrapped, newLender, shares); err != nil {
		return err
	}
	if err := e.ledger.creditFromLoan(wrapped, loan.Lender, shares); err != nil {
		if creditErr := e.ledger.creditFromLoan(wrapped, newLender, shares); creditErr != nil {
			err = errors.Join(err, creditErr)
		}
		return err
	}
	previous := loan.Lender
	loan.Lender = newLender
	loan.Amount = cloneBigInt(offer.Amount)
	loan.InterestRate = cloneBigInt(offer.InterestRate)
	loan.Duration = cloneBigInt(offer.Duration)
	loan.HistoricInterest = accrued
	loan.BestBidTime = now
	loan.LoanExecutedTime = now
	loan.FixedTerms = offer.FixedTerms
	if err := e.state.LoanPut(loan); err != nil {
		if debitErr := e.ledger.debitForLoan(wrapped, previous, shares); debitErr != nil {
			err = errors.Join(err, debitErr)
		}
		if creditErr := e.ledger.creditFromLoan(wrapped, newLender, shares); creditErr != nil {
			err = errors.Join(err, creditErr)
		}
		return err
	}
	e.emit(newLoanRefinancedEvent(loan, previous))
	return nil
}

// RepayRemainingLoan settles the loan in full: the drawn principal plus
// interest owed is pulled from the caller, deposited at the money market and
// credited to the lender's balance at the market's reported mint, the record
// is destroyed and the collateral returns to the borrower of record.
func (e *Engine) RepayRemainingLoan(caller [20]byte, nftContractAddress [20]byte, nftID *big.Int) (*big.Int, error) {
	if e == nil || e.state == nil {
		return nil, ErrNilState
	}
	loan, ok, err := e.state.LoanGet(nftContractAddress, nftID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrLoanNotFound
	}
	wrapped, ok, err := e.state.AssetMappingGet(loan.Asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnmappedAsset
	}
	owed := new(big.Int).Add(loan.AmountDrawn, interestOwed(loan, e.now()))
	// Destroy the record first so a reentrant call cannot observe a
	// repayable loan; any later failure restores it untouched.
	if err := e.state.LoanDelete(nftContractAddress, nftID); err != nil {
		return nil, err
	}
	if err := e.tokens.TransferFrom(loan.Asset, caller, e.moduleAddress, owed); err != nil {
		return nil, e.restoreLoan(loan, fmt.Errorf("pull repayment: %w", err))
	}
	minted, err := e.adapter.Deposit(loan.Asset, owed)
	if err != nil {
		err = fmt.Errorf("money market deposit: %w", err)
		if returnErr := e.tokens.Transfer(loan.Asset, caller, owed); returnErr != nil {
			err = errors.Join(err, returnErr)
		}
		return nil, e.restoreLoan(loan, err)
	}
	if err := e.ledger.creditFromLoan(wrapped, loan.Lender, minted); err != nil {
		return nil, e.restoreLoan(loan, err)
	}
	if err := e.registry.TransferFrom(nftContractAddress, e.moduleAddress, loan.NFTOwner, loan.NFTID); err != nil {
		err = fmt.Errorf("return collateral: %w", err)
		if debitErr := e.ledger.debitForLoan(wrapped, loan.Lender, minted); debitErr != nil {
			err = errors.Join(err, debitErr)
		}
		return nil, e.restoreLoan(loan, err)
	}
	e.emit(newLoanRepaidEvent(loan, owed))
	return owed, nil
}

// SeizeAsset resolves a defaulted loan after its term has elapsed without
// repayment: the record is destroyed and custody of the collateral passes to
// the lender.
func (e *Engine) SeizeAsset(nftContractAddress [20]byte, nftID *big.Int) error {
	if e == nil || e.state == nil {
		return ErrNilState
	}
	loan, ok, err := e.state.LoanGet(nftContractAddress, nftID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLoanNotFound
	}
	expiry := loan.LoanExecutedTime + loan.TimeDrawn.Int64()
	if e.now() < expiry {
		return ErrLoanNotExpired
	}
	if err := e.state.LoanDelete(nftContractAddress, nftID); err != nil {
		return err
	}
	if err := e.registry.TransferFrom(nftContractAddress, e.moduleAddress, loan.Lender, loan.NFTID); err != nil {
		return e.restoreLoan(loan, fmt.Errorf("seize collateral: %w", err))
	}
	e.emit(newLoanSeizedEvent(loan))
	return nil
}

func (e *Engine) checkUnexpired(offer *Offer) error {
	if offer.Expiration == nil || !offer.Expiration.IsInt64() {
		return ErrInvalidTerms
	}
	if offer.Expiration.Int64() <= e.now() {
		return ErrOfferExpired
	}
	return nil
}

func (e *Engine) checkUnoccupied(nftContractAddress [20]byte, nftID *big.Int) error {
	_, ok, err := e.state.LoanGet(nftContractAddress, nftID)
	if err != nil {
		return err
	}
	if ok {
		return ErrCollateralEncumbered
	}
	return nil
}

// quoteShares converts an underlying amount to the share quantity to debit,
// rounding against the lender. Residue between the quoted and realised
// exchange rate accrues to the engine's own market position.
func (e *Engine) quoteShares(wrappedAsset [20]byte, amount *big.Int) (*big.Int, error) {
	rate, err := e.adapter.ExchangeRate(wrappedAsset)
	if err != nil {
		return nil, fmt.Errorf("exchange rate: %w", err)
	}
	return sharesForUnderlying(amount, rate)
}

// disburse unwraps exactly amount of underlying and sends it to the
// recipient.
func (e *Engine) disburse(wrappedAsset, asset [20]byte, amount *big.Int, recipient [20]byte) error {
	if _, err := e.adapter.RedeemUnderlying(wrappedAsset, amount); err != nil {
		return fmt.Errorf("money market redeem: %w", err)
	}
	if err := e.tokens.Transfer(asset, recipient, amount); err != nil {
		return fmt.Errorf("disburse principal: %w", err)
	}
	return nil
}

// betterTerms reports whether the offer improves on the loan's current terms:
// no field may be worse and at least one must be strictly better.
func betterTerms(loan *LoanAuction, offer *Offer) bool {
	if offer.Amount.Cmp(loan.Amount) < 0 {
		return false
	}
	if offer.InterestRate.Cmp(loan.InterestRate) > 0 {
		return false
	}
	if offer.Duration.Cmp(loan.Duration) < 0 {
		return false
	}
	return offer.Amount.Cmp(loan.Amount) > 0 ||
		offer.InterestRate.Cmp(loan.InterestRate) < 0 ||
		offer.Duration.Cmp(loan.Duration) > 0
}
