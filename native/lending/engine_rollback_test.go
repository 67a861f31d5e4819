package lending

import (
	"errors"
	"math/big"
	"reflect"
	"testing"
)

// A failed external interaction must leave the engine's bookkeeping exactly as
// it was: no destroyed records, no stranded collateral, no lost balances.

func TestExecuteLoanByBidUnwindsWhenCustodyFails(t *testing.T) {
	f := newEngineFixture(t)
	offer := f.bid(7)
	f.registry.setOwner(testNFT, offer.NFTID, f.borrower)
	f.fund(f.lender, 100_000)
	f.registry.transferErr = errors.New("collateral locked")

	if err := f.engine.ExecuteLoanByBid(f.borrower, offer, f.sign(t, offer), nil); err == nil {
		t.Fatal("expected custody failure")
	}
	if _, ok, _ := f.engine.Loan(testNFT, offer.NFTID); ok {
		t.Fatal("loan record survived failed origination")
	}
	if got := f.balance(f.lender); got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("lender balance = %s, want 100000", got)
	}
}

func TestExecuteLoanByBidUnwindsWhenDisburseFails(t *testing.T) {
	f := newEngineFixture(t)
	offer := f.bid(7)
	f.registry.setOwner(testNFT, offer.NFTID, f.borrower)
	f.fund(f.lender, 100_000)
	f.adapter.unwrapErr = errors.New("market frozen")

	if err := f.engine.ExecuteLoanByBid(f.borrower, offer, f.sign(t, offer), nil); err == nil {
		t.Fatal("expected disburse failure")
	}
	if _, ok, _ := f.engine.Loan(testNFT, offer.NFTID); ok {
		t.Fatal("loan record survived failed origination")
	}
	if got := f.balance(f.lender); got.Cmp(big.NewInt(100_000)) != 0 {
		t.Fatalf("lender balance = %s, want 100000", got)
	}
	owner, err := f.registry.OwnerOf(testNFT, offer.NFTID)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != f.borrower {
		t.Fatalf("collateral owner = %x, want borrower", owner)
	}
}

func TestDrawLoanAmountRestoresWhenDisburseFails(t *testing.T) {
	f := newEngineFixture(t)
	offer := f.executeBid(t, 7)
	// Leave headroom to draw against.
	f.state.loans[f.state.loanKey(testNFT, offer.NFTID)].AmountDrawn = big.NewInt(4_000)
	f.adapter.unwrapErr = errors.New("market frozen")
	lenderBefore := new(big.Int).Set(f.balance(f.lender))

	if err := f.engine.DrawLoanAmount(f.borrower, testNFT, offer.NFTID, big.NewInt(500)); err == nil {
		t.Fatal("expected disburse failure")
	}
	loan, ok, err := f.engine.Loan(testNFT, offer.NFTID)
	if err != nil || !ok {
		t.Fatalf("expected loan to survive, ok=%v err=%v", ok, err)
	}
	if loan.AmountDrawn.Cmp(big.NewInt(4_000)) != 0 {
		t.Fatalf("AmountDrawn = %s, want 4000", loan.AmountDrawn)
	}
	if got := f.balance(f.lender); got.Cmp(lenderBefore) != 0 {
		t.Fatalf("lender balance = %s, want %s", got, lenderBefore)
	}
}

func TestRepayRestoresLoanWhenPullFails(t *testing.T) {
	f := newEngineFixture(t)
	offer := f.executeBid(t, 7)
	before, _, err := f.engine.Loan(testNFT, offer.NFTID)
	if err != nil {
		t.Fatalf("loan: %v", err)
	}
	lenderBefore := new(big.Int).Set(f.balance(f.lender))
	f.tokens.pullFailures[f.borrower] = errors.New("insufficient allowance")

	if _, err := f.engine.RepayRemainingLoan(f.borrower, testNFT, offer.NFTID); err == nil {
		t.Fatal("expected pull failure")
	}
	after, ok, err := f.engine.Loan(testNFT, offer.NFTID)
	if err != nil || !ok {
		t.Fatalf("expected loan to survive, ok=%v err=%v", ok, err)
	}
	if !reflect.DeepEqual(before, after) {
		t.Fatalf("loan changed across failed repayment: %+v != %+v", before, after)
	}
	owner, err := f.registry.OwnerOf(testNFT, offer.NFTID)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != testModule {
		t.Fatalf("collateral owner = %x, want custody", owner)
	}
	if got := f.balance(f.lender); got.Cmp(lenderBefore) != 0 {
		t.Fatalf("lender balance = %s, want %s", got, lenderBefore)
	}

	// Once the caller can pay, the same repayment goes through.
	delete(f.tokens.pullFailures, f.borrower)
	if _, err := f.engine.RepayRemainingLoan(f.borrower, testNFT, offer.NFTID); err != nil {
		t.Fatalf("repay after recovery: %v", err)
	}
	if _, ok, _ := f.engine.Loan(testNFT, offer.NFTID); ok {
		t.Fatal("loan record survived repayment")
	}
}

func TestRepayRestoresLoanWhenDepositFails(t *testing.T) {
	f := newEngineFixture(t)
	offer := f.executeBid(t, 7)
	f.adapter.depositErr = errors.New("market paused")

	if _, err := f.engine.RepayRemainingLoan(f.borrower, testNFT, offer.NFTID); err == nil {
		t.Fatal("expected deposit failure")
	}
	if _, ok, _ := f.engine.Loan(testNFT, offer.NFTID); !ok {
		t.Fatal("expected loan to survive")
	}
	// The pulled repayment went back to the caller.
	last := f.tokens.transfers[len(f.tokens.transfers)-1]
	if last.to != f.borrower || last.amount.Cmp(big.NewInt(10_000)) != 0 {
		t.Fatalf("unexpected refund transfer: %+v", last)
	}
}

func TestSeizeRestoresLoanWhenTransferFails(t *testing.T) {
	f := newEngineFixture(t)
	offer := f.executeBid(t, 7)
	f.now += secondsPerYear
	f.registry.transferErr = errors.New("collateral locked")

	if err := f.engine.SeizeAsset(testNFT, offer.NFTID); err == nil {
		t.Fatal("expected seize failure")
	}
	if _, ok, _ := f.engine.Loan(testNFT, offer.NFTID); !ok {
		t.Fatal("expected loan to survive failed seizure")
	}

	f.registry.transferErr = nil
	if err := f.engine.SeizeAsset(testNFT, offer.NFTID); err != nil {
		t.Fatalf("seize after recovery: %v", err)
	}
	owner, err := f.registry.OwnerOf(testNFT, offer.NFTID)
	if err != nil {
		t.Fatalf("owner of: %v", err)
	}
	if owner != f.lender {
		t.Fatalf("collateral owner = %x, want lender", owner)
	}
}
