package lending

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/NiftyApes/hsla-contracts/core/events"
)

// Ledger tracks, per wrapped asset and per account, the yield-bearing share
// balances held with the external money market on behalf of liquidity
// providers. The engine moves shares through the ledger when loans are funded
// and repaid; outside callers use Supply and Withdraw.
type Ledger struct {
	state         engineState
	adapter       MoneyMarketAdapter
	tokens        TokenBridge
	moduleAddress [20]byte
	emitter       events.Emitter
}

// NewLedger constructs a liquidity ledger bound to the engine's account at the
// external token and money-market interfaces.
func NewLedger(moduleAddress [20]byte, adapter MoneyMarketAdapter, tokens TokenBridge) *Ledger {
	return &Ledger{
		adapter:       adapter,
		tokens:        tokens,
		moduleAddress: moduleAddress,
		emitter:       events.NoopEmitter{},
	}
}

// SetState wires the ledger to the external persistence layer.
func (l *Ledger) SetState(state engineState) { l.state = state }

// SetEmitter configures the event emitter. Passing nil resets it to a no-op.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// Balance returns the account's share balance for the wrapped asset. Missing
// entries read as zero.
func (l *Ledger) Balance(wrappedAsset, account [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	return l.state.BalanceGet(wrappedAsset, account)
}

// Supply accepts amount of the underlying asset from the depositor, wraps it
// at the money market and credits the depositor's balance with the shares the
// market reports as minted. The market's reported value is authoritative; no
// local exchange-rate estimate is used, so drift between quote and execution
// cannot inflate the credit. The credit is the final step of the operation.
func (l *Ledger) Supply(asset [20]byte, amount *big.Int, depositor [20]byte) (*big.Int, error) {
	if l == nil || l.state == nil {
		return nil, ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	wrapped, ok, err := l.state.AssetMappingGet(asset)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrUnmappedAsset
	}
	if err := l.tokens.TransferFrom(asset, depositor, l.moduleAddress, amount); err != nil {
		return nil, fmt.Errorf("pull underlying: %w", err)
	}
	minted, err := l.adapter.Deposit(asset, amount)
	if err != nil {
		err = fmt.Errorf("money market deposit: %w", err)
		if returnErr := l.tokens.Transfer(asset, depositor, amount); returnErr != nil {
			err = errors.Join(err, returnErr)
		}
		return nil, err
	}
	if minted == nil || minted.Sign() < 0 {
		return nil, ErrInvalidAmount
	}
	if err := l.credit(wrapped, depositor, minted); err != nil {
		return nil, err
	}
	l.emit(newLiquiditySuppliedEvent(asset, wrapped, depositor, amount, minted))
	return new(big.Int).Set(minted), nil
}

// SupplyWrapped accepts already-wrapped shares from the depositor and credits
// them directly, with no money-market round trip.
func (l *Ledger) SupplyWrapped(asset [20]byte, shares *big.Int, depositor [20]byte) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	wrapped, ok, err := l.state.AssetMappingGet(asset)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnmappedAsset
	}
	if err := l.tokens.TransferFrom(wrapped, depositor, l.moduleAddress, shares); err != nil {
		return fmt.Errorf("pull wrapped shares: %w", err)
	}
	if err := l.credit(wrapped, depositor, shares); err != nil {
		return err
	}
	l.emit(newLiquiditySuppliedEvent(asset, wrapped, depositor, big.NewInt(0), shares))
	return nil
}

// Withdraw releases liquidity back to the account. When amountIsUnderlying the
// share quantity needed to redeem at least amount of underlying is computed
// with ceiling division against the current exchange rate; the account may
// receive marginally more underlying than requested. Otherwise amount is a
// direct share quantity. Returns the underlying released and the shares
// debited. The balance debit is finalised before the money market is invoked
// and restored if the market or the transfer fails.
func (l *Ledger) Withdraw(asset [20]byte, account [20]byte, amount *big.Int, amountIsUnderlying bool) (*big.Int, *big.Int, error) {
	if l == nil || l.state == nil {
		return nil, nil, ErrNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return nil, nil, ErrInvalidAmount
	}
	wrapped, ok, err := l.state.AssetMappingGet(asset)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, ErrUnmappedAsset
	}
	shares := new(big.Int).Set(amount)
	if amountIsUnderlying {
		rate, err := l.adapter.ExchangeRate(wrapped)
		if err != nil {
			return nil, nil, fmt.Errorf("exchange rate: %w", err)
		}
		shares, err = sharesForUnderlying(amount, rate)
		if err != nil {
			return nil, nil, err
		}
	}
	if err := l.debit(wrapped, account, shares); err != nil {
		return nil, nil, err
	}
	underlying, err := l.adapter.Redeem(wrapped, shares)
	if err != nil {
		return nil, nil, l.refund(wrapped, account, shares, fmt.Errorf("money market redeem: %w", err))
	}
	if err := l.tokens.Transfer(asset, account, underlying); err != nil {
		return nil, nil, l.refund(wrapped, account, shares, fmt.Errorf("return underlying: %w", err))
	}
	l.emit(newLiquidityWithdrawnEvent(asset, wrapped, account, underlying, shares))
	return underlying, shares, nil
}

// WithdrawWrapped returns raw shares to the account without unwrapping them.
func (l *Ledger) WithdrawWrapped(asset [20]byte, shares *big.Int, account [20]byte) error {
	if l == nil || l.state == nil {
		return ErrNilState
	}
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	wrapped, ok, err := l.state.AssetMappingGet(asset)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnmappedAsset
	}
	if err := l.debit(wrapped, account, shares); err != nil {
		return err
	}
	if err := l.tokens.Transfer(wrapped, account, shares); err != nil {
		return l.refund(wrapped, account, shares, fmt.Errorf("return wrapped shares: %w", err))
	}
	l.emit(newLiquidityWithdrawnEvent(asset, wrapped, account, big.NewInt(0), shares))
	return nil
}

// creditFromLoan reassigns shares to an account without a money-market round
// trip. Engine-only entry point for repayment and refinancing flows.
func (l *Ledger) creditFromLoan(wrappedAsset, account [20]byte, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.credit(wrappedAsset, account, shares)
}

// debitForLoan removes shares from an account's balance for loan funding.
// Engine-only entry point.
func (l *Ledger) debitForLoan(wrappedAsset, account [20]byte, shares *big.Int) error {
	if shares == nil || shares.Sign() <= 0 {
		return ErrInvalidAmount
	}
	return l.debit(wrappedAsset, account, shares)
}

// refund restores a debited balance when a later external call fails, so a
// failed withdrawal leaves the ledger unchanged.
func (l *Ledger) refund(wrappedAsset, account [20]byte, shares *big.Int, err error) error {
	if creditErr := l.credit(wrappedAsset, account, shares); creditErr != nil {
		return errors.Join(err, creditErr)
	}
	return err
}

func (l *Ledger) credit(wrappedAsset, account [20]byte, shares *big.Int) error {
	balance, err := l.state.BalanceGet(wrappedAsset, account)
	if err != nil {
		return err
	}
	balance = new(big.Int).Add(cloneBigInt(balance), shares)
	return l.state.BalancePut(wrappedAsset, account, balance)
}

func (l *Ledger) debit(wrappedAsset, account [20]byte, shares *big.Int) error {
	balance, err := l.state.BalanceGet(wrappedAsset, account)
	if err != nil {
		return err
	}
	if balance == nil || balance.Cmp(shares) < 0 {
		return ErrInsufficientBalance
	}
	balance = new(big.Int).Sub(balance, shares)
	return l.state.BalancePut(wrappedAsset, account, balance)
}

func (l *Ledger) emit(event *events.Event) {
	if l == nil || l.emitter == nil || event == nil {
		return
	}
	l.emitter.Emit(event)
}
