package lending

import "math/big"

// MoneyMarketAdapter wraps and unwraps underlying assets into interest-bearing
// shares at an external money market. Every call is a synchronous, untrusted
// boundary that may reenter the engine; the engine finalises its own
// bookkeeping before invoking it, and never assumes the exchange rate quoted
// before a call matches the rate realised by its completion.
type MoneyMarketAdapter interface {
	// Deposit wraps amount of the underlying asset and returns the shares the
	// money market actually minted.
	Deposit(asset [20]byte, amount *big.Int) (*big.Int, error)
	// Redeem burns shares of the wrapped asset and returns the underlying
	// amount released.
	Redeem(wrappedAsset [20]byte, shares *big.Int) (*big.Int, error)
	// RedeemUnderlying releases exactly amount of underlying and returns the
	// shares the money market burned to do so.
	RedeemUnderlying(wrappedAsset [20]byte, amount *big.Int) (*big.Int, error)
	// BalanceOf reports the wrapped-asset shares held by account.
	BalanceOf(wrappedAsset [20]byte, account [20]byte) (*big.Int, error)
	// ExchangeRate quotes the current underlying value of one share, scaled by
	// 1e18.
	ExchangeRate(wrappedAsset [20]byte) (*big.Int, error)
}

// CollateralRegistry is the non-fungible asset registry holding the collateral
// items. Custody moves through the standard approve-then-transfer handoff
// before origination can succeed.
type CollateralRegistry interface {
	OwnerOf(nftContractAddress [20]byte, nftID *big.Int) ([20]byte, error)
	TransferFrom(nftContractAddress [20]byte, from, to [20]byte, nftID *big.Int) error
}

// TokenBridge moves the underlying fungible asset between lender, engine and
// adapter.
type TokenBridge interface {
	Transfer(asset [20]byte, to [20]byte, amount *big.Int) error
	TransferFrom(asset [20]byte, from, to [20]byte, amount *big.Int) error
	BalanceOf(asset [20]byte, account [20]byte) (*big.Int, error)
}
