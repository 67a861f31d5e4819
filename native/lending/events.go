package lending

import (
	"math/big"

	"github.com/NiftyApes/hsla-contracts/core/events"
	"github.com/NiftyApes/hsla-contracts/crypto"
)

const (
	EventTypeLoanExecuted        = "lending.loan.executed"
	EventTypeLoanDrawn           = "lending.loan.drawn"
	EventTypeLoanRefinanced      = "lending.loan.refinanced"
	EventTypeLoanRepaid          = "lending.loan.repaid"
	EventTypeLoanSeized          = "lending.loan.seized"
	EventTypeLiquiditySupplied   = "lending.liquidity.supplied"
	EventTypeLiquidityWithdrawn  = "lending.liquidity.withdrawn"
	EventTypeAssetMappingUpdated = "lending.asset.mapped"
)

func loanAttributes(loan *LoanAuction) map[string]string {
	return map[string]string{
		"nftContractAddress": crypto.FormatAddress(loan.NFTContractAddress),
		"nftId":              loan.NFTID.String(),
		"nftOwner":           crypto.FormatAddress(loan.NFTOwner),
		"lender":             crypto.FormatAddress(loan.Lender),
		"asset":              crypto.FormatAddress(loan.Asset),
		"amount":             loan.Amount.String(),
		"amountDrawn":        loan.AmountDrawn.String(),
	}
}

func newLoanExecutedEvent(loan *LoanAuction) *events.Event {
	return &events.Event{Type: EventTypeLoanExecuted, Attributes: loanAttributes(loan)}
}

func newLoanDrawnEvent(loan *LoanAuction, dimension string, delta *big.Int) *events.Event {
	attrs := loanAttributes(loan)
	attrs["dimension"] = dimension
	attrs["delta"] = delta.String()
	return &events.Event{Type: EventTypeLoanDrawn, Attributes: attrs}
}

func newLoanRefinancedEvent(loan *LoanAuction, previousLender [20]byte) *events.Event {
	attrs := loanAttributes(loan)
	attrs["previousLender"] = crypto.FormatAddress(previousLender)
	attrs["historicInterest"] = loan.HistoricInterest.String()
	return &events.Event{Type: EventTypeLoanRefinanced, Attributes: attrs}
}

func newLoanRepaidEvent(loan *LoanAuction, repaid *big.Int) *events.Event {
	attrs := loanAttributes(loan)
	attrs["repaid"] = repaid.String()
	return &events.Event{Type: EventTypeLoanRepaid, Attributes: attrs}
}

func newLoanSeizedEvent(loan *LoanAuction) *events.Event {
	return &events.Event{Type: EventTypeLoanSeized, Attributes: loanAttributes(loan)}
}

func newLiquiditySuppliedEvent(asset, wrappedAsset, depositor [20]byte, amount, shares *big.Int) *events.Event {
	return &events.Event{Type: EventTypeLiquiditySupplied, Attributes: map[string]string{
		"asset":        crypto.FormatAddress(asset),
		"wrappedAsset": crypto.FormatAddress(wrappedAsset),
		"depositor":    crypto.FormatAddress(depositor),
		"amount":       amount.String(),
		"shares":       shares.String(),
	}}
}

func newLiquidityWithdrawnEvent(asset, wrappedAsset, account [20]byte, underlying, shares *big.Int) *events.Event {
	return &events.Event{Type: EventTypeLiquidityWithdrawn, Attributes: map[string]string{
		"asset":        crypto.FormatAddress(asset),
		"wrappedAsset": crypto.FormatAddress(wrappedAsset),
		"account":      crypto.FormatAddress(account),
		"underlying":   underlying.String(),
		"shares":       shares.String(),
	}}
}

func newAssetMappedEvent(asset, wrappedAsset [20]byte) *events.Event {
	return &events.Event{Type: EventTypeAssetMappingUpdated, Attributes: map[string]string{
		"asset":        crypto.FormatAddress(asset),
		"wrappedAsset": crypto.FormatAddress(wrappedAsset),
	}}
}
