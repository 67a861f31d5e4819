package lending

import "math/big"

const secondsPerYear = 31_536_000

var (
	basisPoints = big.NewInt(10_000)
	// rateScale is the 1e18 fixed-point scale used by the money market's
	// exchange rate.
	rateScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
)

// interestOwed returns the interest accrued on the loan at the supplied time:
// simple interest on the drawn principal for the elapsed time since the
// current terms took effect, capped at TimeDrawn, plus the historic interest
// locked in by prior refinancings. The result is monotonically non-decreasing
// in time.
func interestOwed(loan *LoanAuction, now int64) *big.Int {
	owed := cloneBigInt(loan.HistoricInterest)
	if loan.AmountDrawn == nil || loan.AmountDrawn.Sign() == 0 {
		return owed
	}
	if loan.InterestRate == nil || loan.InterestRate.Sign() == 0 {
		return owed
	}
	elapsed := now - loan.LoanExecutedTime
	if elapsed <= 0 {
		return owed
	}
	cap := new(big.Int).SetInt64(elapsed)
	if loan.TimeDrawn != nil && loan.TimeDrawn.Cmp(cap) < 0 {
		cap = new(big.Int).Set(loan.TimeDrawn)
	}
	accrued := new(big.Int).Mul(loan.AmountDrawn, loan.InterestRate)
	accrued.Mul(accrued, cap)
	accrued.Quo(accrued, basisPoints)
	accrued.Quo(accrued, big.NewInt(secondsPerYear))
	return owed.Add(owed, accrued)
}

// sharesForUnderlying converts an underlying amount into the share quantity
// needed to redeem at least that amount at the quoted exchange rate. The
// division rounds up, in the money market's favour; redeeming the result may
// release marginally more underlying than requested. This asymmetry mirrors
// the market's own rounding direction and must not be "corrected".
func sharesForUnderlying(amount, exchangeRate *big.Int) (*big.Int, error) {
	if exchangeRate == nil || exchangeRate.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	scaled := new(big.Int).Mul(amount, rateScale)
	shares, rem := new(big.Int).QuoRem(scaled, exchangeRate, new(big.Int))
	if rem.Sign() > 0 {
		shares.Add(shares, big.NewInt(1))
	}
	return shares, nil
}

// underlyingForShares converts shares into underlying at the quoted rate,
// rounding down.
func underlyingForShares(shares, exchangeRate *big.Int) *big.Int {
	if shares == nil || exchangeRate == nil {
		return big.NewInt(0)
	}
	underlying := new(big.Int).Mul(shares, exchangeRate)
	return underlying.Quo(underlying, rateScale)
}
