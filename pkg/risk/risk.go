// Package risk computes collateral health metrics. All functions are pure
// and handle zero denominators explicitly instead of leaning on division
// semantics.
package risk

import "math/big"

// BpsPerUnit is the basis-point scale used for ratio parameters
// (10_000 bps == 100%).
const BpsPerUnit = 10_000

// CollateralRatio returns the collateral/debt ratio as a percentage with
// one decimal place of precision. The numerator is scaled in integer space
// before the final divide so float rounding cannot leak into it. A zero
// debt yields 0 rather than a division error.
func CollateralRatio(collateralValue, debtAmount *big.Int) float64 {
	if debtAmount == nil || debtAmount.Sign() == 0 {
		return 0
	}
	scaled := new(big.Int).Mul(collateralValue, big.NewInt(1000))
	scaled.Quo(scaled, debtAmount)
	tenths, _ := new(big.Float).SetInt(scaled).Float64()
	return tenths / 10
}

// LiquidationPrice returns the collateral unit price at which a position
// becomes eligible for liquidation. Collateral and debt are base-unit
// amounts at the same precision; liquidationRatioBps is in basis points.
// A position with no collateral has no liquidation price and yields 0.
func LiquidationPrice(collateralAmount, debtAmount *big.Int, liquidationRatioBps int64) float64 {
	if collateralAmount == nil || collateralAmount.Sign() == 0 {
		return 0
	}
	num := new(big.Float).SetInt(new(big.Int).Mul(debtAmount, big.NewInt(liquidationRatioBps)))
	den := new(big.Float).SetInt(new(big.Int).Mul(collateralAmount, big.NewInt(BpsPerUnit)))
	out, _ := new(big.Float).Quo(num, den).Float64()
	return out
}

// USDValue converts a base-unit amount to its USD valuation at the supplied
// unit price. Debt is valued with the peg→USD rate and collateral with the
// collateral→USD rate; callers must not mix the two.
func USDValue(amountBaseUnits *big.Int, unitPriceUSD float64, decimals int) float64 {
	if amountBaseUnits == nil || amountBaseUnits.Sign() == 0 {
		return 0
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	units, _ := new(big.Float).Quo(
		new(big.Float).SetInt(amountBaseUnits),
		new(big.Float).SetInt(scale),
	).Float64()
	return units * unitPriceUSD
}
