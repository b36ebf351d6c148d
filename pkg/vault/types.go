// Package vault is the accounting core of the stablecoin client: read-model
// snapshots of protocol and position state, and orchestration of mutating
// operations against the remote ledger. All state here is a local reflection
// of authoritative remote state; nothing mutates it except a full refresh.
package vault

import (
	"fmt"
	"math"
	"math/big"
	"strconv"
	"time"

	"stablevault/pkg/ledger"
	"stablevault/pkg/oracle"
	"stablevault/pkg/risk"
)

// ProtocolState is the protocol-wide singleton snapshot. It is replaced
// wholesale on refresh and never mutated field by field.
type ProtocolState struct {
	TotalSupply           *big.Int
	TotalCollateralValue  *big.Int
	GlobalRatioBps        int64
	MinRatioBps           int64
	LiquidationRatioBps   int64
	StabilityFeeBps       int64
	LiquidationPenaltyBps int64
	Paused                bool
}

// CollateralConfig carries per-collateral-type parameters, keyed by name.
type CollateralConfig struct {
	Name                    string
	MinRatioBps             int64
	LiquidationThresholdBps int64
	DebtCeiling             *big.Int
	CurrentDebt             *big.Int
	Active                  bool
	ReferencePrice          float64
}

// Position is one collateralized debt position owned by a single address.
// Ratio is derived locally and informational only: it depends on an oracle
// price that can itself be stale.
type Position struct {
	ID             string
	Owner          string
	Collateral     *big.Int
	Debt           *big.Int
	CollateralType string
	UpdatedAt      time.Time
	AccruedFee     *big.Int
	Ratio          float64
}

// Metrics is the derived risk view of a position.
type Metrics struct {
	Ratio                float64
	LiquidationPrice     float64
	CollateralUSD        float64
	DebtUSD              float64
	CollateralPriceStale bool
	PegPriceStale        bool
}

// ComputeMetrics derives the risk view of a position from the two
// independently sourced rates. Collateral is valued with the collateral→USD
// rate and debt with the peg→USD rate; the two are never conflated.
func (p *Position) ComputeMetrics(collateralUSD, pegUSD oracle.PriceData, liquidationRatioBps int64, decimals int) Metrics {
	collValue := risk.USDValue(p.Collateral, collateralUSD.Price, decimals)
	debtValue := risk.USDValue(p.Debt, pegUSD.Price, decimals)
	return Metrics{
		Ratio:                risk.CollateralRatio(usdToUnits(collValue), usdToUnits(debtValue)),
		LiquidationPrice:     risk.LiquidationPrice(p.Collateral, p.Debt, liquidationRatioBps),
		CollateralUSD:        collValue,
		DebtUSD:              debtValue,
		CollateralPriceStale: collateralUSD.Stale,
		PegPriceStale:        pegUSD.Stale,
	}
}

// usdToUnits scales a float USD valuation to integer sub-unit resolution.
// The product can exceed int64 for large valuations, so it goes through
// big.Float instead of a float-to-int64 cast.
func usdToUnits(v float64) *big.Int {
	scaled := new(big.Float).Mul(big.NewFloat(v), big.NewFloat(risk.BpsPerUnit))
	units, _ := scaled.Int(nil)
	return units
}

// Balances holds the caller's base-unit holdings of the stable asset and the
// native collateral asset, replaced wholesale on refresh.
type Balances struct {
	Stable *big.Int
	Native *big.Int
}

func decodeProtocolState(obj *ledger.Object) (*ProtocolState, error) {
	state := &ProtocolState{}
	var err error
	if state.TotalSupply, err = bigField(obj.Fields, "total_supply"); err != nil {
		return nil, err
	}
	if state.TotalCollateralValue, err = bigField(obj.Fields, "total_collateral_value"); err != nil {
		return nil, err
	}
	if state.GlobalRatioBps, err = intField(obj.Fields, "global_ratio_bps"); err != nil {
		return nil, err
	}
	if state.MinRatioBps, err = intField(obj.Fields, "min_ratio_bps"); err != nil {
		return nil, err
	}
	if state.LiquidationRatioBps, err = intField(obj.Fields, "liquidation_ratio_bps"); err != nil {
		return nil, err
	}
	if state.StabilityFeeBps, err = intField(obj.Fields, "stability_fee_bps"); err != nil {
		return nil, err
	}
	if state.LiquidationPenaltyBps, err = intField(obj.Fields, "liquidation_penalty_bps"); err != nil {
		return nil, err
	}
	paused, ok := obj.Fields["paused"].(bool)
	if !ok {
		return nil, fmt.Errorf("vault: protocol state field paused missing or not a bool")
	}
	state.Paused = paused
	return state, nil
}

func decodeCollateralConfig(obj *ledger.Object) (*CollateralConfig, error) {
	cfg := &CollateralConfig{}
	var err error
	name, _ := obj.Fields["name"].(string)
	cfg.Name = name
	if cfg.MinRatioBps, err = intField(obj.Fields, "min_ratio_bps"); err != nil {
		return nil, err
	}
	if cfg.LiquidationThresholdBps, err = intField(obj.Fields, "liquidation_threshold_bps"); err != nil {
		return nil, err
	}
	if cfg.DebtCeiling, err = bigField(obj.Fields, "debt_ceiling"); err != nil {
		return nil, err
	}
	if cfg.CurrentDebt, err = bigField(obj.Fields, "current_debt"); err != nil {
		return nil, err
	}
	active, ok := obj.Fields["active"].(bool)
	if !ok {
		return nil, fmt.Errorf("vault: collateral config field active missing or not a bool")
	}
	cfg.Active = active
	// Reference price is optional; governance may leave it unset.
	if mantissa, err := bigField(obj.Fields, "reference_price"); err == nil {
		if expo, err := intField(obj.Fields, "reference_price_expo"); err == nil {
			f, _ := new(big.Float).SetInt(mantissa).Float64()
			cfg.ReferencePrice = f * math.Pow10(int(expo))
		}
	}
	return cfg, nil
}

func decodePosition(obj *ledger.Object) (*Position, error) {
	pos := &Position{ID: obj.ID, Owner: obj.Owner}
	var err error
	if pos.Collateral, err = bigField(obj.Fields, "collateral_amount"); err != nil {
		return nil, err
	}
	if pos.Debt, err = bigField(obj.Fields, "minted_amount"); err != nil {
		return nil, err
	}
	if pos.AccruedFee, err = bigField(obj.Fields, "accrued_fee"); err != nil {
		return nil, err
	}
	collateralType, _ := obj.Fields["collateral_type"].(string)
	pos.CollateralType = collateralType
	updatedMs, err := intField(obj.Fields, "updated_at_ms")
	if err != nil {
		return nil, err
	}
	pos.UpdatedAt = time.UnixMilli(updatedMs)
	return pos, nil
}

func bigField(fields map[string]any, key string) (*big.Int, error) {
	raw, ok := fields[key]
	if !ok {
		return nil, fmt.Errorf("vault: field %s missing", key)
	}
	switch v := raw.(type) {
	case string:
		parsed, ok := new(big.Int).SetString(v, 10)
		if !ok {
			return nil, fmt.Errorf("vault: field %s not a base-unit integer: %q", key, v)
		}
		if parsed.Sign() < 0 {
			return nil, fmt.Errorf("vault: field %s negative", key)
		}
		return parsed, nil
	case float64:
		if v < 0 {
			return nil, fmt.Errorf("vault: field %s negative", key)
		}
		return big.NewInt(int64(v)), nil
	default:
		return nil, fmt.Errorf("vault: field %s has unexpected type %T", key, raw)
	}
}

func intField(fields map[string]any, key string) (int64, error) {
	raw, ok := fields[key]
	if !ok {
		return 0, fmt.Errorf("vault: field %s missing", key)
	}
	switch v := raw.(type) {
	case string:
		parsed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("vault: field %s: %w", key, err)
		}
		return parsed, nil
	case float64:
		return int64(v), nil
	default:
		return 0, fmt.Errorf("vault: field %s has unexpected type %T", key, raw)
	}
}
