package sim

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablevault/pkg/ledger"
)

func testDeployment() ledger.Deployment {
	return ledger.Deployment{
		PackageID:          "0xpkg",
		ProtocolStateID:    "0xproto",
		CollateralConfigID: "0xconfig",
		CollateralVaultID:  "0xvault",
		Module:             "stable_vault",
		StableCoinType:     "0xpkg::stable::STABLE",
		CollateralCoinType: "0xpkg::native::NATIVE",
		PositionType:       "0xpkg::stable_vault::Position",
		Decimals:           9,
	}
}

func openPosition(t *testing.T, l *Ledger, w *Wallet, coinIDs []string, amount uint64) string {
	t.Helper()
	dep := testDeployment()
	result, err := w.SignAndSubmit(context.Background(), &ledger.Call{
		Package: dep.PackageID, Module: dep.Module, Function: "open_position",
		Args: []ledger.Arg{
			ledger.ObjectArg(dep.ProtocolStateID),
			ledger.ObjectArg(dep.CollateralConfigID),
			ledger.ObjectArg(dep.CollateralVaultID),
			ledger.ObjectVecArg(coinIDs...),
			ledger.U64Arg(amount),
		},
	})
	require.NoError(t, err)
	require.True(t, result.Succeeded(), "open reverted: %s", result.Error)

	positions, err := l.GetOwnedObjects(context.Background(), w.Address(), dep.PositionType)
	require.NoError(t, err)
	require.NotEmpty(t, positions)
	return positions[len(positions)-1].ID
}

func TestOpenPosition(t *testing.T) {
	dep := testDeployment()
	l := New(dep)
	w := NewWallet(l, "0xalice")

	coinID := l.FundCoin(w.Address(), dep.CollateralCoinType, 5_000_000_000)
	posID := openPosition(t, l, w, []string{coinID}, 2_000_000_000)

	obj, err := l.GetObject(context.Background(), posID)
	require.NoError(t, err)
	assert.Equal(t, "2000000000", obj.Fields["collateral_amount"])

	// Change comes back as a fresh coin.
	coins, err := l.GetCoins(context.Background(), w.Address(), dep.CollateralCoinType)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, uint64(3_000_000_000), coins[0].Balance)
}

func TestMintAndBurn(t *testing.T) {
	dep := testDeployment()
	l := New(dep)
	w := NewWallet(l, "0xalice")
	ctx := context.Background()

	coinID := l.FundCoin(w.Address(), dep.CollateralCoinType, 5_000_000_000)
	posID := openPosition(t, l, w, []string{coinID}, 5_000_000_000)

	mint, err := w.SignAndSubmit(ctx, &ledger.Call{
		Package: dep.PackageID, Module: dep.Module, Function: "mint",
		Args: []ledger.Arg{
			ledger.ObjectArg(dep.ProtocolStateID),
			ledger.ObjectArg(dep.CollateralConfigID),
			ledger.ObjectArg(dep.CollateralVaultID),
			ledger.ObjectArg(posID),
			ledger.U64Arg(150),
		},
	})
	require.NoError(t, err)
	require.True(t, mint.Succeeded())

	stable, err := l.GetCoins(ctx, w.Address(), dep.StableCoinType)
	require.NoError(t, err)
	require.Len(t, stable, 1)
	assert.Equal(t, uint64(150), stable[0].Balance)

	t.Run("merge_then_split_leaves_change", func(t *testing.T) {
		// Split holdings into 100 + 50 to exercise consolidation.
		l.mu.Lock()
		l.coins[w.Address()][dep.StableCoinType] = nil
		l.mu.Unlock()
		c1 := l.FundCoin(w.Address(), dep.StableCoinType, 100)
		c2 := l.FundCoin(w.Address(), dep.StableCoinType, 50)

		burn, err := w.SignAndSubmit(ctx, &ledger.Call{
			Package: dep.PackageID, Module: dep.Module, Function: "burn",
			Args: []ledger.Arg{
				ledger.ObjectArg(dep.ProtocolStateID),
				ledger.ObjectArg(dep.CollateralConfigID),
				ledger.ObjectArg(dep.CollateralVaultID),
				ledger.ObjectArg(posID),
				ledger.ObjectVecArg(c1, c2),
				ledger.U64Arg(120),
			},
		})
		require.NoError(t, err)
		require.True(t, burn.Succeeded(), "burn reverted: %s", burn.Error)

		stable, err := l.GetCoins(ctx, w.Address(), dep.StableCoinType)
		require.NoError(t, err)
		require.Len(t, stable, 1)
		assert.Equal(t, uint64(30), stable[0].Balance)
	})
}

func TestSubmitReverts(t *testing.T) {
	dep := testDeployment()
	l := New(dep)
	w := NewWallet(l, "0xalice")
	ctx := context.Background()

	t.Run("paused_protocol", func(t *testing.T) {
		l.SetPaused(true)
		defer l.SetPaused(false)
		result, err := w.SignAndSubmit(ctx, &ledger.Call{
			Package: dep.PackageID, Module: dep.Module, Function: "mint",
			Args: []ledger.Arg{
				ledger.ObjectArg(dep.ProtocolStateID),
				ledger.ObjectArg(dep.CollateralConfigID),
				ledger.ObjectArg(dep.CollateralVaultID),
				ledger.ObjectArg("0xnope"),
				ledger.U64Arg(1),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "EProtocolPaused", result.Error)
	})

	t.Run("unknown_position", func(t *testing.T) {
		result, err := w.SignAndSubmit(ctx, &ledger.Call{
			Package: dep.PackageID, Module: dep.Module, Function: "withdraw_all",
			Args: []ledger.Arg{
				ledger.ObjectArg(dep.ProtocolStateID),
				ledger.ObjectArg(dep.CollateralConfigID),
				ledger.ObjectArg(dep.CollateralVaultID),
				ledger.ObjectArg("0xnope"),
			},
		})
		require.NoError(t, err)
		assert.Equal(t, "EPositionNotFound", result.Error)
	})

	t.Run("wrong_package", func(t *testing.T) {
		result, err := w.SignAndSubmit(ctx, &ledger.Call{
			Package: "0xother", Module: dep.Module, Function: "mint",
		})
		require.NoError(t, err)
		assert.Equal(t, "ETargetMismatch", result.Error)
	})
}

func TestReferencePrice(t *testing.T) {
	dep := testDeployment()
	l := New(dep)
	l.SetReferencePrice(350_000_000, -8)

	obj, err := l.GetObject(context.Background(), dep.CollateralConfigID)
	require.NoError(t, err)
	assert.Equal(t, "350000000", obj.Fields["reference_price"])
	assert.Equal(t, "-8", obj.Fields["reference_price_expo"])
}
