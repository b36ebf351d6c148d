package vault

import (
	"context"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablevault/pkg/ledger"
	"stablevault/pkg/ledger/sim"
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

func testLogger() *log.Logger { return log.New(io.Discard, "", 0) }

// fakeReader lets tests script read outcomes and observe ordering.
type fakeReader struct {
	mu        sync.Mutex
	objects   map[string]*ledger.Object
	owned     []ledger.Object
	ownedErr  error
	coins     map[string][]ledger.Coin
	objectErr error
	gate      chan struct{} // when set, GetOwnedObjects blocks until closed
	entered   chan struct{} // when set, closed once GetOwnedObjects is reached
}

func (f *fakeReader) GetObject(ctx context.Context, id string) (*ledger.Object, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.objectErr != nil {
		return nil, f.objectErr
	}
	obj, ok := f.objects[id]
	if !ok {
		return nil, errors.New("not found")
	}
	return obj, nil
}

func (f *fakeReader) GetOwnedObjects(ctx context.Context, owner, structType string) ([]ledger.Object, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	owned, ownedErr := f.owned, f.ownedErr
	f.mu.Unlock()
	if entered != nil {
		close(entered)
	}
	if gate != nil {
		<-gate
	}
	return owned, ownedErr
}

func (f *fakeReader) GetCoins(ctx context.Context, owner, coinType string) ([]ledger.Coin, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.coins[coinType], nil
}

func TestRefreshProtocolState(t *testing.T) {
	dep := testDeployment()
	l := sim.New(dep)
	cache, err := NewCache(l, dep, WithCacheLogger(testLogger()))
	require.NoError(t, err)

	_, ok := cache.ProtocolState()
	assert.False(t, ok)

	require.NoError(t, cache.RefreshProtocolState(context.Background()))

	state, ok := cache.ProtocolState()
	require.True(t, ok)
	assert.Equal(t, int64(15000), state.MinRatioBps)
	assert.Equal(t, int64(12000), state.LiquidationRatioBps)
	assert.False(t, state.Paused)

	config, ok := cache.CollateralConfig()
	require.True(t, ok)
	assert.True(t, config.Active)
	assert.Equal(t, "NATIVE", config.Name)
}

func TestRefreshPositionsFiltersForeignDeployments(t *testing.T) {
	dep := testDeployment()
	reader := &fakeReader{
		owned: []ledger.Object{
			{
				ID: "0xlive", Type: dep.PositionType, Owner: "0xalice",
				Fields: map[string]any{
					"collateral_amount": "100", "minted_amount": "40",
					"accrued_fee": "0", "collateral_type": dep.CollateralCoinType,
					"updated_at_ms": "1700000000000",
				},
			},
			{
				// Same shape, prior deployment: must be silently excluded.
				ID: "0xlegacy", Type: "0xoldpkg::stable_vault::Position", Owner: "0xalice",
				Fields: map[string]any{
					"collateral_amount": "999", "minted_amount": "0",
					"accrued_fee": "0", "collateral_type": dep.CollateralCoinType,
					"updated_at_ms": "1600000000000",
				},
			},
		},
	}
	cache, err := NewCache(reader, dep, WithCacheLogger(testLogger()))
	require.NoError(t, err)

	require.NoError(t, cache.RefreshPositions(context.Background(), "0xalice"))
	positions := cache.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "0xlive", positions[0].ID)
	assert.Equal(t, "100", positions[0].Collateral.String())
}

func TestRefreshBalances(t *testing.T) {
	dep := testDeployment()
	reader := &fakeReader{
		coins: map[string][]ledger.Coin{
			dep.StableCoinType: {
				{ID: "0xc1", Type: dep.StableCoinType, Balance: 100},
				{ID: "0xc2", Type: dep.StableCoinType, Balance: 50},
			},
			dep.CollateralCoinType: {
				{ID: "0xc3", Type: dep.CollateralCoinType, Balance: 7},
			},
		},
	}
	cache, err := NewCache(reader, dep, WithCacheLogger(testLogger()))
	require.NoError(t, err)

	require.NoError(t, cache.RefreshBalances(context.Background(), "0xalice"))
	balances, ok := cache.Balances()
	require.True(t, ok)
	assert.Equal(t, "150", balances.Stable.String())
	assert.Equal(t, "7", balances.Native.String())
}

func TestRefreshAll(t *testing.T) {
	t.Run("no_identity_refreshes_protocol_only", func(t *testing.T) {
		dep := testDeployment()
		l := sim.New(dep)
		cache, err := NewCache(l, dep, WithCacheLogger(testLogger()))
		require.NoError(t, err)

		require.NoError(t, cache.RefreshAll(context.Background(), ""))

		_, ok := cache.ProtocolState()
		assert.True(t, ok)
		assert.Empty(t, cache.Positions())
		_, ok = cache.Balances()
		assert.False(t, ok)
		assert.NoError(t, cache.LastError())
	})

	t.Run("partial_failure_keeps_other_slices", func(t *testing.T) {
		dep := testDeployment()
		reader := &fakeReader{
			objectErr: errors.New("node down"),
			coins: map[string][]ledger.Coin{
				dep.StableCoinType: {{ID: "0xc1", Type: dep.StableCoinType, Balance: 5}},
			},
		}
		cache, err := NewCache(reader, dep, WithCacheLogger(testLogger()))
		require.NoError(t, err)

		err = cache.RefreshAll(context.Background(), "0xalice")
		assert.ErrorIs(t, err, ErrRemoteReadFailed)
		assert.ErrorIs(t, cache.LastError(), ErrRemoteReadFailed)

		// Protocol slot stays empty but balances refreshed regardless.
		_, ok := cache.ProtocolState()
		assert.False(t, ok)
		balances, ok := cache.Balances()
		require.True(t, ok)
		assert.Equal(t, "5", balances.Stable.String())
	})

	t.Run("successful_refresh_clears_its_error", func(t *testing.T) {
		dep := testDeployment()
		reader := &fakeReader{objectErr: errors.New("node down")}
		cache, err := NewCache(reader, dep, WithCacheLogger(testLogger()))
		require.NoError(t, err)

		require.Error(t, cache.RefreshProtocolState(context.Background()))
		assert.ErrorIs(t, cache.LastError(), ErrRemoteReadFailed)

		reader.mu.Lock()
		reader.objectErr = nil
		reader.objects = map[string]*ledger.Object{
			dep.ProtocolStateID: {
				ID: dep.ProtocolStateID, Fields: map[string]any{
					"total_supply": "0", "total_collateral_value": "0",
					"global_ratio_bps": "0", "min_ratio_bps": "15000",
					"liquidation_ratio_bps": "12000", "stability_fee_bps": "50",
					"liquidation_penalty_bps": "1000", "paused": false,
				},
			},
			dep.CollateralConfigID: {
				ID: dep.CollateralConfigID, Fields: map[string]any{
					"name": "NATIVE", "min_ratio_bps": "15000",
					"liquidation_threshold_bps": "12000", "debt_ceiling": "1000",
					"current_debt": "0", "active": true,
				},
			},
		}
		reader.mu.Unlock()

		require.NoError(t, cache.RefreshProtocolState(context.Background()))
		assert.NoError(t, cache.LastError())
	})

	t.Run("error_survives_other_slice_success", func(t *testing.T) {
		dep := testDeployment()
		reader := &fakeReader{
			ownedErr: errors.New("node down"),
			coins: map[string][]ledger.Coin{
				dep.StableCoinType: {{ID: "0xc1", Type: dep.StableCoinType, Balance: 1}},
			},
		}
		cache, err := NewCache(reader, dep, WithCacheLogger(testLogger()))
		require.NoError(t, err)

		require.Error(t, cache.RefreshPositions(context.Background(), "0xalice"))
		// A clean balances refresh must not wipe the positions error.
		require.NoError(t, cache.RefreshBalances(context.Background(), "0xalice"))
		assert.ErrorIs(t, cache.LastError(), ErrRemoteReadFailed)
	})
}

func TestRefreshSequenceGuard(t *testing.T) {
	dep := testDeployment()
	gate := make(chan struct{})
	entered := make(chan struct{})
	reader := &fakeReader{
		gate:    gate,
		entered: entered,
		owned: []ledger.Object{{
			ID: "0xstale", Type: dep.PositionType, Owner: "0xalice",
			Fields: map[string]any{
				"collateral_amount": "1", "minted_amount": "0",
				"accrued_fee": "0", "collateral_type": dep.CollateralCoinType,
				"updated_at_ms": "1700000000000",
			},
		}},
	}
	cache, err := NewCache(reader, dep, WithCacheLogger(testLogger()))
	require.NoError(t, err)

	// First refresh blocks on the gate.
	done := make(chan error, 1)
	go func() { done <- cache.RefreshPositions(context.Background(), "0xalice") }()
	<-entered

	// Second refresh starts later, sees newer data, and completes first.
	reader.mu.Lock()
	reader.gate = nil
	reader.entered = nil
	reader.owned = []ledger.Object{{
		ID: "0xfresh", Type: dep.PositionType, Owner: "0xalice",
		Fields: map[string]any{
			"collateral_amount": "2", "minted_amount": "0",
			"accrued_fee": "0", "collateral_type": dep.CollateralCoinType,
			"updated_at_ms": "1700000001000",
		},
	}}
	reader.mu.Unlock()
	require.NoError(t, cache.RefreshPositions(context.Background(), "0xalice"))

	// Let the first, older refresh finish; its result must be discarded.
	close(gate)
	require.NoError(t, <-done)

	positions := cache.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "0xfresh", positions[0].ID)
}
