package vault

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stablevault/pkg/fixedpoint"
	"stablevault/pkg/ledger"
	"stablevault/pkg/ledger/sim"
	"stablevault/pkg/wallet"
)

// countingSubmitter wraps a submitter and counts network writes, so tests can
// prove prechecks fail before anything is signed or submitted.
type countingSubmitter struct {
	inner ledger.Submitter
	calls int
}

func (s *countingSubmitter) SignAndSubmit(ctx context.Context, call *ledger.Call) (*ledger.TxResult, error) {
	s.calls++
	return s.inner.SignAndSubmit(ctx, call)
}

func (s *countingSubmitter) Address() string { return s.inner.Address() }

type rejectingSubmitter struct{ addr string }

func (s *rejectingSubmitter) SignAndSubmit(ctx context.Context, call *ledger.Call) (*ledger.TxResult, error) {
	return nil, wallet.ErrSignerRejected
}

func (s *rejectingSubmitter) Address() string { return s.addr }

func amt(baseUnits uint64) string {
	return fixedpoint.FormatUint64(baseUnits, testDeployment().Decimals)
}

func newTestOrchestrator(t *testing.T, opts ...OrchestratorOption) (*sim.Ledger, *sim.Wallet, *Cache, *Orchestrator) {
	t.Helper()
	dep := testDeployment()
	l := sim.New(dep)
	w := sim.NewWallet(l, "0xalice")
	cache, err := NewCache(l, dep, WithCacheLogger(testLogger()))
	require.NoError(t, err)
	opts = append(opts, WithOrchestratorLogger(testLogger()))
	orch, err := NewOrchestrator(l, w, cache, dep, opts...)
	require.NoError(t, err)
	return l, w, cache, orch
}

func TestOpenPositionLifecycle(t *testing.T) {
	dep := testDeployment()
	journalDir := t.TempDir()
	var transitions []Status
	l, w, cache, orch := newTestOrchestrator(t,
		WithJournal(NewJournal(journalDir)),
		WithTransitionHook(func(op Operation, status Status) {
			transitions = append(transitions, status)
		}),
	)
	l.FundCoin(w.Address(), dep.CollateralCoinType, 5_000_000_000)

	result, err := orch.OpenPosition(context.Background(), amt(2_000_000_000))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)
	require.NotNil(t, result.Tx)
	assert.True(t, result.Tx.Succeeded())

	assert.Equal(t, []Status{
		StatusBuilding, StatusAwaitingSignature, StatusSubmitted, StatusConfirmed,
	}, transitions)

	// The cache was refreshed before the operation resolved.
	positions := cache.Positions()
	require.Len(t, positions, 1)
	assert.Equal(t, "2000000000", positions[0].Collateral.String())
	balances, ok := cache.Balances()
	require.True(t, ok)
	assert.Equal(t, "3000000000", balances.Native.String())

	entries, err := os.ReadDir(journalDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "op_"))
}

func TestBurnMergesHoldingsAndLeavesChange(t *testing.T) {
	dep := testDeployment()
	l, w, cache, orch := newTestOrchestrator(t)
	ctx := context.Background()

	l.FundCoin(w.Address(), dep.CollateralCoinType, 5_000_000_000)
	open, err := orch.OpenPosition(ctx, amt(5_000_000_000))
	require.NoError(t, err)
	posID := cache.Positions()[0].ID
	require.Equal(t, StatusConfirmed, open.Status)

	// Two separate mints leave two stable holdings of 100 and 50 base units.
	_, err = orch.Mint(ctx, posID, amt(100))
	require.NoError(t, err)
	_, err = orch.Mint(ctx, posID, amt(50))
	require.NoError(t, err)
	coins, err := l.GetCoins(ctx, w.Address(), dep.StableCoinType)
	require.NoError(t, err)
	require.Len(t, coins, 2)

	// Burning 120 must merge both holdings, split out exactly 120 and
	// return 30 as a single change coin.
	result, err := orch.Burn(ctx, posID, amt(120))
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, result.Status)

	coins, err = l.GetCoins(ctx, w.Address(), dep.StableCoinType)
	require.NoError(t, err)
	require.Len(t, coins, 1)
	assert.Equal(t, uint64(30), coins[0].Balance)
	balances, ok := cache.Balances()
	require.True(t, ok)
	assert.Equal(t, "30", balances.Stable.String())
	assert.Equal(t, "30", cache.Positions()[0].Debt.String())
}

func TestBurnInsufficientBalanceFailsBeforeSubmit(t *testing.T) {
	dep := testDeployment()
	l := sim.New(dep)
	w := sim.NewWallet(l, "0xalice")
	counting := &countingSubmitter{inner: w}
	cache, err := NewCache(l, dep, WithCacheLogger(testLogger()))
	require.NoError(t, err)
	orch, err := NewOrchestrator(l, counting, cache, dep, WithOrchestratorLogger(testLogger()))
	require.NoError(t, err)
	ctx := context.Background()

	l.FundCoin(w.Address(), dep.CollateralCoinType, 5_000_000_000)
	_, err = orch.OpenPosition(ctx, amt(5_000_000_000))
	require.NoError(t, err)
	posID := cache.Positions()[0].ID
	_, err = orch.Mint(ctx, posID, amt(100))
	require.NoError(t, err)
	submitsSoFar := counting.calls

	result, err := orch.Burn(ctx, posID, amt(120))
	assert.ErrorIs(t, err, ErrPrecheckFailed)
	assert.Equal(t, StatusFailed, result.Status)
	assert.Equal(t, submitsSoFar, counting.calls, "insufficient balance must not reach the network")
}

func TestPrechecks(t *testing.T) {
	dep := testDeployment()
	ctx := context.Background()

	t.Run("no_identity", func(t *testing.T) {
		l := sim.New(dep)
		cache, err := NewCache(l, dep, WithCacheLogger(testLogger()))
		require.NoError(t, err)
		orch, err := NewOrchestrator(l, &rejectingSubmitter{addr: ""}, cache, dep, WithOrchestratorLogger(testLogger()))
		require.NoError(t, err)

		result, err := orch.Mint(ctx, "0xpos", amt(1))
		assert.ErrorIs(t, err, ErrPrecheckFailed)
		assert.Contains(t, err.Error(), "no connected wallet identity")
		assert.Equal(t, StatusFailed, result.Status)
	})

	t.Run("paused_protocol", func(t *testing.T) {
		l, _, cache, orch := newTestOrchestrator(t)
		l.SetPaused(true)
		require.NoError(t, cache.RefreshProtocolState(ctx))

		result, err := orch.Mint(ctx, "0xpos", amt(1))
		assert.ErrorIs(t, err, ErrPrecheckFailed)
		assert.Contains(t, err.Error(), "paused")
		assert.Equal(t, StatusFailed, result.Status)
	})

	t.Run("invalid_amount", func(t *testing.T) {
		_, _, _, orch := newTestOrchestrator(t)
		result, err := orch.Mint(ctx, "0xpos", "abc")
		assert.ErrorIs(t, err, fixedpoint.ErrInvalidAmount)
		assert.Equal(t, StatusFailed, result.Status)
	})

	t.Run("zero_amount", func(t *testing.T) {
		_, _, _, orch := newTestOrchestrator(t)
		result, err := orch.Mint(ctx, "0xpos", "0")
		assert.ErrorIs(t, err, ErrPrecheckFailed)
		assert.Equal(t, StatusFailed, result.Status)
	})
}

func TestRevertReasonPreservedVerbatim(t *testing.T) {
	dep := testDeployment()
	journalDir := t.TempDir()
	l, w, cache, orch := newTestOrchestrator(t, WithJournal(NewJournal(journalDir)))
	ctx := context.Background()

	l.FundCoin(w.Address(), dep.CollateralCoinType, 5_000_000_000)
	_, err := orch.OpenPosition(ctx, amt(5_000_000_000))
	require.NoError(t, err)
	posID := cache.Positions()[0].ID
	_, err = orch.Mint(ctx, posID, amt(100))
	require.NoError(t, err)

	// Extra funded holdings pass the local precheck, but the burn exceeds
	// the outstanding debt and reverts remotely.
	l.FundCoin(w.Address(), dep.StableCoinType, 400)

	result, err := orch.Burn(ctx, posID, amt(300))
	assert.ErrorIs(t, err, ErrRemoteWriteFailed)
	assert.Contains(t, err.Error(), "EExcessBurn")
	assert.Equal(t, StatusFailed, result.Status)
	require.NotNil(t, result.Tx)
	assert.Equal(t, "EExcessBurn", result.Tx.Error)

	entries, err := os.ReadDir(journalDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	data, err := os.ReadFile(journalDir + "/" + entries[len(entries)-1].Name())
	require.NoError(t, err)
	assert.Contains(t, string(data), `"revert_reason": "EExcessBurn"`)
}

func TestSignerRejection(t *testing.T) {
	dep := testDeployment()
	l := sim.New(dep)
	cache, err := NewCache(l, dep, WithCacheLogger(testLogger()))
	require.NoError(t, err)
	orch, err := NewOrchestrator(l, &rejectingSubmitter{addr: "0xalice"}, cache, dep, WithOrchestratorLogger(testLogger()))
	require.NoError(t, err)

	l.FundCoin("0xalice", dep.CollateralCoinType, 1_000)
	result, err := orch.OpenPosition(context.Background(), amt(1_000))
	assert.ErrorIs(t, err, wallet.ErrSignerRejected)
	assert.Equal(t, StatusFailed, result.Status)
}
