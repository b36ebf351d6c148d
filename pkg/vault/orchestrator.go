package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"

	"stablevault/pkg/fixedpoint"
	"stablevault/pkg/ledger"
)

// Status is the orchestration state of one mutating operation.
type Status string

const (
	StatusIdle              Status = "idle"
	StatusBuilding          Status = "building"
	StatusAwaitingSignature Status = "awaiting_signature"
	StatusSubmitted         Status = "submitted"
	StatusConfirmed         Status = "confirmed"
	StatusFailed            Status = "failed"
)

// Operation names a mutating protocol operation.
type Operation string

const (
	OpOpenPosition    Operation = "open_position"
	OpAddCollateral   Operation = "add_collateral"
	OpMint            Operation = "mint"
	OpBurn            Operation = "burn"
	OpWithdrawAll     Operation = "withdraw_all"
	OpWithdrawPartial Operation = "withdraw_partial"
)

// Result reports the terminal state of an orchestrated operation.
type Result struct {
	Operation Operation
	Status    Status
	Tx        *ledger.TxResult
}

// Orchestrator drives mutating operations through a fixed state machine:
// Idle → Building → AwaitingSignature → Submitted → Confirmed | Failed.
// It never trusts the local optimistic outcome: after a successful submit it
// refreshes the full cache and only then reports Confirmed, so callers
// always observe post-mutation authoritative state.
type Orchestrator struct {
	reader    ledger.Reader
	submitter ledger.Submitter
	cache     *Cache
	dep       ledger.Deployment
	journal   *Journal
	logger    *log.Logger
	onChange  func(Operation, Status)
}

// OrchestratorOption customises an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithJournal enables persistent operation records.
func WithJournal(journal *Journal) OrchestratorOption {
	return func(o *Orchestrator) { o.journal = journal }
}

// WithOrchestratorLogger attaches a custom logger.
func WithOrchestratorLogger(logger *log.Logger) OrchestratorOption {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithTransitionHook installs a callback invoked on every status change.
func WithTransitionHook(hook func(Operation, Status)) OrchestratorOption {
	return func(o *Orchestrator) { o.onChange = hook }
}

// NewOrchestrator constructs the transaction orchestrator.
func NewOrchestrator(reader ledger.Reader, submitter ledger.Submitter, cache *Cache, dep ledger.Deployment, opts ...OrchestratorOption) (*Orchestrator, error) {
	if reader == nil {
		return nil, errors.New("vault: ledger reader is required")
	}
	if submitter == nil {
		return nil, errors.New("vault: submitter is required")
	}
	if cache == nil {
		return nil, errors.New("vault: cache is required")
	}
	o := &Orchestrator{
		reader:    reader,
		submitter: submitter,
		cache:     cache,
		dep:       dep,
		logger:    log.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// OpenPosition opens a new position funded with the given decimal amount of
// collateral.
func (o *Orchestrator) OpenPosition(ctx context.Context, collateralAmount string) (*Result, error) {
	amount, err := o.parseAmount(collateralAmount)
	if err != nil {
		return failedResult(OpOpenPosition), err
	}
	return o.run(ctx, OpOpenPosition, &OperationRecord{
		Amounts: map[string]string{"collateral": collateralAmount},
	}, func(ctx context.Context) (*ledger.Call, error) {
		coinIDs, err := o.gatherCoins(ctx, o.dep.CollateralCoinType, "collateral", amount)
		if err != nil {
			return nil, err
		}
		return o.call("open_position",
			ledger.ObjectArg(o.dep.ProtocolStateID),
			ledger.ObjectArg(o.dep.CollateralConfigID),
			ledger.ObjectArg(o.dep.CollateralVaultID),
			ledger.ObjectVecArg(coinIDs...),
			ledger.U64Arg(amount),
		), nil
	})
}

// AddCollateral deposits additional collateral into an existing position.
func (o *Orchestrator) AddCollateral(ctx context.Context, positionID, collateralAmount string) (*Result, error) {
	amount, err := o.parseAmount(collateralAmount)
	if err != nil {
		return failedResult(OpAddCollateral), err
	}
	return o.run(ctx, OpAddCollateral, &OperationRecord{
		PositionID: positionID,
		Amounts:    map[string]string{"collateral": collateralAmount},
	}, func(ctx context.Context) (*ledger.Call, error) {
		coinIDs, err := o.gatherCoins(ctx, o.dep.CollateralCoinType, "collateral", amount)
		if err != nil {
			return nil, err
		}
		return o.call("add_collateral",
			ledger.ObjectArg(o.dep.ProtocolStateID),
			ledger.ObjectArg(o.dep.CollateralConfigID),
			ledger.ObjectArg(o.dep.CollateralVaultID),
			ledger.ObjectArg(positionID),
			ledger.ObjectVecArg(coinIDs...),
			ledger.U64Arg(amount),
		), nil
	})
}

// Mint issues new stable units against a position's collateral.
func (o *Orchestrator) Mint(ctx context.Context, positionID, mintAmount string) (*Result, error) {
	amount, err := o.parseAmount(mintAmount)
	if err != nil {
		return failedResult(OpMint), err
	}
	return o.run(ctx, OpMint, &OperationRecord{
		PositionID: positionID,
		Amounts:    map[string]string{"mint": mintAmount},
	}, func(ctx context.Context) (*ledger.Call, error) {
		return o.call("mint",
			ledger.ObjectArg(o.dep.ProtocolStateID),
			ledger.ObjectArg(o.dep.CollateralConfigID),
			ledger.ObjectArg(o.dep.CollateralVaultID),
			ledger.ObjectArg(positionID),
			ledger.U64Arg(amount),
		), nil
	})
}

// Burn repays stable debt. The caller's stable holdings are merged into one
// spendable unit before the exact burn amount is split out; that ordering is
// a hard precondition of the remote call.
func (o *Orchestrator) Burn(ctx context.Context, positionID, burnAmount string) (*Result, error) {
	amount, err := o.parseAmount(burnAmount)
	if err != nil {
		return failedResult(OpBurn), err
	}
	return o.run(ctx, OpBurn, &OperationRecord{
		PositionID: positionID,
		Amounts:    map[string]string{"burn": burnAmount},
	}, func(ctx context.Context) (*ledger.Call, error) {
		coinIDs, err := o.gatherCoins(ctx, o.dep.StableCoinType, "stable", amount)
		if err != nil {
			return nil, err
		}
		// Argument order is merge-then-split: the coin vector is consolidated
		// remotely before the burn amount is carved out of it.
		return o.call("burn",
			ledger.ObjectArg(o.dep.ProtocolStateID),
			ledger.ObjectArg(o.dep.CollateralConfigID),
			ledger.ObjectArg(o.dep.CollateralVaultID),
			ledger.ObjectArg(positionID),
			ledger.ObjectVecArg(coinIDs...),
			ledger.U64Arg(amount),
		), nil
	})
}

// WithdrawAll withdraws every collateral unit from a position.
func (o *Orchestrator) WithdrawAll(ctx context.Context, positionID string) (*Result, error) {
	return o.run(ctx, OpWithdrawAll, &OperationRecord{PositionID: positionID},
		func(ctx context.Context) (*ledger.Call, error) {
			return o.call("withdraw_all",
				ledger.ObjectArg(o.dep.ProtocolStateID),
				ledger.ObjectArg(o.dep.CollateralConfigID),
				ledger.ObjectArg(o.dep.CollateralVaultID),
				ledger.ObjectArg(positionID),
			), nil
		})
}

// WithdrawPartial withdraws part of a position's collateral.
func (o *Orchestrator) WithdrawPartial(ctx context.Context, positionID, withdrawAmount string) (*Result, error) {
	amount, err := o.parseAmount(withdrawAmount)
	if err != nil {
		return failedResult(OpWithdrawPartial), err
	}
	return o.run(ctx, OpWithdrawPartial, &OperationRecord{
		PositionID: positionID,
		Amounts:    map[string]string{"withdraw": withdrawAmount},
	}, func(ctx context.Context) (*ledger.Call, error) {
		return o.call("withdraw_partial",
			ledger.ObjectArg(o.dep.ProtocolStateID),
			ledger.ObjectArg(o.dep.CollateralConfigID),
			ledger.ObjectArg(o.dep.CollateralVaultID),
			ledger.ObjectArg(positionID),
			ledger.U64Arg(amount),
		), nil
	})
}

// run drives one operation through the state machine. build gathers
// prerequisite reads and assembles the call; any error before the submit
// step means no network write happened and no state changed.
func (o *Orchestrator) run(ctx context.Context, op Operation, rec *OperationRecord, build func(context.Context) (*ledger.Call, error)) (*Result, error) {
	res := &Result{Operation: op, Status: StatusIdle}
	rec.Operation = string(op)
	rec.Owner = o.submitter.Address()

	fail := func(err error) (*Result, error) {
		res.Status = StatusFailed
		o.transition(op, StatusFailed)
		rec.Status = string(StatusFailed)
		rec.ErrorMessage = err.Error()
		if res.Tx != nil {
			rec.Digest = res.Tx.Digest
			rec.RevertReason = res.Tx.Error
		}
		o.writeRecord(rec)
		return res, err
	}

	if rec.Owner == "" {
		return fail(fmt.Errorf("%w: no connected wallet identity", ErrPrecheckFailed))
	}
	if state, ok := o.cache.ProtocolState(); ok && state.Paused {
		return fail(fmt.Errorf("%w: protocol is paused", ErrPrecheckFailed))
	}

	res.Status = StatusBuilding
	o.transition(op, StatusBuilding)
	call, err := build(ctx)
	if err != nil {
		return fail(err)
	}

	res.Status = StatusAwaitingSignature
	o.transition(op, StatusAwaitingSignature)
	tx, err := o.submitter.SignAndSubmit(ctx, call)
	if err != nil {
		return fail(err)
	}

	res.Status = StatusSubmitted
	res.Tx = tx
	o.transition(op, StatusSubmitted)
	if !tx.Succeeded() {
		return fail(fmt.Errorf("%w: %s", ErrRemoteWriteFailed, tx.Error))
	}

	// The local outcome is not trusted: refresh unconditionally and resolve
	// only after the refresh settles. A failed refresh is soft; the mutation
	// itself already confirmed remotely.
	if err := o.cache.RefreshAll(ctx, rec.Owner); err != nil {
		o.logger.Printf("vault: post-%s refresh: %v", op, err)
	}

	res.Status = StatusConfirmed
	o.transition(op, StatusConfirmed)
	rec.Status = string(StatusConfirmed)
	rec.Digest = tx.Digest
	o.writeRecord(rec)
	return res, nil
}

// gatherCoins lists the caller's holdings of one asset type and returns all
// their object ids, verifying they cover the requested amount. Every holding
// is included so the remote merge consolidates dust.
func (o *Orchestrator) gatherCoins(ctx context.Context, coinType, label string, amount uint64) ([]string, error) {
	coins, err := o.reader.GetCoins(ctx, o.submitter.Address(), coinType)
	if err != nil {
		return nil, fmt.Errorf("%w: list %s coins: %v", ErrRemoteReadFailed, label, err)
	}
	if len(coins) == 0 {
		return nil, fmt.Errorf("%w: no spendable %s asset found", ErrPrecheckFailed, label)
	}
	total := new(big.Int)
	ids := make([]string, 0, len(coins))
	for _, coin := range coins {
		total.Add(total, new(big.Int).SetUint64(coin.Balance))
		ids = append(ids, coin.ID)
	}
	if total.Cmp(new(big.Int).SetUint64(amount)) < 0 {
		return nil, fmt.Errorf("%w: insufficient %s balance: have %s, need %d base units",
			ErrPrecheckFailed, label, total.String(), amount)
	}
	return ids, nil
}

func (o *Orchestrator) parseAmount(input string) (uint64, error) {
	amount, err := fixedpoint.ParseUint64(input, o.dep.Decimals)
	if err != nil {
		return 0, err
	}
	if amount == 0 {
		return 0, fmt.Errorf("%w: amount must be positive", ErrPrecheckFailed)
	}
	return amount, nil
}

func (o *Orchestrator) call(function string, args ...ledger.Arg) *ledger.Call {
	return &ledger.Call{
		Package:  o.dep.PackageID,
		Module:   o.dep.Module,
		Function: function,
		TypeArgs: []string{o.dep.CollateralCoinType, o.dep.StableCoinType},
		Args:     args,
	}
}

func (o *Orchestrator) transition(op Operation, status Status) {
	if o.onChange != nil {
		o.onChange(op, status)
	}
}

func (o *Orchestrator) writeRecord(rec *OperationRecord) {
	if o.journal == nil {
		return
	}
	if _, err := o.journal.Write(rec); err != nil {
		o.logger.Printf("vault: journal write: %v", err)
	}
}

func failedResult(op Operation) *Result {
	return &Result{Operation: op, Status: StatusFailed}
}
