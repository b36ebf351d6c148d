// Package sim is an in-memory ledger used by tests and demo mode. It
// implements both the read and write capabilities against fixture state,
// selected through explicit configuration rather than environment sniffing.
package sim

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"stablevault/pkg/ledger"
)

// Ledger keeps protocol, position and coin state in memory and executes
// submitted calls synchronously.
type Ledger struct {
	mu  sync.Mutex
	dep ledger.Deployment

	nextID   int
	nextVer  uint64
	protocol map[string]any
	config   map[string]any

	positions map[string]*positionState           // position id -> state
	coins     map[string]map[string][]ledger.Coin // owner -> coin type -> holdings

	clock func() time.Time
}

type positionState struct {
	ID         string
	Owner      string
	Collateral uint64
	Debt       uint64
	AccruedFee uint64
	UpdatedAt  time.Time
}

// Option customises the simulator.
type Option func(*Ledger)

// WithClock overrides the time source (primarily for testing).
func WithClock(clock func() time.Time) Option {
	return func(l *Ledger) {
		if clock != nil {
			l.clock = clock
		}
	}
}

// New constructs a simulator for the given deployment with default protocol
// parameters.
func New(dep ledger.Deployment, opts ...Option) *Ledger {
	l := &Ledger{
		dep:     dep,
		nextID:  1,
		nextVer: 1,
		protocol: map[string]any{
			"total_supply":            "0",
			"total_collateral_value":  "0",
			"global_ratio_bps":        "0",
			"min_ratio_bps":           "15000",
			"liquidation_ratio_bps":   "12000",
			"stability_fee_bps":       "50",
			"liquidation_penalty_bps": "1000",
			"paused":                  false,
		},
		config: map[string]any{
			"name":                      "NATIVE",
			"min_ratio_bps":             "15000",
			"liquidation_threshold_bps": "12000",
			"debt_ceiling":              "1000000000000000",
			"current_debt":              "0",
			"active":                    true,
		},
		positions: make(map[string]*positionState),
		coins:     make(map[string]map[string][]ledger.Coin),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func init() {
	ledger.RegisterClient("sim", func(cfg *ledger.Config) (ledger.Reader, error) {
		return New(cfg.Deployment), nil
	})
}

// SetReferencePrice installs a protocol-governed reference price on the
// collateral config, in mantissa/exponent form.
func (l *Ledger) SetReferencePrice(mantissa uint64, expo int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.config["reference_price"] = fmt.Sprintf("%d", mantissa)
	l.config["reference_price_expo"] = fmt.Sprintf("%d", expo)
	l.config["price_updated_at_ms"] = fmt.Sprintf("%d", l.clock().UnixMilli())
}

// SetPaused toggles the protocol paused flag.
func (l *Ledger) SetPaused(paused bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.protocol["paused"] = paused
}

// FundCoin credits an owner with one coin object of the given type.
func (l *Ledger) FundCoin(owner, coinType string, balance uint64) string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.fundCoinLocked(owner, coinType, balance)
}

func (l *Ledger) fundCoinLocked(owner, coinType string, balance uint64) string {
	id := fmt.Sprintf("0xcoin%d", l.nextID)
	l.nextID++
	if l.coins[owner] == nil {
		l.coins[owner] = make(map[string][]ledger.Coin)
	}
	l.coins[owner][coinType] = append(l.coins[owner][coinType], ledger.Coin{
		ID: id, Type: coinType, Balance: balance,
	})
	return id
}

// GetObject returns the protocol state, collateral config or a position.
func (l *Ledger) GetObject(ctx context.Context, id string) (*ledger.Object, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch id {
	case l.dep.ProtocolStateID:
		return &ledger.Object{
			ID: id, Type: l.dep.PackageID + "::" + l.dep.Module + "::ProtocolState",
			Version: l.nextVer, Owner: "shared", Fields: copyFields(l.protocol),
		}, nil
	case l.dep.CollateralConfigID:
		return &ledger.Object{
			ID: id, Type: l.dep.PackageID + "::" + l.dep.Module + "::CollateralConfig",
			Version: l.nextVer, Owner: "shared", Fields: copyFields(l.config),
		}, nil
	}
	if pos, ok := l.positions[id]; ok {
		obj := l.positionObjectLocked(pos)
		return &obj, nil
	}
	return nil, fmt.Errorf("sim: object %s not found", id)
}

// GetOwnedObjects lists an owner's objects matching the struct type.
func (l *Ledger) GetOwnedObjects(ctx context.Context, owner, structType string) ([]ledger.Object, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []ledger.Object
	for _, pos := range l.positions {
		if pos.Owner != owner {
			continue
		}
		if structType != "" && structType != l.dep.PositionType {
			continue
		}
		out = append(out, l.positionObjectLocked(pos))
	}
	return out, nil
}

// GetCoins lists an owner's holdings of one asset type.
func (l *Ledger) GetCoins(ctx context.Context, owner, coinType string) ([]ledger.Coin, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	holdings := l.coins[owner][coinType]
	out := make([]ledger.Coin, len(holdings))
	copy(out, holdings)
	return out, nil
}

// Submit executes a signed call against the in-memory state. Reverts are
// reported through TxResult.Error, never as a Go error, mirroring how a real
// node reports execution failure distinct from transport failure.
func (l *Ledger) Submit(ctx context.Context, signed *ledger.SignedCall) (*ledger.TxResult, error) {
	if signed == nil || signed.Call == nil {
		return nil, fmt.Errorf("sim: signed call is required")
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	call := signed.Call
	if call.Package != l.dep.PackageID || call.Module != l.dep.Module {
		return l.revertLocked("ETargetMismatch"), nil
	}
	if l.protocol["paused"] == true {
		return l.revertLocked("EProtocolPaused"), nil
	}

	var reason string
	switch call.Function {
	case "open_position":
		reason = l.applyOpenLocked(signed.Sender, call)
	case "add_collateral":
		reason = l.applyAddCollateralLocked(signed.Sender, call)
	case "mint":
		reason = l.applyMintLocked(signed.Sender, call)
	case "burn":
		reason = l.applyBurnLocked(signed.Sender, call)
	case "withdraw_all":
		reason = l.applyWithdrawLocked(signed.Sender, call, true)
	case "withdraw_partial":
		reason = l.applyWithdrawLocked(signed.Sender, call, false)
	default:
		reason = "EUnknownFunction"
	}
	if reason != "" {
		return l.revertLocked(reason), nil
	}
	l.nextVer++
	digest := fmt.Sprintf("0xsim%d", l.nextID)
	l.nextID++
	return &ledger.TxResult{Digest: digest, Status: "success"}, nil
}

func (l *Ledger) applyOpenLocked(sender string, call *ledger.Call) string {
	if len(call.Args) != 5 {
		return "EArity"
	}
	coinIDs := call.Args[3].Objects
	amount := call.Args[4].U64
	change, ok := l.spendCoinsLocked(sender, l.dep.CollateralCoinType, coinIDs, amount)
	if !ok {
		return "EInsufficientBalance"
	}
	id := fmt.Sprintf("0xpos%d", l.nextID)
	l.nextID++
	l.positions[id] = &positionState{
		ID: id, Owner: sender, Collateral: amount, UpdatedAt: l.clock(),
	}
	if change > 0 {
		l.fundCoinLocked(sender, l.dep.CollateralCoinType, change)
	}
	return ""
}

func (l *Ledger) applyAddCollateralLocked(sender string, call *ledger.Call) string {
	if len(call.Args) != 6 {
		return "EArity"
	}
	pos, reason := l.ownedPositionLocked(sender, call.Args[3].Object)
	if reason != "" {
		return reason
	}
	coinIDs := call.Args[4].Objects
	amount := call.Args[5].U64
	change, ok := l.spendCoinsLocked(sender, l.dep.CollateralCoinType, coinIDs, amount)
	if !ok {
		return "EInsufficientBalance"
	}
	pos.Collateral += amount
	pos.UpdatedAt = l.clock()
	if change > 0 {
		l.fundCoinLocked(sender, l.dep.CollateralCoinType, change)
	}
	return ""
}

func (l *Ledger) applyMintLocked(sender string, call *ledger.Call) string {
	if len(call.Args) != 5 {
		return "EArity"
	}
	pos, reason := l.ownedPositionLocked(sender, call.Args[3].Object)
	if reason != "" {
		return reason
	}
	amount := call.Args[4].U64
	pos.Debt += amount
	pos.UpdatedAt = l.clock()
	l.fundCoinLocked(sender, l.dep.StableCoinType, amount)
	l.bumpSupplyLocked(int64(amount))
	return ""
}

func (l *Ledger) applyBurnLocked(sender string, call *ledger.Call) string {
	if len(call.Args) != 6 {
		return "EArity"
	}
	pos, reason := l.ownedPositionLocked(sender, call.Args[3].Object)
	if reason != "" {
		return reason
	}
	coinIDs := call.Args[4].Objects
	amount := call.Args[5].U64
	if amount > pos.Debt {
		return "EExcessBurn"
	}
	// Merge-then-split: all listed holdings are consolidated, the burn
	// amount carved out, and the remainder returned as one change coin.
	change, ok := l.spendCoinsLocked(sender, l.dep.StableCoinType, coinIDs, amount)
	if !ok {
		return "EInsufficientBalance"
	}
	pos.Debt -= amount
	pos.UpdatedAt = l.clock()
	if change > 0 {
		l.fundCoinLocked(sender, l.dep.StableCoinType, change)
	}
	l.bumpSupplyLocked(-int64(amount))
	return ""
}

func (l *Ledger) applyWithdrawLocked(sender string, call *ledger.Call, all bool) string {
	minArgs := 4
	if !all {
		minArgs = 5
	}
	if len(call.Args) != minArgs {
		return "EArity"
	}
	pos, reason := l.ownedPositionLocked(sender, call.Args[3].Object)
	if reason != "" {
		return reason
	}
	amount := pos.Collateral
	if !all {
		amount = call.Args[4].U64
		if amount > pos.Collateral {
			return "EExcessWithdrawal"
		}
	}
	if pos.Debt > 0 && all {
		return "EOutstandingDebt"
	}
	pos.Collateral -= amount
	pos.UpdatedAt = l.clock()
	if amount > 0 {
		l.fundCoinLocked(sender, l.dep.CollateralCoinType, amount)
	}
	return ""
}

// spendCoinsLocked consumes the listed coin objects and returns the change
// remaining after the spend amount. All listed ids must exist and belong to
// the owner.
func (l *Ledger) spendCoinsLocked(owner, coinType string, coinIDs []string, amount uint64) (uint64, bool) {
	holdings := l.coins[owner][coinType]
	listed := make(map[string]bool, len(coinIDs))
	for _, id := range coinIDs {
		listed[id] = true
	}
	var total uint64
	var kept []ledger.Coin
	matched := 0
	for _, coin := range holdings {
		if listed[coin.ID] {
			total += coin.Balance
			matched++
		} else {
			kept = append(kept, coin)
		}
	}
	if matched != len(coinIDs) || total < amount {
		return 0, false
	}
	if l.coins[owner] == nil {
		l.coins[owner] = make(map[string][]ledger.Coin)
	}
	l.coins[owner][coinType] = kept
	return total - amount, true
}

func (l *Ledger) ownedPositionLocked(sender, id string) (*positionState, string) {
	pos, ok := l.positions[id]
	if !ok {
		return nil, "EPositionNotFound"
	}
	if pos.Owner != sender {
		return nil, "ENotOwner"
	}
	return pos, ""
}

func (l *Ledger) bumpSupplyLocked(delta int64) {
	var current int64
	fmt.Sscanf(l.protocol["total_supply"].(string), "%d", &current)
	l.protocol["total_supply"] = fmt.Sprintf("%d", current+delta)
}

func (l *Ledger) positionObjectLocked(pos *positionState) ledger.Object {
	return ledger.Object{
		ID:      pos.ID,
		Type:    l.dep.PositionType,
		Version: l.nextVer,
		Owner:   pos.Owner,
		Fields: map[string]any{
			"collateral_amount": fmt.Sprintf("%d", pos.Collateral),
			"minted_amount":     fmt.Sprintf("%d", pos.Debt),
			"accrued_fee":       fmt.Sprintf("%d", pos.AccruedFee),
			"collateral_type":   l.dep.CollateralCoinType,
			"updated_at_ms":     fmt.Sprintf("%d", pos.UpdatedAt.UnixMilli()),
		},
	}
}

func (l *Ledger) revertLocked(reason string) *ledger.TxResult {
	digest := fmt.Sprintf("0xsim%d", l.nextID)
	l.nextID++
	return &ledger.TxResult{Digest: digest, Status: "failure", Error: reason}
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// Wallet is an auto-approving submitter bound to the simulator; demo mode
// uses it in place of a real signing wallet.
type Wallet struct {
	ledger  *Ledger
	address string
}

// NewWallet constructs a sim wallet for the given address.
func NewWallet(l *Ledger, address string) *Wallet {
	if address == "" {
		address = "0xsimwallet"
	}
	return &Wallet{ledger: l, address: strings.ToLower(address)}
}

// Address returns the connected identity.
func (w *Wallet) Address() string { return w.address }

// SignAndSubmit forwards the call to the simulator without a real signature.
func (w *Wallet) SignAndSubmit(ctx context.Context, call *ledger.Call) (*ledger.TxResult, error) {
	return w.ledger.Submit(ctx, &ledger.SignedCall{Call: call, Sender: w.address, Nonce: 1})
}
