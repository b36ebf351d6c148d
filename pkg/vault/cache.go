package vault

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"sync"

	"stablevault/pkg/ledger"
)

// Cache is the read model: one mutable slot per state category, each
// replaced wholesale by a refresh. Overlapping refreshes of the same slot
// are serialised by a monotonic sequence number; a refresh that finishes
// after a newer one started is discarded instead of installed.
type Cache struct {
	reader ledger.Reader
	dep    ledger.Deployment
	logger *log.Logger

	mu         sync.RWMutex
	protocol   *ProtocolState
	collateral *CollateralConfig
	positions  []Position
	balances   *Balances

	// Soft read errors, tracked per slot so a later successful refresh of
	// one slot cannot mask or be masked by another slot's failure.
	protocolErr  error
	positionsErr error
	balancesErr  error

	protocolSeq  seqGuard
	positionsSeq seqGuard
	balancesSeq  seqGuard
}

type seqGuard struct {
	next      uint64
	installed uint64
}

// begin must be called with the cache lock held.
func (g *seqGuard) begin() uint64 {
	g.next++
	return g.next
}

// tryInstall must be called with the cache lock held.
func (g *seqGuard) tryInstall(seq uint64) bool {
	if seq < g.installed {
		return false
	}
	g.installed = seq
	return true
}

// CacheOption customises a Cache.
type CacheOption func(*Cache)

// WithCacheLogger attaches a custom logger (defaults to log.Default()).
func WithCacheLogger(logger *log.Logger) CacheOption {
	return func(c *Cache) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// NewCache constructs the state cache over a ledger reader.
func NewCache(reader ledger.Reader, dep ledger.Deployment, opts ...CacheOption) (*Cache, error) {
	if reader == nil {
		return nil, errors.New("vault: ledger reader is required")
	}
	c := &Cache{reader: reader, dep: dep, logger: log.Default()}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ProtocolState returns the last-fetched protocol snapshot.
func (c *Cache) ProtocolState() (*ProtocolState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.protocol == nil {
		return nil, false
	}
	state := *c.protocol
	return &state, true
}

// CollateralConfig returns the last-fetched collateral configuration.
func (c *Cache) CollateralConfig() (*CollateralConfig, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.collateral == nil {
		return nil, false
	}
	cfg := *c.collateral
	return &cfg, true
}

// Positions returns the caller's last-fetched positions.
func (c *Cache) Positions() []Position {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Position, len(c.positions))
	copy(out, c.positions)
	return out
}

// Balances returns the caller's last-fetched balances.
func (c *Cache) Balances() (*Balances, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.balances == nil {
		return nil, false
	}
	b := *c.balances
	return &b, true
}

// LastError returns the soft errors recorded by failed refreshes whose slot
// has not since been refreshed successfully. Cached data stays usable
// alongside them.
func (c *Cache) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return errors.Join(c.protocolErr, c.positionsErr, c.balancesErr)
}

// RefreshProtocolState replaces the protocol and collateral-config slots.
func (c *Cache) RefreshProtocolState(ctx context.Context) error {
	c.mu.Lock()
	seq := c.protocolSeq.begin()
	c.mu.Unlock()

	stateObj, err := c.reader.GetObject(ctx, c.dep.ProtocolStateID)
	if err != nil {
		return c.recordReadError(&c.protocolErr, fmt.Errorf("protocol state: %w", err))
	}
	state, err := decodeProtocolState(stateObj)
	if err != nil {
		return c.recordReadError(&c.protocolErr, err)
	}
	configObj, err := c.reader.GetObject(ctx, c.dep.CollateralConfigID)
	if err != nil {
		return c.recordReadError(&c.protocolErr, fmt.Errorf("collateral config: %w", err))
	}
	config, err := decodeCollateralConfig(configObj)
	if err != nil {
		return c.recordReadError(&c.protocolErr, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.protocolSeq.tryInstall(seq) {
		return nil
	}
	c.protocol = state
	c.collateral = config
	c.protocolErr = nil
	return nil
}

// RefreshPositions replaces the positions slot with the owner's live
// positions. A missing owner is a no-op, not an error. Objects whose type
// matches but which originate from a different package deployment are
// silently excluded; legacy positions are unusable, not merely stale.
func (c *Cache) RefreshPositions(ctx context.Context, owner string) error {
	if owner == "" {
		return nil
	}
	c.mu.Lock()
	seq := c.positionsSeq.begin()
	c.mu.Unlock()

	objects, err := c.reader.GetOwnedObjects(ctx, owner, c.dep.PositionType)
	if err != nil {
		return c.recordReadError(&c.positionsErr, fmt.Errorf("positions: %w", err))
	}
	positions := make([]Position, 0, len(objects))
	for i := range objects {
		obj := &objects[i]
		if obj.Type != c.dep.PositionType || !strings.HasPrefix(obj.Type, c.dep.PackageID+"::") {
			continue
		}
		pos, err := decodePosition(obj)
		if err != nil {
			c.logger.Printf("vault: skipping malformed position %s: %v", obj.ID, err)
			continue
		}
		positions = append(positions, *pos)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.positionsSeq.tryInstall(seq) {
		return nil
	}
	c.positions = positions
	c.positionsErr = nil
	return nil
}

// RefreshBalances replaces the balances slot. A missing owner is a no-op.
func (c *Cache) RefreshBalances(ctx context.Context, owner string) error {
	if owner == "" {
		return nil
	}
	c.mu.Lock()
	seq := c.balancesSeq.begin()
	c.mu.Unlock()

	stable, err := c.reader.GetCoins(ctx, owner, c.dep.StableCoinType)
	if err != nil {
		return c.recordReadError(&c.balancesErr, fmt.Errorf("stable balance: %w", err))
	}
	native, err := c.reader.GetCoins(ctx, owner, c.dep.CollateralCoinType)
	if err != nil {
		return c.recordReadError(&c.balancesErr, fmt.Errorf("native balance: %w", err))
	}
	balances := &Balances{Stable: sumCoins(stable), Native: sumCoins(native)}

	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.balancesSeq.tryInstall(seq) {
		return nil
	}
	c.balances = balances
	c.balancesErr = nil
	return nil
}

// RefreshAll runs the three refreshes concurrently and resolves when all
// settle. Partial failure leaves the other slots refreshed; each failed
// slice keeps its soft error until that slice next refreshes successfully.
func (c *Cache) RefreshAll(ctx context.Context, owner string) error {
	var wg sync.WaitGroup
	errs := make([]error, 3)
	wg.Add(3)
	go func() {
		defer wg.Done()
		errs[0] = c.RefreshProtocolState(ctx)
	}()
	go func() {
		defer wg.Done()
		errs[1] = c.RefreshPositions(ctx, owner)
	}()
	go func() {
		defer wg.Done()
		errs[2] = c.RefreshBalances(ctx, owner)
	}()
	wg.Wait()
	return errors.Join(errs...)
}

// recordReadError must be called with the cache lock released; slot points
// at the per-slice error field owned by the calling refresh.
func (c *Cache) recordReadError(slot *error, err error) error {
	wrapped := fmt.Errorf("%w: %v", ErrRemoteReadFailed, err)
	c.mu.Lock()
	*slot = wrapped
	c.mu.Unlock()
	c.logger.Printf("vault: %v", wrapped)
	return wrapped
}

func sumCoins(coins []ledger.Coin) *big.Int {
	total := new(big.Int)
	for _, coin := range coins {
		total.Add(total, new(big.Int).SetUint64(coin.Balance))
	}
	return total
}
