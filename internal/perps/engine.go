package perps

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/dex"
	"github.com/coldbell/perps/backend/internal/fixedpoint"
	"github.com/coldbell/perps/backend/internal/oracle"
	"github.com/coldbell/perps/backend/internal/pool"
)

// Ledger moves tokens on behalf of the engine. Each call succeeds or fails as a unit.
type Ledger interface {
	Deposit(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error
	Withdraw(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error
	Mint(ctx context.Context, mint, to, authority solana.PublicKey, amount uint64) error
	Burn(ctx context.Context, mint, from, authority solana.PublicKey, amount uint64) error
	Supply(ctx context.Context, mint solana.PublicKey) (uint64, error)
}

// Provisioner is implemented by ledgers that can create the pool-owned mint and
// token accounts during admin operations.
type Provisioner interface {
	CreateMint(ctx context.Context, key, authority solana.PublicKey, decimals uint8) error
	CreateTokenAccount(ctx context.Context, key, mint, owner solana.PublicKey) error
}

type Options struct {
	ProgramID solana.PublicKey
	Ledger    Ledger
	// Oracles serves live feeds; test oracle accounts written by SetTestOraclePrice
	// are layered in front of it.
	Oracles     oracle.AccountSource
	TestOracles *oracle.MemoryAccounts
	Clock       Clock
	Events      *Broadcaster
	Logger      *slog.Logger
}

// Engine sequences pool accounting against the ledger. Operations are serialized
// and commit only once every step, ledger calls included, has succeeded.
type Engine struct {
	mu sync.Mutex

	programID   solana.PublicKey
	ledger      Ledger
	oracles     oracle.AccountSource
	testOracles *oracle.MemoryAccounts
	clock       Clock
	events      *Broadcaster
	logger      *slog.Logger

	perpetuals *Perpetuals
	pools      map[string]*pool.Pool
	custodies  map[solana.PublicKey]*pool.Custody
}

func New(opts Options) (*Engine, error) {
	if opts.Ledger == nil {
		return nil, errors.New("ledger is required")
	}
	if opts.ProgramID.IsZero() {
		opts.ProgramID = dex.DefaultPerpetualsProgramID
	}
	if opts.TestOracles == nil {
		opts.TestOracles = oracle.NewMemoryAccounts()
	}
	sources := oracle.LayeredSources{opts.TestOracles}
	if opts.Oracles != nil {
		sources = append(sources, opts.Oracles)
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Events == nil {
		opts.Events = NewBroadcaster()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Engine{
		programID:   opts.ProgramID,
		ledger:      opts.Ledger,
		oracles:     sources,
		testOracles: opts.TestOracles,
		clock:       opts.Clock,
		events:      opts.Events,
		logger:      opts.Logger,
		pools:       make(map[string]*pool.Pool),
		custodies:   make(map[solana.PublicKey]*pool.Custody),
	}, nil
}

func (e *Engine) Events() *Broadcaster {
	return e.events
}

func (e *Engine) ProgramID() solana.PublicKey {
	return e.programID
}

func (e *Engine) Perpetuals() (Perpetuals, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.perpetuals == nil {
		return Perpetuals{}, ErrNotInitialized
	}
	out := *e.perpetuals
	out.Pools = append([]solana.PublicKey(nil), e.perpetuals.Pools...)
	return out, nil
}

// PoolView is a detached copy of a pool and its custodies in slot order.
type PoolView struct {
	Pool      pool.Pool      `json:"pool"`
	Custodies []pool.Custody `json:"custodies"`
}

func (e *Engine) Pools() []PoolView {
	e.mu.Lock()
	defer e.mu.Unlock()

	names := make([]string, 0, len(e.pools))
	for name := range e.pools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]PoolView, 0, len(names))
	for _, name := range names {
		out = append(out, e.viewLocked(e.pools[name]))
	}
	return out
}

func (e *Engine) Pool(name string) (PoolView, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[name]
	if !ok {
		return PoolView{}, fmt.Errorf("%w: %q", ErrPoolNotFound, name)
	}
	return e.viewLocked(p), nil
}

// CustodyByMint resolves the custody that holds mint in the named pool.
func (e *Engine) CustodyByMint(poolName string, mint solana.PublicKey) (pool.Custody, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	p, ok := e.pools[poolName]
	if !ok {
		return pool.Custody{}, fmt.Errorf("%w: %q", ErrPoolNotFound, poolName)
	}
	for _, token := range p.Tokens {
		if c := e.custodies[token.Custody]; c != nil && c.Mint.Equals(mint) {
			return *c, nil
		}
	}
	return pool.Custody{}, fmt.Errorf("%w: mint %s in pool %q", pool.ErrUnsupportedToken, mint, poolName)
}

func (e *Engine) viewLocked(p *pool.Pool) PoolView {
	view := PoolView{Pool: clonePool(p), Custodies: make([]pool.Custody, 0, len(p.Tokens))}
	for _, token := range p.Tokens {
		if c := e.custodies[token.Custody]; c != nil {
			view.Custodies = append(view.Custodies, *c)
		}
	}
	return view
}

// snapshot is a mutable copy of one pool and all of its custodies.
type snapshot struct {
	pool      *pool.Pool
	custodies map[solana.PublicKey]*pool.Custody
	ordered   []*pool.Custody
}

func (e *Engine) snapshotLocked(poolName string) (*snapshot, error) {
	if e.perpetuals == nil {
		return nil, ErrNotInitialized
	}
	p, ok := e.pools[poolName]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrPoolNotFound, poolName)
	}
	copied := clonePool(p)
	snap := &snapshot{
		pool:      &copied,
		custodies: make(map[solana.PublicKey]*pool.Custody, len(p.Tokens)),
		ordered:   make([]*pool.Custody, 0, len(p.Tokens)),
	}
	for _, token := range p.Tokens {
		stored, ok := e.custodies[token.Custody]
		if !ok {
			return nil, fmt.Errorf("%w: %s listed by pool %q", ErrCustodyNotFound, token.Custody, poolName)
		}
		c := *stored
		snap.custodies[c.Key] = &c
		snap.ordered = append(snap.ordered, &c)
	}
	return snap, nil
}

func (s *snapshot) custody(key solana.PublicKey) (*pool.Custody, error) {
	if _, err := s.pool.GetTokenID(key); err != nil {
		return nil, err
	}
	return s.custodies[key], nil
}

// commitLocked publishes a snapshot back into the engine state.
func (e *Engine) commitLocked(snap *snapshot) {
	committed := *snap.pool
	e.pools[committed.Name] = &committed
	for key, c := range snap.custodies {
		stored := *c
		e.custodies[key] = &stored
	}
}

// oracleReads holds the clock and oracle accounts read for one pool before the
// engine lock is taken.
type oracleReads struct {
	now      int64
	accounts map[solana.PublicKey]*oracle.Account
}

// readOracles reads the clock and every oracle of a pool outside the engine lock,
// so a slow cluster only delays the caller.
func (e *Engine) readOracles(ctx context.Context, poolName string) (*oracleReads, error) {
	e.mu.Lock()
	perpetuals := e.perpetuals
	snap, err := e.snapshotLocked(poolName)
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}

	now, err := perpetuals.GetTime(ctx)
	if err != nil {
		return nil, err
	}
	keys := make([]solana.PublicKey, len(snap.ordered))
	for i, c := range snap.ordered {
		keys[i] = c.Oracle.OracleAccount
	}
	accounts, err := e.fetchOracleAccounts(ctx, keys)
	if err != nil {
		return nil, err
	}
	return &oracleReads{now: now, accounts: accounts}, nil
}

func (e *Engine) fetchOracleAccounts(ctx context.Context, keys []solana.PublicKey) (map[solana.PublicKey]*oracle.Account, error) {
	fetched, err := e.oracles.GetAccounts(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("fetch oracle accounts: %w", err)
	}
	if len(fetched) < len(keys) {
		return nil, fmt.Errorf("%w: fetched %d of %d oracle accounts", pool.ErrNotEnoughAccountKeys, len(fetched), len(keys))
	}
	out := make(map[solana.PublicKey]*oracle.Account, len(keys))
	for i, key := range keys {
		out[key] = fetched[i]
	}
	return out, nil
}

// priceSlotsLocked validates the quote of every custody of the snapshot. Oracles
// added to the pool after reads was taken are fetched here.
func (e *Engine) priceSlotsLocked(ctx context.Context, snap *snapshot, reads *oracleReads) ([]pool.CustodyPrice, error) {
	var missing []solana.PublicKey
	for _, c := range snap.ordered {
		if _, ok := reads.accounts[c.Oracle.OracleAccount]; !ok {
			missing = append(missing, c.Oracle.OracleAccount)
		}
	}
	if len(missing) > 0 {
		late, err := e.fetchOracleAccounts(ctx, missing)
		if err != nil {
			return nil, err
		}
		for key, account := range late {
			reads.accounts[key] = account
		}
	}

	slots := make([]pool.CustodyPrice, len(snap.ordered))
	for i, c := range snap.ordered {
		price, err := c.Price(reads.accounts[c.Oracle.OracleAccount], e.programID, reads.now)
		if err != nil {
			return nil, err
		}
		slots[i] = pool.CustodyPrice{Custody: c, Price: price}
	}
	return slots, nil
}

func (e *Engine) requireAdminLocked(admin solana.PublicKey) error {
	if e.perpetuals == nil {
		return ErrNotInitialized
	}
	if !e.perpetuals.Admin.Equals(admin) {
		return fmt.Errorf("%w: %s", ErrUnauthorized, admin)
	}
	return nil
}

func clonePool(p *pool.Pool) pool.Pool {
	out := *p
	out.Tokens = append([]pool.PoolToken(nil), p.Tokens...)
	return out
}

// AssetsUnderManagement computes the current AUM of a pool without touching the cache.
func (e *Engine) AssetsUnderManagement(ctx context.Context, poolName string) (fixedpoint.Uint128, error) {
	reads, err := e.readOracles(ctx, poolName)
	if err != nil {
		return fixedpoint.Uint128{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	snap, err := e.snapshotLocked(poolName)
	if err != nil {
		return fixedpoint.Uint128{}, err
	}
	slots, err := e.priceSlotsLocked(ctx, snap, reads)
	if err != nil {
		return fixedpoint.Uint128{}, err
	}
	return snap.pool.GetAssetsUnderManagementUSD(slots)
}
