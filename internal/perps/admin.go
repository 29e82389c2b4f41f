package perps

import (
	"context"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/dex"
	"github.com/coldbell/perps/backend/internal/oracle"
	"github.com/coldbell/perps/backend/internal/pool"
)

// Init records the admin and derives the program-wide PDAs. It may run once.
func (e *Engine) Init(ctx context.Context, admin solana.PublicKey) (Perpetuals, error) {
	if err := ctx.Err(); err != nil {
		return Perpetuals{}, err
	}
	if admin.IsZero() {
		return Perpetuals{}, fmt.Errorf("%w: admin key is empty", pool.ErrInvalidArgument)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.perpetuals != nil {
		return Perpetuals{}, ErrAlreadyInitialized
	}
	transferAuthority, transferAuthorityBump, err := dex.DeriveTransferAuthorityPDA(e.programID)
	if err != nil {
		return Perpetuals{}, fmt.Errorf("derive transfer authority: %w", err)
	}
	key, bump, err := dex.DerivePerpetualsPDA(e.programID)
	if err != nil {
		return Perpetuals{}, fmt.Errorf("derive perpetuals: %w", err)
	}

	e.perpetuals = &Perpetuals{
		ProgramID:             e.programID,
		Key:                   key,
		Admin:                 admin,
		TransferAuthority:     transferAuthority,
		TransferAuthorityBump: transferAuthorityBump,
		PerpetualsBump:        bump,
		clock:                 e.clock,
	}
	e.logger.Info("perpetuals initialized", "admin", admin, "transfer_authority", transferAuthority)
	return *e.perpetuals, nil
}

// AddPool creates an empty pool and its LP token mint.
func (e *Engine) AddPool(ctx context.Context, admin solana.PublicKey, name string) (pool.Pool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdminLocked(admin); err != nil {
		return pool.Pool{}, err
	}
	if err := dex.ValidatePoolName(name); err != nil {
		return pool.Pool{}, fmt.Errorf("%w: %v", pool.ErrInvalidArgument, err)
	}
	if _, ok := e.pools[name]; ok {
		return pool.Pool{}, fmt.Errorf("%w: %q", ErrPoolExists, name)
	}

	key, bump, err := dex.DerivePoolPDA(e.programID, name)
	if err != nil {
		return pool.Pool{}, fmt.Errorf("derive pool: %w", err)
	}
	lpMint, lpBump, err := dex.DeriveLPTokenMintPDA(e.programID, key)
	if err != nil {
		return pool.Pool{}, fmt.Errorf("derive lp token mint: %w", err)
	}
	if provisioner, ok := e.ledger.(Provisioner); ok {
		if err := provisioner.CreateMint(ctx, lpMint, e.perpetuals.TransferAuthority, LPDecimals); err != nil {
			return pool.Pool{}, fmt.Errorf("create lp token mint: %w", err)
		}
	}

	created := &pool.Pool{Name: name, Key: key, LPTokenMint: lpMint, Bump: bump, LPTokenBump: lpBump}
	e.pools[name] = created
	e.perpetuals.Pools = append(e.perpetuals.Pools, key)

	e.logger.Info("pool added", "pool", name, "key", key, "lp_token_mint", lpMint)
	e.events.Publish(Event{Type: EventPoolAdded, Pool: name, Data: clonePool(created)})
	return clonePool(created), nil
}

type AddTokenParams struct {
	Pool     string
	Mint     solana.PublicKey
	Decimals uint8
	Oracle   pool.OracleParams
	Pricing  pool.PricingParams
}

// AddToken registers mint in a pool or reconfigures an existing custody.
// Balances of an existing custody are kept.
func (e *Engine) AddToken(ctx context.Context, admin solana.PublicKey, params AddTokenParams) (pool.Custody, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdminLocked(admin); err != nil {
		return pool.Custody{}, err
	}
	p, ok := e.pools[params.Pool]
	if !ok {
		return pool.Custody{}, fmt.Errorf("%w: %q", ErrPoolNotFound, params.Pool)
	}

	key, bump, err := dex.DeriveCustodyPDA(e.programID, p.Key, params.Mint)
	if err != nil {
		return pool.Custody{}, fmt.Errorf("derive custody: %w", err)
	}
	tokenAccount, tokenAccountBump, err := dex.DeriveCustodyTokenAccountPDA(e.programID, p.Key, params.Mint)
	if err != nil {
		return pool.Custody{}, fmt.Errorf("derive custody token account: %w", err)
	}

	custody := pool.Custody{}
	existing, exists := e.custodies[key]
	if exists {
		custody = *existing
	}
	custody.Key = key
	custody.Pool = p.Key
	custody.TokenAccount = tokenAccount
	custody.Mint = params.Mint
	custody.Decimals = params.Decimals
	custody.Oracle = params.Oracle
	custody.Pricing = params.Pricing
	custody.Bump = bump
	custody.TokenAccountBump = tokenAccountBump
	if err := custody.Validate(); err != nil {
		return pool.Custody{}, err
	}
	if custody.Oracle.OracleType == oracle.TypeTest {
		expected, _, err := dex.DeriveOracleAccountPDA(e.programID, p.Key, params.Mint)
		if err != nil {
			return pool.Custody{}, fmt.Errorf("derive oracle account: %w", err)
		}
		if !custody.Oracle.OracleAccount.Equals(expected) {
			return pool.Custody{}, fmt.Errorf("%w: test oracle must live at %s, got %s",
				pool.ErrInvalidTokenConfig, expected, custody.Oracle.OracleAccount)
		}
	}

	if !exists {
		if provisioner, ok := e.ledger.(Provisioner); ok {
			if err := provisioner.CreateTokenAccount(ctx, tokenAccount, params.Mint, e.perpetuals.TransferAuthority); err != nil {
				return pool.Custody{}, fmt.Errorf("create custody token account: %w", err)
			}
		}
	}

	p.UpsertToken(key)
	e.custodies[key] = &custody

	e.logger.Info("token added",
		"pool", params.Pool,
		"custody", key,
		"mint", params.Mint,
		"oracle_type", params.Oracle.OracleType,
		"oracle_account", params.Oracle.OracleAccount,
	)
	e.events.Publish(Event{Type: EventTokenAdded, Pool: params.Pool, Data: custody})
	return custody, nil
}

type SetTestOraclePriceParams struct {
	Pool          string
	Custody       solana.PublicKey
	OracleAccount solana.PublicKey
	Price         uint64
	Expo          int32
	Conf          uint64
	PublishTime   int64
}

// SetTestOraclePrice writes the test oracle account of a custody. The account must
// be both the custody's configured oracle and its oracle_account PDA.
func (e *Engine) SetTestOraclePrice(ctx context.Context, admin solana.PublicKey, params SetTestOraclePriceParams) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.requireAdminLocked(admin); err != nil {
		return err
	}
	p, ok := e.pools[params.Pool]
	if !ok {
		return fmt.Errorf("%w: %q", ErrPoolNotFound, params.Pool)
	}
	if _, err := p.GetTokenID(params.Custody); err != nil {
		return err
	}
	custody, ok := e.custodies[params.Custody]
	if !ok {
		return fmt.Errorf("%w: %s", ErrCustodyNotFound, params.Custody)
	}

	expected, _, err := dex.DeriveOracleAccountPDA(e.programID, p.Key, custody.Mint)
	if err != nil {
		return fmt.Errorf("derive oracle account: %w", err)
	}
	if !params.OracleAccount.Equals(custody.Oracle.OracleAccount) || !params.OracleAccount.Equals(expected) {
		return fmt.Errorf("%w: oracle account %s, custody uses %s, seeds give %s",
			pool.ErrCustodyKeyMismatch, params.OracleAccount, custody.Oracle.OracleAccount, expected)
	}

	state := oracle.TestOracle{Price: params.Price, Expo: params.Expo, Conf: params.Conf, PublishTime: params.PublishTime}
	if err := e.testOracles.PutTestOracle(params.OracleAccount, e.programID, state); err != nil {
		return err
	}

	e.logger.Debug("test oracle price set", "pool", params.Pool, "custody", params.Custody, "price", params.Price, "expo", params.Expo)
	e.events.Publish(Event{Type: EventTestOraclePrice, Pool: params.Pool, Data: state})
	return nil
}

// OracleAccountFor returns the oracle_account PDA a test oracle of mint must live at.
func (e *Engine) OracleAccountFor(poolName string, mint solana.PublicKey) (solana.PublicKey, error) {
	key, _, err := dex.DerivePoolPDA(e.programID, poolName)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive pool: %w", err)
	}
	account, _, err := dex.DeriveOracleAccountPDA(e.programID, key, mint)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("derive oracle account: %w", err)
	}
	return account, nil
}
