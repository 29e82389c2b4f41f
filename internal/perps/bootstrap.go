package perps

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/config"
	"github.com/coldbell/perps/backend/internal/ledger"
	"github.com/coldbell/perps/backend/internal/oracle"
	"github.com/coldbell/perps/backend/internal/pool"
)

// Funder is a ledger that can create and credit user token accounts. Seeding
// liquidity at bootstrap requires one.
type Funder interface {
	Provisioner
	Fund(ctx context.Context, key solana.PublicKey, amount uint64) error
}

// Bootstrap initializes the engine from seed: pools, tokens, test prices, and
// optional seed liquidity deposited by the admin. admin is used when the seed
// names none.
func (e *Engine) Bootstrap(ctx context.Context, seed config.Bootstrap, admin solana.PublicKey) error {
	if !seed.Admin.IsZero() {
		admin = seed.Admin
	}
	if admin.IsZero() {
		return fmt.Errorf("%w: bootstrap has no admin", pool.ErrInvalidArgument)
	}

	if _, err := e.Perpetuals(); errors.Is(err, ErrNotInitialized) {
		if _, err := e.Init(ctx, admin); err != nil {
			return err
		}
	}
	perpetuals, err := e.Perpetuals()
	if err != nil {
		return err
	}

	for _, poolSeed := range seed.Pools {
		if _, err := e.AddPool(ctx, admin, poolSeed.Name); err != nil {
			return fmt.Errorf("add pool %q: %w", poolSeed.Name, err)
		}
		for _, token := range poolSeed.Tokens {
			if err := e.bootstrapToken(ctx, admin, &perpetuals, poolSeed.Name, token); err != nil {
				return fmt.Errorf("pool %q token %s: %w", poolSeed.Name, token.Mint, err)
			}
		}
		// Every slot is priced before the first deposit values the pool.
		for _, token := range poolSeed.Tokens {
			if token.SeedLiquidity == 0 {
				continue
			}
			if err := e.seedLiquidity(ctx, admin, poolSeed.Name, token); err != nil {
				return fmt.Errorf("seed pool %q with %s: %w", poolSeed.Name, token.Mint, err)
			}
		}
	}

	e.logger.Info("engine bootstrapped", "admin", admin, "pools", len(seed.Pools))
	return nil
}

func (e *Engine) bootstrapToken(ctx context.Context, admin solana.PublicKey, perpetuals *Perpetuals, poolName string, token config.TokenSeed) error {
	oracleType, err := oracle.ParseType(token.OracleType)
	if err != nil {
		return err
	}
	oracleAccount := token.OracleAccount
	if oracleAccount.IsZero() && oracleType == oracle.TypeTest {
		if oracleAccount, err = e.OracleAccountFor(poolName, token.Mint); err != nil {
			return err
		}
	}

	custody, err := e.AddToken(ctx, admin, AddTokenParams{
		Pool:     poolName,
		Mint:     token.Mint,
		Decimals: token.Decimals,
		Oracle: pool.OracleParams{
			OracleAccount:  oracleAccount,
			OracleType:     oracleType,
			MaxPriceError:  token.MaxPriceError,
			MaxPriceAgeSec: token.MaxPriceAgeSec,
		},
		Pricing: pool.PricingParams{
			MinInitialLeverage: token.MinInitialLeverage,
			MaxLeverage:        token.MaxLeverage,
		},
	})
	if err != nil {
		return err
	}
	if token.TestPrice == nil {
		return nil
	}

	now, err := perpetuals.GetTime(ctx)
	if err != nil {
		return err
	}
	return e.SetTestOraclePrice(ctx, admin, SetTestOraclePriceParams{
		Pool:          poolName,
		Custody:       custody.Key,
		OracleAccount: oracleAccount,
		Price:         token.TestPrice.Price,
		Expo:          token.TestPrice.Expo,
		Conf:          token.TestPrice.Conf,
		PublishTime:   now,
	})
}

func (e *Engine) seedLiquidity(ctx context.Context, admin solana.PublicKey, poolName string, token config.TokenSeed) error {
	funder, ok := e.ledger.(Funder)
	if !ok {
		return errors.New("ledger cannot fund seed liquidity")
	}
	view, err := e.Pool(poolName)
	if err != nil {
		return err
	}
	custody, err := e.CustodyByMint(poolName, token.Mint)
	if err != nil {
		return err
	}

	fundingAccount, lpAccount, err := EnsureUserAccounts(ctx, funder, admin, token.Mint, view.Pool.LPTokenMint)
	if err != nil {
		return err
	}
	if err := funder.Fund(ctx, fundingAccount, token.SeedLiquidity); err != nil {
		return fmt.Errorf("fund seed account: %w", err)
	}

	_, err = e.AddLiquidity(ctx, AddLiquidityParams{
		Pool:           poolName,
		Custody:        custody.Key,
		Owner:          admin,
		FundingAccount: fundingAccount,
		LPTokenAccount: lpAccount,
		Amount:         token.SeedLiquidity,
	})
	return err
}

// EnsureUserAccounts returns the associated token accounts of owner for mint and
// the pool LP mint, creating them in the ledger when missing.
func EnsureUserAccounts(ctx context.Context, p Provisioner, owner, mint, lpMint solana.PublicKey) (solana.PublicKey, solana.PublicKey, error) {
	tokenAccount, _, err := solana.FindAssociatedTokenAddress(owner, mint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("derive token account: %w", err)
	}
	lpAccount, _, err := solana.FindAssociatedTokenAddress(owner, lpMint)
	if err != nil {
		return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("derive lp token account: %w", err)
	}
	for _, acc := range []struct{ key, mint solana.PublicKey }{{tokenAccount, mint}, {lpAccount, lpMint}} {
		if err := p.CreateTokenAccount(ctx, acc.key, acc.mint, owner); err != nil && !errors.Is(err, ledger.ErrAccountExists) {
			return solana.PublicKey{}, solana.PublicKey{}, fmt.Errorf("create token account %s: %w", acc.key, err)
		}
	}
	return tokenAccount, lpAccount, nil
}
