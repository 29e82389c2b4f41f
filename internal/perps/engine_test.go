package perps

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coldbell/perps/backend/internal/config"
	"github.com/coldbell/perps/backend/internal/dex"
	"github.com/coldbell/perps/backend/internal/fixedpoint"
	"github.com/coldbell/perps/backend/internal/ledger"
	"github.com/coldbell/perps/backend/internal/logging"
	"github.com/coldbell/perps/backend/internal/oracle"
	"github.com/coldbell/perps/backend/internal/pool"
)

const fixtureNow = int64(1_700_000_000)

var (
	solMint  = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
	usdcMint = solana.MustPublicKeyFromBase58("EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v")
)

// faultyLedger fails the selected ledger step once armed.
type faultyLedger struct {
	*ledger.Memory
	failMint bool
	// failWithdraws holds the 1-based Withdraw calls to fail.
	failWithdraws map[int]bool
	withdraws     int
}

var errInjected = errors.New("injected ledger failure")

func (f *faultyLedger) Mint(ctx context.Context, mint, to, authority solana.PublicKey, amount uint64) error {
	if f.failMint {
		f.failMint = false
		return errInjected
	}
	return f.Memory.Mint(ctx, mint, to, authority, amount)
}

func (f *faultyLedger) Withdraw(ctx context.Context, from, to, authority solana.PublicKey, amount uint64) error {
	f.withdraws++
	if f.failWithdraws[f.withdraws] {
		return errInjected
	}
	return f.Memory.Withdraw(ctx, from, to, authority, amount)
}

type fixture struct {
	engine  *Engine
	ledger  *faultyLedger
	clock   *FixedClock
	admin   solana.PublicKey
	user    solana.PublicKey
	sol     pool.Custody
	usdc    pool.Custody
	userSOL solana.PublicKey
	userUSD solana.PublicKey
	userLP  solana.PublicKey
}

func fixtureSeed(admin solana.PublicKey) config.Bootstrap {
	token := func(mint solana.PublicKey, decimals uint8, price uint64) config.TokenSeed {
		return config.TokenSeed{
			Mint:           mint,
			Decimals:       decimals,
			OracleType:     "test",
			MaxPriceError:  10000,
			MaxPriceAgeSec: 60,
			MaxLeverage:    1_000_000,
			TestPrice:      &config.TestPriceSeed{Price: price, Expo: -3},
		}
	}
	return config.Bootstrap{
		Admin: admin,
		Pools: []config.PoolSeed{{
			Name:   "pool1",
			Tokens: []config.TokenSeed{token(solMint, 9, 1230), token(usdcMint, 6, 2000)},
		}},
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := t.Context()

	f := &fixture{
		ledger: &faultyLedger{Memory: ledger.NewMemory(), failWithdraws: make(map[int]bool)},
		clock:  NewFixedClock(fixtureNow),
		admin:  solana.NewWallet().PublicKey(),
		user:   solana.NewWallet().PublicKey(),
	}
	engine, err := New(Options{Ledger: f.ledger, Clock: f.clock, Logger: logging.Discard()})
	require.NoError(t, err)
	f.engine = engine

	require.NoError(t, engine.Bootstrap(ctx, fixtureSeed(f.admin), solana.PublicKey{}))

	f.sol, err = engine.CustodyByMint("pool1", solMint)
	require.NoError(t, err)
	f.usdc, err = engine.CustodyByMint("pool1", usdcMint)
	require.NoError(t, err)

	view, err := engine.Pool("pool1")
	require.NoError(t, err)
	f.userSOL, f.userLP, err = EnsureUserAccounts(ctx, f.ledger, f.user, solMint, view.Pool.LPTokenMint)
	require.NoError(t, err)
	f.userUSD, _, err = EnsureUserAccounts(ctx, f.ledger, f.user, usdcMint, view.Pool.LPTokenMint)
	require.NoError(t, err)
	require.NoError(t, f.ledger.Fund(ctx, f.userSOL, 100_000_000_000))
	require.NoError(t, f.ledger.Fund(ctx, f.userUSD, 100_000_000))
	return f
}

func (f *fixture) balance(t *testing.T, key solana.PublicKey) uint64 {
	t.Helper()
	amount, err := f.ledger.Balance(t.Context(), key)
	require.NoError(t, err)
	return amount
}

func (f *fixture) add(t *testing.T, custody pool.Custody, funding solana.PublicKey, amount uint64) (AddLiquidityReceipt, error) {
	t.Helper()
	return f.engine.AddLiquidity(t.Context(), AddLiquidityParams{
		Pool:           "pool1",
		Custody:        custody.Key,
		Owner:          f.user,
		FundingAccount: funding,
		LPTokenAccount: f.userLP,
		Amount:         amount,
	})
}

func (f *fixture) remove(t *testing.T, custody pool.Custody, receiving solana.PublicKey, lpAmount uint64) (RemoveLiquidityReceipt, error) {
	t.Helper()
	return f.engine.RemoveLiquidity(t.Context(), RemoveLiquidityParams{
		Pool:             "pool1",
		Custody:          custody.Key,
		Owner:            f.user,
		LPTokenAccount:   f.userLP,
		ReceivingAccount: receiving,
		LPAmount:         lpAmount,
	})
}

func (f *fixture) swapSOLForUSDC(t *testing.T, amountIn uint64) (SwapReceipt, error) {
	t.Helper()
	return f.engine.Swap(t.Context(), SwapParams{
		Pool:              "pool1",
		ReceivingCustody:  f.sol.Key,
		DispensingCustody: f.usdc.Key,
		Owner:             f.user,
		FundingAccount:    f.userSOL,
		ReceivingAccount:  f.userUSD,
		AmountIn:          amountIn,
	})
}

func TestEndToEndLiquidityAndSwap(t *testing.T) {
	f := newFixture(t)
	view, err := f.engine.Pool("pool1")
	require.NoError(t, err)
	lpMint := view.Pool.LPTokenMint

	added, err := f.add(t, f.sol, f.userSOL, 10_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(12_300_000), added.LPAmount)
	assert.Equal(t, "12300000", added.AumUSD)
	assert.Equal(t, uint64(12_300_000), f.balance(t, f.userLP))

	added, err = f.add(t, f.usdc, f.userUSD, 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000_000), added.LPAmount)
	assert.Equal(t, "12300000", added.AumBeforeUSD.String())
	supply, err := f.ledger.Supply(t.Context(), lpMint)
	require.NoError(t, err)
	assert.Equal(t, uint64(32_300_000), supply)

	swapped, err := f.swapSOLForUSDC(t, 5_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_075_000), swapped.AmountOut)
	assert.Equal(t, uint64(615_000), swapped.SwapPrice.Price)
	assert.Equal(t, int32(-6), swapped.SwapPrice.Exponent)
	assert.Equal(t, "32300000", swapped.AumUSD)
	assert.Equal(t, uint64(100_000_000-10_000_000+3_075_000), f.balance(t, f.userUSD))

	removed, err := f.remove(t, f.sol, f.userSOL, 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(8_130_081_300), removed.Amount)
	assert.Equal(t, "32300000", removed.AumBeforeUSD.String())

	removed, err = f.remove(t, f.usdc, f.userUSD, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, "22300000", removed.AumBeforeUSD.String())
	assert.Equal(t, uint64(500_000), removed.Amount)
	assert.Equal(t, "21300000", removed.AumUSD)

	view, err = f.engine.Pool("pool1")
	require.NoError(t, err)
	assert.Equal(t, "21300000", view.Pool.AumUSD.String(), "stored AUM is the post-remove value")
	require.Len(t, view.Custodies, 2)
	assert.Equal(t, uint64(15_000_000_000-8_130_081_300), view.Custodies[0].Assets.Owned)
	assert.Equal(t, uint64(10_000_000-3_075_000-500_000), view.Custodies[1].Assets.Owned)
	assert.Equal(t, view.Custodies[0].Assets.Owned, f.balance(t, f.sol.TokenAccount))
	assert.Equal(t, view.Custodies[1].Assets.Owned, f.balance(t, f.usdc.TokenAccount))
	assert.Equal(t, uint64(32_300_000-11_000_000), f.balance(t, f.userLP))
}

func TestQuotesMatchExecutionWithoutCommitting(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, f.sol, f.userSOL, 10_000_000_000)
	require.NoError(t, err)
	_, err = f.add(t, f.usdc, f.userUSD, 10_000_000)
	require.NoError(t, err)
	before, err := f.engine.Pool("pool1")
	require.NoError(t, err)

	quote, err := f.engine.QuoteSwap(t.Context(), "pool1", f.sol.Key, f.usdc.Key, 5_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(3_075_000), quote.AmountOut)

	addQuote, err := f.engine.QuoteAddLiquidity(t.Context(), "pool1", f.usdc.Key, 10_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(20_000_000), addQuote.LPAmount)

	removeQuote, err := f.engine.QuoteRemoveLiquidity(t.Context(), "pool1", f.usdc.Key, 1_000_000)
	require.NoError(t, err)
	assert.Equal(t, uint64(500_000), removeQuote.Amount)

	after, err := f.engine.Pool("pool1")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	executed, err := f.swapSOLForUSDC(t, 5_000_000_000)
	require.NoError(t, err)
	assert.Equal(t, quote.AmountOut, executed.AmountOut)
}

func TestAssetsUnderManagement(t *testing.T) {
	f := newFixture(t)
	aum, err := f.engine.AssetsUnderManagement(t.Context(), "pool1")
	require.NoError(t, err)
	assert.True(t, aum.IsZero())

	_, err = f.add(t, f.sol, f.userSOL, 10_000_000_000)
	require.NoError(t, err)
	aum, err = f.engine.AssetsUnderManagement(t.Context(), "pool1")
	require.NoError(t, err)
	assert.Equal(t, fixedpoint.NewUint128(12_300_000), aum)
}

func TestStaleOracleAbortsWithoutStateChange(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, f.sol, f.userSOL, 10_000_000_000)
	require.NoError(t, err)

	f.clock.Advance(60 * time.Second)
	_, err = f.add(t, f.sol, f.userSOL, 1_000_000_000)
	require.NoError(t, err, "a quote exactly max age old is still fresh")

	before, err := f.engine.Pool("pool1")
	require.NoError(t, err)
	lpBefore := f.balance(t, f.userLP)
	solBefore := f.balance(t, f.userSOL)

	f.clock.Advance(time.Second)
	_, err = f.add(t, f.sol, f.userSOL, 1_000_000_000)
	require.ErrorIs(t, err, oracle.ErrStaleOraclePrice)
	assert.Equal(t, "StaleOraclePrice", ErrorCode(err))

	after, err := f.engine.Pool("pool1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
	assert.Equal(t, lpBefore, f.balance(t, f.userLP))
	assert.Equal(t, solBefore, f.balance(t, f.userSOL))
}

func TestNonPositiveClockIsRejected(t *testing.T) {
	f := newFixture(t)
	f.clock.Set(0)
	_, err := f.add(t, f.sol, f.userSOL, 1_000_000_000)
	require.ErrorIs(t, err, ErrInvalidAccountData)
	assert.Equal(t, "InvalidAccountData", ErrorCode(err))
}

func TestAddLiquidityRefundsWhenMintFails(t *testing.T) {
	f := newFixture(t)
	solBefore := f.balance(t, f.userSOL)

	f.ledger.failMint = true
	_, err := f.add(t, f.sol, f.userSOL, 1_000_000_000)
	require.ErrorIs(t, err, errInjected)

	assert.Equal(t, solBefore, f.balance(t, f.userSOL))
	assert.Zero(t, f.balance(t, f.sol.TokenAccount))
	view, err := f.engine.Pool("pool1")
	require.NoError(t, err)
	assert.Zero(t, view.Custodies[0].Assets.Owned)
	assert.True(t, view.Pool.AumUSD.IsZero())
}

func TestRemoveLiquidityRemintsWhenWithdrawFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, f.sol, f.userSOL, 10_000_000_000)
	require.NoError(t, err)
	lpBefore := f.balance(t, f.userLP)

	f.ledger.failWithdraws[f.ledger.withdraws+1] = true
	_, err = f.remove(t, f.sol, f.userSOL, 1_000_000)
	require.ErrorIs(t, err, errInjected)

	assert.Equal(t, lpBefore, f.balance(t, f.userLP))
	view, err := f.engine.Pool("pool1")
	require.NoError(t, err)
	assert.Equal(t, uint64(10_000_000_000), view.Custodies[0].Assets.Owned)
}

func TestSwapRefundsWhenOutputFails(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, f.usdc, f.userUSD, 10_000_000)
	require.NoError(t, err)
	solBefore := f.balance(t, f.userSOL)

	f.ledger.failWithdraws[f.ledger.withdraws+1] = true
	_, err = f.swapSOLForUSDC(t, 1_000_000_000)
	require.ErrorIs(t, err, errInjected)
	assert.Equal(t, solBefore, f.balance(t, f.userSOL))
	assert.Zero(t, f.balance(t, f.sol.TokenAccount))
}

func TestFailedCompensationKeepsBothErrors(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, f.usdc, f.userUSD, 10_000_000)
	require.NoError(t, err)
	solBefore := f.balance(t, f.userSOL)

	// Fail the output withdrawal and the refund that follows it.
	f.ledger.failWithdraws[f.ledger.withdraws+1] = true
	f.ledger.failWithdraws[f.ledger.withdraws+2] = true
	_, err = f.swapSOLForUSDC(t, 1_000_000_000)
	require.ErrorIs(t, err, errInjected)
	assert.ErrorContains(t, err, "transfer swap output")
	assert.Equal(t, solBefore-1_000_000_000, f.balance(t, f.userSOL), "unrefunded input stays in custody")

	view, err := f.engine.Pool("pool1")
	require.NoError(t, err)
	assert.Zero(t, view.Custodies[0].Assets.Owned, "pool state is not committed")
}

func TestLiquidityArgumentChecks(t *testing.T) {
	f := newFixture(t)

	_, err := f.add(t, f.sol, f.userSOL, 0)
	assert.ErrorIs(t, err, pool.ErrInvalidArgument)

	_, err = f.remove(t, f.sol, f.userSOL, 0)
	assert.ErrorIs(t, err, pool.ErrInvalidArgument)

	_, err = f.engine.Swap(t.Context(), SwapParams{Pool: "pool1", ReceivingCustody: f.sol.Key, DispensingCustody: f.sol.Key, AmountIn: 1})
	assert.ErrorIs(t, err, pool.ErrSameCustody)
	assert.Equal(t, "ConstraintKeysNeq", ErrorCode(err))

	_, err = f.add(t, pool.Custody{Key: solana.NewWallet().PublicKey()}, f.userSOL, 1)
	assert.ErrorIs(t, err, pool.ErrUnsupportedToken)

	_, err = f.engine.AddLiquidity(t.Context(), AddLiquidityParams{Pool: "nope", Custody: f.sol.Key, Amount: 1})
	assert.ErrorIs(t, err, ErrPoolNotFound)

	_, err = f.swapSOLForUSDC(t, 1_000_000_000)
	assert.ErrorIs(t, err, fixedpoint.ErrMathOverflow, "empty dispensing custody cannot pay out")
}

func TestRemoveLiquidityMinAmountOut(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, f.usdc, f.userUSD, 10_000_000)
	require.NoError(t, err)

	_, err = f.engine.RemoveLiquidity(t.Context(), RemoveLiquidityParams{
		Pool:             "pool1",
		Custody:          f.usdc.Key,
		Owner:            f.user,
		LPTokenAccount:   f.userLP,
		ReceivingAccount: f.userUSD,
		LPAmount:         2_000_000,
		MinAmountOut:     1_000_001,
	})
	require.ErrorIs(t, err, pool.ErrInsufficientAmountReturned)
	assert.Equal(t, uint64(20_000_000), f.balance(t, f.userLP))
}

func TestSwapMinAmountOut(t *testing.T) {
	f := newFixture(t)
	_, err := f.add(t, f.usdc, f.userUSD, 10_000_000)
	require.NoError(t, err)

	_, err = f.engine.Swap(t.Context(), SwapParams{
		Pool:              "pool1",
		ReceivingCustody:  f.sol.Key,
		DispensingCustody: f.usdc.Key,
		Owner:             f.user,
		FundingAccount:    f.userSOL,
		ReceivingAccount:  f.userUSD,
		AmountIn:          1_000_000_000,
		MinAmountOut:      615_001,
	})
	assert.ErrorIs(t, err, pool.ErrInsufficientAmountReturned)
}

func TestOwnerMustSignForFundingAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.engine.AddLiquidity(t.Context(), AddLiquidityParams{
		Pool:           "pool1",
		Custody:        f.sol.Key,
		Owner:          solana.NewWallet().PublicKey(),
		FundingAccount: f.userSOL,
		LPTokenAccount: f.userLP,
		Amount:         1_000_000_000,
	})
	require.ErrorIs(t, err, ledger.ErrOwnerMismatch)
	assert.Equal(t, "OwnerMismatch", ErrorCode(err))
	view, err := f.engine.Pool("pool1")
	require.NoError(t, err)
	assert.Zero(t, view.Custodies[0].Assets.Owned)
}

func TestEventsArePublished(t *testing.T) {
	f := newFixture(t)
	events, cancel := f.engine.Events().Subscribe(8)
	defer cancel()

	_, err := f.add(t, f.sol, f.userSOL, 10_000_000_000)
	require.NoError(t, err)

	select {
	case event := <-events:
		assert.Equal(t, EventLiquidityAdded, event.Type)
		assert.Equal(t, "pool1", event.Pool)
		receipt, ok := event.Data.(AddLiquidityReceipt)
		require.True(t, ok)
		assert.Equal(t, uint64(12_300_000), receipt.LPAmount)
		assert.NotZero(t, event.TS)
	case <-time.After(time.Second):
		t.Fatal("no event published")
	}
}

func TestBroadcasterDropsForSlowSubscribers(t *testing.T) {
	b := NewBroadcaster()
	events, cancel := b.Subscribe(1)
	b.Publish(Event{Type: EventSwap, Pool: "p"})
	b.Publish(Event{Type: EventSwap, Pool: "p"})

	<-events
	select {
	case <-events:
		t.Fatal("second event should have been dropped")
	default:
	}
	cancel()
	cancel()
	_, open := <-events
	assert.False(t, open)
	assert.Equal(t, "pool.p", Channel("p"))
}

func TestErrorCodeFallsBackToInternal(t *testing.T) {
	assert.Equal(t, "", ErrorCode(nil))
	assert.Equal(t, "Internal", ErrorCode(errors.New("boom")))
	assert.Equal(t, "MathOverflow", ErrorCode(fmt.Errorf("wrapped: %w", fixedpoint.ErrMathOverflow)))
	assert.Equal(t, "InvalidOracleAccount", ErrorCode(fmt.Errorf("a: %w", fmt.Errorf("b: %w", oracle.ErrInvalidOracleAccount))))
}

func TestOracleAccountForMatchesDerivation(t *testing.T) {
	f := newFixture(t)
	view, err := f.engine.Pool("pool1")
	require.NoError(t, err)

	got, err := f.engine.OracleAccountFor("pool1", solMint)
	require.NoError(t, err)
	assert.Equal(t, dex.MustDeriveOracleAccountPDA(f.engine.ProgramID(), view.Pool.Key, solMint), got)
	assert.Equal(t, got, f.sol.Oracle.OracleAccount)
}

// blockingOracles holds every fetch until released.
type blockingOracles struct {
	entered chan struct{}
	release chan struct{}
}

func (b *blockingOracles) GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*oracle.Account, error) {
	b.entered <- struct{}{}
	select {
	case <-b.release:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return make([]*oracle.Account, len(keys)), nil
}

func TestSlowOracleFetchDoesNotBlockOtherPools(t *testing.T) {
	live := &blockingOracles{entered: make(chan struct{}, 1), release: make(chan struct{})}
	admin := solana.NewWallet().PublicKey()
	engine, err := New(Options{
		Ledger:  ledger.NewMemory(),
		Oracles: live,
		Clock:   NewFixedClock(fixtureNow),
		Logger:  logging.Discard(),
	})
	require.NoError(t, err)
	require.NoError(t, engine.Bootstrap(t.Context(), fixtureSeed(admin), solana.PublicKey{}))

	_, err = engine.AddPool(t.Context(), admin, "slow")
	require.NoError(t, err)
	pda, err := engine.OracleAccountFor("slow", solMint)
	require.NoError(t, err)
	_, err = engine.AddToken(t.Context(), admin, AddTokenParams{
		Pool:     "slow",
		Mint:     solMint,
		Decimals: 9,
		Oracle:   pool.OracleParams{OracleAccount: pda, OracleType: oracle.TypeTest, MaxPriceAgeSec: 60},
		Pricing:  pool.PricingParams{MaxLeverage: 1},
	})
	require.NoError(t, err)

	slowDone := make(chan error, 1)
	go func() {
		_, err := engine.AssetsUnderManagement(t.Context(), "slow")
		slowDone <- err
	}()
	<-live.entered

	sol, err := engine.CustodyByMint("pool1", solMint)
	require.NoError(t, err)
	fastDone := make(chan error, 1)
	go func() {
		_, err := engine.QuoteAddLiquidity(t.Context(), "pool1", sol.Key, 1_000_000_000)
		fastDone <- err
	}()
	select {
	case err := <-fastDone:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("quote on pool1 waited for the pending oracle fetch of another pool")
	}

	close(live.release)
	assert.ErrorIs(t, <-slowDone, oracle.ErrInvalidOracleAccount)
}
