package perps

import (
	"context"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/pool"
)

// Quotes run the same pricing as the mutating operations on a throwaway snapshot.

func (e *Engine) QuoteAddLiquidity(ctx context.Context, poolName string, custodyKey solana.PublicKey, amount uint64) (pool.AddLiquidityResult, error) {
	reads, err := e.readOracles(ctx, poolName)
	if err != nil {
		return pool.AddLiquidityResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	op, err := e.prepareLocked(ctx, poolName, reads)
	if err != nil {
		return pool.AddLiquidityResult{}, err
	}
	custody, err := op.snap.custody(custodyKey)
	if err != nil {
		return pool.AddLiquidityResult{}, err
	}
	return op.snap.pool.AddLiquidity(op.slots, custody, op.supply, amount)
}

func (e *Engine) QuoteRemoveLiquidity(ctx context.Context, poolName string, custodyKey solana.PublicKey, lpAmount uint64) (pool.RemoveLiquidityResult, error) {
	reads, err := e.readOracles(ctx, poolName)
	if err != nil {
		return pool.RemoveLiquidityResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	op, err := e.prepareLocked(ctx, poolName, reads)
	if err != nil {
		return pool.RemoveLiquidityResult{}, err
	}
	custody, err := op.snap.custody(custodyKey)
	if err != nil {
		return pool.RemoveLiquidityResult{}, err
	}
	return op.snap.pool.RemoveLiquidity(op.slots, custody, op.supply, lpAmount, 0)
}

func (e *Engine) QuoteSwap(ctx context.Context, poolName string, receiving, dispensing solana.PublicKey, amountIn uint64) (pool.SwapResult, error) {
	reads, err := e.readOracles(ctx, poolName)
	if err != nil {
		return pool.SwapResult{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	op, err := e.prepareLocked(ctx, poolName, reads)
	if err != nil {
		return pool.SwapResult{}, err
	}
	custodyIn, err := op.snap.custody(receiving)
	if err != nil {
		return pool.SwapResult{}, err
	}
	custodyOut, err := op.snap.custody(dispensing)
	if err != nil {
		return pool.SwapResult{}, err
	}
	return op.snap.pool.Swap(op.slots, custodyIn, custodyOut, amountIn, 0)
}
