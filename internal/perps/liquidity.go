package perps

import (
	"context"
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/pool"
)

type AddLiquidityParams struct {
	Pool           string
	Custody        solana.PublicKey
	Owner          solana.PublicKey
	FundingAccount solana.PublicKey
	LPTokenAccount solana.PublicKey
	Amount         uint64
}

type RemoveLiquidityParams struct {
	Pool             string
	Custody          solana.PublicKey
	Owner            solana.PublicKey
	LPTokenAccount   solana.PublicKey
	ReceivingAccount solana.PublicKey
	LPAmount         uint64
	// MinAmountOut of zero accepts any amount.
	MinAmountOut uint64
}

type SwapParams struct {
	Pool              string
	ReceivingCustody  solana.PublicKey
	DispensingCustody solana.PublicKey
	Owner             solana.PublicKey
	FundingAccount    solana.PublicKey
	ReceivingAccount  solana.PublicKey
	AmountIn          uint64
	MinAmountOut      uint64
}

// AddLiquidityReceipt reports a committed deposit.
type AddLiquidityReceipt struct {
	pool.AddLiquidityResult
	AumUSD string `json:"aumUsd"`
}

type RemoveLiquidityReceipt struct {
	pool.RemoveLiquidityResult
	AumUSD string `json:"aumUsd"`
}

type SwapReceipt struct {
	pool.SwapResult
	AumUSD string `json:"aumUsd"`
}

// operation is the priced, locked context every liquidity and swap call runs in.
type operation struct {
	snap   *snapshot
	slots  []pool.CustodyPrice
	supply uint64
}

func (e *Engine) prepareLocked(ctx context.Context, poolName string, reads *oracleReads) (*operation, error) {
	snap, err := e.snapshotLocked(poolName)
	if err != nil {
		return nil, err
	}

	e.logger.Debug("compute assets under management", "pool", poolName)
	slots, err := e.priceSlotsLocked(ctx, snap, reads)
	if err != nil {
		return nil, err
	}
	supply, err := e.ledger.Supply(ctx, snap.pool.LPTokenMint)
	if err != nil {
		return nil, fmt.Errorf("read lp supply: %w", err)
	}
	return &operation{snap: snap, slots: slots, supply: supply}, nil
}

func (e *Engine) AddLiquidity(ctx context.Context, params AddLiquidityParams) (AddLiquidityReceipt, error) {
	if params.Amount == 0 {
		return AddLiquidityReceipt{}, fmt.Errorf("%w: deposit amount is zero", pool.ErrInvalidArgument)
	}
	reads, err := e.readOracles(ctx, params.Pool)
	if err != nil {
		return AddLiquidityReceipt{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	op, err := e.prepareLocked(ctx, params.Pool, reads)
	if err != nil {
		return AddLiquidityReceipt{}, err
	}
	custody, err := op.snap.custody(params.Custody)
	if err != nil {
		return AddLiquidityReceipt{}, err
	}
	result, err := op.snap.pool.AddLiquidity(op.slots, custody, op.supply, params.Amount)
	if err != nil {
		return AddLiquidityReceipt{}, err
	}
	e.logger.Debug("LP tokens to mint", "pool", params.Pool, "aum_usd", result.AumBeforeUSD, "lp_amount", result.LPAmount)

	if err := e.ledger.Deposit(ctx, params.FundingAccount, custody.TokenAccount, params.Owner, params.Amount); err != nil {
		return AddLiquidityReceipt{}, fmt.Errorf("transfer deposit: %w", err)
	}
	if err := e.ledger.Mint(ctx, op.snap.pool.LPTokenMint, params.LPTokenAccount, e.perpetuals.TransferAuthority, result.LPAmount); err != nil {
		refundErr := e.ledger.Withdraw(ctx, custody.TokenAccount, params.FundingAccount, e.perpetuals.TransferAuthority, params.Amount)
		return AddLiquidityReceipt{}, e.compensated("mint lp tokens", err, refundErr)
	}

	e.commitLocked(op.snap)
	receipt := AddLiquidityReceipt{AddLiquidityResult: result, AumUSD: op.snap.pool.AumUSD.String()}
	e.logger.Info("liquidity added",
		"pool", params.Pool,
		"custody", params.Custody,
		"amount", params.Amount,
		"lp_amount", result.LPAmount,
		"aum_usd", receipt.AumUSD,
	)
	e.events.Publish(Event{Type: EventLiquidityAdded, Pool: params.Pool, Data: receipt})
	return receipt, nil
}

func (e *Engine) RemoveLiquidity(ctx context.Context, params RemoveLiquidityParams) (RemoveLiquidityReceipt, error) {
	if params.LPAmount == 0 {
		return RemoveLiquidityReceipt{}, fmt.Errorf("%w: lp amount is zero", pool.ErrInvalidArgument)
	}
	reads, err := e.readOracles(ctx, params.Pool)
	if err != nil {
		return RemoveLiquidityReceipt{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	op, err := e.prepareLocked(ctx, params.Pool, reads)
	if err != nil {
		return RemoveLiquidityReceipt{}, err
	}
	custody, err := op.snap.custody(params.Custody)
	if err != nil {
		return RemoveLiquidityReceipt{}, err
	}
	result, err := op.snap.pool.RemoveLiquidity(op.slots, custody, op.supply, params.LPAmount, params.MinAmountOut)
	if err != nil {
		return RemoveLiquidityReceipt{}, err
	}
	e.logger.Debug("amount removed", "pool", params.Pool, "aum_usd", result.AumBeforeUSD, "amount", result.Amount)

	if err := e.ledger.Burn(ctx, op.snap.pool.LPTokenMint, params.LPTokenAccount, params.Owner, params.LPAmount); err != nil {
		return RemoveLiquidityReceipt{}, fmt.Errorf("burn lp tokens: %w", err)
	}
	if err := e.ledger.Withdraw(ctx, custody.TokenAccount, params.ReceivingAccount, e.perpetuals.TransferAuthority, result.Amount); err != nil {
		remintErr := e.ledger.Mint(ctx, op.snap.pool.LPTokenMint, params.LPTokenAccount, e.perpetuals.TransferAuthority, params.LPAmount)
		return RemoveLiquidityReceipt{}, e.compensated("transfer withdrawal", err, remintErr)
	}

	e.commitLocked(op.snap)
	receipt := RemoveLiquidityReceipt{RemoveLiquidityResult: result, AumUSD: op.snap.pool.AumUSD.String()}
	e.logger.Info("liquidity removed",
		"pool", params.Pool,
		"custody", params.Custody,
		"lp_amount", params.LPAmount,
		"amount", result.Amount,
		"aum_usd", receipt.AumUSD,
	)
	e.events.Publish(Event{Type: EventLiquidityRemoved, Pool: params.Pool, Data: receipt})
	return receipt, nil
}

func (e *Engine) Swap(ctx context.Context, params SwapParams) (SwapReceipt, error) {
	if params.AmountIn == 0 {
		return SwapReceipt{}, fmt.Errorf("%w: swap amount is zero", pool.ErrInvalidArgument)
	}
	if params.ReceivingCustody.Equals(params.DispensingCustody) {
		return SwapReceipt{}, fmt.Errorf("%w: %s", pool.ErrSameCustody, params.ReceivingCustody)
	}
	reads, err := e.readOracles(ctx, params.Pool)
	if err != nil {
		return SwapReceipt{}, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	op, err := e.prepareLocked(ctx, params.Pool, reads)
	if err != nil {
		return SwapReceipt{}, err
	}
	custodyIn, err := op.snap.custody(params.ReceivingCustody)
	if err != nil {
		return SwapReceipt{}, err
	}
	custodyOut, err := op.snap.custody(params.DispensingCustody)
	if err != nil {
		return SwapReceipt{}, err
	}
	result, err := op.snap.pool.Swap(op.slots, custodyIn, custodyOut, params.AmountIn, params.MinAmountOut)
	if err != nil {
		return SwapReceipt{}, err
	}
	e.logger.Debug("amount out", "pool", params.Pool, "swap_price", result.SwapPrice, "amount_out", result.AmountOut)

	if err := e.ledger.Deposit(ctx, params.FundingAccount, custodyIn.TokenAccount, params.Owner, params.AmountIn); err != nil {
		return SwapReceipt{}, fmt.Errorf("transfer swap input: %w", err)
	}
	if err := e.ledger.Withdraw(ctx, custodyOut.TokenAccount, params.ReceivingAccount, e.perpetuals.TransferAuthority, result.AmountOut); err != nil {
		refundErr := e.ledger.Withdraw(ctx, custodyIn.TokenAccount, params.FundingAccount, e.perpetuals.TransferAuthority, params.AmountIn)
		return SwapReceipt{}, e.compensated("transfer swap output", err, refundErr)
	}

	e.commitLocked(op.snap)
	receipt := SwapReceipt{SwapResult: result, AumUSD: op.snap.pool.AumUSD.String()}
	e.logger.Info("swap executed",
		"pool", params.Pool,
		"receiving_custody", params.ReceivingCustody,
		"dispensing_custody", params.DispensingCustody,
		"amount_in", params.AmountIn,
		"amount_out", result.AmountOut,
	)
	e.events.Publish(Event{Type: EventSwap, Pool: params.Pool, Data: receipt})
	return receipt, nil
}

// compensated reports a failed ledger step after its predecessor was reverted.
// A failed revert is logged loudly and joined into the returned error.
func (e *Engine) compensated(step string, err, revertErr error) error {
	if revertErr != nil {
		e.logger.Error("ledger compensation failed, balances need manual repair",
			"step", step,
			"err", err,
			"revert_err", revertErr,
		)
		return fmt.Errorf("%s: %w", step, errors.Join(err, revertErr))
	}
	return fmt.Errorf("%s: %w", step, err)
}
