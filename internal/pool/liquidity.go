package pool

import (
	"fmt"

	"github.com/coldbell/perps/backend/internal/fixedpoint"
	"github.com/coldbell/perps/backend/internal/oracle"
)

type AddLiquidityResult struct {
	AumBeforeUSD fixedpoint.Uint128 `json:"aumBeforeUsd"`
	DepositUSD   uint64             `json:"depositUsd"`
	LPAmount     uint64             `json:"lpAmount"`
}

type RemoveLiquidityResult struct {
	AumBeforeUSD fixedpoint.Uint128 `json:"aumBeforeUsd"`
	WithdrawUSD  uint64             `json:"withdrawUsd"`
	Amount       uint64             `json:"amount"`
}

type SwapResult struct {
	SwapPrice oracle.Price `json:"swapPrice"`
	AmountOut uint64       `json:"amountOut"`
}

// AddLiquidity prices a deposit of amount into custody against the pool AUM and
// credits the custody. custody must be the pointer held by its slot.
func (p *Pool) AddLiquidity(slots []CustodyPrice, custody *Custody, lpSupply, amount uint64) (AddLiquidityResult, error) {
	if amount == 0 {
		return AddLiquidityResult{}, fmt.Errorf("%w: deposit amount is zero", ErrInvalidArgument)
	}
	price, err := p.slotPrice(slots, custody)
	if err != nil {
		return AddLiquidityResult{}, err
	}

	aum, err := p.GetAssetsUnderManagementUSD(slots)
	if err != nil {
		return AddLiquidityResult{}, err
	}
	depositUSD, err := price.GetAssetAmountUSD(amount, custody.Decimals)
	if err != nil {
		return AddLiquidityResult{}, err
	}

	lpAmount := depositUSD
	if !aum.IsZero() {
		if lpAmount, err = mulDivFloor(fixedpoint.NewUint128(depositUSD), lpSupply, aum); err != nil {
			return AddLiquidityResult{}, err
		}
	}

	if err := custody.CreditOwned(amount); err != nil {
		return AddLiquidityResult{}, err
	}
	if err := p.refreshAum(slots); err != nil {
		return AddLiquidityResult{}, err
	}
	return AddLiquidityResult{AumBeforeUSD: aum, DepositUSD: depositUSD, LPAmount: lpAmount}, nil
}

// RemoveLiquidity redeems lpAmount for custody tokens and debits the custody.
// A zero minAmountOut disables the slippage bound.
func (p *Pool) RemoveLiquidity(slots []CustodyPrice, custody *Custody, lpSupply, lpAmount, minAmountOut uint64) (RemoveLiquidityResult, error) {
	if lpAmount == 0 {
		return RemoveLiquidityResult{}, fmt.Errorf("%w: lp amount is zero", ErrInvalidArgument)
	}
	price, err := p.slotPrice(slots, custody)
	if err != nil {
		return RemoveLiquidityResult{}, err
	}

	aum, err := p.GetAssetsUnderManagementUSD(slots)
	if err != nil {
		return RemoveLiquidityResult{}, err
	}
	withdrawUSD, err := mulDivFloor(aum, lpAmount, fixedpoint.NewUint128(lpSupply))
	if err != nil {
		return RemoveLiquidityResult{}, err
	}
	amount, err := price.GetTokenAmount(withdrawUSD, custody.Decimals)
	if err != nil {
		return RemoveLiquidityResult{}, err
	}
	if amount < minAmountOut {
		return RemoveLiquidityResult{}, fmt.Errorf("%w: %d below minimum %d", ErrInsufficientAmountReturned, amount, minAmountOut)
	}

	if err := custody.DebitOwned(amount); err != nil {
		return RemoveLiquidityResult{}, err
	}
	if err := p.refreshAum(slots); err != nil {
		return RemoveLiquidityResult{}, err
	}
	return RemoveLiquidityResult{AumBeforeUSD: aum, WithdrawUSD: withdrawUSD, Amount: amount}, nil
}

// Swap exchanges amountIn of custodyIn for custodyOut at the oracle ratio.
func (p *Pool) Swap(slots []CustodyPrice, custodyIn, custodyOut *Custody, amountIn, minAmountOut uint64) (SwapResult, error) {
	if amountIn == 0 {
		return SwapResult{}, fmt.Errorf("%w: swap amount is zero", ErrInvalidArgument)
	}
	if custodyIn.Key.Equals(custodyOut.Key) {
		return SwapResult{}, fmt.Errorf("%w: %s", ErrSameCustody, custodyIn.Key)
	}
	priceIn, err := p.slotPrice(slots, custodyIn)
	if err != nil {
		return SwapResult{}, err
	}
	priceOut, err := p.slotPrice(slots, custodyOut)
	if err != nil {
		return SwapResult{}, err
	}

	swapPrice, err := p.GetSwapPrice(priceIn, priceOut)
	if err != nil {
		return SwapResult{}, err
	}
	amountOut, err := p.GetSwapAmount(priceIn, priceOut, custodyIn, custodyOut, amountIn)
	if err != nil {
		return SwapResult{}, err
	}
	if amountOut < minAmountOut {
		return SwapResult{}, fmt.Errorf("%w: %d below minimum %d", ErrInsufficientAmountReturned, amountOut, minAmountOut)
	}

	if err := custodyIn.CreditOwned(amountIn); err != nil {
		return SwapResult{}, err
	}
	if err := custodyOut.DebitOwned(amountOut); err != nil {
		return SwapResult{}, err
	}
	if err := p.refreshAum(slots); err != nil {
		return SwapResult{}, err
	}
	return SwapResult{SwapPrice: swapPrice, AmountOut: amountOut}, nil
}

// slotPrice returns the quote of custody, which must be the exact record held by its slot.
func (p *Pool) slotPrice(slots []CustodyPrice, custody *Custody) (oracle.Price, error) {
	idx, err := p.GetTokenID(custody.Key)
	if err != nil {
		return oracle.Price{}, err
	}
	if idx >= len(slots) {
		return oracle.Price{}, fmt.Errorf("%w: no slot for token %d", ErrNotEnoughAccountKeys, idx)
	}
	if slots[idx].Custody != custody {
		return oracle.Price{}, fmt.Errorf("%w: slot %d holds a different custody record", ErrCustodyKeyMismatch, idx)
	}
	return slots[idx].Price, nil
}

func (p *Pool) refreshAum(slots []CustodyPrice) error {
	aum, err := p.GetAssetsUnderManagementUSD(slots)
	if err != nil {
		return err
	}
	p.AumUSD = aum
	return nil
}

// mulDivFloor computes floor(a * b / denominator) and narrows to u64.
func mulDivFloor(a fixedpoint.Uint128, b uint64, denominator fixedpoint.Uint128) (uint64, error) {
	product, err := a.Mul(fixedpoint.NewUint128(b))
	if err != nil {
		return 0, err
	}
	quotient, err := product.Div(denominator)
	if err != nil {
		return 0, err
	}
	return quotient.Uint64()
}
