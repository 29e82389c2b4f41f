package pool

import (
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/fixedpoint"
	"github.com/coldbell/perps/backend/internal/oracle"
)

type PoolToken struct {
	Custody solana.PublicKey `json:"custody"`
}

// Pool groups custodies behind one LP token. Tokens order is the slot order
// every AUM computation walks.
type Pool struct {
	Name        string           `json:"name"`
	Key         solana.PublicKey `json:"key"`
	LPTokenMint solana.PublicKey `json:"lpTokenMint"`
	Tokens      []PoolToken      `json:"tokens"`
	// AumUSD is the AUM priced after the latest add, remove or swap, not the
	// pre-operation value used for LP math.
	AumUSD      fixedpoint.Uint128 `json:"aumUsd"`
	Bump        uint8              `json:"bump"`
	LPTokenBump uint8              `json:"lpTokenBump"`
}

// CustodyPrice pairs a custody with its validated quote for one AUM slot.
type CustodyPrice struct {
	Custody *Custody
	Price   oracle.Price
}

func (p *Pool) GetTokenID(custody solana.PublicKey) (int, error) {
	for idx, token := range p.Tokens {
		if token.Custody.Equals(custody) {
			return idx, nil
		}
	}
	return 0, fmt.Errorf("%w: custody %s not in pool %q", ErrUnsupportedToken, custody, p.Name)
}

// UpsertToken registers custody in the next free slot. Re-adding is a no-op.
func (p *Pool) UpsertToken(custody solana.PublicKey) int {
	if idx, err := p.GetTokenID(custody); err == nil {
		return idx
	}
	p.Tokens = append(p.Tokens, PoolToken{Custody: custody})
	return len(p.Tokens) - 1
}

// GetAssetsUnderManagementUSD sums owned value over every slot. slots must be
// parallel to Tokens; extra trailing slots are ignored.
func (p *Pool) GetAssetsUnderManagementUSD(slots []CustodyPrice) (fixedpoint.Uint128, error) {
	if len(slots) < len(p.Tokens) {
		return fixedpoint.Uint128{}, fmt.Errorf("%w: pool %q has %d tokens, got %d", ErrNotEnoughAccountKeys, p.Name, len(p.Tokens), len(slots))
	}

	var total fixedpoint.Uint128
	for idx, token := range p.Tokens {
		slot := slots[idx]
		if slot.Custody == nil || !slot.Custody.Key.Equals(token.Custody) {
			return fixedpoint.Uint128{}, fmt.Errorf("%w: slot %d expects %s", ErrCustodyKeyMismatch, idx, token.Custody)
		}
		usd, err := slot.Price.GetAssetAmountUSD(slot.Custody.Assets.Owned, slot.Custody.Decimals)
		if err != nil {
			return fixedpoint.Uint128{}, err
		}
		if total, err = total.Add(fixedpoint.NewUint128(usd)); err != nil {
			return fixedpoint.Uint128{}, err
		}
	}
	return total, nil
}

func (p *Pool) GetSwapPrice(tokenInPrice, tokenOutPrice oracle.Price) (oracle.Price, error) {
	return tokenInPrice.CheckedDiv(tokenOutPrice)
}

func (p *Pool) GetSwapAmount(tokenInPrice, tokenOutPrice oracle.Price, custodyIn, custodyOut *Custody, amountIn uint64) (uint64, error) {
	swapPrice, err := p.GetSwapPrice(tokenInPrice, tokenOutPrice)
	if err != nil {
		return 0, err
	}
	return fixedpoint.DecimalMul(
		amountIn,
		-int32(custodyIn.Decimals),
		swapPrice.Price,
		swapPrice.Exponent,
		-int32(custodyOut.Decimals),
	)
}
