package pool

import (
	"errors"
	"fmt"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/fixedpoint"
	"github.com/coldbell/perps/backend/internal/oracle"
)

var (
	ErrInvalidTokenConfig         = errors.New("invalid token config")
	ErrInsufficientAmountReturned = errors.New("not enough tokens returned")
	ErrMaxLeverage                = errors.New("position leverage limit exceeded")
	ErrUnsupportedToken           = errors.New("token is not supported")
	ErrInsufficientFunds          = errors.New("insufficient funds")
	ErrNotEnoughAccountKeys       = errors.New("not enough account keys")
	ErrCustodyKeyMismatch         = errors.New("custody key mismatch")
	ErrSameCustody                = errors.New("receiving and dispensing custody are the same")
	ErrInvalidArgument            = errors.New("invalid argument")
)

// Assets tracks base units held by a custody. Owned excludes trader collateral;
// Locked is the share of Owned reserved for position payoffs.
type Assets struct {
	Collateral uint64 `json:"collateral" yaml:"collateral"`
	Owned      uint64 `json:"owned" yaml:"owned"`
	Locked     uint64 `json:"locked" yaml:"locked"`
}

type OracleParams struct {
	OracleAccount  solana.PublicKey `json:"oracleAccount"`
	OracleType     oracle.Type      `json:"oracleType"`
	MaxPriceError  uint64           `json:"maxPriceError"`
	MaxPriceAgeSec uint32           `json:"maxPriceAgeSec"`
}

func (p OracleParams) Validate() bool {
	return p.OracleType == oracle.TypeNone || !p.OracleAccount.IsZero()
}

// PricingParams are expressed in basis points (BPS_DECIMALS).
type PricingParams struct {
	MinInitialLeverage uint64 `json:"minInitialLeverage"`
	MaxLeverage        uint64 `json:"maxLeverage"`
}

func (p PricingParams) Validate() bool {
	return p.MinInitialLeverage <= p.MaxLeverage
}

// CheckLeverage bounds a position leverage in bps. Opening positions must also
// clear MinInitialLeverage.
func (p PricingParams) CheckLeverage(leverage uint64, opening bool) error {
	if leverage > p.MaxLeverage {
		return fmt.Errorf("%w: %d bps above %d", ErrMaxLeverage, leverage, p.MaxLeverage)
	}
	if opening && leverage < p.MinInitialLeverage {
		return fmt.Errorf("%w: %d bps below initial minimum %d", ErrMaxLeverage, leverage, p.MinInitialLeverage)
	}
	return nil
}

// Custody is the per-asset ledger of a pool.
type Custody struct {
	Key              solana.PublicKey `json:"key"`
	Pool             solana.PublicKey `json:"pool"`
	TokenAccount     solana.PublicKey `json:"tokenAccount"`
	Mint             solana.PublicKey `json:"mint"`
	Decimals         uint8            `json:"decimals"`
	Oracle           OracleParams     `json:"oracle"`
	Pricing          PricingParams    `json:"pricing"`
	Assets           Assets           `json:"assets"`
	Bump             uint8            `json:"bump"`
	TokenAccountBump uint8            `json:"tokenAccountBump"`
}

func (c *Custody) Validate() error {
	switch {
	case c.TokenAccount.IsZero():
		return fmt.Errorf("%w: token account not set", ErrInvalidTokenConfig)
	case c.Mint.IsZero():
		return fmt.Errorf("%w: mint not set", ErrInvalidTokenConfig)
	case !c.Oracle.Validate():
		return fmt.Errorf("%w: oracle account required for %s oracle", ErrInvalidTokenConfig, c.Oracle.OracleType)
	case !c.Pricing.Validate():
		return fmt.Errorf("%w: min initial leverage %d above max %d", ErrInvalidTokenConfig, c.Pricing.MinInitialLeverage, c.Pricing.MaxLeverage)
	}
	return nil
}

// Price validates the custody's quote from its configured oracle account.
// programID owns test oracle accounts.
func (c *Custody) Price(account *oracle.Account, programID solana.PublicKey, now int64) (oracle.Price, error) {
	if account != nil && !account.Key.Equals(c.Oracle.OracleAccount) {
		return oracle.Price{}, fmt.Errorf("%w: oracle %s is not configured for custody %s", ErrCustodyKeyMismatch, account.Key, c.Key)
	}
	price, err := oracle.NewFromOracle(c.Oracle.OracleType, account, programID, c.Oracle.MaxPriceError, c.Oracle.MaxPriceAgeSec, now)
	if err != nil {
		return oracle.Price{}, fmt.Errorf("custody %s: %w", c.Key, err)
	}
	return price, nil
}

// LockFunds reserves amount of owned tokens. The custody is left untouched on failure.
func (c *Custody) LockFunds(amount uint64) error {
	locked, err := fixedpoint.CheckedAdd(c.Assets.Locked, amount)
	if err != nil {
		return err
	}
	if locked > c.Assets.Owned {
		return fmt.Errorf("%w: locked %d exceeds owned %d", ErrInsufficientFunds, locked, c.Assets.Owned)
	}
	c.Assets.Locked = locked
	return nil
}

// UnlockFunds releases up to amount, clamping at zero.
func (c *Custody) UnlockFunds(amount uint64) {
	if amount > c.Assets.Locked {
		c.Assets.Locked = 0
		return
	}
	c.Assets.Locked -= amount
}

func (c *Custody) CreditOwned(amount uint64) error {
	owned, err := fixedpoint.CheckedAdd(c.Assets.Owned, amount)
	if err != nil {
		return fmt.Errorf("credit custody %s: %w", c.Key, err)
	}
	c.Assets.Owned = owned
	return nil
}

func (c *Custody) DebitOwned(amount uint64) error {
	owned, err := fixedpoint.CheckedSub(c.Assets.Owned, amount)
	if err != nil {
		return fmt.Errorf("debit custody %s: %w", c.Key, err)
	}
	c.Assets.Owned = owned
	return nil
}
