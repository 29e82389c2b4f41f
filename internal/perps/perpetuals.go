package perps

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gagliardetto/solana-go"

	"github.com/coldbell/perps/backend/internal/oracle"
)

const (
	BPSDecimals   = 4
	BPSPower      = uint64(10_000)
	PriceDecimals = oracle.PriceDecimals
	USDDecimals   = oracle.USDDecimals
	LPDecimals    = USDDecimals
)

// Clock supplies unix time for oracle staleness checks.
type Clock interface {
	Now(ctx context.Context) (int64, error)
}

type SystemClock struct{}

func (SystemClock) Now(context.Context) (int64, error) {
	return time.Now().Unix(), nil
}

// FixedClock returns a settable time. Safe for concurrent use.
type FixedClock struct {
	mu  sync.Mutex
	now int64
}

func NewFixedClock(now int64) *FixedClock {
	return &FixedClock{now: now}
}

func (c *FixedClock) Now(context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now, nil
}

func (c *FixedClock) Set(now int64) {
	c.mu.Lock()
	c.now = now
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now += int64(d / time.Second)
	c.mu.Unlock()
}

// Perpetuals is the program-wide registry: admin identity, the PDA that signs
// for pool-owned token accounts, and the list of pools.
type Perpetuals struct {
	ProgramID             solana.PublicKey   `json:"programId"`
	Key                   solana.PublicKey   `json:"key"`
	Admin                 solana.PublicKey   `json:"admin"`
	TransferAuthority     solana.PublicKey   `json:"transferAuthority"`
	Pools                 []solana.PublicKey `json:"pools"`
	TransferAuthorityBump uint8              `json:"transferAuthorityBump"`
	PerpetualsBump        uint8              `json:"perpetualsBump"`

	clock Clock
}

// GetTime reads the clock, rejecting non-positive timestamps.
func (p *Perpetuals) GetTime(ctx context.Context) (int64, error) {
	now, err := p.clock.Now(ctx)
	if err != nil {
		return 0, fmt.Errorf("read clock: %w", err)
	}
	if now <= 0 {
		return 0, fmt.Errorf("%w: clock returned %d", ErrInvalidAccountData, now)
	}
	return now, nil
}
