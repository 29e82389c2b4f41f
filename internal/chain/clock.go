package chain

import (
	"context"
	"log/slog"
	"time"

	"github.com/gagliardetto/solana-go/rpc"
)

// ClusterClock reports the block time of the latest slot, falling back to the
// local clock when the cluster cannot answer.
type ClusterClock struct {
	rpc        RPC
	commitment rpc.CommitmentType
	logger     *slog.Logger
	now        func() time.Time
}

func NewClusterClock(client RPC, commitment rpc.CommitmentType, logger *slog.Logger) *ClusterClock {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClusterClock{rpc: client, commitment: commitment, logger: logger, now: time.Now}
}

func (c *ClusterClock) Now(ctx context.Context) (int64, error) {
	slot, err := c.rpc.GetSlot(ctx, c.commitment)
	if err != nil {
		c.logger.Warn("using local clock because getSlot failed", "err", err)
		return c.now().Unix(), nil
	}

	blockTime, err := c.rpc.GetBlockTime(ctx, slot)
	if err != nil || blockTime == nil {
		c.logger.Warn("using local clock because getBlockTime unavailable", "slot", slot, "err", err)
		return c.now().Unix(), nil
	}

	return int64(*blockTime), nil
}
