package chain

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"

	"github.com/coldbell/perps/backend/internal/oracle"
)

// maxAccountsPerRequest is the getMultipleAccounts key limit.
const maxAccountsPerRequest = 100

// RPC is the subset of *rpc.Client used here.
type RPC interface {
	GetMultipleAccountsWithOpts(ctx context.Context, accounts []solana.PublicKey, opts *rpc.GetMultipleAccountsOpts) (*rpc.GetMultipleAccountsResult, error)
	GetSlot(ctx context.Context, commitment rpc.CommitmentType) (uint64, error)
	GetBlockTime(ctx context.Context, block uint64) (*solana.UnixTimeSeconds, error)
}

// Accounts reads oracle accounts from a cluster.
type Accounts struct {
	rpc        RPC
	commitment rpc.CommitmentType
	logger     *slog.Logger
}

func NewAccounts(client RPC, commitment rpc.CommitmentType, logger *slog.Logger) *Accounts {
	if logger == nil {
		logger = slog.Default()
	}
	return &Accounts{rpc: client, commitment: commitment, logger: logger}
}

func (a *Accounts) GetAccounts(ctx context.Context, keys []solana.PublicKey) ([]*oracle.Account, error) {
	out := make([]*oracle.Account, 0, len(keys))
	for start := 0; start < len(keys); start += maxAccountsPerRequest {
		end := min(start+maxAccountsPerRequest, len(keys))
		batch := keys[start:end]

		fetched, err := a.rpc.GetMultipleAccountsWithOpts(ctx, batch, &rpc.GetMultipleAccountsOpts{Commitment: a.commitment})
		if err != nil {
			return nil, fmt.Errorf("fetch accounts: %w", err)
		}
		if fetched == nil || len(fetched.Value) != len(batch) {
			return nil, fmt.Errorf("unexpected account count: requested %d", len(batch))
		}
		for i, acc := range fetched.Value {
			if acc == nil {
				a.logger.Debug("account not found", "pubkey", batch[i])
				out = append(out, nil)
				continue
			}
			var data []byte
			if acc.Data != nil {
				data = acc.Data.GetBinary()
			}
			out = append(out, &oracle.Account{Key: batch[i], Owner: acc.Owner, Data: data})
		}
	}
	return out, nil
}
