package apiserver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/gagliardetto/solana-go/rpc"

	"github.com/coldbell/perps/backend/internal/chain"
	"github.com/coldbell/perps/backend/internal/config"
	"github.com/coldbell/perps/backend/internal/ledger"
	"github.com/coldbell/perps/backend/internal/oracle"
	"github.com/coldbell/perps/backend/internal/perps"
)

// New builds the engine described by cfg and the service in front of it.
func New(ctx context.Context, cfg config.APIServerConfig, logger *slog.Logger) (*Service, error) {
	memory := ledger.NewMemory()
	engine, err := newEngine(cfg, memory, logger)
	if err != nil {
		return nil, err
	}

	switch {
	case cfg.BootstrapFile != "":
		seed, err := config.LoadBootstrap(cfg.BootstrapFile)
		if err != nil {
			return nil, err
		}
		if err := engine.Bootstrap(ctx, seed, cfg.Admin); err != nil {
			return nil, fmt.Errorf("bootstrap engine: %w", err)
		}
	case !cfg.Admin.IsZero():
		if _, err := engine.Init(ctx, cfg.Admin); err != nil {
			return nil, fmt.Errorf("init perpetuals: %w", err)
		}
	default:
		logger.Warn("no admin or bootstrap file configured, engine stays uninitialized")
	}

	return NewWithEngine(cfg, engine, memory, logger)
}

func newEngine(cfg config.APIServerConfig, memory *ledger.Memory, logger *slog.Logger) (*perps.Engine, error) {
	opts := perps.Options{
		ProgramID: cfg.ProgramID,
		Ledger:    memory,
		Logger:    logger,
	}

	var client *rpc.Client
	if cfg.OracleSource == config.OracleSourceRPC || cfg.UseClusterClock {
		client = rpc.New(cfg.RPCURL)
	}
	if cfg.OracleSource == config.OracleSourceRPC {
		opts.Oracles = chain.NewAccounts(client, cfg.Commitment, logger)
	} else {
		opts.Oracles = oracle.NewMemoryAccounts()
	}
	if cfg.UseClusterClock {
		opts.Clock = chain.NewClusterClock(client, cfg.Commitment, logger)
	}

	logger.Info("engine configured",
		"program_id", cfg.ProgramID,
		"oracle_source", cfg.OracleSource,
		"rpc", cfg.RPCURL,
		"cluster_clock", cfg.UseClusterClock,
	)
	return perps.New(opts)
}
