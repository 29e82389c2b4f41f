package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gagliardetto/solana-go"
	"github.com/spf13/cobra"

	"github.com/coldbell/perps/backend/internal/config"
	"github.com/coldbell/perps/backend/internal/fixedpoint"
	"github.com/coldbell/perps/backend/internal/ledger"
	"github.com/coldbell/perps/backend/internal/logging"
	"github.com/coldbell/perps/backend/internal/perps"
)

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "perpsctl",
		Short:        "Offline pool accounting tools",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("bootstrap", "", "bootstrap YAML file (defaults to PERPS_BOOTSTRAP_FILE)")
	root.PersistentFlags().String("program-id", "", "perpetuals program id (defaults to PERPS_PROGRAM_ID)")
	root.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")

	root.AddCommand(newDecimalCommand(), newAumCommand(), newQuoteCommand())
	return root
}

func newDecimalCommand() *cobra.Command {
	decimalCmd := &cobra.Command{
		Use:   "decimal",
		Short: "Fixed-point arithmetic on (coefficient, exponent) pairs",
	}

	for _, op := range []struct {
		use   string
		short string
		fn    func(c1 uint64, e1 int32, c2 uint64, e2 int32, target int32) (uint64, error)
	}{
		{use: "mul", short: "c1*10^e1 * c2*10^e2 at the target exponent", fn: fixedpoint.DecimalMul},
		{use: "div", short: "c1*10^e1 / c2*10^e2 at the target exponent", fn: fixedpoint.DecimalDiv},
	} {
		fn := op.fn
		cmd := &cobra.Command{
			Use:   op.use,
			Short: op.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				flags := cmd.Flags()
				c1, _ := flags.GetUint64("c1")
				e1, _ := flags.GetInt32("e1")
				c2, _ := flags.GetUint64("c2")
				e2, _ := flags.GetInt32("e2")
				target, _ := flags.GetInt32("target")
				result, err := fn(c1, e1, c2, e2, target)
				if err != nil {
					return err
				}
				return writeJSON(cmd, map[string]any{"value": result, "exponent": target})
			},
		}
		cmd.Flags().Uint64("c1", 0, "first coefficient")
		cmd.Flags().Int32("e1", 0, "first exponent")
		cmd.Flags().Uint64("c2", 0, "second coefficient")
		cmd.Flags().Int32("e2", 0, "second exponent")
		cmd.Flags().Int32("target", 0, "result exponent")
		decimalCmd.AddCommand(cmd)
	}
	return decimalCmd
}

func newAumCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "aum",
		Short: "Print the USD value of a bootstrapped pool",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			env, err := loadEngine(cmd)
			if err != nil {
				return err
			}
			defer env.close()

			poolName, _ := cmd.Flags().GetString("pool")
			aum, err := env.engine.AssetsUnderManagement(cmd.Context(), poolName)
			if err != nil {
				return err
			}
			return writeJSON(cmd, map[string]any{"pool": poolName, "aumUsd": aum})
		},
	}
	cmd.Flags().String("pool", "pool1", "pool name")
	return cmd
}

func newQuoteCommand() *cobra.Command {
	quoteCmd := &cobra.Command{
		Use:   "quote",
		Short: "Price liquidity and swap operations without committing them",
	}
	quoteCmd.PersistentFlags().String("pool", "pool1", "pool name")

	addCmd := &cobra.Command{
		Use:   "add-liquidity",
		Short: "LP tokens minted for a deposit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			amount, _ := cmd.Flags().GetUint64("amount")
			return runQuote(cmd, func(ctx context.Context, engine *perps.Engine, poolName string) (any, error) {
				custody, err := custodyFlag(cmd, engine, poolName, "mint")
				if err != nil {
					return nil, err
				}
				return engine.QuoteAddLiquidity(ctx, poolName, custody, amount)
			})
		},
	}
	addCmd.Flags().String("mint", "", "deposited token mint")
	addCmd.Flags().Uint64("amount", 0, "deposit in token base units")

	removeCmd := &cobra.Command{
		Use:   "remove-liquidity",
		Short: "Tokens returned for burning LP tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			lpAmount, _ := cmd.Flags().GetUint64("lp-amount")
			return runQuote(cmd, func(ctx context.Context, engine *perps.Engine, poolName string) (any, error) {
				custody, err := custodyFlag(cmd, engine, poolName, "mint")
				if err != nil {
					return nil, err
				}
				return engine.QuoteRemoveLiquidity(ctx, poolName, custody, lpAmount)
			})
		},
	}
	removeCmd.Flags().String("mint", "", "withdrawn token mint")
	removeCmd.Flags().Uint64("lp-amount", 0, "LP tokens to burn")

	swapCmd := &cobra.Command{
		Use:   "swap",
		Short: "Output amount for a swap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			amountIn, _ := cmd.Flags().GetUint64("amount-in")
			return runQuote(cmd, func(ctx context.Context, engine *perps.Engine, poolName string) (any, error) {
				receiving, err := custodyFlag(cmd, engine, poolName, "in-mint")
				if err != nil {
					return nil, err
				}
				dispensing, err := custodyFlag(cmd, engine, poolName, "out-mint")
				if err != nil {
					return nil, err
				}
				return engine.QuoteSwap(ctx, poolName, receiving, dispensing, amountIn)
			})
		},
	}
	swapCmd.Flags().String("in-mint", "", "mint paid into the pool")
	swapCmd.Flags().String("out-mint", "", "mint paid out of the pool")
	swapCmd.Flags().Uint64("amount-in", 0, "input in token base units")

	quoteCmd.AddCommand(addCmd, removeCmd, swapCmd)
	return quoteCmd
}

func runQuote(cmd *cobra.Command, quote func(ctx context.Context, engine *perps.Engine, poolName string) (any, error)) error {
	env, err := loadEngine(cmd)
	if err != nil {
		return err
	}
	defer env.close()

	poolName, _ := cmd.Flags().GetString("pool")
	result, err := quote(cmd.Context(), env.engine, poolName)
	if err != nil {
		return err
	}
	return writeJSON(cmd, result)
}

func custodyFlag(cmd *cobra.Command, engine *perps.Engine, poolName, flag string) (solana.PublicKey, error) {
	raw, _ := cmd.Flags().GetString(flag)
	mint, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid --%s %q: %w", flag, raw, err)
	}
	custody, err := engine.CustodyByMint(poolName, mint)
	if err != nil {
		return solana.PublicKey{}, err
	}
	return custody.Key, nil
}

type engineEnv struct {
	engine *perps.Engine
	close  func()
}

// loadEngine builds an in-memory engine from the bootstrap file, seed liquidity
// included.
func loadEngine(cmd *cobra.Command) (*engineEnv, error) {
	cfg, err := config.LoadCLIConfig()
	if err != nil {
		return nil, err
	}
	flags := cmd.Flags()
	if path, _ := flags.GetString("bootstrap"); path != "" {
		cfg.BootstrapFile = path
	}
	if raw, _ := flags.GetString("program-id"); raw != "" {
		programID, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid --program-id: %w", err)
		}
		cfg.ProgramID = programID
	}
	if level, _ := flags.GetString("log-level"); level != "" {
		cfg.Log.Level = level
	}
	if cfg.BootstrapFile == "" {
		return nil, fmt.Errorf("a bootstrap file is required (--bootstrap or PERPS_BOOTSTRAP_FILE)")
	}

	logger, closeLogger, err := logging.New("perpsctl", cfg.Log)
	if err != nil {
		return nil, err
	}
	closeFn := func() { _ = closeLogger() }

	seed, err := config.LoadBootstrap(cfg.BootstrapFile)
	if err != nil {
		closeFn()
		return nil, err
	}
	engine, err := perps.New(perps.Options{
		ProgramID: cfg.ProgramID,
		Ledger:    ledger.NewMemory(),
		Logger:    logger,
	})
	if err != nil {
		closeFn()
		return nil, err
	}
	if err := engine.Bootstrap(cmd.Context(), seed, solana.PublicKey{}); err != nil {
		closeFn()
		return nil, fmt.Errorf("bootstrap %s: %w", cfg.BootstrapFile, err)
	}
	logger.Debug("engine loaded", "bootstrap", cfg.BootstrapFile, "pools", len(seed.Pools))
	return &engineEnv{engine: engine, close: closeFn}, nil
}

func writeJSON(cmd *cobra.Command, payload any) error {
	encoder := json.NewEncoder(cmd.OutOrStdout())
	encoder.SetIndent("", "  ")
	return encoder.Encode(payload)
}
