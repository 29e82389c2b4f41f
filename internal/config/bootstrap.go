package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gagliardetto/solana-go"
	"gopkg.in/yaml.v3"
)

// Bootstrap describes the pools an engine is seeded with at startup.
type Bootstrap struct {
	Admin solana.PublicKey
	Pools []PoolSeed
}

type PoolSeed struct {
	Name   string
	Tokens []TokenSeed
}

type TokenSeed struct {
	Mint     solana.PublicKey
	Decimals uint8
	// OracleType is one of none|test|pyth.
	OracleType string
	// OracleAccount is zero for test oracles, whose account is derived.
	OracleAccount      solana.PublicKey
	MaxPriceError      uint64
	MaxPriceAgeSec     uint32
	MinInitialLeverage uint64
	MaxLeverage        uint64
	TestPrice          *TestPriceSeed
	SeedLiquidity      uint64
}

type TestPriceSeed struct {
	Price uint64
	Expo  int32
	Conf  uint64
}

type bootstrapFile struct {
	Admin string              `yaml:"admin"`
	Pools []bootstrapPoolFile `yaml:"pools"`
}

type bootstrapPoolFile struct {
	Name   string               `yaml:"name"`
	Tokens []bootstrapTokenFile `yaml:"tokens"`
}

type bootstrapTokenFile struct {
	Mint     string `yaml:"mint"`
	Decimals uint8  `yaml:"decimals"`
	Oracle   struct {
		Type           string `yaml:"type"`
		Account        string `yaml:"account"`
		MaxPriceError  uint64 `yaml:"maxPriceError"`
		MaxPriceAgeSec uint32 `yaml:"maxPriceAgeSec"`
	} `yaml:"oracle"`
	Pricing struct {
		MinInitialLeverage uint64 `yaml:"minInitialLeverage"`
		MaxLeverage        uint64 `yaml:"maxLeverage"`
	} `yaml:"pricing"`
	TestPrice *struct {
		Price uint64 `yaml:"price"`
		Expo  int32  `yaml:"expo"`
		Conf  uint64 `yaml:"conf"`
	} `yaml:"testPrice"`
	SeedLiquidity uint64 `yaml:"seedLiquidity"`
}

func LoadBootstrap(path string) (Bootstrap, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("read bootstrap file %q: %w", path, err)
	}
	out, err := ParseBootstrap(body)
	if err != nil {
		return Bootstrap{}, fmt.Errorf("bootstrap file %q: %w", path, err)
	}
	return out, nil
}

// ParseBootstrap decodes a bootstrap document. Unknown keys are rejected.
func ParseBootstrap(body []byte) (Bootstrap, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(body))
	decoder.KnownFields(true)

	var raw bootstrapFile
	if err := decoder.Decode(&raw); err != nil && !errors.Is(err, io.EOF) {
		return Bootstrap{}, fmt.Errorf("parse: %w", err)
	}

	var out Bootstrap
	if strings.TrimSpace(raw.Admin) != "" {
		admin, err := solana.PublicKeyFromBase58(strings.TrimSpace(raw.Admin))
		if err != nil {
			return Bootstrap{}, fmt.Errorf("invalid admin: %w", err)
		}
		out.Admin = admin
	}

	seen := make(map[string]struct{}, len(raw.Pools))
	for i, rawPool := range raw.Pools {
		name := strings.TrimSpace(rawPool.Name)
		if name == "" {
			return Bootstrap{}, fmt.Errorf("pools[%d]: name is required", i)
		}
		if _, dup := seen[name]; dup {
			return Bootstrap{}, fmt.Errorf("pools[%d]: duplicate pool %q", i, name)
		}
		seen[name] = struct{}{}

		seed := PoolSeed{Name: name, Tokens: make([]TokenSeed, 0, len(rawPool.Tokens))}
		for j, rawToken := range rawPool.Tokens {
			token, err := rawToken.resolve()
			if err != nil {
				return Bootstrap{}, fmt.Errorf("pools[%d].tokens[%d]: %w", i, j, err)
			}
			seed.Tokens = append(seed.Tokens, token)
		}
		out.Pools = append(out.Pools, seed)
	}
	return out, nil
}

func (t bootstrapTokenFile) resolve() (TokenSeed, error) {
	mint, err := solana.PublicKeyFromBase58(strings.TrimSpace(t.Mint))
	if err != nil {
		return TokenSeed{}, fmt.Errorf("invalid mint %q: %w", t.Mint, err)
	}

	oracleType := strings.ToLower(strings.TrimSpace(t.Oracle.Type))
	if oracleType == "" {
		oracleType = "test"
	}
	var oracleAccount solana.PublicKey
	if raw := strings.TrimSpace(t.Oracle.Account); raw != "" {
		if oracleAccount, err = solana.PublicKeyFromBase58(raw); err != nil {
			return TokenSeed{}, fmt.Errorf("invalid oracle account %q: %w", raw, err)
		}
	}
	if oracleType == "pyth" && oracleAccount.IsZero() {
		return TokenSeed{}, errors.New("pyth oracle requires an account")
	}
	if t.TestPrice != nil && oracleType != "test" {
		return TokenSeed{}, fmt.Errorf("testPrice requires oracle type test, got %q", oracleType)
	}

	seed := TokenSeed{
		Mint:               mint,
		Decimals:           t.Decimals,
		OracleType:         oracleType,
		OracleAccount:      oracleAccount,
		MaxPriceError:      t.Oracle.MaxPriceError,
		MaxPriceAgeSec:     t.Oracle.MaxPriceAgeSec,
		MinInitialLeverage: t.Pricing.MinInitialLeverage,
		MaxLeverage:        t.Pricing.MaxLeverage,
		SeedLiquidity:      t.SeedLiquidity,
	}
	if t.TestPrice != nil {
		seed.TestPrice = &TestPriceSeed{Price: t.TestPrice.Price, Expo: t.TestPrice.Expo, Conf: t.TestPrice.Conf}
	}
	return seed, nil
}
