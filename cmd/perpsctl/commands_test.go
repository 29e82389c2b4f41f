package main

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	solMint  = "So11111111111111111111111111111111111111112"
	usdcMint = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

const seededBootstrap = `admin: 9WzDXwBbmkg8ZTbNMqUxvQRAyrZzDsGYdLVL9zYtAWWM
pools:
  - name: pool1
    tokens:
      - mint: So11111111111111111111111111111111111111112
        decimals: 9
        oracle:
          maxPriceError: 10000
          maxPriceAgeSec: 60
        pricing:
          maxLeverage: 1000000
        testPrice:
          price: 1230
          expo: -3
        seedLiquidity: 10000000000
      - mint: EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v
        decimals: 6
        oracle:
          maxPriceError: 10000
          maxPriceAgeSec: 60
        pricing:
          maxLeverage: 1000000
        testPrice:
          price: 2000
          expo: -3
        seedLiquidity: 10000000
`

func writeBootstrap(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bootstrap.yaml")
	require.NoError(t, os.WriteFile(path, []byte(seededBootstrap), 0o600))
	return path
}

func run(t *testing.T, args ...string) (map[string]any, error) {
	t.Helper()
	t.Setenv("PERPS_BOOTSTRAP_FILE", "")
	t.Setenv("PERPSCTL_LOG_LEVEL", "error")

	var out bytes.Buffer
	root := newRootCommand()
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	if err := root.Execute(); err != nil {
		return nil, err
	}
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded), out.String())
	return decoded, nil
}

func TestDecimalCommands(t *testing.T) {
	out, err := run(t, "decimal", "mul", "--c1", "1230", "--e1", "-3", "--c2", "10000000000", "--e2", "-9", "--target", "-6")
	require.NoError(t, err)
	assert.EqualValues(t, 12_300_000, out["value"])
	assert.EqualValues(t, -6, out["exponent"])

	out, err = run(t, "decimal", "div", "--c1", "10000000", "--e1", "-6", "--c2", "2000", "--e2", "-3", "--target", "-6")
	require.NoError(t, err)
	assert.EqualValues(t, 5_000_000, out["value"])

	_, err = run(t, "decimal", "div", "--c1", "1", "--c2", "0")
	require.Error(t, err)
}

func TestAumCommand(t *testing.T) {
	path := writeBootstrap(t)

	out, err := run(t, "aum", "--bootstrap", path)
	require.NoError(t, err)
	assert.Equal(t, "pool1", out["pool"])
	assert.Equal(t, "32300000", out["aumUsd"])

	_, err = run(t, "aum", "--bootstrap", path, "--pool", "missing")
	require.Error(t, err)
}

func TestQuoteCommands(t *testing.T) {
	path := writeBootstrap(t)

	out, err := run(t, "quote", "add-liquidity", "--bootstrap", path, "--mint", solMint, "--amount", "1000000000")
	require.NoError(t, err)
	assert.EqualValues(t, 1_230_000, out["lpAmount"])
	assert.Equal(t, "32300000", out["aumBeforeUsd"])

	out, err = run(t, "quote", "remove-liquidity", "--bootstrap", path, "--mint", solMint, "--lp-amount", "10000000")
	require.NoError(t, err)
	assert.EqualValues(t, 8_130_081_300, out["amount"])

	out, err = run(t, "quote", "swap", "--bootstrap", path, "--in-mint", solMint, "--out-mint", usdcMint, "--amount-in", "5000000000")
	require.NoError(t, err)
	assert.EqualValues(t, 3_075_000, out["amountOut"])
}

func TestQuoteRejectsBadInput(t *testing.T) {
	path := writeBootstrap(t)

	_, err := run(t, "quote", "add-liquidity", "--bootstrap", path, "--mint", "not-a-key", "--amount", "1")
	require.ErrorContains(t, err, "--mint")

	_, err = run(t, "quote", "swap", "--in-mint", solMint, "--out-mint", usdcMint, "--amount-in", "1")
	require.ErrorContains(t, err, "bootstrap file is required")
}
