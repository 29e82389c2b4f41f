package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func clearPerpsEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"API_SERVER_LISTEN_ADDR",
		"API_SERVER_READ_TIMEOUT",
		"API_SERVER_WS_PUSH_INTERVAL",
		"API_SERVER_ALLOWED_ORIGINS",
		"API_SERVER_ADMIN_TOKEN",
		"SOLANA_RPC_URL",
		"SOLANA_COMMITMENT",
		"SOLANA_KEYPAIR_PATH",
		"PERPS_ORACLE_SOURCE",
		"PERPS_USE_CLUSTER_CLOCK",
		"PERPS_PROGRAM_ID",
		"PERPS_ADMIN_PUBKEY",
		"PERPS_ADMIN_KEYPAIR_PATH",
		"PERPS_BOOTSTRAP_FILE",
	} {
		t.Setenv(key, "")
	}
}

func TestLoadAPIServerConfigDefaults(t *testing.T) {
	clearPerpsEnv(t)

	cfg, err := LoadAPIServerConfig()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.ListenAddr)
	assert.Equal(t, 10*time.Second, cfg.ReadTimeout)
	assert.Equal(t, 2*time.Second, cfg.WSPushInterval)
	assert.Equal(t, []string{"*"}, cfg.AllowedOrigins)
	assert.Equal(t, "http://127.0.0.1:8899", cfg.RPCURL)
	assert.Equal(t, rpc.CommitmentConfirmed, cfg.Commitment)
	assert.Equal(t, OracleSourceMemory, cfg.OracleSource)
	assert.False(t, cfg.UseClusterClock)
	assert.Equal(t, defaultPerpetualsProgramID, cfg.ProgramID)
	assert.True(t, cfg.Admin.IsZero())
	assert.Equal(t, "api-server", filepath.Base(filepath.Dir(cfg.Log.FilePath)))
}

func TestLoadAPIServerConfigOverrides(t *testing.T) {
	clearPerpsEnv(t)
	admin := solana.NewWallet().PublicKey()
	t.Setenv("API_SERVER_LISTEN_ADDR", "127.0.0.1:9000")
	t.Setenv("API_SERVER_WS_PUSH_INTERVAL", "500ms")
	t.Setenv("API_SERVER_ALLOWED_ORIGINS", "http://a.test, ,http://b.test")
	t.Setenv("SOLANA_COMMITMENT", "Finalized")
	t.Setenv("PERPS_ORACLE_SOURCE", "rpc")
	t.Setenv("PERPS_ADMIN_PUBKEY", admin.String())

	cfg, err := LoadAPIServerConfig()
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9000", cfg.ListenAddr)
	assert.Equal(t, 500*time.Millisecond, cfg.WSPushInterval)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.AllowedOrigins)
	assert.Equal(t, rpc.CommitmentFinalized, cfg.Commitment)
	assert.Equal(t, OracleSourceRPC, cfg.OracleSource)
	assert.True(t, cfg.UseClusterClock, "rpc oracles default to the cluster clock")
	assert.Equal(t, admin, cfg.Admin)
}

func TestLoadAPIServerConfigAdminFromKeypair(t *testing.T) {
	clearPerpsEnv(t)
	wallet := solana.NewWallet()
	raw := make([]int, len(wallet.PrivateKey))
	for i, b := range wallet.PrivateKey {
		raw[i] = int(b)
	}
	body, err := json.Marshal(raw)
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "admin.json")
	require.NoError(t, os.WriteFile(path, body, 0o600))
	t.Setenv("PERPS_ADMIN_KEYPAIR_PATH", path)

	cfg, err := LoadAPIServerConfig()
	require.NoError(t, err)
	assert.Equal(t, wallet.PublicKey(), cfg.Admin)
	assert.Equal(t, path, cfg.AdminKeypairPath)
}

func TestLoadAPIServerConfigRejectsBadValues(t *testing.T) {
	cases := map[string][2]string{
		"duration":      {"API_SERVER_READ_TIMEOUT", "soon"},
		"zero duration": {"API_SERVER_READ_TIMEOUT", "0s"},
		"commitment":    {"SOLANA_COMMITMENT", "eventually"},
		"oracle source": {"PERPS_ORACLE_SOURCE", "carrier-pigeon"},
		"program id":    {"PERPS_PROGRAM_ID", "not-a-key"},
		"bool":          {"PERPS_USE_CLUSTER_CLOCK", "maybe"},
	}
	for name, kv := range cases {
		t.Run(name, func(t *testing.T) {
			clearPerpsEnv(t)
			t.Setenv(kv[0], kv[1])
			_, err := LoadAPIServerConfig()
			assert.ErrorContains(t, err, kv[0])
		})
	}
}

func TestLoadCLIConfigLogsToStderr(t *testing.T) {
	clearPerpsEnv(t)
	t.Setenv("PERPSCTL_LOG_OUTPUT", "")
	t.Setenv("PERPSCTL_LOG_LEVEL", "")

	cfg, err := LoadCLIConfig()
	require.NoError(t, err)
	assert.Equal(t, "stderr", cfg.Log.Output)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestFlattenConfig(t *testing.T) {
	flat, err := flattenConfig(map[string]any{
		"api-server": map[string]any{
			"listenAddr":      ":9090",
			"allowed_origins": []any{"http://a.test", " ", 42},
		},
		"perps": map[string]any{
			"use_cluster_clock": true,
			"empty":             nil,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, ":9090", flat["API_SERVER_LISTENADDR"])
	assert.Equal(t, "http://a.test,42", flat["API_SERVER_ALLOWED_ORIGINS"])
	assert.Equal(t, "true", flat["PERPS_USE_CLUSTER_CLOCK"])
	_, ok := flat["PERPS_EMPTY"]
	assert.False(t, ok)
}

func TestNormalizeKeySegment(t *testing.T) {
	assert.Equal(t, "API_SERVER", normalizeKeySegment(" api-server "))
	assert.Equal(t, "MAX_PRICE_AGE", normalizeKeySegment("max.price..age"))
	assert.Equal(t, "", normalizeKeySegment("--"))
}

func TestParseCSVEnv(t *testing.T) {
	assert.Equal(t, []string{"x"}, parseCSVEnv("  ", []string{"x"}))
	assert.Equal(t, []string{"x"}, parseCSVEnv(" , ", []string{"x"}))
	assert.Equal(t, []string{"a", "b"}, parseCSVEnv("a, b", nil))
}
