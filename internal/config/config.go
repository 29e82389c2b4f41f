package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	"gopkg.in/yaml.v3"
)

type LogConfig struct {
	Level    string
	Format   string
	Output   string
	FilePath string
}

// OracleSource selects where live oracle accounts are read from.
type OracleSource string

const (
	OracleSourceMemory OracleSource = "memory"
	OracleSourceRPC    OracleSource = "rpc"
)

type APIServerConfig struct {
	ListenAddr       string
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	IdleTimeout      time.Duration
	AllowedOrigins   []string
	WSPushInterval   time.Duration
	RPCURL           string
	Commitment       rpc.CommitmentType
	OracleSource     OracleSource
	UseClusterClock  bool
	ProgramID        solana.PublicKey
	Admin            solana.PublicKey
	AdminKeypairPath string
	AdminToken       string
	BootstrapFile    string
	RequestTimeout   time.Duration
	Log              LogConfig
}

type CLIConfig struct {
	ProgramID     solana.PublicKey
	BootstrapFile string
	Log           LogConfig
}

var defaultPerpetualsProgramID = solana.MustPublicKeyFromBase58("FAXYuthnTA4m7bSivEoxFeNUCMACD5RTxKN99WNUNjAg")

func LoadAPIServerConfig() (APIServerConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return APIServerConfig{}, err
	}

	readTimeout, err := envDuration("API_SERVER_READ_TIMEOUT", 10*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	writeTimeout, err := envDuration("API_SERVER_WRITE_TIMEOUT", 15*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	idleTimeout, err := envDuration("API_SERVER_IDLE_TIMEOUT", 60*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	pushInterval, err := envDuration("API_SERVER_WS_PUSH_INTERVAL", 2*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}
	requestTimeout, err := envDuration("API_SERVER_REQUEST_TIMEOUT", 5*time.Second)
	if err != nil {
		return APIServerConfig{}, err
	}

	commitment, err := envCommitment("SOLANA_COMMITMENT", rpc.CommitmentConfirmed)
	if err != nil {
		return APIServerConfig{}, err
	}
	oracleSource, err := envOracleSource("PERPS_ORACLE_SOURCE", OracleSourceMemory)
	if err != nil {
		return APIServerConfig{}, err
	}
	useClusterClock, err := envBool("PERPS_USE_CLUSTER_CLOCK", oracleSource == OracleSourceRPC)
	if err != nil {
		return APIServerConfig{}, err
	}

	programID, err := envPubkey("PERPS_PROGRAM_ID", defaultPerpetualsProgramID)
	if err != nil {
		return APIServerConfig{}, err
	}
	admin, err := envPubkey("PERPS_ADMIN_PUBKEY", solana.PublicKey{})
	if err != nil {
		return APIServerConfig{}, err
	}

	keypairPath := envOrDefault("PERPS_ADMIN_KEYPAIR_PATH", envOrDefault("SOLANA_KEYPAIR_PATH", ""))
	if keypairPath != "" {
		keypairPath = maybeUseLocalSecretKeypair(keypairPath)
		if keypairPath, err = expandHomePath(keypairPath); err != nil {
			return APIServerConfig{}, fmt.Errorf("expand keypair path: %w", err)
		}
	}
	if admin.IsZero() && keypairPath != "" {
		signer, err := solana.PrivateKeyFromSolanaKeygenFile(keypairPath)
		if err != nil {
			return APIServerConfig{}, fmt.Errorf("load admin keypair %q: %w", keypairPath, err)
		}
		admin = signer.PublicKey()
	}

	bootstrapFile, err := expandHomePath(envOrDefault("PERPS_BOOTSTRAP_FILE", ""))
	if err != nil {
		return APIServerConfig{}, fmt.Errorf("expand bootstrap path: %w", err)
	}

	allowedOrigins := parseCSVEnv(
		envOrDefault("API_SERVER_ALLOWED_ORIGINS", "*"),
		[]string{"*"},
	)

	return APIServerConfig{
		ListenAddr:       envOrDefault("API_SERVER_LISTEN_ADDR", ":8080"),
		ReadTimeout:      readTimeout,
		WriteTimeout:     writeTimeout,
		IdleTimeout:      idleTimeout,
		AllowedOrigins:   allowedOrigins,
		WSPushInterval:   pushInterval,
		RPCURL:           envOrDefault("SOLANA_RPC_URL", "http://127.0.0.1:8899"),
		Commitment:       commitment,
		OracleSource:     oracleSource,
		UseClusterClock:  useClusterClock,
		ProgramID:        programID,
		Admin:            admin,
		AdminKeypairPath: keypairPath,
		AdminToken:       envOrDefault("API_SERVER_ADMIN_TOKEN", ""),
		BootstrapFile:    bootstrapFile,
		RequestTimeout:   requestTimeout,
		Log:              buildLogConfig("API_SERVER", "api-server"),
	}, nil
}

// LoadCLIConfig reads the perpsctl defaults; flags override them.
func LoadCLIConfig() (CLIConfig, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return CLIConfig{}, err
	}
	programID, err := envPubkey("PERPS_PROGRAM_ID", defaultPerpetualsProgramID)
	if err != nil {
		return CLIConfig{}, err
	}
	bootstrapFile, err := expandHomePath(envOrDefault("PERPS_BOOTSTRAP_FILE", ""))
	if err != nil {
		return CLIConfig{}, fmt.Errorf("expand bootstrap path: %w", err)
	}
	logCfg := buildLogConfig("PERPSCTL", "perpsctl")
	logCfg.Output = envOrDefault("PERPSCTL_LOG_OUTPUT", "stderr")
	logCfg.Level = envOrDefault("PERPSCTL_LOG_LEVEL", "warn")

	return CLIConfig{
		ProgramID:     programID,
		BootstrapFile: bootstrapFile,
		Log:           logCfg,
	}, nil
}

type ConfigSource struct {
	Phase  string
	Path   string
	Loaded bool
}

func CurrentConfigSource() (ConfigSource, error) {
	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ConfigSource{}, err
	}
	return ConfigSource{
		Phase:  runtimeConfigPhase,
		Path:   runtimeConfigPath,
		Loaded: runtimeConfigLoaded,
	}, nil
}

func buildLogConfig(prefix string, serviceName string) LogConfig {
	level := envOrDefault(prefix+"_LOG_LEVEL", envOrDefault("LOG_LEVEL", "info"))
	format := envOrDefault(prefix+"_LOG_FORMAT", envOrDefault("LOG_FORMAT", "text"))
	output := envOrDefault(prefix+"_LOG_OUTPUT", envOrDefault("LOG_OUTPUT", "console"))
	filePath := envOrDefault(prefix+"_LOG_FILE", envOrDefault("LOG_FILE", filepath.Join(".docker", serviceName, serviceName+".log")))

	return LogConfig{
		Level:    level,
		Format:   format,
		Output:   output,
		FilePath: filePath,
	}
}

func envOracleSource(key string, fallback OracleSource) (OracleSource, error) {
	raw := strings.ToLower(strings.TrimSpace(valueForKey(key)))
	if raw == "" {
		return fallback, nil
	}
	switch OracleSource(raw) {
	case OracleSourceMemory, OracleSourceRPC:
		return OracleSource(raw), nil
	default:
		return "", fmt.Errorf("invalid %s: %q (expected memory|rpc)", key, raw)
	}
}

func envPubkey(key string, fallback solana.PublicKey) (solana.PublicKey, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	pk, err := solana.PublicKeyFromBase58(raw)
	if err != nil {
		return solana.PublicKey{}, fmt.Errorf("invalid %s: %w", key, err)
	}
	return pk, nil
}

func envCommitment(key string, fallback rpc.CommitmentType) (rpc.CommitmentType, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	switch strings.ToLower(raw) {
	case string(rpc.CommitmentProcessed):
		return rpc.CommitmentProcessed, nil
	case string(rpc.CommitmentConfirmed):
		return rpc.CommitmentConfirmed, nil
	case string(rpc.CommitmentFinalized):
		return rpc.CommitmentFinalized, nil
	default:
		return "", fmt.Errorf("invalid %s: %q (expected processed|confirmed|finalized)", key, raw)
	}
}

func envDuration(key string, fallback time.Duration) (time.Duration, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid %s: must be > 0", key)
	}
	return d, nil
}

func envBool(key string, fallback bool) (bool, error) {
	raw := strings.TrimSpace(valueForKey(key))
	if raw == "" {
		return fallback, nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func envOrDefault(key, fallback string) string {
	if value := strings.TrimSpace(valueForKey(key)); value != "" {
		return value
	}
	return fallback
}

func parseCSVEnv(raw string, fallback []string) []string {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		value := strings.TrimSpace(part)
		if value == "" {
			continue
		}
		out = append(out, value)
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}

func expandHomePath(path string) (string, error) {
	if path == "" {
		return "", nil
	}
	if path == "~" || strings.HasPrefix(path, "~/") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		if path == "~" {
			return homeDir, nil
		}
		return filepath.Join(homeDir, strings.TrimPrefix(path, "~/")), nil
	}
	return path, nil
}

var (
	runtimeConfigOnce   sync.Once
	runtimeConfigErr    error
	runtimeConfigValues map[string]string
	runtimeConfigLoaded bool
	runtimeConfigPath   string
	runtimeConfigPhase  string
)

func ensureRuntimeConfigLoaded() error {
	runtimeConfigOnce.Do(func() {
		runtimeConfigValues = make(map[string]string)

		phase := strings.TrimSpace(os.Getenv("CONFIG_PHASE"))
		if phase == "" {
			phase = "local"
		}
		runtimeConfigPhase = phase

		configPath := strings.TrimSpace(os.Getenv("CONFIG_FILE"))
		explicitPath := configPath != ""
		if configPath == "" {
			configPath = filepath.Join("config", "config-"+phase+".yaml")
		}

		body, err := os.ReadFile(configPath)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) && !explicitPath {
				return
			}
			runtimeConfigErr = fmt.Errorf("read config file %q: %w", configPath, err)
			return
		}

		raw := make(map[string]any)
		if err := yaml.Unmarshal(body, &raw); err != nil {
			runtimeConfigErr = fmt.Errorf("parse config file %q: %w", configPath, err)
			return
		}

		flattened, err := flattenConfig(raw)
		if err != nil {
			runtimeConfigErr = fmt.Errorf("flatten config file %q: %w", configPath, err)
			return
		}

		runtimeConfigValues = flattened
		runtimeConfigLoaded = true
		if absPath, err := filepath.Abs(configPath); err == nil {
			runtimeConfigPath = absPath
		} else {
			runtimeConfigPath = configPath
		}
	})
	return runtimeConfigErr
}

func flattenConfig(raw map[string]any) (map[string]string, error) {
	out := make(map[string]string)
	for key, value := range raw {
		segment := normalizeKeySegment(key)
		if segment == "" {
			continue
		}
		if err := flattenConfigValue(segment, value, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func flattenConfigValue(prefix string, value any, out map[string]string) error {
	switch typed := value.(type) {
	case map[string]any:
		for key, child := range typed {
			segment := normalizeKeySegment(key)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case map[any]any:
		for keyAny, child := range typed {
			keyText, ok := keyAny.(string)
			if !ok {
				return fmt.Errorf("unsupported map key type %T under %q", keyAny, prefix)
			}
			segment := normalizeKeySegment(keyText)
			if segment == "" {
				continue
			}
			if err := flattenConfigValue(prefix+"_"+segment, child, out); err != nil {
				return err
			}
		}
		return nil
	case []any:
		parts := make([]string, 0, len(typed))
		for _, item := range typed {
			switch scalar := item.(type) {
			case string:
				if strings.TrimSpace(scalar) == "" {
					continue
				}
				parts = append(parts, strings.TrimSpace(scalar))
			case bool, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
				parts = append(parts, fmt.Sprint(scalar))
			default:
				return fmt.Errorf("unsupported list item type %T under %q", item, prefix)
			}
		}
		out[prefix] = strings.Join(parts, ",")
		return nil
	case nil:
		return nil
	default:
		out[prefix] = fmt.Sprint(typed)
		return nil
	}
}

func normalizeKeySegment(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(len(raw))
	lastUnderscore := false

	for _, r := range raw {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToUpper(r))
			lastUnderscore = false
			continue
		}
		if !lastUnderscore && b.Len() > 0 {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	return strings.Trim(b.String(), "_")
}

func valueForKey(key string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}

	if err := ensureRuntimeConfigLoaded(); err != nil {
		return ""
	}

	if value := strings.TrimSpace(runtimeConfigValues[key]); value != "" {
		return value
	}
	return ""
}

func maybeUseLocalSecretKeypair(current string) string {
	expandedCurrent, err := expandHomePath(current)
	if err != nil {
		return current
	}

	homeDir, err := os.UserHomeDir()
	if err != nil {
		return current
	}
	defaultHomePath := filepath.Join(homeDir, ".config", "solana", "id.json")
	if filepath.Clean(expandedCurrent) != filepath.Clean(defaultHomePath) {
		return current
	}

	for _, candidate := range []string{
		"../.local/secret/admin-wallet.json",
		".local/secret/admin-wallet.json",
	} {
		absoluteCandidate, err := filepath.Abs(candidate)
		if err != nil {
			continue
		}
		info, err := os.Stat(absoluteCandidate)
		if err != nil || info.IsDir() {
			continue
		}
		return absoluteCandidate
	}

	return current
}
