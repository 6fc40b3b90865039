package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"

	"sollend/pkg/lending"
)

// Config holds the liquidator and action CLI settings loaded from the environment.
type Config struct {
	// RPC
	RPCEndpoints []string
	WSEndpoint   string
	RPCRateLimit int

	// Protocol
	Environment lending.Environment
	Markets     []solana.PublicKey
	DualMints   map[solana.PublicKey]lending.DualMint

	// Wallet
	Keypair string

	// Oracles
	HermesURL   string
	PythShardID uint16

	// Submission
	JitoURL                  string
	JitoTipLamports          uint64
	PriorityFeeMicroLamports uint64
	ComputeUnitLimit         uint32
	ConfirmTimeout           time.Duration
	HostFeeReceiver          solana.PublicKey

	// Engine
	EpochDelay           time.Duration
	MaxLiquidationRounds int

	// Observability
	MetricsAddr string
	LogLevel    string

	TokenSymbols map[solana.PublicKey]string
}

// Load reads configuration from environment variables and validates it.
// All validation errors are collected and reported together.
func Load() (*Config, error) {
	cfg := &Config{}
	var errs []error

	cfg.RPCEndpoints = GetRPCEndpoints()
	if len(cfg.RPCEndpoints) == 0 {
		errs = append(errs, fmt.Errorf("RPC_ENDPOINTS is required"))
	}
	cfg.WSEndpoint = os.Getenv("WS_ENDPOINT")

	rateLimit, err := parseInt("RPC_RATE_LIMIT", 20)
	if err != nil {
		errs = append(errs, err)
	} else if rateLimit <= 0 {
		errs = append(errs, fmt.Errorf("RPC_RATE_LIMIT must be positive"))
	} else {
		cfg.RPCRateLimit = rateLimit
	}

	env, err := lending.ParseEnvironment(os.Getenv("APP_ENV"))
	if err != nil {
		errs = append(errs, fmt.Errorf("APP_ENV: %w", err))
	} else {
		cfg.Environment = env
	}

	markets, err := parseKeys("MARKETS")
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.Markets = markets
	}

	dualMints, err := parseDualMints(os.Getenv("DUAL_MINTS"))
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.DualMints = dualMints
	}

	cfg.Keypair = os.Getenv("LIQUIDATOR_KEYPAIR")
	cfg.HermesURL = getEnvOrDefault("HERMES_URL", "https://hermes.pyth.network")
	shard, err := parseUint("PYTH_SHARD_ID", 0)
	if err != nil {
		errs = append(errs, err)
	} else if shard > 0xffff {
		errs = append(errs, fmt.Errorf("PYTH_SHARD_ID cannot exceed 65535"))
	} else {
		cfg.PythShardID = uint16(shard)
	}
	cfg.JitoURL = os.Getenv("JITO_URL")

	if cfg.JitoTipLamports, err = parseUint("JITO_TIP_LAMPORTS", 10_000); err != nil {
		errs = append(errs, err)
	}
	if cfg.PriorityFeeMicroLamports, err = parseUint("PRIORITY_FEE_MICRO_LAMPORTS", 1_000); err != nil {
		errs = append(errs, err)
	}
	cuLimit, err := parseUint("COMPUTE_UNIT_LIMIT", 1_400_000)
	if err != nil {
		errs = append(errs, err)
	} else if cuLimit > 1_400_000 {
		errs = append(errs, fmt.Errorf("COMPUTE_UNIT_LIMIT cannot exceed 1400000"))
	} else {
		cfg.ComputeUnitLimit = uint32(cuLimit)
	}

	if cfg.ConfirmTimeout, err = parseDuration("CONFIRM_TIMEOUT", "60s"); err != nil {
		errs = append(errs, err)
	}
	if cfg.EpochDelay, err = parseDuration("EPOCH_DELAY", "0s"); err != nil {
		errs = append(errs, err)
	}

	rounds, err := parseInt("MAX_LIQUIDATION_ROUNDS", 10)
	if err != nil {
		errs = append(errs, err)
	} else if rounds <= 0 {
		errs = append(errs, fmt.Errorf("MAX_LIQUIDATION_ROUNDS must be positive"))
	} else {
		cfg.MaxLiquidationRounds = rounds
	}

	if raw := os.Getenv("HOST_FEE_RECEIVER"); raw != "" {
		key, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("HOST_FEE_RECEIVER: %w", err))
		} else {
			cfg.HostFeeReceiver = key
		}
	}

	cfg.MetricsAddr = getEnvOrDefault("METRICS_ADDR", ":9090")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")

	symbols, err := parseSymbols(os.Getenv("TOKEN_SYMBOLS"))
	if err != nil {
		errs = append(errs, err)
	} else {
		cfg.TokenSymbols = symbols
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("configuration validation failed: %v", errs)
	}

	return cfg, nil
}

// ProgramID returns the lending program of the configured environment
func (c *Config) ProgramID() solana.PublicKey {
	return c.Environment.ProgramID()
}

// LoadKeypair reads the wallet from a keygen JSON file or a base58 secret.
func (c *Config) LoadKeypair() (solana.PrivateKey, error) {
	if c.Keypair == "" {
		return nil, fmt.Errorf("LIQUIDATOR_KEYPAIR is required")
	}
	if _, err := os.Stat(c.Keypair); err == nil {
		key, err := solana.PrivateKeyFromSolanaKeygenFile(c.Keypair)
		if err != nil {
			return nil, fmt.Errorf("failed to read keypair file: %w", err)
		}
		return key, nil
	}
	key, err := solana.PrivateKeyFromBase58(c.Keypair)
	if err != nil {
		return nil, fmt.Errorf("LIQUIDATOR_KEYPAIR is neither a file nor a base58 secret: %w", err)
	}
	return key, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func parseDuration(key, defaultValue string) (time.Duration, error) {
	value := getEnvOrDefault(key, defaultValue)
	duration, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid duration %q: %w", key, value, err)
	}
	return duration, nil
}

func parseInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseUint(key string, defaultValue uint64) (uint64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	result, err := strconv.ParseUint(value, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid unsigned integer %q: %w", key, value, err)
	}
	return result, nil
}

func parseKeys(key string) ([]solana.PublicKey, error) {
	var out []solana.PublicKey
	for _, raw := range splitList(os.Getenv(key)) {
		pk, err := solana.PublicKeyFromBase58(raw)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid address %q: %w", key, raw, err)
		}
		out = append(out, pk)
	}
	return out, nil
}

// parseSymbols parses "mint=SYMBOL" pairs.
func parseSymbols(raw string) (map[solana.PublicKey]string, error) {
	out := make(map[solana.PublicKey]string)
	for _, pair := range splitList(raw) {
		mint, symbol, ok := strings.Cut(pair, "=")
		if !ok || symbol == "" {
			return nil, fmt.Errorf("TOKEN_SYMBOLS: expected mint=symbol, got %q", pair)
		}
		pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(mint))
		if err != nil {
			return nil, fmt.Errorf("TOKEN_SYMBOLS: invalid mint %q: %w", mint, err)
		}
		out[pk] = strings.TrimSpace(symbol)
	}
	return out, nil
}

// parseDualMints parses "reserve:program:underlying:wrapped:escrow:authority" entries.
func parseDualMints(raw string) (map[solana.PublicKey]lending.DualMint, error) {
	out := make(map[solana.PublicKey]lending.DualMint)
	for _, entry := range splitList(raw) {
		fields := strings.Split(entry, ":")
		if len(fields) != 6 {
			return nil, fmt.Errorf("DUAL_MINTS: expected 6 colon-separated addresses, got %q", entry)
		}
		keys := make([]solana.PublicKey, len(fields))
		for i, f := range fields {
			pk, err := solana.PublicKeyFromBase58(strings.TrimSpace(f))
			if err != nil {
				return nil, fmt.Errorf("DUAL_MINTS: invalid address %q: %w", f, err)
			}
			keys[i] = pk
		}
		out[keys[0]] = lending.DualMint{
			Program:        keys[1],
			UnderlyingMint: keys[2],
			WrappedMint:    keys[3],
			Escrow:         keys[4],
			MintAuthority:  keys[5],
		}
	}
	return out, nil
}
