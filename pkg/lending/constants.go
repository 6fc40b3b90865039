package lending

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/gagliardetto/solana-go"
)

// Lending program IDs per deployment environment
const (
	PRODUCTION_PROGRAM_ID = "So1endDq2YkqhipRh3WViPa8hdiSpxWy6z3Z6tMCpAo"
	DEVNET_PROGRAM_ID     = "ALend7Ketfx5bxh6ghsCDXAoDrhvEmsXT3cynB6aPLgx"
	BETA_PROGRAM_ID       = "BLendhFh4HGnycEDDFhbeFEUYLP4fXB5tTHMoTX8Dch5"
)

var (
	ProductionProgramID = solana.MustPublicKeyFromBase58(PRODUCTION_PROGRAM_ID)
	DevnetProgramID     = solana.MustPublicKeyFromBase58(DEVNET_PROGRAM_ID)
	BetaProgramID       = solana.MustPublicKeyFromBase58(BETA_PROGRAM_ID)

	// NullOracle marks an unset oracle slot in a reserve.
	NullOracle = solana.MustPublicKeyFromBase58("nu11111111111111111111111111111111111111111")

	// NativeMint is the wrapped SOL mint.
	NativeMint = solana.MustPublicKeyFromBase58("So11111111111111111111111111111111111111112")
)

// Account record sizes
const (
	ObligationSize    = 1300
	ReserveSize       = 619
	LendingMarketSize = 290
	TokenAccountSize  = 165
)

const (
	// PositionLimit is the maximum number of distinct reserves one obligation may reference.
	PositionLimit = 6

	// OracleStalenessThreshold is the age after which a push feed is queued for an update.
	OracleStalenessThreshold = 30 * time.Second

	// U64Max is the amount sentinel meaning "operate on the full available balance".
	U64Max uint64 = math.MaxUint64

	// RepayPadding absorbs interest accrued between reading a reserve and executing a full repay.
	RepayPadding uint64 = 1_000_000
)

// Environment selects a deployment of the lending program.
type Environment string

const (
	EnvProduction Environment = "production"
	EnvDevnet     Environment = "devnet"
	EnvBeta       Environment = "beta"
)

// ParseEnvironment maps a configuration string onto an Environment.
func ParseEnvironment(s string) (Environment, error) {
	switch Environment(strings.ToLower(strings.TrimSpace(s))) {
	case "", EnvProduction, "mainnet", "mainnet-beta":
		return EnvProduction, nil
	case EnvDevnet:
		return EnvDevnet, nil
	case EnvBeta:
		return EnvBeta, nil
	default:
		return "", fmt.Errorf("unknown environment %q", s)
	}
}

// ProgramID returns the lending program address for the environment.
func (e Environment) ProgramID() solana.PublicKey {
	switch e {
	case EnvDevnet:
		return DevnetProgramID
	case EnvBeta:
		return BetaProgramID
	default:
		return ProductionProgramID
	}
}
