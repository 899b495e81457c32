package params

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// DefaultCustodySeed is the devnet custodian seed. Never use it outside local testing.
const DefaultCustodySeed = "65786368616e67652d6d61726b65742d6465766e65742d637573746f64792d73656564"

type Node struct {
	DataDir  string
	LogFile  string
	LogLevel string // debug, info, warn, error
	APIAddr  string

	// MinBlockTime is the interval at which pending instructions are sequenced
	// into a block. Devnet 200ms, production depends on expected load.
	MinBlockTime time.Duration

	// MaxBlockBytes caps the instructions pulled from the mempool per block (0 = no cap).
	MaxBlockBytes int64

	EnableFaucet bool
	CORSOrigins  []string
}

type Program struct {
	ID      common.Address // verifying contract in the EIP-712 domain, seed for authorities
	ChainID *big.Int
	Name    string
	Version string

	// CustodySeed is the key material of the custodial authority signer (>= 32 bytes).
	CustodySeed []byte
}

type Events struct {
	KafkaBrokers []string
	KafkaTopic   string
}

type Config struct {
	Node    Node
	Program Program
	Events  Events
}

func Default() Config {
	seed, _ := hex.DecodeString(DefaultCustodySeed)
	return Config{
		Node: Node{
			DataDir:       "data/ledger",
			LogFile:       "data/node.log",
			LogLevel:      "info",
			APIAddr:       ":8080",
			MinBlockTime:  200 * time.Millisecond,
			MaxBlockBytes: 1 << 20,
			EnableFaucet:  false,
			CORSOrigins:   []string{"http://localhost:3000", "http://localhost:3001"},
		},
		Program: Program{
			ID:          common.HexToAddress("0x0000000000000000000000000000000000e5c40e"),
			ChainID:     big.NewInt(1337),
			Name:        "ExchangeMarket",
			Version:     "1",
			CustodySeed: seed,
		},
		Events: Events{
			KafkaTopic: "exchange-market.settlements",
		},
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
// PROGRAM_ID, CHAIN_ID and CUSTODY_SEED are identity settings: when set but
// invalid, loading fails instead of falling back to the devnet defaults.
func LoadFromEnv(envPath string) (Config, error) {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.LogLevel = getEnv("LOG_LEVEL", cfg.Node.LogLevel)
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)

	if minBlock := os.Getenv("NODE_MIN_BLOCK_TIME_MS"); minBlock != "" {
		if ms, err := strconv.Atoi(minBlock); err == nil && ms > 0 {
			cfg.Node.MinBlockTime = time.Duration(ms) * time.Millisecond
		}
	}
	if maxBytes := os.Getenv("NODE_MAX_BLOCK_BYTES"); maxBytes != "" {
		if n, err := strconv.ParseInt(maxBytes, 10, 64); err == nil && n >= 0 {
			cfg.Node.MaxBlockBytes = n
		}
	}
	if faucet := os.Getenv("ENABLE_FAUCET"); faucet != "" {
		cfg.Node.EnableFaucet = faucet == "true"
	}
	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.Node.CORSOrigins = splitList(origins)
	}

	if id := os.Getenv("PROGRAM_ID"); id != "" {
		if !common.IsHexAddress(id) {
			return cfg, fmt.Errorf("PROGRAM_ID %q is not a hex address", id)
		}
		cfg.Program.ID = common.HexToAddress(id)
	}
	if chainID := os.Getenv("CHAIN_ID"); chainID != "" {
		v, ok := new(big.Int).SetString(chainID, 10)
		if !ok || v.Sign() <= 0 {
			return cfg, fmt.Errorf("CHAIN_ID %q is not a positive integer", chainID)
		}
		cfg.Program.ChainID = v
	}
	if seed := os.Getenv("CUSTODY_SEED"); seed != "" {
		b, err := hex.DecodeString(strings.TrimPrefix(seed, "0x"))
		if err != nil {
			return cfg, fmt.Errorf("CUSTODY_SEED is not hex: %w", err)
		}
		if len(b) < 32 {
			return cfg, fmt.Errorf("CUSTODY_SEED must be at least 32 bytes, got %d", len(b))
		}
		cfg.Program.CustodySeed = b
	}

	// Example: "broker1:9092,broker2:9092"
	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Events.KafkaBrokers = splitList(brokers)
	}
	cfg.Events.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Events.KafkaTopic)

	return cfg, nil
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
