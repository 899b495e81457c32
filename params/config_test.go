package params

import (
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

func TestDefaultCustodySeedLength(t *testing.T) {
	cfg := Default()
	if len(cfg.Program.CustodySeed) < 32 {
		t.Fatalf("custody seed length = %d, want >= 32", len(cfg.Program.CustodySeed))
	}
}

func TestLoadFromEnvOverrides(t *testing.T) {
	t.Setenv("NODE_MIN_BLOCK_TIME_MS", "50")
	t.Setenv("ENABLE_FAUCET", "true")
	t.Setenv("CHAIN_ID", "42")
	t.Setenv("PROGRAM_ID", "0x00000000000000000000000000000000000000AB")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("CUSTODY_SEED", "0x"+strings.Repeat("ab", 32))

	cfg, err := LoadFromEnv(t.TempDir() + "/missing.env")
	if err != nil {
		t.Fatalf("LoadFromEnv: %v", err)
	}

	if cfg.Node.MinBlockTime != 50*time.Millisecond {
		t.Errorf("min block time = %v, want 50ms", cfg.Node.MinBlockTime)
	}
	if !cfg.Node.EnableFaucet {
		t.Error("faucet should be enabled")
	}
	if cfg.Program.ChainID.Int64() != 42 {
		t.Errorf("chain id = %s, want 42", cfg.Program.ChainID)
	}
	if cfg.Program.ID != common.HexToAddress("0xAB") {
		t.Errorf("program id = %s", cfg.Program.ID.Hex())
	}
	if len(cfg.Events.KafkaBrokers) != 2 || cfg.Events.KafkaBrokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Events.KafkaBrokers)
	}
	if len(cfg.Program.CustodySeed) != 32 || cfg.Program.CustodySeed[0] != 0xab {
		t.Errorf("custody seed = %x", cfg.Program.CustodySeed)
	}
}

func TestLoadFromEnvRejectsInvalidIdentity(t *testing.T) {
	tests := []struct {
		name, key, value string
	}{
		{"short custody seed", "CUSTODY_SEED", "0x00"},
		{"non-hex custody seed", "CUSTODY_SEED", "not-hex"},
		{"bad program id", "PROGRAM_ID", "0x1234"},
		{"bad chain id", "CHAIN_ID", "mainnet"},
		{"zero chain id", "CHAIN_ID", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadFromEnv(t.TempDir() + "/missing.env"); err == nil {
				t.Fatalf("%s=%q should fail to load", tt.key, tt.value)
			} else if !strings.Contains(err.Error(), tt.key) {
				t.Errorf("error %q does not name %s", err, tt.key)
			}
		})
	}
}
