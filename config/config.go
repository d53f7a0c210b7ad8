package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	RPCAddress     string `toml:"RPCAddress"`
	MetricsAddress string `toml:"MetricsAddress"`
	DataDir        string `toml:"DataDir"`
	NetworkName    string `toml:"NetworkName"`
	// CustodyAddress is the account that escrows sale inventory.
	CustodyAddress string `toml:"CustodyAddress"`
	// TierFixtures points at a YAML file seeding the devnet tier collaborators.
	TierFixtures string `toml:"TierFixtures"`

	RPC       RPC       `toml:"rpc"`
	Log       Log       `toml:"log"`
	Telemetry Telemetry `toml:"telemetry"`
	Global    Global    `toml:"global"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	applyDefaults(cfg)
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if strings.TrimSpace(cfg.NetworkName) == "" {
		cfg.NetworkName = "tiersale-local"
	}
	if strings.TrimSpace(cfg.RPCAddress) == "" {
		cfg.RPCAddress = ":8545"
	}
	if strings.TrimSpace(cfg.DataDir) == "" {
		cfg.DataDir = "./tiersale-data"
	}
	if cfg.RPC.AuthTokenEnv == "" {
		cfg.RPC.AuthTokenEnv = DefaultAuthTokenEnv
	}
	if cfg.RPC.RateLimitPerSecond == 0 {
		cfg.RPC.RateLimitPerSecond = 20
	}
	if cfg.RPC.RateBurst == 0 {
		cfg.RPC.RateBurst = 40
	}
	if cfg.RPC.ReadHeaderTimeout == 0 {
		cfg.RPC.ReadHeaderTimeout = 5
	}
	if cfg.RPC.ReadTimeout == 0 {
		cfg.RPC.ReadTimeout = 15
	}
	if cfg.RPC.WriteTimeout == 0 {
		cfg.RPC.WriteTimeout = 15
	}
	if cfg.RPC.IdleTimeout == 0 {
		cfg.RPC.IdleTimeout = 60
	}
	if cfg.RPC.MaxBodyBytes == 0 {
		cfg.RPC.MaxBodyBytes = 1 << 20
	}
	if cfg.Telemetry.Enabled() && strings.TrimSpace(cfg.Telemetry.Endpoint) == "" {
		cfg.Telemetry.Endpoint = "localhost:4318"
	}
	if cfg.Telemetry.SampleRatio == 0 {
		cfg.Telemetry.SampleRatio = 1
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.MaxSizeMB == 0 {
		cfg.Log.MaxSizeMB = 100
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		RPCAddress:     ":8545",
		MetricsAddress: ":9100",
		DataDir:        "./tiersale-data",
		NetworkName:    "tiersale-local",
		CustodyAddress: "0x00000000000000000000000000000000000005a1",
		Global: Global{
			Owner:         "0x00000000000000000000000000000000000000a0",
			TierContract:  "0x00000000000000000000000000000000000000f1",
			NftContract:   "0x00000000000000000000000000000000000000f2",
			TokenContract: "0x00000000000000000000000000000000000000e1",
			MaxPayments:   []string{"0", "1000", "5000", "20000"},
			LockPeriods:   []uint64{0, 86400, 43200, 0},
		},
	}
	applyDefaults(cfg)

	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
