package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `RPCAddress = "127.0.0.1:9000"
DataDir = "./data"
CustodyAddress = "0x00000000000000000000000000000000000005a1"
TierFixtures = "tiers.yaml"

[rpc]
RateLimitPerSecond = 5.5
RateBurst = 10
EnableFaucet = true

[log]
Level = "debug"
File = "saled.log"

[telemetry]
Traces = true
SampleRatio = 0.25

[telemetry.Headers]
authorization = "Bearer otlp"

[global]
Owner = "0x00000000000000000000000000000000000000a0"
TierContract = "0x00000000000000000000000000000000000000f1"
TokenContract = "0x00000000000000000000000000000000000000e1"
MaxPayments = ["0", "100", "500"]
LockPeriods = [0, 60, 30]
`

func writeConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))
	return path
}

func TestLoadParsesSections(t *testing.T) {
	cfg, err := Load(writeConfig(t, sampleConfig))
	require.NoError(t, err)

	require.Equal(t, "127.0.0.1:9000", cfg.RPCAddress)
	require.Equal(t, "tiersale-local", cfg.NetworkName)
	require.Equal(t, 5.5, cfg.RPC.RateLimitPerSecond)
	require.Equal(t, 10, cfg.RPC.RateBurst)
	require.True(t, cfg.RPC.EnableFaucet)
	require.Equal(t, DefaultAuthTokenEnv, cfg.RPC.AuthTokenEnv)
	require.Equal(t, 15, cfg.RPC.ReadTimeout)
	require.Equal(t, "debug", cfg.Log.Level)
	require.Equal(t, common.HexToAddress("0x05a1"), cfg.Custody())
	require.True(t, cfg.Telemetry.Enabled())
	require.Equal(t, "localhost:4318", cfg.Telemetry.Endpoint)
	require.Equal(t, 0.25, cfg.Telemetry.SampleRatio)
	require.Equal(t, map[string]string{"authorization": "Bearer otlp"}, cfg.Telemetry.Headers)

	saleCfg, err := cfg.Global.SaleConfig()
	require.NoError(t, err)
	require.Len(t, saleCfg.MaxPayments, 3)
	require.Equal(t, uint64(500), saleCfg.MaxPayments[2].Uint64())
	require.Equal(t, []uint64{0, 60, 30}, saleCfg.LockPeriods)
	require.Equal(t, common.Address{}, saleCfg.NftContract)
}

func TestLoadCreatesDefault(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.toml")
	cfg, err := Load(path)
	require.NoError(t, err)
	require.FileExists(t, path)
	require.Equal(t, ":8545", cfg.RPCAddress)

	// the persisted default loads back and validates
	again, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Global, again.Global)
}

func TestLoadRejectsInvalidGlobal(t *testing.T) {
	cases := map[string]string{
		"non-increasing caps": `MaxPayments = ["0", "100", "100"]`,
		"bad amount":          `MaxPayments = ["0", "ten", "500"]`,
	}
	for name, line := range cases {
		t.Run(name, func(t *testing.T) {
			contents := `CustodyAddress = "0x00000000000000000000000000000000000005a1"
[global]
Owner = "0x00000000000000000000000000000000000000a0"
TokenContract = "0x00000000000000000000000000000000000000e1"
LockPeriods = [0, 60, 30]
` + line + "\n"
			_, err := Load(writeConfig(t, contents))
			require.Error(t, err)
		})
	}

	_, err := Load(writeConfig(t, `CustodyAddress = "nope"`))
	require.Error(t, err)

	_, err = Load(writeConfig(t, strings.Replace(sampleConfig, "SampleRatio = 0.25", "SampleRatio = 1.5", 1)))
	require.ErrorContains(t, err, "SampleRatio")
}
