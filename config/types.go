package config

// DefaultAuthTokenEnv names the environment variable holding the RPC bearer
// token when the config does not override it.
const DefaultAuthTokenEnv = "TIERSALE_RPC_TOKEN"

// RPC captures JSON-RPC server limits. Timeouts are in seconds.
type RPC struct {
	AuthTokenEnv       string   `toml:"AuthTokenEnv"`
	RateLimitPerSecond float64  `toml:"RateLimitPerSecond"`
	RateBurst          int      `toml:"RateBurst"`
	TrustedProxies     []string `toml:"TrustedProxies"`
	ReadHeaderTimeout  int      `toml:"ReadHeaderTimeout"`
	ReadTimeout        int      `toml:"ReadTimeout"`
	WriteTimeout       int      `toml:"WriteTimeout"`
	IdleTimeout        int      `toml:"IdleTimeout"`
	MaxBodyBytes       int64    `toml:"MaxBodyBytes"`
	// EnableFaucet exposes devnet-only token minting and tier assignment.
	EnableFaucet bool `toml:"EnableFaucet"`
}

// Log configures the structured log sink.
type Log struct {
	Level      string `toml:"Level"`
	Env        string `toml:"Env"`
	File       string `toml:"File"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
}

// Telemetry configures OTLP/HTTP export of traces and metrics. Headers given
// here are merged with OTEL_EXPORTER_OTLP_HEADERS, the environment winning.
type Telemetry struct {
	Endpoint    string            `toml:"Endpoint"`
	Insecure    bool              `toml:"Insecure"`
	Headers     map[string]string `toml:"Headers"`
	Traces      bool              `toml:"Traces"`
	Metrics     bool              `toml:"Metrics"`
	SampleRatio float64           `toml:"SampleRatio"`
}

// Enabled reports whether any exporter is switched on.
func (t Telemetry) Enabled() bool { return t.Traces || t.Metrics }

// Global is the sale platform configuration applied on first start.
// Addresses are hex strings and payment caps decimal strings.
type Global struct {
	Owner         string   `toml:"Owner"`
	TierContract  string   `toml:"TierContract"`
	NftContract   string   `toml:"NftContract"`
	TokenContract string   `toml:"TokenContract"`
	MaxPayments   []string `toml:"MaxPayments"`
	LockPeriods   []uint64 `toml:"LockPeriods"`
}
