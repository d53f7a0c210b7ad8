package sale

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"tiersale/core/state"
)

// Validate checks the structure of the configuration.
func (c *Config) Validate() error {
	if c == nil {
		return validationf("config required")
	}
	if c.Owner == (common.Address{}) {
		return validationf("owner required")
	}
	if len(c.MaxPayments) == 0 {
		return validationf("max payments must not be empty")
	}
	if len(c.LockPeriods) == 0 {
		return validationf("lock periods must not be empty")
	}
	if len(c.MaxPayments) != len(c.LockPeriods) {
		return validationf("lock periods and max payments have different lengths (%d != %d)", len(c.LockPeriods), len(c.MaxPayments))
	}
	if len(c.MaxPayments) > 256 {
		return validationf("at most 256 tiers supported")
	}
	for i, limit := range c.MaxPayments {
		if limit == nil {
			return validationf("max payment for tier %d missing", i)
		}
		if i == 0 {
			if !limit.IsZero() {
				return validationf("max payment for tier 0 must be zero")
			}
			continue
		}
		if !limit.Gt(c.MaxPayments[i-1]) {
			return validationf("max payments must be strictly increasing (tier %d: %s <= %s)", i, limit.Dec(), c.MaxPayments[i-1].Dec())
		}
	}
	return nil
}

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c
	out.MaxPayments = make([]*uint256.Int, len(c.MaxPayments))
	for i, v := range c.MaxPayments {
		if v != nil {
			out.MaxPayments[i] = new(uint256.Int).Set(v)
		}
	}
	out.LockPeriods = append([]uint64(nil), c.LockPeriods...)
	return &out
}

// Tiers returns the number of configured tiers.
func (c *Config) Tiers() int { return len(c.MaxPayments) }

// LoadConfig reads the persisted configuration.
func (e *Engine) LoadConfig() (*Config, error) {
	if e == nil || e.state == nil {
		return nil, errNilState
	}
	cfg := new(Config)
	ok, err := state.NewManager(e.state).KVGet(configKey, cfg)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: config not initialised", ErrNotFound)
	}
	return cfg, nil
}

// SaveConfig validates and persists cfg.
func (e *Engine) SaveConfig(cfg *Config) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	return state.NewManager(e.state).KVPut(configKey, cfg)
}

// Initialised reports whether a configuration has been stored.
func (e *Engine) Initialised() (bool, error) {
	if e == nil || e.state == nil {
		return false, errNilState
	}
	return state.NewManager(e.state).KVGet(configKey, nil)
}

// loadActiveConfig loads the configuration and rejects mutations while paused.
func (e *Engine) loadActiveConfig() (*Config, error) {
	cfg, err := e.LoadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Paused {
		return nil, ErrPaused
	}
	return cfg, nil
}

// ChangeOwner transfers platform ownership. Only the current owner may call it.
func (e *Engine) ChangeOwner(caller, newOwner common.Address) error {
	cfg, err := e.LoadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Owner {
		return fmt.Errorf("%w: only the platform owner can change ownership", ErrUnauthorized)
	}
	if newOwner == (common.Address{}) {
		return validationf("new owner required")
	}
	previous := cfg.Owner
	cfg.Owner = newOwner
	if err := e.SaveConfig(cfg); err != nil {
		return err
	}
	e.emit(OwnerChangedEvent(previous, newOwner))
	return nil
}

// SetPaused toggles the platform pause switch. Only the owner may call it and
// it remains callable while paused.
func (e *Engine) SetPaused(caller common.Address, paused bool) error {
	cfg, err := e.LoadConfig()
	if err != nil {
		return err
	}
	if caller != cfg.Owner {
		return fmt.Errorf("%w: only the platform owner can change the contract status", ErrUnauthorized)
	}
	if cfg.Paused == paused {
		return nil
	}
	cfg.Paused = paused
	if err := e.SaveConfig(cfg); err != nil {
		return err
	}
	e.emit(PausedEvent(caller, paused))
	return nil
}
