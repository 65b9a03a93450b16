package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

const (
	// MaxFeeBps is the hard ceiling for the platform fee (10%)
	MaxFeeBps = 1000

	// BpsDenominator converts basis points to a ratio
	BpsDenominator = 10000
)

var (
	ErrNotOwner        = errors.New("caller is not the owner")
	ErrFeeAboveCeiling = errors.New("fee above ceiling")
)

// Config holds the contract-wide settlement configuration. FeeBps and
// MinProfitBps apply to every operation settled after a change; in-flight
// operations read the current values at settlement time. All mutation goes
// through owner-gated setters.
type Config struct {
	mu sync.RWMutex

	FeeBps       uint64 `json:"fee_bps" yaml:"fee_bps"`
	MinProfitBps uint64 `json:"min_profit_bps" yaml:"min_profit_bps"`
	Paused       bool   `json:"paused" yaml:"paused"`
	OwnerHex     string `json:"owner" yaml:"owner"`

	MetricsNamespace string `json:"metrics_namespace" yaml:"metrics_namespace"`

	owner common.Address

	Logger *zap.Logger `json:"-" yaml:"-"`
}

// NewConfig creates a configuration with safe defaults and the given owner
func NewConfig(owner common.Address) *Config {
	return &Config{
		FeeBps:           50,
		MinProfitBps:     10,
		MetricsNamespace: "flasharb",
		owner:            owner,
		OwnerHex:         owner.Hex(),
	}
}

// Load reads a configuration file. The format is chosen by extension:
// .json, or .yaml/.yml.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{MetricsNamespace: "flasharb"}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", path)
	}

	cfg.owner = common.HexToAddress(cfg.OwnerHex)
	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks configuration invariants
func (c *Config) Validate() error {
	if c.FeeBps > MaxFeeBps {
		return fmt.Errorf("%w: %d > %d", ErrFeeAboveCeiling, c.FeeBps, MaxFeeBps)
	}
	if c.owner == (common.Address{}) {
		return errors.New("owner address not set")
	}
	return nil
}

// Owner returns the configured owner address
func (c *Config) Owner() common.Address {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.owner
}

// FeeBpsValue returns the current platform fee in basis points
func (c *Config) FeeBpsValue() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.FeeBps
}

// MinProfitBpsValue returns the current minimum profit ratio in basis points
func (c *Config) MinProfitBpsValue() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.MinProfitBps
}

// IsPaused reports whether new operations are accepted
func (c *Config) IsPaused() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Paused
}

// SetFeeBps updates the platform fee. Rejects non-owner callers and values
// above the ceiling without mutating state.
func (c *Config) SetFeeBps(caller common.Address, bps uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return ErrNotOwner
	}
	if bps > MaxFeeBps {
		return fmt.Errorf("%w: %d > %d", ErrFeeAboveCeiling, bps, MaxFeeBps)
	}
	c.FeeBps = bps
	return nil
}

// SetMinProfitBps updates the minimum profit ratio. No ceiling is enforced,
// matching the fee ceiling asymmetry of the settlement rules.
func (c *Config) SetMinProfitBps(caller common.Address, bps uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return ErrNotOwner
	}
	c.MinProfitBps = bps
	return nil
}

// Pause stops acceptance of new operations
func (c *Config) Pause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return ErrNotOwner
	}
	c.Paused = true
	return nil
}

// Unpause resumes acceptance of new operations
func (c *Config) Unpause(caller common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return ErrNotOwner
	}
	c.Paused = false
	return nil
}

// TransferOwnership hands the administrative surface to a new owner
func (c *Config) TransferOwnership(caller, newOwner common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if caller != c.owner {
		return ErrNotOwner
	}
	if newOwner == (common.Address{}) {
		return errors.New("new owner is the zero address")
	}
	c.owner = newOwner
	c.OwnerHex = newOwner.Hex()
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv(EnvFeeBps); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.FeeBps = bps
		}
	}
	if v := os.Getenv(EnvMinProfitBps); v != "" {
		if bps, err := strconv.ParseUint(v, 10, 64); err == nil {
			c.MinProfitBps = bps
		}
	}
	if v := os.Getenv(EnvOwnerAddress); v != "" {
		c.OwnerHex = v
		c.owner = common.HexToAddress(v)
	}
}
