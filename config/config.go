// Package config loads the TOML deployment configuration shared by
// basketfund processes: protocol addresses, fee policy defaults and
// telemetry endpoints.
package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"
)

const maxFeeBps = 10_000

// Config is the top-level deployment configuration.
type Config struct {
	Environment   string    `toml:"Environment"`
	WrappedNative string    `toml:"WrappedNative"`
	FeeRecipient  string    `toml:"FeeRecipient"`
	IssueFeeBps   uint64    `toml:"IssueFeeBps"`
	RedeemFeeBps  uint64    `toml:"RedeemFeeBps"`
	Telemetry     Telemetry `toml:"Telemetry"`
}

// Telemetry configures the OTLP exporters.
type Telemetry struct {
	Endpoint string `toml:"Endpoint"`
	Insecure bool   `toml:"Insecure"`
	Metrics  bool   `toml:"Metrics"`
	Traces   bool   `toml:"Traces"`
}

// Load reads and validates the configuration at path.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks address formats and fee bounds.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.WrappedNative) == "" {
		return fmt.Errorf("config: WrappedNative address required")
	}
	if !common.IsHexAddress(c.WrappedNative) {
		return fmt.Errorf("config: WrappedNative %q is not a hex address", c.WrappedNative)
	}
	if c.FeeRecipient != "" && !common.IsHexAddress(c.FeeRecipient) {
		return fmt.Errorf("config: FeeRecipient %q is not a hex address", c.FeeRecipient)
	}
	if c.IssueFeeBps > maxFeeBps {
		return fmt.Errorf("config: IssueFeeBps %d exceeds 100%%", c.IssueFeeBps)
	}
	if c.RedeemFeeBps > maxFeeBps {
		return fmt.Errorf("config: RedeemFeeBps %d exceeds 100%%", c.RedeemFeeBps)
	}
	return nil
}

// WrappedNativeAddress returns the parsed wrapped-native token address.
func (c *Config) WrappedNativeAddress() common.Address {
	return common.HexToAddress(c.WrappedNative)
}

// FeeRecipientAddress returns the parsed fee recipient, zero when unset.
func (c *Config) FeeRecipientAddress() common.Address {
	if c.FeeRecipient == "" {
		return common.Address{}
	}
	return common.HexToAddress(c.FeeRecipient)
}
