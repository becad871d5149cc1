// Package config loads the ammd daemon configuration from YAML, with overrides
// from a .env file and the process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math/big"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the YAML file.
const (
	EnvLogLevel      = "AMMD_LOG_LEVEL"
	EnvOwner         = "AMMD_OWNER"
	EnvRPCListen     = "AMMD_RPC_LISTEN"
	EnvJournalDriver = "AMMD_JOURNAL_DRIVER"
	EnvJournalDSN    = "AMMD_JOURNAL_DSN"
	EnvJournalOff    = "AMMD_JOURNAL_DISABLED"
)

type Config struct {
	LogLevel slog.Level `yaml:"logLevel"`

	// Owner administers the access registry.
	Owner common.Address `yaml:"owner"`
	// AccessAddress and Factory identify the access registry and the pool
	// registry as log emitters. Factory also salts pool addresses.
	AccessAddress common.Address `yaml:"accessAddress"`
	Factory       common.Address `yaml:"factory"`

	Whitelist []common.Address `yaml:"whitelist"`
	Balances  []Balance        `yaml:"balances"`
	Pools     []Pool           `yaml:"pools"`

	RPC     RPC     `yaml:"rpc"`
	Journal Journal `yaml:"journal"`
}

// Balance funds a holder in the in-memory ledger at startup.
type Balance struct {
	Token  common.Address `yaml:"token"`
	Holder common.Address `yaml:"holder"`
	Amount *big.Int       `yaml:"amount"`
}

// Pool is seeded through the router at startup. Provider must be whitelisted
// and funded.
type Pool struct {
	TokenA   common.Address `yaml:"tokenA"`
	TokenB   common.Address `yaml:"tokenB"`
	AmountA  *big.Int       `yaml:"amountA"`
	AmountB  *big.Int       `yaml:"amountB"`
	Provider common.Address `yaml:"provider"`
}

type RPC struct {
	ListenAddr  string   `yaml:"listenAddr"`
	CORSOrigins []string `yaml:"corsOrigins"`
	WSOrigins   []string `yaml:"wsOrigins"`
}

type Journal struct {
	Disabled bool   `yaml:"disabled"`
	Driver   string `yaml:"driver"`
	DSN      string `yaml:"dsn"`
}

// Default returns the configuration used for unset fields.
func Default() *Config {
	return &Config{
		LogLevel: slog.LevelInfo,
		RPC: RPC{
			ListenAddr:  "127.0.0.1:8545",
			CORSOrigins: []string{"*"},
			WSOrigins:   []string{"*"},
		},
		Journal: Journal{
			Driver: "sqlite3",
			DSN:    "ammd.db",
		},
	}
}

// LoadConfig reads path over the defaults, loads envFile into the environment
// when it exists, applies environment overrides and validates the result.
func LoadConfig(path, envFile string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file %s: %w", envFile, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := os.LookupEnv(EnvLogLevel); ok {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("config: %s: %w", EnvLogLevel, err)
		}
	}
	if v, ok := os.LookupEnv(EnvOwner); ok {
		if !common.IsHexAddress(v) {
			return fmt.Errorf("config: %s is not an address: %q", EnvOwner, v)
		}
		c.Owner = common.HexToAddress(v)
	}
	if v, ok := os.LookupEnv(EnvRPCListen); ok {
		c.RPC.ListenAddr = v
	}
	if v, ok := os.LookupEnv(EnvJournalDriver); ok {
		c.Journal.Driver = v
	}
	if v, ok := os.LookupEnv(EnvJournalDSN); ok {
		c.Journal.DSN = v
	}
	if v, ok := os.LookupEnv(EnvJournalOff); ok {
		off, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("config: %s: %w", EnvJournalOff, err)
		}
		c.Journal.Disabled = off
	}
	return nil
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	zero := common.Address{}
	if c.Owner == zero {
		return errors.New("config: owner is required")
	}
	if c.Factory == zero {
		return errors.New("config: factory is required")
	}
	if c.RPC.ListenAddr == "" {
		return errors.New("config: rpc.listenAddr is required")
	}
	if !c.Journal.Disabled {
		if c.Journal.Driver != "sqlite3" && c.Journal.Driver != "postgres" {
			return fmt.Errorf("config: journal.driver must be sqlite3 or postgres, got %q", c.Journal.Driver)
		}
		if c.Journal.DSN == "" {
			return errors.New("config: journal.dsn is required")
		}
	}
	for i, addr := range c.Whitelist {
		if addr == zero {
			return fmt.Errorf("config: whitelist[%d] is the zero address", i)
		}
	}
	for i, b := range c.Balances {
		if b.Token == zero || b.Holder == zero {
			return fmt.Errorf("config: balances[%d] needs token and holder", i)
		}
		if b.Amount == nil || b.Amount.Sign() <= 0 {
			return fmt.Errorf("config: balances[%d].amount must be positive", i)
		}
	}
	for i, p := range c.Pools {
		if p.TokenA == zero || p.TokenB == zero || p.TokenA == p.TokenB {
			return fmt.Errorf("config: pools[%d] needs two distinct tokens", i)
		}
		if p.Provider == zero {
			return fmt.Errorf("config: pools[%d].provider is required", i)
		}
		if p.AmountA == nil || p.AmountA.Sign() <= 0 || p.AmountB == nil || p.AmountB.Sign() <= 0 {
			return fmt.Errorf("config: pools[%d] amounts must be positive", i)
		}
	}
	return nil
}
