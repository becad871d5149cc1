package config

import (
	"log/slog"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
logLevel: debug
owner: "0x0000000000000000000000000000000000000a01"
factory: "0x00000000000000000000000000000000000fac70"
accessAddress: "0x00000000000000000000000000000000000acc01"
whitelist:
  - "0x0000000000000000000000000000000000000b01"
balances:
  - token: "0x1000000000000000000000000000000000000001"
    holder: "0x0000000000000000000000000000000000000b01"
    amount: 1000000000000000000000000
pools:
  - tokenA: "0x1000000000000000000000000000000000000001"
    tokenB: "0x2000000000000000000000000000000000000002"
    amountA: "1000000000000000000000"
    amountB: 0x6c6b935b8bbd400000
    provider: "0x0000000000000000000000000000000000000b01"
rpc:
  listenAddr: ":9545"
journal:
  driver: postgres
  dsn: "postgres://amm@localhost/amm?sslmode=disable"
`

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfig(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleConfig)

	cfg, err := LoadConfig(path, "")
	require.NoError(t, err)

	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.Equal(t, common.HexToAddress("0x0a01"), cfg.Owner)
	assert.Equal(t, common.HexToAddress("0x0fac70"), cfg.Factory)
	assert.Equal(t, []common.Address{common.HexToAddress("0x0b01")}, cfg.Whitelist)

	require.Len(t, cfg.Balances, 1)
	thousandEther, _ := new(big.Int).SetString("1000000000000000000000", 10)
	millionEther := new(big.Int).Mul(thousandEther, big.NewInt(1000))
	assert.Equal(t, millionEther, cfg.Balances[0].Amount)

	require.Len(t, cfg.Pools, 1)
	assert.Equal(t, thousandEther, cfg.Pools[0].AmountA)
	assert.Equal(t, new(big.Int).Mul(thousandEther, big.NewInt(2)), cfg.Pools[0].AmountB)

	assert.Equal(t, ":9545", cfg.RPC.ListenAddr)
	// defaults survive for unset keys
	assert.Equal(t, []string{"*"}, cfg.RPC.CORSOrigins)
	assert.Equal(t, "postgres", cfg.Journal.Driver)
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleConfig)

	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvJournalDriver, "sqlite3")
	t.Setenv(EnvJournalDSN, ":memory:")

	_, present := os.LookupEnv(EnvRPCListen)
	require.False(t, present)
	t.Cleanup(func() { os.Unsetenv(EnvRPCListen) })
	envFile := writeFile(t, ".env", EnvRPCListen+"=0.0.0.0:8546\n")

	cfg, err := LoadConfig(path, envFile)
	require.NoError(t, err)
	assert.Equal(t, slog.LevelWarn, cfg.LogLevel)
	assert.Equal(t, "sqlite3", cfg.Journal.Driver)
	assert.Equal(t, ":memory:", cfg.Journal.DSN)
	assert.Equal(t, "0.0.0.0:8546", cfg.RPC.ListenAddr)
}

func TestLoadConfig_MissingEnvFileIsIgnored(t *testing.T) {
	path := writeFile(t, "config.yaml", sampleConfig)
	_, err := LoadConfig(path, filepath.Join(t.TempDir(), "absent.env"))
	require.NoError(t, err)
}

func TestLoadConfig_Errors(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"), "")
	require.Error(t, err)

	path := writeFile(t, "config.yaml", "owner: [not, an, address]")
	_, err = LoadConfig(path, "")
	require.Error(t, err)

	t.Setenv(EnvOwner, "nope")
	path = writeFile(t, "config.yaml", sampleConfig)
	_, err = LoadConfig(path, "")
	require.ErrorContains(t, err, EnvOwner)
}

func TestConfig_Validate(t *testing.T) {
	valid := func() *Config {
		cfg := Default()
		cfg.Owner = common.HexToAddress("0x0a01")
		cfg.Factory = common.HexToAddress("0x0fac70")
		return cfg
	}
	tokenA := common.HexToAddress("0x1000000000000000000000000000000000000001")
	tokenB := common.HexToAddress("0x2000000000000000000000000000000000000002")
	provider := common.HexToAddress("0x0b01")

	testCases := []struct {
		name        string
		mutate      func(c *Config)
		expectedErr string
	}{
		{"valid", func(c *Config) {}, ""},
		{"missing owner", func(c *Config) { c.Owner = common.Address{} }, "owner is required"},
		{"missing factory", func(c *Config) { c.Factory = common.Address{} }, "factory is required"},
		{"missing listen address", func(c *Config) { c.RPC.ListenAddr = "" }, "listenAddr"},
		{"unknown journal driver", func(c *Config) { c.Journal.Driver = "mysql" }, "journal.driver"},
		{"disabled journal skips checks", func(c *Config) { c.Journal = Journal{Disabled: true} }, ""},
		{"zero whitelist entry", func(c *Config) { c.Whitelist = []common.Address{{}} }, "whitelist[0]"},
		{"non-positive balance", func(c *Config) {
			c.Balances = []Balance{{Token: tokenA, Holder: provider, Amount: big.NewInt(0)}}
		}, "balances[0].amount"},
		{"identical pool tokens", func(c *Config) {
			c.Pools = []Pool{{TokenA: tokenA, TokenB: tokenA, AmountA: big.NewInt(1), AmountB: big.NewInt(1), Provider: provider}}
		}, "two distinct tokens"},
		{"missing pool amount", func(c *Config) {
			c.Pools = []Pool{{TokenA: tokenA, TokenB: tokenB, AmountA: big.NewInt(1), Provider: provider}}
		}, "amounts must be positive"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(cfg)
			err := cfg.validate()
			if tc.expectedErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}
