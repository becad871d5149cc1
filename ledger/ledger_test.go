package ledger

import (
	"math/big"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	asset = common.HexToAddress("0xa55e7")
	alice = common.HexToAddress("0xa11ce")
	bob   = common.HexToAddress("0xb0b")
)

func TestMemory_Transfer(t *testing.T) {
	testCases := []struct {
		name          string
		amount        *big.Int
		from          common.Address
		to            common.Address
		expectedErr   error
		expectedAlice int64
		expectedBob   int64
	}{
		{"full transfer", big.NewInt(100), alice, bob, nil, 0, 100},
		{"partial transfer", big.NewInt(40), alice, bob, nil, 60, 40},
		{"zero amount is a no-op", big.NewInt(0), alice, bob, nil, 100, 0},
		{"self transfer is a no-op", big.NewInt(100), alice, alice, nil, 100, 0},
		{"overdraw", big.NewInt(101), alice, bob, ErrInsufficientBalance, 100, 0},
		{"empty sender", big.NewInt(1), bob, alice, ErrInsufficientBalance, 100, 0},
		{"negative amount", big.NewInt(-1), alice, bob, ErrInvalidAmount, 100, 0},
		{"nil amount", nil, alice, bob, ErrInvalidAmount, 100, 0},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewMemory()
			require.NoError(t, m.Mint(asset, alice, big.NewInt(100)))

			err := m.Transfer(asset, tc.from, tc.to, tc.amount)
			if tc.expectedErr != nil {
				require.ErrorIs(t, err, tc.expectedErr)
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, big.NewInt(tc.expectedAlice), m.BalanceOf(asset, alice))
			assert.Equal(t, big.NewInt(tc.expectedBob), m.BalanceOf(asset, bob))
		})
	}
}

func TestMemory_BalanceOfReturnsCopy(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Mint(asset, alice, big.NewInt(5)))

	b := m.BalanceOf(asset, alice)
	b.SetInt64(1_000)
	assert.Equal(t, big.NewInt(5), m.BalanceOf(asset, alice))
	assert.Zero(t, m.BalanceOf(common.HexToAddress("0xdead"), alice).Sign())
}

func TestMemory_ConcurrentTransfersConserveSupply(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Mint(asset, alice, big.NewInt(1_000)))
	require.NoError(t, m.Mint(asset, bob, big.NewInt(1_000)))

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = m.Transfer(asset, alice, bob, big.NewInt(7))
		}()
		go func() {
			defer wg.Done()
			_ = m.Transfer(asset, bob, alice, big.NewInt(3))
		}()
	}
	wg.Wait()

	total := new(big.Int).Add(m.BalanceOf(asset, alice), m.BalanceOf(asset, bob))
	assert.Equal(t, big.NewInt(2_000), total)
}
