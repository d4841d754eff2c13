package currency

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openreq/openreq/request"
)

const testCurrenciesYAML = `
currencies:
  - symbol: "USD"
    type: "ISO4217"
    decimals: 2
  - name: "USD Coin"
    symbol: "USDC"
    type: "ERC20"
    network: "mainnet"
    address: "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48"
    decimals: 6
  - symbol: "ETH"
    type: "ETH"
    network: "mainnet"
    decimals: 18
  - symbol: "BTC"
    type: "BTC"
    network: "mainnet"
    decimals: 8
`

func writeCurrenciesFile(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, currenciesFileName), []byte(content), 0o644))
	return dir
}

func TestLoadTable(t *testing.T) {
	dir := writeCurrenciesFile(t, testCurrenciesYAML)

	table, err := LoadTable(dir)
	require.NoError(t, err)
	require.Len(t, table.Currencies, 4)

	// Name defaults to the symbol when omitted.
	assert.Equal(t, "USD", table.Currencies[0].Name)
	assert.Equal(t, "USD Coin", table.Currencies[1].Name)
}

func TestLoadTable_MissingFile(t *testing.T) {
	_, err := LoadTable(t.TempDir())
	require.Error(t, err)
}

func TestLoadTable_Validation(t *testing.T) {
	cases := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{
			name:    "missing symbol",
			yaml:    "currencies:\n  - type: \"ETH\"\n    decimals: 18\n",
			wantErr: "missing currency symbol",
		},
		{
			name:    "erc20 without address",
			yaml:    "currencies:\n  - symbol: \"DAI\"\n    type: \"ERC20\"\n    network: \"mainnet\"\n    decimals: 18\n",
			wantErr: "missing DAI token address",
		},
		{
			name:    "erc20 with malformed address",
			yaml:    "currencies:\n  - symbol: \"DAI\"\n    type: \"ERC20\"\n    network: \"mainnet\"\n    address: \"not-hex\"\n    decimals: 18\n",
			wantErr: "invalid DAI token address",
		},
		{
			name:    "unknown type",
			yaml:    "currencies:\n  - symbol: \"XRP\"\n    type: \"XRPL\"\n    decimals: 6\n",
			wantErr: "unknown currency type",
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			dir := writeCurrenciesFile(t, tc.yaml)
			_, err := LoadTable(dir)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestTable_Find(t *testing.T) {
	dir := writeCurrenciesFile(t, testCurrenciesYAML)
	table, err := LoadTable(dir)
	require.NoError(t, err)

	t.Run("fiat by symbol", func(t *testing.T) {
		def, ok := table.Find(request.CurrencyISO4217, "usd", "")
		require.True(t, ok)
		assert.Equal(t, uint8(2), def.Decimals)
	})

	t.Run("erc20 by address case-insensitive", func(t *testing.T) {
		def, ok := table.Find(request.CurrencyERC20, "0xa0b86991c6218b36c1d19d4a2e9eb0ce3606eb48", "mainnet")
		require.True(t, ok)
		assert.Equal(t, "USDC", def.Symbol)
	})

	t.Run("network mismatch", func(t *testing.T) {
		_, ok := table.Find(request.CurrencyERC20, "0xA0b86991c6218b36c1d19D4a2e9Eb0cE3606eB48", "matic")
		assert.False(t, ok)
	})

	t.Run("unknown symbol", func(t *testing.T) {
		_, ok := table.Find(request.CurrencyISO4217, "EUR", "")
		assert.False(t, ok)
	})
}

func TestChainlinkPadding(t *testing.T) {
	usd := Definition{Symbol: "USD", Type: request.CurrencyISO4217, Decimals: 2}
	eth := Definition{Symbol: "ETH", Type: request.CurrencyETH, Decimals: 18}

	t.Run("pads fiat to aggregator precision", func(t *testing.T) {
		padded, err := PadAmountForChainlink("100", usd)
		require.NoError(t, err)
		assert.Equal(t, "100000000", padded)
	})

	t.Run("unpad reverses pad", func(t *testing.T) {
		unpadded, err := UnpadAmountFromChainlink("100000000", usd)
		require.NoError(t, err)
		assert.Equal(t, "100", unpadded)
	})

	t.Run("crypto amounts pass through", func(t *testing.T) {
		padded, err := PadAmountForChainlink("1000000000000000000", eth)
		require.NoError(t, err)
		assert.Equal(t, "1000000000000000000", padded)
	})

	t.Run("malformed amount", func(t *testing.T) {
		_, err := PadAmountForChainlink("abc", usd)
		require.Error(t, err)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := PadAmountForChainlink("1", Definition{Symbol: "BTC", Type: request.CurrencyBTC, Decimals: 8})
		require.Error(t, err)
	})
}
