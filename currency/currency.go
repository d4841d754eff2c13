// Package currency holds the currency metadata table: decimals and
// network-specific identifiers used by detection and amount conversions.
package currency

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/openreq/openreq/request"
)

const currenciesFileName = "currencies.yaml"

// Definition describes one currency the protocol can denominate requests in.
type Definition struct {
	// Name is the human-readable name (e.g. "USD Coin").
	// If empty, it inherits the Symbol value during validation.
	Name string `yaml:"name"`
	// Symbol is the ticker symbol (e.g. "USDC"). Required.
	Symbol string `yaml:"symbol"`
	// Type is the currency family: ISO4217, ETH, ERC20 or BTC.
	Type request.CurrencyType `yaml:"type"`
	// Network is the chain the currency lives on, empty for fiat.
	Network string `yaml:"network,omitempty"`
	// Address is the token contract address, required for ERC20 entries.
	Address string `yaml:"address,omitempty"`
	// Decimals is the number of decimal places.
	Decimals uint8 `yaml:"decimals"`
}

// Table is the loaded currency configuration.
type Table struct {
	Currencies []Definition `yaml:"currencies"`
}

// LoadTable loads and validates the currency table from
// <configDirPath>/currencies.yaml.
func LoadTable(configDirPath string) (Table, error) {
	path := filepath.Join(configDirPath, currenciesFileName)
	f, err := os.Open(path)
	if err != nil {
		return Table{}, err
	}
	defer f.Close()

	var table Table
	if err := yaml.NewDecoder(f).Decode(&table); err != nil {
		return Table{}, err
	}
	if err := table.verifyVariables(); err != nil {
		return Table{}, err
	}
	return table, nil
}

// verifyVariables validates the table and applies defaults.
func (t *Table) verifyVariables() error {
	for i := range t.Currencies {
		def := &t.Currencies[i]
		if def.Symbol == "" {
			return fmt.Errorf("missing currency symbol for currency[%d]", i)
		}
		if def.Name == "" {
			def.Name = def.Symbol
		}
		switch def.Type {
		case request.CurrencyISO4217, request.CurrencyETH, request.CurrencyBTC:
		case request.CurrencyERC20:
			if def.Address == "" {
				return fmt.Errorf("missing %s token address on network %q", def.Symbol, def.Network)
			}
			if !common.IsHexAddress(def.Address) {
				return fmt.Errorf("invalid %s token address %q on network %q", def.Symbol, def.Address, def.Network)
			}
		default:
			return fmt.Errorf("unknown currency type %q for %s", def.Type, def.Symbol)
		}
	}
	return nil
}

// Find resolves a currency by type and value. For ERC20 the value is the
// token contract address, otherwise the symbol. Comparison is
// case-insensitive.
func (t *Table) Find(currencyType request.CurrencyType, value, network string) (Definition, bool) {
	for _, def := range t.Currencies {
		if def.Type != currencyType {
			continue
		}
		if network != "" && def.Network != "" && !strings.EqualFold(def.Network, network) {
			continue
		}
		key := def.Symbol
		if currencyType == request.CurrencyERC20 {
			key = def.Address
		}
		if strings.EqualFold(key, value) {
			return def, true
		}
	}
	return Definition{}, false
}
