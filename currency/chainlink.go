package currency

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/openreq/openreq/request"
)

// chainlinkFiatDecimals is the decimal precision Chainlink aggregators use
// for fiat quotes.
const chainlinkFiatDecimals = 8

// PadAmountForChainlink scales an amount to match Chainlink's own decimal
// precision for the currency, so fiat request amounts compare against
// aggregator answers without precision loss.
func PadAmountForChainlink(amount string, def Definition) (string, error) {
	padding, err := chainlinkPaddingSize(def)
	if err != nil {
		return "", err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("malformed amount %q: %w", amount, err)
	}
	return d.Shift(int32(padding)).String(), nil
}

// UnpadAmountFromChainlink reverses PadAmountForChainlink.
func UnpadAmountFromChainlink(amount string, def Definition) (string, error) {
	padding, err := chainlinkPaddingSize(def)
	if err != nil {
		return "", err
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return "", fmt.Errorf("malformed amount %q: %w", amount, err)
	}
	return d.Shift(-int32(padding)).Truncate(0).String(), nil
}

func chainlinkPaddingSize(def Definition) (int, error) {
	switch def.Type {
	case request.CurrencyISO4217:
		padding := chainlinkFiatDecimals - int(def.Decimals)
		if padding < 0 {
			padding = 0
		}
		return padding, nil
	case request.CurrencyETH, request.CurrencyERC20:
		return 0, nil
	default:
		return 0, fmt.Errorf("unsupported currency type %q for a Chainlink conversion", def.Type)
	}
}
