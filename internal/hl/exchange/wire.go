package exchange

import (
	"errors"
	"fmt"
	"strings"
)

// NewLimitOrder builds an order wire from pre-formatted decimal strings.
// Price and size strings are produced by the quantization layer and must
// already be exact for the instrument's grid; this only rejects strings
// that are not canonical decimals at all.
func NewLimitOrder(asset int, isBuy bool, price, size string, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	if err := checkWireDecimal(price); err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	if err := checkWireDecimal(size); err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       size,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// checkWireDecimal rejects strings the exchange would bounce before any
// grid check: empty, signed, non-numeric, padded, or trailing-zero forms.
func checkWireDecimal(s string) error {
	if s == "" {
		return errors.New("empty decimal")
	}
	dot := -1
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c == '.' {
			if dot >= 0 {
				return fmt.Errorf("malformed decimal %q", s)
			}
			dot = i
			continue
		}
		if c < '0' || c > '9' {
			return fmt.Errorf("malformed decimal %q", s)
		}
	}
	if dot == 0 || dot == len(s)-1 {
		return fmt.Errorf("malformed decimal %q", s)
	}
	if len(s) > 1 && s[0] == '0' && dot != 1 {
		return fmt.Errorf("padded decimal %q", s)
	}
	if dot >= 0 && strings.HasSuffix(s, "0") {
		return fmt.Errorf("trailing zeros in %q", s)
	}
	return nil
}
