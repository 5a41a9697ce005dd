package exchange

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// LimitOrderWire builds the wire form of a limit order. Price and size
// are rendered exactly the way the venue hashes them; an unrepresentable
// float is an error rather than a silent rounding.
func LimitOrderWire(asset int, isBuy bool, size, limit float64, reduceOnly bool, tif Tif, cloid string) (OrderWire, error) {
	if tif == "" {
		return OrderWire{}, errors.New("tif is required")
	}
	price, err := floatToWire(limit)
	if err != nil {
		return OrderWire{}, fmt.Errorf("limit price: %w", err)
	}
	sizeWire, err := floatToWire(size)
	if err != nil {
		return OrderWire{}, fmt.Errorf("size: %w", err)
	}
	return OrderWire{
		Asset:      asset,
		IsBuy:      isBuy,
		Price:      price,
		Size:       sizeWire,
		ReduceOnly: reduceOnly,
		OrderType:  OrderTypeWire{Limit: &LimitOrderType{Tif: tif}},
		Cloid:      cloid,
	}, nil
}

// floatToWire renders x with at most 8 decimals, trimming trailing
// zeros, matching the venue's canonical number format.
func floatToWire(x float64) (string, error) {
	fixed := strconv.FormatFloat(x, 'f', 8, 64)
	parsed, err := strconv.ParseFloat(fixed, 64)
	if err != nil {
		return "", err
	}
	if math.Abs(parsed-x) >= 1e-12 {
		return "", fmt.Errorf("%v does not fit 8 decimals", x)
	}
	trimmed := strings.TrimRight(fixed, "0")
	trimmed = strings.TrimRight(trimmed, ".")
	if trimmed == "" || trimmed == "-0" {
		trimmed = "0"
	}
	return trimmed, nil
}
