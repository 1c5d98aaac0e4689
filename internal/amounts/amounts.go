// Package amounts converts between human token units and integer base
// units. All arithmetic and storage stay in base units; decimals only touch
// the API edge.
package amounts

import (
	"errors"
	"math/big"

	"github.com/shopspring/decimal"
)

var (
	ErrBadAmount      = errors.New("amount must be a positive number")
	ErrTooMuchScale   = errors.New("amount has more precision than the token supports")
	ErrNotBaseInteger = errors.New("base-unit amount must be a positive integer")
)

// ParseBaseUnits parses a positive integer base-unit amount.
func ParseBaseUnits(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok || v.Sign() <= 0 {
		return nil, ErrNotBaseInteger
	}
	return v, nil
}

// ToBaseUnits converts a human-unit decimal string ("1.5") to base units
// under the token's precision.
func ToBaseUnits(s string, decimals int) (*big.Int, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return nil, ErrBadAmount
	}
	if d.Sign() <= 0 {
		return nil, ErrBadAmount
	}
	shifted := d.Shift(int32(decimals))
	if !shifted.IsInteger() {
		return nil, ErrTooMuchScale
	}
	return shifted.BigInt(), nil
}

// FromBaseUnits renders base units in human units ("150000000", 8 -> "1.5").
func FromBaseUnits(v *big.Int, decimals int) string {
	return decimal.NewFromBigInt(v, -int32(decimals)).String()
}
