package money

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInvalidFormat = errors.New("money: invalid amount format")
	ErrTooPrecise    = errors.New("money: amount has more decimal places than the currency allows")
	ErrOutOfRange    = errors.New("money: amount out of range")
)

// ParseMinor 解析主單位字串 (例如 "105.50") 成最小單位整數
// exponent 是小數位數，新台幣分 / 美分為 2
func ParseMinor(s string, exponent int32) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrInvalidFormat
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidFormat, s)
	}
	return FromDecimal(d, exponent)
}

// FromDecimal 把 decimal 轉成最小單位
func FromDecimal(d decimal.Decimal, exponent int32) (int64, error) {
	scaled := d.Shift(exponent)
	if !scaled.Equal(scaled.Truncate(0)) {
		return 0, ErrTooPrecise
	}
	if scaled.GreaterThan(decimal.NewFromInt(math.MaxInt64)) || scaled.LessThan(decimal.NewFromInt(math.MinInt64)) {
		return 0, ErrOutOfRange
	}
	return scaled.IntPart(), nil
}

// FormatMinor 最小單位轉回主單位字串，固定 exponent 位小數
func FormatMinor(minor int64, exponent int32) string {
	return decimal.New(minor, -exponent).StringFixed(exponent)
}
