// Package units holds the 256-bit amount helpers used by the shadow model.
//
// Amounts are *uint256.Int values treated as immutable: every helper returns a freshly
// allocated result and never writes into its operands, and a nil operand reads as zero.
// That lets maps of amounts hand out their values without defensive copies.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"
)

const (
	// CoinDecimals is the number of decimals of the native coin.
	CoinDecimals = 18
	// SatsPerBtc is the number of satoshis in a bitcoin.
	SatsPerBtc = 100_000_000
)

var coin = new(uint256.Int).Exp(uint256.NewInt(10), uint256.NewInt(CoinDecimals))

func New(v uint64) *uint256.Int {
	return uint256.NewInt(v)
}

func Zero() *uint256.Int {
	return new(uint256.Int)
}

// Coins converts whole coins into the smallest unit.
func Coins(n uint64) *uint256.Int {
	return new(uint256.Int).Mul(uint256.NewInt(n), coin)
}

func val(a *uint256.Int) *uint256.Int {
	if a == nil {
		return new(uint256.Int)
	}
	return a
}

func Clone(a *uint256.Int) *uint256.Int {
	return new(uint256.Int).Set(val(a))
}

func IsZero(a *uint256.Int) bool {
	return a == nil || a.IsZero()
}

func Add(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Add(val(a), val(b))
}

// Sub returns a-b and panics when b > a. Callers check bounds before subtracting, so an
// underflow here is always a bookkeeping bug in the model.
func Sub(a, b *uint256.Int) *uint256.Int {
	z, underflow := new(uint256.Int).SubOverflow(val(a), val(b))
	if underflow {
		panic(fmt.Sprintf("amount underflow: %s - %s", val(a).Dec(), val(b).Dec()))
	}
	return z
}

// SubSat returns a-b floored at zero.
func SubSat(a, b *uint256.Int) *uint256.Int {
	if Lt(a, b) {
		return new(uint256.Int)
	}
	return new(uint256.Int).Sub(val(a), val(b))
}

func Mul(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Mul(val(a), val(b))
}

// Div is integer division; division by zero yields zero like the EVM.
func Div(a, b *uint256.Int) *uint256.Int {
	return new(uint256.Int).Div(val(a), val(b))
}

// MulDiv returns a*b/c using a 512-bit intermediate product.
func MulDiv(a, b, c *uint256.Int) *uint256.Int {
	if IsZero(c) {
		return new(uint256.Int)
	}
	z, _ := new(uint256.Int).MulDivOverflow(val(a), val(b), val(c))
	return z
}

func MulU64(a *uint256.Int, b uint64) *uint256.Int {
	return Mul(a, uint256.NewInt(b))
}

func DivU64(a *uint256.Int, b uint64) *uint256.Int {
	return Div(a, uint256.NewInt(b))
}

func Min(a, b *uint256.Int) *uint256.Int {
	if Lt(a, b) {
		return Clone(a)
	}
	return Clone(b)
}

func Cmp(a, b *uint256.Int) int {
	return val(a).Cmp(val(b))
}

func Lt(a, b *uint256.Int) bool {
	return val(a).Lt(val(b))
}

func Gt(a, b *uint256.Int) bool {
	return val(a).Gt(val(b))
}

func Eq(a, b *uint256.Int) bool {
	return val(a).Eq(val(b))
}

// FromBig converts a chain-returned integer. Negative or oversized values are errors.
func FromBig(b *big.Int) (*uint256.Int, error) {
	if b == nil {
		return new(uint256.Int), nil
	}
	if b.Sign() < 0 {
		return nil, fmt.Errorf("negative amount %s", b)
	}
	z, overflow := uint256.FromBig(b)
	if overflow {
		return nil, fmt.Errorf("amount %s overflows 256 bits", b)
	}
	return z, nil
}

func ToBig(a *uint256.Int) *big.Int {
	return val(a).ToBig()
}

// Diff returns a-b as a signed integer.
func Diff(a, b *uint256.Int) *big.Int {
	return new(big.Int).Sub(ToBig(a), ToBig(b))
}

// FormattedCoins renders an amount in whole coins, trimming trailing zeros.
func FormattedCoins(a *uint256.Int) string {
	whole, frac := new(uint256.Int).DivMod(val(a), coin, new(uint256.Int))
	if frac.IsZero() {
		return whole.Dec()
	}
	fracStr := fmt.Sprintf("%018s", frac.Dec())
	return whole.Dec() + "." + strings.TrimRight(fracStr, "0")
}
