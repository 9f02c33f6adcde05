package display

import (
	"math/big"
	"strings"
)

// DefaultWidth is the separator width used when the terminal width is unknown.
const DefaultWidth = 100

var (
	weiPerEther = new(big.Rat).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
	weiPerGwei  = new(big.Rat).SetInt(big.NewInt(1_000_000_000))
)

// FormatEther renders wei as a decimal ether amount with exactly decimals
// fraction digits, rounding half away from zero.
func FormatEther(wei *big.Int, decimals int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	r := new(big.Rat).SetInt(wei)
	return r.Quo(r, weiPerEther).FloatString(decimals)
}

// FormatGwei renders wei in gwei without trailing zeros.
func FormatGwei(wei *big.Int) string {
	if wei == nil {
		wei = new(big.Int)
	}
	r := new(big.Rat).SetInt(wei)
	s := r.Quo(r, weiPerGwei).FloatString(9)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}

// Separator returns a dashed rule of the given width.
func Separator(width int) string {
	if width <= 0 {
		width = DefaultWidth
	}
	return strings.Repeat("-", width)
}

// Flames renders n flame glyphs.
func Flames(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("🔥", n)
}
