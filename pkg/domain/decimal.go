// Package domain contains the value objects the client decodes contract state into:
// 18-digit fixed-point amounts, troves, stability deposits and fee schedules.
package domain

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"
)

// Decimals is the number of fractional digits of a Decimal.
const Decimals = 18

var (
	digits   = uint256.NewInt(1_000_000_000_000_000_000)
	maxUint  = new(uint256.Int).SetAllOne()
	bigOne18 = decimal.New(1, Decimals)
)

// ErrNegativeDecimal is returned when parsing a value below zero.
var ErrNegativeDecimal = errors.New("decimal must be non-negative")

// Decimal is an unsigned fixed-point number with 18 fractional digits, matching the
// contracts' uint256 wad representation. The zero value is 0. Decimal is immutable.
type Decimal struct {
	raw uint256.Int
}

var (
	Zero     = Decimal{}
	One      = NewDecimal(1)
	Infinity = Decimal{raw: *maxUint}
)

// NewDecimal returns n as a Decimal.
func NewDecimal(n uint64) Decimal {
	var d Decimal
	d.raw.Mul(uint256.NewInt(n), digits)
	return d
}

// DecimalFromBigInt interprets raw as a wad (value scaled by 1e18). It panics if raw
// is negative or does not fit in 256 bits, which a uint256 contract return never does.
func DecimalFromBigInt(raw *big.Int) Decimal {
	var d Decimal
	d.raw.Set(uint256.MustFromBig(raw))
	return d
}

// ParseDecimal parses a decimal string such as "1.5". Digits beyond the 18th
// fractional place are truncated.
func ParseDecimal(s string) (Decimal, error) {
	parsed, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("bad decimal format %q: %w", s, err)
	}
	if parsed.IsNegative() {
		return Zero, fmt.Errorf("%w: %q", ErrNegativeDecimal, s)
	}
	raw := parsed.Mul(bigOne18).BigInt()
	v, overflow := uint256.FromBig(raw)
	if overflow {
		return Zero, fmt.Errorf("decimal %q overflows 256 bits", s)
	}
	return Decimal{raw: *v}, nil
}

// MustParseDecimal is ParseDecimal for constants; it panics on error.
func MustParseDecimal(s string) Decimal {
	d, err := ParseDecimal(s)
	if err != nil {
		panic(err)
	}
	return d
}

// BigInt returns the raw wad value.
func (d Decimal) BigInt() *big.Int {
	return d.raw.ToBig()
}

// Hex returns the raw wad value as 0x-prefixed hex.
func (d Decimal) Hex() string {
	return d.raw.Hex()
}

// String formats d without trailing zeros, e.g. "1.5". Infinity formats as "∞".
func (d Decimal) String() string {
	if d.IsInfinite() {
		return "∞"
	}
	return decimal.NewFromBigInt(d.raw.ToBig(), -Decimals).String()
}

// Prettify formats d with a fixed number of fractional digits.
func (d Decimal) Prettify(places int32) string {
	if d.IsInfinite() {
		return "∞"
	}
	return decimal.NewFromBigInt(d.raw.ToBig(), -Decimals).StringFixed(places)
}

// MarshalText implements encoding.TextMarshaler.
func (d Decimal) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Decimal) UnmarshalText(text []byte) error {
	parsed, err := ParseDecimal(string(text))
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

func (d Decimal) IsZero() bool     { return d.raw.IsZero() }
func (d Decimal) IsInfinite() bool { return d.raw.Eq(maxUint) }

// Cmp returns -1, 0 or +1.
func (d Decimal) Cmp(o Decimal) int { return d.raw.Cmp(&o.raw) }

func (d Decimal) Eq(o Decimal) bool  { return d.raw.Eq(&o.raw) }
func (d Decimal) Lt(o Decimal) bool  { return d.raw.Lt(&o.raw) }
func (d Decimal) Gt(o Decimal) bool  { return d.raw.Gt(&o.raw) }
func (d Decimal) Lte(o Decimal) bool { return !d.Gt(o) }
func (d Decimal) Gte(o Decimal) bool { return !d.Lt(o) }

// Add returns d+o, saturating at Infinity.
func (d Decimal) Add(o Decimal) Decimal {
	var r Decimal
	if _, overflow := r.raw.AddOverflow(&d.raw, &o.raw); overflow {
		return Infinity
	}
	return r
}

// Sub returns d-o, or zero when o > d.
func (d Decimal) Sub(o Decimal) Decimal {
	if d.Lt(o) {
		return Zero
	}
	var r Decimal
	r.raw.Sub(&d.raw, &o.raw)
	return r
}

// Mul returns d*o truncated to 18 digits, saturating at Infinity.
func (d Decimal) Mul(o Decimal) Decimal {
	var r Decimal
	if _, overflow := r.raw.MulDivOverflow(&d.raw, &o.raw, digits); overflow {
		return Infinity
	}
	return r
}

// Div returns d/o truncated to 18 digits. Dividing by zero yields Infinity.
func (d Decimal) Div(o Decimal) Decimal {
	if o.IsZero() {
		return Infinity
	}
	var r Decimal
	if _, overflow := r.raw.MulDivOverflow(&d.raw, digits, &o.raw); overflow {
		return Infinity
	}
	return r
}

// MulUint64 returns d*n.
func (d Decimal) MulUint64(n uint64) Decimal {
	var r Decimal
	if _, overflow := r.raw.MulOverflow(&d.raw, uint256.NewInt(n)); overflow {
		return Infinity
	}
	return r
}

// Pow returns d^n using binary exponentiation with 18-digit truncation at every step.
func (d Decimal) Pow(n uint64) Decimal {
	result := One
	base := d
	for n > 0 {
		if n&1 == 1 {
			result = result.Mul(base)
		}
		n >>= 1
		if n > 0 {
			base = base.Mul(base)
		}
	}
	return result
}

// MinDecimal returns the smaller of a and b.
func MinDecimal(a, b Decimal) Decimal {
	if a.Lt(b) {
		return a
	}
	return b
}

// MaxDecimal returns the larger of a and b.
func MaxDecimal(a, b Decimal) Decimal {
	if a.Gt(b) {
		return a
	}
	return b
}
