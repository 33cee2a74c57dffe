package core

// bignum.go implements the host's arbitrary-precision integer surface
// (§4.1). Values are clamped to the closed range [-M, +M] where
// M = 2^256 - 1; any operation that would produce a value outside that
// range fails with the bit-exact range message instead of silently
// wrapping, which is what distinguishes this from a bare math/big.Int.
//
// Grounded on original_source/contract/bignum_module.c: the exponentiation
// algorithm below (square-and-multiply with a bounds check after every
// squaring and every multiply) is a direct port of that file's Bpow.

import (
	"errors"
	"math/big"
	"strings"
)

// Bignum range errors. Message text is bit-exact per spec.md §6.
var (
	ErrBignumOverMax    = errors.New("bignum over max limit")
	ErrBignumUnderMin   = errors.New("bignum under min limit")
	ErrBignumDivZero    = errors.New("bignum divide by zero")
	ErrBignumNegative   = errors.New("bignum not allowed negative value")
	ErrBignumParse      = errors.New("bignum invalid number string")
	ErrBignumNoMemory   = errors.New("bignum not enough memory")
)

// bignumMax / bignumMin are the process-wide singletons for M and -M,
// initialised once at package load and never mutated thereafter (§9,
// "Global mutable state").
var (
	bignumMax = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))
	bignumMin = new(big.Int).Neg(bignumMax)
)

// BignumPowGasCharge is the fixed portion of the gas charge for pow.
// Nothing in the package references this constant; gas_table.go's
// GasBignumPow carries the same value.
const BignumPowGasCharge = 500

// Bignum is a reference-owned, range-clamped arbitrary-precision signed
// integer. The zero value is not valid; use NewBignum* constructors.
type Bignum struct {
	v *big.Int
}

// NewBignumInt constructs a Bignum from an int64.
func NewBignumInt(i int64) *Bignum { return &Bignum{v: big.NewInt(i)} }

// NewBignumString parses s as a decimal, hex (0x…) or binary (0b…) integer
// per the hardfork-gated radix rules: at hardfork >= 3 all radix prefixes
// are stripped (decimal-only parsing); at hardfork >= 4 leading zeros are
// stripped before parsing and octal interpretation never applies.
func NewBignumString(s string, hardfork int) (*Bignum, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrBignumParse
	}
	neg := false
	if s[0] == '-' {
		neg = true
		s = s[1:]
	} else if s[0] == '+' {
		s = s[1:]
	}

	base := 10
	if hardfork < 3 {
		switch {
		case strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X"):
			base = 16
			s = s[2:]
		case strings.HasPrefix(s, "0b") || strings.HasPrefix(s, "0B"):
			base = 2
			s = s[2:]
		}
	}
	if hardfork >= 4 {
		s = strings.TrimLeft(s, "0")
		if s == "" {
			s = "0"
		}
	}
	if s == "" {
		return nil, ErrBignumParse
	}

	n, ok := new(big.Int).SetString(s, base)
	if !ok {
		return nil, ErrBignumParse
	}
	if neg {
		n.Neg(n)
	}
	return clamp(n)
}

// clamp wraps n into a *Bignum, failing if it falls outside [-M, M].
func clamp(n *big.Int) (*Bignum, error) {
	if n.Cmp(bignumMax) > 0 {
		return nil, ErrBignumOverMax
	}
	if n.Cmp(bignumMin) < 0 {
		return nil, ErrBignumUnderMin
	}
	return &Bignum{v: n}, nil
}

func (b *Bignum) String() string { return b.v.String() }

// IsNeg, IsZero, IsPositive are the boundary predicates.
func (b *Bignum) IsNeg() bool      { return b.v.Sign() < 0 }
func (b *Bignum) IsZero() bool     { return b.v.Sign() == 0 }
func (b *Bignum) IsPositive() bool { return b.v.Sign() > 0 }

// Cmp compares two bignums the way big.Int.Cmp does.
func (b *Bignum) Cmp(o *Bignum) int { return b.v.Cmp(o.v) }

// ToByte returns the big-endian two's-complement-free byte encoding used by
// the frombyte/tobyte host calls: a sign byte followed by the magnitude.
func (b *Bignum) ToByte() []byte {
	mag := b.v.Bytes()
	sign := byte(0)
	if b.v.Sign() < 0 {
		sign = 1
	}
	return append([]byte{sign}, mag...)
}

// BignumFromByte reconstructs a Bignum from ToByte's encoding.
func BignumFromByte(data []byte) (*Bignum, error) {
	if len(data) == 0 {
		return nil, ErrBignumParse
	}
	mag := new(big.Int).SetBytes(data[1:])
	if data[0] == 1 {
		mag.Neg(mag)
	}
	return clamp(mag)
}

//---------------------------------------------------------------------
// Arithmetic
//---------------------------------------------------------------------

func (b *Bignum) Add(o *Bignum) (*Bignum, error) {
	return clamp(new(big.Int).Add(b.v, o.v))
}

func (b *Bignum) Sub(o *Bignum) (*Bignum, error) {
	return clamp(new(big.Int).Sub(b.v, o.v))
}

func (b *Bignum) Mul(o *Bignum) (*Bignum, error) {
	return clamp(new(big.Int).Mul(b.v, o.v))
}

func (b *Bignum) Div(o *Bignum) (*Bignum, error) {
	if o.IsZero() {
		return nil, ErrBignumDivZero
	}
	q, _ := new(big.Int).QuoRem(b.v, o.v, new(big.Int))
	return clamp(q)
}

func (b *Bignum) Mod(o *Bignum) (*Bignum, error) {
	if o.IsZero() {
		return nil, ErrBignumDivZero
	}
	_, r := new(big.Int).QuoRem(b.v, o.v, new(big.Int))
	return clamp(r)
}

// DivMod returns (quotient, remainder).
func (b *Bignum) DivMod(o *Bignum) (*Bignum, *Bignum, error) {
	if o.IsZero() {
		return nil, nil, ErrBignumDivZero
	}
	q, r := new(big.Int).QuoRem(b.v, o.v, new(big.Int))
	qb, err := clamp(q)
	if err != nil {
		return nil, nil, err
	}
	rb, err := clamp(r)
	if err != nil {
		return nil, nil, err
	}
	return qb, rb, nil
}

func (b *Bignum) Neg() (*Bignum, error) {
	return clamp(new(big.Int).Neg(b.v))
}

// Sqrt computes the integer square root of a non-negative bignum.
func (b *Bignum) Sqrt() (*Bignum, error) {
	if b.IsNeg() {
		return nil, ErrBignumNegative
	}
	return clamp(new(big.Int).Sqrt(b.v))
}

// Pow raises a to the b-th power (b >= 0) using square-and-multiply with a
// bounds check after every intermediate squaring and multiply, short
// circuiting when the base is 0, 1 or -1. This mirrors
// original_source/contract/bignum_module.c's Bpow exactly: a fresh,
// unbounded big.Int result would silently give a wrong answer whenever an
// intermediate product left [-M, M] even though the final value might
// re-enter range, which the original implementation treats as an error
// regardless of whether the final result would fit.
func (a *Bignum) Pow(exp *Bignum) (*Bignum, error) {
	if exp.IsNeg() {
		return nil, ErrBignumNegative
	}
	if a.v.CmpAbs(big.NewInt(1)) <= 0 {
		// base in {-1, 0, 1}: result only depends on exp parity/zero-ness.
		if a.IsZero() {
			if exp.IsZero() {
				return NewBignumInt(1), nil
			}
			return NewBignumInt(0), nil
		}
		if a.v.Cmp(big.NewInt(1)) == 0 {
			return NewBignumInt(1), nil
		}
		// a == -1
		if new(big.Int).Mod(exp.v, big.NewInt(2)).Sign() == 0 {
			return NewBignumInt(1), nil
		}
		return NewBignumInt(-1), nil
	}

	base := new(big.Int).Set(a.v)
	result := big.NewInt(1)
	e := new(big.Int).Set(exp.v)
	zero := big.NewInt(0)

	for e.Cmp(zero) > 0 {
		if e.Bit(0) == 1 {
			result.Mul(result, base)
			if result.Cmp(bignumMax) > 0 {
				return nil, ErrBignumOverMax
			}
			if result.Cmp(bignumMin) < 0 {
				return nil, ErrBignumUnderMin
			}
		}
		e.Rsh(e, 1)
		if e.Cmp(zero) > 0 {
			base.Mul(base, base)
			if base.Cmp(bignumMax) > 0 {
				return nil, ErrBignumOverMax
			}
			if base.Cmp(bignumMin) < 0 {
				return nil, ErrBignumUnderMin
			}
		}
	}
	return &Bignum{v: result}, nil
}

// PowMod computes a^k mod m with k >= 0 and m != 0. A negative k fails
// with ErrBignumNegative and m == 0 with ErrBignumDivZero; a negative m is
// used as |m|.
func (a *Bignum) PowMod(k, m *Bignum) (*Bignum, error) {
	if k.IsNeg() {
		return nil, ErrBignumNegative
	}
	if m.IsZero() {
		return nil, ErrBignumDivZero
	}
	return clamp(new(big.Int).Exp(a.v, k.v, new(big.Int).Abs(m.v)))
}

// ToNumber converts the bignum to a float64, the only sanctioned path from
// bignum to double (§3, "Bignum values are never re-interpreted as double
// except through explicit tonumber").
func (b *Bignum) ToNumber() float64 {
	f := new(big.Float).SetInt(b.v)
	out, _ := f.Float64()
	return out
}
