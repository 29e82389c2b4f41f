package fixedpoint

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

const uint128Bits = 128

// Uint128 is an unsigned 128-bit integer whose operations fail with ErrMathOverflow
// instead of wrapping. The zero value is 0.
type Uint128 struct {
	v uint256.Int
}

func NewUint128(x uint64) Uint128 {
	var out Uint128
	out.v.SetUint64(x)
	return out
}

func ParseUint128(raw string) (Uint128, error) {
	var out Uint128
	if err := out.v.SetFromDecimal(strings.TrimSpace(raw)); err != nil {
		return Uint128{}, fmt.Errorf("parse u128 %q: %w", raw, err)
	}
	if out.v.BitLen() > uint128Bits {
		return Uint128{}, fmt.Errorf("%w: %s as u128", ErrMathOverflow, raw)
	}
	return out, nil
}

func (a Uint128) IsZero() bool {
	return a.v.IsZero()
}

func (a Uint128) Cmp(b Uint128) int {
	return a.v.Cmp(&b.v)
}

func (a Uint128) String() string {
	return a.v.Dec()
}

func (a Uint128) Add(b Uint128) (Uint128, error) {
	var out Uint128
	out.v.Add(&a.v, &b.v)
	if out.v.BitLen() > uint128Bits {
		return Uint128{}, fmt.Errorf("%w: %s + %s", ErrMathOverflow, a, b)
	}
	return out, nil
}

func (a Uint128) Sub(b Uint128) (Uint128, error) {
	if a.v.Lt(&b.v) {
		return Uint128{}, fmt.Errorf("%w: %s - %s", ErrMathOverflow, a, b)
	}
	var out Uint128
	out.v.Sub(&a.v, &b.v)
	return out, nil
}

func (a Uint128) Mul(b Uint128) (Uint128, error) {
	var out Uint128
	// both operands are below 2^128, so the 256-bit product is exact
	out.v.Mul(&a.v, &b.v)
	if out.v.BitLen() > uint128Bits {
		return Uint128{}, fmt.Errorf("%w: %s * %s", ErrMathOverflow, a, b)
	}
	return out, nil
}

func (a Uint128) Div(b Uint128) (Uint128, error) {
	if b.v.IsZero() {
		return Uint128{}, fmt.Errorf("%w: %s / %s", ErrMathOverflow, a, b)
	}
	var out Uint128
	out.v.Div(&a.v, &b.v)
	return out, nil
}

// Uint64 is the checked narrowing cast.
func (a Uint128) Uint64() (uint64, error) {
	if !a.v.IsUint64() {
		return 0, fmt.Errorf("%w: %s as u64", ErrMathOverflow, a)
	}
	return a.v.Uint64(), nil
}

// Pow10 returns 10^exp, failing once the power no longer fits in 128 bits (exp > 38).
func Pow10(exp uint32) (Uint128, error) {
	ten := NewUint128(10)
	result := NewUint128(1)
	for i := uint32(0); i < exp; i++ {
		next, err := result.Mul(ten)
		if err != nil {
			return Uint128{}, fmt.Errorf("%w: 10 ^ %d", ErrMathOverflow, exp)
		}
		result = next
	}
	return result, nil
}

func (a Uint128) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Uint128) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		var number json.Number
		if numErr := json.Unmarshal(data, &number); numErr != nil {
			return fmt.Errorf("decode u128: %w", err)
		}
		raw = number.String()
	}
	parsed, err := ParseUint128(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
