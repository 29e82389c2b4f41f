package fixedpoint

import (
	"errors"
	"fmt"

	"golang.org/x/exp/constraints"
)

// ErrMathOverflow covers every arithmetic precondition violation, division by zero included.
var ErrMathOverflow = errors.New("overflow in arithmetic operation")

func CheckedAdd[T constraints.Integer](a, b T) (T, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, fmt.Errorf("%w: %v + %v", ErrMathOverflow, a, b)
	}
	return sum, nil
}

func CheckedSub[T constraints.Integer](a, b T) (T, error) {
	diff := a - b
	if (b > 0 && diff > a) || (b < 0 && diff < a) {
		return 0, fmt.Errorf("%w: %v - %v", ErrMathOverflow, a, b)
	}
	return diff, nil
}

func CheckedMul[T constraints.Integer](a, b T) (T, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	// sign test catches MinInt * -1, which the division round trip cannot see
	if product/b != a || (product < 0) != ((a < 0) != (b < 0)) {
		return 0, fmt.Errorf("%w: %v * %v", ErrMathOverflow, a, b)
	}
	return product, nil
}

func CheckedDiv[T constraints.Integer](a, b T) (T, error) {
	if b == 0 {
		return 0, fmt.Errorf("%w: %v / %v", ErrMathOverflow, a, b)
	}
	quotient := a / b
	if a < 0 && b < 0 && quotient < 0 {
		return 0, fmt.Errorf("%w: %v / %v", ErrMathOverflow, a, b)
	}
	return quotient, nil
}

func CheckedPow[T constraints.Integer](base T, exp uint32) (T, error) {
	result := T(1)
	for i := uint32(0); i < exp; i++ {
		next, err := CheckedMul(result, base)
		if err != nil {
			return 0, fmt.Errorf("%w: %v ^ %d", ErrMathOverflow, base, exp)
		}
		result = next
	}
	return result, nil
}

// CheckedAsU64 narrows any Go integer into uint64, rejecting negatives.
func CheckedAsU64[T constraints.Integer](v T) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: %v as u64", ErrMathOverflow, v)
	}
	return uint64(v), nil
}

func CheckedAsI64(v uint64) (int64, error) {
	if v > 1<<63-1 {
		return 0, fmt.Errorf("%w: %d as i64", ErrMathOverflow, v)
	}
	return int64(v), nil
}
