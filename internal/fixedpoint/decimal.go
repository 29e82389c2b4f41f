package fixedpoint

import "fmt"

// DecimalMul computes (c1 * 10^e1) * (c2 * 10^e2) expressed at targetExponent.
// The product is formed in 128 bits before any scale-down so precision is only
// lost in the final floor division.
func DecimalMul(c1 uint64, e1 int32, c2 uint64, e2 int32, targetExponent int32) (uint64, error) {
	if c1 == 0 || c2 == 0 {
		return 0, nil
	}
	exponentSum, err := CheckedAdd(e1, e2)
	if err != nil {
		return 0, err
	}
	targetPower, err := CheckedSub(exponentSum, targetExponent)
	if err != nil {
		return 0, err
	}

	product, err := NewUint128(c1).Mul(NewUint128(c2))
	if err != nil {
		return 0, err
	}

	var scaled Uint128
	if targetPower >= 0 {
		scale, err := Pow10(uint32(targetPower))
		if err != nil {
			return 0, err
		}
		if scaled, err = product.Mul(scale); err != nil {
			return 0, err
		}
	} else {
		scale, err := pow10Negated(targetPower)
		if err != nil {
			return 0, err
		}
		if scaled, err = product.Div(scale); err != nil {
			return 0, err
		}
	}
	return scaled.Uint64()
}

// DecimalDiv computes (c1 * 10^e1) / (c2 * 10^e2) expressed at targetExponent.
//
// The dividend is first multiplied by a scale factor accumulated from a positive e1,
// a negative e2 and a negative targetExponent; whatever power of ten remains is
// applied after the integer division. Results must match this ordering exactly.
func DecimalDiv(c1 uint64, e1 int32, c2 uint64, e2 int32, targetExponent int32) (uint64, error) {
	if c2 == 0 {
		return 0, fmt.Errorf("%w: %d / %d", ErrMathOverflow, c1, c2)
	}
	if c1 == 0 {
		return 0, nil
	}

	exponentDiff, err := CheckedSub(e1, e2)
	if err != nil {
		return 0, err
	}
	targetPower, err := CheckedSub(exponentDiff, targetExponent)
	if err != nil {
		return 0, err
	}

	scaleFactor := int32(0)
	// A positive e1 is folded into the dividend scale and taken out of the
	// residual power, so the quotient lands at targetExponent. Leaving the
	// residual power untouched would apply e1 twice.
	if e1 > 0 {
		if scaleFactor, err = CheckedAdd(scaleFactor, e1); err != nil {
			return 0, err
		}
		if targetPower, err = CheckedSub(targetPower, e1); err != nil {
			return 0, err
		}
	}
	if e2 < 0 {
		if scaleFactor, err = CheckedSub(scaleFactor, e2); err != nil {
			return 0, err
		}
		if targetPower, err = CheckedAdd(targetPower, e2); err != nil {
			return 0, err
		}
	}
	if targetExponent < 0 {
		if scaleFactor, err = CheckedSub(scaleFactor, targetExponent); err != nil {
			return 0, err
		}
		if targetPower, err = CheckedAdd(targetPower, targetExponent); err != nil {
			return 0, err
		}
	}

	dividend := NewUint128(c1)
	if scaleFactor > 0 {
		scale, err := Pow10(uint32(scaleFactor))
		if err != nil {
			return 0, err
		}
		if dividend, err = dividend.Mul(scale); err != nil {
			return 0, err
		}
	}

	quotient, err := dividend.Div(NewUint128(c2))
	if err != nil {
		return 0, err
	}

	if targetPower >= 0 {
		scale, err := Pow10(uint32(targetPower))
		if err != nil {
			return 0, err
		}
		if quotient, err = quotient.Mul(scale); err != nil {
			return 0, err
		}
	} else {
		scale, err := pow10Negated(targetPower)
		if err != nil {
			return 0, err
		}
		if quotient, err = quotient.Div(scale); err != nil {
			return 0, err
		}
	}
	return quotient.Uint64()
}

func pow10Negated(power int32) (Uint128, error) {
	negated, err := CheckedSub(int32(0), power)
	if err != nil {
		return Uint128{}, err
	}
	return Pow10(uint32(negated))
}
