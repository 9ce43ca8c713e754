package domain

// Amounts are carried as int64 in the currency's smallest unit (VND has none, so
// one unit equals one dong). Percentage discounts therefore reduce to an integer
// division whose remainder is settled with round-half-even.

// PercentOf returns amount*percent/100 rounded half-to-even to the nearest unit.
func PercentOf(amount, percent int64) int64 {
	return RoundHalfEvenDiv(amount*percent, 100)
}

// RoundHalfEvenDiv divides numerator by denominator rounding halves to the
// nearest even quotient. Denominator must be positive; negative numerators are
// not produced by discount maths and round toward zero.
func RoundHalfEvenDiv(numerator, denominator int64) int64 {
	if denominator <= 0 {
		return 0
	}
	if numerator <= 0 {
		return 0
	}

	quotient := numerator / denominator
	remainder := numerator % denominator

	twice := remainder * 2
	switch {
	case twice < denominator:
		return quotient
	case twice > denominator:
		return quotient + 1
	default:
		// Exactly half: round to even.
		if quotient%2 == 0 {
			return quotient
		}
		return quotient + 1
	}
}

// ClampDiscount bounds a computed discount to [0, orderAmount].
func ClampDiscount(discount, orderAmount int64) int64 {
	if discount < 0 {
		return 0
	}
	if discount > orderAmount {
		return orderAmount
	}
	return discount
}
