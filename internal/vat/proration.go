package vat

// ProrationLine is one participant in a discount spread.
type ProrationLine struct {
	ID               string
	PreDiscountGross int64
}

// ProrateDiscount spreads an order-level discount across lines in proportion
// to their pre-discount gross. Every line but the last receives its rounded
// share; the last absorbs the remainder, so the allocations always sum to
// discount exactly. A negative discount is spread with the same magnitudes
// and a negative sign.
func ProrateDiscount(lines []ProrationLine, discount int64) map[string]int64 {
	alloc := make(map[string]int64, len(lines))
	var sum int64
	for _, l := range lines {
		sum += l.PreDiscountGross
	}
	if sum == 0 || discount == 0 || len(lines) == 0 {
		for _, l := range lines {
			alloc[l.ID] = 0
		}
		return alloc
	}

	sign := int64(1)
	if discount < 0 {
		sign = -1
	}
	magnitude := abs64(discount)
	remaining := magnitude
	last := len(lines) - 1
	for i, l := range lines {
		if i == last {
			alloc[l.ID] += sign * remaining
			break
		}
		share := mulDivHalfUp(abs64(l.PreDiscountGross), magnitude, abs64(sum))
		alloc[l.ID] += sign * share
		remaining -= share
	}
	return alloc
}
