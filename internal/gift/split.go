package gift

import "math"

// splitAmount draws one positive share from (remainingTotal, remainingCount)
// given a uniform u in [0,1). The exponential weight w = -ln(1-u) against the
// aggregate weight remainingCount-1 of the not-yet-drawn positions makes the
// full draw sequence approximate a symmetric Dirichlet(1,...,1) split.
//
// Draws at remainingTotal <= remainingCount degrade to the 1-unit floor;
// splitAmounts stops walking before the total reaches zero.
func splitAmount(remainingTotal, remainingCount uint64, u float64) uint64 {
	if remainingCount <= 1 {
		return remainingTotal
	}
	if remainingTotal <= remainingCount {
		return 1
	}
	w := -math.Log(1 - u)
	proportion := w / (w + float64(remainingCount-1))

	// Leave at least 1 unit for each of the other positions. Clamping, not
	// log precision, is what conservation depends on.
	limit := remainingTotal - (remainingCount - 1)
	f := math.Round(float64(remainingTotal) * proportion)
	switch {
	case f >= float64(limit):
		return limit
	case f <= 1:
		return 1
	default:
		return uint64(f)
	}
}

// splitAmounts walks the (total, count) trajectory for up to n draws. The
// remainingCount==1 draw takes the whole remaining total without consuming
// randomness, so a walk from total >= count sums exactly to total. When
// count exceeds total the walk stops at zero remaining instead of emitting
// zero draws.
func splitAmounts(total, count uint64, n int, src Uniform) []uint64 {
	if n < 0 {
		n = 0
	}
	out := make([]uint64, 0, n)
	for i := 0; i < n && count > 0 && total > 0; i++ {
		var a uint64
		if count == 1 {
			a = total
		} else {
			a = splitAmount(total, count, src.Float64())
		}
		out = append(out, a)
		total -= a
		count--
	}
	return out
}
