package align

import "math"

// Stats summarises an aligned pair.
type Stats struct {
	Length          int
	Matches         int
	Mismatches      int
	Gaps            int
	IdentityPercent float64
}

// ComputeStats walks two aligned strings position by position. A position is
// a gap when either side is Gap, otherwise a match or a mismatch. Identity is
// matches over non-gap positions as a percentage rounded to two decimals, and
// 0 when every position is a gap.
func ComputeStats(aligned1, aligned2 string) Stats {
	n := min(len(aligned1), len(aligned2))
	st := Stats{Length: n}

	for i := 0; i < n; i++ {
		c1, c2 := aligned1[i], aligned2[i]
		switch {
		case c1 == Gap || c2 == Gap:
			st.Gaps++
		case c1 == c2:
			st.Matches++
		default:
			st.Mismatches++
		}
	}

	if aligned := n - st.Gaps; aligned > 0 {
		st.IdentityPercent = math.Round(float64(st.Matches)/float64(aligned)*100*100) / 100
	}
	return st
}
