package consensus

import "time"

// ViewTimeout computes T_v = T_base * 2^min(v, 6) with jitter proportional
// to myIndex so validators don't all retry in lockstep (spec.md §4.G View
// change).
func ViewTimeout(base time.Duration, view uint8, myIndex int) time.Duration {
	shift := uint(view)
	if shift > 6 {
		shift = 6
	}
	d := base * time.Duration(uint64(1)<<shift)
	jitter := time.Duration(myIndex) * (base / 20)
	return d + jitter
}
