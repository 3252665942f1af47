// Package interval holds the single overlap test used wherever two time
// intervals are compared. Intervals are half-open: [start, end).
package interval

import "time"

// Overlaps reports whether [aStart, aEnd) and [bStart, bEnd) intersect.
// Touching intervals (aEnd == bStart) do not overlap.
func Overlaps(aStart, aEnd, bStart, bEnd time.Time) bool {
	return aStart.Before(bEnd) && aEnd.After(bStart)
}

// Covers reports whether [outerStart, outerEnd] contains [innerStart, innerEnd].
func Covers(outerStart, outerEnd, innerStart, innerEnd time.Time) bool {
	return !outerStart.After(innerStart) && !outerEnd.Before(innerEnd)
}
