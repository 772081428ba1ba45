/*
Package bucket turns an irregularly sampled series into one point per
fixed-width slot for charting.

# Slots

For a range [start, end] and width w the slots are

	start, start+w, start+2w, ... <= end

Each slot is matched to the nearest sample whose distance is at most the
tolerance. Tolerance may not exceed w/2, so two neighbouring slots can
only compete for a sample sitting exactly on their midpoint; that sample
goes to the earlier slot.

	samples:   x    x         x               x
	           |----|----|----|----|----|----|----|
	slots:     0    10   20   30   40   50   60   70
	points:    s    s    -    s    -    -    s    -     (- is a gap)

# Gaps

A slot with no sample in range is a gap. Gaps are kept distinct from zero:
Point.Sample is nil and the JSON form is

	{"slotTime": "2024-03-01T02:00:20.000Z", "sample": null}

Renderers draw a break, never a zero crossing.

# Cost

Lookup is a binary search per slot, O(slots * log n) overall. Points are
recomputed on every pass and never persisted.
*/
package bucket
