/*
Package rollup summarizes the capitalization difference over fixed windows.

A ninety day chart at one sample every ten seconds is close to 800,000
points. Rolling the series up into 5-minute or 1-hour windows keeps the
payload small while preserving the shape:

	Raw (10s intervals)    → 8,640 points/day
	5-minute aggregates    → 288 points/day
	1-hour aggregates      → 24 points/day

Unlike the bucketing engine, which picks one representative sample per slot
and reports gaps, a rollup folds every sample in a window into one
Aggregate and omits windows that hold nothing:

	type Aggregate struct {
	    Count     uint64   // Samples in the window
	    Sum       float64  // Sum of differences
	    Min, Max  float64  // Bounds of the difference
	    First     float64  // Difference of the earliest sample
	    Last      float64  // Difference of the latest sample
	    Synthetic uint64   // Samples produced by the fallback generator
	}

Rollups are computed on read. The log is never rewritten.
*/
package rollup
