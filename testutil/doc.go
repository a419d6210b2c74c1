// Package testutil provides testing utilities for worktable.
//
// This package is intended for use in tests and benchmarks only.
//
//	rng := testutil.NewRNG(seed)
//	keys := rng.UniqueUint64s(1000, 1<<20) // distinct primary keys, random order
//	attrs := rng.SkewedLabels(1000, 16, 1.5) // skewed non-unique column values
package testutil
