// Copyright 2024 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package matmul

import (
	"github.com/ajroetker/sdpa-engine/hwy"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/workerpool"
)

// Parallel tuning parameters
const (
	// MinParallelOps is the minimum number of operations before parallelizing
	MinParallelOps = 64 * 64 * 64

	// RowsPerStrip defines how many rows each worker processes at a time.
	// Tuned for good load balancing while keeping strips large enough for cache efficiency.
	RowsPerStrip = 64
)

// ParallelMatMul computes C = A * B using the given worker pool.
// Divides work into horizontal strips and uses the optimized BlockedMatMul for each strip.
//
//   - A is M x K (row-major)
//   - B is K x N (row-major)
//   - C is M x N (row-major)
//
// A nil pool runs sequentially.
func ParallelMatMul[T hwy.Floats](pool workerpool.Executor, a, b, c []T, m, n, k int) {
	if m*n*k < MinParallelOps || pool == nil {
		BlockedMatMul(a, b, c, m, n, k)
		return
	}

	numStrips := (m + RowsPerStrip - 1) / RowsPerStrip
	pool.ParallelForAtomic(numStrips, func(strip int) {
		rowStart := strip * RowsPerStrip
		rowEnd := min(rowStart+RowsPerStrip, m)
		stripM := rowEnd - rowStart

		aStrip := a[rowStart*k : rowEnd*k]
		cStrip := c[rowStart*n : rowEnd*n]

		BlockedMatMul(aStrip, b, cStrip, stripM, n, k)
	})
}

// ParallelMatMulFineGrained computes C = A * B using 1-row strips, to
// maximize parallelism when M is small relative to RowsPerStrip.
//
// A nil pool runs sequentially.
func ParallelMatMulFineGrained[T hwy.Floats](pool workerpool.Executor, a, b, c []T, m, n, k int) {
	if m*n*k < MinParallelOps || pool == nil {
		BlockedMatMul(a, b, c, m, n, k)
		return
	}

	pool.ParallelForAtomic(m, func(row int) {
		aRow := a[row*k : (row+1)*k]
		cRow := c[row*n : (row+1)*n]
		BlockedMatMul(aRow, b, cRow, 1, n, k)
	})
}
