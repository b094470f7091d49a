// Copyright 2025 The go-highway Authors. SPDX-License-Identifier: Apache-2.0

package matmul

import "github.com/ajroetker/sdpa-engine/hwy/contrib/workerpool"

// ParallelInt8x8MatMul computes output = A * B over uint8 operands using the
// given worker pool, striping the M dimension across workers.
//
//   - a: M x K (row-major, uint8)
//   - b: K x N (row-major, uint8)
//   - output: M x N (row-major, int32)
//
// A nil pool runs sequentially.
func ParallelInt8x8MatMul(pool workerpool.Executor, output []int32, a, b []uint8, aZP, bZP uint8, m, k, n int) {
	if m*n*k < MinParallelOps || pool == nil {
		Int8x8MatMul(output, a, b, aZP, bZP, m, k, n)
		return
	}

	numStrips := (m + RowsPerStrip - 1) / RowsPerStrip
	pool.ParallelForAtomic(numStrips, func(strip int) {
		rowStart := strip * RowsPerStrip
		rowEnd := min(rowStart+RowsPerStrip, m)
		stripM := rowEnd - rowStart

		aStrip := a[rowStart*k : rowEnd*k]
		outStrip := output[rowStart*n : rowEnd*n]

		Int8x8MatMul(outStrip, aStrip, b, aZP, bZP, stripM, k, n)
	})
}
