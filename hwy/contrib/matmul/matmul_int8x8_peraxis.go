// Copyright 2025 go-highway Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package matmul

import (
	"github.com/ajroetker/sdpa-engine/hwy"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/workerpool"
)

// BaseInt8x8MatMulPerAxis_fallback performs integer matrix multiplication of
// two uint8 matrices with per-row (A) and per-column (B) zero points,
// accumulating into int32. This is the pure scalar reference path, kept
// alongside the vectorized Int8x8MatMulPerAxis for correctness testing.
//
// output[m,n] = sum_k( (int32(a[m,k]) - int32(aZP[m])) * (int32(b[k,n]) - int32(bZP[n])) )
func BaseInt8x8MatMulPerAxis_fallback(output []int32, a, b []uint8, aZP, bZP []uint8, m, k, n int) {
	if m == 0 || k == 0 || n == 0 {
		return
	}
	for mi := range m {
		azp := int32(aZP[mi])
		for ni := range n {
			bzp := int32(bZP[ni])
			var sum int32
			for ki := range k {
				aVal := int32(a[mi*k+ki]) - azp
				bVal := int32(b[ki*n+ni]) - bzp
				sum += aVal * bVal
			}
			output[mi*n+ni] = sum
		}
	}
}

// Int8x8MatMulPerAxis performs integer matrix multiplication of two uint8
// matrices with per-row (A) and per-column (B) zero points, vectorizing the
// N sweep the same way BaseInt8x8MatMul does for the per-tensor case.
func Int8x8MatMulPerAxis(output []int32, a, b []uint8, aZP, bZP []uint8, m, k, n int) {
	if m == 0 || k == 0 || n == 0 {
		return
	}

	lanes := hwy.Zero[int32]().NumLanes()
	dequantBuf := make([]int32, lanes)
	bzpVec := make([]int32, lanes)
	accBuf := make([]int32, n)

	for mi := range m {
		azp := int32(aZP[mi])

		for i := range n {
			accBuf[i] = 0
		}

		for ki := range k {
			aVal := int32(a[mi*k+ki]) - azp
			aVec := hwy.Set(aVal)
			baseIdx := ki * n

			var ni int
			for ni = 0; ni+lanes <= n; ni += lanes {
				for lane := range lanes {
					bzpVec[lane] = int32(bZP[ni+lane])
					dequantBuf[lane] = int32(b[baseIdx+ni+lane]) - bzpVec[lane]
				}

				bVec := hwy.Load(dequantBuf)
				acc := hwy.Load(accBuf[ni:])
				acc = hwy.Add(hwy.Mul(aVec, bVec), acc)
				hwy.Store(acc, accBuf[ni:])
			}

			for ; ni < n; ni++ {
				accBuf[ni] += aVal * (int32(b[baseIdx+ni]) - int32(bZP[ni]))
			}
		}

		copy(output[mi*n:(mi+1)*n], accBuf)
	}
}

// ParallelInt8x8MatMulPerAxis computes output = A * B with per-axis zero
// points using the given worker pool, striping the M dimension across
// workers. A nil pool runs sequentially.
func ParallelInt8x8MatMulPerAxis(pool workerpool.Executor, output []int32, a, b []uint8, aZP, bZP []uint8, m, k, n int) {
	if m*n*k < MinParallelOps || pool == nil {
		Int8x8MatMulPerAxis(output, a, b, aZP, bZP, m, k, n)
		return
	}

	numStrips := (m + RowsPerStrip - 1) / RowsPerStrip
	pool.ParallelForAtomic(numStrips, func(strip int) {
		rowStart := strip * RowsPerStrip
		rowEnd := min(rowStart+RowsPerStrip, m)
		stripM := rowEnd - rowStart

		aStrip := a[rowStart*k : rowEnd*k]
		aZPStrip := aZP[rowStart:rowEnd]
		outStrip := output[rowStart*n : rowEnd*n]

		Int8x8MatMulPerAxis(outStrip, aStrip, b, aZPStrip, bZP, stripM, k, n)
	})
}
