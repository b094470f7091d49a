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
	"runtime"

	"github.com/ajroetker/sdpa-engine/hwy"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/workerpool"
)

// Size-based dispatch thresholds.
// Tuned empirically - adjust based on benchmarks on target hardware.
const (
	// Below this total ops count, streaming is faster (less overhead)
	SmallMatrixThreshold = 64 * 64 * 64 // 262144 ops

	// Total ops count (1024^3) marking a large matmul. MatMulAuto and
	// MatMulKLastAuto do not consult it; they have no separate large-matrix path.
	LargeMatrixThreshold = 1024 * 1024 * 1024 // 1073741824 ops

	// K/N ratio above which blocking helps reduce C traffic. MatMulAuto and
	// MatMulKLastAuto do not consult it.
	DeepKRatio = 4

	// MinParallelStrips is the minimum number of RowsPerStrip-sized strips
	// required for coarse-grained parallelism to overcome dispatch overhead.
	// Benchmarks on M4 Max (ARM64 SME) show:
	//   2 strips (96x96x96, 128x128x128): Parallel 14-33% SLOWER than Blocked
	//   3 strips (192x192x192): Parallel 28% faster
	//   4+ strips: Parallel consistently faster (up to 2.6x at 16 strips)
	MinParallelStrips = 3
)

// MatMulAuto automatically selects the best algorithm based on matrix dimensions.
// Requires a persistent worker pool for parallel execution.
//
// Algorithm selection:
//
//  1. Small matrices (M*N*K < 64^3): Streaming MatMul — lowest overhead
//  2. Small M on AMD64 (M < RowsPerStrip): Fine-grained row parallelism —
//     each row dispatched via atomic work stealing.
//  3. Few strips (M/RowsPerStrip < 3): Sequential BlockedMatMul — parallel
//     dispatch overhead exceeds benefit with <3 strips.
//  4. Default: ParallelMatMul with 64-row strips.
//
// On ARM64, step 2 is skipped: small M goes straight to the strip-count rule
// (BlockedMatMul below MinParallelStrips strips). BlockedMatMul runs the
// portable Base kernel on every architecture; there is no SME path.
//
// Usage:
//
//	pool := workerpool.New(runtime.GOMAXPROCS(0))
//	defer pool.Close()
//
//	for _, layer := range layers {
//	    matmul.MatMulAuto(pool, a, b, c, m, n, k)
//	}
func MatMulAuto[T hwy.Floats](pool workerpool.Executor, a, b, c []T, m, n, k int) {
	totalOps := m * n * k

	// Very small matrices: streaming is fastest (fits in cache, no overhead).
	if totalOps < SmallMatrixThreshold {
		MatMul(a, b, c, m, n, k)
		return
	}

	// For small M with large N*K on AMD64, use fine-grained row parallelism.
	// Each row is dispatched independently via atomic work stealing.
	//
	// On ARM64, this path is skipped and small M falls through to the
	// strip-count rule below.
	if runtime.GOARCH != "arm64" && m < RowsPerStrip {
		ParallelMatMulFineGrained(pool, a, b, c, m, n, k)
		return
	}

	// Coarse parallelism requires enough strips for load balancing.
	// With <3 strips, dispatch overhead exceeds the parallelism benefit.
	// Benchmarks on M4 Max:
	//   96x96x96  (2 strips): Parallel 33% slower than Blocked
	//   128x128x128 (2 strips): Parallel 14% slower
	//   192x192x192 (3 strips): Parallel 28% faster
	numStrips := (m + RowsPerStrip - 1) / RowsPerStrip
	if numStrips < MinParallelStrips {
		BlockedMatMul(a, b, c, m, n, k)
		return
	}

	ParallelMatMul(pool, a, b, c, m, n, k)
}

// MatMulKLastAuto automatically selects the best algorithm for K-last layout.
// Requires a persistent worker pool for parallel execution.
//
// K-last layout: A is [M,K], B is [N,K] (both with K as last dimension).
// Computes C = A @ B^T where C is [M,N].
//
// Algorithm selection mirrors MatMulAuto:
//  1. Small matrices (M*N*K < 64^3): Streaming MatMulKLast
//  2. Small M on AMD64 (M < RowsPerStrip): Fine-grained row parallelism
//  3. Few strips (< 3): Sequential MatMulKLastBlocked
//  4. Default: ParallelMatMulKLast with coarse row striping
//
// On ARM64, step 2 is skipped and small M goes to the strip-count rule.
func MatMulKLastAuto[T hwy.Floats](pool workerpool.Executor, a, b, c []T, m, n, k int) {
	totalOps := m * n * k

	if totalOps < SmallMatrixThreshold {
		MatMulKLast(a, b, c, m, n, k)
		return
	}

	// Fine-grained row parallelism for small M on AMD64.
	// On ARM64 this path is skipped, as in MatMulAuto.
	if runtime.GOARCH != "arm64" && m < RowsPerStrip {
		ParallelMatMulKLastFineGrained(pool, a, b, c, m, n, k)
		return
	}

	// Need enough strips for coarse parallelism to overcome overhead.
	numStrips := (m + RowsPerStrip - 1) / RowsPerStrip
	if numStrips < MinParallelStrips {
		MatMulKLastBlocked(a, b, c, m, n, k)
		return
	}

	ParallelMatMulKLast(pool, a, b, c, m, n, k)
}
