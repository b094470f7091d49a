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

import "github.com/ajroetker/sdpa-engine/hwy"

// MatMul computes C = A * B single-threaded, selecting the best available
// kernel for the current hwy.DispatchLevel. This build carries only the
// portable Base kernels; ISA-specific targets (AVX2/AVX-512/NEON) are
// generated by hwygen and are not present here.
func MatMul[T hwy.Floats](a, b, c []T, m, n, k int) {
	BaseMatMul(a, b, c, m, n, k)
}

// MatMulKLast computes C = A * B^T single-threaded, where both A and B
// carry K as the trailing (contiguous) dimension.
func MatMulKLast[T hwy.Floats](a, b, c []T, m, n, k int) {
	BaseMatMulKLast(a, b, c, m, n, k)
}

// BlockedMatMul computes C = A * B using cache-blocked register tiling.
func BlockedMatMul[T hwy.Floats](a, b, c []T, m, n, k int) {
	BaseBlockedMatMul(a, b, c, m, n, k)
}

// MatMulKLastBlocked computes C = A * B^T using cache-blocked register
// tiling, where both A and B carry K as the trailing dimension.
func MatMulKLastBlocked[T hwy.Floats](a, b, c []T, m, n, k int) {
	BaseMatMulKLastBlocked(a, b, c, m, n, k)
}

// BlockMulAdd computes C += A * B for a single blockDim x blockDim tile,
// where aT is A transposed (so the kernel reads both operands column-major
// for aT, row-major for b). Selects the portable Base kernel.
func BlockMulAdd[T hwy.Floats](aT, b, c []T, blockDim int) {
	BaseBlockMulAdd(aT, b, c, blockDim)
}

// BlockMulAdd2 is a 2-row-at-a-time register-blocked variant of BlockMulAdd.
func BlockMulAdd2[T hwy.Floats](aT, b, c []T, blockDim int) {
	BaseBlockMulAdd2(aT, b, c, blockDim)
}

// BlockMulAdd4 is a 4-row-at-a-time register-blocked variant of BlockMulAdd.
func BlockMulAdd4[T hwy.Floats](aT, b, c []T, blockDim int) {
	BaseBlockMulAdd4(aT, b, c, blockDim)
}

// Int8x8MatMul performs integer matrix multiplication of two uint8 matrices
// with zero-point subtraction, accumulating into int32.
func Int8x8MatMul(output []int32, a, b []uint8, aZP, bZP uint8, m, k, n int) {
	BaseInt8x8MatMul(output, a, b, aZP, bZP, m, k, n)
}
