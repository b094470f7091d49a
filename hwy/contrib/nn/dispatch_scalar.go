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

package nn

import "github.com/ajroetker/sdpa-engine/hwy"

// SDPA computes single-head scaled dot-product attention, selecting the
// best available kernel for the current hwy.DispatchLevel. This build
// carries only the portable Base kernels; ISA-specific targets are
// generated by hwygen and are not present here.
func SDPA[T hwy.Floats](
	q, k, v, mask, scores, output []T,
	seqLen, kvLen, headDim int, scale T,
) {
	BaseSDPA(q, k, v, mask, scores, output, seqLen, kvLen, headDim, scale)
}

// SDPACausal computes single-head causal scaled dot-product attention,
// skipping masked-out positions rather than materializing an additive mask.
func SDPACausal[T hwy.Floats](
	q, k, v, scores, output []T,
	seqLen, kvLen, headDim int, scale T,
) {
	BaseSDPACausal(q, k, v, scores, output, seqLen, kvLen, headDim, scale)
}

// SoftmaxInPlaceFloat32 normalizes x into a numerically stable softmax
// distribution, overwriting x with the result.
func SoftmaxInPlaceFloat32(x []float32) {
	BaseSoftmaxInPlace(x)
}
