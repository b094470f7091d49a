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

package attn

import "math"

// resolvedMask is what the compute kernels actually consume: either a
// materialized additive buffer (with broadcast strides) or a plain causal
// flag requiring no buffer at all.
type resolvedMask struct {
	additive                []float32
	batchStride, headStride int
	causal                  bool
}

// resolve converts a Mask into the form the underlying SDPA kernels
// understand, materializing a buffer only when the mask can't be expressed
// as an implicit causal flag.
func resolve(m Mask, hq, qLen, kvLen int, isCausalHint bool) resolvedMask {
	switch m.Kind {
	case MaskNone:
		return resolvedMask{causal: isCausalHint}

	case MaskAutoCausal:
		return resolvedMask{causal: true}

	case MaskAdditive:
		return resolvedMask{additive: m.Additive, batchStride: m.BatchStride, headStride: m.HeadStride}

	case MaskBoolCausal:
		return resolvedMask{additive: materializeBoolMask(m.Bool, m.Polarity, qLen, kvLen)}

	case MaskALiBi:
		return resolvedMask{
			additive:   materializeALiBi(m.ALiBiSlopes, hq, qLen, kvLen),
			headStride: qLen * kvLen,
		}

	default:
		return resolvedMask{causal: isCausalHint}
	}
}

// negInf is a real -Inf, matching the teacher's BaseSDPACausal
// (hwy/contrib/nn/sdpa_base.go), not a finite large-negative sentinel: a
// finite sentinel makes an all-masked row's scores merely very negative
// and close together, which softmaxes to a near-uniform distribution
// instead of the zero output B3 requires. zeroFullyMaskedRows below
// corrects the 0/0 -> NaN that real -Inf produces for such a row.
var negInf = float32(math.Inf(-1))

// materializeBoolMask converts a boolean mask into an additive buffer:
// positions that should be masked out become -Inf (negInf),
// positions that should be attended become 0.
func materializeBoolMask(boolMask []bool, polarity bool, qLen, kvLen int) []float32 {
	out := make([]float32, qLen*kvLen)
	for i, keep := range boolMask {
		attend := keep == polarity
		if !attend {
			out[i] = negInf
		}
	}
	return out
}

// materializeALiBi builds one [qLen, kvLen] causal+ALiBi additive buffer
// per query head: bias(i,j) = slope_h * (j - c) for j <= c, -inf for j > c,
// where c = i + (kvLen - qLen) is the last key position query i may attend.
func materializeALiBi(slopes []float32, hq, qLen, kvLen int) []float32 {
	out := make([]float32, hq*qLen*kvLen)
	offset := kvLen - qLen
	for h := range hq {
		slope := slopes[h]
		base := h * qLen * kvLen
		for i := range qLen {
			row := base + i*kvLen
			causalEnd := i + offset
			for j := range kvLen {
				if j > causalEnd {
					out[row+j] = negInf
					continue
				}
				out[row+j] = slope * float32(j-causalEnd)
			}
		}
	}
	return out
}

// zeroFullyMaskedRows overwrites the output row for every query position
// whose additive mask row is entirely -Inf. B3 requires a fully-masked row
// to produce zeros, not the NaN a 0/0 softmax yields once maxVal itself is
// -Inf; the underlying SDPA kernels (ours and the teacher's) don't special
// case this, so the correction is applied here, once, after the kernel call.
func zeroFullyMaskedRows(additive []float32, batchStride, headStride int, output []float32, b, hq, qLen, kvLen, s int) {
	if additive == nil {
		return
	}
	for batch := range b {
		for head := range hq {
			maskOff := batch*batchStride + head*headStride
			oOff := (batch*hq + head) * qLen * s
			for i := range qLen {
				rowOff := maskOff + i*kvLen
				row := additive[rowOff : rowOff+kvLen]
				allMasked := true
				for _, v := range row {
					if v != negInf {
						allMasked = false
						break
					}
				}
				if allMasked {
					clear(output[oOff+i*s : oOff+i*s+s])
				}
			}
		}
	}
}

// permuteBHSDToBLHxS rearranges a contiguous [B, H, L, S] buffer into
// [B, L, H, S], the BLHxS output layout some callers request.
func permuteBHSDToBLHxS(in []float32, b, h, l, s int) []float32 {
	out := make([]float32, len(in))
	for bi := range b {
		for hi := range h {
			for li := range l {
				srcOff := ((bi*h+hi)*l + li) * s
				dstOff := ((bi*l+li)*h + hi) * s
				copy(out[dstOff:dstOff+s], in[srcOff:srcOff+s])
			}
		}
	}
	return out
}

// applyPermuteAxes materializes cfg.PermuteAxes, a general permutation of
// the canonical [B, Hq, qLen, S] axes: destination axis i reads from source
// axis perm[i]. Every output element's source offset is computed from
// strides over the permuted axis order rather than copying fixed-size runs,
// so this expresses any of the 24 axis orders, not just one hardcoded swap.
// Returns nil (meaning "nothing to do") when cfg.PermuteAxes is unset.
func applyPermuteAxes(cfg Config, in []float32, b, hq, qLen, s int) []float32 {
	perm := cfg.PermuteAxes
	if perm == [4]int{} {
		return nil
	}

	srcDims := [4]int{b, hq, qLen, s}
	srcStride := [4]int{hq * qLen * s, qLen * s, s, 1}

	var dstDims, dstStride [4]int
	for i := range 4 {
		dstDims[i] = srcDims[perm[i]]
	}
	dstStride[3] = 1
	dstStride[2] = dstDims[3] * dstStride[3]
	dstStride[1] = dstDims[2] * dstStride[2]
	dstStride[0] = dstDims[1] * dstStride[1]

	out := make([]float32, len(in))
	var idx [4]int
	for idx[0] = 0; idx[0] < dstDims[0]; idx[0]++ {
		for idx[1] = 0; idx[1] < dstDims[1]; idx[1]++ {
			for idx[2] = 0; idx[2] < dstDims[2]; idx[2]++ {
				for idx[3] = 0; idx[3] < dstDims[3]; idx[3]++ {
					dstOff := idx[0]*dstStride[0] + idx[1]*dstStride[1] + idx[2]*dstStride[2] + idx[3]*dstStride[3]
					srcOff := idx[0]*srcStride[perm[0]] + idx[1]*srcStride[perm[1]] + idx[2]*srcStride[perm[2]] + idx[3]*srcStride[perm[3]]
					out[dstOff] = in[srcOff]
				}
			}
		}
	}
	return out
}
