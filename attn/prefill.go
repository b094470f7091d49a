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

import (
	"github.com/ajroetker/sdpa-engine/attnerr"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/matmul"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/nn"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/workerpool"
	"github.com/ajroetker/sdpa-engine/kvcache"
)

// Prefill computes attention over a full query block against a full key/value
// block with no pre-existing cache history: the canonical full-sequence pass.
//
//   - q: [B, Hq, qLen, S] contiguous (BHSD)
//   - k, v: [B, Hkv, kvLen, S] contiguous (BHSD)
//   - output: [B, Hq, qLen, S] (BHSD), or [B, qLen, Hq, S] (BLHxS) when
//     cfg.OutputBLHxS is set
//
// Hq must be an integer multiple of Hkv (I2); grouped/multi-query attention
// is applied automatically when Hq > Hkv.
func Prefill(cfg Config, q, k, v []float32, mask Mask, b, hq, hkv, qLen, kvLen, s int, scale float32, pool workerpool.Executor) ([]float32, error) {
	if hkv == 0 || hq%hkv != 0 {
		return nil, attnerr.New(attnerr.PreconditionFailure, "attn.Prefill", "Hq must be a positive integer multiple of Hkv")
	}
	if len(q) != b*hq*qLen*s {
		return nil, attnerr.New(attnerr.PreconditionFailure, "attn.Prefill", "q length does not match B*Hq*qLen*S")
	}
	if len(k) != b*hkv*kvLen*s || len(v) != b*hkv*kvLen*s {
		return nil, attnerr.New(attnerr.PreconditionFailure, "attn.Prefill", "k/v length does not match B*Hkv*kvLen*S")
	}

	rm := resolve(mask, hq, qLen, kvLen, cfg.IsCausal || cfg.FuseCausalAttn)
	output := make([]float32, b*hq*qLen*s)

	switch {
	case cfg.KVCachePrecision == kvcache.U8:
		nn.MultiHeadQuantizedSDPA(
			pool, q, k, v, rm.additive, output,
			b, hq, hkv, qLen, kvLen, s,
			rm.batchStride, rm.headStride,
			scale, rm.causal,
		)
	case cfg.KernelHint == HintPanel && pool != nil:
		blockPanelMultiHeadSDPA(pool, q, k, v, rm, output, b, hq, hkv, qLen, kvLen, s, scale)
	default:
		floatMultiHeadSDPA(pool, q, k, v, rm, output, b, hq, hkv, qLen, kvLen, s, scale)
	}

	zeroFullyMaskedRows(rm.additive, rm.batchStride, rm.headStride, output, b, hq, qLen, kvLen, s)

	if permuted := applyPermuteAxes(cfg, output, b, hq, qLen, s); permuted != nil {
		output = permuted
	} else if cfg.OutputBLHxS {
		output = permuteBHSDToBLHxS(output, b, hq, qLen, s)
	}

	return output, nil
}

// floatMultiHeadSDPA runs the generic float32/float64-shaped path per head,
// the same grouped-query fan-out as nn.MultiHeadSDPAAuto, generalized to
// accept a mask that may broadcast across batch/head (nn.MultiHeadSDPAAuto
// itself only accepts one mask shared by every head).
func floatMultiHeadSDPA(pool workerpool.Executor, q, k, v []float32, rm resolvedMask, output []float32, b, hq, hkv, qLen, kvLen, s int, scale float32) {
	headsPerKVHead := hq / hkv
	qHeadStride := qLen * s
	kvHeadStride := kvLen * s
	maskLen := qLen * kvLen
	totalHeads := b * hq

	doHead := func(idx int) {
		batch := idx / hq
		head := idx % hq
		kvHead := head / headsPerKVHead

		qOff := (batch*hq + head) * qHeadStride
		kOff := (batch*hkv + kvHead) * kvHeadStride
		vOff := kOff
		oOff := qOff

		qSlice := q[qOff : qOff+qHeadStride]
		kSlice := k[kOff : kOff+kvHeadStride]
		vSlice := v[vOff : vOff+kvHeadStride]
		oSlice := output[oOff : oOff+qHeadStride]

		if rm.additive == nil {
			if rm.causal {
				nn.SDPACausalAuto(qSlice, kSlice, vSlice, oSlice, qLen, kvLen, s, scale)
			} else {
				nn.SDPAAuto(qSlice, kSlice, vSlice, nil, oSlice, qLen, kvLen, s, scale)
			}
			return
		}

		maskOff := batch*rm.batchStride + head*rm.headStride
		maskSlice := rm.additive[maskOff : maskOff+maskLen]
		nn.SDPAAuto(qSlice, kSlice, vSlice, maskSlice, oSlice, qLen, kvLen, s, scale)
	}

	if pool != nil {
		pool.ParallelForAtomic(totalHeads, doHead)
	} else {
		for i := range totalHeads {
			doHead(i)
		}
	}
}

// blockPanelMultiHeadSDPA is the panel-oriented counterpart to
// floatMultiHeadSDPA: instead of a fused per-row SDPA kernel, it
// materializes the whole [qLen, kvLen] score panel per head via
// matmul.MatMulKLastAuto (Q @ K^T, K-last layout), applies mask and softmax
// over the panel, then contracts it against V via matmul.MatMulAuto. This is
// the path large-enough prefill shapes route through (engine.BlockPanel,
// engine.SGEMM) so the packed-panel setup cost matmul.MatMulAuto already
// pays internally is amortized across the whole panel rather than redone
// per fused row. Requires a non-nil pool: it is passed to the per-head
// ParallelForAtomic dispatch, but never down into the matmul calls
// themselves, since heads already run on the pool's fixed workers and
// nesting a second ParallelForAtomic under the first would starve it of
// free workers to run on.
func blockPanelMultiHeadSDPA(pool workerpool.Executor, q, k, v []float32, rm resolvedMask, output []float32, b, hq, hkv, qLen, kvLen, s int, scale float32) {
	headsPerKVHead := hq / hkv
	qHeadStride := qLen * s
	kvHeadStride := kvLen * s
	maskLen := qLen * kvLen
	totalHeads := b * hq

	doHead := func(idx int) {
		batch := idx / hq
		head := idx % hq
		kvHead := head / headsPerKVHead

		qOff := (batch*hq + head) * qHeadStride
		kOff := (batch*hkv + kvHead) * kvHeadStride
		vOff := kOff
		oOff := qOff

		qSlice := q[qOff : qOff+qHeadStride]
		kSlice := k[kOff : kOff+kvHeadStride]
		vSlice := v[vOff : vOff+kvHeadStride]
		oSlice := output[oOff : oOff+qHeadStride]

		// Per-head work already runs on the pool via ParallelForAtomic below;
		// these matmul calls must not be handed the same pool, or a large
		// enough panel pushes MatMulKLastAuto/MatMulAuto into their own
		// pool.ParallelForAtomic and every worker blocks waiting on work
		// items none of them are free to pick up.
		scores := make([]float32, qLen*kvLen)
		matmul.MatMulKLastAuto(nil, qSlice, kSlice, scores, qLen, kvLen, s)

		for i := range scores {
			scores[i] *= scale
		}

		switch {
		case rm.causal:
			offset := kvLen - qLen
			for i := range qLen {
				row := scores[i*kvLen : (i+1)*kvLen]
				for j := offset + i + 1; j < kvLen; j++ {
					row[j] = negInf
				}
			}
		case rm.additive != nil:
			maskOff := batch*rm.batchStride + head*rm.headStride
			maskSlice := rm.additive[maskOff : maskOff+maskLen]
			for i := range scores {
				scores[i] += maskSlice[i]
			}
		}

		for i := range qLen {
			nn.BaseSoftmaxInPlace(scores[i*kvLen : (i+1)*kvLen])
		}

		matmul.MatMulAuto(nil, scores, vSlice, oSlice, qLen, s, kvLen)
	}

	if pool != nil {
		pool.ParallelForAtomic(totalHeads, doHead)
	} else {
		for i := range totalHeads {
			doHead(i)
		}
	}
}
