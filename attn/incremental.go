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
	stdmath "math"

	"github.com/ajroetker/sdpa-engine/attnerr"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/workerpool"
	"github.com/ajroetker/sdpa-engine/kvcache"
)

// Incremental computes attention for a single new query position (q_len ==
// 1) against the full history held in cache. The caller must Append the
// current step's key/value rows to cache before calling Incremental, so
// cache.Length() already includes the current position.
//
// q has shape [B, Hq, 1, S]. output has the same shape, or [B, 1, Hq, S]
// when cfg.OutputBLHxS is set.
//
// Unlike Prefill, this never materializes a [kvLen] score row: each cached
// key is decoded one at a time through cache.ReadRow (which resolves beam
// indirection per row, so a prior Reorder is already reflected) and folded
// into a running max/sum/weighted-V accumulator in a single pass, the same
// online-softmax recurrence the SME Flash Attention path elsewhere in the
// go-highway lineage uses (hwy/contrib/nn/asm/sdpa_sme_wrappers.go) to avoid
// ever holding the whole score row in memory.
func Incremental(cfg Config, cache *kvcache.Cache, q []float32, mask Mask, b, hq, s int, scale float32, pool workerpool.Executor) ([]float32, error) {
	hkv := cache.Hkv
	kvLen := cache.Length()

	if kvLen == 0 {
		return nil, attnerr.New(attnerr.PreconditionFailure, "attn.Incremental", "cache has no history; Append before calling Incremental")
	}
	if cache.S != s {
		return nil, attnerr.New(attnerr.PreconditionFailure, "attn.Incremental", "cache head dimension does not match S")
	}
	if len(q) != b*hq*s {
		return nil, attnerr.New(attnerr.PreconditionFailure, "attn.Incremental", "q length does not match B*Hq*S")
	}

	// A single new query position is always the most recent one, so the
	// causal frontier already covers every cached row; only an explicit
	// additive/ALiBi mask can still exclude individual keys.
	rm := resolve(mask, hq, 1, kvLen, false)
	output := make([]float32, b*hq*s)
	headsPerKVHead := hq / hkv
	totalHeads := b * hq

	doHead := func(idx int) {
		batch := idx / hq
		head := idx % hq
		kvHead := head / headsPerKVHead

		qOff := (batch*hq + head) * s
		qRow := q[qOff : qOff+s]
		oRow := output[qOff : qOff+s]

		var maskRow []float32
		if rm.additive != nil {
			maskOff := batch*rm.batchStride + head*rm.headStride
			maskRow = rm.additive[maskOff : maskOff+kvLen]
		}

		incrementalDotProductAccumulate(cache, batch, kvHead, qRow, maskRow, oRow, kvLen, s, scale)
	}

	if pool != nil {
		pool.ParallelForAtomic(totalHeads, doHead)
	} else {
		for i := range totalHeads {
			doHead(i)
		}
	}

	if permuted := applyPermuteAxes(cfg, output, b, hq, 1, s); permuted != nil {
		output = permuted
	} else if cfg.OutputBLHxS {
		output = permuteBHSDToBLHxS(output, b, hq, 1, s)
	}

	return output, nil
}

// incrementalDotProductAccumulate runs the online-softmax recurrence for one
// (batch, kv-head) query row: for each cached key in turn it computes the
// scaled dot product, rescales the running sum and accumulator whenever a
// new maximum score is seen, and folds in the corresponding value row. No
// [kvLen]-sized score buffer is ever materialized; ReadRow decodes one
// cached row at a time regardless of storage precision.
func incrementalDotProductAccumulate(cache *kvcache.Cache, batch, kvHead int, qRow, maskRow, oRow []float32, kvLen, s int, scale float32) {
	kRow := make([]float32, s)
	vRow := make([]float32, s)
	acc := make([]float32, s)

	runningMax := float32(stdmath.Inf(-1))
	runningSum := float32(0)
	anyUnmasked := false

	for j := range kvLen {
		if maskRow != nil && stdmath.IsInf(float64(maskRow[j]), -1) {
			continue
		}

		if err := cache.ReadRow(batch, kvHead, j, true, kRow); err != nil {
			continue
		}

		var dot float32
		for d := range s {
			dot += qRow[d] * kRow[d]
		}
		score := dot * scale
		if maskRow != nil {
			score += maskRow[j]
		}

		anyUnmasked = true
		if score > runningMax {
			if !stdmath.IsInf(float64(runningMax), -1) {
				correction := float32(stdmath.Exp(float64(runningMax - score)))
				runningSum *= correction
				for d := range s {
					acc[d] *= correction
				}
			}
			runningMax = score
		}

		weight := float32(stdmath.Exp(float64(score - runningMax)))
		runningSum += weight

		if err := cache.ReadRow(batch, kvHead, j, false, vRow); err != nil {
			continue
		}
		for d := range s {
			acc[d] += weight * vRow[d]
		}
	}

	if !anyUnmasked || runningSum == 0 {
		clear(oRow)
		return
	}

	invSum := 1 / runningSum
	for d := range s {
		oRow[d] = acc[d] * invSum
	}
}
