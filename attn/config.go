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

// Package attn implements the prefill and incremental attention kernels on
// top of the matmul/softmax/quantization primitives in hwy/contrib, wiring
// them to a kvcache.Cache for the incremental path.
package attn

import "github.com/ajroetker/sdpa-engine/kvcache"

// Config mirrors the external attention configuration surface: output
// layout, causal/mask fusion flags, and the precision used for KV-cache
// storage (which also selects the quantized compute kernel when U8).
type Config struct {
	// OutputBLHxS requests output laid out as [B, qLen, Hq, S] (BLHxS)
	// instead of the canonical [B, Hq, qLen, S] (BHSD).
	OutputBLHxS bool

	// FuseCausalAttn requests the causal mask be applied without
	// materializing a mask buffer. Prefill ORs it with IsCausal, so it takes
	// effect only when Mask is MaskNone (MaskAutoCausal is causal already).
	// It does not replace a MaskBoolCausal buffer: that mask is still
	// materialized and applied as given.
	FuseCausalAttn bool

	// IsCausal marks the call as causal even when Mask is MaskNone,
	// matching the convention that auto-causal requires no mask buffer.
	IsCausal bool

	// FuseConcat is accepted as part of the configuration surface, but no
	// kernel reads it: the incremental path always appends new K/V rows to
	// the cache as a separate step before decoding the history, whatever
	// this flag says.
	FuseConcat bool

	// PermuteAxes requests a general logical-to-canonical axis permutation
	// of the [B, Hq, qLen, S] output: PermuteAxes[i] names which canonical
	// axis (0=B, 1=Hq, 2=qLen, 3=S) supplies destination axis i. Applied by
	// stride remapping at the output-materialization step, not by a
	// fixed-swap copy, so any of the 24 axis orders can be requested, not
	// just the BHSD<->BLHxS swap OutputBLHxS expresses. The zero value
	// ([4]int{0,0,0,0}) is not a valid permutation (a real permutation is a
	// bijection on {0,1,2,3}) and is used as "no permutation requested";
	// when both this and OutputBLHxS are set, PermuteAxes takes priority.
	PermuteAxes [4]int

	// KVCachePrecision selects both the KV-cache storage precision and,
	// when U8, the quantized integer compute kernel.
	KVCachePrecision kvcache.Precision

	// KernelHint lets a caller (engine.Engine, in practice) pick which
	// float compute path Prefill's per-head loop uses. It has no effect on
	// the quantized U8 path, which always runs nn.MultiHeadQuantizedSDPA.
	// Zero value is HintAuto.
	KernelHint KernelHint
}

// KernelHint selects the float compute path a Prefill call runs per head.
type KernelHint int

const (
	// HintAuto runs the fused SDPA kernel (nn.SDPAAuto/SDPACausalAuto),
	// which computes each head's [qLen, kvLen] scores into a pooled scratch
	// buffer rather than through a separate matmul call.
	HintAuto KernelHint = iota

	// HintPanel explicitly materializes the score matrix via
	// matmul.MatMulKLastAuto (Q @ K^T), applies mask+softmax over it, and
	// contracts it against V via matmul.MatMulAuto — the block-panel/SGEMM
	// path large prefill shapes are routed through so packing cost is
	// amortized across the whole [qLen, kvLen] panel instead of computed
	// per fused row.
	HintPanel
)

// MaskKind selects how masking is expressed for one call.
type MaskKind int

const (
	// MaskNone applies no masking: every query attends to every key.
	MaskNone MaskKind = iota

	// MaskAdditive supplies an explicit additive float buffer, added to
	// scaled scores before softmax.
	MaskAdditive

	// MaskBoolCausal supplies an explicit boolean buffer with a
	// configurable polarity bit (Polarity true means true-valued entries
	// are attended, false means true-valued entries are masked out).
	MaskBoolCausal

	// MaskALiBi applies a per-head linear positional bias on top of an
	// implicit causal mask.
	MaskALiBi

	// MaskAutoCausal applies a lower-triangular causal mask without
	// materializing any buffer.
	MaskAutoCausal
)

// Mask describes masking for one attention call. Only the fields relevant
// to Kind are consulted.
type Mask struct {
	Kind MaskKind

	// Additive is consulted when Kind == MaskAdditive: an additive mask
	// of shape [qLen, kvLen], optionally broadcast across batch/head via
	// BatchStride/HeadStride (0 means shared across that axis).
	Additive               []float32
	BatchStride, HeadStride int

	// Bool and Polarity are consulted when Kind == MaskBoolCausal: a
	// [qLen, kvLen] boolean buffer where Polarity decides whether true
	// means "attend" (Polarity == true) or "mask out" (Polarity == false).
	Bool     []bool
	Polarity bool

	// ALiBiSlopes is consulted when Kind == MaskALiBi: one slope per
	// query head, applied as slope*(j-c) added to the causal score at
	// query position i, key position j, where c = i+kvLen-qLen is the last
	// key position query i may attend (so the bias there is 0).
	ALiBiSlopes []float32
}
