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
	"math"
	"math/rand"
	"testing"

	"github.com/ajroetker/sdpa-engine/hwy/contrib/workerpool"
	"github.com/ajroetker/sdpa-engine/kvcache"
)

func randomTensor(rng *rand.Rand, n int) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = float32(rng.NormFloat64())
	}
	return out
}

// TestKernelHintPanelMatchesFusedKernel covers P3's kernel-path-equivalence
// shape: HintPanel (matmul.MatMulKLastAuto + softmax + matmul.MatMulAuto,
// the engine.BlockPanel/SGEMM path) must agree with HintAuto (the fused
// nn.SDPAAuto/SDPACausalAuto path, engine.FullMatmul) on the same inputs,
// for both an unmasked and a causal call. This is exactly the check that
// would have caught engine.KernelStrategy's dispatch being cosmetic: before
// blockPanelMultiHeadSDPA existed, HintPanel and HintAuto were the same
// function, so this test could not have distinguished them.
func TestKernelHintPanelMatchesFusedKernel(t *testing.T) {
	pool := workerpool.New(2)
	defer pool.Close()

	rng := rand.New(rand.NewSource(7))
	b, hq, hkv, qLen, kvLen, s := 1, 2, 1, 4, 6, 8
	scale := float32(1.0 / math.Sqrt(float64(s)))

	q := randomTensor(rng, b*hq*qLen*s)
	k := randomTensor(rng, b*hkv*kvLen*s)
	v := randomTensor(rng, b*hkv*kvLen*s)

	for _, causal := range []bool{false, true} {
		mask := Mask{}
		cfg := Config{}
		if causal {
			mask = Mask{Kind: MaskAutoCausal}
			cfg.IsCausal = true
		}

		auto, err := Prefill(cfg, q, k, v, mask, b, hq, hkv, qLen, kvLen, s, scale, pool)
		if err != nil {
			t.Fatalf("Prefill(HintAuto, causal=%v): %v", causal, err)
		}
		cfg.KernelHint = HintPanel
		panel, err := Prefill(cfg, q, k, v, mask, b, hq, hkv, qLen, kvLen, s, scale, pool)
		if err != nil {
			t.Fatalf("Prefill(HintPanel, causal=%v): %v", causal, err)
		}

		for i := range auto {
			if diff := math.Abs(float64(auto[i] - panel[i])); diff > 1e-4 {
				t.Errorf("causal=%v: HintAuto[%d]=%v, HintPanel[%d]=%v, diff %v", causal, i, auto[i], i, panel[i], diff)
			}
		}
	}
}

// TestPrefillPermutationInvariance covers P2: PermuteAxes expressing the
// identity permutation must reproduce the canonical BHSD output exactly,
// and the BLHxS-equivalent permutation ([0,2,1,3]: dest axis 1 takes the
// source qLen axis, dest axis 2 takes the source Hq axis) must reproduce
// what OutputBLHxS's fixed-swap helper produces — proving the general
// stride-based remap and the old special-cased copy agree, not just that
// PermuteAxes runs.
func TestPrefillPermutationInvariance(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	b, hq, hkv, qLen, kvLen, s := 2, 3, 1, 4, 4, 5
	q := randomTensor(rng, b*hq*qLen*s)
	k := randomTensor(rng, b*hkv*kvLen*s)
	v := randomTensor(rng, b*hkv*kvLen*s)

	base, err := Prefill(Config{}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(base): %v", err)
	}

	identity, err := Prefill(Config{PermuteAxes: [4]int{0, 1, 2, 3}}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(identity permute): %v", err)
	}
	for i := range base {
		if base[i] != identity[i] {
			t.Fatalf("identity PermuteAxes[%d] = %v, want %v (unchanged)", i, identity[i], base[i])
		}
	}

	blhxs, err := Prefill(Config{OutputBLHxS: true}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(OutputBLHxS): %v", err)
	}
	swapped, err := Prefill(Config{PermuteAxes: [4]int{0, 2, 1, 3}}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(swap permute): %v", err)
	}
	for i := range blhxs {
		if blhxs[i] != swapped[i] {
			t.Fatalf("PermuteAxes[%d] = %v, want %v (must match OutputBLHxS's BLHxS layout)", i, swapped[i], blhxs[i])
		}
	}
}

// TestPrefillCausalMaterializedMatchesAutoCausal covers P7: an explicit
// lower-triangular boolean causal mask (materialized into an additive
// buffer) must produce the same result as the implicit MaskAutoCausal path,
// which applies the causal restriction without ever materializing a buffer.
func TestPrefillCausalMaterializedMatchesAutoCausal(t *testing.T) {
	rng := rand.New(rand.NewSource(13))
	b, hq, hkv, qLen, kvLen, s := 1, 2, 2, 4, 4, 6
	q := randomTensor(rng, b*hq*qLen*s)
	k := randomTensor(rng, b*hkv*kvLen*s)
	v := randomTensor(rng, b*hkv*kvLen*s)

	auto, err := Prefill(Config{IsCausal: true}, q, k, v, Mask{Kind: MaskAutoCausal}, b, hq, hkv, qLen, kvLen, s, 0.5, nil)
	if err != nil {
		t.Fatalf("Prefill(auto-causal): %v", err)
	}

	boolMask := make([]bool, qLen*kvLen)
	for i := range qLen {
		for j := range kvLen {
			boolMask[i*kvLen+j] = j <= i // lower triangular: attend when key <= query position
		}
	}
	materialized, err := Prefill(Config{}, q, k, v, Mask{Kind: MaskBoolCausal, Bool: boolMask, Polarity: true}, b, hq, hkv, qLen, kvLen, s, 0.5, nil)
	if err != nil {
		t.Fatalf("Prefill(materialized causal): %v", err)
	}

	for i := range auto {
		if diff := math.Abs(float64(auto[i] - materialized[i])); diff > 1e-5 {
			t.Errorf("auto-causal[%d]=%v, materialized-causal[%d]=%v, diff %v", i, auto[i], i, materialized[i], diff)
		}
	}
}

// TestPrefillMaskPolarity covers P8: MaskBoolCausal's Polarity bit must
// actually flip which boolean value means "attend" — a mask and its bitwise
// complement, combined with flipped Polarity, must produce identical output.
func TestPrefillMaskPolarity(t *testing.T) {
	b, hq, hkv, qLen, kvLen, s := 1, 1, 1, 2, 2, 1
	q := []float32{1, 2}
	k := []float32{1, 1}
	v := []float32{5, 9}

	attendMask := []bool{true, false, true, true}
	out1, err := Prefill(Config{}, q, k, v, Mask{Kind: MaskBoolCausal, Bool: attendMask, Polarity: true}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(polarity=true): %v", err)
	}

	complement := make([]bool, len(attendMask))
	for i, v := range attendMask {
		complement[i] = !v
	}
	out2, err := Prefill(Config{}, q, k, v, Mask{Kind: MaskBoolCausal, Bool: complement, Polarity: false}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(polarity=false, complement mask): %v", err)
	}

	for i := range out1 {
		if out1[i] != out2[i] {
			t.Errorf("out1[%d]=%v, out2[%d]=%v, want equal (complement mask + flipped polarity means the same thing)", i, out1[i], i, out2[i])
		}
	}
}

// TestIncrementalMatchesPrefillOverConcatenatedHistory covers P3: the
// incremental single-pass accumulator must agree with an independent
// from-scratch Prefill call over the same K/V history concatenated with the
// new step, for every position appended one at a time. This is the test
// that would have caught Incremental previously being a thin wrapper around
// Prefill itself (a tautology that can never fail).
func TestIncrementalMatchesPrefillOverConcatenatedHistory(t *testing.T) {
	rng := rand.New(rand.NewSource(17))
	b, hq, hkv, s := 1, 2, 1, 4
	scale := float32(1.0 / math.Sqrt(float64(s)))

	cache, err := kvcache.New(b, hkv, s, kvcache.FP32)
	if err != nil {
		t.Fatalf("kvcache.New: %v", err)
	}

	var allK, allV []float32
	const steps = 5
	for step := range steps {
		kRow := randomTensor(rng, b*hkv*s)
		vRow := randomTensor(rng, b*hkv*s)
		if err := cache.Append(kRow, vRow, 1); err != nil {
			t.Fatalf("Append step %d: %v", step, err)
		}
		allK = append(allK, kRow...)
		allV = append(allV, vRow...)

		q := randomTensor(rng, b*hq*s)
		got, err := Incremental(Config{}, cache, q, Mask{}, b, hq, s, scale, nil)
		if err != nil {
			t.Fatalf("Incremental step %d: %v", step, err)
		}

		kvLen := step + 1
		want, err := Prefill(Config{}, q, allK, allV, Mask{}, b, hq, hkv, 1, kvLen, s, scale, nil)
		if err != nil {
			t.Fatalf("Prefill reference step %d: %v", step, err)
		}

		for i := range got {
			if diff := math.Abs(float64(got[i] - want[i])); diff > 1e-4 {
				t.Errorf("step %d: Incremental[%d]=%v, Prefill reference[%d]=%v, diff %v", step, i, got[i], i, want[i], diff)
			}
		}
	}
}

// TestIncrementalSixteenStepDecode runs a longer decode loop than
// TestIncrementalMatchesPrefillOverConcatenatedHistory (16 steps rather than
// 5) against a grouped-query shape (Hq=4, Hkv=2), the scenario a real decode
// loop looks like: one token appended and attended over per step, cache
// growth (kvcache's capacity doubling) crossed more than once along the way.
func TestIncrementalSixteenStepDecode(t *testing.T) {
	rng := rand.New(rand.NewSource(19))
	b, hq, hkv, s := 1, 4, 2, 8
	scale := float32(1.0 / math.Sqrt(float64(s)))

	cache, err := kvcache.New(b, hkv, s, kvcache.FP32)
	if err != nil {
		t.Fatalf("kvcache.New: %v", err)
	}

	// Prefill takes K/V as [B, Hkv, kvLen, S], so each head's history is
	// kept contiguous (b == 1 here) rather than appended step by step.
	headK := make([][]float32, hkv)
	headV := make([][]float32, hkv)
	const steps = 16
	for step := range steps {
		kRow := randomTensor(rng, b*hkv*s)
		vRow := randomTensor(rng, b*hkv*s)
		if err := cache.Append(kRow, vRow, 1); err != nil {
			t.Fatalf("Append step %d: %v", step, err)
		}
		for h := range hkv {
			headK[h] = append(headK[h], kRow[h*s:(h+1)*s]...)
			headV[h] = append(headV[h], vRow[h*s:(h+1)*s]...)
		}

		q := randomTensor(rng, b*hq*s)
		got, err := Incremental(Config{}, cache, q, Mask{}, b, hq, s, scale, nil)
		if err != nil {
			t.Fatalf("Incremental step %d: %v", step, err)
		}

		var allK, allV []float32
		for h := range hkv {
			allK = append(allK, headK[h]...)
			allV = append(allV, headV[h]...)
		}
		kvLen := step + 1
		want, err := Prefill(Config{}, q, allK, allV, Mask{}, b, hq, hkv, 1, kvLen, s, scale, nil)
		if err != nil {
			t.Fatalf("Prefill reference step %d: %v", step, err)
		}

		for i := range got {
			if diff := math.Abs(float64(got[i] - want[i])); diff > 1e-4 {
				t.Errorf("step %d: Incremental[%d]=%v, Prefill reference[%d]=%v, diff %v", step, i, got[i], i, want[i], diff)
			}
		}
	}
}

// cosineSimilarity computes the cosine similarity between two float32
// vectors, grounded on the same helper in hwy/contrib/nn's quantized-SDPA
// tests, which judge U8 quantization error by direction rather than
// magnitude (int8 accumulation shifts scale, not orientation).
func cosineSimilarity(a, b []float32) float64 {
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// TestPrefillU8QuantizedCosineSimilarity covers the U8 KV-cache path at a
// larger, random, multi-head shape than TestPrefillU8QuantizedPath's small
// fixed-pattern case, using cosine similarity (direction rather than
// magnitude) as the error metric, the way the teacher's own U8 SDPA tests
// judge quantization error.
func TestPrefillU8QuantizedCosineSimilarity(t *testing.T) {
	rng := rand.New(rand.NewSource(23))
	b, hq, hkv, qLen, kvLen, s := 2, 4, 2, 6, 10, 16
	q := randomTensor(rng, b*hq*qLen*s)
	k := randomTensor(rng, b*hkv*kvLen*s)
	v := randomTensor(rng, b*hkv*kvLen*s)

	ref, err := Prefill(Config{}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 0.25, nil)
	if err != nil {
		t.Fatalf("Prefill (float): %v", err)
	}
	quant, err := Prefill(Config{KVCachePrecision: kvcache.U8}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 0.25, nil)
	if err != nil {
		t.Fatalf("Prefill (u8): %v", err)
	}

	if sim := cosineSimilarity(ref, quant); sim < 0.99 {
		t.Errorf("cosine similarity between float and U8 output = %v, want >= 0.99", sim)
	}
}

// TestPrefillBoolMaskMatchesEquivalentAdditiveMask covers the boolean-vs-
// additive mask equivalence scenario: a MaskBoolCausal buffer and the
// MaskAdditive buffer it's equivalent to (0 where attend, -Inf where not)
// must drive Prefill to the exact same bytes, not just a numerically close
// result, since resolve() converts bool->additive before either mask kind
// reaches the kernel.
func TestPrefillBoolMaskMatchesEquivalentAdditiveMask(t *testing.T) {
	b, hq, hkv, qLen, kvLen, s := 1, 2, 1, 3, 4, 2
	rng := rand.New(rand.NewSource(29))
	q := randomTensor(rng, b*hq*qLen*s)
	k := randomTensor(rng, b*hkv*kvLen*s)
	v := randomTensor(rng, b*hkv*kvLen*s)

	boolMask := []bool{
		true, true, false, false,
		false, true, true, false,
		true, false, true, true,
	}
	negInfVal := float32(math.Inf(-1))
	additive := make([]float32, len(boolMask))
	for i, attend := range boolMask {
		if !attend {
			additive[i] = negInfVal
		}
	}

	fromBool, err := Prefill(Config{}, q, k, v, Mask{Kind: MaskBoolCausal, Bool: boolMask, Polarity: true}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(bool mask): %v", err)
	}
	fromAdditive, err := Prefill(Config{}, q, k, v, Mask{Kind: MaskAdditive, Additive: additive}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(additive mask): %v", err)
	}

	for i := range fromBool {
		if fromBool[i] != fromAdditive[i] {
			t.Errorf("fromBool[%d]=%v, fromAdditive[%d]=%v, want byte-identical (equivalent masks)", i, fromBool[i], i, fromAdditive[i])
		}
	}
}
