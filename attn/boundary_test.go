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
	"testing"
)

// TestPrefillZeroKVLen is a degenerate but valid shape adjacent to B2 (no
// history at all, rather than the single-history-row B2 names): output must
// still be correctly sized, just over an empty softmax domain (every row's
// weights sum to nothing, so the kernel's empty-row behavior is exercised
// rather than a division by zero propagating into the result).
func TestPrefillZeroKVLen(t *testing.T) {
	b, hq, hkv, qLen, kvLen, s := 1, 1, 1, 1, 0, 1
	q := []float32{1}
	out, err := Prefill(Config{}, q, nil, nil, Mask{}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(kvLen=0): %v", err)
	}
	if len(out) != b*hq*qLen*s {
		t.Fatalf("len(out) = %d, want %d", len(out), b*hq*qLen*s)
	}
}

// TestPrefillZeroQLen covers B1: q_len == 0 means nothing to compute; the
// call must succeed and return a zero-length output rather than error.
func TestPrefillZeroQLen(t *testing.T) {
	b, hq, hkv, qLen, kvLen, s := 1, 1, 1, 0, 2, 1
	k := []float32{1, 2}
	v := []float32{3, 4}
	out, err := Prefill(Config{}, nil, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill(qLen=0): %v", err)
	}
	if len(out) != 0 {
		t.Errorf("len(out) = %d, want 0", len(out))
	}
}

// TestPrefillKVLenOne covers B2: kv_len == 1 means softmax over a single key
// is the identity — every query position's output equals V regardless of Q,
// since the one key's weight is always 1.
func TestPrefillKVLenOne(t *testing.T) {
	b, hq, hkv, qLen, kvLen, s := 1, 2, 2, 3, 1, 1
	q := []float32{-5, 0, 5, 100, -100, 0.5}
	k := []float32{1, 1}
	v := []float32{7, 8}

	out, err := Prefill(Config{}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	want := []float32{7, 7, 7, 8, 8, 8}
	for i := range want {
		if out[i] != want[i] {
			t.Errorf("out[%d] = %v, want %v (kv_len=1 reduces softmax to the identity over V)", i, out[i], want[i])
		}
	}
}

// TestPrefillFullyMaskedRowIsZero covers B3: a query row with every key
// masked out must produce zeros, not NaN (a real -Inf additive mask row
// softmaxes to 0/0 unless explicitly corrected; see zeroFullyMaskedRows).
func TestPrefillFullyMaskedRowIsZero(t *testing.T) {
	b, hq, hkv, qLen, kvLen, s := 1, 1, 1, 2, 2, 1
	q := []float32{1, 2}
	k := []float32{1, 1}
	v := []float32{5, 9}

	negInf := float32(math.Inf(-1))
	additive := []float32{
		0, 0, // row 0: fully open
		negInf, negInf, // row 1: fully masked
	}

	out, err := Prefill(Config{}, q, k, v, Mask{Kind: MaskAdditive, Additive: additive}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if math.IsNaN(float64(out[1])) {
		t.Fatalf("out[1] = NaN, want 0 for a fully-masked row")
	}
	if out[1] != 0 {
		t.Errorf("out[1] = %v, want 0 for a fully-masked row", out[1])
	}
	// Row 0 is unaffected: both keys equally weighted, mean of V.
	if want := float32(7); math.Abs(float64(out[0]-want)) > 1e-5 {
		t.Errorf("out[0] = %v, want %v", out[0], want)
	}
}
