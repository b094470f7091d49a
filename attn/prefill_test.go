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

	"github.com/ajroetker/sdpa-engine/attnerr"
	"github.com/ajroetker/sdpa-engine/kvcache"
)

// TestPrefillCausalWorkedExample reproduces the worked numeric scenario:
// B=1, H=1, qLen=2, kvLen=2, S=1, causal, Q=[[1],[2]], K=[[1],[1]], V=[[1],[3]].
// Row 0 can only see key 0 (value 1). Row 1 sees both keys with identical
// scores (Q1·K0 == Q1·K1 == 2), so softmax weights are equal and the output
// is the mean of V: (1+3)/2 = 2.
func TestPrefillCausalWorkedExample(t *testing.T) {
	q := []float32{1, 2}
	k := []float32{1, 1}
	v := []float32{1, 3}

	out, err := Prefill(Config{IsCausal: true}, q, k, v, Mask{Kind: MaskAutoCausal}, 1, 1, 1, 2, 2, 1, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}

	if math.Abs(float64(out[0]-1)) > 1e-5 {
		t.Errorf("out[0] = %v, want 1 (position 0 can only attend to key 0)", out[0])
	}
	if math.Abs(float64(out[1]-2)) > 1e-5 {
		t.Errorf("out[1] = %v, want 2 (equal scores -> mean of V)", out[1])
	}
}

func TestPrefillRejectsNonMultipleHeads(t *testing.T) {
	q := make([]float32, 1*3*1*1)
	k := make([]float32, 1*2*1*1)
	v := make([]float32, 1*2*1*1)

	_, err := Prefill(Config{}, q, k, v, Mask{}, 1, 3, 2, 1, 1, 1, 1.0, nil)
	if !attnerr.Is(err, attnerr.PreconditionFailure) {
		t.Errorf("Prefill with Hq=3,Hkv=2 error = %v, want PreconditionFailure", err)
	}
}

func TestPrefillGroupedQueryAttention(t *testing.T) {
	// Hq=4, Hkv=2: heads 0,1 share kv head 0; heads 2,3 share kv head 1.
	b, hq, hkv, qLen, kvLen, s := 1, 4, 2, 1, 1, 1
	q := []float32{1, 1, 5, 5}
	k := []float32{1, 5}
	v := []float32{10, 20}

	out, err := Prefill(Config{}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	// kvLen==1 means softmax is degenerate (single key): every head's
	// output equals its kv head's only value, regardless of Q.
	want := []float32{10, 10, 20, 20}
	for i := range want {
		if math.Abs(float64(out[i]-want[i])) > 1e-4 {
			t.Errorf("out[%d] = %v, want %v", i, out[i], want[i])
		}
	}
}

func TestPrefillOutputBLHxSPermute(t *testing.T) {
	b, hq, hkv, qLen, kvLen, s := 1, 2, 1, 2, 1, 1
	q := []float32{1, 2, 3, 4}
	k := []float32{1}
	v := []float32{9}

	out, err := Prefill(Config{OutputBLHxS: true}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 1.0, nil)
	if err != nil {
		t.Fatalf("Prefill: %v", err)
	}
	if len(out) != b*qLen*hq*s {
		t.Fatalf("len(out) = %d, want %d", len(out), b*qLen*hq*s)
	}
	for i, v := range out {
		if v != 9 {
			t.Errorf("out[%d] = %v, want 9 (kvLen=1 degenerate softmax)", i, v)
		}
	}
}

func TestPrefillU8QuantizedPath(t *testing.T) {
	b, hq, hkv, qLen, kvLen, s := 1, 1, 1, 2, 2, 4
	q := make([]float32, qLen*s)
	k := make([]float32, kvLen*s)
	v := make([]float32, kvLen*s)
	for i := range q {
		q[i] = float32(i) * 0.1
	}
	for i := range k {
		k[i] = float32(i) * 0.2
		v[i] = float32(i) * 0.3
	}

	out, err := Prefill(Config{}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 0.5, nil)
	if err != nil {
		t.Fatalf("Prefill (float): %v", err)
	}

	outQ, err := Prefill(Config{KVCachePrecision: kvcache.U8}, q, k, v, Mask{}, b, hq, hkv, qLen, kvLen, s, 0.5, nil)
	if err != nil {
		t.Fatalf("Prefill (u8): %v", err)
	}

	for i := range out {
		if math.Abs(float64(out[i]-outQ[i])) > 0.2 {
			t.Errorf("quantized out[%d] = %v, float out[%d] = %v, diverge beyond int8 tolerance", i, outQ[i], i, out[i])
		}
	}
}
