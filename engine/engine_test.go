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

package engine

import (
	"math"
	"testing"

	"github.com/ajroetker/sdpa-engine/attn"
	"github.com/ajroetker/sdpa-engine/attnerr"
	"github.com/ajroetker/sdpa-engine/hwy"
	"github.com/ajroetker/sdpa-engine/kvcache"
)

func TestSelectStrategyIncrementalRequiresCache(t *testing.T) {
	if s := selectStrategy(kvcache.FP32, 1, 1, 1, 32, 8, false); s == Incremental {
		t.Errorf("selectStrategy with qLen=1 and no cache chose Incremental, want a prefill strategy")
	}
	if s := selectStrategy(kvcache.FP32, 1, 1, 1, 32, 8, true); s != Incremental {
		t.Errorf("selectStrategy with qLen=1 and a cache chose %v, want Incremental", s)
	}
}

func TestSelectStrategySmallPrefersFullMatmul(t *testing.T) {
	if s := selectStrategy(kvcache.FP32, 1, 1, 4, 4, 4, false); s != FullMatmul {
		t.Errorf("selectStrategy for a tiny shape chose %v, want FullMatmul", s)
	}
}

func TestSelectStrategyGroupedQueryPrefersBlockPanel(t *testing.T) {
	if s := selectStrategy(kvcache.FP32, 8, 2, 256, 256, 128, false); s != BlockPanel {
		t.Errorf("selectStrategy for Hq>Hkv mid-size prefill chose %v, want BlockPanel", s)
	}
}

func TestBackendUnavailableOnlyBlocksSGEMMOnScalar(t *testing.T) {
	if !backendUnavailable(SGEMM, hwy.DispatchScalar) {
		t.Error("backendUnavailable(SGEMM, scalar) = false, want true")
	}
	if backendUnavailable(SGEMM, hwy.DispatchAVX2) {
		t.Error("backendUnavailable(SGEMM, avx2) = true, want false")
	}
	if backendUnavailable(BlockPanel, hwy.DispatchScalar) {
		t.Error("backendUnavailable(BlockPanel, scalar) = true, want false (only SGEMM needs packed-panel hardware)")
	}
	if backendUnavailable(FullMatmul, hwy.DispatchScalar) {
		t.Error("backendUnavailable(FullMatmul, scalar) = true, want false")
	}
}

func TestRunRejectsPrefillAgainstWarmCache(t *testing.T) {
	e := New(nil, nil)
	cache, err := kvcache.New(1, 1, 1, kvcache.FP32)
	if err != nil {
		t.Fatalf("kvcache.New: %v", err)
	}
	if err := cache.Append([]float32{1}, []float32{1}, 1); err != nil {
		t.Fatalf("Append: %v", err)
	}

	q := []float32{1, 2}
	k := []float32{1, 1}
	v := []float32{1, 3}
	_, err = e.Run(attn.Config{}, cache, q, k, v, attn.Mask{}, 1, 1, 1, 2, 2, 1, 1.0)
	if !attnerr.Is(err, attnerr.PreconditionFailure) {
		t.Errorf("Run(qLen=2, warm cache) error = %v, want PreconditionFailure", err)
	}
}

func TestRunCacheFreePrefillMatchesAttnPrefill(t *testing.T) {
	e := New(nil, nil)
	q := []float32{1, 2}
	k := []float32{1, 1}
	v := []float32{1, 3}

	out, err := e.Run(attn.Config{IsCausal: true}, nil, q, k, v, attn.Mask{Kind: attn.MaskAutoCausal}, 1, 1, 1, 2, 2, 1, 1.0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(float64(out[0]-1)) > 1e-5 || math.Abs(float64(out[1]-2)) > 1e-5 {
		t.Errorf("out = %v, want [1 2]", out)
	}
}

func TestRunIncrementalViaCache(t *testing.T) {
	e := New(nil, nil)
	cache, err := kvcache.New(1, 1, 1, kvcache.FP32)
	if err != nil {
		t.Fatalf("kvcache.New: %v", err)
	}
	if err := cache.Append([]float32{1, 1}, []float32{1, 3}, 2); err != nil {
		t.Fatalf("Append: %v", err)
	}

	q := []float32{2}
	out, err := e.Run(attn.Config{}, cache, q, nil, nil, attn.Mask{}, 1, 1, 1, 1, 2, 1, 1.0)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if math.Abs(float64(out[0]-2)) > 1e-5 {
		t.Errorf("out[0] = %v, want 2 (equal scores -> mean of V)", out[0])
	}
}
