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

// Package engine selects a kernel strategy per call and dispatches to the
// attn package, owning a per-Engine primitive cache keyed by call shape and
// the worker pool attn kernels run on.
package engine

import (
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/ajroetker/sdpa-engine/attn"
	"github.com/ajroetker/sdpa-engine/attnerr"
	"github.com/ajroetker/sdpa-engine/hwy"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/workerpool"
	"github.com/ajroetker/sdpa-engine/kvcache"
)

// KernelStrategy is the closed set of compute paths the dispatcher chooses
// between. It has no plugin mechanism: adding a strategy means extending
// this enum and selectStrategy together.
type KernelStrategy int

const (
	// FullMatmul runs Prefill's default fused per-head SDPA kernel
	// (attn.HintAuto) with no separate matmul call. Chosen for small
	// problems where packing overhead would dominate, and for any prefill
	// shape that neither the SGEMM nor the BlockPanel rule picks.
	FullMatmul KernelStrategy = iota

	// BlockPanel tiles the score matrix into cache-sized blocks, trading
	// call overhead for better cache reuse on large prefill shapes.
	BlockPanel

	// SGEMM routes through the packed-B panel path for large, deep-K
	// shapes where repeated packing cost is amortized across many rows.
	SGEMM

	// Incremental is the single-query-row, indirection-aware
	// dot-product-accumulator path used whenever q_len == 1 and a cache
	// is present.
	Incremental
)

func (k KernelStrategy) String() string {
	switch k {
	case FullMatmul:
		return "FullMatmul"
	case BlockPanel:
		return "BlockPanel"
	case SGEMM:
		return "SGEMM"
	case Incremental:
		return "Incremental"
	default:
		return "Unknown"
	}
}

// primitiveKey identifies a derived matmul primitive (e.g. a packed-B
// layout) by the shape and precision that produced it. Structural equality
// and hashing come from Go's native comparison of this struct, not from
// hashing raw byte layouts.
type primitiveKey struct {
	strategy  KernelStrategy
	hq, hkv   int
	qLen      int
	kvLen     int
	s         int
	precision kvcache.Precision
}

// Engine owns the worker pool kernels run on, the logger used for dispatch
// diagnostics, and its own primitive cache keyed by shape (one per Engine,
// not shared between Engines). The
// cache is a concurrent map with single-writer-at-prepare-time semantics:
// a shape is computed once by whichever caller first requests it, then read
// concurrently by every subsequent caller with the same shape.
type Engine struct {
	Pool   workerpool.Executor
	Logger *logrus.Logger

	primitives sync.Map // primitiveKey -> *primitiveEntry
}

type primitiveEntry struct {
	once  sync.Once
	level hwy.DispatchLevel
}

// New builds an Engine around the given pool. A nil pool runs kernels on
// the calling goroutine. A nil logger gets a logrus.Logger with default
// settings (stderr, text formatter, Info level).
func New(pool workerpool.Executor, logger *logrus.Logger) *Engine {
	if logger == nil {
		logger = logrus.New()
	}
	return &Engine{Pool: pool, Logger: logger}
}

// selectStrategy implements the C7 decision tree: precision, H_q vs H_kv,
// q_len and cache presence first (these determine correctness, not just
// performance), then the teacher's matmul.MatMulAuto size thresholds decide
// between the matmul-backed strategies for the prefill regime.
func selectStrategy(precision kvcache.Precision, hq, hkv, qLen, kvLen, s int, haveCache bool) KernelStrategy {
	if qLen == 1 && haveCache {
		return Incremental
	}

	totalOps := qLen * kvLen * s
	largeThreshold := matmulLargeMatrixThreshold
	if precision == kvcache.U8 {
		// Int8 accumulation is cheaper per op than float32, so the packed
		// path earns back its setup cost at a smaller problem size.
		largeThreshold /= matmulU8ThresholdDivisor
	}

	switch {
	case totalOps < matmulSmallMatrixThreshold:
		return FullMatmul
	case s*4 >= kvLen && totalOps >= largeThreshold:
		return SGEMM
	case hq > hkv:
		// Grouped-query prefill reuses the same K/V panel across several
		// query heads; block-panel amortizes the packing cost across them.
		return BlockPanel
	default:
		return FullMatmul
	}
}

// backendUnavailable reports whether strategy cannot run at the given
// dispatch level. SGEMM is only chosen for deep-K shapes (see
// selectStrategy) on the assumption that matmul's packed-B path earns back
// its setup cost on real SIMD hardware; on a pure-scalar build that
// assumption is false, so the strategy is unsupported rather than silently
// slow. A standalone function so tests can exercise the decision directly
// without forcing the runtime's actual detected hwy.DispatchLevel.
func backendUnavailable(strategy KernelStrategy, level hwy.DispatchLevel) bool {
	return strategy == SGEMM && level == hwy.DispatchScalar
}

// Mirrors matmul.SmallMatrixThreshold/LargeMatrixThreshold/DeepKRatio
// without importing the matmul package's internal tuning constants
// directly, since the dispatcher's threshold is in score-matrix element
// count (qLen*kvLen*S) rather than the matmul package's (M*N*K) convention.
const (
	matmulSmallMatrixThreshold = 64 * 64 * 64
	matmulLargeMatrixThreshold = 1024 * 1024 * 1024
	matmulU8ThresholdDivisor   = 4
)

// Run is the single compute entry point: given a cache (nil for a cache-free
// prefill) and the current query block, it selects a strategy, logs the
// decision, and dispatches to attn.Prefill or attn.Incremental.
//
// When cache is non-nil and already warm, qLen must be 1: prefill against a
// non-empty pre-existing cache is out of domain (unresolved by the source
// system this engine is modeled on, which always routes to the incremental
// path once history exists) and is rejected as a precondition failure
// rather than guessing a semantics for it.
func (e *Engine) Run(cfg attn.Config, cache *kvcache.Cache, q, k, v []float32, mask attn.Mask, b, hq, hkv, qLen, kvLen, s int, scale float32) ([]float32, error) {
	haveCache := cache != nil && cache.Length() > 0
	if haveCache && qLen != 1 {
		return nil, attnerr.New(attnerr.PreconditionFailure, "engine.Run", "prefill with qLen>1 against a non-empty cache is out of domain; use Incremental one step at a time")
	}

	strategy := selectStrategy(cfg.KVCachePrecision, hq, hkv, qLen, kvLen, s, haveCache)
	level := e.touchPrimitive(strategy, hq, hkv, qLen, kvLen, s, cfg.KVCachePrecision)

	e.Logger.WithFields(logrus.Fields{
		"strategy": strategy.String(),
		"hq":       hq,
		"hkv":      hkv,
		"qLen":     qLen,
		"kvLen":    kvLen,
		"cache":    haveCache,
		"level":    level.String(),
	}).Debug("engine: dispatching attention call")

	if backendUnavailable(strategy, level) {
		return nil, attnerr.New(attnerr.BackendUnavailable, "engine.Run", "SGEMM strategy requires a SIMD dispatch level; current level is scalar")
	}

	switch strategy {
	case Incremental:
		return attn.Incremental(cfg, cache, q, mask, b, hq, s, scale, e.Pool)
	case BlockPanel, SGEMM:
		cfg.KernelHint = attn.HintPanel
		return attn.Prefill(cfg, q, k, v, mask, b, hq, hkv, qLen, kvLen, s, scale, e.Pool)
	default:
		return attn.Prefill(cfg, q, k, v, mask, b, hq, hkv, qLen, kvLen, s, scale, e.Pool)
	}
}

// touchPrimitive records that a given shape has been dispatched, seeding
// the dispatch-level entry for that shape exactly once. Kernels themselves
// still resolve dispatch level through hwy.CurrentLevel(); this cache exists
// so repeated calls with the same shape don't redo that resolution under
// contention (SPEC_FULL's "global primitive cache" design note).
func (e *Engine) touchPrimitive(strategy KernelStrategy, hq, hkv, qLen, kvLen, s int, precision kvcache.Precision) hwy.DispatchLevel {
	key := primitiveKey{strategy: strategy, hq: hq, hkv: hkv, qLen: qLen, kvLen: kvLen, s: s, precision: precision}
	actual, _ := e.primitives.LoadOrStore(key, &primitiveEntry{})
	entry := actual.(*primitiveEntry)
	entry.once.Do(func() {
		entry.level = hwy.CurrentLevel()
	})
	return entry.level
}
