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

// Package kvcache implements the key/value cache state machine for
// incremental decoding: Empty -> Warm -> {Warm | Resizing | Reorder}.
//
// A Cache stores past keys and values for one batch of sequences sharing
// the same head count, head dimension, and capacity. Rows are addressed
// logically (by decode position) and resolved to physical storage through
// a per-batch beam table, so a beam-search Reorder only rewrites indices
// rather than moving any stored row.
package kvcache

import (
	"golang.org/x/sync/errgroup"

	"github.com/ajroetker/sdpa-engine/attnerr"
	"github.com/ajroetker/sdpa-engine/hwy"
	"github.com/ajroetker/sdpa-engine/hwy/contrib/quant"
)

// Precision selects how cached rows are stored.
type Precision int

const (
	FP32 Precision = iota
	FP16
	BF16
	U8
)

func (p Precision) String() string {
	switch p {
	case FP32:
		return "fp32"
	case FP16:
		return "fp16"
	case BF16:
		return "bf16"
	case U8:
		return "u8"
	default:
		return "unknown"
	}
}

// State is the cache's current lifecycle state.
type State int

const (
	Empty State = iota
	Warm
	Resizing
	Reorder
)

func (s State) String() string {
	switch s {
	case Empty:
		return "empty"
	case Warm:
		return "warm"
	case Resizing:
		return "resizing"
	case Reorder:
		return "reorder"
	default:
		return "unknown"
	}
}

// Cache holds past keys and values for B sequences, H_kv heads each, head
// dimension S, with independent beam tables for K and V (I4, design note on
// beam-table duplication: K and V may in principle be reordered
// independently even though typical callers reorder both together).
type Cache struct {
	Precision Precision
	B, Hkv, S int

	capacity int
	length   int
	isReset  bool
	state    State

	f32K, f32V   []float32
	f16K, f16V   []hwy.Float16
	bf16K, bf16V []hwy.BFloat16
	u8K, u8V     []uint8
	scaleZPK     []quant.ScaleZP // len = B*Hkv*capacity when Precision == U8
	scaleZPV     []quant.ScaleZP

	beamTableK []int32 // [B, capacity] logical position -> physical row
	beamTableV []int32

	// beamOriginK/V record which batch's storage a logical row actually
	// lives in: [B, capacity], identity-initialized (beamOriginK[b*capacity+i]
	// == b until a Reorder redirects that beam to inherit another beam's
	// history). Needed because Reorder must be able to point a beam at a
	// *different* batch's physical rows, not just a different row within
	// its own batch's storage (C6/P5: cross-batch beam inheritance).
	beamOriginK []int32
	beamOriginV []int32
}

// New creates an Empty cache for the given shape and storage precision.
// Capacity is allocated lazily on first Append.
func New(b, hkv, s int, precision Precision) (*Cache, error) {
	if b <= 0 || hkv <= 0 || s <= 0 {
		return nil, attnerr.New(attnerr.PreconditionFailure, "kvcache.New", "B, Hkv, and S must all be positive")
	}
	return &Cache{
		Precision: precision,
		B:         b,
		Hkv:       hkv,
		S:         s,
		state:     Empty,
	}, nil
}

// Capacity returns the current allocated capacity (rows per (batch, head)).
func (c *Cache) Capacity() int { return c.capacity }

// Length returns the number of logical rows currently valid.
func (c *Cache) Length() int { return c.length }

// State returns the cache's current lifecycle state.
func (c *Cache) State() State { return c.state }

// IsReset reports whether the cache was most recently cleared via Reset
// without an intervening Append.
func (c *Cache) IsReset() bool { return c.isReset }

// rowStride is the number of storage elements per (batch, head, row).
func (c *Cache) rowStride() int { return c.S }

// physicalIndex resolves a (batch, logical row) pair to its physical slot
// via the beam table, defaulting to identity before any Reorder has run.
func (c *Cache) physicalIndex(table []int32, b, logicalRow int) int {
	return int(table[b*c.capacity+logicalRow])
}

// physicalLocation resolves a (batch, logical row) pair to the (origin
// batch, physical row) pair whose storage actually holds it: after a
// Reorder, a beam's history may live in a different batch's storage
// entirely, so every read/write must resolve both coordinates, not just
// the row.
func (c *Cache) physicalLocation(table, origin []int32, b, logicalRow int) (originBatch, physRow int) {
	idx := b*c.capacity + logicalRow
	return int(origin[idx]), int(table[idx])
}

// Append grows the cache if needed and writes l1 new rows of keys and
// values for every (batch, head) pair. k and v are row-major float32 with
// shape [B, Hkv, l1, S] regardless of storage precision; Append downcasts
// or quantizes internally. The call is transactional: on any error the
// cache's externally observable state is left exactly as it was before
// the call began.
func (c *Cache) Append(k, v []float32, l1 int) error {
	if l1 <= 0 {
		return attnerr.New(attnerr.PreconditionFailure, "kvcache.Append", "l1 must be positive")
	}
	wantLen := c.B * c.Hkv * l1 * c.S
	if len(k) != wantLen || len(v) != wantLen {
		return attnerr.New(attnerr.PreconditionFailure, "kvcache.Append", "k/v length does not match B*Hkv*l1*S")
	}

	newLength := c.length + l1
	if newLength > c.capacity {
		if err := c.grow(newLength); err != nil {
			return attnerr.Wrap(attnerr.AllocationFailure, "kvcache.Append", err)
		}
	}

	c.state = Warm
	c.isReset = false

	for b := range c.B {
		for h := range c.Hkv {
			for l := range l1 {
				logicalRow := c.length + l
				srcOff := ((b*c.Hkv+h)*l1 + l) * c.S
				kRow := k[srcOff : srcOff+c.S]
				vRow := v[srcOff : srcOff+c.S]

				physK := c.physicalIndex(c.beamTableK, b, logicalRow)
				physV := c.physicalIndex(c.beamTableV, b, logicalRow)
				c.writeRow(b, h, physK, kRow, true)
				c.writeRow(b, h, physV, vRow, false)
			}
		}
	}

	c.length = newLength
	return nil
}

// writeRow stores one row into the backing buffer selected by Precision.
// isKey selects the K-side buffers when true, V-side when false.
func (c *Cache) writeRow(b, h, physRow int, row []float32, isKey bool) {
	base := (b*c.Hkv+h)*c.capacity + physRow
	off := base * c.rowStride()

	switch c.Precision {
	case FP32:
		dst := c.f32K
		if !isKey {
			dst = c.f32V
		}
		copy(dst[off:off+c.S], row)
	case FP16:
		dst := c.f16K
		if !isKey {
			dst = c.f16V
		}
		for i, v := range row {
			dst[off+i] = hwy.Float32ToFloat16(v)
		}
	case BF16:
		dst := c.bf16K
		if !isKey {
			dst = c.bf16V
		}
		for i, v := range row {
			dst[off+i] = hwy.Float32ToBFloat16(v)
		}
	case U8:
		dstData := c.u8K
		dstSZ := c.scaleZPK
		if !isKey {
			dstData = c.u8V
			dstSZ = c.scaleZPV
		}
		dstSZ[base] = quant.QuantizeRow(row, dstData[off:off+c.S])
	}
}

// ReadRow decodes one logical (batch, head, logical position) row for
// either K or V into out, which must have length S.
func (c *Cache) ReadRow(b, h, logicalRow int, isKey bool, out []float32) error {
	if logicalRow < 0 || logicalRow >= c.length {
		return attnerr.New(attnerr.PreconditionFailure, "kvcache.ReadRow", "logical row out of range")
	}
	table, origin := c.beamTableK, c.beamOriginK
	if !isKey {
		table, origin = c.beamTableV, c.beamOriginV
	}
	originBatch, physRow := c.physicalLocation(table, origin, b, logicalRow)
	base := (originBatch*c.Hkv+h)*c.capacity + physRow
	off := base * c.rowStride()

	switch c.Precision {
	case FP32:
		src := c.f32K
		if !isKey {
			src = c.f32V
		}
		copy(out, src[off:off+c.S])
	case FP16:
		src := c.f16K
		if !isKey {
			src = c.f16V
		}
		for i := range c.S {
			out[i] = hwy.Float16ToFloat32(src[off+i])
		}
	case BF16:
		src := c.bf16K
		if !isKey {
			src = c.bf16V
		}
		for i := range c.S {
			out[i] = hwy.BFloat16ToFloat32(src[off+i])
		}
	case U8:
		srcData := c.u8K
		srcSZ := c.scaleZPK
		if !isKey {
			srcData = c.u8V
			srcSZ = c.scaleZPV
		}
		quant.DequantizeRow(srcData[off:off+c.S], srcSZ[base], out)
	}
	return nil
}

// ReadAll decodes every currently valid row for (batch, head) for either K
// or V into a freshly allocated [length, S] float32 slice, honoring the
// beam table. Used by the prefill kernel, which operates over the whole
// logical history at once.
func (c *Cache) ReadAll(b, h int, isKey bool) ([]float32, error) {
	out := make([]float32, c.length*c.S)
	for l := range c.length {
		if err := c.ReadRow(b, h, l, isKey, out[l*c.S:(l+1)*c.S]); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// grow reallocates storage to the next capacity per the growth rule
// capacity := 2 * (length + l1), re-materializing every row through its
// current beam table into an identity-ordered fresh table (so existing
// Reorder history is baked into physical layout rather than carried
// forward as a larger indirection table).
func (c *Cache) grow(newLength int) error {
	c.state = Resizing
	newCapacity := 2 * newLength

	oldLength := c.length
	oldB, oldHkv, oldS := c.B, c.Hkv, c.S

	decoded := make([][2][]float32, 0, oldB*oldHkv)
	if oldLength > 0 {
		for b := range oldB {
			for h := range oldHkv {
				kRows, err := c.ReadAll(b, h, true)
				if err != nil {
					return err
				}
				vRows, err := c.ReadAll(b, h, false)
				if err != nil {
					return err
				}
				decoded = append(decoded, [2][]float32{kRows, vRows})
			}
		}
	}

	c.allocate(newCapacity)

	idx := 0
	for b := range oldB {
		for h := range oldHkv {
			if oldLength > 0 {
				kRows, vRows := decoded[idx][0], decoded[idx][1]
				for l := range oldLength {
					physK := c.physicalIndex(c.beamTableK, b, l)
					physV := c.physicalIndex(c.beamTableV, b, l)
					c.writeRow(b, h, physK, kRows[l*oldS:(l+1)*oldS], true)
					c.writeRow(b, h, physV, vRows[l*oldS:(l+1)*oldS], false)
				}
			}
			idx++
		}
	}

	c.length = oldLength
	c.state = Warm
	return nil
}

// allocate replaces the backing storage and beam tables with fresh,
// identity-mapped buffers of the given capacity. Any previously decoded
// rows must be re-written by the caller after calling allocate.
func (c *Cache) allocate(capacity int) {
	c.capacity = capacity
	n := c.B * c.Hkv * capacity * c.S

	switch c.Precision {
	case FP32:
		c.f32K, c.f32V = make([]float32, n), make([]float32, n)
	case FP16:
		c.f16K, c.f16V = make([]hwy.Float16, n), make([]hwy.Float16, n)
	case BF16:
		c.bf16K, c.bf16V = make([]hwy.BFloat16, n), make([]hwy.BFloat16, n)
	case U8:
		c.u8K, c.u8V = make([]uint8, n), make([]uint8, n)
		szLen := c.B * c.Hkv * capacity
		c.scaleZPK, c.scaleZPV = make([]quant.ScaleZP, szLen), make([]quant.ScaleZP, szLen)
	}

	c.beamTableK = make([]int32, c.B*capacity)
	c.beamTableV = make([]int32, c.B*capacity)
	c.beamOriginK = make([]int32, c.B*capacity)
	c.beamOriginV = make([]int32, c.B*capacity)
	for b := range c.B {
		for i := range capacity {
			c.beamTableK[b*capacity+i] = int32(i)
			c.beamTableV[b*capacity+i] = int32(i)
			c.beamOriginK[b*capacity+i] = int32(b)
			c.beamOriginV[b*capacity+i] = int32(b)
		}
	}
}

// Reorder redirects each batch (beam)'s entire history to inherit from a
// different batch's current history: keyParents[b] (resp. valueParents[b])
// names which batch's K (resp. V) history batch b should continue from for
// every logical row in [0, length). This is cross-batch beam inheritance
// (C6/P5): beam search keeps one sequence per batch slot, and a reorder
// step routes each surviving beam's continuation to whichever prior beam it
// branched from, not merely to a different position within its own slot's
// history. Reorder only touches indices; no stored row is moved or copied
// (O(capacity) per table, not O(capacity*S)).
//
// keyParents and valueParents may be the same slice (the common case) or
// differ, since K and V beam tables are maintained independently.
func (c *Cache) Reorder(keyParents, valueParents []int32) error {
	if len(keyParents) != c.B || len(valueParents) != c.B {
		return attnerr.New(attnerr.PreconditionFailure, "kvcache.Reorder", "parent index slice length must be B (one source batch per beam)")
	}
	for _, parents := range [][]int32{keyParents, valueParents} {
		for _, p := range parents {
			if p < 0 || int(p) >= c.B {
				return attnerr.New(attnerr.CacheInconsistency, "kvcache.Reorder", "parent batch index out of range")
			}
		}
	}
	c.state = Reorder

	// K and V beam tables are independent backing arrays; rewriting them
	// is two unrelated O(capacity) loops, so run them concurrently rather
	// than serially.
	var g errgroup.Group
	g.Go(func() error {
		reorderBatches(c.beamTableK, c.beamOriginK, keyParents, c.B, c.length, c.capacity)
		return nil
	})
	g.Go(func() error {
		reorderBatches(c.beamTableV, c.beamOriginV, valueParents, c.B, c.length, c.capacity)
		return nil
	})
	_ = g.Wait()

	c.state = Warm
	return nil
}

// reorderBatches makes batch b's logical rows [0, length) point at whatever
// batch parents[b] currently points at, for both the beam table (physical
// row) and the origin table (which batch's storage that row lives in).
// Every batch's current state is snapshotted first since parents can name
// any permutation, including batches that are themselves being overwritten
// in the same call (e.g. parents = [1, 0] swaps two beams).
func reorderBatches(table, origin []int32, parents []int32, b, length, capacity int) {
	if length == 0 {
		return
	}
	tableSnap := make([]int32, b*length)
	originSnap := make([]int32, b*length)
	for batch := range b {
		copy(tableSnap[batch*length:(batch+1)*length], table[batch*capacity:batch*capacity+length])
		copy(originSnap[batch*length:(batch+1)*length], origin[batch*capacity:batch*capacity+length])
	}

	for batch := range b {
		parent := int(parents[batch])
		copy(table[batch*capacity:batch*capacity+length], tableSnap[parent*length:(parent+1)*length])
		copy(origin[batch*capacity:batch*capacity+length], originSnap[parent*length:(parent+1)*length])
	}
}

// ExpandBatch grows the cache's batch dimension from B to newB, allocating
// storage for the new batch slots. A beam-search caller that branches B=1
// into several candidate continuations (or grows the beam width generally)
// calls this first, then Reorder with a newB-length parent list to make
// each new slot inherit an existing beam's history. The new slots' beam/
// origin tables start identity (pointing at their own, as-yet-unwritten
// storage) until a following Reorder redirects them.
func (c *Cache) ExpandBatch(newB int) error {
	if newB < c.B {
		return attnerr.New(attnerr.PreconditionFailure, "kvcache.ExpandBatch", "newB must be >= current B")
	}
	if newB == c.B {
		return nil
	}
	oldB := c.B
	c.B = newB

	if c.capacity == 0 {
		// Nothing allocated yet; allocate (triggered by the first Append)
		// will size everything from the new c.B directly.
		return nil
	}

	blockElems := c.Hkv * c.capacity * c.S
	growF32 := func(s []float32) []float32 {
		if s == nil {
			return nil
		}
		out := make([]float32, newB*blockElems)
		copy(out, s)
		return out
	}
	c.f32K, c.f32V = growF32(c.f32K), growF32(c.f32V)

	growF16 := func(s []hwy.Float16) []hwy.Float16 {
		if s == nil {
			return nil
		}
		out := make([]hwy.Float16, newB*blockElems)
		copy(out, s)
		return out
	}
	c.f16K, c.f16V = growF16(c.f16K), growF16(c.f16V)

	growBF16 := func(s []hwy.BFloat16) []hwy.BFloat16 {
		if s == nil {
			return nil
		}
		out := make([]hwy.BFloat16, newB*blockElems)
		copy(out, s)
		return out
	}
	c.bf16K, c.bf16V = growBF16(c.bf16K), growBF16(c.bf16V)

	growU8 := func(s []uint8) []uint8 {
		if s == nil {
			return nil
		}
		out := make([]uint8, newB*blockElems)
		copy(out, s)
		return out
	}
	c.u8K, c.u8V = growU8(c.u8K), growU8(c.u8V)

	szBlock := c.Hkv * c.capacity
	growSZ := func(s []quant.ScaleZP) []quant.ScaleZP {
		if s == nil {
			return nil
		}
		out := make([]quant.ScaleZP, newB*szBlock)
		copy(out, s)
		return out
	}
	c.scaleZPK, c.scaleZPV = growSZ(c.scaleZPK), growSZ(c.scaleZPV)

	growTable := func(s []int32, identity bool) []int32 {
		out := make([]int32, newB*c.capacity)
		copy(out, s)
		for b := oldB; b < newB; b++ {
			for i := range c.capacity {
				if identity {
					out[b*c.capacity+i] = int32(i)
				} else {
					out[b*c.capacity+i] = int32(b)
				}
			}
		}
		return out
	}
	c.beamTableK = growTable(c.beamTableK, true)
	c.beamTableV = growTable(c.beamTableV, true)
	c.beamOriginK = growTable(c.beamOriginK, false)
	c.beamOriginV = growTable(c.beamOriginV, false)

	return nil
}

// Reset clears length to 0 (I5). Capacity and, unless the caller is about
// to change precision, quantization scale/zero-point storage are left in
// place and mutated in place on the next Append rather than reallocated —
// Reset keeps the same capacity, only length changes.
func (c *Cache) Reset() {
	c.length = 0
	c.isReset = true
	c.state = Empty
	for b := range c.B {
		for i := range c.capacity {
			c.beamTableK[b*c.capacity+i] = int32(i)
			c.beamTableV[b*c.capacity+i] = int32(i)
			c.beamOriginK[b*c.capacity+i] = int32(b)
			c.beamOriginV[b*c.capacity+i] = int32(b)
		}
	}
}
