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

// Package quant implements per-row affine int8 quantization for KV-cache
// storage, a sibling to the per-tensor quantization in hwy/contrib/nn used
// for one-shot Q/K/V quantization inside a single attention call.
//
// Per-row quantization keeps one (scale, zero point) pair per cached
// position rather than one pair for the whole tensor, so appending new
// rows to a cache never perturbs the quantization of rows already stored.
package quant

import "math"

// ScaleZP holds the affine quantization parameters for one row:
// float_val ≈ scale * (uint8_val - zp).
type ScaleZP struct {
	Scale float32
	ZP    uint8
}

// QuantizeRows quantizes an [rows, cols] float32 matrix into an [rows, cols]
// uint8 matrix, one independent (scale, zp) pair per row. out and outSZ must
// be pre-allocated: out with len(in) elements, outSZ with rows elements.
func QuantizeRows(in []float32, rows, cols int, out []uint8, outSZ []ScaleZP) {
	for r := range rows {
		row := in[r*cols : (r+1)*cols]
		outRow := out[r*cols : (r+1)*cols]
		outSZ[r] = quantizeRow(row, outRow)
	}
}

// QuantizeRow quantizes a single row into out and returns its fresh
// (scale, zp) pair.
func QuantizeRow(in []float32, out []uint8) ScaleZP {
	return quantizeRow(in, out)
}

func quantizeRow(in []float32, out []uint8) ScaleZP {
	if len(in) == 0 {
		return ScaleZP{}
	}

	minVal, maxVal := in[0], in[0]
	for _, v := range in[1:] {
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}
	// The range always includes zero, so zp = -min/scale lies in [0, 255]
	// and every value (including a constant nonzero row) round-trips.
	minVal = min(minVal, 0)
	maxVal = max(maxVal, 0)

	if minVal == maxVal {
		for i := range out {
			out[i] = 0
		}
		return ScaleZP{Scale: 1.0, ZP: 0}
	}

	scale := (maxVal - minVal) / 255.0
	invScale := 1.0 / scale
	zp := clampToByte(math.Round(float64(-minVal * invScale)))

	for i, v := range in {
		q := clampToByte(math.Round(float64(v*invScale) + float64(zp)))
		out[i] = q
	}

	return ScaleZP{Scale: scale, ZP: zp}
}

// DequantizeRows reconstructs an [rows, cols] float32 matrix from a
// per-row-quantized uint8 matrix.
func DequantizeRows(in []uint8, rows, cols int, inSZ []ScaleZP, out []float32) {
	for r := range rows {
		sz := inSZ[r]
		row := in[r*cols : (r+1)*cols]
		outRow := out[r*cols : (r+1)*cols]
		for i, q := range row {
			outRow[i] = sz.Scale * float32(int32(q)-int32(sz.ZP))
		}
	}
}

// DequantizeRow reconstructs a single row from its quantized form.
func DequantizeRow(in []uint8, sz ScaleZP, out []float32) {
	for i, q := range in {
		out[i] = sz.Scale * float32(int32(q)-int32(sz.ZP))
	}
}

func clampToByte(v float64) uint8 {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v)
}
