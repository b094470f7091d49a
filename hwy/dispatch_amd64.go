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

//go:build amd64

package hwy

import "golang.org/x/sys/cpu"

// hasF16C and hasAVX512BF16 report feature-level detail beyond the
// coarse DispatchLevel, for callers that care specifically about
// native float16/bfloat16 instruction support.
var (
	hasF16C       bool
	hasAVX512BF16 bool
)

func init() {
	if NoSimdEnv() {
		currentLevel = DispatchScalar
		currentWidth = 16
		return
	}

	switch {
	case cpu.X86.HasAVX512F:
		currentLevel = DispatchAVX512
		currentWidth = 64
	case cpu.X86.HasAVX2:
		currentLevel = DispatchAVX2
		currentWidth = 32
	default:
		currentLevel = DispatchSSE2
		currentWidth = 16
	}

	hasF16C = cpu.X86.HasF16C
	hasAVX512BF16 = cpu.X86.HasAVX512BF16
}

// HasF16C returns true if the CPU supports the F16C instruction extension
// for native float16<->float32 conversion.
func HasF16C() bool {
	return hasF16C
}

// HasAVX512FP16 returns false; this build does not track the AVX-512 FP16
// extension separately from F16C.
func HasAVX512FP16() bool {
	return false
}

// HasAVX512BF16 returns true if the CPU supports AVX-512 BF16 instructions.
func HasAVX512BF16() bool {
	return hasAVX512BF16
}

// HasARMFP16 returns false on amd64.
func HasARMFP16() bool {
	return false
}

// HasARMBF16 returns false on amd64.
func HasARMBF16() bool {
	return false
}
