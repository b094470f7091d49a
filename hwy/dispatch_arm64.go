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

//go:build arm64

package hwy

import "golang.org/x/sys/cpu"

var (
	hasARMFP16 bool
	hasARMBF16 bool
)

func init() {
	if NoSimdEnv() {
		currentLevel = DispatchScalar
		currentWidth = 16
		return
	}

	// ARMv8-A guarantees NEON (ASIMD).
	currentLevel = DispatchNEON
	currentWidth = 16

	hasARMFP16 = cpu.ARM64.HasFPHP && cpu.ARM64.HasASIMDHP
	// golang.org/x/sys/cpu has no BF16 feature bit yet; treat as unsupported
	// until upstream adds detection.
	hasARMBF16 = false
}

// HasARMFP16 returns true if the CPU supports the ARMv8.2-A FP16 extension.
func HasARMFP16() bool {
	return hasARMFP16
}

// HasARMBF16 returns true if the CPU supports the ARMv8.6-A BF16 extension.
func HasARMBF16() bool {
	return hasARMBF16
}

// HasF16C returns false on arm64 (F16C is an x86-specific feature).
func HasF16C() bool {
	return false
}

// HasAVX512FP16 returns false on arm64.
func HasAVX512FP16() bool {
	return false
}

// HasAVX512BF16 returns false on arm64.
func HasAVX512BF16() bool {
	return false
}
