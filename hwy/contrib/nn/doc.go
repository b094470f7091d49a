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

// Package nn provides SIMD-accelerated neural network layer operations.
// This package corresponds to common operations in deep learning layers.
//
// # Supported Operations
//
// Normalization operations:
//   - BaseSoftmax - Softmax normalization over a slice
//   - BaseLogSoftmax - Log of softmax (more numerically stable for NLL loss)
//
// Future operations (planned):
//   - LayerNorm - Layer normalization
//   - BatchNorm - Batch normalization
//   - RMSNorm - Root mean square normalization
//
// # Example Usage
//
//	import "github.com/ajroetker/sdpa-engine/hwy/contrib/nn"
//
//	func ComputeSoftmax(logits []float32) []float32 {
//	    probs := make([]float32, len(logits))
//	    nn.BaseSoftmax(logits, probs)
//	    return probs
//	}
//
// # Build Requirements
//
// This package carries only the portable Base implementations, written
// against package hwy's scalar operations; no build flag or architecture
// selects a separate SIMD variant.
package nn
