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

package nn

import (
	"sync"

	"github.com/ajroetker/sdpa-engine/hwy"
)

// Pool for temporary float32 slices.
var tempPoolF32 = sync.Pool{
	New: func() any { return &[]float32{} },
}

// Pool for temporary float64 slices.
var tempPoolF64 = sync.Pool{
	New: func() any { return &[]float64{} },
}

// getTempSlice gets a temporary slice of at least the given size from a pool.
func getTempSlice[T hwy.Floats](size int) []T {
	var zero T
	switch any(zero).(type) {
	case float32:
		p := tempPoolF32.Get().(*[]float32)
		if cap(*p) < size {
			*p = make([]float32, size)
		}
		*p = (*p)[:size]
		return any(*p).([]T)
	case float64:
		p := tempPoolF64.Get().(*[]float64)
		if cap(*p) < size {
			*p = make([]float64, size)
		}
		*p = (*p)[:size]
		return any(*p).([]T)
	default:
		return make([]T, size)
	}
}

// putTempSlice returns a temporary slice to its pool.
func putTempSlice[T hwy.Floats](s []T) {
	var zero T
	switch any(zero).(type) {
	case float32:
		f := any(s).([]float32)
		tempPoolF32.Put(&f)
	case float64:
		f := any(s).([]float64)
		tempPoolF64.Put(&f)
	}
}
