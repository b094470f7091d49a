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

package attnerr

import (
	"errors"
	"testing"
)

func TestWrapAndIs(t *testing.T) {
	cause := errors.New("capacity underflow")
	err := Wrap(CacheInconsistency, "kvcache.Append", cause)

	if !Is(err, CacheInconsistency) {
		t.Errorf("Is(err, CacheInconsistency) = false, want true")
	}
	if Is(err, AllocationFailure) {
		t.Errorf("Is(err, AllocationFailure) = true, want false")
	}
	if !errors.Is(err, cause) {
		t.Errorf("errors.Is(err, cause) = false, want true (cause should remain unwrappable)")
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(PreconditionFailure, "op", nil) != nil {
		t.Errorf("Wrap(..., nil) should return nil")
	}
}

func TestNewHasNoUnderlyingSentinel(t *testing.T) {
	err := New(PreconditionFailure, "attn.Prefill", "H_q must be a multiple of H_kv")
	if !Is(err, PreconditionFailure) {
		t.Errorf("Is(err, PreconditionFailure) = false, want true")
	}
}

func TestKindString(t *testing.T) {
	cases := map[Kind]string{
		PreconditionFailure: "precondition_failure",
		BackendUnavailable:  "backend_unavailable",
		AllocationFailure:   "allocation_failure",
		CacheInconsistency:  "cache_inconsistency",
	}
	for k, want := range cases {
		if got := k.String(); got != want {
			t.Errorf("Kind(%d).String() = %q, want %q", k, got, want)
		}
	}
}
