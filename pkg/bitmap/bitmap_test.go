// Copyright 2021 The gVisor Authors.
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

package bitmap

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddRemove(t *testing.T) {
	b := New(130)
	for _, i := range []uint32{0, 5, 64, 129, 129, 200} {
		b.Add(i)
	}
	if got, want := b.ToSlice(), []uint32{0, 5, 64, 129}; !cmp.Equal(got, want) {
		t.Errorf("ToSlice() = %v, want %v", got, want)
	}
	if b.Count() != 4 {
		t.Errorf("Count() = %d, want 4", b.Count())
	}
	b.Remove(5)
	b.Remove(5)
	if b.Test(5) || b.Count() != 3 {
		t.Errorf("bit 5 still set or count %d", b.Count())
	}
}

func TestFirstZero(t *testing.T) {
	b := New(70)
	for i := uint32(0); i < 66; i++ {
		b.Add(i)
	}
	if got, ok := b.FirstZero(0); !ok || got != 66 {
		t.Errorf("FirstZero(0) = %d, %v, want 66, true", got, ok)
	}
	for i := uint32(66); i < 70; i++ {
		b.Add(i)
	}
	if _, ok := b.FirstZero(0); ok {
		t.Errorf("FirstZero on a full bitmap succeeded")
	}
}

func TestFirstZeroRun(t *testing.T) {
	b := New(16)
	b.Add(1)
	b.Add(4)
	if got, ok := b.FirstZeroRun(3); !ok || got != 5 {
		t.Errorf("FirstZeroRun(3) = %d, %v, want 5, true", got, ok)
	}
	if got, ok := b.FirstZeroRun(2); !ok || got != 2 {
		t.Errorf("FirstZeroRun(2) = %d, %v, want 2, true", got, ok)
	}
	if _, ok := b.FirstZeroRun(12); ok {
		t.Errorf("FirstZeroRun(12) succeeded")
	}
}
