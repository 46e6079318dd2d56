// Copyright 2019 The gVisor Authors.
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

package tg

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestTicksToNanoseconds(t *testing.T) {
	if got := TicksToNanoseconds(ClockFrequency); got != 1e9 {
		t.Errorf("one second of ticks = %d ns, want 1e9", got)
	}
}

func TestSignalAction(t *testing.T) {
	in := SignalAction{Handler: 0x1234, Mask: SIGUSR1.Mask() | SIGTERM.Mask()}
	buf := make([]byte, in.SizeBytes())
	if rest := in.MarshalBytes(buf); len(rest) != 0 {
		t.Fatalf("MarshalBytes left %d bytes", len(rest))
	}
	var out SignalAction
	out.UnmarshalBytes(buf)
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestSignalValidity(t *testing.T) {
	for _, tc := range []struct {
		sig  Signal
		want bool
	}{
		{0, false},
		{SIGHUP, true},
		{SignalMaximum, true},
		{SignalMaximum + 1, false},
		{-1, false},
	} {
		if got := tc.sig.IsValid(); got != tc.want {
			t.Errorf("%v.IsValid() = %v, want %v", tc.sig, got, tc.want)
		}
	}
	if Unblockable&SIGKILL.Mask() == 0 {
		t.Errorf("SIGKILL is blockable")
	}
}
