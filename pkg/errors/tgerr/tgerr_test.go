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

package tgerr

import (
	"fmt"
	"testing"
)

func TestReturnValue(t *testing.T) {
	for _, tc := range []struct {
		err  error
		want int64
	}{
		{EPERM, -1},
		{EBADF, -9},
		{EDEADLK, -0xdead},
		{fmt.Errorf("mapping stack: %w", ENOMEM), -12},
		{fmt.Errorf("host failure"), -5},
	} {
		if got := int64(ReturnValue(tc.err)); got != tc.want {
			t.Errorf("ReturnValue(%v) = %d, want %d", tc.err, got, tc.want)
		}
	}
}

func TestEquals(t *testing.T) {
	if !Equals(EAGAIN, ErrNotExited) {
		t.Errorf("ErrNotExited does not carry EAGAIN")
	}
	if Equals(EPERM, fmt.Errorf("plain")) {
		t.Errorf("plain error matched EPERM")
	}
}
