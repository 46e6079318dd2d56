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

package kernel

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/sentry/arch"
)

type yieldOnly struct{}

func (yieldOnly) SchedYield(*Thread, arch.SyscallArguments) (uintptr, *SyscallControl, error) {
	return 124, nil, nil
}

func TestSyscallTable(t *testing.T) {
	empty := NewSyscallTable(Syscalls{})
	for num := range tg.SyscallNames {
		if empty.Lookup(num) != nil {
			t.Errorf("empty table has syscall %d", num)
		}
	}

	st := NewSyscallTable(Syscalls{Scheduling: yieldOnly{}})
	fn := st.Lookup(tg.SYS_SCHED_YIELD)
	if fn == nil {
		t.Fatalf("sched_yield not installed")
	}
	if v, _, _ := fn(nil, arch.SyscallArguments{}); v != 124 {
		t.Errorf("sched_yield returned %d", v)
	}
	if st.Lookup(tg.SYS_EXIT) != nil {
		t.Errorf("exit installed without the process category")
	}
	if diff := cmp.Diff(map[uintptr]string{tg.SYS_SCHED_YIELD: "sched_yield"}, st.Names()); diff != "" {
		t.Errorf("Names() mismatch (-want +got):\n%s", diff)
	}
}

func TestRoundRobin(t *testing.T) {
	r := NewRoundRobin()
	for _, tid := range []ThreadID{3, 1, 2} {
		r.Enqueue(tid)
	}
	r.Remove(1)
	var got []ThreadID
	for {
		tid, ok := r.Next()
		if !ok {
			break
		}
		got = append(got, tid)
	}
	if diff := cmp.Diff([]ThreadID{3, 2}, got); diff != "" {
		t.Errorf("order mismatch (-want +got):\n%s", diff)
	}
}
