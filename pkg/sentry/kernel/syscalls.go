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
	"fmt"

	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/sentry/arch"
)

// SyscallFn is a syscall implementation. The returned value is written to
// a0 unless err is non-nil, in which case a0 receives the negated errno.
// A non-nil SyscallControl overrides both.
type SyscallFn func(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)

type ctrlKind int

const (
	ctrlExited ctrlKind = iota
	ctrlNoReturn
	ctrlRetry
	ctrlBlock
)

// SyscallControl alters what happens to the calling thread after a
// syscall returns.
type SyscallControl struct {
	kind    ctrlKind
	blocker Blocker
}

var (
	// CtrlExited means the calling thread has exited.
	CtrlExited = &SyscallControl{kind: ctrlExited}

	// CtrlNoReturn means the thread's context was replaced (by exec or
	// sigreturn) and must not receive a return value.
	CtrlNoReturn = &SyscallControl{kind: ctrlNoReturn}

	// CtrlRetry means the call could not proceed and must be issued
	// again. The thread yields the rest of its time slice.
	CtrlRetry = &SyscallControl{kind: ctrlRetry}
)

// CtrlBlockOn means the calling thread has been queued on b by the
// syscall. It is not run again until it is woken, at which point the
// syscall has completed with a return value of 0.
func CtrlBlockOn(b Blocker) *SyscallControl {
	return &SyscallControl{kind: ctrlBlock, blocker: b}
}

// String implements fmt.Stringer.String.
func (c *SyscallControl) String() string {
	switch c.kind {
	case ctrlExited:
		return "exited"
	case ctrlNoReturn:
		return "no-return"
	case ctrlRetry:
		return "retry"
	case ctrlBlock:
		return fmt.Sprintf("block(%T)", c.blocker)
	}
	return "unknown"
}

// The syscall categories. Each is a capability: a kernel built without a
// category treats every call in it as unsupported.

// IOCalls are the descriptor syscalls.
type IOCalls interface {
	Open(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Close(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Pipe(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Read(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Write(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
}

// ProcessCalls create, replace, reap and end processes.
type ProcessCalls interface {
	Exit(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Getpid(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Sbrk(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Fork(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Exec(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Waitpid(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Spawn(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
}

// SchedulingCalls give up the processor.
type SchedulingCalls interface {
	SchedYield(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
}

// ClockCalls read the clocks.
type ClockCalls interface {
	ClockGettime(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
}

// SignalCalls send and handle signals.
type SignalCalls interface {
	Kill(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Sigaction(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Sigprocmask(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Sigreturn(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
}

// ThreadCalls create and reap threads.
type ThreadCalls interface {
	ThreadCreate(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Gettid(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Waittid(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
}

// SyncCalls operate the mutexes, semaphores and condition variables of the
// calling process.
type SyncCalls interface {
	MutexCreate(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	MutexLock(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	MutexUnlock(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	SemaphoreCreate(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	SemaphoreUp(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	SemaphoreDown(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	CondvarCreate(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	CondvarSignal(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	CondvarWait(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	EnableDeadlockDetect(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
}

// MemoryCalls map and unmap anonymous memory.
type MemoryCalls interface {
	Mmap(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
	Munmap(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
}

// TraceCalls inspect the calling process.
type TraceCalls interface {
	Trace(t *Thread, args arch.SyscallArguments) (uintptr, *SyscallControl, error)
}

// Syscalls is the set of categories installed in a kernel. Nil categories
// are not installed.
type Syscalls struct {
	IO         IOCalls
	Process    ProcessCalls
	Scheduling SchedulingCalls
	Clock      ClockCalls
	Signal     SignalCalls
	Thread     ThreadCalls
	Sync       SyncCalls
	Memory     MemoryCalls
	Trace      TraceCalls
}

// Syscall is one entry of a SyscallTable.
type Syscall struct {
	// Name is the syscall name.
	Name string

	// Fn is the implementation.
	Fn SyscallFn
}

// SyscallTable maps syscall numbers to implementations.
type SyscallTable struct {
	// Table is the syscall table. It must not be modified once the kernel
	// runs.
	Table map[uintptr]Syscall
}

// NewSyscallTable builds a table from the installed categories.
func NewSyscallTable(s Syscalls) *SyscallTable {
	st := &SyscallTable{Table: make(map[uintptr]Syscall)}
	add := func(num uintptr, fn SyscallFn) {
		st.Table[num] = Syscall{Name: tg.SyscallNames[num], Fn: fn}
	}
	if c := s.IO; c != nil {
		add(tg.SYS_OPEN, c.Open)
		add(tg.SYS_CLOSE, c.Close)
		add(tg.SYS_PIPE, c.Pipe)
		add(tg.SYS_READ, c.Read)
		add(tg.SYS_WRITE, c.Write)
	}
	if c := s.Process; c != nil {
		add(tg.SYS_EXIT, c.Exit)
		add(tg.SYS_GETPID, c.Getpid)
		add(tg.SYS_SBRK, c.Sbrk)
		add(tg.SYS_FORK, c.Fork)
		add(tg.SYS_EXEC, c.Exec)
		add(tg.SYS_WAITPID, c.Waitpid)
		add(tg.SYS_SPAWN, c.Spawn)
	}
	if c := s.Scheduling; c != nil {
		add(tg.SYS_SCHED_YIELD, c.SchedYield)
	}
	if c := s.Clock; c != nil {
		add(tg.SYS_CLOCK_GETTIME, c.ClockGettime)
	}
	if c := s.Signal; c != nil {
		add(tg.SYS_KILL, c.Kill)
		add(tg.SYS_SIGACTION, c.Sigaction)
		add(tg.SYS_SIGPROCMASK, c.Sigprocmask)
		add(tg.SYS_SIGRETURN, c.Sigreturn)
	}
	if c := s.Thread; c != nil {
		add(tg.SYS_THREAD_CREATE, c.ThreadCreate)
		add(tg.SYS_GETTID, c.Gettid)
		add(tg.SYS_WAITTID, c.Waittid)
	}
	if c := s.Sync; c != nil {
		add(tg.SYS_MUTEX_CREATE, c.MutexCreate)
		add(tg.SYS_MUTEX_LOCK, c.MutexLock)
		add(tg.SYS_MUTEX_UNLOCK, c.MutexUnlock)
		add(tg.SYS_SEMAPHORE_CREATE, c.SemaphoreCreate)
		add(tg.SYS_SEMAPHORE_UP, c.SemaphoreUp)
		add(tg.SYS_SEMAPHORE_DOWN, c.SemaphoreDown)
		add(tg.SYS_CONDVAR_CREATE, c.CondvarCreate)
		add(tg.SYS_CONDVAR_SIGNAL, c.CondvarSignal)
		add(tg.SYS_CONDVAR_WAIT, c.CondvarWait)
		add(tg.SYS_ENABLE_DEADLOCK_DETECT, c.EnableDeadlockDetect)
	}
	if c := s.Memory; c != nil {
		add(tg.SYS_MMAP, c.Mmap)
		add(tg.SYS_MUNMAP, c.Munmap)
	}
	if c := s.Trace; c != nil {
		add(tg.SYS_TRACE, c.Trace)
	}
	return st
}

// Lookup returns the implementation of syscall num, or nil.
func (st *SyscallTable) Lookup(num uintptr) SyscallFn {
	if s, ok := st.Table[num]; ok {
		return s.Fn
	}
	return nil
}

// Names returns the name of every installed syscall, by number.
func (st *SyscallTable) Names() map[uintptr]string {
	m := make(map[uintptr]string, len(st.Table))
	for num, s := range st.Table {
		m[num] = s.Name
	}
	return m
}
