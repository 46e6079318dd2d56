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
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/kernel/ksync"
	"tgos.dev/tgos/pkg/sentry/mm"
)

// ThreadID identifies a thread. IDs are global and never reused.
type ThreadID = ksync.ThreadID

// ThreadState is the run state of a thread.
type ThreadState int

// Thread states.
const (
	// ThreadReady threads are in the scheduler's ready set.
	ThreadReady ThreadState = iota

	// ThreadRunning is the state of the one thread in user mode or in a
	// syscall.
	ThreadRunning

	// ThreadBlocked threads wait to be woken and are in no ready set.
	ThreadBlocked

	// ThreadZombie threads have exited.
	ThreadZombie
)

// String implements fmt.Stringer.String.
func (s ThreadState) String() string {
	switch s {
	case ThreadReady:
		return "Ready"
	case ThreadRunning:
		return "Running"
	case ThreadBlocked:
		return "Blocked"
	case ThreadZombie:
		return "Zombie"
	default:
		return fmt.Sprintf("ThreadState(%d)", int(s))
	}
}

// Blocker is anything a thread can be queued on.
type Blocker interface {
	Remove(tid ThreadID) bool
}

// Thread is a user thread.
type Thread struct {
	k    *Kernel
	tid  ThreadID
	proc *Process

	// ctx is the user register state. It is valid whenever the thread is
	// not in user mode.
	ctx *arch.Context

	state    ThreadState
	exitCode int64

	// blockedOn is the queue holding the thread while it is blocked on one.
	blockedOn Blocker

	// onDevice is set while the thread waits for a device. Such waits end
	// with an interrupt rather than with another thread's action.
	onDevice bool

	// stack is the stack mapped by CreateThread. It is empty for a
	// process's first thread, whose stack belongs to the image.
	stack hostarch.VPNRange
}

// ID returns the thread ID.
func (t *Thread) ID() ThreadID {
	return t.tid
}

// Kernel returns the kernel the thread runs on.
func (t *Thread) Kernel() *Kernel {
	return t.k
}

// Process returns the thread's process.
func (t *Thread) Process() *Process {
	return t.proc
}

// MemoryManager returns the address space the thread runs in.
func (t *Thread) MemoryManager() *mm.AddressSpace {
	return t.proc.mm
}

// Arch returns the thread's register state.
func (t *Thread) Arch() *arch.Context {
	return t.ctx
}

// State returns the run state.
func (t *Thread) State() ThreadState {
	return t.state
}

// ExitCode returns the exit code of a zombie.
func (t *Thread) ExitCode() int64 {
	return t.exitCode
}

// Debugf logs a message prefixed with the thread and process IDs.
func (t *Thread) Debugf(format string, v ...any) {
	if log.IsLogging(log.Debug) {
		log.Debugf("[%d:%d] "+format, append([]any{t.proc.pid, t.tid}, v...)...)
	}
}

// Warningf logs a warning prefixed with the thread and process IDs.
func (t *Thread) Warningf(format string, v ...any) {
	log.Warningf("[%d:%d] "+format, append([]any{t.proc.pid, t.tid}, v...)...)
}

// Wait queues t on q and blocks it. The caller must then return
// ksync.ErrWouldBlock from its syscall so that the call is retried once t
// is woken.
func (t *Thread) Wait(q *ksync.WaitQueue) {
	q.Enqueue(t.tid)
	t.block(q)
}

// WaitDevice is Wait for queues that are woken by device interrupts.
func (t *Thread) WaitDevice(q *ksync.WaitQueue) {
	t.Wait(q)
	t.onDevice = true
}

// block marks t blocked on b, which already holds t.
func (t *Thread) block(b Blocker) {
	if t.state != ThreadRunning {
		panic(fmt.Sprintf("blocking thread %d in state %v", t.tid, t.state))
	}
	t.state = ThreadBlocked
	t.blockedOn = b
}

// CopyInBytes copies len(dst) bytes from the thread's address space.
func (t *Thread) CopyInBytes(addr hostarch.Addr, dst []byte) error {
	return t.proc.mm.CopyIn(addr, dst)
}

// CopyOutBytes copies src into the thread's address space.
func (t *Thread) CopyOutBytes(addr hostarch.Addr, src []byte) error {
	return t.proc.mm.CopyOut(addr, src)
}

// CopyInString copies a NUL-terminated string of at most max bytes.
func (t *Thread) CopyInString(addr hostarch.Addr, max int) (string, error) {
	return t.proc.mm.CopyInString(addr, max)
}

// threadStackPages and threadStackStep shape the stacks of new threads:
// two pages under a one page guard, searched downward from the top of
// user memory.
const (
	threadStackPages = 2
	threadStackStep  = threadStackPages + 1
)

// CreateThread starts a thread in t's process at entry with a0 = arg. It
// returns the new thread's ID.
func (k *Kernel) CreateThread(t *Thread, entry hostarch.Addr, arg uint64) (ThreadID, error) {
	if !hostarch.IsCanonical(uint64(entry)) || !entry.VPN().IsUser() || entry%4 != 0 {
		return 0, tgerr.EINVAL
	}
	p := t.proc
	r, ok := p.mm.FindFree(hostarch.UserVPNLimit-1, threadStackStep, threadStackStep)
	if !ok {
		return 0, tgerr.ENOMEM
	}
	stack := hostarch.VPNRange{Start: r.Start, End: r.Start + threadStackPages}
	if err := p.mm.MapWithAllocation(stack, mm.MapOpts{Access: hostarch.ReadWrite, Hint: "[stack]"}); err != nil {
		return 0, err
	}
	ctx := arch.NewContext(entry)
	ctx.SetStack(uintptr(stack.End.Base()))
	ctx.SetReg(arch.A0, arg)
	nt := k.newThread(p, ctx)
	nt.stack = stack
	t.Debugf("Created thread %d at %v, stack %v", nt.tid, entry, stack)
	return nt.tid, nil
}

// newThread adds a ready thread to p.
func (k *Kernel) newThread(p *Process, ctx *arch.Context) *Thread {
	t := &Thread{
		k:    k,
		tid:  k.allocTID(),
		proc: p,
		ctx:  ctx,
	}
	k.threads[t.tid] = t
	p.threads = append(p.threads, t)
	k.makeReady(t)
	return t
}

// WaitThread reaps the zombie thread tid of t's process and returns its
// exit code. It fails with ErrNotExited if the thread still runs.
func (k *Kernel) WaitThread(t *Thread, tid ThreadID) (int64, error) {
	if tid == t.tid {
		return 0, tgerr.EINVAL
	}
	target, ok := k.threads[tid]
	if !ok || target.proc != t.proc {
		return 0, tgerr.ESRCH
	}
	if target.state != ThreadZombie {
		return 0, tgerr.ErrNotExited
	}
	t.proc.removeThread(target)
	delete(k.threads, tid)
	return target.exitCode, nil
}

// ExitThread terminates t with code. When t is the last live thread of its
// process, the process exits too.
func (k *Kernel) ExitThread(t *Thread, code int64) {
	if t.state == ThreadZombie {
		return
	}
	if t.blockedOn != nil {
		t.blockedOn.Remove(t.tid)
		t.blockedOn = nil
	}
	t.onDevice = false
	t.proc.sync.RemoveThread(t)
	t.proc.signals.abandonHandler(t.tid)
	if t.state == ThreadReady {
		k.sched.Remove(t.tid)
	}
	t.state = ThreadZombie
	t.exitCode = code
	if t.stack.Len() != 0 {
		if err := t.proc.mm.Unmap(t.stack); err != nil {
			t.Warningf("Unmapping stack %v: %v", t.stack, err)
		}
		t.stack = hostarch.VPNRange{}
	}
	t.Debugf("Exited with %d", code)

	for _, o := range t.proc.threads {
		if o.state != ThreadZombie {
			return
		}
	}
	k.exitProcess(t.proc, code)
}

// exitCodeForSignal is the exit code of a thread killed by sig.
func exitCodeForSignal(sig tg.Signal) int64 {
	return -int64(sig)
}
