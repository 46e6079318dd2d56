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
	"errors"
	"fmt"

	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/hostarch"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/sentry/arch"
	"tgos.dev/tgos/pkg/sentry/loader"
	"tgos.dev/tgos/pkg/sentry/mm"
)

// ProcessID identifies a process. IDs are never reused.
type ProcessID int32

// Process is a user process: an address space, descriptors, synchronization
// objects and signal state shared by one or more threads.
type Process struct {
	k    *Kernel
	pid  ProcessID
	name string

	// parent is nil for init and for orphans of init.
	parent   *Process
	children []*Process

	// threads holds every unreaped thread, in creation order.
	threads []*Thread

	mm      *mm.AddressSpace
	fdTable *FDTable
	sync    *SyncTable
	signals *SignalState

	// syscalls counts syscalls by number.
	syscalls map[uintptr]uint64

	exited   bool
	exitCode int64
}

// PID returns the process ID.
func (p *Process) PID() ProcessID {
	return p.pid
}

// Name returns the name of the image the process runs.
func (p *Process) Name() string {
	return p.name
}

// Parent returns the parent, or nil.
func (p *Process) Parent() *Process {
	return p.parent
}

// Children returns the unreaped children.
func (p *Process) Children() []*Process {
	return append([]*Process(nil), p.children...)
}

// Threads returns the unreaped threads.
func (p *Process) Threads() []*Thread {
	return append([]*Thread(nil), p.threads...)
}

// MemoryManager returns the address space. It has been released once the
// process has exited.
func (p *Process) MemoryManager() *mm.AddressSpace {
	return p.mm
}

// FDTable returns the descriptor table.
func (p *Process) FDTable() *FDTable {
	return p.fdTable
}

// Sync returns the synchronization objects.
func (p *Process) Sync() *SyncTable {
	return p.sync
}

// Signals returns the signal state.
func (p *Process) Signals() *SignalState {
	return p.signals
}

// Exited returns true once every thread has exited.
func (p *Process) Exited() bool {
	return p.exited
}

// ExitCode returns the exit code of an exited process.
func (p *Process) ExitCode() int64 {
	return p.exitCode
}

// SyscallCount returns the number of times syscall num was issued.
func (p *Process) SyscallCount(num uintptr) uint64 {
	return p.syscalls[num]
}

// liveThreads returns the number of threads that have not exited.
func (p *Process) liveThreads() int {
	n := 0
	for _, t := range p.threads {
		if t.state != ThreadZombie {
			n++
		}
	}
	return n
}

func (p *Process) removeThread(t *Thread) {
	for i, o := range p.threads {
		if o == t {
			p.threads = append(p.threads[:i], p.threads[i+1:]...)
			return
		}
	}
}

func (p *Process) removeChild(c *Process) {
	for i, o := range p.children {
		if o == c {
			p.children = append(p.children[:i], p.children[i+1:]...)
			return
		}
	}
}

// newProcess registers an empty process as a child of parent.
func (k *Kernel) newProcess(name string, parent *Process, as *mm.AddressSpace) *Process {
	p := &Process{
		k:        k,
		pid:      k.allocPID(),
		name:     name,
		parent:   parent,
		mm:       as,
		syscalls: make(map[uintptr]uint64),
	}
	if parent != nil {
		parent.children = append(parent.children, p)
	}
	if k.init == nil {
		k.init = p
	}
	k.processes[p.pid] = p
	return p
}

// loadImage builds a fresh address space holding img.
func (k *Kernel) loadImage(img *loader.Image) (*mm.AddressSpace, loader.Loaded, error) {
	as, err := mm.New(k.platform)
	if err != nil {
		return nil, loader.Loaded{}, err
	}
	l, err := loader.Load(as, img, k.stackPages)
	if err != nil {
		as.Release()
		return nil, loader.Loaded{}, err
	}
	return as, l, nil
}

// CreateProcess starts a process running img with the console on
// descriptors 0, 1 and 2. The first process created becomes init. A nil
// parent makes the process a child of init.
func (k *Kernel) CreateProcess(img *loader.Image, parent *Process) (*Process, error) {
	as, l, err := k.loadImage(img)
	if err != nil {
		return nil, fmt.Errorf("loading %q: %w", img.Name, err)
	}
	if parent == nil {
		parent = k.init
	}
	p := k.newProcess(img.Name, parent, as)
	p.fdTable = k.stdioTable()
	p.sync = NewSyncTable()
	p.signals = NewSignalState()

	ctx := arch.NewContext(l.Entry)
	ctx.SetStack(uintptr(l.StackTop))
	t := k.newThread(p, ctx)
	log.Infof("Started process %d (%s), thread %d", p.pid, p.name, t.tid)
	return p, nil
}

// StartImage looks up name and starts it as a child of init.
func (k *Kernel) StartImage(name string) (*Process, error) {
	img, err := k.LookupImage(name)
	if err != nil {
		return nil, err
	}
	return k.CreateProcess(img, nil)
}

// LookupImage resolves name through the image source. Unknown names fail
// with ENOENT.
func (k *Kernel) LookupImage(name string) (*loader.Image, error) {
	if k.images == nil {
		return nil, tgerr.ENOENT
	}
	img, err := k.images.Image(name)
	if errors.Is(err, loader.ErrNotFound) {
		return nil, tgerr.ENOENT
	}
	return img, err
}

// stdioTable returns a table with the console on descriptors 0 to 2.
func (k *Kernel) stdioTable() *FDTable {
	fds := NewFDTable()
	if k.console == nil {
		return fds
	}
	in := NewFile("console", k.console, FileReadable)
	out := NewFile("console", k.console, FileWritable)
	fds.NewFD(in)
	fds.NewFD(out)
	fds.NewFD(out)
	in.DecRef()
	out.DecRef()
	return fds
}

// Spawn starts the image called name as a new child of t's process and
// returns the child's PID.
func (k *Kernel) Spawn(t *Thread, name string) (ProcessID, error) {
	img, err := k.LookupImage(name)
	if err != nil {
		return 0, err
	}
	p, err := k.CreateProcess(img, t.proc)
	if err != nil {
		t.Debugf("Spawning %q: %v", name, err)
		return 0, tgerr.ENOMEM
	}
	return p.pid, nil
}

// Fork copies t's process. The child has one thread, a copy of t that
// sees 0 in a0. It returns the child's PID.
func (k *Kernel) Fork(t *Thread) (ProcessID, error) {
	parent := t.proc
	as, err := parent.mm.Fork()
	if err != nil {
		return 0, err
	}
	c := k.newProcess(parent.name, parent, as)
	c.fdTable = parent.fdTable.Fork()
	c.sync = parent.sync.Fork()
	c.signals = parent.signals.Fork()

	ctx := t.ctx.Fork()
	ctx.SetReturn(0)
	// The forking thread's stack, if it was a created thread, is now an
	// ordinary mapping of the child.
	k.newThread(c, ctx)
	t.Debugf("Forked process %d", c.pid)
	return c.pid, nil
}

// Exec replaces the image of t's process with img. t must be the process's
// only live thread. On success t restarts at the image's entry.
func (k *Kernel) Exec(t *Thread, img *loader.Image) error {
	p := t.proc
	if p.liveThreads() > 1 {
		return tgerr.EBUSY
	}
	as, l, err := k.loadImage(img)
	if err != nil {
		t.Debugf("Exec of %q: %v", img.Name, err)
		return tgerr.ENOMEM
	}
	// Reap zombie siblings: their IDs cannot be waited for once the
	// program that knew them is gone.
	for _, o := range p.Threads() {
		if o != t {
			p.removeThread(o)
			delete(k.threads, o.tid)
		}
	}
	p.mm.Release()
	p.mm = as
	p.name = img.Name
	p.signals.ResetHandlers()
	t.stack = hostarch.VPNRange{}
	ctx := arch.NewContext(l.Entry)
	ctx.SetStack(uintptr(l.StackTop))
	*t.ctx = *ctx
	t.Debugf("Exec %q", img.Name)
	return nil
}

// Wait reaps an exited child of t's process. pid -1 matches any child. It
// returns the child's PID and exit code, ErrNotExited if matching children
// exist but none has exited, or ECHILD.
func (k *Kernel) Wait(t *Thread, pid ProcessID) (ProcessID, int64, error) {
	found := false
	for _, c := range t.proc.children {
		if pid != -1 && c.pid != pid {
			continue
		}
		found = true
		if c.exited {
			k.reap(c)
			return c.pid, c.exitCode, nil
		}
	}
	if !found {
		return 0, 0, tgerr.ECHILD
	}
	return 0, 0, tgerr.ErrNotExited
}

// Kill sends sig to process pid. SIGKILL terminates the process at once;
// other signals wait until one of its threads returns to user mode.
func (k *Kernel) Kill(pid ProcessID, sig tg.Signal) error {
	p, ok := k.processes[pid]
	if !ok || p.exited {
		return tgerr.ESRCH
	}
	if !sig.IsValid() {
		return tgerr.EINVAL
	}
	if sig == tg.SIGKILL {
		k.terminate(p, exitCodeForSignal(sig))
		return nil
	}
	p.signals.Raise(sig)
	return nil
}

// terminate exits every live thread of p with code.
func (k *Kernel) terminate(p *Process, code int64) {
	log.Infof("Terminating process %d (%s) with %d", p.pid, p.name, code)
	for _, t := range p.Threads() {
		k.ExitThread(t, code)
	}
}

// exitProcess releases p's resources once its last thread has exited.
func (k *Kernel) exitProcess(p *Process, code int64) {
	p.exited = true
	p.exitCode = code
	p.fdTable.Release()
	p.mm.Release()
	log.Infof("Process %d (%s) exited with %d", p.pid, p.name, code)

	for _, c := range p.children {
		if c == k.init {
			continue
		}
		if p == k.init || k.init == nil || k.init.exited {
			c.parent = nil
			if c.exited {
				k.reap(c)
			}
			continue
		}
		c.parent = k.init
		k.init.children = append(k.init.children, c)
	}
	p.children = nil

	if p.parent == nil {
		k.reap(p)
	}
}

// reap forgets an exited process.
func (k *Kernel) reap(p *Process) {
	if p.parent != nil {
		p.parent.removeChild(p)
	}
	for _, t := range p.threads {
		delete(k.threads, t.tid)
	}
	p.threads = nil
	delete(k.processes, p.pid)
}
