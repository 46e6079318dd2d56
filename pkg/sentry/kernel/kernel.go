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

// Package kernel provides the process and thread model and the loop that
// runs user threads on a platform.
//
// A Kernel owns every Process and Thread, the ready set and the syscall
// table. All of that state is mutated only by the goroutine executing
// Kernel.Run (and, before Run starts, by the goroutine that builds the
// kernel). Devices that receive data on other goroutines hand it over
// through interrupts; see InterruptHandler.
//
// Lock order:
//
//	mm.AddressSpace.mu
//	  pagetables.PageTables.mu
package kernel

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/metric"
	"tgos.dev/tgos/pkg/sentry/kernel/ksync"
	"tgos.dev/tgos/pkg/sentry/loader"
	"tgos.dev/tgos/pkg/sentry/platform"
)

// ErrDeadlock is returned by Run when live threads remain but none can run
// and none waits for a device.
var ErrDeadlock = errors.New("every live thread is blocked")

var (
	syscallCounter       = metric.MustCreateNewUint64Metric("/kernel/syscalls", "Number of syscalls dispatched, by name.", metric.NewField("name", syscallMetricNames()))
	faultCounter         = metric.MustCreateNewUint64Metric("/kernel/faults", "Number of threads killed by a fault.")
	preemptionCounter    = metric.MustCreateNewUint64Metric("/kernel/preemptions", "Number of time slices that expired.")
	contextSwitchCounter = metric.MustCreateNewUint64Metric("/kernel/context_switches", "Number of switches into user code.")
	deadlocksAvoided     = metric.MustCreateNewUint64Metric("/kernel/deadlocks_avoided", "Number of acquisitions refused by the deadlock detector.")
)

// unknownSyscall is the metric field value of unnamed syscall numbers.
const unknownSyscall = "unknown"

func syscallMetricNames() []string {
	names := []string{unknownSyscall}
	for _, n := range tg.SyscallNames {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// ImageSource resolves program names for exec and spawn.
type ImageSource interface {
	Image(name string) (*loader.Image, error)
}

// InterruptHandler services a device interrupt. It runs on the kernel loop
// and may wake threads.
type InterruptHandler interface {
	HandleInterrupt(k *Kernel)
}

// Poller is called by the kernel loop before every scheduling decision.
type Poller interface {
	Poll(k *Kernel)
}

// Opts configures a new Kernel.
type Opts struct {
	// Platform runs user code. Required.
	Platform platform.Platform

	// Scheduler picks the next thread. Nil selects round robin.
	Scheduler Scheduler

	// Syscalls are the syscall categories to install.
	Syscalls Syscalls

	// Images resolves exec and spawn. It may be nil, in which case those
	// calls fail with ENOENT.
	Images ImageSource

	// TimeSlice is the number of ticks a thread runs before it is
	// preempted. Zero selects DefaultTimeSlice.
	TimeSlice uint64

	// Cooperative disables preemption: threads run until they trap.
	Cooperative bool

	// Console backs descriptors 0, 1 and 2 of processes started from an
	// image. It may be nil.
	Console FileOperations

	// StackPages is the size of a process's initial stack. Zero selects
	// loader.DefaultStackPages.
	StackPages int
}

// DefaultTimeSlice is 10ms at the platform clock rate.
const DefaultTimeSlice = tg.ClockFrequency / 100

// Kernel is the tgos kernel.
type Kernel struct {
	platform platform.Platform
	sched    Scheduler
	table    *SyscallTable
	images   ImageSource
	console  FileOperations

	stackPages  int
	timeSlice   uint64
	cooperative bool

	threads   map[ThreadID]*Thread
	processes map[ProcessID]*Process

	// init adopts orphans. It is the first process created.
	init *Process

	nextTID ThreadID
	nextPID ProcessID

	// current is the thread executing in user mode, or the thread whose
	// trap is being handled.
	current *Thread

	handlers map[int]InterruptHandler
	pollers  []Poller

	// faultLog reports user faults without letting a faulting program
	// flood the log.
	faultLog log.Logger

	// bootTime anchors CLOCK_REALTIME to the platform tick counter.
	bootTime  time.Time
	bootTicks uint64
}

// New returns a kernel with no processes.
func New(opts Opts) (*Kernel, error) {
	if opts.Platform == nil {
		return nil, fmt.Errorf("no platform")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = NewRoundRobin()
	}
	if opts.TimeSlice == 0 {
		opts.TimeSlice = DefaultTimeSlice
	}
	if opts.StackPages == 0 {
		opts.StackPages = loader.DefaultStackPages
	}
	k := &Kernel{
		platform:    opts.Platform,
		sched:       opts.Scheduler,
		table:       NewSyscallTable(opts.Syscalls),
		images:      opts.Images,
		console:     opts.Console,
		stackPages:  opts.StackPages,
		timeSlice:   opts.TimeSlice,
		cooperative: opts.Cooperative,
		threads:     make(map[ThreadID]*Thread),
		processes:   make(map[ProcessID]*Process),
		nextTID:     1,
		nextPID:     1,
		handlers:    make(map[int]InterruptHandler),
		faultLog:    log.BasicRateLimitedLogger(time.Second),
		bootTime:    time.Now(),
		bootTicks:   opts.Platform.Now(),
	}
	if k.cooperative {
		k.platform.SetTimeSlice(0)
	} else {
		k.platform.SetTimeSlice(k.timeSlice)
	}
	return k, nil
}

// Platform returns the platform the kernel runs on.
func (k *Kernel) Platform() platform.Platform {
	return k.platform
}

// SyscallTable returns the installed syscall table.
func (k *Kernel) SyscallTable() *SyscallTable {
	return k.table
}

// Images returns the image source, which may be nil.
func (k *Kernel) Images() ImageSource {
	return k.images
}

// Init returns the first process, or nil before one is created.
func (k *Kernel) Init() *Process {
	return k.init
}

// Current returns the thread whose trap is being handled, or nil.
func (k *Kernel) Current() *Thread {
	return k.current
}

// Thread returns the thread with the given ID, including zombies that have
// not been reaped.
func (k *Kernel) Thread(tid ThreadID) (*Thread, bool) {
	t, ok := k.threads[tid]
	return t, ok
}

// Process returns the process with the given ID, including zombies that
// have not been reaped.
func (k *Kernel) Process(pid ProcessID) (*Process, bool) {
	p, ok := k.processes[pid]
	return p, ok
}

// Processes returns every process in ascending PID order.
func (k *Kernel) Processes() []*Process {
	ps := make([]*Process, 0, len(k.processes))
	for _, p := range k.processes {
		ps = append(ps, p)
	}
	sort.Slice(ps, func(i, j int) bool { return ps[i].pid < ps[j].pid })
	return ps
}

// Ticks returns the platform time counter.
func (k *Kernel) Ticks() uint64 {
	return k.platform.Now()
}

// MonotonicNanoseconds returns the time since the platform started.
func (k *Kernel) MonotonicNanoseconds() int64 {
	return int64(tg.TicksToNanoseconds(k.platform.Now()))
}

// RealtimeNanoseconds returns the wall clock, advanced by platform ticks
// from the time the kernel was created.
func (k *Kernel) RealtimeNanoseconds() int64 {
	return k.bootTime.UnixNano() + int64(tg.TicksToNanoseconds(k.platform.Now()-k.bootTicks))
}

// RegisterInterrupt routes device interrupt source irq to h and enables it.
func (k *Kernel) RegisterInterrupt(irq int, h InterruptHandler) {
	k.handlers[irq] = h
	k.platform.EnableInterrupt(irq)
}

// RegisterPoller adds p to the pollers run before each scheduling decision.
func (k *Kernel) RegisterPoller(p Poller) {
	k.pollers = append(k.pollers, p)
}

// Wake makes a blocked thread runnable. It implements ksync.Waker. Waking a
// thread that is not blocked does nothing.
func (k *Kernel) Wake(tid ThreadID) {
	t, ok := k.threads[tid]
	if !ok || t.state != ThreadBlocked {
		return
	}
	t.blockedOn = nil
	t.onDevice = false
	k.makeReady(t)
}

var _ ksync.Waker = (*Kernel)(nil)

func (k *Kernel) makeReady(t *Thread) {
	t.state = ThreadReady
	k.sched.Enqueue(t.tid)
}

func (k *Kernel) allocTID() ThreadID {
	tid := k.nextTID
	k.nextTID++
	return tid
}

func (k *Kernel) allocPID() ProcessID {
	pid := k.nextPID
	k.nextPID++
	return pid
}

// liveThreads counts threads that are not zombies.
func (k *Kernel) liveThreads() (live, onDevice int) {
	for _, t := range k.threads {
		switch {
		case t.state == ThreadZombie:
		case t.state == ThreadBlocked && t.onDevice:
			live++
			onDevice++
		default:
			live++
		}
	}
	return live, onDevice
}
