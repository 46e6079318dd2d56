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
	"bytes"
	"context"
	"encoding/binary"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/rvasm"
	"tgos.dev/tgos/pkg/sentry/fsimpl/tmpfs"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/loader"
	"tgos.dev/tgos/pkg/sentry/platform/rv64"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

const textBase = 0x10000

// console is a FileOperations that records what is written to it.
type console struct {
	in  []byte
	out bytes.Buffer
}

func (c *console) Read(_ *kernel.Thread, dst []byte) (int, error) {
	n := copy(dst, c.in)
	c.in = c.in[n:]
	return n, nil
}

func (c *console) Write(_ *kernel.Thread, src []byte) (int, error) {
	return c.out.Write(src)
}

func (*console) Release() {}

type harness struct {
	t       *testing.T
	k       *kernel.Kernel
	fs      *tmpfs.Filesystem
	con     *console
	images  *loader.Store
	symbols map[string]map[string]uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	m, err := rv64.New(rv64.Opts{MemorySize: 8 << 20})
	if err != nil {
		t.Fatalf("rv64.New failed: %v", err)
	}
	t.Cleanup(func() { m.Release() })
	h := &harness{
		t:       t,
		fs:      tmpfs.New(),
		con:     &console{},
		images:  loader.NewStore(),
		symbols: make(map[string]map[string]uint64),
	}
	k, err := kernel.New(kernel.Opts{
		Platform: m,
		Syscalls: New(Opts{VFS: vfs.New(h.fs)}),
		Images:   h.images,
		Console:  h.con,
	})
	if err != nil {
		t.Fatalf("kernel.New failed: %v", err)
	}
	h.k = k
	return h
}

// image assembles a program. Every program gets an 8-byte "slot" used by
// report.
func (h *harness) image(name string, build func(p *rvasm.Program)) *loader.Image {
	h.t.Helper()
	p := rvasm.New(textBase)
	build(p)
	p.Zero("slot", 8)
	b, err := p.Assemble()
	if err != nil {
		h.t.Fatalf("assembling %s: %v", name, err)
	}
	h.symbols[name] = b.Symbols
	img := loader.FromBinary(name, b)
	if err := h.images.Add(img); err != nil {
		h.t.Fatalf("adding %s: %v", name, err)
	}
	return img
}

func (h *harness) run(img *loader.Image) *kernel.Process {
	h.t.Helper()
	p, err := h.k.CreateProcess(img, nil)
	if err != nil {
		h.t.Fatalf("CreateProcess(%s) failed: %v", img.Name, err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := h.k.Run(ctx); err != nil {
		h.t.Fatalf("Run failed: %v", err)
	}
	return p
}

// reports decodes the console output as the 64-bit values written by
// report.
func (h *harness) reports() []int64 {
	b := h.con.out.Bytes()
	if len(b)%8 != 0 {
		h.t.Fatalf("console output %q is not a sequence of reports", b)
	}
	var out []int64
	for ; len(b) > 0; b = b[8:] {
		out = append(out, int64(binary.LittleEndian.Uint64(b)))
	}
	return out
}

func (h *harness) checkReports(want ...int64) {
	h.t.Helper()
	if diff := cmp.Diff(want, h.reports()); diff != "" {
		h.t.Errorf("reports mismatch (-want +got):\n%s", diff)
	}
}

// report writes reg to stdout as 8 bytes. It clobbers a0-a2, a7 and t1, so
// reg must not be t1.
func report(p *rvasm.Program, reg rvasm.Reg) *rvasm.Program {
	return p.La(rvasm.T1, "slot").
		Emit(rvasm.SD(reg, rvasm.T1, 0)).
		Li(rvasm.A0, 1).
		Emit(rvasm.MV(rvasm.A1, rvasm.T1)).
		Li(rvasm.A2, 8).
		Syscall(tg.SYS_WRITE)
}

func exit(p *rvasm.Program, code int64) *rvasm.Program {
	return p.Li(rvasm.A0, code).Syscall(tg.SYS_EXIT)
}

// waitpid reaps the child whose PID is in reg, yielding while it runs. The
// status is stored at label "status".
func waitpid(p *rvasm.Program, label string, reg rvasm.Reg) *rvasm.Program {
	p.Label(label).
		Emit(rvasm.MV(rvasm.A0, reg)).
		La(rvasm.A1, "status").
		Syscall(tg.SYS_WAITPID).
		Li(rvasm.T0, -int64(tg.EAGAIN)).
		Bne(rvasm.A0, rvasm.T0, label+"_done").
		Syscall(tg.SYS_SCHED_YIELD).
		J(label)
	return p.Label(label + "_done")
}

func errno(e tg.Errno) int64 {
	return -int64(e)
}

func TestConsoleWrite(t *testing.T) {
	h := newHarness(t)
	p := h.run(h.image("hello", func(p *rvasm.Program) {
		p.Li(rvasm.A0, 1).La(rvasm.A1, "msg").Li(rvasm.A2, 3).Syscall(tg.SYS_WRITE)
		// a0 holds the count.
		p.Syscall(tg.SYS_EXIT)
		p.String("msg", "ok\n")
	}))
	if got := h.con.out.String(); got != "ok\n" {
		t.Errorf("console output = %q, want %q", got, "ok\n")
	}
	if got := p.ExitCode(); got != 3 {
		t.Errorf("ExitCode() = %d, want 3", got)
	}
}

func TestConsoleRead(t *testing.T) {
	h := newHarness(t)
	h.con.in = []byte("abc")
	h.run(h.image("reader", func(p *rvasm.Program) {
		p.Li(rvasm.A0, 0).La(rvasm.A1, "buf").Li(rvasm.A2, 2).Syscall(tg.SYS_READ)
		report(p, rvasm.A0)
		p.La(rvasm.T0, "buf").Emit(rvasm.LBU(rvasm.S0, rvasm.T0, 1))
		report(p, rvasm.S0)
		exit(p, 0)
		p.Zero("buf", 8)
	}))
	h.checkReports(2, 'b')
}

func TestIOErrors(t *testing.T) {
	h := newHarness(t)
	h.run(h.image("errors", func(p *rvasm.Program) {
		p.Li(rvasm.A0, 9).La(rvasm.A1, "buf").Li(rvasm.A2, 1).Syscall(tg.SYS_WRITE)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 9).Syscall(tg.SYS_CLOSE)
		report(p, rvasm.A0)
		// Descriptor 1 is write-only.
		p.Li(rvasm.A0, 1).La(rvasm.A1, "buf").Li(rvasm.A2, 1).Syscall(tg.SYS_READ)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 0).Li(rvasm.A1, 0).Syscall(tg.SYS_OPEN)
		report(p, rvasm.A0)
		// The text segment is not writable.
		p.Li(rvasm.A0, 0).Li(rvasm.A1, textBase).Li(rvasm.A2, 1).Syscall(tg.SYS_READ)
		report(p, rvasm.A0)
		exit(p, 0)
		p.Zero("buf", 8)
	}))
	h.checkReports(errno(tg.EBADF), errno(tg.EBADF), errno(tg.EBADF), errno(tg.EFAULT), errno(tg.EFAULT))
}

func TestPipeAcrossFork(t *testing.T) {
	h := newHarness(t)
	h.run(h.image("pipe", func(p *rvasm.Program) {
		p.La(rvasm.A0, "fds").Syscall(tg.SYS_PIPE)
		report(p, rvasm.A0)
		p.Syscall(tg.SYS_FORK).Bne(rvasm.A0, rvasm.ZERO, "parent")

		// Child: write two bytes to the pipe.
		p.La(rvasm.T0, "fds").Emit(rvasm.LD(rvasm.A0, rvasm.T0, 8)).
			La(rvasm.A1, "msg").Li(rvasm.A2, 2).Syscall(tg.SYS_WRITE)
		exit(p, 0)

		p.Label("parent").Emit(rvasm.MV(rvasm.S0, rvasm.A0))
		p.La(rvasm.T0, "fds").Emit(rvasm.LD(rvasm.A0, rvasm.T0, 0)).
			La(rvasm.A1, "buf").Li(rvasm.A2, 8).Syscall(tg.SYS_READ)
		report(p, rvasm.A0)
		p.La(rvasm.T0, "buf").Emit(rvasm.LBU(rvasm.S1, rvasm.T0, 0))
		report(p, rvasm.S1)
		waitpid(p, "reap", rvasm.S0)
		p.Emit(rvasm.SUB(rvasm.S1, rvasm.A0, rvasm.S0))
		report(p, rvasm.S1)
		exit(p, 0)

		p.Zero("fds", 16)
		p.Zero("buf", 8)
		p.Zero("status", 8)
		p.String("msg", "hi")
	}))
	h.checkReports(0, 2, 'h', 0)
}

func TestMmap(t *testing.T) {
	const base = 0x4000_0000
	h := newHarness(t)
	h.run(h.image("mmap", func(p *rvasm.Program) {
		mmap := func(addr, length, prot int64) {
			p.Li(rvasm.A0, addr).Li(rvasm.A1, length).Li(rvasm.A2, prot).Syscall(tg.SYS_MMAP)
			report(p, rvasm.A0)
		}
		munmap := func(addr, length int64) {
			p.Li(rvasm.A0, addr).Li(rvasm.A1, length).Syscall(tg.SYS_MUNMAP)
			report(p, rvasm.A0)
		}
		mmap(base, 8192, tg.PROT_READ|tg.PROT_WRITE)
		p.Li(rvasm.T0, base+4096).Li(rvasm.T2, 42).
			Emit(rvasm.SD(rvasm.T2, rvasm.T0, 8), rvasm.LD(rvasm.S0, rvasm.T0, 8))
		report(p, rvasm.S0)
		mmap(base+4096, 4096, tg.PROT_READ)
		mmap(base+1, 4096, tg.PROT_READ)
		mmap(base+0x10000, 4096, 0)
		mmap(base+0x10000, 4096, 8)
		mmap(base+0x10000, 0, tg.PROT_READ)
		munmap(base, 8192)
		munmap(base, 4096)
		mmap(base, 100, tg.PROT_READ)
		munmap(base, 4096)
		exit(p, 0)
	}))
	einval := errno(tg.EINVAL)
	h.checkReports(0, 42, einval, einval, einval, einval, einval, 0, einval, 0, 0)
}

func TestSbrk(t *testing.T) {
	h := newHarness(t)
	h.run(h.image("sbrk", func(p *rvasm.Program) {
		p.Li(rvasm.A0, 0).Syscall(tg.SYS_SBRK).Emit(rvasm.MV(rvasm.S0, rvasm.A0))
		p.Li(rvasm.A0, 4096).Syscall(tg.SYS_SBRK).Emit(rvasm.SUB(rvasm.S1, rvasm.A0, rvasm.S0))
		report(p, rvasm.S1)
		p.Li(rvasm.T2, 7).Emit(rvasm.SD(rvasm.T2, rvasm.S0, 0), rvasm.LD(rvasm.S1, rvasm.S0, 0))
		report(p, rvasm.S1)
		p.Li(rvasm.A0, 0).Syscall(tg.SYS_SBRK).Emit(rvasm.SUB(rvasm.S1, rvasm.A0, rvasm.S0))
		report(p, rvasm.S1)
		p.Li(rvasm.A0, -8192).Syscall(tg.SYS_SBRK)
		report(p, rvasm.A0)
		exit(p, 0)
	}))
	h.checkReports(0, 7, 4096, errno(tg.EINVAL))
}

func TestOpenReadWrite(t *testing.T) {
	h := newHarness(t)
	if err := h.fs.WriteFile("greeting", []byte("hi")); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	h.run(h.image("files", func(p *rvasm.Program) {
		p.La(rvasm.A0, "greeting").Li(rvasm.A1, tg.O_RDONLY).Syscall(tg.SYS_OPEN)
		p.Emit(rvasm.MV(rvasm.S0, rvasm.A0))
		report(p, rvasm.S0)
		p.Emit(rvasm.MV(rvasm.A0, rvasm.S0)).La(rvasm.A1, "buf").Li(rvasm.A2, 8).Syscall(tg.SYS_READ)
		report(p, rvasm.A0)
		// Writing to a read-only descriptor.
		p.Emit(rvasm.MV(rvasm.A0, rvasm.S0)).La(rvasm.A1, "buf").Li(rvasm.A2, 3).Syscall(tg.SYS_WRITE)
		report(p, rvasm.A0)

		p.La(rvasm.A0, "out").Li(rvasm.A1, tg.O_WRONLY|tg.O_CREATE).Syscall(tg.SYS_OPEN)
		p.Emit(rvasm.MV(rvasm.S1, rvasm.A0))
		report(p, rvasm.S1)
		p.Emit(rvasm.MV(rvasm.A0, rvasm.S1)).La(rvasm.A1, "abc").Li(rvasm.A2, 3).Syscall(tg.SYS_WRITE)
		report(p, rvasm.A0)
		p.Emit(rvasm.MV(rvasm.A0, rvasm.S1)).Syscall(tg.SYS_CLOSE)
		report(p, rvasm.A0)

		p.La(rvasm.A0, "missing").Li(rvasm.A1, tg.O_RDONLY).Syscall(tg.SYS_OPEN)
		report(p, rvasm.A0)
		exit(p, 0)

		p.String("greeting", "greeting")
		p.String("out", "/out")
		p.String("missing", "missing")
		p.String("abc", "abc")
		p.Zero("buf", 8)
	}))
	h.checkReports(3, 2, errno(tg.EBADF), 4, 3, 0, errno(tg.ENOENT))
	got, err := h.fs.ReadFile("out")
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	if string(got) != "abc" {
		t.Errorf("out contains %q, want %q", got, "abc")
	}
}

func TestClockGettime(t *testing.T) {
	h := newHarness(t)
	h.run(h.image("clock", func(p *rvasm.Program) {
		p.Li(rvasm.A0, tg.CLOCK_MONOTONIC).La(rvasm.A1, "ts").Syscall(tg.SYS_CLOCK_GETTIME)
		report(p, rvasm.A0)
		p.La(rvasm.T0, "ts").Emit(rvasm.LD(rvasm.S0, rvasm.T0, 8))
		report(p, rvasm.S0)
		p.Li(rvasm.A0, tg.CLOCK_REALTIME).La(rvasm.A1, "ts").Syscall(tg.SYS_CLOCK_GETTIME)
		p.La(rvasm.T0, "ts").Emit(rvasm.LD(rvasm.S0, rvasm.T0, 0))
		report(p, rvasm.S0)
		p.Li(rvasm.A0, 7).La(rvasm.A1, "ts").Syscall(tg.SYS_CLOCK_GETTIME)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, tg.CLOCK_MONOTONIC).Li(rvasm.A1, 0).Syscall(tg.SYS_CLOCK_GETTIME)
		report(p, rvasm.A0)
		exit(p, 0)
		p.Zero("ts", 16)
	}))
	r := h.reports()
	if len(r) != 5 {
		t.Fatalf("got %d reports, want 5: %v", len(r), r)
	}
	if r[0] != 0 {
		t.Errorf("clock_gettime(CLOCK_MONOTONIC) = %d, want 0", r[0])
	}
	if r[1] < 0 || r[1] >= 1e9 {
		t.Errorf("tv_nsec = %d, want [0, 1e9)", r[1])
	}
	if now := time.Now().Unix(); r[2] < now-60 || r[2] > now+60 {
		t.Errorf("CLOCK_REALTIME tv_sec = %d, want about %d", r[2], now)
	}
	if diff := cmp.Diff([]int64{errno(tg.EINVAL), errno(tg.EFAULT)}, r[3:]); diff != "" {
		t.Errorf("error reports mismatch (-want +got):\n%s", diff)
	}
}

func TestTrace(t *testing.T) {
	h := newHarness(t)
	h.run(h.image("trace", func(p *rvasm.Program) {
		p.Li(rvasm.A0, tg.TraceReadByte).La(rvasm.A1, "byte").Syscall(tg.SYS_TRACE)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, tg.TraceWriteByte).La(rvasm.A1, "byte").Li(rvasm.A2, 0x133).Syscall(tg.SYS_TRACE)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, tg.TraceReadByte).La(rvasm.A1, "byte").Syscall(tg.SYS_TRACE)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, tg.TraceSyscall).Li(rvasm.A1, tg.SYS_TRACE).Syscall(tg.SYS_TRACE)
		report(p, rvasm.A0)
		// Writing into read-only text.
		p.Li(rvasm.A0, tg.TraceWriteByte).Li(rvasm.A1, textBase).Syscall(tg.SYS_TRACE)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 9).Syscall(tg.SYS_TRACE)
		report(p, rvasm.A0)
		exit(p, 0)
		p.Data("byte", []byte{0x5a})
	}))
	h.checkReports(0x5a, 0, 0x33, 4, errno(tg.EFAULT), errno(tg.EINVAL))
}

func TestSpawnWaitpid(t *testing.T) {
	h := newHarness(t)
	h.image("child", func(p *rvasm.Program) {
		exit(p, 7)
	})
	h.run(h.image("parent", func(p *rvasm.Program) {
		p.La(rvasm.A0, "child").Li(rvasm.A1, 5).Syscall(tg.SYS_SPAWN)
		p.Emit(rvasm.MV(rvasm.S0, rvasm.A0))
		report(p, rvasm.S0)
		waitpid(p, "reap", rvasm.S0)
		report(p, rvasm.A0)
		p.La(rvasm.T0, "status").Emit(rvasm.LW(rvasm.S1, rvasm.T0, 0))
		report(p, rvasm.S1)
		// No children are left.
		p.Li(rvasm.A0, -1).Li(rvasm.A1, 0).Syscall(tg.SYS_WAITPID)
		report(p, rvasm.A0)
		p.La(rvasm.A0, "child").Li(rvasm.A1, 0).Syscall(tg.SYS_SPAWN)
		report(p, rvasm.A0)
		p.La(rvasm.A0, "nope").Li(rvasm.A1, 4).Syscall(tg.SYS_EXEC)
		report(p, rvasm.A0)
		exit(p, 0)
		p.String("child", "child")
		p.String("nope", "nope")
		p.Zero("status", 8)
	}))
	h.checkReports(2, 2, 7, errno(tg.ECHILD), errno(tg.ENOENT), errno(tg.ENOENT))
}

func TestExec(t *testing.T) {
	h := newHarness(t)
	h.image("next", func(p *rvasm.Program) {
		p.Syscall(tg.SYS_GETPID)
		report(p, rvasm.A0)
		exit(p, 5)
	})
	p := h.run(h.image("first", func(p *rvasm.Program) {
		// The name is cut at the NUL.
		p.La(rvasm.A0, "next").Li(rvasm.A1, 16).Syscall(tg.SYS_EXEC)
		exit(p, 1)
		p.Data("next", []byte("next\x00garbage\x00\x00\x00"))
	}))
	h.checkReports(1)
	if got := p.ExitCode(); got != 5 {
		t.Errorf("ExitCode() = %d, want 5", got)
	}
}

func TestThreads(t *testing.T) {
	h := newHarness(t)
	h.run(h.image("threads", func(p *rvasm.Program) {
		p.La(rvasm.A0, "worker").Li(rvasm.A1, 21).Syscall(tg.SYS_THREAD_CREATE)
		p.Emit(rvasm.MV(rvasm.S0, rvasm.A0))
		p.Label("join").
			Emit(rvasm.MV(rvasm.A0, rvasm.S0)).
			Syscall(tg.SYS_WAITTID).
			Li(rvasm.T0, -int64(tg.EAGAIN)).
			Bne(rvasm.A0, rvasm.T0, "joined").
			Syscall(tg.SYS_SCHED_YIELD).
			J("join")
		p.Label("joined")
		report(p, rvasm.A0)
		p.Syscall(tg.SYS_GETTID)
		report(p, rvasm.A0)
		exit(p, 0)

		p.Label("worker").Emit(rvasm.ADD(rvasm.A0, rvasm.A0, rvasm.A0)).Syscall(tg.SYS_EXIT)
	}))
	h.checkReports(42, 1)
}

func TestSyncCalls(t *testing.T) {
	h := newHarness(t)
	h.run(h.image("sync", func(p *rvasm.Program) {
		p.Li(rvasm.A0, 1).Syscall(tg.SYS_MUTEX_CREATE)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 0).Syscall(tg.SYS_MUTEX_LOCK)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 0).Syscall(tg.SYS_MUTEX_UNLOCK)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 1).Syscall(tg.SYS_SEMAPHORE_CREATE)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 0).Syscall(tg.SYS_SEMAPHORE_DOWN)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 0).Syscall(tg.SYS_SEMAPHORE_UP)
		report(p, rvasm.A0)
		p.Syscall(tg.SYS_CONDVAR_CREATE)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 0).Syscall(tg.SYS_CONDVAR_SIGNAL)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 5).Syscall(tg.SYS_MUTEX_UNLOCK)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 1).Syscall(tg.SYS_ENABLE_DEADLOCK_DETECT)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 2).Syscall(tg.SYS_ENABLE_DEADLOCK_DETECT)
		report(p, rvasm.A0)
		exit(p, 0)
	}))
	h.checkReports(0, 0, 0, 0, 0, 0, 0, 0, errno(tg.EINVAL), 0, errno(tg.EINVAL))
}

func TestSigaction(t *testing.T) {
	h := newHarness(t)
	h.run(h.image("signals", func(p *rvasm.Program) {
		p.La(rvasm.T0, "handler").La(rvasm.T2, "act").Emit(rvasm.SD(rvasm.T0, rvasm.T2, 0))
		p.Li(rvasm.A0, int64(tg.SIGUSR1)).La(rvasm.A1, "act").Li(rvasm.A2, 0).Syscall(tg.SYS_SIGACTION)
		report(p, rvasm.A0)
		p.Syscall(tg.SYS_GETPID).Li(rvasm.A1, int64(tg.SIGUSR1)).Syscall(tg.SYS_KILL)
		report(p, rvasm.A0)

		// Read the action back and compare it with the handler address.
		p.Li(rvasm.A0, int64(tg.SIGUSR1)).Li(rvasm.A1, 0).La(rvasm.A2, "old").Syscall(tg.SYS_SIGACTION)
		report(p, rvasm.A0)
		p.La(rvasm.T0, "old").Emit(rvasm.LD(rvasm.S0, rvasm.T0, 0))
		p.La(rvasm.T0, "handler").Emit(rvasm.SUB(rvasm.S0, rvasm.S0, rvasm.T0))
		report(p, rvasm.S0)

		p.Li(rvasm.A0, 1<<tg.SIGUSR2).Syscall(tg.SYS_SIGPROCMASK)
		report(p, rvasm.A0)
		p.Li(rvasm.A0, 0).Syscall(tg.SYS_SIGPROCMASK)
		report(p, rvasm.A0)
		// SIGKILL cannot be caught.
		p.Li(rvasm.A0, int64(tg.SIGKILL)).La(rvasm.A1, "act").Li(rvasm.A2, 0).Syscall(tg.SYS_SIGACTION)
		report(p, rvasm.A0)
		exit(p, 0)

		p.Label("handler")
		report(p, rvasm.A0)
		p.Syscall(tg.SYS_SIGRETURN)

		p.Zero("act", 16)
		p.Zero("old", 16)
	}))
	h.checkReports(0, int64(tg.SIGUSR1), 0, 0, 0, 0, 1<<tg.SIGUSR2, errno(tg.EINVAL))
}
