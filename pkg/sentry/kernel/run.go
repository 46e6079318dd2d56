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
	"context"
	"fmt"

	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/sentry/kernel/ksync"
	"tgos.dev/tgos/pkg/sentry/platform"
)

// Run executes user threads until none is left alive, every live thread is
// blocked with nothing that could wake it (ErrDeadlock), the platform
// fails, or ctx is done.
func (k *Kernel) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		for _, p := range k.pollers {
			p.Poll(k)
		}

		tid, ok := k.sched.Next()
		if !ok {
			live, onDevice := k.liveThreads()
			switch {
			case live == 0:
				log.Infof("No live threads, halting")
				return nil
			case onDevice > 0:
				if err := k.platform.WaitInterrupt(ctx); err != nil {
					return err
				}
				k.handleInterrupts()
				continue
			default:
				log.Warningf("Halting: %d threads blocked and none waits for a device", live)
				return ErrDeadlock
			}
		}

		t, ok := k.threads[tid]
		if !ok || t.state != ThreadReady {
			panic(fmt.Sprintf("scheduler picked thread %d which is not ready", tid))
		}
		if err := k.runThread(ctx, t); err != nil {
			return err
		}
	}
}

// runThread runs t until its next trap and handles the trap.
func (k *Kernel) runThread(ctx context.Context, t *Thread) error {
	k.current = t
	defer func() { k.current = nil }()

	t.state = ThreadRunning
	contextSwitchCounter.Increment()
	trap, err := k.platform.Switch(ctx, t.proc.mm, t.ctx)
	if err != nil {
		k.makeReady(t)
		return fmt.Errorf("running thread %d: %w", t.tid, err)
	}

	switch trap.Kind {
	case platform.TrapTimer:
		preemptionCounter.Increment()
	case platform.TrapInterrupt:
		k.handleInterrupts()
	case platform.TrapSyscall:
		k.dispatch(t)
	case platform.TrapFault:
		faultCounter.Increment()
		k.faultLog.Warningf("[%d:%d] Killing thread on %v", t.proc.pid, t.tid, trap)
		k.ExitThread(t, tg.ExitFault)
		return nil
	default:
		panic(fmt.Sprintf("unknown trap %v", trap))
	}

	if t.state == ThreadRunning {
		k.deliverSignals(t)
	}
	if t.state == ThreadRunning {
		k.makeReady(t)
	}
	return nil
}

// handleInterrupts services every pending device interrupt.
func (k *Kernel) handleInterrupts() {
	for {
		src := k.platform.ClaimInterrupt()
		if src == 0 {
			return
		}
		if h, ok := k.handlers[src]; ok {
			h.HandleInterrupt(k)
		} else {
			log.Warningf("Spurious interrupt from source %d", src)
		}
		k.platform.CompleteInterrupt(src)
	}
}

// dispatch executes the syscall t trapped on.
func (k *Kernel) dispatch(t *Thread) {
	num := t.ctx.SyscallNo()
	t.proc.syscalls[num]++
	name, ok := tg.SyscallNames[num]
	if !ok {
		name = unknownSyscall
	}
	syscallCounter.Increment(name)

	t.ctx.MoveNext()
	fn := k.table.Lookup(num)
	if fn == nil {
		t.Warningf("Unsupported syscall %d, killing thread", num)
		k.ExitThread(t, tg.ExitUnsupportedSyscall)
		return
	}

	args := t.ctx.SyscallArgs()
	if log.IsLogging(log.Debug) {
		t.Debugf("%s(%#x, %#x, %#x)", name, args[0].Value, args[1].Value, args[2].Value)
	}
	rv, ctrl, err := fn(t, args)
	if t.state == ThreadZombie {
		return
	}

	switch {
	case ctrl == CtrlExited || ctrl == CtrlNoReturn:
	case err == ksync.ErrWouldBlock:
		// The handler has queued t, or t spins: either way the call runs
		// again when t next runs.
		t.ctx.RewindSyscall()
	case ctrl == CtrlRetry:
		t.ctx.RewindSyscall()
	case ctrl != nil && ctrl.kind == ctrlBlock:
		t.ctx.SetReturn(0)
		t.block(ctrl.blocker)
	case err != nil:
		t.ctx.SetReturn(tgerr.ReturnValue(err))
	default:
		t.ctx.SetReturn(rv)
	}
}
