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
	"math/bits"

	"github.com/mohae/deepcopy"
	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/sentry/arch"
)

// SignalState is the signal disposition of a process. Fields are exported
// so that Fork can deep copy them.
type SignalState struct {
	// Actions is indexed by signal number.
	Actions [tg.SignalMaximum + 1]tg.SignalAction

	// Mask holds the blocked signals.
	Mask tg.SignalSet

	// Pending holds raised signals not yet delivered.
	Pending tg.SignalSet

	// Handling is the signal whose handler runs, or zero. One handler runs
	// at a time.
	Handling tg.Signal

	// HandlerThread is the thread running the handler.
	HandlerThread ThreadID

	// Saved is the context interrupted by the handler, restored by
	// sigreturn.
	Saved *arch.Context

	// SavedMask is the mask to restore on sigreturn.
	SavedMask tg.SignalSet
}

// NewSignalState returns default dispositions with nothing pending.
func NewSignalState() *SignalState {
	return &SignalState{}
}

// Fork returns a copy of the signal state for a child process. Pending
// signals are not inherited.
func (s *SignalState) Fork() *SignalState {
	c := deepcopy.Copy(s).(*SignalState)
	c.Pending = 0
	return c
}

// Action returns the action of sig.
func (s *SignalState) Action(sig tg.Signal) (tg.SignalAction, error) {
	if !sig.IsValid() {
		return tg.SignalAction{}, tgerr.EINVAL
	}
	return s.Actions[sig], nil
}

// SetAction installs act for sig and returns the previous action. The
// actions of SIGKILL and SIGSTOP cannot be changed.
func (s *SignalState) SetAction(sig tg.Signal, act tg.SignalAction) (tg.SignalAction, error) {
	if !sig.IsValid() || tg.Unblockable&sig.Mask() != 0 {
		return tg.SignalAction{}, tgerr.EINVAL
	}
	old := s.Actions[sig]
	s.Actions[sig] = act
	return old, nil
}

// SetMask replaces the blocked set and returns the old one. SIGKILL and
// SIGSTOP are never blocked.
func (s *SignalState) SetMask(mask tg.SignalSet) tg.SignalSet {
	old := s.Mask
	s.Mask = mask &^ tg.Unblockable
	return old
}

// Raise marks sig pending.
func (s *SignalState) Raise(sig tg.Signal) {
	s.Pending |= sig.Mask()
}

// ResetHandlers restores the default action of every caught signal, as
// exec does. Ignored signals stay ignored.
func (s *SignalState) ResetHandlers() {
	for i := range s.Actions {
		if s.Actions[i].Handler != tg.SIG_IGN {
			s.Actions[i] = tg.SignalAction{}
		}
	}
	s.Handling = 0
	s.Saved = nil
}

// next removes and returns the lowest deliverable pending signal.
func (s *SignalState) next() (tg.Signal, bool) {
	deliverable := s.Pending &^ s.Mask
	if deliverable == 0 {
		return 0, false
	}
	sig := tg.Signal(bits.TrailingZeros64(uint64(deliverable)))
	s.Pending &^= sig.Mask()
	return sig, true
}

// deliverSignals acts on t's process's pending signals before t returns to
// user mode. A caught signal redirects t to its handler with the signal
// number in a0.
func (k *Kernel) deliverSignals(t *Thread) {
	s := t.proc.signals
	for s.Handling == 0 {
		sig, ok := s.next()
		if !ok {
			return
		}
		act := s.Actions[sig]
		switch {
		case sig == tg.SIGKILL || act.Handler == tg.SIG_DFL && tg.IgnoredByDefault&sig.Mask() == 0:
			k.terminate(t.proc, exitCodeForSignal(sig))
			return
		case act.Handler == tg.SIG_DFL || act.Handler == tg.SIG_IGN:
			continue
		}
		t.Debugf("Delivering %v to handler %#x", sig, act.Handler)
		s.Handling = sig
		s.HandlerThread = t.tid
		s.Saved = t.ctx.Fork()
		s.SavedMask = s.Mask
		s.Mask |= (act.Mask | sig.Mask()) &^ tg.Unblockable
		t.ctx.SetIP(uintptr(act.Handler))
		t.ctx.SetReg(arch.A0, uint64(sig))
	}
}

// abandonHandler forgets the handler run by tid, which exits without
// sigreturn, so that delivery can resume on the remaining threads.
func (s *SignalState) abandonHandler(tid ThreadID) {
	if s.Handling == 0 || s.HandlerThread != tid {
		return
	}
	s.Mask = s.SavedMask
	s.Handling = 0
	s.Saved = nil
}

// SignalReturn restores the context interrupted by a handler. Only the
// thread running the handler may return from it.
func (k *Kernel) SignalReturn(t *Thread) error {
	s := t.proc.signals
	if s.Handling == 0 || s.Saved == nil || s.HandlerThread != t.tid {
		return tgerr.EINVAL
	}
	*t.ctx = *s.Saved
	s.Mask = s.SavedMask
	s.Handling = 0
	s.Saved = nil
	return nil
}
