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
	"fmt"

	"tgos.dev/tgos/pkg/hostarch"
)

// Signal is a signal number.
type Signal int32

// Signals.
const (
	SIGHUP    Signal = 1
	SIGINT    Signal = 2
	SIGQUIT   Signal = 3
	SIGILL    Signal = 4
	SIGTRAP   Signal = 5
	SIGABRT   Signal = 6
	SIGBUS    Signal = 7
	SIGFPE    Signal = 8
	SIGKILL   Signal = 9
	SIGUSR1   Signal = 10
	SIGSEGV   Signal = 11
	SIGUSR2   Signal = 12
	SIGPIPE   Signal = 13
	SIGALRM   Signal = 14
	SIGTERM   Signal = 15
	SIGSTKFLT Signal = 16
	SIGCHLD   Signal = 17
	SIGCONT   Signal = 18
	SIGSTOP   Signal = 19
	SIGTSTP   Signal = 20
	SIGTTIN   Signal = 21
	SIGTTOU   Signal = 22
	SIGURG    Signal = 23
	SIGXCPU   Signal = 24
	SIGXFSZ   Signal = 25
	SIGVTALRM Signal = 26
	SIGPROF   Signal = 27
	SIGWINCH  Signal = 28
	SIGIO     Signal = 29
	SIGPWR    Signal = 30
	SIGSYS    Signal = 31

	// SignalMaximum is the highest valid signal number.
	SignalMaximum = SIGSYS
)

// IsValid returns true if s is a valid signal.
func (s Signal) IsValid() bool {
	return s > 0 && s <= SignalMaximum
}

// Mask returns a SignalSet with s set.
func (s Signal) Mask() SignalSet {
	return SignalSet(1) << uint(s)
}

// String implements fmt.Stringer.String.
func (s Signal) String() string {
	return fmt.Sprintf("signal %d", int32(s))
}

// Special handler values.
const (
	// SIG_DFL selects the default action.
	SIG_DFL = 0

	// SIG_IGN discards the signal.
	SIG_IGN = 1
)

// SignalSet is a signal mask with a bit per signal number.
type SignalSet uint64

// Unblockable is the set of signals that can be neither masked nor caught.
const Unblockable = SignalSet(1<<SIGKILL | 1<<SIGSTOP)

// IgnoredByDefault is the set of signals whose default action is to do
// nothing.
const IgnoredByDefault = SignalSet(1<<SIGCHLD | 1<<SIGCONT | 1<<SIGURG | 1<<SIGWINCH | 1<<SIGSTOP | 1<<SIGTSTP | 1<<SIGTTIN | 1<<SIGTTOU)

// SignalAction is the user layout of a sigaction: a handler address (0
// selects the default action) and the mask installed while it runs.
type SignalAction struct {
	Handler uint64
	Mask    SignalSet
}

// SizeBytes is the size of SignalAction in user memory.
func (*SignalAction) SizeBytes() int {
	return 16
}

// MarshalBytes serializes s into dst.
func (s *SignalAction) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:8], s.Handler)
	hostarch.ByteOrder.PutUint64(dst[8:16], uint64(s.Mask))
	return dst[16:]
}

// UnmarshalBytes deserializes s from src.
func (s *SignalAction) UnmarshalBytes(src []byte) []byte {
	s.Handler = hostarch.ByteOrder.Uint64(src[0:8])
	s.Mask = SignalSet(hostarch.ByteOrder.Uint64(src[8:16]))
	return src[16:]
}
