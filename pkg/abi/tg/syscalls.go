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

// Syscall numbers.
const (
	SYS_OPEN                   = 56
	SYS_CLOSE                  = 57
	SYS_PIPE                   = 59
	SYS_READ                   = 63
	SYS_WRITE                  = 64
	SYS_EXIT                   = 93
	SYS_CLOCK_GETTIME          = 113
	SYS_SCHED_YIELD            = 124
	SYS_KILL                   = 129
	SYS_SIGACTION              = 134
	SYS_SIGPROCMASK            = 135
	SYS_SIGRETURN              = 139
	SYS_GETPID                 = 172
	SYS_SBRK                   = 214
	SYS_MUNMAP                 = 215
	SYS_FORK                   = 220
	SYS_EXEC                   = 221
	SYS_MMAP                   = 222
	SYS_WAITPID                = 260
	SYS_SPAWN                  = 400
	SYS_TRACE                  = 410
	SYS_ENABLE_DEADLOCK_DETECT = 469
	SYS_THREAD_CREATE          = 1000
	SYS_GETTID                 = 1001
	SYS_WAITTID                = 1002
	SYS_MUTEX_CREATE           = 1010
	SYS_MUTEX_LOCK             = 1011
	SYS_MUTEX_UNLOCK           = 1012
	SYS_SEMAPHORE_CREATE       = 1020
	SYS_SEMAPHORE_UP           = 1021
	SYS_SEMAPHORE_DOWN         = 1022
	SYS_CONDVAR_CREATE         = 1030
	SYS_CONDVAR_SIGNAL         = 1031
	SYS_CONDVAR_WAIT           = 1032
)

// SyscallNames maps syscall numbers to names, for logging.
var SyscallNames = map[uintptr]string{
	SYS_OPEN:                   "open",
	SYS_CLOSE:                  "close",
	SYS_PIPE:                   "pipe",
	SYS_READ:                   "read",
	SYS_WRITE:                  "write",
	SYS_EXIT:                   "exit",
	SYS_CLOCK_GETTIME:          "clock_gettime",
	SYS_SCHED_YIELD:            "sched_yield",
	SYS_KILL:                   "kill",
	SYS_SIGACTION:              "sigaction",
	SYS_SIGPROCMASK:            "sigprocmask",
	SYS_SIGRETURN:              "sigreturn",
	SYS_GETPID:                 "getpid",
	SYS_SBRK:                   "sbrk",
	SYS_MUNMAP:                 "munmap",
	SYS_FORK:                   "fork",
	SYS_EXEC:                   "exec",
	SYS_MMAP:                   "mmap",
	SYS_WAITPID:                "waitpid",
	SYS_SPAWN:                  "spawn",
	SYS_TRACE:                  "trace",
	SYS_ENABLE_DEADLOCK_DETECT: "enable_deadlock_detect",
	SYS_THREAD_CREATE:          "thread_create",
	SYS_GETTID:                 "gettid",
	SYS_WAITTID:                "waittid",
	SYS_MUTEX_CREATE:           "mutex_create",
	SYS_MUTEX_LOCK:             "mutex_lock",
	SYS_MUTEX_UNLOCK:           "mutex_unlock",
	SYS_SEMAPHORE_CREATE:       "semaphore_create",
	SYS_SEMAPHORE_UP:           "semaphore_up",
	SYS_SEMAPHORE_DOWN:         "semaphore_down",
	SYS_CONDVAR_CREATE:         "condvar_create",
	SYS_CONDVAR_SIGNAL:         "condvar_signal",
	SYS_CONDVAR_WAIT:           "condvar_wait",
}

// Exit codes the kernel assigns when it terminates a thread itself.
const (
	// ExitUnsupportedSyscall is the exit code of a thread that issued a
	// syscall number the kernel does not implement.
	ExitUnsupportedSyscall = -2

	// ExitFault is the exit code of a thread killed by an exception.
	ExitFault = -3
)

// Trace requests, passed as the first argument of SYS_TRACE.
const (
	TraceReadByte  = 0
	TraceWriteByte = 1
	TraceSyscall   = 2
)

// Open flags.
const (
	O_RDONLY = 0
	O_WRONLY = 1 << 0
	O_RDWR   = 1 << 1
	O_CREATE = 1 << 9
	O_TRUNC  = 1 << 10

	O_ACCMODE = O_WRONLY | O_RDWR
)

// Mmap protection bits.
const (
	PROT_READ  = 1 << 0
	PROT_WRITE = 1 << 1
	PROT_EXEC  = 1 << 2

	PROT_MASK = PROT_READ | PROT_WRITE | PROT_EXEC
)
