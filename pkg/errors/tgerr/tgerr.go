// Copyright 2021 The gVisor Authors.
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

// Package tgerr contains the kernel's syscall error values exported as
// error interface pointers, so handlers can return them directly and the
// dispatcher can translate them into negative return values.
package tgerr

import (
	"errors"

	"tgos.dev/tgos/pkg/abi/tg"
)

// Error is a guest-visible error: an errno plus a message for the host log.
type Error struct {
	errno   tg.Errno
	message string
}

// New returns an Error carrying errno.
func New(errno tg.Errno, message string) *Error {
	return &Error{errno: errno, message: message}
}

// Error implements error.Error.
func (e *Error) Error() string { return e.message }

// Errno returns the errno user code sees.
func (e *Error) Errno() tg.Errno { return e.errno }

// The following errors are the complete taxonomy visible to user programs.
var (
	EPERM   = New(tg.EPERM, "operation not permitted")
	ENOENT  = New(tg.ENOENT, "no such file or directory")
	ESRCH   = New(tg.ESRCH, "no such process")
	EINTR   = New(tg.EINTR, "interrupted system call")
	EIO     = New(tg.EIO, "I/O error")
	EBADF   = New(tg.EBADF, "bad file number")
	ECHILD  = New(tg.ECHILD, "no child processes")
	EAGAIN  = New(tg.EAGAIN, "try again")
	ENOMEM  = New(tg.ENOMEM, "out of memory")
	EFAULT  = New(tg.EFAULT, "bad address")
	EBUSY   = New(tg.EBUSY, "device or resource busy")
	EEXIST  = New(tg.EEXIST, "file exists")
	EINVAL  = New(tg.EINVAL, "invalid argument")
	EMFILE  = New(tg.EMFILE, "too many open files")
	EPIPE   = New(tg.EPIPE, "broken pipe")
	ENOSYS  = New(tg.ENOSYS, "invalid system call number")
	EDEADLK = New(tg.EDEADLK, "resource deadlock would occur")
)

// ErrNotExited is returned by wait calls whose target has not terminated
// yet. The caller is expected to yield and retry.
var ErrNotExited = New(tg.EAGAIN, "target has not exited")

// ToErrno extracts the errno carried by err. Errors that are not *Error
// translate to EIO, and ok reports whether a translation was found.
func ToErrno(err error) (e tg.Errno, ok bool) {
	var kerr *Error
	if errors.As(err, &kerr) {
		return kerr.Errno(), true
	}
	return tg.EIO, false
}

// ReturnValue converts err into the value a syscall leaves in a0.
func ReturnValue(err error) uintptr {
	e, _ := ToErrno(err)
	return uintptr(-int64(e))
}

// Equals returns true if err carries the same errno as target.
func Equals(target *Error, err error) bool {
	e, ok := ToErrno(err)
	return ok && e == target.Errno()
}
