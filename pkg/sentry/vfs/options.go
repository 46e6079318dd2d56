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

package vfs

import (
	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/sentry/kernel"
)

// OpenOptions contains options to VirtualFilesystem.OpenAt(),
// FilesystemImpl.Open() and Device.Open().
type OpenOptions struct {
	// Flags contains the access mode and flags passed to open.
	//
	// Filesystems are responsible for O_CREATE and O_TRUNC. The access
	// mode is checked by VirtualFilesystem.
	Flags uint32
}

// Readable returns true if the access mode permits reading.
func (o OpenOptions) Readable() bool {
	return o.Flags&tg.O_ACCMODE != tg.O_WRONLY
}

// Writable returns true if the access mode permits writing.
func (o OpenOptions) Writable() bool {
	return o.Flags&tg.O_ACCMODE != tg.O_RDONLY
}

// Create returns true if a missing file should be created.
func (o OpenOptions) Create() bool {
	return o.Flags&tg.O_CREATE != 0
}

// Truncate returns true if an existing file should be emptied.
func (o OpenOptions) Truncate() bool {
	return o.Flags&tg.O_TRUNC != 0
}

// fileFlags validates the access mode and converts it.
func (o OpenOptions) fileFlags() (kernel.FileFlags, error) {
	if o.Flags&tg.O_ACCMODE == tg.O_ACCMODE {
		return 0, tgerr.EINVAL
	}
	var ff kernel.FileFlags
	if o.Readable() {
		ff |= kernel.FileReadable
	}
	if o.Writable() {
		ff |= kernel.FileWritable
	}
	return ff, nil
}
