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

package tmpfs

import (
	"sync"

	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/sentry/kernel"
)

// regularFile is a file's name and contents.
type regularFile struct {
	// name is immutable.
	name string

	// mu protects data.
	mu   sync.Mutex
	data []byte
}

func (rf *regularFile) truncate() {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	rf.data = nil
}

// regularFileFD implements kernel.FileOperations for an open regular file.
// Each open has its own offset.
type regularFileFD struct {
	file *regularFile
	off  int64
}

var _ kernel.FileOperations = (*regularFileFD)(nil)

// Read implements kernel.FileOperations.Read.
func (fd *regularFileFD) Read(_ *kernel.Thread, dst []byte) (int, error) {
	rf := fd.file
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if fd.off >= int64(len(rf.data)) {
		return 0, nil
	}
	n := copy(dst, rf.data[fd.off:])
	fd.off += int64(n)
	return n, nil
}

// Write implements kernel.FileOperations.Write.
func (fd *regularFileFD) Write(_ *kernel.Thread, src []byte) (int, error) {
	rf := fd.file
	rf.mu.Lock()
	defer rf.mu.Unlock()
	end := fd.off + int64(len(src))
	if end > MaxFileSize {
		return 0, tgerr.ENOMEM
	}
	if end > int64(len(rf.data)) {
		if end > int64(cap(rf.data)) {
			grown := make([]byte, end, 2*end)
			copy(grown, rf.data)
			rf.data = grown
		} else {
			rf.data = rf.data[:end]
		}
	}
	n := copy(rf.data[fd.off:], src)
	fd.off += int64(n)
	return n, nil
}

// Release implements kernel.FileOperations.Release.
func (*regularFileFD) Release() {}
