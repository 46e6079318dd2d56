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

// Package tmpfs provides an in-memory filesystem with a single flat
// directory of regular files.
//
// Lock order:
//
//	filesystem.mu
//	  regularFile.mu
package tmpfs

import (
	"strings"
	"sync"

	"github.com/google/btree"
	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

// Name is the filesystem name.
const Name = "tmpfs"

// MaxFileSize bounds the size of a regular file.
const MaxFileSize = 16 << 20

// btreeDegree is the degree of the directory tree.
const btreeDegree = 16

// Filesystem implements vfs.FilesystemImpl.
type Filesystem struct {
	// mu protects files.
	mu sync.Mutex

	// files is the root directory, ordered by name.
	files *btree.BTreeG[*regularFile]
}

var _ vfs.FilesystemImpl = (*Filesystem)(nil)

func fileLess(a, b *regularFile) bool {
	return a.name < b.name
}

// New returns an empty filesystem.
func New() *Filesystem {
	return &Filesystem{files: btree.NewG(btreeDegree, fileLess)}
}

func validName(name string) bool {
	return name != "" && name != "." && name != ".." && !strings.Contains(name, "/")
}

// lookupLocked returns the file called name, or nil.
//
// Preconditions: fs.mu is locked.
func (fs *Filesystem) lookupLocked(name string) *regularFile {
	rf, _ := fs.files.Get(&regularFile{name: name})
	return rf
}

// Open implements vfs.FilesystemImpl.Open.
func (fs *Filesystem) Open(name string, opts vfs.OpenOptions) (kernel.FileOperations, error) {
	if !validName(name) {
		return nil, tgerr.ENOENT
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rf := fs.lookupLocked(name)
	switch {
	case rf == nil && !opts.Create():
		return nil, tgerr.ENOENT
	case rf == nil:
		rf = &regularFile{name: name}
		fs.files.ReplaceOrInsert(rf)
		log.Debugf("tmpfs: created %q", name)
	case opts.Create() || opts.Truncate():
		// Opening an existing file with O_CREATE empties it, as easy-fs
		// does.
		rf.truncate()
	}
	return &regularFileFD{file: rf}, nil
}

// WriteFile creates or replaces the file called name with a copy of data.
func (fs *Filesystem) WriteFile(name string, data []byte) error {
	if !validName(name) {
		return tgerr.EINVAL
	}
	if len(data) > MaxFileSize {
		return tgerr.ENOMEM
	}
	fs.mu.Lock()
	defer fs.mu.Unlock()
	rf := fs.lookupLocked(name)
	if rf == nil {
		rf = &regularFile{name: name}
		fs.files.ReplaceOrInsert(rf)
	}
	rf.mu.Lock()
	rf.data = append([]byte(nil), data...)
	rf.mu.Unlock()
	return nil
}

// ReadFile returns a copy of the contents of the file called name.
func (fs *Filesystem) ReadFile(name string) ([]byte, error) {
	fs.mu.Lock()
	rf := fs.lookupLocked(name)
	fs.mu.Unlock()
	if rf == nil {
		return nil, tgerr.ENOENT
	}
	rf.mu.Lock()
	defer rf.mu.Unlock()
	return append([]byte(nil), rf.data...), nil
}

// Unlink removes the file called name. Open descriptors keep the data.
func (fs *Filesystem) Unlink(name string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if _, ok := fs.files.Delete(&regularFile{name: name}); !ok {
		return tgerr.ENOENT
	}
	return nil
}

// Names returns the name of every file in order.
func (fs *Filesystem) Names() []string {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	names := make([]string, 0, fs.files.Len())
	fs.files.Ascend(func(rf *regularFile) bool {
		names = append(names, rf.name)
		return true
	})
	return names
}
