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
	"tgos.dev/tgos/pkg/errors/tgerr"
)

// MaxFDs is the size limit of a descriptor table.
const MaxFDs = 256

// FDTable maps descriptors to files. Each descriptor holds one reference to
// its file.
type FDTable struct {
	files []*File
}

// NewFDTable returns an empty table.
func NewFDTable() *FDTable {
	return &FDTable{}
}

// NewFD installs file at the lowest free descriptor, taking a reference.
func (f *FDTable) NewFD(file *File) (int, error) {
	fd := 0
	for ; fd < len(f.files); fd++ {
		if f.files[fd] == nil {
			break
		}
	}
	if fd >= MaxFDs {
		return -1, tgerr.EMFILE
	}
	file.IncRef()
	if fd == len(f.files) {
		f.files = append(f.files, file)
	} else {
		f.files[fd] = file
	}
	return fd, nil
}

// Get returns the file at fd.
func (f *FDTable) Get(fd int) (*File, error) {
	if fd < 0 || fd >= len(f.files) || f.files[fd] == nil {
		return nil, tgerr.EBADF
	}
	return f.files[fd], nil
}

// Remove closes fd.
func (f *FDTable) Remove(fd int) error {
	file, err := f.Get(fd)
	if err != nil {
		return err
	}
	f.files[fd] = nil
	for len(f.files) > 0 && f.files[len(f.files)-1] == nil {
		f.files = f.files[:len(f.files)-1]
	}
	file.DecRef()
	return nil
}

// Len returns the number of open descriptors.
func (f *FDTable) Len() int {
	n := 0
	for _, file := range f.files {
		if file != nil {
			n++
		}
	}
	return n
}

// ForEach calls fn for each open descriptor in ascending order.
func (f *FDTable) ForEach(fn func(fd int, file *File)) {
	for fd, file := range f.files {
		if file != nil {
			fn(fd, file)
		}
	}
}

// Fork returns a table with the same descriptors, sharing the files.
func (f *FDTable) Fork() *FDTable {
	c := &FDTable{files: make([]*File, len(f.files))}
	for fd, file := range f.files {
		if file != nil {
			file.IncRef()
			c.files[fd] = file
		}
	}
	return c
}

// Release closes every descriptor.
func (f *FDTable) Release() {
	files := f.files
	f.files = nil
	for _, file := range files {
		if file != nil {
			file.DecRef()
		}
	}
}
