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

// Package vfs resolves the paths passed to open.
//
// The namespace is flat. Device special files are registered at fixed
// absolute paths; every other path names a file in the root filesystem.
package vfs

import (
	"path"
	"sort"
	"strings"
	"sync"

	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/sentry/kernel"
)

// MaxPathLen is the longest path accepted by OpenAt.
const MaxPathLen = 255

// Device is a device special file.
type Device interface {
	// Open returns a new open instance of the device.
	Open(opts OpenOptions) (kernel.FileOperations, error)
}

// FilesystemImpl is the filesystem holding everything that is not a device.
type FilesystemImpl interface {
	// Open opens the file called name, which has no leading slash.
	Open(name string, opts OpenOptions) (kernel.FileOperations, error)
}

// VirtualFilesystem maps paths to devices and to the root filesystem.
type VirtualFilesystem struct {
	root FilesystemImpl

	// mu protects devices.
	mu      sync.Mutex
	devices map[string]Device
}

// New returns a VirtualFilesystem backed by root. root may be nil, in which
// case only devices can be opened.
func New(root FilesystemImpl) *VirtualFilesystem {
	return &VirtualFilesystem{root: root, devices: make(map[string]Device)}
}

// RegisterDevice makes dev reachable at the absolute path p.
func (vfs *VirtualFilesystem) RegisterDevice(p string, dev Device) error {
	if !path.IsAbs(p) || path.Clean(p) != p || p == "/" {
		return tgerr.EINVAL
	}
	vfs.mu.Lock()
	defer vfs.mu.Unlock()
	if _, ok := vfs.devices[p]; ok {
		return tgerr.EEXIST
	}
	vfs.devices[p] = dev
	log.Debugf("Registered device %s (%T)", p, dev)
	return nil
}

// Devices returns the registered device paths in order.
func (vfs *VirtualFilesystem) Devices() []string {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()
	paths := make([]string, 0, len(vfs.devices))
	for p := range vfs.devices {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func (vfs *VirtualFilesystem) device(p string) (Device, bool) {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()
	dev, ok := vfs.devices[p]
	return dev, ok
}

// OpenAt opens the file at p and returns it holding one reference.
func (vfs *VirtualFilesystem) OpenAt(p string, opts OpenOptions) (*kernel.File, error) {
	if p == "" {
		return nil, tgerr.ENOENT
	}
	if len(p) > MaxPathLen {
		return nil, tgerr.EINVAL
	}
	ff, err := opts.fileFlags()
	if err != nil {
		return nil, err
	}
	clean := path.Clean("/" + p)

	var ops kernel.FileOperations
	if dev, ok := vfs.device(clean); ok {
		ops, err = dev.Open(opts)
	} else {
		name := strings.TrimPrefix(clean, "/")
		if vfs.root == nil || name == "" {
			return nil, tgerr.ENOENT
		}
		ops, err = vfs.root.Open(name, opts)
	}
	if err != nil {
		return nil, err
	}
	return kernel.NewFile(clean, ops, ff), nil
}
