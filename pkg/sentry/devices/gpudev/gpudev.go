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

// Package gpudev implements /dev/gpu, a linear framebuffer.
//
// A write copies pixels to the start of the framebuffer and then flushes
// it. There is no seeking: every write redraws from the top-left pixel.
package gpudev

import (
	"fmt"
	"sync"

	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

// Path is where Register places the framebuffer.
const Path = "/dev/gpu"

// BytesPerPixel is the pixel size, in B8G8R8A8 order.
const BytesPerPixel = 4

// FlushFunc receives the framebuffer after each write. pix must not be
// retained.
type FlushFunc func(width, height int, pix []byte)

// Framebuffer implements vfs.Device and kernel.FileOperations.
type Framebuffer struct {
	width  int
	height int

	mu      sync.Mutex
	pix     []byte
	flushes uint64
	onFlush FlushFunc
}

// New returns a black framebuffer. onFlush may be nil.
func New(width, height int, onFlush FlushFunc) (*Framebuffer, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid framebuffer size %dx%d", width, height)
	}
	log.Infof("Framebuffer %dx%d", width, height)
	return &Framebuffer{
		width:   width,
		height:  height,
		pix:     make([]byte, width*height*BytesPerPixel),
		onFlush: onFlush,
	}, nil
}

// Size returns the framebuffer dimensions in pixels.
func (fb *Framebuffer) Size() (width, height int) {
	return fb.width, fb.height
}

// Len returns the framebuffer size in bytes.
func (fb *Framebuffer) Len() int {
	return len(fb.pix)
}

// Flushes returns how many times the framebuffer was flushed.
func (fb *Framebuffer) Flushes() uint64 {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return fb.flushes
}

// Snapshot returns a copy of the pixels.
func (fb *Framebuffer) Snapshot() []byte {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	return append([]byte(nil), fb.pix...)
}

// Open implements vfs.Device.Open.
func (fb *Framebuffer) Open(vfs.OpenOptions) (kernel.FileOperations, error) {
	return fb, nil
}

// Read implements kernel.FileOperations.Read. The framebuffer cannot be
// read back; reads see end of file.
func (*Framebuffer) Read(*kernel.Thread, []byte) (int, error) {
	return 0, nil
}

// Write implements kernel.FileOperations.Write. Bytes beyond the end of the
// framebuffer are accepted and dropped.
func (fb *Framebuffer) Write(_ *kernel.Thread, src []byte) (int, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	copy(fb.pix, src)
	fb.flushes++
	if fb.onFlush != nil {
		fb.onFlush(fb.width, fb.height, fb.pix)
	}
	return len(src), nil
}

// Release implements kernel.FileOperations.Release.
func (*Framebuffer) Release() {}

// Register places fb at Path in v.
func Register(v *vfs.VirtualFilesystem, fb *Framebuffer) error {
	return v.RegisterDevice(Path, fb)
}
