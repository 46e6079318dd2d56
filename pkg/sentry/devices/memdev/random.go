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

package memdev

import (
	"crypto/rand"

	"tgos.dev/tgos/pkg/errors/tgerr"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

// randomDevice implements vfs.Device for /dev/random.
type randomDevice struct{}

// Open implements vfs.Device.Open.
func (randomDevice) Open(vfs.OpenOptions) (kernel.FileOperations, error) {
	return randomFD{}, nil
}

// randomFD implements kernel.FileOperations for /dev/random. Reads never
// block.
type randomFD struct{}

// Read implements kernel.FileOperations.Read.
func (randomFD) Read(_ *kernel.Thread, dst []byte) (int, error) {
	if _, err := rand.Read(dst); err != nil {
		log.Warningf("Reading host entropy: %v", err)
		return 0, tgerr.EIO
	}
	return len(dst), nil
}

// Write implements kernel.FileOperations.Write. Written data is discarded.
func (randomFD) Write(_ *kernel.Thread, src []byte) (int, error) {
	return len(src), nil
}

// Release implements kernel.FileOperations.Release.
func (randomFD) Release() {}
