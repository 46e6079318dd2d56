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
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

// nullDevice implements vfs.Device for /dev/null.
type nullDevice struct{}

// Open implements vfs.Device.Open.
func (nullDevice) Open(vfs.OpenOptions) (kernel.FileOperations, error) {
	return nullFD{}, nil
}

// nullFD implements kernel.FileOperations for /dev/null.
type nullFD struct{}

// Read implements kernel.FileOperations.Read.
func (nullFD) Read(*kernel.Thread, []byte) (int, error) {
	return 0, nil
}

// Write implements kernel.FileOperations.Write.
func (nullFD) Write(_ *kernel.Thread, src []byte) (int, error) {
	return len(src), nil
}

// Release implements kernel.FileOperations.Release.
func (nullFD) Release() {
	// noop
}
