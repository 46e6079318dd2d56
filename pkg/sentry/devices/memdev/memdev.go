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

// Package memdev implements /dev/null, /dev/zero and /dev/random.
package memdev

import (
	"tgos.dev/tgos/pkg/sentry/vfs"
)

// Device paths.
const (
	NullPath   = "/dev/null"
	ZeroPath   = "/dev/zero"
	RandomPath = "/dev/random"
)

// Register registers all devices implemented by this package in v.
func Register(v *vfs.VirtualFilesystem) error {
	for _, d := range []struct {
		path string
		dev  vfs.Device
	}{
		{NullPath, nullDevice{}},
		{ZeroPath, zeroDevice{}},
		{RandomPath, randomDevice{}},
	} {
		if err := v.RegisterDevice(d.path, d.dev); err != nil {
			return err
		}
	}
	return nil
}
