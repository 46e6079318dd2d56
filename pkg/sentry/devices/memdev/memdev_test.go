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
	"bytes"
	"testing"

	"github.com/google/go-cmp/cmp"
	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/sentry/vfs"
)

func TestRegister(t *testing.T) {
	v := vfs.New(nil)
	if err := Register(v); err != nil {
		t.Fatalf("Register: %v", err)
	}
	want := []string{NullPath, RandomPath, ZeroPath}
	if diff := cmp.Diff(want, v.Devices()); diff != "" {
		t.Errorf("Devices() mismatch (-want +got):\n%s", diff)
	}
	if err := Register(v); err == nil {
		t.Errorf("second Register succeeded")
	}
}

func TestDevices(t *testing.T) {
	v := vfs.New(nil)
	if err := Register(v); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, tc := range []struct {
		path    string
		wantN   int
		wantBuf []byte
	}{
		{NullPath, 0, bytes.Repeat([]byte{0xff}, 8)},
		{ZeroPath, 8, make([]byte, 8)},
		{RandomPath, 8, nil},
	} {
		t.Run(tc.path, func(t *testing.T) {
			f, err := v.OpenAt(tc.path, vfs.OpenOptions{Flags: tg.O_RDWR})
			if err != nil {
				t.Fatalf("OpenAt: %v", err)
			}
			defer f.DecRef()
			buf := bytes.Repeat([]byte{0xff}, 8)
			n, err := f.Read(nil, buf)
			if err != nil || n != tc.wantN {
				t.Fatalf("Read = (%d, %v), want (%d, nil)", n, err, tc.wantN)
			}
			if tc.wantBuf != nil && !bytes.Equal(buf, tc.wantBuf) {
				t.Errorf("Read filled %x, want %x", buf, tc.wantBuf)
			}
			if n, err := f.Write(nil, []byte("discard")); n != 7 || err != nil {
				t.Errorf("Write = (%d, %v), want (7, nil)", n, err)
			}
		})
	}
}
