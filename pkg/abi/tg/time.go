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

package tg

import "tgos.dev/tgos/pkg/hostarch"

// Clock identifiers.
const (
	CLOCK_REALTIME  = 0
	CLOCK_MONOTONIC = 1
)

// ClockFrequency is the rate, in Hz, of the machine's time counter.
const ClockFrequency = 12_500_000

// TicksToNanoseconds converts time counter ticks to nanoseconds.
func TicksToNanoseconds(ticks uint64) uint64 {
	return ticks * 10000 / 125
}

// Timespec represents struct timespec in user memory.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// NsecToTimespec translates nanoseconds to Timespec.
func NsecToTimespec(nsec int64) Timespec {
	return Timespec{Sec: nsec / 1e9, Nsec: nsec % 1e9}
}

// ToNsec returns the nanosecond representation.
func (ts Timespec) ToNsec() int64 {
	return ts.Sec*1e9 + ts.Nsec
}

// SizeBytes is the size of Timespec in user memory.
func (*Timespec) SizeBytes() int {
	return 16
}

// MarshalBytes serializes ts into dst.
func (ts *Timespec) MarshalBytes(dst []byte) []byte {
	hostarch.ByteOrder.PutUint64(dst[0:8], uint64(ts.Sec))
	hostarch.ByteOrder.PutUint64(dst[8:16], uint64(ts.Nsec))
	return dst[16:]
}

// UnmarshalBytes deserializes ts from src.
func (ts *Timespec) UnmarshalBytes(src []byte) []byte {
	ts.Sec = int64(hostarch.ByteOrder.Uint64(src[0:8]))
	ts.Nsec = int64(hostarch.ByteOrder.Uint64(src[8:16]))
	return src[16:]
}
