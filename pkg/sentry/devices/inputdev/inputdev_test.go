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

package inputdev

import (
	"testing"
)

func TestKeyState(t *testing.T) {
	in := New()
	in.PushKey(30, true)
	in.PushKey(31, true)
	in.PushKey(31, false)
	// Ignored: not a key event, and out of range.
	in.Push(Event{Type: EventSync, Code: 40, Value: 1})
	in.Push(Event{Type: EventKey, Code: 300, Value: 1})
	// Autorepeat is not a press.
	in.Push(Event{Type: EventKey, Code: 32, Value: 2})

	buf := make([]byte, 300)
	n, err := in.Read(nil, buf)
	if err != nil || n != NumKeys {
		t.Fatalf("Read = (%d, %v), want (%d, nil)", n, err, NumKeys)
	}
	for code, v := range buf[:NumKeys] {
		want := byte(0)
		if code == 30 {
			want = 1
		}
		if v != want {
			t.Errorf("key %d = %d, want %d", code, v, want)
		}
	}
}

func TestShortRead(t *testing.T) {
	in := New()
	in.PushKey(1, true)
	buf := make([]byte, 4)
	in.Poll(nil)
	if n, err := in.Read(nil, buf); n != 4 || err != nil {
		t.Fatalf("Read = (%d, %v), want (4, nil)", n, err)
	}
	if buf[1] != 1 {
		t.Errorf("key 1 = %d, want 1", buf[1])
	}
}

func TestQueueBounded(t *testing.T) {
	in := New()
	for i := 0; i < maxQueued+10; i++ {
		in.PushKey(uint16(i%NumKeys), true)
	}
	in.mu.Lock()
	n := len(in.queue)
	in.mu.Unlock()
	if n != maxQueued {
		t.Errorf("queued %d events, want %d", n, maxQueued)
	}
}
