// Copyright 2018 The gVisor Authors.
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

package log

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// record is one JSON log line. Messages that start with a "[pid:tid] "
// prefix, as written by kernel.Thread, have it split into fields.
type record struct {
	Time   time.Time `json:"time"`
	Level  Level     `json:"level"`
	Caller string    `json:"caller,omitempty"`
	PID    int       `json:"pid,omitempty"`
	TID    int       `json:"tid,omitempty"`
	Msg    string    `json:"msg"`
}

// MarshalJSON implements json.Marshaler.MarshalJSON.
func (l Level) MarshalJSON() ([]byte, error) {
	switch l {
	case Warning, Info, Debug:
		return []byte(strconv.Quote(strings.ToLower(l.String()))), nil
	default:
		return nil, fmt.Errorf("unknown level %v", l)
	}
}

// UnmarshalJSON implements json.Unmarshaler.UnmarshalJSON. It accepts level
// names and their integer values.
func (l *Level) UnmarshalJSON(b []byte) error {
	s := string(b)
	if unq, err := strconv.Unquote(s); err == nil {
		lv, err := ParseLevel(unq)
		if err != nil {
			return err
		}
		*l = lv
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < int(Warning) || n > int(Debug) {
		return fmt.Errorf("unknown level %q", s)
	}
	*l = Level(n)
	return nil
}

// splitThread removes a leading "[pid:tid] " from msg.
func splitThread(msg string) (pid, tid int, rest string) {
	if !strings.HasPrefix(msg, "[") {
		return 0, 0, msg
	}
	end := strings.Index(msg, "] ")
	if end < 0 {
		return 0, 0, msg
	}
	p, t, ok := strings.Cut(msg[1:end], ":")
	if !ok {
		return 0, 0, msg
	}
	pid, err1 := strconv.Atoi(p)
	tid, err2 := strconv.Atoi(t)
	if err1 != nil || err2 != nil {
		return 0, 0, msg
	}
	return pid, tid, msg[end+2:]
}

// JSONEmitter logs one JSON object per message.
type JSONEmitter struct {
	*Writer
}

// Emit implements Emitter.Emit.
func (e JSONEmitter) Emit(depth int, level Level, timestamp time.Time, format string, v ...any) {
	r := record{Time: timestamp, Level: level}
	r.PID, r.TID, r.Msg = splitThread(fmt.Sprintf(format, v...))
	if _, file, line, ok := runtime.Caller(depth + 1); ok {
		if slash := strings.LastIndexByte(file, '/'); slash >= 0 {
			file = file[slash+1:]
		}
		r.Caller = file + ":" + strconv.Itoa(line)
	}
	b, err := json.Marshal(r)
	if err != nil {
		panic(err)
	}
	e.Writer.Write(b)
}
