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

// Package util groups helpers shared by runtg commands.
package util

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"tgos.dev/tgos/pkg/log"
)

// ErrorLogger is where error messages should be written to. These messages
// are consumed by the caller, so they should be formatted in json.
var ErrorLogger io.Writer

// Writer writes to log and stderr.
type Writer struct{}

// Write implements io.Writer.
func (i *Writer) Write(data []byte) (n int, err error) {
	n, err = os.Stderr.Write(data)
	log.Warningf("%s", data)
	return
}

// Fatalf logs to stderr and exits with a failure status code.
func Fatalf(format string, args ...any) {
	logMsg := fmt.Sprintf("FATAL ERROR: "+format, args...)
	log.Warningf("%s", logMsg)
	fmt.Fprintln(os.Stderr, logMsg)

	if ErrorLogger != nil {
		_ = json.NewEncoder(ErrorLogger).Encode(jsonError{
			Msg:   fmt.Sprintf(format, args...),
			Level: "error",
			Time:  time.Now(),
		})
	}
	os.Exit(128)
}

type jsonError struct {
	Msg   string    `json:"msg"`
	Level string    `json:"level"`
	Time  time.Time `json:"time"`
}
