// Copyright 2023 The gVisor Authors.
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

package mm

import (
	"bytes"
	"fmt"
)

// Maps renders the areas one per line, in the format of /proc/[pid]/maps:
//
//	start-end perms offset dev inode hint
//
// Owned areas are private ("p"); extern areas are shared ("s").
func (as *AddressSpace) Maps() string {
	var buf bytes.Buffer
	for _, a := range as.Areas() {
		perms := []byte("---p")
		if a.Access.Read {
			perms[0] = 'r'
		}
		if a.Access.Write {
			perms[1] = 'w'
		}
		if a.Access.Execute {
			perms[2] = 'x'
		}
		if !a.Owned {
			perms[3] = 's'
		}
		fmt.Fprintf(&buf, "%08x-%08x %s 00000000 00:00 0", uint64(a.Range.Start.Base()), uint64(a.Range.End.Base()), perms)
		if a.Hint != "" {
			fmt.Fprintf(&buf, "%*s%s", 10, "", a.Hint)
		}
		buf.WriteByte('\n')
	}
	return buf.String()
}
