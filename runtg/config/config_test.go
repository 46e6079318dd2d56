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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"tgos.dev/tgos/runtg/flag"
)

func newFlagSet(t *testing.T, args ...string) *flag.FlagSet {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	return fs
}

func TestDefault(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	if got := c.ToFlags(); len(got) != 0 {
		t.Errorf("default flags not set correctly for: %s", got)
	}
	if c.Init != "initproc" || c.MemorySize != 128<<20 || !c.RawTerminal {
		t.Errorf("unexpected defaults: %+v", c)
	}
}

func TestFromFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t,
		"--apps=/apps",
		"--init=sh",
		"--memory=16777216",
		"--time-slice=5ms",
		"--cooperative",
		"--fb-width=320",
		"--fb-height=200",
		"--log-level=debug",
		"--log-format=json",
	))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		AppsDir:           "/apps",
		Init:              "sh",
		MemorySize:        16 << 20,
		TimeSlice:         5 * time.Millisecond,
		Cooperative:       true,
		FramebufferWidth:  320,
		FramebufferHeight: 200,
		LogLevel:          "debug",
		LogFormat:         "json",
		RawTerminal:       true,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestToFlags(t *testing.T) {
	c, err := NewFromFlags(newFlagSet(t))
	if err != nil {
		t.Fatal(err)
	}
	c.Init = "sh"
	c.Cooperative = true
	c.TimeSlice = time.Second
	c.MemorySize = 1 << 24
	c.RawTerminal = false

	got := c.ToFlags()
	want := []string{
		"--init=sh",
		"--memory=16777216",
		"--time-slice=1s",
		"--cooperative=true",
		"--raw=false",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("ToFlags mismatch (-want +got):\n%s", diff)
	}

	// Round trip through a fresh flag set.
	c2, err := NewFromFlags(newFlagSet(t, got...))
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(c, c2); diff != "" {
		t.Errorf("round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestValidation(t *testing.T) {
	for _, tc := range []struct {
		name  string
		args  []string
		error string
	}{
		{
			name:  "empty init",
			args:  []string{"--init="},
			error: "--init",
		},
		{
			name:  "small memory",
			args:  []string{"--memory=4096"},
			error: "minimum",
		},
		{
			name:  "negative time slice",
			args:  []string{"--time-slice=-1s"},
			error: "negative",
		},
		{
			name:  "width without height",
			args:  []string{"--fb-width=10"},
			error: "--fb-height",
		},
		{
			name:  "bad log level",
			args:  []string{"--log-level=loud"},
			error: "loud",
		},
		{
			name:  "bad log format",
			args:  []string{"--log-format=xml"},
			error: "xml",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewFromFlags(newFlagSet(t, tc.args...))
			if err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags(%v) = %v, want error containing %q", tc.args, err, tc.error)
			}
		})
	}
}

func writeFile(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "runtg.toml")
	if err := os.WriteFile(path, []byte(contents), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestConfigFile(t *testing.T) {
	path := writeFile(t, `
apps = "/srv/apps"
init = "shell"
memory = 33554432
time_slice = "20ms"
cooperative = true
fb_width = 64
fb_height = 48
`)
	// Flags on the command line win over the file.
	c, err := NewFromFlags(newFlagSet(t, "--config="+path, "--init=cmdline"))
	if err != nil {
		t.Fatal(err)
	}
	want := &Config{
		ConfigFile:        path,
		AppsDir:           "/srv/apps",
		Init:              "cmdline",
		MemorySize:        32 << 20,
		TimeSlice:         20 * time.Millisecond,
		Cooperative:       true,
		FramebufferWidth:  64,
		FramebufferHeight: 48,
		LogLevel:          "warning",
		LogFormat:         "text",
		RawTerminal:       true,
	}
	if diff := cmp.Diff(want, c); diff != "" {
		t.Errorf("NewFromFlags mismatch (-want +got):\n%s", diff)
	}
}

func TestConfigFileErrors(t *testing.T) {
	for _, tc := range []struct {
		name     string
		contents string
		error    string
	}{
		{
			name:     "unknown key",
			contents: `platform = "kvm"`,
			error:    "unknown key",
		},
		{
			name:     "bad type",
			contents: `memory = [1, 2]`,
			error:    "unsupported value",
		},
		{
			name:     "bad value",
			contents: `memory = "lots"`,
			error:    "memory",
		},
		{
			name:     "syntax",
			contents: `init = `,
			error:    "reading config file",
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			path := writeFile(t, tc.contents)
			_, err := NewFromFlags(newFlagSet(t, "--config="+path))
			if err == nil || !strings.Contains(err.Error(), tc.error) {
				t.Errorf("NewFromFlags = %v, want error containing %q", err, tc.error)
			}
		})
	}
}
