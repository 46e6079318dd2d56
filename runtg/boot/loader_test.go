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

package boot

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/rvasm"
	"tgos.dev/tgos/pkg/sentry/loader"
	"tgos.dev/tgos/runtg/config"
	"tgos.dev/tgos/runtg/flag"
)

func testConfig(t *testing.T, args ...string) *config.Config {
	t.Helper()
	fs := flag.NewFlagSet("test", flag.ContinueOnError)
	config.RegisterFlags(fs)
	args = append([]string{"--memory=8388608", "--init=init"}, args...)
	if err := fs.Parse(args); err != nil {
		t.Fatalf("Parse(%v) failed: %v", args, err)
	}
	conf, err := config.NewFromFlags(fs)
	if err != nil {
		t.Fatalf("NewFromFlags failed: %v", err)
	}
	return conf
}

func initImage(t *testing.T, build func(p *rvasm.Program)) *loader.Store {
	t.Helper()
	p := rvasm.New(0x10000)
	build(p)
	b, err := p.Assemble()
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	s := loader.NewStore()
	if err := s.Add(loader.FromBinary("init", b)); err != nil {
		t.Fatalf("Add failed: %v", err)
	}
	return s
}

func run(t *testing.T, args Args) (int64, error) {
	t.Helper()
	l, err := New(args)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Destroy()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	return l.Run(ctx)
}

func TestRunInit(t *testing.T) {
	metrics := filepath.Join(t.TempDir(), "metrics.txt")
	var out bytes.Buffer
	code, err := run(t, Args{
		Conf: testConfig(t, "--metrics="+metrics),
		Images: initImage(t, func(p *rvasm.Program) {
			p.Li(rvasm.A0, 1).La(rvasm.A1, "msg").Li(rvasm.A2, 3).Syscall(tg.SYS_WRITE)
			p.Li(rvasm.A0, 7).Syscall(tg.SYS_EXIT)
			p.String("msg", "hi\n")
		}),
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if code != 7 {
		t.Errorf("exit code = %d, want 7", code)
	}
	if got := out.String(); got != "hi\n" {
		t.Errorf("console output = %q, want %q", got, "hi\n")
	}
	b, err := os.ReadFile(metrics)
	if err != nil {
		t.Fatalf("reading metrics: %v", err)
	}
	if !strings.Contains(string(b), "tgos_platform_user_exits") {
		t.Errorf("metrics file lacks tgos_platform_user_exits:\n%s", b)
	}
}

func TestConsoleEcho(t *testing.T) {
	var out bytes.Buffer
	code, err := run(t, Args{
		Conf: testConfig(t),
		Images: initImage(t, func(p *rvasm.Program) {
			p.Li(rvasm.A0, 0).La(rvasm.A1, "buf").Li(rvasm.A2, 4).Syscall(tg.SYS_READ)
			p.Emit(rvasm.MV(rvasm.A2, rvasm.A0)).Li(rvasm.A0, 1).La(rvasm.A1, "buf").Syscall(tg.SYS_WRITE)
			p.Syscall(tg.SYS_EXIT)
			p.Zero("buf", 8)
		}),
		Stdin:  strings.NewReader("echo"),
		Stdout: &out,
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if got := out.String(); got != "echo" {
		t.Errorf("console output = %q, want %q", got, "echo")
	}
	if code != 4 {
		t.Errorf("exit code = %d, want 4", code)
	}
}

func TestFramebuffer(t *testing.T) {
	var flushed [][]byte
	_, err := run(t, Args{
		Conf: testConfig(t, "--fb-width=2", "--fb-height=1"),
		Images: initImage(t, func(p *rvasm.Program) {
			p.La(rvasm.A0, "path").Li(rvasm.A1, tg.O_WRONLY).Syscall(tg.SYS_OPEN)
			p.La(rvasm.A1, "pix").Li(rvasm.A2, 8).Syscall(tg.SYS_WRITE)
			p.Li(rvasm.A0, 0).Syscall(tg.SYS_EXIT)
			p.String("path", "/dev/gpu")
			p.Data("pix", []byte{1, 2, 3, 4, 5, 6, 7, 8})
		}),
		OnFlush: func(w, h int, pix []byte) {
			flushed = append(flushed, append([]byte(nil), pix...))
		},
	})
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	want := [][]byte{{1, 2, 3, 4, 5, 6, 7, 8}}
	if diff := cmp.Diff(want, flushed); diff != "" {
		t.Errorf("flushes mismatch (-want +got):\n%s", diff)
	}
}

func TestMissingInit(t *testing.T) {
	l, err := New(Args{Conf: testConfig(t), Images: loader.NewStore()})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	defer l.Destroy()
	if _, err := l.Run(context.Background()); err == nil {
		t.Errorf("Run succeeded without an init image")
	}
}

func TestLoadImages(t *testing.T) {
	s := loader.NewStore()
	if err := LoadImages(context.Background(), s, ""); err != nil {
		t.Errorf("LoadImages(\"\") = %v, want nil", err)
	}

	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "sub"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := LoadImages(context.Background(), s, dir); err != nil {
		t.Errorf("LoadImages(dir with only a subdirectory) = %v, want nil", err)
	}
	if got := s.Names(); len(got) != 0 {
		t.Errorf("Names() = %v, want none", got)
	}

	if err := os.WriteFile(filepath.Join(dir, "junk"), []byte("not an executable"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := LoadImages(context.Background(), s, dir); err == nil {
		t.Errorf("LoadImages accepted a file that is not ELF")
	}

	if err := LoadImages(context.Background(), s, filepath.Join(dir, "missing")); err == nil {
		t.Errorf("LoadImages accepted a missing directory")
	}
}

func TestDurationToTicks(t *testing.T) {
	for _, tc := range []struct {
		d    time.Duration
		want uint64
	}{
		{0, 0},
		{time.Second, tg.ClockFrequency},
		{10 * time.Millisecond, tg.ClockFrequency / 100},
	} {
		if got := durationToTicks(tc.d); got != tc.want {
			t.Errorf("durationToTicks(%v) = %d, want %d", tc.d, got, tc.want)
		}
	}
}
