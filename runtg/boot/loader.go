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

// Package boot assembles a machine, its devices and a kernel from a
// Config, and runs the init program on it.
package boot

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"tgos.dev/tgos/pkg/abi/tg"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/pkg/metric"
	"tgos.dev/tgos/pkg/sentry/devices/gpudev"
	"tgos.dev/tgos/pkg/sentry/devices/inputdev"
	"tgos.dev/tgos/pkg/sentry/devices/memdev"
	"tgos.dev/tgos/pkg/sentry/devices/ttydev"
	"tgos.dev/tgos/pkg/sentry/fsimpl/tmpfs"
	"tgos.dev/tgos/pkg/sentry/kernel"
	"tgos.dev/tgos/pkg/sentry/loader"
	"tgos.dev/tgos/pkg/sentry/platform/rv64"
	tgsys "tgos.dev/tgos/pkg/sentry/syscalls/tg"
	"tgos.dev/tgos/pkg/sentry/vfs"
	"tgos.dev/tgos/runtg/config"
)

// Interrupt sources of the devices that raise interrupts.
const (
	ConsoleIRQ = 1
	InputIRQ   = 2
)

// Args are the arguments for New.
type Args struct {
	// Conf configures the machine. Required.
	Conf *config.Config

	// Images holds the programs. If nil, every file in Conf.AppsDir is
	// loaded.
	Images *loader.Store

	// Stdin feeds the console. It may be nil.
	Stdin io.Reader

	// Stdout receives console output. Nil discards it.
	Stdout io.Writer

	// OnFlush receives the framebuffer after each write to /dev/gpu. It
	// may be nil.
	OnFlush gpudev.FlushFunc
}

// Loader keeps state needed to start the kernel and run init.
type Loader struct {
	conf    *config.Config
	stdin   io.Reader
	machine *rv64.Machine

	// k is the kernel.
	k *kernel.Kernel

	console *ttydev.Console
	input   *inputdev.Input
	fs      *tmpfs.Filesystem
	fb      *gpudev.Framebuffer
}

// New builds the machine, registers the devices and creates the kernel.
// Init is not started until Run.
func New(args Args) (*Loader, error) {
	conf := args.Conf
	images := args.Images
	if images == nil {
		images = loader.NewStore()
		if err := LoadImages(context.Background(), images, conf.AppsDir); err != nil {
			return nil, err
		}
	}

	m, err := rv64.New(rv64.Opts{MemorySize: conf.MemorySize, PortalSlots: conf.PortalSlots})
	if err != nil {
		return nil, fmt.Errorf("creating machine: %w", err)
	}
	l := &Loader{
		conf:    conf,
		stdin:   args.Stdin,
		machine: m,
		fs:      tmpfs.New(),
		input:   inputdev.New(),
	}

	out := args.Stdout
	if out == nil {
		out = io.Discard
	}
	l.console = ttydev.New(out)

	v := vfs.New(l.fs)
	if err := l.registerDevices(v, args.OnFlush); err != nil {
		m.Release()
		return nil, err
	}

	k, err := kernel.New(kernel.Opts{
		Platform:    m,
		Syscalls:    tgsys.New(tgsys.Opts{VFS: v}),
		Images:      images,
		TimeSlice:   durationToTicks(conf.TimeSlice),
		Cooperative: conf.Cooperative,
		Console:     l.console,
		StackPages:  conf.StackPages,
	})
	if err != nil {
		m.Release()
		return nil, fmt.Errorf("creating kernel: %w", err)
	}
	l.k = k
	l.console.Attach(k, ConsoleIRQ)
	l.input.Attach(k, InputIRQ)
	return l, nil
}

func (l *Loader) registerDevices(v *vfs.VirtualFilesystem, onFlush gpudev.FlushFunc) error {
	if err := memdev.Register(v); err != nil {
		return fmt.Errorf("registering memory devices: %w", err)
	}
	if err := ttydev.Register(v, l.console); err != nil {
		return fmt.Errorf("registering console: %w", err)
	}
	if err := inputdev.Register(v, l.input); err != nil {
		return fmt.Errorf("registering input device: %w", err)
	}
	if l.conf.FramebufferWidth > 0 {
		fb, err := gpudev.New(l.conf.FramebufferWidth, l.conf.FramebufferHeight, onFlush)
		if err != nil {
			return err
		}
		if err := gpudev.Register(v, fb); err != nil {
			return fmt.Errorf("registering framebuffer: %w", err)
		}
		l.fb = fb
	}
	return nil
}

// durationToTicks converts d to machine time.
func durationToTicks(d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}
	secs, frac := d/time.Second, d%time.Second
	return uint64(secs)*tg.ClockFrequency + uint64(frac)*tg.ClockFrequency/uint64(time.Second)
}

// Kernel returns the kernel.
func (l *Loader) Kernel() *kernel.Kernel {
	return l.k
}

// Filesystem returns the root filesystem.
func (l *Loader) Filesystem() *tmpfs.Filesystem {
	return l.fs
}

// Input returns the input device, for hosts that forward key events.
func (l *Loader) Input() *inputdev.Input {
	return l.input
}

// Framebuffer returns /dev/gpu, or nil if it is disabled.
func (l *Loader) Framebuffer() *gpudev.Framebuffer {
	return l.fb
}

// Run starts init and runs the kernel until no thread is left alive. It
// returns init's exit code.
func (l *Loader) Run(ctx context.Context) (int64, error) {
	initProc, err := l.k.StartImage(l.conf.Init)
	if err != nil {
		return 0, fmt.Errorf("starting init %q: %w", l.conf.Init, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if l.stdin != nil {
		go func() {
			if err := l.console.ReadFrom(ctx, l.stdin); err != nil && ctx.Err() == nil {
				log.Warningf("Console input failed: %v", err)
			}
		}()
	}

	start := time.Now()
	err = l.k.Run(ctx)
	log.Infof("Kernel halted after %v, %d ticks", time.Since(start), l.k.Ticks())
	if mErr := l.writeMetrics(); mErr != nil {
		log.Warningf("Writing metrics: %v", mErr)
	}
	if err != nil {
		return 0, err
	}
	if !initProc.Exited() {
		return 0, fmt.Errorf("init %d did not exit", initProc.PID())
	}
	return initProc.ExitCode(), nil
}

func (l *Loader) writeMetrics() error {
	if l.conf.MetricsFile == "" {
		return nil
	}
	f, err := os.Create(l.conf.MetricsFile)
	if err != nil {
		return err
	}
	if err := metric.WritePrometheus(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// Destroy releases the machine.
func (l *Loader) Destroy() {
	if err := l.machine.Release(); err != nil {
		log.Warningf("Releasing machine: %v", err)
	}
}

// LoadImages loads every regular file in dir into store, in parallel. An
// empty dir loads nothing.
func LoadImages(ctx context.Context, store *loader.Store, dir string) error {
	if dir == "" {
		return nil
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("reading apps directory: %w", err)
	}
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			img, err := store.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			log.Debugf("Loaded image %s: entry %v, %d segments", img.Name, img.Entry, len(img.Segments))
			return nil
		})
	}
	return g.Wait()
}
