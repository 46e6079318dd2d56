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

// Package cmd holds implementations of the runtg commands.
package cmd

import (
	"context"
	"os"
	"os/signal"

	"github.com/containerd/console"
	"github.com/google/subcommands"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
	"tgos.dev/tgos/pkg/log"
	"tgos.dev/tgos/runtg/boot"
	"tgos.dev/tgos/runtg/cmd/util"
	"tgos.dev/tgos/runtg/config"
	"tgos.dev/tgos/runtg/flag"
)

// Run implements subcommands.Command for the "run" command.
type Run struct {
	// screenshot is a PNG file that receives the framebuffer at halt.
	screenshot string
}

// Name implements subcommands.Command.Name.
func (*Run) Name() string {
	return "run"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Run) Synopsis() string {
	return "boot the machine and run the init program until every thread exits"
}

// Usage implements subcommands.Command.Usage.
func (*Run) Usage() string {
	return `run [flags] - boot the machine and run --init from --apps.

The console is connected to stdin and stdout. The exit status is the init
program's exit code.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (r *Run) SetFlags(f *flag.FlagSet) {
	f.StringVar(&r.screenshot, "screenshot", "", "write the framebuffer to this PNG file when the kernel halts.")
}

// Execute implements subcommands.Command.Execute.
func (r *Run) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	exitCode := args[1].(*int)

	l, err := boot.New(boot.Args{
		Conf:   conf,
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
	})
	if err != nil {
		util.Fatalf("creating loader: %v", err)
	}
	defer l.Destroy()

	if conf.RawTerminal {
		restore, err := rawTerminal(os.Stdin)
		if err != nil {
			util.Fatalf("%v", err)
		}
		defer restore()
	}

	ctx, stop := signal.NotifyContext(ctx, unix.SIGINT, unix.SIGTERM)
	defer stop()

	code, err := l.Run(ctx)
	if r.screenshot != "" {
		if fb := l.Framebuffer(); fb != nil {
			if err := writeScreenshot(r.screenshot, fb); err != nil {
				log.Warningf("Writing screenshot: %v", err)
			}
		} else {
			log.Warningf("--screenshot given without a framebuffer")
		}
	}
	if err != nil {
		util.Fatalf("running init: %v", err)
	}
	*exitCode = int(code)
	return subcommands.ExitSuccess
}

// rawTerminal puts f in raw mode if it is a terminal, and returns a function
// that restores it.
func rawTerminal(f *os.File) (func(), error) {
	if !term.IsTerminal(int(f.Fd())) {
		log.Infof("Stdin is not a terminal, leaving it as is")
		return func() {}, nil
	}
	c, err := console.ConsoleFromFile(f)
	if err != nil {
		return nil, err
	}
	if err := c.SetRaw(); err != nil {
		return nil, err
	}
	return func() {
		if err := c.Reset(); err != nil {
			log.Warningf("Restoring terminal: %v", err)
		}
	}, nil
}
