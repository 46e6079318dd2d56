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

package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"tgos.dev/tgos/pkg/sentry/loader"
	"tgos.dev/tgos/runtg/boot"
	"tgos.dev/tgos/runtg/cmd/util"
	"tgos.dev/tgos/runtg/config"
	"tgos.dev/tgos/runtg/flag"
)

// Apps implements subcommands.Command for the "apps" command.
type Apps struct{}

// Name implements subcommands.Command.Name.
func (*Apps) Name() string {
	return "apps"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Apps) Synopsis() string {
	return "list the programs in --apps"
}

// Usage implements subcommands.Command.Usage.
func (*Apps) Usage() string {
	return `apps - list the programs available to exec and spawn.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Apps) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Apps) Execute(ctx context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if conf.AppsDir == "" {
		util.Fatalf("--apps is required")
	}

	s := loader.NewStore()
	if err := boot.LoadImages(ctx, s, conf.AppsDir); err != nil {
		util.Fatalf("%v", err)
	}
	if err := listImages(os.Stdout, s); err != nil {
		util.Fatalf("writing output: %v", err)
	}
	return subcommands.ExitSuccess
}

func listImages(w io.Writer, s *loader.Store) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "NAME\tENTRY\tSEGMENTS\tSIZE\n")
	for _, name := range s.Names() {
		img, err := s.Image(name)
		if err != nil {
			return err
		}
		var size uint64
		for _, seg := range img.Segments {
			size += seg.MemSize
		}
		fmt.Fprintf(tw, "%s\t%v\t%d\t%d\n", img.Name, img.Entry, len(img.Segments), size)
	}
	return tw.Flush()
}
