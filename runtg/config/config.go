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

// Package config provides basic infrastructure to set configuration settings
// for runtg. The configuration is set by flags to the command line, and may
// be seeded from a TOML file named by --config.
package config

import (
	"fmt"
	"time"

	"tgos.dev/tgos/pkg/log"
)

// Config holds configuration that is not part of the program images.
//
// Follow these steps to add a new flag:
//  1. Create a new field in Config.
//  2. Add a field tag with the flag name and a toml tag with the file key.
//  3. Register a new flag in flags.go, with name and description.
//  4. Add any necessary validation into validate().
type Config struct {
	// ConfigFile is the TOML file the configuration was seeded from.
	ConfigFile string `flag:"config"`

	// AppsDir holds the ELF images available to exec and spawn.
	AppsDir string `flag:"apps" toml:"apps"`

	// Init is the name of the first program to run.
	Init string `flag:"init" toml:"init"`

	// MemorySize is the machine's physical memory in bytes.
	MemorySize uint64 `flag:"memory" toml:"memory"`

	// TimeSlice is the preemption interval. Zero selects the kernel default.
	TimeSlice time.Duration `flag:"time-slice" toml:"time_slice"`

	// Cooperative disables preemption.
	Cooperative bool `flag:"cooperative" toml:"cooperative"`

	// PortalSlots is the number of trap save slots in the portal page.
	PortalSlots int `flag:"portal-slots" toml:"portal_slots"`

	// StackPages is the size of a process's initial stack in pages.
	StackPages int `flag:"stack-pages" toml:"stack_pages"`

	// FramebufferWidth and FramebufferHeight size /dev/gpu. A zero width
	// disables the device.
	FramebufferWidth  int `flag:"fb-width" toml:"fb_width"`
	FramebufferHeight int `flag:"fb-height" toml:"fb_height"`

	// LogLevel is warning, info or debug.
	LogLevel string `flag:"log-level" toml:"log_level"`

	// LogFormat is text or json.
	LogFormat string `flag:"log-format" toml:"log_format"`

	// LogFilename is a file pattern for logs. Empty means stderr.
	LogFilename string `flag:"log" toml:"log"`

	// MetricsFile receives the metrics in Prometheus text format when the
	// kernel halts. Empty disables the export.
	MetricsFile string `flag:"metrics" toml:"metrics"`

	// RawTerminal puts the host terminal in raw mode while the kernel runs
	// so that input reaches programs a key at a time.
	RawTerminal bool `flag:"raw" toml:"raw"`
}

func (c *Config) validate() error {
	if c.Init == "" {
		return fmt.Errorf("--init cannot be empty")
	}
	if c.MemorySize < 1<<20 {
		return fmt.Errorf("--memory=%d is below the 1MiB minimum", c.MemorySize)
	}
	if c.TimeSlice < 0 {
		return fmt.Errorf("--time-slice=%v cannot be negative", c.TimeSlice)
	}
	if c.PortalSlots < 0 || c.StackPages < 0 {
		return fmt.Errorf("--portal-slots and --stack-pages cannot be negative")
	}
	if c.FramebufferWidth < 0 || c.FramebufferHeight < 0 {
		return fmt.Errorf("invalid framebuffer size %dx%d", c.FramebufferWidth, c.FramebufferHeight)
	}
	if c.FramebufferWidth > 0 && c.FramebufferHeight == 0 {
		return fmt.Errorf("--fb-height is required with --fb-width")
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		return err
	}
	switch c.LogFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log format %q, must be 'text' or 'json'", c.LogFormat)
	}
	return nil
}

// Log logs important aspects of the configuration to the given log function.
func (c *Config) Log() {
	log.Infof("Config.AppsDir: %s", c.AppsDir)
	log.Infof("Config.Init: %s", c.Init)
	log.Infof("Config.MemorySize: %d", c.MemorySize)
	log.Infof("Config.TimeSlice: %v (cooperative: %t)", c.TimeSlice, c.Cooperative)
	log.Infof("Config.Framebuffer: %dx%d", c.FramebufferWidth, c.FramebufferHeight)
	log.Infof("Config.LogLevel: %s", c.LogLevel)
}
