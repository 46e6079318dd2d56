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
	"fmt"
	"reflect"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"tgos.dev/tgos/runtg/flag"
)

// RegisterFlags registers flags used to populate Config.
func RegisterFlags(flagSet *flag.FlagSet) {
	flagSet.String("config", "", "TOML file with default values for the flags below. Flags given on the command line take precedence.")

	// Machine flags.
	flagSet.String("apps", "", "directory holding the ELF programs available to exec and spawn.")
	flagSet.String("init", "initproc", "name of the first program to run.")
	flagSet.Uint64("memory", 128<<20, "physical memory size in bytes.")
	flagSet.Duration("time-slice", 0, "preemption interval; 0 selects the default of 10ms of machine time.")
	flagSet.Bool("cooperative", false, "disable preemption: threads run until they make a syscall or fault.")
	flagSet.Int("portal-slots", 0, "number of trap save slots in the portal page; 0 selects the default.")
	flagSet.Int("stack-pages", 0, "size of a process's initial stack in pages; 0 selects the default.")
	flagSet.Int("fb-width", 0, "width of /dev/gpu in pixels; 0 disables the framebuffer.")
	flagSet.Int("fb-height", 0, "height of /dev/gpu in pixels.")
	flagSet.Bool("raw", true, "put the host terminal in raw mode while programs run.")

	// Debugging flags.
	flagSet.String("log-level", "warning", "log level: warning (default), info, or debug.")
	flagSet.String("log-format", "text", "log format: text (default) or json.")
	flagSet.String("log", "", "file path where internal debug information is written, default is stderr. %TIMESTAMP% and %COMMAND% are expanded.")
	flagSet.String("metrics", "", "file that receives metrics in Prometheus text format when the kernel halts.")
}

// NewFromFlags creates a new Config with values coming from command line
// flags. If --config names a file, its values replace the defaults of every
// flag not set on the command line.
func NewFromFlags(flagSet *flag.FlagSet) (*Config, error) {
	if fl := flagSet.Lookup("config"); fl != nil {
		if path := fl.Value.String(); path != "" {
			if err := applyFile(flagSet, path); err != nil {
				return nil, err
			}
		}
	}

	conf := &Config{}
	obj := reflect.ValueOf(conf).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		fl := flagSet.Lookup(name)
		if fl == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		x := reflect.ValueOf(flag.Get(fl.Value))
		obj.Field(i).Set(x)
	}

	if err := conf.validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

// applyFile sets every flag named in the TOML file at path that was not
// given explicitly.
func applyFile(flagSet *flag.FlagSet, path string) error {
	var values map[string]any
	if _, err := toml.DecodeFile(path, &values); err != nil {
		return fmt.Errorf("reading config file %q: %w", path, err)
	}

	explicit := make(map[string]bool)
	flagSet.Visit(func(fl *flag.Flag) { explicit[fl.Name] = true })

	keys := tomlKeys()
	for key, v := range values {
		name, ok := keys[key]
		if !ok {
			return fmt.Errorf("config file %q: unknown key %q", path, key)
		}
		if explicit[name] {
			continue
		}
		s, err := tomlString(v)
		if err != nil {
			return fmt.Errorf("config file %q: key %q: %w", path, key, err)
		}
		if err := flagSet.Set(name, s); err != nil {
			return fmt.Errorf("config file %q: key %q: %w", path, key, err)
		}
	}
	return nil
}

// tomlKeys maps TOML keys to flag names.
func tomlKeys() map[string]string {
	keys := make(map[string]string)
	st := reflect.TypeOf(Config{})
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		key, ok := f.Tag.Lookup("toml")
		if !ok {
			continue
		}
		keys[key] = f.Tag.Get("flag")
	}
	return keys
}

// tomlString renders a decoded TOML value the way it would be written on
// the command line.
func tomlString(v any) (string, error) {
	switch v := v.(type) {
	case string:
		return v, nil
	case bool:
		return strconv.FormatBool(v), nil
	case int64:
		return strconv.FormatInt(v, 10), nil
	case time.Duration:
		return v.String(), nil
	}
	return "", fmt.Errorf("unsupported value %v of type %T", v, v)
}

// ToFlags returns a slice of flags that correspond to the given Config.
func (c *Config) ToFlags() []string {
	var rv []string

	// Construct a temporary set for default plumbing.
	flagSet := flag.NewFlagSet("tmp", flag.ContinueOnError)
	RegisterFlags(flagSet)

	obj := reflect.ValueOf(c).Elem()
	st := obj.Type()
	for i := 0; i < st.NumField(); i++ {
		f := st.Field(i)
		name, ok := f.Tag.Lookup("flag")
		if !ok {
			// No flag set for this field.
			continue
		}
		val := getVal(obj.Field(i))

		flag := flagSet.Lookup(name)
		if flag == nil {
			panic(fmt.Sprintf("Flag %q not found", name))
		}
		if val == flag.DefValue {
			continue
		}
		rv = append(rv, fmt.Sprintf("--%s=%s", flag.Name, val))
	}
	return rv
}

func getVal(field reflect.Value) string {
	if str, ok := field.Interface().(fmt.Stringer); ok {
		return str.String()
	}
	switch field.Kind() {
	case reflect.Bool:
		return strconv.FormatBool(field.Bool())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(field.Int(), 10)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(field.Uint(), 10)
	case reflect.String:
		return field.String()
	default:
		panic("unknown type " + field.Kind().String())
	}
}
