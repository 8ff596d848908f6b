package main

import (
	"fmt"
	"os"

	"github.com/hvx/mmrelay/relay"
	"gopkg.in/yaml.v3"
)

// windowsFile is the YAML window table. Each entry binds an address range in
// one cell to a handler kind:
//
//	windows:
//	  - cell: 1
//	    addr: 0xa003e00
//	    size: 0x200
//	    kind: mem
type windowsFile struct {
	Windows []windowEntry `yaml:"windows"`
}

type windowEntry struct {
	Cell uint32 `yaml:"cell"`
	Addr uint64 `yaml:"addr"`
	Size uint64 `yaml:"size"`
	Kind string `yaml:"kind"`
}

func loadWindows(path string) (*relay.Mux, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	return parseWindows(b)
}

func parseWindows(b []byte) (*relay.Mux, error) {
	var f windowsFile
	if err := yaml.Unmarshal(b, &f); err != nil {
		return nil, fmt.Errorf("parse window table: %w", err)
	}

	windows := make([]relay.Window, len(f.Windows))
	for i, e := range f.Windows {
		w := relay.Window{
			Cell: e.Cell,
			Addr: e.Addr,
			Size: e.Size,
		}

		switch e.Kind {
		case "mem":
			w.Handler = relay.NewMemWindow(int(e.Size))

		case "discard":
			w.Handler = relay.Discard

		default:
			return nil, fmt.Errorf("window %d: unknown kind %q", i, e.Kind)
		}

		windows[i] = w
	}

	return relay.NewMux(windows)
}
