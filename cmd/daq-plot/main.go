// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq-plot plots the channels of a data file written by
// daq-acquire, one image per channel.
package main // import "github.com/go-lpc/daq/cmd/daq-plot"

import (
	"fmt"
	"log"
	"os"
	"path/filepath"

	flag "github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/go-lpc/daq"
)

func main() {
	log.SetPrefix("daq-plot: ")
	log.SetFlags(0)

	fs := flag.NewFlagSet("daq-plot", flag.ExitOnError)
	odir := fs.StringP("output", "o", ".", "output directory for the plot files")
	err := fs.Parse(os.Args[1:])
	if err != nil {
		log.Fatalf("error: could not parse options: %+v", err)
	}

	if fs.NArg() != 1 {
		log.Fatalf("error: usage: daq-plot [-o DIR] FILE")
	}

	err = run(fs.Arg(0), *odir)
	if err != nil {
		log.Fatalf("error: %+v", err)
	}
}

func run(name, odir string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("could not open data file %q: %w", name, err)
	}
	defer f.Close()

	acq, err := daq.ReadRun(f)
	if err != nil {
		return fmt.Errorf("could not read data file %q: %w", name, err)
	}

	var grp errgroup.Group
	for j := range acq.Channels {
		j := j
		grp.Go(func() error {
			fname := filepath.Join(odir, fmt.Sprintf("chan-%03d.png", acq.Channels[j]))
			return acq.PlotChannel(j, fname)
		})
	}
	return grp.Wait()
}
