// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command daq-acquire captures samples from a comedi data-acquisition
// device and writes them to a file or to stdout.
//
// Command-line options take precedence over the configuration file
// named with -i, which takes precedence over ./daq-config, which takes
// precedence over $HOME/.daq-acquire; built-in defaults fill whatever
// remains unset.
package main // import "github.com/go-lpc/daq/cmd/daq-acquire"

import (
	"io"
	"log"
	"os"
	"strconv"

	flag "github.com/spf13/pflag"

	"github.com/go-lpc/daq"
	"github.com/go-lpc/daq/comedi"
)

func main() {
	log.SetPrefix("daq-acquire: ")
	log.SetFlags(0)

	err := run(options(os.Args[1:]), daq.Paths{})
	if err != nil {
		log.Fatalf("error: %+v", err)
	}
}

// options parses the command-line arguments into a configuration
// source holding only the flags that were explicitly set.
func options(args []string) daq.Source {
	fs := flag.NewFlagSet("daq-acquire", flag.ExitOnError)
	fs.SortFlags = false

	var (
		verbose    = fs.BoolP("verbose", "v", false, "verbose mode - print additional information")
		plot       = fs.BoolP("plot", "p", false, "plot samples upon completion of acquisition")
		device     = fs.StringP("device", "d", "", "select comedi device (e.g. /dev/comedi0)")
		sampleNum  = fs.IntP("sample_num", "n", 0, "number of samples to acquire")
		sampleFreq = fs.IntP("sample_freq", "f", 0, "sampling frequency (Hz)")
		channels   = fs.StringP("channels", "c", "", "select data acquisition channels")
		gains      = fs.StringP("gains", "g", "", "select channel gains")
		subdev     = fs.IntP("sub_device", "s", 0, "select subdevice of the data acquisition device")
		output     = fs.StringP("output", "o", "", "select output file (default = stdout)")
		cfgFile    = fs.StringP("configuration", "i", "", "select configuration file")
		aref       = fs.StringP("aref", "a", "", "select reference mode (ground,diff,common)")
	)

	err := fs.Parse(args)
	if err != nil {
		log.Fatalf("error: could not parse options: %+v", err)
	}

	src := daq.Source{
		Label:  "command line config",
		Values: make(map[string]string),
	}
	set := func(name, key, val string) {
		if fs.Changed(name) {
			src.Values[key] = val
		}
	}
	set("verbose", "verbose", strconv.FormatBool(*verbose))
	set("plot", "plot", strconv.FormatBool(*plot))
	set("device", "device", *device)
	set("sample_num", "sample_num", strconv.Itoa(*sampleNum))
	set("sample_freq", "sample_freq", strconv.Itoa(*sampleFreq))
	set("channels", "channels", *channels)
	set("gains", "gains", *gains)
	set("sub_device", "subdev", strconv.Itoa(*subdev))
	set("output", "output_file", *output)
	set("configuration", "config_file", *cfgFile)
	set("aref", "aref", *aref)
	return src
}

func run(opts daq.Source, paths daq.Paths) error {
	cfg, err := daq.Resolve(opts, paths)
	if err != nil {
		return err
	}

	msg := log.New(io.Discard, "", 0)
	if cfg.Verbose {
		msg = log.New(os.Stdout, "", 0)
		report(msg, cfg, paths)
	}

	dev, err := comedi.Open(cfg.Device)
	if err != nil {
		return err
	}
	defer dev.Close()

	if cfg.Verbose {
		info, err := dev.Info()
		if err != nil {
			return err
		}
		msg.Printf("device: board=%q driver=%q subdevs=%d", info.Board, info.Driver, info.NSubdevs)
	}

	acq, err := daq.Acquire(dev, cfg, msg)
	if err != nil {
		return err
	}

	switch cfg.OutputFile {
	case "":
		err = acq.Write(os.Stdout)
	default:
		err = acq.WriteFile(cfg.OutputFile)
	}
	if err != nil {
		return err
	}

	if cfg.Plot {
		err = acq.Plot(".")
		if err != nil {
			return err
		}
	}

	return nil
}

// report dumps the configuration file lookup and the resolved
// configuration.
func report(msg *log.Logger, cfg daq.Config, paths daq.Paths) {
	msg.Printf("configuration files:")
	switch cfg.ConfigFile {
	case "":
		msg.Printf("  -i config_file: none")
	default:
		msg.Printf("  -i config_file: %s, exists: %v", cfg.ConfigFile, exists(cfg.ConfigFile))
	}
	if name, err := paths.CurFile(); err == nil {
		msg.Printf("  curr_dir_config: %s, exists: %v", name, exists(name))
	}
	if name, err := paths.HomeFile(); err == nil {
		msg.Printf("  home_dir_config: %s, exists: %v", name, exists(name))
	}

	msg.Printf("configuration options:")
	msg.Printf("  device:      %s", cfg.Device)
	msg.Printf("  sample_num:  %d", cfg.SampleNum)
	msg.Printf("  sample_freq: %d", cfg.SampleFreq)
	msg.Printf("  channels:    %v", cfg.Channels)
	msg.Printf("  gains:       %v", cfg.Gains)
	msg.Printf("  subdev:      %d", cfg.Subdev)
	msg.Printf("  output_file: %s", display(cfg.OutputFile))
	msg.Printf("  config_file: %s", display(cfg.ConfigFile))
	msg.Printf("  verbose:     %v", cfg.Verbose)
	msg.Printf("  plot:        %v", cfg.Plot)
	msg.Printf("  aref:        %s", cfg.ARef)
}

func display(v string) string {
	if v == "" {
		return "none"
	}
	return v
}

func exists(name string) bool {
	_, err := os.Stat(name)
	return err == nil
}
