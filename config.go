// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Gain indices select one of the device input ranges.
const (
	MinGain = 0
	MaxGain = 3
)

// Built-in defaults, applied when no other source provides a value.
const (
	DefaultDevice     = "/dev/comedi0"
	DefaultSampleNum  = 1000
	DefaultSampleFreq = 1000 // Hz
	DefaultChannels   = "0 1 2 3 4 5 6 7"
	DefaultGains      = "0"
	DefaultSubdev     = 0
	DefaultARef       = "ground"
)

// Implicit configuration file names.
const (
	CurDirConfig  = "daq-config"   // looked up in the working directory
	HomeDirConfig = ".daq-acquire" // looked up in the user home directory
)

// Config is the fully resolved acquisition configuration.
type Config struct {
	Device     string // path to the comedi device node
	SampleNum  int    // number of samples to acquire
	SampleFreq int    // sampling frequency, in Hz
	Channels   []int  // acquisition channels, in scan order
	Gains      []int  // per-channel gain indices, same length as Channels
	Subdev     int    // subdevice index
	OutputFile string // output file; empty means stdout
	ConfigFile string // configuration file named with -i; empty means none
	Verbose    bool
	Plot       bool
	ARef       string // reference mode: ground, diff or common
}

// Source is one configuration source: a label used in error messages
// and raw string values keyed by option name.
type Source struct {
	Label  string
	Values map[string]string
}

// configKeys lists every recognized configuration key.
var configKeys = []string{
	"device",
	"sample_num",
	"sample_freq",
	"channels",
	"gains",
	"subdev",
	"output_file",
	"config_file",
	"verbose",
	"plot",
	"aref",
}

// Defaults returns the built-in defaults as a configuration source.
func Defaults() Source {
	return Source{
		Label: "default config",
		Values: map[string]string{
			"device":      DefaultDevice,
			"sample_num":  strconv.Itoa(DefaultSampleNum),
			"sample_freq": strconv.Itoa(DefaultSampleFreq),
			"channels":    DefaultChannels,
			"gains":       DefaultGains,
			"subdev":      strconv.Itoa(DefaultSubdev),
			"verbose":     "false",
			"plot":        "false",
			"aref":        DefaultARef,
		},
	}
}

// Paths controls where Resolve looks for the implicit configuration
// files. Zero values select the working directory and the user home
// directory.
type Paths struct {
	CurDir  string
	HomeDir string
}

// CurFile returns the path of the current-directory configuration file.
func (p Paths) CurFile() (string, error) {
	dir := p.CurDir
	if dir == "" {
		var err error
		dir, err = os.Getwd()
		if err != nil {
			return "", fmt.Errorf("could not get working directory: %w", err)
		}
	}
	return filepath.Join(dir, CurDirConfig), nil
}

// HomeFile returns the path of the home-directory configuration file.
func (p Paths) HomeFile() (string, error) {
	dir := p.HomeDir
	if dir == "" {
		var err error
		dir, err = os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("could not get user home directory: %w", err)
		}
	}
	return filepath.Join(dir, HomeDirConfig), nil
}

// Resolve builds the effective configuration from the command-line
// option bag and the configuration files, by decreasing precedence:
// command-line options, the file named with -i (which must exist when
// named), the current-directory file, the home-directory file and the
// built-in defaults. A key supplied by a higher-precedence source is
// never overwritten by a lower one.
func Resolve(opts Source, paths Paths) (Config, error) {
	var (
		cfg     Config
		claimed = make(map[string]bool, len(configKeys))
		err     error
	)

	// Defaults fill everything but claim nothing.
	cfg, _, err = cfg.apply(Defaults(), make(map[string]bool))
	if err != nil {
		return cfg, err
	}

	cfg, claimed, err = cfg.apply(opts, claimed)
	if err != nil {
		return cfg, err
	}

	if claimed["config_file"] {
		name := cfg.ConfigFile
		vals, err := parseConfigFile(name)
		switch {
		case os.IsNotExist(err):
			return cfg, fmt.Errorf("option -i: configuration file %q not found", name)
		case err != nil:
			return cfg, fmt.Errorf("option -i: unable to parse configuration file %q: %w", name, err)
		}
		cfg, claimed, err = cfg.apply(Source{Label: "file config option -i", Values: vals}, claimed)
		if err != nil {
			return cfg, err
		}
	}

	for _, implicit := range []struct {
		file  func() (string, error)
		label string
	}{
		{paths.CurFile, CurDirConfig},
		{paths.HomeFile, HomeDirConfig},
	} {
		if len(claimed) == len(configKeys) {
			break
		}
		name, err := implicit.file()
		if err != nil {
			return cfg, err
		}
		vals, err := parseConfigFile(name)
		switch {
		case os.IsNotExist(err):
			continue
		case err != nil:
			return cfg, fmt.Errorf("unable to parse configuration file %q: %w", name, err)
		}
		cfg, claimed, err = cfg.apply(Source{Label: implicit.label, Values: vals}, claimed)
		if err != nil {
			return cfg, err
		}
	}

	// Sources are checked one by one as they come in; a last pass over
	// the merged result catches inconsistencies between values that
	// were valid in isolation (e.g. channels and gains from two files).
	return cfg.validate("combined config")
}

// parseConfigFile reads a whitespace-delimited key/value configuration
// file. The first token of each line, lowercased, is the key; the
// remaining tokens are rejoined with single spaces. Empty lines and
// lines whose first token is "#" are skipped; a "#" anywhere else is
// part of the value (historical behavior, kept as-is).
func parseConfigFile(name string) (map[string]string, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	vals := make(map[string]string)
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		toks := strings.Fields(sc.Text())
		if len(toks) == 0 || toks[0] == "#" {
			continue
		}
		vals[strings.ToLower(toks[0])] = strings.Join(toks[1:], " ")
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return vals, nil
}

// apply merges src into cfg, converting raw strings to typed values
// and checking each recognized key as it goes. Keys already claimed by
// a higher-precedence source are skipped; keys merged here are added
// to the claimed set. The updated (configuration, claimed set) pair is
// returned so each resolution step threads it to the next.
func (cfg Config) apply(src Source, claimed map[string]bool) (Config, map[string]bool, error) {
	seen := make(map[string]bool, len(src.Values))
	for key, raw := range src.Values {
		if claimed[key] {
			continue
		}
		var err error
		switch key {
		case "device":
			cfg.Device = raw
		case "sample_num":
			cfg.SampleNum, err = strconv.Atoi(raw)
			switch {
			case err != nil:
				err = fmt.Errorf("%s: invalid sample number value %q", src.Label, raw)
			case cfg.SampleNum <= 0:
				err = fmt.Errorf("%s: number of samples must be > 0", src.Label)
			}
		case "sample_freq":
			cfg.SampleFreq, err = strconv.Atoi(raw)
			switch {
			case err != nil:
				err = fmt.Errorf("%s: invalid sample frequency value %q", src.Label, raw)
			case cfg.SampleFreq <= 0:
				err = fmt.Errorf("%s: sample frequency must be > 0", src.Label)
			}
		case "channels":
			var chans []int
			chans, err = splitInts(raw)
			if err != nil {
				err = fmt.Errorf("%s: invalid channel values %q", src.Label, raw)
				break
			}
			for _, c := range chans {
				if c < 0 {
					err = fmt.Errorf("%s: channel values must be >= 0", src.Label)
					break
				}
			}
			cfg.Channels = chans
		case "gains":
			var gains []int
			gains, err = splitInts(raw)
			if err != nil {
				err = fmt.Errorf("%s: invalid gain values %q", src.Label, raw)
				break
			}
			for _, g := range gains {
				if g < MinGain || g > MaxGain {
					err = fmt.Errorf("%s: gains must be between %d and %d", src.Label, MinGain, MaxGain)
					break
				}
			}
			cfg.Gains = gains
		case "subdev":
			cfg.Subdev, err = strconv.Atoi(raw)
			if err != nil {
				err = fmt.Errorf("%s: invalid subdevice value %q", src.Label, raw)
			}
		case "output_file":
			cfg.OutputFile = raw
		case "config_file":
			cfg.ConfigFile = raw
		case "verbose":
			cfg.Verbose, err = strconv.ParseBool(raw)
			if err != nil {
				err = fmt.Errorf("%s: invalid verbose value %q", src.Label, raw)
			}
		case "plot":
			cfg.Plot, err = strconv.ParseBool(raw)
			if err != nil {
				err = fmt.Errorf("%s: invalid plot value %q", src.Label, raw)
			}
		case "aref":
			mode := strings.ToLower(raw)
			switch mode {
			case "ground", "diff", "common":
				cfg.ARef = mode
			default:
				err = fmt.Errorf("%s: invalid reference mode %q", src.Label, raw)
			}
		default:
			// not a recognized key: ignored, not claimed.
			continue
		}
		if err != nil {
			return cfg, claimed, err
		}
		seen[key] = true
	}

	if seen["channels"] && seen["gains"] {
		if n, g := len(cfg.Channels), len(cfg.Gains); g != 1 && g != n {
			return cfg, claimed, fmt.Errorf(
				"%s: the number of gain values must be equal to 1 or to the number of channels (channels=%v gains=%v)",
				src.Label, cfg.Channels, cfg.Gains,
			)
		}
	}

	for key := range seen {
		claimed[key] = true
	}
	return cfg, claimed, nil
}

// validate runs the checks over the fully merged configuration and
// broadcasts a singleton gains list over the channels. It returns the
// final configuration.
func (cfg Config) validate(label string) (Config, error) {
	switch {
	case cfg.Device == "":
		return cfg, fmt.Errorf("%s: no device selected", label)
	case cfg.SampleNum <= 0:
		return cfg, fmt.Errorf("%s: number of samples must be > 0", label)
	case cfg.SampleFreq <= 0:
		return cfg, fmt.Errorf("%s: sample frequency must be > 0", label)
	}

	for _, c := range cfg.Channels {
		if c < 0 {
			return cfg, fmt.Errorf("%s: channel values must be >= 0", label)
		}
	}
	for _, g := range cfg.Gains {
		if g < MinGain || g > MaxGain {
			return cfg, fmt.Errorf("%s: gains must be between %d and %d", label, MinGain, MaxGain)
		}
	}

	switch cfg.ARef {
	case "ground", "diff", "common":
	default:
		return cfg, fmt.Errorf("%s: invalid reference mode %q", label, cfg.ARef)
	}

	n, g := len(cfg.Channels), len(cfg.Gains)
	switch {
	case g == 1 && n > 0:
		gains := make([]int, n)
		for i := range gains {
			gains[i] = cfg.Gains[0]
		}
		cfg.Gains = gains
	case g != n:
		return cfg, fmt.Errorf(
			"%s: the number of gain values must be equal to 1 or to the number of channels (channels=%v gains=%v)",
			label, cfg.Channels, cfg.Gains,
		)
	}

	return cfg, nil
}

func splitInts(raw string) ([]int, error) {
	fields := strings.Fields(raw)
	vs := make([]int, len(fields))
	for i, f := range fields {
		v, err := strconv.Atoi(f)
		if err != nil {
			return nil, err
		}
		vs[i] = v
	}
	return vs, nil
}
