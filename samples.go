// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// Run holds one acquisition: the time vector and the n×m matrix of
// physical-unit samples, one column per configured channel.
type Run struct {
	Channels []int       // channel of each column
	Time     []float64   // seconds, starting at 0
	Data     [][]float64 // Data[i][j]: sample i of channel j
}

// Write writes the run as whitespace-separated columns, the time first
// and then one physical value per channel, one sample per line.
func (run Run) Write(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for i, row := range run.Data {
		fmt.Fprintf(bw, "%f ", run.Time[i])
		for _, v := range row {
			fmt.Fprintf(bw, "%f ", v)
		}
		fmt.Fprintf(bw, "\n")
	}
	err := bw.Flush()
	if err != nil {
		return fmt.Errorf("daq: could not write samples: %w", err)
	}
	return nil
}

// WriteFile writes the run to the named file, creating or truncating
// it.
func (run Run) WriteFile(name string) error {
	f, err := os.Create(name)
	if err != nil {
		return fmt.Errorf("daq: could not create output file: %w", err)
	}
	defer f.Close()

	err = run.Write(f)
	if err != nil {
		return err
	}

	err = f.Close()
	if err != nil {
		return fmt.Errorf("daq: could not close output file: %w", err)
	}
	return nil
}

// ReadRun reads back a run written by Write. Column j+1 is assigned to
// channel j: the data file does not carry the channel numbers.
func ReadRun(r io.Reader) (Run, error) {
	var (
		run    Run
		nchans = -1
		line   = 0
	)

	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line++
		fields := strings.Fields(sc.Text())
		if len(fields) == 0 {
			continue
		}
		if nchans < 0 {
			nchans = len(fields) - 1
			if nchans < 1 {
				return Run{}, fmt.Errorf("daq: line %d: no sample columns", line)
			}
			run.Channels = make([]int, nchans)
			for j := range run.Channels {
				run.Channels[j] = j
			}
		}
		if len(fields) != nchans+1 {
			return Run{}, fmt.Errorf("daq: line %d: got %d columns, want %d", line, len(fields), nchans+1)
		}

		t, err := strconv.ParseFloat(fields[0], 64)
		if err != nil {
			return Run{}, fmt.Errorf("daq: line %d: invalid time value %q", line, fields[0])
		}
		row := make([]float64, nchans)
		for j, f := range fields[1:] {
			row[j], err = strconv.ParseFloat(f, 64)
			if err != nil {
				return Run{}, fmt.Errorf("daq: line %d: invalid sample value %q", line, f)
			}
		}
		run.Time = append(run.Time, t)
		run.Data = append(run.Data, row)
	}
	if err := sc.Err(); err != nil {
		return Run{}, fmt.Errorf("daq: could not read samples: %w", err)
	}
	if nchans < 0 {
		return Run{}, fmt.Errorf("daq: empty data file")
	}
	return run, nil
}
