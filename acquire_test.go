// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/go-lpc/daq/comedi"
)

var (
	errEINTR  = unix.EINTR
	errNoData = errors.New("fake: no more data")
)

// identity calibration: maxdata 4095 over a [0,4095] range maps a raw
// code to itself.
func identityCal(dev *fakeDevice) {
	dev.maxdata = 4095
	dev.rng = comedi.Range{Min: 0, Max: 4095}
}

func TestAcquire(t *testing.T) {
	dev := &fakeDevice{
		raw: interleave(
			[]uint16{100, 200, 300},    // channel 1
			[]uint16{1000, 1100, 1200}, // channel 5
		),
	}
	identityCal(dev)

	cfg := Config{
		Device:     "/dev/comedi0",
		SampleNum:  3,
		SampleFreq: 1000,
		Channels:   []int{1, 5},
		Gains:      []int{2, 2},
		Subdev:     0,
		ARef:       "ground",
	}

	run, err := Acquire(dev, cfg, nil)
	if err != nil {
		t.Fatalf("could not acquire: %+v", err)
	}

	if got, want := len(dev.cmds), 1; got != want {
		t.Fatalf("invalid number of executed commands: got=%d, want=%d", got, want)
	}
	cmd := dev.cmds[0]
	for _, tc := range []struct {
		name      string
		got, want uint32
	}{
		{"subdev", cmd.Subdev, 0},
		{"start_src", cmd.StartSrc, comedi.TRIG_NOW},
		{"start_arg", cmd.StartArg, 0},
		{"scan_begin_src", cmd.ScanBeginSrc, comedi.TRIG_TIMER},
		{"scan_begin_arg", cmd.ScanBeginArg, 1000000},
		{"convert_src", cmd.ConvertSrc, comedi.TRIG_TIMER},
		{"convert_arg", cmd.ConvertArg, 5000},
		{"scan_end_src", cmd.ScanEndSrc, comedi.TRIG_COUNT},
		{"scan_end_arg", cmd.ScanEndArg, 2},
		{"stop_src", cmd.StopSrc, comedi.TRIG_COUNT},
		{"stop_arg", cmd.StopArg, 3},
	} {
		if tc.got != tc.want {
			t.Errorf("invalid %s: got=%d, want=%d", tc.name, tc.got, tc.want)
		}
	}
	wantChanlist := []uint32{
		comedi.CRPack(1, 2, comedi.AREF_GROUND),
		comedi.CRPack(5, 2, comedi.AREF_GROUND),
	}
	if !reflect.DeepEqual(cmd.Chanlist, wantChanlist) {
		t.Fatalf("invalid chanlist: got=%v, want=%v", cmd.Chanlist, wantChanlist)
	}

	// columns follow the configured channel order.
	wantData := [][]float64{
		{100, 1000},
		{200, 1100},
		{300, 1200},
	}
	if !reflect.DeepEqual(run.Data, wantData) {
		t.Fatalf("invalid samples:\ngot= %v\nwant=%v", run.Data, wantData)
	}

	dt := 1e-3
	wantTime := []float64{0 * dt, 1 * dt, 2 * dt}
	if !reflect.DeepEqual(run.Time, wantTime) {
		t.Fatalf("invalid time vector:\ngot= %v\nwant=%v", run.Time, wantTime)
	}

	if got, want := run.Channels, []int{1, 5}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid channels: got=%v, want=%v", got, want)
	}
}

func TestAcquireEINTRRetry(t *testing.T) {
	dev := &fakeDevice{
		raw:   interleave([]uint16{1, 2, 3, 4}),
		chunk: 3, // force partial reads across sample boundaries
		eintr: 2,
	}
	identityCal(dev)

	cfg := Config{
		Device:     "/dev/comedi0",
		SampleNum:  4,
		SampleFreq: 1000,
		Channels:   []int{0},
		Gains:      []int{0},
		ARef:       "ground",
	}

	run, err := Acquire(dev, cfg, nil)
	if err != nil {
		t.Fatalf("could not acquire: %+v", err)
	}
	want := [][]float64{{1}, {2}, {3}, {4}}
	if !reflect.DeepEqual(run.Data, want) {
		t.Fatalf("invalid samples:\ngot= %v\nwant=%v", run.Data, want)
	}
}

func TestAcquireReadError(t *testing.T) {
	dev := &fakeDevice{
		raw:     interleave([]uint16{1}), // one of the two expected samples
		readErr: errNoData,
	}
	identityCal(dev)

	cfg := Config{
		Device:     "/dev/comedi0",
		SampleNum:  2,
		SampleFreq: 1000,
		Channels:   []int{0},
		Gains:      []int{0},
		ARef:       "ground",
	}

	_, err := Acquire(dev, cfg, nil)
	if !errors.Is(err, errNoData) {
		t.Fatalf("got err=%v, want %v", err, errNoData)
	}
}

func TestAcquireCmdTestFailureProceeds(t *testing.T) {
	// a command that never passes its tests is reported but executed
	// anyway: the acquisition must still run to completion.
	dev := &fakeDevice{
		raw:     interleave([]uint16{7, 8}),
		testRet: []int{3, 3, 3, 3},
	}
	identityCal(dev)

	cfg := Config{
		Device:     "/dev/comedi0",
		SampleNum:  2,
		SampleFreq: 1000,
		Channels:   []int{0},
		Gains:      []int{0},
		ARef:       "ground",
	}

	run, err := Acquire(dev, cfg, nil)
	if err != nil {
		t.Fatalf("could not acquire: %+v", err)
	}
	if got, want := len(dev.cmds), 1; got != want {
		t.Fatalf("command was not executed: got=%d calls, want=%d", got, want)
	}
	if got, want := run.Data, [][]float64{{7}, {8}}; !reflect.DeepEqual(got, want) {
		t.Fatalf("invalid samples:\ngot= %v\nwant=%v", got, want)
	}
}

func TestAcquireCmdTestAdjustedRate(t *testing.T) {
	// the time vector follows the scan interval the device imposes,
	// not the requested frequency.
	dev := &fakeDevice{
		raw:      interleave([]uint16{1, 2}),
		adjusted: 2000000, // 500 Hz instead of the requested 1 kHz
	}
	identityCal(dev)

	cfg := Config{
		Device:     "/dev/comedi0",
		SampleNum:  2,
		SampleFreq: 1000,
		Channels:   []int{0},
		Gains:      []int{0},
		ARef:       "ground",
	}

	run, err := Acquire(dev, cfg, nil)
	if err != nil {
		t.Fatalf("could not acquire: %+v", err)
	}
	want := []float64{0, 0.002}
	if !reflect.DeepEqual(run.Time, want) {
		t.Fatalf("invalid time vector:\ngot= %v\nwant=%v", run.Time, want)
	}
}

func TestAcquireExecError(t *testing.T) {
	dev := &fakeDevice{cmdErr: errors.New("fake: busy")}
	identityCal(dev)

	cfg := Config{
		Device:     "/dev/comedi0",
		SampleNum:  1,
		SampleFreq: 1000,
		Channels:   []int{0},
		Gains:      []int{0},
		ARef:       "ground",
	}

	_, err := Acquire(dev, cfg, nil)
	if err == nil {
		t.Fatalf("expected an error")
	}
	if !strings.Contains(err.Error(), "could not execute comedi command") {
		t.Fatalf("invalid error: %v", err)
	}
}

func TestAcquireUnknownARef(t *testing.T) {
	dev := &fakeDevice{}
	identityCal(dev)

	cfg := Config{
		Device:     "/dev/comedi0",
		SampleNum:  1,
		SampleFreq: 1000,
		Channels:   []int{0},
		Gains:      []int{0},
		ARef:       "floating", // Resolve would have rejected this
	}

	_, err := Acquire(dev, cfg, nil)
	if err == nil || !strings.Contains(err.Error(), `unknown reference mode "floating"`) {
		t.Fatalf("invalid error: %v", err)
	}
}

func TestAcquireGainMismatch(t *testing.T) {
	dev := &fakeDevice{}
	identityCal(dev)

	cfg := Config{
		Device:     "/dev/comedi0",
		SampleNum:  1,
		SampleFreq: 1000,
		Channels:   []int{0, 1},
		Gains:      []int{0}, // not broadcast: Resolve was bypassed
		ARef:       "ground",
	}

	_, err := Acquire(dev, cfg, nil)
	if err == nil || !strings.Contains(err.Error(), "gains/channels length mismatch") {
		t.Fatalf("invalid error: %v", err)
	}
}
