// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/binary"
	"errors"
	"io"
	"log"
	"math"

	"golang.org/x/sys/unix"
	"golang.org/x/xerrors"

	"github.com/go-lpc/daq/comedi"
)

// Acquisition command parameters that are not configurable.
const (
	nanoSec       = 1e9
	cmdFlags      = 0
	cmdStartArg   = 0
	cmdConvertArg = 5000 // ns between two channel conversions in a scan
	cmdTestNum    = 4    // commands may need a few test rounds to settle
)

// Device is the capability Acquire needs from an acquisition card.
// *comedi.Dev implements it.
type Device interface {
	io.Reader // raw sample stream

	CmdTest(cmd *comedi.Cmd) (int, error)
	Cmd(cmd *comedi.Cmd) error
	Maxdata(subdev, channel uint32) (uint32, error)
	Range(subdev, channel, rng uint32) (comedi.Range, error)

	Close() error
}

var _ Device = (*comedi.Dev)(nil)

var arefModes = map[string]uint32{
	"ground": comedi.AREF_GROUND,
	"common": comedi.AREF_COMMON,
	"diff":   comedi.AREF_DIFF,
}

// Acquire runs one acquisition described by cfg on dev and returns the
// captured samples in physical units. Verbose progress is written to
// msg (nil disables it); the caller owns the device and closes it.
func Acquire(dev Device, cfg Config, msg *log.Logger) (Run, error) {
	if msg == nil {
		msg = log.New(io.Discard, "", 0)
	}

	nchans := len(cfg.Channels)
	if len(cfg.Gains) != nchans {
		return Run{}, xerrors.Errorf("daq: gains/channels length mismatch (channels=%v gains=%v)", cfg.Channels, cfg.Gains)
	}

	aref, ok := arefModes[cfg.ARef]
	if !ok {
		return Run{}, xerrors.Errorf("daq: unknown reference mode %q", cfg.ARef)
	}

	chanlist := make([]uint32, nchans)
	for i, ch := range cfg.Channels {
		chanlist[i] = comedi.CRPack(uint32(ch), uint32(cfg.Gains[i]), aref)
	}

	cmd := comedi.Cmd{
		Subdev:       uint32(cfg.Subdev),
		Flags:        cmdFlags,
		StartSrc:     comedi.TRIG_NOW,
		StartArg:     cmdStartArg,
		ScanBeginSrc: comedi.TRIG_TIMER,
		ScanBeginArg: uint32(math.Round(nanoSec / float64(cfg.SampleFreq))),
		ConvertSrc:   comedi.TRIG_TIMER,
		ConvertArg:   cmdConvertArg,
		ScanEndSrc:   comedi.TRIG_COUNT,
		ScanEndArg:   uint32(nchans),
		StopSrc:      comedi.TRIG_COUNT,
		StopArg:      uint32(cfg.SampleNum),
		Chanlist:     chanlist,
	}

	msg.Printf("testing comedi command")
	var ret int
	for i := 0; i < cmdTestNum; i++ {
		msg.Printf("%v", &cmd)
		var err error
		ret, err = dev.CmdTest(&cmd)
		if err != nil {
			return Run{}, xerrors.Errorf("daq: could not test comedi command: %w", err)
		}
		msg.Printf("*** test %d returns %q", i, comedi.CmdTestResult(ret))
	}
	if ret != 0 {
		// Historical behavior: a failing test is reported but the
		// acquisition is still attempted.
		log.Printf("error: unable to configure daq device - %s", comedi.CmdTestResult(ret))
	}

	msg.Printf("acquiring data")
	err := dev.Cmd(&cmd)
	if err != nil {
		return Run{}, xerrors.Errorf("daq: could not execute comedi command: %w", err)
	}

	// 16-bit samples, interleaved round-robin across the chanlist.
	var (
		total = 2 * cfg.SampleNum * nchans
		raw   = make([]byte, 0, total)
		buf   = make([]byte, total)
	)
	for len(raw) < total {
		n, err := dev.Read(buf[:total-len(raw)])
		raw = append(raw, buf[:n]...)
		if err != nil {
			if errors.Is(err, unix.EINTR) {
				continue
			}
			return Run{}, xerrors.Errorf("daq: could not read samples: %w", err)
		}
		msg.Printf("read: %d of %d bytes", len(raw), total)
	}

	codes := make([]uint16, cfg.SampleNum*nchans)
	for i := range codes {
		// comedi samples are host-endian; every comedi platform is
		// little-endian.
		codes[i] = binary.LittleEndian.Uint16(raw[2*i:])
	}

	run := Run{
		Channels: append([]int(nil), cfg.Channels...),
		Time:     make([]float64, cfg.SampleNum),
		Data:     make([][]float64, cfg.SampleNum),
	}
	for i := range run.Data {
		run.Data[i] = make([]float64, nchans)
	}

	for j := 0; j < nchans; j++ {
		var (
			channel = uint32(cfg.Channels[j])
			gain    = uint32(cfg.Gains[j])
			subdev  = uint32(cfg.Subdev)
		)
		maxdata, err := dev.Maxdata(subdev, channel)
		if err != nil {
			return Run{}, xerrors.Errorf("daq: could not get maxdata for channel %d: %w", channel, err)
		}
		rng, err := dev.Range(subdev, channel, gain)
		if err != nil {
			return Run{}, xerrors.Errorf("daq: could not get range for channel %d: %w", channel, err)
		}
		for i := 0; i < cfg.SampleNum; i++ {
			run.Data[i][j] = rng.ToPhys(codes[i*nchans+j], maxdata)
		}
	}

	// Time vector from the realized scan interval: CmdTest may have
	// adjusted scan_begin_arg away from the requested frequency.
	dt := float64(cmd.ScanBeginArg) / nanoSec
	for i := range run.Time {
		run.Time[i] = float64(i) * dt
	}

	msg.Printf("acquired data array w/ size: %dx%d", cfg.SampleNum, nchans)
	msg.Printf("desired sample freq: %v", float64(cfg.SampleFreq))
	msg.Printf("actual  sample freq: %v", 1/dt)

	return run, nil
}
