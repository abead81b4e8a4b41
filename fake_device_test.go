// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package daq

import (
	"encoding/binary"

	"github.com/go-lpc/daq/comedi"
)

// fakeDevice implements Device with a scripted behavior.
type fakeDevice struct {
	raw   []byte // sample stream to serve
	off   int
	chunk int // max bytes served per Read; 0 means all
	eintr int // number of EINTR failures before data flows

	testRet  []int  // CmdTest return codes, one per call
	testCnt  int    // number of CmdTest calls
	adjusted uint32 // scan_begin_arg imposed by the device; 0 keeps the request
	cmdErr   error  // error returned by Cmd
	readErr  error  // error returned by Read once the stream is drained

	maxdata uint32
	rng     comedi.Range

	cmds []comedi.Cmd // commands submitted for execution
}

var _ Device = (*fakeDevice)(nil)

func (dev *fakeDevice) CmdTest(cmd *comedi.Cmd) (int, error) {
	ret := 0
	if dev.testCnt < len(dev.testRet) {
		ret = dev.testRet[dev.testCnt]
	}
	dev.testCnt++
	if dev.adjusted != 0 {
		cmd.ScanBeginArg = dev.adjusted
	}
	return ret, nil
}

func (dev *fakeDevice) Cmd(cmd *comedi.Cmd) error {
	dev.cmds = append(dev.cmds, *cmd)
	return dev.cmdErr
}

func (dev *fakeDevice) Read(p []byte) (int, error) {
	if dev.eintr > 0 {
		dev.eintr--
		return 0, errEINTR
	}
	if dev.off >= len(dev.raw) {
		err := dev.readErr
		if err == nil {
			err = errNoData
		}
		return 0, err
	}
	end := len(dev.raw)
	if dev.chunk > 0 && dev.off+dev.chunk < end {
		end = dev.off + dev.chunk
	}
	n := copy(p, dev.raw[dev.off:end])
	dev.off += n
	return n, nil
}

func (dev *fakeDevice) Maxdata(subdev, channel uint32) (uint32, error) {
	return dev.maxdata, nil
}

func (dev *fakeDevice) Range(subdev, channel, rng uint32) (comedi.Range, error) {
	return dev.rng, nil
}

func (dev *fakeDevice) Close() error { return nil }

// interleave packs per-channel sample codes into the raw wire stream,
// round-robin across channels.
func interleave(chans ...[]uint16) []byte {
	n := len(chans[0])
	raw := make([]byte, 0, 2*n*len(chans))
	var buf [2]byte
	for i := 0; i < n; i++ {
		for _, ch := range chans {
			binary.LittleEndian.PutUint16(buf[:], ch[i])
			raw = append(raw, buf[:]...)
		}
	}
	return raw
}
