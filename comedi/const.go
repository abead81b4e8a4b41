// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package comedi

// Trigger sources (comedi.h TRIG_xxx).
const (
	TRIG_NONE   = 0x00000001 // never trigger
	TRIG_NOW    = 0x00000002 // trigger now + N ns
	TRIG_FOLLOW = 0x00000004 // trigger on next lower level trigger
	TRIG_TIME   = 0x00000008 // trigger at time N ns
	TRIG_TIMER  = 0x00000010 // trigger at rate N ns
	TRIG_COUNT  = 0x00000020 // trigger when count reaches N
	TRIG_EXT    = 0x00000040 // trigger on external signal N
	TRIG_INT    = 0x00000080 // trigger on comedi-internal signal N
	TRIG_OTHER  = 0x00000100 // driver-defined trigger
)

// Analog reference modes (comedi.h AREF_xxx).
const (
	AREF_GROUND = 0x00 // analog ref = analog ground
	AREF_COMMON = 0x01 // analog ref = analog common
	AREF_DIFF   = 0x02 // analog ref = differential
	AREF_OTHER  = 0x03 // analog ref = other (undefined)
)

// CRPack packs a channel, a range (gain) index and an analog reference
// into a chanlist entry (comedi.h CR_PACK).
func CRPack(channel, rng, aref uint32) uint32 {
	return (aref&0x3)<<24 | (rng&0xff)<<16 | channel&0xffff
}

// cmdTestResults maps a COMEDI_CMDTEST return code to the class of the
// first check the command failed.
var cmdTestResults = [...]string{
	"success",
	"invalid source",
	"source conflict",
	"invalid argument",
	"argument conflict",
	"invalid chanlist",
}

// CmdTestResult returns the human-readable meaning of a CmdTest return
// code.
func CmdTestResult(ret int) string {
	if ret < 0 || ret >= len(cmdTestResults) {
		return "unknown"
	}
	return cmdTestResults[ret]
}
