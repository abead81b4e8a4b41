// Copyright 2023 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package comedi provides a thin interface to the Linux comedi
// data-acquisition kernel ABI: just enough of it to configure and run
// a streaming analog-input command and calibrate the samples it
// yields.
package comedi // import "github.com/go-lpc/daq/comedi"

import (
	"fmt"
	"os"
	"runtime"
	"strings"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Cmd describes one streaming acquisition (comedi.h comedi_cmd).
//
// The xxxSrc fields take TRIG_xxx values; the meaning of the matching
// xxxArg depends on the selected source. Testing a command against a
// device may adjust the timing arguments in place to the nearest
// values the hardware supports.
type Cmd struct {
	Subdev       uint32
	Flags        uint32
	StartSrc     uint32
	StartArg     uint32
	ScanBeginSrc uint32
	ScanBeginArg uint32
	ConvertSrc   uint32
	ConvertArg   uint32
	ScanEndSrc   uint32
	ScanEndArg   uint32
	StopSrc      uint32
	StopArg      uint32
	Chanlist     []uint32 // entries built with CRPack
}

// String returns a printable description of the command, one field per
// line.
func (cmd *Cmd) String() string {
	var o strings.Builder
	fmt.Fprintf(&o, "subdev:         %d\n", cmd.Subdev)
	fmt.Fprintf(&o, "flags:          %d\n", cmd.Flags)
	fmt.Fprintf(&o, "start_src:      %d\n", cmd.StartSrc)
	fmt.Fprintf(&o, "start_arg:      %d\n", cmd.StartArg)
	fmt.Fprintf(&o, "scan_begin_src: %d\n", cmd.ScanBeginSrc)
	fmt.Fprintf(&o, "scan_begin_arg: %d\n", cmd.ScanBeginArg)
	fmt.Fprintf(&o, "convert_src:    %d\n", cmd.ConvertSrc)
	fmt.Fprintf(&o, "convert_arg:    %d\n", cmd.ConvertArg)
	fmt.Fprintf(&o, "scan_end_src:   %d\n", cmd.ScanEndSrc)
	fmt.Fprintf(&o, "scan_end_arg:   %d\n", cmd.ScanEndArg)
	fmt.Fprintf(&o, "stop_src:       %d\n", cmd.StopSrc)
	fmt.Fprintf(&o, "stop_arg:       %d\n", cmd.StopArg)
	fmt.Fprintf(&o, "chanlist:       %v", chanlistStr(cmd.Chanlist))
	return o.String()
}

func chanlistStr(chanlist []uint32) string {
	var o strings.Builder
	o.WriteString("[")
	for i, cr := range chanlist {
		if i > 0 {
			o.WriteString(" ")
		}
		fmt.Fprintf(&o, "0x%08x", cr)
	}
	o.WriteString("]")
	return o.String()
}

// cmdC mirrors the kernel comedi_cmd layout.
type cmdC struct {
	subdev       uint32
	flags        uint32
	startSrc     uint32
	startArg     uint32
	scanBeginSrc uint32
	scanBeginArg uint32
	convertSrc   uint32
	convertArg   uint32
	scanEndSrc   uint32
	scanEndArg   uint32
	stopSrc      uint32
	stopArg      uint32
	chanlist     uintptr // *uint32
	chanlistLen  uint32
	data         uintptr // *int16
	dataLen      uint32
}

// devInfoC mirrors the kernel comedi_devinfo layout.
type devInfoC struct {
	versionCode uint32
	nSubdevs    uint32
	driverName  [20]byte
	boardName   [20]byte
	readSubdev  int32
	writeSubdev int32
	unused      [30]int32
}

// subdInfoC mirrors the kernel comedi_subdinfo layout.
type subdInfoC struct {
	typ             uint32
	nChan           uint32
	subdFlags       uint32
	timerType       uint32
	lenChanlist     uint32
	maxdata         uint32
	flags           uint32
	rangeType       uint32
	settlingTime0   uint32
	insnBitsSupport uint32
	unused          [8]uint32
}

// rangeInfoC mirrors the kernel comedi_rangeinfo layout.
type rangeInfoC struct {
	rangeType uint32
	rangePtr  uintptr // *krangeC
}

// krangeC mirrors the kernel comedi_krange layout. Bounds are in
// millionths of the physical unit.
type krangeC struct {
	min   int32
	max   int32
	flags uint32
}

// comedi ioctl requests (comedi.h, magic 'd').
const cio = 'd'

var (
	ioctlDevInfo   = ior(1, unsafe.Sizeof(devInfoC{}))
	ioctlSubdInfo  = ior(2, unsafe.Sizeof(subdInfoC{}))
	ioctlRangeInfo = ior(8, unsafe.Sizeof(rangeInfoC{}))
	ioctlCmd       = ior(9, unsafe.Sizeof(cmdC{}))
	ioctlCmdTest   = ior(10, unsafe.Sizeof(cmdC{}))
)

// ior encodes a _IOR(cio, nr, size) ioctl request.
func ior(nr, size uintptr) uintptr {
	const iocRead = 2
	return iocRead<<30 | size<<16 | cio<<8 | nr
}

// Dev is an open comedi device.
type Dev struct {
	f *os.File
}

// Open opens a comedi device node, e.g. /dev/comedi0.
func Open(path string) (*Dev, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("comedi: could not open device %q: %w", path, err)
	}
	return &Dev{f: f}, nil
}

// Close closes the device.
func (dev *Dev) Close() error {
	return dev.f.Close()
}

// Read reads raw sample bytes from the device stream. The read is done
// on the raw descriptor, outside the Go runtime poller, so a pending
// EINTR is surfaced to the caller instead of being retried under the
// hood.
func (dev *Dev) Read(p []byte) (int, error) {
	n, err := unix.Read(int(dev.f.Fd()), p)
	if n < 0 {
		n = 0
	}
	return n, err
}

func (dev *Dev) ioctl(req uintptr, arg unsafe.Pointer) (int, error) {
	ret, _, errno := unix.Syscall(unix.SYS_IOCTL, dev.f.Fd(), req, uintptr(arg))
	if errno != 0 {
		return 0, errno
	}
	return int(ret), nil
}

// CmdTest validates cmd against the device, fixing up unsupported
// sources and timing arguments in place. The returned code is 0 when
// the command passed every check, or the class of the first failed
// check (see CmdTestResult).
func (dev *Dev) CmdTest(cmd *Cmd) (int, error) {
	c := cmd.pack()
	ret, err := dev.ioctl(ioctlCmdTest, unsafe.Pointer(&c))
	runtime.KeepAlive(cmd)
	if err != nil {
		return 0, fmt.Errorf("comedi: could not test command: %w", err)
	}
	cmd.unpack(&c)
	return ret, nil
}

// Cmd submits cmd for execution. The call does not block: samples
// become available on the device stream as the acquisition runs.
func (dev *Dev) Cmd(cmd *Cmd) error {
	c := cmd.pack()
	_, err := dev.ioctl(ioctlCmd, unsafe.Pointer(&c))
	runtime.KeepAlive(cmd)
	if err != nil {
		return fmt.Errorf("comedi: could not execute command: %w", err)
	}
	cmd.unpack(&c)
	return nil
}

func (cmd *Cmd) pack() cmdC {
	c := cmdC{
		subdev:       cmd.Subdev,
		flags:        cmd.Flags,
		startSrc:     cmd.StartSrc,
		startArg:     cmd.StartArg,
		scanBeginSrc: cmd.ScanBeginSrc,
		scanBeginArg: cmd.ScanBeginArg,
		convertSrc:   cmd.ConvertSrc,
		convertArg:   cmd.ConvertArg,
		scanEndSrc:   cmd.ScanEndSrc,
		scanEndArg:   cmd.ScanEndArg,
		stopSrc:      cmd.StopSrc,
		stopArg:      cmd.StopArg,
	}
	if len(cmd.Chanlist) > 0 {
		c.chanlist = uintptr(unsafe.Pointer(&cmd.Chanlist[0]))
		c.chanlistLen = uint32(len(cmd.Chanlist))
	}
	return c
}

// unpack copies back the scalar fields the kernel may have adjusted.
func (cmd *Cmd) unpack(c *cmdC) {
	cmd.Flags = c.flags
	cmd.StartSrc = c.startSrc
	cmd.StartArg = c.startArg
	cmd.ScanBeginSrc = c.scanBeginSrc
	cmd.ScanBeginArg = c.scanBeginArg
	cmd.ConvertSrc = c.convertSrc
	cmd.ConvertArg = c.convertArg
	cmd.ScanEndSrc = c.scanEndSrc
	cmd.ScanEndArg = c.scanEndArg
	cmd.StopSrc = c.stopSrc
	cmd.StopArg = c.stopArg
}

// Info describes an open comedi device.
type Info struct {
	Driver   string
	Board    string
	NSubdevs int
}

// Info returns the driver and board names of the device.
func (dev *Dev) Info() (Info, error) {
	var di devInfoC
	_, err := dev.ioctl(ioctlDevInfo, unsafe.Pointer(&di))
	if err != nil {
		return Info{}, fmt.Errorf("comedi: could not get device info: %w", err)
	}
	return Info{
		Driver:   cstr(di.driverName[:]),
		Board:    cstr(di.boardName[:]),
		NSubdevs: int(di.nSubdevs),
	}, nil
}

func cstr(p []byte) string {
	for i, c := range p {
		if c == 0 {
			return string(p[:i])
		}
	}
	return string(p)
}

func (dev *Dev) subdInfo(subdev uint32) (subdInfoC, error) {
	var di devInfoC
	_, err := dev.ioctl(ioctlDevInfo, unsafe.Pointer(&di))
	if err != nil {
		return subdInfoC{}, fmt.Errorf("comedi: could not get device info: %w", err)
	}
	if subdev >= di.nSubdevs {
		return subdInfoC{}, fmt.Errorf("comedi: invalid subdevice %d (device has %d)", subdev, di.nSubdevs)
	}

	sis := make([]subdInfoC, di.nSubdevs)
	_, err = dev.ioctl(ioctlSubdInfo, unsafe.Pointer(&sis[0]))
	runtime.KeepAlive(sis)
	if err != nil {
		return subdInfoC{}, fmt.Errorf("comedi: could not get subdevice info: %w", err)
	}
	return sis[subdev], nil
}

// Maxdata returns the maximal raw sample value of the given channel.
// The subdevice-wide value is reported; per-channel maxdata lists
// (SDF_MAXDATA) are not queried.
func (dev *Dev) Maxdata(subdev, channel uint32) (uint32, error) {
	si, err := dev.subdInfo(subdev)
	if err != nil {
		return 0, err
	}
	return si.maxdata, nil
}

// Range describes one input range in physical units.
type Range struct {
	Min float64
	Max float64
}

// ToPhys converts a raw sample code to a physical value.
func (r Range) ToPhys(code uint16, maxdata uint32) float64 {
	return r.Min + float64(code)*(r.Max-r.Min)/float64(maxdata)
}

// Range returns the physical bounds of the rng-th input range of the
// given channel. The subdevice-wide range table is reported;
// per-channel tables (SDF_RANGETYPE) are not queried.
func (dev *Dev) Range(subdev, channel, rng uint32) (Range, error) {
	si, err := dev.subdInfo(subdev)
	if err != nil {
		return Range{}, err
	}

	// the low byte of range_type is the length of the range table.
	n := si.rangeType & 0xff
	if rng >= n {
		return Range{}, fmt.Errorf("comedi: invalid range %d for subdevice %d (have %d)", rng, subdev, n)
	}

	krs := make([]krangeC, n)
	ri := rangeInfoC{
		rangeType: si.rangeType,
		rangePtr:  uintptr(unsafe.Pointer(&krs[0])),
	}
	_, err = dev.ioctl(ioctlRangeInfo, unsafe.Pointer(&ri))
	runtime.KeepAlive(krs)
	if err != nil {
		return Range{}, fmt.Errorf("comedi: could not get range info: %w", err)
	}

	return Range{
		Min: float64(krs[rng].min) * 1e-6,
		Max: float64(krs[rng].max) * 1e-6,
	}, nil
}
