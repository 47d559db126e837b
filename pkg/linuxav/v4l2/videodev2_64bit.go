//go:build linux && (amd64 || arm64)

package v4l2

import (
	"syscall"
	"unsafe"
)

// Compile-time struct size assertions.
// These will cause build failures if struct sizes don't match kernel expectations.
var (
	_ [104]byte = [unsafe.Sizeof(v4l2_capability{})]byte{}
	_ [64]byte  = [unsafe.Sizeof(v4l2_fmtdesc{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2_frmsize_discrete{})]byte{}
	_ [24]byte  = [unsafe.Sizeof(v4l2_frmsize_stepwise{})]byte{}
	_ [44]byte  = [unsafe.Sizeof(v4l2_frmsizeenum{})]byte{}
	_ [8]byte   = [unsafe.Sizeof(v4l2_fract{})]byte{}
	_ [52]byte  = [unsafe.Sizeof(v4l2_frmivalenum{})]byte{}
	_ [48]byte  = [unsafe.Sizeof(v4l2_pix_format{})]byte{}
	_ [208]byte = [unsafe.Sizeof(v4l2_format{})]byte{}
	_ [20]byte  = [unsafe.Sizeof(v4l2_requestbuffers{})]byte{}
	_ [16]byte  = [unsafe.Sizeof(v4l2_timecode{})]byte{}
	_ [88]byte  = [unsafe.Sizeof(v4l2_buffer{})]byte{}
)

// IOCTL constants for 64-bit architectures.
const (
	VIDIOC_QUERYCAP            = 0x80685600
	VIDIOC_ENUM_FMT            = 0xc0405602
	VIDIOC_G_FMT               = 0xc0d05604 // v4l2_format is 208 bytes on 64-bit
	VIDIOC_S_FMT               = 0xc0d05605
	VIDIOC_REQBUFS             = 0xc0145608
	VIDIOC_QUERYBUF            = 0xc0585609 // v4l2_buffer is 88 bytes on 64-bit
	VIDIOC_QBUF                = 0xc058560f
	VIDIOC_DQBUF               = 0xc0585611
	VIDIOC_STREAMON            = 0x40045612
	VIDIOC_STREAMOFF           = 0x40045613
	VIDIOC_ENUM_FRAMESIZES     = 0xc02c564a
	VIDIOC_ENUM_FRAMEINTERVALS = 0xc034564b
)

// v4l2_capability - size 104 bytes.
type v4l2_capability struct {
	driver       [16]byte  // offset 0
	card         [32]byte  // offset 16
	bus_info     [32]byte  // offset 48
	version      uint32    // offset 80
	capabilities uint32    // offset 84
	device_caps  uint32    // offset 88
	reserved     [3]uint32 // offset 92
}

// v4l2_fmtdesc - size 64 bytes.
type v4l2_fmtdesc struct {
	index       uint32    // offset 0
	typ         uint32    // offset 4
	flags       uint32    // offset 8
	description [32]byte  // offset 12
	pixelformat uint32    // offset 44
	mbus_code   uint32    // offset 48
	reserved    [3]uint32 // offset 52
}

// v4l2_frmsize_discrete - size 8 bytes.
type v4l2_frmsize_discrete struct {
	width  uint32
	height uint32
}

// v4l2_frmsize_stepwise - size 24 bytes.
type v4l2_frmsize_stepwise struct {
	min_width   uint32
	max_width   uint32
	step_width  uint32
	min_height  uint32
	max_height  uint32
	step_height uint32
}

// v4l2_frmsizeenum - size 44 bytes.
type v4l2_frmsizeenum struct {
	index        uint32                // offset 0
	pixel_format uint32                // offset 4
	typ          uint32                // offset 8
	discrete     v4l2_frmsize_discrete // offset 12 (union with stepwise)
	_            [16]byte              // padding for stepwise
	reserved     [2]uint32             // offset 36
}

// v4l2_fract - size 8 bytes.
type v4l2_fract struct {
	numerator   uint32
	denominator uint32
}

// v4l2_frmivalenum - size 52 bytes.
type v4l2_frmivalenum struct {
	index        uint32     // offset 0
	pixel_format uint32     // offset 4
	width        uint32     // offset 8
	height       uint32     // offset 12
	typ          uint32     // offset 16
	discrete     v4l2_fract // offset 20 (union with stepwise)
	_            [16]byte   // padding for stepwise
	reserved     [2]uint32  // offset 44
}

// v4l2_pix_format - size 48 bytes.
type v4l2_pix_format struct {
	width        uint32 // offset 0
	height       uint32 // offset 4
	pixelformat  uint32 // offset 8
	field        uint32 // offset 12
	bytesperline uint32 // offset 16
	sizeimage    uint32 // offset 20
	colorspace   uint32 // offset 24
	priv         uint32 // offset 28
	flags        uint32 // offset 32
	ycbcr_enc    uint32 // offset 36 (union with hsv_enc)
	quantization uint32 // offset 40
	xfer_func    uint32 // offset 44
}

// v4l2_format - size 208 bytes on 64-bit (union aligned to 8 because
// some members carry pointers).
type v4l2_format struct {
	typ uint32    // offset 0
	_   [4]byte   // padding to align union
	fmt [200]byte // offset 8 - union, v4l2_pix_format at offset 0 for capture
}

// v4l2_requestbuffers - size 20 bytes.
type v4l2_requestbuffers struct {
	count    uint32    // offset 0
	typ      uint32    // offset 4
	memory   uint32    // offset 8
	reserved [2]uint32 // offset 12
}

// v4l2_timecode - size 16 bytes.
type v4l2_timecode struct {
	typ      uint32
	flags    uint32
	frames   uint8
	seconds  uint8
	minutes  uint8
	hours    uint8
	userbits [4]uint8
}

// v4l2_buffer - size 88 bytes on 64-bit (timeval is two 64-bit longs).
type v4l2_buffer struct {
	index      uint32          // offset 0
	typ        uint32          // offset 4
	bytesused  uint32          // offset 8
	flags      uint32          // offset 12
	field      uint32          // offset 16
	_          [4]byte         // padding to align timestamp
	timestamp  syscall.Timeval // offset 24 - 16 bytes
	timecode   v4l2_timecode   // offset 40
	sequence   uint32          // offset 56
	memory     uint32          // offset 60
	offset     uint32          // offset 64 - m union, mmap offset in low word
	_          [4]byte         // rest of m union (userptr is 64-bit)
	length     uint32          // offset 72
	reserved2  uint32          // offset 76
	request_fd uint32          // offset 80
	_          [4]byte         // tail padding to 88
}
