//go:build linux

package v4l2

import (
	"fmt"
	"strings"
	"time"
)

// DeviceInfo contains information about a V4L2 device.
type DeviceInfo struct {
	DevicePath string
	DeviceName string
	DeviceID   string // Stable identifier (from /dev/v4l/by-id/ or synthetic)
	Caps       uint32
}

// FormatInfo contains information about a supported pixel format.
type FormatInfo struct {
	PixelFormat uint32
	FormatName  string
	Emulated    bool
}

// Resolution represents a supported video resolution.
type Resolution struct {
	Width  uint32
	Height uint32
}

// Framerate represents a supported framerate as a fraction.
type Framerate struct {
	Numerator   uint32
	Denominator uint32
}

// FPS returns the framerate as frames per second.
func (f Framerate) FPS() float64 {
	if f.Numerator == 0 {
		return 0
	}
	return float64(f.Denominator) / float64(f.Numerator)
}

// CaptureConfig is the capture format requested from the driver.
type CaptureConfig struct {
	Width       uint32
	Height      uint32
	PixelFormat uint32 // FourCC, see PixelFormatID
	Colorspace  uint32
}

// Format is the pixel format as latched by the driver. The driver may
// silently adjust the requested geometry to the nearest supported
// values; callers should compare against what they asked for.
type Format struct {
	Width        uint32
	Height       uint32
	PixelFormat  uint32
	Colorspace   uint32
	BytesPerLine uint32
	SizeImage    uint32
}

// BufferInfo is the driver-reported descriptor of one capture buffer.
type BufferInfo struct {
	Index  uint32
	Length uint32
	Offset uint32
}

// FrameInfo is the metadata the driver attaches to a dequeued frame.
type FrameInfo struct {
	BytesUsed uint32
	Sequence  uint32
	Timestamp time.Time
}

// Colorspaces from enum v4l2_colorspace.
const (
	ColorspaceDefault   = 0
	ColorspaceSMPTE170M = 1
	ColorspaceRec709    = 3
	ColorspaceJPEG      = 7
	ColorspaceSRGB      = 8
	ColorspaceBT2020    = 10
	ColorspaceRaw       = 11
)

// Capability flags.
const (
	V4L2_CAP_VIDEO_CAPTURE = 0x00000001
	V4L2_CAP_STREAMING     = 0x04000000
	V4L2_CAP_DEVICE_CAPS   = 0x80000000
)

// Format flags.
const (
	V4L2_FMT_FLAG_EMULATED = 0x0002
)

// Common pixel formats.
const (
	v4l2PixFmtYUYV  = 0x56595559 // 'YUYV'
	v4l2PixFmtMJPEG = 0x47504A4D // 'MJPG'
	v4l2PixFmtJPEG  = 0x4745504A // 'JPEG'
	v4l2PixFmtH264  = 0x34363248 // 'H264'
	v4l2PixFmtNV12  = 0x3231564E // 'NV12'
	v4l2PixFmtRGB24 = 0x33424752 // 'RGB3'
)

// Frame size types.
const (
	V4L2_FRMSIZE_TYPE_DISCRETE   = 1
	V4L2_FRMSIZE_TYPE_CONTINUOUS = 2
	V4L2_FRMSIZE_TYPE_STEPWISE   = 3
)

// Frame interval types.
const (
	V4L2_FRMIVAL_TYPE_DISCRETE   = 1
	V4L2_FRMIVAL_TYPE_CONTINUOUS = 2
	V4L2_FRMIVAL_TYPE_STEPWISE   = 3
)

// Buffer type, memory mode, field order.
const (
	V4L2_BUF_TYPE_VIDEO_CAPTURE = 1
	V4L2_MEMORY_MMAP            = 1
	V4L2_FIELD_NONE             = 1
)

// pixelFormatAliases maps lowercase format names to FourCC codes for
// formats commonly requested by name rather than code.
var pixelFormatAliases = map[string]uint32{
	"mjpeg": v4l2PixFmtMJPEG,
	"mjpg":  v4l2PixFmtMJPEG,
	"jpeg":  v4l2PixFmtJPEG,
	"yuyv":  v4l2PixFmtYUYV,
	"h264":  v4l2PixFmtH264,
	"nv12":  v4l2PixFmtNV12,
	"rgb24": v4l2PixFmtRGB24,
}

// PixelFormatID converts a 4-character FourCC string to its numeric code.
// The string must be exactly 4 bytes ("MJPG", "YUYV", ...).
func PixelFormatID(fourcc string) uint32 {
	if len(fourcc) != 4 {
		return 0
	}
	return uint32(fourcc[0]) | uint32(fourcc[1])<<8 | uint32(fourcc[2])<<16 | uint32(fourcc[3])<<24
}

// ParsePixelFormat converts a user-supplied format name to a FourCC code.
// Known aliases ("mjpeg", "yuyv", ...) are accepted case-insensitively;
// anything else of exactly 4 characters is treated as a literal FourCC.
func ParsePixelFormat(name string) (uint32, error) {
	if code, ok := pixelFormatAliases[strings.ToLower(name)]; ok {
		return code, nil
	}
	if len(name) == 4 {
		return PixelFormatID(name), nil
	}
	return 0, fmt.Errorf("unknown pixel format %q", name)
}

// ParseColorspace converts a colorspace name to its v4l2_colorspace value.
func ParseColorspace(name string) (uint32, error) {
	switch strings.ToLower(name) {
	case "", "default":
		return ColorspaceDefault, nil
	case "smpte170m":
		return ColorspaceSMPTE170M, nil
	case "rec709", "bt709":
		return ColorspaceRec709, nil
	case "jpeg":
		return ColorspaceJPEG, nil
	case "srgb":
		return ColorspaceSRGB, nil
	case "bt2020":
		return ColorspaceBT2020, nil
	case "raw":
		return ColorspaceRaw, nil
	default:
		return 0, fmt.Errorf("unknown colorspace %q", name)
	}
}
