//go:build linux

// Package capture drives a single-shot still capture: resolve the
// device, walk a v4l2 session through its transitions, and write the
// captured frame to the output file.
package capture

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/smazurov/framesnap/internal/devices"
	"github.com/smazurov/framesnap/pkg/linuxav/v4l2"
)

// Options configures a capture run. Fields load from CLI flags, env
// vars, and the TOML config file per the usual precedence.
type Options struct {
	Config string `help:"Config file path"`

	Device      string `toml:"capture.device" env:"DEVICE" help:"Device path or stable ID"`
	Output      string `toml:"capture.output" env:"OUTPUT" help:"Output file path"`
	Width       int    `toml:"capture.width" env:"WIDTH" help:"Frame width in pixels"`
	Height      int    `toml:"capture.height" env:"HEIGHT" help:"Frame height in pixels"`
	PixelFormat string `toml:"capture.pixel_format" env:"PIXEL_FORMAT" help:"Pixel format name or FourCC"`
	Colorspace  string `toml:"capture.colorspace" env:"COLORSPACE" help:"Requested colorspace"`
	TimeoutMs   int    `toml:"capture.timeout_ms" env:"TIMEOUT_MS" help:"Frame wait timeout in ms, 0 blocks forever"`
	WaitMs      int    `toml:"capture.wait_ms" env:"WAIT_MS" help:"How long to wait for the device node to appear, in ms"`
}

// DefaultOptions returns the options used when nothing is configured:
// a 1080p MJPEG still from the first CSI camera.
func DefaultOptions() Options {
	return Options{
		Device:      "/dev/video0",
		Output:      "output.jpg",
		Width:       1920,
		Height:      1080,
		PixelFormat: "mjpeg",
		Colorspace:  "rec709",
		TimeoutMs:   2000,
	}
}

// Result describes a completed capture.
type Result struct {
	DevicePath   string
	OutputPath   string
	Format       v4l2.Format
	Frame        v4l2.FrameInfo
	BytesWritten int
}

// session is the part of *v4l2.Session that Run drives.
type session interface {
	SetFormat(v4l2.CaptureConfig) (v4l2.Format, error)
	RequestBuffers() error
	MapBuffer() error
	StartStreaming() error
	CaptureFrame(time.Duration) (v4l2.FrameInfo, error)
	StopStreaming() error
	Frame() []byte
	Buffer() v4l2.BufferInfo
	Close() error
}

// openSession is swapped out in tests.
var openSession = func(path string) (session, error) {
	return v4l2.OpenSession(path)
}

// Run performs one capture with the given options and returns what was
// captured. Every acquired resource is released before Run returns,
// whichever transition fails.
func Run(ctx context.Context, opts Options, logger *slog.Logger) (*Result, error) {
	if opts.Width <= 0 || opts.Height <= 0 {
		return nil, fmt.Errorf("invalid frame geometry %dx%d: width and height must be positive", opts.Width, opts.Height)
	}

	pixelFormat, err := v4l2.ParsePixelFormat(opts.PixelFormat)
	if err != nil {
		return nil, err
	}
	colorspace, err := v4l2.ParseColorspace(opts.Colorspace)
	if err != nil {
		return nil, err
	}

	devicePath, err := devices.ResolveDevicePath(opts.Device)
	if err != nil {
		return nil, err
	}

	if opts.WaitMs > 0 {
		waitCtx, cancel := context.WithTimeout(ctx, time.Duration(opts.WaitMs)*time.Millisecond)
		defer cancel()
		if err := devices.WaitForDevice(waitCtx, devicePath, logger); err != nil {
			return nil, err
		}
	}

	sess, err := openSession(devicePath)
	if err != nil {
		return nil, err
	}
	defer sess.Close()

	requested := v4l2.CaptureConfig{
		Width:       uint32(opts.Width),
		Height:      uint32(opts.Height),
		PixelFormat: pixelFormat,
		Colorspace:  colorspace,
	}

	format, err := sess.SetFormat(requested)
	if err != nil {
		return nil, err
	}
	if format.Width != requested.Width || format.Height != requested.Height {
		logger.Warn("Driver adjusted capture geometry",
			"requested_width", requested.Width, "requested_height", requested.Height,
			"width", format.Width, "height", format.Height)
	}
	logger.Debug("Format negotiated",
		"pixel_format", v4l2.FormatFourCC(format.PixelFormat),
		"width", format.Width, "height", format.Height,
		"size_image", format.SizeImage)

	if err := sess.RequestBuffers(); err != nil {
		return nil, err
	}
	if err := sess.MapBuffer(); err != nil {
		return nil, err
	}
	if err := sess.StartStreaming(); err != nil {
		return nil, err
	}

	frame, err := sess.CaptureFrame(time.Duration(opts.TimeoutMs) * time.Millisecond)
	if err != nil {
		return nil, err
	}
	logger.Debug("Frame captured",
		"bytes_used", frame.BytesUsed, "sequence", frame.Sequence, "timestamp", frame.Timestamp)

	if err := sess.StopStreaming(); err != nil {
		return nil, err
	}

	data := sess.Frame()
	if buf := sess.Buffer(); len(data) != int(buf.Length) {
		return nil, fmt.Errorf("mapped frame is %d bytes but driver reported a %d-byte buffer", len(data), buf.Length)
	}
	if err := WriteImage(opts.Output, data); err != nil {
		return nil, err
	}

	logger.Info("Image written", "path", opts.Output, "bytes", len(data))

	if err := sess.Close(); err != nil {
		return nil, fmt.Errorf("failed to release device: %w", err)
	}

	return &Result{
		DevicePath:   devicePath,
		OutputPath:   opts.Output,
		Format:       format,
		Frame:        frame,
		BytesWritten: len(data),
	}, nil
}
