//go:build linux

// Package v4l2 provides pure Go bindings to the Video4Linux2 (V4L2) API
// for device enumeration, format queries, and single-shot frame capture
// over memory-mapped buffers.
//
// This package does not use cgo, enabling simple cross-compilation for
// different Linux architectures (amd64, arm64, arm).
//
// # Device Enumeration
//
// Use FindDevices to discover all V4L2 video capture devices:
//
//	devices, err := v4l2.FindDevices()
//	for _, dev := range devices {
//	    fmt.Printf("%s: %s\n", dev.DevicePath, dev.DeviceName)
//	}
//
// # Format Queries
//
// Query supported formats, resolutions, and framerates:
//
//	formats, _ := v4l2.GetFormats("/dev/video0")
//	for _, fmt := range formats {
//	    resolutions, _ := v4l2.GetResolutions("/dev/video0", fmt.PixelFormat)
//	}
//
// # Single-Shot Capture
//
// OpenSession returns a capture session that walks the V4L2 streaming
// I/O sequence for exactly one memory-mapped buffer:
//
//	sess, err := v4l2.OpenSession("/dev/video0")
//	defer sess.Close()
//	negotiated, err := sess.SetFormat(v4l2.CaptureConfig{
//	    Width: 1920, Height: 1080,
//	    PixelFormat: v4l2.PixelFormatID("MJPG"),
//	    Colorspace:  v4l2.ColorspaceRec709,
//	})
//	err = sess.RequestBuffers()
//	err = sess.MapBuffer()
//	err = sess.StartStreaming()
//	frame, err := sess.CaptureFrame(2 * time.Second)
//	err = sess.StopStreaming()
//	data := sess.Frame()
//
// Each transition validates the session state, so an out-of-order call
// fails with ErrInvalidState instead of issuing a misordered ioctl.
// Close releases everything acquired so far (stream off, munmap, close
// fd) and is safe to defer from any state.
package v4l2
