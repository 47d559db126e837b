//go:build linux

package v4l2

import (
	"errors"
	"fmt"
	"syscall"
	"time"
	"unsafe"
)

// Capture errors. Every session transition fails with exactly one of
// these, wrapped around the underlying errno, so callers can classify
// failures with errors.Is while the message still names the V4L2
// request that failed.
var (
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrFormatRejected    = errors.New("capture format rejected")
	ErrBufferAllocation  = errors.New("buffer allocation failed")
	ErrBufferQuery       = errors.New("buffer query failed")
	ErrMapping           = errors.New("buffer mapping failed")
	ErrStreamOn          = errors.New("stream activation failed")
	ErrEnqueue           = errors.New("buffer enqueue failed")
	ErrDequeue           = errors.New("buffer dequeue failed")
	ErrStreamOff         = errors.New("stream deactivation failed")
	ErrCaptureTimeout    = errors.New("timed out waiting for frame")
	ErrInvalidState      = errors.New("invalid session state")
)

// sessionState tracks progress through the capture sequence. The states
// are strictly ordered; transitions validate the current state so a
// misordered call fails before any ioctl is issued.
type sessionState int

const (
	stateClosed sessionState = iota
	stateOpened
	stateFormatSet
	stateBuffersRequested
	stateBufferMapped
	stateStreaming
	stateFrameCaptured
	stateStopped
)

func (s sessionState) String() string {
	switch s {
	case stateClosed:
		return "closed"
	case stateOpened:
		return "opened"
	case stateFormatSet:
		return "format-set"
	case stateBuffersRequested:
		return "buffers-requested"
	case stateBufferMapped:
		return "buffer-mapped"
	case stateStreaming:
		return "streaming"
	case stateFrameCaptured:
		return "frame-captured"
	case stateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// hostOps abstracts the kernel interface used by a Session so the full
// transition sequence can be exercised against a fake driver in tests.
type hostOps interface {
	open(path string) (int, error)
	close(fd int) error
	ioctl(fd int, req uint, arg unsafe.Pointer) error
	mmap(fd int, offset int64, length int) ([]byte, error)
	munmap(b []byte) error
	waitReadable(fd int, timeout time.Duration) (bool, error)
}

// linuxOps is the real kernel interface.
type linuxOps struct{}

func (linuxOps) open(path string) (int, error) { return open(path) }
func (linuxOps) close(fd int) error            { return close(fd) }
func (linuxOps) ioctl(fd int, req uint, arg unsafe.Pointer) error {
	return ioctl(fd, req, arg)
}
func (linuxOps) mmap(fd int, offset int64, length int) ([]byte, error) {
	return mmap(fd, offset, length)
}
func (linuxOps) munmap(b []byte) error { return munmap(b) }

// waitReadable blocks until the device signals a filled buffer or the
// timeout elapses. A timeout of zero blocks indefinitely.
func (linuxOps) waitReadable(fd int, timeout time.Duration) (bool, error) {
	var tv *syscall.Timeval
	if timeout > 0 {
		tv = makeTimeval(int(timeout / time.Millisecond))
	}

	for {
		var readFds syscall.FdSet
		fdSet(fd, &readFds)

		n, err := syscall.Select(fd+1, &readFds, nil, nil, tv)
		if err != nil {
			if errors.Is(err, syscall.EINTR) {
				// Linux updates tv to the remaining time, so retrying
				// with the same pointer keeps the deadline.
				continue
			}
			return false, err
		}
		return n > 0, nil
	}
}

// Session is a single-shot capture session for one V4L2 device. It owns
// the device handle, the negotiated format, and exactly one
// memory-mapped kernel buffer (count 1, index 0). The mapped region is
// driver-writable while the buffer is queued and streaming; it becomes
// application-readable once CaptureFrame dequeues it.
//
// A Session is not safe for concurrent use. The only blocking call is
// CaptureFrame.
type Session struct {
	ops    hostOps
	path   string
	fd     int
	state  sessionState
	format Format
	buffer BufferInfo
	mapped []byte
}

// OpenSession opens the device at path and verifies it supports
// memory-mapped video capture. Fails with ErrDeviceUnavailable when the
// device cannot be opened or is not a streaming capture device.
func OpenSession(path string) (*Session, error) {
	return openSession(linuxOps{}, path)
}

func openSession(ops hostOps, path string) (*Session, error) {
	fd, err := ops.open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrDeviceUnavailable, path, err)
	}

	cap := v4l2_capability{}
	if err := ops.ioctl(fd, VIDIOC_QUERYCAP, unsafe.Pointer(&cap)); err != nil {
		_ = ops.close(fd)
		return nil, fmt.Errorf("%w: VIDIOC_QUERYCAP %s: %w", ErrDeviceUnavailable, path, err)
	}

	caps := cap.capabilities
	if caps&V4L2_CAP_DEVICE_CAPS != 0 {
		caps = cap.device_caps
	}
	if caps&V4L2_CAP_VIDEO_CAPTURE == 0 {
		_ = ops.close(fd)
		return nil, fmt.Errorf("%w: %s does not support video capture", ErrDeviceUnavailable, path)
	}
	if caps&V4L2_CAP_STREAMING == 0 {
		_ = ops.close(fd)
		return nil, fmt.Errorf("%w: %s does not support streaming I/O", ErrDeviceUnavailable, path)
	}

	return &Session{
		ops:   ops,
		path:  path,
		fd:    fd,
		state: stateOpened,
	}, nil
}

// require validates the current state before a transition.
func (s *Session) require(op string, allowed ...sessionState) error {
	for _, st := range allowed {
		if s.state == st {
			return nil
		}
	}
	return fmt.Errorf("%s: %w: session is %s", op, ErrInvalidState, s.state)
}

func (f *v4l2_format) pix() *v4l2_pix_format {
	return (*v4l2_pix_format)(unsafe.Pointer(&f.fmt[0]))
}

// SetFormat latches the capture format on the driver and returns the
// format as actually negotiated. The driver may adjust width and height
// to the nearest supported values; callers should compare the result
// against the request. A changed pixel format is treated as
// ErrFormatRejected since the captured bytes would not be in the
// encoding the caller asked for.
func (s *Session) SetFormat(cfg CaptureConfig) (Format, error) {
	if err := s.require("SetFormat", stateOpened); err != nil {
		return Format{}, err
	}

	format := v4l2_format{typ: V4L2_BUF_TYPE_VIDEO_CAPTURE}
	pix := format.pix()
	pix.width = cfg.Width
	pix.height = cfg.Height
	pix.pixelformat = cfg.PixelFormat
	pix.field = V4L2_FIELD_NONE
	pix.colorspace = cfg.Colorspace

	if err := s.ops.ioctl(s.fd, VIDIOC_S_FMT, unsafe.Pointer(&format)); err != nil {
		return Format{}, fmt.Errorf("%w: VIDIOC_S_FMT: %w", ErrFormatRejected, err)
	}

	// S_FMT is read/write: the driver writes back what it latched.
	if pix.pixelformat != cfg.PixelFormat {
		return Format{}, fmt.Errorf("%w: driver negotiated %s instead of %s",
			ErrFormatRejected, FormatFourCC(pix.pixelformat), FormatFourCC(cfg.PixelFormat))
	}

	s.format = Format{
		Width:        pix.width,
		Height:       pix.height,
		PixelFormat:  pix.pixelformat,
		Colorspace:   pix.colorspace,
		BytesPerLine: pix.bytesperline,
		SizeImage:    pix.sizeimage,
	}
	s.state = stateFormatSet
	return s.format, nil
}

// RequestBuffers asks the driver to allocate exactly one memory-mapped
// capture buffer in device memory.
func (s *Session) RequestBuffers() error {
	if err := s.require("RequestBuffers", stateFormatSet); err != nil {
		return err
	}

	req := v4l2_requestbuffers{
		count:  1,
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
	}
	if err := s.ops.ioctl(s.fd, VIDIOC_REQBUFS, unsafe.Pointer(&req)); err != nil {
		return fmt.Errorf("%w: VIDIOC_REQBUFS: %w", ErrBufferAllocation, err)
	}
	if req.count < 1 {
		return fmt.Errorf("%w: driver granted no buffers", ErrBufferAllocation)
	}

	s.state = stateBuffersRequested
	return nil
}

// MapBuffer queries the driver for the buffer's length and offset, maps
// it into the application's address space, and zeroes the region so no
// stale driver memory is exposed before the first frame lands.
func (s *Session) MapBuffer() error {
	if err := s.require("MapBuffer", stateBuffersRequested); err != nil {
		return err
	}

	buf := v4l2_buffer{
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
		index:  0,
	}
	if err := s.ops.ioctl(s.fd, VIDIOC_QUERYBUF, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("%w: VIDIOC_QUERYBUF index 0: %w", ErrBufferQuery, err)
	}

	mapped, err := s.ops.mmap(s.fd, int64(buf.offset), int(buf.length))
	if err != nil {
		return fmt.Errorf("%w: mmap %d bytes at offset %d: %w", ErrMapping, buf.length, buf.offset, err)
	}

	clear(mapped)

	s.buffer = BufferInfo{Index: 0, Length: buf.length, Offset: buf.offset}
	s.mapped = mapped
	s.state = stateBufferMapped
	return nil
}

// StartStreaming switches the driver into streaming mode so it will
// fill buffers queued to it.
func (s *Session) StartStreaming() error {
	if err := s.require("StartStreaming", stateBufferMapped); err != nil {
		return err
	}

	bufType := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	if err := s.ops.ioctl(s.fd, VIDIOC_STREAMON, unsafe.Pointer(&bufType)); err != nil {
		return fmt.Errorf("%w: VIDIOC_STREAMON: %w", ErrStreamOn, err)
	}

	s.state = stateStreaming
	return nil
}

// CaptureFrame queues buffer 0 to the driver (handing it ownership of
// the mapped region), waits for the driver to fill it, and dequeues it
// (taking ownership back). This is the only blocking call in the
// session; a timeout of zero blocks until the driver delivers a frame.
//
// Calling CaptureFrame again is well-defined and overwrites the mapped
// region with a fresh frame.
func (s *Session) CaptureFrame(timeout time.Duration) (FrameInfo, error) {
	if err := s.require("CaptureFrame", stateStreaming, stateFrameCaptured); err != nil {
		return FrameInfo{}, err
	}

	buf := v4l2_buffer{
		typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
		memory: V4L2_MEMORY_MMAP,
		index:  0,
	}
	if err := s.ops.ioctl(s.fd, VIDIOC_QBUF, unsafe.Pointer(&buf)); err != nil {
		return FrameInfo{}, fmt.Errorf("%w: VIDIOC_QBUF index 0: %w", ErrEnqueue, err)
	}

	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}

	for {
		remaining := timeout
		if !deadline.IsZero() {
			remaining = time.Until(deadline)
			if remaining <= 0 {
				return FrameInfo{}, fmt.Errorf("%w after %v", ErrCaptureTimeout, timeout)
			}
		}

		ready, err := s.ops.waitReadable(s.fd, remaining)
		if err != nil {
			return FrameInfo{}, fmt.Errorf("%w: waiting for frame: %w", ErrDequeue, err)
		}
		if !ready {
			return FrameInfo{}, fmt.Errorf("%w after %v", ErrCaptureTimeout, timeout)
		}

		buf = v4l2_buffer{
			typ:    V4L2_BUF_TYPE_VIDEO_CAPTURE,
			memory: V4L2_MEMORY_MMAP,
		}
		if err := s.ops.ioctl(s.fd, VIDIOC_DQBUF, unsafe.Pointer(&buf)); err != nil {
			if errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EINTR) {
				continue
			}
			return FrameInfo{}, fmt.Errorf("%w: VIDIOC_DQBUF: %w", ErrDequeue, err)
		}

		s.state = stateFrameCaptured
		return FrameInfo{
			BytesUsed: buf.bytesused,
			Sequence:  buf.sequence,
			Timestamp: timevalToTime(buf.timestamp),
		}, nil
	}
}

// StopStreaming returns the driver to idle so no further frames are
// produced. Must be called once after capture; streaming off also
// removes any still-queued buffers from the driver's queue.
func (s *Session) StopStreaming() error {
	if err := s.require("StopStreaming", stateStreaming, stateFrameCaptured); err != nil {
		return err
	}

	bufType := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
	if err := s.ops.ioctl(s.fd, VIDIOC_STREAMOFF, unsafe.Pointer(&bufType)); err != nil {
		return fmt.Errorf("%w: VIDIOC_STREAMOFF: %w", ErrStreamOff, err)
	}

	s.state = stateStopped
	return nil
}

// Frame returns the mapped capture region. Only valid after a
// successful CaptureFrame; the slice aliases driver-shared memory and
// becomes invalid once the session is closed.
func (s *Session) Frame() []byte {
	if s.state != stateFrameCaptured && s.state != stateStopped {
		return nil
	}
	return s.mapped[:s.buffer.Length]
}

// Format returns the driver-negotiated capture format.
func (s *Session) Format() Format { return s.format }

// Buffer returns the driver-reported descriptor of the capture buffer.
func (s *Session) Buffer() BufferInfo { return s.buffer }

// DevicePath returns the path the session was opened with.
func (s *Session) DevicePath() string { return s.path }

// Close releases everything the session acquired, in reverse order:
// stream off if still streaming, unmap the buffer, close the device
// handle. Safe to call from any state and idempotent, so it can be
// deferred right after OpenSession and still clean up correctly on
// every error path.
func (s *Session) Close() error {
	if s.state == stateClosed {
		return nil
	}

	var errs []error

	if s.state == stateStreaming || s.state == stateFrameCaptured {
		bufType := uint32(V4L2_BUF_TYPE_VIDEO_CAPTURE)
		if err := s.ops.ioctl(s.fd, VIDIOC_STREAMOFF, unsafe.Pointer(&bufType)); err != nil {
			errs = append(errs, fmt.Errorf("VIDIOC_STREAMOFF: %w", err))
		}
	}

	if s.mapped != nil {
		if err := s.ops.munmap(s.mapped); err != nil {
			errs = append(errs, fmt.Errorf("munmap: %w", err))
		}
		s.mapped = nil
	}

	if err := s.ops.close(s.fd); err != nil {
		errs = append(errs, fmt.Errorf("close %s: %w", s.path, err))
	}

	s.state = stateClosed
	return errors.Join(errs...)
}
