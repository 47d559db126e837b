//go:build linux

package v4l2

import (
	"errors"
	"syscall"
	"testing"
	"time"
	"unsafe"
)

// fakeDriver implements hostOps in memory so the full capture sequence
// can run without a video device. It records every operation by name,
// can be told to fail a specific operation, and fills the mapped region
// with garbage so the zeroing behavior is observable.
type fakeDriver struct {
	calls  []string
	failOn map[string]error

	caps        uint32
	echoWidth   uint32 // when non-zero, S_FMT reports this width back
	echoFourCC  uint32 // when non-zero, S_FMT reports this pixelformat back
	grantCount  uint32
	bufLength   uint32
	bufOffset   uint32
	notReadable bool
	eagainFirst bool

	mapped    []byte
	fdOpen    bool
	closes    int
	queued    bool
	streaming bool
	frames    uint32
}

func newFakeDriver() *fakeDriver {
	return &fakeDriver{
		failOn:     map[string]error{},
		caps:       V4L2_CAP_VIDEO_CAPTURE | V4L2_CAP_STREAMING,
		grantCount: 1,
		bufLength:  4096,
		bufOffset:  0x1000,
	}
}

func (d *fakeDriver) record(op string) error {
	d.calls = append(d.calls, op)
	return d.failOn[op]
}

func (d *fakeDriver) open(path string) (int, error) {
	if err := d.record("open"); err != nil {
		return -1, err
	}
	d.fdOpen = true
	return 42, nil
}

func (d *fakeDriver) close(fd int) error {
	d.calls = append(d.calls, "close")
	d.fdOpen = false
	d.closes++
	return nil
}

func (d *fakeDriver) ioctl(fd int, req uint, arg unsafe.Pointer) error {
	name := reqName(req)
	if err := d.record(name); err != nil {
		return err
	}

	switch req {
	case VIDIOC_QUERYCAP:
		cap := (*v4l2_capability)(arg)
		copy(cap.card[:], "Fake Camera")
		copy(cap.bus_info[:], "platform:fake")
		cap.capabilities = d.caps

	case VIDIOC_S_FMT:
		pix := (*v4l2_format)(arg).pix()
		if d.echoWidth != 0 {
			pix.width = d.echoWidth
		}
		if d.echoFourCC != 0 {
			pix.pixelformat = d.echoFourCC
		}
		pix.bytesperline = pix.width * 2
		pix.sizeimage = d.bufLength

	case VIDIOC_REQBUFS:
		req := (*v4l2_requestbuffers)(arg)
		req.count = d.grantCount

	case VIDIOC_QUERYBUF:
		buf := (*v4l2_buffer)(arg)
		buf.length = d.bufLength
		buf.offset = d.bufOffset

	case VIDIOC_STREAMON:
		d.streaming = true

	case VIDIOC_STREAMOFF:
		d.streaming = false
		d.queued = false

	case VIDIOC_QBUF:
		d.queued = true

	case VIDIOC_DQBUF:
		if d.eagainFirst {
			d.eagainFirst = false
			return syscall.EAGAIN
		}
		if !d.queued || !d.streaming {
			return syscall.EINVAL
		}
		d.queued = false
		d.frames++
		for i := range d.mapped {
			d.mapped[i] = byte(d.frames)
		}
		buf := (*v4l2_buffer)(arg)
		buf.bytesused = d.bufLength / 2
		buf.sequence = d.frames - 1
		buf.timestamp = syscall.NsecToTimeval(int64(d.frames) * int64(time.Second))
	}

	return nil
}

func (d *fakeDriver) mmap(fd int, offset int64, length int) ([]byte, error) {
	if err := d.record("mmap"); err != nil {
		return nil, err
	}
	d.mapped = make([]byte, length)
	for i := range d.mapped {
		d.mapped[i] = 0xAB // stale driver memory
	}
	return d.mapped, nil
}

func (d *fakeDriver) munmap(b []byte) error {
	d.calls = append(d.calls, "munmap")
	return nil
}

func (d *fakeDriver) waitReadable(fd int, timeout time.Duration) (bool, error) {
	d.calls = append(d.calls, "select")
	return !d.notReadable, nil
}

func reqName(req uint) string {
	switch req {
	case VIDIOC_QUERYCAP:
		return "VIDIOC_QUERYCAP"
	case VIDIOC_S_FMT:
		return "VIDIOC_S_FMT"
	case VIDIOC_REQBUFS:
		return "VIDIOC_REQBUFS"
	case VIDIOC_QUERYBUF:
		return "VIDIOC_QUERYBUF"
	case VIDIOC_QBUF:
		return "VIDIOC_QBUF"
	case VIDIOC_DQBUF:
		return "VIDIOC_DQBUF"
	case VIDIOC_STREAMON:
		return "VIDIOC_STREAMON"
	case VIDIOC_STREAMOFF:
		return "VIDIOC_STREAMOFF"
	default:
		return "unknown"
	}
}

func (d *fakeDriver) saw(op string) bool {
	for _, c := range d.calls {
		if c == op {
			return true
		}
	}
	return false
}

var testConfig = CaptureConfig{
	Width:       1920,
	Height:      1080,
	PixelFormat: v4l2PixFmtMJPEG,
	Colorspace:  ColorspaceRec709,
}

// runToState advances a fresh session to the requested state, failing
// the test on any unexpected error along the way.
func runToState(t *testing.T, d *fakeDriver, target sessionState) *Session {
	t.Helper()

	s, err := openSession(d, "/dev/video0")
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	steps := []struct {
		state sessionState
		run   func() error
	}{
		{stateFormatSet, func() error { _, err := s.SetFormat(testConfig); return err }},
		{stateBuffersRequested, s.RequestBuffers},
		{stateBufferMapped, s.MapBuffer},
		{stateStreaming, s.StartStreaming},
		{stateFrameCaptured, func() error { _, err := s.CaptureFrame(time.Second); return err }},
		{stateStopped, s.StopStreaming},
	}
	for _, step := range steps {
		if s.state == target {
			return s
		}
		if err := step.run(); err != nil {
			t.Fatalf("advancing to %s: %v", target, err)
		}
	}
	if s.state != target {
		t.Fatalf("could not reach state %s", target)
	}
	return s
}

func TestCaptureSequence(t *testing.T) {
	d := newFakeDriver()

	s, err := openSession(d, "/dev/video0")
	if err != nil {
		t.Fatalf("openSession: %v", err)
	}
	defer s.Close()

	format, err := s.SetFormat(testConfig)
	if err != nil {
		t.Fatalf("SetFormat: %v", err)
	}
	if format.Width != 1920 || format.Height != 1080 {
		t.Errorf("negotiated %dx%d, want 1920x1080", format.Width, format.Height)
	}
	if format.SizeImage != d.bufLength {
		t.Errorf("SizeImage = %d, want %d", format.SizeImage, d.bufLength)
	}

	if err := s.RequestBuffers(); err != nil {
		t.Fatalf("RequestBuffers: %v", err)
	}
	if err := s.MapBuffer(); err != nil {
		t.Fatalf("MapBuffer: %v", err)
	}
	if s.Buffer().Length != d.bufLength || s.Buffer().Offset != d.bufOffset {
		t.Errorf("Buffer() = %+v, want length %d offset %#x", s.Buffer(), d.bufLength, d.bufOffset)
	}

	if err := s.StartStreaming(); err != nil {
		t.Fatalf("StartStreaming: %v", err)
	}

	info, err := s.CaptureFrame(time.Second)
	if err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
	if info.BytesUsed != d.bufLength/2 {
		t.Errorf("BytesUsed = %d, want %d", info.BytesUsed, d.bufLength/2)
	}

	// The written image is always the full buffer length, not just the
	// bytes the driver reports as used.
	if got := len(s.Frame()); got != int(d.bufLength) {
		t.Errorf("Frame() length = %d, want %d", got, d.bufLength)
	}

	if err := s.StopStreaming(); err != nil {
		t.Fatalf("StopStreaming: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	want := []string{
		"open", "VIDIOC_QUERYCAP", "VIDIOC_S_FMT", "VIDIOC_REQBUFS",
		"VIDIOC_QUERYBUF", "mmap", "VIDIOC_STREAMON", "VIDIOC_QBUF",
		"select", "VIDIOC_DQBUF", "VIDIOC_STREAMOFF", "munmap", "close",
	}
	if len(d.calls) != len(want) {
		t.Fatalf("calls = %v, want %v", d.calls, want)
	}
	for i := range want {
		if d.calls[i] != want[i] {
			t.Fatalf("call %d = %s, want %s (full: %v)", i, d.calls[i], want[i], d.calls)
		}
	}
}

func TestMapBufferZeroesRegion(t *testing.T) {
	d := newFakeDriver()
	s := runToState(t, d, stateBufferMapped)
	defer s.Close()

	for i, b := range d.mapped {
		if b != 0 {
			t.Fatalf("byte %d = %#x after MapBuffer, want 0", i, b)
		}
	}
}

func TestRepeatedCaptureOverwritesFrame(t *testing.T) {
	d := newFakeDriver()
	s := runToState(t, d, stateStreaming)
	defer s.Close()

	first, err := s.CaptureFrame(time.Second)
	if err != nil {
		t.Fatalf("first CaptureFrame: %v", err)
	}
	firstByte := s.Frame()[0]

	second, err := s.CaptureFrame(time.Second)
	if err != nil {
		t.Fatalf("second CaptureFrame: %v", err)
	}

	if !second.Timestamp.After(first.Timestamp) {
		t.Errorf("second timestamp %v not after first %v", second.Timestamp, first.Timestamp)
	}
	if second.Sequence != first.Sequence+1 {
		t.Errorf("sequence %d after %d, want consecutive", second.Sequence, first.Sequence)
	}
	if s.Frame()[0] == firstByte {
		t.Error("mapped region not overwritten by second capture")
	}
}

func TestTransitionOrderEnforced(t *testing.T) {
	tests := []struct {
		name   string
		target sessionState
		run    func(*Session) error
	}{
		{"capture before streaming", stateBufferMapped, func(s *Session) error {
			_, err := s.CaptureFrame(time.Second)
			return err
		}},
		{"map before request", stateFormatSet, (*Session).MapBuffer},
		{"request before format", stateOpened, (*Session).RequestBuffers},
		{"stream on before map", stateBuffersRequested, (*Session).StartStreaming},
		{"stream off before on", stateBufferMapped, (*Session).StopStreaming},
		{"format twice", stateFormatSet, func(s *Session) error {
			_, err := s.SetFormat(testConfig)
			return err
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := newFakeDriver()
			s := runToState(t, d, tt.target)
			defer s.Close()

			before := len(d.calls)
			err := tt.run(s)
			if !errors.Is(err, ErrInvalidState) {
				t.Fatalf("err = %v, want ErrInvalidState", err)
			}
			if len(d.calls) != before {
				t.Errorf("out-of-order call reached the driver: %v", d.calls[before:])
			}
		})
	}
}

func TestStepFailureStopsSequence(t *testing.T) {
	tests := []struct {
		failOp    string
		wantErr   error
		wantState sessionState
	}{
		{"VIDIOC_S_FMT", ErrFormatRejected, stateOpened},
		{"VIDIOC_REQBUFS", ErrBufferAllocation, stateFormatSet},
		{"VIDIOC_QUERYBUF", ErrBufferQuery, stateBuffersRequested},
		{"mmap", ErrMapping, stateBuffersRequested},
		{"VIDIOC_STREAMON", ErrStreamOn, stateBufferMapped},
		{"VIDIOC_QBUF", ErrEnqueue, stateStreaming},
		{"VIDIOC_DQBUF", ErrDequeue, stateStreaming},
		{"VIDIOC_STREAMOFF", ErrStreamOff, stateFrameCaptured},
	}

	for _, tt := range tests {
		t.Run(tt.failOp, func(t *testing.T) {
			d := newFakeDriver()
			d.failOn[tt.failOp] = syscall.EIO

			s, err := openSession(d, "/dev/video0")
			if err != nil {
				t.Fatalf("openSession: %v", err)
			}
			defer s.Close()

			steps := []func() error{
				func() error { _, err := s.SetFormat(testConfig); return err },
				s.RequestBuffers,
				s.MapBuffer,
				s.StartStreaming,
				func() error { _, err := s.CaptureFrame(time.Second); return err },
				s.StopStreaming,
			}

			var stepErr error
			for _, step := range steps {
				if stepErr = step(); stepErr != nil {
					break
				}
			}

			if !errors.Is(stepErr, tt.wantErr) {
				t.Fatalf("err = %v, want %v", stepErr, tt.wantErr)
			}
			if !errors.Is(stepErr, syscall.EIO) {
				t.Errorf("err = %v, does not wrap the errno", stepErr)
			}

			// The session must not advance past the failed
			// transition, so later stages refuse to run.
			if s.state != tt.wantState {
				t.Errorf("state = %s after failure, want %s", s.state, tt.wantState)
			}
			if !d.fdOpen {
				t.Error("device closed before Close was called")
			}
		})
	}
}

func TestQueryBufFailureLeavesDeviceOpen(t *testing.T) {
	d := newFakeDriver()
	d.failOn["VIDIOC_QUERYBUF"] = syscall.EINVAL

	s := runToState(t, d, stateBuffersRequested)

	err := s.MapBuffer()
	if !errors.Is(err, ErrBufferQuery) {
		t.Fatalf("MapBuffer err = %v, want ErrBufferQuery", err)
	}
	if !d.fdOpen {
		t.Error("device closed by failed MapBuffer")
	}
	if d.saw("VIDIOC_STREAMON") {
		t.Error("streaming started after buffer query failure")
	}

	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if d.fdOpen {
		t.Error("device still open after Close")
	}
}

func TestOpenSessionErrors(t *testing.T) {
	t.Run("open fails", func(t *testing.T) {
		d := newFakeDriver()
		d.failOn["open"] = syscall.ENOENT

		_, err := openSession(d, "/dev/video9")
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
		}
	})

	t.Run("querycap fails", func(t *testing.T) {
		d := newFakeDriver()
		d.failOn["VIDIOC_QUERYCAP"] = syscall.ENOTTY

		_, err := openSession(d, "/dev/video0")
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
		}
		if d.fdOpen {
			t.Error("fd leaked after failed QUERYCAP")
		}
	})

	t.Run("not a capture device", func(t *testing.T) {
		d := newFakeDriver()
		d.caps = V4L2_CAP_STREAMING

		_, err := openSession(d, "/dev/video0")
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
		}
		if d.fdOpen {
			t.Error("fd leaked after capability rejection")
		}
	})

	t.Run("no streaming support", func(t *testing.T) {
		d := newFakeDriver()
		d.caps = V4L2_CAP_VIDEO_CAPTURE

		_, err := openSession(d, "/dev/video0")
		if !errors.Is(err, ErrDeviceUnavailable) {
			t.Fatalf("err = %v, want ErrDeviceUnavailable", err)
		}
	})
}

func TestSetFormatNegotiation(t *testing.T) {
	t.Run("driver adjusts geometry", func(t *testing.T) {
		d := newFakeDriver()
		d.echoWidth = 1280

		s := runToState(t, d, stateOpened)
		defer s.Close()

		format, err := s.SetFormat(testConfig)
		if err != nil {
			t.Fatalf("SetFormat: %v", err)
		}
		if format.Width != 1280 {
			t.Errorf("Width = %d, want the driver's 1280", format.Width)
		}
	})

	t.Run("driver changes pixel format", func(t *testing.T) {
		d := newFakeDriver()
		d.echoFourCC = v4l2PixFmtYUYV

		s := runToState(t, d, stateOpened)
		defer s.Close()

		_, err := s.SetFormat(testConfig)
		if !errors.Is(err, ErrFormatRejected) {
			t.Fatalf("err = %v, want ErrFormatRejected", err)
		}
	})
}

func TestRequestBuffersGrantsNone(t *testing.T) {
	d := newFakeDriver()
	d.grantCount = 0

	s := runToState(t, d, stateFormatSet)
	defer s.Close()

	if err := s.RequestBuffers(); !errors.Is(err, ErrBufferAllocation) {
		t.Fatalf("err = %v, want ErrBufferAllocation", err)
	}
}

func TestCaptureFrameTimeout(t *testing.T) {
	d := newFakeDriver()
	d.notReadable = true

	s := runToState(t, d, stateStreaming)
	defer s.Close()

	_, err := s.CaptureFrame(10 * time.Millisecond)
	if !errors.Is(err, ErrCaptureTimeout) {
		t.Fatalf("err = %v, want ErrCaptureTimeout", err)
	}
}

func TestCaptureFrameRetriesEAGAIN(t *testing.T) {
	d := newFakeDriver()
	d.eagainFirst = true

	s := runToState(t, d, stateStreaming)
	defer s.Close()

	if _, err := s.CaptureFrame(time.Second); err != nil {
		t.Fatalf("CaptureFrame: %v", err)
	}
}

func TestCloseReleasesFromAnyState(t *testing.T) {
	states := []sessionState{
		stateOpened, stateFormatSet, stateBuffersRequested,
		stateBufferMapped, stateStreaming, stateFrameCaptured, stateStopped,
	}

	for _, st := range states {
		t.Run(st.String(), func(t *testing.T) {
			d := newFakeDriver()
			s := runToState(t, d, st)

			if err := s.Close(); err != nil {
				t.Fatalf("Close from %s: %v", st, err)
			}
			if d.fdOpen {
				t.Error("device still open")
			}

			// Stream off must run if and only if the driver was left
			// streaming when Close was called.
			streamedAtClose := st == stateStreaming || st == stateFrameCaptured
			if d.streaming {
				t.Error("driver still streaming after Close")
			}
			offs := 0
			for _, c := range d.calls {
				if c == "VIDIOC_STREAMOFF" {
					offs++
				}
			}
			wantOffs := 0
			if streamedAtClose || st == stateStopped {
				wantOffs = 1
			}
			if offs != wantOffs {
				t.Errorf("STREAMOFF issued %d times, want %d", offs, wantOffs)
			}

			if err := s.Close(); err != nil {
				t.Errorf("second Close: %v", err)
			}
			if d.closes != 1 {
				t.Errorf("close(fd) called %d times, want 1", d.closes)
			}
		})
	}
}
