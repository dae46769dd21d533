//go:build linux

package cansource

import (
	"errors"
	"testing"
	"time"
	"unsafe"

	"github.com/brutella/can"
	"golang.org/x/sys/unix"

	"github.com/farouk15160/isotpperf/internal/canframe"
)

func rawFrame(size int, id uint32, flags byte, data ...byte) []byte {
	b := make([]byte, size)
	*(*uint32)(unsafe.Pointer(&b[0])) = id
	b[4] = byte(len(data))
	b[5] = flags
	copy(b[8:], data)
	return b
}

func TestDecodeFrame(t *testing.T) {
	f, err := decodeFrame(rawFrame(canMTU, 0x700, 0, 0x07, 0x11, 0x22))
	if err != nil {
		t.Fatal(err)
	}
	if f.ID != 0x700 || f.Len != 3 || f.FD || f.Data[2] != 0x22 {
		t.Errorf("classical frame = %+v", f)
	}

	data := make([]byte, 64)
	data[0] = 0x10
	f, err = decodeFrame(rawFrame(canfdMTU, 0x18DA00F1|canframe.EFFFlag, canfdBRS, data...))
	if err != nil {
		t.Fatal(err)
	}
	if !f.FD || !f.BRS || f.Len != 64 || !f.IsExtended() || f.RawID() != 0x18DA00F1 {
		t.Errorf("fd frame = %+v", f)
	}

	if _, err := decodeFrame(make([]byte, 12)); !errors.Is(err, canframe.ErrInvalidLen) {
		t.Errorf("short read: err = %v", err)
	}
}

func TestKernelFilter(t *testing.T) {
	f := kernelFilter(0x700)
	if f.Id != 0x700 || f.Mask != unix.CAN_SFF_MASK|unix.CAN_EFF_FLAG|unix.CAN_RTR_FLAG {
		t.Errorf("standard filter = %+v", f)
	}
	f = kernelFilter(0x18DA00F1 | unix.CAN_EFF_FLAG)
	if f.Mask != unix.CAN_EFF_MASK|unix.CAN_EFF_FLAG|unix.CAN_RTR_FLAG {
		t.Errorf("extended filter = %+v", f)
	}
}

func TestFromBusFrame(t *testing.T) {
	frm := can.Frame{ID: 0x701, Length: 3, Data: [8]uint8{0x30, 0x08, 0x14}}
	f := fromBusFrame(frm, time.Time{})
	if f.ID != 0x701 || f.Len != 3 || f.FD || f.Data[1] != 0x08 {
		t.Errorf("frame = %+v", f)
	}
	frm.Length = 15
	if f := fromBusFrame(frm, time.Time{}); f.Len != canframe.MaxLen {
		t.Errorf("len = %d, want clamp to %d", f.Len, canframe.MaxLen)
	}
}

// fakeClock advances by step on every reading.
type fakeClock struct {
	t    time.Time
	step time.Duration
}

func (c *fakeClock) now() time.Time {
	t := c.t
	c.t = c.t.Add(c.step)
	return t
}

func TestWaitReadable(t *testing.T) {
	tests := []struct {
		name    string
		results []error // poll errors in order, nil means readable
		step    time.Duration
		ready   bool
		calls   int
	}{
		{"readable", []error{nil}, 0, true, 1},
		{"interrupted then readable", []error{unix.EINTR, unix.EINTR, nil}, 100 * time.Millisecond, true, 3},
		{"interrupted until deadline", []error{unix.EINTR, unix.EINTR, unix.EINTR, unix.EINTR, unix.EINTR, unix.EINTR}, 400 * time.Millisecond, false, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			clock := &fakeClock{t: time.Unix(100, 0), step: tc.step}
			var timeouts []int
			poll := func(fds []unix.PollFd, ms int) (int, error) {
				err := tc.results[len(timeouts)]
				timeouts = append(timeouts, ms)
				if err != nil {
					return -1, err
				}
				return 1, nil
			}
			ready, err := waitReadable(poll, 3, time.Second, clock.now)
			if err != nil {
				t.Fatal(err)
			}
			if ready != tc.ready || len(timeouts) != tc.calls {
				t.Errorf("ready = %v after %d polls (%v), want %v after %d", ready, len(timeouts), timeouts, tc.ready, tc.calls)
			}
			for i := 1; i < len(timeouts); i++ {
				if timeouts[i] >= timeouts[i-1] && timeouts[i] != 0 {
					t.Errorf("poll timeouts not shrinking: %v", timeouts)
				}
			}
		})
	}
}

func TestWaitReadable_Timeout(t *testing.T) {
	poll := func(fds []unix.PollFd, ms int) (int, error) {
		if ms != 1000 || fds[0].Events != unix.POLLIN {
			t.Errorf("poll(%v, %d)", fds, ms)
		}
		return 0, nil
	}
	clock := &fakeClock{t: time.Unix(100, 0)}
	ready, err := waitReadable(poll, 3, time.Second, clock.now)
	if ready || err != nil {
		t.Errorf("ready = %v, err = %v", ready, err)
	}
}

func TestWaitReadable_Error(t *testing.T) {
	poll := func([]unix.PollFd, int) (int, error) { return -1, unix.EBADF }
	clock := &fakeClock{t: time.Unix(100, 0)}
	if _, err := waitReadable(poll, 3, time.Second, clock.now); !errors.Is(err, unix.EBADF) {
		t.Errorf("err = %v, want EBADF", err)
	}
}
