//go:build linux

package cansource

import (
	"errors"
	"fmt"
	"net"
	"time"
	"unsafe"

	"github.com/charmbracelet/log"
	"golang.org/x/sys/unix"

	"github.com/farouk15160/isotpperf/internal/canframe"
)

// Sizes of struct can_frame and struct canfd_frame.
const (
	canMTU   = 16
	canfdMTU = 72

	canfdBRS = 0x01 // canfd_frame.flags bit rate switch
)

// SocketCAN reads frames from a CAN_RAW socket.
type SocketCAN struct {
	fd     int
	iface  string
	fdMode bool
	buf    [canfdMTU]byte
	oob    []byte
	poll   pollFunc
	logger *log.Logger
	closed bool
}

// OpenSocketCAN binds a raw socket to iface. Only frames with one of the given
// identifiers pass the kernel filter; an identifier with the EFF flag set
// selects a 29-bit frame. A nil logger selects the default logger.
func OpenSocketCAN(iface string, logger *log.Logger, ids ...uint32) (*SocketCAN, error) {
	if logger == nil {
		logger = log.Default()
	}
	ifi, err := net.InterfaceByName(iface)
	if err != nil {
		return nil, fmt.Errorf("interface %s: %w", iface, err)
	}
	fd, err := unix.Socket(unix.AF_CAN, unix.SOCK_RAW, unix.CAN_RAW)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	s := &SocketCAN{
		fd:     fd,
		iface:  iface,
		oob:    make([]byte, unix.CmsgSpace(int(unsafe.Sizeof(unix.Timeval{})))),
		poll:   unix.Poll,
		logger: logger,
	}

	// older kernels lack CAN FD support
	if err := unix.SetsockoptInt(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FD_FRAMES, 1); err != nil {
		logger.Warn("CAN FD frames not available, observing CAN 2.0 only", "iface", iface, "err", err)
	} else {
		s.fdMode = true
	}

	if len(ids) > 0 {
		filters := make([]unix.CanFilter, 0, len(ids))
		for _, id := range ids {
			filters = append(filters, kernelFilter(id))
		}
		if err := unix.SetsockoptCanRawFilter(fd, unix.SOL_CAN_RAW, unix.CAN_RAW_FILTER, filters); err != nil {
			unix.Close(fd)
			return nil, fmt.Errorf("set CAN filter: %w", err)
		}
		logger.Debug("kernel filter installed", "filters", len(filters))
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
		logger.Warn("kernel timestamps not available, using wall clock", "err", err)
	}

	if err := unix.Bind(fd, &unix.SockaddrCAN{Ifindex: ifi.Index}); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", iface, err)
	}
	logger.Info("socket bound", "iface", iface, "fd_frames", s.fdMode)
	return s, nil
}

// kernelFilter returns an exact-match filter that rejects remote frames and
// frames in the other identifier format.
func kernelFilter(id uint32) unix.CanFilter {
	mask := uint32(unix.CAN_SFF_MASK | unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG)
	if id&unix.CAN_EFF_FLAG != 0 {
		mask = unix.CAN_EFF_MASK | unix.CAN_EFF_FLAG | unix.CAN_RTR_FLAG
	}
	return unix.CanFilter{Id: id, Mask: mask}
}

// ReadFrame waits up to timeout for the next frame.
func (s *SocketCAN) ReadFrame(timeout time.Duration) (canframe.Frame, error) {
	if s.closed {
		return canframe.Frame{}, ErrClosed
	}
	ready, err := waitReadable(s.poll, s.fd, timeout, time.Now)
	switch {
	case err != nil:
		return canframe.Frame{}, fmt.Errorf("poll %s: %w", s.iface, err)
	case !ready:
		return canframe.Frame{}, ErrTimeout
	}

	nbytes, oobn, _, _, err := unix.Recvmsg(s.fd, s.buf[:], s.oob, 0)
	if err != nil {
		return canframe.Frame{}, fmt.Errorf("read %s: %w", s.iface, err)
	}
	f, err := decodeFrame(s.buf[:nbytes])
	if err != nil {
		return canframe.Frame{}, fmt.Errorf("read %s: %w", s.iface, err)
	}
	f.Timestamp = timestamp(s.oob[:oobn])
	s.logger.Debug("rx", "frame", canframe.FormatLogLine(f, s.iface))
	return f, nil
}

type pollFunc func(fds []unix.PollFd, timeoutMs int) (int, error)

// waitReadable polls fd until it is readable or timeout has passed. A poll
// interrupted by a signal is resumed with the remaining time.
func waitReadable(poll pollFunc, fd int, timeout time.Duration, now func() time.Time) (bool, error) {
	deadline := now().Add(timeout)
	for {
		remaining := deadline.Sub(now())
		if remaining < 0 {
			remaining = 0
		}
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)
		fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		n, err := poll(fds, ms)
		switch {
		case errors.Is(err, unix.EINTR):
			if remaining == 0 {
				return false, nil
			}
		case err != nil:
			return false, err
		default:
			return n > 0, nil
		}
	}
}

// decodeFrame converts a struct can_frame or struct canfd_frame in host byte
// order.
func decodeFrame(b []byte) (canframe.Frame, error) {
	var f canframe.Frame
	switch len(b) {
	case canMTU:
		f.Len = b[4]
		if f.Len > canframe.MaxLen {
			f.Len = canframe.MaxLen
		}
	case canfdMTU:
		f.FD = true
		f.BRS = b[5]&canfdBRS != 0
		f.Len = b[4]
		if f.Len > canframe.MaxFDLen {
			f.Len = canframe.MaxFDLen
		}
	default:
		return f, fmt.Errorf("%w: incomplete frame of %d bytes", canframe.ErrInvalidLen, len(b))
	}
	f.ID = *(*uint32)(unsafe.Pointer(&b[0]))
	copy(f.Data[:], b[8:8+int(f.Len)])
	return f, nil
}

func timestamp(oob []byte) time.Time {
	msgs, err := unix.ParseSocketControlMessage(oob)
	if err == nil {
		for _, m := range msgs {
			if m.Header.Level == unix.SOL_SOCKET && m.Header.Type == unix.SCM_TIMESTAMP &&
				len(m.Data) >= int(unsafe.Sizeof(unix.Timeval{})) {
				tv := (*unix.Timeval)(unsafe.Pointer(&m.Data[0]))
				return time.Unix(tv.Unix())
			}
		}
	}
	return time.Now()
}

// Close releases the socket.
func (s *SocketCAN) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.logger.Debug("closing socket", "iface", s.iface)
	return unix.Close(s.fd)
}
