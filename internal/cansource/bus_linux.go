//go:build linux

package cansource

import (
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/brutella/can"
	"github.com/charmbracelet/log"

	"github.com/farouk15160/isotpperf/internal/canframe"
)

// Bus receives CAN 2.0 frames through a brutella/can bus. It has no kernel
// filter and no FD support; identifiers are matched in user space and
// timestamps come from the wall clock.
type Bus struct {
	bus    *can.Bus
	iface  string
	ids    idSet
	frames chan canframe.Frame
	errc   chan error
	done   chan struct{}
	once   sync.Once
	logger *log.Logger
}

// OpenBus connects to iface and starts publishing received frames. A nil
// logger selects the default logger.
func OpenBus(iface string, logger *log.Logger, ids ...uint32) (*Bus, error) {
	if logger == nil {
		logger = log.Default()
	}
	bus, err := can.NewBusForInterfaceWithName(iface)
	if err != nil {
		return nil, fmt.Errorf("activate CAN bus %s: %w", iface, err)
	}
	b := &Bus{
		bus:    bus,
		iface:  iface,
		ids:    ids,
		frames: make(chan canframe.Frame, 256),
		errc:   make(chan error, 1),
		done:   make(chan struct{}),
		logger: logger,
	}
	bus.SubscribeFunc(b.handleCANFrame)
	go func() {
		// blocks until the bus disconnects
		err := bus.ConnectAndPublish()
		if err == nil {
			err = io.EOF
		}
		b.errc <- err
	}()
	logger.Info("CAN bus connected", "iface", iface)
	return b, nil
}

// handleCANFrame is called by the bus for every received frame.
func (b *Bus) handleCANFrame(frm can.Frame) {
	if !b.ids.contains(frm.ID) {
		return
	}
	f := fromBusFrame(frm, time.Now())
	b.logger.Debug("rx", "frame", canframe.FormatLogLine(f, b.iface))
	select {
	case b.frames <- f:
	case <-b.done:
	}
}

func fromBusFrame(frm can.Frame, ts time.Time) canframe.Frame {
	f := canframe.Frame{Timestamp: ts, ID: frm.ID, Len: frm.Length}
	if f.Len > canframe.MaxLen {
		f.Len = canframe.MaxLen
	}
	copy(f.Data[:], frm.Data[:f.Len])
	return f
}

// ReadFrame waits up to timeout for the next frame.
func (b *Bus) ReadFrame(timeout time.Duration) (canframe.Frame, error) {
	select {
	case f := <-b.frames:
		return f, nil
	default:
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case f := <-b.frames:
		return f, nil
	case err := <-b.errc:
		b.errc <- err
		if errors.Is(err, io.EOF) {
			return canframe.Frame{}, ErrClosed
		}
		return canframe.Frame{}, fmt.Errorf("CAN bus %s: %w", b.iface, err)
	case <-b.done:
		return canframe.Frame{}, ErrClosed
	case <-timer.C:
		return canframe.Frame{}, ErrTimeout
	}
}

// Close disconnects the bus.
func (b *Bus) Close() error {
	var err error
	b.once.Do(func() {
		close(b.done)
		err = b.bus.Disconnect()
		b.logger.Debug("CAN bus disconnected", "iface", b.iface)
	})
	return err
}
